package state

import (
	"io"
	"io/ioutil"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hashicorp/hcl"
	"github.com/wicd/sensornode/internal/battery"
	"github.com/wicd/sensornode/internal/led"
	"github.com/wicd/sensornode/internal/sensor"
	tele_config "github.com/wicd/sensornode/internal/tele/config"
	"github.com/wicd/sensornode/log2"
)

const (
	DefaultSSID              = "wicdhub"
	DefaultPassword          = "pudden789"
	DefaultListenPort        = 8080
	DefaultBringUpTimeoutSec = 30
	DefaultNodeType          = "sensor-node"
	DefaultTickIntervalMs    = 100
)

type NetworkConfig struct {
	SSID              string `hcl:"ssid"`
	Password          string `hcl:"password"` // secret
	Interface         string `hcl:"interface"`
	ListenPort        int    `hcl:"listen_port"`
	BringUpTimeoutSec int    `hcl:"bring_up_timeout_sec"`
}

type NodeConfig struct {
	Type           string `hcl:"type"`
	Debug          bool   `hcl:"debug"`
	TickIntervalMs int    `hcl:"tick_interval_ms"`
}

type Config struct {
	Network NetworkConfig      `hcl:"network"`
	Node    NodeConfig         `hcl:"node"`
	Tele    tele_config.Config `hcl:"tele"`
	Sensor  sensor.Config      `hcl:"sensor"`
	LED     led.Config         `hcl:"led"`
	Battery battery.Config     `hcl:"battery"`

	// Degraded means one or more settings fell back to defaults after a
	// parse failure. Loading never fails hard.
	Degraded bool   `hcl:"-"`
	Source   string `hcl:"-"` // env|file|defaults
}

func DefaultConfig() *Config {
	c := &Config{Source: "defaults"}
	c.Network.SSID = DefaultSSID
	c.Network.Password = DefaultPassword
	c.Network.ListenPort = DefaultListenPort
	c.Network.BringUpTimeoutSec = DefaultBringUpTimeoutSec
	c.Node.Type = DefaultNodeType
	c.Node.TickIntervalMs = DefaultTickIntervalMs
	c.Tele = tele_config.Default()
	return c
}

// ReadConfig layers, in order of preference: environment (complete when
// WIFI_SSID and WIFI_PASSWORD are both set), HCL file, built-in
// defaults. Each field conversion is guarded so a single bad value
// substitutes its default and marks the config degraded instead of
// aborting startup.
func ReadConfig(log *log2.Log, env func(string) (string, bool), path string) *Config {
	c := DefaultConfig()

	ssid, okS := env("WIFI_SSID")
	password, okP := env("WIFI_PASSWORD")
	if okS && ssid != "" && okP && password != "" {
		c.Source = "env"
		c.Network.SSID = ssid
		c.Network.Password = password
		c.readEnv(log, env)
		c.normalize(log)
		return c
	}

	if path != "" {
		if err := c.readFile(log, path); err != nil {
			// a broken or unreadable file is a fallthrough, not a crash
			log.Errorf("config file %s: %v, using defaults", path, err)
			*c = *DefaultConfig()
			c.Degraded = true
		}
	}
	c.normalize(log)
	return c
}

func (c *Config) readEnv(log *log2.Log, env func(string) (string, bool)) {
	f := envFields{c: c, log: log, env: env}
	f.str("WIFI_INTERFACE", &c.Network.Interface)
	f.num("LISTEN_PORT", &c.Network.ListenPort)
	f.num("TICK_INTERVAL", &c.Node.TickIntervalMs)
	f.boolean("DEBUG_MODE", &c.Node.Debug)
	f.seconds("BLINK_INTERVAL", &c.LED.BlinkIntervalMs)
	f.str("MQTT_BROKER", &c.Tele.BrokerHost)
	f.num("MQTT_PORT", &c.Tele.BrokerPort)
	f.str("MQTT_USERNAME", &c.Tele.Username)
	f.str("MQTT_PASSWORD", &c.Tele.Password)
	f.str("MQTT_NODE_ID", &c.Tele.NodeID)
	f.num("MQTT_PUBLISH_INTERVAL", &c.Tele.PublishIntervalSec)
	f.num("MQTT_KEEPALIVE", &c.Tele.KeepaliveSec)
	f.str("MQTT_TOPIC_BASE", &c.Tele.TopicBase)
	f.str("MQTT_UNITS", &c.Tele.Units)
}

func (c *Config) readFile(log *log2.Log, path string) error {
	if pathAbs, err := filepath.Abs(path); err != nil {
		log.Errorf("filepath.Abs(%s) error=%v", path, err)
	} else {
		path = pathAbs
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return c.readHCL(f)
}

func (c *Config) readHCL(r io.Reader) error {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return err
	}
	if err = hcl.Unmarshal(b, c); err != nil {
		return err
	}
	c.Source = "file"
	return nil
}

// normalize substitutes defaults for out-of-range numerics and unknown
// enumerations, marking the config degraded.
func (c *Config) normalize(log *log2.Log) {
	fix := func(field string, dst *int, def int) {
		if *dst <= 0 {
			log.Errorf("config %s=%d not positive, using %d", field, *dst, def)
			*dst = def
			c.Degraded = true
		}
	}
	fix("network.listen_port", &c.Network.ListenPort, DefaultListenPort)
	fix("network.bring_up_timeout_sec", &c.Network.BringUpTimeoutSec, DefaultBringUpTimeoutSec)
	fix("node.tick_interval_ms", &c.Node.TickIntervalMs, DefaultTickIntervalMs)
	fix("tele.broker_port", &c.Tele.BrokerPort, tele_config.DefaultBrokerPort)
	fix("tele.publish_interval_sec", &c.Tele.PublishIntervalSec, tele_config.DefaultPublishIntervalSec)
	fix("tele.keepalive_sec", &c.Tele.KeepaliveSec, tele_config.DefaultKeepaliveSec)
	fix("tele.connect_timeout_sec", &c.Tele.ConnectTimeoutSec, tele_config.DefaultConnectTimeoutSec)
	if c.Node.Type == "" {
		c.Node.Type = DefaultNodeType
	}
	if c.Tele.NodeID == "" {
		c.Tele.NodeID = tele_config.DefaultNodeID
	}
	if c.Tele.TopicBase == "" {
		c.Tele.TopicBase = tele_config.DefaultTopicBase
	}
	switch strings.ToUpper(c.Tele.Units) {
	case "C", "F":
		c.Tele.Units = strings.ToUpper(c.Tele.Units)
	case "":
		c.Tele.Units = tele_config.DefaultUnits
	default:
		log.Errorf("config tele.units=%s unknown, using %s", c.Tele.Units, tele_config.DefaultUnits)
		c.Tele.Units = tele_config.DefaultUnits
		c.Degraded = true
	}
}

// envFields wraps per-field conversions: a bad value keeps the default
// and degrades, it never aborts.
type envFields struct {
	c   *Config
	log *log2.Log
	env func(string) (string, bool)
}

func (f envFields) str(key string, dst *string) {
	if v, ok := f.env(key); ok && v != "" {
		*dst = v
	}
}

func (f envFields) num(key string, dst *int) {
	v, ok := f.env(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		f.log.Errorf("config %s=%s: %v, keeping %d", key, v, err, *dst)
		f.c.Degraded = true
		return
	}
	*dst = n
}

func (f envFields) boolean(key string, dst *bool) {
	v, ok := f.env(key)
	if !ok || v == "" {
		return
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "true", "1", "yes", "on":
		*dst = true
	case "false", "0", "no", "off":
		*dst = false
	default:
		f.log.Errorf("config %s=%s not boolean, keeping %t", key, v, *dst)
		f.c.Degraded = true
	}
}

// seconds reads a float seconds value into a millisecond field.
func (f envFields) seconds(key string, dstMs *int) {
	v, ok := f.env(key)
	if !ok || v == "" {
		return
	}
	sec, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
	if err != nil || sec <= 0 {
		f.log.Errorf("config %s=%s not a positive number, keeping %dms", key, v, *dstMs)
		f.c.Degraded = true
		return
	}
	*dstMs = int(sec * 1000)
}

// OsEnv adapts os.LookupEnv to the ReadConfig contract.
func OsEnv(key string) (string, bool) { return os.LookupEnv(key) }
