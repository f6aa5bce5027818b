// Separate package is workaround to import cycles.
package tele_config

type Config struct { //nolint:maligned
	BrokerHost         string `hcl:"broker_host"`
	BrokerPort         int    `hcl:"broker_port"`
	Username           string `hcl:"username"`           // secret
	Password           string `hcl:"password"`           // secret
	NodeID             string `hcl:"node_id"`
	PublishIntervalSec int    `hcl:"publish_interval_sec"`
	KeepaliveSec       int    `hcl:"keepalive_sec"`
	TopicBase          string `hcl:"topic_base"`
	Units              string `hcl:"units"` // "C" or "F"
	ConnectTimeoutSec  int    `hcl:"connect_timeout_sec"`
	LogDebug           bool   `hcl:"log_debug"`
}

const (
	DefaultBrokerHost         = "192.168.99.1"
	DefaultBrokerPort         = 1883
	DefaultNodeID             = "node01"
	DefaultPublishIntervalSec = 60
	DefaultKeepaliveSec       = 60
	DefaultTopicBase          = "wcs"
	DefaultUnits              = "C"
	DefaultConnectTimeoutSec  = 30
)

func Default() Config {
	return Config{
		BrokerHost:         DefaultBrokerHost,
		BrokerPort:         DefaultBrokerPort,
		NodeID:             DefaultNodeID,
		PublishIntervalSec: DefaultPublishIntervalSec,
		KeepaliveSec:       DefaultKeepaliveSec,
		TopicBase:          DefaultTopicBase,
		Units:              DefaultUnits,
		ConnectTimeoutSec:  DefaultConnectTimeoutSec,
	}
}
