// Package tele owns the broker connection of the node: a small state
// machine driven by the cooperative loop, with auto-reconnect at a
// fixed cadence and scheduled telemetry publishes.
package tele

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"time"

	"github.com/juju/errors"
	"github.com/wicd/sensornode/helpers"
	tele_config "github.com/wicd/sensornode/internal/tele/config"
	"github.com/wicd/sensornode/log2"
)

const (
	defaultReconnectInterval = 30 * time.Second

	statusOnline  = "online"
	statusOffline = "offline"
)

type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	}
	return "disconnected"
}

// Topics are derived once from topic base + node id and never change.
type Topics struct {
	Temperature string
	Humidity    string
	Battery     string
	Status      string
}

func NewTopics(base, node string) Topics {
	return Topics{
		Temperature: fmt.Sprintf("%s/%s/temperature", base, node),
		Humidity:    fmt.Sprintf("%s/%s/humidity", base, node),
		Battery:     fmt.Sprintf("%s/%s/battery", base, node),
		Status:      fmt.Sprintf("%s/%s/status", base, node),
	}
}

// statusDoc is the structured payload for the status topic.
type statusDoc struct {
	Status    string  `json:"status"`
	Timestamp int64   `json:"timestamp"`
	Data      Reading `json:"data"`
}

// Session contract:
// - single owner of the transport, must only be used from the loop thread
// - Connect/Disconnect are idempotent
// - any transport failure lands back in StateDisconnected
// - Tick never lets an error escape
type Session struct { //nolint:maligned
	config    tele_config.Config
	log       *log2.Log
	transport Transporter
	topics    Topics
	state     State

	publishInterval   time.Duration
	reconnectInterval time.Duration
	connectTimeout    time.Duration

	lastPublish   time.Time
	lastReconnect time.Time

	provider func() SensorProvider
	now      func() time.Time
	rnd      *rand.Rand

	connectCount  int
	statusMessage string
	lastErr       error
}

func New(log *log2.Log, teleConfig tele_config.Config) *Session {
	teleLog := log.Clone(log2.LInfo)
	if teleConfig.LogDebug {
		teleLog.SetLevel(log2.LDebug)
	}
	return NewWithTransporter(log, teleConfig, newTransportMqtt(teleLog, teleConfig))
}

func NewWithTransporter(log *log2.Log, teleConfig tele_config.Config, trans Transporter) *Session {
	self := &Session{
		config:            teleConfig,
		log:               log,
		transport:         trans,
		topics:            NewTopics(teleConfig.TopicBase, teleConfig.NodeID),
		state:             StateDisconnected,
		publishInterval:   helpers.IntSecondDefault(teleConfig.PublishIntervalSec, 60*time.Second),
		reconnectInterval: defaultReconnectInterval,
		connectTimeout:    helpers.IntSecondDefault(teleConfig.ConnectTimeoutSec, defaultNetworkTimeout),
		now:               time.Now,
		rnd:               helpers.RandUnix(),
		statusMessage:     "initialized",
	}
	return self
}

func (self *Session) State() State     { return self.state }
func (self *Session) Topics() Topics   { return self.topics }
func (self *Session) LastError() error { return self.lastErr }

// SetProvider wires the sensor lookup; called once at node assembly.
func (self *Session) SetProvider(f func() SensorProvider) { self.provider = f }

// Connect is a no-op success when already connected. On broker ack the
// state becomes Connected and the online status is published once.
func (self *Session) Connect() error {
	if self.state == StateConnected {
		return nil
	}
	self.state = StateConnecting
	self.statusMessage = fmt.Sprintf("connecting to %s:%d", self.config.BrokerHost, self.config.BrokerPort)
	self.log.Debugf("tele %s", self.statusMessage)

	ctx, cancel := context.WithTimeout(context.Background(), self.connectTimeout)
	defer cancel()
	if err := self.transport.Connect(ctx); err != nil {
		self.state = StateDisconnected
		self.lastErr = err
		self.statusMessage = "connect failed: " + err.Error()
		return errors.Annotate(err, "tele connect")
	}

	self.state = StateConnected
	self.connectCount++
	self.lastErr = nil
	self.statusMessage = fmt.Sprintf("connected to %s:%d", self.config.BrokerHost, self.config.BrokerPort)
	self.log.Infof("tele %s", self.statusMessage)
	// defer the first automatic publish one full interval from now
	self.lastPublish = self.now()
	if err := self.transport.Publish(self.topics.Status, []byte(statusOnline)); err != nil {
		// announce failure does not invalidate the fresh connection
		self.log.Errorf("tele online status publish: %v", err)
	}
	return nil
}

// Disconnect is a no-op success when already disconnected. The offline
// status publish is best effort: intentional shutdown must not be
// blocked by a single publish error.
func (self *Session) Disconnect() error {
	if self.state == StateDisconnected {
		return nil
	}
	if err := self.transport.Publish(self.topics.Status, []byte(statusOffline)); err != nil {
		self.log.Errorf("tele offline status publish: %v", err)
	}
	self.transport.Disconnect()
	self.state = StateDisconnected
	self.statusMessage = "disconnected"
	self.log.Infof("tele disconnected")
	return nil
}

// Tick drains transport events, then drives reconnect and the publish
// schedule. Runs once per loop iteration.
func (self *Session) Tick() {
	self.drainEvents()

	now := self.now()
	if self.state != StateConnected {
		if self.lastReconnect.IsZero() {
			// arm the timer on the first tick, attempt after one interval
			self.lastReconnect = now
		} else if now.Sub(self.lastReconnect) >= self.reconnectInterval {
			// reset the stamp regardless of outcome, fixed cadence
			self.lastReconnect = now
			self.log.Debugf("tele reconnect attempt")
			if err := self.Connect(); err != nil {
				self.statusMessage = "reconnect failed: " + err.Error()
			}
		}
		return
	}

	if now.Sub(self.lastPublish) >= self.publishInterval {
		if err := self.PublishSensorData(); err != nil {
			self.log.Errorf("tele auto publish: %v", err)
		}
	}
}

func (self *Session) drainEvents() {
	for {
		select {
		case e := <-self.transport.Events():
			switch e.Kind {
			case EventDisconnected:
				self.state = StateDisconnected
				self.lastErr = e.Err
				self.statusMessage = fmt.Sprintf("connection lost: %v", e.Err)
				self.log.Errorf("tele %s", self.statusMessage)
			case EventMessage:
				self.log.Infof("tele message topic=%s payload=%s", e.Topic, e.Payload)
			case EventConnected:
				self.log.Debugf("tele transport connected")
			}
		default:
			return
		}
	}
}

// PublishSensorData gathers one reading and writes the numeric topics
// plus the structured status payload. Requires Connected. A failed
// write is recorded but does not change connection state: one lost
// publish does not imply a broken transport.
func (self *Session) PublishSensorData() error {
	if self.state != StateConnected {
		err := errors.Errorf("not connected to broker")
		self.lastErr = err
		return err
	}

	reading := self.gatherReading()
	// schedule resets whether or not the writes succeed
	self.lastPublish = self.now()

	fail := func(err error) error {
		self.lastErr = err
		self.statusMessage = "publish failed: " + err.Error()
		return err
	}

	if err := self.transport.Publish(self.topics.Temperature, formatDecimal(reading.Temperature, 2)); err != nil {
		return fail(err)
	}
	if err := self.transport.Publish(self.topics.Humidity, formatDecimal(reading.Humidity, 1)); err != nil {
		return fail(err)
	}
	if err := self.transport.Publish(self.topics.Battery, formatDecimal(reading.BatteryVoltage, 2)); err != nil {
		return fail(err)
	}

	doc := statusDoc{Status: statusOnline, Timestamp: reading.Timestamp, Data: reading}
	payload, err := json.Marshal(&doc)
	if err != nil {
		return fail(errors.Annotate(err, "status payload"))
	}
	if err := self.transport.Publish(self.topics.Status, payload); err != nil {
		return fail(err)
	}

	self.statusMessage = fmt.Sprintf("published t=%s h=%s",
		formatDecimal(reading.Temperature, 2), formatDecimal(reading.Humidity, 1))
	self.log.Debugf("tele %s", self.statusMessage)
	return nil
}

func formatDecimal(v float64, prec int) []byte {
	return strconv.AppendFloat(nil, v, 'f', prec, 64)
}

func (self *Session) Shutdown() {
	if self.state == StateConnected {
		if err := self.Disconnect(); err != nil {
			self.log.Errorf("tele shutdown: %v", err)
		}
	}
	self.transport.Close()
}
