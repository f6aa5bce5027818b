package tele

import (
	"context"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/juju/errors"
	"github.com/wicd/sensornode/helpers"
	tele_config "github.com/wicd/sensornode/internal/tele/config"
	"github.com/wicd/sensornode/log2"
)

const defaultNetworkTimeout = 30 * time.Second

// transportMqtt adapts the paho client to the Transporter contract.
// Auto-reconnect is off: the session owns the reconnect cadence. Paho
// callbacks only convert to events, application code runs on the loop.
type transportMqtt struct {
	log            *log2.Log
	m              mqtt.Client
	events         chan Event
	connectTimeout time.Duration
	networkTimeout time.Duration
}

func newTransportMqtt(log *log2.Log, teleConfig tele_config.Config) *transportMqtt {
	self := &transportMqtt{
		log:            log,
		events:         make(chan Event, 16),
		connectTimeout: helpers.IntSecondDefault(teleConfig.ConnectTimeoutSec, defaultNetworkTimeout),
		networkTimeout: defaultNetworkTimeout,
	}

	broker := fmt.Sprintf("tcp://%s:%d", teleConfig.BrokerHost, teleConfig.BrokerPort)
	keepalive := helpers.IntSecondDefault(teleConfig.KeepaliveSec, 60*time.Second)

	mopt := mqtt.NewClientOptions().
		AddBroker(broker).
		SetAutoReconnect(false).
		SetCleanSession(true).
		SetClientID(teleConfig.NodeID).
		SetConnectTimeout(self.connectTimeout).
		SetKeepAlive(keepalive).
		SetOrderMatters(false).
		SetWriteTimeout(self.networkTimeout).
		SetDefaultPublishHandler(self.messageHandler).
		SetConnectionLostHandler(self.connectLostHandler).
		SetOnConnectHandler(self.onConnectHandler)
	if teleConfig.Username != "" {
		mopt = mopt.SetUsername(teleConfig.Username).SetPassword(teleConfig.Password)
	}
	self.m = mqtt.NewClient(mopt)
	return self
}

func (self *transportMqtt) Connect(ctx context.Context) error {
	timeout := self.connectTimeout
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d < timeout {
			timeout = d
		}
	}
	t := self.m.Connect()
	if !t.WaitTimeout(timeout) {
		return errors.Timeoutf("broker connect")
	}
	if err := t.Error(); err != nil {
		return errors.Annotate(err, "broker connect")
	}
	return nil
}

func (self *transportMqtt) Disconnect() {
	if self.m.IsConnected() {
		self.m.Disconnect(250)
	}
}

func (self *transportMqtt) Publish(topic string, payload []byte) error {
	t := self.m.Publish(topic, 1, false, payload)
	if !t.WaitTimeout(self.networkTimeout) {
		return errors.Timeoutf("publish topic=%s", topic)
	}
	if err := t.Error(); err != nil {
		return errors.Annotatef(err, "publish topic=%s", topic)
	}
	return nil
}

func (self *transportMqtt) Events() <-chan Event { return self.events }

func (self *transportMqtt) Close() {
	self.Disconnect()
}

func (self *transportMqtt) push(e Event) {
	select {
	case self.events <- e:
	default:
		// loop stalled, dropping is better than blocking paho internals
		self.log.Errorf("transport event queue full, dropped %s", e.Kind)
	}
}

func (self *transportMqtt) messageHandler(_ mqtt.Client, msg mqtt.Message) {
	self.push(Event{Kind: EventMessage, Topic: msg.Topic(), Payload: msg.Payload()})
}

func (self *transportMqtt) connectLostHandler(_ mqtt.Client, err error) {
	self.push(Event{Kind: EventDisconnected, Err: err})
}

func (self *transportMqtt) onConnectHandler(_ mqtt.Client) {
	self.push(Event{Kind: EventConnected})
}
