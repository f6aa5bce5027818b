package tele

import "context"

// transportMock records transport calls for tests. Test code injects it
// via NewWithTransporter.
type transportMock struct {
	connectErr      error
	connectCalls    int
	disconnectCalls int
	closeCalls      int

	publishErr map[string]error // forced failure per topic
	attempts   []mockPublish    // every Publish call, failed included
	published  []mockPublish    // successful only

	events chan Event
}

type mockPublish struct {
	topic   string
	payload string
}

func newTransportMock() *transportMock {
	return &transportMock{
		publishErr: make(map[string]error),
		events:     make(chan Event, 16),
	}
}

func (self *transportMock) Connect(ctx context.Context) error {
	self.connectCalls++
	return self.connectErr
}

func (self *transportMock) Disconnect() { self.disconnectCalls++ }

func (self *transportMock) Publish(topic string, payload []byte) error {
	p := mockPublish{topic: topic, payload: string(payload)}
	self.attempts = append(self.attempts, p)
	if err := self.publishErr[topic]; err != nil {
		return err
	}
	self.published = append(self.published, p)
	return nil
}

func (self *transportMock) Events() <-chan Event { return self.events }

func (self *transportMock) Close() { self.closeCalls++ }

func (self *transportMock) publishedTo(topic string) []mockPublish {
	out := []mockPublish{}
	for _, p := range self.published {
		if p.topic == topic {
			out = append(out, p)
		}
	}
	return out
}
