package tele

import (
	"encoding/json"
	"strconv"
	"testing"
	"time"

	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tele_config "github.com/wicd/sensornode/internal/tele/config"
	"github.com/wicd/sensornode/log2"
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type fakeProvider struct {
	reading Reading
	err     error
	calls   int
}

func (p *fakeProvider) ReadSensor() (Reading, error) {
	p.calls++
	return p.reading, p.err
}

type tenv struct {
	s     *Session
	trans *transportMock
	clk   *fakeClock
}

func newTestSession(t testing.TB, mutate func(*tele_config.Config)) *tenv {
	cfg := tele_config.Default()
	if mutate != nil {
		mutate(&cfg)
	}
	trans := newTransportMock()
	s := NewWithTransporter(log2.NewTest(t, log2.LDebug), cfg, trans)
	clk := &fakeClock{t: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}
	s.now = clk.Now
	return &tenv{s: s, trans: trans, clk: clk}
}

func TestTopics(t *testing.T) {
	t.Parallel()

	topics := NewTopics("wcs", "node07")
	assert.Equal(t, "wcs/node07/temperature", topics.Temperature)
	assert.Equal(t, "wcs/node07/humidity", topics.Humidity)
	assert.Equal(t, "wcs/node07/battery", topics.Battery)
	assert.Equal(t, "wcs/node07/status", topics.Status)
}

func TestConnectPublishesOnlineOnce(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	require.NoError(t, env.s.Connect())
	assert.Equal(t, StateConnected, env.s.State())

	status := env.trans.publishedTo(env.s.Topics().Status)
	require.Len(t, status, 1)
	assert.Equal(t, "online", status[0].payload)
}

func TestConnectIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	require.NoError(t, env.s.Connect())
	require.NoError(t, env.s.Connect())
	assert.Equal(t, 1, env.trans.connectCalls)
	assert.Len(t, env.trans.publishedTo(env.s.Topics().Status), 1)
}

func TestConnectFailure(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	env.trans.connectErr = errors.Errorf("broker unreachable")

	err := env.s.Connect()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker unreachable")
	assert.Equal(t, StateDisconnected, env.s.State())
	assert.Error(t, env.s.LastError())
	assert.Empty(t, env.trans.published)
}

func TestDisconnectIdempotent(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	require.NoError(t, env.s.Disconnect())
	assert.Equal(t, 0, env.trans.disconnectCalls)
	assert.Empty(t, env.trans.attempts)
}

func TestDisconnectPublishesOffline(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	require.NoError(t, env.s.Connect())
	require.NoError(t, env.s.Disconnect())

	status := env.trans.publishedTo(env.s.Topics().Status)
	require.Len(t, status, 2)
	assert.Equal(t, "offline", status[1].payload)
	assert.Equal(t, 1, env.trans.disconnectCalls)
	assert.Equal(t, StateDisconnected, env.s.State())
}

func TestDisconnectTeardownDespitePublishFailure(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	require.NoError(t, env.s.Connect())
	env.trans.publishErr[env.s.Topics().Status] = errors.Errorf("write: broken pipe")

	require.NoError(t, env.s.Disconnect())
	assert.Equal(t, 1, env.trans.disconnectCalls)
	assert.Equal(t, StateDisconnected, env.s.State())
}

func TestPublishWhileDisconnected(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	err := env.s.PublishSensorData()
	require.Error(t, err)
	assert.Empty(t, env.trans.attempts)
}

func TestPublishTopicsMatchStatusPayload(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	require.NoError(t, env.s.Connect())
	require.NoError(t, env.s.PublishSensorData())

	topics := env.s.Topics()
	temp := env.trans.publishedTo(topics.Temperature)
	hum := env.trans.publishedTo(topics.Humidity)
	bat := env.trans.publishedTo(topics.Battery)
	status := env.trans.publishedTo(topics.Status)
	require.Len(t, temp, 1)
	require.Len(t, hum, 1)
	require.Len(t, bat, 1)
	require.Len(t, status, 2) // "online" + the json document

	var doc struct {
		Status    string  `json:"status"`
		Timestamp int64   `json:"timestamp"`
		Data      Reading `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(status[1].payload), &doc))
	assert.Equal(t, "online", doc.Status)
	assert.Equal(t, doc.Data.Timestamp, doc.Timestamp)
	assert.Equal(t, tele_config.DefaultNodeID, doc.Data.NodeID)

	mustFloat := func(s string) float64 {
		v, err := strconv.ParseFloat(s, 64)
		require.NoError(t, err)
		return v
	}
	assert.Equal(t, doc.Data.Temperature, mustFloat(temp[0].payload))
	assert.Equal(t, doc.Data.Humidity, mustFloat(hum[0].payload))
	assert.Equal(t, doc.Data.BatteryVoltage, mustFloat(bat[0].payload))
}

func TestAutoPublishSchedule(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, func(c *tele_config.Config) { c.PublishIntervalSec = 5 })
	require.NoError(t, env.s.Connect())

	// 12s of 100ms ticks after connect: publishes at +5s and +10s only
	for i := 0; i < 120; i++ {
		env.clk.Advance(100 * time.Millisecond)
		env.s.Tick()
	}
	temp := env.trans.publishedTo(env.s.Topics().Temperature)
	assert.Len(t, temp, 2)
}

func TestAutoPublishSpacing(t *testing.T) {
	t.Parallel()

	const intervalSec = 5
	env := newTestSession(t, func(c *tele_config.Config) { c.PublishIntervalSec = intervalSec })
	require.NoError(t, env.s.Connect())

	stamps := []time.Time{}
	last := 0
	for i := 0; i < 600; i++ {
		env.clk.Advance(73 * time.Millisecond) // deliberately not a divisor of the interval
		env.s.Tick()
		if n := len(env.trans.publishedTo(env.s.Topics().Temperature)); n > last {
			last = n
			stamps = append(stamps, env.clk.t)
		}
	}
	require.True(t, len(stamps) >= 2)
	for i := 1; i < len(stamps); i++ {
		assert.True(t, stamps[i].Sub(stamps[i-1]) >= intervalSec*time.Second,
			"publishes %d and %d only %v apart", i-1, i, stamps[i].Sub(stamps[i-1]))
	}
}

func TestReconnectFixedCadence(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	env.trans.connectErr = errors.Errorf("connection refused")

	attempts := []time.Time{}
	calls := 0
	for i := 0; i < 95; i++ {
		env.clk.Advance(time.Second)
		env.s.Tick()
		if env.trans.connectCalls > calls {
			calls = env.trans.connectCalls
			attempts = append(attempts, env.clk.t)
		}
	}
	// timer armed on first tick, attempts at +30s, +60s, +90s
	require.Len(t, attempts, 3)
	for i := 1; i < len(attempts); i++ {
		assert.True(t, attempts[i].Sub(attempts[i-1]) >= defaultReconnectInterval)
	}
	assert.Equal(t, StateDisconnected, env.s.State())
}

func TestReconnectRecovers(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	env.trans.connectErr = errors.Errorf("connection refused")
	for i := 0; i < 35; i++ {
		env.clk.Advance(time.Second)
		env.s.Tick()
	}
	require.Equal(t, StateDisconnected, env.s.State())

	env.trans.connectErr = nil
	for i := 0; i < 35; i++ {
		env.clk.Advance(time.Second)
		env.s.Tick()
	}
	assert.Equal(t, StateConnected, env.s.State())
}

func TestTransportLossEvent(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	require.NoError(t, env.s.Connect())

	env.trans.events <- Event{Kind: EventDisconnected, Err: errors.Errorf("EOF")}
	env.s.Tick()
	assert.Equal(t, StateDisconnected, env.s.State())
	assert.Error(t, env.s.LastError())
}

func TestPublishFailureStaysConnected(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, func(c *tele_config.Config) { c.PublishIntervalSec = 5 })
	require.NoError(t, env.s.Connect())
	env.trans.publishErr[env.s.Topics().Temperature] = errors.Errorf("no ack")

	env.clk.Advance(5 * time.Second)
	env.s.Tick()
	assert.Equal(t, StateConnected, env.s.State())
	assert.Error(t, env.s.LastError())
	require.Len(t, env.trans.attempts, 2) // online + failed temperature write

	// failed publish still reset the schedule: no retry within the interval
	env.clk.Advance(time.Second)
	env.s.Tick()
	assert.Len(t, env.trans.attempts, 2)

	env.clk.Advance(4 * time.Second)
	env.s.Tick()
	assert.Len(t, env.trans.attempts, 3)
}

func TestSyntheticFallbackRange(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	for i := 0; i < 200; i++ {
		r := env.s.gatherReading()
		assert.True(t, r.Temperature >= 21.0 && r.Temperature <= 23.0, "temperature %v", r.Temperature)
		assert.True(t, r.Humidity >= 62.5 && r.Humidity <= 67.5, "humidity %v", r.Humidity)
		assert.True(t, r.BatteryVoltage >= 3.7 && r.BatteryVoltage <= 4.0, "battery %v", r.BatteryVoltage)
	}
}

func TestProviderPreferred(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	p := &fakeProvider{reading: Reading{Temperature: 19.37, Humidity: 40.2}}
	env.s.SetProvider(func() SensorProvider { return p })

	r := env.s.gatherReading()
	assert.Equal(t, 19.37, r.Temperature)
	assert.Equal(t, 40.2, r.Humidity)
	assert.Equal(t, 1, p.calls)
	// battery stays synthetic even with a live provider
	assert.True(t, r.BatteryVoltage >= 3.7 && r.BatteryVoltage <= 4.0)
}

func TestProviderFailureFallsBack(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	p := &fakeProvider{err: errors.Errorf("i2c timeout")}
	env.s.SetProvider(func() SensorProvider { return p })

	r := env.s.gatherReading()
	assert.True(t, r.Temperature >= 21.0 && r.Temperature <= 23.0)
	assert.True(t, r.Humidity >= 62.5 && r.Humidity <= 67.5)
}

func TestUnitsFahrenheit(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, func(c *tele_config.Config) { c.Units = "F" })
	p := &fakeProvider{reading: Reading{Temperature: 20.0, Humidity: 50.0}}
	env.s.SetProvider(func() SensorProvider { return p })

	r := env.s.gatherReading()
	assert.Equal(t, 68.0, r.Temperature)
	assert.Equal(t, 50.0, r.Humidity)
}

func TestWidgetLastPublishAge(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	assert.Contains(t, env.s.RenderWidget(), "never")

	require.NoError(t, env.s.Connect())
	require.NoError(t, env.s.PublishSensorData())
	assert.Contains(t, env.s.RenderWidget(), "0s ago")

	env.clk.Advance(90 * time.Second)
	assert.Contains(t, env.s.RenderWidget(), "1m ago")
}

func TestShutdownPublishesOffline(t *testing.T) {
	t.Parallel()

	env := newTestSession(t, nil)
	require.NoError(t, env.s.Connect())
	env.s.Shutdown()

	status := env.trans.publishedTo(env.s.Topics().Status)
	require.Len(t, status, 2)
	assert.Equal(t, "offline", status[1].payload)
	assert.Equal(t, 1, env.trans.closeCalls)
}
