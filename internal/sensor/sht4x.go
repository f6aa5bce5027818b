// Package sensor talks to the SHT4x temperature/humidity chip over I2C.
package sensor

import (
	"time"

	"github.com/juju/errors"
	"github.com/wicd/sensornode/crc"
	"github.com/wicd/sensornode/helpers"
	"github.com/wicd/sensornode/internal/tele"
	"github.com/wicd/sensornode/log2"
	"periph.io/x/periph/conn/i2c"
	"periph.io/x/periph/conn/i2c/i2creg"
	"periph.io/x/periph/host"
)

const (
	DefaultAddr uint16 = 0x44

	// high repeatability measurement, no heater
	cmdMeasure byte = 0xfd

	// datasheet max measurement duration at high repeatability is 8.3ms
	measureDelay = 10 * time.Millisecond

	defaultReadInterval = 2 * time.Second
)

type Config struct {
	Bus             string `hcl:"bus"`
	Addr            uint16 `hcl:"addr"`
	ReadIntervalSec int    `hcl:"read_interval_sec"`

	testTx TxFunc
}

// TxFunc writes w then reads len(r) bytes, either half may be empty.
type TxFunc func(w, r []byte) error

type Measurement struct {
	Temperature float64 // Celsius
	Humidity    float64 // %RH
}

type SHT4x struct { //nolint:maligned
	log    *log2.Log
	config Config

	tx        TxFunc
	busCloser i2c.BusCloser

	readInterval time.Duration
	lastRead     time.Time // last successful measurement
	lastAttempt  time.Time // throttles Tick retries after failures
	last         Measurement
	lastErr      error
	available    bool
}

func New(log *log2.Log, config Config) *SHT4x {
	if config.Addr == 0 {
		config.Addr = DefaultAddr
	}
	self := &SHT4x{
		log:          log,
		config:       config,
		readInterval: helpers.IntSecondDefault(config.ReadIntervalSec, defaultReadInterval),
	}
	self.open()
	return self
}

// open degrades to unavailable on any error. A node without the sensor
// soldered on still boots and serves synthetic telemetry.
func (self *SHT4x) open() {
	if self.config.testTx != nil {
		self.tx = self.config.testTx
		self.available = true
		return
	}

	if _, err := host.Init(); err != nil {
		self.lastErr = errors.Annotate(err, "periph/init")
		self.log.Errorf("sht4x %v", self.lastErr)
		return
	}
	bus, err := i2creg.Open(self.config.Bus)
	if err != nil {
		self.lastErr = errors.Annotatef(err, "i2c open bus=%s", self.config.Bus)
		self.log.Errorf("sht4x %v", self.lastErr)
		return
	}
	self.busCloser = bus
	dev := &i2c.Dev{Addr: self.config.Addr, Bus: bus}
	self.tx = dev.Tx
	self.available = true
	self.log.Infof("sht4x ready bus=%s addr=0x%02x", self.config.Bus, self.config.Addr)
}

func (self *SHT4x) Available() bool { return self.available }

func (self *SHT4x) LastMeasurement() (Measurement, time.Time) {
	return self.last, self.lastRead
}

// measure runs one measurement transaction: command write, conversion
// wait, 6 byte read. Each 16-bit word is followed by its CRC-8.
func (self *SHT4x) measure() (Measurement, error) {
	if !self.available {
		return Measurement{}, errors.Errorf("sht4x not available")
	}
	if err := self.tx([]byte{cmdMeasure}, nil); err != nil {
		return Measurement{}, errors.Annotate(err, "sht4x measure command")
	}
	time.Sleep(measureDelay)
	buf := make([]byte, 6)
	if err := self.tx(nil, buf); err != nil {
		return Measurement{}, errors.Annotate(err, "sht4x read")
	}
	if c := crc.CRC8_p31_2b(buf[0], buf[1]); c != buf[2] {
		return Measurement{}, errors.Errorf("sht4x temperature crc mismatch calc=%02x frame=%02x", c, buf[2])
	}
	if c := crc.CRC8_p31_2b(buf[3], buf[4]); c != buf[5] {
		return Measurement{}, errors.Errorf("sht4x humidity crc mismatch calc=%02x frame=%02x", c, buf[5])
	}
	tRaw := uint16(buf[0])<<8 | uint16(buf[1])
	hRaw := uint16(buf[3])<<8 | uint16(buf[4])
	m := Measurement{
		Temperature: -45 + 175*float64(tRaw)/65535,
		Humidity:    -6 + 125*float64(hRaw)/65535,
	}
	// raw extremes map slightly outside the physical range
	if m.Humidity < 0 {
		m.Humidity = 0
	} else if m.Humidity > 100 {
		m.Humidity = 100
	}
	return m, nil
}

// ReadSensor implements the telemetry provider contract with a fresh
// measurement. The caller owns retry and fallback policy.
func (self *SHT4x) ReadSensor() (tele.Reading, error) {
	m, err := self.measure()
	self.lastAttempt = time.Now()
	if err != nil {
		self.lastErr = err
		return tele.Reading{}, err
	}
	self.last = m
	self.lastErr = nil
	self.lastRead = self.lastAttempt
	return tele.Reading{Temperature: m.Temperature, Humidity: m.Humidity}, nil
}

// Tick refreshes the cached measurement on the configured interval so
// the dashboard shows live values without a telemetry session running.
// A failed attempt is throttled like a successful one, but only success
// moves the data staleness stamp.
func (self *SHT4x) Tick() {
	if !self.available {
		return
	}
	if !self.lastAttempt.IsZero() && time.Since(self.lastAttempt) < self.readInterval {
		return
	}
	if _, err := self.ReadSensor(); err != nil {
		self.log.Errorf("sht4x tick: %v", err)
	}
}

func (self *SHT4x) Shutdown() {
	if self.busCloser != nil {
		if err := self.busCloser.Close(); err != nil {
			self.log.Errorf("sht4x close: %v", err)
		}
	}
}
