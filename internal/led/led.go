// Package led drives the status LED through a gpio character device.
package led

import (
	"time"

	"github.com/juju/errors"
	"github.com/temoto/atomic_clock"
	gpio "github.com/temoto/gpio-cdev-go"
	"github.com/wicd/sensornode/helpers"
	"github.com/wicd/sensornode/log2"
)

type Mode uint8

const (
	ModeOff Mode = iota
	ModeOn
	ModeBlink
)

func (m Mode) String() string {
	switch m {
	case ModeOff:
		return "off"
	case ModeOn:
		return "on"
	case ModeBlink:
		return "blink"
	}
	return "unknown"
}

const defaultBlinkInterval = 500 * time.Millisecond

type Config struct {
	Chip            string `hcl:"chip"`
	Line            uint32 `hcl:"line"`
	BlinkIntervalMs int    `hcl:"blink_interval_ms"`

	testSet func(value byte) error
}

type LED struct {
	log    *log2.Log
	config Config

	chip  gpio.Chiper
	lines gpio.Lineser
	set   func(value byte) error

	mode      Mode
	level     byte
	blinkEach time.Duration
	lastFlip  *atomic_clock.Clock
	available bool
	lastErr   error
}

func New(log *log2.Log, config Config) *LED {
	self := &LED{
		log:       log,
		config:    config,
		blinkEach: helpers.IntMillisecondDefault(config.BlinkIntervalMs, defaultBlinkInterval),
		lastFlip:  atomic_clock.New(),
	}
	self.open()
	return self
}

// open degrades to status-only on error, the node is useful without its LED.
func (self *LED) open() {
	if self.config.testSet != nil {
		self.set = self.config.testSet
		self.available = true
		return
	}

	chip, err := gpio.Open(self.config.Chip, "led")
	if err != nil {
		self.lastErr = errors.Annotatef(err, "led gpio open chip=%s", self.config.Chip)
		self.log.Errorf("%v", self.lastErr)
		return
	}
	self.chip = chip
	lines, err := chip.OpenLines(gpio.GPIOHANDLE_REQUEST_OUTPUT, "led", self.config.Line)
	if err != nil {
		self.lastErr = errors.Annotatef(err, "led gpio line=%d", self.config.Line)
		self.log.Errorf("%v", self.lastErr)
		return
	}
	self.lines = lines
	lineSet := lines.SetFunc(self.config.Line)
	self.set = func(value byte) error {
		lineSet(value)
		return self.lines.Flush()
	}
	self.available = true
	self.log.Infof("led ready chip=%s line=%d", self.config.Chip, self.config.Line)
}

func (self *LED) Available() bool { return self.available }
func (self *LED) Mode() Mode      { return self.mode }

func (self *LED) SetMode(mode Mode) error {
	self.mode = mode
	switch mode {
	case ModeOff:
		return self.write(0)
	case ModeOn:
		return self.write(1)
	case ModeBlink:
		self.lastFlip.SetNow()
		return self.write(1)
	}
	return errors.NotValidf("led mode %d", mode)
}

func (self *LED) write(level byte) error {
	self.level = level
	if !self.available {
		return nil
	}
	if err := self.set(level); err != nil {
		self.lastErr = errors.Annotate(err, "led set")
		return self.lastErr
	}
	self.lastErr = nil
	return nil
}

// Tick toggles the line on the blink cadence. Other modes are level
// stable and need no work here.
func (self *LED) Tick() {
	if self.mode != ModeBlink {
		return
	}
	if atomic_clock.Since(self.lastFlip) < self.blinkEach {
		return
	}
	self.lastFlip.SetNow()
	if err := self.write(self.level ^ 1); err != nil {
		self.log.Errorf("led blink: %v", err)
	}
}

func (self *LED) Shutdown() {
	if err := self.write(0); err != nil {
		self.log.Errorf("led shutdown: %v", err)
	}
	if self.chip != nil {
		self.chip.Close() //nolint:errcheck
	}
}
