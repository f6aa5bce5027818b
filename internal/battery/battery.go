// Package battery estimates the supply state. No sensing circuit is
// fitted on current boards, the voltage source is synthetic.
package battery

import (
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/temoto/atomic_clock"
	"github.com/wicd/sensornode/helpers"
	"github.com/wicd/sensornode/internal/listener"
	"github.com/wicd/sensornode/log2"
)

const (
	voltageFloor = 3.70
	voltageCeil  = 4.00

	// li-ion discharge window used for the percent estimate
	percentEmpty = 3.2
	percentFull  = 4.2

	lowThreshold = 3.75

	defaultRefresh = 10 * time.Second
)

type Config struct {
	RefreshSec int `hcl:"refresh_sec"`
}

type Monitor struct {
	log *log2.Log

	refresh     time.Duration
	lastRefresh *atomic_clock.Clock
	rnd         *rand.Rand

	voltage float64
	percent int
	low     bool
}

func New(log *log2.Log, config Config) *Monitor {
	self := &Monitor{
		log:         log,
		refresh:     helpers.IntSecondDefault(config.RefreshSec, defaultRefresh),
		lastRefresh: atomic_clock.New(),
		rnd:         helpers.RandUnix(),
	}
	self.sample()
	return self
}

func (self *Monitor) Voltage() float64 { return self.voltage }
func (self *Monitor) Percent() int     { return self.percent }
func (self *Monitor) Low() bool        { return self.low }

func (self *Monitor) sample() {
	self.voltage = voltageFloor + (voltageCeil-voltageFloor)*self.rnd.Float64()
	self.percent = percentOf(self.voltage)
	self.low = self.voltage < lowThreshold
	self.lastRefresh.SetNow()
}

func percentOf(voltage float64) int {
	p := (voltage - percentEmpty) / (percentFull - percentEmpty) * 100
	if p < 0 {
		p = 0
	} else if p > 100 {
		p = 100
	}
	return int(p + 0.5)
}

func (self *Monitor) Tick() {
	if atomic_clock.Since(self.lastRefresh) < self.refresh {
		return
	}
	self.sample()
	if self.low {
		self.log.Infof("battery low voltage=%.2f", self.voltage)
	}
}

func (self *Monitor) BindRoutes(lst *listener.Listener) {
	lst.HandleFunc("GET", "/battery", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "voltage=%.2f percent=%d low=%t", self.voltage, self.percent, self.low)
	})
}

func (self *Monitor) RenderWidget() string {
	stateColor := "#28a745"
	if self.low {
		stateColor = "#ffc107"
	}
	return fmt.Sprintf(`<div class="module">
<h3>Battery</h3>
<div class="status" style="border-left: 4px solid %s;">
<strong>Voltage:</strong> %.2f V<br>
<strong>Charge:</strong> %d%%<br>
<strong>Low:</strong> %t
</div>
</div>`, stateColor, self.voltage, self.percent, self.low)
}

func (self *Monitor) Shutdown() {}
