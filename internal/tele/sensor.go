package tele

import "math"

// Reading is one sensor sample. Temperature is Celsius at acquisition,
// converted per the units setting before it leaves the session.
type Reading struct {
	Temperature    float64 `json:"temperature"`
	Humidity       float64 `json:"humidity"`
	BatteryVoltage float64 `json:"battery_voltage"`
	Timestamp      int64   `json:"timestamp"`
	NodeID         string  `json:"node_id"`
}

// SensorProvider is the hardware driver contract. A failed read is
// treated the same as an absent provider: the session substitutes
// synthetic data so telemetry never silently stops.
type SensorProvider interface {
	ReadSensor() (Reading, error)
}

const (
	syntheticBaseTemperature = 22.0 // °C
	syntheticBaseHumidity    = 65.0 // %
	syntheticBaseBattery     = 3.7  // V

	syntheticTemperatureSpan = 2.0 // ±1.0 °C
	syntheticHumiditySpan    = 5.0 // ±2.5 %
	syntheticBatterySpan     = 0.3 // up to 4.0 V
)

func round1(v float64) float64 { return math.Round(v*10) / 10 }
func round2(v float64) float64 { return math.Round(v*100) / 100 }

// gatherReading implements the acquisition policy: prefer the provider,
// fall back to synthetic jitter around a fixed baseline. Battery is
// always synthetic, no battery sensing circuit exists.
func (self *Session) gatherReading() Reading {
	r := Reading{}
	provided := false
	if self.provider != nil {
		if p := self.provider(); p != nil {
			pr, err := p.ReadSensor()
			if err != nil {
				self.log.Debugf("sensor read failed, synthetic fallback: %v", err)
			} else {
				r.Temperature = pr.Temperature
				r.Humidity = pr.Humidity
				provided = true
			}
		}
	}
	if !provided {
		r.Temperature = syntheticBaseTemperature + syntheticTemperatureSpan*(self.rnd.Float64()-0.5)
		r.Humidity = syntheticBaseHumidity + syntheticHumiditySpan*(self.rnd.Float64()-0.5)
	}
	if self.config.Units == "F" {
		r.Temperature = r.Temperature*9/5 + 32
	}
	r.Temperature = round2(r.Temperature)
	r.Humidity = round1(r.Humidity)
	r.BatteryVoltage = round2(syntheticBaseBattery + syntheticBatterySpan*self.rnd.Float64())
	r.Timestamp = self.now().Unix()
	r.NodeID = self.config.NodeID
	return r
}
