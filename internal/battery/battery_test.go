package battery

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/wicd/sensornode/log2"
)

func TestVoltageRange(t *testing.T) {
	t.Parallel()

	self := New(log2.NewTest(t, log2.LError), Config{})
	for i := 0; i < 200; i++ {
		self.sample()
		v := self.Voltage()
		assert.True(t, v >= voltageFloor && v <= voltageCeil, "voltage %v", v)
		assert.Equal(t, v < lowThreshold, self.Low())
	}
}

func TestPercentOf(t *testing.T) {
	t.Parallel()

	cases := []struct {
		voltage float64
		percent int
	}{
		{3.2, 0},
		{3.0, 0},   // below the window clamps
		{4.2, 100},
		{4.5, 100}, // above the window clamps
		{3.7, 50},
		{3.95, 75},
	}
	for _, c := range cases {
		assert.Equal(t, c.percent, percentOf(c.voltage), "voltage %v", c.voltage)
	}
}
