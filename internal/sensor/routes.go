package sensor

import (
	"fmt"
	"net/http"
	"time"

	"github.com/wicd/sensornode/internal/listener"
)

func (self *SHT4x) BindRoutes(lst *listener.Listener) {
	lst.HandleFunc("GET", "/sht4x-reading", func(w http.ResponseWriter, r *http.Request) {
		if !self.available {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "sensor unavailable")
			return
		}
		if self.lastRead.IsZero() {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, "no reading yet")
			return
		}
		fmt.Fprintf(w, "temperature=%.2f humidity=%.1f age=%s",
			self.last.Temperature, self.last.Humidity, self.readAge())
	})
}

func (self *SHT4x) RenderWidget() string {
	if !self.available {
		return fmt.Sprintf(`<div class="module">
<h3>SHT4x Sensor</h3>
<div class="status" style="border-left: 4px solid #dc3545;">
<strong>State:</strong> unavailable<br>
<strong>Error:</strong> %v
</div>
</div>`, self.lastErr)
	}
	errLine := ""
	if self.lastErr != nil {
		errLine = fmt.Sprintf("<br><strong>Last error:</strong> %v", self.lastErr)
	}
	return fmt.Sprintf(`<div class="module">
<h3>SHT4x Sensor</h3>
<div class="status" style="border-left: 4px solid #28a745;">
<strong>Temperature:</strong> %.2f &deg;C<br>
<strong>Humidity:</strong> %.1f %%<br>
<strong>Read:</strong> %s%s
</div>
</div>`, self.last.Temperature, self.last.Humidity, self.readAge(), errLine)
}

func (self *SHT4x) readAge() string {
	if self.lastRead.IsZero() {
		return "never"
	}
	ago := time.Since(self.lastRead)
	if ago < time.Second {
		return "just now"
	}
	return fmt.Sprintf("%ds ago", int(ago.Seconds()))
}
