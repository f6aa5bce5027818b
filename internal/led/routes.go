package led

import (
	"fmt"
	"net/http"

	"github.com/wicd/sensornode/internal/listener"
)

func (self *LED) BindRoutes(lst *listener.Listener) {
	mode := func(m Mode) listener.HandlerFunc {
		return func(w http.ResponseWriter, r *http.Request) {
			if err := self.SetMode(m); err != nil {
				fmt.Fprintf(w, "led %s failed: %v", m, err)
				return
			}
			fmt.Fprintf(w, "led %s", m)
		}
	}
	lst.HandleFunc("POST", "/led-on", mode(ModeOn))
	lst.HandleFunc("POST", "/led-off", mode(ModeOff))
	lst.HandleFunc("POST", "/led-blink", mode(ModeBlink))
}

func (self *LED) RenderWidget() string {
	stateColor := "#28a745"
	stateLine := self.mode.String()
	if !self.available {
		stateColor = "#dc3545"
		stateLine = fmt.Sprintf("%s (no hardware: %v)", self.mode, self.lastErr)
	}
	return fmt.Sprintf(`<div class="module">
<h3>Status LED</h3>
<div class="status" style="border-left: 4px solid %s;">
<strong>Mode:</strong> %s
</div>
<div class="control-group">
<form method="post" action="/led-on"><button>On</button></form>
<form method="post" action="/led-off"><button>Off</button></form>
<form method="post" action="/led-blink"><button>Blink</button></form>
</div>
</div>`, stateColor, stateLine)
}
