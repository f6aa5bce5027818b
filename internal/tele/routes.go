package tele

import (
	"fmt"
	"net/http"
	"time"

	"github.com/wicd/sensornode/internal/listener"
)

// BindRoutes exposes manual broker control. Responses are plain text,
// this surface is a local-network utility.
func (self *Session) BindRoutes(lst *listener.Listener) {
	lst.HandleFunc("POST", "/mqtt-connect", func(w http.ResponseWriter, r *http.Request) {
		if self.state == StateConnected {
			fmt.Fprint(w, "already connected")
			return
		}
		if err := self.Connect(); err != nil {
			fmt.Fprintf(w, "connect failed: %v", err)
			return
		}
		fmt.Fprintf(w, "connected to %s:%d", self.config.BrokerHost, self.config.BrokerPort)
	})

	lst.HandleFunc("POST", "/mqtt-disconnect", func(w http.ResponseWriter, r *http.Request) {
		if self.state == StateDisconnected {
			fmt.Fprint(w, "not connected")
			return
		}
		if err := self.Disconnect(); err != nil {
			fmt.Fprintf(w, "disconnect failed: %v", err)
			return
		}
		fmt.Fprint(w, "disconnected")
	})

	lst.HandleFunc("POST", "/mqtt-publish", func(w http.ResponseWriter, r *http.Request) {
		if self.state != StateConnected {
			fmt.Fprint(w, "not connected")
			return
		}
		if err := self.PublishSensorData(); err != nil {
			fmt.Fprintf(w, "publish failed: %v", err)
			return
		}
		fmt.Fprint(w, "test data published")
	})
}

func (self *Session) RenderWidget() string {
	stateColor := "#dc3545"
	if self.state == StateConnected {
		stateColor = "#28a745"
	}
	errLine := ""
	if self.lastErr != nil {
		errLine = fmt.Sprintf("<br><strong>Last error:</strong> %v", self.lastErr)
	}
	return fmt.Sprintf(`<div class="module">
<h3>MQTT Client - %s</h3>
<div class="status" style="border-left: 4px solid %s;">
<strong>State:</strong> %s<br>
<strong>Broker:</strong> %s:%d<br>
<strong>Message:</strong> %s<br>
<strong>Connects:</strong> %d<br>
<strong>Last published:</strong> %s%s
</div>
<div class="control-group">
<form method="post" action="/mqtt-connect"><button>Connect</button></form>
<form method="post" action="/mqtt-disconnect"><button>Disconnect</button></form>
<form method="post" action="/mqtt-publish"><button>Test publish</button></form>
</div>
</div>`,
		self.config.NodeID, stateColor, self.state, self.config.BrokerHost, self.config.BrokerPort,
		self.statusMessage, self.connectCount, self.formatLastPublish(), errLine)
}

func (self *Session) formatLastPublish() string {
	if self.lastPublish.IsZero() {
		return "never"
	}
	ago := self.now().Sub(self.lastPublish)
	switch {
	case ago < time.Minute:
		return fmt.Sprintf("%ds ago", int(ago.Seconds()))
	case ago < time.Hour:
		return fmt.Sprintf("%dm ago", int(ago.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(ago.Hours()))
	}
}
