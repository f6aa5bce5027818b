package state

import (
	"fmt"
	"net"
	"net/http"
	"runtime"
	"strings"
	"time"

	"github.com/juju/errors"
	"github.com/temoto/alive/v2"
	"github.com/wicd/sensornode/internal/listener"
	"github.com/wicd/sensornode/internal/module"
	"github.com/wicd/sensornode/log2"
)

const startupLogDepth = 64

// Global is the supervisor: it owns the listener, the module registry
// and the cooperative loop. One logical thread of control touches all
// of it, modules never need locks.
type Global struct {
	Alive    *alive.Alive
	Config   *Config
	Log      *log2.Log
	Listener *listener.Listener
	Modules  *module.Registry

	bootTime   time.Time
	listenAddr string
	netAddr    net.IP
	startupLog []string
}

func NewGlobal(log *log2.Log, config *Config) *Global {
	self := &Global{
		Alive:    alive.NewAlive(),
		Config:   config,
		Log:      log,
		Listener: listener.New(log.Clone(log2.LInfo)),
		bootTime: time.Now(),
	}
	self.Modules = module.NewRegistry(self.Listener)
	self.StartupPrint(fmt.Sprintf("boot config source=%s degraded=%t", config.Source, config.Degraded))
	self.Listener.HandleFunc("GET", "/status", self.handleStatus)
	self.Listener.HandleFunc("GET", "/", self.handleDashboard)
	return self
}

// StartupPrint logs and retains the message for the dashboard, boot
// diagnostics stay visible after the serial console is unplugged.
func (self *Global) StartupPrint(message string) {
	self.Log.Infof("%s", message)
	if len(self.startupLog) >= startupLogDepth {
		self.startupLog = self.startupLog[1:]
	}
	self.startupLog = append(self.startupLog, message)
}

// BringUpNetwork waits for a usable non-loopback IPv4 address, then
// binds the control listener on it. Joining the wireless network is the
// host's job (wpa_supplicant or similar), the node only waits for the
// result. Failure here means the node must not serve.
func (self *Global) BringUpNetwork() error {
	timeout := time.Duration(self.Config.Network.BringUpTimeoutSec) * time.Second
	deadline := time.Now().Add(timeout)
	self.StartupPrint(fmt.Sprintf("waiting for network ssid=%s iface=%q timeout=%s",
		self.Config.Network.SSID, self.Config.Network.Interface, timeout))

	var ip net.IP
	for {
		var err error
		if ip, err = findIPv4(self.Config.Network.Interface); err == nil {
			break
		}
		if time.Now().After(deadline) {
			return errors.Annotatef(err, "network bring-up timeout=%s", timeout)
		}
		time.Sleep(500 * time.Millisecond)
	}

	self.netAddr = ip
	self.listenAddr = fmt.Sprintf("%s:%d", ip, self.Config.Network.ListenPort)
	if err := self.Listener.Start(self.listenAddr); err != nil {
		return errors.Annotatef(err, "listen %s", self.listenAddr)
	}
	self.StartupPrint(fmt.Sprintf("serving on http://%s", self.listenAddr))
	return nil
}

func findIPv4(ifaceName string) (net.IP, error) {
	ifs, err := net.Interfaces()
	if err != nil {
		return nil, errors.Trace(err)
	}
	for _, iface := range ifs {
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
			continue
		}
		if ifaceName != "" && iface.Name != ifaceName {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipnet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipnet.IP.To4(); ip4 != nil && !ip4.IsLoopback() {
				return ip4, nil
			}
		}
	}
	return nil, errors.Errorf("no usable IPv4 address iface=%q", ifaceName)
}

// Run is the cooperative loop: drain pending requests, tick every
// module in registration order, sleep the remainder of the quantum.
// Exits only when Alive is stopped.
func (self *Global) Run() {
	tick := time.Duration(self.Config.Node.TickIntervalMs) * time.Millisecond
	self.Log.Debugf("loop start tick=%s modules=%s", tick, strings.Join(self.Modules.Names(), ","))
	for self.Alive.IsRunning() {
		self.Listener.Poll()
		self.Modules.TickAll()

		select {
		case <-self.Alive.StopChan():
		case <-time.After(tick):
		}
	}
	self.Log.Infof("loop stop")
	self.Modules.ShutdownAll()
	self.Listener.Close()
	self.Alive.Wait()
}

func (self *Global) handleStatus(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, `node_type: %s
network_mode: CLIENT
connected: %t
address: %s
modules: %s
config_source: %s
config_degraded: %t
debug: %t
uptime: %s
goroutines: %d
`,
		self.Config.Node.Type,
		self.netAddr != nil,
		self.listenAddr,
		strings.Join(self.Modules.Names(), ","),
		self.Config.Source,
		self.Config.Degraded,
		self.Config.Node.Debug,
		time.Since(self.bootTime).Round(time.Second),
		runtime.NumGoroutine(),
	)
}

func (self *Global) handleDashboard(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	var b strings.Builder
	fmt.Fprintf(&b, `<!DOCTYPE html>
<html><head><title>%s</title>
<style>
body { font-family: sans-serif; margin: 1em; background: #f5f5f5; }
.module { background: #fff; border-radius: 4px; padding: 0.5em 1em; margin-bottom: 1em; }
.status { padding: 0.5em; margin: 0.5em 0; background: #f8f9fa; }
.control-group { display: flex; gap: 0.5em; }
</style></head><body>
<h1>%s</h1>
<p>%s | up %s</p>
`,
		self.Config.Node.Type, self.Config.Node.Type,
		self.listenAddr, time.Since(self.bootTime).Round(time.Second))

	for _, name := range self.Modules.Names() {
		if m := self.Modules.Get(name); m != nil {
			b.WriteString(m.RenderWidget())
			b.WriteString("\n")
		}
	}

	if self.Config.Node.Debug && len(self.startupLog) > 0 {
		b.WriteString(`<div class="module"><h3>Startup log</h3><pre>`)
		for _, line := range self.startupLog {
			b.WriteString(line)
			b.WriteString("\n")
		}
		b.WriteString("</pre></div>\n")
	}
	b.WriteString("</body></html>\n")
	w.Write([]byte(b.String())) //nolint:errcheck
}
