// Package listener is the node's shared HTTP surface. Inbound requests
// are parked until the supervisor loop calls Poll(), so every handler
// runs on the single cooperative thread and may touch module state
// without locking.
package listener

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/juju/errors"
	"github.com/wicd/sensornode/log2"
)

const pendingDepth = 16

type HandlerFunc func(http.ResponseWriter, *http.Request)

type pending struct {
	w    http.ResponseWriter
	r    *http.Request
	done chan struct{}
}

type Listener struct {
	log    *log2.Log
	routes map[string]map[string]HandlerFunc // path -> method -> handler
	pend   chan pending
	stopch chan struct{}
	srv    *http.Server
	ln     net.Listener
}

func New(log *log2.Log) *Listener {
	return &Listener{
		log:    log,
		routes: make(map[string]map[string]HandlerFunc),
		pend:   make(chan pending, pendingDepth),
		stopch: make(chan struct{}),
	}
}

// HandleFunc binds method+path to h. Existing binding for the same
// method+path is a code error.
func (lst *Listener) HandleFunc(method, path string, h HandlerFunc) {
	byMethod := lst.routes[path]
	if byMethod == nil {
		byMethod = make(map[string]HandlerFunc)
		lst.routes[path] = byMethod
	}
	if _, ok := byMethod[method]; ok {
		lst.log.Fatalf("code error duplicate route %s %s", method, path)
	}
	byMethod[method] = h
}

// Start binds the TCP listener and begins accepting in background.
// Requests are not served until the owner polls.
func (lst *Listener) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Annotatef(err, "listen addr=%s", addr)
	}
	lst.ln = ln
	lst.srv = &http.Server{
		Handler:     lst,
		ReadTimeout: 10 * time.Second,
	}
	go func() {
		if serr := lst.srv.Serve(ln); serr != nil && serr != http.ErrServerClosed {
			lst.log.Errorf("http serve: %v", serr)
		}
	}()
	lst.log.Infof("listening on http://%s/", ln.Addr())
	return nil
}

func (lst *Listener) Addr() net.Addr {
	if lst.ln == nil {
		return nil
	}
	return lst.ln.Addr()
}

// ServeHTTP runs on the http goroutine: park the request and wait for
// the loop thread to execute it.
func (lst *Listener) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	p := pending{w: w, r: r, done: make(chan struct{})}
	select {
	case lst.pend <- p:
	case <-lst.stopch:
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	select {
	case <-p.done:
	case <-lst.stopch:
	}
}

// Poll drains every request parked so far and dispatches them in
// arrival order on the caller's thread. Returns the number served.
func (lst *Listener) Poll() int {
	n := 0
	for {
		select {
		case p := <-lst.pend:
			lst.dispatch(p.w, p.r)
			close(p.done)
			n++
		default:
			return n
		}
	}
}

func (lst *Listener) dispatch(w http.ResponseWriter, r *http.Request) {
	byMethod, ok := lst.routes[r.URL.Path]
	if !ok {
		http.NotFound(w, r)
		return
	}
	h, ok := byMethod[r.Method]
	if !ok {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusMethodNotAllowed)
		fmt.Fprintf(w, "method %s not allowed\n", r.Method)
		return
	}
	lst.log.Debugf("http %s %s", r.Method, r.URL.Path)
	h(w, r)
}

func (lst *Listener) Close() {
	close(lst.stopch)
	if lst.srv != nil {
		_ = lst.srv.Close()
	}
}
