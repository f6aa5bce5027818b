// Package module defines the capability contract every node subsystem
// implements, and the registry owned by the supervisor.
package module

import (
	"github.com/juju/errors"
	"github.com/wicd/sensornode/internal/listener"
)

// Module is the contract for pluggable subsystems. All four methods run
// on the cooperative loop thread and must return quickly; errors are
// converted to internal status, never propagated out of Tick.
type Module interface {
	// BindRoutes adds the module's control endpoints to the shared listener.
	BindRoutes(*listener.Listener)
	// Tick is called once per loop iteration, in registration order.
	Tick()
	// RenderWidget returns an HTML fragment for the node dashboard.
	RenderWidget() string
	// Shutdown releases resources; called once when the node stops.
	Shutdown()
}

// Registry maps unique names to modules, keeping registration order
// because it drives Tick ordering.
type Registry struct {
	lst    *listener.Listener
	order  []string
	byName map[string]Module
}

func NewRegistry(lst *listener.Listener) *Registry {
	return &Registry{
		lst:    lst,
		byName: make(map[string]Module),
	}
}

// Register binds m's routes, then stores it under name. A duplicate
// name is an error: silently replacing would leave the old module's
// routes bound to a dead owner.
func (reg *Registry) Register(name string, m Module) error {
	if _, ok := reg.byName[name]; ok {
		return errors.Errorf("module %s already registered", name)
	}
	m.BindRoutes(reg.lst)
	reg.byName[name] = m
	reg.order = append(reg.order, name)
	return nil
}

func (reg *Registry) Get(name string) Module { return reg.byName[name] }

func (reg *Registry) Names() []string {
	names := make([]string, len(reg.order))
	copy(names, reg.order)
	return names
}

func (reg *Registry) Len() int { return len(reg.order) }

func (reg *Registry) TickAll() {
	for _, name := range reg.order {
		reg.byName[name].Tick()
	}
}

// ShutdownAll stops modules in reverse registration order so consumers
// go down before their providers.
func (reg *Registry) ShutdownAll() {
	for i := len(reg.order) - 1; i >= 0; i-- {
		reg.byName[reg.order[i]].Shutdown()
	}
}
