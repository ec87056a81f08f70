// Package bridgetest provides a scriptable in-memory bridge.Host.
package bridgetest

import (
	"context"
	"encoding/json"
	"strconv"
	"sync"

	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/model"
)

// Responder answers one host operation.
type Responder func(params any) (model.HostResponse, error)

// Call records one Invoke.
type Call struct {
	Op     string
	Params any
}

// Host is a fake host. Navigation operations without a scripted responder
// succeed with a fresh numeric view id; other operations succeed empty.
type Host struct {
	mu         sync.Mutex
	responders map[string]Responder
	handlers   map[string][]bridge.EventHandler
	calls      []Call
	nextID     int
}

// New returns a Host whose generated view ids start at 100.
func New() *Host {
	return &Host{
		responders: make(map[string]Responder),
		handlers:   make(map[string][]bridge.EventHandler),
		nextID:     100,
	}
}

// On scripts the reply for op.
func (h *Host) On(op string, fn Responder) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.responders[op] = fn
}

// Fail scripts op to fail with a HostError.
func (h *Host) Fail(op, message string) {
	h.On(op, func(any) (model.HostResponse, error) {
		return model.HostResponse{}, &bridge.HostError{Op: op, Message: message}
	})
}

// Invoke implements bridge.Host.
func (h *Host) Invoke(ctx context.Context, op string, params any) (model.HostResponse, error) {
	h.mu.Lock()
	h.calls = append(h.calls, Call{Op: op, Params: params})
	fn := h.responders[op]
	h.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return model.HostResponse{}, err
	}
	if fn != nil {
		return fn(params)
	}
	switch op {
	case bridge.OpNavigateTo, bridge.OpRedirectTo, bridge.OpReLaunch, bridge.OpSwitchTab:
		return model.HostResponse{WvID: h.NextID()}, nil
	}
	return model.HostResponse{}, nil
}

// NextID allocates a view id the same way unscripted operations do.
func (h *Host) NextID() model.FrameID {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return model.FrameID(strconv.Itoa(h.nextID))
}

// Bind implements bridge.Host.
func (h *Host) Bind(event string, handler bridge.EventHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handlers[event] = append(h.handlers[event], handler)
}

// Bound returns how many handlers are registered for event.
func (h *Host) Bound(event string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.handlers[event])
}

// Emit raises event synchronously on every bound handler.
func (h *Host) Emit(event string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		panic("bridgetest: marshal payload: " + err.Error())
	}
	h.mu.Lock()
	handlers := append([]bridge.EventHandler(nil), h.handlers[event]...)
	h.mu.Unlock()
	for _, fn := range handlers {
		fn(data)
	}
}

// Calls returns a copy of every recorded Invoke.
func (h *Host) Calls() []Call {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Call(nil), h.calls...)
}

// Count returns how many times op was invoked.
func (h *Host) Count(op string) int {
	n := 0
	for _, c := range h.Calls() {
		if c.Op == op {
			n++
		}
	}
	return n
}

// Resources returns the uris passed to loadResource, in call order.
func (h *Host) Resources() []string {
	var out []string
	for _, c := range h.Calls() {
		if c.Op != bridge.OpLoadResource {
			continue
		}
		if p, ok := c.Params.(map[string]any); ok {
			if uri, ok := p["uri"].(string); ok {
				out = append(out, uri)
			}
		}
	}
	return out
}
