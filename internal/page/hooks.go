package page

import (
	"encoding/json"
	"net/url"

	"github.com/tinytelemetry/sepal/internal/model"
)

// Hooks is a Page built from funcs. Nil fields are no-ops, except
// ForceReLaunch which reports ErrNoHandler.
type Hooks struct {
	URI string
	ID  model.FrameID

	Load          func(query url.Values)
	Show          func(event json.RawMessage)
	Hide          func(event json.RawMessage)
	Unload        func()
	Ready         func()
	TabItemTap    func(tap model.TabTap)
	ForceReLaunch func(req ForceReLaunchRequest) (string, error)
	Event         func(name string, params json.RawMessage)
	Method        func(method string, value json.RawMessage) error
}

func (h *Hooks) OnLoad(query url.Values) {
	if h.Load != nil {
		h.Load(query)
	}
}

func (h *Hooks) OnShow(event json.RawMessage) {
	if h.Show != nil {
		h.Show(event)
	}
}

func (h *Hooks) OnHide(event json.RawMessage) {
	if h.Hide != nil {
		h.Hide(event)
	}
}

func (h *Hooks) OnUnload() {
	if h.Unload != nil {
		h.Unload()
	}
}

func (h *Hooks) OnReady() {
	if h.Ready != nil {
		h.Ready()
	}
}

func (h *Hooks) OnTabItemTap(tap model.TabTap) {
	if h.TabItemTap != nil {
		h.TabItemTap(tap)
	}
}

func (h *Hooks) OnForceReLaunch(req ForceReLaunchRequest) (string, error) {
	if h.ForceReLaunch == nil {
		return "", ErrNoHandler
	}
	return h.ForceReLaunch(req)
}

func (h *Hooks) OnEvent(name string, params json.RawMessage) {
	if h.Event != nil {
		h.Event(name, params)
	}
}

func (h *Hooks) CallMethod(method string, value json.RawMessage) error {
	if h.Method == nil {
		return ErrNoHandler
	}
	return h.Method(method, value)
}
