// Package page is the contract with the rendering collaborator: how page
// objects are created and which lifecycle hooks the controller may call.
//
// Every hook is optional. A page implements the hook interfaces it cares
// about; the invokers in this package skip the rest and recover from panics
// raised by page code.
package page

import (
	"encoding/json"
	"errors"
	"log"
	"net/url"

	"github.com/tinytelemetry/sepal/internal/model"
)

// ErrNoHandler is returned by hooks that are declared but not implemented.
var ErrNoHandler = errors.New("page: no handler")

// Page is an application page object.
type Page any

// Factory creates page objects.
type Factory interface {
	CreatePage(accessURI string, id model.FrameID, cfg model.AppConfig) Page
}

// FactoryFunc adapts a func to Factory.
type FactoryFunc func(accessURI string, id model.FrameID, cfg model.AppConfig) Page

// CreatePage implements Factory.
func (f FactoryFunc) CreatePage(accessURI string, id model.FrameID, cfg model.AppConfig) Page {
	return f(accessURI, id, cfg)
}

type Loader interface {
	OnLoad(query url.Values)
}

type Shower interface {
	OnShow(event json.RawMessage)
}

type Hider interface {
	OnHide(event json.RawMessage)
}

type Unloader interface {
	OnUnload()
}

type Readier interface {
	OnReady()
}

type TabTapper interface {
	OnTabItemTap(tap model.TabTap)
}

// ForceReLaunchRequest is offered to the current page when the host asks
// for a forced relaunch.
type ForceReLaunchRequest struct {
	HomePath string `json:"homePath"`
	PagePath string `json:"pagePath"`
}

// ForceReLauncher lets a page pick its own replacement destination.
type ForceReLauncher interface {
	OnForceReLaunch(req ForceReLaunchRequest) (string, error)
}

// EventReceiver receives named framework and environment events
// (ability messages, share button, account change).
type EventReceiver interface {
	OnEvent(name string, params json.RawMessage)
}

// MethodCaller receives developer events bound in page templates.
type MethodCaller interface {
	CallMethod(method string, value json.RawMessage) error
}

// Safely runs fn and recovers any panic. It reports whether fn returned normally.
func Safely(logger *log.Logger, what string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			if logger == nil {
				logger = log.Default()
			}
			logger.Printf("page: %s panicked: %v", what, r)
			ok = false
		}
	}()
	fn()
	return true
}

func Load(logger *log.Logger, p Page, query url.Values) {
	if h, ok := p.(Loader); ok {
		Safely(logger, "onLoad", func() { h.OnLoad(query) })
	}
}

func Show(logger *log.Logger, p Page, event json.RawMessage) {
	if h, ok := p.(Shower); ok {
		Safely(logger, "onShow", func() { h.OnShow(event) })
	}
}

func Hide(logger *log.Logger, p Page, event json.RawMessage) {
	if h, ok := p.(Hider); ok {
		Safely(logger, "onHide", func() { h.OnHide(event) })
	}
}

func Unload(logger *log.Logger, p Page) {
	if h, ok := p.(Unloader); ok {
		Safely(logger, "onUnload", h.OnUnload)
	}
}

func Ready(logger *log.Logger, p Page) {
	if h, ok := p.(Readier); ok {
		Safely(logger, "onReady", h.OnReady)
	}
}

func TabTap(logger *log.Logger, p Page, tap model.TabTap) {
	if h, ok := p.(TabTapper); ok {
		Safely(logger, "onTabItemTap", func() { h.OnTabItemTap(tap) })
	}
}

func Event(logger *log.Logger, p Page, name string, params json.RawMessage) {
	if h, ok := p.(EventReceiver); ok {
		Safely(logger, "event "+name, func() { h.OnEvent(name, params) })
	}
}

// CallMethod dispatches a developer event. Errors and panics are logged.
func CallMethod(logger *log.Logger, p Page, method string, value json.RawMessage) {
	h, ok := p.(MethodCaller)
	if !ok {
		return
	}
	Safely(logger, "method "+method, func() {
		if err := h.CallMethod(method, value); err != nil {
			if logger == nil {
				logger = log.Default()
			}
			logger.Printf("page: method %s: %v", method, err)
		}
	})
}

// ForceReLaunch asks p for a replacement destination. It returns ok=false
// when p has no handler, declines with an empty path, errors or panics.
func ForceReLaunch(logger *log.Logger, p Page, req ForceReLaunchRequest) (dest string, ok bool) {
	h, isHandler := p.(ForceReLauncher)
	if !isHandler {
		return "", false
	}
	var err error
	if !Safely(logger, "onForceReLaunch", func() { dest, err = h.OnForceReLaunch(req) }) {
		return "", false
	}
	if err != nil || dest == "" {
		return "", false
	}
	return dest, true
}
