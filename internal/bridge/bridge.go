// Package bridge defines the contract between the controller and the native
// host that owns the actual views.
package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/tinytelemetry/sepal/internal/model"
)

// Host operations understood by every host implementation.
const (
	OpNavigateTo   = "navigateTo"
	OpRedirectTo   = "redirectTo"
	OpReLaunch     = "reLaunch"
	OpSwitchTab    = "switchTab"
	OpNavigateBack = "navigateBack"
	OpLoadResource = "loadResource"
)

// Host-originated events.
const (
	EventRoute         = "onRoute"
	EventAppReady      = "AppReady"
	EventLifecycle     = "lifecycle"
	EventMessage       = "message"
	EventShareButton   = "sharebtn"
	EventAccountChange = "accountChange"
	EventBackToHome    = "backtohome"
	EventTabItemTap    = "onTabItemTap"
	EventForceReLaunch = "onForceReLaunch"
)

// EventHandler receives the raw payload of a host event.
type EventHandler func(payload json.RawMessage)

// Host is the native capability surface.
//
// Invoke blocks until the host settles the operation. Handlers registered
// with Bind persist for the life of the process and are called in the order
// the host raised the events.
type Host interface {
	Invoke(ctx context.Context, op string, params any) (model.HostResponse, error)
	Bind(event string, handler EventHandler)
}

// HostError is a failed host operation. Payload holds the raw failure body.
type HostError struct {
	Op      string
	Code    int
	Message string
	Payload json.RawMessage
}

func (e *HostError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("bridge: %s failed (code %d)", e.Op, e.Code)
	}
	return fmt.Sprintf("bridge: %s failed: %s", e.Op, e.Message)
}

// Call invokes op on host with the bridge-safe part of params and then runs
// the caller callbacks. Callback panics are logged and never change the
// returned result.
func Call(ctx context.Context, host Host, op string, params model.NavigationParams, payload any) (model.HostResponse, error) {
	res, err := host.Invoke(ctx, op, payload)
	Settle(op, params, res, err)
	return res, err
}

// Settle runs the caller callbacks for an operation outcome.
func Settle(op string, params model.NavigationParams, res model.HostResponse, err error) {
	if err != nil {
		if params.Fail != nil {
			guard(op, "fail", func() { params.Fail(err) })
		}
	} else if params.Success != nil {
		guard(op, "success", func() { params.Success(res) })
	}
	if params.Complete != nil {
		guard(op, "complete", params.Complete)
	}
}

func guard(op, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("bridge: %s: %s callback panicked: %v", op, name, r)
		}
	}()
	fn()
}
