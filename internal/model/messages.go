package model

import (
	"encoding/json"
	"time"
)

// Message types carried on the controller channels.
const (
	MsgPageLifecycle  = "PagelifeCycle"
	MsgTabItemTap     = "onTabItemTap"
	MsgShow           = "onShow"
	MsgHide           = "onHide"
	MsgAbilityMessage = "abilityMessage"
	MsgEvent          = "event"
	MsgSlaveAttached  = "slaveAttached"
	MsgSlaveLoaded    = "slaveLoaded"
	MsgInitData       = "initData"
)

// AbilityRendered is the ability message a view sends after its first render.
const AbilityRendered = "rendered"

// PageLifecycleEvent is the value of a PagelifeCycle message.
type PageLifecycleEvent struct {
	EventName string  `json:"eventName"`
	SlaveID   FrameID `json:"slaveId"`
}

// TabTapNotice is the value of an onTabItemTap message. From is "switchTab"
// when the tap was produced by a completed tab switch rather than the host.
type TabTapNotice struct {
	Event TabTap `json:"event"`
	From  string `json:"from,omitempty"`
}

// Ability is the value of an abilityMessage sent by a view.
type Ability struct {
	Type   string          `json:"type"`
	Params json.RawMessage `json:"params,omitempty"`
}

// DeveloperEvent is the value of an event message: a template-bound handler.
type DeveloperEvent struct {
	ReflectMethod string          `json:"reflectMethod"`
	Detail        json.RawMessage `json:"detail,omitempty"`
}

// LifecycleEvent is the host lifecycle notification payload.
type LifecycleEvent struct {
	LcType string          `json:"lcType"`
	Event  json.RawMessage `json:"event,omitempty"`
}

// ShowKey is the lifecycle message type that carries onShow for one view.
func ShowKey(id FrameID) string { return MsgShow + string(id) }

// Payload returns the bridge-safe part of p, stamped with the call time.
func (p NavigationParams) Payload() map[string]any {
	out := map[string]any{"startTime": time.Now().UnixMilli()}
	if p.URL != "" {
		out["url"] = p.URL
	}
	if p.Delta != 0 {
		out["delta"] = p.Delta
	}
	if p.Force {
		out["force"] = true
	}
	return out
}
