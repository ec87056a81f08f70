package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// ControllerID addresses the controller context itself rather than a view.
const ControllerID FrameID = "controller"

// FrameID identifies one view (webview) as assigned by the host.
// The zero value means the host has not assigned an id yet.
// Hosts send ids as JSON numbers or strings; both decode to the same FrameID.
type FrameID string

// UnmarshalJSON accepts numbers, strings and null.
func (id *FrameID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = FrameID(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("model: frame id %s: %w", data, err)
	}
	if i, err := n.Int64(); err == nil {
		*id = FrameID(strconv.FormatInt(i, 10))
		return nil
	}
	*id = FrameID(n.String())
	return nil
}

// String returns the id as a plain string.
func (id FrameID) String() string { return string(id) }

// Empty reports whether the host has not assigned an id.
func (id FrameID) Empty() bool { return id == "" }

// Message is the wire shape exchanged between the controller and views.
// It is also the unit carried by in-process channels.
type Message struct {
	Type         string          `json:"type"`
	SlaveID      FrameID         `json:"slaveId"`
	Value        json.RawMessage `json:"value,omitempty"`
	ExtraMessage map[string]any  `json:"extraMessage,omitempty"`
}

// NewMessage builds a Message, encoding value as its payload.
// A value that cannot be encoded is dropped; the message still carries its type.
func NewMessage(typ string, id FrameID, value any) Message {
	msg := Message{Type: typ, SlaveID: id}
	if value == nil {
		return msg
	}
	if raw, ok := value.(json.RawMessage); ok {
		msg.Value = raw
		return msg
	}
	if data, err := json.Marshal(value); err == nil {
		msg.Value = data
	}
	return msg
}

// Decode unmarshals the message payload into v.
func (m Message) Decode(v any) error {
	if len(m.Value) == 0 {
		return fmt.Errorf("model: message %q has no value", m.Type)
	}
	return json.Unmarshal(m.Value, v)
}

// RouteEvent is a host route notification delivered on the onRoute event.
type RouteEvent struct {
	RouteType  string  `json:"routeType"`
	FromID     FrameID `json:"fromId"`
	ToID       FrameID `json:"toId"`
	ToPage     string  `json:"toPage,omitempty"`
	ToTabIndex *int    `json:"toTabIndex,omitempty"`
}

// Route types reported by the host.
const (
	RouteInit         = "init"
	RouteNavigateTo   = "navigateTo"
	RouteRedirectTo   = "redirectTo"
	RouteNavigateBack = "navigateBack"
	RouteReLaunch     = "reLaunch"
	RouteSwitchTab    = "switchTab"
)

// HostResponse is the raw successful reply of a host bridge call.
type HostResponse struct {
	WvID FrameID         `json:"wvID"`
	Root string          `json:"root,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// Result is what the public navigation API resolves with.
type Result struct {
	ID  FrameID `json:"id"`
	URI string  `json:"uri"`
}

// NavigationParams are the arguments of every navigation primitive.
// Success, Fail and Complete are caller callbacks; they never cross the bridge.
type NavigationParams struct {
	URL   string `json:"url,omitempty"`
	Delta int    `json:"delta,omitempty"`
	Force bool   `json:"force,omitempty"`

	Success  func(HostResponse) `json:"-"`
	Fail     func(error)        `json:"-"`
	Complete func()             `json:"-"`
}

// InitParams describes the first page handed over by the host at AppReady.
type InitParams struct {
	PageURL        string  `json:"pageUrl"`
	SlaveID        FrameID `json:"wvID"`
	Root           string  `json:"root,omitempty"`
	PreventAppLoad bool    `json:"preventAppLoad,omitempty"`
}

// TabTap describes a tab bar tap, either raised by the host or produced by a
// completed tab switch.
type TabTap struct {
	Type     string  `json:"type"`
	WvID     FrameID `json:"wvID"`
	Index    int     `json:"index"`
	PagePath string  `json:"pagePath"`
	Text     string  `json:"text,omitempty"`
}

// PageNotFound is reported to the application when a destination is not declared.
type PageNotFound struct {
	Page        string            `json:"page"`
	Query       map[string]string `json:"query"`
	IsEntryPage bool              `json:"isEntryPage"`
}

// NodeSnapshot is a read-only view of one history entry.
type NodeSnapshot struct {
	Kind      string         `json:"kind"`
	ID        FrameID        `json:"id"`
	URI       string         `json:"uri"`
	AccessURI string         `json:"accessUri,omitempty"`
	Status    string         `json:"status"`
	Closing   bool           `json:"closing"`
	Active    int            `json:"active,omitempty"`
	Children  []NodeSnapshot `json:"children,omitempty"`
}

// SplitURL splits a page url into its path and raw query.
func SplitURL(url string) (string, string) {
	path, query, _ := strings.Cut(url, "?")
	return path, query
}
