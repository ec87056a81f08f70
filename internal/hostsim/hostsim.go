// Package hostsim is a scripted native host. It answers controller
// operations with fresh view ids, keeps a simulated view stack and raises
// the events a real host would (onRoute, lifecycle, AppReady, ...).
package hostsim

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"sync"

	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/socketrpc"
)

// ErrNoView is returned when an action needs a view and the stack is empty.
var ErrNoView = errors.New("hostsim: no view")

// Conn is the host end of the bridge. *socketrpc.Client satisfies it.
type Conn interface {
	Handle(op string, h socketrpc.Handler)
	Emit(event string, payload any) error
}

// View is one simulated view.
type View struct {
	ID  int
	URL string
}

// Host simulates the native side of the bridge.
type Host struct {
	conn   Conn
	cfg    model.AppConfig
	logger *log.Logger

	mu       sync.Mutex
	nextID   int
	stack    []View
	tabViews map[int]int
	fail     map[string]string
}

// New creates a Host speaking over conn. View ids start at 1.
func New(conn Conn, cfg model.AppConfig, logger *log.Logger) *Host {
	if logger == nil {
		logger = log.Default()
	}
	return &Host{
		conn:     conn,
		cfg:      cfg,
		logger:   logger,
		nextID:   1,
		tabViews: make(map[int]int),
		fail:     make(map[string]string),
	}
}

// Install registers the host operation handlers on the connection.
func (h *Host) Install() {
	h.conn.Handle(bridge.OpNavigateTo, h.handle(bridge.OpNavigateTo, h.navigateTo))
	h.conn.Handle(bridge.OpRedirectTo, h.handle(bridge.OpRedirectTo, h.redirectTo))
	h.conn.Handle(bridge.OpReLaunch, h.handle(bridge.OpReLaunch, h.reLaunch))
	h.conn.Handle(bridge.OpSwitchTab, h.handle(bridge.OpSwitchTab, h.switchTab))
	h.conn.Handle(bridge.OpNavigateBack, h.handle(bridge.OpNavigateBack, h.navigateBack))
	h.conn.Handle(bridge.OpLoadResource, func(_ context.Context, params json.RawMessage) (any, error) {
		h.logger.Printf("hostsim: loadResource %s", params)
		return struct{}{}, nil
	})
}

// FailNext makes the next call of op fail with message.
func (h *Host) FailNext(op, message string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.fail[op] = message
}

// Stack returns the simulated views, bottom first.
func (h *Host) Stack() []View {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]View(nil), h.stack...)
}

type navParams struct {
	URL   string `json:"url"`
	Delta int    `json:"delta"`
	Force bool   `json:"force"`
}

type reply struct {
	WvID int `json:"wvID,omitempty"`
}

type opFunc func(p navParams) (reply, model.RouteEvent, error)

func (h *Host) handle(op string, fn opFunc) socketrpc.Handler {
	return func(_ context.Context, raw json.RawMessage) (any, error) {
		var p navParams
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &p); err != nil {
				return nil, &socketrpc.RPCError{Code: socketrpc.CodeInvalidParams, Message: err.Error()}
			}
		}
		h.mu.Lock()
		msg, failing := h.fail[op]
		delete(h.fail, op)
		h.mu.Unlock()
		if failing {
			return nil, &bridge.HostError{
				Op:      op,
				Message: msg,
				Payload: json.RawMessage(strconv.Quote(op + ":fail " + msg)),
			}
		}

		res, route, err := fn(p)
		if err != nil {
			return nil, err
		}
		h.logger.Printf("hostsim: %s %s -> %d", op, p.URL, res.WvID)
		if route.RouteType != "" {
			if err := h.conn.Emit(bridge.EventRoute, route); err != nil {
				h.logger.Printf("hostsim: emit route: %v", err)
			}
		}
		return res, nil
	}
}

func (h *Host) navigateTo(p navParams) (reply, model.RouteEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.topLocked()
	v := h.pushLocked(p.URL)
	return reply{WvID: v.ID}, route(model.RouteNavigateTo, from, v), nil
}

func (h *Host) redirectTo(p navParams) (reply, model.RouteEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.topLocked()
	if len(h.stack) > 0 {
		h.stack = h.stack[:len(h.stack)-1]
	}
	v := h.pushLocked(p.URL)
	return reply{WvID: v.ID}, route(model.RouteRedirectTo, from, v), nil
}

func (h *Host) reLaunch(p navParams) (reply, model.RouteEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.topLocked()
	h.stack = nil
	clear(h.tabViews)
	v := h.pushLocked(p.URL)
	if idx := h.tabIndex(p.URL); idx >= 0 {
		h.tabViews[idx] = v.ID
	}
	return reply{WvID: v.ID}, route(model.RouteReLaunch, from, v), nil
}

func (h *Host) switchTab(p navParams) (reply, model.RouteEvent, error) {
	idx := h.tabIndex(p.URL)
	if idx < 0 {
		return reply{}, model.RouteEvent{}, &bridge.HostError{Op: bridge.OpSwitchTab, Message: "not a tab: " + p.URL}
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	from := h.topLocked()
	id, ok := h.tabViews[idx]
	if !ok {
		id = h.nextID
		h.nextID++
		h.tabViews[idx] = id
	}
	v := View{ID: id, URL: strings.TrimPrefix(p.URL, "/")}
	h.stack = []View{v}
	ev := route(model.RouteSwitchTab, from, v)
	ev.ToTabIndex = &idx
	return reply{WvID: id}, ev, nil
}

func (h *Host) navigateBack(p navParams) (reply, model.RouteEvent, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.stack) < 2 {
		return reply{}, model.RouteEvent{}, &bridge.HostError{Op: bridge.OpNavigateBack, Message: "no page to go back to"}
	}
	from := h.topLocked()
	delta := min(max(p.Delta, 1), len(h.stack)-1)
	h.stack = h.stack[:len(h.stack)-delta]
	to := h.stack[len(h.stack)-1]
	return reply{}, route(model.RouteNavigateBack, from, to), nil
}

// Boot raises AppReady for pageURL, or the home page when empty, and shows it.
func (h *Host) Boot(pageURL string) (View, error) {
	if pageURL == "" {
		pageURL = h.cfg.Home()
	}
	h.mu.Lock()
	h.stack = nil
	v := h.pushLocked(pageURL)
	if idx := h.tabIndex(pageURL); idx >= 0 {
		h.tabViews[idx] = v.ID
	}
	cfg := h.cfg
	h.mu.Unlock()

	err := h.conn.Emit(bridge.EventAppReady, map[string]any{
		"appConfig": cfg,
		"pageUrl":   pageURL,
		"wvID":      v.ID,
	})
	if err != nil {
		return v, fmt.Errorf("hostsim: emit AppReady: %w", err)
	}
	return v, h.Show(v.ID)
}

// Show raises onShow for view id.
func (h *Host) Show(id int) error {
	return h.lifecycle(model.MsgShow, id)
}

// Hide raises onHide for view id.
func (h *Host) Hide(id int) error {
	return h.lifecycle(model.MsgHide, id)
}

func (h *Host) lifecycle(lcType string, id int) error {
	return h.conn.Emit(bridge.EventLifecycle, map[string]any{
		"lcType": lcType,
		"event":  map[string]any{"wvID": id},
	})
}

// Rendered reports that view id finished its first render.
func (h *Host) Rendered(id int) error {
	return h.conn.Emit(bridge.EventMessage, model.NewMessage(model.MsgAbilityMessage, model.FrameID(strconv.Itoa(id)),
		model.Ability{Type: model.AbilityRendered}))
}

// Back simulates the system back button: the host pops its own views and
// tells the controller.
func (h *Host) Back(delta int) error {
	_, ev, err := h.navigateBack(navParams{Delta: delta})
	if err != nil {
		return err
	}
	return h.conn.Emit(bridge.EventRoute, ev)
}

// TapTab raises onTabItemTap for tab index on the top view.
func (h *Host) TapTab(index int) error {
	tabs := h.cfg.Tabs()
	if index < 0 || index >= len(tabs) {
		return fmt.Errorf("hostsim: no tab %d", index)
	}
	top, ok := h.Top()
	if !ok {
		return ErrNoView
	}
	return h.conn.Emit(bridge.EventTabItemTap, model.TabTap{
		Type:     model.MsgTabItemTap,
		WvID:     model.FrameID(strconv.Itoa(top.ID)),
		Index:    index,
		PagePath: tabs[index].PagePath,
		Text:     tabs[index].Text,
	})
}

// BackToHome raises the home button event for the top view.
func (h *Host) BackToHome() error {
	top, ok := h.Top()
	if !ok {
		return ErrNoView
	}
	return h.conn.Emit(bridge.EventBackToHome, map[string]any{"url": top.URL, "from": "menu"})
}

// ForceReLaunch asks the controller to relaunch from the top view.
func (h *Host) ForceReLaunch() error {
	top, ok := h.Top()
	if !ok {
		return ErrNoView
	}
	return h.conn.Emit(bridge.EventForceReLaunch, map[string]any{
		"slaveId":  top.ID,
		"pagePath": top.URL,
	})
}

// Top returns the topmost simulated view.
func (h *Host) Top() (View, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.stack) == 0 {
		return View{}, false
	}
	return h.stack[len(h.stack)-1], true
}

func (h *Host) topLocked() View {
	if len(h.stack) == 0 {
		return View{}
	}
	return h.stack[len(h.stack)-1]
}

func (h *Host) pushLocked(url string) View {
	v := View{ID: h.nextID, URL: strings.TrimPrefix(url, "/")}
	h.nextID++
	h.stack = append(h.stack, v)
	return v
}

func (h *Host) tabIndex(url string) int {
	path, _ := model.SplitURL(strings.TrimPrefix(url, "/"))
	for i, tab := range h.cfg.Tabs() {
		if strings.TrimPrefix(tab.PagePath, "/") == path {
			return i
		}
	}
	return -1
}

func route(typ string, from, to View) model.RouteEvent {
	toPage, _ := model.SplitURL(to.URL)
	return model.RouteEvent{
		RouteType: typ,
		FromID:    frameID(from.ID),
		ToID:      frameID(to.ID),
		ToPage:    toPage,
	}
}

func frameID(id int) model.FrameID {
	if id == 0 {
		return ""
	}
	return model.FrameID(strconv.Itoa(id))
}
