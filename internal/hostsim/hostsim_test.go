package hostsim

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log"
	"sync"
	"testing"

	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/socketrpc"
)

type emitted struct {
	event   string
	payload json.RawMessage
}

type fakeConn struct {
	mu       sync.Mutex
	handlers map[string]socketrpc.Handler
	events   []emitted
}

func newFakeConn() *fakeConn {
	return &fakeConn{handlers: make(map[string]socketrpc.Handler)}
}

func (c *fakeConn) Handle(op string, h socketrpc.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[op] = h
}

func (c *fakeConn) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, emitted{event: event, payload: data})
	return nil
}

func (c *fakeConn) call(t *testing.T, op string, params any) (map[string]any, error) {
	t.Helper()
	raw, _ := json.Marshal(params)
	c.mu.Lock()
	h := c.handlers[op]
	c.mu.Unlock()
	if h == nil {
		t.Fatalf("no handler for %s", op)
	}
	res, err := h(context.Background(), raw)
	if err != nil {
		return nil, err
	}
	data, _ := json.Marshal(res)
	out := map[string]any{}
	_ = json.Unmarshal(data, &out)
	return out, nil
}

func (c *fakeConn) last(t *testing.T, event string) json.RawMessage {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.events) - 1; i >= 0; i-- {
		if c.events[i].event == event {
			return c.events[i].payload
		}
	}
	t.Fatalf("no %s event emitted", event)
	return nil
}

func lastRoute(t *testing.T, c *fakeConn) model.RouteEvent {
	t.Helper()
	var ev model.RouteEvent
	if err := json.Unmarshal(c.last(t, bridge.EventRoute), &ev); err != nil {
		t.Fatalf("decode route: %v", err)
	}
	return ev
}

func tabConfig() model.AppConfig {
	return model.AppConfig{
		Pages: []string{"pages/home", "pages/list", "pages/detail"},
		TabBar: &model.TabBar{List: []model.TabItem{
			{PagePath: "pages/home", Text: "Home"},
			{PagePath: "pages/list", Text: "List"},
		}},
	}
}

func newHost(t *testing.T) (*Host, *fakeConn) {
	t.Helper()
	conn := newFakeConn()
	h := New(conn, tabConfig(), log.New(io.Discard, "", 0))
	h.Install()
	return h, conn
}

func stackURLs(h *Host) []string {
	var out []string
	for _, v := range h.Stack() {
		out = append(out, v.URL)
	}
	return out
}

func TestBootEmitsAppReadyAndShow(t *testing.T) {
	t.Parallel()
	h, conn := newHost(t)

	v, err := h.Boot("")
	if err != nil {
		t.Fatalf("Boot: %v", err)
	}
	if v.ID != 1 || v.URL != "pages/home" {
		t.Fatalf("boot view = %+v", v)
	}

	var ready struct {
		AppConfig model.AppConfig `json:"appConfig"`
		PageURL   string          `json:"pageUrl"`
		WvID      model.FrameID   `json:"wvID"`
	}
	if err := json.Unmarshal(conn.last(t, bridge.EventAppReady), &ready); err != nil {
		t.Fatalf("decode AppReady: %v", err)
	}
	if ready.PageURL != "pages/home" || ready.WvID != "1" || len(ready.AppConfig.Pages) != 3 {
		t.Fatalf("AppReady = %+v", ready)
	}

	var lc model.LifecycleEvent
	if err := json.Unmarshal(conn.last(t, bridge.EventLifecycle), &lc); err != nil {
		t.Fatalf("decode lifecycle: %v", err)
	}
	if lc.LcType != model.MsgShow || string(lc.Event) != `{"wvID":1}` {
		t.Fatalf("lifecycle = %+v (%s)", lc, lc.Event)
	}
}

func TestNavigationOperations(t *testing.T) {
	t.Parallel()
	h, conn := newHost(t)
	if _, err := h.Boot("pages/home"); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	res, err := conn.call(t, bridge.OpNavigateTo, map[string]any{"url": "/pages/detail?id=3"})
	if err != nil || res["wvID"] != float64(2) {
		t.Fatalf("navigateTo = %v, %v", res, err)
	}
	if ev := lastRoute(t, conn); ev.RouteType != model.RouteNavigateTo || ev.FromID != "1" || ev.ToID != "2" || ev.ToPage != "pages/detail" {
		t.Fatalf("route = %+v", ev)
	}

	if _, err := conn.call(t, bridge.OpRedirectTo, map[string]any{"url": "/pages/list"}); err != nil {
		t.Fatalf("redirectTo: %v", err)
	}
	if got := stackURLs(h); len(got) != 2 || got[1] != "pages/list" {
		t.Fatalf("stack after redirect = %v", got)
	}

	if _, err := conn.call(t, bridge.OpNavigateBack, map[string]any{"delta": 5}); err != nil {
		t.Fatalf("navigateBack: %v", err)
	}
	if ev := lastRoute(t, conn); ev.RouteType != model.RouteNavigateBack || ev.ToID != "1" {
		t.Fatalf("back route = %+v", ev)
	}
	if _, err := conn.call(t, bridge.OpNavigateBack, map[string]any{}); err == nil {
		t.Fatal("navigateBack on a single view should fail")
	}

	res, err = conn.call(t, bridge.OpReLaunch, map[string]any{"url": "/pages/detail", "force": true})
	if err != nil || res["wvID"] != float64(4) {
		t.Fatalf("reLaunch = %v, %v", res, err)
	}
	if got := stackURLs(h); len(got) != 1 || got[0] != "pages/detail" {
		t.Fatalf("stack after relaunch = %v", got)
	}
}

func TestSwitchTabReusesTabViews(t *testing.T) {
	t.Parallel()
	h, conn := newHost(t)
	if _, err := h.Boot("pages/home"); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	res, err := conn.call(t, bridge.OpSwitchTab, map[string]any{"url": "/pages/list"})
	if err != nil || res["wvID"] != float64(2) {
		t.Fatalf("switchTab = %v, %v", res, err)
	}
	ev := lastRoute(t, conn)
	if ev.RouteType != model.RouteSwitchTab || ev.ToTabIndex == nil || *ev.ToTabIndex != 1 {
		t.Fatalf("route = %+v", ev)
	}

	res, err = conn.call(t, bridge.OpSwitchTab, map[string]any{"url": "/pages/home"})
	if err != nil || res["wvID"] != float64(1) {
		t.Fatalf("switch back to the boot tab should reuse view 1, got %v, %v", res, err)
	}

	_, err = conn.call(t, bridge.OpSwitchTab, map[string]any{"url": "/pages/detail"})
	var hostErr *bridge.HostError
	if !errors.As(err, &hostErr) {
		t.Fatalf("switchTab to a non-tab err = %v, want HostError", err)
	}
}

func TestFailNext(t *testing.T) {
	t.Parallel()
	h, conn := newHost(t)
	h.FailNext(bridge.OpNavigateTo, "quota")

	_, err := conn.call(t, bridge.OpNavigateTo, map[string]any{"url": "/pages/list"})
	var hostErr *bridge.HostError
	if !errors.As(err, &hostErr) || hostErr.Message != "quota" {
		t.Fatalf("err = %v, want scripted HostError", err)
	}
	if _, err := conn.call(t, bridge.OpNavigateTo, map[string]any{"url": "/pages/list"}); err != nil {
		t.Fatalf("second call should succeed: %v", err)
	}
}

func TestUserEvents(t *testing.T) {
	t.Parallel()
	h, conn := newHost(t)

	if err := h.TapTab(0); !errors.Is(err, ErrNoView) {
		t.Fatalf("TapTab without views err = %v", err)
	}
	if _, err := h.Boot("pages/home"); err != nil {
		t.Fatalf("Boot: %v", err)
	}

	if err := h.TapTab(1); err != nil {
		t.Fatalf("TapTab: %v", err)
	}
	var tap model.TabTap
	_ = json.Unmarshal(conn.last(t, bridge.EventTabItemTap), &tap)
	if tap.Index != 1 || tap.PagePath != "pages/list" || tap.WvID != "1" {
		t.Fatalf("tap = %+v", tap)
	}
	if err := h.TapTab(7); err == nil {
		t.Fatal("TapTab out of range should fail")
	}

	if err := h.Rendered(1); err != nil {
		t.Fatalf("Rendered: %v", err)
	}
	var msg model.Message
	_ = json.Unmarshal(conn.last(t, bridge.EventMessage), &msg)
	if msg.Type != model.MsgAbilityMessage || msg.SlaveID != "1" {
		t.Fatalf("message = %+v", msg)
	}

	if err := h.ForceReLaunch(); err != nil {
		t.Fatalf("ForceReLaunch: %v", err)
	}
	if err := h.BackToHome(); err != nil {
		t.Fatalf("BackToHome: %v", err)
	}
	if err := h.Back(1); err == nil {
		t.Fatal("Back with one view should fail")
	}
}
