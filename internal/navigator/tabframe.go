package navigator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/tinytelemetry/sepal/internal/app"
	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/model"
)

// ErrTabNotFound is returned when a tab switch names no declared tab.
var ErrTabNotFound = errors.New("navigator: tab not found")

// TabFrame holds one Frame per declared tab. Inactive children stay alive;
// identity queries delegate to the active child.
type TabFrame struct {
	app  *app.Context
	list []model.TabItem

	mu       sync.Mutex
	children []*Frame
	active   int
	closing  bool
	status   Status
}

// NewTabFrame creates a tab frame with active selected. An out of range
// index selects the first tab.
func NewTabFrame(ac *app.Context, list []model.TabItem, active int) *TabFrame {
	t := &TabFrame{app: ac, list: append([]model.TabItem(nil), list...)}
	t.children = t.build()
	if active < 0 || active >= len(t.children) {
		active = 0
	}
	t.active = active
	return t
}

func (t *TabFrame) build() []*Frame {
	out := make([]*Frame, len(t.list))
	for i, item := range t.list {
		out[i] = NewFrame(t.app, strings.TrimPrefix(item.PagePath, "/"), "")
	}
	return out
}

// Current returns the active child.
func (t *TabFrame) Current() *Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.children[t.active]
}

// Active returns the active child index.
func (t *TabFrame) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.active
}

func (t *TabFrame) ID() model.FrameID { return t.Current().ID() }
func (t *TabFrame) URI() string       { return t.Current().URI() }
func (t *TabFrame) AccessURI() string { return t.Current().AccessURI() }

func (t *TabFrame) Frames() []*Frame {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]*Frame(nil), t.children...)
}

func (t *TabFrame) Closing() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closing
}

func (t *TabFrame) SetClosing(v bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closing = v
}

// Matches reports whether any child matches tag.
func (t *TabFrame) Matches(tag string) bool { return t.FindChild(tag) != nil }

func (t *TabFrame) FindChild(tag string) *Frame {
	if i := t.FindChildIndex(tag); i >= 0 {
		return t.Frames()[i]
	}
	return nil
}

// FindChildIndex returns the index of the first child matching tag, or -1.
func (t *TabFrame) FindChildIndex(tag string) int {
	tag = strings.TrimPrefix(tag, "/")
	for i, child := range t.Frames() {
		if child.Matches(tag) {
			return i
		}
	}
	return -1
}

func (t *TabFrame) indexByID(id model.FrameID) int {
	if id == "" {
		return -1
	}
	for i, child := range t.Frames() {
		if child.ID() == id {
			return i
		}
	}
	return -1
}

func (t *TabFrame) setActive(i int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.active = i
}

// OnSwitchTab applies a host switchTab route. The target is resolved by id,
// then by tab index, then by page path.
func (t *TabFrame) OnSwitchTab(ctx context.Context, ev model.RouteEvent) (model.TabTap, error) {
	idx := t.indexByID(ev.ToID)
	if idx < 0 {
		switch {
		case ev.ToTabIndex != nil:
			idx = *ev.ToTabIndex
		case ev.ToPage != "":
			idx = t.FindChildIndex(ev.ToPage)
		}
	}
	children := t.Frames()
	if idx < 0 || idx >= len(children) {
		return model.TabTap{}, fmt.Errorf("%w: id=%q page=%q", ErrTabNotFound, ev.ToID, ev.ToPage)
	}
	child := children[idx]
	t.setActive(idx)
	if ev.ToID != "" {
		child.SetID(ev.ToID)
	}
	if err := child.OnEnqueue(ctx); err != nil {
		return model.TabTap{}, err
	}
	item := t.list[idx]
	return model.TabTap{
		Type:     model.MsgTabItemTap,
		WvID:     child.ID(),
		Index:    idx,
		PagePath: item.PagePath,
		Text:     item.Text,
	}, nil
}

// SwitchTab asks the host to show another tab.
func (t *TabFrame) SwitchTab(ctx context.Context, params model.NavigationParams) (model.HostResponse, error) {
	res, err := bridge.Call(ctx, t.app.Host, bridge.OpSwitchTab, params, params.Payload())
	if err != nil {
		return res, fmt.Errorf("navigator: switch tab %s: %w", params.URL, err)
	}
	return res, nil
}

func (t *TabFrame) Init(ctx context.Context, p model.InitParams) error {
	return t.Current().Init(ctx, p)
}

func (t *TabFrame) Open(ctx context.Context, params model.NavigationParams) (model.HostResponse, error) {
	t.mu.Lock()
	t.status = StatusCreating
	t.mu.Unlock()
	res, err := t.Current().Open(ctx, params)
	if err != nil {
		return res, err
	}
	t.mu.Lock()
	t.status = StatusCreated
	t.mu.Unlock()
	return res, nil
}

func (t *TabFrame) Redirect(ctx context.Context, params model.NavigationParams) (model.HostResponse, error) {
	return t.Current().Redirect(ctx, params)
}

// ReLaunch closes every child, rebuilds them as fresh frames and relaunches
// the one matching params.URL.
func (t *TabFrame) ReLaunch(ctx context.Context, params model.NavigationParams) (model.HostResponse, error) {
	target, _ := model.SplitURL(strings.TrimPrefix(params.URL, "/"))
	idx := -1
	for i, item := range t.list {
		if strings.TrimPrefix(item.PagePath, "/") == target {
			idx = i
			break
		}
	}
	if idx < 0 {
		err := fmt.Errorf("%w: %s", ErrTabNotFound, params.URL)
		bridge.Settle(bridge.OpReLaunch, params, model.HostResponse{}, err)
		return model.HostResponse{}, err
	}

	for _, child := range t.Frames() {
		child.Close()
	}
	fresh := t.build()
	t.mu.Lock()
	t.children = fresh
	t.active = idx
	t.mu.Unlock()
	return fresh[idx].ReLaunch(ctx, params)
}

// Close closes every child.
func (t *TabFrame) Close() {
	for _, child := range t.Frames() {
		child.Close()
	}
	t.mu.Lock()
	t.status = StatusClosed
	t.mu.Unlock()
}

func (t *TabFrame) OnEnqueue(ctx context.Context) error {
	return t.Current().OnEnqueue(ctx)
}

func (t *TabFrame) Snapshot() model.NodeSnapshot {
	children := t.Frames()
	t.mu.Lock()
	snap := model.NodeSnapshot{
		Kind:    "tabs",
		Status:  t.status.String(),
		Closing: t.closing,
		Active:  t.active,
	}
	t.mu.Unlock()
	for _, child := range children {
		snap.Children = append(snap.Children, child.Snapshot())
	}
	cur := snap.Children[snap.Active]
	snap.ID, snap.URI, snap.AccessURI = cur.ID, cur.URI, cur.AccessURI
	return snap
}
