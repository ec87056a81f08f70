// Package navigator owns the navigation stack and the routing primitives
// that mutate it.
package navigator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/tinytelemetry/sepal/internal/app"
	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/model"
)

var (
	// ErrPageNotFound is returned when a destination is not declared.
	ErrPageNotFound = errors.New("navigator: page not found")
	// ErrEmptyHistory is returned when an operation needs a top node and the stack is empty.
	ErrEmptyHistory = errors.New("navigator: history is empty")
)

// Navigator validates destinations and performs navigation against the
// history stack and the host.
type Navigator struct {
	app     *app.Context
	history *History

	mu       sync.Mutex
	initNode Node

	routeOnce sync.Once
}

func New(ac *app.Context) *Navigator {
	return &Navigator{app: ac, history: NewHistory()}
}

func (n *Navigator) History() *History { return n.history }

// InitNode returns the node created at bootstrap or by the last relaunch.
func (n *Navigator) InitNode() Node {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.initNode
}

func (n *Navigator) setInitNode(node Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.initNode = node
}

// ResolvePath resolves p against the directory of the top node. Absolute
// paths only lose their leading slash. A relative path climbing above the
// root is clamped at the root.
func (n *Navigator) ResolvePath(p string) string {
	if strings.HasPrefix(p, "/") {
		return strings.TrimPrefix(p, "/")
	}
	rel, query := model.SplitURL(p)

	var segs []string
	if top := n.history.Top(); top != nil {
		dir := top.URI()
		if i := strings.LastIndex(dir, "/"); i >= 0 {
			dir = dir[:i]
		} else {
			dir = ""
		}
		for _, s := range strings.Split(dir, "/") {
			if s != "" {
				segs = append(segs, s)
			}
		}
	}
	for _, s := range strings.Split(rel, "/") {
		switch s {
		case "", ".":
		case "..":
			if len(segs) == 0 {
				n.app.Logger.Printf("navigator: navigateTo:fail url %q", p)
				continue
			}
			segs = segs[:len(segs)-1]
		default:
			segs = append(segs, s)
		}
	}
	out := strings.Join(segs, "/")
	if query != "" {
		out += "?" + query
	}
	return out
}

// CheckPageExists reports whether rawURL names a declared page, a page with
// a registered constructor, or a sub-package page. Otherwise the
// page-not-found collaborator is told and false is returned.
func (n *Navigator) CheckPageExists(rawURL string) bool {
	p, rawQuery := model.SplitURL(strings.TrimPrefix(rawURL, "/"))
	cfg := n.app.Config()
	if contains(cfg.Pages, p) {
		return true
	}
	if n.app.Known != nil && n.app.Known.Has(p) {
		return true
	}
	if contains(cfg.SubPackagePages(), p) {
		return true
	}

	query := map[string]string{}
	if values, err := url.ParseQuery(rawQuery); err == nil {
		for k := range values {
			query[k] = values.Get(k)
		}
	}
	n.app.PageNotFound(model.PageNotFound{Page: p, Query: query})
	return false
}

func (n *Navigator) notFound(op string, params model.NavigationParams) (model.Result, error) {
	err := fmt.Errorf("%w: %s", ErrPageNotFound, params.URL)
	bridge.Settle(op, params, model.HostResponse{}, err)
	return model.Result{}, err
}

func result(node Node) model.Result {
	return model.Result{ID: node.ID(), URI: node.URI()}
}

// NavigateTo opens a new frame and pushes it.
func (n *Navigator) NavigateTo(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	params.URL = n.ResolvePath(params.URL)
	if !n.CheckPageExists(params.URL) {
		return n.notFound(bridge.OpNavigateTo, params)
	}
	f := NewFrame(n.app, params.URL, "")
	res, err := f.Open(ctx, params)
	if err != nil {
		n.app.Logger.Printf("navigator: %v", err)
		return model.Result{}, err
	}
	f.SetID(res.WvID)
	n.history.Push(f)
	if err := f.OnEnqueue(ctx); err != nil {
		n.app.Logger.Printf("navigator: %v", err)
	}
	return result(f), nil
}

// RedirectTo replaces the topmost open frame in place.
func (n *Navigator) RedirectTo(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	params.URL = n.ResolvePath(params.URL)
	if !n.CheckPageExists(params.URL) {
		return n.notFound(bridge.OpRedirectTo, params)
	}
	top := n.history.TopOpen()
	if top == nil {
		bridge.Settle(bridge.OpRedirectTo, params, model.HostResponse{}, ErrEmptyHistory)
		return model.Result{}, ErrEmptyHistory
	}
	if _, err := top.Redirect(ctx, params); err != nil {
		n.app.Logger.Printf("navigator: %v", err)
		return model.Result{}, err
	}
	return result(top), nil
}

// NavigateBack asks the host to go back. The top node is marked closing
// until the host settles; the stack itself is popped by the navigateBack
// route notification.
func (n *Navigator) NavigateBack(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	top := n.history.Top()
	if top == nil {
		bridge.Settle(bridge.OpNavigateBack, params, model.HostResponse{}, ErrEmptyHistory)
		return model.Result{}, ErrEmptyHistory
	}
	if err := n.history.MarkClosing(top); err != nil {
		bridge.Settle(bridge.OpNavigateBack, params, model.HostResponse{}, err)
		return model.Result{}, err
	}
	defer top.SetClosing(false)

	delta := params.Delta
	if delta < 1 {
		delta = 1
	}
	params.Delta = delta
	target := n.history.Below(delta)

	if _, err := bridge.Call(ctx, n.app.Host, bridge.OpNavigateBack, params, params.Payload()); err != nil {
		n.app.Logger.Printf("navigator: navigate back: %v", err)
		return model.Result{}, fmt.Errorf("navigator: navigate back: %w", err)
	}
	return result(target), nil
}

// SwitchTab shows another tab of the initial tab frame and collapses every
// node pushed above it. Without a tab frame it falls back to ReLaunch.
func (n *Navigator) SwitchTab(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	params.URL = n.ResolvePath(params.URL)
	root := n.InitNode()
	if root == nil {
		bridge.Settle(bridge.OpSwitchTab, params, model.HostResponse{}, ErrEmptyHistory)
		return model.Result{}, ErrEmptyHistory
	}
	tabs, ok := root.(*TabFrame)
	if !ok {
		params.URL = "/" + params.URL
		return n.ReLaunch(ctx, params)
	}
	res, err := tabs.SwitchTab(ctx, params)
	if err != nil {
		n.app.Logger.Printf("navigator: %v", err)
		return model.Result{}, err
	}
	n.history.PopToNode(root)

	uri, _ := model.SplitURL(params.URL)
	id := res.WvID
	if child := tabs.FindChild(uri); child != nil && id == "" {
		id = child.ID()
	}
	return model.Result{ID: id, URI: uri}, nil
}

// ReLaunch resets the stack to a single node for params.URL, reusing a node
// already on the stack when one matches.
func (n *Navigator) ReLaunch(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	if params.URL == "" {
		if top := n.history.Top(); top != nil {
			params.URL = "/" + top.URI()
		}
	}
	params.URL = n.ResolvePath(params.URL)

	target := n.history.SeekNode(params.URL)
	if target == nil {
		target = n.createInitNode(params.URL)
	}
	if _, err := target.ReLaunch(ctx, params); err != nil {
		n.app.Logger.Printf("navigator: %v", err)
		return model.Result{}, err
	}
	n.setInitNode(target)
	n.history.Remove(target)
	n.history.Clear()
	n.history.Push(target)
	if err := target.OnEnqueue(ctx); err != nil {
		n.app.Logger.Printf("navigator: %v", err)
	}
	return result(target), nil
}

// createInitNode returns a TabFrame when u is one of several declared tabs,
// otherwise a plain Frame.
func (n *Navigator) createInitNode(u string) Node {
	tabs := n.app.Config().Tabs()
	p, _ := model.SplitURL(strings.TrimPrefix(u, "/"))
	idx := -1
	for i, tab := range tabs {
		if strings.TrimPrefix(tab.PagePath, "/") == p {
			idx = i
			break
		}
	}
	if len(tabs) > 1 && idx >= 0 {
		return NewTabFrame(n.app, tabs, idx)
	}
	return NewFrame(n.app, strings.TrimPrefix(u, "/"), "")
}

// PushInitFrame bootstraps the first page handed over at AppReady.
func (n *Navigator) PushInitFrame(ctx context.Context, p model.InitParams) error {
	n.ListenRoute()
	if err := n.StartLoadAppFiles(ctx, p); err != nil {
		return err
	}
	return n.PushInitFrameToHistory(ctx)
}

// StartLoadAppFiles creates the initial node and loads the app bundle.
// Split bundles close the resource gate until the full bundle arrives.
func (n *Navigator) StartLoadAppFiles(ctx context.Context, p model.InitParams) error {
	if n.app.Config().SplitBundle() {
		n.app.Resources.Reset()
	}
	node := n.createInitNode(p.PageURL)
	n.setInitNode(node)
	if err := node.Init(ctx, p); err != nil {
		return fmt.Errorf("navigator: init %s: %w", p.PageURL, err)
	}
	return nil
}

// PushInitFrameToHistory pushes the initial node and creates its page.
func (n *Navigator) PushInitFrameToHistory(ctx context.Context) error {
	n.ListenRoute()
	node := n.InitNode()
	if node == nil {
		return ErrEmptyHistory
	}
	n.history.Push(node)
	return node.OnEnqueue(ctx)
}

// ListenRoute binds the host route notifications. Only the first call binds.
func (n *Navigator) ListenRoute() {
	n.routeOnce.Do(func() {
		n.app.Host.Bind(bridge.EventRoute, n.onRoute)
	})
}

func (n *Navigator) onRoute(payload json.RawMessage) {
	var ev model.RouteEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		n.app.Logger.Printf("navigator: bad route event: %v", err)
		return
	}
	switch ev.RouteType {
	case model.RouteNavigateBack:
		n.history.PopTo(string(ev.ToID))
	case model.RouteSwitchTab:
		n.app.Go(func() { n.onSwitchTab(context.Background(), ev) })
	default:
		n.app.Logger.Printf("navigator: route %s from %s to %s", ev.RouteType, ev.FromID, ev.ToID)
	}
}

func (n *Navigator) onSwitchTab(ctx context.Context, ev model.RouteEvent) {
	tabs, ok := n.InitNode().(*TabFrame)
	if !ok {
		n.app.Logger.Printf("navigator: switchTab route without a tab frame")
		return
	}
	tap, err := tabs.OnSwitchTab(ctx, ev)
	if err != nil {
		n.app.Logger.Printf("navigator: %v", err)
		return
	}
	n.app.PageLifecycle.Fire(model.NewMessage(model.MsgTabItemTap, tap.WvID, model.TabTapNotice{
		Event: tap,
		From:  "switchTab",
	}))
}

// Snapshot returns the stack, bottom first.
func (n *Navigator) Snapshot() []model.NodeSnapshot {
	nodes := n.history.Nodes()
	out := make([]model.NodeSnapshot, 0, len(nodes))
	for _, node := range nodes {
		out = append(out, node.Snapshot())
	}
	return out
}
