package navigator

import (
	"context"
	"fmt"
	"net/url"
	"path"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/sepal/internal/app"
	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/channel"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/page"
)

// Status is the lifecycle state of a Frame.
type Status int

const (
	StatusInitialized Status = iota
	StatusCreating
	StatusCreated
	StatusClosed
)

func (s Status) String() string {
	switch s {
	case StatusInitialized:
		return "initialized"
	case StatusCreating:
		return "creating"
	case StatusCreated:
		return "created"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Frame is one view and the page object bound to it.
type Frame struct {
	app *app.Context

	mu        sync.Mutex
	uri       string
	accessURI string
	id        model.FrameID
	status    Status
	closing   bool
	page      page.Page
}

// NewFrame creates a frame for accessURI. id may be empty until the host
// assigns one.
func NewFrame(ac *app.Context, accessURI string, id model.FrameID) *Frame {
	uri, _ := model.SplitURL(accessURI)
	return &Frame{app: ac, uri: uri, accessURI: accessURI, id: id}
}

func (f *Frame) ID() model.FrameID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.id
}

func (f *Frame) URI() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uri
}

func (f *Frame) AccessURI() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accessURI
}

func (f *Frame) Status() Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

// Page returns the bound page object, nil before the first OnEnqueue.
func (f *Frame) Page() page.Page {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.page
}

// SetID binds the host id. A different id than the one held means the host
// recreated the view, so the frame goes back to Creating.
func (f *Frame) SetID(id model.FrameID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.id != id {
		f.status = StatusCreating
	}
	f.id = id
}

func (f *Frame) Closing() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closing
}

func (f *Frame) SetClosing(v bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closing = v
}

func (f *Frame) Current() *Frame { return f }

// Matches reports whether tag names this frame by uri or by id.
func (f *Frame) Matches(tag string) bool {
	if tag == "" {
		return false
	}
	p, _ := model.SplitURL(tag)
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.uri == p || (f.id != "" && string(f.id) == tag)
}

func (f *Frame) FindChild(tag string) *Frame {
	if f.Matches(tag) {
		return f
	}
	return nil
}

func (f *Frame) Frames() []*Frame { return []*Frame{f} }

func (f *Frame) rebind(accessURI string, id model.FrameID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uri, _ = model.SplitURL(accessURI)
	f.accessURI = accessURI
	f.id = id
}

func (f *Frame) setStatus(s Status) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status = s
}

// Open pushes a new view on the host and binds the returned id. The caller
// callbacks settle once the view's package root is loaded.
func (f *Frame) Open(ctx context.Context, params model.NavigationParams) (model.HostResponse, error) {
	if err := f.app.Resources.Wait(ctx); err != nil {
		bridge.Settle(bridge.OpNavigateTo, params, model.HostResponse{}, err)
		return model.HostResponse{}, fmt.Errorf("navigator: open %s: %w", params.URL, err)
	}
	f.setStatus(StatusCreating)
	res, err := f.invoke(ctx, bridge.OpNavigateTo, params)
	if err != nil {
		return res, fmt.Errorf("navigator: open %s: %w", params.URL, err)
	}
	f.mu.Lock()
	f.id = res.WvID
	f.mu.Unlock()
	return res, nil
}

// Redirect replaces this frame's view in place and recreates its page.
func (f *Frame) Redirect(ctx context.Context, params model.NavigationParams) (model.HostResponse, error) {
	if err := f.app.Resources.Wait(ctx); err != nil {
		bridge.Settle(bridge.OpRedirectTo, params, model.HostResponse{}, err)
		return model.HostResponse{}, fmt.Errorf("navigator: redirect %s: %w", params.URL, err)
	}
	f.Close()
	res, err := f.invoke(ctx, bridge.OpRedirectTo, params)
	if err != nil {
		return res, fmt.Errorf("navigator: redirect %s: %w", params.URL, err)
	}
	f.rebind(params.URL, res.WvID)
	f.setStatus(StatusCreating)
	if err := f.OnEnqueue(ctx); err != nil {
		return res, err
	}
	return res, nil
}

// ReLaunch resets the host to this frame's destination. A frame that already
// holds a page unloads it so OnEnqueue builds a fresh one. On failure the
// frame keeps the status it had.
func (f *Frame) ReLaunch(ctx context.Context, params model.NavigationParams) (model.HostResponse, error) {
	if err := f.app.Resources.Wait(ctx); err != nil {
		bridge.Settle(bridge.OpReLaunch, params, model.HostResponse{}, err)
		return model.HostResponse{}, fmt.Errorf("navigator: relaunch %s: %w", params.URL, err)
	}
	if params.URL == "" {
		params.URL = f.URI()
	}
	prev := f.Status()
	f.setStatus(StatusCreating)
	res, err := f.invoke(ctx, bridge.OpReLaunch, params)
	if err != nil {
		f.setStatus(prev)
		return res, fmt.Errorf("navigator: relaunch %s: %w", params.URL, err)
	}
	if f.Page() != nil {
		f.Close()
	}
	f.rebind(params.URL, res.WvID)
	f.setStatus(StatusCreating)
	return res, nil
}

// invoke runs op on the host, loads the package root the host answered
// with, and then settles the caller callbacks with the combined outcome.
func (f *Frame) invoke(ctx context.Context, op string, params model.NavigationParams) (model.HostResponse, error) {
	res, err := f.app.Host.Invoke(ctx, op, params.Payload())
	if err == nil {
		err = f.loadRoot(ctx, res.Root)
	}
	bridge.Settle(op, params, res, err)
	return res, err
}

// Close unloads the page and marks the frame closed. Page panics are logged.
// A frame bound to a view announces onUnload so per-view state elsewhere can
// be released.
func (f *Frame) Close() {
	f.mu.Lock()
	p, id := f.page, f.id
	f.page = nil
	f.mu.Unlock()
	if p != nil {
		page.Unload(f.app.Logger, p)
	}
	f.setStatus(StatusClosed)
	if id != "" {
		f.app.PageLifecycle.Fire(model.NewMessage(model.MsgPageLifecycle, id, model.PageLifecycleEvent{
			EventName: "onUnload",
			SlaveID:   id,
		}))
	}
}

// OnEnqueue creates the page once the frame is on the stack. It is a no-op
// for a frame that is already Created.
func (f *Frame) OnEnqueue(ctx context.Context) error {
	f.mu.Lock()
	if f.status == StatusCreated {
		f.mu.Unlock()
		return nil
	}
	f.status = StatusCreated
	accessURI, id, uri := f.accessURI, f.id, f.uri
	f.mu.Unlock()

	cfg := f.app.Config()
	p := f.app.Pages.CreatePage(accessURI, id, cfg)
	f.mu.Lock()
	f.page = p
	f.mu.Unlock()

	_, rawQuery := model.SplitURL(accessURI)
	query, err := url.ParseQuery(rawQuery)
	if err != nil {
		f.app.Logger.Printf("navigator: %s: bad query %q: %v", uri, rawQuery, err)
	}
	page.Load(f.app.Logger, p, query)
	f.app.PageLifecycle.Fire(model.NewMessage(model.MsgPageLifecycle, id, model.PageLifecycleEvent{
		EventName: "onLoad",
		SlaveID:   id,
	}))

	_, err = f.app.Host.Invoke(ctx, bridge.OpLoadResource, map[string]any{
		"uri":  uri,
		"wvID": id,
	})
	if err != nil {
		return fmt.Errorf("navigator: load page %s: %w", uri, err)
	}
	f.app.Views.Fire(model.NewMessage(model.MsgInitData, id, map[string]any{
		"uri":         uri,
		"appRootPath": cfg.AppRootPath,
	}))
	return nil
}

// Init binds the frame to the first view the host created and loads the
// application bundle for it.
func (f *Frame) Init(ctx context.Context, p model.InitParams) error {
	if !p.PreventAppLoad {
		cfg := f.app.Config()
		common := "app.js"
		if cfg.SplitBundle() {
			common = "common.js"
		}
		if err := f.load(ctx, common); err != nil {
			return err
		}
		switch {
		case cfg.SplitBundle():
			if err := f.loadFirst(ctx, p); err != nil {
				return err
			}
		case p.Root != "":
			if err := f.load(ctx, path.Join(p.Root, "app.js")); err != nil {
				return err
			}
		}
	}
	f.rebind(p.PageURL, p.SlaveID)
	f.app.Views.Fire(model.NewMessage(model.MsgSlaveLoaded+string(p.SlaveID), p.SlaveID, map[string]any{
		"slaveId": p.SlaveID,
	}))
	return nil
}

// loadFirst loads only the first page bundles of a split app, and defers the
// rest until the view reports it attached.
func (f *Frame) loadFirst(ctx context.Context, p model.InitParams) error {
	var attached atomic.Bool
	f.app.Views.Subscribe(model.MsgSlaveAttached, func(msg model.Message) {
		if msg.SlaveID != p.SlaveID || !attached.CompareAndSwap(false, true) {
			return
		}
		f.app.Go(func() { f.loadPages(context.Background()) })
	}, channel.ReplayPrevious())

	first, _ := model.SplitURL(p.PageURL)
	uris := []string{first}
	if tabs := f.app.Config().Tabs(); len(tabs) > 0 {
		uris = uris[:0]
		for _, tab := range tabs {
			u, _ := model.SplitURL(tab.PagePath)
			uris = append(uris, u)
		}
		if !contains(uris, first) {
			uris = append(uris, first)
		}
	}
	for _, u := range uris {
		if err := f.load(ctx, u+".js"); err != nil {
			return err
		}
	}
	return nil
}

func (f *Frame) loadPages(ctx context.Context) {
	if err := f.load(ctx, "pages.js"); err != nil {
		f.app.Logger.Printf("navigator: %v", err)
		return
	}
	f.app.Resources.MarkLoaded()
}

func (f *Frame) loadRoot(ctx context.Context, root string) error {
	if root == "" {
		return nil
	}
	return f.load(ctx, path.Join(root, "app.js"))
}

func (f *Frame) load(ctx context.Context, name string) error {
	uri := path.Join(f.app.Config().AppRootPath, name)
	if _, err := f.app.Host.Invoke(ctx, bridge.OpLoadResource, map[string]any{"uri": uri}); err != nil {
		return fmt.Errorf("navigator: load %s: %w", uri, err)
	}
	return nil
}

func (f *Frame) Snapshot() model.NodeSnapshot {
	f.mu.Lock()
	defer f.mu.Unlock()
	return model.NodeSnapshot{
		Kind:      "frame",
		ID:        f.id,
		URI:       f.uri,
		AccessURI: f.accessURI,
		Status:    f.status.String(),
		Closing:   f.closing,
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if strings.TrimPrefix(v, "/") == strings.TrimPrefix(s, "/") {
			return true
		}
	}
	return false
}
