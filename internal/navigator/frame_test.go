package navigator

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/page"
)

func TestFrameSetIDResetsOnNewIdentity(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	f := NewFrame(e.app, "pages/a?x=1", "")

	if f.Status() != StatusInitialized {
		t.Fatalf("status = %s, want initialized", f.Status())
	}
	if f.URI() != "pages/a" || f.AccessURI() != "pages/a?x=1" {
		t.Fatalf("uri = %q accessURI = %q", f.URI(), f.AccessURI())
	}

	f.SetID("1")
	if err := f.OnEnqueue(context.Background()); err != nil {
		t.Fatalf("OnEnqueue() error = %v", err)
	}
	f.SetID("1")
	if f.Status() != StatusCreated {
		t.Fatalf("same id: status = %s, want created", f.Status())
	}
	f.SetID("2")
	if f.Status() != StatusCreating {
		t.Fatalf("new id: status = %s, want creating", f.Status())
	}
}

func TestFrameOnEnqueueIsIdempotent(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	f := NewFrame(e.app, "pages/a?x=1", "7")

	for i := 0; i < 3; i++ {
		if err := f.OnEnqueue(context.Background()); err != nil {
			t.Fatalf("OnEnqueue() error = %v", err)
		}
	}

	if got := e.rec.count("load:pages/a"); got != 1 {
		t.Fatalf("loads = %d, want 1", got)
	}
	if got := e.host.Count(bridge.OpLoadResource); got != 1 {
		t.Fatalf("loadResource calls = %d, want 1", got)
	}
	pending := e.app.PageLifecycle.Pending(model.MsgPageLifecycle)
	if len(pending) != 1 {
		t.Fatalf("PagelifeCycle messages = %d, want 1", len(pending))
	}
	var ev model.PageLifecycleEvent
	if err := pending[0].Decode(&ev); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if ev.EventName != "onLoad" || ev.SlaveID != "7" {
		t.Fatalf("event = %+v", ev)
	}
	if len(e.app.Views.Pending(model.MsgInitData)) != 1 {
		t.Fatal("expected one initData message to the view")
	}
}

func TestFrameOnEnqueuePassesQuery(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	var got string
	e.app.Pages = page.FactoryFunc(func(string, model.FrameID, model.AppConfig) page.Page {
		return &page.Hooks{Load: func(q url.Values) { got = q.Get("id") }}
	})
	f := NewFrame(e.app, "pages/a?id=42", "1")

	if err := f.OnEnqueue(context.Background()); err != nil {
		t.Fatalf("OnEnqueue() error = %v", err)
	}
	if got != "42" {
		t.Fatalf("query id = %q, want 42", got)
	}
}

func TestFrameOpenBindsIDAndLoadsRoot(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	e.host.On(bridge.OpNavigateTo, func(any) (model.HostResponse, error) {
		return model.HostResponse{WvID: "5", Root: "sub"}, nil
	})
	f := NewFrame(e.app, "sub/pages/x", "")

	succeeded := false
	res, err := f.Open(context.Background(), model.NavigationParams{
		URL:     "sub/pages/x",
		Success: func(model.HostResponse) { succeeded = true },
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if res.WvID != "5" || f.ID() != "5" {
		t.Fatalf("id = %q (res %q), want 5", f.ID(), res.WvID)
	}
	if f.Status() != StatusCreating {
		t.Fatalf("status = %s, want creating", f.Status())
	}
	if !succeeded {
		t.Fatal("success callback not called")
	}
	if got := joined(e.host.Resources()); got != "sub/app.js" {
		t.Fatalf("resources = %s, want sub/app.js", got)
	}
}

func TestFrameOpenFailureIsReturned(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	e.host.Fail(bridge.OpNavigateTo, "too many views")
	f := NewFrame(e.app, "pages/a", "")

	var failed error
	_, err := f.Open(context.Background(), model.NavigationParams{
		URL:  "pages/a",
		Fail: func(err error) { failed = err },
	})
	var hostErr *bridge.HostError
	if !errors.As(err, &hostErr) {
		t.Fatalf("Open() error = %v, want *bridge.HostError", err)
	}
	if failed == nil {
		t.Fatal("fail callback not called")
	}
}

func TestFrameOpenWaitsForResources(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	e.app.Resources.Reset()
	f := NewFrame(e.app, "pages/a", "")

	done := make(chan error, 1)
	go func() {
		_, err := f.Open(context.Background(), model.NavigationParams{URL: "pages/a"})
		done <- err
	}()

	e.app.Resources.MarkLoaded()
	if err := <-done; err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if got := e.host.Count(bridge.OpNavigateTo); got != 1 {
		t.Fatalf("navigateTo calls = %d, want 1", got)
	}
}

func TestFrameCloseSwallowsPagePanic(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	e.app.Pages = page.FactoryFunc(func(string, model.FrameID, model.AppConfig) page.Page {
		return &page.Hooks{Unload: func() { panic("bad unload") }}
	})
	f := NewFrame(e.app, "pages/a", "1")
	if err := f.OnEnqueue(context.Background()); err != nil {
		t.Fatalf("OnEnqueue() error = %v", err)
	}

	f.Close()

	if f.Status() != StatusClosed {
		t.Fatalf("status = %s, want closed", f.Status())
	}
}

func TestFrameRedirectRecreatesPage(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	f := NewFrame(e.app, "pages/a", "1")
	if err := f.OnEnqueue(context.Background()); err != nil {
		t.Fatalf("OnEnqueue() error = %v", err)
	}

	if _, err := f.Redirect(context.Background(), model.NavigationParams{URL: "pages/b?q=1"}); err != nil {
		t.Fatalf("Redirect() error = %v", err)
	}

	if e.rec.count("unload:pages/a") != 1 {
		t.Fatal("old page not unloaded")
	}
	if e.rec.count("load:pages/b") != 1 {
		t.Fatal("new page not loaded")
	}
	if f.URI() != "pages/b" || f.AccessURI() != "pages/b?q=1" {
		t.Fatalf("uri = %q accessURI = %q", f.URI(), f.AccessURI())
	}
	if f.Status() != StatusCreated {
		t.Fatalf("status = %s, want created", f.Status())
	}
}

func TestFrameReLaunchRebinds(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	e.host.On(bridge.OpReLaunch, func(any) (model.HostResponse, error) {
		return model.HostResponse{WvID: "9"}, nil
	})
	f := NewFrame(e.app, "pages/a", "1")

	if _, err := f.ReLaunch(context.Background(), model.NavigationParams{URL: "pages/c?k=v"}); err != nil {
		t.Fatalf("ReLaunch() error = %v", err)
	}
	if f.ID() != "9" || f.URI() != "pages/c" {
		t.Fatalf("id = %q uri = %q", f.ID(), f.URI())
	}
}

func TestFrameInitSubPackageRoot(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	f := NewFrame(e.app, "", "")

	err := f.Init(context.Background(), model.InitParams{PageURL: "sub/pages/x", SlaveID: "3", Root: "sub"})
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if got := joined(e.host.Resources()); got != "app.js,sub/app.js" {
		t.Fatalf("resources = %s", got)
	}
	if len(e.app.Views.Pending(model.MsgSlaveLoaded+"3")) != 1 {
		t.Fatal("slaveLoaded3 not fired")
	}
	if f.ID() != "3" || f.URI() != "sub/pages/x" {
		t.Fatalf("id = %q uri = %q", f.ID(), f.URI())
	}
}

func TestFrameInitPreventAppLoad(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	f := NewFrame(e.app, "", "")

	if err := f.Init(context.Background(), model.InitParams{PageURL: "pages/a", SlaveID: "1", PreventAppLoad: true}); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if n := len(e.host.Resources()); n != 0 {
		t.Fatalf("resources loaded = %d, want 0", n)
	}
}

func TestFrameReLaunchFailureKeepsStatus(t *testing.T) {
	t.Parallel()
	e := newEnv(t, testConfig())
	f := NewFrame(e.app, "pages/a", "1")
	if err := f.OnEnqueue(context.Background()); err != nil {
		t.Fatalf("OnEnqueue() error = %v", err)
	}
	e.host.Fail(bridge.OpReLaunch, "busy")

	if _, err := f.ReLaunch(context.Background(), model.NavigationParams{URL: "pages/a"}); err == nil {
		t.Fatal("ReLaunch() error = nil, want host failure")
	}
	if f.Status() != StatusCreated {
		t.Fatalf("status = %s, want created", f.Status())
	}
	if f.Page() == nil || e.rec.count("unload:pages/a") != 0 {
		t.Fatal("failed relaunch should leave the page in place")
	}
}

func TestFrameSettlesAfterRootLoad(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		op   string
		run  func(f *Frame, params model.NavigationParams) error
	}{
		{"open", bridge.OpNavigateTo, func(f *Frame, p model.NavigationParams) error {
			_, err := f.Open(context.Background(), p)
			return err
		}},
		{"redirect", bridge.OpRedirectTo, func(f *Frame, p model.NavigationParams) error {
			_, err := f.Redirect(context.Background(), p)
			return err
		}},
		{"relaunch", bridge.OpReLaunch, func(f *Frame, p model.NavigationParams) error {
			_, err := f.ReLaunch(context.Background(), p)
			return err
		}},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			e := newEnv(t, testConfig())
			e.host.On(tt.op, func(any) (model.HostResponse, error) {
				return model.HostResponse{WvID: "5", Root: "sub"}, nil
			})
			e.host.Fail(bridge.OpLoadResource, "missing bundle")
			f := NewFrame(e.app, "pages/a", "1")

			var calls []string
			err := tt.run(f, model.NavigationParams{
				URL:      "sub/pages/x",
				Success:  func(model.HostResponse) { calls = append(calls, "success") },
				Fail:     func(error) { calls = append(calls, "fail") },
				Complete: func() { calls = append(calls, "complete") },
			})
			var hostErr *bridge.HostError
			if !errors.As(err, &hostErr) {
				t.Fatalf("error = %v, want *bridge.HostError", err)
			}
			if got := joined(calls); got != "fail,complete" {
				t.Fatalf("callbacks = %s, want fail,complete", got)
			}
		})
	}
}
