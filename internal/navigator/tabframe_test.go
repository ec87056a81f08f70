package navigator

import (
	"context"
	"errors"
	"testing"

	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/model"
)

func intp(i int) *int { return &i }

func newTabs(t *testing.T) (*env, *TabFrame) {
	t.Helper()
	e := newEnv(t, tabConfig())
	tabs := NewTabFrame(e.app, e.app.Config().Tabs(), 0)
	tabs.Current().SetID("10")
	if err := tabs.OnEnqueue(context.Background()); err != nil {
		t.Fatalf("OnEnqueue() error = %v", err)
	}
	return e, tabs
}

func TestTabFrameDelegatesToActiveChild(t *testing.T) {
	t.Parallel()
	_, tabs := newTabs(t)

	if tabs.ID() != "10" || tabs.URI() != "pages/tab0" {
		t.Fatalf("id = %q uri = %q", tabs.ID(), tabs.URI())
	}
	if !tabs.Matches("pages/tab1") || !tabs.Matches("10") {
		t.Fatal("Matches should find children by uri and id")
	}
	if tabs.Matches("pages/a") {
		t.Fatal("Matches(pages/a) = true")
	}
	if got := tabs.FindChildIndex("/pages/tab1"); got != 1 {
		t.Fatalf("FindChildIndex = %d, want 1", got)
	}
}

func TestOnSwitchTabByIndexWithoutID(t *testing.T) {
	t.Parallel()
	e, tabs := newTabs(t)
	child1 := tabs.Frames()[1]

	tap, err := tabs.OnSwitchTab(context.Background(), model.RouteEvent{
		RouteType:  model.RouteSwitchTab,
		ToPage:     "/pages/tab1",
		ToTabIndex: intp(1),
	})
	if err != nil {
		t.Fatalf("OnSwitchTab() error = %v", err)
	}
	if tabs.Active() != 1 {
		t.Fatalf("active = %d, want 1", tabs.Active())
	}
	if got := e.rec.count("load:pages/tab1"); got != 1 {
		t.Fatalf("tab1 loads = %d, want 1", got)
	}
	if tap.Type != "onTabItemTap" || tap.WvID != child1.ID() || tap.Index != 1 || tap.Text != "Me" {
		t.Fatalf("tap = %+v", tap)
	}
}

func TestOnSwitchTabByIDBindsChild(t *testing.T) {
	t.Parallel()
	_, tabs := newTabs(t)

	tap, err := tabs.OnSwitchTab(context.Background(), model.RouteEvent{ToID: "11", ToPage: "pages/tab1"})
	if err != nil {
		t.Fatalf("OnSwitchTab() error = %v", err)
	}
	if tap.WvID != "11" || tabs.ID() != "11" {
		t.Fatalf("tap.WvID = %q tabs.ID = %q, want 11", tap.WvID, tabs.ID())
	}

	// the host reports the known id next time
	if _, err := tabs.OnSwitchTab(context.Background(), model.RouteEvent{ToID: "10"}); err != nil {
		t.Fatalf("OnSwitchTab() error = %v", err)
	}
	if tabs.Active() != 0 {
		t.Fatalf("active = %d, want 0", tabs.Active())
	}
}

func TestOnSwitchTabToActiveTabIsNoop(t *testing.T) {
	t.Parallel()
	e, tabs := newTabs(t)

	for i := 0; i < 2; i++ {
		if _, err := tabs.OnSwitchTab(context.Background(), model.RouteEvent{ToID: "10", ToPage: "pages/tab0"}); err != nil {
			t.Fatalf("OnSwitchTab() error = %v", err)
		}
	}
	if tabs.Active() != 0 {
		t.Fatalf("active = %d, want 0", tabs.Active())
	}
	if got := e.rec.count("load:pages/tab0"); got != 1 {
		t.Fatalf("tab0 loads = %d, want 1", got)
	}
}

func TestOnSwitchTabUnknownTarget(t *testing.T) {
	t.Parallel()
	_, tabs := newTabs(t)

	tests := []model.RouteEvent{
		{ToID: "99"},
		{ToPage: "pages/none"},
		{ToTabIndex: intp(5)},
	}
	for _, ev := range tests {
		if _, err := tabs.OnSwitchTab(context.Background(), ev); !errors.Is(err, ErrTabNotFound) {
			t.Fatalf("OnSwitchTab(%+v) error = %v, want ErrTabNotFound", ev, err)
		}
	}
	if tabs.Active() != 0 {
		t.Fatalf("active = %d, want 0", tabs.Active())
	}
}

func TestTabFrameReLaunchBuildsFreshChildren(t *testing.T) {
	t.Parallel()
	e, tabs := newTabs(t)
	before := tabs.Frames()

	if _, err := tabs.ReLaunch(context.Background(), model.NavigationParams{URL: "pages/tab1"}); err != nil {
		t.Fatalf("ReLaunch() error = %v", err)
	}

	after := tabs.Frames()
	for i := range after {
		if after[i] == before[i] {
			t.Fatalf("child %d survived relaunch", i)
		}
		if after[i].Page() != nil {
			t.Fatalf("child %d carries a page after relaunch", i)
		}
	}
	if tabs.Active() != 1 {
		t.Fatalf("active = %d, want 1", tabs.Active())
	}
	if e.rec.count("unload:pages/tab0") != 1 {
		t.Fatal("old tab0 page not unloaded")
	}
	if e.host.Count(bridge.OpReLaunch) != 1 {
		t.Fatal("reLaunch not sent to host")
	}
	if tabs.ID() == "" || tabs.ID() == "10" {
		t.Fatalf("id = %q, want a new host id", tabs.ID())
	}
}

func TestTabFrameReLaunchUnknownTab(t *testing.T) {
	t.Parallel()
	_, tabs := newTabs(t)

	if _, err := tabs.ReLaunch(context.Background(), model.NavigationParams{URL: "pages/a"}); !errors.Is(err, ErrTabNotFound) {
		t.Fatalf("ReLaunch() error = %v, want ErrTabNotFound", err)
	}
}

func TestTabFrameCloseClosesAllChildren(t *testing.T) {
	t.Parallel()
	_, tabs := newTabs(t)

	tabs.Close()
	for i, child := range tabs.Frames() {
		if child.Status() != StatusClosed {
			t.Fatalf("child %d status = %s, want closed", i, child.Status())
		}
	}
	if snap := tabs.Snapshot(); snap.Kind != "tabs" || len(snap.Children) != 2 || snap.Status != "closed" {
		t.Fatalf("snapshot = %+v", snap)
	}
}
