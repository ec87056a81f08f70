package bridge_test

import (
	"context"
	"errors"
	"testing"

	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/bridge/bridgetest"
	"github.com/tinytelemetry/sepal/internal/model"
)

func TestCallSuccessRunsCallbacks(t *testing.T) {
	t.Parallel()
	host := bridgetest.New()

	var got model.FrameID
	completed := false
	params := model.NavigationParams{
		URL:      "pages/a",
		Success:  func(res model.HostResponse) { got = res.WvID },
		Fail:     func(error) { t.Fatal("fail callback called on success") },
		Complete: func() { completed = true },
	}

	res, err := bridge.Call(context.Background(), host, bridge.OpNavigateTo, params, map[string]any{"url": "pages/a"})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if got != res.WvID || got == "" {
		t.Fatalf("success wvID = %q, want %q", got, res.WvID)
	}
	if !completed {
		t.Fatal("complete callback not called")
	}
}

func TestCallFailureRunsFailAndComplete(t *testing.T) {
	t.Parallel()
	host := bridgetest.New()
	host.Fail(bridge.OpRedirectTo, "no view")

	var failErr error
	completed := false
	params := model.NavigationParams{
		Fail:     func(err error) { failErr = err },
		Complete: func() { completed = true },
	}

	_, err := bridge.Call(context.Background(), host, bridge.OpRedirectTo, params, nil)
	var hostErr *bridge.HostError
	if !errors.As(err, &hostErr) {
		t.Fatalf("error = %v, want *bridge.HostError", err)
	}
	if hostErr.Op != bridge.OpRedirectTo {
		t.Fatalf("Op = %q, want %q", hostErr.Op, bridge.OpRedirectTo)
	}
	if failErr != err {
		t.Fatalf("fail callback error = %v, want %v", failErr, err)
	}
	if !completed {
		t.Fatal("complete callback not called")
	}
}

func TestCallCallbackPanicDoesNotChangeResult(t *testing.T) {
	t.Parallel()
	host := bridgetest.New()

	params := model.NavigationParams{
		Success:  func(model.HostResponse) { panic("success") },
		Complete: func() { panic("complete") },
	}
	res, err := bridge.Call(context.Background(), host, bridge.OpReLaunch, params, nil)
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	if res.WvID == "" {
		t.Fatal("expected a view id")
	}
}

func TestHostErrorMessage(t *testing.T) {
	t.Parallel()
	err := &bridge.HostError{Op: "switchTab", Code: 1001}
	if got, want := err.Error(), "bridge: switchTab failed (code 1001)"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
}
