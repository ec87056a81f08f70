package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/sepal/internal/app"
	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/bridge/bridgetest"
	"github.com/tinytelemetry/sepal/internal/controller"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/trace"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeHostStatus bool

func (f fakeHostStatus) Connected() bool { return bool(f) }

func newTestServer(t *testing.T, opts ...Option) (*Server, *bridgetest.Host, *gin.Engine) {
	t.Helper()
	host := bridgetest.New()
	ac := app.New(host, model.AppConfig{Pages: []string{"pages/index", "pages/detail"}},
		app.WithLogger(log.New(io.Discard, "", 0)),
		app.WithRunner(func(f func()) { f() }),
	)
	ctrl := controller.New(ac)
	ctrl.Start()
	if err := ctrl.Bootstrap(context.Background(), model.InitParams{PageURL: "pages/index", SlaveID: "1"}); err != nil {
		t.Fatalf("Bootstrap: %v", err)
	}

	srv := NewServer("", ctrl, opts...)
	return srv, host, srv.router()
}

func do(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var rd io.Reader
	if body != "" {
		rd = bytes.NewBufferString(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHealthEndpoint(t *testing.T) {
	_, _, r := newTestServer(t, WithHostStatus(fakeHostStatus(true)))

	w := do(r, http.MethodGet, "/api/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("health status = %d, want %d", w.Code, http.StatusOK)
	}

	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal health: %v", err)
	}
	if body["status"] != "ok" || body["stack_depth"] != float64(1) || body["host_connected"] != true {
		t.Errorf("unexpected health body: %v", body)
	}
}

func TestHealthEndpoint_WrongMethod(t *testing.T) {
	_, _, r := newTestServer(t)

	w := do(r, http.MethodPost, "/api/health", "")
	// Gin returns 405 for method not allowed when a route exists but not for this method
	if w.Code != http.StatusMethodNotAllowed && w.Code != http.StatusNotFound {
		t.Errorf("health POST status = %d, want 405 or 404", w.Code)
	}
}

func TestHistoryEndpoint(t *testing.T) {
	_, _, r := newTestServer(t)

	w := do(r, http.MethodGet, "/api/history", "")
	if w.Code != http.StatusOK {
		t.Fatalf("history status = %d", w.Code)
	}
	var body struct {
		Depth int                  `json:"depth"`
		Nodes []model.NodeSnapshot `json:"nodes"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal history: %v", err)
	}
	if body.Depth != 1 || body.Nodes[0].URI != "pages/index" || body.Nodes[0].ID != "1" {
		t.Fatalf("unexpected history: %+v", body)
	}
}

func TestNavigateEndpoint(t *testing.T) {
	_, host, r := newTestServer(t)

	w := do(r, http.MethodPost, "/api/navigate", `{"op":"navigateTo","url":"/pages/detail?id=4"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("navigate status = %d; body: %s", w.Code, w.Body.String())
	}
	var res model.Result
	if err := json.Unmarshal(w.Body.Bytes(), &res); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	if res.URI != "pages/detail" || res.ID != "101" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if host.Count(bridge.OpNavigateTo) != 1 {
		t.Fatalf("navigateTo calls = %d", host.Count(bridge.OpNavigateTo))
	}

	w = do(r, http.MethodGet, "/api/history", "")
	if !bytes.Contains(w.Body.Bytes(), []byte(`"depth":2`)) {
		t.Fatalf("history after navigate: %s", w.Body.String())
	}
}

func TestNavigateEndpoint_Errors(t *testing.T) {
	tests := []struct {
		name string
		body string
		code int
	}{
		{"missing op", `{"url":"/pages/detail"}`, http.StatusBadRequest},
		{"unknown op", `{"op":"fly","url":"/pages/detail"}`, http.StatusBadRequest},
		{"missing url", `{"op":"redirectTo"}`, http.StatusBadRequest},
		{"undeclared page", `{"op":"navigateTo","url":"/pages/nope"}`, http.StatusNotFound},
		{"bad json", `{"op":`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, r := newTestServer(t)
			if w := do(r, http.MethodPost, "/api/navigate", tt.body); w.Code != tt.code {
				t.Fatalf("status = %d, want %d; body: %s", w.Code, tt.code, w.Body.String())
			}
		})
	}
}

func TestNavigateEndpoint_HostFailure(t *testing.T) {
	_, host, r := newTestServer(t)
	host.Fail(bridge.OpRedirectTo, "redirect denied")

	w := do(r, http.MethodPost, "/api/navigate", `{"op":"redirectTo","url":"/pages/detail"}`)
	if w.Code != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d; body: %s", w.Code, http.StatusBadGateway, w.Body.String())
	}
}

func TestChannelsEndpoint(t *testing.T) {
	_, _, r := newTestServer(t)

	w := do(r, http.MethodGet, "/api/channels", "")
	var stats map[string]map[string]int
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("unmarshal channels: %v", err)
	}
	if stats[app.ChannelPageLifecycle][model.MsgPageLifecycle] != 1 {
		t.Fatalf("unexpected stats: %v", stats)
	}
}

func TestTraceEndpoint(t *testing.T) {
	_, _, r := newTestServer(t)
	if w := do(r, http.MethodGet, "/api/trace", ""); w.Code != http.StatusNotFound {
		t.Fatalf("trace without a trace = %d, want 404", w.Code)
	}

	tr, err := trace.Open(filepath.Join(t.TempDir(), "views.trace"))
	if err != nil {
		t.Fatalf("trace.Open: %v", err)
	}
	defer tr.Close()
	for _, typ := range []string{"a", "b", "c"} {
		if _, err := tr.Append("tcp", model.Message{Type: typ}); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	_, _, r = newTestServer(t, WithTrace(tr))
	w := do(r, http.MethodGet, "/api/trace?limit=2", "")
	if w.Code != http.StatusOK {
		t.Fatalf("trace status = %d", w.Code)
	}
	var body struct {
		Count   int           `json:"count"`
		Entries []trace.Entry `json:"entries"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal trace: %v", err)
	}
	if body.Count != 2 || body.Entries[0].Message.Type != "b" {
		t.Fatalf("unexpected trace: %+v", body)
	}

	if w := do(r, http.MethodGet, "/api/trace?limit=-1", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("bad limit status = %d", w.Code)
	}
}
