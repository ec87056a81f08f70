package socketrpc

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/tinytelemetry/sepal/internal/bridge"
)

func TestDecodeHostResponse(t *testing.T) {
	t.Parallel()

	res, err := decodeHostResponse("navigateTo", Response{Result: json.RawMessage(`{"wvID":12,"root":"sub"}`)})
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if res.WvID != "12" || res.Root != "sub" || string(res.Raw) != `{"wvID":12,"root":"sub"}` {
		t.Fatalf("unexpected response: %+v", res)
	}

	if _, err := decodeHostResponse("navigateBack", Response{Result: json.RawMessage(`null`)}); err != nil {
		t.Fatalf("null result: %v", err)
	}

	_, err = decodeHostResponse("redirectTo", Response{Error: &RPCError{Code: CodeApplication, Message: "denied", Data: json.RawMessage(`{"errMsg":"denied"}`)}})
	var hostErr *bridge.HostError
	if !errors.As(err, &hostErr) {
		t.Fatalf("expected HostError, got %v", err)
	}
	if hostErr.Op != "redirectTo" || hostErr.Code != CodeApplication || string(hostErr.Payload) != `{"errMsg":"denied"}` {
		t.Fatalf("unexpected host error: %+v", hostErr)
	}
}

func TestToRPCError(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		err  error
		code int
	}{
		{"plain", errors.New("boom"), CodeApplication},
		{"rpc", &RPCError{Code: CodeInvalidParams, Message: "bad"}, CodeInvalidParams},
		{"host", &bridge.HostError{Message: "no"}, CodeApplication},
		{"host with code", &bridge.HostError{Code: 7, Message: "no"}, 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toRPCError(tt.err); got.Code != tt.code {
				t.Fatalf("code = %d, want %d", got.Code, tt.code)
			}
		})
	}
}

func TestDispatch_OrderAndPanics(t *testing.T) {
	t.Parallel()
	srv := NewServer("", 0)

	var got []string
	srv.Bind("onRoute", func(payload json.RawMessage) { panic("handler bug") })
	srv.Bind("onRoute", func(payload json.RawMessage) { got = append(got, string(payload)) })

	srv.dispatch(Request{Method: "onRoute", Params: json.RawMessage(`1`)})
	srv.dispatch(Request{Method: "onRoute"})
	srv.dispatch(Request{Method: "unbound", Params: json.RawMessage(`3`)})

	if len(got) != 2 || got[0] != "1" || got[1] != "null" {
		t.Fatalf("unexpected payloads: %v", got)
	}
}

func TestClientDispatch(t *testing.T) {
	t.Parallel()
	c := &Client{handlers: map[string]Handler{
		"navigateTo": func(ctx context.Context, params json.RawMessage) (any, error) {
			return map[string]any{"wvID": "9"}, nil
		},
		"reLaunch": func(ctx context.Context, params json.RawMessage) (any, error) {
			return nil, errors.New("not now")
		},
	}}

	resp := c.dispatch(context.Background(), Request{ID: 1, Method: "navigateTo"})
	if resp.Error != nil || string(resp.Result) != `{"wvID":"9"}` {
		t.Fatalf("unexpected response: %+v", resp)
	}
	resp = c.dispatch(context.Background(), Request{ID: 2, Method: "reLaunch"})
	if resp.Error == nil || resp.Error.Code != CodeApplication || resp.ID != 2 {
		t.Fatalf("unexpected response: %+v", resp)
	}
	resp = c.dispatch(context.Background(), Request{ID: 3, Method: "switchTab"})
	if resp.Error == nil || resp.Error.Code != CodeMethodNotFound {
		t.Fatalf("unexpected response: %+v", resp)
	}
}
