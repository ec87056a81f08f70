package socketrpc

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// JSON-RPC 2.0 over a Unix socket, newline delimited, in both directions.
//
// The controller listens; the host dials in. The controller calls host
// operations as requests and the host answers them:
//
//   Method          Params                                   Result
//   ─────────────   ──────────────────────────────────────   ─────────────────────
//   navigateTo      {url, startTime}                         {wvID, root?}
//   redirectTo      {url, startTime}                         {wvID, root?}
//   reLaunch        {url, force?, startTime}                 {wvID, root?}
//   switchTab       {url, startTime}                         {wvID?}
//   navigateBack    {delta, startTime}                       {}
//   loadResource    {uri, wvID?}                             {}
//
// Host events travel the other way as notifications (no id). The method is
// the event name (onRoute, AppReady, lifecycle, message, ...) and the params
// are the event payload. Notifications are dispatched in arrival order.
//
// Error codes follow JSON-RPC 2.0:
//   -32700  Parse error (malformed JSON)
//   -32601  Method not found
//   -32602  Invalid params
//   -32603  Internal error (marshal failure)
//   -32000  Application error (host operation failed, data holds the raw body)
//   -32001  Trace disabled (inspect socket only)
//
// The inspect socket is a separate, read-only endpoint for the inspector.
// Any number of clients may connect; each request is answered in order:
//
//   Method     Params      Result
//   ────────   ─────────   ──────────────────────────────────────
//   Health     {}          {uptime, stack_depth, host_connected}
//   History    {}          [NodeSnapshot]
//   Channels   {}          {channel: {type: count}}
//   Trace      {Limit}     [trace.Entry]

const (
	CodeParseError     = -32700
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternal       = -32603
	CodeApplication    = -32000
	CodeTraceDisabled  = -32001
)

// Request is a JSON-RPC 2.0 request. A zero ID marks a notification.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id,omitempty"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError represents a JSON-RPC 2.0 error object.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string { return e.Message }

// frame is any line on the wire. Requests carry a method; responses do not.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int             `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func (f frame) request() Request {
	return Request{JSONRPC: f.JSONRPC, ID: f.ID, Method: f.Method, Params: f.Params}
}

func (f frame) response() Response {
	return Response{JSONRPC: f.JSONRPC, ID: f.ID, Result: f.Result, Error: f.Error}
}

// DefaultSocketPath returns the default Unix socket path.
// It prefers $XDG_RUNTIME_DIR/sepal/sepal.sock, falling back to
// ~/.local/state/sepal/sepal.sock.
func DefaultSocketPath() string {
	if dir := os.Getenv("XDG_RUNTIME_DIR"); dir != "" {
		return filepath.Join(dir, "sepal", "sepal.sock")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "/tmp/sepal.sock"
	}
	return filepath.Join(home, ".local", "state", "sepal", "sepal.sock")
}

// DefaultInspectPath returns the default inspect socket path, next to the
// bridge socket.
func DefaultInspectPath() string {
	return filepath.Join(filepath.Dir(DefaultSocketPath()), "inspect.sock")
}
