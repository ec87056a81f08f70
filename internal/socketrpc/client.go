package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/sepal/internal/bridge"
)

// Handler answers one host operation. A returned *RPCError or
// *bridge.HostError keeps its code and data on the wire.
type Handler func(ctx context.Context, params json.RawMessage) (any, error)

// Client is the host side of the bridge: it answers controller operations
// and raises host events.
type Client struct {
	conn    net.Conn
	writeMu sync.Mutex
	encoder *json.Encoder
	scanner *bufio.Scanner

	mu       sync.Mutex
	handlers map[string]Handler
}

// Dial connects to the controller at the given path.
func Dial(socketPath string) (*Client, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &Client{
		conn:     conn,
		scanner:  scanner,
		encoder:  json.NewEncoder(conn),
		handlers: make(map[string]Handler),
	}, nil
}

// Close closes the underlying connection.
func (c *Client) Close() error {
	return c.conn.Close()
}

// Handle registers the handler for op, replacing any previous one.
func (c *Client) Handle(op string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[op] = h
}

// Emit raises a host event.
func (c *Client) Emit(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal %s payload: %w", event, err)
	}
	if err := c.send(Request{JSONRPC: "2.0", Method: event, Params: data}); err != nil {
		return fmt.Errorf("socketrpc: emit %s: %w", event, err)
	}
	return nil
}

func (c *Client) send(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(30 * time.Second))
	defer c.conn.SetWriteDeadline(time.Time{})
	return c.encoder.Encode(v)
}

// Serve answers controller requests until ctx is done or the connection
// closes. Requests are handled one at a time in arrival order.
func (c *Client) Serve(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() { c.conn.Close() })
	defer stop()

	for c.scanner.Scan() {
		var f frame
		if err := json.Unmarshal(c.scanner.Bytes(), &f); err != nil {
			continue
		}
		if f.Method == "" {
			// The controller only answers with errors.
			if f.Error != nil {
				return fmt.Errorf("socketrpc: controller rejected request: %w", f.Error)
			}
			continue
		}
		if err := c.send(c.dispatch(ctx, f.request())); err != nil {
			return fmt.Errorf("socketrpc: reply: %w", err)
		}
	}
	if err := ctx.Err(); err != nil {
		return nil
	}
	if err := c.scanner.Err(); err != nil {
		return fmt.Errorf("socketrpc: read: %w", err)
	}
	return nil
}

func (c *Client) dispatch(ctx context.Context, req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	c.mu.Lock()
	h := c.handlers[req.Method]
	c.mu.Unlock()
	if h == nil {
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}

	v, err := h(ctx, req.Params)
	if err != nil {
		resp.Error = toRPCError(err)
		return resp
	}
	data, err := json.Marshal(v)
	if err != nil {
		resp.Error = &RPCError{Code: CodeInternal, Message: err.Error()}
		return resp
	}
	resp.Result = data
	return resp
}

func toRPCError(err error) *RPCError {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var hostErr *bridge.HostError
	if errors.As(err, &hostErr) {
		code := hostErr.Code
		if code == 0 {
			code = CodeApplication
		}
		return &RPCError{Code: code, Message: hostErr.Message, Data: hostErr.Payload}
	}
	return &RPCError{Code: CodeApplication, Message: err.Error()}
}
