package socketrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/trace"
)

// InspectClient queries a controller's inspect socket.
type InspectClient struct {
	conn    net.Conn
	mu      sync.Mutex
	nextID  int
	scanner *bufio.Scanner
	encoder *json.Encoder
}

// DialInspect connects to the inspect socket at the given path.
func DialInspect(socketPath string) (*InspectClient, error) {
	conn, err := net.DialTimeout("unix", socketPath, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("socketrpc: dial inspect: %w", err)
	}
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	return &InspectClient{
		conn:    conn,
		scanner: scanner,
		encoder: json.NewEncoder(conn),
	}, nil
}

// Close closes the underlying connection.
func (c *InspectClient) Close() error {
	return c.conn.Close()
}

// call performs one request and unmarshals the result into dest.
func (c *InspectClient) call(method string, params any, dest any) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	id := c.nextID

	data, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("socketrpc: marshal %s params: %w", method, err)
	}

	c.conn.SetDeadline(time.Now().Add(30 * time.Second))
	defer c.conn.SetDeadline(time.Time{})

	if err := c.encoder.Encode(Request{JSONRPC: "2.0", ID: id, Method: method, Params: data}); err != nil {
		return fmt.Errorf("socketrpc: send %s: %w", method, err)
	}
	if !c.scanner.Scan() {
		if err := c.scanner.Err(); err != nil {
			return fmt.Errorf("socketrpc: read %s: %w", method, err)
		}
		return fmt.Errorf("socketrpc: %s: connection closed", method)
	}

	var resp Response
	if err := json.Unmarshal(c.scanner.Bytes(), &resp); err != nil {
		return fmt.Errorf("socketrpc: unmarshal %s response: %w", method, err)
	}
	if resp.Error != nil {
		return resp.Error
	}
	if dest != nil {
		if err := json.Unmarshal(resp.Result, dest); err != nil {
			return fmt.Errorf("socketrpc: unmarshal %s result: %w", method, err)
		}
	}
	return nil
}

func (c *InspectClient) Health() (Health, error) {
	var h Health
	err := c.call("Health", struct{}{}, &h)
	return h, err
}

func (c *InspectClient) History() ([]model.NodeSnapshot, error) {
	var nodes []model.NodeSnapshot
	err := c.call("History", struct{}{}, &nodes)
	return nodes, err
}

func (c *InspectClient) Channels() (map[string]map[string]int, error) {
	var stats map[string]map[string]int
	err := c.call("Channels", struct{}{}, &stats)
	return stats, err
}

// Trace returns up to limit of the latest trace entries, or ErrTraceDisabled.
func (c *InspectClient) Trace(limit int) ([]trace.Entry, error) {
	var entries []trace.Entry
	err := c.call("Trace", struct{ Limit int }{limit}, &entries)
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) && rpcErr.Code == CodeTraceDisabled {
		return nil, ErrTraceDisabled
	}
	return entries, err
}
