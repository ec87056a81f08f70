package socketrpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/model"
)

const (
	// scannerInitBufSize is the initial buffer size for the per-connection scanner (1 MB).
	scannerInitBufSize = 1024 * 1024
	// scannerMaxTokenSize is the maximum token size the scanner will accept (10 MB).
	scannerMaxTokenSize = 10 * 1024 * 1024
	// eventQueueSize bounds host notifications waiting for dispatch.
	eventQueueSize = 256
)

var (
	// ErrNoHost is returned by Invoke while no host is connected.
	ErrNoHost = errors.New("socketrpc: no host connected")
	// ErrHostGone is returned for calls still pending when the host disconnects.
	ErrHostGone = errors.New("socketrpc: host disconnected")
)

// Server is the controller side of the host bridge. It implements
// bridge.Host over a Unix domain socket; one host is served at a time and a
// new connection replaces the previous one.
type Server struct {
	socketPath string
	timeout    time.Duration
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once
	events     chan Request

	mu       sync.Mutex
	peer     *peer
	pending  map[int]chan callResult
	nextID   int
	handlers map[string][]bridge.EventHandler
	onHost   []func()
}

type callResult struct {
	resp Response
	err  error
}

type peer struct {
	conn    net.Conn
	writeMu sync.Mutex
	encoder *json.Encoder
}

func (p *peer) send(v any) error {
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	return p.encoder.Encode(v)
}

var _ bridge.Host = (*Server)(nil)

// NewServer creates a new socket bridge server. A zero timeout uses
// model.DefaultHostTimeout for calls without a deadline.
func NewServer(socketPath string, timeout time.Duration) *Server {
	if timeout <= 0 {
		timeout = model.DefaultHostTimeout
	}
	return &Server{
		socketPath: socketPath,
		timeout:    timeout,
		quit:       make(chan struct{}),
		events:     make(chan Request, eventQueueSize),
		pending:    make(map[int]chan callResult),
		handlers:   make(map[string][]bridge.EventHandler),
	}
}

// Start begins listening on the Unix socket and accepting connections.
func (s *Server) Start() error {
	// Ensure the parent directory exists.
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: mkdir: %w", err)
	}

	// Remove stale socket if it exists.
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			// Socket file exists but nobody is listening, so it is stale.
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: another controller is already listening on %s", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: listen: %w", err)
	}
	s.listener = ln

	s.wg.Add(2)
	go s.acceptLoop()
	go s.dispatchLoop()

	log.Printf("socketrpc: listening on %s", s.socketPath)
	return nil
}

// Stop closes the listener and the host connection, waits for the loops to
// drain, and removes the socket file.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Lock()
		if s.peer != nil {
			s.peer.conn.Close()
		}
		s.mu.Unlock()
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

// Bind implements bridge.Host.
func (s *Server) Bind(event string, handler bridge.EventHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], handler)
}

// OnConnect registers fn to run each time a host connects.
func (s *Server) OnConnect(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onHost = append(s.onHost, fn)
}

// Connected reports whether a host is attached.
func (s *Server) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.peer != nil
}

// Invoke implements bridge.Host. Calls without a deadline time out after the
// server timeout.
func (s *Server) Invoke(ctx context.Context, op string, params any) (model.HostResponse, error) {
	data, err := json.Marshal(params)
	if err != nil {
		return model.HostResponse{}, fmt.Errorf("socketrpc: marshal %s params: %w", op, err)
	}
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	s.mu.Lock()
	p := s.peer
	if p == nil {
		s.mu.Unlock()
		return model.HostResponse{}, fmt.Errorf("socketrpc: %s: %w", op, ErrNoHost)
	}
	s.nextID++
	id := s.nextID
	ch := make(chan callResult, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	if err := p.send(Request{JSONRPC: "2.0", ID: id, Method: op, Params: data}); err != nil {
		s.forget(id)
		return model.HostResponse{}, fmt.Errorf("socketrpc: send %s: %w", op, err)
	}

	select {
	case r := <-ch:
		if r.err != nil {
			return model.HostResponse{}, fmt.Errorf("socketrpc: %s: %w", op, r.err)
		}
		return decodeHostResponse(op, r.resp)
	case <-ctx.Done():
		s.forget(id)
		return model.HostResponse{}, fmt.Errorf("socketrpc: %s: %w", op, ctx.Err())
	}
}

func decodeHostResponse(op string, resp Response) (model.HostResponse, error) {
	if resp.Error != nil {
		return model.HostResponse{}, &bridge.HostError{
			Op:      op,
			Code:    resp.Error.Code,
			Message: resp.Error.Message,
			Payload: resp.Error.Data,
		}
	}
	res := model.HostResponse{Raw: resp.Result}
	if len(resp.Result) > 0 && string(resp.Result) != "null" {
		if err := json.Unmarshal(resp.Result, &res); err != nil {
			return model.HostResponse{}, fmt.Errorf("socketrpc: unmarshal %s result: %w", op, err)
		}
		res.Raw = resp.Result
	}
	return res, nil
}

func (s *Server) forget(id int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

func (s *Server) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Printf("socketrpc: accept error: %v", err)
				// Continue on transient errors (e.g., fd limit) instead of
				// killing the entire accept loop.
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) attach(conn net.Conn) *peer {
	p := &peer{conn: conn, encoder: json.NewEncoder(conn)}
	s.mu.Lock()
	old := s.peer
	s.peer = p
	hooks := append([]func(){}, s.onHost...)
	s.mu.Unlock()
	if old != nil {
		log.Printf("socketrpc: host replaced")
		old.conn.Close()
	}
	for _, fn := range hooks {
		fn()
	}
	return p
}

// detach drops p and fails the calls still waiting on it.
func (s *Server) detach(p *peer) {
	s.mu.Lock()
	if s.peer != p {
		s.mu.Unlock()
		return
	}
	s.peer = nil
	pending := s.pending
	s.pending = make(map[int]chan callResult)
	s.mu.Unlock()
	for _, ch := range pending {
		ch <- callResult{err: ErrHostGone}
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	p := s.attach(conn)
	defer s.detach(p)

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)

	for scanner.Scan() {
		select {
		case <-s.quit:
			return
		default:
		}

		var f frame
		if err := json.Unmarshal(scanner.Bytes(), &f); err != nil {
			p.send(Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
			continue
		}

		switch {
		case f.Method == "":
			s.resolve(f.response())
		case f.ID != 0:
			p.send(Response{JSONRPC: "2.0", ID: f.ID, Error: &RPCError{
				Code:    CodeMethodNotFound,
				Message: fmt.Sprintf("method not found: %s", f.Method),
			}})
		default:
			select {
			case s.events <- f.request():
			case <-s.quit:
				return
			}
		}
	}
}

func (s *Server) resolve(resp Response) {
	s.mu.Lock()
	ch, ok := s.pending[resp.ID]
	delete(s.pending, resp.ID)
	s.mu.Unlock()
	if !ok {
		log.Printf("socketrpc: response for unknown call %d", resp.ID)
		return
	}
	ch <- callResult{resp: resp}
}

func (s *Server) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case req := <-s.events:
			s.dispatch(req)
		case <-s.quit:
			return
		}
	}
}

func (s *Server) dispatch(req Request) {
	s.mu.Lock()
	handlers := append([]bridge.EventHandler(nil), s.handlers[req.Method]...)
	s.mu.Unlock()
	if len(handlers) == 0 {
		log.Printf("socketrpc: no handler for event %s", req.Method)
		return
	}
	payload := req.Params
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}
	for _, fn := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					log.Printf("socketrpc: %s handler panicked: %v", req.Method, r)
				}
			}()
			fn(payload)
		}()
	}
}
