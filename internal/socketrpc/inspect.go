package socketrpc

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/trace"
)

const maxTraceLimit = 10_000

// ErrTraceDisabled is returned by InspectClient.Trace when the controller
// runs without a trace.
var ErrTraceDisabled = errors.New("socketrpc: trace is disabled")

// Health is the result of the Health method.
type Health struct {
	Uptime        string `json:"uptime"`
	StackDepth    int    `json:"stack_depth"`
	HostConnected bool   `json:"host_connected"`
}

// TraceTailer reads the latest trace entries.
type TraceTailer interface {
	Tail(n int) ([]trace.Entry, error)
}

// InspectOption configures optional collaborators of an InspectServer.
type InspectOption func(*InspectServer)

// WithInspectTrace enables the Trace method.
func WithInspectTrace(t TraceTailer) InspectOption {
	return func(s *InspectServer) { s.trace = t }
}

// WithInspectHost reports the bridge state in Health.
func WithInspectHost(h interface{ Connected() bool }) InspectOption {
	return func(s *InspectServer) { s.host = h }
}

// InspectServer answers read-only controller queries over a Unix socket.
type InspectServer struct {
	socketPath string
	state      model.InspectAPI
	trace      TraceTailer
	host       interface{ Connected() bool }
	listener   net.Listener
	wg         sync.WaitGroup
	quit       chan struct{}
	stopOnce   sync.Once
	startTime  time.Time
}

// NewInspectServer creates an inspect server over state.
func NewInspectServer(socketPath string, state model.InspectAPI, opts ...InspectOption) *InspectServer {
	s := &InspectServer{
		socketPath: socketPath,
		state:      state,
		quit:       make(chan struct{}),
		startTime:  time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start begins listening on the inspect socket.
func (s *InspectServer) Start() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0755); err != nil {
		return fmt.Errorf("socketrpc: inspect mkdir: %w", err)
	}
	if _, err := os.Stat(s.socketPath); err == nil {
		conn, dialErr := net.DialTimeout("unix", s.socketPath, 500*time.Millisecond)
		if dialErr != nil {
			os.Remove(s.socketPath)
		} else {
			conn.Close()
			return fmt.Errorf("socketrpc: inspect socket %s is in use", s.socketPath)
		}
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("socketrpc: inspect listen: %w", err)
	}
	s.listener = ln
	s.startTime = time.Now()

	s.wg.Add(1)
	go s.acceptLoop()
	return nil
}

// Stop closes the listener, waits for open connections and removes the
// socket file.
func (s *InspectServer) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		os.Remove(s.socketPath)
	})
}

// Path returns the socket path.
func (s *InspectServer) Path() string { return s.socketPath }

func (s *InspectServer) acceptLoop() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				log.Printf("socketrpc: inspect accept error: %v", err)
				continue
			}
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *InspectServer) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-s.quit:
			conn.Close()
		case <-stop:
		}
	}()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, scannerInitBufSize), scannerMaxTokenSize)
	encoder := json.NewEncoder(conn)

	for scanner.Scan() {
		var req Request
		if err := json.Unmarshal(scanner.Bytes(), &req); err != nil {
			encoder.Encode(Response{JSONRPC: "2.0", ID: 0, Error: &RPCError{Code: CodeParseError, Message: "parse error"}})
			continue
		}
		if err := encoder.Encode(s.dispatch(req)); err != nil {
			return
		}
	}
}

func (s *InspectServer) dispatch(req Request) Response {
	resp := Response{JSONRPC: "2.0", ID: req.ID}

	marshalResult := func(v any) Response {
		data, err := json.Marshal(v)
		if err != nil {
			resp.Error = &RPCError{Code: CodeInternal, Message: err.Error()}
			return resp
		}
		resp.Result = data
		return resp
	}

	switch req.Method {
	case "Health":
		h := Health{
			Uptime:     time.Since(s.startTime).Round(time.Second).String(),
			StackDepth: len(s.state.Snapshot()),
		}
		if s.host != nil {
			h.HostConnected = s.host.Connected()
		}
		return marshalResult(h)

	case "History":
		nodes := s.state.Snapshot()
		if nodes == nil {
			nodes = []model.NodeSnapshot{}
		}
		return marshalResult(nodes)

	case "Channels":
		return marshalResult(s.state.ChannelStats())

	case "Trace":
		if s.trace == nil {
			resp.Error = &RPCError{Code: CodeTraceDisabled, Message: "trace is disabled"}
			return resp
		}
		var p struct{ Limit int }
		if err := json.Unmarshal(req.Params, &p); err != nil || p.Limit <= 0 {
			resp.Error = &RPCError{Code: CodeInvalidParams, Message: "invalid params: Limit must be a positive integer"}
			return resp
		}
		entries, err := s.trace.Tail(min(p.Limit, maxTraceLimit))
		if err != nil {
			resp.Error = &RPCError{Code: CodeApplication, Message: err.Error()}
			return resp
		}
		if entries == nil {
			entries = []trace.Entry{}
		}
		return marshalResult(entries)

	default:
		resp.Error = &RPCError{Code: CodeMethodNotFound, Message: fmt.Sprintf("method not found: %s", req.Method)}
		return resp
	}
}
