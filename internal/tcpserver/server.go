// Package tcpserver accepts view message streams from rendering contexts.
package tcpserver

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinytelemetry/sepal/internal/model"
)

const (
	// DefaultAddr is where rendering contexts connect when no address is configured.
	DefaultAddr = "127.0.0.1:4100"

	// DefaultLineChannelSize bounds view lines waiting for the processor.
	DefaultLineChannelSize = 10_000

	// DefaultMaxLineSize caps one view message line.
	DefaultMaxLineSize = 1024 * 1024
)

// ServerConfig tunes the ingress. Zero fields keep the defaults; a zero
// IdleTimeout keeps quiet views connected forever.
type ServerConfig struct {
	LineChannelSize int
	MaxLineSize     int
	IdleTimeout     time.Duration
}

// Server receives newline-delimited view messages. Each rendering context
// keeps one connection open and writes one JSON message, or a JSON array of
// messages, per line.
type Server struct {
	addr     string
	conf     ServerConfig
	listener net.Listener
	lines    chan model.Envelope
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	mu    sync.Mutex
	views map[net.Conn]string

	dropped atomic.Int64
}

// NewServer creates the ingress for addr, DefaultAddr when empty.
func NewServer(addr string, conf ...ServerConfig) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	c := ServerConfig{LineChannelSize: DefaultLineChannelSize, MaxLineSize: DefaultMaxLineSize}
	if len(conf) > 0 {
		if conf[0].LineChannelSize > 0 {
			c.LineChannelSize = conf[0].LineChannelSize
		}
		if conf[0].MaxLineSize > 0 {
			c.MaxLineSize = conf[0].MaxLineSize
		}
		if conf[0].IdleTimeout > 0 {
			c.IdleTimeout = conf[0].IdleTimeout
		}
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   addr,
		conf:   c,
		lines:  make(chan model.Envelope, c.LineChannelSize),
		ctx:    ctx,
		cancel: cancel,
		views:  make(map[net.Conn]string),
	}
}

// Start listens and accepts view connections in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("tcpserver: listen %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.acceptViews()
	return nil
}

func (s *Server) acceptViews() {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			log.Printf("tcpserver: accept: %v", err)
			continue
		}
		if !s.track(conn) {
			conn.Close()
			return
		}
		s.wg.Add(1)
		go s.readView(conn)
	}
}

// track registers a view connection unless the server is stopping.
func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctx.Err() != nil {
		return false
	}
	s.views[conn] = conn.RemoteAddr().String()
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.views, conn)
}

// readView forwards every non-blank line of one view connection.
func (s *Server) readView(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()
	defer s.untrack(conn)

	peer := conn.RemoteAddr().String()
	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, min(4096, s.conf.MaxLineSize)), s.conf.MaxLineSize)

	for {
		if s.conf.IdleTimeout > 0 {
			conn.SetReadDeadline(time.Now().Add(s.conf.IdleTimeout))
		}
		if !scanner.Scan() {
			break
		}
		line := strings.TrimRight(scanner.Text(), "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		select {
		case s.lines <- model.Envelope{Source: "tcp", Line: line, Peer: peer}:
		case <-s.ctx.Done():
			return
		}
	}

	err := scanner.Err()
	var netErr net.Error
	switch {
	case err == nil, s.ctx.Err() != nil:
	case errors.Is(err, bufio.ErrTooLong):
		s.dropped.Add(1)
		log.Printf("tcpserver: view %s: line over %d bytes, connection dropped", peer, s.conf.MaxLineSize)
	case errors.As(err, &netErr) && netErr.Timeout():
		s.dropped.Add(1)
		log.Printf("tcpserver: view %s: idle for %s, connection dropped", peer, s.conf.IdleTimeout)
	default:
		log.Printf("tcpserver: view %s: read: %v", peer, err)
	}
}

// Stop closes the listener and every view connection, waits for readers to
// return, then closes Lines. It is safe to call more than once.
func (s *Server) Stop() error {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.cancel()
		for conn := range s.views {
			conn.Close()
		}
		s.mu.Unlock()
		if s.listener != nil {
			s.listener.Close()
		}
		s.wg.Wait()
		close(s.lines)
	})
	return nil
}

// Lines returns received view lines. It is closed by Stop.
func (s *Server) Lines() <-chan model.Envelope {
	return s.lines
}

// Views returns the remote addresses of the connected views.
func (s *Server) Views() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.views))
	for _, peer := range s.views {
		out = append(out, peer)
	}
	return out
}

// Dropped counts view connections closed for an oversized line or idling.
func (s *Server) Dropped() int64 { return s.dropped.Load() }

// Addr returns the bound address once started, the configured one before.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}
