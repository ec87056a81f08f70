// Package httpserver serves the devtools API of a running controller.
package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/navigator"
	"github.com/tinytelemetry/sepal/internal/trace"
)

const (
	// DefaultAddr is the API listen address when none is configured.
	DefaultAddr = "127.0.0.1:3100"

	defaultTraceLimit = 100
	maxTraceLimit     = 10_000
)

// TraceReader is the narrow trace contract required by the HTTP API.
type TraceReader interface {
	Tail(n int) ([]trace.Entry, error)
}

// HostStatus reports whether a host is attached to the bridge.
type HostStatus interface {
	Connected() bool
}

// Option configures optional collaborators.
type Option func(*Server)

// WithTrace enables GET /api/trace.
func WithTrace(t TraceReader) Option {
	return func(s *Server) { s.trace = t }
}

// WithHostStatus adds the bridge state to GET /api/health.
func WithHostStatus(h HostStatus) Option {
	return func(s *Server) { s.host = h }
}

// Server provides an HTTP API for inspecting and driving a controller.
type Server struct {
	addr      string
	api       model.InspectAPI
	trace     TraceReader
	host      HostStatus
	server    *http.Server
	listener  net.Listener
	ctx       context.Context
	cancel    context.CancelFunc
	startTime time.Time
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, api model.InspectAPI, opts ...Option) *Server {
	if addr == "" {
		addr = DefaultAddr
	}
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		addr:      addr,
		api:       api,
		ctx:       ctx,
		cancel:    cancel,
		startTime: time.Now(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/api/health", s.handleHealth)
	r.GET("/api/history", s.handleHistory)
	r.GET("/api/channels", s.handleChannels)
	r.GET("/api/trace", s.handleTrace)
	r.POST("/api/navigate", s.handleNavigate)
	return r
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	gin.SetMode(gin.ReleaseMode)

	s.server = &http.Server{
		Handler:           s.router(),
		BaseContext:       func(_ net.Listener) context.Context { return s.ctx },
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      60 * time.Second,
	}

	listener, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("httpserver: listen %s: %w", s.addr, err)
	}
	s.listener = listener
	s.startTime = time.Now()

	go s.server.Serve(listener)
	return nil
}

// Addr returns the active listen address.
// Before Start, it returns the configured address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop() error {
	s.cancel()
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func (s *Server) handleHealth(c *gin.Context) {
	body := gin.H{
		"status":      "ok",
		"uptime":      time.Since(s.startTime).String(),
		"stack_depth": len(s.api.Snapshot()),
	}
	if s.host != nil {
		body["host_connected"] = s.host.Connected()
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleHistory(c *gin.Context) {
	snap := s.api.Snapshot()
	if snap == nil {
		snap = []model.NodeSnapshot{}
	}
	c.JSON(http.StatusOK, gin.H{
		"depth": len(snap),
		"nodes": snap,
	})
}

func (s *Server) handleChannels(c *gin.Context) {
	c.JSON(http.StatusOK, s.api.ChannelStats())
}

func (s *Server) handleTrace(c *gin.Context) {
	if s.trace == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "trace is disabled"})
		return
	}
	limit := defaultTraceLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = min(n, maxTraceLimit)
	}
	entries, err := s.trace.Tail(limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read trace"})
		return
	}
	if entries == nil {
		entries = []trace.Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}

type navigateRequest struct {
	Op    string `json:"op" binding:"required"`
	URL   string `json:"url"`
	Delta int    `json:"delta"`
	Force bool   `json:"force"`
}

func (s *Server) handleNavigate(c *gin.Context) {
	var req navigateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid JSON body or missing op field"})
		return
	}

	var fn func(context.Context, model.NavigationParams) (model.Result, error)
	switch req.Op {
	case bridge.OpNavigateTo:
		fn = s.api.NavigateTo
	case bridge.OpRedirectTo:
		fn = s.api.RedirectTo
	case bridge.OpSwitchTab:
		fn = s.api.SwitchTab
	case bridge.OpReLaunch:
		fn = s.api.ReLaunch
	case bridge.OpNavigateBack:
		fn = s.api.NavigateBack
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("unknown op %q", req.Op)})
		return
	}
	if req.Op != bridge.OpNavigateBack && req.URL == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "url is required"})
		return
	}

	res, err := fn(c.Request.Context(), model.NavigationParams{URL: req.URL, Delta: req.Delta, Force: req.Force})
	if err != nil {
		c.JSON(statusFor(err), gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, res)
}

func statusFor(err error) int {
	var hostErr *bridge.HostError
	switch {
	case errors.Is(err, navigator.ErrPageNotFound), errors.Is(err, navigator.ErrTabNotFound):
		return http.StatusNotFound
	case errors.Is(err, navigator.ErrBackInFlight):
		return http.StatusConflict
	case errors.Is(err, navigator.ErrEmptyHistory):
		return http.StatusServiceUnavailable
	case errors.As(err, &hostErr):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
