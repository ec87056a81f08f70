package tui

import (
	"context"
	"errors"
	"fmt"

	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/socketrpc"
	"github.com/tinytelemetry/sepal/internal/trace"
)

// Snapshot is one refresh worth of controller state.
type Snapshot struct {
	HostConnected bool
	Uptime        string
	Nodes         []model.NodeSnapshot
	Channels      map[string]map[string]int
	// Trace is nil when the controller runs without a trace.
	Trace []trace.Entry
}

// Source fetches controller state for the inspector.
type Source interface {
	Fetch(ctx context.Context, traceLimit int) (Snapshot, error)
}

// Inspector is the query surface of a controller's inspect socket.
type Inspector interface {
	Health() (socketrpc.Health, error)
	History() ([]model.NodeSnapshot, error)
	Channels() (map[string]map[string]int, error)
	Trace(limit int) ([]trace.Entry, error)
}

var _ Inspector = (*socketrpc.InspectClient)(nil)

// SocketSource reads controller state through an Inspector.
type SocketSource struct {
	client Inspector
}

var _ Source = (*SocketSource)(nil)

func NewSocketSource(client Inspector) *SocketSource {
	return &SocketSource{client: client}
}

// Fetch reads health, history, channel stats and the trace tail.
func (s *SocketSource) Fetch(ctx context.Context, traceLimit int) (Snapshot, error) {
	var snap Snapshot
	if err := ctx.Err(); err != nil {
		return snap, err
	}

	health, err := s.client.Health()
	if err != nil {
		return snap, fmt.Errorf("tui: health: %w", err)
	}
	snap.Uptime = health.Uptime
	snap.HostConnected = health.HostConnected

	if snap.Nodes, err = s.client.History(); err != nil {
		return snap, fmt.Errorf("tui: history: %w", err)
	}
	if snap.Channels, err = s.client.Channels(); err != nil {
		return snap, fmt.Errorf("tui: channels: %w", err)
	}

	entries, err := s.client.Trace(traceLimit)
	switch {
	case errors.Is(err, socketrpc.ErrTraceDisabled):
	case err != nil:
		return snap, fmt.Errorf("tui: trace: %w", err)
	default:
		snap.Trace = entries
		if snap.Trace == nil {
			snap.Trace = []trace.Entry{}
		}
	}
	return snap, nil
}
