package tui

import (
	"context"
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
)

// TickMsg triggers a periodic refresh.
type TickMsg time.Time

// SnapshotMsg carries the result of one fetch.
type SnapshotMsg struct {
	Snapshot
	Err error
	At  time.Time
}

const (
	minInterval       = 250 * time.Millisecond
	maxInterval       = 30 * time.Second
	defaultTraceLimit = 200
)

// Poller owns the refresh loop: it schedules ticks and issues at most one
// fetch at a time.
type Poller struct {
	src        Source
	interval   time.Duration
	traceLimit int

	paused     bool
	inFlight   bool
	lastUpdate time.Time
	lastErr    error
	connected  bool
}

// NewPoller creates a poller over src refreshing every interval.
func NewPoller(src Source, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{
		src:        src,
		interval:   clampInterval(interval),
		traceLimit: defaultTraceLimit,
	}
}

// Interval returns the current refresh interval.
func (p *Poller) Interval() time.Duration { return p.interval }

// Paused reports whether periodic fetches are suspended.
func (p *Poller) Paused() bool { return p.paused }

// Init fetches immediately and starts ticking.
func (p *Poller) Init() tea.Cmd {
	return tea.Batch(p.fetch(), p.tick())
}

// Update handles TickMsg and SnapshotMsg.
func (p *Poller) Update(msg tea.Msg) tea.Cmd {
	switch msg := msg.(type) {
	case TickMsg:
		if p.paused || p.inFlight {
			return p.tick()
		}
		return tea.Batch(p.fetch(), p.tick())
	case SnapshotMsg:
		p.inFlight = false
		p.lastErr = msg.Err
		if msg.Err == nil {
			p.lastUpdate = msg.At
			p.connected = msg.HostConnected
		}
	}
	return nil
}

// Refresh fetches now unless a fetch is already running.
func (p *Poller) Refresh() tea.Cmd {
	if p.inFlight {
		return nil
	}
	return p.fetch()
}

// TogglePause suspends or resumes periodic fetches.
func (p *Poller) TogglePause() { p.paused = !p.paused }

// SlowDown doubles the refresh interval.
func (p *Poller) SlowDown() { p.interval = clampInterval(p.interval * 2) }

// SpeedUp halves the refresh interval.
func (p *Poller) SpeedUp() { p.interval = clampInterval(p.interval / 2) }

// Status renders a one-line summary of the refresh state.
func (p *Poller) Status() string {
	state := "live"
	if p.paused {
		state = "paused"
	}
	host := "host detached"
	if p.connected {
		host = "host attached"
	}
	s := fmt.Sprintf("%s every %s | %s", state, p.interval, host)
	if !p.lastUpdate.IsZero() {
		s += " | updated " + p.lastUpdate.Format("15:04:05")
	}
	if p.lastErr != nil {
		s += " | " + errorStyle.Render(p.lastErr.Error())
	}
	return s
}

func (p *Poller) tick() tea.Cmd {
	return tea.Tick(p.interval, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

func (p *Poller) fetch() tea.Cmd {
	p.inFlight = true
	src, limit, timeout := p.src, p.traceLimit, p.interval+5*time.Second
	return func() tea.Msg {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		snap, err := src.Fetch(ctx, limit)
		return SnapshotMsg{Snapshot: snap, Err: err, At: time.Now()}
	}
}

func clampInterval(d time.Duration) time.Duration {
	return min(max(d, minInterval), maxInterval)
}
