// Package channel implements the named publish/subscribe bus that carries
// messages between the controller and its views.
//
// Delivery on one Channel is serialized: a Fire or Subscribe issued while a
// handler is running is queued and performed after that handler returns.
// Handlers therefore never run concurrently or reentrantly on the same
// Channel. Ordering between two Channels is not defined.
package channel

import (
	"log"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/sepal/internal/model"
)

// Handler receives one delivered message.
type Handler func(msg model.Message)

// Option configures a Channel.
type Option func(*Channel)

// WithReplayLimit bounds the per-type history kept for late subscribers.
// Values below 1 fall back to model.DefaultReplayLimit.
func WithReplayLimit(n int) Option {
	return func(c *Channel) {
		if n > 0 {
			c.limit = n
		}
	}
}

// WithLogger sets the logger used for recovered handler panics.
func WithLogger(l *log.Logger) Option {
	return func(c *Channel) {
		if l != nil {
			c.logger = l
		}
	}
}

// SubscribeOption configures one subscription.
type SubscribeOption func(*subscription)

// Once removes the subscription after its first delivery.
func Once() SubscribeOption {
	return func(s *subscription) { s.once = true }
}

// ReplayPrevious delivers already-fired messages of the same type, in
// arrival order, before the subscription starts receiving new ones.
func ReplayPrevious() SubscribeOption {
	return func(s *subscription) { s.replay = true }
}

// ReplayLatest is ReplayPrevious limited to the newest buffered message.
func ReplayLatest() SubscribeOption {
	return func(s *subscription) {
		s.replay = true
		s.latest = true
	}
}

type subscription struct {
	typ     string
	handler Handler
	once    bool
	replay  bool
	latest  bool
	done    atomic.Bool
}

// take reports whether the subscription may receive a message now.
// A once subscription is consumed by the first successful take.
func (s *subscription) take() bool {
	if s.once {
		return s.done.CompareAndSwap(false, true)
	}
	return !s.done.Load()
}

// Channel is a named asynchronous publish/subscribe bus with bounded replay.
type Channel struct {
	name   string
	limit  int
	logger *log.Logger

	mu       sync.Mutex
	subs     map[string][]*subscription
	history  map[string][]model.Message
	fired    map[string]int
	queue    []func()
	draining bool
}

// New creates a Channel.
func New(name string, opts ...Option) *Channel {
	c := &Channel{
		name:    name,
		limit:   model.DefaultReplayLimit,
		logger:  log.Default(),
		subs:    make(map[string][]*subscription),
		history: make(map[string][]model.Message),
		fired:   make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the channel name.
func (c *Channel) Name() string { return c.name }

// Fire delivers msg to every current subscriber of msg.Type and then records
// it in the per-type history, evicting the oldest entry when full.
func (c *Channel) Fire(msg model.Message) {
	c.enqueue(func() { c.deliver(msg) })
}

// Subscribe registers handler for messages of type typ and returns a func
// that cancels the subscription. Cancelling more than once is harmless.
func (c *Channel) Subscribe(typ string, handler Handler, opts ...SubscribeOption) (cancel func()) {
	sub := &subscription{typ: typ, handler: handler}
	for _, opt := range opts {
		opt(sub)
	}
	c.enqueue(func() { c.attach(sub) })
	return func() { c.remove(sub) }
}

// Stats returns the number of messages fired per type.
func (c *Channel) Stats() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.fired))
	for k, v := range c.fired {
		out[k] = v
	}
	return out
}

// Pending returns the buffered history for typ, oldest first.
func (c *Channel) Pending(typ string) []model.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]model.Message(nil), c.history[typ]...)
}

// Forget drops the buffered history and the fired count of typ. Like Fire it
// is serialized with delivery, so messages fired earlier are dropped too.
func (c *Channel) Forget(typ string) {
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.history, typ)
		delete(c.fired, typ)
	})
}

// ForgetFrom drops the buffered messages of typ sent by view id. Messages
// from other views stay replayable.
func (c *Channel) ForgetFrom(typ string, id model.FrameID) {
	c.enqueue(func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		var kept []model.Message
		for _, msg := range c.history[typ] {
			if msg.SlaveID != id {
				kept = append(kept, msg)
			}
		}
		if len(kept) == 0 {
			delete(c.history, typ)
			return
		}
		c.history[typ] = kept
	})
}

// enqueue appends a task and drains the queue unless another caller is
// already draining it. Tasks issued from inside a handler land here and run
// once the current handler returns.
func (c *Channel) enqueue(task func()) {
	c.mu.Lock()
	c.queue = append(c.queue, task)
	if c.draining {
		c.mu.Unlock()
		return
	}
	c.draining = true
	for len(c.queue) > 0 {
		next := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		c.mu.Unlock()
		next()
		c.mu.Lock()
	}
	c.draining = false
	c.mu.Unlock()
}

func (c *Channel) deliver(msg model.Message) {
	c.mu.Lock()
	subs := append([]*subscription(nil), c.subs[msg.Type]...)
	c.mu.Unlock()

	for _, sub := range subs {
		if !sub.take() {
			continue
		}
		c.invoke(sub, msg)
		if sub.once {
			c.remove(sub)
		}
	}

	c.mu.Lock()
	h := append(c.history[msg.Type], msg)
	if len(h) > c.limit {
		h = append([]model.Message(nil), h[len(h)-c.limit:]...)
	}
	c.history[msg.Type] = h
	c.fired[msg.Type]++
	c.mu.Unlock()
}

func (c *Channel) attach(sub *subscription) {
	if sub.replay {
		pending := c.Pending(sub.typ)
		if sub.latest && len(pending) > 1 {
			pending = pending[len(pending)-1:]
		}
		for _, msg := range pending {
			if !sub.take() {
				return
			}
			c.invoke(sub, msg)
			if sub.once {
				return
			}
		}
	}
	if sub.done.Load() {
		return
	}
	c.mu.Lock()
	c.subs[sub.typ] = append(c.subs[sub.typ], sub)
	c.mu.Unlock()
}

func (c *Channel) remove(sub *subscription) {
	sub.done.Store(true)
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.subs[sub.typ]
	for i, s := range list {
		if s == sub {
			c.subs[sub.typ] = append(list[:i:i], list[i+1:]...)
			break
		}
	}
	if len(c.subs[sub.typ]) == 0 {
		delete(c.subs, sub.typ)
	}
}

func (c *Channel) invoke(sub *subscription, msg model.Message) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Printf("channel: %s: handler for %q panicked: %v", c.name, msg.Type, r)
		}
	}()
	sub.handler(msg)
}
