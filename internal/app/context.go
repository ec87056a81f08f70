// Package app holds the application context shared by the navigator, the
// event sequencer and the frames they create.
package app

import (
	"log"
	"sync"

	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/channel"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/page"
)

// Channel names.
const (
	ChannelViews         = "views"
	ChannelLifecycle     = "lifecycle"
	ChannelPageLifecycle = "page-lifecycle"
)

// PageChecker reports whether a page constructor is registered for a path.
type PageChecker interface {
	Has(path string) bool
}

// Context is the explicit dependency set handed to every core component.
type Context struct {
	Host      bridge.Host
	Pages     page.Factory
	Known     PageChecker
	Resources *Resources

	// Views carries messages exchanged with rendering contexts.
	Views *channel.Channel
	// Lifecycle relays host lifecycle events (onShow, onHide, ...).
	Lifecycle *channel.Channel
	// PageLifecycle carries controller-side page lifecycle announcements.
	PageLifecycle *channel.Channel

	NotFound func(model.PageNotFound)
	Logger   *log.Logger

	// Go runs navigation triggered by host events. It must not block the
	// caller, since the host dispatcher is waiting on it.
	Go func(func())

	mu  sync.RWMutex
	cfg model.AppConfig
}

// Option configures a Context.
type Option func(*options)

type options struct {
	pages       page.Factory
	known       PageChecker
	logger      *log.Logger
	replayLimit int
	notFound    func(model.PageNotFound)
	runner      func(func())
}

// WithPages sets the page factory. A *page.Registry also serves existence checks.
func WithPages(f page.Factory) Option {
	return func(o *options) {
		o.pages = f
		if c, ok := f.(PageChecker); ok && o.known == nil {
			o.known = c
		}
	}
}

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithReplayLimit(n int) Option {
	return func(o *options) { o.replayLimit = n }
}

// WithRunner replaces the default goroutine runner. Tests pass a runner that
// calls f inline.
func WithRunner(run func(func())) Option {
	return func(o *options) { o.runner = run }
}

// WithNotFound sets the page-not-found collaborator.
func WithNotFound(fn func(model.PageNotFound)) Option {
	return func(o *options) { o.notFound = fn }
}

// New builds a Context around host.
func New(host bridge.Host, cfg model.AppConfig, opts ...Option) *Context {
	o := options{replayLimit: model.DefaultReplayLimit}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.pages == nil {
		reg := page.NewRegistry(nil)
		o.pages = reg
		if o.known == nil {
			o.known = reg
		}
	}
	if o.runner == nil {
		o.runner = func(f func()) { go f() }
	}
	chanOpts := []channel.Option{channel.WithReplayLimit(o.replayLimit), channel.WithLogger(o.logger)}
	ctx := &Context{
		Host:          host,
		Pages:         o.pages,
		Known:         o.known,
		Resources:     NewResources(true),
		Views:         channel.New(ChannelViews, chanOpts...),
		Lifecycle:     channel.New(ChannelLifecycle, chanOpts...),
		PageLifecycle: channel.New(ChannelPageLifecycle, chanOpts...),
		NotFound:      o.notFound,
		Logger:        o.logger,
		Go:            o.runner,
		cfg:           cfg,
	}
	return ctx
}

// Config returns the current application config.
func (c *Context) Config() model.AppConfig {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.cfg
}

// SetConfig replaces the application config, typically with the one the
// host delivers at AppReady.
func (c *Context) SetConfig(cfg model.AppConfig) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cfg = cfg
}

// PageNotFound reports a missing destination to the application.
func (c *Context) PageNotFound(ev model.PageNotFound) {
	if c.NotFound == nil {
		c.Logger.Printf("app: page not found: %s", ev.Page)
		return
	}
	page.Safely(c.Logger, "onPageNotFound", func() { c.NotFound(ev) })
}

// ChannelStats returns per-type fired counts for each channel.
func (c *Context) ChannelStats() map[string]map[string]int {
	return map[string]map[string]int{
		c.Views.Name():         c.Views.Stats(),
		c.Lifecycle.Name():     c.Lifecycle.Stats(),
		c.PageLifecycle.Name(): c.PageLifecycle.Stats(),
	}
}
