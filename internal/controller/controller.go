// Package controller wires the application context, the navigator and the
// event sequencer into the runtime a host talks to.
package controller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/tinytelemetry/sepal/internal/app"
	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/events"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/navigator"
)

// appReady is the AppReady payload. The host may ship the app config with it.
type appReady struct {
	AppConfig *model.AppConfig `json:"appConfig,omitempty"`
	model.InitParams
}

// Controller is the public face of the runtime. It implements
// model.InspectAPI.
type Controller struct {
	app *app.Context
	nav *navigator.Navigator
	seq *events.Sequencer

	startOnce sync.Once
	readyOnce sync.Once
	ready     chan struct{}

	mu      sync.Mutex
	bootErr error
}

var _ model.InspectAPI = (*Controller)(nil)

func New(ac *app.Context) *Controller {
	nav := navigator.New(ac)
	return &Controller{
		app:   ac,
		nav:   nav,
		seq:   events.New(ac, nav),
		ready: make(chan struct{}),
	}
}

func (c *Controller) App() *app.Context               { return c.app }
func (c *Controller) Navigator() *navigator.Navigator { return c.nav }
func (c *Controller) Sequencer() *events.Sequencer    { return c.seq }

// Start binds every host event. Only the first call binds.
func (c *Controller) Start() {
	c.startOnce.Do(func() {
		c.seq.Bind()
		c.nav.ListenRoute()
		c.app.Host.Bind(bridge.EventAppReady, c.onAppReady)
	})
}

// Ready is closed once the first page has been bootstrapped, successfully
// or not. Err reports the outcome.
func (c *Controller) Ready() <-chan struct{} { return c.ready }

// Err returns the bootstrap error, if any.
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootErr
}

func (c *Controller) onAppReady(payload json.RawMessage) {
	var ev appReady
	if err := json.Unmarshal(payload, &ev); err != nil {
		c.app.Logger.Printf("controller: bad %s payload: %v", bridge.EventAppReady, err)
		return
	}
	if ev.AppConfig != nil {
		c.app.SetConfig(*ev.AppConfig)
	}
	c.app.Go(func() {
		if err := c.Bootstrap(context.Background(), ev.InitParams); err != nil {
			c.app.Logger.Printf("controller: %v", err)
		}
	})
}

// ErrBootstrapped is returned by Bootstrap after the first call.
var ErrBootstrapped = errors.New("controller: already bootstrapped")

// Bootstrap pushes the first page. Later calls return ErrBootstrapped.
func (c *Controller) Bootstrap(ctx context.Context, p model.InitParams) error {
	err := ErrBootstrapped
	c.readyOnce.Do(func() {
		defer close(c.ready)
		if p.PageURL == "" {
			p.PageURL = c.app.Config().Home()
		}
		err = c.nav.PushInitFrame(ctx, p)
		if err != nil {
			err = fmt.Errorf("controller: bootstrap %s: %w", p.PageURL, err)
		} else {
			c.app.Logger.Printf("controller: bootstrapped %s as view %s", p.PageURL, p.SlaveID)
		}
		c.mu.Lock()
		c.bootErr = err
		c.mu.Unlock()
	})
	return err
}

func (c *Controller) NavigateTo(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	return c.nav.NavigateTo(ctx, params)
}

func (c *Controller) RedirectTo(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	return c.nav.RedirectTo(ctx, params)
}

func (c *Controller) SwitchTab(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	return c.nav.SwitchTab(ctx, params)
}

func (c *Controller) ReLaunch(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	return c.nav.ReLaunch(ctx, params)
}

func (c *Controller) NavigateBack(ctx context.Context, params model.NavigationParams) (model.Result, error) {
	return c.nav.NavigateBack(ctx, params)
}

// Snapshot returns the navigation stack, bottom first.
func (c *Controller) Snapshot() []model.NodeSnapshot { return c.nav.Snapshot() }

func (c *Controller) ChannelStats() map[string]map[string]int { return c.app.ChannelStats() }
