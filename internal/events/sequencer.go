// Package events routes host and view events to the page objects of the
// frames on the navigation stack, in the order pages expect them.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/sepal/internal/app"
	"github.com/tinytelemetry/sepal/internal/bridge"
	"github.com/tinytelemetry/sepal/internal/channel"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/navigator"
	"github.com/tinytelemetry/sepal/internal/page"
)

// Sequencer binds host events and channel messages and re-dispatches them
// to pages. A page's OnShow never runs before its OnLoad, and OnReady runs
// at most once per page load.
type Sequencer struct {
	app     *app.Context
	nav     *navigator.Navigator
	history *navigator.History

	mu      sync.Mutex
	shows   map[model.FrameID]func()
	renders map[model.FrameID]func()
	taps    map[string]model.TabTap

	bindOnce sync.Once
}

func New(ac *app.Context, nav *navigator.Navigator) *Sequencer {
	return &Sequencer{
		app:     ac,
		nav:     nav,
		history: nav.History(),
		shows:   make(map[model.FrameID]func()),
		renders: make(map[model.FrameID]func()),
		taps:    make(map[string]model.TabTap),
	}
}

// Bind registers every handler. Only the first call has an effect.
func (s *Sequencer) Bind() {
	s.bindOnce.Do(func() {
		s.bindPrivateEvents()
		s.bindDeveloperEvents()
		s.bindEnvironmentEvents()
		s.bindHostRelays()
		s.bindLifecycleEvents()
	})
}

// CallEventOccurredPageMethod delivers a named event to the page of frame id.
// It reports whether such a frame is on the stack.
func (s *Sequencer) CallEventOccurredPageMethod(id model.FrameID, name string, params json.RawMessage) bool {
	f := s.history.Seek(string(id))
	if f == nil {
		return false
	}
	page.Event(s.app.Logger, f.Page(), name, params)
	return true
}

// DispatchAll delivers a named event to every page, inactive tabs included.
func (s *Sequencer) DispatchAll(name string, params json.RawMessage) {
	s.history.EachFrame(func(f *navigator.Frame) {
		page.Event(s.app.Logger, f.Page(), name, params)
	})
}

func (s *Sequencer) pageOf(id model.FrameID) page.Page {
	if id == "" {
		return nil
	}
	if f := s.history.Seek(string(id)); f != nil {
		return f.Page()
	}
	return nil
}

func (s *Sequencer) bindPrivateEvents() {
	s.app.Views.Subscribe(model.MsgAbilityMessage, func(msg model.Message) {
		var ab model.Ability
		if err := msg.Decode(&ab); err != nil {
			s.app.Logger.Printf("events: bad ability message from %s: %v", msg.SlaveID, err)
			return
		}
		if ab.Type == model.AbilityRendered {
			return
		}
		s.CallEventOccurredPageMethod(msg.SlaveID, ab.Type, ab.Params)
	})
}

func (s *Sequencer) bindDeveloperEvents() {
	s.app.Views.Subscribe(model.MsgEvent, func(msg model.Message) {
		var ev model.DeveloperEvent
		if err := msg.Decode(&ev); err != nil {
			s.app.Logger.Printf("events: bad developer event from %s: %v", msg.SlaveID, err)
			return
		}
		if ev.ReflectMethod == "" {
			return
		}
		page.CallMethod(s.app.Logger, s.pageOf(msg.SlaveID), ev.ReflectMethod, msg.Value)
	})
}

func (s *Sequencer) bindEnvironmentEvents() {
	s.app.Host.Bind(bridge.EventShareButton, func(payload json.RawMessage) {
		var ev struct {
			WvID model.FrameID `json:"wvID"`
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.app.Logger.Printf("events: bad %s event: %v", bridge.EventShareButton, err)
			return
		}
		s.CallEventOccurredPageMethod(ev.WvID, "share", payload)
	})

	s.app.Host.Bind(bridge.EventAccountChange, func(payload json.RawMessage) {
		s.DispatchAll(bridge.EventAccountChange, payload)
	})

	s.app.Host.Bind(bridge.EventBackToHome, func(payload json.RawMessage) {
		var ev struct {
			URL  string `json:"url"`
			From string `json:"from"`
		}
		if err := json.Unmarshal(payload, &ev); err != nil {
			s.app.Logger.Printf("events: bad %s event: %v", bridge.EventBackToHome, err)
			return
		}
		if top := s.history.Top(); top != nil && ev.From != "menu" && top.Current().AccessURI() == ev.URL {
			return
		}
		s.app.Go(func() {
			if _, err := s.nav.ReLaunch(context.Background(), model.NavigationParams{URL: "/" + ev.URL}); err != nil {
				s.app.Logger.Printf("events: backtohome: %v", err)
			}
		})
	})
}

// bindHostRelays forwards host lifecycle notifications and view messages
// into the controller channels.
func (s *Sequencer) bindHostRelays() {
	s.app.Host.Bind(bridge.EventLifecycle, func(payload json.RawMessage) {
		var ev model.LifecycleEvent
		if err := json.Unmarshal(payload, &ev); err != nil || ev.LcType == "" {
			s.app.Logger.Printf("events: bad lifecycle event: %s", payload)
			return
		}
		var target struct {
			WvID model.FrameID `json:"wvID"`
		}
		if len(ev.Event) > 0 {
			_ = json.Unmarshal(ev.Event, &target)
		}
		typ := ev.LcType
		if typ == model.MsgShow {
			typ = model.ShowKey(target.WvID)
		}
		s.app.Lifecycle.Fire(model.Message{Type: typ, SlaveID: target.WvID, Value: ev.Event})
	})

	s.app.Host.Bind(bridge.EventMessage, func(payload json.RawMessage) {
		var msg model.Message
		if err := json.Unmarshal(payload, &msg); err != nil || msg.Type == "" {
			s.app.Logger.Printf("events: bad view message: %s", payload)
			return
		}
		s.app.Views.Fire(msg)
	})
}

func (s *Sequencer) bindLifecycleEvents() {
	s.app.PageLifecycle.Subscribe(model.MsgPageLifecycle, func(msg model.Message) {
		var ev model.PageLifecycleEvent
		if err := msg.Decode(&ev); err != nil {
			s.app.Logger.Printf("events: bad page lifecycle message: %v", err)
			return
		}
		switch ev.EventName {
		case "onLoad":
			s.armShow(ev.SlaveID)
		case "onUnload":
			s.release(ev.SlaveID)
		}
	}, channel.ReplayPrevious())

	s.app.PageLifecycle.Subscribe(model.MsgTabItemTap, func(msg model.Message) {
		var notice model.TabTapNotice
		if err := msg.Decode(&notice); err != nil {
			s.app.Logger.Printf("events: bad tab tap message: %v", err)
			return
		}
		s.onTabItemTap(notice)
	}, channel.ReplayPrevious())

	s.app.Lifecycle.Subscribe(model.MsgHide, func(msg model.Message) {
		page.Hide(s.app.Logger, s.pageOf(msg.SlaveID), msg.Value)
	}, channel.ReplayPrevious())

	s.app.Host.Bind(bridge.EventTabItemTap, func(payload json.RawMessage) {
		var tap model.TabTap
		if err := json.Unmarshal(payload, &tap); err != nil {
			s.app.Logger.Printf("events: bad %s event: %v", bridge.EventTabItemTap, err)
			return
		}
		s.app.PageLifecycle.Fire(model.NewMessage(model.MsgTabItemTap, tap.WvID, model.TabTapNotice{Event: tap}))
	})

	s.app.Host.Bind(bridge.EventForceReLaunch, s.onForceReLaunch)
}

// armShow waits for onShow of a freshly loaded page. Only the newest show
// that arrived before the load is replayed; it also arms the render-complete
// signal.
func (s *Sequencer) armShow(id model.FrameID) {
	if id == "" {
		s.app.Logger.Printf("events: onLoad without a view id")
		return
	}
	key := model.ShowKey(id)
	stopShow := s.app.Lifecycle.Subscribe(key, func(msg model.Message) {
		page.Show(s.app.Logger, s.pageOf(id), msg.Value)
	}, channel.ReplayLatest())
	stopArm := s.app.Lifecycle.Subscribe(key, func(model.Message) {
		s.emitPageRender(id)
	}, channel.ReplayLatest(), channel.Once())

	s.mu.Lock()
	prev := s.shows[id]
	s.shows[id] = func() {
		stopShow()
		stopArm()
	}
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

// release drops everything held for view id once its page is unloaded, so a
// page loaded later under the same id starts from a clean slate.
func (s *Sequencer) release(id model.FrameID) {
	if id == "" {
		return
	}
	s.mu.Lock()
	stopShow := s.shows[id]
	stopRender := s.renders[id]
	delete(s.shows, id)
	delete(s.renders, id)
	s.mu.Unlock()
	if stopShow != nil {
		stopShow()
	}
	if stopRender != nil {
		stopRender()
	}
	s.app.Lifecycle.Forget(model.ShowKey(id))
	s.app.Views.ForgetFrom(model.MsgAbilityMessage, id)
}

// Tracked returns how many views currently hold show or render state.
func (s *Sequencer) Tracked() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.shows)
	for id := range s.renders {
		if _, ok := s.shows[id]; !ok {
			n++
		}
	}
	return n
}

// emitPageRender delivers OnReady once the view reports its first render.
func (s *Sequencer) emitPageRender(id model.FrameID) {
	var fired atomic.Bool
	cancel := s.app.Views.Subscribe(model.MsgAbilityMessage, func(msg model.Message) {
		if msg.SlaveID != id {
			return
		}
		var ab model.Ability
		if err := msg.Decode(&ab); err != nil || ab.Type != model.AbilityRendered {
			return
		}
		if !fired.CompareAndSwap(false, true) {
			return
		}
		page.Ready(s.app.Logger, s.pageOf(id))

		s.mu.Lock()
		stop := s.renders[id]
		delete(s.renders, id)
		s.mu.Unlock()
		if stop != nil {
			stop()
		}
	}, channel.ReplayPrevious())

	s.mu.Lock()
	if fired.Load() {
		s.mu.Unlock()
		cancel()
		return
	}
	prev := s.renders[id]
	s.renders[id] = cancel
	s.mu.Unlock()
	if prev != nil {
		prev()
	}
}

func tapKey(index int, pagePath string) string {
	p, _ := model.SplitURL(strings.TrimPrefix(strings.TrimSpace(pagePath), "/"))
	return fmt.Sprintf("%d:%s", index, p)
}

// onTabItemTap delivers a tab tap. A tap for a page that is not on the stack
// yet is held until the matching tab switch completes.
func (s *Sequencer) onTabItemTap(notice model.TabTapNotice) {
	ev := notice.Event
	key := tapKey(ev.Index, ev.PagePath)
	if notice.From == "switchTab" {
		s.mu.Lock()
		held, ok := s.taps[key]
		delete(s.taps, key)
		s.mu.Unlock()
		if ok {
			page.TabTap(s.app.Logger, s.pageOf(ev.WvID), held)
		}
		return
	}
	if p := s.pageOf(ev.WvID); p != nil {
		page.TabTap(s.app.Logger, p, ev)
		return
	}
	s.mu.Lock()
	s.taps[key] = ev
	s.mu.Unlock()
}

// PendingTaps returns how many tab taps are waiting for their page.
func (s *Sequencer) PendingTaps() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.taps)
}

func (s *Sequencer) onForceReLaunch(payload json.RawMessage) {
	var ev struct {
		SlaveID  model.FrameID `json:"slaveId"`
		HomePath string        `json:"homePath"`
		PagePath string        `json:"pagePath"`
	}
	if err := json.Unmarshal(payload, &ev); err != nil {
		s.app.Logger.Printf("events: bad %s event: %v", bridge.EventForceReLaunch, err)
		return
	}
	home := ev.HomePath
	if home == "" {
		home = s.app.Config().Home()
	}

	if p := s.pageOf(ev.SlaveID); p != nil {
		dest, ok := page.ForceReLaunch(s.app.Logger, p, page.ForceReLaunchRequest{HomePath: home, PagePath: ev.PagePath})
		if ok {
			dest = "/" + strings.TrimPrefix(dest, "/")
			s.app.Go(func() {
				if _, err := s.nav.RedirectTo(context.Background(), model.NavigationParams{URL: dest}); err != nil {
					s.app.Logger.Printf("events: force relaunch redirect: %v", err)
				}
			})
			return
		}
	}

	dest := "/" + strings.TrimPrefix(home, "/")
	s.app.Go(func() {
		if _, err := s.nav.ReLaunch(context.Background(), model.NavigationParams{URL: dest, Force: true}); err != nil {
			s.app.Logger.Printf("events: force relaunch: %v", err)
		}
	})
}
