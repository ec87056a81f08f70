package channel

import (
	"bytes"
	"log"
	"strings"
	"sync"
	"testing"

	"github.com/tinytelemetry/sepal/internal/model"
)

func msg(typ string, id model.FrameID, v any) model.Message {
	return model.NewMessage(typ, id, v)
}

func TestFireDeliversToSubscribers(t *testing.T) {
	t.Parallel()
	c := New("test")

	var got []string
	c.Subscribe("ping", func(m model.Message) { got = append(got, "a:"+string(m.SlaveID)) })
	c.Subscribe("ping", func(m model.Message) { got = append(got, "b:"+string(m.SlaveID)) })
	c.Subscribe("other", func(m model.Message) { got = append(got, "other") })

	c.Fire(msg("ping", "1", nil))

	want := []string{"a:1", "b:1"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("got %v, want %v", got, want)
	}
}

func TestOnceRemovedAfterFirstDelivery(t *testing.T) {
	t.Parallel()
	c := New("test")

	calls := 0
	c.Subscribe("ping", func(model.Message) { calls++ }, Once())
	c.Fire(msg("ping", "1", nil))
	c.Fire(msg("ping", "2", nil))

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestReplayInArrivalOrder(t *testing.T) {
	t.Parallel()
	c := New("test")

	c.Fire(msg("show", "1", nil))
	c.Fire(msg("show", "2", nil))
	c.Fire(msg("hide", "9", nil))

	var got []model.FrameID
	c.Subscribe("show", func(m model.Message) { got = append(got, m.SlaveID) }, ReplayPrevious())
	c.Fire(msg("show", "3", nil))

	if len(got) != 3 || got[0] != "1" || got[1] != "2" || got[2] != "3" {
		t.Fatalf("got %v, want [1 2 3]", got)
	}
}

func TestReplayLatestDeliversNewestOnly(t *testing.T) {
	t.Parallel()
	c := New("test")

	c.Fire(msg("show", "1", nil))
	c.Fire(msg("show", "2", nil))

	var got []model.FrameID
	c.Subscribe("show", func(m model.Message) { got = append(got, m.SlaveID) }, ReplayLatest())
	c.Fire(msg("show", "3", nil))

	if len(got) != 2 || got[0] != "2" || got[1] != "3" {
		t.Fatalf("got %v, want [2 3]", got)
	}
}

func TestForgetDropsHistoryAndStats(t *testing.T) {
	t.Parallel()
	c := New("test")

	c.Fire(msg("show", "1", nil))
	c.Fire(msg("hide", "1", nil))
	c.Forget("show")

	calls := 0
	c.Subscribe("show", func(model.Message) { calls++ }, ReplayPrevious())
	if calls != 0 {
		t.Fatalf("replayed %d forgotten messages", calls)
	}
	stats := c.Stats()
	if _, ok := stats["show"]; ok || stats["hide"] != 1 {
		t.Fatalf("stats = %v", stats)
	}
}

func TestForgetFromKeepsOtherViews(t *testing.T) {
	t.Parallel()
	c := New("test")

	c.Fire(msg("ability", "1", "a"))
	c.Fire(msg("ability", "2", "b"))
	c.Fire(msg("ability", "1", "c"))
	c.ForgetFrom("ability", "1")

	pending := c.Pending("ability")
	if len(pending) != 1 || pending[0].SlaveID != "2" {
		t.Fatalf("pending = %v, want only view 2", pending)
	}
	if c.Stats()["ability"] != 3 {
		t.Fatalf("fired count = %d, want 3", c.Stats()["ability"])
	}
}

func TestOnceSatisfiedByReplayIsNotRegistered(t *testing.T) {
	t.Parallel()
	c := New("test")

	c.Fire(msg("show", "1", nil))
	c.Fire(msg("show", "2", nil))

	calls := 0
	c.Subscribe("show", func(model.Message) { calls++ }, ReplayPrevious(), Once())
	c.Fire(msg("show", "3", nil))

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestReplayLimitEvictsOldest(t *testing.T) {
	t.Parallel()
	c := New("test", WithReplayLimit(2))

	for _, id := range []model.FrameID{"1", "2", "3"} {
		c.Fire(msg("tick", id, nil))
	}

	pending := c.Pending("tick")
	if len(pending) != 2 || pending[0].SlaveID != "2" || pending[1].SlaveID != "3" {
		t.Fatalf("pending = %v, want ids [2 3]", pending)
	}
	if got := c.Stats()["tick"]; got != 3 {
		t.Fatalf("stats[tick] = %d, want 3", got)
	}
}

func TestCancelStopsDelivery(t *testing.T) {
	t.Parallel()
	c := New("test")

	calls := 0
	cancel := c.Subscribe("ping", func(model.Message) { calls++ })
	c.Fire(msg("ping", "1", nil))
	cancel()
	cancel()
	c.Fire(msg("ping", "2", nil))

	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestNestedFireRunsAfterHandler(t *testing.T) {
	t.Parallel()
	c := New("test")

	var order []string
	c.Subscribe("outer", func(model.Message) {
		order = append(order, "outer-start")
		c.Fire(msg("inner", "", nil))
		order = append(order, "outer-end")
	})
	c.Subscribe("inner", func(model.Message) { order = append(order, "inner") })

	c.Fire(msg("outer", "", nil))

	want := "outer-start,outer-end,inner"
	if got := strings.Join(order, ","); got != want {
		t.Fatalf("order = %s, want %s", got, want)
	}
}

func TestSubscribeInsideHandlerSeesCurrentMessageOnReplay(t *testing.T) {
	t.Parallel()
	c := New("test")

	var got []string
	c.Subscribe("load", func(m model.Message) {
		c.Subscribe("load", func(m model.Message) { got = append(got, "late:"+string(m.SlaveID)) }, ReplayPrevious())
	}, Once())

	c.Fire(msg("load", "7", nil))

	if len(got) != 1 || got[0] != "late:7" {
		t.Fatalf("got %v, want [late:7]", got)
	}
}

func TestHandlerPanicIsRecovered(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	c := New("test", WithLogger(log.New(&buf, "", 0)))

	after := 0
	c.Subscribe("ping", func(model.Message) { panic("boom") })
	c.Subscribe("ping", func(model.Message) { after++ })
	c.Fire(msg("ping", "1", nil))

	if after != 1 {
		t.Fatalf("after = %d, want 1", after)
	}
	if !strings.Contains(buf.String(), "boom") {
		t.Fatalf("log = %q, want panic logged", buf.String())
	}
}

func TestConcurrentFireIsSerialized(t *testing.T) {
	t.Parallel()
	c := New("test", WithReplayLimit(1000))

	var active, maxActive, total int
	var mu sync.Mutex
	c.Subscribe("ping", func(model.Message) {
		mu.Lock()
		active++
		if active > maxActive {
			maxActive = active
		}
		mu.Unlock()

		mu.Lock()
		active--
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Fire(msg("ping", "", nil))
		}()
	}
	wg.Wait()

	if got := c.Stats()["ping"]; got != 50 {
		t.Fatalf("stats[ping] = %d, want 50", got)
	}
	mu.Lock()
	defer mu.Unlock()
	if maxActive != 1 {
		t.Fatalf("maxActive = %d, want 1", maxActive)
	}
	if total != 50 {
		t.Fatalf("total = %d, want 50", total)
	}
}
