package main

import (
	"context"
	"log"
	"sync"
	"sync/atomic"

	"github.com/tinytelemetry/sepal/internal/model"
)

// DefaultFeedBuffer bounds view messages merged but not yet ingested.
const DefaultFeedBuffer = 10_000

// ViewFeed merges every view message source into the one stream the
// runtime ingests. Each envelope is stamped with the source it came from
// when the source left it blank, and messages from one source keep their
// order. The merged stream closes once every source has closed.
type ViewFeed struct {
	ctx    context.Context
	cancel context.CancelFunc

	sources []NamedSource
	counts  []atomic.Int64
	out     chan model.Envelope

	startOnce sync.Once
	stopOnce  sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewViewFeed(parent context.Context, sources []NamedSource, buffer int) *ViewFeed {
	if buffer <= 0 {
		buffer = DefaultFeedBuffer
	}
	ctx, cancel := context.WithCancel(parent)
	return &ViewFeed{
		ctx:     ctx,
		cancel:  cancel,
		sources: sources,
		counts:  make([]atomic.Int64, len(sources)),
		out:     make(chan model.Envelope, buffer),
	}
}

// Start begins pumping every source. It is a no-op after the first call.
func (f *ViewFeed) Start() {
	f.startOnce.Do(func() {
		if len(f.sources) == 0 {
			f.close()
			return
		}
		for i := range f.sources {
			f.wg.Add(1)
			go f.pump(i)
		}
		go func() {
			f.wg.Wait()
			f.close()
		}()
	})
}

// Stop shuts every source down and closes Messages.
func (f *ViewFeed) Stop() {
	f.stopOnce.Do(func() {
		f.cancel()
		for _, src := range f.sources {
			src.Stop()
		}
		f.wg.Wait()
		f.close()
	})
}

// Empty reports whether the feed has nothing to merge.
func (f *ViewFeed) Empty() bool {
	return len(f.sources) == 0
}

// Names lists the sources in registration order.
func (f *ViewFeed) Names() []string {
	names := make([]string, 0, len(f.sources))
	for _, src := range f.sources {
		names = append(names, src.Name())
	}
	return names
}

// Received returns how many messages each source has delivered so far.
func (f *ViewFeed) Received() map[string]int64 {
	out := make(map[string]int64, len(f.sources))
	for i, src := range f.sources {
		out[src.Name()] += f.counts[i].Load()
	}
	return out
}

func (f *ViewFeed) Messages() <-chan model.Envelope {
	return f.out
}

func (f *ViewFeed) pump(i int) {
	defer f.wg.Done()
	src := f.sources[i]
	in := src.Lines()
	for {
		select {
		case <-f.ctx.Done():
			return
		case env, ok := <-in:
			if !ok {
				if f.ctx.Err() == nil {
					log.Printf("sepal: view source %s closed after %d messages", src.Name(), f.counts[i].Load())
				}
				return
			}
			if env.Line == "" {
				continue
			}
			if env.Source == "" {
				env.Source = src.Name()
			}
			select {
			case f.out <- env:
				f.counts[i].Add(1)
			case <-f.ctx.Done():
				return
			}
		}
	}
}

func (f *ViewFeed) close() {
	f.closeOnce.Do(func() { close(f.out) })
}
