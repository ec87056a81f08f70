package ingest

import (
	"sync"

	"github.com/tinytelemetry/sepal/internal/model"
)

// LineProcessor is a lightweight processor that treats every line as a
// complete document. It keeps no accumulation state and is safe for
// concurrent use.
type LineProcessor struct {
	mu         sync.RWMutex
	sink       MessageSink
	rec        Recorder
	sourceName string
}

// NewLineProcessor creates a new line processor.
func NewLineProcessor(sink MessageSink, rec Recorder, sourceName string) *LineProcessor {
	return &LineProcessor{
		sink:       sink,
		rec:        rec,
		sourceName: sourceName,
	}
}

func (p *LineProcessor) Name() string { return ProcessorModeLine }

// ProcessLine processes an untagged line using the processor source name.
func (p *LineProcessor) ProcessLine(line string) *ProcessResult {
	return p.ProcessEnvelope(model.Envelope{
		Source: p.getSourceName(),
		Line:   line,
	})
}

// ProcessEnvelope processes one source-tagged line.
func (p *LineProcessor) ProcessEnvelope(env model.Envelope) *ProcessResult {
	if env.Line == "" {
		return nil
	}

	source := env.Source
	if source == "" {
		source = p.getSourceName()
	}

	res := &ProcessResult{Source: source}
	msgs, err := DecodeMessages([]byte(env.Line))
	if err != nil {
		logf("ingest: %s: %v", source, err)
		res.Err = err
		return res
	}
	deliver(p.sink, p.rec, source, msgs)
	res.Messages = msgs
	return res
}

// SetSourceName updates the default source name for untagged lines.
func (p *LineProcessor) SetSourceName(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sourceName = name
}

func (p *LineProcessor) getSourceName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sourceName
}
