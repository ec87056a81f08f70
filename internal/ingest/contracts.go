package ingest

import (
	"fmt"
	"strings"

	"github.com/tinytelemetry/sepal/internal/model"
)

const (
	// ProcessorModeParse accumulates multi-line JSON documents before decoding.
	ProcessorModeParse = "parse"
	// ProcessorModeLine decodes every line on its own.
	ProcessorModeLine = "line"
)

// MessageSink receives decoded view messages. *channel.Channel satisfies it.
type MessageSink interface {
	Fire(msg model.Message)
}

// Recorder keeps a copy of every decoded message. *trace.Trace satisfies it.
type Recorder interface {
	Append(source string, msg model.Message) (uint64, error)
}

// EnvelopeProcessor consumes source-tagged message lines and delivers the
// decoded messages.
type EnvelopeProcessor interface {
	Name() string
	ProcessEnvelope(model.Envelope) *ProcessResult
}

// ProcessResult holds the messages decoded from one complete document.
type ProcessResult struct {
	Source   string
	Messages []model.Message
	Err      error
}

// NewEnvelopeProcessor creates the processor for mode. An empty mode parses.
func NewEnvelopeProcessor(mode string, sink MessageSink, rec Recorder, sourceName string) (EnvelopeProcessor, error) {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", ProcessorModeParse:
		return NewProcessor(sink, rec, sourceName), nil
	case ProcessorModeLine:
		return NewLineProcessor(sink, rec, sourceName), nil
	default:
		return nil, fmt.Errorf("ingest: unknown processor mode %q", mode)
	}
}

// deliver records and fires msgs in order.
func deliver(sink MessageSink, rec Recorder, source string, msgs []model.Message) {
	for _, msg := range msgs {
		if rec != nil {
			if _, err := rec.Append(source, msg); err != nil {
				logf("ingest: trace %s: %v", msg.Type, err)
			}
		}
		if sink != nil {
			sink.Fire(msg)
		}
	}
}
