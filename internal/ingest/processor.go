package ingest

import (
	"strings"

	"github.com/tinytelemetry/sepal/internal/model"
)

// Processor decodes view message lines, accumulating documents that a view
// pretty-printed over several lines.
type Processor struct {
	sink       MessageSink
	rec        Recorder
	sourceName string

	// JSON accumulation for multi-line JSON support
	jsonBuffer   strings.Builder
	jsonDepth    int
	inJsonObject bool
}

// NewProcessor creates a new message processor.
func NewProcessor(sink MessageSink, rec Recorder, sourceName string) *Processor {
	return &Processor{
		sink:       sink,
		rec:        rec,
		sourceName: sourceName,
	}
}

func (p *Processor) Name() string { return ProcessorModeParse }

// ProcessEnvelope processes one source-tagged line.
func (p *Processor) ProcessEnvelope(env model.Envelope) *ProcessResult {
	if env.Source != "" {
		p.sourceName = env.Source
	}
	return p.ProcessLine(env.Line)
}

// ProcessLine processes a single line, returning the decoded messages.
// Returns nil if the line is being accumulated as part of a multi-line document.
func (p *Processor) ProcessLine(line string) *ProcessResult {
	doc, complete := p.accumulate(line)
	if !complete {
		return nil
	}
	return p.processDocument(doc)
}

func (p *Processor) processDocument(doc string) *ProcessResult {
	res := &ProcessResult{Source: p.sourceName}
	msgs, err := DecodeMessages([]byte(doc))
	if err != nil {
		logf("ingest: %s: %v", p.sourceName, err)
		res.Err = err
		return res
	}
	deliver(p.sink, p.rec, p.sourceName, msgs)
	res.Messages = msgs
	return res
}

// accumulate adds line to the pending document. It returns the document and
// true once its brackets balance.
func (p *Processor) accumulate(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)

	if !p.inJsonObject {
		if trimmed == "" {
			return "", false
		}
		if !strings.HasPrefix(trimmed, "{") && !strings.HasPrefix(trimmed, "[") {
			// Not JSON; let the decoder report it.
			return trimmed, true
		}
		p.inJsonObject = true
		p.jsonBuffer.Reset()
		p.jsonDepth = 0
	}

	p.jsonBuffer.WriteString(line)
	p.jsonBuffer.WriteString("\n")
	p.jsonDepth += CountJSONDepth(line)

	if p.jsonDepth <= 0 {
		doc := strings.TrimSpace(p.jsonBuffer.String())
		p.resetJSONAccumulation()
		return doc, true
	}
	return "", false
}

// CountJSONDepth counts the net change in JSON nesting depth for a line.
func CountJSONDepth(line string) int {
	depth := 0
	inString := false
	escaped := false

	for _, char := range line {
		if escaped {
			escaped = false
			continue
		}

		switch char {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{', '[':
			if !inString {
				depth++
			}
		case '}', ']':
			if !inString {
				depth--
			}
		}
	}

	return depth
}

// resetJSONAccumulation resets the JSON accumulation state.
func (p *Processor) resetJSONAccumulation() {
	p.inJsonObject = false
	p.jsonDepth = 0
	p.jsonBuffer.Reset()
}

// SetSourceName updates the source name used for untagged lines.
func (p *Processor) SetSourceName(name string) {
	p.sourceName = name
}
