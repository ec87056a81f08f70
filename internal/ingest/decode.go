package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/tinytelemetry/sepal/internal/model"
)

// ErrMissingType is returned for a message without a type.
var ErrMissingType = errors.New("ingest: message has no type")

var logf = log.Printf

// DecodeMessages decodes one document holding a single message or an array
// of messages. Views batch messages into arrays when they flush.
func DecodeMessages(doc []byte) ([]model.Message, error) {
	doc = bytes.TrimSpace(doc)
	if len(doc) == 0 {
		return nil, nil
	}

	var msgs []model.Message
	switch doc[0] {
	case '[':
		if err := json.Unmarshal(doc, &msgs); err != nil {
			return nil, fmt.Errorf("ingest: decode batch: %w", err)
		}
	case '{':
		var msg model.Message
		if err := json.Unmarshal(doc, &msg); err != nil {
			return nil, fmt.Errorf("ingest: decode message: %w", err)
		}
		msgs = []model.Message{msg}
	default:
		return nil, fmt.Errorf("ingest: not a JSON object or array: %.32q", doc)
	}

	for i, msg := range msgs {
		if msg.Type == "" {
			return nil, fmt.Errorf("%w (index %d)", ErrMissingType, i)
		}
	}
	return msgs, nil
}
