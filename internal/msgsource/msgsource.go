// Package msgsource unifies the places view messages come from.
package msgsource

import "github.com/tinytelemetry/sepal/internal/model"

// Source is a unified interface for all view message inputs (TCP, stdin).
type Source interface {
	Lines() <-chan model.Envelope // read-only channel of message lines
	Stop()                        // graceful shutdown
	Name() string                 // "tcp", "stdin"
}
