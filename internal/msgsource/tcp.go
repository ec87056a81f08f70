package msgsource

import (
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/tcpserver"
)

// TCPSource wraps a tcpserver.Server as a Source.
type TCPSource struct {
	server *tcpserver.Server
}

// NewTCPSource creates a TCPSource from an already-started TCP server.
func NewTCPSource(server *tcpserver.Server) *TCPSource {
	return &TCPSource{server: server}
}

func (t *TCPSource) Lines() <-chan model.Envelope { return t.server.Lines() }
func (t *TCPSource) Stop()                        { _ = t.server.Stop() }
func (t *TCPSource) Name() string                 { return "tcp" }

// Addr returns the address the views listener is bound to.
func (t *TCPSource) Addr() string { return t.server.Addr() }
