package main

import (
	"context"
	"fmt"
	"os"

	"github.com/tinytelemetry/sepal/internal/msgsource"
	"github.com/tinytelemetry/sepal/internal/tcpserver"
)

// NamedSource aliases the shared source abstraction to keep app-layer APIs explicit.
type NamedSource = msgsource.Source

// InputSourcePlugin is a small plugin primitive for wiring view message inputs.
type InputSourcePlugin interface {
	Name() string
	Enabled() bool
	Build(ctx context.Context) (NamedSource, error)
}

// InputPluginConfig defines runtime input selection.
type InputPluginConfig struct {
	ViewsEnabled bool
	ViewsAddr    string
	BufferSize   int
}

func buildInputPlugins(cfg InputPluginConfig) []InputSourcePlugin {
	plugins := make([]InputSourcePlugin, 0, 2)
	plugins = append(plugins, tcpInputPlugin{
		addr:    cfg.ViewsAddr,
		enabled: cfg.ViewsEnabled,
		buffer:  cfg.BufferSize,
	})
	plugins = append(plugins, stdinInputPlugin{})
	return plugins
}

type tcpInputPlugin struct {
	addr    string
	enabled bool
	buffer  int
}

func (p tcpInputPlugin) Name() string { return "tcp" }

func (p tcpInputPlugin) Enabled() bool { return p.enabled }

func (p tcpInputPlugin) Build(_ context.Context) (NamedSource, error) {
	server := tcpserver.NewServer(p.addr, tcpserver.ServerConfig{LineChannelSize: p.buffer})
	if err := server.Start(); err != nil {
		return nil, fmt.Errorf("start views server: %w", err)
	}
	return msgsource.NewTCPSource(server), nil
}

type stdinInputPlugin struct{}

func (p stdinInputPlugin) Name() string { return "stdin" }

func (p stdinInputPlugin) Enabled() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) == 0
}

func (p stdinInputPlugin) Build(ctx context.Context) (NamedSource, error) {
	return msgsource.NewStdinSource(ctx), nil
}
