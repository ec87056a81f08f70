package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"golang.org/x/sync/errgroup"
)

// runServer starts the controller with its host bridge, view ingress and
// devtools API, and blocks until a signal arrives.
func runServer(cfg appConfig) error {
	cleanupLogger := configureRuntimeLogger()
	defer cleanupLogger()

	rt, err := newRuntime(cfg, log.Default())
	if err != nil {
		return err
	}
	defer rt.close()

	if err := rt.start(); err != nil {
		return err
	}

	// Set up context and signal handling before errgroup
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts at the first signal.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		cleanupSocket(cfg.SocketPath)
		cleanupSocket(cfg.InspectSocket)
		os.Exit(1)
	}()

	// Build input plugins and the view feed
	plugins := buildInputPlugins(InputPluginConfig{
		ViewsEnabled: cfg.ViewsEnabled,
		ViewsAddr:    cfg.ViewsAddr,
		BufferSize:   cfg.MuxBufferSize,
	})

	sources := make([]NamedSource, 0, len(plugins))
	for _, plugin := range plugins {
		if !plugin.Enabled() {
			continue
		}
		src, err := plugin.Build(ctx)
		if err != nil {
			log.Printf("Error initializing input plugin %q: %v", plugin.Name(), err)
			continue
		}
		sources = append(sources, src)
	}

	feed := NewViewFeed(ctx, sources, cfg.MuxBufferSize)
	feed.Start()

	printStartupBanner(cfg, feed.Names(), rt.processor.Name())

	g, gctx := errgroup.WithContext(ctx)

	// View message ingestion
	if !feed.Empty() {
		g.Go(func() error {
			rt.ingest(feed.Messages())
			return nil
		})
	}

	// Report the bootstrap outcome once the host hands over the first page.
	g.Go(func() error {
		select {
		case <-rt.ctrl.Ready():
			if err := rt.ctrl.Err(); err != nil {
				log.Printf("sepal: bootstrap failed: %v", err)
			}
		case <-gctx.Done():
		}
		return nil
	})

	// Wait for context cancellation (from signal handler) in the errgroup
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Printf("server: errgroup exited with error: %v", err)
	}

	cancel()
	feed.Stop()

	// If we reach here, graceful shutdown succeeded within the deadline.
	// The signal goroutine (if active) dies with the process.
	signal.Stop(sigCh)

	return nil
}

func cleanupSocket(path string) {
	if path != "" {
		os.Remove(path)
	}
}

func configureRuntimeLogger() func() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	home, err := os.UserHomeDir()
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logDir := filepath.Join(home, ".local", "state", "sepal")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	logPath := filepath.Join(logDir, "sepal.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.SetOutput(os.Stderr)
		return func() {}
	}

	log.SetOutput(f)
	return func() {
		_ = f.Close()
	}
}

func printStartupBanner(cfg appConfig, sources []string, processorName string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	logo := cyan.Bold(true).Render(`
    ╔═╗╔═╗╔═╗╔═╗╦
    ╚═╗║╣ ╠═╝╠═╣║
    ╚═╝╚═╝╩  ╩ ╩╩═╝`)

	ver := dim.Render("v" + version)

	row := func(on bool, label, value string) string {
		mark, style := dot, dim
		if on {
			mark = check
			if strings.Contains(label, "API") || strings.Contains(label, "Views") || strings.Contains(label, "Bridge") {
				style = cyan
			}
		}
		return fmt.Sprintf("    %s  %-14s %s", mark, label, style.Render(value))
	}

	var lines []string
	lines = append(lines, "", logo, "    "+ver, "")

	separator := dim.Render("    ─────────────────────────────────")
	lines = append(lines, separator, "")

	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, row(true, "Host Bridge", shortenPath(cfg.SocketPath)))
	if cfg.APIEnabled {
		lines = append(lines, row(true, "Devtools API", cfg.APIAddr))
	} else {
		lines = append(lines, row(false, "Devtools API", "disabled"))
	}
	if cfg.InspectSocket != "" {
		lines = append(lines, row(true, "Inspector", shortenPath(cfg.InspectSocket)))
	} else {
		lines = append(lines, row(false, "Inspector", "disabled"))
	}
	if cfg.ViewsEnabled {
		lines = append(lines, row(true, "Views", cfg.ViewsAddr))
	} else {
		lines = append(lines, row(false, "Views", "disabled"))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Runtime"), "")
	lines = append(lines, row(true, "Processor", processorName))
	if len(sources) > 0 {
		lines = append(lines, row(true, "Sources", strings.Join(sources, ", ")))
	} else {
		lines = append(lines, row(false, "Sources", "none"))
	}
	lines = append(lines, row(true, "Replay Limit", fmt.Sprintf("%d per type", cfg.ReplayLimit)))
	if cfg.TraceEnabled {
		lines = append(lines, row(true, "Trace", shortenPath(cfg.TracePath)))
	} else {
		lines = append(lines, row(false, "Trace", "disabled"))
	}
	if cfg.ArchiveEnabled {
		dest := shortenPath(cfg.ArchiveLocalDir)
		if cfg.ArchiveBucketURL != "" {
			dest += " -> " + cfg.ArchiveBucketURL
		}
		lines = append(lines, row(true, "Archives", dest))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.AppConfigPath != "" {
		lines = append(lines, row(true, "App Config", shortenPath(cfg.AppConfigPath)))
	} else {
		lines = append(lines, row(false, "App Config", "from host (AppReady)"))
	}
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", shortenPath(cfg.ConfigPath)))
	} else {
		lines = append(lines, row(false, "Config File", "default (no file)"))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
