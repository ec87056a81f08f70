package main

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"github.com/tinytelemetry/sepal/internal/socketrpc"
)

// Build variables - set by ldflags during build.
var (
	version   = "dev"
	commit    = "unknown"
	buildTime = "unknown"
	goVersion = "unknown"
)

func main() {
	var configPath string
	var appConfigPath string
	var showVersion bool

	flag.StringVar(&configPath, "config", "", "config file (default is $HOME/.config/sepal/config.yml)")
	flag.StringVar(&appConfigPath, "app", "", "override the application config (app.json or app.yaml)")
	flag.BoolVar(&showVersion, "version", false, "print version information")
	flag.Parse()

	if showVersion {
		fmt.Printf("Sepal - Mini-App Controller\n")
		fmt.Printf("  Version:    %s\n", version)
		fmt.Printf("  Commit:     %s\n", commit)
		fmt.Printf("  Built:      %s\n", buildTime)
		fmt.Printf("  Go version: %s\n", goVersion)
		return
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}
	if appConfigPath != "" {
		cfg.AppConfigPath = appConfigPath
	}

	if err := runServer(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(configPath string) (appConfig, error) {
	var cfg appConfig

	home, err := os.UserHomeDir()
	if err != nil {
		return cfg, fmt.Errorf("finding home directory: %w", err)
	}

	defaultTracePath := filepath.Join(home, ".local", "state", "sepal", "trace.jsonl")
	defaultArchiveDir := filepath.Join(home, ".local", "state", "sepal", "archive")

	v := viper.New()
	v.SetEnvPrefix("SEPAL")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))

	v.SetDefault("host", defaultBindHost)
	v.SetDefault("socket-path", socketrpc.DefaultSocketPath())
	v.SetDefault("inspect-socket", socketrpc.DefaultInspectPath())
	v.SetDefault("app-config", "")
	v.SetDefault("processor", defaultProcessor)
	v.SetDefault("views-enabled", true)
	v.SetDefault("views-port", defaultViewsPort)
	v.SetDefault("mux-buffer-size", defaultMuxBufferSize)
	v.SetDefault("api-enabled", true)
	v.SetDefault("api-port", defaultAPIPort)
	v.SetDefault("replay-limit", defaultReplayLimit)
	v.SetDefault("trace-enabled", true)
	v.SetDefault("trace-path", defaultTracePath)
	v.SetDefault("host-timeout", defaultHostTimeout)
	v.SetDefault("archive-enabled", false)
	v.SetDefault("archive-interval", defaultArchiveEvery)
	v.SetDefault("archive-local-dir", defaultArchiveDir)
	v.SetDefault("archive-keep-last", defaultArchiveKeep)
	v.SetDefault("archive-s3-region", "us-east-1")
	v.SetDefault("archive-s3-use-ssl", true)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		defaultConfigPath := filepath.Join(home, ".config", "sepal", "config.yml")
		v.SetConfigFile(defaultConfigPath)
	}

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFound viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFound) && !os.IsNotExist(err) {
			return cfg, err
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, err
	}
	cfg.ConfigPath = v.ConfigFileUsed()
	if _, statErr := os.Stat(cfg.ConfigPath); statErr != nil {
		cfg.ConfigPath = ""
	}

	if cfg.ViewsPort <= 0 || cfg.ViewsPort > 65535 {
		return cfg, fmt.Errorf("invalid views-port: %d", cfg.ViewsPort)
	}
	if cfg.APIPort <= 0 || cfg.APIPort > 65535 {
		return cfg, fmt.Errorf("invalid api-port: %d", cfg.APIPort)
	}
	if cfg.ReplayLimit <= 0 {
		return cfg, fmt.Errorf("invalid replay-limit: %d", cfg.ReplayLimit)
	}
	if cfg.HostTimeout <= 0 {
		return cfg, fmt.Errorf("invalid host-timeout: %s", cfg.HostTimeout)
	}
	if cfg.ArchiveEnabled {
		if !cfg.TraceEnabled {
			return cfg, errors.New("archive-enabled requires trace-enabled")
		}
		if cfg.ArchiveInterval <= 0 {
			return cfg, fmt.Errorf("invalid archive-interval: %s", cfg.ArchiveInterval)
		}
		if cfg.ArchiveKeepLast <= 0 {
			return cfg, fmt.Errorf("invalid archive-keep-last: %d", cfg.ArchiveKeepLast)
		}
	}

	cfg.TracePath = expandHome(home, cfg.TracePath)
	cfg.AppConfigPath = expandHome(home, cfg.AppConfigPath)
	cfg.SocketPath = expandHome(home, cfg.SocketPath)
	cfg.InspectSocket = expandHome(home, cfg.InspectSocket)
	cfg.ArchiveLocalDir = expandHome(home, cfg.ArchiveLocalDir)

	if cfg.Host == "" {
		cfg.Host = defaultBindHost
	}
	if cfg.ViewsAddr == "" {
		cfg.ViewsAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.ViewsPort))
	}
	if cfg.APIAddr == "" {
		cfg.APIAddr = net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.APIPort))
	}

	return cfg, nil
}

// expandHome expands a leading ~/ in path.
func expandHome(home, path string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	return path
}
