package main

import (
	"time"

	"github.com/tinytelemetry/sepal/internal/ingest"
	"github.com/tinytelemetry/sepal/internal/model"
)

const (
	defaultBindHost      = "127.0.0.1"
	defaultViewsPort     = 4100
	defaultAPIPort       = 3100
	defaultMuxBufferSize = DefaultFeedBuffer
	defaultReplayLimit   = model.DefaultReplayLimit
	defaultHostTimeout   = model.DefaultHostTimeout
	defaultProcessor     = ingest.ProcessorModeParse
	defaultArchiveEvery  = time.Hour
	defaultArchiveKeep   = 24
)

// appConfig is internal runtime configuration.
// It is package-private to keep defaults and shape local to the CLI entrypoint.
type appConfig struct {
	Host          string        `mapstructure:"host"`
	SocketPath    string        `mapstructure:"socket-path"`
	AppConfigPath string        `mapstructure:"app-config"`
	Processor     string        `mapstructure:"processor"`
	ViewsEnabled  bool          `mapstructure:"views-enabled"`
	ViewsPort     int           `mapstructure:"views-port"`
	ViewsAddr     string        `mapstructure:"views-addr"`
	MuxBufferSize int           `mapstructure:"mux-buffer-size"`
	APIEnabled    bool          `mapstructure:"api-enabled"`
	APIPort       int           `mapstructure:"api-port"`
	APIAddr       string        `mapstructure:"api-addr"`
	InspectSocket string        `mapstructure:"inspect-socket"`
	ReplayLimit   int           `mapstructure:"replay-limit"`
	TraceEnabled  bool          `mapstructure:"trace-enabled"`
	TracePath     string        `mapstructure:"trace-path"`
	HostTimeout   time.Duration `mapstructure:"host-timeout"`

	ArchiveEnabled        bool          `mapstructure:"archive-enabled"`
	ArchiveInterval       time.Duration `mapstructure:"archive-interval"`
	ArchiveLocalDir       string        `mapstructure:"archive-local-dir"`
	ArchiveKeepLast       int           `mapstructure:"archive-keep-last"`
	ArchiveBucketURL      string        `mapstructure:"archive-bucket-url"`
	ArchiveS3Endpoint     string        `mapstructure:"archive-s3-endpoint"`
	ArchiveS3Region       string        `mapstructure:"archive-s3-region"`
	ArchiveS3AccessKey    string        `mapstructure:"archive-s3-access-key"`
	ArchiveS3SecretKey    string        `mapstructure:"archive-s3-secret-key"`
	ArchiveS3SessionToken string        `mapstructure:"archive-s3-session-token"`
	ArchiveS3UseSSL       bool          `mapstructure:"archive-s3-use-ssl"`

	ConfigPath string `mapstructure:"-"` // not from config file
}
