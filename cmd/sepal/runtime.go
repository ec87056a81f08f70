package main

import (
	"fmt"
	"log"

	"github.com/tinytelemetry/sepal/internal/app"
	"github.com/tinytelemetry/sepal/internal/appconfig"
	"github.com/tinytelemetry/sepal/internal/archive"
	"github.com/tinytelemetry/sepal/internal/controller"
	"github.com/tinytelemetry/sepal/internal/httpserver"
	"github.com/tinytelemetry/sepal/internal/ingest"
	"github.com/tinytelemetry/sepal/internal/model"
	"github.com/tinytelemetry/sepal/internal/socketrpc"
	"github.com/tinytelemetry/sepal/internal/trace"
)

// runtime is the assembled controller: host bridge, application context,
// trace, view message processor and the devtools API and inspect socket.
type runtime struct {
	cfg       appConfig
	declared  model.AppConfig
	bridge    *socketrpc.Server
	trace     *trace.Trace
	archiver  *archive.Manager
	app       *app.Context
	ctrl      *controller.Controller
	processor ingest.EnvelopeProcessor
	api       *httpserver.Server
	inspect   *socketrpc.InspectServer
}

func newRuntime(cfg appConfig, logger *log.Logger) (*runtime, error) {
	if logger == nil {
		logger = log.Default()
	}
	rt := &runtime{cfg: cfg}

	if cfg.AppConfigPath != "" {
		declared, err := appconfig.Load(cfg.AppConfigPath)
		if err != nil {
			return nil, err
		}
		rt.declared = declared
	}

	rt.bridge = socketrpc.NewServer(cfg.SocketPath, cfg.HostTimeout)
	rt.app = app.New(rt.bridge, rt.declared,
		app.WithPages(newLoggingPages(logger)),
		app.WithLogger(logger),
		app.WithReplayLimit(cfg.ReplayLimit),
		app.WithNotFound(func(ev model.PageNotFound) {
			logger.Printf("sepal: page not found: %s (entry=%t)", ev.Page, ev.IsEntryPage)
		}),
	)
	rt.ctrl = controller.New(rt.app)

	var rec ingest.Recorder
	if cfg.TraceEnabled {
		tr, err := trace.Open(cfg.TracePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open trace: %w", err)
		}
		if err := rotateTrace(tr, logger); err != nil {
			_ = tr.Close()
			return nil, fmt.Errorf("failed to rotate trace: %w", err)
		}
		rt.trace = tr
		rec = tr

		archiver, err := archive.NewManager(tr, archive.Config{
			Enabled:        cfg.ArchiveEnabled,
			Interval:       cfg.ArchiveInterval,
			LocalDir:       cfg.ArchiveLocalDir,
			KeepLast:       cfg.ArchiveKeepLast,
			BucketURL:      cfg.ArchiveBucketURL,
			S3Endpoint:     cfg.ArchiveS3Endpoint,
			S3Region:       cfg.ArchiveS3Region,
			S3AccessKey:    cfg.ArchiveS3AccessKey,
			S3SecretKey:    cfg.ArchiveS3SecretKey,
			S3SessionToken: cfg.ArchiveS3SessionToken,
			S3UseSSL:       cfg.ArchiveS3UseSSL,
		})
		if err != nil {
			_ = tr.Close()
			return nil, fmt.Errorf("failed to initialize trace archives: %w", err)
		}
		rt.archiver = archiver
	}

	processor, err := ingest.NewEnvelopeProcessor(cfg.Processor, rt.app.Views, rec, "")
	if err != nil {
		rt.close()
		return nil, err
	}
	rt.processor = processor

	if cfg.APIEnabled {
		opts := []httpserver.Option{httpserver.WithHostStatus(rt.bridge)}
		if rt.trace != nil {
			opts = append(opts, httpserver.WithTrace(rt.trace))
		}
		rt.api = httpserver.NewServer(cfg.APIAddr, rt.ctrl, opts...)
	}
	if cfg.InspectSocket != "" {
		opts := []socketrpc.InspectOption{socketrpc.WithInspectHost(rt.bridge)}
		if rt.trace != nil {
			opts = append(opts, socketrpc.WithInspectTrace(rt.trace))
		}
		rt.inspect = socketrpc.NewInspectServer(cfg.InspectSocket, rt.ctrl, opts...)
	}
	return rt, nil
}

// start binds the controller to the bridge before the socket accepts a
// host, so an early AppReady is never missed.
func (rt *runtime) start() error {
	rt.ctrl.Start()
	rt.bridge.OnConnect(func() {
		rt.app.Logger.Printf("sepal: host attached on %s", rt.cfg.SocketPath)
	})
	if err := rt.bridge.Start(); err != nil {
		return fmt.Errorf("failed to start host bridge: %w", err)
	}
	if rt.api != nil {
		if err := rt.api.Start(); err != nil {
			rt.bridge.Stop()
			return fmt.Errorf("failed to start API server: %w", err)
		}
	}
	if rt.inspect != nil {
		if err := rt.inspect.Start(); err != nil {
			if rt.api != nil {
				_ = rt.api.Stop()
			}
			rt.bridge.Stop()
			return fmt.Errorf("failed to start inspect socket: %w", err)
		}
	}
	if rt.archiver != nil {
		rt.archiver.Start()
	}
	return nil
}

// ingest feeds view message lines to the processor until lines closes.
func (rt *runtime) ingest(lines <-chan model.Envelope) {
	for env := range lines {
		if res := rt.processor.ProcessEnvelope(env); res != nil && res.Err != nil {
			rt.app.Logger.Printf("sepal: dropped view line from %s: %v", env.Source, res.Err)
		}
	}
}

func (rt *runtime) close() {
	if rt.archiver != nil {
		rt.archiver.Stop()
	}
	if rt.inspect != nil {
		rt.inspect.Stop()
	}
	if rt.api != nil {
		if err := rt.api.Stop(); err != nil {
			log.Printf("sepal: stop API server: %v", err)
		}
	}
	rt.bridge.Stop()
	if rt.trace != nil {
		if err := rt.trace.Close(); err != nil {
			log.Printf("sepal: close trace: %v", err)
		}
	}
}

// rotateTrace checkpoints the entries left by the previous run. They stay on
// disk until the next start but no longer show up in Tail.
func rotateTrace(tr *trace.Trace, logger *log.Logger) error {
	var last uint64
	count := 0
	if err := tr.Replay(func(e trace.Entry) error {
		last = e.Seq
		count++
		return nil
	}); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	logger.Printf("sepal: trace holds %d entries from the previous run", count)
	return tr.Checkpoint(last)
}
