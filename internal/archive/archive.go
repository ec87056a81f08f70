// Package archive periodically copies the message trace aside and
// optionally uploads the copies to S3.
package archive

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

const (
	defaultInterval = time.Hour
	defaultKeepLast = 24

	filePrefix = "sepal-trace-"
	fileSuffix = ".jsonl"
)

// Manager runs periodic trace snapshots and optional remote uploads.
type Manager struct {
	src      Snapshotter
	cfg      Config
	uploader Uploader
	now      func() time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager initializes the archiver. It returns nil when archiving is disabled.
func NewManager(src Snapshotter, cfg Config) (*Manager, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	if src == nil {
		return nil, fmt.Errorf("archive: nil trace")
	}
	if strings.TrimSpace(src.Path()) == "" {
		return nil, fmt.Errorf("archive: trace has no path")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if strings.TrimSpace(cfg.LocalDir) == "" {
		return nil, fmt.Errorf("archive: local-dir is required when archiving is enabled")
	}
	if cfg.KeepLast <= 0 {
		cfg.KeepLast = defaultKeepLast
	}
	if err := os.MkdirAll(cfg.LocalDir, 0755); err != nil {
		return nil, fmt.Errorf("archive: create local-dir: %w", err)
	}

	var uploader Uploader
	if strings.TrimSpace(cfg.BucketURL) != "" {
		s3u, err := NewS3Uploader(S3Config{
			BucketURL:    cfg.BucketURL,
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			SessionToken: cfg.S3SessionToken,
			UseSSL:       cfg.S3UseSSL,
		})
		if err != nil {
			return nil, fmt.Errorf("archive: init s3 uploader: %w", err)
		}
		uploader = s3u
	}

	m := &Manager{src: src, cfg: cfg, uploader: uploader, now: time.Now}
	m.ctx, m.cancel = context.WithCancel(context.Background())
	return m, nil
}

// Start takes a first snapshot and begins the periodic loop.
func (m *Manager) Start() {
	if err := m.RunOnce(m.ctx); err != nil {
		log.Printf("archive: startup snapshot failed: %v", err)
	}
	m.wg.Add(1)
	go m.loop()
}

func (m *Manager) loop() {
	defer m.wg.Done()
	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := m.RunOnce(m.ctx); err != nil {
				log.Printf("archive: periodic snapshot failed: %v", err)
			}
		case <-m.ctx.Done():
			return
		}
	}
}

// RunOnce writes one local snapshot, uploads it when configured, and
// prunes old local copies.
func (m *Manager) RunOnce(ctx context.Context) error {
	now := time.Now
	if m.now != nil {
		now = m.now
	}
	fileName := filePrefix + now().UTC().Format("20060102-150405.000") + fileSuffix
	localPath := filepath.Join(m.cfg.LocalDir, fileName)

	if err := m.src.SnapshotTo(localPath); err != nil {
		return fmt.Errorf("snapshot: %w", err)
	}
	log.Printf("archive: created snapshot %s", localPath)

	if m.uploader != nil {
		if err := m.uploader.UploadFile(ctx, localPath); err != nil {
			return fmt.Errorf("upload: %w", err)
		}
		log.Printf("archive: uploaded snapshot %s", fileName)
	}

	if err := pruneLocal(m.cfg.LocalDir, m.cfg.KeepLast); err != nil {
		return fmt.Errorf("prune local archives: %w", err)
	}
	return nil
}

// Stop cancels any in-flight upload and waits for the loop to exit.
func (m *Manager) Stop() {
	m.cancel()
	m.wg.Wait()
}

func pruneLocal(localDir string, keepLast int) error {
	if keepLast <= 0 {
		return nil
	}

	matches, err := filepath.Glob(filepath.Join(localDir, filePrefix+"*"+fileSuffix))
	if err != nil {
		return err
	}
	if len(matches) <= keepLast {
		return nil
	}

	// timestamp is embedded in the name, so lexical order is chronological
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))

	for _, oldPath := range matches[keepLast:] {
		if err := os.Remove(oldPath); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
