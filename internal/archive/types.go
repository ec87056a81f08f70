package archive

import (
	"context"
	"time"
)

// Config controls periodic trace archives.
type Config struct {
	Enabled   bool
	Interval  time.Duration
	LocalDir  string
	KeepLast  int
	BucketURL string

	S3Endpoint     string
	S3Region       string
	S3AccessKey    string
	S3SecretKey    string
	S3SessionToken string
	S3UseSSL       bool
}

// Snapshotter is what the archiver needs from a trace.
type Snapshotter interface {
	Path() string
	SnapshotTo(dstPath string) error
}

// Uploader ships one archive file off the machine.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}
