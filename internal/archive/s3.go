package archive

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"path"
	"strings"
	"time"
)

// ErrNoAWSCLI is returned when S3 uploads are configured but the aws CLI is
// not installed.
var ErrNoAWSCLI = errors.New("archive: s3: aws cli not found in PATH")

const traceContentType = "application/x-ndjson"

// S3Config holds S3 uploader parameters.
type S3Config struct {
	BucketURL    string
	Endpoint     string
	Region       string
	AccessKey    string
	SecretKey    string
	SessionToken string
	UseSSL       bool
}

// s3Location is a parsed s3://bucket/prefix URL.
type s3Location struct {
	bucket string
	prefix string
}

// objectKey files an archive under the UTC day its name carries, so a
// bucket listing groups one day of traces together. Names that do not
// carry a timestamp go straight under the prefix.
func (l s3Location) objectKey(localPath string) string {
	name := path.Base(localPath)
	parts := []string{l.prefix}
	stamp := strings.TrimPrefix(name, filePrefix)
	if len(stamp) >= 8 && stamp != name {
		if day, err := time.Parse("20060102", stamp[:8]); err == nil {
			parts = append(parts, day.Format("2006/01/02"))
		}
	}
	return path.Join(append(parts, name)...)
}

// S3Uploader ships trace archives with `aws s3 cp`.
type S3Uploader struct {
	loc s3Location
	cfg S3Config
}

// NewS3Uploader builds an uploader from an s3://bucket/prefix URL and
// static credentials.
func NewS3Uploader(cfg S3Config) (*S3Uploader, error) {
	loc, err := parseS3BucketURL(cfg.BucketURL)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.AccessKey) == "" || strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("archive: s3: access key and secret key are required")
	}
	if _, err := exec.LookPath("aws"); err != nil {
		return nil, ErrNoAWSCLI
	}
	if strings.TrimSpace(cfg.Region) == "" {
		cfg.Region = "us-east-1"
	}
	return &S3Uploader{loc: loc, cfg: cfg}, nil
}

// UploadFile copies one archive to the bucket.
func (u *S3Uploader) UploadFile(ctx context.Context, localPath string) error {
	cmd := exec.CommandContext(ctx, "aws", u.args(localPath)...)
	cmd.Env = u.env(os.Environ())
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("archive: s3: upload %s: %w: %s", path.Base(localPath), err, strings.TrimSpace(string(out)))
	}
	return nil
}

func (u *S3Uploader) args(localPath string) []string {
	dest := fmt.Sprintf("s3://%s/%s", u.loc.bucket, u.loc.objectKey(localPath))
	args := []string{
		"s3", "cp", localPath, dest,
		"--region", u.cfg.Region,
		"--content-type", traceContentType,
		"--only-show-errors",
	}
	if endpoint := endpointURL(u.cfg.Endpoint, u.cfg.UseSSL); endpoint != "" {
		args = append(args, "--endpoint-url", endpoint)
	}
	return args
}

// env replaces any AWS credentials inherited from the controller's
// environment with the configured ones. An inherited session token is
// dropped unless one is configured, since it would not match the keys.
func (u *S3Uploader) env(base []string) []string {
	out := make([]string, 0, len(base)+4)
	for _, kv := range base {
		switch {
		case strings.HasPrefix(kv, "AWS_ACCESS_KEY_ID="),
			strings.HasPrefix(kv, "AWS_SECRET_ACCESS_KEY="),
			strings.HasPrefix(kv, "AWS_SESSION_TOKEN="),
			strings.HasPrefix(kv, "AWS_DEFAULT_REGION="),
			strings.HasPrefix(kv, "AWS_PROFILE="):
			continue
		}
		out = append(out, kv)
	}
	out = append(out,
		"AWS_ACCESS_KEY_ID="+u.cfg.AccessKey,
		"AWS_SECRET_ACCESS_KEY="+u.cfg.SecretKey,
		"AWS_DEFAULT_REGION="+u.cfg.Region,
	)
	if token := strings.TrimSpace(u.cfg.SessionToken); token != "" {
		out = append(out, "AWS_SESSION_TOKEN="+token)
	}
	return out
}

// endpointURL adds a scheme to a bare host:port endpoint.
func endpointURL(endpoint string, useSSL bool) string {
	endpoint = strings.TrimSpace(endpoint)
	switch {
	case endpoint == "":
		return ""
	case strings.Contains(endpoint, "://"):
		return endpoint
	case useSSL:
		return "https://" + endpoint
	default:
		return "http://" + endpoint
	}
}

func parseS3BucketURL(raw string) (s3Location, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return s3Location{}, fmt.Errorf("archive: s3: parse bucket url: %w", err)
	}
	if u.Scheme != "s3" {
		return s3Location{}, fmt.Errorf("archive: s3: bucket url %q must use the s3:// scheme", raw)
	}
	if strings.TrimSpace(u.Host) == "" {
		return s3Location{}, fmt.Errorf("archive: s3: bucket url %q is missing the bucket name", raw)
	}
	return s3Location{bucket: u.Host, prefix: strings.Trim(strings.TrimSpace(u.Path), "/")}, nil
}
