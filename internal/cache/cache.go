// Package cache resolves remote artifact references to local files.
//
// An artifact is downloaded at most once per cache directory: an existing
// file is trusted unconditionally, with no freshness check. Downloads land
// in a temporary file that is renamed into place, so a failed or partial
// download never leaves a file a later run would accept.
package cache

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/yairfalse/balscan/internal/telemetry"
)

// DefaultTimeout bounds a single download.
const DefaultTimeout = 60 * time.Second

var (
	// ErrInvalidReference is returned for references that are not usable URLs.
	ErrInvalidReference = errors.New("invalid artifact reference")
	// ErrDownload wraps every failure to fetch a remote artifact.
	ErrDownload = errors.New("download failed")
)

// Stats counts cache activity since the Cache was created.
type Stats struct {
	Hits      int64
	Downloads int64
	Failures  int64
}

// Cache is a download-on-miss store rooted at a project target directory.
type Cache struct {
	dir      string
	fetchers map[string]Fetcher
	timeout  time.Duration
	metrics  *telemetry.Metrics
	log      zerolog.Logger

	hits      atomic.Int64
	downloads atomic.Int64
	failures  atomic.Int64
}

// Option configures a Cache.
type Option func(*Cache)

// WithFetcher registers f for a URL scheme, replacing any default.
func WithFetcher(scheme string, f Fetcher) Option {
	return func(c *Cache) {
		c.fetchers[scheme] = f
	}
}

// WithTimeout bounds each download. Non-positive values keep the default.
func WithTimeout(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithMetrics records hits and downloads.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithLogger sets the logger used for progress notices.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Cache) {
		c.log = l
	}
}

// New creates a cache rooted at dir. HTTP(S) and S3 fetchers are installed
// by default.
func New(dir string, opts ...Option) *Cache {
	httpFetcher := NewHTTPFetcher(nil)
	c := &Cache{
		dir: dir,
		fetchers: map[string]Fetcher{
			"http":  httpFetcher,
			"https": httpFetcher,
			"s3":    NewS3Fetcher(nil),
		},
		timeout: DefaultTimeout,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Dir returns the cache root.
func (c *Cache) Dir() string {
	return c.dir
}

// Path returns where the artifact name under subpath is cached.
func (c *Cache) Path(subpath, name string) string {
	return filepath.Join(c.dir, subpath, name)
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Hits:      c.hits.Load(),
		Downloads: c.downloads.Load(),
		Failures:  c.failures.Load(),
	}
}

// Resolve returns a local path holding the artifact referenced by ref,
// downloading it into <dir>/<subpath>/<name> on a miss.
func (c *Cache) Resolve(ctx context.Context, subpath, name, ref string) (string, error) {
	if name == "" || filepath.Base(name) != name {
		return "", fmt.Errorf("%w: artifact name %q must be a plain file name", ErrInvalidReference, name)
	}
	path := c.Path(subpath, name)

	if info, err := os.Stat(path); err == nil && info.Mode().IsRegular() {
		c.hits.Add(1)
		c.metrics.RecordArtifact(ctx, "hit", name)
		c.log.Info().Ctx(ctx).Str("artifact", name).Str("path", path).Msg("loading artifact from cache")
		return path, nil
	}

	u, fetcher, err := c.parseReference(ref)
	if err != nil {
		return "", err
	}

	c.log.Info().Ctx(ctx).Str("artifact", name).Str("url", u.Redacted()).Msg("downloading remote artifact")
	if err := c.download(ctx, fetcher, u, path); err != nil {
		c.failures.Add(1)
		c.metrics.RecordArtifact(ctx, "failure", name)
		return "", fmt.Errorf("%w: %s: %w", ErrDownload, u.Redacted(), err)
	}
	c.downloads.Add(1)
	c.metrics.RecordArtifact(ctx, "download", name)
	return path, nil
}

func (c *Cache) parseReference(ref string) (*url.URL, Fetcher, error) {
	u, err := url.Parse(ref)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %q: %v", ErrInvalidReference, ref, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, nil, fmt.Errorf("%w: %q is neither an existing path nor an absolute URL", ErrInvalidReference, ref)
	}
	fetcher, ok := c.fetchers[u.Scheme]
	if !ok {
		return nil, nil, fmt.Errorf("%w: unsupported scheme %q in %q", ErrInvalidReference, u.Scheme, ref)
	}
	return u, fetcher, nil
}

func (c *Cache) download(ctx context.Context, fetcher Fetcher, u *url.URL, path string) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create cache directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tmp.Close()
			_ = os.Remove(tmp.Name())
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	if err = fetcher.Fetch(ctx, u, tmp); err != nil {
		return err
	}
	if err = tmp.Sync(); err != nil {
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("move artifact into place: %w", err)
	}
	return nil
}
