package cache

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func countingServer(t *testing.T, body string) (*httptest.Server, *atomic.Int64) {
	t.Helper()
	var calls atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		_, _ = io.WriteString(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv, &calls
}

func TestResolve_DownloadsOnceAcrossRuns(t *testing.T) {
	srv, calls := countingServer(t, "[rule]\ninclude = [\"ballerina:1\"]\n")
	dir := t.TempDir()
	ref := srv.URL + "/configs/Scan.toml"

	first := New(dir)
	path, err := first.Resolve(context.Background(), "report", "Scan.toml", ref)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "report", "Scan.toml"), path)
	assert.Equal(t, Stats{Downloads: 1}, first.Stats())

	// A second scan invocation over the same target directory.
	second := New(dir)
	again, err := second.Resolve(context.Background(), "report", "Scan.toml", ref)
	require.NoError(t, err)
	assert.Equal(t, path, again)
	assert.Equal(t, Stats{Hits: 1}, second.Stats())

	assert.Equal(t, int64(1), calls.Load())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "ballerina:1")
}

func TestResolve_CachedFileIsTrustedWithoutRevalidation(t *testing.T) {
	srv, calls := countingServer(t, "fresh")
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "sonar.jar"), []byte("stale"), 0o644))

	path, err := New(dir).Resolve(context.Background(), "", "sonar.jar", srv.URL+"/sonar.jar")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "stale", string(data))
	assert.Zero(t, calls.Load())
}

func TestResolve_FailedDownloadLeavesNoFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()
	dir := t.TempDir()

	c := New(dir)
	_, err := c.Resolve(context.Background(), "report", "Scan.toml", srv.URL+"/Scan.toml")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDownload)
	assert.Contains(t, err.Error(), "500")
	assert.Equal(t, int64(1), c.Stats().Failures)

	entries, err := os.ReadDir(filepath.Join(dir, "report"))
	require.NoError(t, err)
	assert.Empty(t, entries, "no partial or temporary file may remain")
}

type failingFetcher struct {
	written string
}

func (f failingFetcher) Fetch(_ context.Context, _ *url.URL, w io.Writer) error {
	_, _ = io.WriteString(w, f.written)
	return errors.New("connection reset")
}

func TestResolve_PartialDownloadIsDiscarded(t *testing.T) {
	dir := t.TempDir()
	c := New(dir, WithFetcher("https", failingFetcher{written: "[[platform]]\nname = "}))

	_, err := c.Resolve(context.Background(), "", "Scan.toml", "https://example.com/Scan.toml")
	require.Error(t, err)

	_, statErr := os.Stat(filepath.Join(dir, "Scan.toml"))
	assert.True(t, os.IsNotExist(statErr))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestResolve_InvalidReferences(t *testing.T) {
	c := New(t.TempDir())
	refs := []string{
		"relative/Scan.toml",
		"ftp://example.com/Scan.toml",
		"https://",
		"://broken",
	}
	for _, ref := range refs {
		t.Run(ref, func(t *testing.T) {
			_, err := c.Resolve(context.Background(), "report", "Scan.toml", ref)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidReference)
		})
	}
}

func TestResolve_RejectsNestedNames(t *testing.T) {
	_, err := New(t.TempDir()).Resolve(context.Background(), "", "../escape.jar", "https://example.com/x.jar")
	assert.ErrorIs(t, err, ErrInvalidReference)
}

type blockingFetcher struct{}

func (blockingFetcher) Fetch(ctx context.Context, _ *url.URL, _ io.Writer) error {
	<-ctx.Done()
	return ctx.Err()
}

func TestResolve_DownloadTimeout(t *testing.T) {
	c := New(t.TempDir(), WithFetcher("https", blockingFetcher{}), WithTimeout(20*time.Millisecond))

	_, err := c.Resolve(context.Background(), "", "Scan.toml", "https://example.com/Scan.toml")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

type mockS3 struct {
	bucket, key string
	body        string
}

func (m *mockS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.bucket = aws.ToString(in.Bucket)
	m.key = aws.ToString(in.Key)
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewBufferString(m.body))}, nil
}

func TestResolve_S3Reference(t *testing.T) {
	client := &mockS3{body: "[[analyzer]]\norg = \"o\"\nname = \"n\"\n"}
	dir := t.TempDir()
	c := New(dir, WithFetcher("s3", NewS3Fetcher(client)))

	path, err := c.Resolve(context.Background(), "report", "Scan.toml", "s3://team-configs/scan/Scan.toml")
	require.NoError(t, err)

	assert.Equal(t, "team-configs", client.bucket)
	assert.Equal(t, "scan/Scan.toml", client.key)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, client.body, string(data))
}

func TestS3Fetcher_MissingKey(t *testing.T) {
	f := NewS3Fetcher(&mockS3{})
	u, err := url.Parse("s3://bucket-only")
	require.NoError(t, err)

	err = f.Fetch(context.Background(), u, io.Discard)
	assert.ErrorIs(t, err, ErrInvalidReference)
}
