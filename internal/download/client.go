package download

import (
	"context"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/oshokin/mblock-stager/internal/logger"
	"github.com/oshokin/mblock-stager/internal/version"
)

const (
	// partSuffix marks a download that has not finished yet.
	partSuffix = ".part"
	// fileMode of downloaded archives.
	fileMode os.FileMode = 0o644
	// errorBodyLimit caps how much of an error response is quoted.
	errorBodyLimit = 1024
)

// ErrBadHTTPStatus is returned for any response other than 200 OK.
var ErrBadHTTPStatus = errors.New("unexpected http status")

// Client downloads files.
type Client struct {
	httpClient *http.Client
	checksum   *Checksum
	timeout    time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces http.DefaultClient.
func WithHTTPClient(c *http.Client) Option {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithChecksum pins the digest every download must match.
func WithChecksum(c *Checksum) Option {
	return func(client *Client) {
		client.checksum = c
	}
}

// WithTimeout bounds each download. Zero means no limit.
func WithTimeout(d time.Duration) Option {
	return func(client *Client) {
		client.timeout = d
	}
}

// NewClient returns a Client with the given options.
func NewClient(opts ...Option) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Fetch streams url into destPath and returns the number of bytes written.
func (c *Client) Fetch(ctx context.Context, url, destPath string) (int64, error) {
	if c.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return 0, fmt.Errorf("build request: %w", err)
	}

	req.Header.Set("User-Agent", version.UserAgent())

	response, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("get %s: %w", url, err)
	}

	defer func() {
		_ = response.Body.Close()
	}()

	if response.StatusCode != http.StatusOK {
		//nolint:errcheck // The body only decorates the error.
		body, _ := io.ReadAll(io.LimitReader(response.Body, errorBodyLimit))

		return 0, fmt.Errorf("%s, %s: %w: %s", url, response.Status, ErrBadHTTPStatus, body)
	}

	logger.InfoKV(ctx, "Downloading", "url", url, "size", sizeOf(response.ContentLength))

	written, err := c.save(response.Body, destPath)
	if err != nil {
		return written, err
	}

	logger.InfoKV(ctx, "Downloaded", "path", destPath, "size", humanize.Bytes(uint64(written)))

	return written, nil
}

// save writes body to destPath via a temporary ".part" file.
func (c *Client) save(body io.Reader, destPath string) (int64, error) {
	partPath := filepath.Clean(destPath + partSuffix)

	f, err := os.OpenFile(partPath, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, fileMode)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", partPath, err)
	}

	discard := func(err error) error {
		_ = f.Close()
		_ = os.Remove(partPath)

		return err
	}

	var (
		w      io.Writer = f
		hasher hash.Hash
	)

	if c.checksum != nil {
		if hasher, err = c.checksum.newHash(); err != nil {
			return 0, discard(err)
		}

		w = io.MultiWriter(f, hasher)
	}

	written, err := io.Copy(w, body)
	if err != nil {
		return written, discard(fmt.Errorf("write %s: %w", partPath, err))
	}

	if hasher != nil {
		if err = c.checksum.verify(hasher); err != nil {
			return written, discard(err)
		}
	}

	if err = f.Close(); err != nil {
		_ = os.Remove(partPath)
		return written, fmt.Errorf("close %s: %w", partPath, err)
	}

	if err = os.Rename(partPath, destPath); err != nil {
		_ = os.Remove(partPath)
		return written, fmt.Errorf("rename %s: %w", partPath, err)
	}

	return written, nil
}

func sizeOf(contentLength int64) string {
	if contentLength < 0 {
		return "unknown"
	}

	return humanize.Bytes(uint64(contentLength))
}
