// Package fetch downloads clip assets from the upstream media host
// into a run-scoped working directory.
package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dugoutlabs/hap/internal/haperr"
	"github.com/dugoutlabs/hap/pkg/httpclient"
)

// DefaultTimeout bounds a single asset download.
const DefaultTimeout = 60 * time.Second

// proxyPathSuffix marks a source URL that wraps the real media URL in
// a query parameter.
const proxyPathSuffix = "video-proxy"

// Options configure the fetcher. The header triple is required by the
// upstream media host, which rejects requests without a browser-like
// profile.
type Options struct {
	UserAgent string
	Origin    string
	Referer   string
	Timeout   time.Duration
}

// Fetcher downloads assets over HTTP. It never retries: a failed clip
// is dropped by the orchestrator, not re-fetched.
type Fetcher struct {
	client *httpclient.Client
	opts   Options
	logger *slog.Logger
}

// New creates a Fetcher.
func New(opts Options) *Fetcher {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}

	cfg := httpclient.DefaultConfig()
	cfg.Timeout = opts.Timeout
	// Per-clip failures drop the clip; the error contract says the
	// fetcher itself never retries.
	cfg.RetryAttempts = 0
	if opts.UserAgent != "" {
		cfg.UserAgent = opts.UserAgent
	}

	return &Fetcher{
		client: httpclient.New(cfg),
		opts:   opts,
		logger: slog.Default(),
	}
}

// WithLogger sets the logger used by the fetcher.
func (f *Fetcher) WithLogger(logger *slog.Logger) *Fetcher {
	if logger != nil {
		f.logger = logger
	}
	return f
}

// ResolveSourceURL normalises a rundown source URL. Proxy-wrapped
// forms (".../video-proxy?url=<encoded>") are unwrapped to the inner
// URL; everything else must already be an absolute http(s) URL.
func ResolveSourceURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", haperr.Validationf("source_url", "empty source URL")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return "", haperr.Validationf("source_url", "invalid source URL %q: %v", raw, err)
	}

	if strings.HasSuffix(u.Path, proxyPathSuffix) {
		inner := u.Query().Get("url")
		if inner == "" {
			return "", haperr.Validationf("source_url", "proxy URL %q carries no url parameter", raw)
		}
		iu, err := url.Parse(inner)
		if err != nil {
			return "", haperr.Validationf("source_url", "proxy-wrapped URL %q is invalid: %v", inner, err)
		}
		u = iu
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", haperr.Validationf("source_url", "unsupported scheme %q in %q", u.Scheme, u.String())
	}
	if u.Host == "" {
		return "", haperr.Validationf("source_url", "source URL %q has no host", u.String())
	}

	return u.String(), nil
}

// CacheFileName derives the stable per-URL file name used inside the
// working directory, so repeated references to one source download once.
func CacheFileName(resolvedURL string) string {
	sum := sha256.Sum256([]byte(resolvedURL))
	name := hex.EncodeToString(sum[:8])

	ext := ".mp4"
	if u, err := url.Parse(resolvedURL); err == nil {
		if e := path.Ext(u.Path); e != "" && len(e) <= 5 {
			ext = e
		}
	}
	return name + ext
}

// Fetch downloads sourceURL into destDir and returns the local path.
// The destination is written atomically, and a file already present
// for the same URL short-circuits the download.
func (f *Fetcher) Fetch(ctx context.Context, sourceURL, destDir string) (string, error) {
	resolved, err := ResolveSourceURL(sourceURL)
	if err != nil {
		return "", err
	}

	dest := filepath.Join(destDir, CacheFileName(resolved))
	if _, err := os.Stat(dest); err == nil {
		f.logger.Debug("asset already in working directory",
			slog.String("url", resolved),
			slog.String("path", dest))
		return dest, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, resolved, nil)
	if err != nil {
		return "", haperr.Validationf("source_url", "building request for %q: %v", resolved, err)
	}
	if f.opts.UserAgent != "" {
		req.Header.Set("User-Agent", f.opts.UserAgent)
	}
	if f.opts.Origin != "" {
		req.Header.Set("Origin", f.opts.Origin)
	}
	if f.opts.Referer != "" {
		req.Header.Set("Referer", f.opts.Referer)
	}

	started := time.Now()
	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("fetch %s: %w", resolved, haperr.ErrCancelled)
		}
		return "", fmt.Errorf("fetch %s: %w: %v", resolved, haperr.ErrNetwork, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return "", &haperr.UpstreamRejectedError{URL: resolved, Status: resp.StatusCode}
	}

	written, err := writeAtomic(destDir, dest, resp.Body)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", fmt.Errorf("fetch %s: %w", resolved, haperr.ErrCancelled)
		}
		return "", fmt.Errorf("fetch %s: %w: %v", resolved, haperr.ErrNetwork, err)
	}

	f.logger.Info("asset downloaded",
		slog.String("url", resolved),
		slog.Int64("bytes", written),
		slog.Duration("elapsed", time.Since(started)))

	return dest, nil
}

// writeAtomic streams r into dest via a temp file in the same
// directory, so a partially downloaded asset is never visible under
// its final name.
func writeAtomic(dir, dest string, r io.Reader) (int64, error) {
	tmp, err := os.CreateTemp(dir, ".download-*")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	written, err := io.Copy(tmp, r)
	if err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	return written, nil
}
