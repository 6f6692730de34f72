// Package assets resolves a snapshot's asset references into local files
// and rewrites generated HTML to point at them. Downloads run under a
// fixed-size worker pool; each asset reports its own success or failure and
// never aborts its siblings.
package assets

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/hazyhaar/replica/dom"
)

// Result is the outcome for one asset.
type Result struct {
	OriginalURL string
	LocalPath   string
	Kind        dom.AssetKind
	Err         error
}

// Downloader fetches assets with bounded concurrency.
type Downloader struct {
	dir     string
	workers int
	client  *http.Client
	logger  *slog.Logger
	maxSize int64
}

// DownloaderConfig configures a Downloader.
type DownloaderConfig struct {
	Dir     string        // destination directory, created if missing
	Workers int           // pool size, default 4
	Timeout time.Duration // per-asset fetch timeout, default 15s
	MaxSize int64         // per-asset byte cap, default 10MB
	Logger  *slog.Logger
}

// NewDownloader creates a Downloader.
func NewDownloader(cfg DownloaderConfig) *Downloader {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxSize <= 0 {
		cfg.MaxSize = 10 << 20
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Downloader{
		dir:     cfg.Dir,
		workers: cfg.Workers,
		client:  &http.Client{Timeout: cfg.Timeout},
		logger:  cfg.Logger,
		maxSize: cfg.MaxSize,
	}
}

// Download fetches all referenced assets. The returned slice has one entry
// per input reference, in input order. Only the pool size bounds
// concurrency; a failed sibling never cancels the group.
func (d *Downloader) Download(ctx context.Context, refs []dom.AssetRef) ([]Result, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return nil, fmt.Errorf("assets: mkdir %s: %w", d.dir, err)
	}

	results := make([]Result, len(refs))
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)

	for i, ref := range refs {
		g.Go(func() error {
			res := d.fetchOne(gctx, ref)
			mu.Lock()
			results[i] = res
			mu.Unlock()
			if res.Err != nil {
				d.logger.Warn("assets: download failed", "url", ref.URL, "error", res.Err)
			}
			return nil // per-asset failures do not abort siblings
		})
	}
	_ = g.Wait()
	return results, nil
}

// Map folds successful results into an original-URL → local-path map for
// prompt construction and HTML rewriting. Inline assets key on
// "inline-<kind>".
func Map(results []Result) map[string]string {
	m := make(map[string]string)
	for _, r := range results {
		if r.Err != nil || r.LocalPath == "" {
			continue
		}
		key := r.OriginalURL
		if key == "" {
			key = "inline-" + string(r.Kind)
		}
		m[key] = r.LocalPath
	}
	return m
}

func (d *Downloader) fetchOne(ctx context.Context, ref dom.AssetRef) Result {
	res := Result{OriginalURL: ref.URL, Kind: ref.Kind}

	if ref.Inline != "" {
		local := filepath.Join(d.dir, contentName(ref.Inline, extFor(ref.Kind)))
		if err := os.WriteFile(local, []byte(ref.Inline), 0o644); err != nil {
			res.Err = fmt.Errorf("assets: write inline: %w", err)
			return res
		}
		res.LocalPath = local
		return res
	}

	if ref.URL == "" || strings.HasPrefix(ref.URL, "data:") {
		res.Err = fmt.Errorf("assets: unsupported reference")
		return res
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref.URL, nil)
	if err != nil {
		res.Err = fmt.Errorf("assets: request: %w", err)
		return res
	}
	resp, err := d.client.Do(req)
	if err != nil {
		res.Err = fmt.Errorf("assets: fetch: %w", err)
		return res
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		res.Err = fmt.Errorf("assets: fetch %s: status %d", ref.URL, resp.StatusCode)
		return res
	}

	local := filepath.Join(d.dir, urlName(ref.URL, extFor(ref.Kind)))
	f, err := os.Create(local)
	if err != nil {
		res.Err = fmt.Errorf("assets: create: %w", err)
		return res
	}
	defer f.Close()

	if _, err := io.Copy(f, io.LimitReader(resp.Body, d.maxSize)); err != nil {
		os.Remove(local)
		res.Err = fmt.Errorf("assets: copy: %w", err)
		return res
	}

	res.LocalPath = local
	return res
}

// urlName derives a stable filename from the URL: basename when sane,
// hash-suffixed to avoid collisions.
func urlName(rawURL, fallbackExt string) string {
	sum := sha256.Sum256([]byte(rawURL))
	short := hex.EncodeToString(sum[:6])

	base := path.Base(strings.SplitN(rawURL, "?", 2)[0])
	ext := path.Ext(base)
	if ext == "" {
		ext = fallbackExt
	}
	name := strings.TrimSuffix(base, ext)
	if name == "" || name == "." || name == "/" || len(name) > 64 {
		name = "asset"
	}
	return name + "-" + short + ext
}

func contentName(content, ext string) string {
	sum := sha256.Sum256([]byte(content))
	return "inline-" + hex.EncodeToString(sum[:6]) + ext
}

func extFor(kind dom.AssetKind) string {
	switch kind {
	case dom.AssetSVG:
		return ".svg"
	case dom.AssetStylesheet:
		return ".css"
	case dom.AssetFont:
		return ".woff2"
	default:
		return ".png"
	}
}
