// Package assets downloads and normalizes product images into local storage.
package assets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/catalogsync/pkg/config"
	"github.com/angelmondragon/catalogsync/pkg/logger"
	"github.com/angelmondragon/catalogsync/pkg/metrics"
)

const (
	MaxLimit           = 4
	DefaultConcurrency = 4
	MaxConcurrency     = 8
)

// Download results reported to metrics.
const (
	resultOK         = "ok"
	resultFallbackOK = "fallback_ok"
	resultFailed     = "failed"
	resultTooSmall   = "too_small"
	resultCanceled   = "canceled"
)

// Options bound one Acquire call.
type Options struct {
	// Limit caps how many URLs are attempted; clamped to [0,4].
	Limit int
	// Concurrency caps in-flight downloads; zero means 4, clamped to [1,8].
	Concurrency int
	// Canceled is polled before each URL, before each retry and while streaming.
	Canceled func() bool
}

// Asset is a successfully acquired local copy of a remote image.
type Asset struct {
	SourceURL  string
	Path       string
	Index      int
	Normalized bool
	Bytes      int64
}

// Params configures an Acquirer. Primary and Fallback default to an HTTP
// fetcher and, when enabled, curl.
type Params struct {
	Config     config.AssetsConfig
	Logger     *logger.Logger
	Metrics    *metrics.SyncMetrics
	HTTPClient *http.Client
	Primary    Fetcher
	Fallback   Fetcher
}

type Acquirer struct {
	cfg      config.AssetsConfig
	logg     *logger.Logger
	metrics  *metrics.SyncMetrics
	primary  Fetcher
	fallback Fetcher
}

func NewAcquirer(p Params) (*Acquirer, error) {
	if p.Config.Dir == "" {
		return nil, errors.New("assets dir is required")
	}
	if err := os.MkdirAll(p.Config.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create assets dir: %w", err)
	}
	logg := p.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	headers := headerSet{userAgent: p.Config.UserAgent, referers: p.Config.Referers}

	primary := p.Primary
	if primary == nil {
		client := p.HTTPClient
		if client == nil {
			client = &http.Client{Timeout: p.Config.RequestTimeout}
		}
		primary = &httpFetcher{
			client:         client,
			headers:        headers,
			minBytes:       p.Config.MinBytes,
			maxAttempts:    p.Config.MaxAttempts,
			initialBackoff: p.Config.InitialBackoff,
			maxBackoff:     p.Config.MaxBackoff,
		}
	}
	fallback := p.Fallback
	if fallback == nil && p.Config.CurlEnabled && p.Config.CurlPath != "" {
		fallback = &curlFetcher{path: p.Config.CurlPath, headers: headers, timeout: p.Config.RequestTimeout}
	}

	return &Acquirer{
		cfg:      p.Config,
		logg:     logg,
		metrics:  p.Metrics,
		primary:  primary,
		fallback: fallback,
	}, nil
}

func clampOptions(opts Options) Options {
	if opts.Limit < 0 {
		opts.Limit = 0
	}
	if opts.Limit > MaxLimit {
		opts.Limit = MaxLimit
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = DefaultConcurrency
	}
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Concurrency > MaxConcurrency {
		opts.Concurrency = MaxConcurrency
	}
	return opts
}

// Acquire downloads up to opts.Limit of urls and returns the successes in
// their original relative order. Failures and cancellation are not errors;
// the result may be shorter than requested or empty.
func (a *Acquirer) Acquire(ctx context.Context, urls []string, subjectKey string, opts Options) []Asset {
	opts = clampOptions(opts)
	if len(urls) > opts.Limit {
		urls = urls[:opts.Limit]
	}
	if len(urls) == 0 {
		return nil
	}

	userCanceled := opts.Canceled
	canceled := func() bool {
		if ctx.Err() != nil {
			return true
		}
		return userCanceled != nil && userCanceled()
	}

	results := make([]*Asset, len(urls))
	var mu sync.Mutex

	g := new(errgroup.Group)
	g.SetLimit(opts.Concurrency)
	for i, rawURL := range urls {
		if canceled() {
			break
		}
		i, rawURL := i, rawURL
		g.Go(func() error {
			if canceled() {
				a.metrics.IncAssetDownload(resultCanceled)
				return nil
			}
			asset, err := a.acquireOne(ctx, rawURL, subjectKey, i, canceled)
			if err != nil {
				a.report(ctx, rawURL, err)
				return nil
			}
			mu.Lock()
			results[i] = asset
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	out := make([]Asset, 0, len(results))
	for _, asset := range results {
		if asset != nil {
			out = append(out, *asset)
		}
	}
	return out
}

func (a *Acquirer) acquireOne(ctx context.Context, rawURL, subjectKey string, index int, canceled func() bool) (*Asset, error) {
	tmp, err := os.CreateTemp(a.cfg.Dir, ".download-*")
	if err != nil {
		return nil, fmt.Errorf("create download file: %w", err)
	}
	tmpName := tmp.Name()
	tmp.Close()
	defer os.Remove(tmpName)

	result := resultOK
	contentType, err := a.primary.Fetch(ctx, rawURL, tmpName, canceled)
	if err != nil && canceled() {
		return nil, errCanceled
	}
	if err != nil && !errors.Is(err, errCanceled) && a.fallback != nil {
		a.logg.Warn(a.logg.WithFields(ctx, map[string]any{"url": rawURL, "error": err.Error()}), "primary image fetch failed, trying fallback")
		contentType, err = a.fallback.Fetch(ctx, rawURL, tmpName, canceled)
		result = resultFallbackOK
	}
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(tmpName)
	if err != nil {
		return nil, fmt.Errorf("stat download: %w", err)
	}
	// the fallback transport has no size guard of its own
	if info.Size() < a.cfg.MinBytes {
		return nil, fmt.Errorf("%w: %d < %d bytes", errTooSmall, info.Size(), a.cfg.MinBytes)
	}

	raw, err := os.ReadFile(tmpName)
	if err != nil {
		return nil, fmt.Errorf("read download: %w", err)
	}
	data, ext, normalized := normalizeImage(raw, contentType, a.cfg.MaxDimension, a.cfg.JPEGQuality)
	if !normalized {
		a.logg.Debug(a.logg.WithField(ctx, "url", rawURL), "image not decodable, storing raw bytes")
	}

	path, err := writeAtomic(a.cfg.Dir, fileStem(subjectKey, index), ext, data)
	if err != nil {
		return nil, err
	}
	a.metrics.IncAssetDownload(result)
	return &Asset{
		SourceURL:  rawURL,
		Path:       path,
		Index:      index,
		Normalized: normalized,
		Bytes:      int64(len(data)),
	}, nil
}

func (a *Acquirer) report(ctx context.Context, rawURL string, err error) {
	switch {
	case errors.Is(err, errCanceled):
		a.metrics.IncAssetDownload(resultCanceled)
		return
	case errors.Is(err, errTooSmall):
		a.metrics.IncAssetDownload(resultTooSmall)
	default:
		a.metrics.IncAssetDownload(resultFailed)
	}
	a.logg.Warn(a.logg.WithFields(ctx, map[string]any{"url": rawURL, "error": err.Error()}), "image acquisition failed")
}
