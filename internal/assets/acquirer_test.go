package assets

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/catalogsync/pkg/config"
	"github.com/angelmondragon/catalogsync/pkg/logger"
)

func testConfig(t *testing.T) config.AssetsConfig {
	t.Helper()
	return config.AssetsConfig{
		Dir:            t.TempDir(),
		MaxDimension:   2048,
		JPEGQuality:    85,
		MinBytes:       16,
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		RequestTimeout: 5 * time.Second,
		UserAgent:      "test-agent/1.0",
	}
}

func gradientPNG(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x % 256), G: uint8(y % 256), B: 128, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func newAcquirer(t *testing.T, cfg config.AssetsConfig, fallback Fetcher) *Acquirer {
	t.Helper()
	acq, err := NewAcquirer(Params{Config: cfg, Logger: logger.Nop(), Fallback: fallback})
	require.NoError(t, err)
	return acq
}

func urlsFor(srv *httptest.Server, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s/img/%d.png", srv.URL, i)
	}
	return out
}

type fakeFetcher struct {
	calls atomic.Int32
	data  []byte
	err   error
}

func (f *fakeFetcher) Fetch(_ context.Context, _ string, dst string, _ func() bool) (string, error) {
	f.calls.Add(1)
	if f.err != nil {
		return "", f.err
	}
	return "image/png", os.WriteFile(dst, f.data, 0o644)
}

func TestAcquireLimitsAttemptsAndKeepsOrder(t *testing.T) {
	body := gradientPNG(t, 64, 48)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	acq := newAcquirer(t, cfg, nil)
	urls := urlsFor(srv, 6)

	assets := acq.Acquire(context.Background(), urls, "ACME-1", Options{Limit: 9, Concurrency: 4})

	require.Len(t, assets, 4)
	assert.EqualValues(t, 4, hits.Load())
	for i, asset := range assets {
		assert.Equal(t, i, asset.Index)
		assert.Equal(t, urls[i], asset.SourceURL)
		assert.True(t, asset.Normalized)
	}
	assert.Equal(t, filepath.Join(cfg.Dir, "ACME-1.jpg"), assets[0].Path)
	assert.Equal(t, filepath.Join(cfg.Dir, "ACME-1_3.jpg"), assets[3].Path)

	again := acq.Acquire(context.Background(), urls, "ACME-1", Options{Limit: 4, Concurrency: 4})
	require.Len(t, again, 4)
	entries, err := os.ReadDir(cfg.Dir)
	require.NoError(t, err)
	assert.Len(t, entries, 4, "reruns overwrite instead of accumulating files")
}

func TestAcquireBoundsConcurrency(t *testing.T) {
	body := gradientPNG(t, 32, 32)
	var inFlight, maxInFlight atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cur := inFlight.Add(1)
		for {
			prev := maxInFlight.Load()
			if cur <= prev || maxInFlight.CompareAndSwap(prev, cur) {
				break
			}
		}
		time.Sleep(40 * time.Millisecond)
		inFlight.Add(-1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	acq := newAcquirer(t, testConfig(t), nil)
	assets := acq.Acquire(context.Background(), urlsFor(srv, 6), "sku", Options{Limit: 4, Concurrency: 2})

	assert.Len(t, assets, 4)
	assert.LessOrEqual(t, maxInFlight.Load(), int32(2))
}

type signalingFetcher struct {
	calls atomic.Int32
	done  atomic.Bool
	data  []byte
}

func (f *signalingFetcher) Fetch(_ context.Context, _ string, dst string, _ func() bool) (string, error) {
	f.calls.Add(1)
	err := os.WriteFile(dst, f.data, 0o644)
	f.done.Store(true)
	return "image/png", err
}

func TestAcquireStopsIssuingWorkOnCancellation(t *testing.T) {
	primary := &signalingFetcher{data: gradientPNG(t, 32, 32)}
	acq, err := NewAcquirer(Params{Config: testConfig(t), Logger: logger.Nop(), Primary: primary})
	require.NoError(t, err)

	urls := []string{"https://img.example/0", "https://img.example/1", "https://img.example/2"}
	assets := acq.Acquire(context.Background(), urls, "sku", Options{Limit: 4, Concurrency: 1, Canceled: primary.done.Load})

	require.Len(t, assets, 1, "completed work is returned")
	assert.Equal(t, 0, assets[0].Index)
	assert.EqualValues(t, 1, primary.calls.Load())
}

func TestAcquireCancelsWhileStreaming(t *testing.T) {
	var flushed atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		chunk := bytes.Repeat([]byte{0x2}, 16*1024)
		for i := 0; i < 3; i++ {
			_, _ = w.Write(chunk)
			w.(http.Flusher).Flush()
			flushed.Store(true)
			time.Sleep(50 * time.Millisecond)
		}
	}))
	defer srv.Close()

	fallback := &fakeFetcher{data: gradientPNG(t, 32, 32)}
	acq := newAcquirer(t, testConfig(t), fallback)
	assets := acq.Acquire(context.Background(), urlsFor(srv, 1), "sku", Options{Limit: 1, Canceled: flushed.Load})

	assert.Empty(t, assets)
	assert.Zero(t, fallback.calls.Load(), "cancellation is not a transport failure")
}

func TestAcquireRetriesTransientFailures(t *testing.T) {
	body := gradientPNG(t, 32, 32)
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	acq := newAcquirer(t, testConfig(t), nil)
	assets := acq.Acquire(context.Background(), urlsFor(srv, 1), "sku", Options{Limit: 4})

	assert.Len(t, assets, 1)
	assert.EqualValues(t, 2, hits.Load())
}

func TestAcquireUsesFallbackWhenPrimaryFails(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	fallback := &fakeFetcher{data: gradientPNG(t, 40, 20)}
	acq := newAcquirer(t, testConfig(t), fallback)
	assets := acq.Acquire(context.Background(), urlsFor(srv, 1), "sku", Options{Limit: 4})

	require.Len(t, assets, 1)
	assert.EqualValues(t, 1, hits.Load(), "403 is not retried")
	assert.EqualValues(t, 1, fallback.calls.Load())
}

func TestAcquireFailsWhenBothTransportsFail(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	fallback := &fakeFetcher{err: errors.New("curl: (22) 404")}
	acq := newAcquirer(t, testConfig(t), fallback)

	assert.Empty(t, acq.Acquire(context.Background(), urlsFor(srv, 2), "sku", Options{Limit: 4}))
	assert.EqualValues(t, 2, fallback.calls.Load())
}

func TestAcquireRejectsUndersizedBody(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(bytes.Repeat([]byte{0x1}, 100))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.MinBytes = 1024
	acq := newAcquirer(t, cfg, nil)

	assert.Empty(t, acq.Acquire(context.Background(), urlsFor(srv, 1), "sku", Options{Limit: 4}))
	assert.EqualValues(t, cfg.MaxAttempts, hits.Load())
	entries, err := os.ReadDir(cfg.Dir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestAcquireRejectsNonImageResponses(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write(bytes.Repeat([]byte("<html>blocked</html>"), 100))
	}))
	defer srv.Close()

	cfg := testConfig(t)
	acq := newAcquirer(t, cfg, nil)
	assert.Empty(t, acq.Acquire(context.Background(), urlsFor(srv, 1), "sku", Options{Limit: 4}))
	assert.EqualValues(t, cfg.MaxAttempts, hits.Load())
}

func TestAcquireRetriesBadFirstResponse(t *testing.T) {
	body := gradientPNG(t, 32, 32)
	cases := map[string]func(w http.ResponseWriter){
		"html page": func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "text/html")
			_, _ = w.Write(bytes.Repeat([]byte("<html>challenge</html>"), 100))
		},
		"truncated body": func(w http.ResponseWriter) {
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(body[:4])
		},
	}
	for name, first := range cases {
		t.Run(name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if hits.Add(1) == 1 {
					first(w)
					return
				}
				w.Header().Set("Content-Type", "image/png")
				_, _ = w.Write(body)
			}))
			defer srv.Close()

			acq := newAcquirer(t, testConfig(t), nil)
			assets := acq.Acquire(context.Background(), urlsFor(srv, 1), "sku", Options{Limit: 1})

			require.Len(t, assets, 1)
			assert.EqualValues(t, 2, hits.Load())
		})
	}
}

func TestAcquireKeepsFilesOfKeysSharingAPrefix(t *testing.T) {
	body := gradientPNG(t, 32, 32)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	acq := newAcquirer(t, testConfig(t), nil)
	dotted := acq.Acquire(context.Background(), urlsFor(srv, 1), "ACME-12.5", Options{Limit: 1})
	require.Len(t, dotted, 1)
	plain := acq.Acquire(context.Background(), urlsFor(srv, 1), "ACME-12", Options{Limit: 1})
	require.Len(t, plain, 1)

	assert.NotEqual(t, dotted[0].Path, plain[0].Path)
	_, err := os.Stat(dotted[0].Path)
	assert.NoError(t, err)
	_, err = os.Stat(plain[0].Path)
	assert.NoError(t, err)
}

func TestWriteAtomicReplacesOtherExtensionOfSameStem(t *testing.T) {
	dir := t.TempDir()
	old, err := writeAtomic(dir, "sku", ".png", []byte("old"))
	require.NoError(t, err)

	fresh, err := writeAtomic(dir, "sku", ".jpg", []byte("new"))
	require.NoError(t, err)

	_, err = os.Stat(old)
	assert.True(t, os.IsNotExist(err))
	assert.Equal(t, filepath.Join(dir, "sku.jpg"), fresh)
}

func TestAcquireDownscalesLargeImages(t *testing.T) {
	body := gradientPNG(t, 3000, 1500)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	acq := newAcquirer(t, testConfig(t), nil)
	assets := acq.Acquire(context.Background(), urlsFor(srv, 1), "big", Options{Limit: 1})
	require.Len(t, assets, 1)

	f, err := os.Open(assets[0].Path)
	require.NoError(t, err)
	defer f.Close()
	cfg, format, err := image.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, "jpeg", format)
	assert.Equal(t, 2048, cfg.Width)
	assert.Equal(t, 1024, cfg.Height)
}

func TestAcquireStoresUndecodableBytesRaw(t *testing.T) {
	payload := bytes.Repeat([]byte{0xde, 0xad, 0xbe, 0xef}, 512)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/webp")
		_, _ = w.Write(payload)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	acq := newAcquirer(t, cfg, nil)
	assets := acq.Acquire(context.Background(), urlsFor(srv, 1), "raw", Options{Limit: 1})
	require.Len(t, assets, 1)
	assert.False(t, assets[0].Normalized)
	assert.Equal(t, filepath.Join(cfg.Dir, "raw.webp"), assets[0].Path)

	stored, err := os.ReadFile(assets[0].Path)
	require.NoError(t, err)
	assert.Equal(t, payload, stored)
}

func TestAcquireSendsClientIdentityAndReferer(t *testing.T) {
	body := gradientPNG(t, 32, 32)
	var mu sync.Mutex
	var gotUA, gotReferer string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotUA = r.Header.Get("User-Agent")
		gotReferer = r.Header.Get("Referer")
		mu.Unlock()
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cfg := testConfig(t)
	cfg.Referers = config.RefererMap{"127.0.0.1": "https://shop.example/"}
	acq := newAcquirer(t, cfg, nil)
	require.Len(t, acq.Acquire(context.Background(), urlsFor(srv, 1), "sku", Options{Limit: 1}), 1)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, "test-agent/1.0", gotUA)
	assert.Equal(t, "https://shop.example/", gotReferer)
}

func TestAcquireWithZeroLimitDoesNothing(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	acq := newAcquirer(t, testConfig(t), nil)
	assert.Empty(t, acq.Acquire(context.Background(), urlsFor(srv, 3), "sku", Options{Limit: 0}))
	assert.Zero(t, hits.Load())
}

func TestClampOptions(t *testing.T) {
	assert.Equal(t, Options{Limit: 0, Concurrency: DefaultConcurrency}, clampOptions(Options{Limit: -1}))
	assert.Equal(t, Options{Limit: 4, Concurrency: 8}, clampOptions(Options{Limit: 10, Concurrency: 20}))
	assert.Equal(t, Options{Limit: 2, Concurrency: 1}, clampOptions(Options{Limit: 2, Concurrency: -3}))
}

func TestFitWithin(t *testing.T) {
	w, h := fitWithin(3000, 1500, 2048)
	assert.Equal(t, [2]int{2048, 1024}, [2]int{w, h})
	w, h = fitWithin(1000, 4096, 2048)
	assert.Equal(t, [2]int{500, 2048}, [2]int{w, h})
	w, h = fitWithin(800, 600, 2048)
	assert.Equal(t, [2]int{800, 600}, [2]int{w, h})
}

func TestFileStem(t *testing.T) {
	assert.Equal(t, "ACME-42", fileStem("ACME-42", 0))
	assert.Equal(t, "ACME-42_2", fileStem("ACME-42", 2))
	assert.Equal(t, "a_b_c", fileStem("a/b c", 0))
	assert.Equal(t, "asset_1", fileStem(" ", 1))
}

func TestRefererForMatchesParentDomains(t *testing.T) {
	h := headerSet{referers: map[string]string{"example.com": "https://www.example.com/"}}
	assert.Equal(t, "https://www.example.com/", h.refererFor("https://cdn.images.example.com/a.jpg"))
	assert.Empty(t, h.refererFor("https://other.org/a.jpg"))
}
