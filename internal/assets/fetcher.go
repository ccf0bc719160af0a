package assets

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gabriel-vasile/mimetype"
)

const (
	streamChunkSize = 32 * 1024
	sniffLen        = 3072
)

var errCanceled = errors.New("acquisition canceled")

// Fetcher downloads one URL into dst. It returns the content type it
// observed, which may be empty.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL, dst string, canceled func() bool) (string, error)
}

type statusError struct {
	code int
}

func (e *statusError) Error() string {
	return fmt.Sprintf("unexpected status %d", e.code)
}

// permanent reports whether retrying the same request cannot help.
func (e *statusError) permanent() bool {
	if e.code == http.StatusRequestTimeout || e.code == http.StatusTooManyRequests {
		return false
	}
	return e.code >= 400 && e.code < 500
}

type headerSet struct {
	userAgent string
	referers  map[string]string
}

func (h headerSet) refererFor(rawURL string) string {
	if len(h.referers) == 0 {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	for host != "" {
		if ref, ok := h.referers[host]; ok {
			return ref
		}
		_, parent, found := strings.Cut(host, ".")
		if !found {
			break
		}
		host = parent
	}
	return ""
}

type httpFetcher struct {
	client   *http.Client
	headers  headerSet
	minBytes int64

	maxAttempts    int
	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// Fetch retries transient failures with exponential backoff, including
// non-image and undersized responses. Client errors other than 408 and 429
// fail immediately.
func (f *httpFetcher) Fetch(ctx context.Context, rawURL, dst string, canceled func() bool) (string, error) {
	var contentType string
	op := func() error {
		if canceled() {
			return backoff.Permanent(errCanceled)
		}
		ct, err := f.fetchOnce(ctx, rawURL, dst, canceled)
		if err == nil {
			contentType = ct
			return nil
		}
		var se *statusError
		if errors.Is(err, errCanceled) || (errors.As(err, &se) && se.permanent()) {
			return backoff.Permanent(err)
		}
		return err
	}
	if err := backoff.Retry(op, f.policy(ctx)); err != nil {
		return "", err
	}
	return contentType, nil
}

func (f *httpFetcher) policy(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = f.initialBackoff
	b.MaxInterval = f.maxBackoff
	b.MaxElapsedTime = 0
	retries := f.maxAttempts - 1
	if retries < 0 {
		retries = 0
	}
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(retries)), ctx)
}

var (
	errNotImage = errors.New("response is not an image")
	errTooSmall = errors.New("downloaded file below minimum size")
)

func (f *httpFetcher) fetchOnce(ctx context.Context, rawURL, dst string, canceled func() bool) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return "", backoff.Permanent(fmt.Errorf("build request: %w", err))
	}
	req.Header.Set("User-Agent", f.headers.userAgent)
	req.Header.Set("Accept", "image/avif,image/webp,image/apng,image/*,*/*;q=0.8")
	if ref := f.headers.refererFor(rawURL); ref != "" {
		req.Header.Set("Referer", ref)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &statusError{code: resp.StatusCode}
	}

	br := bufio.NewReaderSize(resp.Body, sniffLen)
	head, _ := br.Peek(sniffLen)
	contentType, ok := imageContentType(resp.Header.Get("Content-Type"), head)
	if !ok {
		return "", fmt.Errorf("%w: %s", errNotImage, contentType)
	}

	written, err := streamToFile(br, dst, canceled)
	if err != nil {
		return "", err
	}
	if written < f.minBytes {
		return "", fmt.Errorf("%w: %d < %d bytes", errTooSmall, written, f.minBytes)
	}
	return contentType, nil
}

// imageContentType accepts an image/* header, or sniffs the body when the
// header is missing or generic.
func imageContentType(header string, head []byte) (string, bool) {
	ct := strings.ToLower(strings.TrimSpace(strings.Split(header, ";")[0]))
	if strings.HasPrefix(ct, "image/") {
		return ct, true
	}
	if ct != "" && ct != "application/octet-stream" && ct != "binary/octet-stream" {
		return ct, false
	}
	detected := mimetype.Detect(head)
	if strings.HasPrefix(detected.String(), "image/") {
		return detected.String(), true
	}
	return detected.String(), false
}

// streamToFile truncates dst and copies r into it, returning the bytes written.
func streamToFile(r io.Reader, dst string, canceled func() bool) (int64, error) {
	out, err := os.Create(dst)
	if err != nil {
		return 0, backoff.Permanent(fmt.Errorf("create temp file: %w", err))
	}
	defer out.Close()

	var written int64
	buf := make([]byte, streamChunkSize)
	for {
		if canceled() {
			return written, errCanceled
		}
		n, readErr := r.Read(buf)
		if n > 0 {
			if _, err := out.Write(buf[:n]); err != nil {
				return written, backoff.Permanent(fmt.Errorf("write temp file: %w", err))
			}
			written += int64(n)
		}
		if errors.Is(readErr, io.EOF) {
			return written, out.Sync()
		}
		if readErr != nil {
			return written, fmt.Errorf("read body: %w", readErr)
		}
	}
}
