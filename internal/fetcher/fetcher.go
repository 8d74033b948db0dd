package fetcher

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"

	"github.com/teamcutter/patchr/internal/domain"
	"github.com/teamcutter/patchr/internal/progress"
)

const (
	DefaultMaxRetries       = 3
	DefaultMaxRedirects     = 5
	DefaultChunkSize        = 1 << 20
	DefaultTimeout          = 60 * time.Second
	DefaultBackoff          = 2 * time.Second
	DefaultProgressInterval = 16 * time.Millisecond
)

// HTTPFetcher downloads one artifact per call with whole-transfer retries.
// Redirects are followed by hand so every hop gets its own status check and
// timeout.
type HTTPFetcher struct {
	client           *http.Client
	maxRetries       int
	maxRedirects     int
	chunkSize        int
	timeout          time.Duration
	backoff          time.Duration
	progressInterval time.Duration
	userAgent        string
	log              logrus.FieldLogger
	sleep            func(ctx context.Context, d time.Duration) error
}

type Option func(*HTTPFetcher)

func WithClient(c *http.Client) Option {
	return func(f *HTTPFetcher) { f.client = c }
}

func WithMaxRetries(n int) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.maxRetries = n
		}
	}
}

func WithMaxRedirects(n int) Option {
	return func(f *HTTPFetcher) {
		if n >= 0 {
			f.maxRedirects = n
		}
	}
}

func WithChunkSize(n int) Option {
	return func(f *HTTPFetcher) {
		if n > 0 {
			f.chunkSize = n
		}
	}
}

func WithTimeout(d time.Duration) Option {
	return func(f *HTTPFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

func WithBackoff(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.backoff = d }
}

func WithProgressInterval(d time.Duration) Option {
	return func(f *HTTPFetcher) { f.progressInterval = d }
}

func WithUserAgent(ua string) Option {
	return func(f *HTTPFetcher) { f.userAgent = ua }
}

func WithLogger(l logrus.FieldLogger) Option {
	return func(f *HTTPFetcher) { f.log = l }
}

// WithSleep replaces the backoff wait, mostly so tests can observe it.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(f *HTTPFetcher) { f.sleep = sleep }
}

func New(opts ...Option) *HTTPFetcher {
	f := &HTTPFetcher{
		maxRetries:       DefaultMaxRetries,
		maxRedirects:     DefaultMaxRedirects,
		chunkSize:        DefaultChunkSize,
		timeout:          DefaultTimeout,
		backoff:          DefaultBackoff,
		progressInterval: DefaultProgressInterval,
		userAgent:        "Mozilla/5.0",
		log:              logrus.StandardLogger(),
		sleep:            sleepContext,
	}
	for _, opt := range opts {
		opt(f)
	}

	if f.client == nil {
		f.client = &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				DialContext:           (&net.Dialer{Timeout: f.timeout}).DialContext,
				TLSHandshakeTimeout:   f.timeout,
				ResponseHeaderTimeout: f.timeout,
			},
		}
	}
	client := *f.client
	client.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	f.client = &client

	return f
}

// Fetch streams pkg into dst. On any failure dst is removed, so a caller
// never sees a partial artifact at that path.
func (f *HTTPFetcher) Fetch(ctx context.Context, pkg domain.Package, dst string, report domain.ProgressFunc) domain.FetchResult {
	result := domain.FetchResult{Package: pkg.Name, Path: dst}
	log := f.log.WithFields(logrus.Fields{"package": pkg.Name, "url": pkg.DownloadURL})

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		result.Error = err
		return result
	}

	report.Report(domain.Progress{Percent: 0, Total: -1, Message: "Starting..."})

	var lastErr error
	for attempt := 1; attempt <= f.maxRetries; attempt++ {
		result.Attempts = attempt

		if attempt > 1 {
			report.Report(domain.Progress{Percent: 0, Total: -1, Message: fmt.Sprintf("Retry %d...", attempt)})
			log.WithField("attempt", attempt).Infof("retrying after: %v", lastErr)

			if err := f.sleep(ctx, f.backoff*time.Duration(attempt)); err != nil {
				result.Error = fmt.Errorf("%w: %w", domain.ErrCancelled, err)
				return result
			}
		}

		size, sum, err := f.attempt(ctx, pkg, dst, report)
		if err == nil {
			result.Size = size
			result.SHA256 = sum
			log.WithFields(logrus.Fields{"bytes": size, "attempts": attempt}).Info("download complete")
			report.Report(domain.Progress{Percent: 100, Transferred: size, Total: size, Message: "Done"})
			return result
		}

		f.removePartial(dst)

		if errors.Is(err, domain.ErrCancelled) {
			log.Info("download cancelled")
			result.Error = err
			return result
		}

		lastErr = err
		log.WithField("attempt", attempt).Warnf("attempt failed: %v", err)

		if !domain.Retryable(err) {
			break
		}
	}

	result.Error = fmt.Errorf("%s: failed after %d attempts: %w", pkg.Name, result.Attempts, lastErr)
	return result
}

func (f *HTTPFetcher) attempt(ctx context.Context, pkg domain.Package, dst string, report domain.ProgressFunc) (int64, string, error) {
	actx, cancel := context.WithCancel(ctx)
	defer cancel()

	// idle watchdog, re-armed for every redirect hop and every read that returns data
	watchdog := time.AfterFunc(f.timeout, cancel)
	defer watchdog.Stop()

	resp, err := f.open(actx, pkg.DownloadURL, watchdog)
	if err != nil {
		return 0, "", f.classify(ctx, err)
	}
	defer resp.Body.Close()

	total := resp.ContentLength

	file, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return 0, "", err
	}
	defer file.Close()

	h := sha256.New()
	written, err := f.stream(ctx, resp.Body, file, h, total, watchdog, report)
	if err != nil {
		return written, "", err
	}

	if err := file.Close(); err != nil {
		return written, "", err
	}

	if total >= 0 && written != total {
		return written, "", fmt.Errorf("%w: got %d of %d bytes", domain.ErrIncompleteTransfer, written, total)
	}

	sum := hex.EncodeToString(h.Sum(nil))
	if pkg.SHA256 != "" && !strings.EqualFold(sum, pkg.SHA256) {
		return written, "", fmt.Errorf("%w: expected %s, got %s", domain.ErrChecksumMismatch, pkg.SHA256, sum)
	}

	return written, sum, nil
}

func (f *HTTPFetcher) stream(ctx context.Context, body io.Reader, file *os.File, h hash.Hash, total int64, watchdog *time.Timer, report domain.ProgressFunc) (int64, error) {
	buf := make([]byte, f.chunkSize)
	throttle := progress.NewThrottle(f.progressInterval)
	start := time.Now()

	var written int64
	for {
		if err := ctx.Err(); err != nil {
			return written, fmt.Errorf("%w: %w", domain.ErrCancelled, err)
		}

		n, rerr := readChunk(body, buf, func() { watchdog.Reset(f.timeout) })
		if n > 0 {
			if _, err := file.Write(buf[:n]); err != nil {
				return written, err
			}
			h.Write(buf[:n])
			written += int64(n)

			if throttle.Ready() {
				report.Report(snapshot(written, total, time.Since(start)))
			}
		}

		switch {
		case rerr == nil:
			continue
		case errors.Is(rerr, io.EOF):
			return written, nil
		case errors.Is(rerr, io.ErrUnexpectedEOF) && ctx.Err() == nil:
			return written, fmt.Errorf("%w: connection closed after %d bytes", domain.ErrIncompleteTransfer, written)
		default:
			return written, f.classify(ctx, rerr)
		}
	}
}

// open issues the GET and follows up to maxRedirects 301/302/303 hops.
func (f *HTTPFetcher) open(ctx context.Context, target string, watchdog *time.Timer) (*http.Response, error) {
	for hop := 0; ; hop++ {
		watchdog.Reset(f.timeout)

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("User-Agent", f.userAgent)

		resp, err := f.client.Do(req)
		if err != nil {
			return nil, err
		}

		if !isRedirect(resp.StatusCode) {
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, fmt.Errorf("%w: %s returned %s", domain.ErrTransferFailed, target, resp.Status)
			}
			return resp, nil
		}

		loc, err := resp.Location()
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: redirect from %s: %w", domain.ErrTransferFailed, target, err)
		}
		if hop >= f.maxRedirects {
			return nil, fmt.Errorf("%w: too many redirects (%d)", domain.ErrTransferFailed, f.maxRedirects)
		}

		f.log.WithFields(logrus.Fields{"from": target, "to": loc.String()}).Debug("following redirect")
		target = loc.String()
	}
}

func (f *HTTPFetcher) classify(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return fmt.Errorf("%w: %w", domain.ErrCancelled, ctxErr)
	}
	if errors.Is(err, domain.ErrTransferFailed) {
		return err
	}
	var urlErr interface{ Timeout() bool }
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: timed out: %w", domain.ErrTransferFailed, err)
	}
	if errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: no data for %v", domain.ErrTransferFailed, f.timeout)
	}
	return fmt.Errorf("%w: %w", domain.ErrTransferFailed, err)
}

func snapshot(written, total int64, elapsed time.Duration) domain.Progress {
	p := domain.Progress{Percent: -1, Transferred: written, Total: total}
	if total > 0 {
		p.Percent = float64(written) * 100 / float64(total)
	}
	if secs := elapsed.Seconds(); secs > 0 {
		p.Rate = humanize.Bytes(uint64(float64(written)/secs)) + "/s"
	}
	p.Message = p.Rate
	return p
}

// readChunk fills buf unless the reader ends or fails first. The reader's
// own error is returned so truncation stays distinguishable from EOF.
// progressed runs after every read that returned data.
func readChunk(r io.Reader, buf []byte, progressed func()) (int, error) {
	n := 0
	for n < len(buf) {
		m, err := r.Read(buf[n:])
		n += m
		if m > 0 {
			progressed()
		}
		if err != nil {
			return n, err
		}
	}
	return n, nil
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther:
		return true
	}
	return false
}

func (f *HTTPFetcher) removePartial(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		f.log.WithField("path", path).Warnf("failed to remove partial download: %v", err)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
