package fetcher

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
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

	"github.com/teamcutter/patchr/internal/domain"
	"github.com/teamcutter/patchr/internal/logging"
)

type sleepRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (s *sleepRecorder) sleep(_ context.Context, d time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delays = append(s.delays, d)
	return nil
}

func newTestFetcher(rec *sleepRecorder, opts ...Option) *HTTPFetcher {
	base := []Option{
		WithLogger(logging.Discard()),
		WithBackoff(time.Millisecond),
		WithProgressInterval(0),
		WithTimeout(5 * time.Second),
		WithSleep(rec.sleep),
	}
	return New(append(base, opts...)...)
}

func payload(n int) []byte {
	return bytes.Repeat([]byte("patchr!"), n/7+1)[:n]
}

func TestFetchExactLength(t *testing.T) {
	body := payload(300)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Write(body)
	}))
	defer srv.Close()

	var updates []domain.Progress
	rec := &sleepRecorder{}
	f := newTestFetcher(rec, WithChunkSize(64))
	dst := filepath.Join(t.TempDir(), "4.pwr")

	res := f.Fetch(context.Background(), domain.Package{Name: "patch-4", DownloadURL: srv.URL + "/4.pwr"}, dst,
		func(p domain.Progress) { updates = append(updates, p) })
	require.NoError(t, res.Error)

	info, err := os.Stat(dst)
	require.NoError(t, err)
	assert.Equal(t, int64(300), info.Size())
	assert.Equal(t, int64(300), res.Size)
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, rec.delays)

	sum := sha256.Sum256(body)
	assert.Equal(t, hex.EncodeToString(sum[:]), res.SHA256)

	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, float64(100), last.Percent)
	assert.Equal(t, "Done", last.Message)

	for i := 1; i < len(updates)-1; i++ {
		if updates[i].Transferred > 0 {
			assert.GreaterOrEqual(t, updates[i].Percent, float64(0))
			assert.LessOrEqual(t, updates[i].Percent, float64(100))
		}
	}
}

func TestFetchShortBodyIsIncomplete(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		conn, buf, err := w.(http.Hijacker).Hijack()
		if err != nil {
			return
		}
		defer conn.Close()
		buf.WriteString("HTTP/1.1 200 OK\r\nContent-Length: 300\r\nConnection: close\r\n\r\n")
		buf.Write(payload(100))
		buf.Flush()
	}))
	defer srv.Close()

	rec := &sleepRecorder{}
	f := newTestFetcher(rec)
	dst := filepath.Join(t.TempDir(), "2.pwr")

	res := f.Fetch(context.Background(), domain.Package{Name: "patch-2", DownloadURL: srv.URL}, dst, nil)
	require.Error(t, res.Error)
	assert.True(t, errors.Is(res.Error, domain.ErrIncompleteTransfer), "got %v", res.Error)
	assert.True(t, errors.Is(res.Error, domain.ErrTransferFailed))
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))

	_, err := os.Stat(dst)
	assert.True(t, os.IsNotExist(err), "partial file must be removed")
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	var hits int32
	body := payload(128)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		w.Write(body)
	}))
	defer srv.Close()

	var messages []string
	rec := &sleepRecorder{}
	f := newTestFetcher(rec)
	dst := filepath.Join(t.TempDir(), "pkg.jar")

	res := f.Fetch(context.Background(), domain.Package{Name: "pkg", DownloadURL: srv.URL}, dst,
		func(p domain.Progress) { messages = append(messages, p.Message) })
	require.NoError(t, res.Error)
	assert.Equal(t, 3, res.Attempts)

	require.Len(t, rec.delays, 2)
	assert.Equal(t, []time.Duration{2 * time.Millisecond, 3 * time.Millisecond}, rec.delays)
	assert.Contains(t, messages, "Retry 2...")
	assert.Contains(t, messages, "Retry 3...")

	got, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, body, got)
}

func TestFetchNonSuccessStatusFails(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	rec := &sleepRecorder{}
	f := newTestFetcher(rec)
	dst := filepath.Join(t.TempDir(), "missing.pwr")

	res := f.Fetch(context.Background(), domain.Package{Name: "missing", DownloadURL: srv.URL}, dst, nil)
	require.Error(t, res.Error)
	assert.True(t, errors.Is(res.Error, domain.ErrTransferFailed))
	assert.False(t, errors.Is(res.Error, domain.ErrCancelled))
	assert.Equal(t, 3, res.Attempts)
	assert.Len(t, rec.delays, 2)

	_, err := os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestFetchFollowsRedirects(t *testing.T) {
	body := payload(50)
	mux := http.NewServeMux()
	mux.HandleFunc("/a", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/b", http.StatusMovedPermanently)
	})
	mux.HandleFunc("/b", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/c", http.StatusFound)
	})
	mux.HandleFunc("/c", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/file", http.StatusSeeOther)
	})
	mux.HandleFunc("/file", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Mozilla/5.0", r.Header.Get("User-Agent"))
		w.Write(body)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	f := newTestFetcher(&sleepRecorder{})
	dst := filepath.Join(t.TempDir(), "file")

	res := f.Fetch(context.Background(), domain.Package{Name: "file", DownloadURL: srv.URL + "/a"}, dst, nil)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(len(body)), res.Size)
}

func TestFetchTooManyRedirects(t *testing.T) {
	var hops int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hops, 1)
		http.Redirect(w, r, "/loop", http.StatusFound)
	}))
	defer srv.Close()

	f := newTestFetcher(&sleepRecorder{}, WithMaxRetries(1), WithMaxRedirects(2))
	dst := filepath.Join(t.TempDir(), "loop")

	res := f.Fetch(context.Background(), domain.Package{Name: "loop", DownloadURL: srv.URL}, dst, nil)
	require.Error(t, res.Error)
	assert.True(t, errors.Is(res.Error, domain.ErrTransferFailed))
	// initial request plus two followed hops
	assert.Equal(t, int32(3), atomic.LoadInt32(&hops))
}

func TestFetchUnknownLength(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		w.Write(payload(40))
		flusher.Flush()
		w.Write(payload(60))
	}))
	defer srv.Close()

	var sawIndeterminate bool
	f := newTestFetcher(&sleepRecorder{}, WithChunkSize(16))
	dst := filepath.Join(t.TempDir(), "chunked")

	res := f.Fetch(context.Background(), domain.Package{Name: "chunked", DownloadURL: srv.URL}, dst, func(p domain.Progress) {
		if p.Transferred > 0 && p.Indeterminate() {
			sawIndeterminate = true
		}
	})
	require.NoError(t, res.Error)
	assert.Equal(t, int64(100), res.Size)
	assert.True(t, sawIndeterminate)
}

func TestFetchChecksumMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload(10))
	}))
	defer srv.Close()

	f := newTestFetcher(&sleepRecorder{})
	dst := filepath.Join(t.TempDir(), "bad")

	res := f.Fetch(context.Background(), domain.Package{Name: "bad", DownloadURL: srv.URL, SHA256: "00ff"}, dst, nil)
	require.Error(t, res.Error)
	assert.True(t, errors.Is(res.Error, domain.ErrChecksumMismatch))

	_, err := os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestFetchCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "1048576")
		w.Write(payload(1024))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rec := &sleepRecorder{}
	f := newTestFetcher(rec, WithChunkSize(256))
	dst := filepath.Join(t.TempDir(), "big.pwr")

	res := f.Fetch(ctx, domain.Package{Name: "big", DownloadURL: srv.URL}, dst, func(p domain.Progress) {
		if p.Transferred > 0 {
			cancel()
		}
	})
	require.Error(t, res.Error)
	assert.True(t, errors.Is(res.Error, domain.ErrCancelled), "got %v", res.Error)
	assert.False(t, errors.Is(res.Error, domain.ErrTransferFailed))
	assert.Equal(t, 1, res.Attempts)
	assert.Empty(t, rec.delays, "cancellation must not be retried")

	_, err := os.Stat(dst)
	assert.True(t, os.IsNotExist(err))
}

func TestFetchIdleTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.Write(payload(10))
		w.(http.Flusher).Flush()
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	f := newTestFetcher(&sleepRecorder{}, WithMaxRetries(1), WithTimeout(100*time.Millisecond), WithChunkSize(8))
	dst := filepath.Join(t.TempDir(), "stall")

	res := f.Fetch(context.Background(), domain.Package{Name: "stall", DownloadURL: srv.URL}, dst, nil)
	require.Error(t, res.Error)
	assert.True(t, errors.Is(res.Error, domain.ErrTransferFailed), "got %v", res.Error)
	assert.False(t, errors.Is(res.Error, domain.ErrCancelled))
}

func TestFetchSlowLinkWithinIdleTimeout(t *testing.T) {
	body := payload(160)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		for off := 0; off < len(body); off += 8 {
			w.Write(body[off : off+8])
			w.(http.Flusher).Flush()
			select {
			case <-r.Context().Done():
				return
			case <-time.After(20 * time.Millisecond):
			}
		}
	}))
	defer srv.Close()

	f := newTestFetcher(&sleepRecorder{}, WithMaxRetries(1), WithTimeout(150*time.Millisecond), WithChunkSize(64))
	dst := filepath.Join(t.TempDir(), "trickle")

	res := f.Fetch(context.Background(), domain.Package{Name: "trickle", DownloadURL: srv.URL}, dst, nil)
	require.NoError(t, res.Error)
	assert.Equal(t, int64(len(body)), res.Size)
	data, err := os.ReadFile(dst)
	require.NoError(t, err)
	assert.Equal(t, body, data)
}
