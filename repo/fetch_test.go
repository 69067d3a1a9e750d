package repo

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = RetryPolicy{Retries: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond}

func TestRetryStateBackoffGrowth(t *testing.T) {
	s := newRetryState(RetryPolicy{Retries: 5, Initial: 100 * time.Millisecond, Max: 300 * time.Millisecond})

	d1, ok := s.next()
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, d1)

	d2, _ := s.next()
	assert.Equal(t, 200*time.Millisecond, d2)

	// Capped at the configured maximum.
	d3, _ := s.next()
	assert.Equal(t, 300*time.Millisecond, d3)
	d4, _ := s.next()
	assert.Equal(t, 300*time.Millisecond, d4)

	_, ok = s.next()
	require.True(t, ok)
	_, ok = s.next()
	assert.False(t, ok, "budget must be exhausted after Retries draws")
}

func TestFetchRetriesThenSucceeds(t *testing.T) {
	payload := makeDeb(t, controlFor("hello", "1.0", "amd64"))

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	defer srv.Close()

	rec := &recorder{}
	f := NewFetcher(srv.Client(), fastPolicy, t.TempDir(), rec.listen)
	art, err := f.Fetch(context.Background(), FetchTask{
		Source: "hello", URL: srv.URL + "/hello_1.0_amd64.deb", Filename: "hello_1.0_amd64.deb",
	})
	require.NoError(t, err)

	assert.Equal(t, int32(4), calls.Load())
	assert.Len(t, rec.retries(), 3)
	assert.Equal(t, DigestBytes(payload).SHA256, art.Sums.SHA256)

	// The verified artifact is in place, with no partial file left behind.
	_, err = os.Stat(art.Path)
	assert.NoError(t, err)
	_, err = os.Stat(art.Path + ".part")
	assert.True(t, os.IsNotExist(err))
}

func TestFetchExhaustsRetries(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), RetryPolicy{Retries: 2, Initial: time.Millisecond, Max: time.Millisecond}, t.TempDir(), nil)
	_, err := f.Fetch(context.Background(), FetchTask{Source: "s", URL: srv.URL + "/a.deb", Filename: "a.deb"})
	require.Error(t, err)
	assert.Equal(t, KindUnreachable, KindOf(err))
}

func TestFetchNotFoundIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	f := NewFetcher(srv.Client(), fastPolicy, t.TempDir(), nil)
	_, err := f.Fetch(context.Background(), FetchTask{Source: "s", URL: srv.URL + "/a.deb", Filename: "a.deb"})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "4xx must not be retried")
}

func TestFetchChecksumMismatchIsTerminal(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write([]byte("corrupted"))
	}))
	defer srv.Close()

	cache := t.TempDir()
	f := NewFetcher(srv.Client(), fastPolicy, cache, nil)
	_, err := f.Fetch(context.Background(), FetchTask{
		Source:   "s",
		URL:      srv.URL + "/a.deb",
		Filename: "a.deb",
		SHA256:   DigestBytes([]byte("expected")).SHA256,
	})
	require.Error(t, err)
	assert.Equal(t, KindIntegrity, KindOf(err))
	assert.Equal(t, int32(1), calls.Load(), "integrity failures must not be retried")

	// The mismatching download must not survive, not even as a partial file.
	_, err = os.Stat(filepath.Join(cache, "s", "a.deb"))
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(filepath.Join(cache, "s", "a.deb.part"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchChecksumMismatchLeavesDestinationIntact(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("corrupted"))
	}))
	defer srv.Close()

	// A stale file already sits at the cached destination. Verification
	// happens on the partial download, so a mismatch never replaces it.
	cache := t.TempDir()
	stale := []byte("previous good artifact")
	require.NoError(t, os.MkdirAll(filepath.Join(cache, "s"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cache, "s", "a.deb"), stale, 0o644))

	f := NewFetcher(srv.Client(), fastPolicy, cache, nil)
	_, err := f.Fetch(context.Background(), FetchTask{
		Source:   "s",
		URL:      srv.URL + "/a.deb",
		Filename: "a.deb",
		SHA256:   DigestBytes([]byte("expected")).SHA256,
	})
	require.Error(t, err)
	assert.Equal(t, KindIntegrity, KindOf(err))

	got, err := os.ReadFile(filepath.Join(cache, "s", "a.deb"))
	require.NoError(t, err)
	assert.Equal(t, stale, got)
	_, err = os.Stat(filepath.Join(cache, "s", "a.deb.part"))
	assert.True(t, os.IsNotExist(err))
}

func TestFetchReusesCachedArtifact(t *testing.T) {
	payload := []byte("cached artifact")

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Write(payload)
	}))
	defer srv.Close()

	cache := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(cache, "s"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(cache, "s", "a.deb"), payload, 0o644))

	rec := &recorder{}
	f := NewFetcher(srv.Client(), fastPolicy, cache, rec.listen)
	art, err := f.Fetch(context.Background(), FetchTask{
		Source: "s", URL: srv.URL + "/a.deb", Filename: "a.deb",
		SHA256: DigestBytes(payload).SHA256,
	})
	require.NoError(t, err)
	assert.Equal(t, int32(0), calls.Load(), "a checksum-verified cache hit needs no request")

	fetched := rec.ofType(func(e fmt.Stringer) bool {
		ev, ok := e.(EventArtifactFetched)
		return ok && ev.Cached
	})
	assert.Len(t, fetched, 1)
	assert.Equal(t, int64(len(payload)), art.Sums.Size)
}

func TestFetchLocalArtifact(t *testing.T) {
	path := writeDeb(t, t.TempDir(), "local", "1.0", "amd64")

	f := NewFetcher(nil, fastPolicy, t.TempDir(), nil)
	art, err := f.Fetch(context.Background(), FetchTask{Source: "s", LocalPath: path, Filename: filepath.Base(path)})
	require.NoError(t, err)
	assert.Equal(t, path, art.Path)

	_, err = f.Fetch(context.Background(), FetchTask{Source: "s", LocalPath: "/does/not/exist.deb"})
	require.Error(t, err)
	assert.Equal(t, KindNotFound, KindOf(err))
}
