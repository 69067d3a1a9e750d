package repo

import (
	"context"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// LocalArtifact is a fetched-and-verified package file ready for ingestion.
type LocalArtifact struct {
	Task FetchTask
	Path string
	Sums Checksums
}

// RetryPolicy bounds the fetcher's retry behavior. Retries counts the
// re-attempts after the first try; backoff grows exponentially from Initial
// and is capped at Max.
type RetryPolicy struct {
	Retries int
	Initial time.Duration
	Max     time.Duration
}

// retryState is the per-task retry machine: attempts consumed and the next
// backoff interval. It is deliberately independent of any network code so
// the policy can be tested in isolation.
type retryState struct {
	policy  RetryPolicy
	retries int
	b       *backoff.ExponentialBackOff
}

func newRetryState(p RetryPolicy) *retryState {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = 2
	// No jitter: backoff ordering is part of the observable contract.
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return &retryState{policy: p, b: b}
}

// next returns the delay before the following attempt, or false when the
// retry budget is exhausted.
func (s *retryState) next() (time.Duration, bool) {
	if s.retries >= s.policy.Retries {
		return 0, false
	}
	s.retries++
	return s.b.NextBackOff(), true
}

// Fetcher retrieves artifacts into the download cache. Remote downloads are
// written to a temporary path and renamed only after checksum verification,
// so a crash mid-download can never leave a corrupt file that passes for a
// complete one.
type Fetcher struct {
	client   *http.Client
	policy   RetryPolicy
	cacheDir string
	listen   Listener
}

func NewFetcher(client *http.Client, policy RetryPolicy, cacheDir string, listen Listener) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client, policy: policy, cacheDir: cacheDir, listen: listen}
}

// Fetch acquires one artifact. Only transient failures are retried; a 4xx
// response or a checksum mismatch after a complete download is terminal for
// the task.
func (f *Fetcher) Fetch(ctx context.Context, task FetchTask) (*LocalArtifact, error) {
	if task.LocalPath != "" {
		return f.verifyLocal(task)
	}

	dest := filepath.Join(f.cacheDir, task.Source, task.Filename)
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, errOf(KindTransient, task.Source, "creating cache dir: %w", err)
	}

	if art, ok := f.reuseExisting(ctx, task, dest); ok {
		f.listen.emit(EventArtifactFetched{Source: task.Source, Path: dest, Size: art.Sums.Size, Cached: true})
		return art, nil
	}

	state := newRetryState(f.policy)
	for {
		art, err := f.attempt(ctx, task, dest)
		if err == nil {
			f.listen.emit(EventArtifactFetched{Source: task.Source, Path: dest, Size: art.Sums.Size})
			return art, nil
		}
		if !Retryable(err) {
			return nil, err
		}

		delay, ok := state.next()
		if !ok {
			return nil, errOf(KindUnreachable, task.Source,
				"%s unreachable after %d retries: %w", task.URL, f.policy.Retries, err)
		}
		f.listen.emit(EventFetchRetry{
			Source:  task.Source,
			URL:     task.URL,
			Attempt: state.retries,
			Backoff: delay.String(),
			Reason:  err.Error(),
		})
		select {
		case <-ctx.Done():
			return nil, errOf(KindUnreachable, task.Source, "fetch canceled: %w", ctx.Err())
		case <-time.After(delay):
		}
	}
}

// verifyLocal resolves a local artifact in place. Local files still get
// checksum verification when one is declared, guarding against silent
// corruption.
func (f *Fetcher) verifyLocal(task FetchTask) (*LocalArtifact, error) {
	if _, err := os.Stat(task.LocalPath); err != nil {
		if os.IsNotExist(err) {
			return nil, errOf(KindNotFound, task.Source, "local artifact %s does not exist", task.LocalPath)
		}
		return nil, errOf(KindTransient, task.Source, "stat %s: %w", task.LocalPath, err)
	}
	sums, err := VerifyFile(task.LocalPath, task.SHA256, task.Source)
	if err != nil {
		return nil, err
	}
	return &LocalArtifact{Task: task, Path: task.LocalPath, Sums: sums}, nil
}

// reuseExisting short-circuits a download whose cache destination already
// holds the right content: checksum match when one is declared, otherwise a
// HEAD content-length comparison against the remote.
func (f *Fetcher) reuseExisting(ctx context.Context, task FetchTask, dest string) (*LocalArtifact, bool) {
	info, err := os.Stat(dest)
	if err != nil {
		return nil, false
	}

	if task.SHA256 != "" {
		sums, err := DigestFile(dest)
		if err != nil || sums.SHA256 != task.SHA256 {
			return nil, false
		}
		return &LocalArtifact{Task: task, Path: dest, Sums: sums}, true
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, task.URL, nil)
	if err != nil {
		return nil, false
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, false
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, false
	}
	length, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64)
	if err != nil || length != info.Size() {
		return nil, false
	}

	sums, err := DigestFile(dest)
	if err != nil {
		return nil, false
	}
	return &LocalArtifact{Task: task, Path: dest, Sums: sums}, true
}

func (f *Fetcher) attempt(ctx context.Context, task FetchTask, dest string) (*LocalArtifact, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, task.URL, nil)
	if err != nil {
		return nil, errOf(KindMalformed, task.Source, "building request for %s: %w", task.URL, err)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, errOf(KindTransient, task.Source, "requesting %s: %w", task.URL, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusNotFound:
		return nil, errOf(KindNotFound, task.Source, "%s: not found", task.URL)
	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		return nil, errOf(KindNotFound, task.Source, "%s: rejected with status %d", task.URL, resp.StatusCode)
	default:
		return nil, errOf(KindTransient, task.Source, "%s: status %d", task.URL, resp.StatusCode)
	}

	sums, err := f.download(task, resp.Body, dest)
	if err != nil {
		return nil, err
	}
	return &LocalArtifact{Task: task, Path: dest, Sums: sums}, nil
}

// download streams the body into a temporary sibling of dest, hashing as it
// goes. The expected checksum is checked against the temporary file, so only
// a complete and verified download is ever renamed into place.
func (f *Fetcher) download(task FetchTask, body io.Reader, dest string) (Checksums, error) {
	part := dest + ".part"
	out, err := os.Create(part)
	if err != nil {
		return Checksums{}, errOf(KindTransient, task.Source, "downloading %s: %w", task.URL, err)
	}

	digester := NewDigester()
	_, err = io.Copy(io.MultiWriter(out, digester), body)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(part)
		return Checksums{}, errOf(KindTransient, task.Source, "downloading %s: %w", task.URL, err)
	}

	sums := digester.Sums()
	if task.SHA256 != "" && sums.SHA256 != task.SHA256 {
		os.Remove(part)
		return Checksums{}, errOf(KindIntegrity, task.Source,
			"checksum mismatch for %s: got sha256 %s, want %s", task.URL, sums.SHA256, task.SHA256)
	}

	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return Checksums{}, errOf(KindTransient, task.Source, "renaming %s into place: %w", part, err)
	}
	return sums, nil
}
