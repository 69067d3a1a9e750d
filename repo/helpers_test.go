package repo

import (
	"archive/tar"
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/blakesmith/ar"
	"github.com/stretchr/testify/require"

	"github.com/debforge/debforge/deb"
)

// makeDeb builds a minimal .deb in memory: an ar container with the
// debian-binary marker and an uncompressed control.tar.
func makeDeb(t *testing.T, control string) []byte {
	t.Helper()

	var tarBuf bytes.Buffer
	tw := tar.NewWriter(&tarBuf)
	require.NoError(t, tw.WriteHeader(&tar.Header{
		Name: "./control",
		Mode: 0o644,
		Size: int64(len(control)),
	}))
	_, err := tw.Write([]byte(control))
	require.NoError(t, err)
	require.NoError(t, tw.Close())

	var buf bytes.Buffer
	w := ar.NewWriter(&buf)
	require.NoError(t, w.WriteGlobalHeader())
	for _, member := range []struct {
		name string
		body []byte
	}{
		{"debian-binary", []byte("2.0\n")},
		{"control.tar", tarBuf.Bytes()},
	} {
		require.NoError(t, w.WriteHeader(&ar.Header{
			Name:    member.name,
			ModTime: time.Unix(0, 0),
			Mode:    0o644,
			Size:    int64(len(member.body)),
		}))
		_, err := w.Write(member.body)
		require.NoError(t, err)
	}
	return buf.Bytes()
}

func controlFor(name, version, arch string) string {
	return fmt.Sprintf("Package: %s\nVersion: %s\nArchitecture: %s\nDescription: test package\n", name, version, arch)
}

// writeDeb materializes a test package on disk and returns its path.
func writeDeb(t *testing.T, dir, name, version, arch string) string {
	t.Helper()
	path := filepath.Join(dir, fmt.Sprintf("%s_%s_%s.deb", name, version, arch))
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(path, makeDeb(t, controlFor(name, version, arch)), 0o644))
	return path
}

func recordOf(t *testing.T, name, version, arch, component string) *PackageRecord {
	t.Helper()
	body := makeDeb(t, controlFor(name, version, arch))
	meta, err := deb.ReadControl(bytes.NewReader(body))
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), meta.StandardFilename())
	require.NoError(t, os.WriteFile(path, body, 0o644))

	return &PackageRecord{
		Meta:       meta,
		Component:  component,
		Sums:       DigestBytes(body),
		SourceFile: path,
	}
}

// recorder collects emitted events for assertions.
type recorder struct {
	mu     sync.Mutex
	events []fmt.Stringer
}

func (r *recorder) listen(e fmt.Stringer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) ofType(match func(fmt.Stringer) bool) []fmt.Stringer {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []fmt.Stringer
	for _, e := range r.events {
		if match(e) {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorder) retries() []EventFetchRetry {
	var out []EventFetchRetry
	for _, e := range r.ofType(func(e fmt.Stringer) bool { _, ok := e.(EventFetchRetry); return ok }) {
		out = append(out, e.(EventFetchRetry))
	}
	return out
}
