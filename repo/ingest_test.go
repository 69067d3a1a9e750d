package repo

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debforge/debforge/config"
)

func ingestFile(t *testing.T, cfg *config.Config, rec *recorder, path string) (*PackageRecord, error) {
	t.Helper()
	sums, err := DigestFile(path)
	require.NoError(t, err)
	task := FetchTask{Source: "src", Component: "main", LocalPath: path, Filename: filepath.Base(path)}
	return NewIngester(cfg, rec.listen).Ingest(task, &LocalArtifact{Task: task, Path: path, Sums: sums})
}

func TestIngestValidPackage(t *testing.T) {
	cfg := testConfig()
	path := writeDeb(t, t.TempDir(), "hello", "1.0-1", "amd64")

	rec := &recorder{}
	pkg, err := ingestFile(t, cfg, rec, path)
	require.NoError(t, err)
	require.NotNil(t, pkg)
	assert.Equal(t, "hello_1.0-1_amd64", pkg.Identity())
	assert.Equal(t, "main", pkg.Component)
	assert.NotEmpty(t, pkg.Sums.SHA256)
}

func TestIngestSkipsUnconfiguredArchitecture(t *testing.T) {
	cfg := testConfig() // amd64 only
	path := writeDeb(t, t.TempDir(), "hello", "1.0", "s390x")

	rec := &recorder{}
	pkg, err := ingestFile(t, cfg, rec, path)
	require.NoError(t, err)
	assert.Nil(t, pkg, "unconfigured architecture is a skip, not a failure")

	require.Len(t, rec.events, 1)
	_, ok := rec.events[0].(EventPackageSkipped)
	assert.True(t, ok)
}

func TestIngestAcceptsArchAll(t *testing.T) {
	cfg := testConfig()
	path := writeDeb(t, t.TempDir(), "docs", "1.0", "all")

	pkg, err := ingestFile(t, cfg, &recorder{}, path)
	require.NoError(t, err)
	require.NotNil(t, pkg)
	assert.Equal(t, "all", pkg.Meta.Architecture)
}

func TestIngestRejectsMalformed(t *testing.T) {
	cfg := testConfig()
	dir := t.TempDir()

	// Not an ar archive at all.
	junk := filepath.Join(dir, "junk.deb")
	require.NoError(t, os.WriteFile(junk, []byte("not a deb"), 0o644))
	_, err := ingestFile(t, cfg, &recorder{}, junk)
	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))

	// Unsafe name: path traversal cannot reach the pool layout.
	evil := filepath.Join(dir, "evil.deb")
	require.NoError(t, os.WriteFile(evil, makeDeb(t, "Package: ../../etc\nVersion: 1.0\nArchitecture: amd64\n"), 0o644))
	_, err = ingestFile(t, cfg, &recorder{}, evil)
	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))

	// Version that fails Debian version parsing.
	badv := filepath.Join(dir, "badv.deb")
	require.NoError(t, os.WriteFile(badv, makeDeb(t, "Package: tool\nVersion: 1.0 beta\nArchitecture: amd64\n"), 0o644))
	_, err = ingestFile(t, cfg, &recorder{}, badv)
	require.Error(t, err)
	assert.Equal(t, KindMalformed, KindOf(err))
}
