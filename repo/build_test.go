package repo

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debforge/debforge/config"
)

func boolPtr(b bool) *bool { return &b }

func runnerConfig(t *testing.T, sources ...config.Source) *config.Config {
	t.Helper()
	return &config.Config{
		Archive:       config.Archive{Origin: "Test", Label: "Test", Suite: "stable", Codename: "stable"},
		Architectures: []string{"amd64"},
		Components:    []string{"main"},
		RepoRoot:      filepath.Join(t.TempDir(), "live"),
		KeepVersions:  2,
		Workers:       4,
		Fetch: config.Fetch{
			Retries:        1,
			BackoffInitial: config.Duration(time.Millisecond),
			BackoffMax:     config.Duration(5 * time.Millisecond),
		},
		Signing: config.Signing{Required: boolPtr(false)},
		Sources: sources,
	}
}

func TestRunPublishesEndToEnd(t *testing.T) {
	builds := t.TempDir()
	writeDeb(t, builds, "hello", "1.0-1", "amd64")
	writeDeb(t, builds, "docs", "2.0", "all")

	remoteDeb := makeDeb(t, controlFor("tool", "3.0", "amd64"))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(remoteDeb)
	}))
	defer srv.Close()

	cfg := runnerConfig(t,
		config.Source{Name: "builds", Component: "main", Path: builds},
		config.Source{Name: "tool", Component: "main", URL: srv.URL + "/tool_3.0_amd64.deb"},
	)

	rec := &recorder{}
	summary, err := NewRunner(cfg, rec.listen).Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	assert.True(t, summary.Published)
	assert.Equal(t, 0, summary.Failures())
	assert.Equal(t, 3, summary.Packages)
	require.Len(t, summary.Outcomes, 2)
	assert.Equal(t, "ok", summary.Outcomes[0].Status)
	assert.Equal(t, 2, summary.Outcomes[0].Packages)
	assert.Equal(t, "ok", summary.Outcomes[1].Status)

	// The live tree holds pool artifacts and indexes.
	packages, err := os.ReadFile(filepath.Join(cfg.RepoRoot, "dists", "stable", "main", "binary-amd64", "Packages"))
	require.NoError(t, err)
	assert.Contains(t, string(packages), "Package: hello\n")
	assert.Contains(t, string(packages), "Package: docs\n")
	assert.Contains(t, string(packages), "Package: tool\n")

	_, err = os.Stat(filepath.Join(cfg.RepoRoot, "pool", "main", "h", "hello", "hello_1.0-1_amd64.deb"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.RepoRoot, "dists", "stable", "Release"))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(cfg.RepoRoot, "dists", "stable", "main", "binary-amd64", "Packages.xz"))
	assert.NoError(t, err)

	// Unsigned run: no InRelease.
	_, err = os.Stat(filepath.Join(cfg.RepoRoot, "dists", "stable", "InRelease"))
	assert.True(t, os.IsNotExist(err))

	// Nothing stays behind in staging.
	_, err = os.Stat(cfg.RepoRoot + ".staging")
	assert.True(t, os.IsNotExist(err))
}

func TestRunIsolatesFailedSources(t *testing.T) {
	builds := t.TempDir()
	writeDeb(t, builds, "hello", "1.0", "amd64")

	srv := httptest.NewServer(http.HandlerFunc(http.NotFound))
	defer srv.Close()

	cfg := runnerConfig(t,
		config.Source{Name: "good", Component: "main", Path: builds},
		config.Source{Name: "broken", Component: "main", URL: srv.URL + "/missing.deb"},
	)

	summary, err := NewRunner(cfg, nil).Run(context.Background())
	require.NoError(t, err, "a per-source failure must not abort the run")

	assert.True(t, summary.Published)
	assert.Equal(t, 1, summary.Failures())
	assert.Equal(t, "ok", summary.Outcomes[0].Status)
	assert.Equal(t, "failed", summary.Outcomes[1].Status)
	assert.Equal(t, "not-found", summary.Outcomes[1].Kind)

	packages, err := os.ReadFile(filepath.Join(cfg.RepoRoot, "dists", "stable", "main", "binary-amd64", "Packages"))
	require.NoError(t, err)
	assert.Contains(t, string(packages), "Package: hello\n")
}

func TestRunAbortsWhenPartialPublishDisabled(t *testing.T) {
	builds := t.TempDir()
	writeDeb(t, builds, "hello", "1.0", "amd64")

	cfg := runnerConfig(t,
		config.Source{Name: "good", Component: "main", Path: builds},
		config.Source{Name: "broken", Component: "main", Path: "/does/not/exist"},
	)
	cfg.PublishPartial = boolPtr(false)

	summary, err := NewRunner(cfg, nil).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
	require.NotNil(t, summary)
	assert.False(t, summary.Published)

	// Nothing was published.
	_, statErr := os.Stat(cfg.RepoRoot)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunAbortsOnEmptyRequiredComponent(t *testing.T) {
	cfg := runnerConfig(t,
		config.Source{Name: "broken", Component: "main", Path: "/does/not/exist"},
	)
	cfg.RequiredComponents = []string{"main"}

	summary, err := NewRunner(cfg, nil).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))
	assert.False(t, summary.Published)

	_, statErr := os.Stat(cfg.RepoRoot)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRunFatalSigningLeavesLiveTreeUntouched(t *testing.T) {
	builds := t.TempDir()
	writeDeb(t, builds, "hello", "1.0", "amd64")

	cfg := runnerConfig(t, config.Source{Name: "builds", Component: "main", Path: builds})
	_, err := NewRunner(cfg, nil).Run(context.Background())
	require.NoError(t, err)

	before, err := os.ReadFile(filepath.Join(cfg.RepoRoot, "dists", "stable", "Release"))
	require.NoError(t, err)

	// Required signing with an unusable key aborts before any publication.
	cfg.Signing = config.Signing{KeyEnv: "DEBFORGE_MISSING_KEY"}
	t.Setenv("DEBFORGE_MISSING_KEY", "")
	_, err = NewRunner(cfg, nil).Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, KindFatal, KindOf(err))

	after, err := os.ReadFile(filepath.Join(cfg.RepoRoot, "dists", "stable", "Release"))
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunReportsBuildOutputOnFailure(t *testing.T) {
	dir := t.TempDir()
	cfg := runnerConfig(t, config.Source{
		Name:      "broken-build",
		Component: "main",
		Path:      dir,
		Build: &config.Build{
			Dir:     dir,
			Command: []string{"sh", "-c", "echo compile error: boom; exit 1"},
		},
	})

	summary, err := NewRunner(cfg, nil).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, summary.Outcomes, 1)
	assert.Equal(t, "failed", summary.Outcomes[0].Status)
	assert.Equal(t, "malformed-input", summary.Outcomes[0].Kind)
	// The failure reason carries the build tool's own diagnostics.
	assert.Contains(t, summary.Outcomes[0].Reason, "compile error: boom")
}

func TestRunReplacesPreviousPublication(t *testing.T) {
	builds := t.TempDir()
	writeDeb(t, builds, "hello", "1.0", "amd64")

	cfg := runnerConfig(t, config.Source{Name: "builds", Component: "main", Path: builds})
	_, err := NewRunner(cfg, nil).Run(context.Background())
	require.NoError(t, err)

	// Second run adds a newer version; the carried-forward pool keeps both
	// within the retention budget.
	writeDeb(t, builds, "hello", "1.1", "amd64")
	summary, err := NewRunner(cfg, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Packages)

	packages, err := os.ReadFile(filepath.Join(cfg.RepoRoot, "dists", "stable", "main", "binary-amd64", "Packages"))
	require.NoError(t, err)
	body := string(packages)
	assert.Contains(t, body, "Version: 1.1\n")
	assert.Contains(t, body, "Version: 1.0\n")

	// The displaced publication is retained for one cycle.
	_, err = os.Stat(cfg.RepoRoot + ".prev")
	assert.NoError(t, err)
}

func TestRunRetentionEvictsOldVersions(t *testing.T) {
	builds := t.TempDir()
	writeDeb(t, builds, "hello", "1.0", "amd64")
	writeDeb(t, builds, "hello", "1.1", "amd64")
	writeDeb(t, builds, "hello", "1.2", "amd64")

	cfg := runnerConfig(t, config.Source{Name: "builds", Component: "main", Path: builds})
	cfg.KeepVersions = 2

	summary, err := NewRunner(cfg, nil).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Packages)

	packages, err := os.ReadFile(filepath.Join(cfg.RepoRoot, "dists", "stable", "main", "binary-amd64", "Packages"))
	require.NoError(t, err)
	body := string(packages)
	assert.Contains(t, body, "Version: 1.2\n")
	assert.Contains(t, body, "Version: 1.1\n")
	assert.NotContains(t, body, "Version: 1.0\n")

	_, err = os.Stat(filepath.Join(cfg.RepoRoot, "pool", "main", "h", "hello", "hello_1.0_amd64.deb"))
	assert.True(t, os.IsNotExist(err))
}
