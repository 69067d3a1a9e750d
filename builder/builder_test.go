package builder

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/debforge/debforge/config"
)

func TestRunSuccess(t *testing.T) {
	dir := t.TempDir()
	b := &config.Build{Dir: dir, Command: []string{"sh", "-c", "echo built > out.txt"}}

	_, err := Run(context.Background(), "demo", b)
	require.NoError(t, err)

	out, err := os.ReadFile(filepath.Join(dir, "out.txt"))
	require.NoError(t, err)
	assert.Equal(t, "built\n", string(out))
}

func TestRunFailureCarriesOutput(t *testing.T) {
	b := &config.Build{Dir: t.TempDir(), Command: []string{"sh", "-c", "echo boom >&2; exit 3"}}

	out, err := Run(context.Background(), "demo", b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "demo")
	assert.Contains(t, out, "boom")
}

func TestRunTimeout(t *testing.T) {
	b := &config.Build{
		Dir:     t.TempDir(),
		Command: []string{"sleep", "5"},
		Timeout: config.Duration(50 * time.Millisecond),
	}

	start := time.Now()
	_, err := Run(context.Background(), "demo", b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timed out")
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestOutputTail(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "line\n"
	}
	tail := outputTail([]byte(long + "last\n"))
	assert.Contains(t, tail, "last")
	assert.LessOrEqual(t, len(tail), len("line\n")*20+len("last\n"))
}
