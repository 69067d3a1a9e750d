// Package builder invokes external package build commands for sources that
// produce their own artifacts.
package builder

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/debforge/debforge/config"
)

// defaultCommand builds binary packages unsigned; sources that need sbuild
// or a chroot declare their own command.
var defaultCommand = []string{"dpkg-buildpackage", "-b", "-us", "-uc"}

// Run executes the build command for one source and returns the tail of its
// combined output. A non-zero exit or a timeout fails only this source.
func Run(ctx context.Context, source string, b *config.Build) (string, error) {
	if b.Timeout.Std() > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, b.Timeout.Std())
		defer cancel()
	}

	argv := b.Command
	if len(argv) == 0 {
		argv = defaultCommand
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = b.Dir
	cmd.Env = os.Environ()

	out, err := cmd.CombinedOutput()
	tail := outputTail(out)
	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return tail, fmt.Errorf("build for %s timed out after %s", source, b.Timeout.Std())
		}
		return tail, fmt.Errorf("build for %s: %w", source, err)
	}
	return tail, nil
}

// outputTail keeps the last few lines of build output, which is where build
// tools report their failure.
func outputTail(out []byte) string {
	const keep = 20
	lines := strings.Split(strings.TrimRight(string(out), "\n"), "\n")
	if len(lines) > keep {
		lines = lines[len(lines)-keep:]
	}
	return strings.Join(lines, "\n")
}
