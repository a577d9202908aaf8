package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"unfurl/internal/media"
)

// Runner executes the external video extraction tool and returns its stdout.
// Stdout is returned even when the process fails, since partial output may
// still carry usable lines.
type Runner interface {
	Run(ctx context.Context, args ...string) (string, error)
}

// ExecRunner runs a yt-dlp compatible binary.
// Arguments are always passed as an explicit slice; no shell is involved.
type ExecRunner struct {
	Path    string
	Timeout time.Duration
}

// NewExecRunner creates an ExecRunner bounded by timeout.
func NewExecRunner(path string, timeout time.Duration) *ExecRunner {
	return &ExecRunner{Path: path, Timeout: timeout}
}

// Run executes the binary. A process that cannot start or that exceeds the
// timeout yields an error wrapping media.ErrUpstreamUnavailable; a non-zero
// exit yields a plain error.
func (r *ExecRunner) Run(ctx context.Context, args ...string) (string, error) {
	if r.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, r.Path, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	err := cmd.Run()

	log.WithFields(log.Fields{
		"bin":     r.Path,
		"args":    args,
		"elapsed": time.Since(start),
		"stdout":  truncate(stdout.String(), 512),
	}).Debug("extractor finished")

	if err == nil {
		return stdout.String(), nil
	}

	var exitErr *exec.ExitError
	switch {
	case ctx.Err() != nil:
		return stdout.String(), fmt.Errorf("%w: %s: %v", media.ErrUpstreamUnavailable, r.Path, ctx.Err())
	case errors.As(err, &exitErr):
		return stdout.String(), fmt.Errorf("%s exited with code %d: %s",
			r.Path, exitErr.ExitCode(), truncate(strings.TrimSpace(stderr.String()), 256))
	default:
		return "", fmt.Errorf("%w: starting %s: %v", media.ErrUpstreamUnavailable, r.Path, err)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
