package mediatool

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/dugoutlabs/hap/internal/haperr"
)

// Stage names reported inside media failures.
const (
	StageProbe        = "probe"
	StageTrim         = "trim"
	StageConcat       = "concat"
	StageFilterGraph  = "filter_graph"
	StageExtractAudio = "extract_audio"
)

// tailLines is how many stderr lines the runner retains for diagnostics.
const tailLines = 100

// tailMaxBytes caps the rendered stderr tail attached to failures.
const tailMaxBytes = 1000

// tailBuffer keeps the most recent stderr lines written by a child
// process. ffmpeg rewrites its progress line with carriage returns, so
// \r is treated as a line break too.
type tailBuffer struct {
	lines []string
	cur   bytes.Buffer
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	for _, c := range p {
		if c == '\n' || c == '\r' {
			t.flushLine()
			continue
		}
		t.cur.WriteByte(c)
	}
	return len(p), nil
}

func (t *tailBuffer) flushLine() {
	line := strings.TrimRight(t.cur.String(), " \t")
	t.cur.Reset()
	if line == "" {
		return
	}
	t.lines = append(t.lines, line)
	if len(t.lines) > tailLines {
		t.lines = t.lines[len(t.lines)-tailLines:]
	}
}

// Tail returns the retained stderr output, newest lines last, trimmed
// from the front to fit the byte cap.
func (t *tailBuffer) Tail() string {
	t.flushLine()
	joined := strings.Join(t.lines, "\n")
	if len(joined) > tailMaxBytes {
		joined = joined[len(joined)-tailMaxBytes:]
	}
	return joined
}

// run executes the ffmpeg binary with the given arguments. The context
// is only consulted before the process starts; once spawned, the call
// runs to completion or to the per-call timeout so that partially
// written media files are never left behind by a cancelled run.
func (t *Tool) run(ctx context.Context, stage string, args []string) error {
	return t.runBinary(ctx, stage, t.ffmpegPath, args, nil)
}

// runCapture is run with stdout collected, used for ffprobe.
func (t *Tool) runCapture(ctx context.Context, stage string, args []string) ([]byte, error) {
	var stdout bytes.Buffer
	err := t.runBinary(ctx, stage, t.ffprobePath, args, &stdout)
	return stdout.Bytes(), err
}

func (t *Tool) runBinary(ctx context.Context, stage, binary string, args []string, stdout *bytes.Buffer) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%s not started: %w", stage, haperr.ErrCancelled)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.timeout)
	defer cancel()

	tail := &tailBuffer{}
	cmd := exec.CommandContext(runCtx, binary, args...)
	cmd.Stderr = tail
	if stdout != nil {
		cmd.Stdout = stdout
	}

	started := time.Now()
	err := cmd.Run()
	elapsed := time.Since(started)

	t.logger.Debug("media tool finished",
		slog.String("stage", stage),
		slog.String("binary", binary),
		slog.Duration("elapsed", elapsed),
		slog.Bool("ok", err == nil))

	if err == nil {
		return nil
	}

	stderrTail := tail.Tail()
	if runCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("timed out after %s: %w", t.timeout, err)
	}

	return &haperr.MediaFailureError{
		Stage:      stage,
		ExitCode:   exitCode(err),
		StderrTail: stderrTail,
		Err:        err,
	}
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}
