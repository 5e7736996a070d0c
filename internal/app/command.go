package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode/utf8"

	"jobsched/internal/job"
	logx "jobsched/pkg/logx"
)

const (
	outputTail = 512
	// commandWaitDelay bounds how long a killed command may hold its pipes.
	commandWaitDelay = 2 * time.Second
)

// command is one external program run by a job.
type command struct {
	argv    []string
	dir     string
	timeout time.Duration
}

// run executes the command and waits for it. A non-zero exit becomes an
// error carrying the tail of the combined output.
func (c command) run(ctx context.Context, log logx.Logger) error {
	if len(c.argv) == 0 {
		return errors.New("empty command")
	}
	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, c.argv[0], c.argv[1:]...)
	cmd.Dir = c.dir
	cmd.WaitDelay = commandWaitDelay
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out

	start := time.Now()
	err := cmd.Run()
	took := time.Since(start)
	tail := tailOf(out.String())

	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return fmt.Errorf("%s: timed out after %s: %w", c.argv[0], c.timeout, err)
		}
		if tail != "" {
			return fmt.Errorf("%s: %w: %s", c.argv[0], err, tail)
		}
		return fmt.Errorf("%s: %w", c.argv[0], err)
	}
	log.Debug("command.finished",
		logx.Strings("argv", c.argv),
		logx.Duration("took", took),
		logx.String("output", tail),
	)
	return nil
}

// jobFunc adapts the command to a job body.
func (c command) jobFunc(log logx.Logger) job.Func {
	return func(ctx context.Context) error { return c.run(ctx, log) }
}

// tailOf keeps at most the last outputTail bytes of s, starting on a rune
// boundary.
func tailOf(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= outputTail {
		return s
	}
	i := len(s) - outputTail
	for i < len(s) && !utf8.RuneStart(s[i]) {
		i++
	}
	return "..." + s[i:]
}
