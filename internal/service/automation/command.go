// Package automation runs the external browser automation scripts that
// perform uploads and logins for each platform.
package automation

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"
)

var ErrNoCommand = errors.New("command is not configured")

// Command describes an external program invocation.
type Command struct {
	Args    []string
	Dir     string
	Env     []string
	Timeout time.Duration
}

func (c Command) validate() error {
	if len(c.Args) == 0 || strings.TrimSpace(c.Args[0]) == "" {
		return ErrNoCommand
	}
	return nil
}

// prepare builds the process under ctx, bounded by the command timeout.
// The returned cancel func must always be called.
func (c Command) prepare(ctx context.Context, extraArgs []string, extraEnv ...string) (*exec.Cmd, context.Context, context.CancelFunc) {
	cancel := context.CancelFunc(func() {})
	if c.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
	}

	args := append(append([]string{}, c.Args[1:]...), extraArgs...)
	cmd := exec.CommandContext(ctx, c.Args[0], args...)
	cmd.Dir = c.Dir
	cmd.Env = append(append(os.Environ(), c.Env...), extraEnv...)
	// do not hang on grandchildren that keep the pipes open
	cmd.WaitDelay = 2 * time.Second
	return cmd, ctx, cancel
}

// describeFailure turns a failed run into the message recorded for it.
func describeFailure(ctx context.Context, timeout time.Duration, runErr error, output string) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("timed out after %s", timeout)
	}
	if line := lastLine(output); line != "" {
		return errors.New(line)
	}
	return runErr
}

func lastLine(s string) string {
	lines := strings.Split(strings.TrimSpace(s), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

type limitedBuffer struct {
	buf bytes.Buffer
	max int
}

// Write keeps only the tail of the output once max is reached.
func (b *limitedBuffer) Write(p []byte) (int, error) {
	n := len(p)
	b.buf.Write(p)
	if b.max > 0 && b.buf.Len() > b.max {
		tail := b.buf.Bytes()[b.buf.Len()-b.max:]
		kept := append([]byte(nil), tail...)
		b.buf.Reset()
		b.buf.Write(kept)
	}
	return n, nil
}

func (b *limitedBuffer) String() string { return b.buf.String() }
