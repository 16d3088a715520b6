package units

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"
)

// ErrEmptyCommand is returned when a command line has no arguments.
var ErrEmptyCommand = errors.New("empty command")

// Command is a parsed command line.
type Command []string

// ParseCommand splits a shell-like command line into its arguments.
// Quoting is supported, pipes and redirects are not.
func ParseCommand(line string) (Command, error) {
	args, err := shlex.Split(line)
	if err != nil {
		return nil, fmt.Errorf("failed to parse command %q: %w", line, err)
	}
	if len(args) == 0 {
		return nil, ErrEmptyCommand
	}
	return Command(args), nil
}

// String returns the command line.
func (c Command) String() string {
	return strings.Join(c, " ")
}

// Run runs the command with the given extra arguments appended.
// A non-zero exit code is returned as an error that includes the first line
// of stderr.
func (c Command) Run(ctx context.Context, extraArgs ...string) error {
	if len(c) == 0 {
		return ErrEmptyCommand
	}

	args := make([]string, 0, len(c)-1+len(extraArgs))
	args = append(args, c[1:]...)
	args = append(args, extraArgs...)
	cmd := exec.CommandContext(ctx, c[0], args...) //nolint:gosec // Commands come from the operator config.

	var stderrBuf bytes.Buffer
	cmd.Stderr = &stderrBuf

	err := cmd.Run()
	if err == nil {
		return nil
	}

	// Add the first line of stderr to the error, if available.
	stderr := strings.TrimSpace(stderrBuf.String())
	if stderr != "" {
		return fmt.Errorf("%w: %s", err, strings.SplitN(stderr, "\n", 2)[0])
	}
	return err
}
