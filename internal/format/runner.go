package format

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
)

// Runner executes an external tool. It exists so tests can replace the tools
// with canned output.
type Runner interface {
	// Output runs name with args and returns its stdout.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Stream runs name with args, copying stdout to w.
	Stream(ctx context.Context, w io.Writer, name string, args ...string) error
}

// ExecRunner runs tools as child processes.
type ExecRunner struct{}

// Output executes the command and captures stdout; stderr is folded into the
// returned error on failure.
func (ExecRunner) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return stdout.Bytes(), nil
}

// Stream executes the command with stdout attached to w.
func (ExecRunner) Stream(ctx context.Context, w io.Writer, name string, args ...string) error {
	cmd := exec.CommandContext(ctx, name, args...)

	var stderr bytes.Buffer
	cmd.Stdout = w
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("%s %s: %s: %w", name, strings.Join(args, " "), strings.TrimSpace(stderr.String()), err)
	}
	return nil
}

func joinRoot(root, rel string) string {
	if filepath.IsAbs(rel) || root == "" {
		return rel
	}
	return filepath.Join(root, rel)
}
