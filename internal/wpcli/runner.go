// Package wpcli drives WP-CLI to read version state from a WordPress
// installation and to upgrade its core, plugins and themes.
package wpcli

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
)

// DefaultBinary is the WP-CLI executable looked up on PATH.
const DefaultBinary = "wp"

// ErrBinaryNotFound is returned when the WP-CLI executable cannot be found.
var ErrBinaryNotFound = errors.New("wp-cli binary not found")

// Config locates the WP-CLI binary and the installation it operates on.
type Config struct {
	Binary    string
	Path      string
	AllowRoot bool

	// DisallowFileMods blocks all upgrades regardless of wp-config.php.
	DisallowFileMods bool
}

// Runner executes one WP-CLI command and returns its stdout.
type Runner interface {
	Run(ctx context.Context, args ...string) ([]byte, error)
}

// ExecRunner runs WP-CLI as a subprocess against a fixed installation. The
// --path, --no-color and (optionally) --allow-root global flags are injected
// into every command.
type ExecRunner struct {
	binary string
	global []string
}

// NewExecRunner resolves the WP-CLI binary and returns a runner for cfg.
func NewExecRunner(cfg Config) (*ExecRunner, error) {
	binary := cfg.Binary
	if binary == "" {
		binary = DefaultBinary
	}
	resolved, err := exec.LookPath(binary)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrBinaryNotFound, binary, err)
	}

	global := []string{"--no-color"}
	if cfg.Path != "" {
		global = append(global, "--path="+cfg.Path)
	}
	if cfg.AllowRoot {
		global = append(global, "--allow-root")
	}
	return &ExecRunner{binary: resolved, global: global}, nil
}

// Run executes WP-CLI with args. Stderr is captured separately and included
// in the error on failure.
func (r *ExecRunner) Run(ctx context.Context, args ...string) ([]byte, error) {
	fullArgs := append(append([]string{}, r.global...), args...)
	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, r.binary, fullArgs...)
	command.Stdout = &stdout
	command.Stderr = &stderr

	if err := command.Run(); err != nil {
		return nil, fmt.Errorf("wp %s: %w (stderr: %s)",
			strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
