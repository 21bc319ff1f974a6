package launcher

import (
	"bytes"
	"context"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/richinsley/comfy2ayon/errdefs"
)

// GitExecutor is the git surface the launcher needs. Tests replace it with a mock.
type GitExecutor interface {
	// IsRepo reports whether dir is the top of a git work tree.
	IsRepo(ctx context.Context, dir string) bool
	Clone(ctx context.Context, url, dest string) error
	// Checkout checks out a tag, branch or commit in dir.
	Checkout(ctx context.Context, dir, ref string) error
}

// Compile-time check that RealExecutor implements GitExecutor.
var _ GitExecutor = (*RealExecutor)(nil)

// RealExecutor runs the git binary found on PATH.
type RealExecutor struct {
	// Binary overrides the git executable, "git" when empty.
	Binary string
}

func NewRealExecutor() *RealExecutor {
	return &RealExecutor{}
}

func (e *RealExecutor) binary() string {
	if e.Binary != "" {
		return e.Binary
	}
	return "git"
}

// runGitOutput executes git in dir and returns trimmed stdout.
func (e *RealExecutor) runGitOutput(ctx context.Context, dir string, args ...string) (string, error) {
	//nolint:gosec // G204: args come from addon settings
	cmd := exec.CommandContext(ctx, e.binary(), args...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = "failed"
		}
		return "", errdefs.Service("git "+args[0], err, "%s", msg)
	}
	return strings.TrimSpace(stdout.String()), nil
}

func (e *RealExecutor) IsRepo(ctx context.Context, dir string) bool {
	top, err := e.runGitOutput(ctx, dir, "rev-parse", "--show-toplevel")
	if err != nil {
		return false
	}
	want, err1 := filepath.EvalSymlinks(dir)
	got, err2 := filepath.EvalSymlinks(top)
	if err1 != nil || err2 != nil {
		return filepath.Clean(top) == filepath.Clean(dir)
	}
	return want == got
}

func (e *RealExecutor) Clone(ctx context.Context, url, dest string) error {
	_, err := e.runGitOutput(ctx, filepath.Dir(dest), "clone", url, dest)
	return err
}

func (e *RealExecutor) Checkout(ctx context.Context, dir, ref string) error {
	_, err := e.runGitOutput(ctx, dir, "checkout", ref)
	return err
}
