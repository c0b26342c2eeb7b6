// Package checkpoint persists a durable snapshot of the project after each
// session outcome. The git details stay behind the Checkpoint call; callers
// only see ok or an error.
package checkpoint

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

// Git commits the whole project directory, ledger snapshot included.
type Git struct {
	dir        string
	cmdFactory func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

func NewGit(dir string) *Git {
	return &Git{
		dir:        dir,
		cmdFactory: exec.CommandContext,
	}
}

// Checkpoint stages everything and commits with the given message. A clean
// working tree is not an error; there is simply nothing to snapshot.
func (g *Git) Checkpoint(ctx context.Context, message string) error {
	if err := g.run(ctx, "add", "-A"); err != nil {
		return fmt.Errorf("failed to stage changes: %w", err)
	}

	// Exit 0 means nothing staged.
	cmd := g.cmdFactory(ctx, "git", "-C", g.dir, "diff", "--cached", "--quiet")
	if err := cmd.Run(); err == nil {
		return nil
	}

	if err := g.run(ctx, "commit", "-m", message); err != nil {
		return fmt.Errorf("failed to commit checkpoint: %w", err)
	}
	return nil
}

func (g *Git) run(ctx context.Context, args ...string) error {
	full := append([]string{"-C", g.dir}, args...)
	cmd := g.cmdFactory(ctx, "git", full...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(string(out)))
	}
	return nil
}
