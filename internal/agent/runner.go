// Package agent launches one bounded work session against an external
// coding agent. The agent process is opaque: it gets a prompt on stdin and
// talks back to the ledger over MCP; all the runner observes is output and
// an exit status.
package agent

import (
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/jacob8919/autonomous-coding/embed/prompts"
	"github.com/jacob8919/autonomous-coding/pkg/models"
)

// Runner executes sessions by invoking an agent CLI.
type Runner struct {
	command    string
	args       []string
	cmdFactory func(ctx context.Context, name string, arg ...string) *exec.Cmd
}

// NewRunner creates a Runner for the given agent command, e.g.
// NewRunner("claude", "-p", "--dangerously-skip-permissions").
func NewRunner(command string, args ...string) *Runner {
	return &Runner{
		command:    command,
		args:       args,
		cmdFactory: exec.CommandContext,
	}
}

// Run executes one session. A nil feature dispatches the initializer
// directive. The returned outcome follows the collaborator contract:
// passing on clean exit, aborted when the context deadline killed the
// session, failed otherwise (with the error text).
func (r *Runner) Run(ctx context.Context, feature *models.Feature, out io.Writer) (models.SessionOutcome, *string) {
	prompt := BuildPrompt(feature)

	cmd := r.cmdFactory(ctx, r.command, r.args...)
	cmd.Stdin = strings.NewReader(prompt)
	cmd.Stdout = out
	cmd.Stderr = out

	err := cmd.Run()
	if err == nil {
		return models.SessionOutcomePassing, nil
	}

	if ctx.Err() == context.DeadlineExceeded {
		return models.SessionOutcomeAborted, nil
	}

	msg := err.Error()
	return models.SessionOutcomeFailed, &msg
}

// BuildPrompt assembles the session prompt. The initializer directive is
// used when no feature is assigned (first run against an empty ledger).
func BuildPrompt(feature *models.Feature) string {
	var sb strings.Builder

	if feature == nil {
		sb.WriteString(prompts.Initializer)
		sb.WriteString("\n")
		sb.WriteString(prompts.Footer)
		return sb.String()
	}

	sb.WriteString(prompts.Coding)
	sb.WriteString("\n\n")
	sb.WriteString(fmt.Sprintf("# Feature %d: %s\n\n", feature.ID, feature.Name))
	sb.WriteString(fmt.Sprintf("Category: %s\n\n", feature.Category))
	sb.WriteString(fmt.Sprintf("## Description\n%s\n\n", feature.Description))
	sb.WriteString("## Steps\n")
	for i, step := range feature.Steps {
		sb.WriteString(fmt.Sprintf("%d. %s\n", i+1, step))
	}
	if feature.LastError != nil && *feature.LastError != "" {
		sb.WriteString(fmt.Sprintf("\n## Previous attempt failed\n%s\n", *feature.LastError))
	}
	sb.WriteString("\n")
	sb.WriteString(prompts.Footer)
	return sb.String()
}
