package scheduler

import (
	"context"
	"fmt"
	"os/exec"
	"regexp"
	"strings"

	"github.com/jobflow/jobflow/pkg/jobscript"
)

var jobIDPattern = regexp.MustCompile(`[0-9]+`)

// ShellBridge drives a qsub-style submit command: holds are passed with
// -hold_jid and the accepted job id is scraped from the command output.
// Vendor-specific header rendering still belongs to the generated
// script; this bridge only submits and cancels.
type ShellBridge struct {
	SubmitCommand string
	CancelCommand string
}

func NewShellBridge(submitCommand string) *ShellBridge {
	return &ShellBridge{SubmitCommand: submitCommand, CancelCommand: "qdel"}
}

func (b *ShellBridge) Submit(ctx context.Context, _ *jobscript.Script, path string, holdOn []string) (string, error) {
	args := make([]string, 0, 3)

	if len(holdOn) > 0 {
		args = append(args, "-hold_jid", strings.Join(holdOn, ","))
	}

	args = append(args, path)

	out, err := exec.CommandContext(ctx, b.SubmitCommand, args...).Output()
	if err != nil {
		return "", fmt.Errorf("submit command failed for %s: %w", path, err)
	}

	id := jobIDPattern.FindString(string(out))
	if id == "" {
		return "", fmt.Errorf("could not extract a job id from submit output %q", strings.TrimSpace(string(out)))
	}

	return id, nil
}

func (b *ShellBridge) Cancel(ctx context.Context, handles []string) error {
	if len(handles) == 0 {
		return nil
	}

	if err := exec.CommandContext(ctx, b.CancelCommand, handles...).Run(); err != nil {
		return fmt.Errorf("cancel command failed: %w", err)
	}

	return nil
}
