package decoder

import (
	"context"
	"os/exec"
)

// Runner executes the decoder command and returns its combined output.
type Runner interface {
	Run(ctx context.Context, args []string) ([]byte, error)
}

type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, args []string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	return cmd.CombinedOutput()
}
