package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"github.com/urfave/cli/v3"

	"github.com/jobflow/jobflow/pkg/channels"
	"github.com/jobflow/jobflow/pkg/log"
	"github.com/jobflow/jobflow/pkg/store"
	"github.com/jobflow/jobflow/pkg/variables"
)

// Exit codes of the operation surface.
const (
	exitValidation = 2
	exitStore      = 3
)

func main() {
	cmd := &cli.Command{
		Name:                  "jobflow",
		Usage:                 "Declare, submit and track HPC workflows",
		EnableShellCompletion: true,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "log-level",
				Usage: "Log level (debug, info, warn, error)",
				Value: "info",
			},
		},
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			log.Setup(cmd.String("log-level"))

			return ctx, nil
		},
		Commands: []*cli.Command{
			newMakeCommand(),
			newSubmitCommand(),
			newWriteCmdCommand(),
			newSetTaskStartCommand(),
			newSetTaskEndCommand(),
			newKillCommand(),
			newCleanCommand(),
			newStatCommand(),
			newShowStatsCommand(),
			newArchiveCommand(),
			newArchiveTaskCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		exitWithCode(err)
	}
}

// exitWithCode maps the error taxonomy onto exit codes: declaration and
// validation errors exit 2, store errors 3, everything else 1.
func exitWithCode(err error) {
	fmt.Fprintln(os.Stderr, err)

	switch {
	case isValidationError(err):
		os.Exit(exitValidation)
	case isStoreError(err):
		os.Exit(exitStore)
	default:
		os.Exit(1)
	}
}

func isValidationError(err error) bool {
	var fieldErrs validator.ValidationErrors
	if errors.As(err, &fieldErrs) {
		return true
	}

	return errors.Is(err, variables.ErrUndefinedVariable) ||
		errors.Is(err, variables.ErrCyclicReference) ||
		errors.Is(err, variables.ErrFormatSpecifier) ||
		errors.Is(err, channels.ErrChannelTopology) ||
		errors.Is(err, channels.ErrTaskRangeCount) ||
		errors.Is(err, channels.ErrTaskRangeBounds)
}

func isStoreError(err error) bool {
	var opErr *store.OpError

	return errors.Is(err, store.ErrSchemaMissing) || errors.As(err, &opErr)
}
