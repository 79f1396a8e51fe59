package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jobflow/jobflow/pkg/archive"
	"github.com/jobflow/jobflow/pkg/config"
	"github.com/jobflow/jobflow/pkg/controller"
	"github.com/jobflow/jobflow/pkg/log"
	"github.com/jobflow/jobflow/pkg/scheduler"
	"github.com/jobflow/jobflow/pkg/store"
)

func specFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "spec",
		Aliases: []string{"f"},
		Usage:   "Workflow spec document",
		Value:   "workflow.yml",
	}
}

func dirFlag() cli.Flag {
	return &cli.StringFlag{
		Name:    "directory",
		Aliases: []string{"d"},
		Usage:   "Workflow working directory",
		Value:   ".",
	}
}

// buildController wires the store, bridge and archiver for one
// invocation.
func buildController(ctx context.Context, workingDir string, direct bool) (*controller.Controller, *store.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	logger := log.WithModule("jobflow")

	if cfg.DatabaseURL == "" {
		if err := os.MkdirAll(cfg.DataDirFor(workingDir), 0o755); err != nil {
			return nil, nil, fmt.Errorf("cannot create data directory: %w", err)
		}
	}

	st, err := store.Open(cfg.StorePath(workingDir), cfg.DatabaseURL, logger)
	if err != nil {
		return nil, nil, err
	}

	var bridge scheduler.Bridge = scheduler.NewShellBridge(cfg.SubmitCommand)
	if direct || cfg.SubmitCommand == "" || cfg.SubmitCommand == "direct" {
		bridge = scheduler.NewDirectBridge()
	}

	ctl := controller.New(controller.Options{
		Config:   cfg,
		Store:    st,
		Bridge:   bridge,
		Archiver: archive.NullArchiver{},
		Logger:   logger,
	})

	return ctl, st, nil
}

func newMakeCommand() *cli.Command {
	return &cli.Command{
		Name:  "make",
		Usage: "Build and persist a workflow from a spec document",
		Flags: append([]cli.Flag{specFlag(), dirFlag()}, overrideFlags()...),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.String("directory")

			decl, err := loadDeclaration(cmd.String("spec"))
			if err != nil {
				return err
			}

			ctl, st, err := buildController(ctx, dir, true)
			if err != nil {
				return err
			}
			defer st.Close()

			id, err := ctl.MakeWorkflow(ctx, decl, dir, declOverrides(cmd))
			if err != nil {
				return err
			}

			fmt.Println(id)

			return nil
		},
	}
}

func newSubmitCommand() *cli.Command {
	return &cli.Command{
		Name:  "submit",
		Usage: "Make the workflow if absent, then submit it",
		Flags: append(overrideFlags(),
			specFlag(),
			dirFlag(),
			&cli.StringFlag{
				Name:    "task-ranges",
				Aliases: []string{"t"},
				Usage:   "Comma-separated task range per channel, e.g. 0-2,0-4 (start-end[:step] or all)",
			},
			&cli.UintFlag{
				Name:  "workflow",
				Usage: "Submit an existing workflow id instead of reading a spec",
			},
			&cli.IntFlag{
				Name:  "iteration",
				Usage: "Iteration index to run",
				Value: 0,
			},
			&cli.BoolFlag{
				Name:  "direct",
				Usage: "Bypass the scheduler and record submissions directly",
			},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.String("directory")

			ctl, st, err := buildController(ctx, dir, cmd.Bool("direct"))
			if err != nil {
				return err
			}
			defer st.Close()

			workflowID := uint(cmd.Uint("workflow"))
			if workflowID == 0 {
				decl, err := loadDeclaration(cmd.String("spec"))
				if err != nil {
					return err
				}

				workflowID, err = ctl.MakeWorkflow(ctx, decl, dir, declOverrides(cmd))
				if err != nil {
					return err
				}
			}

			ranges, err := parseTaskRanges(cmd.String("task-ranges"))
			if err != nil {
				return err
			}

			subID, err := ctl.SubmitWorkflow(ctx, workflowID, ranges, cmd.Int("iteration"))
			if err != nil {
				return err
			}

			fmt.Println(subID)

			return nil
		},
	}
}

func newWriteCmdCommand() *cli.Command {
	return &cli.Command{
		Name:      "write-cmd",
		Usage:     "Runtime hook: write the resolved command file for a jobscript task",
		ArgsUsage: "<jobscript-id> <task-index>",
		Flags:     []cli.Flag{dirFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jsID, taskIdx, err := jobscriptArgs(cmd)
			if err != nil {
				return err
			}

			ctl, st, err := buildController(ctx, cmd.String("directory"), true)
			if err != nil {
				return err
			}
			defer st.Close()

			return ctl.WriteCmd(ctx, jsID, taskIdx)
		},
	}
}

func newSetTaskStartCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-task-start",
		Usage:     "Runtime hook: record a task start",
		ArgsUsage: "<jobscript-id>",
		Flags:     append(taskFlags(), dirFlag()),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jsID, err := idArg(cmd)
			if err != nil {
				return err
			}

			ctl, st, err := buildController(ctx, cmd.String("directory"), true)
			if err != nil {
				return err
			}
			defer st.Close()

			return ctl.SetTaskStart(ctx, jsID, cmd.Int("iteration"), cmd.Int("task"))
		},
	}
}

func newSetTaskEndCommand() *cli.Command {
	return &cli.Command{
		Name:      "set-task-end",
		Usage:     "Runtime hook: record a task end and exit status",
		ArgsUsage: "<jobscript-id>",
		Flags: append(taskFlags(), dirFlag(), &cli.IntFlag{
			Name:    "exit-status",
			Aliases: []string{"e"},
			Usage:   "Exit status of the task command",
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jsID, err := idArg(cmd)
			if err != nil {
				return err
			}

			ctl, st, err := buildController(ctx, cmd.String("directory"), true)
			if err != nil {
				return err
			}
			defer st.Close()

			return ctl.SetTaskEnd(ctx, jsID, cmd.Int("iteration"), cmd.Int("task"), cmd.Int("exit-status"))
		},
	}
}

func newKillCommand() *cli.Command {
	return &cli.Command{
		Name:      "kill",
		Usage:     "Cancel a workflow or submission",
		ArgsUsage: "<workflow-id>",
		Flags: []cli.Flag{
			dirFlag(),
			&cli.BoolFlag{
				Name:  "submission",
				Usage: "Treat the id as a submission id",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := idArg(cmd)
			if err != nil {
				return err
			}

			ctl, st, err := buildController(ctx, cmd.String("directory"), false)
			if err != nil {
				return err
			}
			defer st.Close()

			if cmd.Bool("submission") {
				return ctl.KillSubmission(ctx, id)
			}

			return ctl.KillWorkflow(ctx, id)
		},
	}
}

func newCleanCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "Remove generated artifacts from a working directory",
		Flags: []cli.Flag{
			dirFlag(),
			&cli.BoolFlag{
				Name:    "yes",
				Aliases: []string{"y"},
				Usage:   "Skip confirmation",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dir := cmd.String("directory")

			if !cmd.Bool("yes") && !confirm("Remove all jobflow artifacts under "+dir+"?") {
				return nil
			}

			ctl, st, err := buildController(ctx, dir, true)
			if err != nil {
				return err
			}
			defer st.Close()

			return ctl.Clean(ctx, dir)
		},
	}
}

func newStatCommand() *cli.Command {
	return &cli.Command{
		Name:  "stat",
		Usage: "List stored workflows",
		Flags: []cli.Flag{dirFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			ctl, st, err := buildController(ctx, cmd.String("directory"), true)
			if err != nil {
				return err
			}
			defer st.Close()

			workflows, err := ctl.ListWorkflows(ctx)
			if err != nil {
				return err
			}

			for _, wf := range workflows {
				fmt.Printf("%d\t%s\t%s\n", wf.ID, wf.CreatedAt.Format("2006-01-02 15:04:05"), wf.Directory)
			}

			return nil
		},
	}
}

func newShowStatsCommand() *cli.Command {
	return &cli.Command{
		Name:      "show-stats",
		Usage:     "Report task statistics for a workflow",
		ArgsUsage: "<workflow-id>",
		Flags:     []cli.Flag{dirFlag()},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := idArg(cmd)
			if err != nil {
				return err
			}

			ctl, st, err := buildController(ctx, cmd.String("directory"), true)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := ctl.Stats(ctx, id)
			if err != nil {
				return err
			}

			out, err := json.MarshalIndent(stats, "", "  ")
			if err != nil {
				return err
			}

			fmt.Println(string(out))

			return nil
		},
	}
}

func newArchiveCommand() *cli.Command {
	return &cli.Command{
		Name:      "archive",
		Usage:     "Record and perform an archive of a task working directory",
		ArgsUsage: "<task-id>",
		Flags: []cli.Flag{
			dirFlag(),
			&cli.StringFlag{
				Name:  "destination",
				Usage: "Archive destination",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			id, err := idArg(cmd)
			if err != nil {
				return err
			}

			ctl, st, err := buildController(ctx, cmd.String("directory"), true)
			if err != nil {
				return err
			}
			defer st.Close()

			return ctl.ArchiveTaskByID(ctx, id, cmd.String("destination"))
		},
	}
}

func newArchiveTaskCommand() *cli.Command {
	return &cli.Command{
		Name:      "archive-task",
		Usage:     "Runtime hook: archive one jobscript task's working directory",
		ArgsUsage: "<jobscript-id>",
		Hidden:    true,
		Flags: append(taskFlags(), dirFlag(), &cli.StringFlag{
			Name:  "destination",
			Usage: "Archive destination",
		}),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			jsID, err := idArg(cmd)
			if err != nil {
				return err
			}

			ctl, st, err := buildController(ctx, cmd.String("directory"), true)
			if err != nil {
				return err
			}
			defer st.Close()

			return ctl.ArchiveTask(ctx, jsID, cmd.Int("iteration"), cmd.Int("task"), cmd.String("destination"))
		},
	}
}

func taskFlags() []cli.Flag {
	return []cli.Flag{
		&cli.IntFlag{
			Name:    "task",
			Aliases: []string{"t"},
			Usage:   "Task index within the jobscript",
		},
		&cli.IntFlag{
			Name:    "iteration",
			Aliases: []string{"i"},
			Usage:   "Iteration index",
		},
	}
}

func confirm(prompt string) bool {
	fmt.Printf("%s [y/N]: ", prompt)

	reader := bufio.NewReader(os.Stdin)

	line, err := reader.ReadString('\n')
	if err != nil {
		return false
	}

	answer := strings.ToLower(strings.TrimSpace(line))

	return answer == "y" || answer == "yes"
}
