package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"

	"github.com/jobflow/jobflow/pkg/models"
)

// loadDeclaration reads a workflow spec document. Parsing lives at the
// CLI boundary; the core consumes the typed declaration.
func loadDeclaration(path string) (*models.Declaration, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec document %s: %w", path, err)
	}

	var decl models.Declaration
	if err := yaml.Unmarshal(data, &decl); err != nil {
		return nil, fmt.Errorf("failed to parse spec document %s: %w", path, err)
	}

	return &decl, nil
}

// overrideFlags are the explicit call-site overrides, the highest level
// of the option precedence above profile defaults and per-group
// settings.
func overrideFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:  "group-directory",
			Usage: "Override every command group's working directory",
		},
		&cli.StringSliceFlag{
			Name:  "module",
			Usage: "Override the module list (repeatable)",
		},
		&cli.StringSliceFlag{
			Name:  "option",
			Usage: "Scheduler option override as key=value (repeatable)",
		},
		&cli.BoolFlag{
			Name:  "job-array",
			Usage: "Override array-task execution for every command group",
		},
	}
}

// declOverrides collects the explicit call-site overrides from the
// command line.
func declOverrides(cmd *cli.Command) models.Overrides {
	overrides := models.Overrides{
		Directory: cmd.String("group-directory"),
	}

	if cmd.IsSet("module") {
		overrides.Modules = cmd.StringSlice("module")
	}

	for _, opt := range cmd.StringSlice("option") {
		key, value, _ := strings.Cut(opt, "=")

		if overrides.Options == nil {
			overrides.Options = make(map[string]string)
		}

		overrides.Options[key] = value
	}

	if cmd.IsSet("job-array") {
		jobArray := cmd.Bool("job-array")
		overrides.JobArray = &jobArray
	}

	return overrides
}

// idArg parses the single positional id argument.
func idArg(cmd *cli.Command) (uint, error) {
	if cmd.Args().Len() < 1 {
		return 0, fmt.Errorf("missing id argument")
	}

	id, err := strconv.ParseUint(cmd.Args().Get(0), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("invalid id %q", cmd.Args().Get(0))
	}

	return uint(id), nil
}

// jobscriptArgs parses the <jobscript-id> <task-index> positionals.
func jobscriptArgs(cmd *cli.Command) (uint, int, error) {
	if cmd.Args().Len() < 2 {
		return 0, 0, fmt.Errorf("usage: write-cmd <jobscript-id> <task-index>")
	}

	id, err := strconv.ParseUint(cmd.Args().Get(0), 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid jobscript id %q", cmd.Args().Get(0))
	}

	idx, err := strconv.Atoi(cmd.Args().Get(1))
	if err != nil || idx < 0 {
		return 0, 0, fmt.Errorf("invalid task index %q", cmd.Args().Get(1))
	}

	return uint(id), idx, nil
}

// parseTaskRanges parses the -t list: one range per channel, comma
// separated, each "start-end[:step]", a single index, or "all".
func parseTaskRanges(s string) ([]models.TaskRange, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}

	parts := strings.Split(s, ",")
	ranges := make([]models.TaskRange, 0, len(parts))

	for _, part := range parts {
		part = strings.TrimSpace(part)

		if part == "all" {
			ranges = append(ranges, models.AllTasks())

			continue
		}

		r := models.TaskRange{Step: 1}

		if i := strings.IndexByte(part, ':'); i >= 0 {
			step, err := strconv.Atoi(part[i+1:])
			if err != nil || step < 1 {
				return nil, fmt.Errorf("invalid task range step in %q", part)
			}

			r.Step = step
			part = part[:i]
		}

		lo, hi, found := strings.Cut(part, "-")

		start, err := strconv.Atoi(lo)
		if err != nil || start < 0 {
			return nil, fmt.Errorf("invalid task range %q", part)
		}

		r.Start = start

		if found {
			end, err := strconv.Atoi(hi)
			if err != nil || end < start {
				return nil, fmt.Errorf("invalid task range %q", part)
			}

			// Ranges on the command line are inclusive; the model is
			// half-open.
			endExcl := end + 1
			r.End = &endExcl
		} else {
			endExcl := start + 1
			r.End = &endExcl
		}

		ranges = append(ranges, r)
	}

	return ranges, nil
}
