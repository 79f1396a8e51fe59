// Package controller orchestrates the submission pipeline: validate and
// persist workflows, resolve submit-time variables, emit jobscripts,
// dispatch them with hold chains, and serve the runtime hooks jobscripts
// call back into.
package controller

import (
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/go-playground/validator/v10"

	"github.com/jobflow/jobflow/pkg/archive"
	"github.com/jobflow/jobflow/pkg/config"
	"github.com/jobflow/jobflow/pkg/scheduler"
	"github.com/jobflow/jobflow/pkg/store"
)

// Controller wires the store, the scheduler bridge and the archiver
// behind the operation surface. All dependencies are injected; there is
// no global state.
type Controller struct {
	cfg      config.Config
	store    *store.Store
	bridge   scheduler.Bridge
	archiver archive.Archiver
	validate *validator.Validate
	logger   *slog.Logger

	// executable is the binary name jobscripts call back into for the
	// runtime hooks.
	executable string
}

// Options configures a controller.
type Options struct {
	Config     config.Config
	Store      *store.Store
	Bridge     scheduler.Bridge
	Archiver   archive.Archiver
	Logger     *slog.Logger
	Executable string
}

// New builds a controller. A nil bridge gets the direct (null) bridge
// and a nil archiver the null archiver.
func New(opts Options) *Controller {
	bridge := opts.Bridge
	if bridge == nil {
		bridge = scheduler.NewDirectBridge()
	}

	archiver := opts.Archiver
	if archiver == nil {
		archiver = archive.NullArchiver{}
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	executable := opts.Executable
	if executable == "" {
		executable = "jobflow"
	}

	return &Controller{
		cfg:        opts.Config,
		store:      opts.Store,
		bridge:     bridge,
		archiver:   archiver,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		executable: executable,
	}
}

// submitDir is the artifact directory of one submission.
func (c *Controller) submitDir(workingDir string, workflowID, submissionID uint) string {
	return filepath.Join(c.cfg.DataDirFor(workingDir),
		fmt.Sprintf("workflow_%d", workflowID),
		fmt.Sprintf("submit_%d", submissionID))
}

// groupDir is the artifact directory of one command group within a
// submission.
func groupDir(submitDir string, groupIndex int) string {
	return filepath.Join(submitDir, fmt.Sprintf("group_%d", groupIndex))
}
