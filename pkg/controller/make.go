package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jobflow/jobflow/pkg/channels"
	"github.com/jobflow/jobflow/pkg/lock"
	"github.com/jobflow/jobflow/pkg/models"
	"github.com/jobflow/jobflow/pkg/variables"
)

// MakeWorkflow validates a declaration, persists it rooted at
// workingDir, and returns the workflow id. It is idempotent under the
// workflow-directory lock: re-making an identical declaration in the
// same directory returns the existing workflow.
func (c *Controller) MakeWorkflow(ctx context.Context, decl *models.Declaration, workingDir string, overrides models.Overrides) (uint, error) {
	absDir, err := filepath.Abs(workingDir)
	if err != nil {
		return 0, fmt.Errorf("cannot resolve working directory: %w", err)
	}

	wf, err := decl.Normalize(absDir, overrides)
	if err != nil {
		return 0, err
	}

	if err := c.validate.Struct(wf); err != nil {
		return 0, fmt.Errorf("declaration validation failed: %w", err)
	}

	if err := variables.ValidateDefinitions(wf); err != nil {
		return 0, err
	}

	if err := channels.ValidateTopology(wf); err != nil {
		return 0, err
	}

	dataDir := c.cfg.DataDirFor(absDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return 0, fmt.Errorf("cannot create data directory %s: %w", dataDir, err)
	}

	dirLock := lock.New(filepath.Join(dataDir, "make.lock"))
	if err := dirLock.Lock(); err != nil {
		return 0, err
	}
	defer func() { _ = dirLock.Unlock() }()

	if err := c.store.Migrate(ctx); err != nil {
		return 0, err
	}

	existing, err := c.store.WorkflowByDirectory(ctx, absDir)
	if err != nil {
		return 0, err
	}

	if existing != nil && sameDeclaration(existing, wf) {
		c.logger.InfoContext(ctx, "workflow already exists", "workflow_id", existing.ID)

		return existing.ID, nil
	}

	id, err := c.store.CreateWorkflow(ctx, wf)
	if err != nil {
		return 0, err
	}

	c.logger.InfoContext(ctx, "workflow created", "workflow_id", id, "directory", absDir)

	return id, nil
}

// sameDeclaration compares the declaration-visible parts of two
// workflows: command groups and variable definitions, ignoring ids and
// task state.
func sameDeclaration(a, b *models.Workflow) bool {
	return declFingerprint(a) == declFingerprint(b)
}

func declFingerprint(wf *models.Workflow) string {
	type groupKey struct {
		Exec     int               `json:"exec"`
		Sub      int               `json:"sub"`
		Commands []string          `json:"commands"`
		Dir      string            `json:"dir"`
		Options  map[string]string `json:"options"`
		Modules  []string          `json:"modules"`
		Array    bool              `json:"array"`
		Parallel bool              `json:"parallel"`
	}

	type varKey struct {
		Name  string            `json:"name"`
		Data  []string          `json:"data"`
		Regex *models.FileRegex `json:"regex"`
		Value string            `json:"value"`
	}

	groups := make([]groupKey, 0, len(wf.CommandGroups))
	for _, g := range wf.CommandGroups {
		groups = append(groups, groupKey{
			Exec:     g.ExecOrder,
			Sub:      g.SubOrder,
			Commands: g.Commands,
			Dir:      g.Directory,
			Options:  g.SchedulerOptions,
			Modules:  g.Modules,
			Array:    g.JobArray,
			Parallel: g.ParallelVariables,
		})
	}

	vars := make([]varKey, 0, len(wf.Variables))
	for _, v := range wf.Variables {
		vars = append(vars, varKey{Name: v.Name, Data: v.Data, Regex: v.FileRegex, Value: v.Value})
	}

	out, _ := json.Marshal(struct {
		Groups []groupKey `json:"groups"`
		Vars   []varKey   `json:"vars"`
	}{groups, vars})

	return string(out)
}
