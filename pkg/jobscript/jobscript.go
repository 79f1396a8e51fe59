// Package jobscript emits abstract jobscripts: header metadata, a shell
// body that binds variable files to descriptors and iterates tasks, and
// the trailing runtime hooks. The emitter knows no scheduler dialect; a
// bridge renders the header for its vendor.
package jobscript

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/jobflow/jobflow/pkg/models"
)

// ArraySpec describes the scheduler array range, 1-based inclusive as
// batch schedulers expect.
type ArraySpec struct {
	Start int
	End   int
	Step  int
}

// Binding ties one variable's value file to a file descriptor in the
// command file. Descriptors start at 3, after stdio.
type Binding struct {
	Name string
	Path string
	FD   int
}

// Script is one emitted jobscript and its sidecar metadata.
type Script struct {
	JobscriptID    uint
	CommandGroupID uint

	Header      Header
	Body        string
	Bindings    []Binding
	TaskIndices []int
}

// Header carries everything a bridge needs to render a vendor header.
type Header struct {
	JobName          string
	SchedulerOptions map[string]string
	Modules          []string
	Array            *ArraySpec
	WorkingDir       string
}

// OptionLines renders the opaque scheduler options sorted by key, one
// "key value" line each, for bridges that map them directly.
func (h Header) OptionLines() []string {
	keys := make([]string, 0, len(h.SchedulerOptions))
	for k := range h.SchedulerOptions {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	lines := make([]string, 0, len(keys))
	for _, k := range keys {
		lines = append(lines, strings.TrimSpace(k+" "+h.SchedulerOptions[k]))
	}

	return lines
}

// Params configures emission for one command group.
type Params struct {
	JobscriptID    uint
	Group          *models.CommandGroup
	TaskIndices    []int
	VariableNames  []string
	WorkflowDir    string
	SubmitDir      string // absolute path of the submission directory
	GroupDir       string // absolute path of this group's artifact dir
	Executable     string // the binary jobscripts call back into
	JobscriptExt   string
	VariableExt    string
	IterationIndex int
}

// Emit builds the abstract jobscript for one command group submission.
func Emit(p Params) *Script {
	group := p.Group

	bindings := make([]Binding, 0, len(p.VariableNames))
	for i, name := range p.VariableNames {
		bindings = append(bindings, Binding{
			Name: name,
			Path: filepath.Join(p.GroupDir, "var_values", "var_"+name+p.VariableExt),
			FD:   i + 3,
		})
	}

	header := Header{
		JobName:          fmt.Sprintf("wf_g%d", group.GroupIndex),
		SchedulerOptions: group.SchedulerOptions,
		Modules:          sortedModules(group.Modules),
		WorkingDir:       group.EffectiveDirectory(p.WorkflowDir),
	}

	if group.JobArray && len(p.TaskIndices) > 0 {
		header.Array = &ArraySpec{Start: 1, End: len(p.TaskIndices), Step: 1}
	}

	return &Script{
		JobscriptID:    p.JobscriptID,
		CommandGroupID: group.ID,
		Header:         header,
		Body:           body(p, header),
		Bindings:       bindings,
		TaskIndices:    p.TaskIndices,
	}
}

// body assembles the shell body. Array jobs read their 1-based array
// position from the JOBFLOW_TASK_ID environment variable, which the
// bridges in this package do not set; loop jobs iterate positions 1..n
// in-process. Both map the position to a task index through the sidecar
// files.
func body(p Params, header Header) string {
	group := p.Group

	cmdFile := filepath.Join(p.GroupDir, "cmd_"+strconv.Itoa(group.GroupIndex)+p.JobscriptExt)
	jsID := strconv.FormatUint(uint64(p.JobscriptID), 10)

	lines := []string{
		"#!/bin/bash --login",
		"",
		"SUBMIT_DIR=" + shellQuote(p.SubmitDir),
		"GROUP_DIR=" + shellQuote(p.GroupDir),
		"",
	}

	for _, m := range header.Modules {
		lines = append(lines, "module load "+m)
	}

	if len(header.Modules) > 0 {
		lines = append(lines, "")
	}

	// Runtime hooks run wherever the scheduler starts them; -d pins the
	// store lookup to the workflow directory.
	hookArgs := "-d " + shellQuote(p.WorkflowDir) + " -t $TASK_IDX -i " + strconv.Itoa(p.IterationIndex)

	perTask := []string{
		`LOG_PATH=$GROUP_DIR/tasks/$TASK_DIR/log.txt`,
		`mkdir -p $GROUP_DIR/tasks/$TASK_DIR`,
		p.Executable + " write-cmd -d " + shellQuote(p.WorkflowDir) + " " + jsID + " $TASK_IDX >> $LOG_PATH 2>&1",
		p.Executable + " set-task-start " + hookArgs + " " + jsID + " >> $LOG_PATH 2>&1",
		"cd " + shellQuote(header.WorkingDir),
		". " + shellQuote(cmdFile),
		"EXIT_STATUS=$?",
		p.Executable + " set-task-end " + hookArgs + " -e $EXIT_STATUS " + jsID + " >> $LOG_PATH 2>&1",
	}

	if group.Archive {
		perTask = append(perTask,
			p.Executable+" archive-task "+hookArgs+" "+jsID+" >> $LOG_PATH 2>&1")
	}

	// The scheduler (or the shell loop below) supplies a 1-based
	// position; the sidecar files map it onto the selected task index
	// and its working subdirectory, which may be sparse or sharded.
	mapPosition := []string{
		`TASK_IDX=$(sed -n "${POS}p" $GROUP_DIR/` + TaskIndicesFileName + `)`,
		`TASK_DIR=$(sed -n "${POS}p" $GROUP_DIR/` + TaskDirsFileName + `)`,
	}

	if group.JobArray {
		lines = append(lines, "POS=$JOBFLOW_TASK_ID", "")
		lines = append(lines, mapPosition...)
		lines = append(lines, "")
		lines = append(lines, perTask...)
	} else {
		positions := make([]string, 0, len(p.TaskIndices))
		for pos := range p.TaskIndices {
			positions = append(positions, strconv.Itoa(pos+1))
		}

		lines = append(lines, "for POS in "+strings.Join(positions, " "), "do")

		for _, l := range append(append([]string{}, mapPosition...), perTask...) {
			lines = append(lines, "\t"+l)
		}

		lines = append(lines, "done")
	}

	lines = append(lines, "")

	return strings.Join(lines, "\n")
}

// Sidecar files of one command group submission, both indexed by the
// 1-based scheduler array position.
const (
	// TaskIndicesFileName holds the selected task index per position.
	TaskIndicesFileName = "task_indices.txt"

	// TaskDirsFileName holds the task subdirectory per position,
	// relative to the group's tasks directory.
	TaskDirsFileName = "task_dirs.txt"
)

func sortedModules(modules []string) []string {
	out := make([]string, len(modules))
	copy(out, modules)
	sort.Strings(out)

	return out
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}

	if !strings.ContainsAny(s, " \t'\"$`\\") {
		return s
	}

	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
