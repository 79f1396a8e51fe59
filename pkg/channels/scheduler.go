// Package channels models execution order across parallel channels: the
// application of task ranges, channel merging, and the derivation of the
// per-jobscript dependency relationships that become scheduler holds.
package channels

import (
	"errors"
	"fmt"
	"sort"

	"github.com/jobflow/jobflow/pkg/models"
	"github.com/jobflow/jobflow/pkg/variables"
)

var (
	// ErrChannelTopology indicates an illegal channel layout: gaps in sub
	// orders, duplicate channels, or a channel returning after it merged.
	ErrChannelTopology = errors.New("illegal channel topology")

	// ErrTaskRangeCount indicates the supplied ranges do not match the
	// workflow's channel width.
	ErrTaskRangeCount = errors.New("task range count does not match channel width")

	// ErrTaskRangeBounds indicates a range lies outside its channel's
	// task vector.
	ErrTaskRangeBounds = errors.New("task range out of bounds")

	// ErrUnknownMultiplicity indicates a first-order group's task count
	// cannot be sized at submit time.
	ErrUnknownMultiplicity = errors.New("unknown task multiplicity")
)

// Entry is one scheduled jobscript: a command group, its effective task
// indices, and the prior groups whose completion gates it.
type Entry struct {
	Group       *models.CommandGroup
	Channel     int
	TaskIndices []int
	DependsOn   []uint
}

// ValidateTopology checks the channel invariants: at every execution
// order the sub orders are distinct and contiguous from 0, and channel
// count never grows from one order to the next. Contiguity plus
// monotonicity together forbid a channel splitting or reappearing after
// a merge.
func ValidateTopology(wf *models.Workflow) error {
	prevWidth := -1

	for _, level := range execLevels(wf) {
		groups := wf.GroupsByExecOrder(level)

		seen := make(map[int]bool, len(groups))

		for _, g := range groups {
			if seen[g.SubOrder] {
				return fmt.Errorf("%w: duplicate sub_order %d at exec_order %d",
					ErrChannelTopology, g.SubOrder, level)
			}

			seen[g.SubOrder] = true
		}

		for c := range len(groups) {
			if !seen[c] {
				return fmt.Errorf("%w: sub_orders at exec_order %d are not contiguous from 0",
					ErrChannelTopology, level)
			}
		}

		if prevWidth >= 0 && len(groups) > prevWidth {
			return fmt.Errorf("%w: channel count grows from %d to %d at exec_order %d",
				ErrChannelTopology, prevWidth, len(groups), level)
		}

		prevWidth = len(groups)
	}

	return nil
}

// Multiplicities sizes each command group's task vector at submit time.
// A group with no submit-time size reports known=false.
type Multiplicities interface {
	Multiplicity(group *models.CommandGroup) (count int, known bool)
}

// BuildPlan derives the ordered jobscript plan for a workflow. ranges
// supplies one task range per channel at the first execution order;
// empty means all tasks from all channels. Tasks flow 1:1 along a
// channel: a downstream group keeps its upstream selection, intersected
// with its own value rows when it carries a variable product. A merged
// channel takes the identity of its minimum parent and the sum of its
// parents' task counts, unless the merged group carries its own
// variable product, which then wins.
func BuildPlan(wf *models.Workflow, mult Multiplicities, ranges []models.TaskRange) ([]Entry, error) {
	if err := ValidateTopology(wf); err != nil {
		return nil, err
	}

	width := wf.ChannelWidth()

	if len(ranges) == 0 {
		ranges = make([]models.TaskRange, width)
		for i := range ranges {
			ranges[i] = models.AllTasks()
		}
	}

	if len(ranges) != width {
		return nil, fmt.Errorf("%w: workflow has %d channels, got %d ranges",
			ErrTaskRangeCount, width, len(ranges))
	}

	plan := make([]Entry, 0, len(wf.CommandGroups))

	// Per-channel state after the previous level: the groups whose
	// completion gates the channel, and its selected task indices.
	type channelState struct {
		groupIDs []uint
		indices  []int
	}

	var state map[int]channelState

	levels := execLevels(wf)

	for levelIdx, level := range levels {
		groups := wf.GroupsByExecOrder(level)
		sort.SliceStable(groups, func(i, j int) bool {
			if groups[i].SubOrder != groups[j].SubOrder {
				return groups[i].SubOrder < groups[j].SubOrder
			}

			return groups[i].GroupIndex < groups[j].GroupIndex
		})

		next := make(map[int]channelState, len(groups))

		for _, g := range groups {
			count, known := mult.Multiplicity(g)
			ownProduct := known && len(g.Commands) > 0 && hasVariableProduct(g)

			var entry Entry

			switch {
			case levelIdx == 0:
				if !known {
					return nil, fmt.Errorf("%w: command group %d at first exec_order",
						ErrUnknownMultiplicity, g.GroupIndex)
				}

				r := ranges[g.SubOrder]
				if err := checkRange(r, count, g.SubOrder); err != nil {
					return nil, err
				}

				entry = Entry{Group: g, Channel: g.SubOrder, TaskIndices: r.Indices(count)}

			default:
				// Parents: every previous-level channel that maps onto
				// this sub order. With contiguous channel sets, channel
				// c maps to min(c, maxChild).
				maxChild := len(groups) - 1

				parents := make([]uint, 0)
				inherited := make([]int, 0)

				parentChannels := make([]int, 0, len(state))
				for c := range state {
					parentChannels = append(parentChannels, c)
				}
				sort.Ints(parentChannels)

				for _, c := range parentChannels {
					if minInt(c, maxChild) != g.SubOrder {
						continue
					}

					parents = append(parents, state[c].groupIDs...)
					inherited = append(inherited, state[c].indices...)
				}

				var indices []int

				switch {
				case len(parents) > 1:
					// Merged channels renumber; the merged group's own
					// product, when it has one, overrides the parent sum.
					n := len(inherited)
					if ownProduct {
						n = count
					}

					indices = make([]int, n)
					for i := range indices {
						indices[i] = i
					}

				case ownProduct:
					// Single parent: the upstream selection flows 1:1,
					// intersected with the group's own value rows so a
					// user range restriction is never widened.
					indices = make([]int, 0, len(inherited))
					for _, idx := range inherited {
						if idx < count {
							indices = append(indices, idx)
						}
					}

				default:
					indices = inherited
				}

				entry = Entry{Group: g, Channel: g.SubOrder, TaskIndices: indices, DependsOn: parents}
			}

			next[entry.Channel] = channelState{groupIDs: []uint{g.ID}, indices: entry.TaskIndices}
			plan = append(plan, entry)
		}

		state = next
	}

	return plan, nil
}

func checkRange(r models.TaskRange, length, channel int) error {
	if r.Start >= length {
		return fmt.Errorf("%w: channel %d has %d tasks, range starts at %d",
			ErrTaskRangeBounds, channel, length, r.Start)
	}

	if r.End != nil && *r.End > length {
		return fmt.Errorf("%w: channel %d has %d tasks, range ends at %d",
			ErrTaskRangeBounds, channel, length, *r.End)
	}

	return nil
}

func hasVariableProduct(g *models.CommandGroup) bool {
	for _, cmd := range g.Commands {
		if containsRef(cmd) {
			return true
		}
	}

	return containsRef(g.Directory)
}

func containsRef(s string) bool {
	return len(variables.ExtractNames(s)) > 0
}

func execLevels(wf *models.Workflow) []int {
	seen := make(map[int]struct{})
	levels := make([]int, 0)

	for _, g := range wf.CommandGroups {
		if _, ok := seen[g.ExecOrder]; ok {
			continue
		}

		seen[g.ExecOrder] = struct{}{}
		levels = append(levels, g.ExecOrder)
	}

	sort.Ints(levels)

	return levels
}

func minInt(a, b int) int {
	if a < b {
		return a
	}

	return b
}
