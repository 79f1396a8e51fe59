// Package scheduler defines the boundary to the batch scheduler. The
// core emits abstract jobscripts and hold relationships; a bridge
// translates them into its vendor's dialect and returns opaque handles.
package scheduler

import (
	"context"

	"github.com/jobflow/jobflow/pkg/jobscript"
)

// Bridge dispatches jobscripts. Submit returns the scheduler handle for
// the job; holdOn lists handles the job must wait on, implementing the
// inter-group execution order.
type Bridge interface {
	Submit(ctx context.Context, script *jobscript.Script, path string, holdOn []string) (string, error)
	Cancel(ctx context.Context, handles []string) error
}
