package scheduler

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/jobflow/jobflow/pkg/jobscript"
)

// DirectBridge is the null scheduler: it accepts every submission,
// records it, and hands back generated handles. Used for direct
// execution setups and as the default when no vendor bridge is wired.
type DirectBridge struct {
	mu        sync.Mutex
	submitted []DirectSubmission
	cancelled []string
}

// DirectSubmission records one accepted jobscript.
type DirectSubmission struct {
	Handle string
	Path   string
	HoldOn []string
	Script *jobscript.Script
}

func NewDirectBridge() *DirectBridge {
	return &DirectBridge{}
}

func (b *DirectBridge) Submit(_ context.Context, script *jobscript.Script, path string, holdOn []string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	handle := uuid.New().String()
	b.submitted = append(b.submitted, DirectSubmission{
		Handle: handle,
		Path:   path,
		HoldOn: append([]string(nil), holdOn...),
		Script: script,
	})

	return handle, nil
}

func (b *DirectBridge) Cancel(_ context.Context, handles []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.cancelled = append(b.cancelled, handles...)

	return nil
}

// Submitted returns the accepted submissions in dispatch order.
func (b *DirectBridge) Submitted() []DirectSubmission {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]DirectSubmission(nil), b.submitted...)
}

// Cancelled returns every handle passed to Cancel.
func (b *DirectBridge) Cancelled() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	return append([]string(nil), b.cancelled...)
}
