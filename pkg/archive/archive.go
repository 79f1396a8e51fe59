// Package archive is the boundary to external archive storage. The
// core records archive operations in the store; moving bytes is the
// archiver's business, and its failures never reach task state.
package archive

import "context"

// Archiver copies a task working directory to an external destination.
type Archiver interface {
	Archive(ctx context.Context, sourceDir, destination string) error
}

// NullArchiver accepts every request and moves nothing. The default
// when no archive backend is configured.
type NullArchiver struct{}

func (NullArchiver) Archive(context.Context, string, string) error {
	return nil
}
