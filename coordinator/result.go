package coordinator

import "errors"

// CommitResult aggregates the outcome of one commit: an overall
// success flag and the ordered list of underlying causes. It carries
// enough context for the caller to build a precise diagnostic without
// re-querying storage.
type CommitResult struct {
	Successful bool
	Errors     []error
}

// fail records a cause and marks the commit failed.
func (r *CommitResult) fail(err error) {
	r.Successful = false
	r.Errors = append(r.Errors, err)
}

// report records a cause without changing the already-decided outcome.
// Used for terminal event-dispatch failures.
func (r *CommitResult) report(err error) {
	r.Errors = append(r.Errors, err)
}

// Err joins the recorded causes, or returns nil for a clean commit.
func (r *CommitResult) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return errors.Join(r.Errors...)
}
