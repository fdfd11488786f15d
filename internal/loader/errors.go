package loader

import "fmt"

// ErrUneventful signals start_from computed nothing new to replay
// (spec.md §4.6, §7): the visit finishes with the prior snapshot and
// status "full".
var ErrUneventful = fmt.Errorf("loader: repository already fully loaded")

// HistoryAlteredError records that the hash at the resume point no longer
// matches the stored revision: the orchestrator restarts from revision 1
// rather than silently continuing (spec.md §7 HistoryAltered).
type HistoryAlteredError struct {
	Revision int
}

func (e *HistoryAlteredError) Error() string {
	return fmt.Sprintf("loader: history altered since last visit at revision %d", e.Revision)
}

// HashDivergenceError is raised by the periodic or post-load divergence
// check when the replayed root hash does not match a fresh `svn export`
// of the same revision (spec.md §7 HashDivergence).
type HashDivergenceError struct {
	Revision int
	Expected string
	Actual   string
}

func (e *HashDivergenceError) Error() string {
	return fmt.Sprintf("loader: hash tree computation divergence detected at revision %d (%s != %s), stopping", e.Revision, e.Expected, e.Actual)
}
