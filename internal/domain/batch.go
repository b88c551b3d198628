package domain

import "time"

// Batch is the ephemeral unit published to the Batch Cache by the Batch
// Loader. It is never persisted to the Job Record Store; its sole purpose
// is to hand a worker pool a priority-ordered slice of due jobs without
// round-tripping every dispatch through the document store.
type Batch struct {
	BatchID  string
	Priority Priority
	Jobs     []JobRecord
	LoadedAt time.Time
	TTL      time.Duration
}

// Empty reports whether the batch carries no jobs; the Batch Loader uses
// it to decide whether its current batch can be handed out again.
func (b *Batch) Empty() bool {
	return len(b.Jobs) == 0
}

// Drain marks every job in the batch as dispatched. Once drained, Empty
// reports true so the Batch Loader's live-batch reuse check will not
// hand this batch back out after the worker pool has already attempted
// every job in it.
func (b *Batch) Drain() {
	b.Jobs = nil
}
