package scheduler

import (
	"container/heap"
	"context"
	"time"
)

// Job is the callable a ScheduledJob invokes when due. args merges the
// source runtime's separate args/kwargs into one map, the idiomatic Go
// stand-in for positional-plus-keyword call arguments.
type Job func(ctx context.Context, args map[string]any) error

// ScheduledJob is one entry in the scheduler's heap: a generic
// timestamp-ordered min-heap with a parallel by-id map for O(1)
// lookup/update/removal (adapted from the pack's container/heap priority
// queue), generalized to the scheduler's (NextRun, nanos, JobID) ordering
// key instead of a numeric priority.
type ScheduledJob struct {
	ID        int64
	Owner     string
	NextRun   time.Time // rounded down to second resolution; see nanos
	nanos     int64     // the run time's full UnixNano before rounding; within one NextRun second it orders by sub-second fraction, per §4.5 tiebreak
	Trigger   Trigger
	Run       Job
	Args      map[string]any
	Repeating bool
	cancelled bool
	index     int // heap.Interface bookkeeping
}

// Cancelled reports whether RemoveJob has already removed this job; used by
// rescheduleJob to avoid resurrecting a job the caller just cancelled out
// from under a still-running dispatch.
func (j *ScheduledJob) Cancelled() bool { return j.cancelled }

// jobHeap implements heap.Interface, ordered by (NextRun, nanos, ID)
// ascending per §8's tiebreak invariant.
type jobHeap []*ScheduledJob

func (h jobHeap) Len() int { return len(h) }

func (h jobHeap) Less(i, j int) bool {
	if !h[i].NextRun.Equal(h[j].NextRun) {
		return h[i].NextRun.Before(h[j].NextRun)
	}
	if h[i].nanos != h[j].nanos {
		return h[i].nanos < h[j].nanos
	}
	return h[i].ID < h[j].ID
}

func (h jobHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *jobHeap) Push(x any) {
	n := len(*h)
	job := x.(*ScheduledJob)
	job.index = n
	*h = append(*h, job)
}

func (h *jobHeap) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	job.index = -1
	*h = old[0 : n-1]
	return job
}

var _ = heap.Interface(&jobHeap{})
