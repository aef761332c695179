package taskqueue

import (
	"sync"
	"sync/atomic"
)

// correlator maps engine-assigned job ids to task ids. The two identity
// spaces are distinct: task ids are allocated at submission, job ids by
// the engine at execution. Engine completion events carry only a job
// id, so progress callbacks look the task up here.
//
// Unknown and duplicate job ids are counted and reported, never
// asserted away: a desynced engine must not crash the worker.
type correlator struct {
	mu    sync.Mutex
	byJob map[string]binding

	unknown    atomic.Uint64
	duplicates atomic.Uint64
}

type binding struct {
	taskID    uint32
	operation string
}

func newCorrelator() *correlator {
	return &correlator{byJob: make(map[string]binding)}
}

// bind associates a job id with a task. Returns false on a duplicate
// job id; the existing binding wins.
func (c *correlator) bind(jobID string, taskID uint32, operation string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.byJob[jobID]; exists {
		c.duplicates.Add(1)
		return false
	}
	c.byJob[jobID] = binding{taskID: taskID, operation: operation}
	return true
}

// lookup resolves a job id to its task. Returns false and counts the
// miss for unknown ids.
func (c *correlator) lookup(jobID string) (binding, bool) {
	c.mu.Lock()
	b, ok := c.byJob[jobID]
	c.mu.Unlock()

	if !ok {
		c.unknown.Add(1)
	}
	return b, ok
}

// release removes a binding once the job reached its terminal state.
func (c *correlator) release(jobID string) {
	c.mu.Lock()
	delete(c.byJob, jobID)
	c.mu.Unlock()
}

func (c *correlator) stats() (unknown, duplicates uint64) {
	return c.unknown.Load(), c.duplicates.Load()
}
