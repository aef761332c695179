package taskqueue

// synchronousOps is the allow-list of cheap, near-instant operations
// that callers block on. Everything else runs asynchronously.
var synchronousOps = map[string]struct{}{
	"status":     {},
	"screenshot": {},
	"start":      {},
	"stop":       {},
}

// Classify returns the execution mode and scheduling priority for an
// operation name.
//
// Total over all inputs: unknown operations classify as
// (ModeAsynchronous, PriorityNormal) rather than failing, so callers
// are never blocked by an unclassified name. Validation of the
// operation itself is deferred to execution. No state, no I/O.
func Classify(operation string) (Mode, Priority) {
	if _, ok := synchronousOps[operation]; ok {
		return ModeSynchronous, PriorityHigh
	}
	return ModeAsynchronous, PriorityNormal
}
