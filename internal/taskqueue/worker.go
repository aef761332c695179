package taskqueue

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/veldt-labs/stagehand/internal/engine"
	"github.com/veldt-labs/stagehand/internal/progress"
)

// Logger is the logging interface the worker uses.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// ConnectFunc establishes the engine session on demand.
type ConnectFunc func(ctx context.Context) (engine.Connector, error)

// CompletionHook is called after each task reaches its terminal state.
// Used to wire history recording and metrics. Runs on the worker
// goroutine; keep it fast or hand off internally.
type CompletionHook func(env *Envelope, res Result)

// WorkerConfig wires a worker's collaborators.
type WorkerConfig struct {
	Queue   *Queue
	Bus     *progress.Bus
	Connect ConnectFunc
	Logger  Logger

	// OnCompletion is optional.
	OnCompletion CompletionHook
}

// WorkerStats holds worker observability counters.
type WorkerStats struct {
	TasksExecuted   uint64
	TasksFailed     uint64
	InitFailures    uint64
	UnknownJobIDs   uint64
	DuplicateJobIDs uint64
}

// Worker is the single goroutine that owns the engine session.
//
// Every operation against the engine is serialized through its loop:
// mutual exclusion is achieved by construction (single consumer on the
// queue), not by locking around the engine. The session is initialised
// lazily on the first envelope that needs it; an init failure is
// surfaced as that task's failure and retried on the next envelope,
// never cached as permanent, since the engine process may recover.
//
// Task failures are data. Only queue closure ends the loop; on exit the
// session is closed.
type Worker struct {
	queue        *Queue
	bus          *progress.Bus
	connect      ConnectFunc
	logger       Logger
	onCompletion CompletionHook

	// session is owned by the run goroutine. sessionMu guards the
	// pointer for Stats readers, not the session itself.
	session   engine.Connector
	sessionMu sync.Mutex

	correlate *correlator

	executed     atomic.Uint64
	failed       atomic.Uint64
	initFailures atomic.Uint64

	wg sync.WaitGroup
}

// NewWorker creates a worker. Call Start to begin consuming.
func NewWorker(cfg WorkerConfig) *Worker {
	return &Worker{
		queue:        cfg.Queue,
		bus:          cfg.Bus,
		connect:      cfg.Connect,
		logger:       cfg.Logger,
		onCompletion: cfg.OnCompletion,
		correlate:    newCorrelator(),
	}
}

// Start launches the worker goroutine.
func (w *Worker) Start() {
	w.wg.Add(1)
	go w.run()
}

// Stop closes the ingress queue and waits for the worker to drain
// remaining envelopes and release the engine session.
func (w *Worker) Stop() {
	w.queue.Close()
	w.wg.Wait()
}

func (w *Worker) run() {
	defer w.wg.Done()

	for {
		env, ok := w.queue.TakeNext()
		if !ok {
			break
		}
		w.execute(env)
	}

	w.sessionMu.Lock()
	session := w.session
	w.session = nil
	w.sessionMu.Unlock()

	if session != nil {
		if err := session.Close(); err != nil {
			w.logger.Warn("Engine session close failed", "error", err)
		}
	}
	w.logger.Info("Task worker stopped")
}

// execute runs one envelope end to end: started event, engine call,
// terminal event, reply resolution, completion hook.
func (w *Worker) execute(env *Envelope) {
	startedAt := time.Now()

	w.logger.Debug("Executing task",
		"task_id", env.ID,
		"operation", env.Operation,
		"mode", env.Mode.String(),
		"priority", env.Priority.String())

	w.bus.Publish(progress.Event{
		TaskID:    env.ID,
		Operation: env.Operation,
		Type:      progress.EventStarted,
	})

	res := w.runOnEngine(env)
	res.TaskID = env.ID
	res.CompletedAt = time.Now().UTC()
	res.DurationSeconds = time.Since(startedAt).Seconds()

	eventType := progress.EventCompleted
	if !res.Success {
		eventType = progress.EventFailed
		w.failed.Add(1)
	}
	w.executed.Add(1)

	// Terminal event before reply resolution, so observers and the
	// blocking caller see a consistent history.
	w.bus.Publish(progress.Event{
		TaskID:    env.ID,
		Operation: env.Operation,
		Type:      eventType,
		Message:   res.Error,
		Data:      res.Result,
	})

	if env.Mode == ModeSynchronous {
		if !env.Resolve(res) {
			w.logger.Debug("Caller abandoned reply, result discarded",
				"task_id", env.ID, "operation", env.Operation)
		}
	}

	if w.onCompletion != nil {
		w.onCompletion(env, res)
	}
}

// runOnEngine performs the engine call for one envelope. Failures are
// returned as an unsuccessful Result, never as loop errors.
func (w *Worker) runOnEngine(env *Envelope) Result {
	ctx := context.Background()

	session, err := w.ensureSession(ctx)
	if err != nil {
		w.initFailures.Add(1)
		w.logger.Error("Engine session init failed",
			"task_id", env.ID, "error", err)
		return Result{Error: fmt.Sprintf("engine unavailable: %v", err)}
	}

	ack, err := session.Execute(ctx, env.Operation, env.Parameters)
	if err != nil {
		return Result{Error: err.Error()}
	}

	if ack.Completed {
		return Result{Success: ack.Success, Result: ack.Result, Error: ack.Error}
	}

	// Long-running job: the engine assigned its own job id. Bind it to
	// the task so progress events can be attributed.
	if !w.correlate.bind(ack.JobID, env.ID, env.Operation) {
		w.logger.Warn("Duplicate engine job id",
			"job_id", ack.JobID, "task_id", env.ID)
	}
	defer w.correlate.release(ack.JobID)

	jobRes, err := session.AwaitCompletion(ctx, ack.JobID)
	if err != nil {
		return Result{Error: err.Error()}
	}
	return Result{Success: jobRes.Success, Result: jobRes.Result, Error: jobRes.Error}
}

// ensureSession returns the engine session, connecting lazily.
func (w *Worker) ensureSession(ctx context.Context) (engine.Connector, error) {
	w.sessionMu.Lock()
	session := w.session
	w.sessionMu.Unlock()

	if session != nil {
		return session, nil
	}

	session, err := w.connect(ctx)
	if err != nil {
		return nil, err
	}
	session.SetOnEvent(w.handleEngineEvent)

	w.sessionMu.Lock()
	w.session = session
	w.sessionMu.Unlock()

	w.logger.Info("Engine session initialised")
	return session, nil
}

// handleEngineEvent translates engine progress events into bus events.
// Runs on the session's event workers, concurrently with the loop.
// Terminal events are published by the loop itself after
// AwaitCompletion, so they are skipped here.
func (w *Worker) handleEngineEvent(ev engine.Event) {
	if ev.Terminal() {
		return
	}

	b, ok := w.correlate.lookup(ev.JobID)
	if !ok {
		w.logger.Warn("Event for unknown engine job", "job_id", ev.JobID, "event_type", ev.Type)
		return
	}

	w.bus.Publish(progress.Event{
		TaskID:    b.taskID,
		Operation: b.operation,
		Type:      progress.EventProgress,
		Message:   ev.Message,
		Data:      ev.Data,
	})
}

// Stats returns current worker counters.
func (w *Worker) Stats() WorkerStats {
	unknown, duplicates := w.correlate.stats()
	return WorkerStats{
		TasksExecuted:   w.executed.Load(),
		TasksFailed:     w.failed.Load(),
		InitFailures:    w.initFailures.Load(),
		UnknownJobIDs:   unknown,
		DuplicateJobIDs: duplicates,
	}
}

// SessionStats returns engine session stats when a session exists.
func (w *Worker) SessionStats() (engine.Stats, bool) {
	w.sessionMu.Lock()
	session := w.session
	w.sessionMu.Unlock()

	if session == nil {
		return engine.Stats{}, false
	}
	return session.Stats(), true
}
