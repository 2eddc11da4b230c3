package background

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/omrylcn/gbot/internal/delegation"
	"github.com/omrylcn/gbot/internal/errdefs"
	"github.com/omrylcn/gbot/internal/events"
	"github.com/omrylcn/gbot/internal/store"
	"github.com/omrylcn/gbot/internal/tools"
)

const defaultMaxConcurrent = 8

// WorkerConfig wires the subagent worker pool.
type WorkerConfig struct {
	Stores        *store.Stores
	Dispatcher    *Dispatcher
	Events        *events.Bus
	Messenger     tools.Messenger
	MaxConcurrent int // default 8
}

// Worker runs immediate plans asynchronously. Spawn returns as soon as
// the task row exists; execution is bounded by a semaphore so a burst
// of delegations cannot exhaust the provider budget at once.
type Worker struct {
	stores     *store.Stores
	dispatcher *Dispatcher
	events     *events.Bus
	messenger  tools.Messenger

	sem chan struct{}
	wg  sync.WaitGroup
}

func NewWorker(cfg WorkerConfig) *Worker {
	n := cfg.MaxConcurrent
	if n <= 0 {
		n = defaultMaxConcurrent
	}
	return &Worker{
		stores:     cfg.Stores,
		dispatcher: cfg.Dispatcher,
		events:     cfg.Events,
		messenger:  cfg.Messenger,
		sem:        make(chan struct{}, n),
	}
}

// Spawn records a running BackgroundTask and executes the plan
// asynchronously. The returned task ID is what the delegating agent
// reports back to the user.
func (w *Worker) Spawn(ctx context.Context, userID, parentSession, channel string, plan *delegation.Plan) (string, error) {
	raw, err := json.Marshal(plan)
	if err != nil {
		return "", errdefs.E(errdefs.ScheduledExecutionError, "background.spawn", err)
	}
	task := &store.BackgroundTask{
		TaskID:          "task-" + uuid.NewString()[:8],
		UserID:          userID,
		ParentSession:   parentSession,
		FallbackChannel: channel,
		Status:          store.TaskRunning,
		PlanJSON:        raw,
		StartedAt:       time.Now().UTC(),
	}
	if err := w.stores.Tasks.CreateTask(ctx, task); err != nil {
		return "", errdefs.E(errdefs.StoreError, "background.spawn", err)
	}
	slog.Info("background task spawned",
		"task", task.TaskID, "user", userID, "processor", plan.Processor)

	w.wg.Add(1)
	go w.run(task, plan)
	return task.TaskID, nil
}

// run outlives the spawning turn on purpose: it executes on a fresh
// context and reports through the task row and the event queue.
func (w *Worker) run(task *store.BackgroundTask, plan *delegation.Plan) {
	defer w.wg.Done()
	w.sem <- struct{}{}
	defer func() { <-w.sem }()

	ctx := context.Background()
	start := time.Now()
	outcome, err := w.dispatcher.Dispatch(ctx, task.UserID, task.FallbackChannel, plan)
	elapsed := time.Since(start)

	status := store.TaskCompleted
	result, errMsg := "", ""
	if err != nil {
		status = store.TaskFailed
		errMsg = err.Error()
		slog.Warn("background task failed",
			"task", task.TaskID, "user", task.UserID, "duration", elapsed, "error", err)
	} else {
		result = outcome.Output
		slog.Info("background task finished",
			"task", task.TaskID, "user", task.UserID, "duration", elapsed,
			"status", outcome.Status, "tokens", outcome.Tokens)
	}
	if ferr := w.stores.Tasks.FinishTask(ctx, task.TaskID, status, result, errMsg); ferr != nil {
		slog.Error("task row update failed", "task", task.TaskID, "error", ferr)
	}

	payload := map[string]string{"task_id": task.TaskID, "status": status}
	if errMsg != "" {
		payload["error"] = errMsg
	} else {
		payload["result"] = result
	}
	eventID, eerr := w.events.Emit(ctx, task.UserID, events.KindSubagentResult, payload)
	if eerr != nil {
		slog.Error("subagent result event lost", "task", task.TaskID, "error", eerr)
	}

	// Skipped outcomes stay silent; everything else is pushed straight
	// into the originating channel while the parent session is open.
	if err == nil && outcome.Status == store.ExecSkipped {
		return
	}
	if !w.parentOpen(ctx, task.ParentSession) {
		return
	}
	notice := result
	if notice == "" {
		notice = "Background task completed."
	}
	if errMsg != "" {
		notice = "Background task failed: " + errMsg
	}
	if perr := w.messenger.SendToUser(ctx, task.UserID, task.FallbackChannel, notice); perr != nil {
		slog.Debug("direct task push failed, event stays queued",
			"task", task.TaskID, "error", perr)
		return
	}
	if eventID != "" {
		if merr := w.events.MarkDelivered(ctx, eventID); merr != nil {
			slog.Warn("pushed task result not marked delivered", "event", eventID, "error", merr)
		}
	}
}

func (w *Worker) parentOpen(ctx context.Context, sessionID string) bool {
	if sessionID == "" {
		return false
	}
	sess, err := w.stores.Sessions.Get(ctx, sessionID)
	if err != nil {
		return false
	}
	return sess.Open()
}

// Shutdown waits for in-flight tasks until the context expires.
func (w *Worker) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("background worker shutdown: %w", ctx.Err())
	}
}
