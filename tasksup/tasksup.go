// Package tasksup implements C7, the Task Supervisor of spec.md §4.7: a
// generic wrapper around a long-running background task (the sync loop,
// the mine loop) that logs a panic or returned error and restarts the task
// from a clean state rather than letting one subsystem's crash take down
// the whole node. Grounded on the restart-on-panic idiom the teacher
// applies at its process boundary (node/service.go's Start/Stop lifecycle)
// generalized into a reusable supervisor, since no single teacher file
// implements exactly this pattern for an arbitrary task.
package tasksup

import (
	"context"
	"fmt"
	"time"

	internallog "github.com/uqoin-network/uqoin-node/internal/log"
)

var logger = internallog.NewModuleLogger(internallog.Task)

// Task is a long-running background job. It should run until ctx is
// cancelled and return ctx.Err() in that case; any other return (nil or an
// error) is treated as a crash to restart from.
type Task func(ctx context.Context) error

// minBackoff/maxBackoff bound the delay before a crashed task is
// restarted, so a tight crash loop doesn't spin the CPU or spam the log.
const (
	minBackoff = 100 * time.Millisecond
	maxBackoff = 10 * time.Second
)

// Supervise runs task in a loop, restarting it with exponential backoff
// whenever it panics or returns a non-context-cancellation error. It
// returns only when ctx is cancelled.
func Supervise(ctx context.Context, name string, task Task) {
	backoff := minBackoff
	for {
		if ctx.Err() != nil {
			return
		}

		err := runOnce(ctx, task)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			// A task is expected to run until cancellation; returning nil
			// early is still treated as a crash-and-restart, just without
			// an error to log, since spec.md §4.7 names no "task finished
			// successfully" outcome for sync/mine.
			logger.Warn("task exited early, restarting", "task", name)
		} else {
			logger.Error("task crashed, restarting", "task", name, "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

// runOnce invokes task once, converting a panic into an error so the
// caller's restart loop handles both uniformly.
func runOnce(ctx context.Context, task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return task(ctx)
}
