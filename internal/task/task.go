// Package task manages the goroutines that drive a bus.
package task

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/arloliu/go-osdp/logger"
)

// ErrStopped is returned when a task is started on a stopped manager.
var ErrStopped = errors.New("task: manager already stopped")

// startTimeout bounds how long Start waits for the goroutine to report in.
const startTimeout = 5 * time.Second

// Func performs one iteration of a task. It receives the manager context, which is
// cancelled by Stop, and returns true to run another iteration or false to exit.
type Func func(ctx context.Context) bool

// Manager manages the lifecycle of goroutines (tasks).
//
// Each task runs its Func repeatedly until the Func returns false or the manager is stopped.
// A panic inside an iteration is recovered and logged, and the next iteration runs, so a
// single faulty iteration cannot take a bus down.
//
// Example Usage:
//
//	mgr := task.NewManager(ctx, logger)
//	_ = mgr.Start("poll", func(ctx context.Context) bool {
//	    // ... one polling cycle ...
//	    return true
//	})
//	mgr.Stop()
//	mgr.Wait()
type Manager struct {
	pctx   context.Context
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger logger.Logger
	count  atomic.Int32
	mu     sync.RWMutex // protect ctx and cancel
	taskMu sync.RWMutex // protect task creation during Wait()
}

// NewManager creates a Manager with ctx as the parent context.
func NewManager(ctx context.Context, l logger.Logger) *Manager {
	mgr := &Manager{pctx: ctx, logger: l}
	mgr.ctx, mgr.cancel = context.WithCancel(ctx)

	return mgr
}

func (mgr *Manager) getContext() context.Context {
	mgr.mu.RLock()
	defer mgr.mu.RUnlock()

	return mgr.ctx
}

// Start starts a new goroutine running fn in a loop and waits until it is running.
func (mgr *Manager) Start(name string, fn Func) error {
	mgr.logger.Debug("start task", "name", name)

	ctx := mgr.getContext()
	select {
	case <-ctx.Done():
		return ErrStopped
	default:
	}

	started := make(chan struct{})

	mgr.taskMu.RLock()
	mgr.wg.Add(1)
	go func() {
		defer mgr.wg.Done()

		mgr.count.Add(1)
		defer func() {
			mgr.count.Add(-1)
			mgr.logger.Debug("task terminated", "name", name, "task_count", mgr.TaskCount())
		}()
		close(started)

		mgr.runLoop(ctx, name, fn)
	}()
	mgr.taskMu.RUnlock()

	timer := time.NewTimer(startTimeout)
	defer timer.Stop()

	select {
	case <-started:
		return nil
	case <-timer.C:
		return fmt.Errorf("task: timeout waiting for %s to start", name)
	}
}

// Stop signals all running tasks to exit.
func (mgr *Manager) Stop() {
	mgr.mu.Lock()
	if mgr.cancel != nil {
		mgr.cancel()
	}
	mgr.mu.Unlock()
}

// Wait waits for all tasks to terminate, then re-arms the manager so it can start new tasks.
func (mgr *Manager) Wait() {
	mgr.taskMu.Lock()
	defer mgr.taskMu.Unlock()

	mgr.wg.Wait()

	mgr.mu.Lock()
	mgr.ctx, mgr.cancel = context.WithCancel(mgr.pctx)
	mgr.mu.Unlock()
}

// TaskCount returns the number of currently running goroutines.
func (mgr *Manager) TaskCount() int {
	return int(mgr.count.Load())
}

func (mgr *Manager) runLoop(ctx context.Context, name string, fn Func) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if !mgr.iterate(ctx, name, fn) {
			return
		}
	}
}

// iterate runs one iteration with panic protection. A panicking iteration counts as
// "continue" unless the context is already done.
func (mgr *Manager) iterate(ctx context.Context, name string, fn Func) (cont bool) {
	defer func() {
		if r := recover(); r != nil {
			mgr.logger.Error("panic in task", "name", name, "panic", r)
			cont = ctx.Err() == nil
		}
	}()

	return fn(ctx)
}
