// Package runner executes tasks in parallel over the device pool. A fixed
// worker group pulls from one shared queue, so a run over N tasks and W
// workers holds at most W devices at a time and faster devices naturally
// take more tasks.
package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/devicelab-dev/devicepool/pkg/capability"
	"github.com/devicelab-dev/devicepool/pkg/core"
	"github.com/devicelab-dev/devicepool/pkg/device"
	"github.com/devicelab-dev/devicepool/pkg/driver/android"
	"github.com/devicelab-dev/devicepool/pkg/driver/ios"
	"github.com/devicelab-dev/devicepool/pkg/metrics"
	"github.com/devicelab-dev/devicepool/pkg/pool"
	"github.com/devicelab-dev/devicepool/pkg/resolver"
)

const (
	defaultAcquireTimeout = 2 * time.Minute
	closeTimeout          = 10 * time.Second
)

// Task is one unit of work against an acquired device.
type Task struct {
	Name         string
	Requirements device.Requirements
	App          capability.AppInfo

	// Kind narrows the device kind beyond Requirements when set.
	Kind *core.DeviceKind

	Fn func(ctx context.Context, s core.Session) error
}

// Status is the outcome of one task.
type Status int

const (
	StatusPassed Status = iota
	StatusFailed
	StatusSkipped // Never started, run canceled first
)

// String returns the string representation of Status
func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Result records one task's outcome. DeviceID is empty when no device was
// ever acquired for the task.
type Result struct {
	Task     string
	DeviceID string
	Status   Status
	Err      error
	Duration time.Duration
}

// BackendFactory builds a backend bound to one device's automation
// endpoint. Called once per task, after the device is acquired.
type BackendFactory func(snap device.Snapshot) (core.Backend, error)

// Runner drives tasks over the pool.
type Runner struct {
	Pool     *pool.Manager
	Backends BackendFactory
	Engine   *resolver.Engine

	// Workers caps concurrently held devices. Zero means 1.
	Workers int
	// AcquireTimeout bounds each task's wait for a device. Zero means 2m.
	AcquireTimeout time.Duration
	// SessionTimeout bounds a task's session work, not its acquire wait.
	// Zero means no limit.
	SessionTimeout time.Duration

	Logger  *zap.Logger
	Metrics *metrics.Collector
}

type workItem struct {
	task  Task
	index int
}

// Run executes the tasks and returns one result per task, in input order.
// Task failures land in results, they never abort the run; canceling ctx
// stops dequeueing and marks the remainder skipped.
func (r *Runner) Run(ctx context.Context, tasks []Task) []Result {
	log := r.Logger
	if log == nil {
		log = zap.NewNop()
	}
	workers := r.Workers
	if workers <= 0 {
		workers = 1
	}
	if workers > len(tasks) {
		workers = len(tasks)
	}

	runID := uuid.NewString()
	log.Info("run started",
		zap.String("run", runID),
		zap.Int("tasks", len(tasks)),
		zap.Int("workers", workers))

	queue := make(chan workItem, len(tasks))
	for i, t := range tasks {
		queue <- workItem{task: t, index: i}
	}
	close(queue)

	results := make([]Result, len(tasks))
	var resultsMu sync.Mutex

	var g errgroup.Group
	for w := 0; w < workers; w++ {
		worker := w
		g.Go(func() error {
			for item := range queue {
				res := r.runTask(ctx, item.task)
				log.Info("task finished",
					zap.String("run", runID),
					zap.Int("worker", worker),
					zap.String("task", item.task.Name),
					zap.String("device", res.DeviceID),
					zap.String("status", res.Status.String()),
					zap.Duration("duration", res.Duration),
					zap.Error(res.Err))
				resultsMu.Lock()
				results[item.index] = res
				resultsMu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	log.Info("run finished", zap.String("run", runID))
	return results
}

func (r *Runner) runTask(ctx context.Context, t Task) Result {
	res := Result{Task: t.Name, Status: StatusFailed}
	if err := ctx.Err(); err != nil {
		res.Status = StatusSkipped
		res.Err = err
		return res
	}
	if t.Fn == nil {
		res.Err = core.ErrInvalidConfig.WithMessagef("task %q has no function", t.Name)
		return res
	}

	req := t.Requirements
	if t.Kind != nil {
		req.Kind = t.Kind
	}
	acquireTimeout := r.AcquireTimeout
	if acquireTimeout <= 0 {
		acquireTimeout = defaultAcquireTimeout
	}

	start := time.Now()
	err := r.Pool.WithDevice(ctx, req, acquireTimeout, func(ctx context.Context, alloc *pool.Allocation) error {
		res.DeviceID = alloc.Device.Device.ID
		err := r.runSession(ctx, t, alloc)
		if errors.Is(err, core.ErrDeviceLost) {
			// Quarantine before the deferred release can hand the device
			// to the next task.
			r.Pool.ReportLost(alloc, err)
		}
		return err
	})
	res.Duration = time.Since(start)
	res.Err = err
	if err == nil {
		res.Status = StatusPassed
	} else if errors.Is(err, context.Canceled) && ctx.Err() != nil {
		res.Status = StatusSkipped
	}
	return res
}

// runSession builds the capability profile from the acquired device's facts,
// attaches a platform adapter, and runs the task body against it.
func (r *Runner) runSession(ctx context.Context, t Task, alloc *pool.Allocation) error {
	if r.SessionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.SessionTimeout)
		defer cancel()
	}

	snap := alloc.Device
	profile, err := capability.Build(capability.Request{
		Platform:   snap.Device.Platform,
		OSVersion:  snap.Device.OSVersion,
		DeviceKind: snap.Device.Kind,
		DeviceID:   snap.Device.ID,
		App:        t.App,
	})
	if err != nil {
		return fmt.Errorf("profile for task %q: %w", t.Name, err)
	}

	if r.Backends == nil {
		return core.ErrBackendUnavailable.WithMessage("runner has no backend factory")
	}
	backend, err := r.Backends(snap)
	if err != nil {
		return core.ErrBackendUnavailable.
			WithMessagef("backend for device %s", snap.Device.ID).
			WithCause(err)
	}

	sess, err := r.startSession(ctx, snap, profile, backend)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		_ = sess.Close(closeCtx)
	}()

	return t.Fn(ctx, sess)
}

// startSession is the single platform branch: everything after it speaks
// core.Session.
func (r *Runner) startSession(ctx context.Context, snap device.Snapshot, profile *capability.Profile, backend core.Backend) (core.Session, error) {
	switch snap.Device.Platform {
	case core.PlatformIOS:
		return ios.Start(ctx, ios.Options{
			Device:   snap,
			Profile:  profile,
			Backend:  backend,
			Resolver: r.Engine,
			Logger:   r.Logger,
			Metrics:  r.Metrics,
		})
	default:
		return android.Start(ctx, android.Options{
			Device:   snap,
			Profile:  profile,
			Backend:  backend,
			Resolver: r.Engine,
			Logger:   r.Logger,
			Metrics:  r.Metrics,
		})
	}
}
