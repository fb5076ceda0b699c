// Package tasks runs reconciliation work after the admission response has
// been sent. Tasks are fire-and-forget: failures are logged and counted but
// never reach the requester and are not retried.
package tasks

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/go-logr/logr"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/manager"

	"github.com/lexfrei/gateway-cert-webhook/internal/metrics"
)

// ErrDispatcherClosed means the dispatcher is shutting down and takes no new work.
var ErrDispatcherClosed = errors.New("dispatcher is shutting down")

// Task is one unit of background work.
type Task struct {
	// Name identifies the task in logs and metrics, e.g. "certificate".
	Name string
	Run  func(ctx context.Context) error
}

// Options configures a Dispatcher.
type Options struct {
	Logger  logr.Logger
	Metrics metrics.Collector

	// Timeout bounds each task. Zero means no bound.
	Timeout time.Duration

	// ShutdownGrace is how long Start waits for in-flight tasks after its
	// context is cancelled. Tasks still running then see their context cancelled.
	ShutdownGrace time.Duration
}

// Dispatcher starts one goroutine per submitted task. There is no ordering
// between tasks and no concurrency limit.
type Dispatcher struct {
	logger  logr.Logger
	metrics metrics.Collector
	timeout time.Duration
	grace   time.Duration

	// ctx outlives every request and is only cancelled once the grace period ends.
	ctx    context.Context //nolint:containedctx // lifetime of background work
	cancel context.CancelFunc

	mu       sync.Mutex
	closed   bool
	group    errgroup.Group
	inFlight atomic.Int64
}

var (
	_ manager.Runnable               = (*Dispatcher)(nil)
	_ manager.LeaderElectionRunnable = (*Dispatcher)(nil)
)

// NewDispatcher creates a Dispatcher. It accepts work immediately, even
// before Start is called.
func NewDispatcher(opts Options) *Dispatcher {
	if opts.Metrics == nil {
		opts.Metrics = metrics.NewNoopCollector()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		logger:  opts.Logger,
		metrics: opts.Metrics,
		timeout: opts.Timeout,
		grace:   opts.ShutdownGrace,
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Submit schedules tasks on behalf of the admission request requestUID.
func (d *Dispatcher) Submit(requestUID string, tasks ...Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return errors.Wrapf(ErrDispatcherClosed, "dropped %d task(s) of request %s", len(tasks), requestUID)
	}

	for _, task := range tasks {
		d.group.Go(func() error {
			d.run(requestUID, task)

			return nil
		})
	}

	return nil
}

// NeedLeaderElection implements manager.LeaderElectionRunnable. Every replica
// serves admission requests, so every replica runs their tasks.
func (d *Dispatcher) NeedLeaderElection() bool {
	return false
}

// Start blocks until ctx is cancelled, then drains in-flight tasks.
func (d *Dispatcher) Start(ctx context.Context) error {
	<-ctx.Done()

	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	drained := make(chan struct{})

	go func() {
		_ = d.group.Wait()

		close(drained)
	}()

	timer := time.NewTimer(d.grace)
	defer timer.Stop()

	select {
	case <-drained:
		d.logger.Info("background tasks drained")
	case <-timer.C:
		d.logger.Info("shutdown grace period expired, cancelling background tasks",
			"inFlight", d.inFlight.Load(), "grace", d.grace.String())
	}

	d.cancel()

	return nil
}

func (d *Dispatcher) run(requestUID string, task Task) {
	logger := d.logger.WithValues(
		"task", task.Name,
		"taskID", uuid.NewString(),
		"requestUID", requestUID,
	)

	ctx := log.IntoContext(d.ctx, logger)

	if d.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}

	d.metrics.RecordTasksInFlight(ctx, int(d.inFlight.Add(1)))
	defer func() {
		d.metrics.RecordTasksInFlight(ctx, int(d.inFlight.Add(-1)))
	}()

	startTime := time.Now()
	err := safeRun(ctx, task)
	duration := time.Since(startTime)

	if err != nil {
		logger.Error(err, "background task failed", "duration", duration.String())
		d.metrics.RecordTask(ctx, task.Name, "error", duration)
		d.metrics.RecordTaskError(ctx, task.Name, metrics.ClassifyAPIError(err))

		return
	}

	logger.V(1).Info("background task finished", "duration", duration.String())
	d.metrics.RecordTask(ctx, task.Name, "success", duration)
}

func safeRun(ctx context.Context, task Task) (err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			err = errors.Newf("task %s panicked: %v", task.Name, recovered)
		}
	}()

	return task.Run(ctx)
}
