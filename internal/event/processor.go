package event

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"operatorkit/internal/reconcile"
	"operatorkit/internal/resource"
	"operatorkit/internal/retry"
	"operatorkit/internal/timer"
	"operatorkit/pkg/logging"
)

type phase uint8

const (
	idle phase = iota
	processing
	processingPending
)

func (p phase) String() string {
	switch p {
	case idle:
		return "Idle"
	case processing:
		return "Processing"
	case processingPending:
		return "ProcessingAndMarkedPending"
	default:
		return "Unknown"
	}
}

// snapshot is an immutable view of the scheduling state of one resource.
// Entries move from snapshot to snapshot by compare-and-swap only.
type snapshot struct {
	phase phase
	// marked is set for events received while the processor is not running.
	marked bool
	// reset is set when a fresh event is among the pending ones, so the next
	// run starts a new failure sequence.
	reset bool
	// deleted is set when the resource was deleted during processing.
	deleted bool
	// removed marks an entry that is being dropped from the map.
	removed bool
	retry   *retry.Execution
}

type entry struct {
	state atomic.Pointer[snapshot]
}

func newEntry() *entry {
	e := &entry{}
	e.state.Store(&snapshot{})
	return e
}

// Processor turns a stream of events into reconciliations. At most one
// reconciliation per resource runs at any time, events arriving meanwhile
// are coalesced into a single follow-up run, failures are retried with
// backoff and dispatches can be rate limited.
//
// HandleEvent never blocks: it performs a compare-and-swap on the
// resource's entry and, when a run must start, hands it to a worker.
type Processor struct {
	name       string
	dispatcher Dispatcher
	opts       options

	entries sync.Map // resource.ID -> *entry
	timers  *timer.Scheduler
	workers *semaphore.Weighted
	status  *statusTracker

	mu       sync.Mutex
	ctx      context.Context
	cancel   context.CancelFunc
	running  atomic.Bool
	stopped  atomic.Bool
	inflight sync.WaitGroup
}

// New creates a Processor for the named controller.
func New(name string, dispatcher Dispatcher, opts ...Option) *Processor {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}

	return &Processor{
		name:       name,
		dispatcher: dispatcher,
		opts:       o,
		timers:     timer.NewWithClock(o.clock),
		workers:    semaphore.NewWeighted(int64(o.workers)),
		status:     newStatusTracker(o.clock.Now),
	}
}

// Name returns the controller name the processor was created for.
func (p *Processor) Name() string { return p.name }

// Start begins dispatching. Events received before Start are dispatched now.
func (p *Processor) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.stopped.Load() {
		p.mu.Unlock()
		return fmt.Errorf("event processor %s was stopped", p.name)
	}
	if p.running.Load() {
		p.mu.Unlock()
		return nil
	}
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.running.Store(true)
	p.mu.Unlock()

	logging.Info("EventProcessor", "Started %s with %d workers", p.name, p.opts.workers)

	p.entries.Range(func(key, _ any) bool {
		p.dispatchMarked(key.(resource.ID))
		return true
	})
	return nil
}

// Stop cancels running reconciliations, drops pending timers and waits for
// in-flight runs to return. A stopped processor ignores further events.
func (p *Processor) Stop() {
	p.mu.Lock()
	if p.stopped.Load() {
		p.mu.Unlock()
		return
	}
	p.stopped.Store(true)
	p.running.Store(false)
	cancel := p.cancel
	p.mu.Unlock()

	logging.Info("EventProcessor", "Stopping %s...", p.name)

	p.timers.Stop()
	if cancel != nil {
		cancel()
	}
	p.inflight.Wait()

	logging.Info("EventProcessor", "Stopped %s", p.name)
}

// IsRunning reports whether the processor dispatches events.
func (p *Processor) IsRunning() bool {
	return p.running.Load()
}

// HandleEvent records an event for a resource and starts a reconciliation if
// none is running for it.
func (p *Processor) HandleEvent(ev Event) {
	if p.stopped.Load() {
		return
	}
	p.opts.metrics.EventReceived(p.name, ev)

	for {
		e, ok := p.load(ev.ID, !ev.Action.timer())
		if !ok {
			// Timer events for resources that are gone are dropped.
			return
		}
		cur := e.state.Load()
		if cur.removed {
			runtime.Gosched()
			continue
		}

		next := *cur
		var after func()

		switch {
		case ev.Action == Deleted && cur.phase == idle:
			next = snapshot{removed: true}
			after = func() { p.remove(ev.ID, e) }

		case ev.Action == Deleted:
			// Pending events of a deleted resource are moot.
			next.phase = processing
			next.deleted = true
			next.reset = false

		case cur.phase != idle:
			next.phase = processingPending
			next.deleted = false
			next.reset = cur.reset || ev.Action.fresh()

		case !p.running.Load():
			next.marked = true
			next.deleted = false
			next.reset = cur.reset || ev.Action.fresh()
			after = func() {
				// Start may have scanned the entries before this mark landed.
				if p.running.Load() {
					p.dispatchMarked(ev.ID)
				}
			}

		default:
			next.phase = processing
			next.marked = false
			next.deleted = false
			fresh := ev.Action.fresh() || cur.reset
			if fresh {
				next.retry = nil
			}
			next.reset = false
			exec := next.retry
			after = func() {
				if fresh {
					p.timers.Cancel(ev.ID)
				}
				p.submit(ev.ID, e, exec)
			}
		}

		if e.state.CompareAndSwap(cur, &next) {
			logging.Debug("EventProcessor", "%s: %s %s -> %s", p.name, ev, cur.phase, next.phase)
			if after != nil {
				after()
			}
			return
		}
	}
}

// IsUnderProcessing reports whether a reconciliation of id is running.
func (p *Processor) IsUnderProcessing(id resource.ID) bool {
	e, ok := p.load(id, false)
	if !ok {
		return false
	}
	s := e.state.Load()
	return !s.removed && s.phase != idle
}

// Tracked returns the number of resources with scheduling state.
func (p *Processor) Tracked() int {
	n := 0
	p.entries.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}

// Status returns the reconciliation status of a resource.
func (p *Processor) Status(id resource.ID) (Status, bool) {
	return p.status.get(id)
}

// Statuses returns the status of every known resource, sorted by ID.
func (p *Processor) Statuses() []Status {
	return p.status.all()
}

func (p *Processor) load(id resource.ID, create bool) (*entry, bool) {
	if v, ok := p.entries.Load(id); ok {
		return v.(*entry), true
	}
	if !create {
		return nil, false
	}
	v, _ := p.entries.LoadOrStore(id, newEntry())
	return v.(*entry), true
}

// remove drops the state of a resource. The entry must already be marked
// removed; concurrent callers spin until it leaves the map.
func (p *Processor) remove(id resource.ID, e *entry) {
	p.timers.Cancel(id)
	p.opts.limiter.Forget(id)
	p.status.remove(id)
	p.entries.CompareAndDelete(id, e)
	p.opts.metrics.Removed(p.name, id)
	logging.Debug("EventProcessor", "%s: dropped state of %s", p.name, id)
}

// dispatchMarked starts a run for a resource whose events arrived while the
// processor was not running.
func (p *Processor) dispatchMarked(id resource.ID) {
	for {
		e, ok := p.load(id, false)
		if !ok {
			return
		}
		cur := e.state.Load()
		if cur.removed {
			runtime.Gosched()
			continue
		}
		if cur.phase != idle || !cur.marked {
			return
		}

		next := *cur
		next.phase = processing
		next.marked = false
		if cur.reset {
			next.retry = nil
			next.reset = false
		}
		if e.state.CompareAndSwap(cur, &next) {
			p.submit(id, e, next.retry)
			return
		}
	}
}

// submit hands a resource in the processing phase to a worker, unless the
// rate limiter defers it.
func (p *Processor) submit(id resource.ID, e *entry, exec *retry.Execution) {
	if !p.running.Load() {
		p.park(id, e)
		return
	}

	if delay, limited := p.opts.limiter.IsLimited(id); limited {
		if delay < MinRescheduleDelay {
			delay = MinRescheduleDelay
		}
		p.opts.metrics.RateLimited(p.name, id, delay)
		logging.Debug("EventProcessor", "%s: %s is rate limited, rescheduling in %v", p.name, id, delay)

		for {
			cur := e.state.Load()
			next := *cur
			next.phase = idle
			if cur.deleted {
				next = snapshot{removed: true}
			}
			if e.state.CompareAndSwap(cur, &next) {
				if next.removed {
					p.remove(id, e)
					return
				}
				break
			}
		}
		p.timers.ScheduleOnce(id, delay, func() {
			p.HandleEvent(Event{ID: id, Action: Retry})
		})
		return
	}

	if !p.track() {
		p.park(id, e)
		return
	}
	p.status.update(id, StatePending, nil, 0)
	go p.execute(id, e, exec)
}

// track registers a run with Stop's wait group unless Stop has begun.
func (p *Processor) track() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running.Load() {
		return false
	}
	p.inflight.Add(1)
	return true
}

// park returns a processing resource to idle with its events marked, so the
// next Start dispatches it again.
func (p *Processor) park(id resource.ID, e *entry) {
	for {
		cur := e.state.Load()
		next := *cur
		next.phase = idle
		next.marked = true
		if e.state.CompareAndSwap(cur, &next) {
			logging.Debug("EventProcessor", "%s: parked %s until start", p.name, id)
			return
		}
	}
}

func (p *Processor) execute(id resource.ID, e *entry, exec *retry.Execution) {
	defer p.inflight.Done()

	ctx := p.ctx
	if err := p.workers.Acquire(ctx, 1); err != nil {
		p.park(id, e)
		return
	}
	defer p.workers.Release(1)

	req := Request{ID: id, ExecutionID: uuid.NewString()}
	attempt := 0
	if exec != nil {
		req.Retry = exec
		attempt = exec.Attempt()
	}

	p.status.update(id, StateReconciling, nil, attempt)
	p.opts.metrics.ReconcileStarted(p.name, id, exec != nil)
	logging.Debug("EventProcessor", "%s: reconciling %s (execution %s, retry %d)", p.name, id, req.ExecutionID, attempt)

	started := p.opts.clock.Now()
	outcome, err := p.dispatch(ctx, req)
	p.finish(id, e, exec, outcome, err, p.opts.clock.Since(started))
}

// dispatch runs the dispatcher with the reconcile timeout, converting
// panics into errors.
func (p *Processor) dispatch(parent context.Context, req Request) (out Outcome, err error) {
	ctx, cancel := parent, context.CancelFunc(func() {})
	if p.opts.reconcileTimeout > 0 {
		ctx, cancel = context.WithTimeout(parent, p.opts.reconcileTimeout)
	}
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &PanicError{Value: r, Stack: debug.Stack()}
		}
	}()

	out, err = p.dispatcher.Dispatch(ctx, req)

	// A reconciler that ignored its context still counts as timed out.
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		err = &TimeoutError{Timeout: p.opts.reconcileTimeout.String()}
	}
	return out, err
}

func (p *Processor) finish(id resource.ID, e *entry, exec *retry.Execution, out Outcome, err error, took time.Duration) {
	if err != nil {
		p.opts.metrics.ReconcileFailed(p.name, id, err)
	} else {
		p.opts.metrics.ReconcileSucceeded(p.name, id, took)
	}

	// The execution belongs to this run only, so the attempt is consumed
	// once, outside the CAS loop.
	var delay time.Duration
	var more bool
	if err != nil {
		if exec == nil {
			exec = p.opts.retry.InitExecution()
		}
		delay, more = exec.NextDelay()
	}

	for {
		cur := e.state.Load()
		next := *cur
		var after func()

		switch {
		case cur.deleted, err == nil && out.Gone && cur.phase != processingPending:
			next = snapshot{removed: true}
			after = func() { p.remove(id, e) }

		// Pending retries alone do not outrun the backoff of this failure;
		// they are handled like any other failed run below.
		case cur.phase == processingPending && (err == nil || cur.reset):
			next.retry = nil
			if p.running.Load() {
				next.phase = processing
				next.reset = false
				after = func() {
					if err != nil {
						p.status.update(id, StateError, err, exec.Attempt())
					}
					p.submit(id, e, nil)
				}
			} else {
				next.phase = idle
				next.marked = true
			}

		case err != nil && more:
			next.phase = idle
			next.retry = exec
			after = func() { p.scheduleRetry(id, exec, delay, err) }

		case err != nil:
			next.phase = idle
			next.retry = nil
			after = func() { p.exhausted(id, exec, err) }

		default:
			next.phase = idle
			next.retry = nil
			after = func() { p.succeeded(id, out) }
		}

		if e.state.CompareAndSwap(cur, &next) {
			if after != nil {
				after()
			}
			return
		}
	}
}

func (p *Processor) scheduleRetry(id resource.ID, exec *retry.Execution, delay time.Duration, err error) {
	p.status.update(id, StateError, err, exec.Attempt())
	logging.Warn("EventProcessor", "%s: reconciliation of %s failed, retry %d in %v: %v", p.name, id, exec.Attempt(), delay, err)
	p.timers.ScheduleOnce(id, delay, func() {
		p.HandleEvent(Event{ID: id, Action: Retry})
	})
}

func (p *Processor) exhausted(id resource.ID, exec *retry.Execution, err error) {
	exhaustedErr := &RetryExhaustedError{ID: id, Attempts: exec.Attempt(), Err: err}
	p.status.update(id, StateFailed, err, exec.Attempt())
	p.opts.metrics.RetriesExhausted(p.name, id)
	logging.Error("EventProcessor", err, "%s: giving up on %s after %d retries", p.name, id, exec.Attempt())

	if p.opts.onExhausted != nil {
		p.opts.onExhausted(exhaustedErr)
	}
	p.reschedule(id, 0)
}

func (p *Processor) succeeded(id resource.ID, out Outcome) {
	p.status.update(id, StateSynced, nil, 0)
	logging.Debug("EventProcessor", "%s: reconciled %s", p.name, id)
	p.reschedule(id, out.RescheduleAfter)
}

// reschedule arms a timer for another run after d, falling back to the
// maximum reconciliation interval.
func (p *Processor) reschedule(id resource.ID, d time.Duration) {
	if d <= 0 {
		d = p.opts.maxInterval
	}
	if d <= 0 {
		return
	}
	p.timers.ScheduleOnce(id, d, func() {
		p.HandleEvent(Event{ID: id, Action: Reschedule})
	})
}

// RetryInfo exposes the retry state of a resource for diagnostics.
func (p *Processor) RetryInfo(id resource.ID) (reconcile.RetryInfo, bool) {
	e, ok := p.load(id, false)
	if !ok {
		return nil, false
	}
	s := e.state.Load()
	if s.retry == nil {
		return nil, false
	}
	return s.retry, true
}
