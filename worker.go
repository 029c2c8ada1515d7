package outbox

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

type trigger uint32

const (
	triggerStart trigger = 1 << iota
	triggerTimer
	triggerOnline
	triggerActor
	triggerNudge
)

func (t trigger) names() []string {
	var out []string
	for _, item := range []struct {
		bit  trigger
		name string
	}{
		{triggerStart, "start"},
		{triggerTimer, "timer"},
		{triggerOnline, "online"},
		{triggerActor, "actor"},
		{triggerNudge, "nudge"},
	} {
		if t&item.bit != 0 {
			out = append(out, item.name)
		}
	}

	return out
}

// worker schedules flushes in the background. Triggers that arrive while a flush runs are merged into
// the next loop iteration.
type worker struct {
	cancel context.CancelFunc
	done   chan struct{}
	unsubs []func()

	pending atomic.Uint32
	signal  chan struct{}

	timerMu    sync.Mutex
	nudgeTimer *time.Timer
	stopped    bool
}

func newWorker() *worker {
	return &worker{
		done:   make(chan struct{}),
		signal: make(chan struct{}, 1),
	}
}

func (w *worker) fire(t trigger) {
	for {
		old := w.pending.Load()
		if w.pending.CompareAndSwap(old, old|uint32(t)) {
			break
		}
	}
	select {
	case w.signal <- struct{}{}:
	default:
	}
}

func (w *worker) take() trigger {
	return trigger(w.pending.Swap(0))
}

// scheduleNudge arms a single delayed flush; nudges arriving while one is armed are absorbed by it.
func (w *worker) scheduleNudge(delay time.Duration) {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	if w.stopped || w.nudgeTimer != nil {
		return
	}
	w.nudgeTimer = time.AfterFunc(delay, func() {
		w.timerMu.Lock()
		w.nudgeTimer = nil
		stopped := w.stopped
		w.timerMu.Unlock()
		if !stopped {
			w.fire(triggerNudge)
		}
	})
}

func (w *worker) stopTimers() {
	w.timerMu.Lock()
	defer w.timerMu.Unlock()
	w.stopped = true
	if w.nudgeTimer != nil {
		w.nudgeTimer.Stop()
		w.nudgeTimer = nil
	}
}

// Start launches the background flush worker. It flushes once immediately, when connectivity comes
// back, when the actor changes, shortly after each Enqueue and every FlushInterval.
//
// The worker runs until Stop is called or ctx is canceled.
func (o *Outbox) Start(ctx context.Context) error {
	o.workerMu.Lock()
	defer o.workerMu.Unlock()
	if o.worker != nil {
		return ErrWorkerRunning
	}

	w := newWorker()
	ctx, w.cancel = context.WithCancel(ctx)
	w.unsubs = append(w.unsubs,
		o.cfg.Connectivity.SubscribeOnline(func(online bool) {
			if online {
				w.fire(triggerOnline)
			}
		}),
		o.cfg.Identity.SubscribeActor(func(actorUID string) {
			if actorUID == "" {
				o.publishPending(context.WithoutCancel(ctx), PendingState{Items: []PendingItem{}})
			}
			w.fire(triggerActor)
		}),
	)
	o.worker = w
	w.fire(triggerStart)

	go o.runWorker(ctx, w)
	o.cfg.Logger.Info("outbox worker started", "flush_interval", o.cfg.FlushInterval)

	return nil
}

// Stop halts the worker and waits for an in-flight flush to finish. Stop without Start is a no-op.
func (o *Outbox) Stop() {
	o.workerMu.Lock()
	w := o.worker
	o.worker = nil
	o.workerMu.Unlock()
	if w == nil {
		return
	}

	for _, unsub := range w.unsubs {
		unsub()
	}
	w.stopTimers()
	w.cancel()
	<-w.done
	o.cfg.Logger.Info("outbox worker stopped")
}

func (o *Outbox) runWorker(ctx context.Context, w *worker) {
	defer close(w.done)

	ticker := time.NewTicker(o.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.fire(triggerTimer)
		case <-w.signal:
		}

		fired := w.take()
		if fired == 0 {
			continue
		}
		flushCtx := context.WithoutCancel(ctx)
		if fired&triggerActor != 0 {
			if _, err := o.refreshPending(flushCtx); err != nil {
				o.cfg.Logger.Warn("outbox pending refresh failed", "err", err)
			}
		}
		if ctx.Err() != nil {
			return
		}

		o.cfg.Logger.Debug("outbox flush triggered", "triggers", fired.names())
		if _, err := o.Flush(flushCtx); err != nil {
			o.cfg.Logger.Error("outbox background flush failed", "err", err)
		}
	}
}
