// Package watchdog monitors module and loop heartbeats. A heartbeat older
// than the configured timeout marks its owner failed: the module is forced
// into the error state and the failure is reported exactly once until it
// resolves. With redundancy enabled the watchdog attempts an automatic
// restart; a failed actuator without a successful restart escalates to a
// system-wide emergency stop, since an unresponsive actuator may be stuck
// at a live output value.
package watchdog

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/health"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/module"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/pkg/retry"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/registry"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/scheduler"
)

// ErrorFunc receives watchdog failure reports. Callbacks must not block.
type ErrorFunc func(name, description string)

// EscalateFunc triggers the system-level emergency stop when an actuator
// failure cannot be resolved.
type EscalateFunc func(reason string)

// StateFunc observes the lifecycle state of every registered module once
// per sweep. The control system installs one to keep the module state
// gauge current.
type StateFunc func(name string, state module.State)

// Options configures a Watchdog
type Options struct {
	// Timeout is the maximum heartbeat age before a module or loop is
	// declared failed.
	Timeout time.Duration
	// Interval is the check period. Defaults to Timeout / 4.
	Interval time.Duration
	// Redundancy enables automatic restart of failed modules.
	Redundancy bool
	// Restart bounds the restart attempts when redundancy is enabled.
	Restart retry.Config
}

// Watchdog periodically sweeps registry modules and scheduler loops for
// stale heartbeats.
type Watchdog struct {
	registry *registry.Registry
	sched    *scheduler.Scheduler
	health   *health.Monitor
	opts     Options
	logger   *slog.Logger

	onError  atomic.Pointer[ErrorFunc]
	escalate atomic.Pointer[EscalateFunc]
	onState  atomic.Pointer[StateFunc]

	mu       sync.Mutex
	reported map[string]bool

	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	restartWG sync.WaitGroup
	restarts  atomic.Uint64
}

// New creates a watchdog over the registry and scheduler
func New(reg *registry.Registry, sched *scheduler.Scheduler, mon *health.Monitor, opts Options, logger *slog.Logger) *Watchdog {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Interval <= 0 {
		opts.Interval = opts.Timeout / 4
	}
	if opts.Restart.MaxAttempts == 0 {
		opts.Restart = retry.Quick()
	}
	return &Watchdog{
		registry: reg,
		sched:    sched,
		health:   mon,
		opts:     opts,
		logger:   logger.With("component", "watchdog"),
		reported: make(map[string]bool),
	}
}

// SetErrorFunc installs the failure report callback
func (w *Watchdog) SetErrorFunc(fn ErrorFunc) {
	if fn == nil {
		w.onError.Store(nil)
		return
	}
	w.onError.Store(&fn)
}

// SetEscalateFunc installs the emergency-stop escalation hook
func (w *Watchdog) SetEscalateFunc(fn EscalateFunc) {
	if fn == nil {
		w.escalate.Store(nil)
		return
	}
	w.escalate.Store(&fn)
}

// SetStateFunc installs the per-sweep module state observer
func (w *Watchdog) SetStateFunc(fn StateFunc) {
	if fn == nil {
		w.onState.Store(nil)
		return
	}
	w.onState.Store(&fn)
}

// Restarts returns the number of successful automatic restarts
func (w *Watchdog) Restarts() uint64 { return w.restarts.Load() }

// Start begins the periodic heartbeat sweep
func (w *Watchdog) Start() error {
	if !w.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "watchdog", "Start", "start heartbeat sweep")
	}
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	go w.loop()
	w.logger.Info("watchdog started", "timeout", w.opts.Timeout, "interval", w.opts.Interval, "redundancy", w.opts.Redundancy)
	return nil
}

// Stop halts the sweep and waits for any in-flight restart attempts
func (w *Watchdog) Stop() error {
	if !w.running.CompareAndSwap(true, false) {
		return errors.WrapInvalid(errors.ErrNotStarted, "watchdog", "Stop", "stop heartbeat sweep")
	}
	close(w.stopCh)
	<-w.doneCh
	w.restartWG.Wait()
	return nil
}

func (w *Watchdog) loop() {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.opts.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.check(time.Now())
		}
	}
}

// check sweeps every registry module and every running loop once
func (w *Watchdog) check(now time.Time) {
	for _, m := range w.registry.Modules() {
		w.checkModule(m, now)
	}
	for _, lp := range w.sched.Loops() {
		w.checkLoop(lp, now)
	}
}

func (w *Watchdog) checkModule(m module.Module, now time.Time) {
	name := m.Name()
	if fn := w.onState.Load(); fn != nil {
		(*fn)(name, m.State())
	}
	switch m.State() {
	case module.StateRunning:
	case module.StateError:
		w.health.Update(name, health.NewUnhealthy(name, "module in error state"))
		return
	default:
		// not subject to heartbeat monitoring; clear any stale report
		w.resolve(name)
		w.health.Update(name, health.NewDegraded(name, "module not running"))
		return
	}

	age := now.Sub(m.LastHeartbeat())
	if age <= w.opts.Timeout {
		w.resolve(name)
		w.health.Update(name, health.NewHealthy(name, "heartbeat current"))
		return
	}

	if !w.report(name) {
		return
	}
	desc := fmt.Sprintf("watchdog timeout: no heartbeat for %s", age.Round(time.Millisecond))
	w.logger.Error("module heartbeat stale", "module", name, "age", age)
	m.Fail()
	w.health.Update(name, health.NewUnhealthy(name, desc))
	w.reportError(name, desc)

	_, isActuator := m.(module.Actuator)
	if w.opts.Redundancy {
		w.restartWG.Add(1)
		go w.restart(m, isActuator)
		return
	}
	if isActuator {
		w.triggerEscalation(name)
	}
}

func (w *Watchdog) checkLoop(lp *scheduler.Loop, now time.Time) {
	if !lp.Running() {
		return
	}
	name := "loop:" + lp.Name()
	age := now.Sub(lp.LastHeartbeat())
	if age <= w.opts.Timeout {
		w.resolve(name)
		w.health.Update(name, health.NewHealthy(name, "loop ticking"))
		return
	}
	if !w.report(name) {
		return
	}
	desc := fmt.Sprintf("watchdog timeout: loop stalled for %s", age.Round(time.Millisecond))
	w.logger.Error("loop heartbeat stale", "loop", lp.Name(), "age", age)
	w.health.Update(name, health.NewUnhealthy(name, desc))
	w.reportError(lp.Name(), desc)
}

// restart drives a failed module back to Running: Reset, Initialize,
// Start, with backoff between attempts. Attempts stop when the watchdog
// stops. An actuator whose restart fails escalates to emergency stop.
func (w *Watchdog) restart(m module.Module, isActuator bool) {
	defer w.restartWG.Done()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	name := m.Name()
	err := retry.Do(ctx, w.opts.Restart, func() error {
		if m.State() == module.StateError {
			if rerr := m.Reset(); rerr != nil {
				return rerr
			}
		}
		if m.State() == module.StateUninitialized {
			if ierr := m.Initialize(); ierr != nil {
				return ierr
			}
		}
		return m.Start()
	})
	if err != nil {
		w.logger.Error("module restart failed", "module", name, "error", err)
		w.reportError(name, fmt.Sprintf("automatic restart failed: %v", err))
		if isActuator {
			w.triggerEscalation(name)
		}
		return
	}
	w.restarts.Add(1)
	m.Heartbeat()
	w.resolve(name)
	w.logger.Info("module restarted", "module", name)
}

func (w *Watchdog) triggerEscalation(name string) {
	if fn := w.escalate.Load(); fn != nil {
		w.logger.Error("escalating actuator failure to emergency stop", "module", name)
		(*fn)(fmt.Sprintf("actuator %q unresponsive", name))
	}
}

// report marks a failure as reported; it returns false if the failure was
// already reported and not yet resolved.
func (w *Watchdog) report(name string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.reported[name] {
		return false
	}
	w.reported[name] = true
	return true
}

func (w *Watchdog) resolve(name string) {
	w.mu.Lock()
	delete(w.reported, name)
	w.mu.Unlock()
}

func (w *Watchdog) reportError(name, description string) {
	if fn := w.onError.Load(); fn != nil {
		(*fn)(name, description)
	}
}
