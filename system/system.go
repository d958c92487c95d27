// Package system assembles the control system: the module registry, the
// safety interlock, the control-loop scheduler, the watchdog and the
// metrics aggregator, wired over a shared message queue and buffer pool.
//
// Every ControlSystem instance is self-contained. Nothing is ambient, so
// two instances in one process neither share state nor interfere.
package system

import (
	stderrors "errors"
	"fmt"
	"log/slog"
	"os"
	"sync/atomic"
	"time"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/config"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/health"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/ipc"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/metric"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/module"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/registry"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/safety"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/scheduler"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/watchdog"
)

// ErrorFunc receives asynchronous failure reports from every subsystem
type ErrorFunc func(name, description string)

// Option customizes a ControlSystem at construction
type Option func(*options)

type options struct {
	logger *slog.Logger
	queue  ipc.MessageQueue
}

// WithLogger supplies the root logger. Defaults to a text handler on
// stderr at the configured level.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithQueue injects a message queue, overriding the configured transport.
// Tests use it to observe published traffic.
func WithQueue(q ipc.MessageQueue) Option {
	return func(o *options) { o.queue = q }
}

// ControlSystem is the facade over the whole framework lifecycle
type ControlSystem struct {
	cfg    config.Config
	logger *slog.Logger

	registry   *registry.Registry
	interlock  *safety.Interlock
	sched      *scheduler.Scheduler
	watchdog   *watchdog.Watchdog
	metrics    *metric.Registry
	aggregator *metric.Aggregator
	monitor    *health.Monitor
	queue      ipc.MessageQueue
	pool       ipc.BufferPool

	onError atomic.Pointer[ErrorFunc]

	metricsOn atomic.Bool
	started   atomic.Bool
	closed    atomic.Bool
}

// New builds a control system from the configuration. The queue transport
// is NATS when a URL is configured, otherwise the in-process queue.
func New(cfg config.Config, opts ...Option) (*ControlSystem, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	}

	pool := ipc.NewBufferPool(cfg.SharedMemorySize)

	queue := o.queue
	if queue == nil {
		if cfg.NATSURL != "" {
			nq, err := ipc.ConnectNATS(cfg.NATSURL, logger)
			if err != nil {
				return nil, err
			}
			queue = nq
		} else {
			queue = ipc.NewMemQueue(cfg.MessageQueueSize, pool)
		}
	}

	cs := &ControlSystem{
		cfg:     cfg,
		logger:  logger,
		queue:   queue,
		pool:    pool,
		monitor: health.NewMonitor(),
	}
	cs.metricsOn.Store(cfg.EnableMetrics)

	cs.interlock = safety.NewInterlock(logger)
	cs.registry = registry.New(logger, module.IPC{Queue: queue, Buffers: pool})
	cs.sched = scheduler.New(cs.registry, cs.interlock, queue,
		time.Duration(cfg.WatchdogTimeout), logger)
	cs.registry.SetInUseCheck(cs.sched.InUse)

	cs.watchdog = watchdog.New(cs.registry, cs.sched, cs.monitor, watchdog.Options{
		Timeout:    time.Duration(cfg.WatchdogTimeout),
		Interval:   time.Duration(cfg.WatchdogInterval),
		Redundancy: cfg.EnableRedundancy,
	}, logger)

	cs.metrics = metric.NewRegistry()
	cs.aggregator = metric.NewAggregator(cs.metrics,
		time.Duration(cfg.MetricsInterval), queue.Counters, logger)

	cs.sched.SetErrorFunc(cs.reportError)
	cs.sched.SetTickFunc(cs.aggregator.RecordTick)
	cs.sched.SetDispatchFunc(func(actuator string, rejected bool) {
		if rejected {
			cs.metrics.Metrics.CommandsRejected.WithLabelValues(actuator).Inc()
			return
		}
		cs.metrics.Metrics.CommandsDispatched.WithLabelValues(actuator).Inc()
	})
	cs.watchdog.SetErrorFunc(cs.reportError)
	cs.watchdog.SetStateFunc(func(name string, state module.State) {
		cs.metrics.Metrics.ModuleState.WithLabelValues(name).Set(float64(state))
	})
	cs.watchdog.SetEscalateFunc(func(reason string) {
		cs.logger.Error("emergency stop triggered", "reason", reason)
		cs.EmergencyStop()
	})
	cs.aggregator.SetErrorFunc(cs.reportError)
	cs.interlock.SetWarnFunc(func(name, description string) {
		cs.metrics.Metrics.SafetyWarnings.WithLabelValues(name).Inc()
	})

	logger.Info("control system assembled",
		"queue", fmt.Sprintf("%T", queue),
		"redundancy", cfg.EnableRedundancy,
		"watchdog_timeout", time.Duration(cfg.WatchdogTimeout))
	return cs, nil
}

// SetErrorCallback installs the asynchronous error callback. It receives
// loop, module and subsystem failures; it must not block.
func (cs *ControlSystem) SetErrorCallback(fn ErrorFunc) {
	if fn == nil {
		cs.onError.Store(nil)
		return
	}
	cs.onError.Store(&fn)
}

// SetMetricsCallback installs the periodic metrics snapshot callback
func (cs *ControlSystem) SetMetricsCallback(fn metric.Callback) {
	cs.aggregator.SetCallback(fn)
}

// LoadModule loads a module shared object and registers it
func (cs *ControlSystem) LoadModule(path string) (module.Module, error) {
	return cs.registry.LoadModule(path)
}

// RegisterModule registers an in-process module
func (cs *ControlSystem) RegisterModule(mod module.Module) error {
	return cs.registry.Register(mod)
}

// UnloadModule shuts a module down and removes it. It fails while any
// running loop is bound to the module.
func (cs *ControlSystem) UnloadModule(name string) error {
	return cs.registry.Unload(name)
}

// LoadedModules returns the names of all registered modules
func (cs *ControlSystem) LoadedModules() []string {
	return cs.registry.LoadedModules()
}

// Module returns a registered module by name
func (cs *ControlSystem) Module(name string) (module.Module, bool) {
	return cs.registry.Module(name)
}

// Sensor returns a registered module by name when it is a sensor
func (cs *ControlSystem) Sensor(name string) (module.Sensor, bool) {
	return cs.registry.Sensor(name)
}

// Actuator returns a registered module by name when it is an actuator
func (cs *ControlSystem) Actuator(name string) (module.Actuator, bool) {
	return cs.registry.Actuator(name)
}

// CreateLoop declares a control loop
func (cs *ControlSystem) CreateLoop(name string, frequency float64) error {
	return cs.sched.CreateLoop(name, frequency)
}

// SetControlFunction binds the control function for a loop
func (cs *ControlSystem) SetControlFunction(loop string, fn scheduler.ControlFunc) error {
	return cs.sched.SetControlFunction(loop, fn)
}

// AddSensor binds a sensor to a loop by module name
func (cs *ControlSystem) AddSensor(loop, sensor string) error {
	return cs.sched.AddSensor(loop, sensor)
}

// AddActuator binds an actuator to a loop by module name
func (cs *ControlSystem) AddActuator(loop, actuator string) error {
	return cs.sched.AddActuator(loop, actuator)
}

// Start activates the eligible loops and, on first call, the watchdog and
// the metrics aggregator. Further calls start loops declared since.
func (cs *ControlSystem) Start() error {
	if cs.closed.Load() {
		return errors.WrapInvalid(errors.ErrShutdown, "system", "Start", "start closed control system")
	}
	if err := cs.sched.Start(); err != nil {
		return err
	}
	if cs.started.CompareAndSwap(false, true) {
		if err := cs.watchdog.Start(); err != nil {
			return err
		}
		if cs.metricsOn.Load() {
			if err := cs.aggregator.Start(); err != nil {
				return err
			}
		}
		cs.logger.Info("control system started")
	}
	return nil
}

// EnableMetrics turns the metrics aggregator on. Before Start it only arms
// the aggregator; on a started system it begins sampling immediately.
// Idempotent.
func (cs *ControlSystem) EnableMetrics() error {
	if cs.closed.Load() {
		return errors.WrapInvalid(errors.ErrShutdown, "system", "EnableMetrics", "enable metrics on closed control system")
	}
	if !cs.metricsOn.CompareAndSwap(false, true) {
		return nil
	}
	if cs.started.Load() {
		if err := cs.aggregator.Start(); err != nil && !stderrors.Is(err, errors.ErrAlreadyStarted) {
			return err
		}
	}
	return nil
}

// Stop halts the loops, the watchdog and the aggregator, then pauses every
// running module. Loops that fail to join within the watchdog timeout are
// abandoned and reported.
func (cs *ControlSystem) Stop() error {
	if !cs.started.CompareAndSwap(true, false) {
		return errors.WrapInvalid(errors.ErrNotStarted, "system", "Stop", "stop control system")
	}

	var errs []error
	if err := cs.sched.Stop(); err != nil {
		errs = append(errs, err)
	}
	if err := cs.watchdog.Stop(); err != nil {
		errs = append(errs, err)
	}
	if cs.metricsOn.Load() {
		if err := cs.aggregator.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	for _, m := range cs.registry.Modules() {
		if m.State() == module.StateRunning {
			if err := m.Stop(); err != nil {
				errs = append(errs, err)
			}
		}
	}
	cs.logger.Info("control system stopped")
	return stderrors.Join(errs...)
}

// EmergencyStop latches the system-wide stop. Every running loop drives
// its actuators to their safe values on its next tick, and every direct
// command is rejected until ClearEmergencyStop.
func (cs *ControlSystem) EmergencyStop() {
	cs.interlock.EmergencyStop()
	cs.sched.EmergencyStop()
	cs.metrics.Metrics.EmergencyStop.Set(1)
}

// ClearEmergencyStop releases the stop latch. The system resumes normal
// dispatch without a restart.
func (cs *ControlSystem) ClearEmergencyStop() {
	cs.interlock.Clear()
	cs.sched.ClearEmergencyStop()
	cs.metrics.Metrics.EmergencyStop.Set(0)
}

// EmergencyStopActive reports whether the stop latch is set
func (cs *ControlSystem) EmergencyStopActive() bool {
	return cs.interlock.Active()
}

// Metrics returns the latest aggregated system metrics
func (cs *ControlSystem) Metrics() metric.SystemMetrics {
	return cs.aggregator.Snapshot()
}

// MetricsRegistry exposes the Prometheus registry for exposition
func (cs *ControlSystem) MetricsRegistry() *metric.Registry {
	return cs.metrics
}

// Health aggregates the per-module and per-loop health statuses
func (cs *ControlSystem) Health() health.Status {
	return cs.monitor.AggregateHealth("control-system")
}

// Scheduler exposes the loop scheduler for inspection
func (cs *ControlSystem) Scheduler() *scheduler.Scheduler {
	return cs.sched
}

// Close stops the system if needed, shuts every module down and releases
// the queue. The system cannot be restarted afterwards.
func (cs *ControlSystem) Close() error {
	if !cs.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if cs.started.Load() {
		if err := cs.Stop(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := cs.registry.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := cs.queue.Close(); err != nil {
		errs = append(errs, err)
	}
	cs.logger.Info("control system closed")
	return stderrors.Join(errs...)
}

// reportError fans failures out to the user callback and the error counter
func (cs *ControlSystem) reportError(name, description string) {
	cs.metrics.Metrics.ModuleErrors.WithLabelValues(name).Inc()
	cs.logger.Warn("subsystem error", "source", name, "description", description)
	if fn := cs.onError.Load(); fn != nil {
		(*fn)(name, description)
	}
}
