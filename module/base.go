package module

import (
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
)

// MessageQueue is the consumer-side view of the message-queue collaborator.
// The full interface lives in the ipc package; modules only publish.
type MessageQueue interface {
	Publish(subject string, data []byte) error
}

// BufferPool is the consumer-side view of the shared-memory collaborator:
// a zero-copy buffer service handing out reusable byte slices.
type BufferPool interface {
	Get(size int) []byte
	Put(buf []byte)
}

// IPC bundles the collaborator handles attached to a module at registration.
// Handles are shared references; they are assigned exactly once and released
// on Shutdown.
type IPC struct {
	Queue   MessageQueue
	Buffers BufferPool
}

// Base provides the lifecycle state machine, heartbeat bookkeeping, and
// processing metrics shared by all modules. Concrete modules embed it and
// implement the capability-specific operations; modules that need hardware
// setup shadow Initialize and call through after connecting.
type Base struct {
	name    string
	version string

	state     atomic.Int32
	heartbeat atomic.Int64 // unix nanos of last activity, 0 = never

	ipcMu sync.Mutex
	ipc   IPC
	ipcOk bool

	metricsMu    sync.Mutex
	processed    uint64
	errorCount   uint64
	totalElapsed time.Duration
	maxElapsed   time.Duration
	runningSince time.Time
}

// NewBase creates the embeddable core of a module
func NewBase(name, version string) Base {
	return Base{name: name, version: version}
}

// Name returns the module's unique name
func (b *Base) Name() string { return b.name }

// Version returns the module's reported version
func (b *Base) Version() string { return b.version }

// State returns the current lifecycle state
func (b *Base) State() State {
	return State(b.state.Load())
}

func (b *Base) swapState(from, to State) bool {
	return b.state.CompareAndSwap(int32(from), int32(to))
}

// Initialize transitions Uninitialized → Ready
func (b *Base) Initialize() error {
	if !b.swapState(StateUninitialized, StateInitializing) {
		cur := b.State()
		if cur == StateShutdown {
			return errors.WrapInvalid(errors.ErrShutdown, b.name, "Initialize", "lifecycle transition")
		}
		return errors.WrapInvalid(errors.ErrAlreadyInitialized, b.name, "Initialize",
			fmt.Sprintf("transition from %s", cur))
	}
	b.state.Store(int32(StateReady))
	b.Heartbeat()
	return nil
}

// Start transitions Ready or Paused → Running
func (b *Base) Start() error {
	if !b.swapState(StateReady, StateRunning) && !b.swapState(StatePaused, StateRunning) {
		return errors.WrapInvalid(errors.ErrInvalidTransition, b.name, "Start",
			fmt.Sprintf("transition from %s", b.State()))
	}

	b.metricsMu.Lock()
	if b.runningSince.IsZero() {
		b.runningSince = time.Now()
	}
	b.metricsMu.Unlock()

	b.Heartbeat()
	return nil
}

// Stop transitions Running → Paused
func (b *Base) Stop() error {
	if !b.swapState(StateRunning, StatePaused) {
		return errors.WrapInvalid(errors.ErrNotStarted, b.name, "Stop",
			fmt.Sprintf("transition from %s", b.State()))
	}
	return nil
}

// Shutdown transitions any state to Shutdown and releases the IPC handles.
// Safe to call more than once.
func (b *Base) Shutdown() error {
	b.state.Store(int32(StateShutdown))

	b.ipcMu.Lock()
	b.ipc = IPC{}
	b.ipcOk = false
	b.ipcMu.Unlock()

	return nil
}

// Reset transitions Error → Uninitialized so the module can be driven
// through Initialize and Start again. Used by the watchdog's redundancy
// restart path.
func (b *Base) Reset() error {
	if !b.swapState(StateError, StateUninitialized) {
		return errors.WrapInvalid(errors.ErrInvalidTransition, b.name, "Reset",
			fmt.Sprintf("transition from %s", b.State()))
	}
	return nil
}

// Fail transitions the module to Error unless it is already Shutdown
func (b *Base) Fail() {
	for {
		cur := b.state.Load()
		if State(cur) == StateShutdown || State(cur) == StateError {
			return
		}
		if b.state.CompareAndSwap(cur, int32(StateError)) {
			b.metricsMu.Lock()
			b.errorCount++
			b.metricsMu.Unlock()
			return
		}
	}
}

// Healthy reports true only in the Running state
func (b *Base) Healthy() bool {
	return b.State() == StateRunning
}

// Heartbeat records successful activity at the current time
func (b *Base) Heartbeat() {
	b.heartbeat.Store(time.Now().UnixNano())
}

// LastHeartbeat returns the time of the last heartbeat, zero if none
func (b *Base) LastHeartbeat() time.Time {
	ns := b.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// AttachIPC assigns the collaborator handles. Only the first attach takes
// effect; handles are assigned once at registration and never transferred.
func (b *Base) AttachIPC(handles IPC) {
	b.ipcMu.Lock()
	defer b.ipcMu.Unlock()
	if b.ipcOk {
		return
	}
	b.ipc = handles
	b.ipcOk = true
}

// IPC returns the attached collaborator handles. The zero IPC is returned
// before registration and after Shutdown.
func (b *Base) IPC() IPC {
	b.ipcMu.Lock()
	defer b.ipcMu.Unlock()
	return b.ipc
}

// RecordProcessing folds one operation into the module's metrics. Successful
// operations update the heartbeat; failed ones count as errors.
func (b *Base) RecordProcessing(elapsed time.Duration, err error) {
	b.metricsMu.Lock()
	if err != nil {
		b.errorCount++
	} else {
		b.processed++
		b.totalElapsed += elapsed
		if elapsed > b.maxElapsed {
			b.maxElapsed = elapsed
		}
	}
	b.metricsMu.Unlock()

	if err == nil {
		b.Heartbeat()
	}
}

// Metrics returns a snapshot of the module's processing statistics
func (b *Base) Metrics() Metrics {
	b.metricsMu.Lock()
	defer b.metricsMu.Unlock()

	m := Metrics{
		ProcessedCount:    b.processed,
		MaxProcessingTime: b.maxElapsed,
		ErrorCount:        b.errorCount,
	}
	if b.processed > 0 {
		m.AvgProcessingTime = b.totalElapsed / time.Duration(b.processed)
	}
	if !b.runningSince.IsZero() {
		m.Uptime = time.Since(b.runningSince)
	}
	return m
}

// SensorBase extends Base with the sensor defaults: a 10Hz update-rate hint
// and a no-op calibration procedure.
type SensorBase struct {
	Base
	updateRate atomic.Uint64 // float64 bits
}

// NewSensorBase creates the embeddable core of a sensor module
func NewSensorBase(name, version string) SensorBase {
	sb := SensorBase{Base: NewBase(name, version)}
	sb.updateRate.Store(math.Float64bits(10.0))
	return sb
}

// UpdateRate returns the sensor's sampling-rate hint in Hz
func (s *SensorBase) UpdateRate() float64 {
	return math.Float64frombits(s.updateRate.Load())
}

// SetUpdateRate sets the sensor's sampling-rate hint in Hz
func (s *SensorBase) SetUpdateRate(hz float64) {
	if hz <= 0 {
		return
	}
	s.updateRate.Store(math.Float64bits(hz))
}

// Calibrate is a no-op for sensors without a calibration procedure
func (s *SensorBase) Calibrate() error { return nil }

// NeedsCalibration reports false for sensors without a calibration procedure
func (s *SensorBase) NeedsCalibration() bool { return false }

// ActuatorBase extends Base with limits, the emergency-stop latch, and the
// rate-limiting state owned by the actuator's dispatch path.
type ActuatorBase struct {
	Base

	limitsMu sync.RWMutex
	limits   Limits

	estop atomic.Bool

	rateMu        sync.Mutex
	lastValue     float64
	lastDispatch  time.Time
	hasDispatched bool
}

// NewActuatorBase creates the embeddable core of an actuator module with
// unbounded limits.
func NewActuatorBase(name, version string) ActuatorBase {
	return ActuatorBase{
		Base: NewBase(name, version),
		limits: Limits{
			Min:     -math.MaxFloat64,
			Max:     math.MaxFloat64,
			MaxRate: math.MaxFloat64,
		},
	}
}

// Limits returns the actuator's configured limits
func (a *ActuatorBase) Limits() Limits {
	a.limitsMu.RLock()
	defer a.limitsMu.RUnlock()
	return a.limits
}

// SetLimits replaces the actuator's limits
func (a *ActuatorBase) SetLimits(l Limits) {
	a.limitsMu.Lock()
	a.limits = l
	a.limitsMu.Unlock()
}

// SetEmergencyStop latches or clears the actuator's emergency stop
func (a *ActuatorBase) SetEmergencyStop(stop bool) {
	a.estop.Store(stop)
}

// EmergencyStopped reports whether the actuator is emergency-stopped
func (a *ActuatorBase) EmergencyStopped() bool {
	return a.estop.Load()
}

// ApplyCommand resolves a command to the value the actuator must physically
// apply and records it as the new rate-limiting state. Under emergency stop
// the result is the safe value regardless of the request. Otherwise the
// request is checked against [Min, Max] and the per-tick change is clamped
// to MaxRate*dt, where dt is the time since the previous dispatch; the
// clamped value, not the raw request, is what gets applied. The first
// dispatch has no rate history and applies the request as-is.
func (a *ActuatorBase) ApplyCommand(cmd ActuatorCommand) (float64, error) {
	return a.applyCommandAt(cmd, time.Now())
}

func (a *ActuatorBase) applyCommandAt(cmd ActuatorCommand, now time.Time) (float64, error) {
	limits := a.Limits()

	a.rateMu.Lock()
	defer a.rateMu.Unlock()

	if a.estop.Load() {
		safe := limits.SafeValue()
		a.lastValue = safe
		a.lastDispatch = now
		a.hasDispatched = true
		return safe, nil
	}

	if !limits.Contains(cmd.Value) {
		return 0, errors.WrapInvalid(errors.ErrCommandOutOfRange, a.Name(), "ApplyCommand",
			fmt.Sprintf("value %.4g outside [%.4g, %.4g]", cmd.Value, limits.Min, limits.Max))
	}

	value := cmd.Value
	if a.hasDispatched {
		dt := now.Sub(a.lastDispatch).Seconds()
		if dt > 0 {
			maxDelta := limits.MaxRate * dt
			delta := value - a.lastValue
			if delta > maxDelta {
				value = a.lastValue + maxDelta
			} else if delta < -maxDelta {
				value = a.lastValue - maxDelta
			}
		} else {
			// Same-instant dispatch cannot move the output
			value = a.lastValue
		}
	}

	a.lastValue = value
	a.lastDispatch = now
	a.hasDispatched = true
	return value, nil
}

// LastDispatched returns the most recently applied value and whether any
// dispatch has happened yet.
func (a *ActuatorBase) LastDispatched() (float64, bool) {
	a.rateMu.Lock()
	defer a.rateMu.Unlock()
	return a.lastValue, a.hasDispatched
}
