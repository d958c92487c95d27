// Package module defines the contract for pluggable sensor and actuator
// modules: the lifecycle state machine, the capability interfaces, the value
// types exchanged on every control-loop tick, and a Base implementation that
// concrete modules embed.
package module

import "time"

// State represents the current lifecycle state of a module
type State int32

const (
	// StateUninitialized indicates the module was created but not initialized
	StateUninitialized State = iota
	// StateInitializing indicates initialization is in progress
	StateInitializing
	// StateReady indicates the module is initialized but not started
	StateReady
	// StateRunning indicates the module is actively processing
	StateRunning
	// StatePaused indicates the module was stopped and can be restarted
	StatePaused
	// StateError indicates the module failed; recovery requires Reset
	StateError
	// StateShutdown is terminal; the module released its resources
	StateShutdown
)

// String returns a string representation of the module state
func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StatePaused:
		return "paused"
	case StateError:
		return "error"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Capability identifies what a module can do. The set is closed: a module is
// a sensor, an actuator, or neither; there is no unchecked downcasting, the
// registry answers capability queries with a typed handle or nothing.
type Capability string

const (
	// CapabilityAny matches any module in registry lookups
	CapabilityAny Capability = "any"
	// CapabilitySensor marks modules that produce readings
	CapabilitySensor Capability = "sensor"
	// CapabilityActuator marks modules that consume commands
	CapabilityActuator Capability = "actuator"
)

// Metrics is a snapshot of a module's processing statistics
type Metrics struct {
	ProcessedCount    uint64        `json:"processed_count"`
	AvgProcessingTime time.Duration `json:"avg_processing_time"`
	MaxProcessingTime time.Duration `json:"max_processing_time"`
	ErrorCount        uint64        `json:"error_count"`
	Uptime            time.Duration `json:"uptime"`
}

// Module is the polymorphic unit of work managed by the registry.
//
// Lifecycle: Uninitialized → Initializing → Ready → Running ⇄ Paused →
// Shutdown (terminal), with Error reachable from any non-terminal state.
// Shutdown is idempotent and releases hardware and IPC handles.
type Module interface {
	Name() string
	Version() string
	State() State

	// Initialize transitions Uninitialized → Ready. It fails if the module
	// has already been initialized.
	Initialize() error
	// Start transitions Ready or Paused → Running.
	Start() error
	// Stop transitions Running → Paused.
	Stop() error
	// Shutdown transitions any state → Shutdown. Idempotent.
	Shutdown() error
	// Reset transitions Error → Uninitialized so the module can be
	// reinitialized. It fails from any other state.
	Reset() error
	// Fail forces the module into Error from any non-terminal state. The
	// watchdog calls it when a module's heartbeat goes stale.
	Fail()

	// Healthy reports true only while the module is Running.
	Healthy() bool
	// Heartbeat records successful activity. The watchdog compares its
	// age against the configured timeout.
	Heartbeat()
	// LastHeartbeat returns the time of the last recorded heartbeat.
	LastHeartbeat() time.Time

	// RecordProcessing folds one timed operation into the processing
	// metrics. The scheduler calls it around every read and dispatch; a
	// successful operation also updates the heartbeat.
	RecordProcessing(elapsed time.Duration, err error)

	Metrics() Metrics
}

// Sensor is a module that produces readings
type Sensor interface {
	Module

	// Read produces a fresh reading. A successful read updates the module's
	// heartbeat and processing metrics.
	Read() (SensorData, error)

	// UpdateRate is the sensor's preferred sampling rate in Hz. It is a
	// hint; control loops sample at their own frequency.
	UpdateRate() float64
	SetUpdateRate(hz float64)

	// Calibrate runs the sensor's calibration procedure, if any.
	Calibrate() error
	NeedsCalibration() bool
}

// Actuator is a module that consumes commands
type Actuator interface {
	Module

	// Execute applies a command. Calls are serialized per module by the
	// dispatch path; implementations own their rate-limiting state.
	Execute(cmd ActuatorCommand) error

	Limits() Limits
	SetLimits(Limits)

	// SetEmergencyStop forces the actuator to its safe state on every
	// subsequent Execute until cleared.
	SetEmergencyStop(stop bool)
	EmergencyStopped() bool
}
