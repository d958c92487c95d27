package scheduler

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/module"
)

// ControlFunc maps the primary sensor reading to an actuator command.
// It is supplied per loop and must be set before the loop can start.
type ControlFunc func(module.SensorData) module.ActuatorCommand

// Loop is a named periodic binding of sensor readings through a control
// function to actuator commands. Bindings are mutated by the setters before
// Start; the execution goroutine exists only between Start and Stop.
type Loop struct {
	name      string
	frequency float64

	mu        sync.RWMutex
	sensors   []string // ordered; first is primary
	actuators []string // ordered; first is primary
	fn        ControlFunc

	// resolved at start
	primarySensor   module.Sensor
	auxSensors      []module.Sensor
	primaryActuator module.Actuator
	allActuators    []module.Actuator

	running   atomic.Bool
	stopCh    chan struct{}
	doneCh    chan struct{}
	stopOnce  *sync.Once
	ticks     atomic.Uint64
	heartbeat atomic.Int64 // unix nanos of last successful tick

	auxMu       sync.RWMutex
	auxReadings []module.SensorData
}

func newLoop(name string, frequency float64) *Loop {
	return &Loop{name: name, frequency: frequency}
}

// Name returns the loop's unique name
func (l *Loop) Name() string { return l.name }

// Frequency returns the loop's tick frequency in Hz
func (l *Loop) Frequency() float64 { return l.frequency }

// Running reports whether the loop's execution goroutine is active
func (l *Loop) Running() bool { return l.running.Load() }

// Ticks returns the number of completed ticks since the loop last started
func (l *Loop) Ticks() uint64 { return l.ticks.Load() }

// LastHeartbeat returns the time of the last successful tick, zero if none
func (l *Loop) LastHeartbeat() time.Time {
	ns := l.heartbeat.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (l *Loop) beat() {
	l.heartbeat.Store(time.Now().UnixNano())
}

// period returns the tick period derived from the loop frequency
func (l *Loop) period() time.Duration {
	return time.Duration(float64(time.Second) / l.frequency)
}

// eligible reports whether the loop can be started: a control function and
// at least one sensor and one actuator binding.
func (l *Loop) eligible() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fn != nil && len(l.sensors) > 0 && len(l.actuators) > 0
}

func (l *Loop) controlFunc() ControlFunc {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.fn
}

// bindings returns copies of the ordered binding lists
func (l *Loop) bindings() (sensors, actuators []string) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	sensors = append([]string(nil), l.sensors...)
	actuators = append([]string(nil), l.actuators...)
	return sensors, actuators
}

// setAux stores the auxiliary readings captured on the latest tick
func (l *Loop) setAux(readings []module.SensorData) {
	l.auxMu.Lock()
	l.auxReadings = readings
	l.auxMu.Unlock()
}

// AuxReadings returns the auxiliary sensor readings from the latest tick.
// Only the primary reading feeds the control function; auxiliary sensors
// are sampled for context and observability.
func (l *Loop) AuxReadings() []module.SensorData {
	l.auxMu.RLock()
	defer l.auxMu.RUnlock()
	return append([]module.SensorData(nil), l.auxReadings...)
}
