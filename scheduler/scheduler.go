// Package scheduler runs the periodic control loops that carry sensor
// readings through user control functions to actuator commands.
//
// Each started loop owns one goroutine. Ticks are anchored to the loop's
// start epoch, so transient jitter does not accumulate: the deadline for
// tick n is epoch + n/frequency. When a tick overruns its period the next
// tick runs immediately, and lag beyond a single period is forgiven by
// re-anchoring the epoch rather than replaying a backlog of stale ticks.
package scheduler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/ipc"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/module"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/registry"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/safety"
)

// ErrorFunc receives asynchronous loop errors: the loop or module name and
// a human-readable description. Callbacks must not block.
type ErrorFunc func(name, description string)

// TickFunc observes per-tick execution latency. The metrics aggregator
// installs one to maintain rolling latency statistics.
type TickFunc func(loop string, elapsed time.Duration)

// DispatchFunc observes the outcome of every command that reaches the
// dispatch gate: rejected is true when the interlock refused it.
type DispatchFunc func(actuator string, rejected bool)

const (
	subjectReadings = "dcs.readings"
	subjectCommands = "dcs.commands"
)

// Scheduler creates, binds and runs control loops against modules resolved
// through the registry. Binding names are validated lazily when Start
// resolves them, so loops can be declared before their modules are loaded.
type Scheduler struct {
	mu    sync.RWMutex
	loops map[string]*Loop

	registry  *registry.Registry
	interlock *safety.Interlock
	queue     ipc.MessageQueue
	logger    *slog.Logger

	onError    atomic.Pointer[ErrorFunc]
	onTick     atomic.Pointer[TickFunc]
	onDispatch atomic.Pointer[DispatchFunc]

	joinTimeout time.Duration

	// serializes dispatch per actuator name across loops
	dispatchMu sync.Mutex
	actuatorMu map[string]*sync.Mutex

	published atomic.Uint64
}

// New creates a scheduler over the given registry and interlock. The queue
// is optional; when present, every primary reading and dispatched command
// is published to it.
func New(reg *registry.Registry, lock *safety.Interlock, queue ipc.MessageQueue, joinTimeout time.Duration, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	if joinTimeout <= 0 {
		joinTimeout = 5 * time.Second
	}
	return &Scheduler{
		loops:       make(map[string]*Loop),
		registry:    reg,
		interlock:   lock,
		queue:       queue,
		logger:      logger.With("component", "scheduler"),
		joinTimeout: joinTimeout,
		actuatorMu:  make(map[string]*sync.Mutex),
	}
}

// SetErrorFunc installs the asynchronous error callback
func (s *Scheduler) SetErrorFunc(fn ErrorFunc) {
	if fn == nil {
		s.onError.Store(nil)
		return
	}
	s.onError.Store(&fn)
}

// SetTickFunc installs the per-tick latency observer
func (s *Scheduler) SetTickFunc(fn TickFunc) {
	if fn == nil {
		s.onTick.Store(nil)
		return
	}
	s.onTick.Store(&fn)
}

// SetDispatchFunc installs the dispatch outcome observer
func (s *Scheduler) SetDispatchFunc(fn DispatchFunc) {
	if fn == nil {
		s.onDispatch.Store(nil)
		return
	}
	s.onDispatch.Store(&fn)
}

// CreateLoop registers a new control loop. The name must be unique and the
// frequency strictly positive.
func (s *Scheduler) CreateLoop(name string, frequency float64) error {
	if frequency <= 0 {
		return errors.WrapInvalid(errors.ErrInvalidFrequency, "scheduler", "CreateLoop",
			fmt.Sprintf("create loop %q at %g Hz", name, frequency))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.loops[name]; exists {
		return errors.WrapInvalid(errors.ErrLoopExists, "scheduler", "CreateLoop",
			fmt.Sprintf("create loop %q", name))
	}
	s.loops[name] = newLoop(name, frequency)
	s.logger.Info("control loop created", "loop", name, "frequency_hz", frequency)
	return nil
}

// SetControlFunction binds the control function for a loop. Rejected while
// the loop is running.
func (s *Scheduler) SetControlFunction(name string, fn ControlFunc) error {
	lp, err := s.loop(name, "SetControlFunction")
	if err != nil {
		return err
	}
	if lp.Running() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "scheduler", "SetControlFunction",
			fmt.Sprintf("rebind control function on running loop %q", name))
	}
	if fn == nil {
		return errors.WrapInvalid(errors.ErrMissingControlFunction, "scheduler", "SetControlFunction",
			fmt.Sprintf("bind nil control function on loop %q", name))
	}
	lp.mu.Lock()
	lp.fn = fn
	lp.mu.Unlock()
	return nil
}

// AddSensor appends a sensor binding to a loop. The first sensor added is
// the primary: its reading feeds the control function. Binding names are
// resolved against the registry at Start.
func (s *Scheduler) AddSensor(name, sensorName string) error {
	return s.addBinding(name, sensorName, "AddSensor", true)
}

// AddActuator appends an actuator binding to a loop. The first actuator
// added is the primary dispatch target.
func (s *Scheduler) AddActuator(name, actuatorName string) error {
	return s.addBinding(name, actuatorName, "AddActuator", false)
}

func (s *Scheduler) addBinding(name, moduleName, op string, sensor bool) error {
	lp, err := s.loop(name, op)
	if err != nil {
		return err
	}
	if lp.Running() {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "scheduler", op,
			fmt.Sprintf("rebind running loop %q", name))
	}
	lp.mu.Lock()
	defer lp.mu.Unlock()
	if sensor {
		lp.sensors = append(lp.sensors, moduleName)
	} else {
		lp.actuators = append(lp.actuators, moduleName)
	}
	return nil
}

func (s *Scheduler) loop(name, op string) (*Loop, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lp, ok := s.loops[name]
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrLoopNotFound, "scheduler", op,
			fmt.Sprintf("find loop %q", name))
	}
	return lp, nil
}

// Loop returns the named loop for inspection
func (s *Scheduler) Loop(name string) (*Loop, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	lp, ok := s.loops[name]
	return lp, ok
}

// Loops returns a snapshot of all declared loops
func (s *Scheduler) Loops() []*Loop {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Loop, 0, len(s.loops))
	for _, lp := range s.loops {
		out = append(out, lp)
	}
	return out
}

// InUse reports whether any running loop is bound to the named module.
// The registry consults this before unloading a module.
func (s *Scheduler) InUse(moduleName string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, lp := range s.loops {
		if !lp.Running() {
			continue
		}
		sensors, actuators := lp.bindings()
		for _, n := range sensors {
			if n == moduleName {
				return true
			}
		}
		for _, n := range actuators {
			if n == moduleName {
				return true
			}
		}
	}
	return false
}

// Published returns the number of envelopes the scheduler has published
func (s *Scheduler) Published() uint64 { return s.published.Load() }

// Start resolves bindings and spawns one goroutine per eligible loop. A
// loop is eligible once it has a control function and at least one sensor
// and one actuator. Every named binding of an eligible loop must resolve
// through the registry with the right capability, or Start fails before
// any loop is spawned. Bound modules that are not yet running are
// initialized and started. Loops already running are left alone, so Start
// may be called again after declaring new loops.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []*Loop
	for _, lp := range s.loops {
		if lp.Running() || !lp.eligible() {
			continue
		}
		if err := s.resolve(lp); err != nil {
			return err
		}
		pending = append(pending, lp)
	}

	for _, lp := range pending {
		if err := s.activateModules(lp); err != nil {
			return err
		}
	}

	for _, lp := range pending {
		lp.stopCh = make(chan struct{})
		lp.doneCh = make(chan struct{})
		lp.stopOnce = new(sync.Once)
		lp.ticks.Store(0)
		lp.running.Store(true)
		lp.beat()
		go s.run(lp)
		s.logger.Info("control loop started", "loop", lp.name, "frequency_hz", lp.frequency)
	}
	return nil
}

// resolve binds loop module names to live registry entries
func (s *Scheduler) resolve(lp *Loop) error {
	sensors, actuators := lp.bindings()

	lp.auxSensors = nil
	lp.allActuators = nil
	for i, name := range sensors {
		sen, ok := s.registry.Sensor(name)
		if !ok {
			return s.bindingError(name, lp.name, "sensor")
		}
		if i == 0 {
			lp.primarySensor = sen
		} else {
			lp.auxSensors = append(lp.auxSensors, sen)
		}
	}
	for i, name := range actuators {
		act, ok := s.registry.Actuator(name)
		if !ok {
			return s.bindingError(name, lp.name, "actuator")
		}
		if i == 0 {
			lp.primaryActuator = act
		}
		lp.allActuators = append(lp.allActuators, act)
	}
	return nil
}

// bindingError distinguishes a binding to a module that is not loaded from
// one that resolves to a module of the wrong capability.
func (s *Scheduler) bindingError(moduleName, loopName, want string) error {
	if _, ok := s.registry.Module(moduleName); ok {
		return errors.WrapInvalid(errors.ErrWrongCapability, "scheduler", "Start",
			fmt.Sprintf("resolve %s %q for loop %q", want, moduleName, loopName))
	}
	return errors.WrapInvalid(errors.ErrUnresolvedBinding, "scheduler", "Start",
		fmt.Sprintf("resolve %s %q for loop %q", want, moduleName, loopName))
}

// activateModules drives bound modules to Running
func (s *Scheduler) activateModules(lp *Loop) error {
	mods := make([]module.Module, 0, 1+len(lp.auxSensors)+len(lp.allActuators))
	mods = append(mods, lp.primarySensor)
	for _, sen := range lp.auxSensors {
		mods = append(mods, sen)
	}
	for _, act := range lp.allActuators {
		mods = append(mods, act)
	}
	for _, m := range mods {
		switch m.State() {
		case module.StateRunning:
			continue
		case module.StateUninitialized:
			if err := m.Initialize(); err != nil {
				return errors.Wrap(err, "scheduler", "Start",
					fmt.Sprintf("initialize module %q for loop %q", m.Name(), lp.name))
			}
		}
		if err := m.Start(); err != nil {
			return errors.Wrap(err, "scheduler", "Start",
				fmt.Sprintf("start module %q for loop %q", m.Name(), lp.name))
		}
	}
	return nil
}

// Stop signals every running loop and joins each goroutine, bounded by the
// join timeout. A loop that fails to join within the bound is abandoned
// and reported through the error callback as fatal.
func (s *Scheduler) Stop() error {
	s.mu.RLock()
	var running []*Loop
	for _, lp := range s.loops {
		if lp.Running() {
			running = append(running, lp)
		}
	}
	s.mu.RUnlock()

	for _, lp := range running {
		lp.stopOnce.Do(func() { close(lp.stopCh) })
	}

	deadline := time.After(s.joinTimeout)
	var abandoned []string
	for _, lp := range running {
		select {
		case <-lp.doneCh:
		case <-deadline:
			abandoned = append(abandoned, lp.name)
			s.reportError(lp.name, "loop failed to stop within join timeout")
			s.logger.Error("abandoning control loop goroutine", "loop", lp.name, "timeout", s.joinTimeout)
		}
		lp.running.Store(false)
	}
	if len(abandoned) > 0 {
		return errors.WrapFatal(errors.ErrJoinTimeout, "scheduler", "Stop",
			fmt.Sprintf("join loops %v", abandoned))
	}
	return nil
}

// EmergencyStop latches the actuator-level stop on every bound actuator of
// every running loop. Combined with the interlock's global latch, each loop
// drives its actuators to their safe values on its next tick, bypassing
// the control function.
func (s *Scheduler) EmergencyStop() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, lp := range s.loops {
		if !lp.Running() {
			continue
		}
		for _, act := range lp.allActuators {
			act.SetEmergencyStop(true)
		}
	}
}

// ClearEmergencyStop releases the actuator-level stop latches
func (s *Scheduler) ClearEmergencyStop() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, lp := range s.loops {
		for _, act := range lp.allActuators {
			act.SetEmergencyStop(false)
		}
	}
}

// run is the loop goroutine. Deadlines are computed from the epoch, not
// from the previous tick, so execution jitter does not drift the schedule.
func (s *Scheduler) run(lp *Loop) {
	defer close(lp.doneCh)
	defer lp.running.Store(false)

	period := lp.period()
	epoch := time.Now()
	tick := uint64(0)

	timer := time.NewTimer(period)
	defer timer.Stop()

	for {
		select {
		case <-lp.stopCh:
			return
		default:
		}

		start := time.Now()
		s.tick(lp)
		elapsed := time.Since(start)
		if fn := s.onTick.Load(); fn != nil {
			(*fn)(lp.name, elapsed)
		}
		tick++
		lp.ticks.Store(tick)

		deadline := epoch.Add(time.Duration(float64(tick) * float64(period)))
		now := time.Now()
		if now.Before(deadline) {
			timer.Reset(deadline.Sub(now))
			select {
			case <-lp.stopCh:
				return
			case <-timer.C:
			}
			continue
		}
		// Overrun: run the next tick immediately. Forgive lag beyond one
		// period by re-anchoring the epoch instead of replaying a backlog.
		if lag := now.Sub(deadline); lag > period {
			epoch = epoch.Add(lag - period)
		}
	}
}

// tick executes one loop iteration. Panics and errors are reported through
// the error callback; they never terminate the loop goroutine.
func (s *Scheduler) tick(lp *Loop) {
	defer func() {
		if r := recover(); r != nil {
			s.reportError(lp.name, fmt.Sprintf("panic in control loop: %v", r))
			s.logger.Error("recovered panic in control loop",
				"loop", lp.name, "panic", r, "stack", string(debug.Stack()))
		}
	}()

	if s.interlock.Active() {
		s.dispatchSafeState(lp)
		lp.beat()
		return
	}

	reading, err := s.read(lp.primarySensor)
	if err != nil {
		s.reportError(lp.name, fmt.Sprintf("sensor %q read failed: %v", lp.primarySensor.Name(), err))
		return
	}
	s.publish(subjectReadings+"."+lp.primarySensor.Name(), reading.Name, reading.Value)

	if len(lp.auxSensors) > 0 {
		aux := make([]module.SensorData, 0, len(lp.auxSensors))
		for _, sen := range lp.auxSensors {
			data, rerr := s.read(sen)
			if rerr != nil {
				s.reportError(lp.name, fmt.Sprintf("sensor %q read failed: %v", sen.Name(), rerr))
				continue
			}
			aux = append(aux, data)
		}
		lp.setAux(aux)
	}

	cmd := lp.controlFunc()(reading)

	if err := s.interlock.Validate(lp.primaryActuator, cmd); err != nil {
		s.notifyDispatch(lp.primaryActuator.Name(), true)
		s.reportError(lp.name, fmt.Sprintf("command rejected for %q: %v", lp.primaryActuator.Name(), err))
		return
	}

	if err := s.dispatch(lp.primaryActuator, cmd); err != nil {
		s.reportError(lp.name, fmt.Sprintf("actuator %q execute failed: %v", lp.primaryActuator.Name(), err))
		return
	}
	s.notifyDispatch(lp.primaryActuator.Name(), false)
	s.publish(subjectCommands+"."+lp.primaryActuator.Name(), cmd.Target, cmd.Value)
	lp.beat()
}

// read times a sensor read and folds it into the module's metrics
func (s *Scheduler) read(sen module.Sensor) (module.SensorData, error) {
	start := time.Now()
	data, err := sen.Read()
	sen.RecordProcessing(time.Since(start), err)
	return data, err
}

// dispatchSafeState drives every bound actuator to its safe value
func (s *Scheduler) dispatchSafeState(lp *Loop) {
	for _, act := range lp.allActuators {
		safe := act.Limits().SafeValue()
		cmd := module.NewActuatorCommand(act.Name(), safe, module.UnitNone)
		if err := s.dispatch(act, cmd); err != nil {
			s.reportError(lp.name, fmt.Sprintf("safe-state dispatch to %q failed: %v", act.Name(), err))
			continue
		}
		s.notifyDispatch(act.Name(), false)
	}
}

// dispatch serializes command execution per actuator name, so two loops
// sharing an actuator never interleave inside Execute.
func (s *Scheduler) dispatch(act module.Actuator, cmd module.ActuatorCommand) error {
	mu := s.actuatorLock(act.Name())
	mu.Lock()
	defer mu.Unlock()
	start := time.Now()
	err := act.Execute(cmd)
	act.RecordProcessing(time.Since(start), err)
	return err
}

func (s *Scheduler) notifyDispatch(actuator string, rejected bool) {
	if fn := s.onDispatch.Load(); fn != nil {
		(*fn)(actuator, rejected)
	}
}

func (s *Scheduler) actuatorLock(name string) *sync.Mutex {
	s.dispatchMu.Lock()
	defer s.dispatchMu.Unlock()
	mu, ok := s.actuatorMu[name]
	if !ok {
		mu = new(sync.Mutex)
		s.actuatorMu[name] = mu
	}
	return mu
}

type tickPayload struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

func (s *Scheduler) publish(subject, name string, value float64) {
	if s.queue == nil {
		return
	}
	env, err := ipc.NewEnvelope(subject, tickPayload{Name: name, Value: value})
	if err != nil {
		s.logger.Debug("envelope encode failed", "subject", subject, "error", err)
		return
	}
	data, err := json.Marshal(env)
	if err != nil {
		s.logger.Debug("envelope encode failed", "subject", subject, "error", err)
		return
	}
	if err := s.queue.Publish(subject, data); err != nil {
		s.logger.Debug("envelope publish failed", "subject", subject, "error", err)
		return
	}
	s.published.Add(1)
}

func (s *Scheduler) reportError(name, description string) {
	if fn := s.onError.Load(); fn != nil {
		(*fn)(name, description)
	}
}
