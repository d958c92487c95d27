// Package safety implements the command validation gate that sits between
// control functions and actuators: limit checks, high-output warnings, and
// the global emergency-stop latch.
package safety

import (
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/module"
)

// highOutputFraction is the share of an actuator's Max above which a
// non-fatal warning is raised. Warnings never block execution.
const highOutputFraction = 0.9

// WarnFunc receives non-fatal safety warnings (module name, description)
type WarnFunc func(moduleName, description string)

// Interlock validates actuator commands against configured limits and the
// global emergency-stop flag before dispatch. The flag is a simple atomic
// value: setting it is idempotent, and it stays set until Clear is called.
// Recovery does not require a system restart.
type Interlock struct {
	estop  atomic.Bool
	warn   atomic.Pointer[WarnFunc]
	logger *slog.Logger
}

// NewInterlock creates an interlock with no warning sink registered
func NewInterlock(logger *slog.Logger) *Interlock {
	if logger == nil {
		logger = slog.Default()
	}
	return &Interlock{logger: logger.With("component", "interlock")}
}

// SetWarnFunc registers the sink for non-fatal safety warnings
func (i *Interlock) SetWarnFunc(fn WarnFunc) {
	if fn == nil {
		i.warn.Store(nil)
		return
	}
	i.warn.Store(&fn)
}

// EmergencyStop latches the global emergency-stop flag. Idempotent.
func (i *Interlock) EmergencyStop() {
	if !i.estop.Swap(true) {
		i.logger.Warn("emergency stop engaged")
	}
}

// Clear releases the global emergency-stop flag
func (i *Interlock) Clear() {
	if i.estop.Swap(false) {
		i.logger.Info("emergency stop cleared")
	}
}

// Active reports whether the global emergency stop is engaged
func (i *Interlock) Active() bool {
	return i.estop.Load()
}

// Validate checks a command against the emergency-stop latches and the
// actuator's configured limits. Out-of-range values are invalid. Values
// above 90% of Max raise a warning through the registered sink but do not
// fail validation; rate clamping is applied later by the actuator's own
// dispatch path.
func (i *Interlock) Validate(act module.Actuator, cmd module.ActuatorCommand) error {
	if i.Active() || act.EmergencyStopped() {
		return errors.WrapInvalid(errors.ErrEmergencyStopActive, act.Name(), "Validate", "dispatch gate")
	}

	limits := act.Limits()

	if !limits.Contains(cmd.Value) {
		return errors.WrapInvalid(errors.ErrCommandOutOfRange, act.Name(), "Validate",
			fmt.Sprintf("value %.4g outside [%.4g, %.4g]", cmd.Value, limits.Min, limits.Max))
	}

	if cmd.Value > highOutputFraction*limits.Max {
		desc := fmt.Sprintf("high output requested: %.4g (limit %.4g)", cmd.Value, limits.Max)
		i.logger.Warn("high output command", "module", act.Name(), "value", cmd.Value, "max", limits.Max)
		if fn := i.warn.Load(); fn != nil {
			(*fn)(act.Name(), desc)
		}
	}

	return nil
}

// SafeToExecute reports whether a command may be dispatched: the system and
// the actuator must not be emergency-stopped and the command must validate.
func (i *Interlock) SafeToExecute(act module.Actuator, cmd module.ActuatorCommand) bool {
	return i.Validate(act, cmd) == nil
}
