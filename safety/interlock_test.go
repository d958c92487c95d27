package safety

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/module"
)

type fakeActuator struct {
	module.ActuatorBase
}

func newFakeActuator(name string, limits module.Limits) *fakeActuator {
	a := &fakeActuator{ActuatorBase: module.NewActuatorBase(name, "1.0.0")}
	a.SetLimits(limits)
	return a
}

func (a *fakeActuator) Execute(cmd module.ActuatorCommand) error {
	_, err := a.ApplyCommand(cmd)
	return err
}

func TestValidateRange(t *testing.T) {
	lock := NewInterlock(nil)
	act := newFakeActuator("valve", module.Limits{Min: 0, Max: 100, MaxRate: 10})

	assert.NoError(t, lock.Validate(act, module.NewActuatorCommand("valve", 50, module.UnitPercent)))

	err := lock.Validate(act, module.NewActuatorCommand("valve", 150, module.UnitPercent))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCommandOutOfRange)
	assert.True(t, errors.IsInvalid(err))

	err = lock.Validate(act, module.NewActuatorCommand("valve", -1, module.UnitPercent))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrCommandOutOfRange)
}

func TestHighOutputWarning(t *testing.T) {
	lock := NewInterlock(nil)
	act := newFakeActuator("heater", module.Limits{Min: 0, Max: 100, MaxRate: 10})

	var warned []string
	lock.SetWarnFunc(func(name, desc string) {
		warned = append(warned, name)
	})

	// 90 is exactly the threshold; not a warning
	require.NoError(t, lock.Validate(act, module.NewActuatorCommand("heater", 90, module.UnitPercent)))
	assert.Empty(t, warned)

	// above 90% of Max warns but still validates
	require.NoError(t, lock.Validate(act, module.NewActuatorCommand("heater", 95, module.UnitPercent)))
	require.Len(t, warned, 1)
	assert.Equal(t, "heater", warned[0])
}

func TestEmergencyStopLatch(t *testing.T) {
	lock := NewInterlock(nil)
	assert.False(t, lock.Active())

	lock.EmergencyStop()
	assert.True(t, lock.Active())

	// idempotent
	lock.EmergencyStop()
	assert.True(t, lock.Active())

	lock.Clear()
	assert.False(t, lock.Active())
}

func TestValidateUnderEmergencyStop(t *testing.T) {
	lock := NewInterlock(nil)
	act := newFakeActuator("valve", module.Limits{Min: 0, Max: 100, MaxRate: 10})
	cmd := module.NewActuatorCommand("valve", 50, module.UnitPercent)

	lock.EmergencyStop()
	err := lock.Validate(act, cmd)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrEmergencyStopActive)
	lock.Clear()
	require.NoError(t, lock.Validate(act, cmd))

	// the actuator-level latch rejects on its own
	act.SetEmergencyStop(true)
	assert.ErrorIs(t, lock.Validate(act, cmd), errors.ErrEmergencyStopActive)
	act.SetEmergencyStop(false)
	require.NoError(t, lock.Validate(act, cmd))
}

func TestSafeToExecute(t *testing.T) {
	lock := NewInterlock(nil)
	act := newFakeActuator("valve", module.Limits{Min: 0, Max: 100, MaxRate: 10})
	cmd := module.NewActuatorCommand("valve", 50, module.UnitPercent)

	assert.True(t, lock.SafeToExecute(act, cmd))

	lock.EmergencyStop()
	assert.False(t, lock.SafeToExecute(act, cmd))
	lock.Clear()
	assert.True(t, lock.SafeToExecute(act, cmd))

	act.SetEmergencyStop(true)
	assert.False(t, lock.SafeToExecute(act, cmd))
	act.SetEmergencyStop(false)

	assert.False(t, lock.SafeToExecute(act, module.NewActuatorCommand("valve", 200, module.UnitPercent)))
}
