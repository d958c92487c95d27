package system

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/config"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/ipc"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/metric"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/module"
)

type fixedSensor struct {
	module.SensorBase
	value float64
}

func newFixedSensor(name string, value float64) *fixedSensor {
	return &fixedSensor{SensorBase: module.NewSensorBase(name, "1.0.0"), value: value}
}

func (s *fixedSensor) Read() (module.SensorData, error) {
	return module.NewSensorData(s.Name(), s.value, module.UnitCelsius), nil
}

type recordingActuator struct {
	module.ActuatorBase

	mu     sync.Mutex
	values []float64
}

func newRecordingActuator(name string, limits module.Limits) *recordingActuator {
	a := &recordingActuator{ActuatorBase: module.NewActuatorBase(name, "1.0.0")}
	a.SetLimits(limits)
	return a
}

func (a *recordingActuator) Execute(cmd module.ActuatorCommand) error {
	v, err := a.ApplyCommand(cmd)
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.values = append(a.values, v)
	a.mu.Unlock()
	return nil
}

func (a *recordingActuator) recorded() []float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]float64(nil), a.values...)
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.WatchdogTimeout = config.Duration(time.Second)
	cfg.MetricsInterval = config.Duration(50 * time.Millisecond)
	cfg.LogLevel = "ERROR"
	return cfg
}

func TestControlSystemEndToEnd(t *testing.T) {
	queue := ipc.NewMemQueue(256, nil)
	cs, err := New(testConfig(), WithQueue(queue))
	require.NoError(t, err)
	defer cs.Close()

	sensor := newFixedSensor("thermo", 42.0)
	actuator := newRecordingActuator("heater", module.Limits{Min: 0, Max: 100, MaxRate: 1e9})
	require.NoError(t, cs.RegisterModule(sensor))
	require.NoError(t, cs.RegisterModule(actuator))
	assert.ElementsMatch(t, []string{"thermo", "heater"}, cs.LoadedModules())

	require.NoError(t, cs.CreateLoop("temp", 100))
	require.NoError(t, cs.AddSensor("temp", "thermo"))
	require.NoError(t, cs.AddActuator("temp", "heater"))
	require.NoError(t, cs.SetControlFunction("temp", func(d module.SensorData) module.ActuatorCommand {
		return module.NewActuatorCommand("heater", d.Value*2, module.UnitPercent)
	}))

	require.NoError(t, cs.Start())
	time.Sleep(500 * time.Millisecond)

	// unloading a bound module is refused while loops run
	err = cs.UnloadModule("heater")
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrModuleInUse)

	require.NoError(t, cs.Stop())

	values := actuator.recorded()
	assert.GreaterOrEqual(t, len(values), 35)
	assert.LessOrEqual(t, len(values), 65)
	for _, v := range values {
		assert.Equal(t, 84.0, v)
	}

	// readings and commands were published to the queue
	assert.NotZero(t, queue.Counters().Published)

	snap := cs.Metrics()
	assert.NotZero(t, snap.TotalMessages)
	assert.NotZero(t, snap.MaxLatency)

	// dispatches were counted on the Prometheus side
	dispatched := testutil.ToFloat64(cs.MetricsRegistry().Metrics.CommandsDispatched.WithLabelValues("heater"))
	assert.InDelta(t, float64(len(values)), dispatched, 0.5)

	// modules were paused by Stop
	assert.Equal(t, module.StatePaused, sensor.State())
	assert.Equal(t, module.StatePaused, actuator.State())
}

func TestControlSystemEmergencyStop(t *testing.T) {
	cs, err := New(testConfig(), WithQueue(ipc.NewMemQueue(64, nil)))
	require.NoError(t, err)
	defer cs.Close()

	sensor := newFixedSensor("thermo", 42.0)
	actuator := newRecordingActuator("heater", module.Limits{Min: 5, Max: 100, MaxRate: 1e9})
	require.NoError(t, cs.RegisterModule(sensor))
	require.NoError(t, cs.RegisterModule(actuator))

	require.NoError(t, cs.CreateLoop("temp", 100))
	require.NoError(t, cs.AddSensor("temp", "thermo"))
	require.NoError(t, cs.AddActuator("temp", "heater"))
	require.NoError(t, cs.SetControlFunction("temp", func(d module.SensorData) module.ActuatorCommand {
		return module.NewActuatorCommand("heater", d.Value, module.UnitPercent)
	}))

	require.NoError(t, cs.Start())
	time.Sleep(100 * time.Millisecond)

	cs.EmergencyStop()
	assert.True(t, cs.EmergencyStopActive())
	time.Sleep(100 * time.Millisecond)

	// the latest dispatches hold the actuator at its safe value
	values := actuator.recorded()
	require.NotEmpty(t, values)
	assert.Equal(t, 5.0, values[len(values)-1])

	// recovery without restart
	cs.ClearEmergencyStop()
	assert.False(t, cs.EmergencyStopActive())
	time.Sleep(100 * time.Millisecond)

	values = actuator.recorded()
	assert.Equal(t, 42.0, values[len(values)-1])

	require.NoError(t, cs.Stop())
}

func TestControlSystemErrorCallback(t *testing.T) {
	cs, err := New(testConfig(), WithQueue(ipc.NewMemQueue(64, nil)))
	require.NoError(t, err)
	defer cs.Close()

	var mu sync.Mutex
	var sources []string
	cs.SetErrorCallback(func(name, desc string) {
		mu.Lock()
		sources = append(sources, name)
		mu.Unlock()
	})

	require.NoError(t, cs.RegisterModule(newFixedSensor("thermo", 1)))
	require.NoError(t, cs.RegisterModule(newRecordingActuator("valve", module.Limits{Min: 0, Max: 100, MaxRate: 1e9})))

	require.NoError(t, cs.CreateLoop("temp", 100))
	require.NoError(t, cs.AddSensor("temp", "thermo"))
	require.NoError(t, cs.AddActuator("temp", "valve"))
	require.NoError(t, cs.SetControlFunction("temp", func(module.SensorData) module.ActuatorCommand {
		// out of range on purpose
		return module.NewActuatorCommand("valve", 500, module.UnitPercent)
	}))

	require.NoError(t, cs.Start())
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, cs.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, sources, "temp")

	rejected := testutil.ToFloat64(cs.MetricsRegistry().Metrics.CommandsRejected.WithLabelValues("valve"))
	assert.Greater(t, rejected, 0.0)
}

func TestControlSystemLifecycleGuards(t *testing.T) {
	cs, err := New(testConfig(), WithQueue(ipc.NewMemQueue(64, nil)))
	require.NoError(t, err)

	assert.Error(t, cs.Stop())

	require.NoError(t, cs.Start())
	require.NoError(t, cs.Stop())

	require.NoError(t, cs.Close())
	require.NoError(t, cs.Close())

	err = cs.Start()
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrShutdown)
}

func TestControlSystemInstancesIndependent(t *testing.T) {
	a, err := New(testConfig(), WithQueue(ipc.NewMemQueue(64, nil)))
	require.NoError(t, err)
	defer a.Close()
	b, err := New(testConfig(), WithQueue(ipc.NewMemQueue(64, nil)))
	require.NoError(t, err)
	defer b.Close()

	require.NoError(t, a.RegisterModule(newFixedSensor("thermo", 1)))
	assert.Empty(t, b.LoadedModules())

	a.EmergencyStop()
	assert.True(t, a.EmergencyStopActive())
	assert.False(t, b.EmergencyStopActive())
}

func TestControlSystemInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.WatchdogTimeout = 0
	_, err := New(cfg)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestControlSystemMetricsCallback(t *testing.T) {
	cs, err := New(testConfig(), WithQueue(ipc.NewMemQueue(64, nil)))
	require.NoError(t, err)
	defer cs.Close()

	seen := make(chan struct{}, 1)
	cs.SetMetricsCallback(func(m metric.SystemMetrics) {
		select {
		case seen <- struct{}{}:
		default:
		}
	})

	require.NoError(t, cs.Start())
	defer func() { require.NoError(t, cs.Stop()) }()

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("metrics callback never fired")
	}
}

func TestEnableMetricsAtRuntime(t *testing.T) {
	cfg := testConfig()
	cfg.EnableMetrics = false
	cs, err := New(cfg, WithQueue(ipc.NewMemQueue(64, nil)))
	require.NoError(t, err)
	defer cs.Close()

	seen := make(chan struct{}, 1)
	cs.SetMetricsCallback(func(m metric.SystemMetrics) {
		select {
		case seen <- struct{}{}:
		default:
		}
	})

	require.NoError(t, cs.Start())
	defer func() { require.NoError(t, cs.Stop()) }()

	// disabled at construction: no samples
	select {
	case <-seen:
		t.Fatal("metrics callback fired while metrics were disabled")
	case <-time.After(200 * time.Millisecond):
	}

	require.NoError(t, cs.EnableMetrics())
	require.NoError(t, cs.EnableMetrics())

	select {
	case <-seen:
	case <-time.After(2 * time.Second):
		t.Fatal("metrics callback never fired after EnableMetrics")
	}
}
