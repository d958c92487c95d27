package metric

import (
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/ipc"
)

type fixedSampler struct {
	cpu float64
	mem uint64
}

func (s fixedSampler) Sample() (float64, uint64) { return s.cpu, s.mem }

func TestAggregatorSample(t *testing.T) {
	reg := NewRegistry()
	counters := ipc.Counters{Published: 120, Delivered: 100, Dropped: 3}
	agg := NewAggregator(reg, time.Second, func() ipc.Counters { return counters }, nil)
	agg.SetSampler(fixedSampler{cpu: 0.25, mem: 1 << 20})

	agg.RecordTick("temp", 2*time.Millisecond)
	agg.RecordTick("temp", 4*time.Millisecond)
	agg.RecordTick("temp", 6*time.Millisecond)

	agg.sample()

	snap := agg.Snapshot()
	assert.Equal(t, 0.25, snap.CPUUsage)
	assert.EqualValues(t, 1<<20, snap.MemoryUsage)
	assert.Equal(t, 4*time.Millisecond, snap.AvgLatency)
	assert.Equal(t, 6*time.Millisecond, snap.MaxLatency)
	assert.EqualValues(t, 120, snap.TotalMessages)
	assert.EqualValues(t, 3, snap.DroppedMessages)
	assert.False(t, snap.Timestamp.IsZero())
	assert.GreaterOrEqual(t, snap.Uptime, time.Duration(0))
}

func TestAggregatorCountersMonotonic(t *testing.T) {
	reg := NewRegistry()
	var published uint64
	agg := NewAggregator(reg, time.Second, func() ipc.Counters {
		return ipc.Counters{Published: published}
	}, nil)
	agg.SetSampler(fixedSampler{})

	published = 10
	agg.sample()
	first := agg.Snapshot().TotalMessages

	published = 25
	agg.sample()
	second := agg.Snapshot().TotalMessages

	assert.EqualValues(t, 10, first)
	assert.EqualValues(t, 25, second)
	assert.GreaterOrEqual(t, second, first)
}

func TestAggregatorCallback(t *testing.T) {
	reg := NewRegistry()
	agg := NewAggregator(reg, 10*time.Millisecond, nil, nil)
	agg.SetSampler(fixedSampler{cpu: 0.5})

	var mu sync.Mutex
	var snaps []SystemMetrics
	agg.SetCallback(func(m SystemMetrics) {
		mu.Lock()
		snaps = append(snaps, m)
		mu.Unlock()
	})

	require.NoError(t, agg.Start())
	assert.Error(t, agg.Start())
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, agg.Stop())
	assert.Error(t, agg.Stop())

	mu.Lock()
	defer mu.Unlock()
	assert.NotEmpty(t, snaps)
	assert.Equal(t, 0.5, snaps[0].CPUUsage)
}

func TestAggregatorCallbackPanicContained(t *testing.T) {
	reg := NewRegistry()
	agg := NewAggregator(reg, time.Second, nil, nil)
	agg.SetSampler(fixedSampler{})

	var mu sync.Mutex
	var errReports []string
	agg.SetErrorFunc(func(name, desc string) {
		mu.Lock()
		errReports = append(errReports, desc)
		mu.Unlock()
	})
	agg.SetCallback(func(SystemMetrics) {
		panic("callback exploded")
	})

	// must not panic out of the sampling path
	agg.sample()
	agg.sample()

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errReports, 2)
	assert.Contains(t, errReports[0], "callback exploded")
}

func TestAggregatorNoWindow(t *testing.T) {
	reg := NewRegistry()
	agg := NewAggregator(reg, time.Second, nil, nil)
	agg.SetSampler(fixedSampler{})

	agg.sample()
	snap := agg.Snapshot()
	assert.Zero(t, snap.AvgLatency)
	assert.Zero(t, snap.MaxLatency)
}

func TestRegistryRegisterUnregister(t *testing.T) {
	reg := NewRegistry()

	c := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "dcs",
		Subsystem: "pid",
		Name:      "setpoint",
		Help:      "Current controller setpoint",
	})
	require.NoError(t, reg.Register("pid", "setpoint", c))

	err := reg.Register("pid", "setpoint", c)
	assert.Error(t, err)

	assert.True(t, reg.Unregister("pid", "setpoint"))
	assert.False(t, reg.Unregister("pid", "setpoint"))
}
