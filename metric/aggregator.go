package metric

import (
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/errors"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/ipc"
	"github.com/SoutrikMukherjee/Distributed-Control-System-Architecture/pkg/buffer"
)

// SystemMetrics is a point-in-time snapshot of system-wide statistics
type SystemMetrics struct {
	CPUUsage        float64       `json:"cpu_usage"`
	MemoryUsage     uint64        `json:"memory_usage"`
	AvgLatency      time.Duration `json:"avg_latency"`
	MaxLatency      time.Duration `json:"max_latency"`
	TotalMessages   uint64        `json:"total_messages"`
	DroppedMessages uint64        `json:"dropped_messages"`
	Uptime          time.Duration `json:"uptime"`
	Timestamp       time.Time     `json:"timestamp"`
}

// Callback receives each aggregated snapshot. Callbacks must not block; a
// panicking callback is recovered and reported through the error callback.
type Callback func(SystemMetrics)

// ErrorFunc receives aggregator-internal failures
type ErrorFunc func(name, description string)

// CountersFunc supplies the queue traffic counters for each sample
type CountersFunc func() ipc.Counters

// latencyWindowSize bounds the rolling latency statistics to roughly the
// last thousand ticks.
const latencyWindowSize = 1024

// Aggregator samples process statistics and queue counters on a fixed
// interval, folds in the rolling tick-latency window fed by the scheduler,
// and publishes the result to the Prometheus collectors and the optional
// user callback.
type Aggregator struct {
	registry *Registry
	interval time.Duration
	counters CountersFunc
	sampler  Sampler
	logger   *slog.Logger

	onMetrics atomic.Pointer[Callback]
	onError   atomic.Pointer[ErrorFunc]

	latency *buffer.Window[time.Duration]

	start   time.Time
	running atomic.Bool
	stopCh  chan struct{}
	doneCh  chan struct{}

	mu       sync.RWMutex
	snapshot SystemMetrics
}

// NewAggregator creates an aggregator publishing into the given registry.
// counters may be nil when no queue is attached.
func NewAggregator(registry *Registry, interval time.Duration, counters CountersFunc, logger *slog.Logger) *Aggregator {
	if interval <= 0 {
		interval = time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{
		registry: registry,
		interval: interval,
		counters: counters,
		sampler:  newRuntimeSampler(),
		logger:   logger.With("component", "metrics-aggregator"),
		latency:  buffer.NewWindow[time.Duration](latencyWindowSize),
		start:    time.Now(),
	}
}

// SetCallback installs the snapshot callback
func (a *Aggregator) SetCallback(fn Callback) {
	if fn == nil {
		a.onMetrics.Store(nil)
		return
	}
	a.onMetrics.Store(&fn)
}

// SetErrorFunc installs the error report callback
func (a *Aggregator) SetErrorFunc(fn ErrorFunc) {
	if fn == nil {
		a.onError.Store(nil)
		return
	}
	a.onError.Store(&fn)
}

// SetSampler replaces the process sampler. Tests inject deterministic ones.
func (a *Aggregator) SetSampler(s Sampler) {
	if s != nil {
		a.sampler = s
	}
}

// RecordTick feeds one loop tick into the rolling latency window and the
// Prometheus collectors. The scheduler installs this as its tick observer.
func (a *Aggregator) RecordTick(loop string, elapsed time.Duration) {
	a.latency.Append(elapsed)
	a.registry.Metrics.LoopTicks.WithLabelValues(loop).Inc()
	a.registry.Metrics.TickDuration.WithLabelValues(loop).Observe(elapsed.Seconds())
}

// Snapshot returns the most recently aggregated metrics
func (a *Aggregator) Snapshot() SystemMetrics {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.snapshot
}

// Start begins periodic sampling
func (a *Aggregator) Start() error {
	if !a.running.CompareAndSwap(false, true) {
		return errors.WrapInvalid(errors.ErrAlreadyStarted, "metric.Aggregator", "Start", "start sampling")
	}
	a.start = time.Now()
	a.stopCh = make(chan struct{})
	a.doneCh = make(chan struct{})
	go a.loop()
	return nil
}

// Stop halts sampling. A final sample is taken so Snapshot reflects the
// full run.
func (a *Aggregator) Stop() error {
	if !a.running.CompareAndSwap(true, false) {
		return errors.WrapInvalid(errors.ErrNotStarted, "metric.Aggregator", "Stop", "stop sampling")
	}
	close(a.stopCh)
	<-a.doneCh
	a.sample()
	return nil
}

func (a *Aggregator) loop() {
	defer close(a.doneCh)
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stopCh:
			return
		case <-ticker.C:
			a.sample()
		}
	}
}

// sample takes one aggregation pass and publishes it
func (a *Aggregator) sample() {
	cpu, mem := a.sampler.Sample()

	var avg, max time.Duration
	if window := a.latency.Snapshot(); len(window) > 0 {
		var sum time.Duration
		for _, d := range window {
			sum += d
			if d > max {
				max = d
			}
		}
		avg = sum / time.Duration(len(window))
	}

	var counters ipc.Counters
	if a.counters != nil {
		counters = a.counters()
	}

	snap := SystemMetrics{
		CPUUsage:        cpu,
		MemoryUsage:     mem,
		AvgLatency:      avg,
		MaxLatency:      max,
		TotalMessages:   counters.Published,
		DroppedMessages: counters.Dropped,
		Uptime:          time.Since(a.start),
		Timestamp:       time.Now(),
	}

	m := a.registry.Metrics
	m.CPUUsage.Set(cpu)
	m.MemoryUsage.Set(float64(mem))
	m.MessagesPublished.Set(float64(counters.Published))
	m.MessagesDropped.Set(float64(counters.Dropped))

	a.mu.Lock()
	a.snapshot = snap
	a.mu.Unlock()

	a.notify(snap)
}

// notify invokes the user callback, recovering panics so a faulty callback
// cannot take down the sampling goroutine.
func (a *Aggregator) notify(snap SystemMetrics) {
	fn := a.onMetrics.Load()
	if fn == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			a.logger.Error("recovered panic in metrics callback", "panic", r, "stack", string(debug.Stack()))
			if efn := a.onError.Load(); efn != nil {
				(*efn)("metrics", fmt.Sprintf("panic in metrics callback: %v", r))
			}
		}
	}()
	(*fn)(snap)
}
