package metric

import (
	"os"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Sampler produces process resource readings: CPU usage as a fraction of
// one core since the previous sample, and heap bytes in use.
type Sampler interface {
	Sample() (cpu float64, mem uint64)
}

// runtimeSampler reads heap usage from the Go runtime and CPU time from
// /proc/self/stat. On platforms without procfs the CPU reading is zero.
type runtimeSampler struct {
	mu       sync.Mutex
	lastWall time.Time
	lastCPU  time.Duration
}

func newRuntimeSampler() *runtimeSampler {
	return &runtimeSampler{lastWall: time.Now(), lastCPU: processCPUTime()}
}

func (s *runtimeSampler) Sample() (float64, uint64) {
	var stats runtime.MemStats
	runtime.ReadMemStats(&stats)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	cpuNow := processCPUTime()
	wall := now.Sub(s.lastWall)

	var cpu float64
	if wall > 0 && cpuNow >= s.lastCPU {
		cpu = float64(cpuNow-s.lastCPU) / float64(wall)
	}
	s.lastWall = now
	s.lastCPU = cpuNow
	return cpu, stats.HeapInuse
}

// jiffies per second on Linux. USER_HZ has been 100 on every mainstream
// kernel configuration for decades.
const clockTick = 100

// processCPUTime returns cumulative user+system CPU time from
// /proc/self/stat, or zero when unavailable.
func processCPUTime() time.Duration {
	data, err := os.ReadFile("/proc/self/stat")
	if err != nil {
		return 0
	}
	// comm may contain spaces; fields start after the closing paren
	s := string(data)
	idx := strings.LastIndexByte(s, ')')
	if idx < 0 || idx+2 >= len(s) {
		return 0
	}
	fields := strings.Fields(s[idx+2:])
	// after comm and state: utime is field 11, stime is field 12
	if len(fields) < 13 {
		return 0
	}
	utime, err1 := strconv.ParseUint(fields[11], 10, 64)
	stime, err2 := strconv.ParseUint(fields[12], 10, 64)
	if err1 != nil || err2 != nil {
		return 0
	}
	return time.Duration(utime+stime) * time.Second / clockTick
}
