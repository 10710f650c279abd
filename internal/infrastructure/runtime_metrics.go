package infrastructure

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// runtimeGauges holds the OTel instruments fed by runtime sampling.
type runtimeGauges struct {
	goroutines metric.Int64Gauge
	heapBytes  metric.Int64Gauge
	allocBytes metric.Int64Gauge
	sysBytes   metric.Int64Gauge
	gcPause    metric.Float64Histogram
	uptime     metric.Float64Gauge
}

func newRuntimeGauges(meter metric.Meter) (*runtimeGauges, error) {
	var firstErr error
	gauge := func(name, desc string, opts ...metric.Int64GaugeOption) metric.Int64Gauge {
		g, err := meter.Int64Gauge(name, append(opts, metric.WithDescription(desc))...)
		if firstErr == nil {
			firstErr = err
		}
		return g
	}

	g := &runtimeGauges{
		goroutines: gauge("system_goroutines", "Number of live goroutines"),
		heapBytes:  gauge("system_memory_usage_bytes", "Bytes of allocated heap objects", metric.WithUnit("By")),
		allocBytes: gauge("system_memory_allocated_bytes", "Cumulative bytes allocated by the runtime", metric.WithUnit("By")),
		sysBytes:   gauge("system_memory_system_bytes", "Bytes of memory obtained from the OS", metric.WithUnit("By")),
	}

	var err error
	g.gcPause, err = meter.Float64Histogram("system_gc_pause_seconds",
		metric.WithDescription("Most recent garbage collection pause"),
		metric.WithUnit("s"))
	if firstErr == nil {
		firstErr = err
	}
	g.uptime, err = meter.Float64Gauge("system_process_uptime_seconds",
		metric.WithDescription("Seconds since the process started"),
		metric.WithUnit("s"))
	if firstErr == nil {
		firstErr = err
	}

	if firstErr != nil {
		return nil, firstErr
	}
	return g, nil
}

// SystemStats is one sample of Go runtime health.
type SystemStats struct {
	Goroutines     int64
	HeapBytes      int64
	TotalAllocated int64
	SysBytes       int64
	GCCycles       uint32
	LastGCPause    time.Duration
	Uptime         time.Duration
	SampledAt      time.Time
}

// FormatStats renders the sample as the nested map served by the ops
// status endpoint.
func (s *SystemStats) FormatStats() map[string]interface{} {
	const mib = 1024 * 1024
	return map[string]interface{}{
		"runtime": map[string]interface{}{
			"goroutines":       s.Goroutines,
			"memory_usage_mb":  s.HeapBytes / mib,
			"memory_alloc_mb":  s.TotalAllocated / mib,
			"memory_system_mb": s.SysBytes / mib,
			"gc_count":         s.GCCycles,
			"last_gc_pause_ms": s.LastGCPause.Milliseconds(),
		},
		"uptime_seconds": s.Uptime.Seconds(),
		"timestamp":      s.SampledAt.Format(time.RFC3339),
	}
}

// SystemMetricsCollector samples Go runtime statistics on a fixed
// interval and feeds them to the OTel meter.
type SystemMetricsCollector struct {
	gauges   *runtimeGauges
	started  time.Time
	interval time.Duration
	done     chan struct{}
	stopOnce sync.Once
}

// NewSystemMetricsCollector registers the runtime instruments on meter
// and returns a collector ready to Start.
func NewSystemMetricsCollector(meter metric.Meter, interval time.Duration) (*SystemMetricsCollector, error) {
	gauges, err := newRuntimeGauges(meter)
	if err != nil {
		return nil, fmt.Errorf("failed to register runtime instruments: %w", err)
	}

	return &SystemMetricsCollector{
		gauges:   gauges,
		started:  time.Now(),
		interval: interval,
		done:     make(chan struct{}),
	}, nil
}

// Start samples immediately and then on every tick until Stop is called
// or ctx is cancelled. Run it on its own goroutine.
func (c *SystemMetricsCollector) Start(ctx context.Context) {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.sample(ctx)
	for {
		select {
		case <-ticker.C:
			c.sample(ctx)
		case <-c.done:
			return
		case <-ctx.Done():
			return
		}
	}
}

// Stop ends the sampling loop. Safe to call more than once.
func (c *SystemMetricsCollector) Stop() {
	c.stopOnce.Do(func() { close(c.done) })
}

// GetCurrentStats takes an immediate sample, records it on the
// instruments and returns it.
func (c *SystemMetricsCollector) GetCurrentStats(ctx context.Context) *SystemStats {
	return c.sample(ctx)
}

func (c *SystemMetricsCollector) sample(ctx context.Context) *SystemStats {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	stats := &SystemStats{
		Goroutines:     int64(runtime.NumGoroutine()),
		HeapBytes:      int64(mem.Alloc),
		TotalAllocated: int64(mem.TotalAlloc),
		SysBytes:       int64(mem.Sys),
		GCCycles:       mem.NumGC,
		Uptime:         time.Since(c.started),
		SampledAt:      time.Now(),
	}
	if mem.NumGC > 0 {
		stats.LastGCPause = time.Duration(mem.PauseNs[(mem.NumGC+255)%256])
	}

	c.gauges.goroutines.Record(ctx, stats.Goroutines)
	c.gauges.heapBytes.Record(ctx, stats.HeapBytes)
	c.gauges.allocBytes.Record(ctx, stats.TotalAllocated)
	c.gauges.sysBytes.Record(ctx, stats.SysBytes)
	c.gauges.uptime.Record(ctx, stats.Uptime.Seconds())
	if stats.LastGCPause > 0 {
		c.gauges.gcPause.Record(ctx, stats.LastGCPause.Seconds())
	}

	return stats
}
