package telemetry

import (
	"sync"
	"time"
)

// StatsProvider reports gauges that are cheaper to sample than to track.
type StatsProvider interface {
	ModeCounts() map[string]int
	DisabledCount() int
}

// MetricsCollector periodically samples a StatsProvider into gauges.
type MetricsCollector struct {
	provider StatsProvider
	interval time.Duration
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

func NewMetricsCollector(provider StatsProvider, interval time.Duration) *MetricsCollector {
	return &MetricsCollector{
		provider: provider,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

func (mc *MetricsCollector) Start() {
	mc.wg.Add(1)
	go mc.collectLoop()
}

func (mc *MetricsCollector) Stop() {
	close(mc.stopCh)
	mc.wg.Wait()
}

func (mc *MetricsCollector) collectLoop() {
	defer mc.wg.Done()

	ticker := time.NewTicker(mc.interval)
	defer ticker.Stop()

	mc.collect()
	for {
		select {
		case <-ticker.C:
			mc.collect()
		case <-mc.stopCh:
			return
		}
	}
}

func (mc *MetricsCollector) collect() {
	if mc.provider == nil {
		return
	}

	counts := mc.provider.ModeCounts()
	for _, mode := range []string{"subscribe", "psubscribe", "stream"} {
		TriggersActive.With(mode).Set(float64(counts[mode]))
	}
	TriggersDisabled.Set(float64(mc.provider.DisabledCount()))
}
