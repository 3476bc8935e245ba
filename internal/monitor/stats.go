package monitor

import (
	"context"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/alertsync/internal/model"
)

// FeedState exposes the synchronizer gauges the reporter samples.
type FeedState interface {
	Snapshot() []model.Alert
	Cutoff() int64
	State() model.SessionState
	LastError() error
}

// CounterState exposes the poller's latest published value.
type CounterState interface {
	Latest() (model.Counter, bool)
}

// Stats is one sampled snapshot of session and process health.
type Stats struct {
	Timestamp    time.Time          `json:"timestamp"`
	CPUUsage     float64            `json:"cpu_usage"`
	MemoryUsage  float64            `json:"memory_usage"`
	AlertCount   int                `json:"alert_count"`
	Cutoff       int64              `json:"cutoff"`
	SessionState model.SessionState `json:"session_state"`
	Counter      *model.Counter     `json:"counter,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
}

// StatsReporter samples session and process metrics on a fixed
// interval. It is observation only; nothing in the feed path depends
// on it.
type StatsReporter struct {
	logger   *zap.Logger
	feed     FeedState
	counter  CounterState
	interval time.Duration
	mu       sync.RWMutex
	latest   Stats
	stop     chan struct{}
}

// NewStatsReporter creates a stats reporter.
func NewStatsReporter(feed FeedState, counter CounterState, interval time.Duration, logger *zap.Logger) *StatsReporter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &StatsReporter{
		logger:   logger.Named("stats-reporter"),
		feed:     feed,
		counter:  counter,
		interval: interval,
		stop:     make(chan struct{}),
	}
}

// Start starts the collection loop.
func (r *StatsReporter) Start(ctx context.Context) {
	r.logger.Info("Starting stats reporter", zap.Duration("interval", r.interval))
	go r.collectLoop(ctx)
}

// Stop stops the collection loop.
func (r *StatsReporter) Stop() {
	r.logger.Info("Stopping stats reporter")
	close(r.stop)
}

// GetStats returns the most recently collected sample.
func (r *StatsReporter) GetStats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latest
}

// collectLoop runs the metrics collection loop
func (r *StatsReporter) collectLoop(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-r.stop:
			return
		case <-ticker.C:
			r.collect()
		}
	}
}

// collect samples process and session metrics
func (r *StatsReporter) collect() {
	stats := Stats{
		Timestamp:    time.Now(),
		AlertCount:   len(r.feed.Snapshot()),
		Cutoff:       r.feed.Cutoff(),
		SessionState: r.feed.State(),
	}

	if err := r.feed.LastError(); err != nil {
		stats.LastError = err.Error()
	}
	if value, ok := r.counter.Latest(); ok {
		stats.Counter = &value
	}

	cpuPercent, err := cpu.Percent(0, false)
	if err != nil {
		r.logger.Error("Failed to get CPU usage", zap.Error(err))
	} else if len(cpuPercent) > 0 {
		stats.CPUUsage = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemory()
	if err != nil {
		r.logger.Error("Failed to get memory usage", zap.Error(err))
	} else {
		stats.MemoryUsage = memInfo.UsedPercent
	}

	r.mu.Lock()
	r.latest = stats
	r.mu.Unlock()

	r.logger.Debug("Stats collected",
		zap.Int("alert_count", stats.AlertCount),
		zap.Int64("cutoff", stats.Cutoff),
		zap.Float64("cpu_usage", stats.CPUUsage),
		zap.Float64("memory_usage", stats.MemoryUsage))
}
