package poller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/t77yq/alertsync/internal/credential"
	"github.com/t77yq/alertsync/internal/model"
)

// DefaultInterval is the counter poll period.
const DefaultInterval = 2 * time.Second

// CounterService fetches the current occupancy counter value.
type CounterService interface {
	FetchCounter(ctx context.Context) (int64, error)
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, zap.Error(err))
}

// CounterPoller periodically fetches the occupancy counter and
// publishes its latest value. Tick failures are logged and isolated;
// they never stop the schedule. The counter is best-effort telemetry,
// fully independent of the alert feed path.
type CounterPoller struct {
	service  CounterService
	gate     *credential.Gate
	logger   *zap.Logger
	interval time.Duration
	cron     *cron.Cron

	mu      sync.RWMutex
	ctx     context.Context
	latest  model.Counter
	hasData bool
}

// NewCounterPoller creates a poller with the given period. A
// non-positive interval falls back to DefaultInterval.
func NewCounterPoller(service CounterService, gate *credential.Gate, interval time.Duration, logger *zap.Logger) *CounterPoller {
	if interval <= 0 {
		interval = DefaultInterval
	}
	named := logger.Named("counter-poller")
	return &CounterPoller{
		service:  service,
		gate:     gate,
		logger:   named,
		interval: interval,
		cron: cron.New(
			cron.WithChain(cron.Recover(&cronLogger{logger: named.Named("cron")})),
		),
	}
}

// Start begins the periodic schedule. Ticks before a credential is
// present are skipped silently.
func (p *CounterPoller) Start(ctx context.Context) error {
	p.mu.Lock()
	p.ctx = ctx
	p.mu.Unlock()

	if _, err := p.cron.AddFunc(fmt.Sprintf("@every %s", p.interval), p.tick); err != nil {
		return fmt.Errorf("failed to schedule counter poll: %w", err)
	}
	p.cron.Start()

	p.logger.Info("Counter poller started", zap.Duration("interval", p.interval))
	return nil
}

// Stop cancels the periodic schedule and waits for an in-flight tick
// to finish.
func (p *CounterPoller) Stop() {
	ctx := p.cron.Stop()
	<-ctx.Done()
	p.logger.Info("Counter poller stopped")
}

// Latest returns the most recently observed counter value. The second
// return is false until the first successful poll.
func (p *CounterPoller) Latest() (model.Counter, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latest, p.hasData
}

func (p *CounterPoller) tick() {
	if _, err := p.gate.Get(); err != nil {
		p.logger.Debug("Counter poll skipped, credential not set")
		return
	}

	p.mu.RLock()
	ctx := p.ctx
	p.mu.RUnlock()
	if ctx == nil {
		ctx = context.Background()
	}
	if ctx.Err() != nil {
		return
	}

	value, err := p.service.FetchCounter(ctx)
	if err != nil {
		// Best-effort telemetry: log and wait for the next tick.
		p.logger.Warn("Counter poll failed", zap.Error(err))
		return
	}

	p.mu.Lock()
	p.latest = model.Counter{Value: value, UpdatedAt: time.Now()}
	p.hasData = true
	p.mu.Unlock()

	p.logger.Debug("Counter updated", zap.Int64("value", value))
}
