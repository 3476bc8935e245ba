package feed

import (
	"context"
	"sort"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/t77yq/alertsync/internal/credential"
	"github.com/t77yq/alertsync/internal/model"
)

// FeedService is the wire-protocol surface the synchronizer depends on.
type FeedService interface {
	FetchPage(ctx context.Context, cutoff int64) ([]model.Alert, error)
	Resolve(ctx context.Context, fileID string) error
}

// ResolutionLog records successfully resolved alerts for the session.
type ResolutionLog interface {
	Record(ctx context.Context, alert model.Alert) error
}

// Synchronizer owns the deduplicated, ordered alert collection and the
// pagination cursor. It orchestrates fetch-merge-sort and
// fetch-resolve-reconcile, and enforces single-flight fetching.
//
// The collection and cursor are owned exclusively by the synchronizer;
// external readers only ever observe a snapshot. LoadMore calls are
// totally ordered by the fetch guard. Resolve calls are not mutually
// excluded with LoadMore or with each other: resolve only removes by
// id and LoadMore only adds by id if absent, so the two commute.
type Synchronizer struct {
	service FeedService
	gate    *credential.Gate
	log     ResolutionLog
	logger  *zap.Logger

	mu       sync.Mutex
	alerts   []model.Alert
	ids      map[int64]struct{}
	cutoff   int64
	fetching bool
	state    model.SessionState
	lastErr  error

	observers []func()
}

// NewSynchronizer creates a synchronizer with an empty collection and
// the cursor at the feed's lower bound. The resolution log may be nil.
func NewSynchronizer(service FeedService, gate *credential.Gate, log ResolutionLog, logger *zap.Logger) *Synchronizer {
	return &Synchronizer{
		service: service,
		gate:    gate,
		log:     log,
		logger:  logger.Named("feed-sync"),
		ids:     make(map[int64]struct{}),
		state:   model.SessionUninitialized,
	}
}

// Start performs the first fetch exactly once per session, as soon as
// the credential becomes available. Later fetches are user-triggered
// via LoadMore.
func (s *Synchronizer) Start(ctx context.Context) {
	go func() {
		select {
		case <-ctx.Done():
			return
		case <-s.gate.Ready():
		}

		s.mu.Lock()
		if s.state != model.SessionUninitialized {
			s.mu.Unlock()
			return
		}
		s.state = model.SessionSyncing
		s.mu.Unlock()
		s.notify()

		if err := s.LoadMore(ctx); err != nil {
			s.logger.Warn("Initial feed fetch failed", zap.Error(err))
		}
	}()
}

// LoadMore fetches the next page beyond the current cutoff and merges
// it into the collection. Redundant triggers while a fetch is in
// flight are dropped, not queued. Calling before a credential is set
// is a silent no-op.
func (s *Synchronizer) LoadMore(ctx context.Context) error {
	if _, err := s.gate.Get(); err != nil {
		s.logger.Debug("Load skipped, credential not set")
		return nil
	}

	s.mu.Lock()
	if s.fetching {
		s.mu.Unlock()
		s.logger.Debug("Load skipped, fetch already in flight")
		return nil
	}
	s.fetching = true
	cutoff := s.cutoff
	s.mu.Unlock()

	page, err := s.service.FetchPage(ctx, cutoff)

	s.mu.Lock()
	s.fetching = false
	if err != nil {
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Error("Feed fetch failed",
			zap.Int64("cutoff", cutoff),
			zap.Error(err))
		s.notify()
		return err
	}

	s.lastErr = nil
	if s.state == model.SessionSyncing {
		s.state = model.SessionReady
	}

	if len(page) == 0 {
		// Caught up; cursor unchanged.
		s.mu.Unlock()
		s.notify()
		return nil
	}

	// Dedup against the pre-merge snapshot. Pages may legitimately
	// overlap with records merged earlier.
	merged := 0
	pageMax := int64(0)
	for _, alert := range page {
		if alert.ID > pageMax {
			pageMax = alert.ID
		}
		if _, seen := s.ids[alert.ID]; seen {
			continue
		}
		s.ids[alert.ID] = struct{}{}
		s.alerts = append(s.alerts, alert)
		merged++
	}
	sort.Slice(s.alerts, func(i, j int) bool {
		return s.alerts[i].ID > s.alerts[j].ID
	})

	// The cursor advances from the page's maximum id, never from the
	// merged collection, so a fully-duplicate page still makes
	// pagination progress.
	if pageMax > s.cutoff {
		s.cutoff = pageMax
	}
	total := len(s.alerts)
	s.mu.Unlock()

	s.logger.Info("Merged feed page",
		zap.Int("fetched", len(page)),
		zap.Int("merged", merged),
		zap.Int("total", total),
		zap.Int64("cutoff", pageMax))

	s.notify()
	return nil
}

// Resolve marks one alert resolved server-side and, on success,
// removes it from the local collection. Removing an id that is not
// present locally is a no-op. Failures leave the collection unchanged;
// retry is left to the caller.
func (s *Synchronizer) Resolve(ctx context.Context, id int64) error {
	if _, err := s.gate.Get(); err != nil {
		s.logger.Debug("Resolve skipped, credential not set")
		return nil
	}

	fileID := strconv.FormatInt(id, 10)
	s.mu.Lock()
	for _, alert := range s.alerts {
		if alert.ID == id {
			fileID = alert.FileID
			break
		}
	}
	s.mu.Unlock()

	if err := s.service.Resolve(ctx, fileID); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
		s.logger.Error("Resolve failed",
			zap.Int64("id", id),
			zap.Error(err))
		s.notify()
		return err
	}

	s.mu.Lock()
	s.lastErr = nil
	var removed *model.Alert
	if _, ok := s.ids[id]; ok {
		delete(s.ids, id)
		for i, alert := range s.alerts {
			if alert.ID == id {
				removed = &alert
				s.alerts = append(s.alerts[:i], s.alerts[i+1:]...)
				break
			}
		}
	}
	s.mu.Unlock()

	if removed != nil && s.log != nil {
		if err := s.log.Record(ctx, *removed); err != nil {
			s.logger.Warn("Failed to record resolution",
				zap.Int64("id", id),
				zap.Error(err))
		}
	}

	s.logger.Info("Resolved alert", zap.Int64("id", id))
	s.notify()
	return nil
}

// Snapshot returns a copy of the current collection, sorted descending
// by id.
func (s *Synchronizer) Snapshot() []model.Alert {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]model.Alert, len(s.alerts))
	copy(out, s.alerts)
	return out
}

// Cutoff returns the pagination cursor: the highest alert id fetched
// so far, or zero for an empty feed.
func (s *Synchronizer) Cutoff() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cutoff
}

// State returns the session lifecycle state.
func (s *Synchronizer) State() model.SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastError returns the most recent fetch or resolve failure, or nil
// after a successful operation.
func (s *Synchronizer) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// OnChange registers a callback invoked after every state change.
// Observers must be registered before Start.
func (s *Synchronizer) OnChange(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, fn)
}

func (s *Synchronizer) notify() {
	s.mu.Lock()
	observers := s.observers
	s.mu.Unlock()

	for _, fn := range observers {
		fn()
	}
}
