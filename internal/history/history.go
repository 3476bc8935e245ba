package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/alertsync/internal/model"
)

// InMemoryDSN keeps the session log in memory only; it dies with the
// process, matching the rest of the session state.
const InMemoryDSN = ":memory:"

// Resolution is one successfully resolved alert.
type Resolution struct {
	ID          string    `json:"id"`
	AlertID     int64     `json:"alert_id"`
	FileID      string    `json:"file_id"`
	Description string    `json:"description"`
	ObservedAt  time.Time `json:"observed_at"`
	ResolvedAt  time.Time `json:"resolved_at"`
}

// ResolutionStorage defines the interface for the session resolution log
type ResolutionStorage interface {
	// Record stores one resolved alert
	Record(ctx context.Context, alert model.Alert) error

	// List retrieves resolutions, newest first, with pagination
	List(ctx context.Context, offset, limit int) ([]*Resolution, error)

	// Count returns the total number of recorded resolutions
	Count(ctx context.Context) (int, error)
}

// SQLiteResolutionLog implements ResolutionStorage using SQLite
type SQLiteResolutionLog struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteResolutionLog creates a SQLite-backed resolution log.
func NewSQLiteResolutionLog(logger *zap.Logger, dsn string) (*SQLiteResolutionLog, error) {
	if dsn == "" {
		dsn = InMemoryDSN
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// An in-memory database exists per connection; keep a single one.
	db.SetMaxOpenConns(1)

	storage := &SQLiteResolutionLog{
		logger: logger.Named("history"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteResolutionLog) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS resolutions (
			id TEXT PRIMARY KEY,
			alert_id INTEGER NOT NULL,
			file_id TEXT NOT NULL,
			description TEXT,
			observed_at DATETIME NOT NULL,
			resolved_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_resolutions_alert_id ON resolutions(alert_id);
		CREATE INDEX IF NOT EXISTS idx_resolutions_resolved_at ON resolutions(resolved_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// Record implements ResolutionStorage.Record
func (s *SQLiteResolutionLog) Record(ctx context.Context, alert model.Alert) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO resolutions (
			id, alert_id, file_id, description, observed_at, resolved_at
		) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.New().String(),
		alert.ID,
		alert.FileID,
		alert.Description,
		alert.ObservedAt,
		time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record resolution: %w", err)
	}

	s.logger.Debug("Recorded resolution", zap.Int64("alert_id", alert.ID))
	return nil
}

// List implements ResolutionStorage.List
func (s *SQLiteResolutionLog) List(ctx context.Context, offset, limit int) ([]*Resolution, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, file_id, description, observed_at, resolved_at
		FROM resolutions
		ORDER BY resolved_at DESC
		LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list resolutions: %w", err)
	}
	defer rows.Close()

	var resolutions []*Resolution
	for rows.Next() {
		r := &Resolution{}
		var description sql.NullString
		if err := rows.Scan(
			&r.ID,
			&r.AlertID,
			&r.FileID,
			&description,
			&r.ObservedAt,
			&r.ResolvedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan resolution: %w", err)
		}
		if description.Valid {
			r.Description = description.String
		}
		resolutions = append(resolutions, r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return resolutions, nil
}

// Count implements ResolutionStorage.Count
func (s *SQLiteResolutionLog) Count(ctx context.Context) (int, error) {
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM resolutions").Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count resolutions: %w", err)
	}
	return count, nil
}

// Close closes the database connection
func (s *SQLiteResolutionLog) Close() error {
	return s.db.Close()
}
