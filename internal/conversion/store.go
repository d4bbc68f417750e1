package conversion

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"
)

// StoredEvent is a persisted funnel event.
type StoredEvent struct {
	ID             int64     `json:"id"`
	EventType      string    `json:"event_type"`
	Surface        string    `json:"surface"`
	Capability     string    `json:"capability"`
	IdempotencyKey string    `json:"idempotency_key"`
	CreatedAt      time.Time `json:"created_at"`
}

// Period is a half-open time range.
type Period struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// FunnelSummary counts each funnel step over a period.
type FunnelSummary struct {
	LimitBlocked      int64  `json:"limit_blocked"`
	PaywallViewed     int64  `json:"paywall_viewed"`
	CheckoutStarted   int64  `json:"checkout_started"`
	CheckoutCompleted int64  `json:"checkout_completed"`
	CheckoutFailed    int64  `json:"checkout_failed"`
	CheckoutCancelled int64  `json:"checkout_cancelled"`
	RestoreCompleted  int64  `json:"restore_completed"`
	Period            Period `json:"period"`
}

// CheckoutConversion is completed checkouts over paywall views, or 0 without views.
func (s FunnelSummary) CheckoutConversion() float64 {
	if s.PaywallViewed == 0 {
		return 0
	}
	return float64(s.CheckoutCompleted) / float64(s.PaywallViewed)
}

// Store persists funnel events in SQLite.
type Store struct {
	db     *sql.DB
	dbPath string
}

// NewStore opens (creating if needed) the funnel database at dbPath. The
// directory and database files are restricted to the owner.
func NewStore(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("database path is required")
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to create conversion directory: %w", err)
	}
	if err := os.Chmod(dir, 0o700); err != nil {
		return nil, fmt.Errorf("failed to restrict conversion directory: %w", err)
	}
	if info, err := os.Lstat(dbPath); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("refusing symlink conversion database path %q", dbPath)
	}

	dsn := dbPath + "?" + url.Values{
		"_pragma": []string{
			"busy_timeout(30000)",
			"journal_mode(WAL)",
			"synchronous(NORMAL)",
		},
	}.Encode()
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open conversion database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	s := &Store{db: db, dbPath: dbPath}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize conversion schema: %w", err)
	}
	s.restrictFiles()

	log.Debug().Str("dbPath", dbPath).Msg("Conversion store initialized")
	return s, nil
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS conversion_events (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		event_type TEXT NOT NULL,
		surface TEXT NOT NULL,
		capability TEXT NOT NULL DEFAULT '',
		idempotency_key TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_conversion_events_time ON conversion_events(created_at);
	CREATE INDEX IF NOT EXISTS idx_conversion_events_type ON conversion_events(event_type, created_at);
	`
	_, err := s.db.Exec(schema)
	return err
}

func (s *Store) restrictFiles() {
	for _, path := range []string{s.dbPath, s.dbPath + "-wal", s.dbPath + "-shm"} {
		if err := os.Chmod(path, 0o600); err != nil && !os.IsNotExist(err) {
			log.Warn().Err(err).Str("path", path).Msg("Failed to restrict conversion database file")
		}
	}
}

// Record inserts an event. Events whose idempotency key is already stored are
// ignored.
func (s *Store) Record(ev StoredEvent) error {
	if strings.TrimSpace(ev.IdempotencyKey) == "" {
		return fmt.Errorf("idempotency key is required")
	}
	_, err := s.db.Exec(`
		INSERT OR IGNORE INTO conversion_events (event_type, surface, capability, idempotency_key, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		ev.EventType, ev.Surface, ev.Capability, ev.IdempotencyKey, ev.CreatedAt.UTC().UnixMilli(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert conversion event: %w", err)
	}
	return nil
}

// Query returns events in [from, to), optionally filtered by type, oldest first.
func (s *Store) Query(from, to time.Time, eventType string) ([]StoredEvent, error) {
	query := `
		SELECT id, event_type, surface, capability, idempotency_key, created_at
		FROM conversion_events
		WHERE created_at >= ? AND created_at < ?`
	args := []any{from.UTC().UnixMilli(), to.UTC().UnixMilli()}
	if eventType != "" {
		query += ` AND event_type = ?`
		args = append(args, eventType)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query conversion events: %w", err)
	}
	defer rows.Close()

	var out []StoredEvent
	for rows.Next() {
		var (
			ev        StoredEvent
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.EventType, &ev.Surface, &ev.Capability, &ev.IdempotencyKey, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan conversion event: %w", err)
		}
		ev.CreatedAt = time.UnixMilli(createdAt).UTC()
		out = append(out, ev)
	}
	return out, rows.Err()
}

// FunnelSummary counts events per type in [from, to).
func (s *Store) FunnelSummary(from, to time.Time) (FunnelSummary, error) {
	summary := FunnelSummary{Period: Period{From: from.UTC(), To: to.UTC()}}

	rows, err := s.db.Query(`
		SELECT event_type, COUNT(1)
		FROM conversion_events
		WHERE created_at >= ? AND created_at < ?
		GROUP BY event_type`,
		from.UTC().UnixMilli(), to.UTC().UnixMilli(),
	)
	if err != nil {
		return summary, fmt.Errorf("failed to summarize conversion funnel: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			eventType string
			count     int64
		)
		if err := rows.Scan(&eventType, &count); err != nil {
			return summary, fmt.Errorf("failed to scan funnel row: %w", err)
		}
		switch eventType {
		case EventLimitBlocked:
			summary.LimitBlocked = count
		case EventPaywallViewed:
			summary.PaywallViewed = count
		case EventCheckoutStarted:
			summary.CheckoutStarted = count
		case EventCheckoutCompleted:
			summary.CheckoutCompleted = count
		case EventCheckoutFailed:
			summary.CheckoutFailed = count
		case EventCheckoutCancelled:
			summary.CheckoutCancelled = count
		case EventRestoreCompleted:
			summary.RestoreCompleted = count
		}
	}
	return summary, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
