package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	sessionmodel "github.com/zhouzirui/mesh-coach/backend/internal/model/session"
)

// ReportStore is the analytics collaborator's write-only sink: finalized
// session reports and their raw turn history go in, nothing is read back for
// in-session logic.
type ReportStore struct {
	db *sql.DB
}

// NewReportStore opens (and if needed initializes) the sqlite report sink.
func NewReportStore(dbPath string) (*ReportStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create report db directory: %w", err)
	}

	// WAL mode keeps report writes from blocking each other.
	dsn := dbPath + "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open report db: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping report db: %w", err)
	}

	store := &ReportStore{db: db}
	if err := store.initSchema(); err != nil {
		return nil, fmt.Errorf("initialize report schema: %w", err)
	}
	return store, nil
}

func (s *ReportStore) initSchema() error {
	query := `
	PRAGMA busy_timeout = 5000;
	CREATE TABLE IF NOT EXISTS reports (
		session_id TEXT PRIMARY KEY,
		graph_ref TEXT NOT NULL,
		user_id TEXT NOT NULL,
		end_reason TEXT NOT NULL,
		top_strength TEXT NOT NULL,
		primary_gap TEXT NOT NULL,
		words_per_minute REAL NOT NULL,
		pause_ratio REAL NOT NULL,
		scores_json TEXT NOT NULL,
		history_json TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_reports_user ON reports(user_id, created_at);
	`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create schema: %w", err)
	}
	return nil
}

// SaveReport persists one finalized report. Saving the same session twice
// replaces the row, which keeps duplicate end signals harmless downstream
// too.
func (s *ReportStore) SaveReport(ctx context.Context, report sessionmodel.Report) error {
	scores, err := json.Marshal(report.Scores)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	history, err := json.Marshal(report.History)
	if err != nil {
		return fmt.Errorf("marshal history: %w", err)
	}

	query := `
	INSERT OR REPLACE INTO reports
		(session_id, graph_ref, user_id, end_reason, top_strength, primary_gap,
		 words_per_minute, pause_ratio, scores_json, history_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = s.db.ExecContext(ctx, query,
		report.SessionID, report.GraphRef, report.UserID, report.EndReason,
		report.TopStrength, report.PrimaryGap,
		report.Pacing.WordsPerMinute, report.Pacing.PauseRatio,
		string(scores), string(history), report.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert report: %w", err)
	}
	return nil
}

// GetReport retrieves one stored report; used by the operator surface and
// tests, never by in-session logic.
func (s *ReportStore) GetReport(ctx context.Context, sessionID string) (*sessionmodel.Report, error) {
	query := `
	SELECT session_id, graph_ref, user_id, end_reason, top_strength, primary_gap,
	       words_per_minute, pause_ratio, scores_json, history_json, created_at
	FROM reports WHERE session_id = ?`

	row := s.db.QueryRowContext(ctx, query, sessionID)

	var (
		report    sessionmodel.Report
		scores    string
		history   string
		createdAt int64
	)
	err := row.Scan(
		&report.SessionID, &report.GraphRef, &report.UserID, &report.EndReason,
		&report.TopStrength, &report.PrimaryGap,
		&report.Pacing.WordsPerMinute, &report.Pacing.PauseRatio,
		&scores, &history, &createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan report row: %w", err)
	}

	if err := json.Unmarshal([]byte(scores), &report.Scores); err != nil {
		return nil, fmt.Errorf("decode scores: %w", err)
	}
	if err := json.Unmarshal([]byte(history), &report.History); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}
	report.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &report, nil
}

// Close releases the database handle.
func (s *ReportStore) Close() error {
	return s.db.Close()
}
