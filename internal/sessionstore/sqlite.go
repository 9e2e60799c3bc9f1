// Package sessionstore persists conversation history and KPI baselines
// behind the agent.SessionStore interface. The SQLite implementation uses
// the pure-Go driver so the engine builds without cgo; an in-process
// implementation backs sessionless runs.
package sessionstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	_ "modernc.org/sqlite"

	"github.com/haasonsaas/agentcore/internal/agent"
	"github.com/haasonsaas/agentcore/pkg/models"
)

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	session_id TEXT NOT NULL,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	tool_calls TEXT,
	tool_results TEXT,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, created_at);
CREATE TABLE IF NOT EXISTS kpi_baselines (
	session_id TEXT PRIMARY KEY,
	data TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
`

// History bucketing: the most recent messages go to the LLM in full, the
// mid-term band truncated, everything older ultra-brief.
const (
	recentCount  = 20
	midTermCount = 30
	midTermChars = 400
	oldChars     = 80

	// messageRetention bounds how long the maintenance sweep keeps rows.
	messageRetention = 30 * 24 * time.Hour
)

// SQLiteStore is the durable SessionStore.
type SQLiteStore struct {
	db     *sql.DB
	cron   *cron.Cron
	logger *slog.Logger
}

// Open opens (creating if needed) the store at path.
func Open(path string, logger *slog.Logger) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", "file:"+path+"?_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sessionstore: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sessionstore: migrate: %w", err)
	}
	return &SQLiteStore{db: db, logger: logger}, nil
}

// StartMaintenance schedules the daily retention sweep. Idempotent.
func (s *SQLiteStore) StartMaintenance() {
	if s.cron != nil {
		return
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc("@daily", s.sweep)
	if err != nil {
		s.logger.Warn("failed to schedule maintenance sweep", "error", err)
		return
	}
	s.cron.Start()
}

func (s *SQLiteStore) sweep() {
	cutoff := time.Now().Add(-messageRetention)
	res, err := s.db.Exec(`DELETE FROM messages WHERE created_at < ?`, cutoff)
	if err != nil {
		s.logger.Warn("maintenance sweep failed", "error", err)
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		s.logger.Info("maintenance sweep removed stale messages", "rows", n)
	}
}

// Close stops maintenance and closes the database.
func (s *SQLiteStore) Close() error {
	if s.cron != nil {
		s.cron.Stop()
	}
	return s.db.Close()
}

// AppendMessages implements agent.SessionStore.
func (s *SQLiteStore) AppendMessages(ctx context.Context, sessionID string, msgs []models.Message) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sessionstore: append: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT OR IGNORE INTO messages (id, session_id, role, content, tool_calls, tool_results, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("sessionstore: append: %w", err)
	}
	defer stmt.Close()

	for _, m := range msgs {
		if m.ID == "" {
			m.ID = uuid.NewString()
		}
		if m.CreatedAt.IsZero() {
			m.CreatedAt = time.Now()
		}
		calls, _ := json.Marshal(m.ToolCalls)
		results, _ := json.Marshal(m.ToolResults)
		if _, err := stmt.ExecContext(ctx, m.ID, sessionID, string(m.Role), m.Content, string(calls), string(results), m.CreatedAt); err != nil {
			return fmt.Errorf("sessionstore: append: %w", err)
		}
	}
	return tx.Commit()
}

// GetConversationHistory implements the progressive recent/mid-term/old
// bucketing over stored messages.
func (s *SQLiteStore) GetConversationHistory(ctx context.Context, sessionID string) (agent.ConversationHistory, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at FROM messages WHERE session_id = ? ORDER BY created_at ASC, rowid ASC`, sessionID)
	if err != nil {
		return agent.ConversationHistory{}, fmt.Errorf("sessionstore: history: %w", err)
	}
	defer rows.Close()

	var all []models.Message
	for rows.Next() {
		var m models.Message
		var role string
		if err := rows.Scan(&role, &m.Content, &m.CreatedAt); err != nil {
			return agent.ConversationHistory{}, fmt.Errorf("sessionstore: history: %w", err)
		}
		m.Role = models.Role(role)
		m.SessionID = sessionID
		all = append(all, m)
	}
	if err := rows.Err(); err != nil {
		return agent.ConversationHistory{}, fmt.Errorf("sessionstore: history: %w", err)
	}
	return bucketHistory(all), nil
}

// bucketHistory splits chronological messages into old / mid-term / recent
// bands with progressive truncation.
func bucketHistory(all []models.Message) agent.ConversationHistory {
	var hist agent.ConversationHistory
	n := len(all)
	recentStart := n - recentCount
	if recentStart < 0 {
		recentStart = 0
	}
	midStart := recentStart - midTermCount
	if midStart < 0 {
		midStart = 0
	}

	for _, m := range all[:midStart] {
		m.Content = truncate(m.Content, oldChars)
		hist.Old = append(hist.Old, m)
	}
	for _, m := range all[midStart:recentStart] {
		m.Content = truncate(m.Content, midTermChars)
		hist.MidTerm = append(hist.MidTerm, m)
	}
	hist.Recent = append(hist.Recent, all[recentStart:]...)
	return hist
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// GetKPIBaseline implements agent.SessionStore. A session with no baseline
// returns (nil, nil).
func (s *SQLiteStore) GetKPIBaseline(ctx context.Context, sessionID string) (*models.KPIBaseline, error) {
	var data string
	err := s.db.QueryRowContext(ctx,
		`SELECT data FROM kpi_baselines WHERE session_id = ?`, sessionID).Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("sessionstore: baseline: %w", err)
	}
	var baseline models.KPIBaseline
	if err := json.Unmarshal([]byte(data), &baseline); err != nil {
		return nil, fmt.Errorf("sessionstore: baseline: %w", err)
	}
	return &baseline, nil
}

// UpdateKPIBaseline applies fn read-modify-write with last-writer-wins
// semantics; baselines are advisory.
func (s *SQLiteStore) UpdateKPIBaseline(ctx context.Context, sessionID string, fn func(*models.KPIBaseline)) error {
	baseline, err := s.GetKPIBaseline(ctx, sessionID)
	if err != nil {
		return err
	}
	if baseline == nil {
		baseline = &models.KPIBaseline{}
	}
	fn(baseline)
	data, err := json.Marshal(baseline)
	if err != nil {
		return fmt.Errorf("sessionstore: baseline: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO kpi_baselines (session_id, data, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(session_id) DO UPDATE SET data = excluded.data, updated_at = excluded.updated_at`,
		sessionID, string(data), time.Now())
	if err != nil {
		return fmt.Errorf("sessionstore: baseline: %w", err)
	}
	return nil
}
