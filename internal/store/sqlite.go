// ABOUTME: SQLite implementation of the Store interface using modernc.org/sqlite or mattn/go-sqlite3
// ABOUTME: Persists thread checkpoints and their messages with automatic schema creation

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	_ "modernc.org/sqlite"
)

// DefaultDriver is the pure Go SQLite driver registered by modernc.org/sqlite.
const DefaultDriver = "sqlite"

// SQLiteStore implements the Store interface using SQLite
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLiteStore creates a new SQLite store at the given path using the pure Go driver
// and the default logger.
// The schema is automatically created if it doesn't exist.
// Parent directories are created if needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	return Open(DefaultDriver, path, nil)
}

// Open creates a SQLite store using the named database/sql driver,
// either "sqlite" (modernc.org/sqlite) or "sqlite3" (mattn/go-sqlite3).
// A nil logger uses slog.Default().
func Open(driver, path string, logger *slog.Logger) (*SQLiteStore, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "store")

	switch driver {
	case "sqlite", "sqlite3":
	default:
		return nil, fmt.Errorf("unsupported sqlite driver %q", driver)
	}

	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open(driver, dsn(driver, path))
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent performance
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}

	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}

	s := &SQLiteStore{
		db:     db,
		logger: logger,
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if err := s.runMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	logger.Info("SQLite store initialized", "path", path, "driver", driver)
	return s, nil
}

// createSchema creates the database tables if they don't exist.
// Every write to a thread creates one checkpoint row; messages hang off the
// checkpoint that introduced them.
func (s *SQLiteStore) createSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS checkpoints (
			checkpoint_id TEXT PRIMARY KEY,
			thread_id     TEXT NOT NULL,
			title         TEXT,
			created_at    DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_checkpoints_thread
			ON checkpoints(thread_id);

		CREATE TABLE IF NOT EXISTS checkpoint_messages (
			thread_id     TEXT NOT NULL,
			seq           INTEGER NOT NULL,
			checkpoint_id TEXT NOT NULL,
			message_id    TEXT NOT NULL,
			role          TEXT NOT NULL,
			content       TEXT NOT NULL,
			tool_calls    TEXT,
			tool_call_id  TEXT,
			tool_name     TEXT,
			created_at    DATETIME NOT NULL,

			PRIMARY KEY (thread_id, seq),
			FOREIGN KEY (checkpoint_id) REFERENCES checkpoints(checkpoint_id) ON DELETE CASCADE,
			CHECK (role IN ('user', 'assistant', 'tool'))
		);

		CREATE UNIQUE INDEX IF NOT EXISTS idx_checkpoint_messages_id
			ON checkpoint_messages(message_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// runMigrations adds columns missing from databases created before tool
// results were tracked per call
func (s *SQLiteStore) runMigrations() error {
	// SQLite doesn't support ADD COLUMN IF NOT EXISTS, so we check first
	migrations := []struct {
		check  string
		apply  string
		column string
	}{
		{
			check:  `SELECT 1 FROM pragma_table_info('checkpoint_messages') WHERE name = 'tool_call_id'`,
			apply:  `ALTER TABLE checkpoint_messages ADD COLUMN tool_call_id TEXT`,
			column: "tool_call_id",
		},
		{
			check:  `SELECT 1 FROM pragma_table_info('checkpoint_messages') WHERE name = 'tool_name'`,
			apply:  `ALTER TABLE checkpoint_messages ADD COLUMN tool_name TEXT`,
			column: "tool_name",
		},
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRow(m.check).Scan(&exists)
		if err == nil {
			continue
		}
		if _, err := s.db.Exec(m.apply); err != nil {
			return fmt.Errorf("adding %s column to checkpoint_messages: %w", m.column, err)
		}
		s.logger.Debug("applied migration", "column", m.column, "table", "checkpoint_messages")
	}

	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	s.logger.Info("closing SQLite store")
	return s.db.Close()
}

// ListThreadIDs returns the distinct thread ids found in the checkpoint table.
func (s *SQLiteStore) ListThreadIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT thread_id FROM checkpoints`)
	if err != nil {
		return nil, fmt.Errorf("listing thread ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning thread id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ListThreads returns one summary per thread, newest thread first.
func (s *SQLiteStore) ListThreads(ctx context.Context) ([]ThreadSummary, error) {
	query := `
		SELECT
			c.thread_id,
			COALESCE((
				SELECT t.title FROM checkpoints t
				WHERE t.thread_id = c.thread_id AND t.title IS NOT NULL
				ORDER BY t.rowid DESC LIMIT 1
			), ''),
			(SELECT COUNT(*) FROM checkpoint_messages m WHERE m.thread_id = c.thread_id),
			MAX(c.created_at)
		FROM checkpoints c
		GROUP BY c.thread_id
		ORDER BY MIN(c.rowid) DESC
	`

	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("listing threads: %w", err)
	}
	defer rows.Close()

	var summaries []ThreadSummary
	for rows.Next() {
		var (
			sum     ThreadSummary
			updated any
		)
		if err := rows.Scan(&sum.ID, &sum.Title, &sum.MessageCount, &updated); err != nil {
			return nil, fmt.Errorf("scanning thread summary: %w", err)
		}
		sum.UpdatedAt = parseTimestamp(updated)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// LoadState returns the thread's messages in order plus its latest title.
// A thread with no checkpoints yields an empty state.
func (s *SQLiteStore) LoadState(ctx context.Context, threadID string) (*ThreadState, error) {
	state := NewThreadState(threadID)

	err := s.db.QueryRowContext(ctx, `
		SELECT title FROM checkpoints
		WHERE thread_id = ? AND title IS NOT NULL
		ORDER BY rowid DESC LIMIT 1
	`, threadID).Scan(&state.Title)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("loading title: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT message_id, role, content, tool_calls, tool_call_id, tool_name, created_at
		FROM checkpoint_messages
		WHERE thread_id = ?
		ORDER BY seq ASC
	`, threadID)
	if err != nil {
		return nil, fmt.Errorf("loading messages: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			msg        Message
			role       string
			toolCalls  sql.NullString
			toolCallID sql.NullString
			toolName   sql.NullString
		)
		if err := rows.Scan(&msg.ID, &role, &msg.Content, &toolCalls, &toolCallID, &toolName, &msg.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		msg.Role, err = ParseRole(role)
		if err != nil {
			return nil, err
		}
		if toolCalls.Valid && toolCalls.String != "" {
			if err := json.Unmarshal([]byte(toolCalls.String), &msg.ToolCalls); err != nil {
				return nil, fmt.Errorf("decoding tool calls for message %s: %w", msg.ID, err)
			}
		}
		msg.ToolCallID = toolCallID.String
		msg.ToolName = toolName.String
		state.Messages = append(state.Messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating messages: %w", err)
	}

	return state, nil
}

// AppendMessages writes one checkpoint holding the given messages.
// Messages missing an ID or timestamp get one assigned.
func (s *SQLiteStore) AppendMessages(ctx context.Context, threadID string, msgs ...Message) error {
	if threadID == "" {
		return fmt.Errorf("%w: empty thread id", ErrInvalidMessage)
	}
	if len(msgs) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	checkpointID, err := insertCheckpoint(ctx, tx, threadID, nil)
	if err != nil {
		return err
	}

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(seq), 0) FROM checkpoint_messages WHERE thread_id = ?`, threadID,
	).Scan(&seq); err != nil {
		return fmt.Errorf("reading sequence: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO checkpoint_messages
			(thread_id, seq, checkpoint_id, message_id, role, content, tool_calls, tool_call_id, tool_name, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("preparing insert: %w", err)
	}
	defer stmt.Close()

	for _, msg := range msgs {
		if _, err := ParseRole(string(msg.Role)); err != nil {
			return err
		}
		if msg.ID == "" {
			msg.ID = NewThreadID()
		}
		if msg.CreatedAt.IsZero() {
			msg.CreatedAt = time.Now().UTC()
		}

		var toolCalls sql.NullString
		if len(msg.ToolCalls) > 0 {
			data, err := json.Marshal(msg.ToolCalls)
			if err != nil {
				return fmt.Errorf("encoding tool calls: %w", err)
			}
			toolCalls = sql.NullString{String: string(data), Valid: true}
		}

		seq++
		_, err := stmt.ExecContext(ctx,
			threadID, seq, checkpointID, msg.ID, string(msg.Role), msg.Content,
			toolCalls, nullString(msg.ToolCallID), nullString(msg.ToolName), msg.CreatedAt,
		)
		if err != nil {
			if isConstraintViolation(err) {
				return fmt.Errorf("%w: duplicate message %s", ErrInvalidMessage, msg.ID)
			}
			return fmt.Errorf("inserting message: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing checkpoint: %w", err)
	}

	s.logger.Debug("appended messages", "thread_id", threadID, "count", len(msgs), "checkpoint_id", checkpointID)
	return nil
}

// SetTitle writes a checkpoint carrying the thread's title.
func (s *SQLiteStore) SetTitle(ctx context.Context, threadID, title string) error {
	if threadID == "" {
		return fmt.Errorf("%w: empty thread id", ErrInvalidMessage)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := insertCheckpoint(ctx, tx, threadID, &title); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing title: %w", err)
	}

	s.logger.Debug("set thread title", "thread_id", threadID, "title", title)
	return nil
}

// DeleteThread removes every checkpoint and message of the thread.
// It runs on a connection of its own so an in-flight write on another thread
// never shares its session.
func (s *SQLiteStore) DeleteThread(ctx context.Context, threadID string) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("acquiring connection: %w", err)
	}
	defer conn.Close()

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM checkpoint_messages WHERE thread_id = ?`, threadID); err != nil {
		return fmt.Errorf("deleting messages: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM checkpoints WHERE thread_id = ?`, threadID)
	if err != nil {
		return fmt.Errorf("deleting checkpoints: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing delete: %w", err)
	}

	n, _ := res.RowsAffected()
	s.logger.Info("deleted thread", "thread_id", threadID, "checkpoints", n)
	return nil
}

// dsn applies the busy timeout to every pooled connection, not just the
// first one the PRAGMA statements above happen to run on.
func dsn(driver, path string) string {
	if driver == "sqlite3" {
		return path + "?_busy_timeout=5000&_foreign_keys=on"
	}
	return path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
}

func insertCheckpoint(ctx context.Context, tx *sql.Tx, threadID string, title *string) (string, error) {
	checkpointID := NewThreadID()
	_, err := tx.ExecContext(ctx,
		`INSERT INTO checkpoints (checkpoint_id, thread_id, title, created_at) VALUES (?, ?, ?, ?)`,
		checkpointID, threadID, title, time.Now().UTC(),
	)
	if err != nil {
		return "", fmt.Errorf("inserting checkpoint: %w", err)
	}
	return checkpointID, nil
}

// isConstraintViolation checks if an error is a SQLite constraint violation
func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "UNIQUE constraint failed") ||
		strings.Contains(errStr, "constraint failed")
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// parseTimestamp handles aggregate columns, which come back as strings
// rather than time.Time from both drivers.
func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		return parseTimeString(t)
	case []byte:
		return parseTimeString(string(t))
	default:
		return time.Time{}
	}
}

func parseTimeString(s string) time.Time {
	layouts := []string{
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02T15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999Z07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}
