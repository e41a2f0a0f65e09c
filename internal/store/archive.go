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
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/storytime/internal/domain"
	"github.com/ashureev/storytime/internal/shared"

	// SQL drivers for the supported archive dialects.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

type dialect struct {
	driver string
	schema []string
	// numbered placeholders ($1, $2) instead of ?
	numbered bool
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		schema: []string{
			`PRAGMA busy_timeout = 5000`,
			`CREATE TABLE IF NOT EXISTS transcripts (
				session_id        TEXT PRIMARY KEY,
				image_description TEXT NOT NULL,
				reason            TEXT NOT NULL,
				message_count     INTEGER NOT NULL,
				started_at        INTEGER NOT NULL,
				ended_at          INTEGER NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transcripts_ended ON transcripts(ended_at)`,
			`CREATE TABLE IF NOT EXISTS transcript_messages (
				session_id TEXT NOT NULL,
				position   INTEGER NOT NULL,
				role       TEXT NOT NULL,
				content    TEXT NOT NULL,
				tool_calls TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (session_id, position)
			)`,
		},
	},
	"postgres": {
		driver:   "postgres",
		numbered: true,
		schema: []string{
			`CREATE TABLE IF NOT EXISTS transcripts (
				session_id        TEXT PRIMARY KEY,
				image_description TEXT NOT NULL,
				reason            TEXT NOT NULL,
				message_count     INTEGER NOT NULL,
				started_at        BIGINT NOT NULL,
				ended_at          BIGINT NOT NULL
			)`,
			`CREATE INDEX IF NOT EXISTS idx_transcripts_ended ON transcripts(ended_at)`,
			`CREATE TABLE IF NOT EXISTS transcript_messages (
				session_id TEXT NOT NULL,
				position   INTEGER NOT NULL,
				role       TEXT NOT NULL,
				content    TEXT NOT NULL,
				tool_calls TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (session_id, position)
			)`,
		},
	},
	"mysql": {
		driver: "mysql",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS transcripts (
				session_id        VARCHAR(128) PRIMARY KEY,
				image_description TEXT NOT NULL,
				reason            VARCHAR(32) NOT NULL,
				message_count     INT NOT NULL,
				started_at        BIGINT NOT NULL,
				ended_at          BIGINT NOT NULL,
				INDEX idx_transcripts_ended (ended_at)
			)`,
			`CREATE TABLE IF NOT EXISTS transcript_messages (
				session_id VARCHAR(128) NOT NULL,
				position   INT NOT NULL,
				role       VARCHAR(16) NOT NULL,
				content    MEDIUMTEXT NOT NULL,
				tool_calls MEDIUMTEXT NOT NULL,
				PRIMARY KEY (session_id, position)
			)`,
		},
	},
}

// SQLArchive implements Archive on SQLite, PostgreSQL or MySQL.
type SQLArchive struct {
	db      *sql.DB
	dialect dialect
}

// OpenArchive opens the archive database for driver and creates its schema.
func OpenArchive(ctx context.Context, driver, dsn string) (*SQLArchive, error) {
	d, ok := dialects[driver]
	if !ok {
		return nil, fmt.Errorf("unsupported archive driver %q", driver)
	}

	if driver == "sqlite" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0755); err != nil {
			return nil, fmt.Errorf("create archive directory: %w", err)
		}
		if !strings.Contains(dsn, "?") {
			dsn += "?_journal=WAL&_sync=NORMAL&_busy_timeout=5000"
		}
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping archive: %w", err)
	}

	a := &SQLArchive{db: db, dialect: d}
	if err := a.initSchema(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return a, nil
}

func (a *SQLArchive) initSchema(ctx context.Context) error {
	for _, stmt := range a.dialect.schema {
		if _, err := a.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("create schema: %w", err)
		}
	}
	return nil
}

// rebind rewrites ? placeholders for dialects that number them.
func (a *SQLArchive) rebind(query string) string {
	if !a.dialect.numbered {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Ping verifies database connectivity.
func (a *SQLArchive) Ping(ctx context.Context) error {
	return a.db.PingContext(ctx)
}

// Save writes the transcript, replacing any earlier copy for the same session.
// SQLite lock conflicts are retried with backoff.
func (a *SQLArchive) Save(ctx context.Context, t domain.Transcript) error {
	return shared.RetryOnConflict(ctx, "archive save", func() error {
		return a.saveOnce(ctx, t)
	})
}

func (a *SQLArchive) saveOnce(ctx context.Context, t domain.Transcript) (err error) {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
				slog.Warn("archive rollback failed", "error", rbErr)
			}
		}
	}()

	if _, err = tx.ExecContext(ctx, a.rebind(`DELETE FROM transcript_messages WHERE session_id = ?`), t.SessionID); err != nil {
		return fmt.Errorf("clear transcript messages: %w", err)
	}
	if _, err = tx.ExecContext(ctx, a.rebind(`DELETE FROM transcripts WHERE session_id = ?`), t.SessionID); err != nil {
		return fmt.Errorf("clear transcript: %w", err)
	}

	_, err = tx.ExecContext(ctx, a.rebind(`
		INSERT INTO transcripts (session_id, image_description, reason, message_count, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?)`),
		t.SessionID, t.ImageDescription, t.Reason, len(t.Messages),
		t.StartedAt.Unix(), t.EndedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("insert transcript: %w", err)
	}

	insertMsg := a.rebind(`
		INSERT INTO transcript_messages (session_id, position, role, content, tool_calls)
		VALUES (?, ?, ?, ?, ?)`)
	for i, m := range t.Messages {
		calls := ""
		if len(m.ToolCalls) > 0 {
			b, mErr := json.Marshal(m.ToolCalls)
			if mErr != nil {
				err = fmt.Errorf("encode tool calls: %w", mErr)
				return err
			}
			calls = string(b)
		}
		if _, err = tx.ExecContext(ctx, insertMsg, t.SessionID, i, string(m.Role), m.Content, calls); err != nil {
			return fmt.Errorf("insert transcript message %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transcript: %w", err)
	}
	return nil
}

// Get loads an archived transcript.
func (a *SQLArchive) Get(ctx context.Context, sessionID string) (domain.Transcript, error) {
	t := domain.Transcript{SessionID: sessionID}
	var count int
	var startedAt, endedAt int64

	row := a.db.QueryRowContext(ctx, a.rebind(`
		SELECT image_description, reason, message_count, started_at, ended_at
		FROM transcripts WHERE session_id = ?`), sessionID)
	err := row.Scan(&t.ImageDescription, &t.Reason, &count, &startedAt, &endedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Transcript{}, ErrTranscriptNotFound
	}
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("scan transcript: %w", err)
	}
	t.StartedAt = time.Unix(startedAt, 0)
	t.EndedAt = time.Unix(endedAt, 0)

	rows, err := a.db.QueryContext(ctx, a.rebind(`
		SELECT role, content, tool_calls FROM transcript_messages
		WHERE session_id = ? ORDER BY position`), sessionID)
	if err != nil {
		return domain.Transcript{}, fmt.Errorf("query transcript messages: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			slog.Warn("failed to close transcript rows", "error", closeErr)
		}
	}()

	t.Messages = make([]domain.Message, 0, count)
	for rows.Next() {
		var role, content, calls string
		if err := rows.Scan(&role, &content, &calls); err != nil {
			return domain.Transcript{}, fmt.Errorf("scan transcript message: %w", err)
		}
		m := domain.Message{Role: domain.Role(role), Content: content}
		if calls != "" {
			if err := json.Unmarshal([]byte(calls), &m.ToolCalls); err != nil {
				return domain.Transcript{}, fmt.Errorf("decode tool calls: %w", err)
			}
		}
		t.Messages = append(t.Messages, m)
	}
	if err := rows.Err(); err != nil {
		return domain.Transcript{}, fmt.Errorf("iterate transcript messages: %w", err)
	}
	return t, nil
}

// DeleteOlderThan removes transcripts that ended before cutoff.
func (a *SQLArchive) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	var deleted int64
	err := shared.RetryOnConflict(ctx, "archive cleanup", func() error {
		threshold := cutoff.Unix()
		if _, err := a.db.ExecContext(ctx, a.rebind(`
			DELETE FROM transcript_messages WHERE session_id IN (
				SELECT session_id FROM transcripts WHERE ended_at < ?
			)`), threshold); err != nil {
			return fmt.Errorf("delete expired transcript messages: %w", err)
		}
		res, err := a.db.ExecContext(ctx, a.rebind(`DELETE FROM transcripts WHERE ended_at < ?`), threshold)
		if err != nil {
			return fmt.Errorf("delete expired transcripts: %w", err)
		}
		deleted, err = res.RowsAffected()
		if err != nil {
			return fmt.Errorf("get rows affected: %w", err)
		}
		return nil
	})
	return deleted, err
}

// Close closes the database connection.
func (a *SQLArchive) Close() error {
	if err := a.db.Close(); err != nil {
		return fmt.Errorf("close database: %w", err)
	}
	return nil
}
