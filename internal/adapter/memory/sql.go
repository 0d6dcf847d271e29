package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"

	"avatarbot/internal/domain"
)

// dialect holds the driver name and statements for one SQL backend.
type dialect struct {
	driver string
	schema []string
	insert string
	query  string
}

var dialects = map[string]dialect{
	"sqlite": {
		driver: "sqlite",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id         INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id TEXT NOT NULL,
				role       TEXT NOT NULL,
				content    TEXT NOT NULL,
				user_id    TEXT,
				created_at TEXT NOT NULL DEFAULT CURRENT_TIMESTAMP
			)`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, id)`,
		},
		insert: "INSERT INTO messages (session_id, role, content, user_id) VALUES (?, ?, ?, ?)",
		query:  "SELECT role, content, user_id FROM messages WHERE session_id = ? ORDER BY id ASC",
	},
	"postgres": {
		driver: "pgx",
		schema: []string{
			`CREATE TABLE IF NOT EXISTS messages (
				id         SERIAL PRIMARY KEY,
				session_id VARCHAR NOT NULL,
				role       VARCHAR NOT NULL,
				content    TEXT NOT NULL,
				created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
			)`,
			// Tables created before user ids were recorded lack the column.
			`ALTER TABLE messages ADD COLUMN IF NOT EXISTS user_id VARCHAR`,
			`CREATE INDEX IF NOT EXISTS idx_messages_session ON messages (session_id, id)`,
		},
		insert: "INSERT INTO messages (session_id, role, content, user_id) VALUES ($1, $2, $3, $4)",
		query:  "SELECT role, content, user_id FROM messages WHERE session_id = $1 ORDER BY id ASC",
	},
}

// SQLStore keeps history in a "messages" table, one row per message,
// returned in insertion order.
type SQLStore struct {
	db *sql.DB
	d  dialect
}

var _ domain.MemoryStore = (*SQLStore)(nil)

// NewSQLStore opens dsn with the named dialect ("sqlite" or "postgres") and
// creates the schema if needed.
func NewSQLStore(ctx context.Context, dialectName, dsn string, maxConns int) (*SQLStore, error) {
	d, ok := dialects[strings.ToLower(dialectName)]
	if !ok {
		return nil, fmt.Errorf("unknown sql dialect %q", dialectName)
	}

	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", dialectName, err)
	}
	if d.driver == "sqlite" {
		// One writer; also keeps ":memory:" databases on a single connection.
		db.SetMaxOpenConns(1)
		if dsn != ":memory:" {
			if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
				db.Close()
				return nil, fmt.Errorf("set WAL mode: %w", err)
			}
		}
	} else if maxConns > 0 {
		db.SetMaxOpenConns(maxConns)
	}

	for _, stmt := range d.schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate %s: %w", dialectName, err)
		}
	}
	return &SQLStore{db: db, d: d}, nil
}

// GetHistory returns the session's messages ordered by insertion.
func (s *SQLStore) GetHistory(ctx context.Context, sessionID string) ([]domain.Message, error) {
	rows, err := s.db.QueryContext(ctx, s.d.query, sessionID)
	if err != nil {
		return nil, domain.NewDomainError("SQLStore.GetHistory", domain.ErrMemoryLoad, err.Error())
	}
	defer rows.Close()

	var msgs []domain.Message
	for rows.Next() {
		var (
			m      domain.Message
			userID sql.NullString
		)
		if err := rows.Scan(&m.Role, &m.Content, &userID); err != nil {
			return nil, domain.NewDomainError("SQLStore.GetHistory", domain.ErrMemoryLoad, err.Error())
		}
		if userID.Valid {
			m.UserID = domain.StringPtr(userID.String)
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewDomainError("SQLStore.GetHistory", domain.ErrMemoryLoad, err.Error())
	}
	return msgs, nil
}

// AddMessage inserts one row.
func (s *SQLStore) AddMessage(ctx context.Context, sessionID string, msg domain.Message) error {
	var userID sql.NullString
	if msg.UserID != nil {
		userID = sql.NullString{String: *msg.UserID, Valid: true}
	}
	if _, err := s.db.ExecContext(ctx, s.d.insert, sessionID, msg.Role, msg.Content, userID); err != nil {
		return domain.NewDomainError("SQLStore.AddMessage", domain.ErrMemoryStore, err.Error())
	}
	return nil
}

// Close closes the database.
func (s *SQLStore) Close() error { return s.db.Close() }
