// Package gatewaydb is the database facade: prepared-statement wrappers
// over PostgreSQL satisfying the exact contracts the connection engine
// consumes (new_conversation, new_message, update_choosee_last_presence_at,
// get_messages). The abstract wide-column store of the original design is
// realized here as a relational schema; no Cassandra/Scylla driver exists
// in the reference corpus this gateway was modeled on, so Postgres via
// lib/pq is the grounded substitution.
package gatewaydb

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/streamspace/realtime-gateway/internal/logger"
	"github.com/streamspace/realtime-gateway/internal/protocol"
)

// Config holds PostgreSQL connection configuration.
type Config struct {
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string
}

// Error is the single opaque error type every facade method returns on
// failure. Callers never distinguish retryable from permanent failures,
// matching the source facade's single DatabaseError(message).
type Error struct {
	msg string
}

func (e *Error) Error() string { return e.msg }

func wrapErr(action string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{msg: fmt.Sprintf("%s: %v", action, err)}
}

// Database is the facade over a connection pool and its prepared statements.
type Database struct {
	db *sql.DB

	newConversationStmt              *sql.Stmt
	newMessageStmt                   *sql.Stmt
	updateChooseeLastPresenceAtStmt  *sql.Stmt
	getMessagesStmt                  *sql.Stmt
}

// validateConfig guards against SQL-injection-by-connection-string: every
// field that ends up interpolated into the DSN is restricted to a safe
// character set before being used.
func validateConfig(c Config) error {
	if c.Host == "" {
		return fmt.Errorf("database host cannot be empty")
	}
	if net.ParseIP(c.Host) == nil {
		hostnameRegex := regexp.MustCompile(`^[a-zA-Z0-9]([a-zA-Z0-9\-\.]{0,253}[a-zA-Z0-9])?$`)
		if !hostnameRegex.MatchString(c.Host) {
			return fmt.Errorf("invalid database host: %s", c.Host)
		}
	}

	if c.Port == "" {
		return fmt.Errorf("database port cannot be empty")
	}
	port, err := strconv.Atoi(c.Port)
	if err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("invalid database port: %s", c.Port)
	}

	identRegex := regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	if c.User == "" || !identRegex.MatchString(c.User) {
		return fmt.Errorf("invalid database user: %s", c.User)
	}
	if c.DBName == "" || !identRegex.MatchString(c.DBName) {
		return fmt.Errorf("invalid database name: %s", c.DBName)
	}

	validSSLModes := []string{"disable", "allow", "prefer", "require", "verify-ca", "verify-full"}
	if c.SSLMode != "" {
		valid := false
		for _, mode := range validSSLModes {
			if c.SSLMode == mode {
				valid = true
				break
			}
		}
		if !valid {
			return fmt.Errorf("invalid SSL mode: %s (must be one of: %s)", c.SSLMode, strings.Join(validSSLModes, ", "))
		}
	}

	return nil
}

// New opens a connection pool, runs the schema, and prepares every
// statement the facade executes.
func New(cfg Config) (*Database, error) {
	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid database configuration: %w", err)
	}

	sslMode := cfg.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	if sslMode == "disable" {
		logger.Database().Warn().Msg("database SSL/TLS is disabled; set DB_SSL_MODE=require in production")
	}

	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, sslMode)

	sqlDB, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	sqlDB.SetMaxOpenConns(25)
	sqlDB.SetMaxIdleConns(5)
	sqlDB.SetConnMaxLifetime(5 * time.Minute)
	sqlDB.SetConnMaxIdleTime(1 * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if _, err := sqlDB.Exec(schemaDDL); err != nil {
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return prepare(sqlDB)
}

// NewFromConn wraps an already-open *sql.DB, used by tests to inject
// sqlmock. Statements are still prepared against it so the facade's
// behavior under test matches production.
func NewFromConn(sqlDB *sql.DB) (*Database, error) {
	return prepare(sqlDB)
}

func prepare(sqlDB *sql.DB) (*Database, error) {
	d := &Database{db: sqlDB}

	var err error
	d.newConversationStmt, err = sqlDB.Prepare(
		`INSERT INTO conversations (conversation_id, chooser_username, choosee_username)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (conversation_id) DO NOTHING`)
	if err != nil {
		return nil, fmt.Errorf("prepare new_conversation: %w", err)
	}

	d.newMessageStmt, err = sqlDB.Prepare(
		`INSERT INTO messages (conversation_id, content, sent_at, from_chooser)
		 VALUES ($1, $2, $3, $4)`)
	if err != nil {
		return nil, fmt.Errorf("prepare new_message: %w", err)
	}

	d.updateChooseeLastPresenceAtStmt, err = sqlDB.Prepare(
		`INSERT INTO choosee_presence (conversation_id, occurred_at, leaving, chooser_hash)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (conversation_id, occurred_at) DO UPDATE SET leaving = EXCLUDED.leaving`)
	if err != nil {
		return nil, fmt.Errorf("prepare update_choosee_last_presence_at: %w", err)
	}

	d.getMessagesStmt, err = sqlDB.Prepare(
		`SELECT content, sent_at, from_chooser FROM messages
		 WHERE conversation_id = $1 AND sent_at > $2
		 LIMIT $3`)
	if err != nil {
		return nil, fmt.Errorf("prepare get_messages: %w", err)
	}

	return d, nil
}

// RawConn exposes the underlying connection pool for maintenance tasks
// (e.g. the presence reaper) that operate outside the facade's prepared
// statement set.
func (d *Database) RawConn() *sql.DB {
	return d.db
}

// Close releases the underlying connection pool.
func (d *Database) Close() error {
	return d.db.Close()
}

// NewConversation upserts a conversation row by conversation_id. Every
// statement here is idempotent: callers may invoke it multiple times
// without user-visible harm, since conversation_id is a pure function of
// its two participants and the current hour bucket.
func (d *Database) NewConversation(ctx context.Context, chooser, choosee, conversationID string) error {
	_, err := d.newConversationStmt.ExecContext(ctx, conversationID, chooser, choosee)
	return wrapErr("creating new conversation", err)
}

// NewMessage appends a message; the server assigns sent_at.
func (d *Database) NewMessage(ctx context.Context, conversationID, content string, fromChooser bool) error {
	_, err := d.newMessageStmt.ExecContext(ctx, conversationID, content, time.Now().UTC(), fromChooser)
	return wrapErr("creating new message", err)
}

// UpdateChooseeLastPresenceAt upserts a presence row. chooserHash identifies
// the conversation's chooser by routing hash, not plaintext username,
// consistent with every other persisted reference to a participant in
// this schema being hash-addressed.
func (d *Database) UpdateChooseeLastPresenceAt(ctx context.Context, conversationID string, occurredAt time.Time, leaving bool, chooserHash string) error {
	_, err := d.updateChooseeLastPresenceAtStmt.ExecContext(ctx, conversationID, occurredAt, leaving, chooserHash)
	return wrapErr("updating choosee_last_presence_at", err)
}

// GetMessages returns up to take messages strictly newer than
// afterSentAt. Ordering is not guaranteed; callers sort by SentAt.
func (d *Database) GetMessages(ctx context.Context, conversationID string, take int8, afterSentAt time.Time) ([]protocol.Message, error) {
	rows, err := d.getMessagesStmt.QueryContext(ctx, conversationID, afterSentAt, take)
	if err != nil {
		return nil, wrapErr("getting messages", err)
	}
	defer rows.Close()

	messages := make([]protocol.Message, 0, take)
	for rows.Next() {
		var m protocol.Message
		if err := rows.Scan(&m.Content, &m.SentAt, &m.FromChooser); err != nil {
			return nil, wrapErr("getting messages", err)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapErr("getting messages", err)
	}
	return messages, nil
}
