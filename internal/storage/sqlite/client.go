package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/funnel-agent/backend/internal/storage/models"
	"github.com/funnel-agent/backend/pkg/logger"
)

var ErrNotFound = errors.New("record not found")

type Client struct {
	db *sql.DB
}

func NewClient(dbPath string) (*Client, error) {
	db, err := sql.Open("sqlite3", dsn(dbPath))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	_, err = db.Exec("PRAGMA foreign_keys = ON")
	if err != nil {
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	_, err = db.Exec("PRAGMA journal_mode = WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// WAL still allows a single writer.
	db.SetMaxOpenConns(1)

	logger.Info("SQLite client initialized", zap.String("path", dbPath))

	return &Client{db: db}, nil
}

// dsn enables foreign keys on every pooled connection, not just the first.
func dsn(path string) string {
	if strings.Contains(path, "?") {
		return path + "&_foreign_keys=on"
	}
	return path + "?_foreign_keys=on"
}

func (c *Client) Close() error {
	return c.db.Close()
}

func (c *Client) Ping() error {
	return c.db.Ping()
}

func (c *Client) InitSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS sessions (
		id TEXT PRIMARY KEY,
		user_id TEXT,
		title TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_sessions_user ON sessions(user_id);
	CREATE INDEX IF NOT EXISTS idx_sessions_updated ON sessions(updated_at);

	CREATE TABLE IF NOT EXISTS messages (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		seq INTEGER NOT NULL,
		role TEXT NOT NULL,
		content TEXT NOT NULL,
		tool_calls TEXT,
		tool_call_id TEXT,
		tool_name TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_messages_session ON messages(session_id, seq);

	CREATE TABLE IF NOT EXISTS query_history (
		id TEXT PRIMARY KEY,
		session_id TEXT NOT NULL,
		user_id TEXT,
		query_text TEXT NOT NULL,
		response TEXT,
		intent TEXT,
		plan TEXT,
		confidence REAL,
		tool_calls INTEGER DEFAULT 0,
		latency_ms INTEGER,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (session_id) REFERENCES sessions(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_query_user ON query_history(user_id);
	CREATE INDEX IF NOT EXISTS idx_query_session ON query_history(session_id);
	CREATE INDEX IF NOT EXISTS idx_query_created ON query_history(created_at);

	CREATE TABLE IF NOT EXISTS tool_invocations (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		tool_name TEXT NOT NULL,
		arguments TEXT,
		status TEXT NOT NULL,
		cached INTEGER DEFAULT 0,
		latency_ms INTEGER,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_invocations_query ON tool_invocations(query_id);

	CREATE TABLE IF NOT EXISTS feedback (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		query_id TEXT NOT NULL,
		helpful INTEGER NOT NULL,
		issue_category TEXT,
		comment TEXT,
		created_at INTEGER NOT NULL,
		FOREIGN KEY (query_id) REFERENCES query_history(id) ON DELETE CASCADE
	);
	CREATE INDEX IF NOT EXISTS idx_feedback_query ON feedback(query_id);
	CREATE INDEX IF NOT EXISTS idx_feedback_created ON feedback(created_at);
	`

	_, err := c.db.Exec(schema)
	if err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}

	logger.Info("SQLite schema initialized")
	return nil
}

func (c *Client) CreateSession(session *models.Session) error {
	query := `INSERT INTO sessions (id, user_id, title, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`

	_, err := c.db.Exec(
		query,
		session.ID,
		session.UserID,
		session.Title,
		session.CreatedAt.Unix(),
		session.UpdatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}

	logger.Debug("Session created", zap.String("session_id", session.ID))
	return nil
}

func (c *Client) GetSession(id string) (*models.Session, error) {
	query := `SELECT id, COALESCE(user_id, ''), title, created_at, updated_at FROM sessions WHERE id = ?`

	var s models.Session
	var createdAt, updatedAt int64

	err := c.db.QueryRow(query, id).Scan(&s.ID, &s.UserID, &s.Title, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	s.CreatedAt = time.Unix(createdAt, 0)
	s.UpdatedAt = time.Unix(updatedAt, 0)
	return &s, nil
}

// ListSessions returns the user's sessions, most recently active first. An
// empty userID lists every session.
func (c *Client) ListSessions(userID string, limit int) ([]models.Session, error) {
	query := `
		SELECT id, COALESCE(user_id, ''), title, created_at, updated_at
		FROM sessions
		WHERE (? = '' OR user_id = ?)
		ORDER BY updated_at DESC, id
		LIMIT ?
	`

	rows, err := c.db.Query(query, userID, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []models.Session{}
	for rows.Next() {
		var s models.Session
		var createdAt, updatedAt int64
		if err := rows.Scan(&s.ID, &s.UserID, &s.Title, &createdAt, &updatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		s.CreatedAt = time.Unix(createdAt, 0)
		s.UpdatedAt = time.Unix(updatedAt, 0)
		sessions = append(sessions, s)
	}

	return sessions, rows.Err()
}

func (c *Client) DeleteSession(id string) error {
	res, err := c.db.Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	logger.Info("Session deleted", zap.String("session_id", id))
	return nil
}

// DeleteSessionsBefore removes sessions idle since before cutoff along with
// their messages, history and feedback.
func (c *Client) DeleteSessionsBefore(cutoff time.Time) (int64, error) {
	res, err := c.db.Exec(`DELETE FROM sessions WHERE updated_at < ?`, cutoff.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to prune sessions: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// AppendMessage stores msg at the end of its session and bumps the
// session's activity time.
func (c *Client) AppendMessage(msg *models.Message) error {
	tx, err := c.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var toolCalls any
	if len(msg.ToolCalls) > 0 {
		toolCalls = string(msg.ToolCalls)
	}

	_, err = tx.Exec(`
		INSERT INTO messages (id, session_id, seq, role, content, tool_calls, tool_call_id, tool_name, created_at)
		VALUES (?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM messages WHERE session_id = ?), ?, ?, ?, ?, ?, ?)
	`,
		msg.ID,
		msg.SessionID,
		msg.SessionID,
		string(msg.Role),
		msg.Content,
		toolCalls,
		msg.ToolCallID,
		msg.ToolName,
		msg.CreatedAt.Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert message: %w", err)
	}

	res, err := tx.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, msg.CreatedAt.Unix(), msg.SessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}

	return tx.Commit()
}

// GetMessages returns the last limit messages of a session in conversation
// order. A non-positive limit returns them all.
func (c *Client) GetMessages(sessionID string, limit int) ([]models.Message, error) {
	if limit <= 0 {
		limit = -1
	}
	query := `
		SELECT id, session_id, role, content, COALESCE(tool_calls, ''), COALESCE(tool_call_id, ''),
			COALESCE(tool_name, ''), created_at
		FROM (
			SELECT * FROM messages WHERE session_id = ? ORDER BY seq DESC LIMIT ?
		)
		ORDER BY seq ASC
	`

	rows, err := c.db.Query(query, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()

	messages := []models.Message{}
	for rows.Next() {
		var m models.Message
		var role, toolCalls string
		var createdAt int64
		if err := rows.Scan(&m.ID, &m.SessionID, &role, &m.Content, &toolCalls, &m.ToolCallID, &m.ToolName, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		m.Role = models.Role(role)
		if toolCalls != "" {
			m.ToolCalls = []byte(toolCalls)
		}
		m.CreatedAt = time.Unix(createdAt, 0)
		messages = append(messages, m)
	}

	return messages, rows.Err()
}

func (c *Client) InsertQueryRecord(record *models.QueryRecord) error {
	query := `
		INSERT INTO query_history (id, session_id, user_id, query_text, response, intent, plan,
			confidence, tool_calls, latency_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := c.db.Exec(
		query,
		record.ID,
		record.SessionID,
		record.UserID,
		record.QueryText,
		record.Response,
		record.Intent,
		string(record.Plan),
		record.Confidence,
		record.ToolCalls,
		record.LatencyMS,
		record.CreatedAt.Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to insert query record: %w", err)
	}

	logger.Info("Query recorded",
		zap.String("query_id", record.ID),
		zap.String("session_id", record.SessionID),
		zap.String("intent", record.Intent),
		zap.Float64("confidence", record.Confidence),
	)

	return nil
}

func (c *Client) InsertToolInvocation(inv *models.ToolInvocation) error {
	query := `INSERT INTO tool_invocations (query_id, tool_name, arguments, status, cached, latency_ms) VALUES (?, ?, ?, ?, ?, ?)`

	cached := 0
	if inv.Cached {
		cached = 1
	}

	_, err := c.db.Exec(query, inv.QueryID, inv.ToolName, inv.Arguments, inv.Status, cached, inv.LatencyMS)
	if err != nil {
		return fmt.Errorf("failed to insert tool invocation: %w", err)
	}

	return nil
}

func (c *Client) GetToolInvocations(queryID string) ([]models.ToolInvocation, error) {
	query := `
		SELECT id, query_id, tool_name, COALESCE(arguments, ''), status, cached, COALESCE(latency_ms, 0)
		FROM tool_invocations WHERE query_id = ? ORDER BY id
	`

	rows, err := c.db.Query(query, queryID)
	if err != nil {
		return nil, fmt.Errorf("failed to get tool invocations: %w", err)
	}
	defer rows.Close()

	invocations := []models.ToolInvocation{}
	for rows.Next() {
		var inv models.ToolInvocation
		var cached int
		if err := rows.Scan(&inv.ID, &inv.QueryID, &inv.ToolName, &inv.Arguments, &inv.Status, &cached, &inv.LatencyMS); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		inv.Cached = cached == 1
		invocations = append(invocations, inv)
	}

	return invocations, rows.Err()
}

// GetQueryHistory returns the newest records first, filtered by user and,
// when sessionID is set, by session.
func (c *Client) GetQueryHistory(userID, sessionID string, limit int) ([]models.QueryRecord, error) {
	query := `
		SELECT id, session_id, COALESCE(user_id, ''), query_text, COALESCE(response, ''),
			COALESCE(intent, ''), COALESCE(plan, ''), COALESCE(confidence, 0),
			COALESCE(tool_calls, 0), COALESCE(latency_ms, 0), created_at
		FROM query_history
		WHERE (? = '' OR user_id = ?) AND (? = '' OR session_id = ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := c.db.Query(query, userID, userID, sessionID, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get query history: %w", err)
	}
	defer rows.Close()

	records := []models.QueryRecord{}
	for rows.Next() {
		var r models.QueryRecord
		var plan string
		var createdAt int64

		err := rows.Scan(&r.ID, &r.SessionID, &r.UserID, &r.QueryText, &r.Response,
			&r.Intent, &plan, &r.Confidence, &r.ToolCalls, &r.LatencyMS, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}

		if plan != "" {
			r.Plan = []byte(plan)
		}
		r.CreatedAt = time.Unix(createdAt, 0)
		records = append(records, r)
	}

	return records, rows.Err()
}

func (c *Client) StoreFeedback(feedback *models.Feedback) error {
	var exists int
	err := c.db.QueryRow(`SELECT COUNT(1) FROM query_history WHERE id = ?`, feedback.QueryID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to look up query: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	query := `INSERT INTO feedback (query_id, helpful, issue_category, comment, created_at) VALUES (?, ?, ?, ?, ?)`

	helpful := 0
	if feedback.Helpful {
		helpful = 1
	}

	_, err = c.db.Exec(
		query,
		feedback.QueryID,
		helpful,
		feedback.IssueCategory,
		feedback.Comment,
		time.Now().Unix(),
	)

	if err != nil {
		return fmt.Errorf("failed to store feedback: %w", err)
	}

	logger.Info("Feedback stored",
		zap.String("query_id", feedback.QueryID),
		zap.Bool("helpful", feedback.Helpful),
	)

	return nil
}

// FeedbackStats returns helpful and unhelpful counts since the given time.
func (c *Client) FeedbackStats(since time.Time) (helpful, unhelpful int, err error) {
	query := `
		SELECT COALESCE(SUM(CASE WHEN helpful = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(SUM(CASE WHEN helpful = 0 THEN 1 ELSE 0 END), 0)
		FROM feedback WHERE created_at >= ?
	`
	err = c.db.QueryRow(query, since.Unix()).Scan(&helpful, &unhelpful)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to get feedback stats: %w", err)
	}
	return helpful, unhelpful, nil
}
