// Package store persists conversations and their messages in SQLite.
package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Conversation is a chat thread
type Conversation struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Model     string    `json:"model,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StoredMessage is a single message within a conversation
type StoredMessage struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversation_id"`
	Role           string    `json:"role"`
	Content        string    `json:"content"`
	Model          string    `json:"model,omitempty"`
	PromptTokens   int       `json:"prompt_tokens,omitempty"`
	OutputTokens   int       `json:"output_tokens,omitempty"`
	ToolCalls      string    `json:"tool_calls,omitempty"`   // JSON encoded
	ToolResults    string    `json:"tool_results,omitempty"` // JSON encoded
	FinishReason   string    `json:"finish_reason,omitempty"`
	Streaming      bool      `json:"streaming,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// ConversationStats summarizes one conversation
type ConversationStats struct {
	ConversationID string    `json:"conversation_id"`
	MessageCount   int       `json:"message_count"`
	TotalTokens    int       `json:"total_tokens"`
	HasToolCalls   bool      `json:"has_tool_calls"`
	LastActivity   time.Time `json:"last_activity"`
}

// Stats summarizes stored data
type Stats struct {
	Conversations int `json:"conversations"`
	Messages      int `json:"messages"`
}

// Store wraps the SQLite database
type Store struct {
	db *sql.DB
}

const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id TEXT PRIMARY KEY,
	title TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS messages (
	id TEXT PRIMARY KEY,
	conversation_id TEXT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
	role TEXT NOT NULL,
	content TEXT NOT NULL,
	model TEXT NOT NULL DEFAULT '',
	prompt_tokens INTEGER NOT NULL DEFAULT 0,
	output_tokens INTEGER NOT NULL DEFAULT 0,
	tool_calls TEXT NOT NULL DEFAULT '',
	tool_results TEXT NOT NULL DEFAULT '',
	finish_reason TEXT NOT NULL DEFAULT '',
	streaming INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id);
`

// Open opens (and migrates) the database at path
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation creates a new conversation and returns it
func (s *Store) CreateConversation(title, model string) (*Conversation, error) {
	now := time.Now().UTC()
	conv := &Conversation{
		ID:        uuid.NewString(),
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, title, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Model, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// EnsureConversation returns the conversation with the given ID, creating it
// if it does not exist yet. Used when a chat request carries a conversation
// id minted by the client.
func (s *Store) EnsureConversation(id, title, model string) (*Conversation, error) {
	conv, err := s.GetConversation(id)
	if err != nil {
		return nil, err
	}
	if conv != nil {
		return conv, nil
	}

	now := time.Now().UTC()
	conv = &Conversation{
		ID:        id,
		Title:     title,
		Model:     model,
		CreatedAt: now,
		UpdatedAt: now,
	}
	_, err = s.db.Exec(
		`INSERT INTO conversations (id, title, model, created_at, updated_at) VALUES (?, ?, ?, ?, ?)`,
		conv.ID, conv.Title, conv.Model, conv.CreatedAt, conv.UpdatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	return conv, nil
}

// GetConversation fetches a conversation by ID, nil when absent
func (s *Store) GetConversation(id string) (*Conversation, error) {
	var conv Conversation
	err := s.db.QueryRow(
		`SELECT id, title, model, created_at, updated_at FROM conversations WHERE id = ?`, id,
	).Scan(&conv.ID, &conv.Title, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

// ListConversations returns conversations newest-first
func (s *Store) ListConversations(limit int) ([]*Conversation, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.Query(
		`SELECT id, title, model, created_at, updated_at FROM conversations ORDER BY updated_at DESC LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	defer rows.Close()

	var out []*Conversation
	for rows.Next() {
		var conv Conversation
		if err := rows.Scan(&conv.ID, &conv.Title, &conv.Model, &conv.CreatedAt, &conv.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, &conv)
	}
	return out, rows.Err()
}

// DeleteConversation removes a conversation and, via cascade, its messages
func (s *Store) DeleteConversation(id string) error {
	_, err := s.db.Exec(`DELETE FROM conversations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	return nil
}

// AddMessage appends a message to a conversation and bumps its updated_at
func (s *Store) AddMessage(msg *StoredMessage) (*StoredMessage, error) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`INSERT INTO messages (id, conversation_id, role, content, model, prompt_tokens, output_tokens, tool_calls, tool_results, finish_reason, streaming, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		msg.ID, msg.ConversationID, msg.Role, msg.Content, msg.Model,
		msg.PromptTokens, msg.OutputTokens, msg.ToolCalls, msg.ToolResults,
		msg.FinishReason, msg.Streaming, msg.CreatedAt,
	); err != nil {
		return nil, fmt.Errorf("failed to add message: %w", err)
	}
	if _, err := tx.Exec(
		`UPDATE conversations SET updated_at = ? WHERE id = ?`, msg.CreatedAt, msg.ConversationID,
	); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit: %w", err)
	}
	return msg, nil
}

// GetMessages returns a conversation's messages oldest-first
func (s *Store) GetMessages(conversationID string) ([]*StoredMessage, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, model, prompt_tokens, output_tokens, tool_calls, tool_results, finish_reason, streaming, created_at
		 FROM messages WHERE conversation_id = ? ORDER BY created_at ASC`,
		conversationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// DeleteMessage removes a single message
func (s *Store) DeleteMessage(id string) error {
	_, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}

// Search finds messages whose content, or whose conversation title, matches
// the query substring, newest first
func (s *Store) Search(query string, limit int) ([]*StoredMessage, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + query + "%"
	rows, err := s.db.Query(
		`SELECT m.id, m.conversation_id, m.role, m.content, m.model, m.prompt_tokens, m.output_tokens, m.tool_calls, m.tool_results, m.finish_reason, m.streaming, m.created_at
		 FROM messages m JOIN conversations c ON c.id = m.conversation_id
		 WHERE m.content LIKE ? OR c.title LIKE ?
		 ORDER BY m.created_at DESC LIMIT ?`,
		pattern, pattern, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows *sql.Rows) ([]*StoredMessage, error) {
	var out []*StoredMessage
	for rows.Next() {
		var msg StoredMessage
		if err := rows.Scan(&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content, &msg.Model,
			&msg.PromptTokens, &msg.OutputTokens, &msg.ToolCalls, &msg.ToolResults,
			&msg.FinishReason, &msg.Streaming, &msg.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &msg)
	}
	return out, rows.Err()
}

// GetConversationStats summarizes a single conversation
func (s *Store) GetConversationStats(conversationID string) (*ConversationStats, error) {
	stats := &ConversationStats{ConversationID: conversationID}
	var lastActivity sql.NullTime
	var hasToolCalls int
	// MAX(created_at) would strip the column's declared type and come back
	// as a string; the subquery keeps the TIMESTAMP affinity so the driver
	// returns a time.Time.
	err := s.db.QueryRow(
		`SELECT COUNT(*), COALESCE(SUM(prompt_tokens + output_tokens), 0),
		        COALESCE(MAX(tool_calls != ''), 0),
		        (SELECT created_at FROM messages WHERE conversation_id = ?
		         ORDER BY created_at DESC LIMIT 1)
		 FROM messages WHERE conversation_id = ?`,
		conversationID, conversationID,
	).Scan(&stats.MessageCount, &stats.TotalTokens, &hasToolCalls, &lastActivity)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation stats: %w", err)
	}
	stats.HasToolCalls = hasToolCalls != 0
	if lastActivity.Valid {
		stats.LastActivity = lastActivity.Time
	}
	return stats, nil
}

// GetStats returns global conversation and message counts
func (s *Store) GetStats() (*Stats, error) {
	var stats Stats
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM conversations`).Scan(&stats.Conversations); err != nil {
		return nil, fmt.Errorf("failed to count conversations: %w", err)
	}
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM messages`).Scan(&stats.Messages); err != nil {
		return nil, fmt.Errorf("failed to count messages: %w", err)
	}
	return &stats, nil
}
