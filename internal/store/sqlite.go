// Package store persists conversation turns in SQLite. The schema is an
// append-mostly log queryable by conversation and by intent bucket, with an
// atomic priority-score adjustment for the feedback loop.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"renewal-agent/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS chat_pairs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,

	conversation_id INTEGER NOT NULL,
	session_id TEXT,
	turn_index INTEGER NOT NULL,

	user_message TEXT NOT NULL,
	admin_response TEXT NOT NULL,

	context TEXT,

	intent_parent TEXT,
	intent_child TEXT,

	priority_score INTEGER DEFAULT 50,
	reward_count INTEGER DEFAULT 0,
	punish_count INTEGER DEFAULT 0,

	embedding TEXT,

	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_conversation ON chat_pairs (conversation_id, turn_index);
CREATE INDEX IF NOT EXISTS idx_intent_parent ON chat_pairs (intent_parent);
CREATE INDEX IF NOT EXISTS idx_priority ON chat_pairs (priority_score DESC);
`

// TurnStore defines the conversation-turn operations consumed by the chat and
// feedback services.
type TurnStore interface {
	InsertTurn(ctx context.Context, turn *domain.ConversationTurn) error
	RecentTurns(ctx context.Context, conversationID int64, limit int) ([]domain.ConversationTurn, error)
	TurnsByIntent(ctx context.Context, intentParent string) ([]domain.ConversationTurn, error)
	ApplyFeedback(ctx context.Context, sessionID string, rating int) (bool, error)
}

// Store wraps a SQLite database holding the chat_pairs table.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the SQLite database at path. WAL mode and a busy
// timeout keep concurrent request handlers from tripping over the writer lock.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("store: database path must not be empty")
	}
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("store: ping %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

// New wraps an existing database handle. Used by tests.
func New(db *sql.DB) (*Store, error) {
	if db == nil {
		return nil, errors.New("store: db must not be nil")
	}
	return &Store{db: db}, nil
}

// Migrate creates the chat_pairs table and its indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// InsertTurn persists a new turn. The turn index is assigned inside the
// INSERT itself as MAX(turn_index)+1 for the conversation, so concurrent
// requests on the same conversation cannot compute the same index. ID,
// TurnIndex and CreatedAt are filled in on the passed turn.
func (s *Store) InsertTurn(ctx context.Context, turn *domain.ConversationTurn) error {
	if turn == nil {
		return errors.New("store: InsertTurn: turn must not be nil")
	}
	if turn.UserMessage == "" || turn.AdminResponse == "" {
		return errors.New("store: InsertTurn: user message and admin response are required")
	}

	contextJSON, err := encodeStrings(turn.Context)
	if err != nil {
		return fmt.Errorf("store: InsertTurn: encode context: %w", err)
	}
	embeddingJSON, err := encodeFloats(turn.Embedding)
	if err != nil {
		return fmt.Errorf("store: InsertTurn: encode embedding: %w", err)
	}

	row := s.db.QueryRowContext(ctx, `
		INSERT INTO chat_pairs (
			conversation_id, session_id, turn_index,
			user_message, admin_response, context,
			intent_parent, intent_child,
			priority_score, reward_count, punish_count, embedding
		) VALUES (
			?1, ?2,
			(SELECT COALESCE(MAX(turn_index), 0) + 1 FROM chat_pairs WHERE conversation_id = ?1),
			?3, ?4, ?5, ?6, ?7, ?8, ?9, ?10, ?11
		)
		RETURNING id, turn_index, created_at`,
		turn.ConversationID, turn.SessionID,
		turn.UserMessage, turn.AdminResponse, contextJSON,
		turn.IntentParent, turn.IntentChild,
		turn.PriorityScore, turn.RewardCount, turn.PunishCount, embeddingJSON,
	)

	var createdAt string
	if err := row.Scan(&turn.ID, &turn.TurnIndex, &createdAt); err != nil {
		return fmt.Errorf("store: InsertTurn: %w", err)
	}
	turn.CreatedAt = parseTimestamp(createdAt)
	return nil
}

// parseTimestamp decodes the formats SQLite hands back for DATETIME columns.
func parseTimestamp(raw string) time.Time {
	for _, layout := range []string{"2006-01-02 15:04:05", time.RFC3339Nano, time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return ts.UTC()
		}
	}
	return time.Time{}
}

// RecentTurns returns up to limit of the newest turns for a conversation in
// chronological order. An empty conversation yields an empty slice.
func (s *Store) RecentTurns(ctx context.Context, conversationID int64, limit int) ([]domain.ConversationTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, conversation_id, session_id, turn_index,
		       user_message, admin_response, context,
		       intent_parent, intent_child,
		       priority_score, reward_count, punish_count, embedding, created_at
		FROM chat_pairs
		WHERE conversation_id = ?
		ORDER BY turn_index DESC
		LIMIT ?`, conversationID, limit)
	if err != nil {
		return nil, fmt.Errorf("store: RecentTurns query: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, fmt.Errorf("store: RecentTurns: %w", err)
	}
	// Reverse newest-first to chronological before returning to the assembler.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// TurnsByIntent returns the retrieval candidate pool for a parent intent, or
// every stored turn when intentParent is empty. Rows come back in ascending
// ID order so equal fused scores keep a deterministic tie-break.
func (s *Store) TurnsByIntent(ctx context.Context, intentParent string) ([]domain.ConversationTurn, error) {
	query := `
		SELECT id, conversation_id, session_id, turn_index,
		       user_message, admin_response, context,
		       intent_parent, intent_child,
		       priority_score, reward_count, punish_count, embedding, created_at
		FROM chat_pairs`
	args := []any{}
	if intentParent != "" {
		query += ` WHERE intent_parent = ?`
		args = append(args, intentParent)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: TurnsByIntent query: %w", err)
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, fmt.Errorf("store: TurnsByIntent: %w", err)
	}
	return turns, nil
}

// ApplyFeedback adjusts the priority score and counters of every turn carrying
// the session id in a single UPDATE, so no intermediate state is observable.
// It reports whether any row matched.
func (s *Store) ApplyFeedback(ctx context.Context, sessionID string, rating int) (bool, error) {
	if strings.TrimSpace(sessionID) == "" {
		return false, errors.New("store: ApplyFeedback: session id must not be empty")
	}

	var query string
	switch rating {
	case 1:
		query = `
			UPDATE chat_pairs
			SET priority_score = MIN(priority_score + 5, 100),
			    reward_count = reward_count + 1
			WHERE session_id = ?`
	case -1:
		query = `
			UPDATE chat_pairs
			SET priority_score = MAX(priority_score - 10, 0),
			    punish_count = punish_count + 1
			WHERE session_id = ?`
	default:
		return false, fmt.Errorf("store: ApplyFeedback: rating %d is not -1 or 1", rating)
	}

	res, err := s.db.ExecContext(ctx, query, sessionID)
	if err != nil {
		return false, fmt.Errorf("store: ApplyFeedback: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("store: ApplyFeedback rows affected: %w", err)
	}
	return affected > 0, nil
}

func scanTurns(rows *sql.Rows) ([]domain.ConversationTurn, error) {
	var turns []domain.ConversationTurn
	for rows.Next() {
		var (
			t             domain.ConversationTurn
			sessionID     sql.NullString
			intentParent  sql.NullString
			intentChild   sql.NullString
			contextJSON   sql.NullString
			embeddingJSON sql.NullString
			createdAt     time.Time
		)
		if err := rows.Scan(
			&t.ID, &t.ConversationID, &sessionID, &t.TurnIndex,
			&t.UserMessage, &t.AdminResponse, &contextJSON,
			&intentParent, &intentChild,
			&t.PriorityScore, &t.RewardCount, &t.PunishCount, &embeddingJSON, &createdAt,
		); err != nil {
			return nil, fmt.Errorf("scan: %w", err)
		}
		t.SessionID = sessionID.String
		t.IntentParent = intentParent.String
		t.IntentChild = intentChild.String
		t.CreatedAt = createdAt.UTC()

		if contextJSON.Valid && contextJSON.String != "" {
			if err := json.Unmarshal([]byte(contextJSON.String), &t.Context); err != nil {
				return nil, fmt.Errorf("decode context for turn %d: %w", t.ID, err)
			}
		}
		if embeddingJSON.Valid && embeddingJSON.String != "" {
			if err := json.Unmarshal([]byte(embeddingJSON.String), &t.Embedding); err != nil {
				return nil, fmt.Errorf("decode embedding for turn %d: %w", t.ID, err)
			}
		}
		turns = append(turns, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return turns, nil
}

func encodeStrings(v []string) (string, error) {
	if v == nil {
		v = []string{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

func encodeFloats(v []float64) (string, error) {
	if v == nil {
		v = []float64{}
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(raw), nil
}
