package domain

import "time"

// ConversationTurn is one persisted user-message/admin-response exchange.
// A turn is immutable after insert except for PriorityScore, RewardCount and
// PunishCount, which change only through the feedback rules.
type ConversationTurn struct {
	ID             int64
	ConversationID int64
	SessionID      string
	TurnIndex      int
	UserMessage    string
	AdminResponse  string
	Context        []string
	IntentParent   string
	IntentChild    string
	PriorityScore  int
	RewardCount    int
	PunishCount    int
	Embedding      []float64
	CreatedAt      time.Time
}

// MatchCandidate is a retrieval candidate derived from a stored turn for one
// request. It is never persisted.
type MatchCandidate struct {
	Turn                 ConversationTurn
	Similarity           float64
	NormalizedSimilarity float64
	FusedScore           int
}

// DefaultPriorityScore is assigned to every newly persisted turn.
const DefaultPriorityScore = 50
