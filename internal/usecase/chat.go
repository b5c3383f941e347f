package usecase

import (
	"context"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"time"

	"github.com/google/uuid"

	"renewal-agent/internal/contract"
	"renewal-agent/internal/domain"
)

const (
	defaultChatModel      = "gpt-4.1-mini"
	defaultEmbeddingModel = "text-embedding-3-large"
	defaultTopK           = 3
	defaultContextTurns   = 6
	defaultOracleTimeout  = 30 * time.Second

	// EscalationReply is the fixed, non-generated fallback sent when
	// retrieval finds no candidates.
	EscalationReply = "Thank you for reaching out! We need to check this with the team first and will get back to you shortly 🙏"
)

// OracleClient is the language-oracle surface the pipeline consumes.
type OracleClient interface {
	Chat(ctx context.Context, model string, messages []domain.ChatMessage) (string, error)
	Embed(ctx context.Context, model, input string) ([]float64, error)
}

// TurnStore defines the conversation-turn operations consumed by the services.
type TurnStore interface {
	InsertTurn(ctx context.Context, turn *domain.ConversationTurn) error
	RecentTurns(ctx context.Context, conversationID int64, limit int) ([]domain.ConversationTurn, error)
	TurnsByIntent(ctx context.Context, intentParent string) ([]domain.ConversationTurn, error)
	ApplyFeedback(ctx context.Context, sessionID string, rating int) (bool, error)
}

// TaskPool is the shared bounded worker pool the orchestrator fans out to.
type TaskPool interface {
	Submit(ctx context.Context, fn func()) error
}

// Config tunes the pipeline. Zero values fall back to the defaults above.
type Config struct {
	ChatModel      string
	EmbeddingModel string
	TopK           int
	ContextTurns   int
	OracleTimeout  time.Duration
}

// ChatService runs the retrieval-augmented reply pipeline for one request:
// context assembly, concurrent inference, retrieval and score fusion,
// two-stage synthesis with contract enforcement, persistence.
type ChatService struct {
	oracle    OracleClient
	store     TurnStore
	pool      TaskPool
	contracts contract.Table
	log       *slog.Logger

	chatModel      string
	embeddingModel string
	topK           int
	contextTurns   int
	oracleTimeout  time.Duration
}

type ChatInput struct {
	Query          string
	ConversationID int64
}

type ChatOutput struct {
	SessionID      string
	ConversationID int64
	UserMessage    string
	AdminResponse  string
	IntentParent   string
	IntentChild    string
	Escalated      bool
	Matches        []domain.MatchCandidate
}

func NewChatService(oracle OracleClient, store TurnStore, taskPool TaskPool, contracts contract.Table, log *slog.Logger, cfg Config) (*ChatService, error) {
	if oracle == nil {
		return nil, errors.New("usecase: oracle client must not be nil")
	}
	if store == nil {
		return nil, errors.New("usecase: turn store must not be nil")
	}
	if taskPool == nil {
		return nil, errors.New("usecase: task pool must not be nil")
	}
	if contracts == nil {
		contracts = contract.Default()
	}
	if log == nil {
		log = slog.Default()
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = defaultChatModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = defaultEmbeddingModel
	}
	if cfg.TopK <= 0 {
		cfg.TopK = defaultTopK
	}
	if cfg.ContextTurns <= 0 {
		cfg.ContextTurns = defaultContextTurns
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = defaultOracleTimeout
	}
	return &ChatService{
		oracle:         oracle,
		store:          store,
		pool:           taskPool,
		contracts:      contracts,
		log:            log,
		chatModel:      cfg.ChatModel,
		embeddingModel: cfg.EmbeddingModel,
		topK:           cfg.TopK,
		contextTurns:   cfg.ContextTurns,
		oracleTimeout:  cfg.OracleTimeout,
	}, nil
}

func (s *ChatService) Chat(ctx context.Context, in ChatInput) (ChatOutput, error) {
	query := NormalizeQuery(in.Query)
	if query == "" {
		return ChatOutput{}, newError(ErrorInvalidInput, "empty_query", nil)
	}

	conversationID := in.ConversationID
	if conversationID <= 0 {
		conversationID = newConversationID()
	}
	sessionID := newSessionID()

	log := s.log.With("conversation_id", conversationID, "session_id", sessionID)
	log.Info("chat request", "query", query)

	recent, err := s.store.RecentTurns(ctx, conversationID, s.contextTurns)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "context_fetch_error", err)
	}
	contextLines := renderContext(recent)
	contextText := strings.Join(contextLines, "\n")

	inf, err := s.runInference(ctx, query, contextText)
	if err != nil {
		return ChatOutput{}, err
	}
	log.Info("inference joined",
		"intent_parent", inf.intentParent,
		"intent_child", inf.intentChild,
		"classifier_fallback", inf.classifierFallback,
		"embedding_dim", len(inf.embedding))

	// The catch-all parent widens retrieval to the whole store.
	poolFilter := inf.intentParent
	if poolFilter == domain.IntentParentOther {
		poolFilter = ""
	}
	candidatePool, err := s.store.TurnsByIntent(ctx, poolFilter)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "retrieval_error", err)
	}
	log.Info("retrieval", "intent_parent", inf.intentParent, "candidates", len(candidatePool))

	out := ChatOutput{
		SessionID:      sessionID,
		ConversationID: conversationID,
		UserMessage:    query,
		IntentParent:   inf.intentParent,
		IntentChild:    inf.intentChild,
	}

	if len(candidatePool) == 0 {
		out.AdminResponse = EscalationReply
		out.Escalated = true
		if err := s.persistTurn(ctx, &out, contextLines, inf.embedding); err != nil {
			return ChatOutput{}, err
		}
		return out, nil
	}

	matches, err := rankCandidates(candidatePool, inf.embedding, s.topK)
	if err != nil {
		return ChatOutput{}, newError(ErrorInternal, "score_fusion_error", err)
	}
	top := matches[0]
	log.Info("top match",
		"similarity", top.Similarity,
		"priority", top.Turn.PriorityScore,
		"fused", top.FusedScore)

	raw, err := s.oracle.Chat(ctx, s.chatModel, []domain.ChatMessage{
		{Role: "system", Content: "You are the AI support admin for a website renewal service."},
		{Role: "user", Content: buildDraftPrompt(query, contextText, matches)},
	})
	if err != nil {
		return ChatOutput{}, oracleError("generation_error", err)
	}
	draft := normalizeReply(raw)

	final, err := s.enforceContract(ctx, query, draft, inf.intentChild)
	if err != nil {
		return ChatOutput{}, err
	}
	if final != draft {
		log.Warn("placeholder guard rewrote the draft")
	}

	out.AdminResponse = final
	out.Matches = matches
	if err := s.persistTurn(ctx, &out, contextLines, inf.embedding); err != nil {
		return ChatOutput{}, err
	}
	return out, nil
}

// persistTurn writes the completed exchange. Every resolved request is stored,
// escalation replies included, at the default priority.
func (s *ChatService) persistTurn(ctx context.Context, out *ChatOutput, contextLines []string, embedding []float64) error {
	turn := &domain.ConversationTurn{
		ConversationID: out.ConversationID,
		SessionID:      out.SessionID,
		UserMessage:    out.UserMessage,
		AdminResponse:  out.AdminResponse,
		Context:        contextLines,
		IntentParent:   out.IntentParent,
		IntentChild:    out.IntentChild,
		PriorityScore:  domain.DefaultPriorityScore,
		Embedding:      embedding,
	}
	if err := s.store.InsertTurn(ctx, turn); err != nil {
		s.log.Error("turn insert failed",
			"conversation_id", out.ConversationID,
			"session_id", out.SessionID,
			"err", err)
		return newError(ErrorInternal, "store_insert_error", err)
	}
	s.log.Info("turn persisted",
		"conversation_id", out.ConversationID,
		"turn_index", turn.TurnIndex,
		"session_id", out.SessionID)
	return nil
}

var newSessionID = func() string {
	return uuid.NewString()
}

// newConversationID draws a fresh pseudo-random id for conversations that
// arrive without one.
var newConversationID = func() int64 {
	return rand.Int63n(999_999_999) + 1
}
