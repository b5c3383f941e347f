package usecase

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"renewal-agent/internal/contract"
	"renewal-agent/internal/domain"
	"renewal-agent/internal/integrations/openai"
)

// directPool runs submitted tasks synchronously so call order is
// deterministic in tests.
type directPool struct{}

func (directPool) Submit(_ context.Context, fn func()) error {
	fn()
	return nil
}

type saturatedPool struct{}

func (saturatedPool) Submit(_ context.Context, _ func()) error {
	return context.DeadlineExceeded
}

type chatReply struct {
	answer string
	err    error
}

// mockOracle replays chat replies in call order: classification first, then
// draft, then the optional repair.
type mockOracle struct {
	replies   []chatReply
	calls     int
	prompts   []string
	embedding []float64
	embedErr  error
	embedN    int
}

func (m *mockOracle) Chat(_ context.Context, _ string, messages []domain.ChatMessage) (string, error) {
	m.prompts = append(m.prompts, messages[len(messages)-1].Content)
	if len(m.replies) == 0 {
		return "", errors.New("no reply configured")
	}
	idx := m.calls
	if idx >= len(m.replies) {
		idx = len(m.replies) - 1
	}
	m.calls++
	return m.replies[idx].answer, m.replies[idx].err
}

func (m *mockOracle) Embed(_ context.Context, _, _ string) ([]float64, error) {
	m.embedN++
	if m.embedErr != nil {
		return nil, m.embedErr
	}
	if m.embedding == nil {
		return []float64{1, 0, 0}, nil
	}
	return m.embedding, nil
}

type mockStore struct {
	recent    []domain.ConversationTurn
	recentErr error

	poolTurns     []domain.ConversationTurn
	poolErr       error
	poolFilter    string
	poolFilterSet bool

	inserted  *domain.ConversationTurn
	insertErr error

	feedbackApplied bool
	feedbackErr     error
	feedbackSession string
	feedbackRating  int
	feedbackCalls   int
}

func (m *mockStore) InsertTurn(_ context.Context, turn *domain.ConversationTurn) error {
	if m.insertErr != nil {
		return m.insertErr
	}
	turn.ID = 1
	turn.TurnIndex = 1
	m.inserted = turn
	return nil
}

func (m *mockStore) RecentTurns(_ context.Context, _ int64, _ int) ([]domain.ConversationTurn, error) {
	return m.recent, m.recentErr
}

func (m *mockStore) TurnsByIntent(_ context.Context, intentParent string) ([]domain.ConversationTurn, error) {
	m.poolFilter = intentParent
	m.poolFilterSet = true
	return m.poolTurns, m.poolErr
}

func (m *mockStore) ApplyFeedback(_ context.Context, sessionID string, rating int) (bool, error) {
	m.feedbackCalls++
	m.feedbackSession = sessionID
	m.feedbackRating = rating
	return m.feedbackApplied, m.feedbackErr
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(t *testing.T, oracle *mockOracle, st *mockStore) *ChatService {
	t.Helper()
	svc, err := NewChatService(oracle, st, directPool{}, contract.Default(), testLogger(), Config{})
	require.NoError(t, err)
	return svc
}

func classifiedAs(parent, child string) string {
	return "intent_parent: " + parent + "\nintent_child: " + child
}

func candidateTurn(id int64, priority int, embedding []float64) domain.ConversationTurn {
	return domain.ConversationTurn{
		ID:             id,
		ConversationID: 42,
		UserMessage:    "how much is my renewal?",
		AdminResponse:  "the pending amount is {{$pending_amount}}",
		IntentParent:   domain.IntentParentRenewal,
		IntentChild:    domain.IntentChildBillingInquiry,
		PriorityScore:  priority,
		Embedding:      embedding,
	}
}

func TestNewChatService_ValidatesDependencies(t *testing.T) {
	st := &mockStore{}
	o := &mockOracle{}

	_, err := NewChatService(nil, st, directPool{}, nil, nil, Config{})
	require.Error(t, err)
	_, err = NewChatService(o, nil, directPool{}, nil, nil, Config{})
	require.Error(t, err)
	_, err = NewChatService(o, st, nil, nil, nil, Config{})
	require.Error(t, err)
}

func TestChat_EmptyQuery(t *testing.T) {
	svc := newTestService(t, &mockOracle{}, &mockStore{})

	_, err := svc.Chat(context.Background(), ChatInput{Query: "   "})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInvalidInput, ucErr.Code)
}

func TestChat_EscalatesWhenPoolEmpty(t *testing.T) {
	oracle := &mockOracle{
		replies: []chatReply{{answer: classifiedAs("renewal", "billing_inquiry")}},
	}
	st := &mockStore{}
	svc := newTestService(t, oracle, st)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "hello", ConversationID: 7})
	require.NoError(t, err)
	require.True(t, out.Escalated)
	require.Equal(t, EscalationReply, out.AdminResponse)
	require.Empty(t, out.Matches)

	// The turn is still persisted at the default priority with the
	// classified labels and the query embedding.
	require.NotNil(t, st.inserted)
	require.Equal(t, domain.DefaultPriorityScore, st.inserted.PriorityScore)
	require.Equal(t, "renewal", st.inserted.IntentParent)
	require.Equal(t, "billing_inquiry", st.inserted.IntentChild)
	require.NotEmpty(t, st.inserted.Embedding)

	// Only the classification call reached the oracle.
	require.Equal(t, 1, oracle.calls)
}

func TestChat_ClassificationErrorFallsBack(t *testing.T) {
	oracle := &mockOracle{
		replies: []chatReply{
			{err: errors.New("oracle unavailable")},
			{answer: "we will check and get back to you"},
		},
	}
	st := &mockStore{poolTurns: []domain.ConversationTurn{candidateTurn(1, 50, []float64{1, 0, 0})}}
	svc := newTestService(t, oracle, st)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "hi", ConversationID: 7})
	require.NoError(t, err)
	require.Equal(t, domain.FallbackIntentParent, out.IntentParent)
	require.Equal(t, domain.FallbackIntentChild, out.IntentChild)

	// The catch-all parent retrieves against the whole store.
	require.True(t, st.poolFilterSet)
	require.Equal(t, "", st.poolFilter)
}

func TestChat_MalformedClassificationFallsBack(t *testing.T) {
	oracle := &mockOracle{
		replies: []chatReply{
			{answer: "I think the user wants to renew their website."},
			{answer: "we will check"},
		},
	}
	st := &mockStore{poolTurns: []domain.ConversationTurn{candidateTurn(1, 50, []float64{1, 0, 0})}}
	svc := newTestService(t, oracle, st)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "hi", ConversationID: 7})
	require.NoError(t, err)
	require.Equal(t, domain.FallbackIntentParent, out.IntentParent)
	require.Equal(t, domain.FallbackIntentChild, out.IntentChild)
}

func TestChat_EmbeddingErrorAborts(t *testing.T) {
	oracle := &mockOracle{
		replies:  []chatReply{{answer: classifiedAs("renewal", "billing_inquiry")}},
		embedErr: errors.New("embedding down"),
	}
	st := &mockStore{}
	svc := newTestService(t, oracle, st)

	_, err := svc.Chat(context.Background(), ChatInput{Query: "hi", ConversationID: 7})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorUpstream, ucErr.Code)
	require.Nil(t, st.inserted)
}

func TestChat_EmbeddingRateLimitSurfacesAs429(t *testing.T) {
	oracle := &mockOracle{
		replies:  []chatReply{{answer: classifiedAs("renewal", "billing_inquiry")}},
		embedErr: &openai.HTTPStatusError{StatusCode: 429, URL: "u", Body: "slow down"},
	}
	svc := newTestService(t, oracle, &mockStore{})

	_, err := svc.Chat(context.Background(), ChatInput{Query: "hi", ConversationID: 7})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorRateLimited, ucErr.Code)
}

func TestChat_SaturatedPoolRejects(t *testing.T) {
	svc, err := NewChatService(&mockOracle{}, &mockStore{}, saturatedPool{}, nil, testLogger(), Config{})
	require.NoError(t, err)

	_, err = svc.Chat(context.Background(), ChatInput{Query: "hi", ConversationID: 7})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorRateLimited, ucErr.Code)
}

func TestChat_GuardLeavesCompliantDraftUntouched(t *testing.T) {
	compliant := "Your pending amount is {{$pending_amount}}"
	oracle := &mockOracle{
		replies: []chatReply{
			{answer: classifiedAs("renewal", "billing_inquiry")},
			{answer: compliant},
		},
	}
	st := &mockStore{poolTurns: []domain.ConversationTurn{candidateTurn(1, 50, []float64{1, 0, 0})}}
	svc := newTestService(t, oracle, st)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "how much?", ConversationID: 7})
	require.NoError(t, err)
	require.Equal(t, compliant, out.AdminResponse)
	// classification + draft only, no repair call
	require.Equal(t, 2, oracle.calls)
}

func TestChat_GuardRepairsMissingToken(t *testing.T) {
	oracle := &mockOracle{
		replies: []chatReply{
			{answer: classifiedAs("renewal", "billing_inquiry")},
			{answer: "The renewal fee depends on your package."},
			{answer: "The pending amount for your renewal is {{$pending_amount}}"},
		},
	}
	st := &mockStore{poolTurns: []domain.ConversationTurn{candidateTurn(1, 50, []float64{1, 0, 0})}}
	svc := newTestService(t, oracle, st)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "how much?", ConversationID: 7})
	require.NoError(t, err)
	require.Contains(t, out.AdminResponse, contract.TokenPendingAmount)
	require.Equal(t, 3, oracle.calls)
	require.Contains(t, oracle.prompts[2], "REQUIRED PLACEHOLDERS")
}

func TestChat_GuardAppendsWhenRepairStillMissing(t *testing.T) {
	oracle := &mockOracle{
		replies: []chatReply{
			{answer: classifiedAs("renewal", "billing_inquiry")},
			{answer: "The renewal fee depends on your package."},
			{answer: "Please contact us about your renewal fee."},
		},
	}
	st := &mockStore{poolTurns: []domain.ConversationTurn{candidateTurn(1, 50, []float64{1, 0, 0})}}
	svc := newTestService(t, oracle, st)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "how much?", ConversationID: 7})
	require.NoError(t, err)
	require.True(t, strings.HasSuffix(out.AdminResponse, contract.TokenPendingAmount))
}

func TestChat_NoContractForChildSkipsGuard(t *testing.T) {
	oracle := &mockOracle{
		replies: []chatReply{
			{answer: classifiedAs("other", "greeting")},
			{answer: "Hello! How can we help today?"},
		},
	}
	st := &mockStore{poolTurns: []domain.ConversationTurn{candidateTurn(1, 50, []float64{1, 0, 0})}}
	svc := newTestService(t, oracle, st)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "hello there", ConversationID: 7})
	require.NoError(t, err)
	require.Equal(t, "Hello! How can we help today?", out.AdminResponse)
	require.Equal(t, 2, oracle.calls)
}

func TestChat_PersistsCompletedTurn(t *testing.T) {
	oracle := &mockOracle{
		replies: []chatReply{
			{answer: classifiedAs("renewal", "billing_inquiry")},
			{answer: "Your pending amount is {{$pending_amount}}"},
		},
		embedding: []float64{0.5, 0.5, 0},
	}
	st := &mockStore{
		recent: []domain.ConversationTurn{
			{UserMessage: "hi", AdminResponse: "hello!"},
		},
		poolTurns: []domain.ConversationTurn{candidateTurn(1, 50, []float64{1, 0, 0})},
	}
	svc := newTestService(t, oracle, st)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "how much?", ConversationID: 42})
	require.NoError(t, err)

	require.NotNil(t, st.inserted)
	require.Equal(t, int64(42), st.inserted.ConversationID)
	require.Equal(t, out.SessionID, st.inserted.SessionID)
	require.Equal(t, "how much?", st.inserted.UserMessage)
	require.Equal(t, out.AdminResponse, st.inserted.AdminResponse)
	require.Equal(t, []string{"USER:hi", "ADMIN:hello!"}, st.inserted.Context)
	require.Equal(t, []float64{0.5, 0.5, 0}, st.inserted.Embedding)
	require.Equal(t, domain.DefaultPriorityScore, st.inserted.PriorityScore)
}

func TestChat_GeneratesConversationIDWhenAbsent(t *testing.T) {
	oracle := &mockOracle{
		replies: []chatReply{{answer: classifiedAs("other", "greeting")}},
	}
	st := &mockStore{}
	svc := newTestService(t, oracle, st)

	out, err := svc.Chat(context.Background(), ChatInput{Query: "hello"})
	require.NoError(t, err)
	require.Positive(t, out.ConversationID)
	require.NotEmpty(t, out.SessionID)
}

func TestChat_StoreInsertErrorIsInternal(t *testing.T) {
	oracle := &mockOracle{
		replies: []chatReply{{answer: classifiedAs("other", "greeting")}},
	}
	st := &mockStore{insertErr: errors.New("disk full")}
	svc := newTestService(t, oracle, st)

	_, err := svc.Chat(context.Background(), ChatInput{Query: "hello", ConversationID: 7})
	var ucErr *Error
	require.ErrorAs(t, err, &ucErr)
	require.Equal(t, ErrorInternal, ucErr.Code)
}
