package usecase

import (
	"context"
	"errors"
	"log/slog"
	"strings"
)

// FeedbackService applies bounded priority adjustments to stored turns from
// an external rating signal.
type FeedbackService struct {
	store TurnStore
	log   *slog.Logger
}

type FeedbackInput struct {
	SessionID string
	Rating    int
}

type FeedbackOutput struct {
	SessionID string
	Rating    int
	Applied   bool
}

func NewFeedbackService(store TurnStore, log *slog.Logger) (*FeedbackService, error) {
	if store == nil {
		return nil, errors.New("usecase: turn store must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &FeedbackService{store: store, log: log}, nil
}

// Apply adjusts the turn(s) matching the session id. Rating +1 raises the
// priority score by 5 (capped at 100), -1 lowers it by 10 (floored at 0);
// both bump their counter. Rating 0 is a no-op that still reports success.
func (s *FeedbackService) Apply(ctx context.Context, in FeedbackInput) (FeedbackOutput, error) {
	sessionID := strings.TrimSpace(in.SessionID)
	if sessionID == "" {
		return FeedbackOutput{}, newError(ErrorInvalidInput, "empty_session_id", nil)
	}
	switch in.Rating {
	case -1, 0, 1:
	default:
		return FeedbackOutput{}, newError(ErrorInvalidInput, "invalid_rating", nil)
	}

	out := FeedbackOutput{SessionID: sessionID, Rating: in.Rating}
	if in.Rating == 0 {
		s.log.Info("feedback no-op", "session_id", sessionID)
		return out, nil
	}

	applied, err := s.store.ApplyFeedback(ctx, sessionID, in.Rating)
	if err != nil {
		s.log.Error("feedback update failed", "session_id", sessionID, "err", err)
		return FeedbackOutput{}, newError(ErrorInternal, "store_update_error", err)
	}
	if !applied {
		return FeedbackOutput{}, newError(ErrorNotFound, "session_not_found", nil)
	}

	s.log.Info("feedback applied", "session_id", sessionID, "rating", in.Rating)
	out.Applied = true
	return out, nil
}
