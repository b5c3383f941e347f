// Package handler exposes the chat pipeline over HTTP. It owns request
// decoding, the usecase error-code to status mapping, and nothing else.
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"renewal-agent/internal/domain"
	"renewal-agent/internal/usecase"
)

// ChatService is the chat pipeline surface the handler consumes.
type ChatService interface {
	Chat(ctx context.Context, in usecase.ChatInput) (usecase.ChatOutput, error)
}

// FeedbackService is the feedback surface the handler consumes.
type FeedbackService interface {
	Apply(ctx context.Context, in usecase.FeedbackInput) (usecase.FeedbackOutput, error)
}

type Handler struct {
	chat     ChatService
	feedback FeedbackService
	log      *slog.Logger
}

func New(chat ChatService, feedback FeedbackService, log *slog.Logger) (*Handler, error) {
	if chat == nil {
		return nil, errors.New("handler: chat service must not be nil")
	}
	if feedback == nil {
		return nil, errors.New("handler: feedback service must not be nil")
	}
	if log == nil {
		log = slog.Default()
	}
	return &Handler{chat: chat, feedback: feedback, log: log}, nil
}

// Register mounts the routes on the engine.
func (h *Handler) Register(r *gin.Engine) {
	r.GET("/", h.handleHome)
	r.POST("/chat", h.handleChat)
	r.POST("/feedback", h.handleFeedback)
}

type chatRequest struct {
	Query          string `json:"query"`
	ConversationID int64  `json:"conversation_id"`
}

type matchSummary struct {
	ConversationID int64   `json:"conversation_id"`
	IntentParent   string  `json:"intent_parent"`
	IntentChild    string  `json:"intent_child"`
	UserMessage    string  `json:"user_message"`
	AdminResponse  string  `json:"admin_response"`
	Similarity     float64 `json:"similarity"`
	PriorityScore  int     `json:"priority_score"`
	FinalScore     int     `json:"final_score"`
}

type chatResponse struct {
	Status        string         `json:"status"`
	SessionID     string         `json:"session_id"`
	UserMessage   string         `json:"user_message"`
	AdminResponse string         `json:"admin_response"`
	IntentParent  string         `json:"intent_parent"`
	IntentChild   string         `json:"intent_child"`
	Matches       []matchSummary `json:"matches"`
}

type feedbackRequest struct {
	SessionID string `json:"session_id"`
	Rating    *int   `json:"rating"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func (h *Handler) handleHome(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"message": "renewal-agent API running",
	})
}

func (h *Handler) handleChat(c *gin.Context) {
	var req chatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
		return
	}

	out, err := h.chat.Chat(c.Request.Context(), usecase.ChatInput{
		Query:          req.Query,
		ConversationID: req.ConversationID,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	if out.Escalated {
		// No candidates: the fixed escalation text without match details.
		c.JSON(http.StatusOK, gin.H{
			"status":         "ok",
			"admin_response": out.AdminResponse,
		})
		return
	}

	c.JSON(http.StatusOK, chatResponse{
		Status:        "ok",
		SessionID:     out.SessionID,
		UserMessage:   out.UserMessage,
		AdminResponse: out.AdminResponse,
		IntentParent:  out.IntentParent,
		IntentChild:   out.IntentChild,
		Matches:       summarizeMatches(out.Matches),
	})
}

func (h *Handler) handleFeedback(c *gin.Context) {
	var req feedbackRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Rating == nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: string(usecase.ErrorInvalidInput)})
		return
	}

	out, err := h.feedback.Apply(c.Request.Context(), usecase.FeedbackInput{
		SessionID: req.SessionID,
		Rating:    *req.Rating,
	})
	if err != nil {
		h.writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"session_id": out.SessionID,
		"rating":     out.Rating,
	})
}

func summarizeMatches(matches []domain.MatchCandidate) []matchSummary {
	out := make([]matchSummary, 0, len(matches))
	for _, m := range matches {
		out = append(out, matchSummary{
			ConversationID: m.Turn.ConversationID,
			IntentParent:   m.Turn.IntentParent,
			IntentChild:    m.Turn.IntentChild,
			UserMessage:    m.Turn.UserMessage,
			AdminResponse:  m.Turn.AdminResponse,
			Similarity:     m.Similarity,
			PriorityScore:  m.Turn.PriorityScore,
			FinalScore:     m.FusedScore,
		})
	}
	return out
}

// writeError maps usecase error codes to HTTP statuses. Unknown errors are
// internal by definition.
func (h *Handler) writeError(c *gin.Context, err error) {
	code := usecase.ErrorInternal
	var ucErr *usecase.Error
	if errors.As(err, &ucErr) {
		code = ucErr.Code
	}

	status := http.StatusInternalServerError
	switch code {
	case usecase.ErrorInvalidInput:
		status = http.StatusBadRequest
	case usecase.ErrorNotFound:
		status = http.StatusNotFound
	case usecase.ErrorRateLimited:
		status = http.StatusTooManyRequests
	case usecase.ErrorUpstream:
		status = http.StatusBadGateway
	}

	if status >= 500 {
		h.log.Error("request failed", "path", c.FullPath(), "err", err)
	} else {
		h.log.Warn("request rejected", "path", c.FullPath(), "code", code, "err", err)
	}
	c.JSON(status, errorResponse{Error: string(code)})
}
