package usecase

import (
	"context"
	"errors"
	"strings"

	"renewal-agent/internal/domain"
)

// inference is the joined result of the two concurrent oracle tasks. The
// fallback flag makes a degraded classification explicit so callers cannot
// mistake default labels for a real result.
type inference struct {
	intentParent       string
	intentChild        string
	classifierFallback bool
	embedding          []float64
}

// runInference fans the classification and embedding calls out to the shared
// worker pool and joins both. Classification failure or timeout degrades to
// the fallback labels; embedding failure aborts the request.
func (s *ChatService) runInference(ctx context.Context, query, contextText string) (inference, error) {
	type classifyResult struct {
		parent, child string
		err           error
	}
	type embedResult struct {
		vector []float64
		err    error
	}

	callCtx, cancel := context.WithTimeout(ctx, s.oracleTimeout)
	defer cancel()

	classifyCh := make(chan classifyResult, 1)
	embedCh := make(chan embedResult, 1)

	if err := s.pool.Submit(callCtx, func() {
		parent, child, err := s.classify(callCtx, query, contextText)
		classifyCh <- classifyResult{parent: parent, child: child, err: err}
	}); err != nil {
		return inference{}, newError(ErrorRateLimited, "worker_pool_saturated", err)
	}
	if err := s.pool.Submit(callCtx, func() {
		vector, err := s.oracle.Embed(callCtx, s.embeddingModel, query)
		embedCh <- embedResult{vector: vector, err: err}
	}); err != nil {
		return inference{}, newError(ErrorRateLimited, "worker_pool_saturated", err)
	}

	embed := <-embedCh
	classify := <-classifyCh

	if embed.err != nil {
		return inference{}, oracleError("embedding_error", embed.err)
	}

	out := inference{embedding: embed.vector}
	if classify.err != nil {
		s.log.Warn("intent classification failed, using fallback labels",
			"err", classify.err)
		out.intentParent = domain.FallbackIntentParent
		out.intentChild = domain.FallbackIntentChild
		out.classifierFallback = true
		return out, nil
	}
	out.intentParent = classify.parent
	out.intentChild = classify.child
	return out, nil
}

// classify issues the classification call and parses the two labeled lines.
func (s *ChatService) classify(ctx context.Context, query, contextText string) (string, string, error) {
	raw, err := s.oracle.Chat(ctx, s.chatModel, []domain.ChatMessage{
		{Role: "user", Content: buildClassificationPrompt(query, contextText)},
	})
	if err != nil {
		return "", "", err
	}
	parent, child := parseClassification(raw)
	return parent, child, nil
}

// parseClassification extracts the intent_parent/intent_child lines
// case-insensitively. Anything that does not match the expected format falls
// back to the default labels.
func parseClassification(raw string) (parent, child string) {
	parent = domain.FallbackIntentParent
	child = domain.FallbackIntentChild
	for _, line := range strings.Split(raw, "\n") {
		normalized := strings.ToLower(strings.TrimSpace(line))
		if rest, ok := strings.CutPrefix(normalized, "intent_parent:"); ok {
			if v := strings.TrimSpace(rest); v != "" {
				parent = v
			}
		} else if rest, ok := strings.CutPrefix(normalized, "intent_child:"); ok {
			if v := strings.TrimSpace(rest); v != "" {
				child = v
			}
		}
	}
	return parent, child
}

// oracleError maps an oracle failure to the usecase taxonomy, surfacing
// upstream rate limiting as its own code the way the transport expects.
func oracleError(reason string, err error) *Error {
	if status, ok := upstreamStatusCode(err); ok && status == 429 {
		return newError(ErrorRateLimited, reason, err)
	}
	return newError(ErrorUpstream, reason, err)
}

type httpStatusCoder interface {
	HTTPStatusCode() int
}

func upstreamStatusCode(err error) (int, bool) {
	var statusErr httpStatusCoder
	if !errors.As(err, &statusErr) {
		return 0, false
	}
	return statusErr.HTTPStatusCode(), true
}
