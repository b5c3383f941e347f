package usecase

import (
	"context"
	"strings"

	"renewal-agent/internal/domain"
)

// enforceContract validates the draft against the placeholder contract for
// the child intent and repairs it when tokens are missing. A compliant draft
// is returned byte-equal. After the single repair call the result is verified
// again; tokens the oracle still left out are appended literally so the
// contract holds even when the oracle does not comply.
func (s *ChatService) enforceContract(ctx context.Context, userText, draft, intentChild string) (string, error) {
	required := s.contracts.Required(intentChild)
	if len(required) == 0 {
		return draft, nil
	}

	missing := missingTokens(draft, required)
	if len(missing) == 0 {
		return draft, nil
	}

	s.log.Warn("draft violates placeholder contract, repairing",
		"intent_child", intentChild,
		"missing", missing)

	raw, err := s.oracle.Chat(ctx, s.chatModel, []domain.ChatMessage{
		{Role: "user", Content: buildRepairPrompt(userText, draft, required)},
	})
	if err != nil {
		return "", oracleError("contract_repair_error", err)
	}
	repaired := normalizeReply(raw)

	if still := missingTokens(repaired, required); len(still) > 0 {
		s.log.Warn("repair left required tokens missing, appending literally",
			"intent_child", intentChild,
			"missing", still)
		repaired = appendTokens(repaired, still)
	}
	return repaired, nil
}

// missingTokens returns the required tokens not present verbatim in text.
func missingTokens(text string, required []string) []string {
	var missing []string
	for _, token := range required {
		if !strings.Contains(text, token) {
			missing = append(missing, token)
		}
	}
	return missing
}

// appendTokens attaches tokens to the end of the text, byte-for-byte.
func appendTokens(text string, tokens []string) string {
	text = strings.TrimRight(text, " ")
	if text == "" {
		return strings.Join(tokens, " ")
	}
	return text + " " + strings.Join(tokens, " ")
}
