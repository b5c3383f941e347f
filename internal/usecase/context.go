package usecase

import (
	"regexp"
	"strings"

	"renewal-agent/internal/domain"
)

var (
	userMarkerRe      = regexp.MustCompile(`(?i)\buser\s*:`)
	assistantMarkerRe = regexp.MustCompile(`(?i)\bassistant\s*:`)
)

// NormalizeQuery reduces a raw query to the last user utterance. Clients that
// forward transcript fragments prefix lines with "user:" and "assistant:";
// only the text after the final user marker, up to any assistant marker,
// survives.
func NormalizeQuery(raw string) string {
	parts := userMarkerRe.Split(raw, -1)
	last := parts[len(parts)-1]
	last = assistantMarkerRe.Split(last, 2)[0]
	return strings.TrimSpace(last)
}

// renderContext flattens turns into the alternating line format the prompts
// embed as conversation history.
func renderContext(turns []domain.ConversationTurn) []string {
	lines := make([]string, 0, len(turns)*2)
	for _, t := range turns {
		lines = append(lines, "USER:"+t.UserMessage)
		lines = append(lines, "ADMIN:"+t.AdminResponse)
	}
	return lines
}
