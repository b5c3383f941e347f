package usecase

import (
	"fmt"
	"strings"
	"unicode"

	"renewal-agent/internal/domain"
)

// buildClassificationPrompt asks the oracle for a two-level intent label in a
// strict two-line format the orchestrator can parse.
func buildClassificationPrompt(userText, contextText string) string {
	return strings.Join([]string{
		"You are an intent classification system for a website-renewal customer support chat.",
		"",
		"--- PRIOR CONVERSATION CONTEXT ---",
		contextText,
		"",
		"--- LATEST MESSAGE ---",
		`USER: """` + userText + `"""`,
		"",
		"Infer the user's intent from the latest message, the prior context, the",
		"topic under discussion, and the implied goal rather than the literal wording.",
		"",
		"intent_parent (pick one):",
		"- renewal",
		"- status_inquiry",
		"- revision",
		"- complaint",
		"- other",
		"",
		"intent_child:",
		"If intent_parent = renewal:",
		"    - billing_inquiry",
		"    - active_period_inquiry",
		"    - payment_intent",
		"    - invoice_request",
		"    - renewal_confirmation",
		"    - payment_proof",
		"    - payment_on_behalf",
		"    - declined_renewal",
		"    - renewal_success",
		"If intent_parent = status_inquiry:",
		"    - work_status",
		"    - domain_status",
		"    - update_status",
		"    - renewal_status",
		"    - facility_inquiry",
		"    - domain_inquiry",
		"If intent_parent = revision:",
		"    - content_revision",
		"    - article_revision",
		"    - image_revision",
		"    - revision_status",
		"    - email_access_request",
		"If intent_parent = complaint:",
		"    - price_complaint",
		"    - service_complaint",
		"    - slow_response_complaint",
		"    - performance_complaint",
		"    - revision_result_complaint",
		"If intent_parent = other:",
		"    - greeting",
		"    - small_talk",
		"    - unclear",
		"",
		"Answer in EXACTLY this format, nothing else:",
		"",
		"intent_parent: <intent_name>",
		"intent_child: <sub_intent_name>",
	}, "\n")
}

// buildDraftPrompt embeds the retrieved candidates as labeled exemplars plus
// the conversation history, and instructs the oracle on placeholder usage.
func buildDraftPrompt(userText, contextText string, matches []domain.MatchCandidate) string {
	sections := make([]string, 0, len(matches))
	for _, m := range matches {
		sections = append(sections, strings.Join([]string{
			"=== MATCH ===",
			"Context:",
			strings.Join(m.Turn.Context, "\n"),
			"",
			"User says:",
			m.Turn.UserMessage,
			"",
			"Admin replied:",
			m.Turn.AdminResponse,
		}, "\n"))
	}
	matchBlock := strings.Join(sections, "\n\n")

	reference := strings.Join([]string{
		"You are the AI customer service agent for a website renewal service.",
		"",
		"PLACEHOLDER MODE (MANDATORY):",
		"",
		"If the user asks about renewal cost, due dates, active period, their",
		"website name, or payment/invoicing, use these placeholder variables",
		"IF AND ONLY IF relevant:",
		"- Client website: {{$client_domain}}",
		"- Renewal due date: {{$due_date}}",
		"- Pending renewal amount: {{$pending_amount}}",
		"",
		"PLACEHOLDER STRUCTURE RULES (MANDATORY):",
		"- A placeholder {{...}} is a FINAL VALUE, not a noun or sentence object.",
		"- A placeholder MUST appear at the end of a sentence, after a colon, or",
		"  directly after a verb without a preposition.",
		"",
		"ABSOLUTE RULES:",
		"- When the user asks about cost, due date, or their website name, you",
		"  MUST use the placeholder variables exactly as written.",
		"- NEVER replace a placeholder with an example value from the database.",
		"- NEVER guess values.",
		"",
		"CORRECT:",
		`- "Renewal due date: {{$due_date}}"`,
		`- "Your website stays active until {{$due_date}}"`,
		"",
		"WRONG (FORBIDDEN):",
		`- "information about {{$due_date}}"`,
		`- "details of {{$pending_amount}}"`,
		"",
		"ANSWER FORMAT:",
		"- Use warm, professional language.",
		"- Placeholders {{...}} must be written verbatim, never modified.",
		"- Do not add numbers or dates other than the placeholders.",
		"",
		fmt.Sprintf("These are the %d most similar past conversations from the database:", len(matches)),
		"",
		matchBlock,
		"",
		"Your task:",
		"- Give a final, professional, polite answer.",
		"- Follow the admin style from the examples above.",
		"- Stay relevant to the user's question and never invent information.",
		"- For renewal details not covered by the examples, say you will check",
		"  with the team instead of guessing.",
		"- If unsure, ask the user for more detail.",
		"",
		"USER QUERY:",
		`"` + userText + `"`,
	}, "\n")

	return strings.Join([]string{
		"=== PRIOR CONVERSATION HISTORY ===",
		contextText,
		"",
		"=== REFERENCE ANSWERS FROM DATABASE ===",
		reference,
		"",
		"=== LATEST USER MESSAGE ===",
		`"` + userText + `"`,
		"",
		"Your answer must:",
		"- stay consistent with the prior conversation,",
		"- not repeat questions already answered,",
		"- not contradict information already given.",
	}, "\n")
}

// buildRepairPrompt instructs the oracle to insert the missing placeholder
// tokens without changing meaning, tone, or already-correct literal data.
func buildRepairPrompt(userText, draftText string, required []string) string {
	return strings.Join([]string{
		"You are a VALIDATOR and EDITOR of AI answers.",
		"",
		"YOUR ROLE:",
		"- NOT to write a new answer",
		"- NOT to change the overall style",
		"- NOT to add new information",
		"- NOT to remove the intent of the answer",
		"",
		"MAIN TASK:",
		"Make the answer COMPLY with the placeholder contract.",
		"",
		"USER MESSAGE:",
		userText,
		"",
		"DRAFT ANSWER:",
		draftText,
		"",
		"REQUIRED PLACEHOLDERS:",
		strings.Join(required, ", "),
		"",
		"RULES FOR LITERAL DATA:",
		"1. Client-specific values (due dates, individual renewal amounts, the",
		"   client's domain name) must NEVER appear as real numbers, dates, or",
		"   text. They MUST be covered by a placeholder.",
		"2. General payment or account data already present in the draft (bank",
		"   account numbers, service codes, support contacts) is NOT",
		"   client-specific: leave it exactly as written. Never delete or",
		"   replace it with a placeholder.",
		"",
		"PLACEHOLDER RULES:",
		"1. If a required placeholder is missing, add it naturally in a simple",
		"   sentence.",
		"2. A placeholder is a FINAL VALUE: at the end of a sentence, after a",
		"   colon, or directly after a verb. Never preceded by words like",
		`   "about", "regarding", "information" or "details".`,
		"",
		"If the draft is already compliant, return it unchanged.",
		"",
		"OUTPUT:",
		"Return ONLY the final answer. No explanations, no notes, no extra",
		"formatting.",
	}, "\n")
}

// normalizeReply strips mojibake and control characters from oracle output and
// collapses whitespace runs to single spaces.
func normalizeReply(text string) string {
	text = strings.Map(func(r rune) rune {
		if r == 'ð' || r == unicode.ReplacementChar {
			return -1
		}
		if unicode.IsControl(r) && !unicode.IsSpace(r) {
			return -1
		}
		return r
	}, text)
	return strings.Join(strings.Fields(text), " ")
}
