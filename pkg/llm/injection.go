package llm

import "regexp"

// SafeReply is returned verbatim when the injection guard blocks an input.
// Callers treat it as a normal reply, never as an error.
const SafeReply = "Desculpe, não posso executar esse tipo de comando."

// injectionPatterns match attempts to override the system prompt or smuggle
// dangerous commands through the conversation.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(prior|previous)\s+instructions`),
	regexp.MustCompile(`(?i)forget\s+previous\s+instructions`),
	regexp.MustCompile(`(?i)ignor(e|ar)\s+(as\s+)?instru(ç|c)(õ|o)es\s+anteriores`),
	regexp.MustCompile(`(?i)\b(rm\s+-rf|drop\s+table|sudo\s+|shutdown\b|mkfs|--no-preserve-root)`),
}

// DetectInjection reports whether text matches a prompt-injection pattern.
func DetectInjection(text string) bool {
	for _, p := range injectionPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}
