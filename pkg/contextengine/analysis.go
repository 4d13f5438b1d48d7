package contextengine

import (
	"strings"
	"unicode"

	"github.com/zapflow/zapflow/pkg/models"
)

// Sentiment labels.
const (
	SentimentPositive = "positive"
	SentimentNegative = "negative"
	SentimentNeutral  = "neutral"
)

// Intention labels.
const (
	IntentionGreeting        = "greeting"
	IntentionClosing         = "closing"
	IntentionUrgency         = "urgency"
	IntentionDoubt           = "doubt"
	IntentionAcknowledgement = "acknowledgement"
	IntentionConfirmation    = "confirmation"
	IntentionFollowUp        = "follow_up"
)

// Feedback labels. Empty means no feedback detected.
const (
	FeedbackPositive = "positive"
	FeedbackNegative = "negative"
)

var positiveMarkers = []string{
	"obrigado", "obrigada", "valeu", "ótimo", "otimo", "excelente",
	"perfeito", "maravilha", "adorei", "gostei", "ajudou", "top",
	"👍", "❤️", "😊", "🙏", "😄",
}

var negativeMarkers = []string{
	"péssimo", "pessimo", "horrível", "horrivel", "ruim", "problema",
	"reclamação", "reclamacao", "absurdo", "demora", "atraso", "raiva",
	"cancelar", "decepcionado", "decepcionada",
	"👎", "😡", "😠", "😤", "😢",
}

var greetingMarkers = []string{"oi", "olá", "ola", "bom dia", "boa tarde", "boa noite", "e aí", "eai"}

var closingMarkers = []string{"tchau", "até mais", "ate mais", "até logo", "ate logo", "adeus", "falou", "encerrar"}

var urgencyMarkers = []string{"urgente", "urgência", "urgencia", "emergência", "emergencia", "imediatamente", "socorro", "o quanto antes"}

var questionTokens = map[string]bool{
	"como": true, "quando": true, "onde": true,
	"qual": true, "quais": true, "pode": true,
}

var ackTokens = map[string]bool{
	"ok": true, "okay": true, "blz": true, "beleza": true,
	"entendi": true, "show": true,
}

var confirmationTokens = map[string]bool{
	"sim": true, "isso": true, "certo": true,
}

// AnalyzeSentiment scores sanitized text against fixed positive and
// negative marker sets, emoji included. The sign of the score decides the
// label.
func AnalyzeSentiment(text string) (string, int) {
	lower := strings.ToLower(text)
	words := tokenize(lower)

	score := 0
	for _, m := range positiveMarkers {
		if matchMarker(lower, words, m) {
			score++
		}
	}
	for _, m := range negativeMarkers {
		if matchMarker(lower, words, m) {
			score--
		}
	}

	switch {
	case score > 0:
		return SentimentPositive, score
	case score < 0:
		return SentimentNegative, score
	default:
		return SentimentNeutral, 0
	}
}

// DetectIntention classifies the user's message. Keyword groups are
// checked before the question heuristic; confirmation requires a previous
// user turn in the history.
func DetectIntention(text string, history []models.ContextEntry) string {
	lower := strings.ToLower(strings.TrimSpace(text))
	words := tokenize(lower)

	switch {
	case anyMarker(lower, words, greetingMarkers):
		return IntentionGreeting
	case anyMarker(lower, words, closingMarkers):
		return IntentionClosing
	case anyMarker(lower, words, urgencyMarkers):
		return IntentionUrgency
	}

	if strings.Contains(lower, "?") {
		return IntentionDoubt
	}
	for _, w := range words {
		if questionTokens[w] {
			return IntentionDoubt
		}
	}

	if len(words) <= 2 && len(words) > 0 && ackTokens[words[0]] {
		return IntentionAcknowledgement
	}

	if confirmationTokens[lower] && hasUserTurn(history) {
		return IntentionConfirmation
	}

	return IntentionFollowUp
}

// DetectFeedback reports explicit satisfaction signals, or "" when the
// message carries none.
func DetectFeedback(text string) string {
	lower := strings.ToLower(text)
	words := tokenize(lower)

	for _, m := range []string{"obrigado", "obrigada", "ajudou", "excelente", "perfeito", "👍", "❤️", "🙏"} {
		if matchMarker(lower, words, m) {
			return FeedbackPositive
		}
	}
	for _, m := range []string{"péssimo", "pessimo", "horrível", "horrivel", "não ajudou", "nao ajudou", "reclamação", "reclamacao", "👎", "😡"} {
		if matchMarker(lower, words, m) {
			return FeedbackNegative
		}
	}
	return ""
}

// matchMarker matches single words by token and phrases or emoji by
// substring, so "bom" never fires inside "bombeiro".
func matchMarker(lower string, words []string, marker string) bool {
	if strings.ContainsAny(marker, " ") || !isWordMarker(marker) {
		return strings.Contains(lower, marker)
	}
	for _, w := range words {
		if w == marker {
			return true
		}
	}
	return false
}

func anyMarker(lower string, words []string, markers []string) bool {
	for _, m := range markers {
		if matchMarker(lower, words, m) {
			return true
		}
	}
	return false
}

func isWordMarker(marker string) bool {
	for _, r := range marker {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

func tokenize(lower string) []string {
	return strings.FieldsFunc(lower, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func hasUserTurn(history []models.ContextEntry) bool {
	for _, entry := range history {
		if entry.Role == models.RoleUser {
			return true
		}
	}
	return false
}
