package contextengine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/zapflow/zapflow/pkg/models"
)

const recentSnippets = 4

const snippetMaxLen = 100

// buildSystemPrompt assembles the deterministic instruction block sent to
// the model ahead of the conversation turns.
func buildSystemPrompt(profile *models.CustomerContext, p *models.PersonalizationConfig, history []models.ContextEntry, sentiment, intention string) string {
	var b strings.Builder

	b.WriteString("Você é um assistente virtual de atendimento ao cliente via WhatsApp.\n")
	fmt.Fprintf(&b, "Tom de voz: %s.\n", p.ToneOfVoice)

	if name := customerName(profile); name != "" {
		fmt.Fprintf(&b, "Nome do cliente: %s.\n", name)
	}
	fmt.Fprintf(&b, "Grau de formalidade: %d/100. Grau de empatia: %d/100.\n",
		p.FormalityLevel, p.EmpathyLevel)

	if topics := topTopics(profile.FrequentTopics, 5); len(topics) > 0 {
		fmt.Fprintf(&b, "Assuntos frequentes do cliente: %s.\n", strings.Join(topics, ", "))
	}
	if len(profile.ProductMentions) > 0 {
		fmt.Fprintf(&b, "Produto de interesse: %s.\n", profile.ProductMentions[0])
	}
	if profile.LastSubject != "" {
		fmt.Fprintf(&b, "Último assunto tratado: %s.\n", profile.LastSubject)
	}

	if recent := recentDialogue(history); recent != "" {
		b.WriteString("Resumo da conversa recente:\n")
		b.WriteString(recent)
	}

	switch sentiment {
	case SentimentNegative:
		b.WriteString("O cliente demonstra insatisfação: responda com empatia e foque em resolver o problema.\n")
	case SentimentPositive:
		b.WriteString("O cliente está satisfeito: mantenha o entusiasmo na resposta.\n")
	}

	if p.AdaptiveHumor && sentiment != SentimentNegative {
		b.WriteString("Humor leve é permitido quando apropriado.\n")
	}

	fmt.Fprintf(&b, "Intenção detectada na mensagem: %s.\n", intention)
	return b.String()
}

// recentDialogue renders the last turns as "Cliente"/"Assistente" lines,
// each snippet capped at snippetMaxLen runes.
func recentDialogue(history []models.ContextEntry) string {
	start := len(history) - recentSnippets
	if start < 0 {
		start = 0
	}

	var b strings.Builder
	for _, entry := range history[start:] {
		speaker := "Cliente"
		if entry.Role == models.RoleAssistant {
			speaker = "Assistente"
		}
		fmt.Fprintf(&b, "%s: %s\n", speaker, truncateRunes(entry.Body, snippetMaxLen))
	}
	return b.String()
}

// templateVars populates every variable the response templates may
// reference. resposta stays empty until the worker sets the LLM output.
func (e *Engine) templateVars(rc *RuntimeContext, number string) map[string]string {
	p := rc.Personalization
	profile := rc.Profile

	vars := map[string]string{
		"nome":             customerName(profile),
		"produto":          "",
		"ultimo_assunto":   profile.LastSubject,
		"saudacao":         greeting(p, profile),
		"resposta":         "",
		"transferencia":    e.transferMessage,
		"tom":              p.ToneOfVoice,
		"contexto_recente": recentDialogue(rc.History),
		"empatia_texto":    "",
		"humor_extra":      "",
		"sentimento":       rc.Sentiment,
		"intencao":         rc.Intention,
		"grau_formalidade": strconv.Itoa(p.FormalityLevel),
		"grau_empatia":     strconv.Itoa(p.EmpathyLevel),
		"humor_ativo":      strconv.FormatBool(p.AdaptiveHumor),
		"numero":           number,
	}
	if len(profile.ProductMentions) > 0 {
		vars["produto"] = profile.ProductMentions[0]
	}
	if rc.Sentiment == SentimentNegative {
		vars["empatia_texto"] = "Sinto muito pelo transtorno. "
	}
	if p.AdaptiveHumor && rc.Sentiment == SentimentPositive {
		vars["humor_extra"] = " 😄"
	}
	return vars
}

// greeting prefers the tenant's first opening phrase; otherwise a plain
// salutation, personalized when the customer's name is known.
func greeting(p *models.PersonalizationConfig, profile *models.CustomerContext) string {
	if len(p.OpeningPhrases) > 0 {
		return p.OpeningPhrases[0] + " "
	}
	if name := customerName(profile); name != "" {
		return fmt.Sprintf("Olá, %s! ", name)
	}
	return "Olá! "
}

func customerName(profile *models.CustomerContext) string {
	if name, ok := profile.Preferences["nome"].(string); ok {
		return name
	}
	return ""
}

func topTopics(topics []string, n int) []string {
	if len(topics) > n {
		return topics[:n]
	}
	return topics
}

func truncateRunes(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max])
}
