// Package template renders named response templates with {{var}}
// placeholders. Variable keys are accent-folded, so {{último_assunto}} and
// {{ultimo_assunto}} resolve to the same variable.
package template

import (
	"regexp"
	"strings"

	"github.com/zapflow/zapflow/pkg/llm"
	"github.com/zapflow/zapflow/pkg/metrics"
)

// Reserved template names used by the pipeline.
const (
	NameDefault        = "default"
	NameFallback       = "fallback"
	NameAIDisabled     = "ai_disabled"
	NameTechnicalIssue = "technical_issue"
)

var placeholderRe = regexp.MustCompile(`\{\{\s*([^{}]+?)\s*\}\}`)

// accentFolder maps Portuguese accented runes to their ASCII forms.
var accentFolder = strings.NewReplacer(
	"á", "a", "à", "a", "â", "a", "ã", "a",
	"é", "e", "ê", "e",
	"í", "i",
	"ó", "o", "ô", "o", "õ", "o",
	"ú", "u", "ü", "u",
	"ç", "c",
)

// Template is a named response body with optional default variables.
// Defaults fill variables the caller left absent or empty.
type Template struct {
	Body     string
	Defaults map[string]string
}

// Renderer holds the template registry.
type Renderer struct {
	templates map[string]Template
	metrics   *metrics.Metrics
}

// NewRenderer creates a renderer pre-loaded with the built-in template
// set. metrics may be nil in tests.
func NewRenderer(m *metrics.Metrics) *Renderer {
	r := &Renderer{
		templates: map[string]Template{},
		metrics:   m,
	}
	for name, tpl := range builtinTemplates() {
		r.templates[name] = tpl
	}
	return r
}

// Register adds or replaces a named template.
func (r *Renderer) Register(name string, tpl Template) {
	r.templates[name] = tpl
}

// Has reports whether a template exists, used by template selection.
func (r *Renderer) Has(name string) bool {
	_, ok := r.templates[name]
	return ok
}

// Render substitutes variables into the named template. Unknown names use
// the default template; an empty result falls back to the fallback
// template and bumps the fallback counter.
func (r *Renderer) Render(name string, vars map[string]string) string {
	tpl, ok := r.templates[name]
	if !ok {
		tpl = r.templates[NameDefault]
	}

	out := r.substitute(tpl, vars)
	if strings.TrimSpace(out) != "" || name == NameFallback {
		return out
	}

	if r.metrics != nil {
		r.metrics.TemplateFallbacks.Inc()
	}
	return r.substitute(r.templates[NameFallback], vars)
}

func (r *Renderer) substitute(tpl Template, vars map[string]string) string {
	folded := make(map[string]string, len(vars))
	for k, v := range vars {
		folded[foldKey(k)] = v
	}
	for k, v := range tpl.Defaults {
		fk := foldKey(k)
		if folded[fk] == "" {
			folded[fk] = v
		}
	}

	return placeholderRe.ReplaceAllStringFunc(tpl.Body, func(match string) string {
		key := placeholderRe.FindStringSubmatch(match)[1]
		return folded[foldKey(key)]
	})
}

func foldKey(key string) string {
	return accentFolder.Replace(strings.ToLower(strings.TrimSpace(key)))
}

// builtinTemplates is the default response set. Tenants may override any
// entry at startup via Register.
func builtinTemplates() map[string]Template {
	return map[string]Template{
		NameDefault: {Body: "{{resposta}}"},
		NameFallback: {
			Body: "{{resposta}}",
			// The blocked-input reply doubles as the empty-render fallback.
			Defaults: map[string]string{
				"resposta": llm.SafeReply,
			},
		},
		NameAIDisabled: {
			Body: "{{saudacao}}No momento nosso atendimento automático está desativado. {{transferencia}}",
			Defaults: map[string]string{
				"transferencia": "Em breve um atendente falará com você.",
			},
		},
		NameTechnicalIssue: {
			Body: "Estamos com uma instabilidade temporária. {{transferencia}}",
			Defaults: map[string]string{
				"transferencia": "Tente novamente em alguns minutos.",
			},
		},
		"greeting": {
			Body: "{{saudacao}}{{resposta}}",
		},
		"closing": {
			Body: "{{resposta}} Obrigado pelo contato, {{nome}}!",
		},
		"doubt": {
			Body: "{{resposta}}",
		},
		"sentiment_negative": {
			Body: "{{empatia_texto}}{{resposta}}",
		},
		"sentiment_positive": {
			Body: "{{resposta}}{{humor_extra}}",
		},
	}
}
