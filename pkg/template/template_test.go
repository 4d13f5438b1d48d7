package template

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/zapflow/zapflow/pkg/llm"
)

func TestRenderSubstitution(t *testing.T) {
	r := NewRenderer(nil)
	r.Register("promo", Template{Body: "Olá {{ nome }}, veja {{produto}}!"})

	out := r.Render("promo", map[string]string{"nome": "Ana", "produto": "o plano X"})
	assert.Equal(t, "Olá Ana, veja o plano X!", out)
}

func TestRenderAccentedKeys(t *testing.T) {
	r := NewRenderer(nil)
	r.Register("resumo", Template{Body: "Sobre {{último_assunto}}."})

	out := r.Render("resumo", map[string]string{"ultimo_assunto": "entrega"})
	assert.Equal(t, "Sobre entrega.", out)
}

func TestRenderUnknownTemplateUsesDefault(t *testing.T) {
	r := NewRenderer(nil)

	out := r.Render("nao_existe", map[string]string{"resposta": "oi"})
	assert.Equal(t, "oi", out)
}

func TestRenderDefaultsFillEmptyVars(t *testing.T) {
	r := NewRenderer(nil)
	r.Register("com_defaults", Template{
		Body:     "{{a}}-{{b}}",
		Defaults: map[string]string{"b": "padrão"},
	})

	t.Run("absent var", func(t *testing.T) {
		assert.Equal(t, "x-padrão", r.Render("com_defaults", map[string]string{"a": "x"}))
	})

	t.Run("caller wins", func(t *testing.T) {
		assert.Equal(t, "x-y", r.Render("com_defaults", map[string]string{"a": "x", "b": "y"}))
	})
}

func TestRenderEmptyOutputFallsBack(t *testing.T) {
	r := NewRenderer(nil)

	// Default template with empty resposta renders empty, so the fallback
	// template (and its safe-reply default) takes over.
	out := r.Render(NameDefault, map[string]string{"resposta": ""})
	assert.Equal(t, llm.SafeReply, out)
}

func TestRenderUnknownVariableIsBlank(t *testing.T) {
	r := NewRenderer(nil)
	r.Register("x", Template{Body: "a{{desconhecida}}b"})

	assert.Equal(t, "ab", r.Render("x", nil))
}

func TestHas(t *testing.T) {
	r := NewRenderer(nil)

	assert.True(t, r.Has(NameDefault))
	assert.True(t, r.Has("sentiment_negative"))
	assert.False(t, r.Has("greeting_positive"))
}
