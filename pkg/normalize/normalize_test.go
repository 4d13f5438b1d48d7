package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zapflow/zapflow/pkg/models"
)

func parse(t *testing.T, raw string) map[string]any {
	t.Helper()
	var payload map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &payload))
	return payload
}

func TestNormalizeHappyPath(t *testing.T) {
	payload := parse(t, `{"message":{"conversation":"olá"},"number":"11999999999"}`)

	msg, err := Normalize(payload)
	require.NoError(t, err)
	assert.Equal(t, "5511999999999", msg.Number)
	assert.Equal(t, "olá", msg.Text)
	assert.Equal(t, models.KindText, msg.Kind)
}

func TestNumberExtraction(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    string
		wantErr bool
	}{
		{
			name: "remoteJid user suffix",
			raw:  `{"key":{"remoteJid":"5516998888888@s.whatsapp.net"},"message":{"conversation":"oi"}}`,
			want: "5516998888888",
		},
		{
			name: "group jid skipped, participant wins",
			raw:  `{"key":{"remoteJid":"5511000-123@g.us","participant":"5516998888888@s.whatsapp.net"},"message":{"conversation":"oi"}}`,
			want: "5516998888888",
		},
		{
			name: "device suffix stripped",
			raw:  `{"key":{"remoteJid":"5516998888888:24@s.whatsapp.net"},"message":{"conversation":"oi"}}`,
			want: "5516998888888",
		},
		{
			name: "country code prepended",
			raw:  `{"from":"(11) 99999-9999","message":{"conversation":"oi"}}`,
			want: "5511999999999",
		},
		{
			name: "ticket contact phone",
			raw:  `{"ticket":{"contact":{"phone":"5511988887777"}},"message":{"conversation":"oi"}}`,
			want: "5511988887777",
		},
		{
			name: "regex sweep over lid jid",
			raw:  `{"sender":{"id":"5511977776666@lid"},"message":{"conversation":"oi"}}`,
			want: "5511977776666",
		},
		{
			name:    "broadcast jid rejected by sweep",
			raw:     `{"sender":{"id":"5511977776666@broadcast"},"message":{"conversation":"oi"}}`,
			wantErr: true,
		},
		{
			name:    "too few digits",
			raw:     `{"number":"9999","message":{"conversation":"oi"}}`,
			wantErr: true,
		},
		{
			name:    "no number at all",
			raw:     `{"message":{"conversation":"oi"}}`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Normalize(parse(t, tt.raw))
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidPayload)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Number)
		})
	}
}

func TestTextExtraction(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantText string
		wantKind models.MessageKind
	}{
		{
			name:     "image caption",
			raw:      `{"number":"5511999999999","message":{"imageMessage":{"caption":"uma foto"}}}`,
			wantText: "uma foto",
			wantKind: models.KindMedia,
		},
		{
			name:     "document file name",
			raw:      `{"number":"5511999999999","message":{"documentMessage":{"fileName":"contrato.pdf"}}}`,
			wantText: "contrato.pdf",
			wantKind: models.KindMedia,
		},
		{
			name:     "extended text",
			raw:      `{"number":"5511999999999","message":{"extendedTextMessage":{"text":"quero saber mais"}}}`,
			wantText: "quero saber mais",
			wantKind: models.KindText,
		},
		{
			name:     "buttons response",
			raw:      `{"number":"5511999999999","message":{"buttonsResponseMessage":{"selectedDisplayText":"Sim"}}}`,
			wantText: "Sim",
			wantKind: models.KindInteractive,
		},
		{
			name:     "buttons response id fallback",
			raw:      `{"number":"5511999999999","message":{"buttonsResponseMessage":{"selectedButtonId":"btn_1"}}}`,
			wantText: "btn_1",
			wantKind: models.KindInteractive,
		},
		{
			name:     "list response single select",
			raw:      `{"number":"5511999999999","message":{"listResponseMessage":{"singleSelectReply":{"selectedRowId":"row_2"}}}}`,
			wantText: "row_2",
			wantKind: models.KindInteractive,
		},
		{
			name:     "interactive params json string",
			raw:      `{"number":"5511999999999","message":{"interactiveResponseMessage":{"result":{"paramsJson":"{\"id\":\"opt_9\"}"}}}}`,
			wantText: "opt_9",
			wantKind: models.KindInteractive,
		},
		{
			name:     "native flow fallback",
			raw:      `{"number":"5511999999999","message":{"nativeFlowResponseMessage":{"messageParamsJson":"{\"id\":\"flow_3\"}"}}}`,
			wantText: "flow_3",
			wantKind: models.KindInteractive,
		},
		{
			name:     "template hydrated content",
			raw:      `{"number":"5511999999999","message":{"templateMessage":{"hydratedTemplate":{"hydratedContentText":"promo do dia"}}}}`,
			wantText: "promo do dia",
			wantKind: models.KindTemplate,
		},
		{
			name:     "ephemeral unwrap",
			raw:      `{"number":"5511999999999","message":{"ephemeralMessage":{"message":{"conversation":"oi efêmero"}}}}`,
			wantText: "oi efêmero",
			wantKind: models.KindText,
		},
		{
			name:     "messages array",
			raw:      `{"number":"5511999999999","messages":[{"message":{"conversation":"primeira"}}]}`,
			wantText: "primeira",
			wantKind: models.KindText,
		},
		{
			name:     "flat body fallback",
			raw:      `{"number":"5511999999999","body":"texto solto"}`,
			wantText: "texto solto",
			wantKind: models.KindText,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := Normalize(parse(t, tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.wantText, msg.Text)
			assert.Equal(t, tt.wantKind, msg.Kind)
		})
	}
}

func TestNormalizeNoText(t *testing.T) {
	_, err := Normalize(parse(t, `{"number":"5511999999999","message":{"reactionMessage":{"text":"👍"}}}`))
	assert.ErrorIs(t, err, ErrInvalidPayload)
}
