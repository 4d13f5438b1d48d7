// Package normalize is the single entry point that converts the upstream
// gateway's heterogeneous JSON envelopes into typed inbound messages.
package normalize

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"

	"github.com/zapflow/zapflow/pkg/models"
)

// ErrInvalidPayload signals an envelope with no extractable number or text.
var ErrInvalidPayload = errors.New("invalid_payload")

const (
	suffixUser      = "@s.whatsapp.net"
	suffixLID       = "@lid"
	suffixGroup     = "@g.us"
	suffixBroadcast = "@broadcast"

	countryCode = "55"
	minDigits   = 11
)

// jidSweepRe matches any JID-looking token in a serialized payload.
var jidSweepRe = regexp.MustCompile(`(\d{11,})@(s\.whatsapp\.net|lid|g\.us|broadcast)`)

// Message is a normalized inbound message.
type Message struct {
	Number string
	Text   string
	Kind   models.MessageKind
}

// Normalize extracts (number, text, kind) from a parsed JSON envelope.
func Normalize(payload map[string]any) (*Message, error) {
	number, ok := extractNumber(payload)
	if !ok {
		return nil, ErrInvalidPayload
	}

	text, kind, ok := extractText(payload)
	if !ok {
		return nil, ErrInvalidPayload
	}

	return &Message{Number: number, Text: text, Kind: kind}, nil
}

// extractNumber applies the extraction order: nested key envelope, flat
// fields, then a regex sweep over the serialized payload. The result is a
// digit string with the 55 country code prepended when absent.
func extractNumber(payload map[string]any) (string, bool) {
	if key := asMap(payload["key"]); key != nil {
		for _, field := range []string{"remoteJid", "remoteJidAlt", "participant"} {
			if n, ok := numberFromJID(asString(key[field])); ok {
				return n, true
			}
		}
	}

	candidates := []string{
		asString(payload["number"]),
		asString(payload["from"]),
	}
	if contact := asMap(payload["contact"]); contact != nil {
		candidates = append(candidates, asString(contact["number"]), asString(contact["phone"]))
	}
	if ticket := asMap(payload["ticket"]); ticket != nil {
		if contact := asMap(ticket["contact"]); contact != nil {
			candidates = append(candidates, asString(contact["number"]), asString(contact["phone"]))
		}
	}
	for _, c := range candidates {
		if n, ok := numberFromDigits(c); ok {
			return n, true
		}
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", false
	}
	for _, match := range jidSweepRe.FindAllStringSubmatch(string(raw), -1) {
		domain := "@" + match[2]
		if domain == suffixGroup || domain == suffixBroadcast {
			continue
		}
		if n, ok := numberFromDigits(match[1]); ok {
			return n, true
		}
	}

	return "", false
}

// numberFromJID accepts only individual-user JIDs. Group and broadcast
// JIDs never identify a sender.
func numberFromJID(jid string) (string, bool) {
	if jid == "" {
		return "", false
	}
	if strings.HasSuffix(jid, suffixGroup) || strings.HasSuffix(jid, suffixBroadcast) {
		return "", false
	}
	if !strings.HasSuffix(jid, suffixUser) {
		return "", false
	}
	local, _, _ := strings.Cut(jid, "@")
	// Device suffixes ("5511999999999:24") are part of the local part.
	local, _, _ = strings.Cut(local, ":")
	return numberFromDigits(local)
}

// numberFromDigits strips non-digits, enforces the minimum length, and
// normalizes to a 55-prefixed number.
func numberFromDigits(s string) (string, bool) {
	digits := digitsOnly(s)
	if len(digits) < minDigits {
		return "", false
	}
	if !strings.HasPrefix(digits, countryCode) {
		digits = countryCode + digits
	}
	return digits, true
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// extractText walks the envelope for the message body, classifying the
// message kind along the way.
func extractText(payload map[string]any) (string, models.MessageKind, bool) {
	if msg := asMap(payload["message"]); msg != nil {
		if text, kind, ok := textFromMessage(msg); ok {
			return text, kind, true
		}
	}

	if msgs, ok := payload["messages"].([]any); ok {
		for _, item := range msgs {
			entry := asMap(item)
			if entry == nil {
				continue
			}
			if msg := asMap(entry["message"]); msg != nil {
				if text, kind, ok := textFromMessage(msg); ok {
					return text, kind, true
				}
			}
		}
	}

	// Absent any structured field, fall back to flat text fields.
	for _, field := range []string{"text", "body", "caption", "content"} {
		if s := strings.TrimSpace(asString(payload[field])); s != "" {
			return s, models.KindText, true
		}
	}

	return "", "", false
}

// textFromMessage inspects a message envelope. Ephemeral wrappers are
// unwrapped one layer before matching.
func textFromMessage(msg map[string]any) (string, models.MessageKind, bool) {
	if eph := asMap(msg["ephemeralMessage"]); eph != nil {
		if inner := asMap(eph["message"]); inner != nil {
			msg = inner
		}
	}

	for _, field := range []string{"imageMessage", "videoMessage", "documentMessage"} {
		if media := asMap(msg[field]); media != nil {
			if s := firstNonEmpty(asString(media["caption"]), asString(media["fileName"])); s != "" {
				return s, models.KindMedia, true
			}
		}
	}

	if s := strings.TrimSpace(asString(msg["conversation"])); s != "" {
		return s, models.KindText, true
	}

	if ext := asMap(msg["extendedTextMessage"]); ext != nil {
		if s := firstNonEmpty(asString(ext["text"]), asString(ext["caption"])); s != "" {
			return s, models.KindText, true
		}
	}

	if btn := asMap(msg["buttonsResponseMessage"]); btn != nil {
		if s := firstNonEmpty(asString(btn["selectedDisplayText"]), asString(btn["selectedButtonId"])); s != "" {
			return s, models.KindInteractive, true
		}
	}

	if list := asMap(msg["listResponseMessage"]); list != nil {
		candidates := []string{asString(list["title"]), asString(list["description"])}
		if reply := asMap(list["singleSelectReply"]); reply != nil {
			for _, v := range []string{"selectedRowId", "title", "description"} {
				candidates = append(candidates, asString(reply[v]))
			}
		}
		if s := firstNonEmpty(candidates...); s != "" {
			return s, models.KindInteractive, true
		}
	}

	if ir := asMap(msg["interactiveResponseMessage"]); ir != nil {
		if s := interactiveResult(ir); s != "" {
			return s, models.KindInteractive, true
		}
	}
	if nf := asMap(msg["nativeFlowResponseMessage"]); nf != nil {
		if s := paramsJSONField(nf["messageParamsJson"], "id"); s != "" {
			return s, models.KindInteractive, true
		}
	}

	if tpl := asMap(msg["templateMessage"]); tpl != nil {
		if s := templateText(tpl); s != "" {
			return s, models.KindTemplate, true
		}
	}

	return "", "", false
}

// interactiveResult extracts the selection from result.paramsJson, which
// arrives either as a JSON string or as an object.
func interactiveResult(ir map[string]any) string {
	result := asMap(ir["result"])
	if result == nil {
		return ""
	}
	for _, field := range []string{"id", "title", "description"} {
		if s := paramsJSONField(result["paramsJson"], field); s != "" {
			return s
		}
	}
	return ""
}

// paramsJSONField reads a field from a value that may be a JSON-encoded
// string or an already-parsed object.
func paramsJSONField(v any, field string) string {
	switch params := v.(type) {
	case string:
		var decoded map[string]any
		if err := json.Unmarshal([]byte(params), &decoded); err != nil {
			return ""
		}
		return strings.TrimSpace(asString(decoded[field]))
	case map[string]any:
		return strings.TrimSpace(asString(params[field]))
	}
	return ""
}

func templateText(tpl map[string]any) string {
	hydrated := asMap(tpl["hydratedTemplate"])
	if hydrated == nil {
		return ""
	}
	if s := firstNonEmpty(
		asString(hydrated["hydratedContentText"]),
		asString(hydrated["contentText"]),
		asString(hydrated["bodyText"]),
	); s != "" {
		return s
	}
	if buttons, ok := hydrated["hydratedButtons"].([]any); ok && len(buttons) > 0 {
		if btn := asMap(buttons[0]); btn != nil {
			if quick := asMap(btn["quickReplyButton"]); quick != nil {
				return firstNonEmpty(asString(quick["id"]), asString(quick["displayText"]))
			}
			return firstNonEmpty(asString(btn["buttonId"]), asString(btn["displayText"]))
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}

func asMap(v any) map[string]any {
	m, _ := v.(map[string]any)
	return m
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}
