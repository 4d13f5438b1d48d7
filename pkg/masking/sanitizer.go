// Package masking redacts credentials from strings before they reach logs
// or persisted error fields. Every log line that can carry external
// request/response material must pass through a Sanitizer.
package masking

import (
	"regexp"
	"strings"
)

const redacted = "***REDACTED***"

// ErrorTruncateLen bounds persisted error bodies.
const ErrorTruncateLen = 256

// builtinPatterns match credential material regardless of configuration.
var builtinPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/-]+=*`),
	regexp.MustCompile(`(?i)token=[^\s&"']+`),
	regexp.MustCompile(`(?i)apikey=[^\s&"']+`),
	regexp.MustCompile(`(?i)api[_-]key["']?\s*[:=]\s*["']?[^\s&"',}]+`),
	regexp.MustCompile(`(?i)password["']?\s*[:=]\s*["']?[^\s&"',}]+`),
}

// Sanitizer redacts credential patterns plus a set of known secret values.
type Sanitizer struct {
	secrets []string
}

// NewSanitizer creates a sanitizer. The given secrets (shared secret,
// bearer token, API keys) are redacted verbatim wherever they appear;
// empty values are ignored.
func NewSanitizer(secrets ...string) *Sanitizer {
	s := &Sanitizer{}
	for _, secret := range secrets {
		if secret != "" {
			s.secrets = append(s.secrets, secret)
		}
	}
	return s
}

// Sanitize returns the input with credential material replaced.
func (s *Sanitizer) Sanitize(in string) string {
	out := in
	for _, secret := range s.secrets {
		out = strings.ReplaceAll(out, secret, redacted)
	}
	for _, re := range builtinPatterns {
		out = re.ReplaceAllString(out, redacted)
	}
	return out
}

// SanitizeError redacts and truncates an error for persistence. Returns ""
// for nil errors.
func (s *Sanitizer) SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	msg := s.Sanitize(err.Error())
	// Truncate on runes so a multibyte character is never split.
	if runes := []rune(msg); len(runes) > ErrorTruncateLen {
		msg = string(runes[:ErrorTruncateLen])
	}
	return msg
}
