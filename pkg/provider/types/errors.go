package types

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"
)

// CapabilityError reports that a provider cannot handle some part of a
// request, such as image input.
type CapabilityError struct {
	Provider   string
	Capability string
	Message    string
}

func (e *CapabilityError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("provider %s does not support %s", e.Provider, e.Capability)
	}
	return fmt.Sprintf("provider %s does not support %s: %s", e.Provider, e.Capability, e.Message)
}

// AsCapabilityError unwraps err to a *CapabilityError when it is one.
func AsCapabilityError(err error) (*CapabilityError, bool) {
	var capErr *CapabilityError
	if errors.As(err, &capErr) {
		return capErr, true
	}
	return nil, false
}

var visionRejectionMarkers = []string{
	"image_url is only supported",
	"does not support image",
	"image input is not supported",
	"images are not supported",
	"vision is not supported",
	"model does not support vision",
}

// ClassifyCapabilityError turns an API rejection of image input into a vision
// CapabilityError for provider. Any other err is returned unchanged.
func ClassifyCapabilityError(provider string, err error) error {
	if err == nil {
		return nil
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range visionRejectionMarkers {
		if strings.Contains(msg, marker) {
			return &CapabilityError{Provider: provider, Capability: "vision", Message: SanitizeAPIError(err.Error())}
		}
	}
	return err
}

var contextOverflowMarkers = []string{
	"context_length_exceeded",
	"context length",
	"context window",
	"maximum context",
	"prompt is too long",
	"too many tokens",
	"input is too long",
}

// IsContextWindowOverflow reports whether err says the prompt no longer fits
// the model's context window.
func IsContextWindowOverflow(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range contextOverflowMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

const maxAPIErrorRunes = 200

var secretPatterns = []struct {
	re   *regexp.Regexp
	repl string
}{
	{regexp.MustCompile(`sk-[A-Za-z0-9_\-]{8,}`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._\-]+`), "[REDACTED]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret)(["']?\s*[:=]\s*["']?)[^\s"',&]+`), "$1$2[REDACTED]"},
	// slack and telegram bot tokens
	{regexp.MustCompile(`xox[abpr]-[A-Za-z0-9\-]+`), "[REDACTED]"},
	{regexp.MustCompile(`\d{6,}:[A-Za-z0-9_\-]{30,}`), "[REDACTED]"},
}

// SanitizeAPIError scrubs credentials from an error string and caps its length
// so it is safe to show to chat users.
func SanitizeAPIError(msg string) string {
	for _, p := range secretPatterns {
		msg = p.re.ReplaceAllString(msg, p.repl)
	}
	msg = strings.TrimSpace(msg)
	if utf8.RuneCountInString(msg) > maxAPIErrorRunes {
		msg = string([]rune(msg)[:maxAPIErrorRunes]) + "..."
	}
	return msg
}
