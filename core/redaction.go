package core

import (
	"regexp"
	"strings"
)

const RedactedValue = "[REDACTED]"

var (
	secretParamPattern = regexp.MustCompile(`(?i)\b(access_token|input_token|fb_exchange_token|client_secret|refresh_token|appsecret_proof|code)=[^&\s"']+`)
	bearerValuePattern = regexp.MustCompile(`(?i)\bbearer\s+[^\s"']+`)
)

// RedactErrorText masks secret query parameters and bearer values inside
// free-form text such as a transport error that quotes a request URL.
func RedactErrorText(text string) string {
	if text == "" {
		return text
	}
	text = secretParamPattern.ReplaceAllString(text, "${1}="+RedactedValue)
	return bearerValuePattern.ReplaceAllString(text, "Bearer "+RedactedValue)
}

// redactedError keeps the cause chain while its text goes through
// RedactErrorText.
type redactedError struct {
	cause error
}

func redactError(err error) error {
	if err == nil {
		return nil
	}
	return &redactedError{cause: err}
}

func (e *redactedError) Error() string {
	return RedactErrorText(e.cause.Error())
}

func (e *redactedError) Unwrap() error {
	return e.cause
}

// RedactSensitiveMap masks secret-bearing keys before fields reach a logger.
// Identifiers such as credential_id stay visible.
func RedactSensitiveMap(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	return redactSensitiveMap(fields)
}

func redactSensitiveMap(source map[string]any) map[string]any {
	target := make(map[string]any, len(source))
	for key, value := range source {
		if shouldRedactKey(key) {
			target[key] = RedactedValue
			continue
		}
		target[key] = redactSensitiveValue(value)
	}
	return target
}

func redactSensitiveValue(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		return redactSensitiveMap(typed)
	case []any:
		out := make([]any, len(typed))
		for i := range typed {
			out[i] = redactSensitiveValue(typed[i])
		}
		return out
	case string:
		return RedactErrorText(typed)
	case error:
		return RedactErrorText(typed.Error())
	default:
		return value
	}
}

func shouldRedactKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if key == "" || isTraceabilityKey(key) {
		return false
	}
	for _, token := range []string{
		"secret",
		"token",
		"code",
		"state",
		"authorization",
		"ciphertext",
		"nonce",
		"password",
		"key",
	} {
		if strings.Contains(key, token) {
			return true
		}
	}
	return false
}

func isTraceabilityKey(key string) bool {
	switch key {
	case "provider_id",
		"tenant_id",
		"account_id",
		"account_ref",
		"credential_id",
		"provider_account_id",
		"idempotency_key",
		"key_id",
		"status",
		"error_category",
		"error_text_code",
		"error_severity",
		"trace_id",
		"request_id":
		return true
	default:
		return false
	}
}
