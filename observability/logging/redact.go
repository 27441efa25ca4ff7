package logging

import (
	"log/slog"
	"strings"
)

// RedactedValue replaces secret attribute values.
const RedactedValue = "[REDACTED]"

// secretMarkers flag attribute keys whose values never reach a log line.
var secretMarkers = []string{"secret", "password", "token", "apikey", "api_key", "authorization"}

// IsSecretKey reports whether key names a credential. Matching ignores case
// and punctuation so jwtSecret, jwt_secret and X-API-Key all match.
func IsSecretKey(key string) bool {
	normalized := strings.ToLower(strings.TrimSpace(key))
	compact := strings.NewReplacer("-", "", "_", "", ".", "").Replace(normalized)
	for _, marker := range secretMarkers {
		if strings.Contains(normalized, marker) || strings.Contains(compact, marker) {
			return true
		}
	}
	return false
}

// MaskField returns key with its value redacted. Blank values pass through so
// an unset secret stays visibly unset.
func MaskField(key, value string) slog.Attr {
	if strings.TrimSpace(value) == "" {
		return slog.String(key, value)
	}
	return slog.String(key, RedactedValue)
}

// redactAttr masks string attributes with secret keys. It runs inside the
// handler so call sites that forget MaskField are still covered.
func redactAttr(attr slog.Attr) slog.Attr {
	if attr.Value.Kind() != slog.KindString || !IsSecretKey(attr.Key) {
		return attr
	}
	return MaskField(attr.Key, attr.Value.String())
}
