package logger

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/yndnr/shardkv/internal/core/domain"
)

// Attribute keys whose values are user data or secrets. Matching is by
// substring of the lowercased key.
var sensitiveKeyPatterns = []string{
	"value",
	"payload",
	"password",
	"secret",
	"token",
	"credential",
}

// redactedValue is the placeholder for redacted data.
const redactedValue = "***REDACTED***"

// redactSensitive redacts attributes whose key suggests user data. Strings
// are replaced; byte slices and payloads are reduced to their length.
func redactSensitive(a slog.Attr) slog.Attr {
	if a.Value.Kind() == slog.KindGroup {
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}

	if !IsSensitiveKey(a.Key) {
		return a
	}

	switch a.Value.Kind() {
	case slog.KindString:
		if a.Value.String() != "" {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindAny:
		switch v := a.Value.Any().(type) {
		case []byte:
			return slog.String(a.Key, RedactBytes(v))
		case *domain.Payload:
			return slog.String(a.Key, RedactBytes(v.Bytes()))
		}
	}
	return a
}

// RedactBytes describes b without revealing it.
func RedactBytes(b []byte) string {
	return fmt.Sprintf("[%d bytes]", len(b))
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range sensitiveKeyPatterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
