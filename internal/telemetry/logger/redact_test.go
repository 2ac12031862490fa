package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/yndnr/shardkv/internal/core/domain"
)

func TestRedact_UserData(t *testing.T) {
	var buf bytes.Buffer
	l, err := New(Config{Level: "info", Format: "json", Output: &buf})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	l.Info("write",
		"value", "hunter2",
		"old_value", []byte("abcdef"),
		"payload", domain.NewPayload([]byte("0123456789")),
		"password", "pw",
		"shard", 3,
		"path", "/var/lib/shardkv",
	)

	entry := decode(t, &buf)
	if entry["value"] != redactedValue {
		t.Errorf("value = %v, want redacted", entry["value"])
	}
	if entry["old_value"] != "[6 bytes]" {
		t.Errorf("old_value = %v, want [6 bytes]", entry["old_value"])
	}
	if entry["payload"] != "[10 bytes]" {
		t.Errorf("payload = %v, want [10 bytes]", entry["payload"])
	}
	if entry["password"] != redactedValue {
		t.Errorf("password = %v, want redacted", entry["password"])
	}
	if entry["shard"] != float64(3) || entry["path"] != "/var/lib/shardkv" {
		t.Errorf("non-sensitive attributes changed: %v", entry)
	}
	if strings.Contains(buf.String(), "hunter2") || strings.Contains(buf.String(), "0123456789") {
		t.Fatalf("user data leaked: %s", buf.String())
	}
}

func TestRedact_Groups(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Config{Level: "info", Format: "json", Output: &buf})

	l.WithGroup("req").Info("set", "key_count", 1, "value", "secret-data")
	if strings.Contains(buf.String(), "secret-data") {
		t.Fatalf("grouped value leaked: %s", buf.String())
	}
}

func TestRedact_EmptyStringKept(t *testing.T) {
	var buf bytes.Buffer
	l, _ := New(Config{Level: "info", Format: "json", Output: &buf})

	l.Info("set", "value", "")
	if entry := decode(t, &buf); entry["value"] != "" {
		t.Fatalf("empty value = %v, want empty", entry["value"])
	}
}

func TestIsSensitiveKey(t *testing.T) {
	for _, k := range []string{"value", "Payload", "old_value", "api_token", "SECRET"} {
		if !IsSensitiveKey(k) {
			t.Errorf("IsSensitiveKey(%q) = false", k)
		}
	}
	for _, k := range []string{"shard", "segment", "keys", "path"} {
		if IsSensitiveKey(k) {
			t.Errorf("IsSensitiveKey(%q) = true", k)
		}
	}
}

func TestRedactBytes(t *testing.T) {
	if got := RedactBytes(nil); got != "[0 bytes]" {
		t.Fatalf("RedactBytes(nil) = %q", got)
	}
}
