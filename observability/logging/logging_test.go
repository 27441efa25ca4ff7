package logging

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"testing"
)

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range cases {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestLoggerRenamesStandardKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{Service: "positiond", Env: "test", Level: "debug"})
	logger.Debug("hello", "adapter", "0x01")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["message"] != "hello" {
		t.Fatalf("expected message key, got %v", line)
	}
	if line["severity"] != "DEBUG" {
		t.Fatalf("expected DEBUG severity, got %v", line["severity"])
	}
	if line["service"] != "positiond" || line["env"] != "test" {
		t.Fatalf("missing service attributes: %v", line)
	}
	if _, ok := line["timestamp"]; !ok {
		t.Fatalf("expected timestamp key: %v", line)
	}
}

func TestMaskFieldRedactsValues(t *testing.T) {
	if got := MaskField("jwtSecret", "hunter2"); got.Value.String() != RedactedValue {
		t.Fatalf("expected redaction, got %q", got.Value.String())
	}
	if got := MaskField("jwtSecret", " "); got.Value.String() != " " {
		t.Fatalf("blank value should pass through, got %q", got.Value.String())
	}
}

func TestIsSecretKey(t *testing.T) {
	for _, key := range []string{"jwtSecret", "JWT_SECRET", "X-API-Key", "Authorization", "refresh_token"} {
		if !IsSecretKey(key) {
			t.Fatalf("%q should be secret", key)
		}
	}
	for _, key := range []string{"adapter", "protocol", "healthFactor", "opId"} {
		if IsSecretKey(key) {
			t.Fatalf("%q should not be secret", key)
		}
	}
}

func TestLoggerRedactsSecretAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, Options{Service: "positiond"})
	logger.Info("configured", "jwtSecret", "hunter2", "adapter", "0x01")

	var line map[string]any
	if err := json.Unmarshal(buf.Bytes(), &line); err != nil {
		t.Fatalf("decode log line: %v", err)
	}
	if line["jwtSecret"] != RedactedValue {
		t.Fatalf("secret leaked: %v", line["jwtSecret"])
	}
	if line["adapter"] != "0x01" {
		t.Fatalf("adapter should pass through: %v", line["adapter"])
	}
}
