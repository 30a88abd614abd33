package logging

import (
	"bytes"
	"encoding/json"
	"log"
	"log/slog"
	"strings"
	"testing"
)

func TestInitJSONDefault(t *testing.T) {
	var buf bytes.Buffer
	logger := Init("controld", &buf)
	logger.Info("hello", "key", "value")
	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("not json: %v\n%s", err, buf.String())
	}
	if entry["component"] != "controld" || entry["key"] != "value" {
		t.Fatalf("entry: %v", entry)
	}
}

func TestInitTextFormat(t *testing.T) {
	t.Setenv("LOG_FORMAT", "text")
	var buf bytes.Buffer
	logger := Init("controld", &buf)
	logger.Info("hello")
	if !strings.Contains(buf.String(), "msg=hello") {
		t.Fatalf("out: %s", buf.String())
	}
}

func TestLogOutputIsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := Init("controld", &buf)
	logger.Info("refused key sk_live12345678", "header", "bearer abc.def")
	out := buf.String()
	if strings.Contains(out, "sk_live") || strings.Contains(out, "bearer abc") {
		t.Fatalf("secret leaked into log: %s", out)
	}
	if !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("placeholder missing: %s", out)
	}
}

func TestWithAttrsRedacted(t *testing.T) {
	var buf bytes.Buffer
	logger := Init("controld", &buf)
	logger.With("api", "sk_live12345678").Info("ready")
	if strings.Contains(buf.String(), "sk_live") {
		t.Fatalf("With attr leaked: %s", buf.String())
	}
}

func TestStdlibRedirect(t *testing.T) {
	var buf bytes.Buffer
	Init("controld", &buf)
	log.Printf("legacy message with sk_live12345678")
	out := buf.String()
	if !strings.Contains(out, "legacy message") || !strings.Contains(out, "stdlib") {
		t.Fatalf("out: %s", out)
	}
	if strings.Contains(out, "sk_live") {
		t.Fatalf("stdlib path leaked: %s", out)
	}
}

func TestLevelFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "error")
	var buf bytes.Buffer
	logger := Init("controld", &buf)
	logger.Info("quiet")
	if buf.Len() != 0 {
		t.Fatalf("info should be suppressed: %s", buf.String())
	}
	logger.Error("loud")
	if !strings.Contains(buf.String(), "loud") {
		t.Fatalf("error suppressed: %s", buf.String())
	}
	if _, ok := levelNames["junk"]; ok {
		t.Fatalf("junk should be unknown")
	}
	if levelNames["warning"] != slog.LevelWarn {
		t.Fatalf("warning alias missing")
	}
}
