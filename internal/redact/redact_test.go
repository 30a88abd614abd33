package redact

import (
	"strings"
	"testing"
)

func TestValueSecretKeys(t *testing.T) {
	in := map[string]any{
		"api_key":       "sk_live123456789",
		"apiKey":        "also-secret",
		"Authorization": "Bearer abc.def",
		"name":          "Main DB",
		"nested": map[string]any{
			"password": "hunter2",
			"count":    float64(3),
		},
	}
	out := Value(in).(map[string]any)
	for _, k := range []string{"api_key", "apiKey", "Authorization"} {
		if out[k] != Placeholder {
			t.Fatalf("%s: %v", k, out[k])
		}
	}
	if out["name"] != "Main DB" {
		t.Fatalf("name altered: %v", out["name"])
	}
	nested := out["nested"].(map[string]any)
	if nested["password"] != Placeholder {
		t.Fatalf("nested password: %v", nested["password"])
	}
	if nested["count"] != float64(3) {
		t.Fatalf("nested count: %v", nested["count"])
	}
}

func TestValuePatterns(t *testing.T) {
	in := map[string]any{
		"note": "key is sk_abcdefgh1234 use it",
		"hdr":  "bearer abc.def-ghi",
		"list": []any{"sk_zzzzzzzzz", "plain"},
	}
	out := Value(in).(map[string]any)
	if got := out["note"].(string); strings.Contains(got, "sk_") {
		t.Fatalf("note: %s", got)
	}
	if got := out["hdr"].(string); got != Placeholder {
		t.Fatalf("hdr: %s", got)
	}
	list := out["list"].([]any)
	if list[0] != Placeholder || list[1] != "plain" {
		t.Fatalf("list: %v", list)
	}
}

func TestValueDoesNotMutateInput(t *testing.T) {
	in := map[string]any{"token": "abc"}
	_ = Value(in)
	if in["token"] != "abc" {
		t.Fatalf("input mutated: %v", in["token"])
	}
}

func TestStringShortSkNotRedacted(t *testing.T) {
	if got := String("sk_short"); got != "sk_short" {
		t.Fatalf("sk_short: %s", got)
	}
}
