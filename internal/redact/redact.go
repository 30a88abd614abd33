// Package redact scrubs secret-bearing material from arbitrary nested
// values before they leave the process in responses or audit entries.
package redact

import "regexp"

// Placeholder replaces every redacted value verbatim.
const Placeholder = "[REDACTED]"

var (
	secretKey = regexp.MustCompile(`(?i)(token|secret|api[_-]?key|password|credential|authorization)`)
	secretVal = []*regexp.Regexp{
		regexp.MustCompile(`(?i)sk_[a-z0-9]{8,}`),
		regexp.MustCompile(`(?i)bearer\s+[a-z0-9._-]+`),
	}
)

// Value returns a copy of v with secret-keyed map entries and
// secret-shaped strings replaced by Placeholder. Maps stay maps and
// slices stay slices; a secret-keyed entry is replaced whole by
// Placeholder, even when its value is itself a map or slice.
func Value(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			if secretKey.MatchString(k) {
				out[k] = Placeholder
				continue
			}
			out[k] = Value(val)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, el := range t {
			out[i] = Value(el)
		}
		return out
	case string:
		return String(t)
	default:
		return v
	}
}

// String scrubs secret-shaped substrings from s.
func String(s string) string {
	for _, re := range secretVal {
		s = re.ReplaceAllString(s, Placeholder)
	}
	return s
}
