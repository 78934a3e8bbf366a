// Package classify maps raw guarded-service responses to outcome classes.
//
// Classification is driven by an ordered rule table (DefaultRules) rather
// than scattered string checks, so the rule set can be reviewed, versioned
// and tested on its own.
package classify

import (
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

const ruleFallback = "fallback"

// Classifier evaluates a rule table against responses.
type Classifier struct {
	rules []Rule
}

// New creates a classifier over rules.
func New(rules []Rule) *Classifier {
	return &Classifier{rules: rules}
}

// Default returns a classifier over DefaultRules.
func Default() *Classifier {
	return New(DefaultRules)
}

// Classify produces the outcome for one exchange. status 0 means no response.
func (c *Classifier) Classify(status int, header http.Header, body []byte) domain.Outcome {
	msg := Message(body)
	class, rule := c.Match(status, body, msg)
	hint, ok := RetryHint(header, body)

	return domain.Outcome{
		Class:      class,
		Status:     status,
		RetryAfter: hint,
		HasHint:    ok,
		Message:    msg,
		Rule:       rule,
		Payload:    body,
	}
}

// Match returns the class and the name of the matching rule.
func (c *Classifier) Match(status int, body []byte, message string) (domain.Class, string) {
	lower := strings.ToLower(message)
	for _, r := range c.rules {
		if r.matches(status, body, lower) {
			return r.Class, r.Name
		}
	}
	return domain.ClassUnknown, ruleFallback
}

func (r Rule) matches(status int, body []byte, lowerMsg string) bool {
	if len(r.Statuses) > 0 && !slices.Contains(r.Statuses, status) {
		return false
	}
	if r.RequireSuccess && !(status >= 200 && status < 300 && SuccessFlag(body)) {
		return false
	}
	if len(r.Any) > 0 && !containsAny(lowerMsg, r.Any) {
		return false
	}
	if len(r.With) > 0 && !containsAny(lowerMsg, r.With) {
		return false
	}
	return true
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}

// SuccessFlag reports whether the body carries "success": true.
func SuccessFlag(body []byte) bool {
	if !gjson.ValidBytes(body) {
		return false
	}
	return gjson.GetBytes(body, "success").Bool()
}

// Message extracts the human-readable error text from a body. "error" wins
// over "message"; non-JSON bodies are returned verbatim, truncated.
func Message(body []byte) string {
	if len(body) == 0 {
		return ""
	}
	if !gjson.ValidBytes(body) {
		s := string(body)
		if len(s) > 200 {
			s = s[:200]
		}
		return s
	}
	for _, path := range []string{"error", "message", "error.message", "detail"} {
		if v := gjson.GetBytes(body, path); v.Type == gjson.String && v.Str != "" {
			return v.Str
		}
	}
	return ""
}

// RetryHint returns the server-suggested wait in seconds. Sources in order:
// Retry-After header, RateLimit-Reset header, body "retryAfter".
func RetryHint(header http.Header, body []byte) (time.Duration, bool) {
	for _, name := range []string{"Retry-After", "RateLimit-Reset"} {
		if d, ok := parseSeconds(header.Get(name)); ok {
			return d, true
		}
	}
	if len(body) > 0 && gjson.ValidBytes(body) {
		v := gjson.GetBytes(body, "retryAfter")
		switch v.Type {
		case gjson.Number:
			if v.Num >= 0 {
				return time.Duration(v.Num * float64(time.Second)), true
			}
		case gjson.String:
			return parseSeconds(v.Str)
		}
	}
	return 0, false
}

func parseSeconds(s string) (time.Duration, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 0 {
		return 0, false
	}
	return time.Duration(n) * time.Second, true
}
