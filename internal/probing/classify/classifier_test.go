package classify

import (
	"net/http"
	"testing"
	"time"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		expect domain.Class
	}{
		{"success flag", 200, `{"success":true,"flag":"FLAG{x}"}`, domain.ClassSuccess},
		{"success flag false on 200", 200, `{"success":false}`, domain.ClassUnknown},
		{"success flag on non-2xx", 401, `{"success":true}`, domain.ClassTokenInvalid},
		{"invalid pin 401", 401, `{"success":false,"error":"Invalid PIN"}`, domain.ClassWrongCandidate},
		{"incorrect pin 403", 403, `{"message":"Incorrect PIN provided"}`, domain.ClassWrongCandidate},
		{"invalid pin 400", 400, `{"error":"Invalid PIN"}`, domain.ClassWrongCandidate},
		{"token expired 401", 401, `{"success":false,"error":"Token expired"}`, domain.ClassTokenInvalid},
		{"other 401 message", 401, `{"error":"Unauthorized"}`, domain.ClassTokenInvalid},
		{"empty 403", 403, ``, domain.ClassTokenInvalid},
		{"token message on 400", 400, `{"error":"Session token not valid"}`, domain.ClassTokenInvalid},
		{"429 any body", 429, `{"error":"Token expired"}`, domain.ClassRateLimited},
		{"429 empty", 429, ``, domain.ClassRateLimited},
		{"blocked message", 400, `{"message":"Client blocked"}`, domain.ClassRateLimited},
		{"rate limit message", 200, `{"success":false,"error":"Rate limit exceeded"}`, domain.ClassRateLimited},
		{"503", 503, `Service Unavailable`, domain.ClassTransient},
		{"no response", 0, ``, domain.ClassTransient},
		{"500", 500, `{"error":"boom"}`, domain.ClassTransient},
		{"502", 502, ``, domain.ClassTransient},
		{"504", 504, ``, domain.ClassTransient},
		{"teapot", 418, `{"error":"short and stout"}`, domain.ClassUnknown},
		{"400 unrelated", 400, `{"error":"missing pin"}`, domain.ClassUnknown},
		{"html body", 404, `<html>not found</html>`, domain.ClassUnknown},
	}

	c := Default()
	for _, tt := range tests {
		got := c.Classify(tt.status, nil, []byte(tt.body))
		if got.Class != tt.expect {
			t.Errorf("%s: Classify(%d, %s) = %v (rule %s), want %v",
				tt.name, tt.status, tt.body, got.Class, got.Rule, tt.expect)
		}
		if got.Status != tt.status {
			t.Errorf("%s: status not carried through", tt.name)
		}
	}
}

func TestRetryHint(t *testing.T) {
	tests := []struct {
		name   string
		header http.Header
		body   string
		want   time.Duration
		ok     bool
	}{
		{"retry-after header", http.Header{"Retry-After": {"5"}}, ``, 5 * time.Second, true},
		{"ratelimit-reset header", http.Header{"Ratelimit-Reset": {"7"}}, ``, 7 * time.Second, true},
		{"header wins over body", http.Header{"Retry-After": {"2"}}, `{"retryAfter":30}`, 2 * time.Second, true},
		{"body number", nil, `{"retryAfter":12}`, 12 * time.Second, true},
		{"body string", nil, `{"retryAfter":"4"}`, 4 * time.Second, true},
		{"unparseable header falls to body", http.Header{"Retry-After": {"soon"}}, `{"retryAfter":3}`, 3 * time.Second, true},
		{"unparseable everywhere", http.Header{"Retry-After": {"soon"}}, `{"retryAfter":"later"}`, 0, false},
		{"negative", nil, `{"retryAfter":-1}`, 0, false},
		{"absent", nil, `{"error":"x"}`, 0, false},
	}

	for _, tt := range tests {
		got, ok := RetryHint(tt.header, []byte(tt.body))
		if got != tt.want || ok != tt.ok {
			t.Errorf("%s: RetryHint = (%v, %v), want (%v, %v)", tt.name, got, ok, tt.want, tt.ok)
		}
	}
}

func TestClassify_CarriesHint(t *testing.T) {
	out := Default().Classify(429, http.Header{"Retry-After": {"5"}}, []byte(`{"error":"Too many requests"}`))
	if out.Class != domain.ClassRateLimited {
		t.Fatalf("class = %v", out.Class)
	}
	if !out.HasHint || out.RetryAfter != 5*time.Second {
		t.Errorf("hint = %v (%v)", out.RetryAfter, out.HasHint)
	}
	if out.Message != "Too many requests" {
		t.Errorf("message = %q", out.Message)
	}
}

func TestMessage(t *testing.T) {
	tests := map[string]string{
		`{"error":"Invalid PIN","message":"ignored"}`: "Invalid PIN",
		`{"message":"Token expired"}`:                 "Token expired",
		`{"error":{"message":"nested"}}`:              "nested",
		`plain text`:                                  "plain text",
		``:                                            "",
	}
	for body, want := range tests {
		if got := Message([]byte(body)); got != want {
			t.Errorf("Message(%q) = %q, want %q", body, got, want)
		}
	}
}

func TestCustomRules(t *testing.T) {
	c := New([]Rule{{Name: "teapot", Statuses: []int{418}, Class: domain.ClassWrongCandidate}})

	class, rule := c.Match(418, nil, "")
	if class != domain.ClassWrongCandidate || rule != "teapot" {
		t.Errorf("got %v/%s", class, rule)
	}
	class, rule = c.Match(200, nil, "")
	if class != domain.ClassUnknown || rule != ruleFallback {
		t.Errorf("got %v/%s", class, rule)
	}
}
