package classify

import "github.com/vietddude/vaultprobe/internal/core/domain"

// Rule maps a status and message pattern combination to a class.
// A rule matches when every populated criterion matches.
type Rule struct {
	Name string

	// Statuses restricts the rule to these codes. Empty matches any status.
	Statuses []int

	// RequireSuccess requires a 2xx status and a body success flag of true.
	RequireSuccess bool

	// Any requires the lowercased message to contain at least one pattern.
	Any []string

	// With additionally requires one of these patterns when Any matched.
	With []string

	Class domain.Class
}

// RulesVersion identifies the DefaultRules revision in logs.
const RulesVersion = "2"

var (
	wrongCredentialPatterns = []string{"invalid pin", "incorrect pin", "wrong pin", "invalid credential", "incorrect credential"}
	tokenPatterns           = []string{"token", "session"}
	tokenStatePatterns      = []string{"invalid", "expired", "not valid"}
	rateLimitPatterns       = []string{"rate limit", "blocked", "too many requests"}
)

// DefaultRules is evaluated top to bottom; the first match wins. A 429 is
// always rate limiting whatever its body says. Responses matching nothing
// classify as unknown.
var DefaultRules = []Rule{
	{
		Name:           "success-flag",
		RequireSuccess: true,
		Class:          domain.ClassSuccess,
	},
	{
		Name:     "wrong-credential",
		Statuses: []int{400, 401, 403},
		Any:      wrongCredentialPatterns,
		Class:    domain.ClassWrongCandidate,
	},
	{
		Name:     "auth-rejected",
		Statuses: []int{401, 403},
		Class:    domain.ClassTokenInvalid,
	},
	{
		Name:     "rate-status",
		Statuses: []int{429},
		Class:    domain.ClassRateLimited,
	},
	{
		Name:  "token-message",
		Any:   tokenPatterns,
		With:  tokenStatePatterns,
		Class: domain.ClassTokenInvalid,
	},
	{
		Name:  "rate-message",
		Any:   rateLimitPatterns,
		Class: domain.ClassRateLimited,
	},
	{
		Name:     "transient",
		Statuses: []int{0, 500, 502, 503, 504},
		Class:    domain.ClassTransient,
	},
}
