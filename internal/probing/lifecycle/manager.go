// Package lifecycle owns the authorization token required by guarded
// deployments.
//
// # State machine
//
//	UNINITIALIZED --acquire--> ACTIVE
//	ACTIVE --rejected/expired/quota--> INVALID
//	ACTIVE --proactive--> ROTATING
//	INVALID|ROTATING --rotate+inspect ok--> ACTIVE
//	INVALID|ROTATING --rounds exhausted--> INVALID (ErrExhausted)
//
// # Quota laundering
//
// When the deployment exposes an inspection endpoint that does not count
// against the token's quota, GetUsableToken rotates and inspects until it
// holds a token whose server-side usage is zero and which has not expired.
// Only such tokens are handed to the search controller.
//
// The Manager is not safe for concurrent use. Exactly one token is current
// and the single search loop owns it.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	cenkalti "github.com/cenkalti/backoff"
	"github.com/tidwall/gjson"

	"github.com/vietddude/vaultprobe/internal/core/domain"
	"github.com/vietddude/vaultprobe/internal/infra/transport"
	"github.com/vietddude/vaultprobe/internal/probing/backoff"
	"github.com/vietddude/vaultprobe/internal/probing/classify"
)

// Operation names reported to observers and logs.
const (
	OpAcquire = "acquire"
	OpRotate  = "rotate"
	OpInspect = "inspect"
)

// Endpoints are absolute URLs of the token endpoints. Session is required
// for a guarded deployment; Rotate and Inspect are optional.
type Endpoints struct {
	Session string
	Rotate  string
	Inspect string
}

// Config holds token-management settings.
type Config struct {
	Endpoints Endpoints

	TokenHeader string
	SessionBody []byte

	MaxFetchAttempts int           // acquire attempts before giving up
	RotationRounds   int           // rotate+inspect rounds in GetUsableToken
	RetryDelay       time.Duration // between failed acquire attempts
	RoundDelay       time.Duration // between failed rotation rounds
	RateLimitDefault time.Duration
	RateLimitMargin  time.Duration
	RequestTimeout   time.Duration
}

// Inspection is the server's view of a token, obtained without spending quota.
type Inspection struct {
	AttemptsUsed int
	Expiry       time.Time
	Valid        bool
	Reason       string
}

// Option configures a Manager.
type Option func(*Manager)

// WithSleeper replaces the wall-clock sleeper.
func WithSleeper(s backoff.Sleeper) Option {
	return func(m *Manager) { m.sleeper = s }
}

// WithClock replaces time.Now for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithHeaders sets the base header source for token requests.
func WithHeaders(fn func() http.Header) Option {
	return func(m *Manager) { m.headers = fn }
}

// WithObserver registers a callback invoked after every token operation.
func WithObserver(fn func(op string, err error)) Option {
	return func(m *Manager) { m.observe = fn }
}

// Manager acquires, inspects and rotates the current token.
type Manager struct {
	tr  transport.Transport
	cfg Config

	headers func() http.Header
	sleeper backoff.Sleeper
	now     func() time.Time
	log     *slog.Logger
	observe func(op string, err error)

	token     domain.Token
	rotations int
}

// NewManager creates a manager. With no session endpoint configured the
// manager is disabled and Usable returns a zero token.
func NewManager(tr transport.Transport, cfg Config, opts ...Option) *Manager {
	if cfg.MaxFetchAttempts <= 0 {
		cfg.MaxFetchAttempts = 1
	}
	if cfg.RotationRounds <= 0 {
		cfg.RotationRounds = 1
	}
	m := &Manager{
		tr:      tr,
		cfg:     cfg,
		headers: func() http.Header { return http.Header{} },
		sleeper: backoff.TimerSleeper{},
		now:     time.Now,
		log:     slog.Default(),
		observe: func(string, error) {},
		token:   domain.Token{State: domain.TokenUninitialized},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Enabled reports whether the deployment requires a token.
func (m *Manager) Enabled() bool {
	return m.cfg.Endpoints.Session != ""
}

// CanRotate reports whether a rotation endpoint is configured.
func (m *Manager) CanRotate() bool {
	return m.cfg.Endpoints.Rotate != ""
}

// CanInspect reports whether a non-consuming inspection endpoint is configured.
func (m *Manager) CanInspect() bool {
	return m.cfg.Endpoints.Inspect != ""
}

// TokenHeader returns the header name the token travels in.
func (m *Manager) TokenHeader() string {
	return m.cfg.TokenHeader
}

// Current returns a copy of the current token.
func (m *Manager) Current() domain.Token {
	return m.token
}

// Rotations returns how many times a usable token replaced the previous one.
func (m *Manager) Rotations() int {
	return m.rotations
}

// NeedsToken reports whether Usable would contact the service.
func (m *Manager) NeedsToken() bool {
	return m.Enabled() && m.token.State != domain.TokenActive
}

// Invalidate marks the current token rejected. The next Usable call renews it.
func (m *Manager) Invalidate(reason string) {
	if !m.Enabled() || m.token.State == domain.TokenUninitialized {
		return
	}
	m.log.Debug("Token invalidated", "token", m.token.Short(), "reason", reason)
	m.token.State = domain.TokenInvalid
}

// BeginRotation marks the current token for replacement even though the
// server has not rejected it.
func (m *Manager) BeginRotation(reason string) {
	if !m.Enabled() || m.token.State != domain.TokenActive {
		return
	}
	m.log.Debug("Token rotation requested", "token", m.token.Short(), "reason", reason)
	m.token.State = domain.TokenRotating
}

// Usable returns an ACTIVE token, acquiring or rotating as needed.
// Errors are fatal to the run.
func (m *Manager) Usable(ctx context.Context) (domain.Token, error) {
	if !m.Enabled() {
		return domain.Token{}, nil
	}

	switch m.token.State {
	case domain.TokenActive:
		return m.token, nil

	case domain.TokenUninitialized:
		tok, err := m.Acquire(ctx)
		if err != nil {
			return domain.Token{}, err
		}
		if m.CanRotate() {
			return m.GetUsableToken(ctx, tok)
		}
		return tok, nil

	default:
		if m.CanRotate() && m.token.Value != "" {
			return m.GetUsableToken(ctx, m.token)
		}
		tok, err := m.Acquire(ctx)
		if err == nil {
			m.rotations++
		}
		return tok, err
	}
}

// Acquire obtains a brand-new token from the session endpoint. Rate limits
// and network failures are retried up to MaxFetchAttempts; any other
// failure is returned immediately.
func (m *Manager) Acquire(ctx context.Context) (domain.Token, error) {
	if !m.Enabled() {
		return domain.Token{}, ErrDisabled
	}

	schedule := cenkalti.WithMaxRetries(
		cenkalti.NewConstantBackOff(m.cfg.RetryDelay),
		uint64(m.cfg.MaxFetchAttempts-1),
	)
	schedule.Reset()

	for attempt := 1; ; attempt++ {
		m.log.Info("Requesting new token",
			"attempt", attempt, "max_attempts", m.cfg.MaxFetchAttempts)

		resp := m.tr.Send(ctx, transport.Request{
			Method:  http.MethodPost,
			URL:     m.cfg.Endpoints.Session,
			Header:  m.requestHeader(""),
			Body:    m.cfg.SessionBody,
			Timeout: m.cfg.RequestTimeout,
		})
		tok, err := m.parseToken(OpAcquire, resp)
		m.observe(OpAcquire, err)
		if err == nil {
			m.setCurrent(tok)
			m.log.Info("Token acquired", "token", tok.Short(), "expires", tok.Expiry)
			return tok, nil
		}

		var le *Error
		if !errors.As(err, &le) || !le.retryable() {
			m.log.Error("Token acquisition failed", "error", err)
			m.token.State = domain.TokenInvalid
			return domain.Token{}, err
		}

		next := schedule.NextBackOff()
		if attempt >= m.cfg.MaxFetchAttempts || next == cenkalti.Stop {
			m.token.State = domain.TokenInvalid
			return domain.Token{}, &Error{
				Op:   OpAcquire,
				Kind: KindExhausted,
				Err:  fmt.Errorf("gave up after %d attempts: %w", attempt, err),
			}
		}
		if le.Kind == KindRateLimited {
			next = m.rateLimitWait(le)
		}

		m.log.Warn("Token acquisition retry scheduled", "error", err, "wait", next)
		if err := m.sleeper.Sleep(ctx, next); err != nil {
			return domain.Token{}, err
		}
	}
}

// Rotate exchanges tok for a new token in a single request.
func (m *Manager) Rotate(ctx context.Context, tok domain.Token) (domain.Token, error) {
	if !m.CanRotate() {
		return domain.Token{}, ErrDisabled
	}

	resp := m.tr.Send(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     m.cfg.Endpoints.Rotate,
		Header:  m.requestHeader(tok.Value),
		Timeout: m.cfg.RequestTimeout,
	})
	next, err := m.parseToken(OpRotate, resp)
	m.observe(OpRotate, err)
	if err != nil {
		return domain.Token{}, err
	}
	if next.SessionID == "" {
		next.SessionID = tok.SessionID
	}
	return next, nil
}

// Inspect reports the server's usage count and expiry for tok. The
// inspection endpoint does not count against the token's quota.
func (m *Manager) Inspect(ctx context.Context, tok domain.Token) (Inspection, error) {
	if !m.CanInspect() {
		return Inspection{}, ErrDisabled
	}

	resp := m.tr.Send(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     m.cfg.Endpoints.Inspect,
		Header:  m.requestHeader(tok.Value),
		Timeout: m.cfg.RequestTimeout,
	})
	insp, err := m.parseInspection(tok, resp)
	m.observe(OpInspect, err)
	return insp, err
}

// GetUsableToken rotates seed and inspects the result until a token with
// zero recorded attempts and a future expiry is found, for at most
// RotationRounds rounds.
func (m *Manager) GetUsableToken(ctx context.Context, seed domain.Token) (domain.Token, error) {
	if !m.CanRotate() {
		return domain.Token{}, ErrDisabled
	}

	m.token.State = domain.TokenRotating
	current := seed
	var lastErr error

	for round := 1; round <= m.cfg.RotationRounds; round++ {
		m.log.Info("Rotating token",
			"round", round, "max_rounds", m.cfg.RotationRounds, "input", current.Short())

		wait := m.cfg.RoundDelay
		rotated, err := m.Rotate(ctx, current)
		switch {
		case err != nil:
			lastErr = err
			var le *Error
			if errors.As(err, &le) && le.Kind == KindRateLimited {
				wait = m.rateLimitWait(le)
			}
			m.log.Warn("Token rotation failed", "round", round, "error", err)

		case !m.CanInspect():
			return m.accept(rotated, Inspection{Valid: true}), nil

		default:
			insp, ierr := m.Inspect(ctx, rotated)
			if ierr == nil && insp.Valid {
				return m.accept(rotated, insp), nil
			}
			if ierr != nil {
				lastErr = ierr
			} else {
				lastErr = fmt.Errorf("inspection rejected token: %s", insp.Reason)
			}
			m.log.Warn("Rotated token failed inspection", "round", round, "error", lastErr)
			current = rotated
		}

		if ctx.Err() != nil {
			return domain.Token{}, ctx.Err()
		}
		if round < m.cfg.RotationRounds {
			if err := m.sleeper.Sleep(ctx, wait); err != nil {
				return domain.Token{}, err
			}
		}
	}

	m.token.State = domain.TokenInvalid
	return domain.Token{}, &Error{
		Op:   OpRotate,
		Kind: KindExhausted,
		Err:  fmt.Errorf("no usable token after %d rounds: %w", m.cfg.RotationRounds, lastErr),
	}
}

// Validate inspects the current token. Without an inspection endpoint the
// token is assumed valid while ACTIVE.
func (m *Manager) Validate(ctx context.Context) (Inspection, error) {
	if !m.CanInspect() {
		return Inspection{Valid: m.token.State == domain.TokenActive}, nil
	}
	return m.Inspect(ctx, m.token)
}

func (m *Manager) accept(tok domain.Token, insp Inspection) domain.Token {
	tok.AttemptsUsed = insp.AttemptsUsed
	if !insp.Expiry.IsZero() {
		tok.Expiry = insp.Expiry
	}
	m.setCurrent(tok)
	m.rotations++
	m.log.Info("Token usable", "token", tok.Short(), "attempts_used", tok.AttemptsUsed, "expires", tok.Expiry)
	return tok
}

func (m *Manager) setCurrent(tok domain.Token) {
	tok.State = domain.TokenActive
	m.token = tok
}

func (m *Manager) rateLimitWait(e *Error) time.Duration {
	wait := m.cfg.RateLimitDefault
	if e.HasHint {
		wait = e.RetryAfter
	}
	return wait + m.cfg.RateLimitMargin
}

func (m *Manager) requestHeader(token string) http.Header {
	h := m.headers().Clone()
	if h == nil {
		h = http.Header{}
	}
	if token != "" && m.cfg.TokenHeader != "" {
		h.Set(m.cfg.TokenHeader, token)
	}
	if len(m.cfg.SessionBody) > 0 {
		h.Set("Content-Type", "application/json")
	}
	return h
}

// checkResponse maps transport-level and status-level failures to an *Error.
// 502/503/504 count as network failures since they are retryable.
func checkResponse(op string, resp *transport.Response) error {
	switch {
	case resp.Failed():
		return &Error{Op: op, Kind: KindNetwork, Err: resp.Err}
	case resp.Status == http.StatusTooManyRequests:
		hint, ok := classify.RetryHint(resp.Header, resp.Body)
		return &Error{
			Op: op, Kind: KindRateLimited, Status: resp.Status,
			RetryAfter: hint, HasHint: ok,
			Err: errors.New(nonEmpty(classify.Message(resp.Body), "too many requests")),
		}
	case resp.Status == http.StatusBadGateway,
		resp.Status == http.StatusServiceUnavailable,
		resp.Status == http.StatusGatewayTimeout:
		return &Error{Op: op, Kind: KindNetwork, Status: resp.Status, Err: errors.New(http.StatusText(resp.Status))}
	case !resp.OK():
		return &Error{
			Op: op, Kind: KindProtocol, Status: resp.Status,
			Err: fmt.Errorf("unexpected status: %s", nonEmpty(classify.Message(resp.Body), http.StatusText(resp.Status))),
		}
	}
	return nil
}

func (m *Manager) parseToken(op string, resp *transport.Response) (domain.Token, error) {
	if err := checkResponse(op, resp); err != nil {
		return domain.Token{}, err
	}
	if !gjson.ValidBytes(resp.Body) {
		return domain.Token{}, &Error{Op: op, Kind: KindProtocol, Status: resp.Status, Err: errors.New("token response is not JSON")}
	}

	value := gjson.GetBytes(resp.Body, "token").String()
	if !classify.SuccessFlag(resp.Body) || value == "" {
		return domain.Token{}, &Error{Op: op, Kind: KindProtocol, Status: resp.Status, Err: errors.New("token response missing success flag or token")}
	}

	return domain.Token{
		Value:     value,
		State:     domain.TokenActive,
		Expiry:    parseExpiry(gjson.GetBytes(resp.Body, "expires")),
		SessionID: gjson.GetBytes(resp.Body, "sessionId").String(),
	}, nil
}

// parseInspection accepts a token only when the server confirms zero
// attempts. A missing or non-numeric count is treated as unconfirmed. When
// the response carries no expiry the one known for tok still applies.
func (m *Manager) parseInspection(tok domain.Token, resp *transport.Response) (Inspection, error) {
	if err := checkResponse(OpInspect, resp); err != nil {
		return Inspection{}, err
	}
	info := gjson.GetBytes(resp.Body, "tokenInfo")
	if !classify.SuccessFlag(resp.Body) || !info.IsObject() {
		return Inspection{}, &Error{Op: OpInspect, Kind: KindProtocol, Status: resp.Status, Err: errors.New("inspection response missing tokenInfo")}
	}

	insp := Inspection{Expiry: parseExpiry(info.Get("expires"))}
	var reasons []string

	attempts := info.Get("attempts")
	switch {
	case attempts.Type != gjson.Number:
		reasons = append(reasons, "attempts missing")
	case attempts.Int() != 0:
		insp.AttemptsUsed = int(attempts.Int())
		reasons = append(reasons, fmt.Sprintf("attempts is %d (expected 0)", insp.AttemptsUsed))
	}

	known := tok
	if !insp.Expiry.IsZero() {
		known.Expiry = insp.Expiry
	}
	if known.Expired(m.now()) {
		reasons = append(reasons, fmt.Sprintf("expired at %s", known.Expiry.Format(time.RFC3339)))
	}
	insp.Valid = len(reasons) == 0
	insp.Reason = strings.Join(reasons, " & ")
	return insp, nil
}

// parseExpiry accepts RFC 3339 strings and epoch numbers (seconds or milliseconds).
func parseExpiry(v gjson.Result) time.Time {
	switch v.Type {
	case gjson.Number:
		n := v.Int()
		if n > 1e12 {
			return time.UnixMilli(n)
		}
		return time.Unix(n, 0)
	case gjson.String:
		if t, err := time.Parse(time.RFC3339Nano, v.Str); err == nil {
			return t
		}
	}
	return time.Time{}
}

func nonEmpty(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}
