// Package labsim serves a local vault that reproduces the observable
// behavior of the four guarded deployments. It backs the end-to-end tests
// and the `vaultprobe lab` command.
//
//	unlimited  POST /api/vault                        no throttling
//	limited    POST /api/vault                        per X-Forwarded-For window, 429 + Retry-After
//	advanced   POST /api/session, /api/vault          X-Session-Token with a per-token budget
//	quantum    POST /api/quantum-session              X-Quantum-Token with a per-token budget,
//	           /api/rotate-token, /api/inspect-token  free inspection,
//	           /api/quantum-verify, /api/quantum-vault vault gated on a verified session
package labsim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/vaultprobe/internal/core/domain"
)

// Scheme selects which deployment the lab imitates.
type Scheme string

const (
	SchemeUnlimited Scheme = "unlimited"
	SchemeLimited   Scheme = "limited"
	SchemeAdvanced  Scheme = "advanced"
	SchemeQuantum   Scheme = "quantum"
)

// ParseScheme validates a scheme name.
func ParseScheme(s string) (Scheme, error) {
	switch Scheme(s) {
	case SchemeUnlimited, SchemeLimited, SchemeAdvanced, SchemeQuantum:
		return Scheme(s), nil
	default:
		return "", fmt.Errorf("unknown scheme %q", s)
	}
}

// Config configures the lab vault.
type Config struct {
	Scheme Scheme
	PIN    domain.Candidate
	Flag   string
	Secret []byte

	// Limited scheme: requests allowed per identity per window.
	RequestsPerWindow int
	Window            time.Duration

	// Token schemes: guarded attempts allowed per token.
	TokenBudget int
	TokenTTL    time.Duration
	RetryAfter  time.Duration
}

// DefaultConfig returns a lab config for scheme.
func DefaultConfig(scheme Scheme) Config {
	cfg := Config{
		Scheme:            scheme,
		PIN:               1234,
		Flag:              "FLAG{lab-" + string(scheme) + "}",
		Secret:            []byte("vaultprobe-lab-secret"),
		RequestsPerWindow: 5,
		Window:            10 * time.Second,
		TokenBudget:       5,
		TokenTTL:          5 * time.Minute,
		RetryAfter:        30 * time.Second,
	}
	if scheme == SchemeQuantum {
		cfg.TokenBudget = 3
	}
	return cfg
}

// Stats counts requests seen by the lab.
type Stats struct {
	Checks        int `json:"checks"`
	Successes     int `json:"successes"`
	RateLimited   int `json:"rate_limited"`
	Rejected      int `json:"rejected"`
	TokensIssued  int `json:"tokens_issued"`
	Rotations     int `json:"rotations"`
	Inspections   int `json:"inspections"`
	VaultAccesses int `json:"vault_accesses"`
}

// Option configures a Server.
type Option func(*Server)

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

type window struct {
	start time.Time
	count int
}

// Server is the lab vault. Safe for concurrent use.
type Server struct {
	cfg Config
	now func() time.Time
	log *slog.Logger

	mu       sync.Mutex
	windows  map[string]*window
	tokens   map[string]*tokenState
	verified map[string]domain.Candidate // session id -> verified pin
	stats    Stats
}

// New creates a lab vault.
func New(cfg Config, opts ...Option) (*Server, error) {
	if _, err := ParseScheme(string(cfg.Scheme)); err != nil {
		return nil, err
	}
	if !cfg.PIN.Valid() {
		return nil, fmt.Errorf("pin %d outside candidate space", int(cfg.PIN))
	}
	if len(cfg.Secret) == 0 {
		return nil, errors.New("token secret is required")
	}
	if cfg.RequestsPerWindow <= 0 || cfg.TokenBudget <= 0 {
		return nil, errors.New("request and token budgets must be positive")
	}

	s := &Server{
		cfg:      cfg,
		now:      time.Now,
		log:      slog.Default(),
		windows:  make(map[string]*window),
		tokens:   make(map[string]*tokenState),
		verified: make(map[string]domain.Candidate),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Handler returns the routes for the configured scheme.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	switch s.cfg.Scheme {
	case SchemeUnlimited, SchemeLimited:
		mux.HandleFunc("POST /api/vault", s.handleVault)
	case SchemeAdvanced:
		mux.HandleFunc("POST /api/session", s.handleSession)
		mux.HandleFunc("POST /api/vault", s.handleVault)
	case SchemeQuantum:
		mux.HandleFunc("POST /api/quantum-session", s.handleSession)
		mux.HandleFunc("POST /api/rotate-token", s.handleRotate)
		mux.HandleFunc("POST /api/inspect-token", s.handleInspect)
		mux.HandleFunc("POST /api/quantum-verify", s.handleVerify)
		mux.HandleFunc("POST /api/quantum-vault", s.handleQuantumVault)
	}
	return mux
}

// Stats returns a copy of the request counters.
func (s *Server) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// handleVault is the credential check of the unlimited, limited and
// advanced schemes. A correct PIN returns the flag directly.
func (s *Server) handleVault(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.cfg.Scheme {
	case SchemeLimited:
		if wait, ok := s.throttle(clientAddress(r)); !ok {
			s.stats.RateLimited++
			w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds(wait)))
			writeJSON(w, http.StatusTooManyRequests, map[string]any{
				"success": false,
				"error":   "Too many requests, please try again later.",
			})
			return
		}
	case SchemeAdvanced:
		if !s.spend(w, r.Header.Get("X-Session-Token"), "Invalid or expired session token") {
			return
		}
	}

	pin, ok := s.readPIN(w, r)
	if !ok {
		return
	}
	s.stats.Checks++
	if pin != s.cfg.PIN {
		s.stats.Rejected++
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid PIN"})
		return
	}

	s.stats.Successes++
	s.log.Info("Lab vault opened", "scheme", s.cfg.Scheme, "pin", pin)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Access granted",
		"flag":    s.cfg.Flag,
	})
}

func (s *Server) handleSession(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tok, st, err := s.mint(uuid.NewString())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.tokenBody(tok, st))
}

// handleRotate exchanges a token for a fresh one in the same session. The
// presented token may be spent but must be genuine and unexpired.
func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, err := s.lookup(r.Header.Get("X-Quantum-Token"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or expired token"})
		return
	}

	tok, st, err := s.mint(old.sessionID)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": err.Error()})
		return
	}
	old.revoked = true
	s.stats.Rotations++
	writeJSON(w, http.StatusOK, s.tokenBody(tok, st))
}

// handleInspect reports a token's usage. It never counts against the budget.
func (s *Server) handleInspect(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stats.Inspections++
	st, err := s.lookup(r.Header.Get("X-Quantum-Token"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or expired token"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"tokenInfo": map[string]any{
			"attempts":  st.attempts,
			"expires":   st.expires.UTC().Format(time.RFC3339),
			"sessionId": st.sessionID,
		},
	})
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw := r.Header.Get("X-Quantum-Token")
	if !s.spend(w, raw, "Invalid or expired token") {
		return
	}
	pin, ok := s.readPIN(w, r)
	if !ok {
		return
	}

	s.stats.Checks++
	if pin != s.cfg.PIN {
		s.stats.Rejected++
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid PIN"})
		return
	}

	st := s.tokens[raw]
	s.verified[st.sessionID] = pin
	s.stats.Successes++
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "PIN verified. Proceed to the quantum vault.",
	})
}

// handleQuantumVault releases the flag to a session that verified the same PIN.
func (s *Server) handleQuantumVault(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, err := s.lookup(r.Header.Get("X-Quantum-Token"))
	if err != nil {
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": "Invalid or expired token"})
		return
	}
	if st.attempts >= s.cfg.TokenBudget {
		s.rateLimited(w)
		return
	}
	pin, ok := s.readPIN(w, r)
	if !ok {
		return
	}

	if verified, ok := s.verified[st.sessionID]; !ok || verified != pin {
		s.stats.Rejected++
		writeJSON(w, http.StatusForbidden, map[string]any{"success": false, "error": "PIN not verified for this session"})
		return
	}

	s.stats.VaultAccesses++
	s.log.Info("Lab quantum vault opened", "pin", pin, "session", st.sessionID)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Quantum vault unlocked",
		"flag":    s.cfg.Flag,
	})
}

// spend validates a token and charges one attempt against it. It writes
// the rejection and returns false when the token cannot be used.
func (s *Server) spend(w http.ResponseWriter, raw, invalidMsg string) bool {
	st, err := s.lookup(raw)
	if err != nil {
		s.stats.Rejected++
		writeJSON(w, http.StatusUnauthorized, map[string]any{"success": false, "error": invalidMsg})
		return false
	}
	if st.attempts >= s.cfg.TokenBudget {
		s.rateLimited(w)
		return false
	}
	st.attempts++
	return true
}

func (s *Server) rateLimited(w http.ResponseWriter) {
	s.stats.RateLimited++
	writeJSON(w, http.StatusTooManyRequests, map[string]any{
		"success":    false,
		"error":      "Rate limit exceeded",
		"retryAfter": seconds(s.cfg.RetryAfter),
	})
}

// throttle counts a request against addr's fixed window. It returns the
// time left in the window when the budget is spent.
func (s *Server) throttle(addr string) (time.Duration, bool) {
	now := s.now()
	win, ok := s.windows[addr]
	if !ok || now.Sub(win.start) >= s.cfg.Window {
		win = &window{start: now}
		s.windows[addr] = win
	}
	if win.count >= s.cfg.RequestsPerWindow {
		return s.cfg.Window - now.Sub(win.start), false
	}
	win.count++
	return 0, true
}

func (s *Server) readPIN(w http.ResponseWriter, r *http.Request) (domain.Candidate, bool) {
	var req struct {
		PIN string `json:"pin"`
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<10))
	if err == nil {
		err = json.Unmarshal(body, &req)
	}
	if err != nil || len(req.PIN) != 4 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "PIN must be 4 digits"})
		return 0, false
	}
	pin, err := domain.ParseCandidate(req.PIN)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "PIN must be 4 digits"})
		return 0, false
	}
	return pin, true
}

func (s *Server) tokenBody(tok string, st *tokenState) map[string]any {
	return map[string]any{
		"success":         true,
		"token":           tok,
		"sessionId":       st.sessionID,
		"tokensRemaining": s.cfg.TokenBudget - st.attempts,
		"expires":         st.expires.UTC().Format(time.RFC3339),
	}
}

// clientAddress trusts X-Forwarded-For the way the imitated deployment does.
func clientAddress(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		return xff
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func seconds(d time.Duration) int {
	return int(math.Ceil(d.Seconds()))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
