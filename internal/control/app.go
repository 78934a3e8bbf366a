package control

import (
	"errors"
	"log/slog"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/vaultprobe/internal/core/config"
	"github.com/vietddude/vaultprobe/internal/core/domain"
	"github.com/vietddude/vaultprobe/internal/infra/identity"
	redisclient "github.com/vietddude/vaultprobe/internal/infra/redis"
	"github.com/vietddude/vaultprobe/internal/infra/transport"
	"github.com/vietddude/vaultprobe/internal/probing/backoff"
	"github.com/vietddude/vaultprobe/internal/probing/lifecycle"
	"github.com/vietddude/vaultprobe/internal/probing/metrics"
)

// App is a Controller wired from configuration together with the
// resources it owns.
type App struct {
	*Controller

	Tokens *lifecycle.Manager

	transport *transport.HTTPTransport
	redis     *redisclient.Client
	log       *slog.Logger
}

// Deps overrides collaborators NewApp would otherwise build itself.
type Deps struct {
	Transport transport.Transport // nil: HTTP transport with the configured timeout
	Sleeper   backoff.Sleeper     // nil: wall clock
	Logger    *slog.Logger
	Recorder  Recorder    // nil: Redis side log when redis.url is set
	Rand      rand.Source // nil: time-seeded
	Options   []Option
}

// NewApp creates an App with all dependencies initialized.
func NewApp(cfg *config.AppConfig, deps Deps) (*App, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	d, s := cfg.Deployment, cfg.Search

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	sleeper := deps.Sleeper
	if sleeper == nil {
		sleeper = backoff.TimerSleeper{}
	}
	src := deps.Rand
	if src == nil {
		src = rand.NewSource(time.Now().UnixNano())
	}

	app := &App{log: log}

	// 1. Transport
	tr := deps.Transport
	if tr == nil {
		app.transport = transport.NewHTTPTransport(s.RequestTimeout)
		tr = app.transport
	}

	// 2. Identity rotation
	rotator := identity.NewRotator(src, identity.Options{
		SpoofAddress:    deref(d.SpoofAddress),
		RotateSignature: deref(d.RotateSignature),
	})

	// 3. Token lifecycle
	baseHeader := transport.BrowserHeaders(d.BaseURL)
	var sessionBody []byte
	if d.SessionBody != "" {
		sessionBody = []byte(d.SessionBody)
	}
	app.Tokens = lifecycle.NewManager(tr, lifecycle.Config{
		Endpoints: lifecycle.Endpoints{
			Session: d.URL(d.Endpoints.Session),
			Rotate:  d.URL(d.Endpoints.Rotate),
			Inspect: d.URL(d.Endpoints.Inspect),
		},
		TokenHeader:      d.TokenHeader,
		SessionBody:      sessionBody,
		MaxFetchAttempts: s.MaxTokenFetchAttempts,
		RotationRounds:   s.TokenRotationRounds,
		RetryDelay:       s.TokenFetchRetryDelay,
		RoundDelay:       s.TokenRotationDelay,
		RateLimitDefault: s.RateLimitDefault,
		RateLimitMargin:  s.RateLimitMargin,
		RequestTimeout:   s.RequestTimeout,
	},
		lifecycle.WithSleeper(sleeper),
		lifecycle.WithLogger(log),
		lifecycle.WithObserver(metrics.TokenObserver(d.Name)),
		lifecycle.WithHeaders(func() http.Header {
			h := baseHeader.Clone()
			for k, v := range rotator.Next().Headers {
				h.Set(k, v)
			}
			return h
		}),
	)

	// 4. Inconclusive side log
	runID := uuid.NewString()
	recorder := deps.Recorder
	if recorder == nil && cfg.Redis.URL != "" {
		client, err := redisclient.NewClient(cfg.Redis)
		if err != nil {
			log.Warn("Failed to connect to Redis, inconclusive side log disabled", "error", err)
		} else {
			app.redis = client
			recorder = redisclient.NewInconclusiveLog(client, runID, cfg.Redis.TTL)
			log.Info("Recording inconclusive candidates in Redis", "run_id", runID)
		}
	}

	// 5. Controller
	ctrlCfg := Config{
		RetryCapPerCandidate:       s.RetryCapPerCandidate,
		ProactiveRotationThreshold: derefInt(s.ProactiveRotationThreshold),
		BaseDelay:                  s.BaseDelay,
		ErrorRetryDelay:            s.ErrorRetryDelay,
		TokenErrorRetryDelay:       s.TokenErrorRetryDelay,
		RequestTimeout:             s.RequestTimeout,
		Direction:                  domain.Direction(s.Direction),
		RateLimitDefault:           s.RateLimitDefault,
		RateLimitMargin:            s.RateLimitMargin,
	}
	if s.Start != nil {
		start := domain.Candidate(*s.Start)
		ctrlCfg.Start = &start
	}

	target := Target{
		Name:     d.Name,
		BaseURL:  d.BaseURL,
		CheckURL: d.URL(d.Endpoints.Check),
		VaultURL: d.URL(d.Endpoints.Vault),
	}

	opts := []Option{
		WithIdentities(rotator),
		WithSleeper(sleeper),
		WithLogger(log),
		WithRunID(runID),
	}
	if recorder != nil {
		opts = append(opts, WithRecorder(recorder))
	}
	opts = append(opts, deps.Options...)

	ctrl, err := New(ctrlCfg, target, tr, app.Tokens, opts...)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.Controller = ctrl
	return app, nil
}

// Close releases the transport and Redis connection.
func (a *App) Close() error {
	var errs []error
	if a.transport != nil {
		if err := a.transport.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.log.Warn("Failed to close Redis", "error", err)
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func deref(b *bool) bool {
	return b != nil && *b
}

func derefInt(n *int) int {
	if n == nil {
		return 0
	}
	return *n
}
