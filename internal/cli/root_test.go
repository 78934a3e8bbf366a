package cli

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/vaultprobe/internal/control"
	"github.com/vietddude/vaultprobe/internal/core/config"
	"github.com/vietddude/vaultprobe/internal/core/domain"
	"github.com/vietddude/vaultprobe/internal/labsim"
)

// newLabApp wires an App against an in-process unlimited lab holding pin.
// wrap, when set, decorates the lab handler.
func newLabApp(t *testing.T, pin domain.Candidate, wrap func(http.Handler) http.Handler) *control.App {
	t.Helper()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	labCfg := labsim.DefaultConfig(labsim.SchemeUnlimited)
	labCfg.PIN = pin
	lab, err := labsim.New(labCfg, labsim.WithLogger(quiet))
	if err != nil {
		t.Fatalf("labsim.New: %v", err)
	}
	handler := lab.Handler()
	if wrap != nil {
		handler = wrap(handler)
	}
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	cfg, err := config.ForScheme(config.SchemeUnlimited, srv.URL)
	if err != nil {
		t.Fatalf("ForScheme: %v", err)
	}
	cfg.Search.BaseDelay = 0

	app, err := control.NewApp(cfg, control.Deps{Logger: quiet})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	t.Cleanup(func() { app.Close() })
	return app
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()
	return port
}

func TestServe_MetricsPortTakenDoesNotAbortSearch(t *testing.T) {
	ln, err := net.Listen("tcp", ":0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer ln.Close()
	port := ln.Addr().(*net.TCPAddr).Port

	app := newLabApp(t, 7, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := serve(ctx, port, app)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !res.Found() || res.Candidate != 7 {
		t.Fatalf("result = %+v", res)
	}
	if res.Attempts != 8 {
		t.Errorf("attempts = %d, want 8", res.Attempts)
	}
}

func TestServe_HealthReportsRunningSearch(t *testing.T) {
	port := freePort(t)
	healthURL := "http://127.0.0.1:" + strconv.Itoa(port) + "/health"

	var (
		once   sync.Once
		health string
	)
	// Hold the first check until /health answers, then capture it.
	wrap := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			once.Do(func() {
				deadline := time.Now().Add(3 * time.Second)
				for time.Now().Before(deadline) {
					resp, err := http.Get(healthURL)
					if err == nil {
						body, _ := io.ReadAll(resp.Body)
						resp.Body.Close()
						health = string(body)
						return
					}
					time.Sleep(20 * time.Millisecond)
				}
			})
			next.ServeHTTP(w, r)
		})
	}

	app := newLabApp(t, 3, wrap)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	res, err := serve(ctx, port, app)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !res.Found() || res.Candidate != 3 {
		t.Fatalf("result = %+v", res)
	}
	if !strings.Contains(health, `"run_id":"`+app.RunID()+`"`) || !strings.Contains(health, `"deployment":"unlimited"`) {
		t.Errorf("health = %s", health)
	}

	// The metrics server is stopped once the search returns.
	if resp, err := http.Get(healthURL); err == nil {
		resp.Body.Close()
		t.Error("metrics server still serving after search finished")
	}
}

func TestServe_WithoutMetrics(t *testing.T) {
	app := newLabApp(t, 0, nil)

	res, err := serve(context.Background(), 0, app)
	if err != nil {
		t.Fatalf("serve: %v", err)
	}
	if !res.Found() || res.Attempts != 1 {
		t.Errorf("result = %+v", res)
	}
}

func TestServe_CanceledContext(t *testing.T) {
	app := newLabApp(t, 9999, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := serve(ctx, freePort(t), app)
	if !errors.Is(err, control.ErrCanceled) {
		t.Fatalf("err = %v, want ErrCanceled", err)
	}
	if res == nil || res.Terminal != control.TerminalFatal {
		t.Errorf("result = %+v", res)
	}
}
