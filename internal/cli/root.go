package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/vaultprobe/internal/control"
	"github.com/vietddude/vaultprobe/internal/core/config"
	"github.com/vietddude/vaultprobe/internal/probing/metrics"
)

var (
	cfgPath string
	isDebug bool
)

var rootCmd = &cobra.Command{
	Use:   "vaultprobe",
	Short: "Adaptive PIN search against guarded vault labs",
	Long: `vaultprobe walks the 0000-9999 PIN space against a CTF vault deployment,
rotating client identities and session tokens to stay under its rate limits.`,
	Run: runSearch,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a search against the configured deployment",
	Run:   runSearch,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "config file (default is config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

// setupLogging installs the process-wide logger.
func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch {
	case isDebug || cfg.Level == "debug":
		level = slog.LevelDebug
	case cfg.Level == "warn":
		level = slog.LevelWarn
	case cfg.Level == "error":
		level = slog.LevelError
	}

	if cfg.Format == "json" {
		slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
		return
	}
	stylelog.InitDefault(&tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})
}

func runSearch(cmd *cobra.Command, args []string) {
	_ = godotenv.Load()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		stylelog.InitDefault()
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}
	setupLogging(cfg.Logging)

	app, err := control.NewApp(cfg, control.Deps{})
	if err != nil {
		slog.Error("Failed to initialize search", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	res, err := serve(ctx, cfg.Metrics.Port, app)
	if err != nil {
		slog.Error("Search failed", "error", err)
	}
	if res != nil {
		report(res)
	}

	if !res.Found() {
		app.Close()
		os.Exit(1)
	}
}

// serve runs the search alongside the optional metrics server. Metrics are
// best effort: a server that cannot start is logged and the search goes on.
// The metrics server is shut down once the search returns.
func serve(ctx context.Context, port int, app *control.App) (*control.Result, error) {
	if port <= 0 {
		return app.Run(ctx)
	}

	srv := metrics.NewServer(port, func() any { return app.Status() })
	var g errgroup.Group
	done := make(chan struct{})

	g.Go(func() error {
		slog.Info("Metrics server listening", "port", port)
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Warn("Metrics server unavailable, continuing without it", "port", port, "error", err)
		}
		return nil
	})
	g.Go(func() error {
		<-done
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Stop(shutdownCtx); err != nil {
			return fmt.Errorf("stop metrics server: %w", err)
		}
		return nil
	})

	res, runErr := app.Run(ctx)
	close(done)
	if err := g.Wait(); err != nil {
		slog.Warn("Metrics server shutdown failed", "error", err)
	}
	return res, runErr
}

func report(res *control.Result) {
	switch res.Terminal {
	case control.TerminalSuccess:
		fmt.Printf("PIN found: %s\n", res.Candidate)
		if len(res.Payload) > 0 {
			fmt.Printf("Response: %s\n", res.Payload)
		}
	case control.TerminalExhausted:
		fmt.Println("Search space exhausted without a match")
	default:
		fmt.Printf("Search aborted: %s\n", res.Reason)
	}
	fmt.Printf("Attempts: %d  Rotations: %d  Inconclusive: %d  Elapsed: %s\n",
		res.Attempts, res.Rotations, len(res.Inconclusive), res.Elapsed.Round(time.Millisecond))
	for _, inc := range res.Inconclusive {
		fmt.Printf("  %s  %s\n", inc.Candidate, inc.Reason)
	}
}
