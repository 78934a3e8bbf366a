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

	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
	"github.com/vietddude/stylelog"

	"github.com/vietddude/vaultprobe/internal/core/domain"
	"github.com/vietddude/vaultprobe/internal/labsim"
)

var (
	labScheme string
	labPIN    string
	labPort   int
	labFlag   string
)

var labCmd = &cobra.Command{
	Use:   "lab",
	Short: "Serve a local vault imitating one of the guarded deployments",
	Example: `  vaultprobe lab --scheme quantum --pin 1234 --port 8081
  vaultprobe run --config config.yaml   # with base_url: http://localhost:8081`,
	Run: runLab,
}

func init() {
	labCmd.Flags().StringVar(&labScheme, "scheme", "quantum", "deployment to imitate: unlimited, limited, advanced, quantum")
	labCmd.Flags().StringVar(&labPIN, "pin", "1234", "secret 4-digit PIN")
	labCmd.Flags().IntVar(&labPort, "port", 8081, "listen port")
	labCmd.Flags().StringVar(&labFlag, "flag", "", "flag returned on success (default FLAG{lab-<scheme>})")
	rootCmd.AddCommand(labCmd)
}

func runLab(cmd *cobra.Command, args []string) {
	level := slog.LevelInfo
	if isDebug {
		level = slog.LevelDebug
	}
	stylelog.InitDefault(&tint.Options{Level: level, TimeFormat: time.RFC3339})

	scheme, err := labsim.ParseScheme(labScheme)
	if err != nil {
		slog.Error("Invalid scheme", "error", err)
		os.Exit(1)
	}
	pin, err := domain.ParseCandidate(labPIN)
	if err != nil {
		slog.Error("Invalid PIN", "error", err)
		os.Exit(1)
	}

	cfg := labsim.DefaultConfig(scheme)
	cfg.PIN = pin
	if labFlag != "" {
		cfg.Flag = labFlag
	}
	lab, err := labsim.New(cfg)
	if err != nil {
		slog.Error("Failed to create lab", "error", err)
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", labPort),
		Handler:           lab.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Lab vault listening", "scheme", scheme, "port", labPort)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Lab server failed", "error", err)
		os.Exit(1)
	}

	st := lab.Stats()
	slog.Info("Lab vault stopped",
		"checks", st.Checks,
		"rate_limited", st.RateLimited,
		"tokens_issued", st.TokensIssued,
		"rotations", st.Rotations,
		"inspections", st.Inspections,
		"vault_accesses", st.VaultAccesses,
	)
}
