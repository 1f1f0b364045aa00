// Command dashboard-gateway serves spreadsheet ranges to the dashboard
// through the admission, cache, retry and fallback layers, and fronts the
// dashboard app through the offline cache router.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/Sternrassler/dashboard-resilience/pkg/config"
	"github.com/Sternrassler/dashboard-resilience/pkg/logging"
)

// Set via -ldflags at build time.
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "dashboard-gateway",
		Short: "Resilient data gateway for the spreadsheet dashboard",
		Long: `dashboard-gateway fetches spreadsheet ranges through a caching,
retrying and falling-back pipeline and guards it with request admission.

Configuration is read from DASHBOARD_* environment variables and an
optional YAML policy file (DASHBOARD_POLICY_FILE).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newServeCmd(), newVersionCmd())
	return root
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "dashboard-gateway version: %s\n", version)
			fmt.Fprintf(out, "  build date: %s\n", buildDate)
			fmt.Fprintf(out, "  git commit: %s\n", gitCommit)
			fmt.Fprintf(out, "  go version: %s\n", runtime.Version())
		},
	}
}

func newServeCmd() *cobra.Command {
	var (
		addr       string
		policyFile string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.ListenAddr = addr
			}
			if policyFile != "" {
				p, err := config.LoadPolicyFile(policyFile)
				if err != nil {
					return err
				}
				p.Apply(cfg)
				if err := cfg.Validate(); err != nil {
					return err
				}
			}

			logging.Setup(cfg.LoggingConfig())

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if err := serve(ctx, cfg); err != nil {
				log.Error().Err(err).Msg("Gateway stopped with error")
				return err
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (overrides DASHBOARD_LISTEN_ADDR)")
	cmd.Flags().StringVar(&policyFile, "policy", "", "YAML policy file (overrides DASHBOARD_POLICY_FILE)")
	return cmd
}

func serve(ctx context.Context, cfg *config.Config) error {
	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if a.router != nil {
		go func() {
			if err := a.startRouter(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Cache router not activated, app requests pass through")
			}
		}()
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           a.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info().Str("addr", cfg.ListenAddr).Str("version", version).Msg("Starting dashboard gateway")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	a.logger.Info().Msg("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
