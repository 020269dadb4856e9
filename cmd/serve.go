package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/mca-router/internal/api"
	"github.com/sells-group/mca-router/internal/schedule"
)

const shutdownTimeout = 15 * time.Second

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the decline analysis schedule",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		e, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer e.Close()

		runner, err := newScheduler(ctx, e)
		if err != nil {
			return err
		}
		runner.Start()
		defer runner.Stop()

		return startServer(ctx, newHandler(e), resolvePort(servePort, cfg.Server.Port))
	},
}

// resolvePort prefers the --port flag over the configured port.
func resolvePort(flagPort, cfgPort int) int {
	if flagPort != 0 {
		return flagPort
	}
	return cfgPort
}

// startServer serves handler on port until ctx is done, then shuts down
// gracefully.
func startServer(ctx context.Context, handler http.Handler, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	go func() {
		<-ctx.Done()
		zap.L().Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			zap.L().Warn("server shutdown", zap.Error(err))
		}
	}()

	zap.L().Info("starting server", zap.Int("port", port))
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return eris.Wrap(err, "server listen")
	}
	return nil
}

func newHandler(e *env) http.Handler {
	return api.NewRouter(api.Deps{
		Predictor: e.Predictor,
		Profiles:  e.Profiles,
		Submitter: e.Orchestrator,
		Learner:   e.Learner,
		Rules:     e.Rules,
	}, cfg.Server.AllowedOrigins)
}

// newScheduler registers the periodic decline analysis. An empty schedule
// leaves the runner without jobs.
func newScheduler(ctx context.Context, e *env) (*schedule.Runner, error) {
	runner := schedule.New(ctx)
	if cfg.Learner.Schedule == "" || e.Learner == nil {
		return runner, nil
	}
	_, err := runner.Add("decline-analysis", cfg.Learner.Schedule, func(ctx context.Context) error {
		rep, err := e.Learner.AnalyzeDeclines(ctx)
		if err != nil {
			return err
		}
		if rep.Analyzed > 0 {
			zap.L().Info("scheduled decline analysis",
				zap.Int("analyzed", rep.Analyzed),
				zap.Int("rules_created", rep.RulesCreated),
				zap.Int("failed", rep.Failed),
				zap.Int("mark_failed", rep.MarkFailed),
			)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return runner, nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
