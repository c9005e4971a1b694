package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/dossier-io/dossier/internal/config"
	"github.com/dossier-io/dossier/internal/server"
	"github.com/dossier-io/dossier/internal/trigger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the dossier HTTP API with the learning-job dispatcher",
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// parseAPIKeys returns a map of key -> org_id from DOSSIER_API_KEYS
// (comma-separated; each entry key:org_id, or bare key for "default").
func parseAPIKeys(env string) map[string]string {
	m := make(map[string]string)
	if env == "" {
		return m
	}
	for _, part := range strings.Split(env, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		orgID := "default"
		if idx := strings.Index(part, ":"); idx > 0 {
			orgID = strings.TrimSpace(part[idx+1:])
			part = strings.TrimSpace(part[:idx])
		}
		m[part] = orgID
	}
	return m
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	p, err := buildPipeline(ctx, cfg)
	if err != nil {
		return err
	}
	defer p.Close()

	var sink trigger.Sink = trigger.LogSink{}
	if cfg.LearningWebhook != "" {
		sink = trigger.NewWebhookSink(cfg.LearningWebhook)
	}
	dispatcher, err := trigger.NewDispatcher(p.store, sink, cfg.DispatchCron)
	if err != nil {
		return fmt.Errorf("building learning-job dispatcher: %w", err)
	}
	dispatcher.Start()
	defer dispatcher.Stop()

	apiKeys := parseAPIKeys(os.Getenv("DOSSIER_API_KEYS"))
	if cfg.APIToken != "" {
		apiKeys[cfg.APIToken] = "default"
	}
	if len(apiKeys) == 0 {
		log.Warn().Msg("DOSSIER_API_KEYS not set; all API endpoints will return 401. Set for production.")
	}

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.NewServer(p.runner, p.store, cfg.AccessDir, apiKeys).Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("server_listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
