package main

import (
	"context"
	"errors"
	"fmt"

	"auditflow/internal/config"
	"auditflow/internal/gateway/app"
	"auditflow/internal/observability"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type service struct {
	name  string
	short string
	build func(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app.App, error)
}

var (
	stageOne = service{
		name:  app.StageOneService,
		short: "Serve POST /analyze: ingest, scan and forward to stage two",
		build: app.NewStageOne,
	}
	stageTwo = service{
		name:  app.StageTwoService,
		short: "Serve POST /deep-analyze: enrich findings and render the report",
		build: app.NewStageTwo,
	}
)

func newServeCmd(s service) *cobra.Command {
	return &cobra.Command{
		Use:   s.name,
		Short: s.short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runService(cmd.Context(), s)
		},
	}
}

// runService serves until ctx is cancelled, then drains in-flight requests
// within server.shutdown_timeout.
func runService(ctx context.Context, s service) error {
	logger := observability.GetLogger()
	a, err := s.build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize %s: %w", s.name, err)
	}

	errCh := make(chan error, 1)
	go func() { errCh <- a.Start() }()

	select {
	case err := <-errCh:
		shutdown(a)
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down", zap.String("service", s.name))
	if err := shutdown(a); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	logger.Info("server exited", zap.String("service", s.name))
	return nil
}

func shutdown(a *app.App) error {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return a.Shutdown(ctx)
}
