package app

import (
	"context"

	"auditflow/internal/config"
	"auditflow/internal/events"
	"auditflow/internal/gateway/handler"
	"auditflow/internal/gateway/server"
	"auditflow/internal/pipeline"

	"go.uber.org/zap"
)

const StageOneService = "stage-one"

// NewStageOnePipeline builds the scan pipeline. Forwarding is wired only
// when enabled in cfg.
func NewStageOnePipeline(cfg *config.Config, pub events.Publisher, logger *zap.Logger) (*pipeline.StageOne, error) {
	deps := pipeline.StageOneDeps{
		DataRoot:  cfg.Data.StageOneRoot,
		Ingestor:  newIngestor(cfg, logger),
		Scanner:   newScanner(cfg, logger),
		Publisher: pub,
		Logger:    logger,
	}
	if cfg.Forward.Enabled {
		deps.Forwarder = newForwarder(cfg, logger)
	}
	return pipeline.NewStageOne(deps)
}

// NewStageOne assembles the stage-one service.
func NewStageOne(_ context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("service", StageOneService))

	pub, hub, closers, err := newPublisher(cfg, StageOneService, logger)
	if err != nil {
		return nil, err
	}
	p, err := NewStageOnePipeline(cfg, pub, logger)
	if err != nil {
		closeAll(closers)
		return nil, err
	}

	mux := server.NewStageOneMux(server.StageOneRoutes{
		Service: StageOneService,
		Analyze: handler.NewAnalyzeHandler(p, cfg.Server.MaxUploadBytes, p.Jobs().Root(), logger),
		Events:  handler.NewEventsHandler(hub, logger),
	}, cfg.Server.AllowedOrigins, logger)

	return &App{
		name:    StageOneService,
		server:  server.New(cfg.Server.StageOneAddr, mux, cfg.Server.ReadTimeout, logger),
		closers: closers,
		log:     logger,
	}, nil
}
