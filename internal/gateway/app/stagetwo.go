package app

import (
	"context"
	"fmt"

	"auditflow/internal/config"
	"auditflow/internal/enrich"
	"auditflow/internal/gateway/handler"
	"auditflow/internal/gateway/rpc"
	"auditflow/internal/gateway/server"
	"auditflow/internal/llm"
	"auditflow/internal/pipeline"
	"auditflow/internal/report"
	"auditflow/internal/unit"

	"go.uber.org/zap"
)

const StageTwoService = "stage-two"

// NewStageTwo assembles the stage-two service.
func NewStageTwo(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("service", StageTwoService))

	var closers []func()
	fail := func(err error) (*App, error) {
		closeAll(closers)
		return nil, err
	}

	pub, hub, pubClosers, err := newPublisher(cfg, StageTwoService, logger)
	if err != nil {
		return nil, err
	}
	closers = append(closers, pubClosers...)

	client, err := llm.FromConfig(ctx, cfg.LLM, logger)
	if err != nil {
		return fail(fmt.Errorf("init llm client: %w", err))
	}
	closers = append(closers, func() { _ = client.Close() })

	runs, runClosers, err := newRunStore(ctx, cfg, cfg.Data.StageTwoRoot, logger)
	if err != nil {
		return fail(fmt.Errorf("init run store: %w", err))
	}
	closers = append(closers, runClosers...)

	mirror, err := newMirror(cfg, logger)
	if err != nil {
		return fail(err)
	}

	worker := enrich.NewWorker(client, enrich.Options{
		Concurrency:     cfg.LLM.Concurrency,
		QueueSize:       cfg.LLM.QueueSize,
		CallTimeout:     cfg.LLM.CallTimeout,
		MaxOutputTokens: cfg.LLM.MaxOutputTokens,
	}, pub, logger)
	renderer := report.NewPDFRenderer(report.PDFOptions{
		Title:    cfg.Report.Title,
		PageSize: cfg.Report.PageSize,
	})

	p, err := pipeline.NewStageTwo(pipeline.StageTwoDeps{
		DataRoot:     cfg.Data.StageTwoRoot,
		Ingestor:     newIngestor(cfg, logger),
		Materializer: unit.NewMaterializer(logger),
		Worker:       worker,
		Reporter:     report.NewReporter(renderer, logger),
		Runs:         runs,
		Mirror:       mirror,
		Publisher:    pub,
		Logger:       logger,
	})
	if err != nil {
		return fail(err)
	}

	statusPath, status := rpc.NewStatusHandler(rpc.NewStatusService(runs, logger))
	mux := server.NewStageTwoMux(server.StageTwoRoutes{
		Service:     StageTwoService,
		DeepAnalyze: handler.NewDeepAnalyzeHandler(p, cfg.Server.MaxUploadBytes, p.Jobs().Root(), logger),
		Events:      handler.NewEventsHandler(hub, logger),
		StatusPath:  statusPath,
		Status:      status,
	}, cfg.Server.AllowedOrigins, logger)

	return &App{
		name:    StageTwoService,
		server:  server.New(cfg.Server.StageTwoAddr, mux, cfg.Server.ReadTimeout, logger),
		closers: closers,
		log:     logger,
	}, nil
}
