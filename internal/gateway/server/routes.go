package server

import (
	"net/http"

	"auditflow/internal/gateway/handler"
	"auditflow/internal/gateway/middleware"

	"go.uber.org/zap"
)

// StageOneRoutes are the handlers mounted by the stage-one service.
type StageOneRoutes struct {
	Service string
	Analyze http.Handler
	Events  http.Handler
}

// StageTwoRoutes are the handlers mounted by the stage-two service.
// StatusPath/Status carry the run status RPC and may be empty.
type StageTwoRoutes struct {
	Service     string
	DeepAnalyze http.Handler
	Events      http.Handler
	StatusPath  string
	Status      http.Handler
}

func NewStageOneMux(routes StageOneRoutes, origins []string, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", handler.Health(routes.Service))
	mux.Handle("POST /analyze", routes.Analyze)
	if routes.Events != nil {
		mux.Handle("GET /v1/jobs/{id}/events", routes.Events)
	}
	return middleware.Chain(mux, middleware.CORS(origins), middleware.RequestLogger(logger))
}

func NewStageTwoMux(routes StageTwoRoutes, origins []string, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /health", handler.Health(routes.Service))
	mux.Handle("POST /deep-analyze", routes.DeepAnalyze)
	if routes.Events != nil {
		mux.Handle("GET /v1/jobs/{id}/events", routes.Events)
	}
	if routes.Status != nil && routes.StatusPath != "" {
		mux.Handle(routes.StatusPath, routes.Status)
	}
	return middleware.Chain(mux, middleware.CORS(origins), middleware.RequestLogger(logger))
}
