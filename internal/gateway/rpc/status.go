package rpc

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"auditflow/internal/runstore"
	"auditflow/internal/types"

	"connectrpc.com/connect"
	"go.uber.org/zap"
)

const (
	// ServiceName is the fully-qualified run status service.
	ServiceName = "auditflow.v1.AuditService"
	// GetRunStatusProcedure is the Connect procedure path of GetRunStatus.
	GetRunStatusProcedure = "/" + ServiceName + "/GetRunStatus"
)

type RunStatusRequest struct {
	JobID string `json:"job_id"`
}

type RunStatusResponse struct {
	Meta           types.RunMeta `json:"meta"`
	ReportLocation string        `json:"report_location,omitempty"`
	UpdatedAt      time.Time     `json:"updated_at"`
}

// StatusService answers run status lookups from a run store.
type StatusService struct {
	runs runstore.Store
	log  *zap.Logger
}

func NewStatusService(runs runstore.Store, logger *zap.Logger) *StatusService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StatusService{runs: runs, log: logger.Named("status_rpc")}
}

func (s *StatusService) GetRunStatus(ctx context.Context, req *connect.Request[RunStatusRequest]) (*connect.Response[RunStatusResponse], error) {
	jobID := strings.TrimSpace(req.Msg.JobID)
	if jobID == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("job_id is required"))
	}
	rec, err := s.runs.Get(ctx, jobID)
	if errors.Is(err, runstore.ErrNotFound) {
		return nil, connect.NewError(connect.CodeNotFound, fmt.Errorf("run %s not found", jobID))
	}
	if err != nil {
		s.log.Error("run lookup failed", zap.String("job_id", jobID), zap.Error(err))
		return nil, connect.NewError(connect.CodeInternal, errors.New("run lookup failed"))
	}
	return connect.NewResponse(&RunStatusResponse{
		Meta:           rec.Meta,
		ReportLocation: rec.ReportLocation,
		UpdatedAt:      rec.UpdatedAt,
	}), nil
}

// NewStatusHandler returns the mount path and handler for the service.
func NewStatusHandler(svc *StatusService) (string, http.Handler) {
	mux := http.NewServeMux()
	mux.Handle(GetRunStatusProcedure, connect.NewUnaryHandler(
		GetRunStatusProcedure,
		svc.GetRunStatus,
		connect.WithCodec(jsonCodec{}),
	))
	return "/" + ServiceName + "/", mux
}

// StatusClient calls GetRunStatus on a stage-two server.
type StatusClient struct {
	getRunStatus *connect.Client[RunStatusRequest, RunStatusResponse]
}

func NewStatusClient(httpClient connect.HTTPClient, baseURL string) *StatusClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &StatusClient{
		getRunStatus: connect.NewClient[RunStatusRequest, RunStatusResponse](
			httpClient,
			strings.TrimRight(baseURL, "/")+GetRunStatusProcedure,
			connect.WithCodec(jsonCodec{}),
		),
	}
}

func (c *StatusClient) GetRunStatus(ctx context.Context, jobID string) (*RunStatusResponse, error) {
	res, err := c.getRunStatus.CallUnary(ctx, connect.NewRequest(&RunStatusRequest{JobID: jobID}))
	if err != nil {
		return nil, err
	}
	return res.Msg, nil
}
