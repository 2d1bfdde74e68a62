package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"auditflow/internal/jobdir"
	"auditflow/internal/types"

	"go.uber.org/zap"
)

type errorBody struct {
	Error  string `json:"error"`
	Detail string `json:"detail"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a pipeline error onto an HTTP status and public message.
func statusFor(err error) (int, string) {
	var (
		maxBytes *http.MaxBytesError
		fwd      *types.ForwardingError
		render   *types.RenderError
	)
	switch {
	case errors.As(err, &maxBytes):
		return http.StatusRequestEntityTooLarge, "upload too large"
	case types.IsInputError(err), errors.Is(err, jobdir.ErrInvalidID):
		return http.StatusBadRequest, "bad request"
	case errors.Is(err, jobdir.ErrJobBusy):
		return http.StatusConflict, "job is already running"
	case errors.As(err, &fwd):
		return http.StatusBadGateway, "stage two unavailable"
	case errors.As(err, &render):
		return http.StatusInternalServerError, "report rendering failed"
	case errors.Is(err, context.Canceled):
		return http.StatusServiceUnavailable, "request cancelled"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

// errorWriter renders errors without leaking the data root.
type errorWriter struct {
	roots []string
	log   *zap.Logger
}

func (e errorWriter) write(w http.ResponseWriter, r *http.Request, err error) {
	status, msg := statusFor(err)
	detail := e.scrub(err.Error())
	fields := []zap.Field{zap.String("path", r.URL.Path), zap.Int("status", status), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		e.log.Error("request failed", fields...)
	} else {
		e.log.Info("request rejected", fields...)
	}
	writeJSON(w, status, errorBody{Error: msg, Detail: detail})
}

func (e errorWriter) scrub(msg string) string {
	for _, root := range e.roots {
		if root == "" {
			continue
		}
		msg = strings.ReplaceAll(msg, strings.TrimRight(root, "/")+"/", "")
		msg = strings.ReplaceAll(msg, root, ".")
	}
	return msg
}
