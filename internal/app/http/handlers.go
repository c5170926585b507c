package http

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/spounge-ai/auditgate/internal/domain"
	app_errors "github.com/spounge-ai/auditgate/internal/errors"
	"github.com/spounge-ai/auditgate/internal/executor"
	"github.com/spounge-ai/auditgate/internal/session"
)

const maxRequestBody = 8 << 20

type handler struct {
	sink       domain.AuditSink
	sessions   *session.Manager
	executor   *executor.Executor
	classifier *app_errors.ErrorClassifier
	logger     *slog.Logger
}

type errorResponse struct {
	Error   string `json:"error"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type operationRequest struct {
	Service      string            `json:"service"`
	Region       string            `json:"region"`
	Operation    string            `json:"operation"`
	Params       map[string]any    `json:"params"`
	ParamsBase64 map[string]string `json:"params_base64"`
}

type operationResponse struct {
	SessionID  string `json:"session_id"`
	Operation  string `json:"operation"`
	Resource   string `json:"resource,omitempty"`
	DurationMS int64  `json:"duration_ms"`
	Output     any    `json:"output,omitempty"`
}

// handleEvents streams matching audit events as NDJSON. Query parameters:
// kind (repeatable or comma separated), since and until (RFC 3339),
// session_id, actor and limit.
func (h *handler) handleEvents(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   string(domain.KindValidation),
			Message: err.Error(),
		})
		return
	}

	rc := http.NewResponseController(w)
	enc := json.NewEncoder(w)
	started := false
	for event, err := range h.sink.Query(r.Context(), filter) {
		if err != nil {
			if !started {
				h.writeFailure(w, r, err)
				return
			}
			// Headers are gone; the client sees a truncated stream.
			h.logger.WarnContext(r.Context(), "event stream aborted",
				"request_id", middleware.GetReqID(r.Context()), "error", err)
			return
		}
		if !started {
			w.Header().Set("Content-Type", "application/x-ndjson")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		if err := enc.Encode(event); err != nil {
			return
		}
		_ = rc.Flush()
	}
	if !started {
		w.Header().Set("Content-Type", "application/x-ndjson")
		w.WriteHeader(http.StatusOK)
	}
}

func parseFilter(r *http.Request) (domain.AuditFilter, error) {
	q := r.URL.Query()
	var filter domain.AuditFilter

	for _, raw := range q["kind"] {
		for k := range strings.SplitSeq(raw, ",") {
			kind := domain.EventKind(strings.TrimSpace(k))
			if kind == "" {
				continue
			}
			if !kind.Valid() {
				return filter, fmt.Errorf("unknown event kind %q", kind)
			}
			filter.Kinds = append(filter.Kinds, kind)
		}
	}

	var err error
	if filter.Since, err = parseTime(q.Get("since")); err != nil {
		return filter, fmt.Errorf("since: %w", err)
	}
	if filter.Until, err = parseTime(q.Get("until")); err != nil {
		return filter, fmt.Errorf("until: %w", err)
	}
	if !filter.Since.IsZero() && !filter.Until.IsZero() && !filter.Since.Before(filter.Until) {
		return filter, errors.New("since must be before until")
	}

	filter.SessionID = q.Get("session_id")
	filter.Actor = q.Get("actor")

	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return filter, fmt.Errorf("limit must be a non-negative integer, got %q", raw)
		}
		filter.Limit = n
	}
	return filter, nil
}

func parseTime(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, raw)
}

func (h *handler) handleOperationList(w http.ResponseWriter, r *http.Request) {
	service := chi.URLParam(r, "service")
	ops := h.executor.Catalog().Operations(service)
	if len(ops) == 0 {
		writeJSON(w, http.StatusNotFound, errorResponse{
			Error:   string(domain.KindValidation),
			Message: fmt.Sprintf("%v: %s", app_errors.ErrUnsupportedService, service),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"service": service, "operations": ops})
}

// handleOperation opens a session scoped to the request, executes one
// operation through it and closes it again.
func (h *handler) handleOperation(w http.ResponseWriter, r *http.Request) {
	var req operationRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   string(domain.KindValidation),
			Message: err.Error(),
		})
		return
	}
	params, err := req.params()
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{
			Error:   string(domain.KindValidation),
			Message: err.Error(),
		})
		return
	}

	var (
		resp   operationResponse
		result domain.Result
	)
	err = h.sessions.WithSession(r.Context(), req.Service, req.Region, func(ctx context.Context, s *session.Session) error {
		resp.SessionID = s.ID()
		var err error
		result, err = h.executor.Execute(ctx, s, domain.NewOperationRequest(req.Operation, params))
		return err
	})
	if err != nil {
		h.writeFailure(w, r, err)
		return
	}

	resp.Operation = result.Operation
	resp.Resource = result.Resource
	resp.DurationMS = result.Duration.Milliseconds()
	resp.Output = result.Output
	writeJSON(w, http.StatusOK, resp)
}

func (req operationRequest) params() (map[string]any, error) {
	params := make(map[string]any, len(req.Params)+len(req.ParamsBase64))
	maps.Copy(params, req.Params)
	for k, v := range req.ParamsBase64 {
		if _, dup := params[k]; dup {
			return nil, fmt.Errorf("parameter %q given both plain and base64 encoded", k)
		}
		b, err := base64.StdEncoding.DecodeString(v)
		if err != nil {
			return nil, fmt.Errorf("parameter %q is not valid base64: %w", k, err)
		}
		params[k] = b
	}
	return params, nil
}

func (h *handler) writeFailure(w http.ResponseWriter, r *http.Request, err error) {
	classified := h.classifier.Classify(err)
	var opErr *app_errors.OperationError
	if errors.As(err, &opErr) {
		classified.Kind = opErr.Kind
		classified.Code = opErr.Code
	}

	status := statusFor(classified.Kind, err)
	if status >= http.StatusInternalServerError {
		h.logger.ErrorContext(r.Context(), "request failed",
			"request_id", middleware.GetReqID(r.Context()),
			"path", r.URL.Path,
			"error_kind", classified.Kind,
			"error", err)
	}
	writeJSON(w, status, errorResponse{
		Error:   string(classified.Kind),
		Code:    classified.Code,
		Message: classified.Message,
	})
}

func statusFor(kind domain.ErrorKind, err error) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindClient:
		return http.StatusUnprocessableEntity
	case domain.KindConnection:
		return http.StatusBadGateway
	case domain.KindTransport:
		if errors.Is(err, context.DeadlineExceeded) {
			return http.StatusGatewayTimeout
		}
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
