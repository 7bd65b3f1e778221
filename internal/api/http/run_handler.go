// internal/api/http/run_handler.go
package http

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"distributed-quadrature/internal/domain"
	"distributed-quadrature/internal/metrics"

	"github.com/go-playground/validator/v10"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// RunHistory is the read side of the run service.
type RunHistory interface {
	ListHistory(ctx context.Context, page, pageSize int) ([]*domain.RunRecord, error)
	Get(ctx context.Context, id string) (*domain.RunRecord, error)
}

// RunHandler serves the run history API.
type RunHandler struct {
	service  RunHistory
	logger   *slog.Logger
	validate *validator.Validate
	tracer   trace.Tracer
}

// NewRunHandler creates a new RunHandler.
func NewRunHandler(service RunHistory, logger *slog.Logger) *RunHandler {
	return &RunHandler{
		service:  service,
		logger:   logger.With("component", "run-handler"),
		validate: validator.New(),
		tracer:   otel.Tracer("distributed-quadrature-api"),
	}
}

// A helper struct to capture the status code
type instrumentedResponseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (w *instrumentedResponseWriter) WriteHeader(statusCode int) {
	w.statusCode = statusCode
	w.ResponseWriter.WriteHeader(statusCode)
}

// RegisterRoutes registers run routes on mux.
func (h *RunHandler) RegisterRoutes(mux *http.ServeMux) {
	base := http.HandlerFunc(h.handleRuns)

	instrumented := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := "/runs/"
		if id := strings.Trim(strings.TrimPrefix(r.URL.Path, "/runs/"), "/"); id != "" {
			path = "/runs/{id}"
		}

		ctx, span := h.tracer.Start(r.Context(), "HTTP "+r.Method+" "+path, trace.WithAttributes(
			attribute.String("http.method", r.Method),
			attribute.String("http.target", r.URL.Path),
		))
		defer span.End()

		iw := &instrumentedResponseWriter{ResponseWriter: w, statusCode: http.StatusOK}
		base.ServeHTTP(iw, r.WithContext(ctx))

		metrics.HttpRequestsTotal.WithLabelValues(path, r.Method, strconv.Itoa(iw.statusCode)).Inc()
		span.SetAttributes(attribute.Int("http.status_code", iw.statusCode))
		if iw.statusCode >= 500 {
			span.SetStatus(codes.Error, "Server Error")
		}
	})

	mux.Handle("/runs/", instrumented)
}

func (h *RunHandler) handleRuns(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	parts := strings.Split(strings.Trim(r.URL.Path, "/"), "/")
	switch {
	case len(parts) == 1 && parts[0] == "runs":
		h.handleListRuns(w, r)
	case len(parts) == 2 && parts[0] == "runs":
		h.handleGetRun(w, r, parts[1])
	default:
		http.NotFound(w, r)
	}
}

func (h *RunHandler) handleListRuns(w http.ResponseWriter, r *http.Request) {
	ctx, span := h.tracer.Start(r.Context(), "handler.ListRuns")
	defer span.End()

	query := ParseListRunsQuery(r.URL.Query())
	if err := h.validate.Struct(query); err != nil {
		span.SetStatus(codes.Error, "Validation failed")
		span.RecordError(err)
		var details []string
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			for _, fe := range verrs {
				details = append(details, "Field '"+fe.Field()+"' failed on the '"+fe.Tag()+"' tag.")
			}
		}
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error":   "Validation failed",
			"details": details,
		})
		return
	}
	span.SetAttributes(attribute.Int("page", query.Page), attribute.Int("page_size", query.PageSize))

	records, err := h.service.ListHistory(ctx, query.Page, query.PageSize)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to list runs")
		span.RecordError(err)
		h.logger.Error("error listing runs", "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	out := make([]RunResponse, 0, len(records))
	for _, rec := range records {
		out = append(out, FromDomainRun(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *RunHandler) handleGetRun(w http.ResponseWriter, r *http.Request, id string) {
	ctx, span := h.tracer.Start(r.Context(), "handler.GetRun")
	defer span.End()
	span.SetAttributes(attribute.String("run.id", id))

	rec, err := h.service.Get(ctx, id)
	if err != nil {
		span.SetStatus(codes.Error, "Failed to get run")
		span.RecordError(err)
		if errors.Is(err, domain.ErrRunNotFound) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("error getting run", "run_id", id, "error", err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, FromDomainRun(rec))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
