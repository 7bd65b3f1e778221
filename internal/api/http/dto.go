package http

import (
	"net/url"
	"strconv"
	"time"

	"distributed-quadrature/internal/domain"
)

// ListRunsQuery is the DTO for GET /runs/ query parameters.
type ListRunsQuery struct {
	Page     int `validate:"gte=1"`
	PageSize int `validate:"gte=1,lte=100"`
}

// ParseListRunsQuery reads page and pageSize, defaulting missing values.
// Values that are present but not integers are kept as 0 so validation rejects them.
func ParseListRunsQuery(q url.Values) ListRunsQuery {
	query := ListRunsQuery{Page: 1, PageSize: 20}
	if v := q.Get("page"); v != "" {
		query.Page, _ = strconv.Atoi(v)
	}
	if v := q.Get("pageSize"); v != "" {
		query.PageSize, _ = strconv.Atoi(v)
	}
	return query
}

// RunResponse is the JSON shape of a run record.
type RunResponse struct {
	ID        string    `json:"id"`
	Pool      string    `json:"pool"`
	Status    string    `json:"status"`
	Processes int       `json:"processes"`
	Samples   int       `json:"samples"`
	Rule      string    `json:"rule"`
	Transport string    `json:"transport"`
	Estimate  float64   `json:"estimate"`
	AbsError  float64   `json:"abs_error"`
	PerRank   []int     `json:"per_rank,omitempty"`
	StartTime time.Time `json:"start_time"`
	Elapsed   string    `json:"elapsed,omitempty"`
	Error     string    `json:"error,omitempty"`
	// ShutdownError reports workers a successful run could not stop.
	ShutdownError string `json:"shutdown_error,omitempty"`
}

// FromDomainRun converts a domain.RunRecord to its response DTO.
func FromDomainRun(r *domain.RunRecord) RunResponse {
	resp := RunResponse{
		ID:        r.ID,
		Pool:      r.Pool,
		Status:    string(r.Status),
		Processes: r.Processes,
		Samples:   r.Samples,
		Rule:      r.Rule,
		Transport: r.Transport,
		Estimate:  r.Estimate,
		AbsError:  r.AbsError,
		PerRank:   r.PerRank,
		StartTime: r.StartTime,
		Error:     r.Error,

		ShutdownError: r.ShutdownError,
	}
	if !r.EndTime.IsZero() {
		resp.Elapsed = r.EndTime.Sub(r.StartTime).String()
	}
	return resp
}
