package http

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/Hatesnake69/tg-review-data-collector/internal/domain"
	"github.com/Hatesnake69/tg-review-data-collector/internal/httputil"
	"github.com/Hatesnake69/tg-review-data-collector/internal/runlock"
	"github.com/Hatesnake69/tg-review-data-collector/internal/service"
	"github.com/Hatesnake69/tg-review-data-collector/internal/validator"
)

// PipelineService is the part of the pipeline the HTTP layer needs.
type PipelineService interface {
	FetchAndStore(ctx context.Context, markets []string) (*service.FetchSummary, error)
	GenerateStats(ctx context.Context) (*service.StatsSummary, error)
	LatestStat(ctx context.Context) (*domain.ReviewStat, error)
}

// PipelineHandler handles HTTP requests for pipeline operations.
type PipelineHandler struct {
	service PipelineService
	logger  *slog.Logger
}

// NewPipelineHandler creates a new pipeline HTTP handler.
func NewPipelineHandler(svc PipelineService, logger *slog.Logger) *PipelineHandler {
	return &PipelineHandler{
		service: svc,
		logger:  logger,
	}
}

// FetchRequest is the optional JSON request body for triggering a fetch run.
type FetchRequest struct {
	Markets []string `json:"markets" validate:"omitempty,min=1,dive,len=2,alpha"`
}

// TriggerFetch handles POST /api/v1/pipeline/fetch
func (h *PipelineHandler) TriggerFetch(w http.ResponseWriter, r *http.Request) {
	var req FetchRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := validator.DecodeAndValidate(r, &req); err != nil && !errors.Is(err, io.EOF) {
			httputil.WriteValidationError(w, err)
			return
		}
	}

	summary, err := h.service.FetchAndStore(r.Context(), req.Markets)
	if err != nil {
		if errors.Is(err, runlock.ErrAlreadyLocked) {
			httputil.WriteJSON(w, http.StatusConflict, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "RUN_IN_PROGRESS", Message: "another pipeline run is in progress"},
			})
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: summary})
}

// TriggerStats handles POST /api/v1/pipeline/stats
func (h *PipelineHandler) TriggerStats(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GenerateStats(r.Context())
	if err != nil {
		if errors.Is(err, runlock.ErrAlreadyLocked) {
			httputil.WriteJSON(w, http.StatusConflict, httputil.Response{
				Error: &httputil.ErrorResponse{Code: "RUN_IN_PROGRESS", Message: "another pipeline run is in progress"},
			})
			return
		}
		httputil.WriteError(w, r, err, h.logger)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: summary})
}

// StatResponse is the JSON representation of a stored aggregate.
type StatResponse struct {
	ID           int64   `json:"id"`
	EventDate    string  `json:"event_date"`
	Language     string  `json:"language"`
	ReviewsCount int     `json:"reviews_count"`
	MinScore     float64 `json:"min_score"`
	AvgScore     float64 `json:"avg_score"`
	MaxScore     float64 `json:"max_score"`
	InsertDate   string  `json:"insert_date"`
}

// LatestStat handles GET /api/v1/stats/latest
func (h *PipelineHandler) LatestStat(w http.ResponseWriter, r *http.Request) {
	st, err := h.service.LatestStat(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err, h.logger)
		return
	}
	if st == nil {
		httputil.WriteJSON(w, http.StatusNotFound, httputil.Response{
			Error: &httputil.ErrorResponse{Code: "NOT_FOUND", Message: "no aggregates computed yet"},
		})
		return
	}

	httputil.WriteJSON(w, http.StatusOK, httputil.Response{Data: StatResponse{
		ID:           st.ID,
		EventDate:    st.EventDate.Format("2006-01-02"),
		Language:     st.Language,
		ReviewsCount: st.ReviewsCount,
		MinScore:     st.MinScore,
		AvgScore:     st.AvgScore,
		MaxScore:     st.MaxScore,
		InsertDate:   st.InsertDate.Format("2006-01-02"),
	}})
}
