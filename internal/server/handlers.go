package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"ragweb/internal/domain"
	"ragweb/internal/usecase"
)

const defaultTopK = 5

type ingestRequest struct {
	URL string `json:"url"`
}

type ingestResponse struct {
	IngestionID string `json:"ingestion_id"`
	Status      string `json:"status"`
}

type ingestionResponse struct {
	ID           string    `json:"id"`
	URL          string    `json:"url"`
	Status       string    `json:"status"`
	Title        string    `json:"title,omitempty"`
	ErrorMessage string    `json:"error_message,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type queryRequest struct {
	Query string `json:"query"`
	TopK  *int   `json:"top_k"`
}

func toIngestionResponse(ing *domain.Ingestion) ingestionResponse {
	return ingestionResponse{
		ID:           ing.ID,
		URL:          ing.URL,
		Status:       string(ing.Status),
		Title:        ing.Title,
		ErrorMessage: ing.ErrorMessage,
		CreatedAt:    ing.CreatedAt,
		UpdatedAt:    ing.UpdatedAt,
	}
}

// abort writes {"detail": msg}.
func abort(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"detail": msg})
}

// statusFor maps service errors onto HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrLockTimeout), errors.Is(err, usecase.ErrEnqueueFailed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func (s *Server) fail(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "path", c.FullPath(), "error", err)
	}
	switch status {
	case http.StatusInternalServerError:
		abort(c, status, "internal error")
	case http.StatusServiceUnavailable:
		if errors.Is(err, domain.ErrLockTimeout) {
			abort(c, status, "index is busy, try again")
			return
		}
		abort(c, status, "ingestion could not be queued")
	default:
		abort(c, status, err.Error())
	}
}

func (s *Server) ingestURL(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	if _, err := usecase.ValidateURL(req.URL); err != nil {
		abort(c, http.StatusUnprocessableEntity, err.Error())
		return
	}

	ing, err := s.deps.Ingest.Submit(c.Request.Context(), req.URL)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusAccepted, ingestResponse{IngestionID: ing.ID, Status: "queued"})
}

func (s *Server) getIngestion(c *gin.Context) {
	ing, err := s.deps.Ingest.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			abort(c, http.StatusNotFound, "Ingestion not found")
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, toIngestionResponse(ing))
}

func (s *Server) listIngestions(c *gin.Context) {
	var status domain.Status
	if v := c.Query("status"); v != "" {
		st, err := domain.ParseStatus(v)
		if err != nil {
			abort(c, http.StatusUnprocessableEntity, err.Error())
			return
		}
		status = st
	}

	limit := 100
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			abort(c, http.StatusUnprocessableEntity, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	list, err := s.deps.Ingest.List(c.Request.Context(), status, limit)
	if err != nil {
		s.fail(c, err)
		return
	}
	out := make([]ingestionResponse, len(list))
	for i := range list {
		out[i] = toIngestionResponse(&list[i])
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abort(c, http.StatusUnprocessableEntity, "invalid request body: "+err.Error())
		return
	}
	topK := defaultTopK
	if req.TopK != nil {
		if *req.TopK <= 0 {
			abort(c, http.StatusUnprocessableEntity, "top_k must be a positive integer")
			return
		}
		topK = *req.TopK
	}

	ans, err := s.deps.Query.Query(c.Request.Context(), req.Query, topK)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			abort(c, http.StatusBadRequest, "Query must not be empty")
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, ans)
}

type pinger interface {
	Ping(ctx context.Context) error
}

func (s *Server) healthz(c *gin.Context) {
	resp := gin.H{"status": "ok"}
	status := http.StatusOK

	if p, ok := s.deps.Store.(pinger); ok {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := p.Ping(ctx); err != nil {
			resp["status"] = "degraded"
			resp["database"] = err.Error()
			status = http.StatusServiceUnavailable
		}
	}
	if s.deps.Index != nil {
		if st, err := s.deps.Index.Stats(c.Request.Context()); err == nil {
			resp["vectors"] = st.Total
		}
	}
	c.JSON(status, resp)
}
