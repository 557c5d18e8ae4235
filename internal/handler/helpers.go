package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/boddenberg/ledger-bfa-go/internal/domain"

	"go.uber.org/zap"
)

// ============================================================
// Shared helper functions
// ============================================================

const (
	defaultPageSize = 20
	maxPageSize     = 100

	// statusClientClosedRequest is the nginx convention for a caller that went away.
	statusClientClosedRequest = 499
)

type errorResponse struct {
	Error     string `json:"error"`
	Retryable bool   `json:"retryable,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func parsePagination(r *http.Request) (page, pageSize int) {
	page = 1
	pageSize = defaultPageSize
	if v := r.URL.Query().Get("page"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			page = p
		}
	}
	if v := r.URL.Query().Get("page_size"); v != "" {
		if ps, err := strconv.Atoi(v); err == nil && ps > 0 && ps <= maxPageSize {
			pageSize = ps
		}
	}
	return
}

// parsePageRequest reads filters and sort from the query string.
func parsePageRequest(r *http.Request) (domain.PageRequest, error) {
	q := r.URL.Query()
	page, pageSize := parsePagination(r)

	bucket, err := domain.ParseDateBucket(q.Get("date"))
	if err != nil {
		return domain.PageRequest{}, err
	}
	sort, err := domain.ParseSort(q.Get("sort"), q.Get("dir"))
	if err != nil {
		return domain.PageRequest{}, err
	}

	return domain.PageRequest{
		PageNumber: page,
		PageSize:   pageSize,
		Filters: domain.Filters{
			Status:     q.Get("status"),
			DateBucket: bucket,
			ClientID:   q.Get("client_id"),
			SearchTerm: q.Get("q"),
		},
		Sort: sort,
	}, nil
}

// handleServiceError maps domain errors to HTTP responses.
func handleServiceError(w http.ResponseWriter, err error, logger *zap.Logger) {
	var notFound *domain.ErrNotFound
	var circuitOpen *domain.ErrCircuitOpen
	var validation *domain.ErrValidation
	var snapshot *domain.ErrSnapshotFetch
	var superseded *domain.ErrSuperseded
	var external *domain.ErrExternalService

	switch {
	case errors.As(err, &validation):
		logger.Debug("validation error", zap.String("error", err.Error()))
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &superseded):
		logger.Debug("superseded page load",
			zap.Uint64("generation", superseded.Generation),
			zap.Uint64("latest", superseded.Latest),
		)
		writeError(w, http.StatusConflict, err.Error())
	case errors.As(err, &snapshot):
		logger.Error("snapshot fetch failed", zap.Error(err))
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:     "transactions are temporarily unavailable",
			Retryable: snapshot.Retryable(),
		})
	case errors.Is(err, context.Canceled):
		logger.Debug("request cancelled by client")
		writeError(w, statusClientClosedRequest, "request cancelled")
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("request deadline exceeded", zap.Error(err))
		writeError(w, http.StatusGatewayTimeout, "request timed out")
	case errors.As(err, &circuitOpen):
		logger.Error("circuit breaker open", zap.Error(err))
		writeError(w, http.StatusServiceUnavailable, err.Error())
	case errors.As(err, &external):
		logger.Error("external service error", zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
	case errors.As(err, &notFound):
		logger.Debug("not found", zap.String("error", err.Error()))
		writeError(w, http.StatusNotFound, err.Error())
	default:
		logger.Error("unhandled error", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "internal server error")
	}
}
