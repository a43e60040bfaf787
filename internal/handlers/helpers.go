package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"enricher-backend/internal/models"
	"enricher-backend/internal/services"
)

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func errorResp(code, message string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

func errorRespWithFields(code, message string, fields map[string]string, r *http.Request) models.ErrorResponse {
	return models.ErrorResponse{
		Error: models.APIError{
			Code:      code,
			Message:   message,
			Fields:    fields,
			RequestID: r.Header.Get("X-Request-ID"),
		},
	}
}

// statusFor maps a run result onto an HTTP status. Degraded runs are still
// a 200; only a failed run picks a status from the cause.
func statusFor(res *services.PipelineResult) int {
	if res.Outcome != services.OutcomeFailed {
		return http.StatusOK
	}

	var (
		invalid     *services.InvalidInputError
		unsupported *services.UnsupportedMediaError
		timeout     *services.UpstreamTimeoutError
		auth        *services.UpstreamAuthError
		limited     *services.UpstreamRateLimitedError
		notFound    *services.UpstreamNotFoundError
	)
	err := res.Err
	switch {
	case errors.As(err, &invalid):
		return http.StatusBadRequest
	case errors.As(err, &unsupported):
		return http.StatusUnprocessableEntity
	case errors.As(err, &timeout):
		return http.StatusGatewayTimeout
	case errors.As(err, &auth), errors.As(err, &limited), errors.As(err, &notFound):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
