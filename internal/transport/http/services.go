package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
	"course-progression-engine/internal/logger"
)

// Services are the use cases exposed over HTTP and WebSocket.
type Services struct {
	Progress     *app.ProgressService
	Quizzes      *app.QuizService
	Achievements *app.AchievementService
	Unlocks      *app.UnlockResolver
	Reconciler   *app.Reconciler
	Feed         *app.Feed
	Logger       *logger.Logger
	// Ping reports backing-store health; nil means always healthy.
	Ping func(ctx context.Context) error
}

type errorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// classify maps domain errors to a status code and a stable client code.
func classify(err error) (int, errorPayload) {
	p := errorPayload{Message: err.Error()}
	switch {
	case errors.Is(err, domain.ErrNotFound):
		p.Code = "not_found"
		return http.StatusNotFound, p
	case errors.Is(err, domain.ErrInvalidSubmission):
		p.Code = "invalid_submission"
		return http.StatusBadRequest, p
	case errors.Is(err, domain.ErrAccessDenied):
		p.Code = "access_denied"
		return http.StatusForbidden, p
	case errors.Is(err, domain.ErrDependencyPending):
		p.Code = "dependency_pending"
		return http.StatusServiceUnavailable, p
	default:
		p.Code = "internal"
		p.Message = "internal error"
		return http.StatusInternalServerError, p
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
