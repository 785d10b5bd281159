package http

import (
	"encoding/json"
	"net/http"

	"course-progression-engine/internal/logger"
)

// RESTHandler serves read paths and the webhook-style write endpoints.
type RESTHandler struct {
	svc Services
	log *logger.Logger
}

func NewRESTHandler(svc Services) *RESTHandler {
	log := svc.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &RESTHandler{svc: svc, log: log}
}

// Register mounts the routes on mux.
func (h *RESTHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", h.health)
	mux.HandleFunc("POST /learners", h.ensureLearner)
	mux.HandleFunc("GET /learners/{id}/summary", h.summary)
	mux.HandleFunc("GET /learners/{id}/achievements", h.achievements)
	mux.HandleFunc("GET /learners/{id}/modules/{moduleId}/attempts", h.attempts)
	mux.HandleFunc("POST /learners/{id}/modules/{moduleId}/reapply-pass", h.reapplyPass)
	mux.HandleFunc("POST /learners/{id}/unlocks/resolve", h.resolveUnlocks)
	mux.HandleFunc("POST /enrollments/reconcile", h.reconcile)
}

func (h *RESTHandler) health(w http.ResponseWriter, r *http.Request) {
	if h.svc.Ping != nil {
		if err := h.svc.Ping(r.Context()); err != nil {
			h.log.Warn("health check failed", "error", err)
			http.Error(w, "unavailable", http.StatusServiceUnavailable)
			return
		}
	}
	w.Write([]byte("ok"))
}

type learnerRequest struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// ensureLearner receives the identity-sync event.
func (h *RESTHandler) ensureLearner(w http.ResponseWriter, r *http.Request) {
	var req learnerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "invalid_submission", Message: "invalid json body"})
		return
	}
	learner, created, err := h.svc.Progress.EnsureLearner(r.Context(), req.ID, req.Email)
	if err != nil {
		h.fail(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, learner)
}

func (h *RESTHandler) summary(w http.ResponseWriter, r *http.Request) {
	s, err := h.svc.Progress.GetProgressSummary(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *RESTHandler) achievements(w http.ResponseWriter, r *http.Request) {
	views, err := h.svc.Achievements.Achievements(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *RESTHandler) attempts(w http.ResponseWriter, r *http.Request) {
	attempts, err := h.svc.Quizzes.Attempts(r.Context(), r.PathValue("id"), r.PathValue("moduleId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, attempts)
}

// reapplyPass repairs a passing attempt whose reward step failed.
func (h *RESTHandler) reapplyPass(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Quizzes.ReapplyPass(r.Context(), r.PathValue("id"), r.PathValue("moduleId"))
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RESTHandler) resolveUnlocks(w http.ResponseWriter, r *http.Request) {
	var req resolveUnlocksPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "invalid_submission", Message: "invalid json body"})
		return
	}
	unlocked, err := h.svc.Unlocks.ResolveUnlocks(r.Context(), r.PathValue("id"), req.CompletedModuleSlug)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, unlocksResult{Unlocked: nonNil(unlocked)})
}

type reconcileRequest struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
}

func (h *RESTHandler) reconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorPayload{Code: "invalid_submission", Message: "invalid json body"})
		return
	}
	res, err := h.svc.Reconciler.Reconcile(r.Context(), req.SessionID, req.Email)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *RESTHandler) fail(w http.ResponseWriter, err error) {
	status, payload := classify(err)
	if status >= http.StatusInternalServerError && status != http.StatusServiceUnavailable {
		h.log.Error("request failed", "error", err)
	}
	writeJSON(w, status, payload)
}
