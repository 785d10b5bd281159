package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
)

func newRESTServer(t *testing.T, svc Services) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	NewRESTHandler(svc).Register(mux)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestRESTLearnerLifecycle(t *testing.T) {
	svc := newTestServices(t)
	srv := newRESTServer(t, svc)

	resp, err := http.Post(srv.URL+"/learners", "application/json", strings.NewReader(`{"id":"u1","email":"U1@example.com"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/learners", "application/json", strings.NewReader(`{"id":"u1","email":"u1@example.com"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/enrollments/reconcile", "application/json", strings.NewReader(`{"sessionId":"sess-u1"}`))
	require.NoError(t, err)
	var rec app.ReconcileResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&rec))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, domain.EnrollmentSynced, rec.Enrollment.State)
	require.Equal(t, "u1", rec.Enrollment.LearnerID)

	resp, err = http.Get(srv.URL + "/learners/u1/summary")
	require.NoError(t, err)
	var summary app.Summary
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&summary))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "u1", summary.LearnerID)
	require.Equal(t, 1, summary.TotalLessons)

	resp, err = http.Get(srv.URL + "/learners/u1/achievements")
	require.NoError(t, err)
	var views []map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&views))
	resp.Body.Close()
	require.NotEmpty(t, views)

	resp, err = http.Get(srv.URL + "/learners/u1/modules/m1/attempts")
	require.NoError(t, err)
	var attempts []domain.QuizAttempt
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&attempts))
	resp.Body.Close()
	require.Empty(t, attempts)
}

func TestRESTRepairEndpoints(t *testing.T) {
	svc := newTestServices(t)
	enroll(t, svc, "u1")
	srv := newRESTServer(t, svc)

	resp, err := http.Post(srv.URL+"/learners/u1/modules/m1/reapply-pass", "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode, "no passing attempt yet")

	_, err = svc.Quizzes.SubmitAttempt(context.Background(), "u1", "m1",
		[]domain.AnswerSubmission{{QuestionID: "q1", Selected: "o2"}}, time.Time{})
	require.NoError(t, err)

	resp, err = http.Post(srv.URL+"/learners/u1/modules/m1/reapply-pass", "application/json", nil)
	require.NoError(t, err)
	var attempt app.AttemptResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&attempt))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, attempt.Passed)
	require.Zero(t, attempt.XPGranted)

	resp, err = http.Post(srv.URL+"/learners/u1/unlocks/resolve", "application/json", strings.NewReader(`{"completedModuleSlug":"basics"}`))
	require.NoError(t, err)
	var unlocks struct {
		Unlocked []string `json:"unlocked"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&unlocks))
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, unlocks.Unlocked)
	require.Empty(t, unlocks.Unlocked)

	resp, err = http.Post(srv.URL+"/learners/u1/unlocks/resolve", "application/json", strings.NewReader(`{"completedModuleSlug":"nowhere"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRESTErrorMapping(t *testing.T) {
	srv := newRESTServer(t, newTestServices(t))

	resp, err := http.Get(srv.URL + "/learners/ghost/summary")
	require.NoError(t, err)
	var payload errorPayload
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&payload))
	resp.Body.Close()
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "not_found", payload.Code)

	resp, err = http.Post(srv.URL+"/enrollments/reconcile", "application/json", strings.NewReader(`{"sessionId":"sess-unpaid"}`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	resp, err = http.Post(srv.URL+"/learners", "application/json", strings.NewReader(`{`))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthz(t *testing.T) {
	svc := newTestServices(t)
	srv := newRESTServer(t, svc)
	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	svc.Ping = func(context.Context) error { return errors.New("db down") }
	down := newRESTServer(t, svc)
	resp, err = http.Get(down.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestClassify(t *testing.T) {
	cases := map[error]int{
		domain.ErrModuleNotFound:    http.StatusNotFound,
		domain.ErrIncompleteAnswers: http.StatusBadRequest,
		domain.ErrModuleLocked:      http.StatusForbidden,
		domain.ErrEnrollmentTimeout: http.StatusServiceUnavailable,
		errors.New("boom"):          http.StatusInternalServerError,
	}
	for err, want := range cases {
		got, _ := classify(err)
		require.Equal(t, want, got, err.Error())
	}
}
