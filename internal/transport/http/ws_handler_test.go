package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
	"course-progression-engine/internal/infra/memory"
	"course-progression-engine/internal/infra/payment"
	"course-progression-engine/internal/retry"
)

func TestWebSocketQuizFlow(t *testing.T) {
	svc := newTestServices(t)
	enroll(t, svc, "u1")

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(svc).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	u := "ws" + server.URL[len("http"):] + "/ws?learnerId=u1"
	conn, _, err := websocket.DefaultDialer.Dial(u, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Expect connected event first.
	msgType, payload := readNext(conn, t, "connected")
	if payload["learnerId"] != "u1" {
		t.Fatalf("expected learnerId in %s payload, got %v", msgType, payload)
	}

	check := map[string]any{
		"type":    "checkAnswer",
		"id":      "c1",
		"payload": map[string]any{"questionId": "q1", "selected": "o2"},
	}
	if err := conn.WriteJSON(check); err != nil {
		t.Fatalf("write check: %v", err)
	}
	_, payload = readNext(conn, t, "answerFeedback")
	if payload["isCorrect"] != true {
		t.Fatalf("expected correct feedback, got %v", payload)
	}

	submit := map[string]any{
		"type": "submitQuiz",
		"payload": map[string]any{
			"moduleId": "m1",
			"answers":  []map[string]any{{"questionId": "q1", "selected": "o2"}},
		},
	}
	if err := conn.WriteJSON(submit); err != nil {
		t.Fatalf("write submit: %v", err)
	}

	// Expect the quiz result plus the committed events, in any interleaving.
	resultSeen := false
	xpEvents := 0
	for i := 0; i < 8 && !(resultSeen && xpEvents >= 2); i++ {
		typ, p := readNext(conn, t, "")
		switch typ {
		case "quizResult":
			resultSeen = true
			if p["score"] != float64(100) || p["xpGranted"] != float64(60) {
				t.Fatalf("unexpected quiz result: %v", p)
			}
		case "event":
			if p["type"] == string(domain.EventXPGranted) {
				xpEvents++
			}
		}
	}
	if !resultSeen || xpEvents < 2 {
		t.Fatalf("expected quizResult and xp events, got result=%v xpEvents=%d", resultSeen, xpEvents)
	}
}

func TestWebSocketReportsErrors(t *testing.T) {
	svc := newTestServices(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(svc).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[len("http"):]+"/ws?learnerId=ghost", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readNext(conn, t, "connected")

	if err := conn.WriteJSON(map[string]any{"type": "lessonComplete", "payload": map[string]any{"moduleId": "m1", "lessonId": "l1"}}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, payload := readNext(conn, t, "error")
	if payload["code"] != "not_found" {
		t.Fatalf("expected not_found, got %v", payload)
	}

	if err := conn.WriteJSON(map[string]any{"type": "dance"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	_, payload = readNext(conn, t, "error")
	if payload["code"] != "unsupported" {
		t.Fatalf("expected unsupported, got %v", payload)
	}
}

func TestWebSocketRepairCommandsAndSubSecondScroll(t *testing.T) {
	svc := newTestServices(t)
	enroll(t, svc, "u1")
	_, err := svc.Quizzes.SubmitAttempt(context.Background(), "u1", "m1",
		[]domain.AnswerSubmission{{QuestionID: "q1", Selected: "o2"}}, time.Time{})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", NewWSHandler(svc).ServeWS)
	server := httptest.NewServer(mux)
	defer server.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+server.URL[len("http"):]+"/ws?learnerId=u1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	readNext(conn, t, "connected")

	send := func(typ string, payload map[string]any) map[string]any {
		t.Helper()
		if err := conn.WriteJSON(map[string]any{"type": typ, "payload": payload}); err != nil {
			t.Fatalf("write %s: %v", typ, err)
		}
		for i := 0; i < 8; i++ {
			got, p := readNext(conn, t, "")
			if got == "event" {
				continue
			}
			return map[string]any{"type": got, "payload": p}
		}
		t.Fatalf("no reply to %s", typ)
		return nil
	}

	reply := send("reapplyPass", map[string]any{"moduleId": "m1"})
	p := reply["payload"].(map[string]any)
	if reply["type"] != "quizResult" || p["passed"] != true || p["xpGranted"] != float64(0) {
		t.Fatalf("unexpected reapply reply: %v", reply)
	}

	reply = send("resolveUnlocks", map[string]any{"completedModuleSlug": "basics"})
	p = reply["payload"].(map[string]any)
	if reply["type"] != "unlocksResult" {
		t.Fatalf("unexpected resolve reply: %v", reply)
	}
	if unlocked, ok := p["unlocked"].([]any); !ok || len(unlocked) != 0 {
		t.Fatalf("expected empty unlocked list, got %v", p)
	}

	reply = send("telemetry", map[string]any{"kind": "scrollTime", "day": 0, "scrollMs": 800})
	p = reply["payload"].(map[string]any)
	if reply["type"] != "telemetryResult" {
		t.Fatalf("unexpected telemetry reply: %v", reply)
	}
	unlocked, _ := p["unlocked"].([]any)
	found := false
	for _, id := range unlocked {
		if id == "speed-reader" {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected speed-reader for an 800ms scroll, got %v", p)
	}
}

func TestWebSocketRequiresLearner(t *testing.T) {
	rec := httptest.NewRecorder()
	NewWSHandler(newTestServices(t)).ServeWS(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func readNext(conn *websocket.Conn, t *testing.T, expect string) (string, map[string]any) {
	t.Helper()
	var msg struct {
		Type    string         `json:"type"`
		Payload map[string]any `json:"payload"`
	}
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if expect != "" && msg.Type != expect {
		t.Fatalf("expected type %s, got %s (%v)", expect, msg.Type, msg.Payload)
	}
	return msg.Type, msg.Payload
}

func newTestServices(t *testing.T) Services {
	t.Helper()
	deps := app.Deps{
		Store:      memory.NewStore(),
		Checklists: memory.NewChecklistStore(),
		Catalog:    memory.NewCatalogRepository(memory.NewStaticCatalogLoader(sampleCatalog()), time.Minute),
		Feed:       app.NewFeed(),
	}
	gateway := payment.NewStaticGateway()
	gateway.Confirm("sess-u1", "u1@example.com")
	return Services{
		Progress:     app.NewProgressService(deps),
		Quizzes:      app.NewQuizService(deps),
		Achievements: app.NewAchievementService(deps),
		Unlocks:      app.NewUnlockResolver(deps),
		Reconciler: app.NewReconciler(deps, gateway,
			retry.WithMaxAttempts(2),
			retry.WithSleep(func(context.Context, time.Duration) error { return nil })),
		Feed: deps.Feed,
	}
}

func enroll(t *testing.T, svc Services, learnerID string) {
	t.Helper()
	ctx := context.Background()
	if _, _, err := svc.Progress.EnsureLearner(ctx, learnerID, learnerID+"@example.com"); err != nil {
		t.Fatalf("ensure learner: %v", err)
	}
	if _, err := svc.Reconciler.Reconcile(ctx, "sess-"+learnerID, ""); err != nil {
		t.Fatalf("reconcile: %v", err)
	}
}

func sampleCatalog() domain.Catalog {
	return domain.Catalog{
		Modules: []domain.Module{
			{
				ID: "m1", Title: "Basics", Order: 1, XPReward: 10,
				Lessons: []domain.Lesson{{ID: "l1"}},
				Questions: []domain.Question{
					{
						ID:     "q1",
						Prompt: "What is 2 + 2?",
						Options: []domain.Option{
							{ID: "o1", Text: "3", Correct: false},
							{ID: "o2", Text: "4", Correct: true},
							{ID: "o3", Text: "5", Correct: false},
						},
						Points: 1,
					},
				},
			},
		},
		Days: []domain.Day{{Number: 0, Items: []domain.ChecklistItem{{ID: "a"}}}},
	}
}
