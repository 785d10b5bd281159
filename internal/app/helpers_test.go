package app_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
	"course-progression-engine/internal/infra/memory"
	"course-progression-engine/internal/retry"
)

type testEnv struct {
	t          *testing.T
	mu         sync.Mutex
	now        time.Time
	store      *memory.Store
	checklists *memory.ChecklistStore
	feed       *app.Feed
	gateway    *fakeGateway
	deps       app.Deps

	progress     *app.ProgressService
	quizzes      *app.QuizService
	achievements *app.AchievementService
	unlocks      *app.UnlockResolver
	reconciler   *app.Reconciler
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvWithCatalog(t, testCatalog())
}

func newTestEnvWithCatalog(t *testing.T, catalog domain.Catalog) *testEnv {
	t.Helper()
	env := &testEnv{
		t:          t,
		now:        time.Date(2026, 10, 12, 9, 0, 0, 0, time.UTC),
		store:      memory.NewStore(),
		checklists: memory.NewChecklistStore(),
		feed:       app.NewFeed(),
		gateway:    &fakeGateway{confirmed: map[string]string{}},
	}
	env.deps = app.Deps{
		Store:      env.store,
		Checklists: env.checklists,
		Catalog:    memory.NewCatalogRepository(memory.NewStaticCatalogLoader(catalog), time.Minute),
		Feed:       env.feed,
		Now:        env.clock,
		Location:   time.UTC,
	}
	env.progress = app.NewProgressService(env.deps)
	env.quizzes = app.NewQuizService(env.deps)
	env.achievements = app.NewAchievementService(env.deps)
	env.unlocks = app.NewUnlockResolver(env.deps)
	env.reconciler = app.NewReconciler(env.deps, env.gateway, retry.WithSleep(func(context.Context, time.Duration) error { return nil }))
	return env
}

func (e *testEnv) clock() time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.now
}

func (e *testEnv) advance(d time.Duration) {
	e.mu.Lock()
	e.now = e.now.Add(d)
	e.mu.Unlock()
}

// enrolled creates a learner and syncs a confirmed checkout for them.
func (e *testEnv) enrolled(id string) {
	e.t.Helper()
	ctx := context.Background()
	email := id + "@example.com"
	_, _, err := e.progress.EnsureLearner(ctx, id, email)
	require.NoError(e.t, err)
	e.gateway.confirm("sess-"+id, email)
	_, err = e.reconciler.Reconcile(ctx, "sess-"+id, email)
	require.NoError(e.t, err)
}

func (e *testEnv) learner(id string) domain.Learner {
	e.t.Helper()
	l, err := e.store.Learner(context.Background(), id)
	require.NoError(e.t, err)
	return l
}

type fakeGateway struct {
	mu        sync.Mutex
	confirmed map[string]string
	calls     int
	onCall    func(n int)
}

func (g *fakeGateway) confirm(sessionID, email string) {
	g.mu.Lock()
	g.confirmed[sessionID] = email
	g.mu.Unlock()
}

func (g *fakeGateway) CheckoutSession(_ context.Context, sessionID string) (app.PaymentStatus, error) {
	g.mu.Lock()
	g.calls++
	n, hook := g.calls, g.onCall
	email, ok := g.confirmed[sessionID]
	g.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	return app.PaymentStatus{SessionID: sessionID, Email: email, Confirmed: ok}, nil
}

const (
	quizModule  = "m-quiz"
	nextModule  = "m-next"
	thirdModule = "m-third"
	openModule  = "m-open"
)

func testCatalog() domain.Catalog {
	questions := make([]domain.Question, 0, 5)
	for _, id := range []string{"q1", "q2", "q3", "q4", "q5"} {
		questions = append(questions, domain.Question{
			ID:     id,
			Type:   domain.QuestionMultipleChoice,
			Prompt: "Pick the right one",
			Options: []domain.Option{
				{ID: "right", Correct: true},
				{ID: "wrong"},
			},
			Explanation: "Because.",
			Points:      10,
		})
	}
	return domain.Catalog{
		Modules: []domain.Module{
			{
				ID: quizModule, Slug: "quiz-module", Title: "Quiz Module", Order: 1, XPReward: 50,
				Lessons:   []domain.Lesson{{ID: "ql1", XPReward: 5}, {ID: "ql2", XPReward: 5}},
				Questions: questions,
			},
			{
				ID: nextModule, Slug: "next-module", Title: "Next Module", Order: 2, XPReward: 30, Locked: true,
				UnlockCondition: &domain.UnlockCondition{Type: domain.UnlockModuleComplete, TargetSlug: "quiz-module"},
				Lessons:         []domain.Lesson{{ID: "nl1"}},
			},
			{
				ID: thirdModule, Slug: "third-module", Title: "Third Module", Order: 3, Locked: true,
				UnlockCondition: &domain.UnlockCondition{Type: domain.UnlockModuleComplete, TargetSlug: "next-module"},
				Lessons:         []domain.Lesson{{ID: "tl1"}},
			},
			{
				ID: openModule, Title: "Open Module", Order: 4, XPReward: 20,
				Lessons: []domain.Lesson{{ID: "ol1", XPReward: 10}, {ID: "ol2", XPReward: 10}},
			},
		},
		Days: []domain.Day{
			{Number: 0, Items: []domain.ChecklistItem{{ID: "d0a"}, {ID: "d0b"}}},
			{Number: 1, Items: []domain.ChecklistItem{{ID: "d1a"}}},
			{Number: 2, Items: []domain.ChecklistItem{{ID: "d2a"}}},
			{Number: 7, Items: []domain.ChecklistItem{{ID: "d7a"}}},
		},
	}
}

// answers returns a full submission with the first `correct` questions right.
func answers(correct int) []domain.AnswerSubmission {
	out := make([]domain.AnswerSubmission, 0, 5)
	for i, id := range []string{"q1", "q2", "q3", "q4", "q5"} {
		sel := "wrong"
		if i < correct {
			sel = "right"
		}
		out = append(out, domain.AnswerSubmission{QuestionID: id, Selected: sel})
	}
	return out
}
