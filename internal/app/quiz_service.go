package app

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"course-progression-engine/internal/domain"
)

// QuizService grades module quizzes and applies first-pass rewards.
type QuizService struct {
	deps  Deps
	newID func() string
}

func NewQuizService(d Deps) *QuizService {
	return &QuizService{deps: d.withDefaults(), newID: uuid.NewString}
}

// AnswerFeedback is the stateless single-question check result.
type AnswerFeedback struct {
	QuestionID  string `json:"questionId"`
	IsCorrect   bool   `json:"isCorrect"`
	CorrectID   string `json:"correctId"`
	Explanation string `json:"explanation,omitempty"`
}

// AttemptResult describes a graded submission.
type AttemptResult struct {
	AttemptID      string                 `json:"attemptId"`
	AttemptNumber  int                    `json:"attemptNumber"`
	Score          int                    `json:"score"`
	Passed         bool                   `json:"passed"`
	CorrectCount   int                    `json:"correctCount"`
	TotalQuestions int                    `json:"totalQuestions"`
	PerQuestion    []domain.AttemptAnswer `json:"perQuestion"`
	IsRetake       bool                   `json:"isRetake"`
	XPGranted      int                    `json:"xpGranted"`
	Unlocked       []string               `json:"unlocked,omitempty"`
}

// CheckAnswer evaluates one answer without persisting anything.
func (s *QuizService) CheckAnswer(ctx context.Context, questionID, selected string) (AnswerFeedback, error) {
	catalog, err := s.deps.Catalog.Catalog(ctx)
	if err != nil {
		return AnswerFeedback{}, err
	}
	_, q, err := catalog.Question(questionID)
	if err != nil {
		return AnswerFeedback{}, err
	}
	if !validChoice(q, selected) {
		return AnswerFeedback{}, domain.ErrOptionNotFound
	}
	return AnswerFeedback{
		QuestionID:  q.ID,
		IsCorrect:   q.Matches(selected),
		CorrectID:   q.CorrectID(),
		Explanation: q.Explanation,
	}, nil
}

// SubmitAttempt grades a full submission and appends it to the learner's
// attempts. A first pass completes the module, grants XP and resolves unlocks;
// later passes are recorded as retakes with no reward.
func (s *QuizService) SubmitAttempt(ctx context.Context, learnerID, moduleID string, answers []domain.AnswerSubmission, startedAt time.Time) (AttemptResult, error) {
	catalog, err := s.deps.Catalog.Catalog(ctx)
	if err != nil {
		return AttemptResult{}, err
	}
	module, err := catalog.Module(moduleID)
	if err != nil {
		return AttemptResult{}, err
	}
	graded, score, correct, err := scoreSubmission(module, answers)
	if err != nil {
		return AttemptResult{}, err
	}

	attempt := domain.QuizAttempt{
		ID:          s.newID(),
		LearnerID:   learnerID,
		ModuleID:    module.ID,
		Answers:     graded,
		Score:       score,
		Passed:      score >= domain.PassThreshold,
		StartedAt:   startedAt,
		CompletedAt: s.deps.Now(),
	}
	if attempt.StartedAt.IsZero() || attempt.StartedAt.After(attempt.CompletedAt) {
		attempt.StartedAt = attempt.CompletedAt
	}

	// The attempt commits on its own so a failure in the reward step never
	// loses the append-only record.
	err = inTx(ctx, s.deps, learnerID, func(_ context.Context, tx Tx, rec *recorder) error {
		if _, err := accessible(tx, module.ID); err != nil {
			return err
		}
		n, err := tx.CountAttempts(module.ID)
		if err != nil {
			return err
		}
		mp, err := tx.ModuleProgress(module.ID)
		if err != nil {
			return err
		}
		attempt.AttemptNumber = n + 1
		attempt.IsRetake = mp.Completed()
		if err := tx.AppendAttempt(attempt); err != nil {
			return err
		}
		rec.emit(domain.EventQuizGraded, attempt)
		return nil
	})
	if err != nil {
		return AttemptResult{}, err
	}

	result := AttemptResult{
		AttemptID:      attempt.ID,
		AttemptNumber:  attempt.AttemptNumber,
		Score:          attempt.Score,
		Passed:         attempt.Passed,
		CorrectCount:   correct,
		TotalQuestions: len(module.Questions),
		PerQuestion:    graded,
		IsRetake:       attempt.IsRetake,
	}
	s.deps.Logger.Info("quiz graded", "learner_id", learnerID, "module_id", module.ID,
		"attempt", attempt.AttemptNumber, "score", score, "passed", attempt.Passed, "retake", attempt.IsRetake)

	if !attempt.Passed || attempt.IsRetake {
		return result, nil
	}
	pass, err := s.applyFirstPass(ctx, catalog, module, learnerID, func(Tx) (domain.QuizAttempt, error) {
		return attempt, nil
	})
	if err != nil {
		return result, fmt.Errorf("apply first pass: %w", err)
	}
	// A concurrent passing submission completed the module first; the stored
	// attempt keeps IsRetake=false but this result reports it as a retake.
	result.IsRetake = pass.alreadyCompleted
	result.XPGranted, result.Unlocked = pass.granted, pass.unlocked
	return result, nil
}

// ReapplyPass re-runs the first-pass transition from the learner's latest
// passing attempt. It is safe to call repeatedly.
func (s *QuizService) ReapplyPass(ctx context.Context, learnerID, moduleID string) (AttemptResult, error) {
	catalog, err := s.deps.Catalog.Catalog(ctx)
	if err != nil {
		return AttemptResult{}, err
	}
	module, err := catalog.Module(moduleID)
	if err != nil {
		return AttemptResult{}, err
	}
	pass, err := s.applyFirstPass(ctx, catalog, module, learnerID, func(tx Tx) (domain.QuizAttempt, error) {
		attempts, err := tx.ListAttempts(module.ID)
		if err != nil {
			return domain.QuizAttempt{}, err
		}
		for i := len(attempts) - 1; i >= 0; i-- {
			if attempts[i].Passed {
				return attempts[i], nil
			}
		}
		return domain.QuizAttempt{}, domain.ErrAttemptNotFound
	})
	if err != nil {
		return AttemptResult{}, err
	}
	latest := pass.attempt
	correct := 0
	for _, a := range latest.Answers {
		if a.Correct {
			correct++
		}
	}
	return AttemptResult{
		AttemptID:      latest.ID,
		AttemptNumber:  latest.AttemptNumber,
		Score:          latest.Score,
		Passed:         true,
		CorrectCount:   correct,
		TotalQuestions: len(module.Questions),
		PerQuestion:    latest.Answers,
		IsRetake:       latest.IsRetake,
		XPGranted:      pass.granted,
		Unlocked:       pass.unlocked,
	}, nil
}

// Attempts returns the learner's attempts for a module, oldest first.
func (s *QuizService) Attempts(ctx context.Context, learnerID, moduleID string) ([]domain.QuizAttempt, error) {
	catalog, err := s.deps.Catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := catalog.Module(moduleID); err != nil {
		return nil, err
	}
	if _, err := s.deps.Store.Learner(ctx, learnerID); err != nil {
		return nil, err
	}
	return s.deps.Store.ListAttempts(ctx, learnerID, moduleID)
}

// firstPass is the outcome of the reward transaction.
type firstPass struct {
	attempt  domain.QuizAttempt
	granted  int
	unlocked []string
	// alreadyCompleted is set when another pass completed the module first.
	alreadyCompleted bool
}

// applyFirstPass completes the module and pays out exactly once. pick selects
// the passing attempt inside the transaction. A module that is already
// completed is left untouched.
func (s *QuizService) applyFirstPass(ctx context.Context, catalog *domain.Catalog, module domain.Module, learnerID string, pick func(tx Tx) (domain.QuizAttempt, error)) (firstPass, error) {
	var out firstPass
	err := inTx(ctx, s.deps, learnerID, func(_ context.Context, tx Tx, rec *recorder) error {
		out = firstPass{}
		attempt, err := pick(tx)
		if err != nil {
			return err
		}
		out.attempt = attempt
		mp, err := tx.ModuleProgress(module.ID)
		if err != nil {
			return err
		}
		if mp.Completed() {
			out.alreadyCompleted = true
			return nil
		}
		mp.MarkCompleted(rec.at)
		if err := tx.SaveModuleProgress(mp); err != nil {
			return err
		}

		rewards := []reward{
			{QuizPassXP, reasonQuizPass(module.ID)},
			{module.XPReward, reasonModule(module.ID)},
		}
		if attempt.Score == 100 {
			rewards = append(rewards, reward{PerfectScoreXP, reasonPerfect(module.ID)})
		}
		for _, r := range rewards {
			xp, err := grantXP(tx, rec, r.amount, r.reason)
			if err != nil {
				return err
			}
			out.granted += xp
		}
		rec.emit(domain.EventModuleCompleted, map[string]string{"moduleId": module.ID, "slug": module.Slug, "attemptId": attempt.ID})

		out.unlocked, err = resolveUnlocks(tx, rec, catalog, module.Slug)
		return err
	})
	return out, err
}

// scoreSubmission validates a full submission against the module's answer key
// and returns graded answers in question order, the score and correct count.
func scoreSubmission(module domain.Module, answers []domain.AnswerSubmission) ([]domain.AttemptAnswer, int, int, error) {
	if !module.HasQuiz() {
		return nil, 0, 0, domain.ErrNoQuiz
	}
	byQuestion := make(map[string]string, len(answers))
	for _, a := range answers {
		if _, dup := byQuestion[a.QuestionID]; dup {
			return nil, 0, 0, domain.ErrDuplicateAnswer
		}
		byQuestion[a.QuestionID] = a.Selected
	}
	known := make(map[string]struct{}, len(module.Questions))
	for _, q := range module.Questions {
		known[q.ID] = struct{}{}
	}
	for id := range byQuestion {
		if _, ok := known[id]; !ok {
			return nil, 0, 0, domain.ErrQuestionNotFound
		}
	}
	if len(byQuestion) != len(module.Questions) {
		return nil, 0, 0, domain.ErrIncompleteAnswers
	}

	graded := make([]domain.AttemptAnswer, 0, len(module.Questions))
	earned, total, correct := 0, 0, 0
	for _, q := range module.Questions {
		selected := byQuestion[q.ID]
		ok := q.Matches(selected)
		total += q.PointValue()
		if ok {
			earned += q.PointValue()
			correct++
		}
		graded = append(graded, domain.AttemptAnswer{QuestionID: q.ID, Selected: selected, Correct: ok})
	}
	score := int(math.Round(100 * float64(earned) / float64(total)))
	return graded, score, correct, nil
}

func validChoice(q domain.Question, selected string) bool {
	if q.Type == domain.QuestionTrueFalse {
		return selected == "true" || selected == "false"
	}
	for _, opt := range q.Options {
		if opt.ID == selected {
			return true
		}
	}
	return false
}
