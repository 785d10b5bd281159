package app_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"course-progression-engine/internal/achievement"
	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
)

func TestRecordLessonCompleteIsIdempotent(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrolled("u1")

	res, err := env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol1", 12)
	require.NoError(t, err)
	require.False(t, res.AlreadyCompleted)
	require.Equal(t, 10, res.XPGranted)
	require.Equal(t, 50, res.Progress.PercentComplete)
	require.Equal(t, domain.StatusInProgress, res.Progress.Status)
	xp := env.learner("u1").TotalXP

	env.advance(time.Hour)
	res, err = env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol1", 30)
	require.NoError(t, err)
	require.True(t, res.AlreadyCompleted)
	require.Zero(t, res.XPGranted)
	require.Equal(t, xp, env.learner("u1").TotalXP)
	require.Equal(t, 12, res.Progress.TimeSpentMinutes)
	require.Equal(t, env.clock().Add(-time.Hour), res.Progress.CompletedLessons["ol1"], "timestamp not overwritten")
}

func TestLessonsCompleteModuleWithoutQuiz(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrolled("u1")

	_, err := env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol1", 5)
	require.NoError(t, err)
	res, err := env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol2", 5)
	require.NoError(t, err)
	require.True(t, res.ModuleCompleted)
	require.Equal(t, 30, res.XPGranted)
	require.Equal(t, domain.StatusCompleted, res.Progress.Status)
	require.Equal(t, 100, res.Progress.PercentComplete)
	require.Equal(t, 40, env.learner("u1").TotalXP)
}

func TestLessonsAloneDoNotCompleteQuizModule(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrolled("u1")

	_, err := env.progress.RecordLessonComplete(ctx, "u1", quizModule, "ql1", 5)
	require.NoError(t, err)
	res, err := env.progress.RecordLessonComplete(ctx, "u1", quizModule, "ql2", 5)
	require.NoError(t, err)
	require.False(t, res.ModuleCompleted)
	require.Equal(t, 100, res.Progress.PercentComplete)
	require.Equal(t, domain.StatusInProgress, res.Progress.Status)
}

func TestRecordLessonCompleteErrors(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	_, _, err := env.progress.EnsureLearner(ctx, "u1", "u1@example.com")
	require.NoError(t, err)

	_, err = env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol1", 5)
	require.True(t, errors.Is(err, domain.ErrNotEnrolled))

	_, err = env.progress.RecordLessonComplete(ctx, "u1", "m-missing", "ol1", 5)
	require.True(t, errors.Is(err, domain.ErrModuleNotFound))

	_, err = env.progress.RecordLessonComplete(ctx, "u1", openModule, "missing", 5)
	require.True(t, errors.Is(err, domain.ErrLessonNotFound))

	_, err = env.progress.RecordLessonComplete(ctx, "ghost", openModule, "ol1", 5)
	require.True(t, errors.Is(err, domain.ErrLearnerNotFound))

	_, err = env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol1", -1)
	require.True(t, errors.Is(err, domain.ErrInvalidSubmission))
}

func TestToggleChecklistCompletesDayOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrolled("u1")

	res, err := env.progress.ToggleChecklistItem(ctx, "u1", 0, "d0b")
	require.NoError(t, err)
	require.True(t, res.Checked)
	require.Equal(t, 50, res.PercentComplete)
	require.False(t, res.DayCompleted)

	res, err = env.progress.ToggleChecklistItem(ctx, "u1", 0, "d0a")
	require.NoError(t, err)
	require.Equal(t, []string{"d0a", "d0b"}, res.CompletedItems)
	require.Equal(t, 100, res.PercentComplete)
	require.True(t, res.DayCompleted)
	require.Contains(t, res.Achievements, achievement.DayComplete(0))
	completedAt := *res.CompletedAt
	xp := env.learner("u1").TotalXP

	env.advance(time.Hour)
	res, err = env.progress.ToggleChecklistItem(ctx, "u1", 0, "d0a")
	require.NoError(t, err)
	require.False(t, res.Checked)
	require.Equal(t, 50, res.PercentComplete)
	require.NotNil(t, res.CompletedAt, "completion is permanent")
	require.True(t, completedAt.Equal(*res.CompletedAt))

	res, err = env.progress.ToggleChecklistItem(ctx, "u1", 0, "d0a")
	require.NoError(t, err)
	require.Equal(t, 100, res.PercentComplete)
	require.False(t, res.DayCompleted)
	require.Empty(t, res.Achievements)
	require.Equal(t, xp, env.learner("u1").TotalXP)
}

func TestToggleChecklistValidation(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	_, err := env.progress.ToggleChecklistItem(ctx, "u1", 5, "x")
	require.True(t, errors.Is(err, domain.ErrDayNotFound))
	_, err = env.progress.ToggleChecklistItem(ctx, "u1", 0, "x")
	require.True(t, errors.Is(err, domain.ErrItemNotFound))
}

func TestChecklistBeforeLearnerExists(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)

	res, err := env.progress.ToggleChecklistItem(ctx, "pre", 1, "d1a")
	require.NoError(t, err)
	require.True(t, res.DayCompleted)
	require.Empty(t, res.Achievements)

	_, _, err = env.progress.EnsureLearner(ctx, "pre", "pre@example.com")
	require.NoError(t, err)
	check, err := env.achievements.CheckAchievements(ctx, "pre", nil)
	require.NoError(t, err)
	require.Contains(t, check.Unlocked, achievement.DayComplete(1))

	progress, err := env.store.AchievementProgress(ctx, "pre")
	require.NoError(t, err)
	_, ok := progress.Timestamp(achievement.DayCompletedKey(1))
	require.True(t, ok, "completion time copied into timestamps")
}

func TestProgressSummary(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrolled("u1")

	_, err := env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol1", 10)
	require.NoError(t, err)
	env.advance(24 * time.Hour)
	_, err = env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol2", 15)
	require.NoError(t, err)
	env.advance(24 * time.Hour)
	_, err = env.progress.ToggleChecklistItem(ctx, "u1", 1, "d1a")
	require.NoError(t, err)

	s, err := env.progress.GetProgressSummary(ctx, "u1")
	require.NoError(t, err)
	require.Equal(t, 1, s.ModulesCompleted)
	require.Equal(t, 2, s.LessonsCompleted)
	require.Equal(t, 6, s.TotalLessons)
	require.Equal(t, 33, s.OverallProgressPercent)
	require.Equal(t, 25, s.TotalTimeMinutes)
	// day-1-complete and perfectionist
	require.Equal(t, 2, s.BadgesEarned)
	require.Equal(t, 3, s.CurrentStreak)
	require.Equal(t, 3, s.LongestStreak)

	env.advance(72 * time.Hour)
	s, err = env.progress.GetProgressSummary(ctx, "u1")
	require.NoError(t, err)
	require.Zero(t, s.CurrentStreak)
	require.Equal(t, 3, s.LongestStreak)

	_, err = env.progress.GetProgressSummary(ctx, "ghost")
	require.True(t, errors.Is(err, domain.ErrLearnerNotFound))
}

func TestFeedReceivesCommittedEvents(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrolled("u1")

	ch, cancel := env.feed.Subscribe("u1")
	defer cancel()

	_, err := env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol1", 1)
	require.NoError(t, err)

	var types []domain.EventType
	for len(ch) > 0 {
		types = append(types, (<-ch).Type)
	}
	require.Equal(t, []domain.EventType{domain.EventXPGranted, domain.EventLessonCompleted}, types)

	_, err = env.progress.RecordLessonComplete(ctx, "u1", "m-missing", "x", 1)
	require.Error(t, err)
	require.Zero(t, len(ch))
}

func TestConcurrentLessonCompletionGrantsOnce(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	env.enrolled("u1")
	before := env.learner("u1").TotalXP

	const callers = 8
	results := make([]app.LessonResult, callers)
	errs := make([]error, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = env.progress.RecordLessonComplete(ctx, "u1", openModule, "ol1", 5)
		}(i)
	}
	wg.Wait()

	fresh, granted := 0, 0
	for i, res := range results {
		require.NoError(t, errs[i])
		granted += res.XPGranted
		if !res.AlreadyCompleted {
			fresh++
		}
		require.Equal(t, 50, res.Progress.PercentComplete)
		require.Len(t, res.Progress.CompletedLessons, 1)
	}
	require.Equal(t, 1, fresh)
	require.Equal(t, 10, granted)
	require.Equal(t, before+10, env.learner("u1").TotalXP)
}
