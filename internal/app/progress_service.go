package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"course-progression-engine/internal/domain"
)

// ProgressService owns lesson and checklist progress and the summary read.
type ProgressService struct {
	deps Deps
}

func NewProgressService(d Deps) *ProgressService {
	return &ProgressService{deps: d.withDefaults()}
}

// LessonResult is returned by RecordLessonComplete.
type LessonResult struct {
	AlreadyCompleted bool                  `json:"alreadyCompleted"`
	Progress         domain.ModuleProgress `json:"progress"`
	ModuleCompleted  bool                  `json:"moduleCompleted"`
	XPGranted        int                   `json:"xpGranted"`
	Unlocked         []string              `json:"unlocked,omitempty"`
}

// ChecklistResult is returned by ToggleChecklistItem.
type ChecklistResult struct {
	Day             int        `json:"day"`
	ItemID          string     `json:"itemId"`
	Checked         bool       `json:"checked"`
	CompletedItems  []string   `json:"completedItems"`
	PercentComplete int        `json:"percentComplete"`
	CompletedAt     *time.Time `json:"completedAt,omitempty"`
	// DayCompleted is true only for the toggle that first reached 100%.
	DayCompleted bool     `json:"dayCompleted"`
	Achievements []string `json:"achievements,omitempty"`
	XPGranted    int      `json:"xpGranted"`
}

// Summary aggregates a learner's progress.
type Summary struct {
	LearnerID              string `json:"learnerId"`
	TotalXP                int    `json:"totalXp"`
	ModulesCompleted       int    `json:"modulesCompleted"`
	LessonsCompleted       int    `json:"lessonsCompleted"`
	TotalLessons           int    `json:"totalLessons"`
	OverallProgressPercent int    `json:"overallProgressPercent"`
	BadgesEarned           int    `json:"badgesEarned"`
	TotalTimeMinutes       int    `json:"totalTimeMinutes"`
	CurrentStreak          int    `json:"currentStreak"`
	LongestStreak          int    `json:"longestStreak"`
}

// EnsureLearner creates the learner record from an identity event. Repeated
// calls return the existing record.
func (s *ProgressService) EnsureLearner(ctx context.Context, learnerID, email string) (domain.Learner, bool, error) {
	learnerID = strings.TrimSpace(learnerID)
	if learnerID == "" {
		return domain.Learner{}, false, fmt.Errorf("%w: learner id required", domain.ErrInvalidSubmission)
	}
	learner, created, err := s.deps.Store.CreateLearner(ctx, domain.Learner{
		ID:        learnerID,
		Email:     strings.ToLower(strings.TrimSpace(email)),
		CreatedAt: s.deps.Now(),
	})
	if err != nil {
		return domain.Learner{}, false, err
	}
	if created {
		s.deps.Logger.Info("learner created", "learner_id", learnerID, "email", learner.Email)
	}
	return learner, created, nil
}

// RecordLessonComplete adds lessonID to the module's completed set. A repeat is
// reported as AlreadyCompleted and changes nothing.
func (s *ProgressService) RecordLessonComplete(ctx context.Context, learnerID, moduleID, lessonID string, timeSpentMinutes int) (LessonResult, error) {
	if timeSpentMinutes < 0 {
		return LessonResult{}, fmt.Errorf("%w: negative time spent", domain.ErrInvalidSubmission)
	}
	catalog, err := s.deps.Catalog.Catalog(ctx)
	if err != nil {
		return LessonResult{}, err
	}
	module, err := catalog.Module(moduleID)
	if err != nil {
		return LessonResult{}, err
	}
	lesson, ok := module.Lesson(lessonID)
	if !ok {
		return LessonResult{}, domain.ErrLessonNotFound
	}

	var result LessonResult
	err = inTx(ctx, s.deps, learnerID, func(_ context.Context, tx Tx, rec *recorder) error {
		result = LessonResult{}
		if _, err := accessible(tx, module.ID); err != nil {
			return err
		}
		mp, err := tx.ModuleProgress(module.ID)
		if err != nil {
			return err
		}
		if mp.HasLesson(lesson.ID) {
			result.AlreadyCompleted = true
			result.Progress = mp
			return nil
		}

		mp.CompletedLessons[lesson.ID] = rec.at
		mp.TimeSpentMinutes += timeSpentMinutes
		mp.Recompute(len(module.Lessons))

		xp, err := grantXP(tx, rec, lesson.XPReward, reasonLesson(module.ID, lesson.ID))
		if err != nil {
			return err
		}
		result.XPGranted += xp
		rec.emit(domain.EventLessonCompleted, map[string]any{"moduleId": module.ID, "lessonId": lesson.ID, "percentComplete": mp.PercentComplete})

		// Quiz-gated modules complete on the first pass instead.
		if !mp.Completed() && !module.HasQuiz() && mp.PercentComplete == 100 {
			mp.MarkCompleted(rec.at)
			result.ModuleCompleted = true
			xp, err := grantXP(tx, rec, module.XPReward, reasonModule(module.ID))
			if err != nil {
				return err
			}
			result.XPGranted += xp
			rec.emit(domain.EventModuleCompleted, map[string]string{"moduleId": module.ID, "slug": module.Slug})
			rec.log.Info("module completed", "module_id", module.ID)

			result.Unlocked, err = resolveUnlocks(tx, rec, catalog, module.Slug)
			if err != nil {
				return err
			}
		}
		result.Progress = mp
		return tx.SaveModuleProgress(mp)
	})
	return result, err
}

// ToggleChecklistItem flips one checklist item. Toggling grants no XP itself;
// the first time a day reaches 100% its completion time is fixed and badges
// are re-checked for learners that already exist.
func (s *ProgressService) ToggleChecklistItem(ctx context.Context, learnerID string, dayNumber int, itemID string) (ChecklistResult, error) {
	if strings.TrimSpace(learnerID) == "" {
		return ChecklistResult{}, domain.ErrLearnerNotFound
	}
	catalog, err := s.deps.Catalog.Catalog(ctx)
	if err != nil {
		return ChecklistResult{}, err
	}
	day, err := catalog.Day(dayNumber)
	if err != nil {
		return ChecklistResult{}, err
	}
	if !day.HasItem(itemID) {
		return ChecklistResult{}, domain.ErrItemNotFound
	}

	now := s.deps.Now()
	current, err := s.deps.Checklists.Checklist(ctx, learnerID, day)
	if err != nil {
		return ChecklistResult{}, fmt.Errorf("load checklist: %w", err)
	}
	checked := !current.Has(itemID)
	if err := s.deps.Checklists.MarkStarted(ctx, learnerID, day.Number, now); err != nil {
		return ChecklistResult{}, fmt.Errorf("mark started: %w", err)
	}
	if err := s.deps.Checklists.SetItem(ctx, learnerID, day.Number, itemID, checked, now); err != nil {
		return ChecklistResult{}, fmt.Errorf("set item: %w", err)
	}

	updated, err := s.deps.Checklists.Checklist(ctx, learnerID, day)
	if err != nil {
		return ChecklistResult{}, fmt.Errorf("load checklist: %w", err)
	}
	result := ChecklistResult{
		Day:             day.Number,
		ItemID:          itemID,
		Checked:         checked,
		CompletedItems:  updated.CompletedItems,
		PercentComplete: domain.Percent(len(updated.CompletedItems), len(day.Items)),
		CompletedAt:     updated.CompletedAt,
	}

	if result.PercentComplete == 100 && updated.CompletedAt == nil {
		first, err := s.deps.Checklists.MarkCompleted(ctx, learnerID, day.Number, now)
		if err != nil {
			return ChecklistResult{}, fmt.Errorf("mark completed: %w", err)
		}
		if first {
			t := now
			result.CompletedAt = &t
			result.DayCompleted = true
			s.deps.Logger.Info("checklist day completed", "learner_id", learnerID, "day", day.Number)
		}
	}

	s.deps.Feed.Publish(domain.Event{Type: domain.EventChecklistUpdated, LearnerID: learnerID, At: now, Payload: result})
	if !result.DayCompleted {
		return result, nil
	}
	s.deps.Feed.Publish(domain.Event{Type: domain.EventDayCompleted, LearnerID: learnerID, At: now, Payload: map[string]int{"day": day.Number}})

	err = inTx(ctx, s.deps, learnerID, func(ctx context.Context, tx Tx, rec *recorder) error {
		if _, err := tx.Learner(); err != nil {
			return err
		}
		progress, err := tx.AchievementProgress()
		if err != nil {
			return err
		}
		current := day.Number
		ids, xp, dirty, err := recheckAchievements(ctx, s.deps, tx, rec, &progress, &current)
		if err != nil {
			return err
		}
		result.Achievements, result.XPGranted = ids, xp
		if !dirty {
			return nil
		}
		return tx.SaveAchievementProgress(progress)
	})
	if errors.Is(err, domain.ErrLearnerNotFound) {
		// Preview days are open before the learner record exists; badges are
		// picked up by the next re-check.
		return result, nil
	}
	return result, err
}

// GetProgressSummary aggregates modules, lessons, badges and streaks.
func (s *ProgressService) GetProgressSummary(ctx context.Context, learnerID string) (Summary, error) {
	learner, err := s.deps.Store.Learner(ctx, learnerID)
	if err != nil {
		return Summary{}, err
	}
	catalog, err := s.deps.Catalog.Catalog(ctx)
	if err != nil {
		return Summary{}, err
	}
	modules, err := s.deps.Store.ListModuleProgress(ctx, learnerID)
	if err != nil {
		return Summary{}, err
	}
	achievements, err := s.deps.Store.AchievementProgress(ctx, learnerID)
	if err != nil {
		return Summary{}, err
	}

	summary := Summary{
		LearnerID:    learner.ID,
		TotalXP:      learner.TotalXP,
		TotalLessons: catalog.TotalLessons(),
		BadgesEarned: len(achievements.Unlocked),
	}
	var activity []time.Time
	for _, mp := range modules {
		if mp.Completed() {
			summary.ModulesCompleted++
		}
		summary.LessonsCompleted += len(mp.CompletedLessons)
		summary.TotalTimeMinutes += mp.TimeSpentMinutes
		for _, at := range mp.CompletedLessons {
			activity = append(activity, at)
		}
	}
	summary.OverallProgressPercent = domain.Percent(summary.LessonsCompleted, summary.TotalLessons)

	if s.deps.Checklists != nil {
		days, err := s.deps.Checklists.Days(ctx, learnerID)
		if err != nil {
			return Summary{}, fmt.Errorf("list checklist days: %w", err)
		}
		for _, n := range days {
			day, err := catalog.Day(n)
			if err != nil {
				continue
			}
			cp, err := s.deps.Checklists.Checklist(ctx, learnerID, day)
			if err != nil {
				return Summary{}, fmt.Errorf("load checklist day %d: %w", n, err)
			}
			if cp.CompletedAt != nil {
				activity = append(activity, *cp.CompletedAt)
			}
		}
	}
	summary.CurrentStreak, summary.LongestStreak = streaks(activity, s.deps.Now(), s.deps.Location)
	return summary, nil
}
