package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"course-progression-engine/internal/achievement"
	"course-progression-engine/internal/domain"
)

// AchievementService records learner telemetry and keeps badge state current.
type AchievementService struct {
	deps Deps
}

func NewAchievementService(d Deps) *AchievementService {
	return &AchievementService{deps: d.withDefaults()}
}

// TelemetryResult reports what a telemetry write changed.
type TelemetryResult struct {
	Changed   bool     `json:"changed"`
	Unlocked  []string `json:"unlocked,omitempty"`
	XPGranted int      `json:"xpGranted"`
}

// AchievementView is a read-path entry; locked secrets are redacted.
type AchievementView struct {
	achievement.Definition
	Unlocked   bool       `json:"unlocked"`
	UnlockedAt *time.Time `json:"unlockedAt,omitempty"`
}

// RecordDayStart stores day{N}StartedAt once.
func (s *AchievementService) RecordDayStart(ctx context.Context, learnerID string, day int) (TelemetryResult, error) {
	return s.recordDayTimestamp(ctx, learnerID, day, achievement.DayStartedKey(day))
}

// RecordDayAccess stores day{N}AccessedAt once.
func (s *AchievementService) RecordDayAccess(ctx context.Context, learnerID string, day int) (TelemetryResult, error) {
	return s.recordDayTimestamp(ctx, learnerID, day, achievement.DayAccessedKey(day))
}

func (s *AchievementService) recordDayTimestamp(ctx context.Context, learnerID string, day int, key string) (TelemetryResult, error) {
	if err := s.checkDay(ctx, day); err != nil {
		return TelemetryResult{}, err
	}
	current := day
	return s.mutate(ctx, learnerID, &current, func(p *domain.AchievementProgress, at time.Time) bool {
		return p.SetTimestampOnce(key, at)
	})
}

// RecordWordCount overwrites the current draft length for field.
func (s *AchievementService) RecordWordCount(ctx context.Context, learnerID, field string, words int) (TelemetryResult, error) {
	field = strings.TrimSpace(field)
	if field == "" || words < 0 {
		return TelemetryResult{}, domain.ErrInvalidTelemetry
	}
	return s.mutate(ctx, learnerID, nil, func(p *domain.AchievementProgress, _ time.Time) bool {
		if prev, ok := p.WordCounts[field]; ok && prev == words {
			return false
		}
		p.WordCounts[field] = words
		return true
	})
}

// RecordScrollTime stores the latest time-to-bottom for a day.
func (s *AchievementService) RecordScrollTime(ctx context.Context, learnerID string, day int, elapsed time.Duration) (TelemetryResult, error) {
	if elapsed < 0 {
		return TelemetryResult{}, domain.ErrInvalidTelemetry
	}
	if err := s.checkDay(ctx, day); err != nil {
		return TelemetryResult{}, err
	}
	return s.mutate(ctx, learnerID, nil, func(p *domain.AchievementProgress, _ time.Time) bool {
		if prev, ok := p.ScrollTimes[day]; ok && prev == elapsed {
			return false
		}
		p.ScrollTimes[day] = elapsed
		return true
	})
}

// RecordFormEdit increments the edit counter for field.
func (s *AchievementService) RecordFormEdit(ctx context.Context, learnerID, field string) (TelemetryResult, error) {
	field = strings.TrimSpace(field)
	if field == "" {
		return TelemetryResult{}, domain.ErrInvalidTelemetry
	}
	return s.mutate(ctx, learnerID, nil, func(p *domain.AchievementProgress, _ time.Time) bool {
		p.FormEdits[field]++
		return true
	})
}

// CheckAchievements re-runs the rule set without recording telemetry.
func (s *AchievementService) CheckAchievements(ctx context.Context, learnerID string, currentDay *int) (TelemetryResult, error) {
	return s.mutate(ctx, learnerID, currentDay, nil)
}

// Achievements lists every definition with the learner's unlock state.
func (s *AchievementService) Achievements(ctx context.Context, learnerID string) ([]AchievementView, error) {
	if _, err := s.deps.Store.Learner(ctx, learnerID); err != nil {
		return nil, err
	}
	progress, err := s.deps.Store.AchievementProgress(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	defs := achievement.Definitions()
	views := make([]AchievementView, 0, len(defs))
	for _, def := range defs {
		at, ok := progress.Unlocked[def.ID]
		if !ok {
			views = append(views, AchievementView{Definition: def.Redacted()})
			continue
		}
		t := at
		views = append(views, AchievementView{Definition: def, Unlocked: true, UnlockedAt: &t})
	}
	return views, nil
}

func (s *AchievementService) checkDay(ctx context.Context, day int) error {
	catalog, err := s.deps.Catalog.Catalog(ctx)
	if err != nil {
		return err
	}
	_, err = catalog.Day(day)
	return err
}

// mutate applies fn to the learner's achievement progress and re-checks the
// rule set in the same transaction.
func (s *AchievementService) mutate(ctx context.Context, learnerID string, currentDay *int, fn func(p *domain.AchievementProgress, at time.Time) bool) (TelemetryResult, error) {
	var result TelemetryResult
	err := inTx(ctx, s.deps, learnerID, func(ctx context.Context, tx Tx, rec *recorder) error {
		result = TelemetryResult{}
		if _, err := tx.Learner(); err != nil {
			return err
		}
		progress, err := tx.AchievementProgress()
		if err != nil {
			return err
		}
		if fn != nil {
			result.Changed = fn(&progress, rec.at)
		}
		unlocked, xp, dirty, err := recheckAchievements(ctx, s.deps, tx, rec, &progress, currentDay)
		if err != nil {
			return err
		}
		result.Unlocked, result.XPGranted = unlocked, xp
		if !result.Changed && !dirty {
			return nil
		}
		return tx.SaveAchievementProgress(progress)
	})
	return result, err
}

// recheckAchievements assembles a fresh context, evaluates the rules and
// records newly unlocked IDs into progress, granting each reward once. dirty
// reports whether progress must be saved by the caller.
func recheckAchievements(ctx context.Context, d Deps, tx Tx, rec *recorder, progress *domain.AchievementProgress, currentDay *int) (ids []string, granted int, dirty bool, err error) {
	checkCtx, backfilled, err := buildCheckContext(ctx, d, rec.learnerID, progress, currentDay)
	if err != nil {
		return nil, 0, false, err
	}
	ids = achievement.Check(*progress, checkCtx)
	for _, id := range ids {
		def, _ := achievement.Lookup(id)
		progress.Unlocked[id] = rec.at
		xp, err := grantXP(tx, rec, def.XPReward, reasonAchievement(id))
		if err != nil {
			return nil, 0, false, err
		}
		granted += xp
		rec.emit(domain.EventAchievementUnlocked, def)
		rec.log.Info("achievement unlocked", "achievement", id, "xp", xp)
	}
	return ids, granted, backfilled || len(ids) > 0, nil
}

// buildCheckContext reads checklist state for every touched day. Completion
// times found there are copied into the timestamps bag so time-window rules
// see days finished before the learner record existed.
func buildCheckContext(ctx context.Context, d Deps, learnerID string, progress *domain.AchievementProgress, currentDay *int) (achievement.CheckContext, bool, error) {
	out := achievement.CheckContext{
		DayProgress: make(map[int]achievement.DayStatus),
		CurrentDay:  currentDay,
		Location:    d.Location,
	}
	if d.Checklists == nil {
		return out, false, nil
	}
	catalog, err := d.Catalog.Catalog(ctx)
	if err != nil {
		return out, false, err
	}
	days, err := d.Checklists.Days(ctx, learnerID)
	if err != nil {
		return out, false, fmt.Errorf("list checklist days: %w", err)
	}
	sort.Ints(days)
	backfilled := false
	for _, n := range days {
		day, err := catalog.Day(n)
		if errors.Is(err, domain.ErrDayNotFound) {
			continue
		}
		if err != nil {
			return out, false, err
		}
		cp, err := d.Checklists.Checklist(ctx, learnerID, day)
		if err != nil {
			return out, false, fmt.Errorf("load checklist day %d: %w", n, err)
		}
		status := achievement.DayStatus{
			CompletedAt:       cp.CompletedAt,
			ChecklistComplete: len(day.Items) > 0 && domain.Percent(len(cp.CompletedItems), len(day.Items)) == 100,
		}
		out.DayProgress[n] = status
		if cp.CompletedAt != nil {
			out.CompletedDays = append(out.CompletedDays, n)
			if progress.SetTimestampOnce(achievement.DayCompletedKey(n), *cp.CompletedAt) {
				backfilled = true
			}
		}
	}
	return out, backfilled, nil
}
