// Package achievement evaluates the fixed badge rule set. Everything here is
// pure: callers persist results and grant rewards.
package achievement

import (
	"fmt"
	"sort"
	"time"

	"course-progression-engine/internal/domain"
)

const (
	blitzWindow      = 12 * time.Hour
	earlyBirdHour    = 8
	nightOwlHour     = 22
	verboseWords     = 250
	speedReaderLimit = 30 * time.Second
)

// Word-count fields inspected by the verbose rule.
const (
	FieldWhatToBuild  = "whatToBuild"
	FieldProjectBrief = "projectBrief"
)

// DayStartedKey, DayAccessedKey and DayCompletedKey name entries in the
// timestamps bag.
func DayStartedKey(day int) string   { return fmt.Sprintf("day%dStartedAt", day) }
func DayAccessedKey(day int) string  { return fmt.Sprintf("day%dAccessedAt", day) }
func DayCompletedKey(day int) string { return fmt.Sprintf("day%dCompletedAt", day) }

// DayStatus is the per-day snapshot passed to Check.
type DayStatus struct {
	CompletedAt       *time.Time
	ChecklistComplete bool
}

// CheckContext is assembled fresh by the caller before every check.
type CheckContext struct {
	CompletedDays []int
	DayProgress   map[int]DayStatus
	CurrentDay    *int
	// Location used for hour-of-day rules. Nil keeps each timestamp's own zone.
	Location *time.Location
}

type predicate func(p domain.AchievementProgress, c CheckContext) bool

var rules = buildRules()

func buildRules() map[string]predicate {
	r := map[string]predicate{
		BlitzMode:   blitzMode,
		SpeedRunner: speedRunner,
		EarlyBird: func(_ domain.AchievementProgress, c CheckContext) bool {
			return anyCompletionHour(c, func(h int) bool { return h < earlyBirdHour })
		},
		NightOwl: func(_ domain.AchievementProgress, c CheckContext) bool {
			return anyCompletionHour(c, func(h int) bool { return h >= nightOwlHour })
		},
		Streak3:       func(_ domain.AchievementProgress, c CheckContext) bool { return hasRun(c.CompletedDays, 3) },
		Perfectionist: perfectionist,
		Verbose:       verbose,
		SpeedReader:   speedReader,
		Revisionist:   revisionist,
	}
	for n := FirstDay; n <= LastDay; n++ {
		day := n
		r[DayComplete(day)] = func(_ domain.AchievementProgress, c CheckContext) bool {
			for _, d := range c.CompletedDays {
				if d == day {
					return true
				}
			}
			return false
		}
	}
	return r
}

// Check returns, in catalog order, the IDs not yet unlocked in progress whose
// predicate now holds. Identical inputs always yield identical output.
func Check(progress domain.AchievementProgress, ctx CheckContext) []string {
	var out []string
	for _, def := range catalog {
		if progress.IsUnlocked(def.ID) {
			continue
		}
		if rule, ok := rules[def.ID]; ok && rule(progress, ctx) {
			out = append(out, def.ID)
		}
	}
	return out
}

func within(p domain.AchievementProgress, fromKey, toKey string, window time.Duration) bool {
	from, ok := p.Timestamp(fromKey)
	if !ok {
		return false
	}
	to, ok := p.Timestamp(toKey)
	if !ok {
		return false
	}
	return to.Sub(from) < window
}

func blitzMode(p domain.AchievementProgress, _ CheckContext) bool {
	return within(p, DayStartedKey(0), DayAccessedKey(2), blitzWindow)
}

func speedRunner(p domain.AchievementProgress, _ CheckContext) bool {
	return within(p, DayStartedKey(0), DayCompletedKey(7), blitzWindow)
}

func anyCompletionHour(c CheckContext, match func(hour int) bool) bool {
	for _, st := range c.DayProgress {
		if st.CompletedAt == nil {
			continue
		}
		t := *st.CompletedAt
		if c.Location != nil {
			t = t.In(c.Location)
		}
		if match(t.Hour()) {
			return true
		}
	}
	return false
}

// hasRun reports whether days contains n mutually consecutive integers.
func hasRun(days []int, n int) bool {
	if len(days) < n {
		return false
	}
	sorted := append([]int(nil), days...)
	sort.Ints(sorted)
	run := 1
	for i := 1; i < len(sorted); i++ {
		switch sorted[i] - sorted[i-1] {
		case 0:
			continue
		case 1:
			run++
		default:
			run = 1
		}
		if run >= n {
			return true
		}
	}
	return n <= 1
}

func perfectionist(_ domain.AchievementProgress, c CheckContext) bool {
	completed := 0
	for _, st := range c.DayProgress {
		if st.CompletedAt == nil {
			continue
		}
		completed++
		if !st.ChecklistComplete {
			return false
		}
	}
	return completed > 0
}

func verbose(p domain.AchievementProgress, _ CheckContext) bool {
	words := p.WordCounts[FieldWhatToBuild]
	if brief := p.WordCounts[FieldProjectBrief]; brief > words {
		words = brief
	}
	return words >= verboseWords
}

func speedReader(p domain.AchievementProgress, _ CheckContext) bool {
	for _, d := range p.ScrollTimes {
		if d > 0 && d < speedReaderLimit {
			return true
		}
	}
	return false
}

func revisionist(p domain.AchievementProgress, _ CheckContext) bool {
	for _, n := range p.FormEdits {
		if n > 0 {
			return true
		}
	}
	return false
}
