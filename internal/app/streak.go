package app

import (
	"sort"
	"time"
)

// streaks counts runs of consecutive calendar days (in loc) with activity. A
// gap of more than one day breaks a run. The current streak only counts if its
// last day is today or yesterday.
func streaks(activity []time.Time, now time.Time, loc *time.Location) (current, longest int) {
	if len(activity) == 0 {
		return 0, 0
	}
	seen := make(map[int]struct{}, len(activity))
	days := make([]int, 0, len(activity))
	for _, t := range activity {
		d := dayNumber(t, loc)
		if _, ok := seen[d]; ok {
			continue
		}
		seen[d] = struct{}{}
		days = append(days, d)
	}
	sort.Ints(days)

	run := 1
	longest = 1
	for i := 1; i < len(days); i++ {
		if days[i]-days[i-1] == 1 {
			run++
		} else {
			run = 1
		}
		if run > longest {
			longest = run
		}
	}

	today := dayNumber(now, loc)
	if last := days[len(days)-1]; last == today || last == today-1 {
		current = run
	}
	return current, longest
}

// dayNumber maps t to a count of civil days since the epoch in loc.
func dayNumber(t time.Time, loc *time.Location) int {
	y, m, d := t.In(loc).Date()
	return int(time.Date(y, m, d, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}
