package memory

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"time"

	"course-progression-engine/internal/domain"
)

// ChecklistStore is an in-memory implementation of app.ChecklistStore.
type ChecklistStore struct {
	mu    sync.RWMutex
	lists map[string]*checklist
	days  map[string]map[int]struct{}
}

type checklist struct {
	items       map[string]time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

func NewChecklistStore() *ChecklistStore {
	return &ChecklistStore{
		lists: make(map[string]*checklist),
		days:  make(map[string]map[int]struct{}),
	}
}

func checklistKey(learnerID string, day int) string {
	return learnerID + "|" + strconv.Itoa(day)
}

// entryLocked returns the list for (learner, day), creating it. Callers hold mu.
func (s *ChecklistStore) entryLocked(learnerID string, day int) *checklist {
	key := checklistKey(learnerID, day)
	c, ok := s.lists[key]
	if !ok {
		c = &checklist{items: make(map[string]time.Time)}
		s.lists[key] = c
		set, ok := s.days[learnerID]
		if !ok {
			set = make(map[int]struct{})
			s.days[learnerID] = set
		}
		set[day] = struct{}{}
	}
	return c
}

func (s *ChecklistStore) Checklist(_ context.Context, learnerID string, day domain.Day) (domain.ChecklistProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := domain.ChecklistProgress{LearnerID: learnerID, Day: day.Number, CompletedItems: []string{}}
	c, ok := s.lists[checklistKey(learnerID, day.Number)]
	if !ok {
		return out, nil
	}
	ids := make(map[string]struct{}, len(c.items))
	for id := range c.items {
		ids[id] = struct{}{}
	}
	out.CompletedItems = day.Ordered(ids)
	out.StartedAt = copyTime(c.startedAt)
	out.CompletedAt = copyTime(c.completedAt)
	return out, nil
}

func (s *ChecklistStore) SetItem(_ context.Context, learnerID string, day int, itemID string, done bool, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.entryLocked(learnerID, day)
	if done {
		c.items[itemID] = at
	} else {
		delete(c.items, itemID)
	}
	return nil
}

func (s *ChecklistStore) MarkStarted(_ context.Context, learnerID string, day int, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.entryLocked(learnerID, day)
	if c.startedAt == nil {
		c.startedAt = &at
	}
	return nil
}

func (s *ChecklistStore) MarkCompleted(_ context.Context, learnerID string, day int, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := s.entryLocked(learnerID, day)
	if c.completedAt != nil {
		return false, nil
	}
	c.completedAt = &at
	return true, nil
}

func (s *ChecklistStore) Days(_ context.Context, learnerID string) ([]int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]int, 0, len(s.days[learnerID]))
	for d := range s.days[learnerID] {
		out = append(out, d)
	}
	sort.Ints(out)
	return out, nil
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
