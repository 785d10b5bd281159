package app

import (
	"sync"

	"course-progression-engine/internal/domain"
)

const feedBuffer = 16

// Feed fans committed learner events out to subscribers.
type Feed struct {
	mu   sync.RWMutex
	subs map[string]map[chan domain.Event]struct{}
}

func NewFeed() *Feed {
	return &Feed{subs: make(map[string]map[chan domain.Event]struct{})}
}

// Subscribe returns a channel of events for learnerID. The caller must invoke
// the returned cancel function to avoid leaks.
func (f *Feed) Subscribe(learnerID string) (<-chan domain.Event, func()) {
	ch := make(chan domain.Event, feedBuffer)

	f.mu.Lock()
	set, ok := f.subs[learnerID]
	if !ok {
		set = make(map[chan domain.Event]struct{})
		f.subs[learnerID] = set
	}
	set[ch] = struct{}{}
	f.mu.Unlock()

	cancel := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		set, ok := f.subs[learnerID]
		if !ok {
			return
		}
		if _, ok := set[ch]; ok {
			delete(set, ch)
			close(ch)
		}
		if len(set) == 0 {
			delete(f.subs, learnerID)
		}
	}
	return ch, cancel
}

// Publish delivers events in order. A full subscriber loses its oldest event
// rather than blocking the publisher.
func (f *Feed) Publish(events ...domain.Event) {
	if f == nil {
		return
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for _, ev := range events {
		for ch := range f.subs[ev.LearnerID] {
			select {
			case ch <- ev:
			default:
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- ev:
				default:
				}
			}
		}
	}
}
