package app

import (
	"context"
	"time"

	"course-progression-engine/internal/domain"
	"course-progression-engine/internal/logger"
)

// Deps bundles the collaborators shared by every service.
type Deps struct {
	Store      Store
	Checklists ChecklistStore
	Catalog    CatalogRepository
	Feed       *Feed
	Logger     *logger.Logger
	// Now is the wall clock; tests pin it.
	Now func() time.Time
	// Location defines calendar days for streaks and hour-of-day badges.
	Location *time.Location
}

func (d Deps) withDefaults() Deps {
	if d.Logger == nil {
		d.Logger = logger.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.UTC
	}
	return d
}

// recorder collects the events of one transaction; they are published only
// after commit.
type recorder struct {
	learnerID string
	at        time.Time
	log       *logger.Logger
	events    []domain.Event
}

func newRecorder(d Deps, learnerID string) *recorder {
	return &recorder{
		learnerID: learnerID,
		at:        d.Now(),
		log:       d.Logger.With("learner_id", learnerID),
	}
}

func (r *recorder) emit(t domain.EventType, payload any) {
	r.events = append(r.events, domain.Event{Type: t, LearnerID: r.learnerID, At: r.at, Payload: payload})
}

// reset drops events from an aborted attempt.
func (r *recorder) reset() {
	r.events = r.events[:0]
}

func (r *recorder) publish(feed *Feed) {
	feed.Publish(r.events...)
}

// inTx runs fn in the learner transaction and publishes its events on success.
func inTx(ctx context.Context, d Deps, learnerID string, fn func(ctx context.Context, tx Tx, rec *recorder) error) error {
	rec := newRecorder(d, learnerID)
	err := d.Store.InTx(ctx, learnerID, func(ctx context.Context, tx Tx) error {
		rec.reset()
		return fn(ctx, tx, rec)
	})
	if err != nil {
		return err
	}
	rec.publish(d.Feed)
	return nil
}
