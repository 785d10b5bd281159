package app

import (
	"context"
	"time"

	"course-progression-engine/internal/domain"
)

// Store is the durable progress store. Every mutation goes through InTx, which
// serializes writers per learner; different learners never contend.
type Store interface {
	// CreateLearner inserts the learner if absent. created is false when the
	// record already existed.
	CreateLearner(ctx context.Context, learner domain.Learner) (domain.Learner, bool, error)
	Learner(ctx context.Context, learnerID string) (domain.Learner, error)
	FindLearnerByEmail(ctx context.Context, email string) (domain.Learner, error)

	// InTx runs fn with exclusive write access to the learner's records. Writes
	// made through tx are committed together when fn returns nil and discarded
	// otherwise.
	InTx(ctx context.Context, learnerID string, fn func(ctx context.Context, tx Tx) error) error

	// Read helpers used outside transactions.
	ListModuleProgress(ctx context.Context, learnerID string) ([]domain.ModuleProgress, error)
	AchievementProgress(ctx context.Context, learnerID string) (domain.AchievementProgress, error)
	ListAttempts(ctx context.Context, learnerID, moduleID string) ([]domain.QuizAttempt, error)

	Enrollment(ctx context.Context, sessionID string) (domain.Enrollment, error)
	SaveEnrollment(ctx context.Context, e domain.Enrollment) error
	PendingEnrollments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Enrollment, error)
}

// Tx is bound to a single learner.
type Tx interface {
	Learner() (domain.Learner, error)
	AddXP(amount int) (int, error)
	MarkEnrolled(at time.Time) (bool, error)

	// ModuleProgress returns the not-started record when none is stored.
	ModuleProgress(moduleID string) (domain.ModuleProgress, error)
	SaveModuleProgress(p domain.ModuleProgress) error

	CountAttempts(moduleID string) (int, error)
	AppendAttempt(a domain.QuizAttempt) error
	ListAttempts(moduleID string) ([]domain.QuizAttempt, error)

	AchievementProgress() (domain.AchievementProgress, error)
	SaveAchievementProgress(p domain.AchievementProgress) error

	HasUnlock(moduleID string) (bool, error)
	// CreateUnlock is write-once; created is false when the pair already existed.
	CreateUnlock(u domain.ModuleUnlock) (bool, error)

	SaveEnrollment(e domain.Enrollment) error
}

// ChecklistStore persists preview-day checklists. Items are independent keys so
// concurrent toggles of different items never lose updates.
type ChecklistStore interface {
	Checklist(ctx context.Context, learnerID string, day domain.Day) (domain.ChecklistProgress, error)
	SetItem(ctx context.Context, learnerID string, day int, itemID string, done bool, at time.Time) error
	// MarkStarted records StartedAt only if unset.
	MarkStarted(ctx context.Context, learnerID string, day int, at time.Time) error
	// MarkCompleted records CompletedAt only if unset and reports whether this call set it.
	MarkCompleted(ctx context.Context, learnerID string, day int, at time.Time) (bool, error)
	// Days lists the day numbers the learner has touched.
	Days(ctx context.Context, learnerID string) ([]int, error)
}

// CatalogRepository serves the current content catalog, typically cached.
type CatalogRepository interface {
	Catalog(ctx context.Context) (*domain.Catalog, error)
}

// CatalogLoader fetches the catalog from its backing source (file, database).
// Returned catalogs are normalized and must be treated as read-only.
type CatalogLoader interface {
	LoadCatalog(ctx context.Context) (*domain.Catalog, error)
}
