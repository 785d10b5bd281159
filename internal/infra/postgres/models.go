package postgres

import (
	"time"

	"github.com/uptrace/bun"

	"course-progression-engine/internal/domain"
)

type learnerRow struct {
	bun.BaseModel `bun:"table:learners"`

	ID         string     `bun:"id,pk"`
	Email      string     `bun:"email,nullzero"`
	TotalXP    int        `bun:"total_xp,notnull"`
	EnrolledAt *time.Time `bun:"enrolled_at"`
	CreatedAt  time.Time  `bun:"created_at,notnull"`
}

func (r learnerRow) toDomain() domain.Learner {
	return domain.Learner{ID: r.ID, Email: r.Email, TotalXP: r.TotalXP, EnrolledAt: r.EnrolledAt, CreatedAt: r.CreatedAt}
}

type moduleProgressRow struct {
	bun.BaseModel `bun:"table:module_progress"`

	LearnerID        string               `bun:"learner_id,pk"`
	ModuleID         string               `bun:"module_id,pk"`
	Status           string               `bun:"status,notnull"`
	PercentComplete  int                  `bun:"percent_complete,notnull"`
	CompletedLessons map[string]time.Time `bun:"completed_lessons,type:jsonb,notnull"`
	TimeSpentMinutes int                  `bun:"time_spent_minutes,notnull"`
	CompletedAt      *time.Time           `bun:"completed_at"`
	UpdatedAt        time.Time            `bun:"updated_at,notnull"`
}

func newModuleProgressRow(p domain.ModuleProgress, now time.Time) *moduleProgressRow {
	lessons := p.CompletedLessons
	if lessons == nil {
		lessons = map[string]time.Time{}
	}
	return &moduleProgressRow{
		LearnerID:        p.LearnerID,
		ModuleID:         p.ModuleID,
		Status:           string(p.Status),
		PercentComplete:  p.PercentComplete,
		CompletedLessons: lessons,
		TimeSpentMinutes: p.TimeSpentMinutes,
		CompletedAt:      p.CompletedAt,
		UpdatedAt:        now,
	}
}

func (r moduleProgressRow) toDomain() domain.ModuleProgress {
	p := domain.ModuleProgress{
		LearnerID:        r.LearnerID,
		ModuleID:         r.ModuleID,
		Status:           domain.ModuleStatus(r.Status),
		PercentComplete:  r.PercentComplete,
		CompletedLessons: r.CompletedLessons,
		TimeSpentMinutes: r.TimeSpentMinutes,
		CompletedAt:      r.CompletedAt,
	}
	if p.CompletedLessons == nil {
		p.CompletedLessons = make(map[string]time.Time)
	}
	return p
}

type attemptRow struct {
	bun.BaseModel `bun:"table:quiz_attempts"`

	ID            string                 `bun:"id,pk"`
	LearnerID     string                 `bun:"learner_id,notnull"`
	ModuleID      string                 `bun:"module_id,notnull"`
	AttemptNumber int                    `bun:"attempt_number,notnull"`
	Answers       []domain.AttemptAnswer `bun:"answers,type:jsonb,notnull"`
	Score         int                    `bun:"score,notnull"`
	Passed        bool                   `bun:"passed,notnull"`
	IsRetake      bool                   `bun:"is_retake,notnull"`
	StartedAt     time.Time              `bun:"started_at,notnull"`
	CompletedAt   time.Time              `bun:"completed_at,notnull"`
}

func (r attemptRow) toDomain() domain.QuizAttempt {
	return domain.QuizAttempt{
		ID:            r.ID,
		LearnerID:     r.LearnerID,
		ModuleID:      r.ModuleID,
		AttemptNumber: r.AttemptNumber,
		Answers:       r.Answers,
		Score:         r.Score,
		Passed:        r.Passed,
		IsRetake:      r.IsRetake,
		StartedAt:     r.StartedAt,
		CompletedAt:   r.CompletedAt,
	}
}

type achievementRow struct {
	bun.BaseModel `bun:"table:achievement_progress"`

	LearnerID string                     `bun:"learner_id,pk"`
	Data      domain.AchievementProgress `bun:"data,type:jsonb,notnull"`
	UpdatedAt time.Time                  `bun:"updated_at,notnull"`
}

type unlockRow struct {
	bun.BaseModel `bun:"table:module_unlocks"`

	LearnerID  string    `bun:"learner_id,pk"`
	ModuleID   string    `bun:"module_id,pk"`
	Reason     string    `bun:"reason,notnull"`
	UnlockedAt time.Time `bun:"unlocked_at,notnull"`
}

type enrollmentRow struct {
	bun.BaseModel `bun:"table:enrollments,alias:enrollment"`

	ID        string     `bun:"id,pk"`
	SessionID string     `bun:"session_id,notnull,unique"`
	Email     string     `bun:"email"`
	LearnerID string     `bun:"learner_id,nullzero"`
	State     string     `bun:"state,notnull"`
	Attempts  int        `bun:"attempts,notnull"`
	LastError string     `bun:"last_error"`
	CreatedAt time.Time  `bun:"created_at,notnull"`
	UpdatedAt time.Time  `bun:"updated_at,notnull"`
	SyncedAt  *time.Time `bun:"synced_at"`
}

func newEnrollmentRow(e domain.Enrollment) *enrollmentRow {
	return &enrollmentRow{
		ID:        e.ID,
		SessionID: e.SessionID,
		Email:     e.Email,
		LearnerID: e.LearnerID,
		State:     string(e.State),
		Attempts:  e.Attempts,
		LastError: e.LastError,
		CreatedAt: e.CreatedAt,
		UpdatedAt: e.UpdatedAt,
		SyncedAt:  e.SyncedAt,
	}
}

func (r enrollmentRow) toDomain() domain.Enrollment {
	return domain.Enrollment{
		ID:        r.ID,
		SessionID: r.SessionID,
		Email:     r.Email,
		LearnerID: r.LearnerID,
		State:     domain.EnrollmentState(r.State),
		Attempts:  r.Attempts,
		LastError: r.LastError,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
		SyncedAt:  r.SyncedAt,
	}
}
