package domain

import (
	"math"
	"sort"
	"time"
)

// Learner is the engine-owned record created from the identity sync event.
type Learner struct {
	ID         string     `json:"id"`
	Email      string     `json:"email"`
	TotalXP    int        `json:"totalXp"`
	EnrolledAt *time.Time `json:"enrolledAt,omitempty"`
	CreatedAt  time.Time  `json:"createdAt"`
}

// Enrolled reports whether enrollment has been synced for this learner.
func (l Learner) Enrolled() bool {
	return l.EnrolledAt != nil
}

// ModuleStatus is the lifecycle of a learner's progress through a module.
type ModuleStatus string

const (
	StatusNotStarted ModuleStatus = "not_started"
	StatusInProgress ModuleStatus = "in_progress"
	StatusCompleted  ModuleStatus = "completed"
)

// ModuleProgress tracks one learner in one module.
type ModuleProgress struct {
	LearnerID        string               `json:"learnerId"`
	ModuleID         string               `json:"moduleId"`
	Status           ModuleStatus         `json:"status"`
	PercentComplete  int                  `json:"percentComplete"`
	CompletedLessons map[string]time.Time `json:"completedLessons"`
	TimeSpentMinutes int                  `json:"timeSpentMinutes"`
	CompletedAt      *time.Time           `json:"completedAt,omitempty"`
}

// NewModuleProgress returns the not-started record for a pair.
func NewModuleProgress(learnerID, moduleID string) ModuleProgress {
	return ModuleProgress{
		LearnerID:        learnerID,
		ModuleID:         moduleID,
		Status:           StatusNotStarted,
		CompletedLessons: make(map[string]time.Time),
	}
}

// Completed reports whether the module reached completed status.
func (p ModuleProgress) Completed() bool {
	return p.Status == StatusCompleted
}

// HasLesson reports whether the lesson is in the completed set.
func (p ModuleProgress) HasLesson(lessonID string) bool {
	_, ok := p.CompletedLessons[lessonID]
	return ok
}

// Recompute derives PercentComplete from the completed set. A completed module
// always reports 100.
func (p *ModuleProgress) Recompute(totalLessons int) {
	if p.Status == StatusCompleted {
		p.PercentComplete = 100
		return
	}
	p.PercentComplete = Percent(len(p.CompletedLessons), totalLessons)
	if len(p.CompletedLessons) > 0 && p.Status == StatusNotStarted {
		p.Status = StatusInProgress
	}
}

// MarkCompleted transitions to completed. completedAt is written only once.
func (p *ModuleProgress) MarkCompleted(at time.Time) {
	p.Status = StatusCompleted
	p.PercentComplete = 100
	if p.CompletedAt == nil {
		t := at
		p.CompletedAt = &t
	}
}

// Clone returns a deep copy.
func (p ModuleProgress) Clone() ModuleProgress {
	out := p
	out.CompletedLessons = make(map[string]time.Time, len(p.CompletedLessons))
	for k, v := range p.CompletedLessons {
		out.CompletedLessons[k] = v
	}
	if p.CompletedAt != nil {
		t := *p.CompletedAt
		out.CompletedAt = &t
	}
	return out
}

// Percent computes round(100 * done / total), 0 when total is zero.
func Percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(done) / float64(total)))
}

// ChecklistProgress tracks a learner's preview-day checklist.
type ChecklistProgress struct {
	LearnerID      string     `json:"learnerId"`
	Day            int        `json:"day"`
	CompletedItems []string   `json:"completedItems"`
	StartedAt      *time.Time `json:"startedAt,omitempty"`
	CompletedAt    *time.Time `json:"completedAt,omitempty"`
}

// Has reports whether itemID is checked.
func (c ChecklistProgress) Has(itemID string) bool {
	for _, id := range c.CompletedItems {
		if id == itemID {
			return true
		}
	}
	return false
}

// QuestionType selects how an answer is matched against the key.
type QuestionType string

const (
	QuestionTrueFalse      QuestionType = "true_false"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionScenario       QuestionType = "scenario"
)

// Option represents a possible answer for a choice question.
type Option struct {
	ID      string `json:"id" yaml:"id"`
	Text    string `json:"text" yaml:"text"`
	Correct bool   `json:"correct" yaml:"correct"`
}

// Question is one quiz item with its answer key.
type Question struct {
	ID            string       `json:"id" yaml:"id"`
	Type          QuestionType `json:"type" yaml:"type"`
	Prompt        string       `json:"prompt" yaml:"prompt"`
	Options       []Option     `json:"options,omitempty" yaml:"options,omitempty"`
	CorrectAnswer string       `json:"correctAnswer,omitempty" yaml:"correctAnswer,omitempty"` // true_false only
	Explanation   string       `json:"explanation,omitempty" yaml:"explanation,omitempty"`
	Points        int          `json:"points" yaml:"points"` // defaults to 1 if zero
}

// PointValue returns the question's weight.
func (q Question) PointValue() int {
	if q.Points <= 0 {
		return 1
	}
	return q.Points
}

// CorrectID returns the identifier a correct submission must carry.
func (q Question) CorrectID() string {
	if q.Type == QuestionTrueFalse {
		return q.CorrectAnswer
	}
	for _, opt := range q.Options {
		if opt.Correct {
			return opt.ID
		}
	}
	return ""
}

// Matches evaluates a submitted answer against the key.
func (q Question) Matches(selected string) bool {
	if q.Type == QuestionTrueFalse {
		return selected == q.CorrectAnswer
	}
	for _, opt := range q.Options {
		if opt.ID == selected {
			return opt.Correct
		}
	}
	return false
}

// AnswerSubmission is one answer within a quiz submission.
type AnswerSubmission struct {
	QuestionID string `json:"questionId"`
	Selected   string `json:"selected"`
}

// AttemptAnswer is a graded answer stored on the attempt.
type AttemptAnswer struct {
	QuestionID string `json:"questionId"`
	Selected   string `json:"selected"`
	Correct    bool   `json:"correct"`
}

// PassThreshold is the fixed minimum passing score.
const PassThreshold = 70

// QuizAttempt is an immutable graded submission.
type QuizAttempt struct {
	ID            string          `json:"id"`
	LearnerID     string          `json:"learnerId"`
	ModuleID      string          `json:"moduleId"`
	AttemptNumber int             `json:"attemptNumber"`
	Answers       []AttemptAnswer `json:"answers"`
	Score         int             `json:"score"`
	Passed        bool            `json:"passed"`
	IsRetake      bool            `json:"isRetake"`
	StartedAt     time.Time       `json:"startedAt"`
	CompletedAt   time.Time       `json:"completedAt"`
}

// AchievementProgress is the per-learner telemetry and unlock state.
type AchievementProgress struct {
	LearnerID   string                `json:"learnerId"`
	Unlocked    map[string]time.Time  `json:"unlocked"`
	Timestamps  map[string]time.Time  `json:"timestamps"`
	WordCounts  map[string]int        `json:"wordCounts"`
	ScrollTimes map[int]time.Duration `json:"scrollTimes"`
	FormEdits   map[string]int        `json:"formEdits"`
}

// NewAchievementProgress returns empty progress with initialized bags.
func NewAchievementProgress(learnerID string) AchievementProgress {
	return AchievementProgress{
		LearnerID:   learnerID,
		Unlocked:    make(map[string]time.Time),
		Timestamps:  make(map[string]time.Time),
		WordCounts:  make(map[string]int),
		ScrollTimes: make(map[int]time.Duration),
		FormEdits:   make(map[string]int),
	}
}

// IsUnlocked reports whether the achievement has an unlock timestamp.
func (p AchievementProgress) IsUnlocked(id string) bool {
	_, ok := p.Unlocked[id]
	return ok
}

// SetTimestampOnce records key only when unset. It reports whether it wrote.
func (p *AchievementProgress) SetTimestampOnce(key string, at time.Time) bool {
	if p.Timestamps == nil {
		p.Timestamps = make(map[string]time.Time)
	}
	if _, ok := p.Timestamps[key]; ok {
		return false
	}
	p.Timestamps[key] = at
	return true
}

// Timestamp returns the recorded time for key, if any.
func (p AchievementProgress) Timestamp(key string) (time.Time, bool) {
	t, ok := p.Timestamps[key]
	return t, ok
}

// Clone returns a deep copy.
func (p AchievementProgress) Clone() AchievementProgress {
	out := NewAchievementProgress(p.LearnerID)
	for k, v := range p.Unlocked {
		out.Unlocked[k] = v
	}
	for k, v := range p.Timestamps {
		out.Timestamps[k] = v
	}
	for k, v := range p.WordCounts {
		out.WordCounts[k] = v
	}
	for k, v := range p.ScrollTimes {
		out.ScrollTimes[k] = v
	}
	for k, v := range p.FormEdits {
		out.FormEdits[k] = v
	}
	return out
}

// UnlockedIDs returns unlocked achievement IDs sorted by unlock time.
func (p AchievementProgress) UnlockedIDs() []string {
	ids := make([]string, 0, len(p.Unlocked))
	for id := range p.Unlocked {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		ti, tj := p.Unlocked[ids[i]], p.Unlocked[ids[j]]
		if !ti.Equal(tj) {
			return ti.Before(tj)
		}
		return ids[i] < ids[j]
	})
	return ids
}

// ModuleUnlock is a write-once access grant.
type ModuleUnlock struct {
	LearnerID  string    `json:"learnerId"`
	ModuleID   string    `json:"moduleId"`
	Reason     string    `json:"reason"`
	UnlockedAt time.Time `json:"unlockedAt"`
}

// EnrollmentState is the reconciler state machine.
type EnrollmentState string

const (
	EnrollmentPendingPayment   EnrollmentState = "pending_payment"
	EnrollmentPaymentConfirmed EnrollmentState = "payment_confirmed"
	EnrollmentAccountRequired  EnrollmentState = "account_required"
	EnrollmentAccountCreated   EnrollmentState = "account_created"
	EnrollmentSynced           EnrollmentState = "enrollment_synced"
)

// Enrollment ties an external checkout session to a learner record.
type Enrollment struct {
	ID        string          `json:"id"`
	SessionID string          `json:"sessionId"`
	Email     string          `json:"email"`
	LearnerID string          `json:"learnerId,omitempty"`
	State     EnrollmentState `json:"state"`
	Attempts  int             `json:"attempts"`
	LastError string          `json:"lastError,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	UpdatedAt time.Time       `json:"updatedAt"`
	SyncedAt  *time.Time      `json:"syncedAt,omitempty"`
}

// Synced reports whether the enrollment reached its terminal success state.
func (e Enrollment) Synced() bool {
	return e.State == EnrollmentSynced
}
