package domain

import "time"

// EventType names a committed learner-facing change.
type EventType string

const (
	EventXPGranted           EventType = "xp_granted"
	EventLessonCompleted     EventType = "lesson_completed"
	EventModuleCompleted     EventType = "module_completed"
	EventModuleUnlocked      EventType = "module_unlocked"
	EventAchievementUnlocked EventType = "achievement_unlocked"
	EventChecklistUpdated    EventType = "checklist_updated"
	EventDayCompleted        EventType = "day_completed"
	EventQuizGraded          EventType = "quiz_graded"
	EventEnrolled            EventType = "enrolled"
)

// Event is published to a learner's feed after the owning transaction commits.
type Event struct {
	Type      EventType `json:"type"`
	LearnerID string    `json:"learnerId"`
	At        time.Time `json:"at"`
	Payload   any       `json:"payload,omitempty"`
}

// XPGrant describes one ledger application.
type XPGrant struct {
	Amount  int    `json:"amount"`
	Reason  string `json:"reason"`
	TotalXP int    `json:"totalXp"`
}
