package app

import (
	"fmt"

	"course-progression-engine/internal/domain"
)

// XP amounts granted on a first quiz pass.
const (
	QuizPassXP     = 25
	PerfectScoreXP = 25
)

type reward struct {
	amount int
	reason string
}

// Ledger reasons.
func reasonLesson(moduleID, lessonID string) string {
	return "lesson_complete:" + moduleID + "/" + lessonID
}
func reasonModule(moduleID string) string   { return "module_complete:" + moduleID }
func reasonQuizPass(moduleID string) string { return "quiz_pass:" + moduleID }
func reasonPerfect(moduleID string) string  { return "perfect_score:" + moduleID }
func reasonAchievement(id string) string    { return "achievement:" + id }

// grantXP adds amount to the learner inside the caller's transaction. The caller
// owns the first-time decision and must not call it twice for one trigger.
// Non-positive amounts are a no-op.
func grantXP(tx Tx, rec *recorder, amount int, reason string) (int, error) {
	if amount <= 0 {
		return 0, nil
	}
	total, err := tx.AddXP(amount)
	if err != nil {
		return 0, fmt.Errorf("grant xp (%s): %w", reason, err)
	}
	rec.emit(domain.EventXPGranted, domain.XPGrant{Amount: amount, Reason: reason, TotalXP: total})
	rec.log.Info("xp granted", "amount", amount, "reason", reason, "total_xp", total)
	return amount, nil
}
