package domain

import (
	"errors"
	"fmt"
)

// Base kinds. Callers classify failures with errors.Is against these.
var (
	// ErrNotFound covers unknown learners, modules, lessons, questions, days and items.
	ErrNotFound = errors.New("not found")
	// ErrInvalidSubmission is returned before any state change for partial quiz answers
	// or malformed telemetry.
	ErrInvalidSubmission = errors.New("invalid submission")
	// ErrDependencyPending means an external system has not converged yet; retryable.
	ErrDependencyPending = errors.New("dependency pending")
	// ErrAccessDenied is returned when the learner may not act on gated content.
	ErrAccessDenied = errors.New("access denied")
)

var (
	ErrLearnerNotFound    = fmt.Errorf("learner %w", ErrNotFound)
	ErrModuleNotFound     = fmt.Errorf("module %w", ErrNotFound)
	ErrLessonNotFound     = fmt.Errorf("lesson %w", ErrNotFound)
	ErrQuestionNotFound   = fmt.Errorf("question %w", ErrNotFound)
	ErrOptionNotFound     = fmt.Errorf("option %w", ErrNotFound)
	ErrDayNotFound        = fmt.Errorf("checklist day %w", ErrNotFound)
	ErrItemNotFound       = fmt.Errorf("checklist item %w", ErrNotFound)
	ErrAttemptNotFound    = fmt.Errorf("quiz attempt %w", ErrNotFound)
	ErrEnrollmentNotFound = fmt.Errorf("enrollment %w", ErrNotFound)

	// ErrCatalogNotFound indicates the content catalog could not be loaded.
	ErrCatalogNotFound = fmt.Errorf("catalog %w", ErrNotFound)

	ErrIncompleteAnswers = fmt.Errorf("%w: every question must be answered", ErrInvalidSubmission)
	ErrDuplicateAnswer   = fmt.Errorf("%w: question answered more than once", ErrInvalidSubmission)
	ErrNoQuiz            = fmt.Errorf("%w: module has no quiz questions", ErrInvalidSubmission)
	ErrInvalidTelemetry  = fmt.Errorf("%w: malformed telemetry", ErrInvalidSubmission)

	ErrIdentityPending = fmt.Errorf("learner record not yet visible: %w", ErrDependencyPending)
	ErrPaymentPending  = fmt.Errorf("payment not yet confirmed: %w", ErrDependencyPending)

	ErrNotEnrolled  = fmt.Errorf("learner not enrolled: %w", ErrAccessDenied)
	ErrModuleLocked = fmt.Errorf("module locked: %w", ErrAccessDenied)
)

// ErrEnrollmentSynced is returned by stores that refuse to overwrite an
// enrollment another reconcile already synced.
var ErrEnrollmentSynced = errors.New("enrollment already synced")

// ErrEnrollmentTimeout is the terminal reconciler error surfaced after retries are
// exhausted. It still matches ErrDependencyPending.
var ErrEnrollmentTimeout = fmt.Errorf("enrollment not synced after retries, please refresh: %w", ErrDependencyPending)
