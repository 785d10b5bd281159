package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"course-progression-engine/internal/domain"
	"course-progression-engine/internal/retry"
)

// PaymentStatus is the read-only view of a checkout session.
type PaymentStatus struct {
	SessionID string `json:"sessionId"`
	Email     string `json:"email"`
	Confirmed bool   `json:"confirmed"`
}

// PaymentGateway reads checkout status. It never mutates the external system.
type PaymentGateway interface {
	CheckoutSession(ctx context.Context, sessionID string) (PaymentStatus, error)
}

// ReconcileResult is returned by Reconcile.
type ReconcileResult struct {
	Enrollment      domain.Enrollment `json:"enrollment"`
	AlreadyEnrolled bool              `json:"alreadyEnrolled"`
	Attempts        int               `json:"attempts"`
}

// Reconciler ties a confirmed checkout session to a learner record.
type Reconciler struct {
	deps    Deps
	gateway PaymentGateway
	opts    []retry.Option
	newID   func() string
}

// NewReconciler builds a reconciler; opts tune the backoff policy.
func NewReconciler(d Deps, gateway PaymentGateway, opts ...retry.Option) *Reconciler {
	return &Reconciler{deps: d.withDefaults(), gateway: gateway, opts: opts, newID: uuid.NewString}
}

// Reconcile advances the enrollment for sessionID until it is synced, polling
// with exponential backoff while payment or identity sync are not visible yet.
// Calling it again after success is a no-op; after a failure it resumes from
// the persisted state. extra options override the reconciler's policy.
func (r *Reconciler) Reconcile(ctx context.Context, sessionID, email string, extra ...retry.Option) (ReconcileResult, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return ReconcileResult{}, fmt.Errorf("%w: session id required", domain.ErrInvalidSubmission)
	}
	log := r.deps.Logger.With("session_id", sessionID)

	enrollment, err := r.deps.Store.Enrollment(ctx, sessionID)
	switch {
	case errors.Is(err, domain.ErrEnrollmentNotFound):
		now := r.deps.Now()
		enrollment = domain.Enrollment{
			ID:        r.newID(),
			SessionID: sessionID,
			Email:     normalizeEmail(email),
			State:     domain.EnrollmentPendingPayment,
			CreatedAt: now,
			UpdatedAt: now,
		}
		err := r.deps.Store.SaveEnrollment(ctx, enrollment)
		if errors.Is(err, domain.ErrEnrollmentSynced) {
			var already bool
			if err := r.adoptSynced(ctx, &enrollment, &already); err != nil {
				return ReconcileResult{}, err
			}
		} else if err != nil {
			return ReconcileResult{}, fmt.Errorf("save enrollment: %w", err)
		}
	case err != nil:
		return ReconcileResult{}, fmt.Errorf("load enrollment: %w", err)
	}
	if enrollment.Synced() {
		return ReconcileResult{Enrollment: enrollment, AlreadyEnrolled: true}, nil
	}
	if enrollment.Email == "" {
		enrollment.Email = normalizeEmail(email)
	}

	opts := append([]retry.Option{
		retry.WithRetryIf(func(err error) bool { return errors.Is(err, domain.ErrDependencyPending) }),
		retry.WithOnRetry(func(attempt int, err error, delay time.Duration) {
			log.Warn("enrollment not ready, retrying", "attempt", attempt, "state", enrollment.State, "delay", delay, "error", err)
		}),
	}, r.opts...)
	opts = append(opts, extra...)

	var (
		attempts        int
		alreadyEnrolled bool
	)
	err = retry.Do(ctx, func(ctx context.Context, _ int) error {
		// Another reconcile of the same session may have moved the record on;
		// every attempt starts from the stored state.
		current, err := r.deps.Store.Enrollment(ctx, sessionID)
		if err != nil {
			return retry.Permanent(fmt.Errorf("load enrollment: %w", err))
		}
		if current.Synced() {
			enrollment, alreadyEnrolled = current, true
			return nil
		}
		if current.Email == "" {
			current.Email = enrollment.Email
		}
		enrollment = current

		attempts++
		enrollment.Attempts++
		already, stepErr := r.step(ctx, &enrollment)
		alreadyEnrolled = already
		enrollment.UpdatedAt = r.deps.Now()
		if stepErr == nil {
			return nil
		}
		if errors.Is(stepErr, domain.ErrEnrollmentSynced) {
			return r.adoptSynced(ctx, &enrollment, &alreadyEnrolled)
		}
		enrollment.LastError = stepErr.Error()
		if err := r.deps.Store.SaveEnrollment(ctx, enrollment); err != nil {
			if errors.Is(err, domain.ErrEnrollmentSynced) {
				return r.adoptSynced(ctx, &enrollment, &alreadyEnrolled)
			}
			return retry.Permanent(fmt.Errorf("save enrollment: %w", err))
		}
		return stepErr
	}, opts...)

	result := ReconcileResult{Enrollment: enrollment, AlreadyEnrolled: alreadyEnrolled, Attempts: attempts}
	if err == nil {
		log.Info("enrollment synced", "learner_id", enrollment.LearnerID, "attempts", attempts)
		return result, nil
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return result, fmt.Errorf("reconcile cancelled in state %s: %w", enrollment.State, ctxErr)
	}
	if errors.Is(err, domain.ErrDependencyPending) {
		log.Error("enrollment reconcile exhausted", "state", enrollment.State, "attempts", attempts, "error", err)
		return result, fmt.Errorf("%w (state %s: %v)", domain.ErrEnrollmentTimeout, enrollment.State, err)
	}
	return result, err
}

// adoptSynced replaces e with the stored record after a concurrent reconcile
// won the race to sync it.
func (r *Reconciler) adoptSynced(ctx context.Context, e *domain.Enrollment, already *bool) error {
	stored, err := r.deps.Store.Enrollment(ctx, e.SessionID)
	if err != nil {
		return retry.Permanent(fmt.Errorf("load enrollment: %w", err))
	}
	r.deps.Logger.Debug("enrollment synced concurrently", "session_id", e.SessionID)
	*e, *already = stored, true
	return nil
}

// step performs one pass of the state machine.
func (r *Reconciler) step(ctx context.Context, e *domain.Enrollment) (bool, error) {
	status, err := r.gateway.CheckoutSession(ctx, e.SessionID)
	if err != nil {
		return false, err
	}
	if !status.Confirmed {
		e.State = domain.EnrollmentPendingPayment
		return false, domain.ErrPaymentPending
	}
	if e.Email == "" {
		e.Email = normalizeEmail(status.Email)
	}
	if e.Email == "" {
		return false, retry.Permanent(fmt.Errorf("%w: checkout session carries no email", domain.ErrInvalidSubmission))
	}
	e.State = domain.EnrollmentPaymentConfirmed

	learner, err := r.deps.Store.FindLearnerByEmail(ctx, e.Email)
	if errors.Is(err, domain.ErrLearnerNotFound) {
		e.State = domain.EnrollmentAccountRequired
		return false, domain.ErrIdentityPending
	}
	if err != nil {
		return false, err
	}
	e.State = domain.EnrollmentAccountCreated
	e.LearnerID = learner.ID

	return r.grant(ctx, e)
}

// grant enrolls the learner, opens default modules and marks the enrollment
// synced in one transaction.
func (r *Reconciler) grant(ctx context.Context, e *domain.Enrollment) (bool, error) {
	var already bool
	synced := *e
	err := inTx(ctx, r.deps, e.LearnerID, func(_ context.Context, tx Tx, rec *recorder) error {
		changed, err := tx.MarkEnrolled(rec.at)
		if err != nil {
			return err
		}
		already = !changed
		catalog, err := r.deps.Catalog.Catalog(ctx)
		if err != nil {
			return err
		}
		if _, err := grantDefaultUnlocks(tx, rec, catalog); err != nil {
			return err
		}
		at := rec.at
		synced.State = domain.EnrollmentSynced
		synced.SyncedAt = &at
		synced.LastError = ""
		synced.UpdatedAt = at
		if err := tx.SaveEnrollment(synced); err != nil {
			return err
		}
		if changed {
			rec.emit(domain.EventEnrolled, map[string]string{"sessionId": e.SessionID})
		}
		return nil
	})
	if err != nil {
		return false, err
	}
	*e = synced
	return already, nil
}

// ReconcilePending gives every stale, unsynced enrollment one more pass. It
// returns how many reached the synced state.
func (r *Reconciler) ReconcilePending(ctx context.Context, olderThan time.Duration, limit int) (int, error) {
	pending, err := r.deps.Store.PendingEnrollments(ctx, r.deps.Now().Add(-olderThan), limit)
	if err != nil {
		return 0, fmt.Errorf("list pending enrollments: %w", err)
	}
	synced := 0
	for _, e := range pending {
		if ctx.Err() != nil {
			return synced, ctx.Err()
		}
		if _, err := r.Reconcile(ctx, e.SessionID, e.Email, retry.WithMaxAttempts(1)); err != nil {
			r.deps.Logger.Debug("pending enrollment still not synced", "session_id", e.SessionID, "error", err)
			continue
		}
		synced++
	}
	return synced, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
