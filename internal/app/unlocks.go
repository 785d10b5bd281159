package app

import (
	"context"
	"fmt"

	"course-progression-engine/internal/domain"
)

const reasonDefaultUnlock = "default"

// resolveUnlocks grants access to every locked module whose condition targets
// completedSlug. It does not chain: modules unlocked here are not themselves
// treated as completed.
func resolveUnlocks(tx Tx, rec *recorder, catalog *domain.Catalog, completedSlug string) ([]string, error) {
	var unlocked []string
	for _, m := range catalog.Dependents(completedSlug) {
		created, err := tx.CreateUnlock(domain.ModuleUnlock{
			LearnerID:  rec.learnerID,
			ModuleID:   m.ID,
			Reason:     domain.UnlockModuleComplete + ":" + completedSlug,
			UnlockedAt: rec.at,
		})
		if err != nil {
			return nil, fmt.Errorf("unlock %s: %w", m.ID, err)
		}
		if !created {
			continue
		}
		unlocked = append(unlocked, m.ID)
		rec.emit(domain.EventModuleUnlocked, map[string]string{"moduleId": m.ID, "slug": m.Slug, "after": completedSlug})
		rec.log.Info("module unlocked", "module_id", m.ID, "after", completedSlug)
	}
	return unlocked, nil
}

// grantDefaultUnlocks opens every module that is not locked in the catalog.
func grantDefaultUnlocks(tx Tx, rec *recorder, catalog *domain.Catalog) ([]string, error) {
	var unlocked []string
	for _, m := range catalog.OpenModules() {
		created, err := tx.CreateUnlock(domain.ModuleUnlock{
			LearnerID:  rec.learnerID,
			ModuleID:   m.ID,
			Reason:     reasonDefaultUnlock,
			UnlockedAt: rec.at,
		})
		if err != nil {
			return nil, fmt.Errorf("unlock %s: %w", m.ID, err)
		}
		if created {
			unlocked = append(unlocked, m.ID)
			rec.emit(domain.EventModuleUnlocked, map[string]string{"moduleId": m.ID, "slug": m.Slug})
		}
	}
	return unlocked, nil
}

// UnlockResolver exposes unlock resolution as an idempotent re-entry point.
type UnlockResolver struct {
	deps Deps
}

func NewUnlockResolver(d Deps) *UnlockResolver {
	return &UnlockResolver{deps: d.withDefaults()}
}

// ResolveUnlocks re-runs resolution for a completed module. It is a no-op when
// the module is not completed or its dependents are already unlocked.
func (r *UnlockResolver) ResolveUnlocks(ctx context.Context, learnerID, completedModuleSlug string) ([]string, error) {
	catalog, err := r.deps.Catalog.Catalog(ctx)
	if err != nil {
		return nil, err
	}
	module, err := catalog.ModuleBySlug(completedModuleSlug)
	if err != nil {
		return nil, err
	}

	var unlocked []string
	err = inTx(ctx, r.deps, learnerID, func(_ context.Context, tx Tx, rec *recorder) error {
		if _, err := tx.Learner(); err != nil {
			return err
		}
		mp, err := tx.ModuleProgress(module.ID)
		if err != nil {
			return err
		}
		if !mp.Completed() {
			unlocked = nil
			return nil
		}
		unlocked, err = resolveUnlocks(tx, rec, catalog, module.Slug)
		return err
	})
	return unlocked, err
}

// accessible checks enrollment and the module unlock record.
func accessible(tx Tx, moduleID string) (domain.Learner, error) {
	learner, err := tx.Learner()
	if err != nil {
		return domain.Learner{}, err
	}
	if !learner.Enrolled() {
		return domain.Learner{}, domain.ErrNotEnrolled
	}
	ok, err := tx.HasUnlock(moduleID)
	if err != nil {
		return domain.Learner{}, err
	}
	if !ok {
		return domain.Learner{}, domain.ErrModuleLocked
	}
	return learner, nil
}
