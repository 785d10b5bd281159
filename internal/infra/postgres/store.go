package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
)

// Open returns a bun handle for dsn. The caller owns Close.
func Open(dsn string) *bun.DB {
	sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(dsn)))
	return bun.NewDB(sqldb, pgdialect.New())
}

// Store is the Postgres implementation of app.Store. InTx locks the learner
// row with SELECT ... FOR UPDATE, which serializes writers per learner while
// leaving other learners untouched.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// Ping checks connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) CreateLearner(ctx context.Context, learner domain.Learner) (domain.Learner, bool, error) {
	row := &learnerRow{
		ID:        learner.ID,
		Email:     strings.ToLower(strings.TrimSpace(learner.Email)),
		TotalXP:   learner.TotalXP,
		CreatedAt: learner.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = s.now()
	}
	res, err := s.db.NewInsert().Model(row).On("CONFLICT DO NOTHING").Exec(ctx)
	if err != nil {
		return domain.Learner{}, false, fmt.Errorf("insert learner: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 1 {
		return row.toDomain(), true, nil
	}
	existing, err := s.Learner(ctx, learner.ID)
	if errors.Is(err, domain.ErrLearnerNotFound) {
		return domain.Learner{}, false, fmt.Errorf("insert learner %s: email %s belongs to another learner", learner.ID, row.Email)
	}
	return existing, false, err
}

func (s *Store) Learner(ctx context.Context, learnerID string) (domain.Learner, error) {
	return s.findLearner(ctx, "id = ?", learnerID)
}

func (s *Store) FindLearnerByEmail(ctx context.Context, email string) (domain.Learner, error) {
	return s.findLearner(ctx, "email = ?", strings.ToLower(strings.TrimSpace(email)))
}

func (s *Store) findLearner(ctx context.Context, where string, arg string) (domain.Learner, error) {
	var row learnerRow
	err := s.db.NewSelect().Model(&row).Where(where, arg).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Learner{}, domain.ErrLearnerNotFound
	}
	if err != nil {
		return domain.Learner{}, fmt.Errorf("load learner: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) InTx(ctx context.Context, learnerID string, fn func(ctx context.Context, tx app.Tx) error) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		t := &pgTx{ctx: ctx, tx: tx, learnerID: learnerID, now: s.now}
		var row learnerRow
		err := tx.NewSelect().Model(&row).Where("id = ?", learnerID).For("UPDATE").Scan(ctx)
		switch {
		case err == nil:
			t.learner = &row
		case errors.Is(err, sql.ErrNoRows):
		default:
			return fmt.Errorf("lock learner: %w", err)
		}
		return fn(ctx, t)
	})
}

func (s *Store) ListModuleProgress(ctx context.Context, learnerID string) ([]domain.ModuleProgress, error) {
	if _, err := s.Learner(ctx, learnerID); err != nil {
		return nil, err
	}
	return listModuleProgress(ctx, s.db, learnerID)
}

func (s *Store) AchievementProgress(ctx context.Context, learnerID string) (domain.AchievementProgress, error) {
	if _, err := s.Learner(ctx, learnerID); err != nil {
		return domain.AchievementProgress{}, err
	}
	return loadAchievementProgress(ctx, s.db, learnerID)
}

func (s *Store) ListAttempts(ctx context.Context, learnerID, moduleID string) ([]domain.QuizAttempt, error) {
	if _, err := s.Learner(ctx, learnerID); err != nil {
		return nil, err
	}
	return listAttempts(ctx, s.db, learnerID, moduleID)
}

func (s *Store) Enrollment(ctx context.Context, sessionID string) (domain.Enrollment, error) {
	var row enrollmentRow
	err := s.db.NewSelect().Model(&row).Where("session_id = ?", sessionID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.Enrollment{}, domain.ErrEnrollmentNotFound
	}
	if err != nil {
		return domain.Enrollment{}, fmt.Errorf("load enrollment: %w", err)
	}
	return row.toDomain(), nil
}

func (s *Store) SaveEnrollment(ctx context.Context, e domain.Enrollment) error {
	return saveEnrollment(ctx, s.db, e)
}

func (s *Store) PendingEnrollments(ctx context.Context, olderThan time.Time, limit int) ([]domain.Enrollment, error) {
	var rows []enrollmentRow
	q := s.db.NewSelect().Model(&rows).
		Where("state <> ?", string(domain.EnrollmentSynced)).
		Where("updated_at <= ?", olderThan).
		Order("updated_at ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("list pending enrollments: %w", err)
	}
	out := make([]domain.Enrollment, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func listModuleProgress(ctx context.Context, db bun.IDB, learnerID string) ([]domain.ModuleProgress, error) {
	var rows []moduleProgressRow
	err := db.NewSelect().Model(&rows).Where("learner_id = ?", learnerID).Order("module_id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list module progress: %w", err)
	}
	out := make([]domain.ModuleProgress, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func listAttempts(ctx context.Context, db bun.IDB, learnerID, moduleID string) ([]domain.QuizAttempt, error) {
	var rows []attemptRow
	err := db.NewSelect().Model(&rows).
		Where("learner_id = ?", learnerID).
		Where("module_id = ?", moduleID).
		Order("attempt_number ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("list attempts: %w", err)
	}
	out := make([]domain.QuizAttempt, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func loadAchievementProgress(ctx context.Context, db bun.IDB, learnerID string) (domain.AchievementProgress, error) {
	var row achievementRow
	err := db.NewSelect().Model(&row).Where("learner_id = ?", learnerID).Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewAchievementProgress(learnerID), nil
	}
	if err != nil {
		return domain.AchievementProgress{}, fmt.Errorf("load achievement progress: %w", err)
	}
	// Clone initializes bags that decoded as null.
	p := row.Data.Clone()
	p.LearnerID = learnerID
	return p, nil
}

// saveEnrollment upserts e unless the stored row is already synced; a synced
// enrollment is terminal.
func saveEnrollment(ctx context.Context, db bun.IDB, e domain.Enrollment) error {
	res, err := db.NewInsert().Model(newEnrollmentRow(e)).
		On("CONFLICT (session_id) DO UPDATE").
		Set("email = EXCLUDED.email").
		Set("learner_id = EXCLUDED.learner_id").
		Set("state = EXCLUDED.state").
		Set("attempts = EXCLUDED.attempts").
		Set("last_error = EXCLUDED.last_error").
		Set("updated_at = EXCLUDED.updated_at").
		Set("synced_at = EXCLUDED.synced_at").
		Where("enrollment.state <> ?", string(domain.EnrollmentSynced)).
		Exec(ctx)
	if err != nil {
		return fmt.Errorf("save enrollment: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save enrollment: %w", err)
	}
	if n == 0 {
		return domain.ErrEnrollmentSynced
	}
	return nil
}

// pgTx is bound to one learner inside a bun transaction.
type pgTx struct {
	ctx       context.Context
	tx        bun.Tx
	learnerID string
	learner   *learnerRow
	now       func() time.Time
}

func (t *pgTx) Learner() (domain.Learner, error) {
	if t.learner == nil {
		return domain.Learner{}, domain.ErrLearnerNotFound
	}
	return t.learner.toDomain(), nil
}

func (t *pgTx) AddXP(amount int) (int, error) {
	if t.learner == nil {
		return 0, domain.ErrLearnerNotFound
	}
	var total int
	err := t.tx.NewUpdate().Model((*learnerRow)(nil)).
		Set("total_xp = total_xp + ?", amount).
		Where("id = ?", t.learnerID).
		Returning("total_xp").
		Scan(t.ctx, &total)
	if err != nil {
		return 0, fmt.Errorf("add xp: %w", err)
	}
	t.learner.TotalXP = total
	return total, nil
}

func (t *pgTx) MarkEnrolled(at time.Time) (bool, error) {
	if t.learner == nil {
		return false, domain.ErrLearnerNotFound
	}
	res, err := t.tx.NewUpdate().Model((*learnerRow)(nil)).
		Set("enrolled_at = ?", at).
		Where("id = ?", t.learnerID).
		Where("enrolled_at IS NULL").
		Exec(t.ctx)
	if err != nil {
		return false, fmt.Errorf("mark enrolled: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return false, nil
	}
	t.learner.EnrolledAt = &at
	return true, nil
}

func (t *pgTx) ModuleProgress(moduleID string) (domain.ModuleProgress, error) {
	if t.learner == nil {
		return domain.ModuleProgress{}, domain.ErrLearnerNotFound
	}
	var row moduleProgressRow
	err := t.tx.NewSelect().Model(&row).
		Where("learner_id = ?", t.learnerID).
		Where("module_id = ?", moduleID).
		Scan(t.ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.NewModuleProgress(t.learnerID, moduleID), nil
	}
	if err != nil {
		return domain.ModuleProgress{}, fmt.Errorf("load module progress: %w", err)
	}
	return row.toDomain(), nil
}

func (t *pgTx) SaveModuleProgress(p domain.ModuleProgress) error {
	if t.learner == nil {
		return domain.ErrLearnerNotFound
	}
	p.LearnerID = t.learnerID
	_, err := t.tx.NewInsert().Model(newModuleProgressRow(p, t.now())).
		On("CONFLICT (learner_id, module_id) DO UPDATE").
		Set("status = EXCLUDED.status").
		Set("percent_complete = EXCLUDED.percent_complete").
		Set("completed_lessons = EXCLUDED.completed_lessons").
		Set("time_spent_minutes = EXCLUDED.time_spent_minutes").
		Set("completed_at = COALESCE(module_progress.completed_at, EXCLUDED.completed_at)").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(t.ctx)
	if err != nil {
		return fmt.Errorf("save module progress: %w", err)
	}
	return nil
}

func (t *pgTx) CountAttempts(moduleID string) (int, error) {
	if t.learner == nil {
		return 0, domain.ErrLearnerNotFound
	}
	n, err := t.tx.NewSelect().Model((*attemptRow)(nil)).
		Where("learner_id = ?", t.learnerID).
		Where("module_id = ?", moduleID).
		Count(t.ctx)
	if err != nil {
		return 0, fmt.Errorf("count attempts: %w", err)
	}
	return n, nil
}

func (t *pgTx) AppendAttempt(a domain.QuizAttempt) error {
	if t.learner == nil {
		return domain.ErrLearnerNotFound
	}
	row := &attemptRow{
		ID:            a.ID,
		LearnerID:     t.learnerID,
		ModuleID:      a.ModuleID,
		AttemptNumber: a.AttemptNumber,
		Answers:       a.Answers,
		Score:         a.Score,
		Passed:        a.Passed,
		IsRetake:      a.IsRetake,
		StartedAt:     a.StartedAt,
		CompletedAt:   a.CompletedAt,
	}
	if row.Answers == nil {
		row.Answers = []domain.AttemptAnswer{}
	}
	if _, err := t.tx.NewInsert().Model(row).Exec(t.ctx); err != nil {
		return fmt.Errorf("append attempt: %w", err)
	}
	return nil
}

func (t *pgTx) ListAttempts(moduleID string) ([]domain.QuizAttempt, error) {
	if t.learner == nil {
		return nil, domain.ErrLearnerNotFound
	}
	return listAttempts(t.ctx, t.tx, t.learnerID, moduleID)
}

func (t *pgTx) AchievementProgress() (domain.AchievementProgress, error) {
	if t.learner == nil {
		return domain.AchievementProgress{}, domain.ErrLearnerNotFound
	}
	return loadAchievementProgress(t.ctx, t.tx, t.learnerID)
}

func (t *pgTx) SaveAchievementProgress(p domain.AchievementProgress) error {
	if t.learner == nil {
		return domain.ErrLearnerNotFound
	}
	p.LearnerID = t.learnerID
	row := &achievementRow{LearnerID: t.learnerID, Data: p, UpdatedAt: t.now()}
	_, err := t.tx.NewInsert().Model(row).
		On("CONFLICT (learner_id) DO UPDATE").
		Set("data = EXCLUDED.data").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(t.ctx)
	if err != nil {
		return fmt.Errorf("save achievement progress: %w", err)
	}
	return nil
}

func (t *pgTx) HasUnlock(moduleID string) (bool, error) {
	if t.learner == nil {
		return false, domain.ErrLearnerNotFound
	}
	ok, err := t.tx.NewSelect().Model((*unlockRow)(nil)).
		Where("learner_id = ?", t.learnerID).
		Where("module_id = ?", moduleID).
		Exists(t.ctx)
	if err != nil {
		return false, fmt.Errorf("check unlock: %w", err)
	}
	return ok, nil
}

func (t *pgTx) CreateUnlock(u domain.ModuleUnlock) (bool, error) {
	if t.learner == nil {
		return false, domain.ErrLearnerNotFound
	}
	row := &unlockRow{LearnerID: t.learnerID, ModuleID: u.ModuleID, Reason: u.Reason, UnlockedAt: u.UnlockedAt}
	res, err := t.tx.NewInsert().Model(row).On("CONFLICT (learner_id, module_id) DO NOTHING").Exec(t.ctx)
	if err != nil {
		return false, fmt.Errorf("create unlock: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

func (t *pgTx) SaveEnrollment(e domain.Enrollment) error {
	return saveEnrollment(t.ctx, t.tx, e)
}
