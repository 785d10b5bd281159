package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"course-progression-engine/internal/app"
	"course-progression-engine/internal/domain"
)

// Store is an in-memory implementation of app.Store. Transactions take a
// per-learner lock, work on a private copy and swap it in on success.
type Store struct {
	locks *keyedMutex

	mu          sync.RWMutex
	learners    map[string]*learnerData
	byEmail     map[string]string
	enrollments map[string]domain.Enrollment
}

type learnerData struct {
	learner      domain.Learner
	modules      map[string]domain.ModuleProgress
	attempts     map[string][]domain.QuizAttempt
	achievements domain.AchievementProgress
	unlocks      map[string]domain.ModuleUnlock
}

func newLearnerData(l domain.Learner) *learnerData {
	return &learnerData{
		learner:      l,
		modules:      make(map[string]domain.ModuleProgress),
		attempts:     make(map[string][]domain.QuizAttempt),
		achievements: domain.NewAchievementProgress(l.ID),
		unlocks:      make(map[string]domain.ModuleUnlock),
	}
}

func (d *learnerData) clone() *learnerData {
	out := &learnerData{
		learner:      d.learner,
		modules:      make(map[string]domain.ModuleProgress, len(d.modules)),
		attempts:     make(map[string][]domain.QuizAttempt, len(d.attempts)),
		achievements: d.achievements.Clone(),
		unlocks:      make(map[string]domain.ModuleUnlock, len(d.unlocks)),
	}
	if d.learner.EnrolledAt != nil {
		t := *d.learner.EnrolledAt
		out.learner.EnrolledAt = &t
	}
	for k, v := range d.modules {
		out.modules[k] = v.Clone()
	}
	for k, v := range d.attempts {
		out.attempts[k] = append([]domain.QuizAttempt(nil), v...)
	}
	for k, v := range d.unlocks {
		out.unlocks[k] = v
	}
	return out
}

func NewStore() *Store {
	return &Store{
		locks:       newKeyedMutex(),
		learners:    make(map[string]*learnerData),
		byEmail:     make(map[string]string),
		enrollments: make(map[string]domain.Enrollment),
	}
}

func (s *Store) CreateLearner(_ context.Context, learner domain.Learner) (domain.Learner, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.learners[learner.ID]; ok {
		return existing.learner, false, nil
	}
	learner.Email = strings.ToLower(learner.Email)
	s.learners[learner.ID] = newLearnerData(learner)
	if learner.Email != "" {
		if _, taken := s.byEmail[learner.Email]; !taken {
			s.byEmail[learner.Email] = learner.ID
		}
	}
	return learner, true, nil
}

func (s *Store) Learner(_ context.Context, learnerID string) (domain.Learner, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.learners[learnerID]
	if !ok {
		return domain.Learner{}, domain.ErrLearnerNotFound
	}
	return data.clone().learner, nil
}

func (s *Store) FindLearnerByEmail(ctx context.Context, email string) (domain.Learner, error) {
	s.mu.RLock()
	id, ok := s.byEmail[strings.ToLower(strings.TrimSpace(email))]
	s.mu.RUnlock()
	if !ok {
		return domain.Learner{}, domain.ErrLearnerNotFound
	}
	return s.Learner(ctx, id)
}

func (s *Store) InTx(ctx context.Context, learnerID string, fn func(ctx context.Context, tx app.Tx) error) error {
	unlock := s.locks.Lock(learnerID)
	defer unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	current, ok := s.learners[learnerID]
	var data *learnerData
	if ok {
		data = current.clone()
	}
	s.mu.RUnlock()

	tx := &memTx{store: s, learnerID: learnerID, data: data, enrollments: make(map[string]domain.Enrollment)}
	if err := fn(ctx, tx); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range tx.enrollments {
		if err := s.enrollmentWritable(e); err != nil {
			return err
		}
	}
	if tx.data != nil {
		s.learners[learnerID] = tx.data
	}
	for id, e := range tx.enrollments {
		s.enrollments[id] = e
	}
	return nil
}

func (s *Store) ListModuleProgress(_ context.Context, learnerID string) ([]domain.ModuleProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.learners[learnerID]
	if !ok {
		return nil, domain.ErrLearnerNotFound
	}
	return sortedProgress(data.modules), nil
}

func (s *Store) AchievementProgress(_ context.Context, learnerID string) (domain.AchievementProgress, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.learners[learnerID]
	if !ok {
		return domain.AchievementProgress{}, domain.ErrLearnerNotFound
	}
	return data.achievements.Clone(), nil
}

func (s *Store) ListAttempts(_ context.Context, learnerID, moduleID string) ([]domain.QuizAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.learners[learnerID]
	if !ok {
		return nil, domain.ErrLearnerNotFound
	}
	return append([]domain.QuizAttempt(nil), data.attempts[moduleID]...), nil
}

func (s *Store) Enrollment(_ context.Context, sessionID string) (domain.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.enrollments[sessionID]
	if !ok {
		return domain.Enrollment{}, domain.ErrEnrollmentNotFound
	}
	return e, nil
}

func (s *Store) SaveEnrollment(_ context.Context, e domain.Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enrollmentWritable(e); err != nil {
		return err
	}
	s.enrollments[e.SessionID] = e
	return nil
}

// enrollmentWritable must be called with s.mu held. Synced enrollments are terminal.
func (s *Store) enrollmentWritable(e domain.Enrollment) error {
	if stored, ok := s.enrollments[e.SessionID]; ok && stored.Synced() {
		return domain.ErrEnrollmentSynced
	}
	return nil
}

func (s *Store) PendingEnrollments(_ context.Context, olderThan time.Time, limit int) ([]domain.Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []domain.Enrollment
	for _, e := range s.enrollments {
		if e.Synced() || e.UpdatedAt.After(olderThan) {
			continue
		}
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.Before(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func sortedProgress(m map[string]domain.ModuleProgress) []domain.ModuleProgress {
	out := make([]domain.ModuleProgress, 0, len(m))
	for _, p := range m {
		out = append(out, p.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ModuleID < out[j].ModuleID })
	return out
}

// memTx works on a private copy of one learner's data.
type memTx struct {
	store       *Store
	learnerID   string
	data        *learnerData
	enrollments map[string]domain.Enrollment
}

func (t *memTx) Learner() (domain.Learner, error) {
	if t.data == nil {
		return domain.Learner{}, domain.ErrLearnerNotFound
	}
	return t.data.learner, nil
}

func (t *memTx) AddXP(amount int) (int, error) {
	if t.data == nil {
		return 0, domain.ErrLearnerNotFound
	}
	t.data.learner.TotalXP += amount
	return t.data.learner.TotalXP, nil
}

func (t *memTx) MarkEnrolled(at time.Time) (bool, error) {
	if t.data == nil {
		return false, domain.ErrLearnerNotFound
	}
	if t.data.learner.EnrolledAt != nil {
		return false, nil
	}
	t.data.learner.EnrolledAt = &at
	return true, nil
}

func (t *memTx) ModuleProgress(moduleID string) (domain.ModuleProgress, error) {
	if t.data == nil {
		return domain.ModuleProgress{}, domain.ErrLearnerNotFound
	}
	if p, ok := t.data.modules[moduleID]; ok {
		return p.Clone(), nil
	}
	return domain.NewModuleProgress(t.learnerID, moduleID), nil
}

func (t *memTx) SaveModuleProgress(p domain.ModuleProgress) error {
	if t.data == nil {
		return domain.ErrLearnerNotFound
	}
	t.data.modules[p.ModuleID] = p.Clone()
	return nil
}

func (t *memTx) CountAttempts(moduleID string) (int, error) {
	if t.data == nil {
		return 0, domain.ErrLearnerNotFound
	}
	return len(t.data.attempts[moduleID]), nil
}

func (t *memTx) AppendAttempt(a domain.QuizAttempt) error {
	if t.data == nil {
		return domain.ErrLearnerNotFound
	}
	a.Answers = append([]domain.AttemptAnswer(nil), a.Answers...)
	t.data.attempts[a.ModuleID] = append(t.data.attempts[a.ModuleID], a)
	return nil
}

func (t *memTx) ListAttempts(moduleID string) ([]domain.QuizAttempt, error) {
	if t.data == nil {
		return nil, domain.ErrLearnerNotFound
	}
	return append([]domain.QuizAttempt(nil), t.data.attempts[moduleID]...), nil
}

func (t *memTx) AchievementProgress() (domain.AchievementProgress, error) {
	if t.data == nil {
		return domain.AchievementProgress{}, domain.ErrLearnerNotFound
	}
	return t.data.achievements.Clone(), nil
}

func (t *memTx) SaveAchievementProgress(p domain.AchievementProgress) error {
	if t.data == nil {
		return domain.ErrLearnerNotFound
	}
	p.LearnerID = t.learnerID
	t.data.achievements = p.Clone()
	return nil
}

func (t *memTx) HasUnlock(moduleID string) (bool, error) {
	if t.data == nil {
		return false, domain.ErrLearnerNotFound
	}
	_, ok := t.data.unlocks[moduleID]
	return ok, nil
}

func (t *memTx) CreateUnlock(u domain.ModuleUnlock) (bool, error) {
	if t.data == nil {
		return false, domain.ErrLearnerNotFound
	}
	if _, ok := t.data.unlocks[u.ModuleID]; ok {
		return false, nil
	}
	t.data.unlocks[u.ModuleID] = u
	return true, nil
}

func (t *memTx) SaveEnrollment(e domain.Enrollment) error {
	t.store.mu.RLock()
	err := t.store.enrollmentWritable(e)
	t.store.mu.RUnlock()
	if err != nil {
		return err
	}
	t.enrollments[e.SessionID] = e
	return nil
}
