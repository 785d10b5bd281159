package redis

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"course-progression-engine/internal/domain"
)

const (
	fieldStartedAt   = "startedAt"
	fieldCompletedAt = "completedAt"
)

// ChecklistStore keeps preview-day checklists in Redis so they survive
// restarts and are shared by every instance.
//
//	HSET  progression:checklist:{learner}:{day}:items {itemID} {checkedAt}
//	HSETNX progression:checklist:{learner}:{day}:meta startedAt|completedAt {ts}
//	SADD  progression:checklist:{learner}:days {day}
//
// completedAt is written with HSETNX so the first completion wins even when
// two toggles race.
type ChecklistStore struct {
	client *redis.Client
}

func NewChecklistStore(client *redis.Client) *ChecklistStore {
	return &ChecklistStore{client: client}
}

func (s *ChecklistStore) Checklist(ctx context.Context, learnerID string, day domain.Day) (domain.ChecklistProgress, error) {
	out := domain.ChecklistProgress{LearnerID: learnerID, Day: day.Number, CompletedItems: []string{}}

	pipe := s.client.Pipeline()
	itemsCmd := pipe.HGetAll(ctx, s.itemsKey(learnerID, day.Number))
	metaCmd := pipe.HMGet(ctx, s.metaKey(learnerID, day.Number), fieldStartedAt, fieldCompletedAt)
	if _, err := pipe.Exec(ctx); err != nil && !isNil(err) {
		return out, fmt.Errorf("read checklist: %w", err)
	}

	items := itemsCmd.Val()
	ids := make(map[string]struct{}, len(items))
	for id := range items {
		ids[id] = struct{}{}
	}
	out.CompletedItems = day.Ordered(ids)

	meta := metaCmd.Val()
	var err error
	if out.StartedAt, err = parseTime(meta, 0); err != nil {
		return out, err
	}
	if out.CompletedAt, err = parseTime(meta, 1); err != nil {
		return out, err
	}
	return out, nil
}

func (s *ChecklistStore) SetItem(ctx context.Context, learnerID string, day int, itemID string, done bool, at time.Time) error {
	pipe := s.client.TxPipeline()
	key := s.itemsKey(learnerID, day)
	if done {
		pipe.HSet(ctx, key, itemID, formatTime(at))
	} else {
		pipe.HDel(ctx, key, itemID)
	}
	pipe.SAdd(ctx, s.daysKey(learnerID), day)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *ChecklistStore) MarkStarted(ctx context.Context, learnerID string, day int, at time.Time) error {
	pipe := s.client.TxPipeline()
	pipe.HSetNX(ctx, s.metaKey(learnerID, day), fieldStartedAt, formatTime(at))
	pipe.SAdd(ctx, s.daysKey(learnerID), day)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *ChecklistStore) MarkCompleted(ctx context.Context, learnerID string, day int, at time.Time) (bool, error) {
	pipe := s.client.TxPipeline()
	set := pipe.HSetNX(ctx, s.metaKey(learnerID, day), fieldCompletedAt, formatTime(at))
	pipe.SAdd(ctx, s.daysKey(learnerID), day)
	if _, err := pipe.Exec(ctx); err != nil {
		return false, err
	}
	return set.Val(), nil
}

func (s *ChecklistStore) Days(ctx context.Context, learnerID string) ([]int, error) {
	members, err := s.client.SMembers(ctx, s.daysKey(learnerID)).Result()
	if err != nil && !isNil(err) {
		return nil, err
	}
	out := make([]int, 0, len(members))
	for _, m := range members {
		n, err := strconv.Atoi(m)
		if err != nil {
			continue
		}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}

func (s *ChecklistStore) itemsKey(learnerID string, day int) string {
	return "progression:checklist:" + learnerID + ":" + strconv.Itoa(day) + ":items"
}

func (s *ChecklistStore) metaKey(learnerID string, day int) string {
	return "progression:checklist:" + learnerID + ":" + strconv.Itoa(day) + ":meta"
}

func (s *ChecklistStore) daysKey(learnerID string) string {
	return "progression:checklist:" + learnerID + ":days"
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(vals []interface{}, i int) (*time.Time, error) {
	if i >= len(vals) || vals[i] == nil {
		return nil, nil
	}
	s, ok := vals[i].(string)
	if !ok || s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("parse checklist timestamp %q: %w", s, err)
	}
	return &t, nil
}
