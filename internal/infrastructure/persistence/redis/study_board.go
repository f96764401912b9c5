package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// STUDY BOARD
// One sorted set per day (member = owner, score = minutes) and one set of
// owners with a running session.
// ══════════════════════════════════════════════════════════════════════════════

// DefaultBoardTTL keeps a week of boards plus a day of slack.
const DefaultBoardTTL = 8 * 24 * time.Hour

// StudyBoard implements session.StudyBoard.
type StudyBoard struct {
	cache *Cache
	ttl   time.Duration
}

// NewStudyBoard creates the board; day keys expire ttl after their last write.
func NewStudyBoard(cache *Cache, ttl time.Duration) *StudyBoard {
	if ttl <= 0 {
		ttl = DefaultBoardTTL
	}
	return &StudyBoard{cache: cache, ttl: ttl}
}

func (b *StudyBoard) dayKey(day string) string { return b.cache.Key("board", day) }

func (b *StudyBoard) studyingKey() string { return b.cache.Key("studying") }

// AddMinutes credits minutes to the owner's total for day.
func (b *StudyBoard) AddMinutes(ctx context.Context, day string, owner session.Owner, minutes int64) error {
	if minutes <= 0 {
		return nil
	}

	key := b.dayKey(day)
	pipe := b.cache.Client().TxPipeline()
	pipe.ZIncrBy(ctx, key, float64(minutes), string(owner))
	pipe.Expire(ctx, key, b.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return boardError("AddMinutes", err)
	}
	return nil
}

// Minutes returns the owner's total for day, 0 when absent.
func (b *StudyBoard) Minutes(ctx context.Context, day string, owner session.Owner) (int64, error) {
	score, err := b.cache.Client().ZScore(ctx, b.dayKey(day), string(owner)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, boardError("Minutes", err)
	}
	return int64(score), nil
}

// Rank returns the owner's 1-based position for day, 0 when absent.
func (b *StudyBoard) Rank(ctx context.Context, day string, owner session.Owner) (int64, error) {
	rank, err := b.cache.Client().ZRevRank(ctx, b.dayKey(day), string(owner)).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, boardError("Rank", err)
	}
	return rank + 1, nil
}

// Top returns the n owners with the most minutes for day.
func (b *StudyBoard) Top(ctx context.Context, day string, n int) ([]session.BoardEntry, error) {
	if n <= 0 {
		return nil, nil
	}

	zs, err := b.cache.Client().ZRevRangeWithScores(ctx, b.dayKey(day), 0, int64(n-1)).Result()
	if err != nil {
		return nil, boardError("Top", err)
	}

	entries := make([]session.BoardEntry, 0, len(zs))
	for _, z := range zs {
		member, _ := z.Member.(string)
		entries = append(entries, session.BoardEntry{
			Owner:   session.Owner(member),
			Minutes: int64(z.Score),
		})
	}
	return entries, nil
}

// MarkStudying adds the owner to the "studying now" set.
func (b *StudyBoard) MarkStudying(ctx context.Context, owner session.Owner) error {
	if err := b.cache.Client().SAdd(ctx, b.studyingKey(), string(owner)).Err(); err != nil {
		return boardError("MarkStudying", err)
	}
	return nil
}

// ClearStudying removes the owner from the "studying now" set.
func (b *StudyBoard) ClearStudying(ctx context.Context, owner session.Owner) error {
	if err := b.cache.Client().SRem(ctx, b.studyingKey(), string(owner)).Err(); err != nil {
		return boardError("ClearStudying", err)
	}
	return nil
}

// StudyingNow lists owners with a running session.
func (b *StudyBoard) StudyingNow(ctx context.Context) ([]session.Owner, error) {
	members, err := b.cache.Client().SMembers(ctx, b.studyingKey()).Result()
	if err != nil {
		return nil, boardError("StudyingNow", err)
	}

	owners := make([]session.Owner, len(members))
	for i, m := range members {
		owners[i] = session.Owner(m)
	}
	return owners, nil
}

// ResetStudying empties the "studying now" set. Sessions live in process
// memory, so a fresh process starts with nobody studying.
func (b *StudyBoard) ResetStudying(ctx context.Context) error {
	if err := b.cache.Client().Del(ctx, b.studyingKey()).Err(); err != nil {
		return boardError("ResetStudying", err)
	}
	return nil
}

// boardError tags a Redis failure. Every failure of the board is a
// backing-service failure and may be retried.
func boardError(op string, err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return shared.WrapError("board", op, shared.ErrTimeout, "redis timed out", err)
	}
	return shared.WrapError("board", op, shared.ErrServiceUnavailable, "redis unavailable", err)
}
