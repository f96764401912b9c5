package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alem-hub/study-buddy/internal/domain/session"
	"github.com/alem-hub/study-buddy/internal/domain/shared"
)

func newTestBoard(t *testing.T) (*StudyBoard, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewStudyBoard(NewCacheWithClient(client, "test:"), time.Hour), mr
}

func TestStudyBoard_MinutesRankTop(t *testing.T) {
	ctx := context.Background()
	board, mr := newTestBoard(t)

	require.NoError(t, board.AddMinutes(ctx, "2025-03-10", "alice", 25))
	require.NoError(t, board.AddMinutes(ctx, "2025-03-10", "bob", 40))
	require.NoError(t, board.AddMinutes(ctx, "2025-03-10", "alice", 25))
	require.NoError(t, board.AddMinutes(ctx, "2025-03-10", "carol", 0))
	require.NoError(t, board.AddMinutes(ctx, "2025-03-11", "carol", 90))

	m, err := board.Minutes(ctx, "2025-03-10", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(50), m)

	rank, err := board.Rank(ctx, "2025-03-10", "alice")
	require.NoError(t, err)
	assert.Equal(t, int64(1), rank)

	rank, err = board.Rank(ctx, "2025-03-10", "carol")
	require.NoError(t, err)
	assert.Zero(t, rank)

	top, err := board.Top(ctx, "2025-03-10", 5)
	require.NoError(t, err)
	assert.Equal(t, []session.BoardEntry{
		{Owner: "alice", Minutes: 50},
		{Owner: "bob", Minutes: 40},
	}, top)

	top, err = board.Top(ctx, "2025-03-10", 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)

	assert.True(t, mr.Exists("test:board:2025-03-10"))
	assert.Equal(t, time.Hour, mr.TTL("test:board:2025-03-10"))
}

func TestStudyBoard_DayKeysExpire(t *testing.T) {
	ctx := context.Background()
	board, mr := newTestBoard(t)

	require.NoError(t, board.AddMinutes(ctx, "2025-03-10", "alice", 25))
	mr.FastForward(2 * time.Hour)

	m, err := board.Minutes(ctx, "2025-03-10", "alice")
	require.NoError(t, err)
	assert.Zero(t, m)
}

func TestStudyBoard_StudyingNow(t *testing.T) {
	ctx := context.Background()
	board, _ := newTestBoard(t)

	require.NoError(t, board.MarkStudying(ctx, "alice"))
	require.NoError(t, board.MarkStudying(ctx, "bob"))
	require.NoError(t, board.MarkStudying(ctx, "alice"))
	require.NoError(t, board.ClearStudying(ctx, "bob"))

	owners, err := board.StudyingNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, []session.Owner{"alice"}, owners)

	require.NoError(t, board.ResetStudying(ctx))
	owners, err = board.StudyingNow(ctx)
	require.NoError(t, err)
	assert.Empty(t, owners)
}

func TestNewCache(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := DefaultConfig()
	cfg.URL = "redis://" + mr.Addr() + "/0"
	cache, err := NewCache(context.Background(), cfg)
	require.NoError(t, err)
	defer cache.Close()

	assert.NoError(t, cache.Ping(context.Background()))
	assert.Equal(t, "studybuddy:board:2025-03-10", cache.Key("board", "2025-03-10"))

	mr.Close()
	_, err = NewCache(context.Background(), cfg)
	assert.ErrorIs(t, err, ErrCacheConnection)
}

func TestStudyBoard_OutageIsRetryable(t *testing.T) {
	board, mr := newTestBoard(t)
	mr.Close()

	err := board.AddMinutes(context.Background(), "2025-03-10", "alice", 25)
	require.Error(t, err)
	assert.True(t, shared.IsRetryable(err))
	assert.Contains(t, err.Error(), "board.AddMinutes")

	_, err = board.Top(context.Background(), "2025-03-10", 3)
	assert.ErrorIs(t, err, shared.ErrServiceUnavailable)
}
