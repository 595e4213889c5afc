package cache

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestStore(t *testing.T, opts StoreOptions) (*RedisStore, *miniredis.Miniredis, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	clock := time.Unix(1_700_000_000, 0)
	s := NewRedisStore(client, opts)
	s.now = func() time.Time { return clock }
	return s, mr, &clock
}

func TestCurrentMintsOnceAndKeeps(t *testing.T) {
	s, mr, clock := setupTestStore(t, StoreOptions{})
	ctx := context.Background()

	first, err := s.Current(ctx, "/api/workspaces/w1/tasks/")
	require.NoError(t, err)
	assert.Equal(t, clock.Unix(), first)

	*clock = clock.Add(time.Minute)
	second, err := s.Current(ctx, "/api/workspaces/w1/tasks/")
	require.NoError(t, err)
	assert.Equal(t, first, second, "existing timestamp must not be re-minted")

	raw, err := mr.Get(timestampPrefix + "/api/workspaces/w1/tasks/")
	require.NoError(t, err)
	assert.Equal(t, "1700000000", raw)
}

func TestBumpIsMonotonicWithinOneSecond(t *testing.T) {
	s, _, _ := setupTestStore(t, StoreOptions{})
	ctx := context.Background()

	minted, err := s.Current(ctx, "k")
	require.NoError(t, err)
	bumped, err := s.Bump(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, bumped, minted)

	again, err := s.Bump(ctx, "k")
	require.NoError(t, err)
	assert.Greater(t, again, bumped)
}

func TestBumpUsesClockWhenAhead(t *testing.T) {
	s, _, clock := setupTestStore(t, StoreOptions{})
	ctx := context.Background()

	_, err := s.Current(ctx, "k")
	require.NoError(t, err)
	*clock = clock.Add(time.Hour)
	bumped, err := s.Bump(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, clock.Unix(), bumped)
}

func TestTimestampTTL(t *testing.T) {
	s, mr, _ := setupTestStore(t, StoreOptions{TTL: time.Hour})
	ctx := context.Background()

	_, err := s.Current(ctx, "minted")
	require.NoError(t, err)
	_, err = s.Bump(ctx, "bumped")
	require.NoError(t, err)

	assert.Equal(t, time.Hour, mr.TTL(timestampPrefix+"minted"))
	assert.Equal(t, time.Hour, mr.TTL(timestampPrefix+"bumped"))
}

func TestDeleteForcesFreshMint(t *testing.T) {
	s, mr, clock := setupTestStore(t, StoreOptions{})
	ctx := context.Background()

	_, err := s.Bump(ctx, "k")
	require.NoError(t, err)
	require.NoError(t, s.Delete(ctx, "k"))
	assert.False(t, mr.Exists(timestampPrefix+"k"))

	*clock = clock.Add(5 * time.Second)
	ts, err := s.Current(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, clock.Unix(), ts)
}

func TestBumpPublishesUpdate(t *testing.T) {
	s, _, _ := setupTestStore(t, StoreOptions{Channel: "resource-updates"})
	ctx := context.Background()

	sub := s.client.Subscribe(ctx, "resource-updates")
	defer sub.Close()
	_, err := sub.Receive(ctx)
	require.NoError(t, err)

	ts, err := s.Bump(ctx, "/api/workspaces/w1/tasks/")
	require.NoError(t, err)

	msg, err := sub.ReceiveMessage(ctx)
	require.NoError(t, err)
	var update Update
	require.NoError(t, json.Unmarshal([]byte(msg.Payload), &update))
	assert.Equal(t, "/api/workspaces/w1/tasks/", update.Key)
	assert.Equal(t, Validator(ts), update.Timestamp)
}

func TestRecordReader(t *testing.T) {
	s, mr, _ := setupTestStore(t, StoreOptions{})
	ctx := context.Background()

	require.NoError(t, s.RecordReader(ctx, "/api/workspaces/w1/tasks/", "u1"))
	require.NoError(t, s.RecordReader(ctx, "/api/workspaces/w1/tasks/", "u1"))

	readers, err := s.Readers(ctx, "/api/workspaces/w1/tasks/")
	require.NoError(t, err)
	assert.Equal(t, []string{"u1"}, readers)

	members, err := mr.Members(userResourcesKey + "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"/api/workspaces/w1/tasks/"}, members)
}

func TestValidator(t *testing.T) {
	assert.Equal(t, `W/"42"`, Validator(42))
}
