package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/atinyakov/ozon/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCache(t *testing.T, maxTTL time.Duration) (*RedisSessionCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisSessionCache(client, maxTTL), mr
}

func TestRedisSessionCache_RoundTrip(t *testing.T) {
	c, mr := newCache(t, 0)
	ctx := context.Background()
	s := &models.Session{
		Token:          "tok",
		UID:            "alice",
		Active:         true,
		ExpireDatetime: time.Now().Add(time.Hour).UTC().Truncate(time.Second),
		User:           map[string]any{"uid": "alice"},
	}
	require.NoError(t, c.Set(ctx, s))
	assert.True(t, mr.Exists("ozon:session:tok"))

	got, err := c.Get(ctx, "tok")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "alice", got.UID)
	assert.True(t, got.ExpireDatetime.Equal(s.ExpireDatetime))

	ttl := mr.TTL("ozon:session:tok")
	assert.InDelta(t, time.Hour.Seconds(), ttl.Seconds(), 5)

	require.NoError(t, c.Delete(ctx, "tok"))
	got, err = c.Get(ctx, "tok")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSessionCache_TTL(t *testing.T) {
	c, mr := newCache(t, time.Minute)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, &models.Session{Token: "a", Active: true, ExpireDatetime: time.Now().Add(time.Hour)}))
	assert.Equal(t, time.Minute, mr.TTL("ozon:session:a"))

	mr.FastForward(2 * time.Minute)
	got, err := c.Get(ctx, "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestRedisSessionCache_SkipsDeadSessions(t *testing.T) {
	c, mr := newCache(t, 0)
	ctx := context.Background()
	require.NoError(t, c.Set(ctx, &models.Session{Token: "x", Active: true, ExpireDatetime: time.Now().Add(time.Hour)}))

	require.NoError(t, c.Set(ctx, &models.Session{Token: "x", Active: false, ExpireDatetime: time.Now().Add(time.Hour)}))
	assert.False(t, mr.Exists("ozon:session:x"), "logout evicts")

	require.NoError(t, c.Set(ctx, &models.Session{Token: "y", Active: true, ExpireDatetime: time.Now().Add(-time.Second)}))
	assert.False(t, mr.Exists("ozon:session:y"))
}

func TestRedisSessionCache_Unavailable(t *testing.T) {
	c, mr := newCache(t, 0)
	mr.Close()
	_, err := c.Get(context.Background(), "tok")
	assert.Error(t, err)
}

func TestDial(t *testing.T) {
	mr := miniredis.RunT(t)
	client, err := Dial(context.Background(), "redis://"+mr.Addr()+"/0")
	require.NoError(t, err)
	client.Close()

	_, err = Dial(context.Background(), "not a url")
	assert.Error(t, err)
}
