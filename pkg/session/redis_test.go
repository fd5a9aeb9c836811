package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedis(t *testing.T, prefix string) (*Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	nop := zerolog.Nop()
	mgr, err := NewManager(Config{Backend: NewRedisBackend(client, prefix), TTL: time.Hour, Logger: &nop})
	require.NoError(t, err)
	t.Cleanup(func() { mgr.Close() })
	return mgr, mr
}

func TestRedisBackend_KeyLayout(t *testing.T) {
	mgr, mr := setupRedis(t, "")

	_, err := mgr.Create(context.Background(), "abc", "app", "u")
	require.NoError(t, err)

	assert.True(t, mr.Exists("adk:session:abc"))
	assert.Equal(t, time.Hour, mr.TTL("adk:session:abc"))

	raw, err := mr.Get("adk:session:abc")
	require.NoError(t, err)
	assert.Contains(t, raw, `"created_at"`)
	assert.Contains(t, raw, `"appName":"app"`)
}

func TestRedisBackend_ReadsForeignRecords(t *testing.T) {
	mgr, mr := setupRedis(t, "")

	require.NoError(t, mr.Set("adk:session:py", `{
		"id": "py",
		"app_name": "shop",
		"user_id": "u9",
		"created_at": 1700000000,
		"state": {"cart": ["sku-1"]},
		"events": [{"content": {"parts": [{"text": "no author"}]}}, {"author": "user"}]
	}`))

	sess, err := mgr.Get(context.Background(), "py")
	require.NoError(t, err)

	assert.Equal(t, "shop", sess.AppName)
	assert.Equal(t, "u9", sess.UserID)
	assert.Equal(t, []any{"sku-1"}, sess.State["cart"])
	assert.Empty(t, sess.Events)
}

func TestRedisBackend_ListIgnoresOtherPrefixes(t *testing.T) {
	mgr, mr := setupRedis(t, "demo:sessions")

	for _, id := range []string{"1", "2"} {
		_, err := mgr.Create(context.Background(), id, "app", "u")
		require.NoError(t, err)
	}
	require.NoError(t, mr.Set("adk:session:other", `{"id":"other","userId":"u"}`))
	require.NoError(t, mr.Set("demo:sessions:corrupt", `not json`))

	sessions, err := mgr.List(context.Background(), "u")
	require.NoError(t, err)
	assert.Len(t, sessions, 2)
}

func TestRedisBackend_ConnectionErrorsPropagate(t *testing.T) {
	mgr, mr := setupRedis(t, "")
	mr.Close()

	_, err := mgr.Get(context.Background(), "x")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}
