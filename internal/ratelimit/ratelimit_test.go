package ratelimit

import (
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestAllowWithinLimit(t *testing.T) {
	l := newTestLimiter(t)
	scope := Scope{Name: "test_scope", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(scope, "user-1")
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestAllowRejectsOverLimit(t *testing.T) {
	l := newTestLimiter(t)
	scope := Scope{Name: "test_scope_2", Limit: 2, Window: time.Minute}

	for i := 0; i < 2; i++ {
		ok, err := l.Allow(scope, "user-2")
		require.NoError(t, err)
		assert.True(t, ok)
	}

	ok, err := l.Allow(scope, "user-2")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestAllowTracksIdentitiesIndependently(t *testing.T) {
	l := newTestLimiter(t)
	scope := Scope{Name: "test_scope_3", Limit: 1, Window: time.Minute}

	ok, err := l.Allow(scope, "user-a")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = l.Allow(scope, "user-b")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestIdentityPrefersUserOverIP(t *testing.T) {
	assert.Equal(t, "user-abc", Identity("abc", "1.2.3.4"))
	assert.Equal(t, "ip-1.2.3.4", Identity("", "1.2.3.4"))
}
