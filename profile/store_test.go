package profile

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var defaults = Voice{Speaker: "1", Speed: 1}

func newStore(t *testing.T) (*miniredis.Miniredis, *Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return mr, NewStore(rdb, defaults)
}

func TestVoiceDefaults(t *testing.T) {
	_, s := newStore(t)
	assert.Equal(t, defaults, s.Voice(context.Background(), "u1"))

	p, err := s.Get(context.Background(), "u1")
	require.NoError(t, err)
	assert.Nil(t, p)
}

func TestSetVoice(t *testing.T) {
	mr, s := newStore(t)
	ctx := context.Background()

	v, err := s.SetVoice(ctx, "u1", Voice{Speaker: "8"})
	require.NoError(t, err)
	assert.Equal(t, Voice{Speaker: "8", Speed: 1}, v)
	assert.True(t, mr.Exists("dex-tts-service:profile:u1"))

	v, err = s.SetVoice(ctx, "u1", Voice{Speed: 1.5})
	require.NoError(t, err)
	assert.Equal(t, Voice{Speaker: "8", Speed: 1.5}, v, "unset fields are kept")

	assert.Equal(t, defaults, s.Voice(ctx, "u2"))
}

func TestSetVoiceRejectsBadSpeed(t *testing.T) {
	_, s := newStore(t)
	_, err := s.SetVoice(context.Background(), "u1", Voice{Speed: 3})
	assert.ErrorIs(t, err, ErrInvalidSpeed)
}

func TestVoiceFallsBackOnBadData(t *testing.T) {
	mr, s := newStore(t)
	require.NoError(t, mr.Set("dex-tts-service:profile:u1", "{not json"))

	_, err := s.Get(context.Background(), "u1")
	assert.Error(t, err)
	assert.Equal(t, defaults, s.Voice(context.Background(), "u1"))
}

func TestVoiceRedisDown(t *testing.T) {
	mr, s := newStore(t)
	mr.Close()
	assert.Equal(t, defaults, s.Voice(context.Background(), "u1"))
}

func TestStoreWithoutRedis(t *testing.T) {
	s := NewStore(nil, defaults)
	assert.Equal(t, defaults, s.Voice(context.Background(), "u1"))
	_, err := s.SetVoice(context.Background(), "u1", Voice{Speaker: "2"})
	assert.Error(t, err)
}
