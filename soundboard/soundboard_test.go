package soundboard

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/EasterCompany/dex-tts-service/audio"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeEncoder turns the file content into a single frame.
type fakeEncoder struct {
	calls atomic.Int32
}

func (f *fakeEncoder) Encode(_ context.Context, label string, r io.Reader) (*audio.Clip, error) {
	f.calls.Add(1)
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if strings.HasPrefix(string(data), "corrupt") {
		return nil, audio.ErrEncode
	}
	return audio.NewClip(label, [][]byte{data}), nil
}

func firstFrame(t *testing.T, h *audio.Handle) string {
	t.Helper()
	f, err := h.NextFrame()
	require.NoError(t, err)
	return string(f)
}

func TestLoadLibrary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "nested"), 0755))
	files := map[string]string{
		"URL.wav":         "url-sound",
		"nested/bell.mp3": "bell",
		"broken.opus":     "corrupt data",
		".hidden.wav":     "hidden",
		"README":          "no extension",
		"nested/URL.ogg":  "duplicate",
	}
	for name, content := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0644))
	}

	lib, err := Load(context.Background(), dir, &fakeEncoder{}, 2)
	require.NoError(t, err)

	assert.Equal(t, []string{"URL", "bell"}, lib.Names())
	assert.Equal(t, 2, lib.Len())

	h, ok := lib.Get(URLSound)
	require.True(t, ok)
	assert.Equal(t, "url-sound", firstFrame(t, h), "the first path in walk order wins")

	_, ok = lib.Get("broken")
	assert.False(t, ok)
}

func TestLoadLibraryEmptyDir(t *testing.T) {
	lib, err := Load(context.Background(), "", &fakeEncoder{}, 1)
	require.NoError(t, err)
	assert.Equal(t, 0, lib.Len())
}

func TestLoadLibraryMissingDir(t *testing.T) {
	_, err := Load(context.Background(), filepath.Join(t.TempDir(), "nope"), &fakeEncoder{}, 1)
	assert.Error(t, err)
}

func TestLibraryHandlesAreIndependent(t *testing.T) {
	lib := NewLibrary(map[string]*audio.Clip{"a": audio.NewClip("a", [][]byte{{1}, {2}})})
	h1, _ := lib.Get("a")
	h2, _ := lib.Get("a")
	_, _ = h1.NextFrame()
	assert.Equal(t, 1, h1.Remaining())
	assert.Equal(t, 2, h2.Remaining())
}

func newResolver(t *testing.T, opts ...ResolverOption) (*miniredis.Miniredis, *RedisResolver) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	r, err := NewRedisResolver(rdb, 16, opts...)
	require.NoError(t, err)
	return mr, r
}

func TestResolvePersistedSound(t *testing.T) {
	_, r := newResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, 42, 7, audio.NewClip("42", [][]byte{[]byte("guild-sound")})))

	// Fresh resolver on the same redis to bypass the memo.
	other, err := NewRedisResolver(r.rdb, 16)
	require.NoError(t, err)

	h, err := other.Resolve(ctx, 42, 7)
	require.NoError(t, err)
	assert.Equal(t, "guild-sound", firstFrame(t, h))

	h, err = other.Resolve(ctx, 42, 0)
	require.NoError(t, err)
	assert.Equal(t, "guild-sound", firstFrame(t, h))
}

func TestResolveFallsBackToBareID(t *testing.T) {
	mr, r := newResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, 5, 0, audio.NewClip("5", [][]byte{[]byte("global")})))
	assert.False(t, mr.Exists(SoundKey(5, 99)))

	other, err := NewRedisResolver(r.rdb, 16)
	require.NoError(t, err)
	h, err := other.Resolve(ctx, 5, 99)
	require.NoError(t, err)
	assert.Equal(t, "global", firstFrame(t, h))
}

func TestResolveMemoIsGuildScoped(t *testing.T) {
	_, r := newResolver(t)
	ctx := context.Background()

	require.NoError(t, r.Put(ctx, 9, 0, audio.NewClip("9", [][]byte{[]byte("global")})))
	require.NoError(t, r.rdb.Set(ctx, SoundKey(9, 1), mustOgg(t, "guild-one"), 0).Err())

	other, err := NewRedisResolver(r.rdb, 16)
	require.NoError(t, err)
	for range 2 {
		h, err := other.Resolve(ctx, 9, 1)
		require.NoError(t, err)
		assert.Equal(t, "guild-one", firstFrame(t, h))

		h, err = other.Resolve(ctx, 9, 2)
		require.NoError(t, err)
		assert.Equal(t, "global", firstFrame(t, h), "guild 2 must not see guild 1's sound")

		h, err = other.Resolve(ctx, 9, 0)
		require.NoError(t, err)
		assert.Equal(t, "global", firstFrame(t, h))
	}
}

func mustOgg(t *testing.T, frame string) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, audio.WriteOgg(&buf, audio.NewClip(frame, [][]byte{[]byte(frame)})))
	return buf.Bytes()
}

func TestResolveNotFound(t *testing.T) {
	_, r := newResolver(t)
	_, err := r.Resolve(context.Background(), 1, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolveFetchesFromCDN(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		switch r.URL.Path {
		case "/soundboard-sounds/1234":
			_, _ = w.Write([]byte("cdn-audio"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	enc := &fakeEncoder{}
	mr, r := newResolver(t, WithFetcher(NewCDNFetcher(srv.URL+"/soundboard-sounds", time.Second), enc))
	ctx := context.Background()

	h, err := r.Resolve(ctx, 1234, 0)
	require.NoError(t, err)
	assert.Equal(t, "cdn-audio", firstFrame(t, h))
	assert.True(t, mr.Exists(SoundKey(1234, 0)), "fetched sounds are persisted")

	_, err = r.Resolve(ctx, 1234, 0)
	require.NoError(t, err)
	assert.Equal(t, int32(1), hits.Load(), "second lookup is memoized")
	assert.Equal(t, int32(1), enc.calls.Load())

	_, err = r.Resolve(ctx, 999, 0)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCDNFetcherServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	_, err := NewCDNFetcher(srv.URL, time.Second).Fetch(context.Background(), 1)
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrNotFound))
}

func TestSoundKey(t *testing.T) {
	assert.Equal(t, "dex-tts-service:sound:5", SoundKey(5, 0))
	assert.Equal(t, "dex-tts-service:sound:9:5", SoundKey(5, 9))
}
