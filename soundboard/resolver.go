package soundboard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/EasterCompany/dex-tts-service/audio"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const keyPrefix = "dex-tts-service:sound:"

// Resolver looks up a soundboard sound by ID. guildID is zero when the
// reference names no guild.
type Resolver interface {
	Resolve(ctx context.Context, soundID, guildID uint64) (*audio.Handle, error)
}

// Fetcher downloads the original audio of a sound.
type Fetcher interface {
	Fetch(ctx context.Context, soundID uint64) (io.ReadCloser, error)
}

// CDNFetcher downloads sounds from the Discord CDN.
type CDNFetcher struct {
	baseURL    string
	httpClient *http.Client
}

// NewCDNFetcher creates a fetcher for baseURL, e.g.
// https://cdn.discordapp.com/soundboard-sounds/
func NewCDNFetcher(baseURL string, timeout time.Duration) *CDNFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &CDNFetcher{
		baseURL:    strings.TrimRight(baseURL, "/") + "/",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch implements Fetcher. A 404 maps to ErrNotFound.
func (f *CDNFetcher) Fetch(ctx context.Context, soundID uint64) (io.ReadCloser, error) {
	url := f.baseURL + strconv.FormatUint(soundID, 10)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("could not fetch sound %d: %w", soundID, err)
	}
	switch {
	case resp.StatusCode == http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case resp.StatusCode != http.StatusOK:
		resp.Body.Close()
		return nil, fmt.Errorf("could not fetch sound %d: status %d", soundID, resp.StatusCode)
	}
	return resp.Body, nil
}

// RedisResolver finds sounds persisted in Redis as Ogg/Opus, filling misses
// from a Fetcher when one is configured. Resolved sounds are memoized.
type RedisResolver struct {
	rdb     *redis.Client
	fetcher Fetcher
	encoder audio.Encoder
	memo    *lru.Cache[string, *audio.Clip]
}

// ResolverOption configures a RedisResolver.
type ResolverOption func(*RedisResolver)

// WithFetcher downloads and stores sounds missing from Redis.
func WithFetcher(f Fetcher, enc audio.Encoder) ResolverOption {
	return func(r *RedisResolver) {
		r.fetcher = f
		r.encoder = enc
	}
}

// NewRedisResolver creates a resolver memoizing up to memoSize sounds.
func NewRedisResolver(rdb *redis.Client, memoSize int, opts ...ResolverOption) (*RedisResolver, error) {
	memo, err := lru.New[string, *audio.Clip](memoSize)
	if err != nil {
		return nil, fmt.Errorf("could not create sound memo: %w", err)
	}
	r := &RedisResolver{rdb: rdb, memo: memo}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// SoundKey is where a sound is stored. Guild scoped sounds are stored under
// both the guild and the bare ID.
func SoundKey(soundID, guildID uint64) string {
	if guildID == 0 {
		return keyPrefix + strconv.FormatUint(soundID, 10)
	}
	return keyPrefix + strconv.FormatUint(guildID, 10) + ":" + strconv.FormatUint(soundID, 10)
}

// Resolve implements Resolver.
func (r *RedisResolver) Resolve(ctx context.Context, soundID, guildID uint64) (*audio.Handle, error) {
	// The memo is keyed like the lookup, per guild.
	memoKey := SoundKey(soundID, guildID)
	if clip, ok := r.memo.Get(memoKey); ok {
		return clip.NewHandle(), nil
	}

	keys := []string{SoundKey(soundID, 0)}
	if guildID != 0 {
		keys = []string{SoundKey(soundID, guildID), SoundKey(soundID, 0)}
	}
	for _, key := range keys {
		data, err := r.rdb.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("could not load sound %d: %w", soundID, err)
		}
		clip, err := audio.ReadOgg(bytes.NewReader(data), strconv.FormatUint(soundID, 10))
		if err != nil {
			return nil, fmt.Errorf("could not decode sound %d: %w", soundID, err)
		}
		r.memo.Add(memoKey, clip)
		return clip.NewHandle(), nil
	}

	if r.fetcher == nil || r.encoder == nil {
		return nil, ErrNotFound
	}
	clip, err := r.fetch(ctx, soundID)
	if err != nil {
		return nil, err
	}
	if err := r.Put(ctx, soundID, guildID, clip); err != nil {
		log.Warn().Err(err).Uint64("sound", soundID).Msg("Could not persist fetched sound")
		r.memo.Add(memoKey, clip)
	}
	return clip.NewHandle(), nil
}

func (r *RedisResolver) fetch(ctx context.Context, soundID uint64) (*audio.Clip, error) {
	body, err := r.fetcher.Fetch(ctx, soundID)
	if err != nil {
		return nil, err
	}
	defer body.Close()
	return r.encoder.Encode(ctx, strconv.FormatUint(soundID, 10), body)
}

// Put stores clip for soundID with no expiry.
func (r *RedisResolver) Put(ctx context.Context, soundID, guildID uint64, clip *audio.Clip) error {
	var buf bytes.Buffer
	if err := audio.WriteOgg(&buf, clip); err != nil {
		return err
	}
	pipe := r.rdb.TxPipeline()
	pipe.Set(ctx, SoundKey(soundID, 0), buf.Bytes(), 0)
	if guildID != 0 {
		pipe.Set(ctx, SoundKey(soundID, guildID), buf.Bytes(), 0)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("could not store sound %d: %w", soundID, err)
	}
	r.memo.Add(SoundKey(soundID, 0), clip)
	if guildID != 0 {
		r.memo.Add(SoundKey(soundID, guildID), clip)
	}
	return nil
}
