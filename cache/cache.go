// Package cache keeps synthesized audio so repeated phrases are not sent to
// the backend again.
package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/EasterCompany/dex-tts-service/audio"
	"github.com/EasterCompany/dex-tts-service/metrics"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
)

// ErrMiss is returned by a Store that does not hold the key.
var ErrMiss = errors.New("cache miss")

// SynthesizeFunc renders a key to audio on a cache miss.
type SynthesizeFunc func(ctx context.Context, key Key) (*audio.Clip, error)

// Store is a second tier behind the in-memory cache, shared across restarts.
type Store interface {
	Load(ctx context.Context, key Key) (*audio.Clip, error)
	Save(ctx context.Context, key Key, clip *audio.Clip) error
}

// Stats is a snapshot of cache counters.
type Stats struct {
	Hits       uint64 `json:"hits"`
	Misses     uint64 `json:"misses"`
	StoreHits  uint64 `json:"store_hits"`
	Entries    int    `json:"entries"`
	Capacity   int    `json:"capacity"`
	Predefined int    `json:"predefined"`
}

// AudioCache has two tiers. Predefined utterances are synthesized once and
// kept for the life of the process. Everything else lives in a bounded LRU,
// optionally backed by a Store. Entries never change once inserted.
type AudioCache struct {
	mu         sync.RWMutex
	predefined map[Utterance]*audio.Clip
	voice      Key

	dynamic  *lru.Cache[Key, *audio.Clip]
	capacity int
	store    Store

	hits      atomic.Uint64
	misses    atomic.Uint64
	storeHits atomic.Uint64
}

// Option configures an AudioCache.
type Option func(*AudioCache)

// WithStore adds a second tier.
func WithStore(s Store) Option {
	return func(c *AudioCache) { c.store = s }
}

// WithPredefinedVoice sets the speaker and speed predefined utterances are
// synthesized with.
func WithPredefinedVoice(speaker string, speed float64) Option {
	return func(c *AudioCache) { c.voice = Key{Speaker: speaker, Speed: speed} }
}

// New creates a cache holding up to size dynamic entries.
func New(size int, opts ...Option) (*AudioCache, error) {
	dynamic, err := lru.New[Key, *audio.Clip](size)
	if err != nil {
		return nil, fmt.Errorf("could not create audio cache: %w", err)
	}
	c := &AudioCache{
		predefined: make(map[Utterance]*audio.Clip),
		dynamic:    dynamic,
		capacity:   size,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// GetOrSynthesize returns a fresh handle for key, calling fn only when
// neither tier has it. Synthesis runs without any cache lock held, so two
// concurrent misses for the same key may both call fn; the first result
// stored wins.
func (c *AudioCache) GetOrSynthesize(ctx context.Context, key Key, fn SynthesizeFunc) (*audio.Handle, error) {
	if clip, ok := c.dynamic.Get(key); ok {
		c.hits.Add(1)
		metrics.RecordCacheLookup("memory", true)
		return clip.NewHandle(), nil
	}
	metrics.RecordCacheLookup("memory", false)

	if c.store != nil {
		clip, err := c.store.Load(ctx, key)
		switch {
		case err == nil:
			c.storeHits.Add(1)
			metrics.RecordCacheLookup("redis", true)
			return c.insert(key, clip).NewHandle(), nil
		case errors.Is(err, ErrMiss):
			metrics.RecordCacheLookup("redis", false)
		default:
			log.Warn().Err(err).Str("component", "cache").Msg("Audio store lookup failed")
		}
	}

	c.misses.Add(1)
	clip, err := fn(ctx, key)
	if err != nil {
		return nil, err
	}

	stored := c.insert(key, clip)
	if stored == clip && c.store != nil {
		if err := c.store.Save(ctx, key, clip); err != nil {
			log.Warn().Err(err).Str("component", "cache").Msg("Could not persist synthesized audio")
		}
	}
	return stored.NewHandle(), nil
}

// insert adds clip unless key is already present and returns the clip that
// ends up cached.
func (c *AudioCache) insert(key Key, clip *audio.Clip) *audio.Clip {
	if prev, ok, _ := c.dynamic.PeekOrAdd(key, clip); ok {
		return prev
	}
	return clip
}

// Contains reports whether key is in the memory tier without touching
// recency.
func (c *AudioCache) Contains(key Key) bool {
	return c.dynamic.Contains(key)
}

// Predefined returns a handle for u if it has been synthesized.
func (c *AudioCache) Predefined(u Utterance) (*audio.Handle, bool) {
	c.mu.RLock()
	clip, ok := c.predefined[u]
	c.mu.RUnlock()
	metrics.RecordCacheLookup("predefined", ok)
	if !ok {
		return nil, false
	}
	return clip.NewHandle(), true
}

// Utterance returns a handle for u, synthesizing it on first use if warming
// did not already do so.
func (c *AudioCache) Utterance(ctx context.Context, u Utterance, fn SynthesizeFunc) (*audio.Handle, error) {
	if h, ok := c.Predefined(u); ok {
		return h, nil
	}
	clip, err := c.synthesizePredefined(ctx, u, fn)
	if err != nil {
		return nil, err
	}
	return clip.NewHandle(), nil
}

func (c *AudioCache) synthesizePredefined(ctx context.Context, u Utterance, fn SynthesizeFunc) (*audio.Clip, error) {
	if !u.valid() {
		return nil, fmt.Errorf("unknown utterance %d", int(u))
	}
	key := c.voice
	key.Text = u.Text()

	clip, err := fn(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("could not synthesize %s utterance: %w", u, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if existing, ok := c.predefined[u]; ok {
		return existing, nil
	}
	c.predefined[u] = clip
	return clip, nil
}

// Warm synthesizes every predefined utterance that is not cached yet. A
// failure is logged and does not stop the remaining entries. It returns how
// many utterances are available afterwards.
func (c *AudioCache) Warm(ctx context.Context, fn SynthesizeFunc) int {
	ready := 0
	for _, u := range Utterances() {
		if _, ok := c.Predefined(u); ok {
			ready++
			continue
		}
		if _, err := c.synthesizePredefined(ctx, u, fn); err != nil {
			log.Warn().Err(err).Str("component", "cache").Str("utterance", u.String()).Msg("Could not warm predefined audio")
			continue
		}
		ready++
	}
	return ready
}

// Stats returns current counters.
func (c *AudioCache) Stats() Stats {
	c.mu.RLock()
	predefined := len(c.predefined)
	c.mu.RUnlock()
	return Stats{
		Hits:       c.hits.Load(),
		Misses:     c.misses.Load(),
		StoreHits:  c.storeHits.Load(),
		Entries:    c.dynamic.Len(),
		Capacity:   c.capacity,
		Predefined: predefined,
	}
}

// Purge empties the memory tier. Predefined utterances are kept.
func (c *AudioCache) Purge() {
	c.dynamic.Purge()
}
