// Package playback turns a chat message into an ordered list of audio sources
// and hands them to a voice queue in one piece.
package playback

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/EasterCompany/dex-tts-service/audio"
	"github.com/EasterCompany/dex-tts-service/cache"
	"github.com/EasterCompany/dex-tts-service/metrics"
	"github.com/EasterCompany/dex-tts-service/segment"
	"github.com/EasterCompany/dex-tts-service/soundboard"
	"github.com/EasterCompany/dex-tts-service/synth"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Voice is the speaker and speed a message is read with.
type Voice struct {
	Speaker string
	Speed   float64
}

// Enqueuer accepts a batch of sources that must play back to back.
type Enqueuer interface {
	Enqueue(srcs ...audio.Source) error
}

// Pipeline resolves message segments through the cache, the sound library and
// the soundboard resolver.
type Pipeline struct {
	cache       *cache.AudioCache
	synthesize  cache.SynthesizeFunc
	library     *soundboard.Library
	sounds      soundboard.Resolver
	workers     int
	maxSegments int
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLibrary sets the local sound library used for link placeholders.
func WithLibrary(l *soundboard.Library) Option {
	return func(p *Pipeline) { p.library = l }
}

// WithResolver sets the soundboard resolver.
func WithResolver(r soundboard.Resolver) Option {
	return func(p *Pipeline) { p.sounds = r }
}

// WithWorkers bounds how many segments are resolved at once.
func WithWorkers(n int) Option {
	return func(p *Pipeline) { p.workers = n }
}

// WithMaxSegments drops segments beyond n. Zero means no limit.
func WithMaxSegments(n int) Option {
	return func(p *Pipeline) { p.maxSegments = n }
}

// New creates a pipeline. synthesize renders text on a cache miss.
func New(c *cache.AudioCache, synthesize cache.SynthesizeFunc, opts ...Option) *Pipeline {
	p := &Pipeline{
		cache:      c,
		synthesize: synthesize,
		workers:    4,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.workers < 1 {
		p.workers = 1
	}
	return p
}

// SynthesizeWith adapts a synth.Client and an audio.Encoder into the cache's
// miss handler.
func SynthesizeWith(client synth.Client, enc audio.Encoder) cache.SynthesizeFunc {
	return func(ctx context.Context, key cache.Key) (*audio.Clip, error) {
		data, err := client.Synthesize(ctx, synth.Request{Speaker: key.Speaker, Speed: key.Speed, Text: key.Text})
		if err != nil {
			return nil, err
		}
		return enc.Encode(ctx, key.Text, bytes.NewReader(data))
	}
}

// Render resolves every segment of raw concurrently and returns the sources
// in segment order. Segments that fail are logged and left out.
func (p *Pipeline) Render(ctx context.Context, raw string, v Voice) []audio.Source {
	segs := segment.Split(raw)
	if p.maxSegments > 0 && len(segs) > p.maxSegments {
		log.Debug().Int("segments", len(segs)).Int("max", p.maxSegments).Msg("Truncating long message")
		segs = segs[:p.maxSegments]
	}

	resolved := make([]audio.Source, len(segs))
	var g errgroup.Group
	g.SetLimit(p.workers)
	for i, seg := range segs {
		g.Go(func() error {
			src, err := p.resolve(ctx, seg, v)
			if err != nil {
				status := "failed"
				if errors.Is(err, soundboard.ErrNotFound) {
					status = "not_found"
				}
				metrics.RecordSegment(seg.Kind.String(), status)
				log.Warn().Err(err).
					Str("component", "playback").
					Str("segment", seg.Kind.String()).
					Int("index", i).
					Msg("Skipping segment")
				return nil
			}
			metrics.RecordSegment(seg.Kind.String(), "ok")
			resolved[i] = src
			return nil
		})
	}
	_ = g.Wait()

	out := resolved[:0]
	for _, src := range resolved {
		if src != nil {
			out = append(out, src)
		}
	}
	return out
}

// HandleMessage renders raw and enqueues the result as one batch, so the
// message plays contiguously. It returns the number of sources queued.
func (p *Pipeline) HandleMessage(ctx context.Context, raw string, v Voice, q Enqueuer) (int, error) {
	srcs := p.Render(ctx, raw, v)
	if len(srcs) == 0 {
		return 0, nil
	}
	if err := q.Enqueue(srcs...); err != nil {
		return 0, err
	}
	return len(srcs), nil
}

// Utterance returns a handle for a predefined phrase.
func (p *Pipeline) Utterance(ctx context.Context, u cache.Utterance) (audio.Source, error) {
	h, err := p.cache.Utterance(ctx, u, p.synthesize)
	if err != nil {
		return nil, err
	}
	return h, nil
}

func (p *Pipeline) resolve(ctx context.Context, seg segment.Segment, v Voice) (audio.Source, error) {
	switch seg.Kind {
	case segment.Text:
		h, err := p.cache.GetOrSynthesize(ctx, cache.Key{Speaker: v.Speaker, Speed: v.Speed, Text: seg.Text}, p.synthesize)
		if err != nil {
			return nil, err
		}
		return h, nil

	case segment.URL:
		if p.library != nil {
			if h, ok := p.library.Get(soundboard.URLSound); ok {
				return h, nil
			}
		}
		return p.Utterance(ctx, cache.UtteranceURL)

	case segment.Sound:
		if p.sounds == nil {
			return nil, soundboard.ErrNotFound
		}
		h, err := p.sounds.Resolve(ctx, seg.SoundID, seg.GuildID)
		if err != nil {
			return nil, err
		}
		return h, nil
	}
	return nil, fmt.Errorf("unknown segment kind %d", seg.Kind)
}
