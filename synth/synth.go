// Package synth talks to text to speech backends. Backends are opaque: they
// take text and a voice and hand back an encoded audio file.
package synth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/EasterCompany/dex-tts-service/metrics"
)

var (
	// ErrBackend covers every failure reported by or while reaching a backend.
	ErrBackend = errors.New("synthesis backend error")
	// ErrTimeout is returned when a request outlives its deadline.
	ErrTimeout = errors.New("synthesis timed out")
)

// Request is one utterance to synthesize.
type Request struct {
	// Speaker is backend specific: a VOICEVOX style ID or a Google voice name.
	Speaker string
	// Speed scales speaking rate. Zero means the backend default.
	Speed float64
	Text  string
}

// Client synthesizes speech and returns an audio file (wav, ogg...) that
// ffmpeg can decode.
type Client interface {
	Synthesize(ctx context.Context, req Request) ([]byte, error)
}

// classify maps transport level failures onto the package errors.
func classify(ctx context.Context, err error) error {
	if errors.Is(err, ErrBackend) || errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrBackend, err)
}

type instrumented struct {
	next    Client
	backend string
}

// Instrument records latency and outcome of every call on c.
func Instrument(c Client, backend string) Client {
	return &instrumented{next: c, backend: backend}
}

func (i *instrumented) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	start := time.Now()
	out, err := i.next.Synthesize(ctx, req)

	status := "ok"
	switch {
	case errors.Is(err, ErrTimeout):
		status = "timeout"
	case err != nil:
		status = "error"
	}
	metrics.RecordSynthesis(i.backend, status, time.Since(start).Seconds())
	return out, err
}
