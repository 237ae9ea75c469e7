package voice

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/EasterCompany/dex-tts-service/audio"
	"github.com/rs/zerolog/log"
)

// silenceFrame is an opus frame of silence. A few are sent after the queue
// drains so the client does not interpolate the last frame.
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

const trailingSilence = 5

// Queue plays sources one after another on a single goroutine.
type Queue struct {
	conn        Conn
	sendTimeout time.Duration

	mu      sync.Mutex
	pending []audio.Source
	playing bool
	closed  bool

	wake    chan struct{}
	skip    chan struct{}
	ctx     context.Context
	cancel  context.CancelFunc
	stopped chan struct{}
}

// NewQueue starts a queue writing to conn. Each frame send is bounded by
// sendTimeout.
func NewQueue(conn Conn, sendTimeout time.Duration) *Queue {
	if sendTimeout <= 0 {
		sendTimeout = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		conn:        conn,
		sendTimeout: sendTimeout,
		wake:        make(chan struct{}, 1),
		skip:        make(chan struct{}, 1),
		ctx:         ctx,
		cancel:      cancel,
		stopped:     make(chan struct{}),
	}
	go q.run()
	return q
}

// Enqueue appends srcs as one contiguous run. Concurrent calls never
// interleave. After Stop it returns ErrQueueClosed.
func (q *Queue) Enqueue(srcs ...audio.Source) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.pending = append(q.pending, srcs...)
	q.mu.Unlock()

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return nil
}

// Skip stops the source currently playing. It reports false when nothing
// is playing.
func (q *Queue) Skip() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.playing || q.closed {
		return false
	}
	select {
	case q.skip <- struct{}{}:
	default:
	}
	return true
}

// Len returns the number of sources waiting to play.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Stop drops everything pending and ends playback. It is safe to call more
// than once.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.pending = nil
	q.mu.Unlock()
	q.cancel()
}

// Done is closed once the playback goroutine has exited.
func (q *Queue) Done() <-chan struct{} { return q.stopped }

func (q *Queue) next() (audio.Source, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || len(q.pending) == 0 {
		return nil, false
	}
	src := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.drainSkip()
	q.playing = true
	return src, true
}

func (q *Queue) finish() {
	q.mu.Lock()
	q.playing = false
	q.drainSkip()
	q.mu.Unlock()
}

// drainSkip discards a skip meant for a source that already ended. Callers
// hold q.mu.
func (q *Queue) drainSkip() {
	select {
	case <-q.skip:
	default:
	}
}

func (q *Queue) run() {
	defer close(q.stopped)

	speaking := false
	defer func() {
		if speaking {
			_ = q.conn.Speaking(false)
		}
	}()

	for {
		if q.ctx.Err() != nil {
			return
		}
		src, ok := q.next()
		if !ok {
			if speaking {
				q.sendSilence()
				if err := q.conn.Speaking(false); err != nil {
					log.Debug().Err(err).Str("component", "voice").Msg("Speaking(false) failed")
				}
				speaking = false
			}
			select {
			case <-q.ctx.Done():
				return
			case <-q.wake:
			}
			continue
		}

		if !speaking {
			if err := q.conn.Speaking(true); err != nil {
				log.Debug().Err(err).Str("component", "voice").Msg("Speaking(true) failed")
			}
			speaking = true
		}
		q.play(src)
		q.finish()
	}
}

func (q *Queue) play(src audio.Source) {
	for {
		select {
		case <-q.ctx.Done():
			return
		case <-q.skip:
			return
		default:
		}

		frame, err := src.NextFrame()
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			log.Warn().Err(err).Str("component", "voice").Msg("Could not read audio frame")
			return
		}
		if err := q.send(frame); err != nil {
			if q.ctx.Err() == nil {
				log.Warn().Err(err).Str("component", "voice").Msg("Dropping track after failed send")
			}
			return
		}
	}
}

func (q *Queue) sendSilence() {
	for range trailingSilence {
		if err := q.send(silenceFrame); err != nil {
			return
		}
	}
}

func (q *Queue) send(frame []byte) error {
	ctx, cancel := context.WithTimeout(q.ctx, q.sendTimeout)
	defer cancel()
	return q.conn.SendFrame(ctx, frame)
}
