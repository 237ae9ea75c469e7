package audio

import (
	"io"
	"time"
)

const (
	FrameSize     = 960 // 20ms at 48kHz
	Channels      = 2   // Stereo
	SampleRate    = 48000
	FrameBytes    = FrameSize * Channels * 2 // 16-bit
	FrameDuration = 20 * time.Millisecond
)

// Source is anything the voice queue can pull opus frames from.
type Source interface {
	// NextFrame returns the next opus frame, or io.EOF once the source is drained.
	NextFrame() ([]byte, error)
}

// Clip is an encoded piece of audio. It is never modified after construction,
// so one Clip can back any number of concurrent Handles.
type Clip struct {
	label  string
	frames [][]byte
	size   int
}

// NewClip wraps already encoded opus frames. The caller must not modify the
// frames afterwards.
func NewClip(label string, frames [][]byte) *Clip {
	size := 0
	for _, f := range frames {
		size += len(f)
	}
	return &Clip{label: label, frames: frames, size: size}
}

// Label is a human readable name used in logs.
func (c *Clip) Label() string { return c.label }

// Frames returns the number of 20ms frames in the clip.
func (c *Clip) Frames() int { return len(c.frames) }

// Size returns the total encoded size in bytes.
func (c *Clip) Size() int { return c.size }

// Duration returns the playback length of the clip.
func (c *Clip) Duration() time.Duration {
	return time.Duration(len(c.frames)) * FrameDuration
}

// NewHandle returns a fresh cursor positioned at the start of the clip.
func (c *Clip) NewHandle() *Handle {
	return &Handle{clip: c}
}

// Handle is an independent read position into a Clip. A Handle is owned by a
// single consumer and is not safe for concurrent use.
type Handle struct {
	clip *Clip
	pos  int
}

// NextFrame implements Source.
func (h *Handle) NextFrame() ([]byte, error) {
	if h.pos >= len(h.clip.frames) {
		return nil, io.EOF
	}
	f := h.clip.frames[h.pos]
	h.pos++
	return f, nil
}

// Clip returns the clip this handle reads from.
func (h *Handle) Clip() *Clip { return h.clip }

// Remaining returns how many frames are left to read.
func (h *Handle) Remaining() int { return len(h.clip.frames) - h.pos }
