package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"layeh.com/gopus"
)

// ErrEncode is returned when input audio could not be turned into opus frames.
var ErrEncode = errors.New("audio encode failed")

// Encoder turns an arbitrary audio stream (wav, mp3, ogg...) into a Clip.
type Encoder interface {
	Encode(ctx context.Context, label string, r io.Reader) (*Clip, error)
}

// FFmpegEncoder decodes input with ffmpeg to 48kHz stereo PCM and encodes the
// PCM to opus with libopus.
type FFmpegEncoder struct {
	path string
}

// NewFFmpegEncoder creates an encoder using the given ffmpeg binary. An empty
// path means "ffmpeg" from PATH.
func NewFFmpegEncoder(path string) *FFmpegEncoder {
	if path == "" {
		path = "ffmpeg"
	}
	return &FFmpegEncoder{path: path}
}

// Encode implements Encoder.
func (e *FFmpegEncoder) Encode(ctx context.Context, label string, r io.Reader) (*Clip, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, e.path,
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "s16le", "-ar", "48000", "-ac", "2",
		"pipe:1")
	cmd.Stdin = r
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("%w: ffmpeg stdout pipe: %v", ErrEncode, err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start ffmpeg: %v", ErrEncode, err)
	}

	frames, encErr := EncodePCM(out)
	if encErr != nil {
		// Stop ffmpeg so Wait does not block on a full stdout pipe.
		cancel()
	}
	waitErr := cmd.Wait()

	if encErr != nil {
		return nil, encErr
	}
	if waitErr != nil {
		return nil, fmt.Errorf("%w: ffmpeg: %v: %s", ErrEncode, waitErr, strings.TrimSpace(stderr.String()))
	}
	if len(frames) == 0 {
		return nil, fmt.Errorf("%w: no audio decoded", ErrEncode)
	}
	return NewClip(label, frames), nil
}

// EncodePCM reads 16-bit little endian 48kHz stereo PCM until EOF and returns
// one opus packet per 20ms frame. A trailing partial frame is zero padded.
func EncodePCM(r io.Reader) ([][]byte, error) {
	encoder, err := gopus.NewEncoder(SampleRate, Channels, gopus.Voip)
	if err != nil {
		return nil, fmt.Errorf("%w: create opus encoder: %v", ErrEncode, err)
	}

	raw := make([]byte, FrameBytes)
	pcm := make([]int16, FrameSize*Channels)
	var frames [][]byte

	for {
		n, err := io.ReadFull(r, raw)
		if n == 0 && (err == io.EOF || err == io.ErrUnexpectedEOF) {
			break
		}
		if err != nil && err != io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: read pcm: %v", ErrEncode, err)
		}
		clear(raw[n:])

		if err := binary.Read(bytes.NewReader(raw), binary.LittleEndian, pcm); err != nil {
			return nil, fmt.Errorf("%w: decode pcm: %v", ErrEncode, err)
		}
		opus, encErr := encoder.Encode(pcm, FrameSize, FrameBytes)
		if encErr != nil {
			return nil, fmt.Errorf("%w: opus: %v", ErrEncode, encErr)
		}
		frames = append(frames, opus)

		if err == io.ErrUnexpectedEOF {
			break
		}
	}
	return frames, nil
}
