package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"
	"math"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testFrames(n int) [][]byte {
	frames := make([][]byte, n)
	for i := range frames {
		frames[i] = []byte{0xfc, byte(i), byte(i >> 8), 0x01}
	}
	return frames
}

func TestClipMetadata(t *testing.T) {
	clip := NewClip("hello", testFrames(50))

	assert.Equal(t, "hello", clip.Label())
	assert.Equal(t, 50, clip.Frames())
	assert.Equal(t, 200, clip.Size())
	assert.Equal(t, time.Second, clip.Duration())
}

func TestHandlesAreIndependent(t *testing.T) {
	clip := NewClip("shared", testFrames(3))
	a := clip.NewHandle()
	b := clip.NewHandle()

	first, err := a.NextFrame()
	require.NoError(t, err)
	_, err = a.NextFrame()
	require.NoError(t, err)

	fromB, err := b.NextFrame()
	require.NoError(t, err)
	assert.Equal(t, first, fromB, "second handle starts from the beginning")
	assert.Equal(t, 1, a.Remaining())
	assert.Equal(t, 2, b.Remaining())
}

func TestHandleDrainsToEOF(t *testing.T) {
	h := NewClip("short", testFrames(2)).NewHandle()

	for i := 0; i < 2; i++ {
		_, err := h.NextFrame()
		require.NoError(t, err)
	}
	_, err := h.NextFrame()
	assert.ErrorIs(t, err, io.EOF)
	_, err = h.NextFrame()
	assert.ErrorIs(t, err, io.EOF, "a drained handle stays drained")
}

func TestConcurrentHandles(t *testing.T) {
	clip := NewClip("concurrent", testFrames(100))

	var wg sync.WaitGroup
	counts := make([]int, 8)
	for i := range counts {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			h := clip.NewHandle()
			for {
				if _, err := h.NextFrame(); err != nil {
					return
				}
				counts[i]++
			}
		}(i)
	}
	wg.Wait()

	for _, c := range counts {
		assert.Equal(t, 100, c)
	}
}

func TestOggRoundTrip(t *testing.T) {
	frames := testFrames(20)
	// A frame longer than one ogg lacing segment.
	frames[5] = bytes.Repeat([]byte{0xfc, 0xaa}, 300)
	clip := NewClip("stored", frames)

	var buf bytes.Buffer
	require.NoError(t, WriteOgg(&buf, clip))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("OggS")))

	loaded, err := ReadOgg(&buf, "loaded")
	require.NoError(t, err)
	assert.Equal(t, "loaded", loaded.Label())
	require.Equal(t, clip.Frames(), loaded.Frames())

	want, got := clip.NewHandle(), loaded.NewHandle()
	for {
		w, werr := want.NextFrame()
		g, gerr := got.NextFrame()
		assert.Equal(t, werr, gerr)
		if werr != nil {
			break
		}
		assert.Equal(t, w, g)
	}
}

func TestReadOggRejectsGarbage(t *testing.T) {
	_, err := ReadOgg(strings.NewReader("definitely not ogg"), "bad")
	assert.Error(t, err)
}

func sinePCM(d time.Duration) []byte {
	samples := int(d.Seconds() * SampleRate)
	var buf bytes.Buffer
	for i := 0; i < samples; i++ {
		v := int16(8000 * math.Sin(2*math.Pi*440*float64(i)/SampleRate))
		_ = binary.Write(&buf, binary.LittleEndian, v) // left
		_ = binary.Write(&buf, binary.LittleEndian, v) // right
	}
	return buf.Bytes()
}

func TestEncodePCMPadsLastFrame(t *testing.T) {
	pcm := sinePCM(110 * time.Millisecond)

	frames, err := EncodePCM(bytes.NewReader(pcm))
	require.NoError(t, err)
	assert.Len(t, frames, 6)
	for _, f := range frames {
		assert.NotEmpty(t, f)
	}
}

func TestEncodePCMEmptyInput(t *testing.T) {
	frames, err := EncodePCM(bytes.NewReader(nil))
	require.NoError(t, err)
	assert.Empty(t, frames)
}

// writeWAV builds a 16-bit PCM RIFF file.
func writeWAV(pcm []byte) []byte {
	var buf bytes.Buffer
	buf.WriteString("RIFF")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(36+len(pcm)))
	buf.WriteString("WAVE")
	buf.WriteString("fmt ")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(16))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(1))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(Channels))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate))
	_ = binary.Write(&buf, binary.LittleEndian, uint32(SampleRate*Channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(Channels*2))
	_ = binary.Write(&buf, binary.LittleEndian, uint16(16))
	buf.WriteString("data")
	_ = binary.Write(&buf, binary.LittleEndian, uint32(len(pcm)))
	buf.Write(pcm)
	return buf.Bytes()
}

func TestFFmpegEncoder(t *testing.T) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		t.Skip("ffmpeg not installed")
	}

	enc := NewFFmpegEncoder("")
	clip, err := enc.Encode(context.Background(), "sine", bytes.NewReader(writeWAV(sinePCM(time.Second))))
	require.NoError(t, err)
	assert.InDelta(t, 50, clip.Frames(), 2)

	_, err = enc.Encode(context.Background(), "junk", strings.NewReader("not audio"))
	assert.ErrorIs(t, err, ErrEncode)
}

func TestFFmpegEncoderMissingBinary(t *testing.T) {
	enc := NewFFmpegEncoder("/nonexistent/ffmpeg")
	_, err := enc.Encode(context.Background(), "x", strings.NewReader(""))
	assert.ErrorIs(t, err, ErrEncode)
}
