package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/pion/rtp"
	"github.com/pion/webrtc/v3/pkg/media/oggreader"
	"github.com/pion/webrtc/v3/pkg/media/oggwriter"
)

const (
	opusPayloadType = 0x78
	oggSSRC         = 0x64657874
)

var opusTagsSignature = []byte("OpusTags")

// WriteOgg stores the clip as an Ogg/Opus stream with one packet per page.
func WriteOgg(w io.Writer, c *Clip) error {
	ow, err := oggwriter.NewWith(w, SampleRate, Channels)
	if err != nil {
		return fmt.Errorf("could not create ogg writer: %w", err)
	}

	packet := &rtp.Packet{
		Header: rtp.Header{
			Version:     2,
			PayloadType: opusPayloadType,
			SSRC:        oggSSRC,
		},
	}
	for i, frame := range c.frames {
		packet.SequenceNumber = uint16(i)
		packet.Timestamp = uint32((i + 1) * FrameSize)
		packet.Payload = frame
		if err := ow.WriteRTP(packet); err != nil {
			return fmt.Errorf("could not write ogg page %d: %w", i, err)
		}
	}
	return ow.Close()
}

// ReadOgg loads a stream produced by WriteOgg back into a Clip.
func ReadOgg(r io.Reader, label string) (*Clip, error) {
	or, _, err := oggreader.NewWith(r)
	if err != nil {
		return nil, fmt.Errorf("could not read ogg header: %w", err)
	}

	var frames [][]byte
	for {
		payload, _, err := or.ParseNextPage()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("could not read ogg page: %w", err)
		}
		if len(payload) == 0 || bytes.HasPrefix(payload, opusTagsSignature) {
			continue
		}
		frames = append(frames, payload)
	}
	return NewClip(label, frames), nil
}
