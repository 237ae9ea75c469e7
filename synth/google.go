package synth

import (
	"context"
	"fmt"
	"strings"

	texttospeech "cloud.google.com/go/texttospeech/apiv1"
	"cloud.google.com/go/texttospeech/apiv1/texttospeechpb"
	"github.com/googleapis/gax-go/v2"
	"github.com/rs/zerolog/log"
)

type speechSynthesizer interface {
	SynthesizeSpeech(ctx context.Context, req *texttospeechpb.SynthesizeSpeechRequest, opts ...gax.CallOption) (*texttospeechpb.SynthesizeSpeechResponse, error)
	Close() error
}

// GoogleClient synthesizes with Google Cloud Text-to-Speech. Audio comes back
// as 48kHz Ogg/Opus.
type GoogleClient struct {
	client   speechSynthesizer
	language string
}

// NewGoogleClient creates a client using Application Default Credentials.
func NewGoogleClient(ctx context.Context, language string) (*GoogleClient, error) {
	client, err := texttospeech.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCP TTS client: %w", err)
	}
	if language == "" {
		language = "ja-JP"
	}
	return &GoogleClient{client: client, language: language}, nil
}

// Synthesize implements Client. Speaker is a voice name such as
// ja-JP-Neural2-B; its language prefix wins over the configured language.
func (g *GoogleClient) Synthesize(ctx context.Context, req Request) ([]byte, error) {
	resp, err := g.client.SynthesizeSpeech(ctx, &texttospeechpb.SynthesizeSpeechRequest{
		Input: &texttospeechpb.SynthesisInput{
			InputSource: &texttospeechpb.SynthesisInput_Text{Text: req.Text},
		},
		Voice: &texttospeechpb.VoiceSelectionParams{
			LanguageCode: languageOf(req.Speaker, g.language),
			Name:         req.Speaker,
		},
		AudioConfig: &texttospeechpb.AudioConfig{
			AudioEncoding:   texttospeechpb.AudioEncoding_OGG_OPUS,
			SpeakingRate:    speakingRate(req.Speed),
			SampleRateHertz: 48000,
		},
	})
	if err != nil {
		return nil, classify(ctx, err)
	}

	log.Debug().Int("audio_bytes", len(resp.AudioContent)).Str("voice", req.Speaker).Msg("GCP TTS synthesis successful")
	return resp.AudioContent, nil
}

// Close releases the underlying gRPC connection.
func (g *GoogleClient) Close() error {
	return g.client.Close()
}

// languageOf extracts ja-JP from ja-JP-Neural2-B.
func languageOf(voice, fallback string) string {
	parts := strings.Split(voice, "-")
	if len(parts) >= 3 {
		return parts[0] + "-" + parts[1]
	}
	return fallback
}

// speakingRate clamps speed into the 0.25 to 4.0 range the API accepts.
func speakingRate(speed float64) float64 {
	switch {
	case speed <= 0:
		return 1.0
	case speed < 0.25:
		return 0.25
	case speed > 4.0:
		return 4.0
	}
	return speed
}
