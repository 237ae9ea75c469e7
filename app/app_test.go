package app

import (
	"context"
	"testing"

	"github.com/EasterCompany/dex-tts-service/config"
	"github.com/EasterCompany/dex-tts-service/ratelimit"
	"github.com/EasterCompany/dex-tts-service/synth"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPolicyFromConfig(t *testing.T) {
	p := policyFromConfig(config.RateLimitConfig{
		Enforce:               true,
		MaxMessages:           2,
		WindowSeconds:         3,
		BaseCooldownSeconds:   20,
		MaxCooldownSeconds:    60,
		Multiplier:            1.5,
		ViolationResetMinutes: 60,
	})
	assert.Equal(t, ratelimit.DefaultPolicy(), p)
	assert.NoError(t, p.Validate())
}

func TestNewSynthClientDefaultsToVoicevox(t *testing.T) {
	client, checks, err := newSynthClient(context.Background(), &config.SynthesisConfig{
		Backend:        "voicevox",
		VoicevoxHost:   "localhost:50021",
		TimeoutSeconds: 1,
	})
	require.NoError(t, err)
	assert.IsType(t, &synth.VoicevoxClient{}, client)
	assert.Contains(t, checks, "voicevox")
}
