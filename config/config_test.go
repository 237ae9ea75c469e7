package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// setupTestEnvironment points the home directory at a temp dir and returns the
// Dexter config directory inside it.
func setupTestEnvironment(t *testing.T) string {
	tempDir := t.TempDir()

	dexterConfigPath := filepath.Join(tempDir, "Dexter", "config")
	require.NoError(t, os.MkdirAll(dexterConfigPath, 0755))

	original := osUserHomeDir
	osUserHomeDir = func() (string, error) {
		return tempDir, nil
	}
	t.Cleanup(func() { osUserHomeDir = original })

	for _, env := range []string{"DISCORD_TOKEN", "VOICEVOX_HOST", "SS_DIRECTORY", "REDIS_ADDR"} {
		if v, ok := os.LookupEnv(env); ok {
			require.NoError(t, os.Unsetenv(env))
			t.Cleanup(func() { _ = os.Setenv(env, v) })
		}
	}

	return dexterConfigPath
}

func writeJSON(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0644))
}

func TestLoadAllConfigs_Success(t *testing.T) {
	dexterPath := setupTestEnvironment(t)

	writeJSON(t, filepath.Join(dexterPath, "config.json"), MainConfig{
		DiscordConfig:   "discord.json",
		RedisConfig:     "redis.json",
		SynthesisConfig: "synthesis.json",
		RelayConfig:     "relay.json",
	})
	writeJSON(t, filepath.Join(dexterPath, "discord.json"), DiscordConfig{Token: "test-token", LogChannelID: "123"})
	writeJSON(t, filepath.Join(dexterPath, "redis.json"), RedisConfig{Addr: "localhost:1234"})
	writeJSON(t, filepath.Join(dexterPath, "synthesis.json"), SynthesisConfig{Backend: "google", DefaultSpeaker: "ja-JP-Neural2-B"})

	allConfig, err := LoadAllConfigs()

	require.NoError(t, err)
	require.NotNil(t, allConfig)
	assert.Equal(t, "test-token", allConfig.Discord.Token)
	assert.Equal(t, "123", allConfig.Discord.LogChannelID)
	assert.Equal(t, "localhost:1234", allConfig.Redis.Addr)
	assert.Equal(t, "google", allConfig.Synthesis.Backend)
	assert.Equal(t, "ja-JP-Neural2-B", allConfig.Synthesis.DefaultSpeaker)
	assert.Equal(t, 2, allConfig.Relay.RateLimit.MaxMessages, "relay.json was created with defaults")
}

func TestLoadAllConfigs_FileCreation(t *testing.T) {
	dexterPath := setupTestEnvironment(t)

	allConfig, err := LoadAllConfigs()

	require.NoError(t, err)
	require.NotNil(t, allConfig)

	for _, name := range []string{"config.json", "discord.json", "redis.json", "synthesis.json", "relay.json"} {
		assert.FileExists(t, filepath.Join(dexterPath, name))
	}

	assert.Equal(t, "", allConfig.Discord.Token)
	assert.Equal(t, "localhost:6379", allConfig.Redis.Addr)
	assert.Equal(t, "voicevox", allConfig.Synthesis.Backend)
	assert.True(t, allConfig.Relay.RateLimit.Enforce)

	// A second load reads the files that were just written.
	again, err := LoadAllConfigs()
	require.NoError(t, err)
	assert.Equal(t, allConfig, again)
}

func TestLoadAllConfigs_InvalidJSON(t *testing.T) {
	dexterPath := setupTestEnvironment(t)

	require.NoError(t, os.WriteFile(filepath.Join(dexterPath, "config.json"), []byte("{ not valid json }"), 0644))

	_, err := LoadAllConfigs()

	assert.Error(t, err)
	assert.Contains(t, err.Error(), "could not decode config file")
}

func TestLoadAllConfigs_PartialMainConfig(t *testing.T) {
	dexterPath := setupTestEnvironment(t)

	writeJSON(t, filepath.Join(dexterPath, "config.json"), map[string]string{"discord_config": "bot.json"})
	writeJSON(t, filepath.Join(dexterPath, "bot.json"), DiscordConfig{Token: "from-bot-json"})

	allConfig, err := LoadAllConfigs()
	require.NoError(t, err)
	assert.Equal(t, "from-bot-json", allConfig.Discord.Token)
	assert.Equal(t, "relay.json", allConfig.Main.RelayConfig)
	assert.FileExists(t, filepath.Join(dexterPath, "relay.json"))
}

func TestLoadAllConfigs_EnvOverrides(t *testing.T) {
	setupTestEnvironment(t)
	t.Setenv("DISCORD_TOKEN", "env-token")
	t.Setenv("VOICEVOX_HOST", "http://voicevox:50021")
	t.Setenv("SS_DIRECTORY", "/srv/sounds")
	t.Setenv("REDIS_ADDR", "")

	allConfig, err := LoadAllConfigs()
	require.NoError(t, err)

	assert.Equal(t, "env-token", allConfig.Discord.Token)
	assert.Equal(t, "http://voicevox:50021", allConfig.Synthesis.VoicevoxHost)
	assert.Equal(t, "/srv/sounds", allConfig.Relay.SoundDirectory)
	assert.Equal(t, "", allConfig.Redis.Addr, "an empty REDIS_ADDR disables redis")
}

func TestValidate(t *testing.T) {
	setupTestEnvironment(t)
	allConfig, err := LoadAllConfigs()
	require.NoError(t, err)

	err = allConfig.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "discord token")

	allConfig.Discord.Token = "x"
	assert.NoError(t, allConfig.Validate())

	allConfig.Synthesis.Backend = "espeak"
	assert.ErrorContains(t, allConfig.Validate(), "unknown synthesis backend")
}

func TestVerifyFiles(t *testing.T) {
	dir := setupTestEnvironment(t)
	cfg, err := LoadAllConfigs()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "redis.json"), []byte(`{"addr":"x","adress":"typo"}`), 0644))
	require.NoError(t, os.Remove(filepath.Join(dir, "relay.json")))

	reports, err := VerifyFiles(cfg)
	require.NoError(t, err)
	require.Len(t, reports, 5)

	byName := map[string]error{}
	for _, r := range reports {
		byName[r.Name] = r.Err
	}
	assert.NoError(t, byName["config.json"])
	assert.NoError(t, byName["discord.json"])
	assert.ErrorContains(t, byName["redis.json"], "adress")
	assert.ErrorIs(t, byName["relay.json"], os.ErrNotExist)
}
