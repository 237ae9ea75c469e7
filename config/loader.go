package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// osUserHomeDir is replaced in tests.
var osUserHomeDir = os.UserHomeDir

// Dir returns ~/Dexter/config.
func Dir() (string, error) {
	home, err := osUserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not get user home directory: %w", err)
	}
	return filepath.Join(home, "Dexter", "config"), nil
}

func defaultMainConfig() *MainConfig {
	return &MainConfig{
		DiscordConfig:   "discord.json",
		RedisConfig:     "redis.json",
		SynthesisConfig: "synthesis.json",
		RelayConfig:     "relay.json",
	}
}

func defaultDiscordConfig() *DiscordConfig {
	return &DiscordConfig{
		JoinTimeoutSeconds: 10,
		SelfDeaf:           true,
	}
}

func defaultRedisConfig() *RedisConfig {
	return &RedisConfig{
		Addr:          "localhost:6379",
		AudioTTLHours: 24 * 7,
	}
}

func defaultSynthesisConfig() *SynthesisConfig {
	return &SynthesisConfig{
		Backend:           "voicevox",
		VoicevoxHost:      "http://localhost:50021",
		GoogleLanguage:    "ja-JP",
		DefaultSpeaker:    "1",
		DefaultSpeed:      1.0,
		TimeoutSeconds:    30,
		RequestsPerSecond: 5,
		Burst:             5,
		MaxConcurrent:     2,
		FFmpegPath:        "ffmpeg",
	}
}

func defaultRelayConfig() *RelayConfig {
	return &RelayConfig{
		RateLimit: RateLimitConfig{
			Enforce:               true,
			MaxMessages:           2,
			WindowSeconds:         3,
			BaseCooldownSeconds:   20,
			MaxCooldownSeconds:    60,
			Multiplier:            1.5,
			ViolationResetMinutes: 60,
		},
		CacheSize:       512,
		SoundCDN:        "https://cdn.discordapp.com/soundboard-sounds/",
		Workers:         4,
		MaxSegments:     32,
		MessageTimeout:  60,
		StatusAddr:      ":8301",
		LogLevel:        "info",
		WatchdogSeconds: 30,
	}
}

// LoadAllConfigs reads every config file from ~/Dexter/config, creating any
// missing file with defaults, then applies environment overrides.
func LoadAllConfigs() (*AllConfig, error) {
	dir, err := Dir()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("could not create config directory %s: %w", dir, err)
	}

	all := &AllConfig{
		Main:      defaultMainConfig(),
		Discord:   defaultDiscordConfig(),
		Redis:     defaultRedisConfig(),
		Synthesis: defaultSynthesisConfig(),
		Relay:     defaultRelayConfig(),
	}

	if err := loadOrCreate(dir, "config.json", all.Main); err != nil {
		return nil, err
	}
	// Older config.json files may not name every file.
	defaults := defaultMainConfig()
	files := []struct {
		name     *string
		fallback string
		target   interface{}
	}{
		{&all.Main.DiscordConfig, defaults.DiscordConfig, all.Discord},
		{&all.Main.RedisConfig, defaults.RedisConfig, all.Redis},
		{&all.Main.SynthesisConfig, defaults.SynthesisConfig, all.Synthesis},
		{&all.Main.RelayConfig, defaults.RelayConfig, all.Relay},
	}
	for _, f := range files {
		if *f.name == "" {
			*f.name = f.fallback
		}
		if err := loadOrCreate(dir, *f.name, f.target); err != nil {
			return nil, err
		}
	}

	applyEnv(all)
	return all, nil
}

// loadOrCreate decodes dir/name into v. A missing file is written from the
// current contents of v, which callers pre-fill with defaults.
func loadOrCreate(dir, name string, v interface{}) error {
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		out, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return fmt.Errorf("could not encode default config %s: %w", name, err)
		}
		if err := os.WriteFile(path, out, 0644); err != nil {
			return fmt.Errorf("could not write default config file %s: %w", name, err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("could not read config file %s: %w", name, err)
	}

	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("could not decode config file %s: %w", name, err)
	}
	return nil
}

func applyEnv(all *AllConfig) {
	if v, ok := os.LookupEnv("DISCORD_TOKEN"); ok && v != "" {
		all.Discord.Token = v
	}
	if v, ok := os.LookupEnv("VOICEVOX_HOST"); ok && v != "" {
		all.Synthesis.VoicevoxHost = v
	}
	if v, ok := os.LookupEnv("SS_DIRECTORY"); ok {
		all.Relay.SoundDirectory = v
	}
	if v, ok := os.LookupEnv("REDIS_ADDR"); ok {
		all.Redis.Addr = v
	}
}

// Validate reports settings the service cannot start without.
func (a *AllConfig) Validate() error {
	var errs []error
	if a.Discord.Token == "" {
		errs = append(errs, errors.New("discord token is not set (discord config or DISCORD_TOKEN)"))
	}
	switch a.Synthesis.Backend {
	case "voicevox":
		if a.Synthesis.VoicevoxHost == "" {
			errs = append(errs, errors.New("voicevox host is not set (synthesis config or VOICEVOX_HOST)"))
		}
	case "google":
	default:
		errs = append(errs, fmt.Errorf("unknown synthesis backend %q", a.Synthesis.Backend))
	}
	if a.Relay.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("cache size must be positive, got %d", a.Relay.CacheSize))
	}
	return errors.Join(errs...)
}
