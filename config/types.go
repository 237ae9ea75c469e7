package config

// MainConfig is config.json. It only names the other files.
type MainConfig struct {
	DiscordConfig   string `json:"discord_config"`
	RedisConfig     string `json:"redis_config"`
	SynthesisConfig string `json:"synthesis_config"`
	RelayConfig     string `json:"relay_config"`
}

// DiscordConfig holds bot credentials and voice settings.
type DiscordConfig struct {
	Token string `json:"token"`
	// LogChannelID receives warn and error log lines. Empty disables it.
	LogChannelID       string `json:"log_channel_id"`
	JoinTimeoutSeconds int    `json:"join_timeout_seconds"`
	SelfDeaf           bool   `json:"self_deaf"`
}

// RedisConfig configures the shared Redis instance. An empty Addr runs the
// service without the Redis audio tier, persisted sounds or user profiles.
type RedisConfig struct {
	Addr     string `json:"addr"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	// AudioTTLHours bounds how long synthesized audio stays in Redis.
	AudioTTLHours int `json:"audio_ttl_hours"`
}

// SynthesisConfig selects and tunes the text to speech backend.
type SynthesisConfig struct {
	// Backend is "voicevox" or "google".
	Backend           string  `json:"backend"`
	VoicevoxHost      string  `json:"voicevox_host"`
	GoogleLanguage    string  `json:"google_language"`
	DefaultSpeaker    string  `json:"default_speaker"`
	DefaultSpeed      float64 `json:"default_speed"`
	TimeoutSeconds    int     `json:"timeout_seconds"`
	RequestsPerSecond float64 `json:"requests_per_second"`
	Burst             int     `json:"burst"`
	MaxConcurrent     int     `json:"max_concurrent"`
	FFmpegPath        string  `json:"ffmpeg_path"`
}

// RateLimitConfig mirrors ratelimit.Policy in config friendly units.
type RateLimitConfig struct {
	// Enforce drops messages from limited users. When false rejections are
	// only logged.
	Enforce               bool    `json:"enforce"`
	MaxMessages           int     `json:"max_messages"`
	WindowSeconds         float64 `json:"window_seconds"`
	BaseCooldownSeconds   float64 `json:"base_cooldown_seconds"`
	MaxCooldownSeconds    float64 `json:"max_cooldown_seconds"`
	Multiplier            float64 `json:"multiplier"`
	ViolationResetMinutes float64 `json:"violation_reset_minutes"`
}

// RelayConfig covers message handling and the status server.
type RelayConfig struct {
	RateLimit RateLimitConfig `json:"rate_limit"`
	// CacheSize is the number of synthesized utterances kept in memory.
	CacheSize int `json:"cache_size"`
	// SoundDirectory holds local sound files keyed by file stem. Empty
	// disables the library.
	SoundDirectory string `json:"sound_directory"`
	// SoundCDN is the base URL soundboard sounds are fetched from on a miss.
	// Empty disables fetching.
	SoundCDN        string `json:"sound_cdn"`
	Workers         int    `json:"workers"`
	MaxSegments     int    `json:"max_segments"`
	MessageTimeout  int    `json:"message_timeout_seconds"`
	StatusAddr      string `json:"status_addr"`
	LogLevel        string `json:"log_level"`
	PrettyLogs      bool   `json:"pretty_logs"`
	WatchdogSeconds int    `json:"watchdog_seconds"`
}

// AllConfig is everything LoadAllConfigs returns.
type AllConfig struct {
	Main      *MainConfig
	Discord   *DiscordConfig
	Redis     *RedisConfig
	Synthesis *SynthesisConfig
	Relay     *RelayConfig
}
