// Package app wires the relay together and runs it.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/EasterCompany/dex-tts-service/audio"
	"github.com/EasterCompany/dex-tts-service/cache"
	"github.com/EasterCompany/dex-tts-service/config"
	"github.com/EasterCompany/dex-tts-service/events"
	logger "github.com/EasterCompany/dex-tts-service/log"
	"github.com/EasterCompany/dex-tts-service/metrics"
	"github.com/EasterCompany/dex-tts-service/playback"
	"github.com/EasterCompany/dex-tts-service/profile"
	"github.com/EasterCompany/dex-tts-service/ratelimit"
	"github.com/EasterCompany/dex-tts-service/services"
	"github.com/EasterCompany/dex-tts-service/soundboard"
	"github.com/EasterCompany/dex-tts-service/synth"
	"github.com/EasterCompany/dex-tts-service/voice"
	"github.com/bwmarrin/discordgo"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

type App struct {
	Config   *config.AllConfig
	Version  string
	Session  *discordgo.Session
	Redis    *redis.Client
	Cache    *cache.AudioCache
	Library  *soundboard.Library
	Pipeline *playback.Pipeline
	Voice    *voice.Manager
	Limiter  *ratelimit.Limiter
	Handler  *events.Handler
	Status   *services.StatusServer
	Health   *services.HealthChecker

	synthesize cache.SynthesizeFunc
	closers    []func() error
}

// NewApp loads configuration and builds every component. Nothing connects
// to Discord until Run.
func NewApp(ctx context.Context, version string) (*App, error) {
	cfg, err := config.LoadAllConfigs()
	if err != nil {
		return nil, fmt.Errorf("fatal error loading config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if err := logger.Init(cfg.Relay.LogLevel, cfg.Relay.PrettyLogs); err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Version: version}

	a.Redis, err = cache.Dial(ctx, cfg.Redis)
	if err != nil {
		return nil, err
	}
	if a.Redis == nil {
		log.Warn().Msg("No Redis configured, running without persisted audio, sounds or profiles")
	} else {
		a.closers = append(a.closers, a.Redis.Close)
	}

	a.Session, err = discordgo.New("Bot " + cfg.Discord.Token)
	if err != nil {
		return nil, fmt.Errorf("error creating Discord session: %w", err)
	}
	a.Session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMessages |
		discordgo.IntentsGuildVoiceStates |
		discordgo.IntentMessageContent

	client, checks, err := newSynthClient(ctx, cfg.Synthesis)
	if err != nil {
		return nil, err
	}
	if c, ok := client.(interface{ Close() error }); ok {
		a.closers = append(a.closers, c.Close)
	}
	backend := synth.Instrument(
		synth.Throttle(client, cfg.Synthesis.RequestsPerSecond, cfg.Synthesis.Burst, cfg.Synthesis.MaxConcurrent),
		cfg.Synthesis.Backend,
	)
	encoder := audio.NewFFmpegEncoder(cfg.Synthesis.FFmpegPath)
	synthTimeout := time.Duration(cfg.Synthesis.TimeoutSeconds) * time.Second
	miss := playback.SynthesizeWith(backend, encoder)
	a.synthesize = func(ctx context.Context, key cache.Key) (*audio.Clip, error) {
		if synthTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, synthTimeout)
			defer cancel()
		}
		return miss(ctx, key)
	}

	cacheOpts := []cache.Option{cache.WithPredefinedVoice(cfg.Synthesis.DefaultSpeaker, cfg.Synthesis.DefaultSpeed)}
	if a.Redis != nil {
		ttl := time.Duration(cfg.Redis.AudioTTLHours) * time.Hour
		cacheOpts = append(cacheOpts, cache.WithStore(cache.NewRedisStore(a.Redis, ttl)))
	}
	a.Cache, err = cache.New(cfg.Relay.CacheSize, cacheOpts...)
	if err != nil {
		return nil, err
	}

	a.Library, err = soundboard.Load(ctx, cfg.Relay.SoundDirectory, encoder, cfg.Relay.Workers)
	if err != nil {
		return nil, err
	}
	pipelineOpts := []playback.Option{
		playback.WithLibrary(a.Library),
		playback.WithWorkers(cfg.Relay.Workers),
		playback.WithMaxSegments(cfg.Relay.MaxSegments),
	}
	if a.Redis != nil {
		var resolverOpts []soundboard.ResolverOption
		if cfg.Relay.SoundCDN != "" {
			resolverOpts = append(resolverOpts, soundboard.WithFetcher(soundboard.NewCDNFetcher(cfg.Relay.SoundCDN, synthTimeout), encoder))
		}
		resolver, err := soundboard.NewRedisResolver(a.Redis, 128, resolverOpts...)
		if err != nil {
			return nil, err
		}
		pipelineOpts = append(pipelineOpts, playback.WithResolver(resolver))
	}
	a.Pipeline = playback.New(a.Cache, a.synthesize, pipelineOpts...)

	a.Voice = voice.NewManager(
		voice.NewDiscordTransport(a.Session, cfg.Discord.SelfDeaf),
		voice.WithJoinTimeout(time.Duration(cfg.Discord.JoinTimeoutSeconds)*time.Second),
		voice.OnConnect(a.greet),
	)

	a.Limiter, err = ratelimit.New(policyFromConfig(cfg.Relay.RateLimit))
	if err != nil {
		return nil, fmt.Errorf("invalid rate limit: %w", err)
	}

	profiles := profile.NewStore(a.Redis, profile.Voice{Speaker: cfg.Synthesis.DefaultSpeaker, Speed: cfg.Synthesis.DefaultSpeed})
	a.Handler = events.NewHandler(a.Voice, a.Pipeline, profiles, a.Limiter,
		cfg.Relay.RateLimit.Enforce, time.Duration(cfg.Relay.MessageTimeout)*time.Second)

	a.Health = services.NewHealthChecker(time.Minute, 5*time.Second)
	for name, check := range checks {
		a.Health.Register(name, check)
	}
	if a.Redis != nil {
		rdb := a.Redis
		a.Health.Register("redis", func(ctx context.Context) error { return rdb.Ping(ctx).Err() })
	}
	a.Health.Register("discord", a.discordReady)

	reg := prometheus.NewRegistry()
	if err := metrics.Register(reg); err != nil {
		return nil, err
	}
	a.Status = services.NewStatusServer(cfg.Relay.StatusAddr, version, a.Health, reg)
	a.Status.AddReporter("cache", func() any { return a.Cache.Stats() })
	a.Status.AddReporter("voice", func() any { return map[string]any{"guilds": a.Voice.Guilds()} })
	a.Status.AddReporter("rate_limit", func() any {
		return map[string]any{"tracked_users": a.Limiter.Len(), "enforce": cfg.Relay.RateLimit.Enforce}
	})
	a.Status.AddReporter("soundboard", func() any { return map[string]any{"sounds": a.Library.Len()} })

	return a, nil
}

func newSynthClient(ctx context.Context, cfg *config.SynthesisConfig) (synth.Client, map[string]services.CheckFunc, error) {
	timeout := time.Duration(cfg.TimeoutSeconds) * time.Second
	switch cfg.Backend {
	case "google":
		g, err := synth.NewGoogleClient(ctx, cfg.GoogleLanguage)
		if err != nil {
			return nil, nil, err
		}
		return g, nil, nil
	default:
		v := synth.NewVoicevoxClient(cfg.VoicevoxHost, timeout)
		check := func(ctx context.Context) error {
			_, err := v.Version(ctx)
			return err
		}
		return v, map[string]services.CheckFunc{"voicevox": check}, nil
	}
}

func policyFromConfig(c config.RateLimitConfig) ratelimit.Policy {
	seconds := func(v float64) time.Duration { return time.Duration(v * float64(time.Second)) }
	return ratelimit.Policy{
		MaxMessages:    c.MaxMessages,
		Window:         seconds(c.WindowSeconds),
		BaseCooldown:   seconds(c.BaseCooldownSeconds),
		MaxCooldown:    seconds(c.MaxCooldownSeconds),
		Multiplier:     c.Multiplier,
		ViolationReset: seconds(c.ViolationResetMinutes * 60),
	}
}

// greet plays the connected utterance on a fresh connection.
func (a *App) greet(c *voice.Connection) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	src, err := a.Pipeline.Utterance(ctx, cache.UtteranceConnected)
	if err != nil {
		log.Warn().Err(err).Str("guild", c.GuildID).Msg("Could not prepare greeting")
		return
	}
	if err := c.Enqueue(src); err != nil && !errors.Is(err, voice.ErrQueueClosed) {
		log.Warn().Err(err).Str("guild", c.GuildID).Msg("Could not queue greeting")
	}
}

func (a *App) discordReady(context.Context) error {
	a.Session.RLock()
	defer a.Session.RUnlock()
	if !a.Session.DataReady {
		return errors.New("gateway not ready")
	}
	return nil
}

// Run connects to Discord and blocks until SIGINT or SIGTERM.
func (a *App) Run(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	detach := logger.AttachDiscord(a.Session, a.Config.Discord.LogChannelID)
	defer detach()

	a.Session.AddHandler(a.Handler.Ready)
	a.Session.AddHandler(a.Handler.MessageCreate)
	a.Session.AddHandler(a.Handler.InteractionCreate)

	ready := a.Cache.Warm(ctx, a.synthesize)
	log.Info().Int("ready", ready).Int("total", len(cache.Utterances())).Msg("Predefined audio warmed")

	if err := a.Status.Start(); err != nil {
		return fmt.Errorf("could not start status server: %w", err)
	}
	a.Health.Start()

	if err := a.Session.Open(); err != nil {
		return fmt.Errorf("error opening connection to Discord: %w", err)
	}
	log.Info().Str("version", a.Version).Msg("Relay is running")

	go a.Voice.Watch(ctx, time.Duration(a.Config.Relay.WatchdogSeconds)*time.Second)
	go a.sweepLimiter(ctx, 5*time.Minute)

	<-ctx.Done()
	log.Info().Msg("Shutting down")
	return a.Shutdown()
}

func (a *App) sweepLimiter(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := a.Limiter.Sweep(now); n > 0 {
				log.Debug().Int("removed", n).Msg("Swept idle rate limit records")
			}
		}
	}
}

// Shutdown leaves every voice channel and releases connections.
func (a *App) Shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var errs []error
	if err := a.Voice.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	a.Health.Stop()
	if err := a.Status.Shutdown(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := a.Session.Close(); err != nil {
		errs = append(errs, err)
	}
	for _, c := range a.closers {
		if err := c(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
