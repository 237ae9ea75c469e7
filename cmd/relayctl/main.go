// relayctl inspects and exercises a dex-tts-service installation: config
// files, the Redis audio cache, the sound library and the synthesis path.
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/EasterCompany/dex-tts-service/audio"
	"github.com/EasterCompany/dex-tts-service/cache"
	"github.com/EasterCompany/dex-tts-service/config"
	"github.com/EasterCompany/dex-tts-service/playback"
	"github.com/EasterCompany/dex-tts-service/soundboard"
	"github.com/EasterCompany/dex-tts-service/synth"
	"github.com/fatih/color"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v3"
)

var version = "dev"

var (
	ok   = color.New(color.FgGreen).SprintFunc()
	bad  = color.New(color.FgRed).SprintFunc()
	head = color.New(color.FgBlue, color.Bold).SprintFunc()
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	app := &cli.Command{
		Name:    "relayctl",
		Usage:   "Operate the text to speech relay",
		Version: version,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"V"},
				Usage:   "Enable debug logging",
			},
		},
		Before: func(ctx context.Context, c *cli.Command) error {
			if c.Bool("verbose") {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
			return nil
		},
		Commands: []*cli.Command{
			{
				Name:   "verify-config",
				Usage:  "Check every config file for unknown fields and missing settings",
				Action: handleVerifyConfig,
			},
			{
				Name:  "cache",
				Usage: "Inspect the Redis audio cache",
				Commands: []*cli.Command{
					{
						Name:   "stats",
						Usage:  "Count cached utterances",
						Action: handleCacheStats,
					},
					{
						Name:   "clean",
						Usage:  "Delete every cached utterance",
						Action: handleCacheClean,
					},
				},
			},
			{
				Name:   "sounds",
				Usage:  "List the sounds in the sound directory",
				Action: handleSounds,
			},
			{
				Name:      "synth",
				Usage:     "Synthesize text to an Ogg/Opus file",
				ArgsUsage: "<text>",
				Action:    handleSynth,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:    "out",
						Aliases: []string{"o"},
						Usage:   "Output file",
						Value:   "out.ogg",
					},
					&cli.StringFlag{
						Name:  "speaker",
						Usage: "Speaker, defaults to the configured speaker",
					},
					&cli.FloatFlag{
						Name:  "speed",
						Usage: "Speed, defaults to the configured speed",
					},
				},
			},
		},
	}

	if err := app.Run(context.Background(), os.Args); err != nil {
		log.Fatal().Err(err).Msg("relayctl failed")
	}
}

func handleVerifyConfig(ctx context.Context, c *cli.Command) error {
	cfg, err := config.LoadAllConfigs()
	if err != nil {
		return err
	}
	reports, err := config.VerifyFiles(cfg)
	if err != nil {
		return err
	}
	return printVerification(c.Root().Writer, reports, cfg.Validate())
}

func printVerification(w io.Writer, reports []config.FileReport, validation error) error {
	fmt.Fprintln(w, head("--- Config Verifier ---"))
	failed := 0
	for _, r := range reports {
		if r.Err != nil {
			failed++
			fmt.Fprintf(w, "%s %s: %v\n", bad("[FAIL]"), r.Name, r.Err)
			continue
		}
		fmt.Fprintf(w, "%s %s\n", ok("[ OK ]"), r.Name)
	}
	if validation != nil {
		for _, line := range strings.Split(validation.Error(), "\n") {
			failed++
			fmt.Fprintf(w, "%s %s\n", bad("[FAIL]"), line)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d config problem(s) found", failed)
	}
	fmt.Fprintln(w, ok("All config files are valid."))
	return nil
}

func openStore(ctx context.Context) (*cache.RedisStore, func(), error) {
	cfg, err := config.LoadAllConfigs()
	if err != nil {
		return nil, nil, err
	}
	rdb, err := cache.Dial(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	if rdb == nil {
		return nil, nil, errors.New("no redis address configured")
	}
	ttl := time.Duration(cfg.Redis.AudioTTLHours) * time.Hour
	return cache.NewRedisStore(rdb, ttl), func() { _ = rdb.Close() }, nil
}

func handleCacheStats(ctx context.Context, c *cli.Command) error {
	store, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	n, err := store.Count(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Root().Writer, "%s %d cached utterances\n", head("cache:"), n)
	return nil
}

func handleCacheClean(ctx context.Context, c *cli.Command) error {
	store, closeFn, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeFn()
	n, err := store.CleanAll(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(c.Root().Writer, "%s deleted %d cached utterances\n", ok("cache:"), n)
	return nil
}

func handleSounds(ctx context.Context, c *cli.Command) error {
	cfg, err := config.LoadAllConfigs()
	if err != nil {
		return err
	}
	if cfg.Relay.SoundDirectory == "" {
		return errors.New("no sound directory configured (relay config or SS_DIRECTORY)")
	}
	lib, err := soundboard.Load(ctx, cfg.Relay.SoundDirectory, audio.NewFFmpegEncoder(cfg.Synthesis.FFmpegPath), cfg.Relay.Workers)
	if err != nil {
		return err
	}
	w := c.Root().Writer
	fmt.Fprintf(w, "%s %d sounds in %s\n", head("sounds:"), lib.Len(), cfg.Relay.SoundDirectory)
	for _, name := range lib.Names() {
		fmt.Fprintf(w, "  %s\n", name)
	}
	return nil
}

func handleSynth(ctx context.Context, c *cli.Command) error {
	text := strings.TrimSpace(strings.Join(c.Args().Slice(), " "))
	if text == "" {
		return errors.New("no text given")
	}
	cfg, err := config.LoadAllConfigs()
	if err != nil {
		return err
	}

	timeout := time.Duration(cfg.Synthesis.TimeoutSeconds) * time.Second
	var client synth.Client
	switch cfg.Synthesis.Backend {
	case "google":
		g, err := synth.NewGoogleClient(ctx, cfg.Synthesis.GoogleLanguage)
		if err != nil {
			return err
		}
		defer g.Close()
		client = g
	default:
		client = synth.NewVoicevoxClient(cfg.Synthesis.VoicevoxHost, timeout)
	}

	key := cache.Key{Speaker: cfg.Synthesis.DefaultSpeaker, Speed: cfg.Synthesis.DefaultSpeed, Text: text}
	if s := c.String("speaker"); s != "" {
		key.Speaker = s
	}
	if s := c.Float("speed"); s > 0 {
		key.Speed = s
	}

	fn := playback.SynthesizeWith(client, audio.NewFFmpegEncoder(cfg.Synthesis.FFmpegPath))
	clip, err := fn(ctx, key)
	if err != nil {
		return err
	}
	return writeClip(c.String("out"), clip, c.Root().Writer)
}

func writeClip(path string, clip *audio.Clip, w io.Writer) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := audio.WriteOgg(f, clip); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "%s wrote %s (%d frames, %s)\n", ok("synth:"), path, clip.Frames(), clip.Duration())
	return nil
}
