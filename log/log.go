// Package log configures the global zerolog logger and mirrors warnings and
// errors into a Discord channel.
package log

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const maxDiscordMessage = 1900

var (
	mu      sync.Mutex
	console io.Writer = os.Stderr
)

// Init sets the global level and console output. Pretty selects the human
// readable console format instead of JSON lines.
func Init(level string, pretty bool) error {
	lvl := zerolog.InfoLevel
	if level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(level))
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", level, err)
		}
		lvl = parsed
	}
	zerolog.SetGlobalLevel(lvl)

	var out io.Writer = os.Stderr
	if pretty {
		out = zerolog.ConsoleWriter{Out: os.Stderr}
	}

	mu.Lock()
	console = out
	mu.Unlock()
	log.Logger = zerolog.New(out).With().Timestamp().Logger()
	return nil
}

// channelSender is the part of *discordgo.Session the channel writer needs.
type channelSender interface {
	ChannelMessageSend(channelID string, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// AttachDiscord tees warn and error entries into the given channel. Lines are
// queued until the session reports Ready. It returns a function that detaches
// the writer again.
func AttachDiscord(s *discordgo.Session, channelID string) (detach func()) {
	if s == nil || channelID == "" {
		return func() {}
	}

	w := newDiscordWriter(s, channelID)
	remove := s.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		w.markReady()
	})

	mu.Lock()
	base := console
	mu.Unlock()
	log.Logger = log.Output(zerolog.MultiLevelWriter(base, w))

	return func() {
		remove()
		w.close()
		mu.Lock()
		out := console
		mu.Unlock()
		log.Logger = log.Output(out)
	}
}

// discordWriter forwards warn+ entries to a channel from a single goroutine
// so logging never blocks on the Discord API.
type discordWriter struct {
	sender    channelSender
	channelID string
	queue     chan string
	ready     chan struct{}
	readyOnce sync.Once
	closeOnce sync.Once
	done      chan struct{}
}

func newDiscordWriter(sender channelSender, channelID string) *discordWriter {
	w := &discordWriter{
		sender:    sender,
		channelID: channelID,
		queue:     make(chan string, 64),
		ready:     make(chan struct{}),
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *discordWriter) markReady() {
	w.readyOnce.Do(func() { close(w.ready) })
}

func (w *discordWriter) close() {
	w.closeOnce.Do(func() { close(w.done) })
}

// Write is used for entries without a level; they are not forwarded.
func (w *discordWriter) Write(p []byte) (int, error) {
	return len(p), nil
}

// WriteLevel implements zerolog.LevelWriter.
func (w *discordWriter) WriteLevel(level zerolog.Level, p []byte) (int, error) {
	if level < zerolog.WarnLevel || level == zerolog.NoLevel {
		return len(p), nil
	}

	msg := strings.TrimSpace(string(p))
	msg = truncate(msg, maxDiscordMessage)

	select {
	case w.queue <- "```\n" + msg + "\n```":
	default:
		// Channel is backed up; the console still has the entry.
	}
	return len(p), nil
}

// truncate cuts s to at most n bytes on a rune boundary.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}

func (w *discordWriter) run() {
	select {
	case <-w.ready:
	case <-w.done:
		return
	}
	for {
		select {
		case msg := <-w.queue:
			if _, err := w.sender.ChannelMessageSend(w.channelID, msg); err != nil {
				fmt.Fprintf(os.Stderr, "could not post log line to discord: %v\n", err)
			}
		case <-w.done:
			return
		}
	}
}

// Fatal logs err with context and exits. It is meant for startup failures.
func Fatal(context string, err error) {
	log.Error().Err(err).Msg(context)
	os.Exit(1)
}
