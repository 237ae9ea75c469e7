// Package events connects Discord gateway events to the relay.
package events

import (
	"context"
	"errors"
	"time"

	"github.com/EasterCompany/dex-tts-service/metrics"
	"github.com/EasterCompany/dex-tts-service/playback"
	"github.com/EasterCompany/dex-tts-service/profile"
	"github.com/EasterCompany/dex-tts-service/ratelimit"
	"github.com/EasterCompany/dex-tts-service/voice"
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// ErrRateLimited is returned by Relay when the author is cooling down and
// the limit is enforced. Callers drop the message without telling anyone.
var ErrRateLimited = errors.New("rate limited")

// Message is the part of a chat message the relay needs.
type Message struct {
	GuildID   string
	ChannelID string
	AuthorID  string
	Bot       bool
	Content   string
}

type Handler struct {
	Voice    *voice.Manager
	Pipeline *playback.Pipeline
	Profiles *profile.Store
	Limiter  *ratelimit.Limiter
	// Enforce drops limited messages. When false, violations are only
	// logged.
	Enforce bool
	// Timeout bounds the work for a single message.
	Timeout time.Duration

	now func() time.Time
}

func NewHandler(vm *voice.Manager, p *playback.Pipeline, profiles *profile.Store, limiter *ratelimit.Limiter, enforce bool, timeout time.Duration) *Handler {
	return &Handler{
		Voice:    vm,
		Pipeline: p,
		Profiles: profiles,
		Limiter:  limiter,
		Enforce:  enforce,
		Timeout:  timeout,
		now:      time.Now,
	}
}

// Relay reads msg aloud in its guild's voice channel if that guild is
// connected and msg was posted in the routed text channel. It returns the
// number of tracks queued.
func (h *Handler) Relay(ctx context.Context, msg Message) (int, error) {
	if msg.Bot || msg.GuildID == "" {
		return 0, nil
	}
	conn, ok := h.Voice.Get(msg.GuildID)
	if !ok || conn.TextChannelID != msg.ChannelID {
		return 0, nil
	}

	if h.Limiter != nil && !h.Limiter.Admit(msg.AuthorID, h.now()) {
		metrics.RecordMessage("rate_limited")
		ev := log.Debug().Str("component", "events").Str("user", msg.AuthorID).Str("guild", msg.GuildID)
		if st, ok := h.Limiter.State(msg.AuthorID, h.now()); ok {
			ev = ev.Int("violations", st.Violations).Dur("remaining", st.Remaining)
		}
		if h.Enforce {
			ev.Msg("Dropping rate limited message")
			return 0, ErrRateLimited
		}
		ev.Msg("Rate limit exceeded, relaying anyway")
	}

	if h.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.Timeout)
		defer cancel()
	}

	pv := h.Profiles.Voice(ctx, msg.AuthorID)
	n, err := h.Pipeline.HandleMessage(ctx, msg.Content, playback.Voice{Speaker: pv.Speaker, Speed: pv.Speed}, conn)
	switch {
	case errors.Is(err, voice.ErrQueueClosed):
		metrics.RecordMessage("dropped")
		return 0, nil
	case err != nil:
		metrics.RecordMessage("failed")
		return 0, err
	}
	metrics.RecordMessage("relayed")
	return n, nil
}

// MessageCreate is the discordgo handler for new messages.
func (h *Handler) MessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || (s.State != nil && s.State.User != nil && m.Author.ID == s.State.User.ID) {
		return
	}
	msg := Message{
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		AuthorID:  m.Author.ID,
		Bot:       m.Author.Bot,
		Content:   m.ContentWithMentionsReplaced(),
	}
	n, err := h.Relay(context.Background(), msg)
	switch {
	case errors.Is(err, ErrRateLimited):
	case err != nil:
		log.Error().Err(err).Str("component", "events").Str("guild", m.GuildID).Str("message", m.ID).Msg("Could not relay message")
	case n > 0:
		log.Debug().Str("component", "events").Str("guild", m.GuildID).Int("tracks", n).Msg("Message queued")
	}
}
