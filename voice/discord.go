package voice

import (
	"context"
	"sync"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

// DiscordTransport is a Transport over a discordgo session.
type DiscordTransport struct {
	session  *discordgo.Session
	selfDeaf bool

	mu     sync.Mutex
	nextID uint64
	subs   map[string]map[uint64]func()
}

// NewDiscordTransport registers a voice state handler on s to detect drops.
func NewDiscordTransport(s *discordgo.Session, selfDeaf bool) *DiscordTransport {
	t := &DiscordTransport{
		session:  s,
		selfDeaf: selfDeaf,
		subs:     make(map[string]map[uint64]func()),
	}
	s.AddHandler(t.voiceStateUpdate)
	return t
}

// Join implements Transport. ChannelVoiceJoin has no context, so it runs in
// the background; a join that completes after ctx is done is disconnected.
func (t *DiscordTransport) Join(ctx context.Context, guildID, channelID string) (Conn, error) {
	type result struct {
		vc  *discordgo.VoiceConnection
		err error
	}
	done := make(chan result, 1)
	go func() {
		vc, err := t.session.ChannelVoiceJoin(guildID, channelID, false, t.selfDeaf)
		done <- result{vc, err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			if r.vc != nil {
				_ = r.vc.Disconnect()
			}
			return nil, r.err
		}
		return &discordConn{vc: r.vc}, nil
	case <-ctx.Done():
		go func() {
			if r := <-done; r.vc != nil {
				log.Debug().Str("component", "voice").Str("guild", guildID).Msg("Disconnecting late voice join")
				_ = r.vc.Disconnect()
			}
		}()
		return nil, ctx.Err()
	}
}

// Leave implements Transport. If ctx ends first the disconnect keeps running
// in the background.
func (t *DiscordTransport) Leave(ctx context.Context, guildID string) error {
	vc := t.connection(guildID)
	if vc == nil {
		return nil
	}
	done := make(chan error, 1)
	go func() { done <- vc.Disconnect() }()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Present implements Transport.
func (t *DiscordTransport) Present(guildID string) bool {
	return t.connection(guildID) != nil
}

func (t *DiscordTransport) connection(guildID string) *discordgo.VoiceConnection {
	t.session.RLock()
	defer t.session.RUnlock()
	return t.session.VoiceConnections[guildID]
}

// Subscribe implements Transport.
func (t *DiscordTransport) Subscribe(guildID string, fn func()) func() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.nextID++
	id := t.nextID
	if t.subs[guildID] == nil {
		t.subs[guildID] = make(map[uint64]func())
	}
	t.subs[guildID][id] = fn
	return func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		delete(t.subs[guildID], id)
		if len(t.subs[guildID]) == 0 {
			delete(t.subs, guildID)
		}
	}
}

// voiceStateUpdate fires subscribers when the bot itself leaves a channel,
// e.g. after being kicked or the channel being deleted.
func (t *DiscordTransport) voiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if s.State == nil || s.State.User == nil || v.VoiceState == nil {
		return
	}
	if v.UserID != s.State.User.ID || v.ChannelID != "" {
		return
	}
	t.notify(v.GuildID)
}

func (t *DiscordTransport) notify(guildID string) {
	t.mu.Lock()
	fns := make([]func(), 0, len(t.subs[guildID]))
	for _, fn := range t.subs[guildID] {
		fns = append(fns, fn)
	}
	t.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}

type discordConn struct {
	vc *discordgo.VoiceConnection
}

func (c *discordConn) SendFrame(ctx context.Context, frame []byte) error {
	select {
	case c.vc.OpusSend <- frame:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *discordConn) Speaking(speaking bool) error {
	return c.vc.Speaking(speaking)
}
