package events

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/EasterCompany/dex-tts-service/profile"
	"github.com/EasterCompany/dex-tts-service/voice"
	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog/log"
)

var minSpeed = 0.5

// Commands are registered in every guild on Ready.
var Commands = []*discordgo.ApplicationCommand{
	{Name: "join", Description: "Join your voice channel and read this channel aloud"},
	{Name: "leave", Description: "Leave the voice channel"},
	{Name: "skip", Description: "Skip the message being read"},
	{Name: "help", Description: "Show what the bot can do"},
	{
		Name:        "voice",
		Description: "Change the voice your messages are read with",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "speaker",
				Description: "Speaker ID",
			},
			{
				Type:        discordgo.ApplicationCommandOptionNumber,
				Name:        "speed",
				Description: "Reading speed",
				MinValue:    &minSpeed,
				MaxValue:    2,
			},
		},
	},
}

const helpText = "**Text to speech**\n" +
	"`/join` reads this channel aloud in your voice channel.\n" +
	"`/leave` disconnects.\n" +
	"`/skip` stops the message being read.\n" +
	"`/voice` sets your speaker and speed.\n" +
	"Links are replaced by a short sound and `<sound:ID>` plays a soundboard sound."

// Ready registers slash commands in every guild the bot is in.
func (h *Handler) Ready(s *discordgo.Session, r *discordgo.Ready) {
	log.Info().Str("component", "events").Str("user", r.User.Username).Int("guilds", len(r.Guilds)).Msg("Session ready")
	for _, g := range r.Guilds {
		if _, err := s.ApplicationCommandBulkOverwrite(r.User.ID, g.ID, Commands); err != nil {
			log.Error().Err(err).Str("component", "events").Str("guild", g.ID).Msg("Could not register commands")
		}
	}
}

// InteractionCreate routes slash commands.
func (h *Handler) InteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		h.respond(s, i, "Commands only work in a server.")
		return
	}
	data := i.ApplicationCommandData()
	ctx := context.Background()

	switch data.Name {
	case "join":
		// Joining can take longer than the interaction deadline.
		if err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
			Type: discordgo.InteractionResponseDeferredChannelMessageWithSource,
		}); err != nil {
			log.Error().Err(err).Str("component", "events").Msg("Could not defer interaction")
			return
		}
		channelID := ""
		if vs, err := s.State.VoiceState(i.GuildID, i.Member.User.ID); err == nil {
			channelID = vs.ChannelID
		}
		reply := h.join(ctx, i.GuildID, channelID, i.ChannelID)
		if _, err := s.InteractionResponseEdit(i.Interaction, &discordgo.WebhookEdit{Content: &reply}); err != nil {
			log.Error().Err(err).Str("component", "events").Msg("Could not edit interaction response")
		}
	case "leave":
		h.respond(s, i, h.leave(ctx, i.GuildID))
	case "skip":
		h.respond(s, i, h.skip(i.GuildID))
	case "help":
		h.respond(s, i, helpText)
	case "voice":
		var speaker string
		var speed float64
		for _, opt := range data.Options {
			switch opt.Name {
			case "speaker":
				speaker = opt.StringValue()
			case "speed":
				speed = opt.FloatValue()
			}
		}
		h.respond(s, i, h.setVoice(ctx, i.Member.User.ID, speaker, speed))
	default:
		h.respond(s, i, fmt.Sprintf("`%s` is not a valid command.", data.Name))
	}
}

func (h *Handler) respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{Content: content},
	})
	if err != nil {
		log.Error().Err(err).Str("component", "events").Msg("Could not respond to interaction")
	}
}

func (h *Handler) join(ctx context.Context, guildID, voiceChannelID, textChannelID string) string {
	if voiceChannelID == "" {
		return "You need to be in a voice channel for me to join!"
	}
	conn, err := h.Voice.Join(ctx, guildID, voiceChannelID, textChannelID)
	if err != nil {
		if errors.Is(err, voice.ErrTransportTimeout) {
			return "Timed out joining the voice channel."
		}
		return "Could not join the voice channel."
	}
	return fmt.Sprintf("Reading <#%s> in <#%s>.", conn.TextChannelID, conn.VoiceChannelID)
}

func (h *Handler) leave(ctx context.Context, guildID string) string {
	if h.Voice.State(guildID) != voice.Connected {
		return "I'm not in a voice channel."
	}
	if err := h.Voice.Leave(ctx, guildID); err != nil {
		log.Warn().Err(err).Str("component", "events").Str("guild", guildID).Msg("Leave failed")
		return "Something went wrong while leaving."
	}
	return "Disconnected."
}

func (h *Handler) skip(guildID string) string {
	conn, ok := h.Voice.Get(guildID)
	if !ok || !conn.Skip() {
		return "Nothing is playing."
	}
	return "Skipped."
}

func (h *Handler) setVoice(ctx context.Context, userID, speaker string, speed float64) string {
	if speaker == "" && speed == 0 {
		v := h.Profiles.Voice(ctx, userID)
		return fmt.Sprintf("Your voice: speaker %s, speed %s.", v.Speaker, formatSpeed(v.Speed))
	}
	v, err := h.Profiles.SetVoice(ctx, userID, profile.Voice{Speaker: strings.TrimSpace(speaker), Speed: speed})
	if err != nil {
		if errors.Is(err, profile.ErrInvalidSpeed) {
			return "Speed must be between 0.5 and 2."
		}
		log.Warn().Err(err).Str("component", "events").Str("user", userID).Msg("Could not save voice")
		return "Could not save your voice."
	}
	return fmt.Sprintf("Your voice is now speaker %s, speed %s.", v.Speaker, formatSpeed(v.Speed))
}

func formatSpeed(speed float64) string {
	return strconv.FormatFloat(speed, 'f', -1, 64)
}
