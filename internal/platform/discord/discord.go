// Package discord binds sidekicks and supervisors to Discord.
package discord

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/xaenox/sidekicks/internal/models"
	"github.com/xaenox/sidekicks/internal/platform"
)

const (
	maxMessageLength = 2000

	// autoArchiveMinutes is how long a conversation thread stays open
	// without activity.
	autoArchiveMinutes = 60

	defaultThreadTitle = "conversation"

	intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
)

func newSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = intents
	return session, nil
}

func inbound(m *discordgo.Message) platform.Inbound {
	in := platform.Inbound{
		AuthorIsBot: m.Author != nil && m.Author.Bot,
		System:      m.Type != discordgo.MessageTypeDefault && m.Type != discordgo.MessageTypeReply,
	}
	for _, u := range m.Mentions {
		if u != nil && u.Bot {
			in.MentionedBots = append(in.MentionedBots, u.ID)
		}
	}
	return in
}

func isThread(ch *discordgo.Channel) bool {
	switch ch.Type {
	case discordgo.ChannelTypeGuildPublicThread,
		discordgo.ChannelTypeGuildPrivateThread,
		discordgo.ChannelTypeGuildNewsThread:
		return true
	}
	return false
}

func toUser(u *discordgo.User) models.User {
	if u == nil {
		return models.User{}
	}
	display := u.GlobalName
	if display == "" {
		display = u.Username
	}
	return models.User{
		ID:          u.ID,
		Username:    u.Username,
		DisplayName: display,
	}
}
