package alert

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/virek/engram/internal/fault"
)

// Discord posts alerts to one channel through the bot REST API. No
// gateway websocket is opened; alerts only write.
type Discord struct {
	session *discordgo.Session
	channel string
}

// NewDiscord creates a Discord notifier.
func NewDiscord(token, channelID string) (*Discord, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fault.Wrap(fault.KindProvider, err, "discord session")
	}
	return &Discord{session: session, channel: channelID}, nil
}

func (d *Discord) Name() string { return "discord" }

// Notify posts the notice as a single message.
func (d *Discord) Notify(ctx context.Context, n Notice) error {
	content := fmt.Sprintf("**[%s] %s**\n%s", n.Severity, n.Title, n.Body)
	_, err := d.session.ChannelMessageSend(d.channel, content,
		discordgo.WithContext(ctx))
	if err != nil {
		return fault.Wrap(fault.KindProvider, err, "discord send to %s", d.channel)
	}
	return nil
}
