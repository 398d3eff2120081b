package alert

import (
	"context"
	"fmt"

	"github.com/slack-go/slack"

	"github.com/virek/engram/internal/fault"
)

// Slack posts alerts to one channel via chat.postMessage.
type Slack struct {
	client  *slack.Client
	channel string
}

// NewSlack creates a Slack notifier. token is the Bot User OAuth Token
// (xoxb-...).
func NewSlack(token, channel string) *Slack {
	return &Slack{
		client:  slack.New(token),
		channel: channel,
	}
}

func (s *Slack) Name() string { return "slack" }

// Notify posts the notice as a single message.
func (s *Slack) Notify(ctx context.Context, n Notice) error {
	text := fmt.Sprintf("*[%s] %s*\n%s", n.Severity, n.Title, n.Body)
	_, _, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(text, false))
	if err != nil {
		return fault.Wrap(fault.KindProvider, err, "slack post to %s", s.channel)
	}
	return nil
}
