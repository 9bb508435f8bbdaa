package events

import (
	"context"
	"fmt"

	"github.com/nidhogg/teamflow/internal/workflow"
	"github.com/slack-go/slack"
	"go.uber.org/zap"
)

// SlackNotifier announces runs that reach COMPLETED or FAILED. It posts
// through an incoming webhook, or through the Web API when a bot token
// and channel are configured instead.
type SlackNotifier struct {
	webhookURL string
	client     *slack.Client
	channel    string
	username   string
	logger     *zap.Logger
}

// NewSlackWebhookNotifier posts to an incoming webhook.
func NewSlackWebhookNotifier(webhookURL string, logger *zap.Logger) *SlackNotifier {
	return &SlackNotifier{webhookURL: webhookURL, username: "teamflow", logger: logger}
}

// NewSlackBotNotifier posts to channel with a bot token.
func NewSlackBotNotifier(botToken, channel string, logger *zap.Logger, opts ...slack.Option) *SlackNotifier {
	return &SlackNotifier{
		client:   slack.New(botToken, opts...),
		channel:  channel,
		username: "teamflow",
		logger:   logger,
	}
}

// Publish implements workflow.Sink. Non-terminal events are ignored.
func (n *SlackNotifier) Publish(ctx context.Context, ev workflow.Event) error {
	if ev.Type != workflow.EventStatus || !ev.Status.Terminal() {
		return nil
	}
	text, color := summary(ev)
	att := slack.Attachment{
		Color: color,
		Title: fmt.Sprintf("Run %s", ev.RunID),
		Text:  text,
		Fields: []slack.AttachmentField{
			{Title: "Team", Value: ev.Team, Short: true},
			{Title: "Status", Value: string(ev.Status), Short: true},
		},
	}

	if n.client != nil {
		_, _, err := n.client.PostMessageContext(ctx, n.channel,
			slack.MsgOptionText(text, false),
			slack.MsgOptionUsername(n.username),
			slack.MsgOptionAttachments(att),
		)
		if err != nil {
			return fmt.Errorf("slack post: %w", err)
		}
	} else {
		err := slack.PostWebhookContext(ctx, n.webhookURL, &slack.WebhookMessage{
			Username:    n.username,
			Text:        text,
			Attachments: []slack.Attachment{att},
		})
		if err != nil {
			return fmt.Errorf("slack webhook: %w", err)
		}
	}

	n.logger.Info("slack notified", zap.String("run", ev.RunID), zap.String("status", string(ev.Status)))
	return nil
}

func summary(ev workflow.Event) (text, color string) {
	if ev.Status == workflow.StatusCompleted {
		text = ev.Result
		if text == "" {
			text = fmt.Sprintf("Team %q completed its run.", ev.Team)
		}
		return text, "good"
	}
	return fmt.Sprintf("Team %q failed at stage %d.", ev.Team, ev.StageIndex+1), "danger"
}
