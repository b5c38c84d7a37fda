package alerting

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"ema-price-alerts/internal/currency"
)

// Icons shown next to the webhook username.
const (
	IconUp   = "https://i.imgur.com/2PVZ0l1.png"
	IconDown = "https://i.imgur.com/21sDn3D.png"
)

// SlackAttachment is a legacy message attachment.
type SlackAttachment struct {
	Fallback string `json:"fallback"`
	Pretext  string `json:"pretext,omitempty"`
	Text     string `json:"text"`
	Color    string `json:"color"`
}

// SlackMessage is the incoming-webhook payload.
type SlackMessage struct {
	Username     string            `json:"username,omitempty"`
	IconURL      string            `json:"icon_url,omitempty"`
	Text         string            `json:"text"`
	Attachments  []SlackAttachment `json:"attachments,omitempty"`
	Channel      string            `json:"channel,omitempty"`
	ResponseType string            `json:"response_type,omitempty"`
}

// SlackColor maps a band to an attachment colour; neutral uses Slack's default.
func SlackColor(b Band) string {
	if b == BandNeutral {
		return ""
	}
	return string(b)
}

// SlackNotifier posts alerts to an incoming webhook.
type SlackNotifier struct {
	webhookURL string
	channel    string
	username   string
	client     *http.Client
	logger     zerolog.Logger
}

// NewSlackNotifier constructs a webhook notifier.
func NewSlackNotifier(webhookURL, channel, username string, timeout time.Duration, logger zerolog.Logger) *SlackNotifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		channel:    channel,
		username:   username,
		client:     &http.Client{Timeout: timeout},
		logger:     logger.With().Str("component", "alert_slack").Logger(),
	}
}

// Notify posts the alert with one attachment per comparison.
func (n *SlackNotifier) Notify(ctx context.Context, note Notification) error {
	msg := BuildSlackMessage(note)
	msg.Username = n.username
	msg.Channel = n.channel

	if err := PostSlack(ctx, n.client, n.webhookURL, msg); err != nil {
		return err
	}

	n.logger.Info().Str("job", note.Job).
		Str("product", note.Product).
		Str("direction", note.Decision.Snapshot.Direction()).
		Int("attachments", len(msg.Attachments)).
		Msg("告警已发送 (Slack)")
	return nil
}

// BuildSlackMessage renders a notification as a webhook message.
func BuildSlackMessage(note Notification) SlackMessage {
	icon := IconDown
	if note.Decision.Snapshot.Rising {
		icon = IconUp
	}

	attachments := ComparisonAttachments(note.Pair(), note.Comparisons)
	attachments = append(attachments, SlackAttachment{
		Fallback: "ema deviation",
		Text:     note.EMALine(),
	})
	attachments[0].Pretext = note.Headline()

	return SlackMessage{IconURL: icon, Attachments: attachments}
}

// ComparisonAttachments renders one coloured attachment per comparison.
func ComparisonAttachments(pair currency.Pair, comparisons []Comparison) []SlackAttachment {
	out := make([]SlackAttachment, 0, len(comparisons)+1)
	for _, c := range comparisons {
		out = append(out, SlackAttachment{
			Fallback: "some price changes",
			Text:     ComparisonText(pair, c),
			Color:    SlackColor(c.Band()),
		})
	}
	return out
}

// PostSlack sends msg as JSON to url and expects a 2xx reply.
func PostSlack(ctx context.Context, client *http.Client, url string, msg SlackMessage) error {
	if url == "" {
		return fmt.Errorf("slack webhook url not configured")
	}
	_, err := postJSON(ctx, client, "slack", url, msg)
	return err
}

var _ Notifier = (*SlackNotifier)(nil)
