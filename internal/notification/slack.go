package notification

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"golang.org/x/time/rate"

	"pivotwatch/internal/model"
)

// SlackNotifier posts alerts to a Slack channel as a message with one attachment.
// Posts are rate limited to stay under Slack's per-channel limits.
type SlackNotifier struct {
	client  *slack.Client
	channel string
	limiter *rate.Limiter
}

// NewSlackNotifier creates a Slack notifier. options are passed to slack.New
// (slack.OptionAPIURL points it at a test server).
func NewSlackNotifier(token, channel string, options ...slack.Option) *SlackNotifier {
	return &SlackNotifier{
		client:  slack.New(token, options...),
		channel: channel,
		limiter: rate.NewLimiter(rate.Every(time.Second), 3),
	}
}

func (s *SlackNotifier) Deliver(ctx context.Context, alert model.Alert) (bool, string) {
	if err := s.limiter.Wait(ctx); err != nil {
		return false, fmt.Sprintf("Slack Error: %v", err)
	}

	_, ts, err := s.client.PostMessageContext(ctx, s.channel,
		slack.MsgOptionText(alert.Title(), false),
		slack.MsgOptionAttachments(slackAttachment(alert)),
	)
	if err != nil {
		return false, fmt.Sprintf("Slack Error: %v", err)
	}
	return true, "Slack OK: " + ts
}

func slackAttachment(a model.Alert) slack.Attachment {
	fields := []slack.AttachmentField{
		{Title: "Pattern", Value: strings.Join(a.MatchedPattern, " "), Short: true},
		{Title: "Buffer", Value: strings.Join(a.BufferTail, " "), Short: true},
		{Title: "Close", Value: fmt.Sprintf("%g", a.PriceClose), Short: true},
	}
	if n := len(a.PivotsTail); n > 0 {
		last := a.PivotsTail[n-1]
		fields = append(fields, slack.AttachmentField{
			Title: "Last pivot",
			Value: fmt.Sprintf("%s %g @ %s", last.Kind, last.Price, last.TimeUTC),
			Short: true,
		})
	}
	return slack.Attachment{
		Color:  "#228B22",
		Title:  a.Title(),
		Fields: fields,
		Footer: a.ID,
	}
}
