// Package notify delivers messages to Slack and reads the delivery tags
// back out of channel history.
package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/slack-go/slack"

	"github.com/ppiankov/postcast/internal/apierr"
	"github.com/ppiankov/postcast/internal/delivery"
)

const (
	slackService        = "slack"
	defaultSlackTimeout = 30 * time.Second
	defaultHistoryLimit = 200
)

// SlackOptions configures the Slack client.
type SlackOptions struct {
	APIURL       string // override for tests and proxies; must end in /
	HistoryLimit int
	Timeout      time.Duration
}

// Slack posts tagged messages and resolves cursors from channel history.
type Slack struct {
	api          *slack.Client
	historyLimit int
}

// NewSlack creates a Slack sink authenticated with a bot token.
func NewSlack(token string, opts SlackOptions) (*Slack, error) {
	if strings.TrimSpace(token) == "" {
		return nil, errors.New("slack: token is empty")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultSlackTimeout
	}
	limit := opts.HistoryLimit
	if limit <= 0 {
		limit = defaultHistoryLimit
	}

	options := []slack.Option{slack.OptionHTTPClient(&http.Client{Timeout: timeout})}
	if opts.APIURL != "" {
		u := opts.APIURL
		if !strings.HasSuffix(u, "/") {
			u += "/"
		}
		options = append(options, slack.OptionAPIURL(u))
	}

	return &Slack{
		api:          slack.New(token, options...),
		historyLimit: limit,
	}, nil
}

// Post sends msg with tag attached as message metadata.
func (s *Slack) Post(ctx context.Context, channel string, msg delivery.Message, tag delivery.Tag) error {
	fallback := msg.Title
	if fallback == "" {
		fallback = msg.Body
	}
	_, _, err := s.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(fallback, false),
		slack.MsgOptionBlocks(Blocks(msg)...),
		slack.MsgOptionMetadata(slack.SlackMetadata{
			EventType:    tag.EventType,
			EventPayload: tag.Payload(),
		}),
	)
	if err != nil {
		return wrapSlackError("post message", err)
	}
	return nil
}

// Notify posts plain text tagged as a notification with a fresh id.
func (s *Slack) Notify(ctx context.Context, channel, text string) (string, error) {
	id := uuid.NewString()
	tag := delivery.Tag{EventType: delivery.EventNotification, ID: id, Trigger: delivery.TriggerScheduled}
	_, _, err := s.api.PostMessageContext(ctx, channel,
		slack.MsgOptionText(text, false),
		slack.MsgOptionMetadata(slack.SlackMetadata{
			EventType:    tag.EventType,
			EventPayload: tag.Payload(),
		}),
	)
	if err != nil {
		return "", wrapSlackError("post notification", err)
	}
	return id, nil
}

// Tags returns the delivery tags found in the channel's recent history,
// newest first. Messages without metadata are skipped.
func (s *Slack) Tags(ctx context.Context, channel string) ([]delivery.Tag, error) {
	resp, err := s.api.GetConversationHistoryContext(ctx, &slack.GetConversationHistoryParameters{
		ChannelID:          channel,
		Limit:              s.historyLimit,
		IncludeAllMetadata: true,
	})
	if err != nil {
		return nil, wrapSlackError("read history", err)
	}

	tags := make([]delivery.Tag, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m.Metadata.EventType == "" {
			continue
		}
		tags = append(tags, delivery.TagFromPayload(m.Metadata.EventType, m.Metadata.EventPayload))
	}
	return tags, nil
}

// LastCursor returns the position of the newest scheduled post for
// eventType within the history window.
func (s *Slack) LastCursor(ctx context.Context, channel, eventType string) (delivery.Cursor, error) {
	tags, err := s.Tags(ctx, channel)
	if err != nil {
		return delivery.Cursor{}, err
	}
	return delivery.FindCursor(tags, eventType), nil
}

// Identity reports the bot user and workspace the token belongs to.
func (s *Slack) Identity(ctx context.Context) (string, error) {
	resp, err := s.api.AuthTestContext(ctx)
	if err != nil {
		return "", wrapSlackError("auth test", err)
	}
	return fmt.Sprintf("%s@%s", resp.User, resp.Team), nil
}

// wrapSlackError keeps the HTTP status or Slack error code as a TransportError.
func wrapSlackError(op string, err error) error {
	var statusErr slack.StatusCodeError
	if errors.As(err, &statusErr) {
		return &apierr.TransportError{Service: slackService, Op: op, StatusCode: statusErr.Code, Payload: statusErr.Status, Err: err}
	}
	var apiErr slack.SlackErrorResponse
	if errors.As(err, &apiErr) {
		return &apierr.TransportError{Service: slackService, Op: op, StatusCode: http.StatusOK, Payload: apiErr.Err, Err: err}
	}
	var rateErr *slack.RateLimitedError
	if errors.As(err, &rateErr) {
		return &apierr.TransportError{Service: slackService, Op: op, StatusCode: http.StatusTooManyRequests, Payload: rateErr.Error(), Err: err}
	}
	return apierr.Wrap(slackService, op, err)
}
