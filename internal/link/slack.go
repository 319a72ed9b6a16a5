package link

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/slack-go/slack"

	"github.com/vcon-dev/vcon-server-sub001/internal/domain"
)

// SlackNotify posts a short notification about the record to a Slack channel.
// The record itself is forwarded unchanged.
type SlackNotify struct {
	store  domain.RecordStore
	logger *slog.Logger

	// newClient is swappable for tests.
	newClient func(token string) slackPoster
}

type slackPoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

func NewSlackNotify(store domain.RecordStore, logger *slog.Logger) *SlackNotify {
	return &SlackNotify{
		store:  store,
		logger: logger,
		newClient: func(token string) slackPoster {
			return slack.New(token)
		},
	}
}

func (s *SlackNotify) Defaults() map[string]any {
	return map[string]any{
		"token":    "",
		"channel":  "",
		"template": "vCon {{uuid}}: {{subject}}",
	}
}

func (s *SlackNotify) Run(ctx context.Context, recordID, linkName string, opts map[string]any) (string, error) {
	vc, err := s.store.Get(ctx, recordID)
	if err != nil {
		return "", fmt.Errorf("%s: load record: %w", linkName, err)
	}
	if vc == nil {
		s.logger.Info("record not found, halting chain", "link", linkName, "uuid", recordID)
		return "", nil
	}

	token := OptString(opts, "token")
	channel := OptString(opts, "channel")
	if token == "" || channel == "" {
		return "", fmt.Errorf("%s: token and channel options are required", linkName)
	}

	text := OptString(opts, "template")
	text = strings.ReplaceAll(text, "{{uuid}}", vc.UUID)
	text = strings.ReplaceAll(text, "{{subject}}", vc.Subject)

	api := s.newClient(token)
	if _, _, err := api.PostMessageContext(ctx, channel, slack.MsgOptionText(text, false)); err != nil {
		return "", fmt.Errorf("%s: post message: %w", linkName, err)
	}

	s.logger.Debug("slack notification sent", "link", linkName, "uuid", recordID, "channel", channel)
	return recordID, nil
}
