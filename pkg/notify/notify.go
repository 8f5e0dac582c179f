// Package notify is the chat-transport collaborator described in the
// external interfaces: delivering result and failure messages to end users,
// and raising out-of-band alerts to administrators. Delivery is always
// best-effort — a send failure is logged and never propagated to a caller
// mid-transaction.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"
)

// Transport is the chat transport contract: send_text / send_document.
type Transport interface {
	SendText(ctx context.Context, userID int64, body string) error
	SendDocument(ctx context.Context, userID int64, path, caption string) error
	SendAdmin(ctx context.Context, message string) error
	SendCritical(ctx context.Context, message string) error
}

// SlackTransport implements Transport over a Slack workspace. End-user
// messages are sent as Slack DMs addressed by the user's linked Slack
// member id (userID is mapped to a Slack DM channel by the caller-supplied
// resolver); admin alerts go to a single configured channel.
type SlackTransport struct {
	client        *goslack.Client
	adminChannel  string
	resolveUserDM func(userID int64) (string, bool)
	logger        *slog.Logger
}

// NewSlackTransport builds a SlackTransport. If botToken is empty, the
// transport is a no-op that only logs, matching the teacher's
// IsEnabled-gated notifier pattern.
func NewSlackTransport(botToken, adminChannel string, resolveUserDM func(userID int64) (string, bool), logger *slog.Logger) *SlackTransport {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &SlackTransport{client: client, adminChannel: adminChannel, resolveUserDM: resolveUserDM, logger: logger}
}

func (t *SlackTransport) enabled() bool {
	return t.client != nil
}

// SendText delivers a result or failure message to an end user.
func (t *SlackTransport) SendText(ctx context.Context, userID int64, body string) error {
	if !t.enabled() {
		t.logger.Debug("slack transport disabled, dropping user message", "user_id", userID)
		return nil
	}
	channel, ok := t.resolveUserDM(userID)
	if !ok {
		return fmt.Errorf("no slack channel resolvable for user %d", userID)
	}
	_, _, err := t.client.PostMessageContext(ctx, channel, goslack.MsgOptionText(body, false))
	if err != nil {
		return fmt.Errorf("posting message: %w", err)
	}
	return nil
}

// SendDocument delivers a rendered artifact (the analysis spreadsheet) to
// an end user.
func (t *SlackTransport) SendDocument(ctx context.Context, userID int64, path, caption string) error {
	if !t.enabled() {
		t.logger.Debug("slack transport disabled, dropping document", "user_id", userID, "path", path)
		return nil
	}
	channel, ok := t.resolveUserDM(userID)
	if !ok {
		return fmt.Errorf("no slack channel resolvable for user %d", userID)
	}
	_, err := t.client.UploadFileV2Context(ctx, goslack.UploadFileV2Parameters{
		Channel:  channel,
		File:     path,
		Filename: caption,
	})
	if err != nil {
		return fmt.Errorf("uploading document: %w", err)
	}
	return nil
}

// SendAdmin delivers a routine informational notice to administrators (job
// started/completed), as opposed to SendCritical's alerting severity.
func (t *SlackTransport) SendAdmin(ctx context.Context, message string) error {
	if !t.enabled() || t.adminChannel == "" {
		t.logger.Debug("slack transport disabled, dropping admin notice", "message", message)
		return nil
	}
	_, _, err := t.client.PostMessageContext(ctx, t.adminChannel, goslack.MsgOptionText(message, false))
	if err != nil {
		return fmt.Errorf("posting admin notice: %w", err)
	}
	return nil
}

// SendCritical raises a high-severity out-of-band alert to administrators,
// used for session-refresh exhaustion and callback signature failures.
func (t *SlackTransport) SendCritical(ctx context.Context, message string) error {
	if !t.enabled() || t.adminChannel == "" {
		t.logger.Warn("slack transport disabled, critical alert logged only", "message", message)
		return nil
	}
	_, _, err := t.client.PostMessageContext(ctx, t.adminChannel, goslack.MsgOptionText(":rotating_light: "+message, false))
	if err != nil {
		return fmt.Errorf("posting critical alert: %w", err)
	}
	return nil
}
