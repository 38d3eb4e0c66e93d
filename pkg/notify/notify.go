// Package notify sends best-effort Slack notifications for terminal
// execution failures: an Execution written FAILED after exhausting its
// retry budget, or failed terminally without a retry (agent could not be
// loaded, no eligible cluster). Notification failures are logged and never
// propagate back into the workflow.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	goslack "github.com/slack-go/slack"

	"github.com/wisbric/dispatch/internal/telemetry"
)

// Notifier posts execution-failure alerts to a Slack channel.
type Notifier struct {
	client  *goslack.Client
	channel string
	logger  *slog.Logger
}

// NewNotifier creates a Notifier. If botToken is empty, the notifier is a
// noop (logging only) — this keeps local/dev environments from requiring
// Slack credentials.
func NewNotifier(botToken, channel string, logger *slog.Logger) *Notifier {
	var client *goslack.Client
	if botToken != "" {
		client = goslack.New(botToken)
	}
	return &Notifier{client: client, channel: channel, logger: logger}
}

// IsEnabled reports whether the notifier has a usable Slack client.
func (n *Notifier) IsEnabled() bool {
	return n.client != nil && n.channel != ""
}

// FailedExecution describes a terminal execution failure for notification.
type FailedExecution struct {
	ExecutionID    string
	OrganizationID string
	AgentID        string
	ClusterID      string
	Attempt        int
	MaxAttempts    int
	Error          string
}

// NotifyExecutionFailed posts a best-effort alert when an execution is
// written terminally FAILED. Errors are logged, not returned, so a Slack
// outage never blocks the workflow that calls this.
func (n *Notifier) NotifyExecutionFailed(ctx context.Context, f FailedExecution) {
	if !n.IsEnabled() {
		telemetry.SlackNotificationsTotal.WithLabelValues("skipped_disabled").Inc()
		n.logger.Debug("slack notifier disabled, skipping execution-failed alert",
			"execution_id", f.ExecutionID)
		return
	}

	blocks := executionFailedBlocks(f)
	fallback := fmt.Sprintf(":rotating_light: execution %s failed after %d/%d attempts: %s",
		f.ExecutionID, f.Attempt, f.MaxAttempts, f.Error)

	_, _, err := n.client.PostMessageContext(ctx, n.channel,
		goslack.MsgOptionBlocks(blocks...),
		goslack.MsgOptionText(fallback, false),
	)
	if err != nil {
		telemetry.SlackNotificationsTotal.WithLabelValues("error").Inc()
		n.logger.Error("posting execution-failed alert to slack", "error", err,
			"execution_id", f.ExecutionID)
		return
	}

	telemetry.SlackNotificationsTotal.WithLabelValues("sent").Inc()
	n.logger.Info("posted execution-failed alert to slack",
		"execution_id", f.ExecutionID, "channel", n.channel)
}

func executionFailedBlocks(f FailedExecution) []goslack.Block {
	header := goslack.NewHeaderBlock(goslack.NewTextBlockObject(
		goslack.PlainTextType, ":rotating_light: execution failed", false, false))

	fields := []*goslack.TextBlockObject{
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Execution:*\n%s", f.ExecutionID), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Organization:*\n%s", f.OrganizationID), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Agent:*\n%s", f.AgentID), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Cluster:*\n%s", f.ClusterID), false, false),
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Attempt:*\n%d / %d", f.Attempt, f.MaxAttempts), false, false),
	}
	fieldsBlock := goslack.NewSectionBlock(nil, fields, nil)

	errBlock := goslack.NewSectionBlock(
		goslack.NewTextBlockObject(goslack.MarkdownType, fmt.Sprintf("*Error:*\n```%s```", f.Error), false, false),
		nil, nil)

	return []goslack.Block{header, fieldsBlock, errBlock}
}
