package notify

import (
	"context"
	"strings"

	"github.com/otherjamesbrown/penf-meetings/pkg/logging"
)

// ChannelMeetings is the Android notification channel for meeting updates.
const ChannelMeetings = "meetings"

// Notifier tells the user a meeting is ready. Delivery failures are logged
// and never returned.
type Notifier struct {
	gateway Gateway
	logger  logging.Logger
}

// NewNotifier wraps gateway.
func NewNotifier(gateway Gateway, logger logging.Logger) *Notifier {
	if gateway == nil {
		gateway = NopGateway{}
	}
	return &Notifier{
		gateway: gateway,
		logger:  logger.With(logging.F("component", "push_notifier")),
	}
}

// MeetingReady notifies token that meetingID finished processing. It reports
// whether the gateway accepted the notification.
func (n *Notifier) MeetingReady(ctx context.Context, token, meetingID, title string) bool {
	token = strings.TrimSpace(token)
	if token == "" {
		return false
	}

	body := "Your meeting notes are ready."
	if title = strings.TrimSpace(title); title != "" {
		body = title + " is ready to review."
	}

	msg := Message{
		To:      token,
		Title:   "Meeting processed",
		Body:    body,
		Data:    map[string]any{"type": "meeting_ready", "meeting_id": meetingID},
		Channel: ChannelMeetings,
		Sound:   "default",
	}

	if err := n.gateway.Push(ctx, msg); err != nil {
		n.logger.WithContext(ctx).Warn("Push notification failed",
			logging.Err(err),
			logging.F("meeting_id", meetingID))
		return false
	}

	n.logger.WithContext(ctx).Debug("Push notification sent", logging.F("meeting_id", meetingID))
	return true
}
