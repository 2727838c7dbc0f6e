package telegram

import (
	"context"

	"github.com/mixelka/tempmailbot/internal/formatter"
	"github.com/mixelka/tempmailbot/internal/mailbox"
	appmodels "github.com/mixelka/tempmailbot/pkg/models"
)

// OnNewMessage forwards a new message to the user's chat
func (b *Bot) OnNewMessage(ctx context.Context, userID int64, n appmodels.Notification) {
	text := b.formatter.FormatNotification(n)
	keyboard := formatter.BuildMessageKeyboard(n)

	if _, err := b.sendMessageWithKeyboard(ctx, userID, text, keyboard); err != nil {
		return
	}

	b.logger.Info("message forwarded", "user_id", userID, "message_id", n.MessageID, "otp", n.HasOTP())
}

// OnSessionTerminated marks the session inactive and tells the user why
// monitoring stopped
func (b *Bot) OnSessionTerminated(ctx context.Context, userID int64, reason mailbox.TerminationReason) {
	if err := b.db.SetSessionActive(ctx, userID, false); err != nil {
		b.logger.Error("failed to mark session inactive", "user_id", userID, "error", err)
	}

	b.sendMessage(ctx, userID, b.formatter.FormatTerminated(reason))
	b.logger.Info("session terminated", "user_id", userID, "reason", reason)
}

var _ mailbox.Sink = (*Bot)(nil)
