package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net/mail"
	"slices"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/tempmailbot/internal/config"
	"github.com/mixelka/tempmailbot/internal/database"
	"github.com/mixelka/tempmailbot/internal/formatter"
	"github.com/mixelka/tempmailbot/internal/mailbox"
	appmodels "github.com/mixelka/tempmailbot/pkg/models"
)

const maxRecoveryHints = 5

const (
	textNoMailbox   = "📭 You don't have an email yet.\nPress 🔄 Generate New to create one."
	textUnreachable = "⚠️ The mail service is unreachable right now. Please try again in a minute."
	textExpired     = "⌛ Your mailbox session has expired and can't be renewed.\nPlease press 🔄 Generate New to get a new email."
	textInternal    = "❌ Something went wrong, please try again."
)

// handleMyEmail shows the user's current mailbox
func (b *Bot) handleMyEmail(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	b.clearAwaiting(msg.From.ID)

	session, err := b.db.GetSession(ctx, msg.From.ID)
	if errors.Is(err, database.ErrNotFound) {
		b.sendMessage(ctx, msg.Chat.ID, textNoMailbox)
		return
	}
	if err != nil {
		b.logger.Error("failed to get session", "user_id", msg.From.ID, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, textInternal)
		return
	}

	b.sendMessage(ctx, msg.Chat.ID, b.formatter.FormatAddress(session))
}

// handleGenerate provisions a new mailbox and starts watching it
func (b *Bot) handleGenerate(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	userID := msg.From.ID
	b.clearAwaiting(userID)

	b.sendMessage(ctx, msg.Chat.ID, "⏳ Generating a new email...")

	session, err := b.provisioner.ProvisionWithRetry(ctx, userID)
	if err != nil {
		b.logger.Error("failed to provision mailbox", "user_id", userID, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, provisionErrorText(err))
		return
	}

	if err := b.db.SaveSession(ctx, session); err != nil {
		b.logger.Error("failed to save session", "user_id", userID, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, textInternal)
		return
	}
	if err := b.db.AddHistory(ctx, userID, session.Address, session.Secret); err != nil {
		b.logger.Warn("failed to record mailbox history", "user_id", userID, "error", err)
	}

	if err := b.registry.Start(userID, *session); err != nil {
		b.logger.Error("failed to start poller", "user_id", userID, "error", err)
	}

	b.logger.Info("mailbox generated", "user_id", userID, "address", session.Address)
	b.sendMessageWithKeyboard(ctx, msg.Chat.ID, b.formatter.FormatProvisioned(session.Address), formatter.MainMenu())
}

// handleInbox shows the latest message. A rejected token is refreshed once
// and the poller is restarted with the new one.
func (b *Bot) handleInbox(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	userID := msg.From.ID
	b.clearAwaiting(userID)

	session, err := b.db.GetSession(ctx, userID)
	if errors.Is(err, database.ErrNotFound) {
		b.sendMessage(ctx, msg.Chat.ID, textNoMailbox)
		return
	}
	if err != nil {
		b.logger.Error("failed to get session", "user_id", userID, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, textInternal)
		return
	}

	summaries, err := b.listMessages(ctx, session)
	if err != nil {
		b.logger.Warn("failed to open inbox", "user_id", userID, "address", session.Address, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, b.sessionErrorText(ctx, session, err))
		return
	}

	if !b.registry.IsActive(userID) {
		b.restartPoller(ctx, session)
	}

	if len(summaries) == 0 {
		b.sendMessage(ctx, msg.Chat.ID, fmt.Sprintf("📭 Inbox of <code>%s</code> is empty.\nNew mail will show up here automatically.", session.Address))
		return
	}

	n := b.buildNotification(ctx, session, summaries[0])
	b.sendMessageWithKeyboard(ctx, msg.Chat.ID, b.formatter.FormatNotification(n), formatter.BuildMessageKeyboard(n))
}

// handleRecovery asks for the address to recover
func (b *Bot) handleRecovery(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil || msg.From == nil {
		return
	}
	b.setAwaiting(msg.From.ID)

	if b.config.RecoveryMode == config.RecoveryLink {
		b.sendMessage(ctx, msg.Chat.ID, "♻️ Send an email address to link as your recovery email.")
		return
	}

	text := "♻️ Send the email address you want to recover."
	if recent := b.recentAddresses(ctx, msg.From.ID); len(recent) > 0 {
		var sb strings.Builder
		sb.WriteString(text)
		sb.WriteString("\n\nYour previous emails:")
		for _, address := range recent {
			sb.WriteString("\n• <code>")
			sb.WriteString(html.EscapeString(address))
			sb.WriteString("</code>")
		}
		text = sb.String()
	}
	b.sendMessage(ctx, msg.Chat.ID, text)
}

// recentAddresses returns up to maxRecoveryHints previously owned addresses,
// newest first, without the current one
func (b *Bot) recentAddresses(ctx context.Context, userID int64) []string {
	entries, err := b.db.ListHistory(ctx, userID)
	if err != nil {
		b.logger.Warn("failed to list mailbox history", "user_id", userID, "error", err)
		return nil
	}

	current := ""
	if session, err := b.db.GetSession(ctx, userID); err == nil {
		current = session.Address
	}

	var addresses []string
	for _, e := range entries {
		if e.Address == current || slices.Contains(addresses, e.Address) {
			continue
		}
		addresses = append(addresses, e.Address)
		if len(addresses) == maxRecoveryHints {
			break
		}
	}
	return addresses
}

// handleRecoveryAddress re-authenticates a previously owned address or
// links the address as the recovery address
func (b *Bot) handleRecoveryAddress(ctx context.Context, msg *models.Message) {
	userID := msg.From.ID

	address, ok := normalizeAddress(msg.Text)
	if !ok {
		b.sendMessage(ctx, msg.Chat.ID, "❌ That doesn't look like an email address. Press ♻️ Recovery to try again.")
		return
	}

	if b.config.RecoveryMode == config.RecoveryReauth {
		recovered, err := b.reauthenticate(ctx, userID, address)
		switch {
		case err == nil && recovered:
			b.sendMessage(ctx, msg.Chat.ID, b.formatter.FormatRecovered(address))
			return
		case err != nil:
			b.logger.Warn("failed to recover mailbox", "user_id", userID, "address", address, "error", err)
			if errors.Is(err, mailbox.ErrTransient) {
				b.sendMessage(ctx, msg.Chat.ID, textUnreachable)
				return
			}
			if !mailbox.IsAuthError(err) {
				b.sendMessage(ctx, msg.Chat.ID, textInternal)
				return
			}
			// The old mailbox is gone, fall back to linking it
		}
	}

	err := b.db.SetRecoveryAddress(ctx, userID, address)
	if errors.Is(err, database.ErrNotFound) {
		b.sendMessage(ctx, msg.Chat.ID, textNoMailbox)
		return
	}
	if err != nil {
		b.logger.Error("failed to link recovery address", "user_id", userID, "error", err)
		b.sendMessage(ctx, msg.Chat.ID, textInternal)
		return
	}

	b.logger.Info("recovery address linked", "user_id", userID, "address", address)
	b.sendMessage(ctx, msg.Chat.ID, b.formatter.FormatLinked(address))
}

// reauthenticate restores a mailbox from the user's history. It reports
// false when the address was never owned by the user.
func (b *Bot) reauthenticate(ctx context.Context, userID int64, address string) (bool, error) {
	entry, err := b.db.FindHistory(ctx, userID, address)
	if errors.Is(err, database.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	token, err := b.authority.Refresh(ctx, entry.Address, entry.Secret)
	if err != nil {
		return false, err
	}

	session := &appmodels.MailboxSession{
		UserID:     userID,
		Address:    entry.Address,
		Secret:     entry.Secret,
		Token:      token,
		IsActive:   true,
		LastAccess: time.Now(),
	}
	if err := b.db.SaveSession(ctx, session); err != nil {
		return false, err
	}
	if err := b.registry.Start(userID, *session); err != nil {
		b.logger.Error("failed to start poller", "user_id", userID, "error", err)
	}

	b.logger.Info("mailbox recovered", "user_id", userID, "address", entry.Address)
	return true, nil
}

// listMessages lists the inbox, refreshing a rejected token once
func (b *Bot) listMessages(ctx context.Context, session *appmodels.MailboxSession) ([]appmodels.MessageSummary, error) {
	summaries, err := b.provider.ListMessages(ctx, session.Token)
	if !mailbox.IsAuthError(err) {
		return summaries, err
	}

	token, err := b.authority.Refresh(ctx, session.Address, session.Secret)
	if err != nil {
		return nil, err
	}

	session.Token = token
	session.LastAccess = time.Now()
	session.IsActive = true
	if err := b.db.UpdateSessionToken(ctx, session.UserID, token, session.LastAccess); err != nil {
		b.logger.Error("failed to persist token", "user_id", session.UserID, "error", err)
	}

	b.restartPoller(ctx, session)

	return b.provider.ListMessages(ctx, session.Token)
}

// restartPoller replaces the user's poller with one using the session's current token
func (b *Bot) restartPoller(ctx context.Context, session *appmodels.MailboxSession) {
	if err := b.db.SetSessionActive(ctx, session.UserID, true); err != nil {
		b.logger.Error("failed to mark session active", "user_id", session.UserID, "error", err)
	}
	if err := b.registry.Start(session.UserID, *session); err != nil {
		b.logger.Error("failed to restart poller", "user_id", session.UserID, "error", err)
	}
}

// sessionErrorText describes a failed inbox request. An unrecoverable session is stopped.
func (b *Bot) sessionErrorText(ctx context.Context, session *appmodels.MailboxSession, err error) string {
	switch {
	case errors.Is(err, mailbox.ErrTransient):
		return textUnreachable
	case mailbox.IsAuthError(err):
		b.registry.Stop(session.UserID)
		if err := b.db.SetSessionActive(ctx, session.UserID, false); err != nil {
			b.logger.Error("failed to mark session inactive", "user_id", session.UserID, "error", err)
		}
		return textExpired
	default:
		return textInternal
	}
}

// buildNotification fetches a message for display, falling back to its summary
func (b *Bot) buildNotification(ctx context.Context, session *appmodels.MailboxSession, summary appmodels.MessageSummary) appmodels.Notification {
	detail, err := b.provider.FetchMessage(ctx, session.Token, summary.ID)
	if err != nil || detail == nil {
		b.logger.Warn("failed to fetch message", "message_id", summary.ID, "error", err)
		detail = &appmodels.MessageDetail{MessageSummary: summary}
	}

	body := b.htmlParser.BodyText(detail)
	code, ok := b.otp.Extract(body)
	if !ok {
		code, _ = b.otp.Extract(summary.Subject)
	}

	return appmodels.Notification{
		MessageID:   summary.ID,
		From:        summary.From,
		Subject:     summary.Subject,
		BodyPreview: b.htmlParser.Preview(body, b.config.PreviewLength),
		OTP:         code,
		ReceivedAt:  summary.CreatedAt,
	}
}

// handleCallback handles inline button callbacks
func (b *Bot) handleCallback(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	callback := update.CallbackQuery
	if callback == nil {
		return
	}
	b.clearAwaiting(callback.From.ID)

	data, err := formatter.DecodeCallback(callback.Data)
	if err != nil {
		b.logger.Error("failed to decode callback", "error", err, "data", callback.Data)
		b.answerCallback(ctx, callback.ID, "Error", false)
		return
	}

	switch data.Action {
	case appmodels.CallbackDelete:
		b.handleDelete(ctx, callback, data)
	case appmodels.CallbackCopyCode:
		b.handleCopyCode(ctx, callback, data)
	default:
		b.answerCallback(ctx, callback.ID, "Unknown action", false)
	}
}

// handleDelete deletes the message at the provider and in the chat
func (b *Bot) handleDelete(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	session, err := b.db.GetSession(ctx, callback.From.ID)
	if err != nil {
		b.logger.Error("failed to get session", "user_id", callback.From.ID, "error", err)
		b.answerCallback(ctx, callback.ID, "Mailbox not found", false)
		return
	}

	err = b.provider.DeleteMessage(ctx, session.Token, data.MessageID)
	switch {
	case err == nil, errors.Is(err, mailbox.ErrNotFound):
	case mailbox.IsAuthError(err):
		b.answerCallback(ctx, callback.ID, "Session expired, open 📥 Inbox to renew it", true)
		return
	default:
		b.logger.Error("failed to delete message", "message_id", data.MessageID, "error", err)
		b.answerCallback(ctx, callback.ID, "Failed to delete, try again later", false)
		return
	}

	if m := callback.Message.Message; m != nil {
		if err := b.deleteMessage(ctx, m.Chat.ID, m.ID); err != nil {
			b.logger.Warn("failed to delete telegram message", "error", err)
		}
	}

	b.answerCallback(ctx, callback.ID, "Message deleted", false)
}

// handleCopyCode shows the code in an alert so it can be copied
func (b *Bot) handleCopyCode(ctx context.Context, callback *models.CallbackQuery, data appmodels.CallbackData) {
	if data.Code == "" {
		b.answerCallback(ctx, callback.ID, "Code not found", false)
		return
	}
	b.answerCallback(ctx, callback.ID, fmt.Sprintf("Code: %s", data.Code), true)
}

// provisionErrorText maps provisioning failures to a user-facing message
func provisionErrorText(err error) string {
	var provErr *mailbox.ProvisionError
	if !errors.As(err, &provErr) {
		return textInternal
	}

	switch provErr.Stage {
	case mailbox.StageNoDomains:
		return "❌ No email domains are available right now. Please try again later."
	case mailbox.StageCreateAccount:
		if errors.Is(err, mailbox.ErrConflict) {
			return "❌ Couldn't find a free address, please try again."
		}
		return "❌ Failed to create the email account. Please try again later."
	case mailbox.StageIssueToken:
		return "❌ The email was created but signing in failed. Please try again."
	default:
		return textInternal
	}
}

// normalizeAddress validates an address typed by the user
func normalizeAddress(text string) (string, bool) {
	addr, err := mail.ParseAddress(strings.TrimSpace(text))
	if err != nil || !strings.Contains(addr.Address, "@") {
		return "", false
	}
	return strings.ToLower(addr.Address), true
}
