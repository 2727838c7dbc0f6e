package formatter

import (
	"fmt"
	"html"
	"strings"

	"github.com/mixelka/tempmailbot/internal/mailbox"
	"github.com/mixelka/tempmailbot/pkg/models"
)

// TelegramFormatter formats mailbox events for Telegram
type TelegramFormatter struct {
	maxLength int
}

// NewTelegramFormatter creates a new Telegram formatter
func NewTelegramFormatter() *TelegramFormatter {
	return &TelegramFormatter{
		maxLength: 4000, // Leave room for markup
	}
}

// FormatNotification formats a new message event
func (f *TelegramFormatter) FormatNotification(n models.Notification) string {
	var sb strings.Builder

	sb.WriteString("📩 <b>New Mail Received In Your Email ID</b> 🪧\n\n")
	sb.WriteString(fmt.Sprintf("📇 <b>From:</b> %s\n", f.escapeHTML(orDefault(n.From, "Unknown"))))
	sb.WriteString(fmt.Sprintf("🗒️ <b>Subject:</b> %s\n", f.escapeHTML(orDefault(n.Subject, "No Subject"))))
	if !n.ReceivedAt.IsZero() {
		sb.WriteString(fmt.Sprintf("🕒 <b>Date:</b> %s\n", n.ReceivedAt.Format("02.01.2006 15:04")))
	}

	preview := orDefault(n.BodyPreview, "No preview available")
	budget := f.maxLength - sb.Len() - 100
	sb.WriteString(fmt.Sprintf("\n💬 <b>Text:</b> %s\n", f.escapeHTML(f.truncate(preview, budget))))

	if n.HasOTP() {
		sb.WriteString(fmt.Sprintf("\n👉 <b>OTP:</b> <code>%s</code>", f.escapeHTML(n.OTP)))
	}

	return sb.String()
}

// FormatAddress formats the user's current mailbox
func (f *TelegramFormatter) FormatAddress(session *models.MailboxSession) string {
	text := fmt.Sprintf("🎊 Here Is Your Email Address 👇\n\n📬 <b>Email ID:</b> <code>%s</code>", f.escapeHTML(session.Address))
	if session.RecoveryAddress != "" {
		text += fmt.Sprintf("\n♻️ <b>Recovery Email:</b> %s", f.escapeHTML(session.RecoveryAddress))
	}
	if !session.IsActive {
		text += "\n\n⚠️ This mailbox is no longer monitored. Generate a new one or recover it."
	}
	return text
}

// FormatProvisioned formats a freshly generated mailbox
func (f *TelegramFormatter) FormatProvisioned(address string) string {
	return fmt.Sprintf("♻️ New Email Generated Successfully ✅\n\n📬 <b>Email ID:</b> <code>%s</code> 👈", f.escapeHTML(address))
}

// FormatRecovered formats a re-authenticated mailbox
func (f *TelegramFormatter) FormatRecovered(address string) string {
	return fmt.Sprintf("♻️ Recovery Email Successfully ✅\n\n📬 <b>Recovery Email:</b> <code>%s</code> 👈", f.escapeHTML(address))
}

// FormatLinked formats a linked recovery address
func (f *TelegramFormatter) FormatLinked(address string) string {
	return fmt.Sprintf("✅ Recovery Email Linked Successfully 🎉\n\n📬 <b>Your Recovery Email:</b> %s", f.escapeHTML(address))
}

// FormatTerminated explains why monitoring stopped
func (f *TelegramFormatter) FormatTerminated(reason mailbox.TerminationReason) string {
	switch reason {
	case mailbox.ReasonProviderUnreachable:
		return "⚠️ The mail provider is unreachable, monitoring of your mailbox stopped.\nOpen 📥 Inbox later to resume or generate a new email."
	default:
		return "⌛ Your mailbox session has expired and can't be renewed.\nPlease press 🔄 Generate New to get a new email."
	}
}

// escapeHTML escapes HTML special characters for Telegram
func (f *TelegramFormatter) escapeHTML(s string) string {
	return html.EscapeString(s)
}

// truncate truncates text to maxLen characters
func (f *TelegramFormatter) truncate(s string, maxLen int) string {
	if maxLen <= 0 {
		maxLen = 100
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}

func orDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}
