package telegram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/tempmailbot/internal/config"
	"github.com/mixelka/tempmailbot/internal/database"
	"github.com/mixelka/tempmailbot/internal/formatter"
	"github.com/mixelka/tempmailbot/internal/mailbox"
	"github.com/mixelka/tempmailbot/internal/secret"
	appmodels "github.com/mixelka/tempmailbot/pkg/models"
)

type sentRequest struct {
	method string
	fields map[string]string
}

// fakeTelegram records Bot API calls
type fakeTelegram struct {
	mu   sync.Mutex
	sent []sentRequest
}

func (f *fakeTelegram) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	method := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]

	fields := make(map[string]string)
	if err := r.ParseMultipartForm(1 << 20); err == nil {
		for k, v := range r.MultipartForm.Value {
			fields[k] = v[0]
		}
	}

	f.mu.Lock()
	f.sent = append(f.sent, sentRequest{method: method, fields: fields})
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	if method == "sendMessage" {
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":7,"type":"private"}}}`))
		return
	}
	_, _ = w.Write([]byte(`{"ok":true,"result":true}`))
}

func (f *fakeTelegram) messages() []sentRequest {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []sentRequest
	for _, s := range f.sent {
		if s.method == "sendMessage" {
			out = append(out, s)
		}
	}
	return out
}

// stubProvider accepts every token and serves an empty inbox
type stubProvider struct {
	issueErr error
}

func (p *stubProvider) ListDomains(ctx context.Context) ([]string, error) {
	return []string{"mail.test"}, nil
}

func (p *stubProvider) CreateAccount(ctx context.Context, address, secret string) error {
	return nil
}

func (p *stubProvider) IssueToken(ctx context.Context, address, secret string) (string, error) {
	if p.issueErr != nil {
		return "", p.issueErr
	}
	return "new-token", nil
}

func (p *stubProvider) ListMessages(ctx context.Context, token string) ([]appmodels.MessageSummary, error) {
	return nil, nil
}

func (p *stubProvider) FetchMessage(ctx context.Context, token, id string) (*appmodels.MessageDetail, error) {
	return nil, mailbox.ErrNotFound
}

func (p *stubProvider) DeleteMessage(ctx context.Context, token, id string) error {
	return nil
}

type testBot struct {
	*Bot
	telegram *fakeTelegram
	db       *database.DB
	provider *stubProvider
}

func newTestBot(t *testing.T, recoveryMode string) *testBot {
	t.Helper()

	tg := &fakeTelegram{}
	srv := httptest.NewServer(tg)
	t.Cleanup(srv.Close)

	box, err := secret.NewBox([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)
	db, err := database.New(filepath.Join(t.TempDir(), "bot.db"), box)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	provider := &stubProvider{}

	b, err := NewBot(BotDeps{
		Config: &config.Config{
			TelegramToken: "123456:test-token",
			RecoveryMode:  recoveryMode,
			PreviewLength: 200,
		},
		DB: db,
		Mailbox: mailbox.Deps{
			Provider:  provider,
			Authority: mailbox.NewAuthority(provider, time.Second, logger),
			Saver:     db,
			Config:    mailbox.PollerConfig{Interval: time.Hour},
			Logger:    logger,
		},
		Provisioner: mailbox.NewProvisioner(provider, mailbox.ProvisionerConfig{}, logger),
		Logger:      logger,
		Options:     []bot.Option{bot.WithServerURL(srv.URL), bot.WithSkipGetMe()},
	})
	require.NoError(t, err)
	t.Cleanup(b.Registry().Close)

	return &testBot{Bot: b, telegram: tg, db: db, provider: provider}
}

func textMessage(userID int64, text string) *models.Message {
	return &models.Message{
		From: &models.User{ID: userID},
		Chat: models.Chat{ID: userID, Type: "private"},
		Text: text,
	}
}

func TestOnNewMessage(t *testing.T) {
	tb := newTestBot(t, config.RecoveryReauth)

	tb.OnNewMessage(context.Background(), 7, appmodels.Notification{
		MessageID:   "m1",
		From:        "noreply@shop.test",
		Subject:     "Sign in",
		BodyPreview: "Your code is 482913",
		OTP:         "482913",
	})

	sent := tb.telegram.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "7", sent[0].fields["chat_id"])
	assert.Contains(t, sent[0].fields["text"], "<code>482913</code>")
	assert.Contains(t, sent[0].fields["reply_markup"], "482913")
}

func TestOnSessionTerminated(t *testing.T) {
	tb := newTestBot(t, config.RecoveryReauth)
	ctx := context.Background()

	require.NoError(t, tb.db.SaveSession(ctx, &appmodels.MailboxSession{
		UserID: 7, Address: "zen123456@mail.test", Secret: "s", Token: "t", IsActive: true,
	}))

	tb.OnSessionTerminated(ctx, 7, mailbox.ReasonAuthExpired)

	session, err := tb.db.GetSession(ctx, 7)
	require.NoError(t, err)
	assert.False(t, session.IsActive)

	sent := tb.telegram.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].fields["text"], "Generate New")
}

func TestRecovery_ReauthenticatesKnownAddress(t *testing.T) {
	tb := newTestBot(t, config.RecoveryReauth)
	ctx := context.Background()

	require.NoError(t, tb.db.AddHistory(ctx, 7, "old123456@mail.test", "old-secret"))
	require.NoError(t, tb.db.SaveSession(ctx, &appmodels.MailboxSession{
		UserID: 7, Address: "new654321@mail.test", Secret: "s", Token: "t", IsActive: true,
	}))

	tb.handleRecoveryAddress(ctx, textMessage(7, " Old123456@Mail.test "))

	session, err := tb.db.GetSession(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "old123456@mail.test", session.Address)
	assert.Equal(t, "old-secret", session.Secret)
	assert.Equal(t, "new-token", session.Token)
	assert.True(t, tb.Registry().IsActive(7))

	sent := tb.telegram.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].fields["text"], "Recovery Email Successfully")
}

func TestRecovery_LinksUnknownAddress(t *testing.T) {
	tb := newTestBot(t, config.RecoveryReauth)
	ctx := context.Background()

	require.NoError(t, tb.db.SaveSession(ctx, &appmodels.MailboxSession{
		UserID: 7, Address: "new654321@mail.test", Secret: "s", Token: "t", IsActive: true,
	}))

	tb.handleRecoveryAddress(ctx, textMessage(7, "backup@example.org"))

	session, err := tb.db.GetSession(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "new654321@mail.test", session.Address)
	assert.Equal(t, "backup@example.org", session.RecoveryAddress)
	assert.False(t, tb.Registry().IsActive(7))
}

func TestRecovery_LinkModeNeverReauthenticates(t *testing.T) {
	tb := newTestBot(t, config.RecoveryLink)
	ctx := context.Background()

	require.NoError(t, tb.db.AddHistory(ctx, 7, "old123456@mail.test", "old-secret"))
	require.NoError(t, tb.db.SaveSession(ctx, &appmodels.MailboxSession{
		UserID: 7, Address: "new654321@mail.test", Secret: "s", Token: "t", IsActive: true,
	}))

	tb.handleRecoveryAddress(ctx, textMessage(7, "old123456@mail.test"))

	session, err := tb.db.GetSession(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, "new654321@mail.test", session.Address)
	assert.Equal(t, "old123456@mail.test", session.RecoveryAddress)
}

func TestRecovery_WithoutMailbox(t *testing.T) {
	tb := newTestBot(t, config.RecoveryReauth)

	tb.handleRecoveryAddress(context.Background(), textMessage(7, "backup@example.org"))

	sent := tb.telegram.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].fields["text"], "don't have an email yet")
}

func TestRecovery_InvalidAddress(t *testing.T) {
	tb := newTestBot(t, config.RecoveryReauth)

	tb.handleRecoveryAddress(context.Background(), textMessage(7, "not an address"))

	sent := tb.telegram.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].fields["text"], "doesn't look like an email")
}

func TestAwaitingRecovery(t *testing.T) {
	b := &Bot{awaiting: make(map[int64]bool)}

	assert.False(t, b.takeAwaiting(7))

	b.setAwaiting(7)
	assert.True(t, b.takeAwaiting(7))
	assert.False(t, b.takeAwaiting(7))

	b.setAwaiting(7)
	b.clearAwaiting(7)
	assert.False(t, b.takeAwaiting(7))
}

func TestProvisionErrorText(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{err: &mailbox.ProvisionError{Stage: mailbox.StageNoDomains}, want: "No email domains"},
		{err: &mailbox.ProvisionError{Stage: mailbox.StageCreateAccount, Err: mailbox.ErrConflict}, want: "free address"},
		{err: &mailbox.ProvisionError{Stage: mailbox.StageCreateAccount, Err: mailbox.ErrTransient}, want: "Failed to create"},
		{err: &mailbox.ProvisionError{Stage: mailbox.StageIssueToken}, want: "signing in failed"},
		{err: errors.New("boom"), want: "Something went wrong"},
	}

	for _, tt := range tests {
		assert.Contains(t, provisionErrorText(tt.err), tt.want)
	}
}

func TestNormalizeAddress(t *testing.T) {
	addr, ok := normalizeAddress("  Swift123456@Mail.TM ")
	assert.True(t, ok)
	assert.Equal(t, "swift123456@mail.tm", addr)

	addr, ok = normalizeAddress("Name <user@example.org>")
	assert.True(t, ok)
	assert.Equal(t, "user@example.org", addr)

	_, ok = normalizeAddress("hello")
	assert.False(t, ok)
}

func TestRecovery_PromptListsPreviousAddresses(t *testing.T) {
	tb := newTestBot(t, config.RecoveryReauth)
	ctx := context.Background()

	require.NoError(t, tb.db.AddHistory(ctx, 7, "first111@mail.test", "s1"))
	require.NoError(t, tb.db.AddHistory(ctx, 7, "second22@mail.test", "s2"))
	require.NoError(t, tb.db.AddHistory(ctx, 7, "current3@mail.test", "s3"))
	require.NoError(t, tb.db.AddHistory(ctx, 8, "someone9@mail.test", "s9"))
	require.NoError(t, tb.db.SaveSession(ctx, &appmodels.MailboxSession{
		UserID: 7, Address: "current3@mail.test", Secret: "s3", Token: "t", IsActive: true,
	}))

	tb.handleRecovery(ctx, nil, &models.Update{Message: textMessage(7, formatter.ButtonRecovery)})

	sent := tb.telegram.messages()
	require.Len(t, sent, 1)
	text := sent[0].fields["text"]
	assert.Contains(t, text, "Your previous emails")
	assert.Contains(t, text, "<code>first111@mail.test</code>")
	assert.Contains(t, text, "<code>second22@mail.test</code>")
	assert.NotContains(t, text, "current3@mail.test")
	assert.NotContains(t, text, "someone9@mail.test")
}

func TestRecovery_PromptLimitsPreviousAddresses(t *testing.T) {
	tb := newTestBot(t, config.RecoveryReauth)
	ctx := context.Background()

	for i := range maxRecoveryHints + 2 {
		require.NoError(t, tb.db.AddHistory(ctx, 7, fmt.Sprintf("box%05d@mail.test", i), "s"))
	}

	assert.Len(t, tb.recentAddresses(ctx, 7), maxRecoveryHints)
}

func TestRecovery_LinkPromptOmitsHistory(t *testing.T) {
	tb := newTestBot(t, config.RecoveryLink)
	ctx := context.Background()

	require.NoError(t, tb.db.AddHistory(ctx, 7, "first111@mail.test", "s1"))

	tb.handleRecovery(ctx, nil, &models.Update{Message: textMessage(7, formatter.ButtonRecovery)})

	sent := tb.telegram.messages()
	require.Len(t, sent, 1)
	assert.Contains(t, sent[0].fields["text"], "link as your recovery email")
	assert.NotContains(t, sent[0].fields["text"], "first111@mail.test")
}
