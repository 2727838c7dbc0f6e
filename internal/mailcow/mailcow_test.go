package mailcow

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/emersion/go-imap"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mixelka/tempmailbot/internal/mailbox"
	"github.com/mixelka/tempmailbot/pkg/models"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAPI(t *testing.T, status int, body string) (*Client, *CreateMailboxRequest) {
	t.Helper()

	var got CreateMailboxRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/add/mailbox", r.URL.Path)
		assert.Equal(t, "secret-key", r.Header.Get("X-API-Key"))
		_ = json.NewDecoder(r.Body).Decode(&got)

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)

	return NewClient(Config{BaseURL: srv.URL, APIKey: "secret-key", Domain: "mail.test", Timeout: time.Second}), &got
}

func TestClient_CreateMailbox(t *testing.T) {
	c, got := newTestAPI(t, http.StatusOK, `[{"type":"success","msg":["mailbox_added","zen123456@mail.test"]}]`)

	require.NoError(t, c.CreateMailbox(context.Background(), "zen123456", "zen123456", "pw", 0))

	assert.Equal(t, "zen123456", got.LocalPart)
	assert.Equal(t, "mail.test", got.Domain)
	assert.Equal(t, "pw", got.Password2)
	assert.Equal(t, 100, got.Quota)
	assert.Equal(t, 1, got.IMAPAccess)
	assert.Equal(t, 0, got.SMTPAccess)
}

func TestClient_CreateMailboxErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		is     error
	}{
		{name: "exists", status: http.StatusOK, body: `[{"type":"danger","msg":["object_exists","zen123456@mail.test"]}]`, is: mailbox.ErrConflict},
		{name: "unauthorized", status: http.StatusUnauthorized, body: `{"type":"error","msg":"authentication failed"}`, is: mailbox.ErrAuth},
		{name: "server error", status: http.StatusBadGateway, body: `oops`, is: mailbox.ErrTransient},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, _ := newTestAPI(t, tt.status, tt.body)

			err := c.CreateMailbox(context.Background(), "zen123456", "zen123456", "pw", 50)
			assert.ErrorIs(t, err, tt.is)
		})
	}
}

func TestClient_CreateMailboxRejected(t *testing.T) {
	c, _ := newTestAPI(t, http.StatusOK, `[{"type":"danger","msg":"password_complexity"}]`)

	err := c.CreateMailbox(context.Background(), "zen123456", "zen123456", "pw", 50)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "password_complexity")
	assert.NotErrorIs(t, err, mailbox.ErrConflict)
}

func TestClient_NotConfigured(t *testing.T) {
	c := NewClient(Config{BaseURL: "https://mail.test"})

	assert.False(t, c.IsConfigured())
	assert.Error(t, c.CreateMailbox(context.Background(), "a", "a", "pw", 0))
}

func TestClient_GetIMAPServer(t *testing.T) {
	tests := map[string]string{
		"https://mail.example.com":       "mail.example.com:993",
		"http://mail.example.com/":       "mail.example.com:993",
		"https://mail.example.com:8443/": "mail.example.com:993",
		"https://mail.example.com/admin": "mail.example.com:993",
	}

	for base, want := range tests {
		assert.Equal(t, want, NewClient(Config{BaseURL: base}).GetIMAPServer(), base)
	}
}

func TestProvider_AccountsAndTokens(t *testing.T) {
	p := NewProvider(ProviderConfig{
		API: Config{BaseURL: "https://mail.test", APIKey: "k", Domain: "mail.test"},
	}, discardLogger())
	ctx := context.Background()

	domains, err := p.ListDomains(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"mail.test"}, domains)

	assert.Error(t, p.CreateAccount(ctx, "zen123456@other.test", "pw"))
	assert.Error(t, p.CreateAccount(ctx, "no-at-sign", "pw"))

	_, err = p.ListMessages(ctx, "unknown-token")
	assert.ErrorIs(t, err, mailbox.ErrAuth)

	_, err = p.FetchMessage(ctx, "unknown-token", "1")
	assert.ErrorIs(t, err, mailbox.ErrAuth)
}

func TestParseUID(t *testing.T) {
	uid, err := parseUID("42")
	require.NoError(t, err)
	assert.Equal(t, uint32(42), uid)

	for _, bad := range []string{"", "0", "abc", "99999999999"} {
		_, err := parseUID(bad)
		assert.ErrorIs(t, err, mailbox.ErrNotFound, bad)
	}
}

func TestSummaryOf(t *testing.T) {
	date := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := &imap.Message{
		Uid:   17,
		Flags: []string{imap.SeenFlag},
		Envelope: &imap.Envelope{
			Subject: "Your code",
			Date:    date,
			From:    []*imap.Address{{PersonalName: "Shop", MailboxName: "noreply", HostName: "shop.test"}},
		},
	}

	assert.Equal(t, models.MessageSummary{
		ID:        "17",
		From:      "noreply@shop.test",
		FromName:  "Shop",
		Subject:   "Your code",
		CreatedAt: date,
		Seen:      true,
	}, summaryOf(msg))
}

func TestParseBody(t *testing.T) {
	raw := "From: noreply@shop.test\r\n" +
		"Subject: Your code\r\n" +
		"MIME-Version: 1.0\r\n" +
		"Content-Type: multipart/alternative; boundary=\"b1\"\r\n" +
		"\r\n" +
		"--b1\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"Your code is 482913\r\n" +
		"--b1\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>Your code is <b>482913</b></p>\r\n" +
		"--b1--\r\n"

	section := &imap.BodySectionName{}
	msg := &imap.Message{
		Uid:  17,
		Body: map[*imap.BodySectionName]imap.Literal{section: bytes.NewBufferString(raw)},
	}

	var detail models.MessageDetail
	parseBody(msg, section, &detail, discardLogger())

	assert.Contains(t, detail.Text, "Your code is 482913")
	assert.Contains(t, detail.HTML, "<b>482913</b>")
}

func TestListRange(t *testing.T) {
	tests := []struct {
		total, limit uint32
		from, to     uint32
	}{
		{total: 5, limit: 100, from: 1, to: 5},
		{total: 100, limit: 100, from: 1, to: 100},
		{total: 250, limit: 100, from: 151, to: 250},
		{total: 7, limit: 0, from: 1, to: 7},
	}

	for _, tt := range tests {
		from, to := listRange(tt.total, tt.limit)
		assert.Equal(t, tt.from, from, "total %d limit %d", tt.total, tt.limit)
		assert.Equal(t, tt.to, to, "total %d limit %d", tt.total, tt.limit)
	}
}

func TestNewProvider_DefaultListLimit(t *testing.T) {
	p := NewProvider(ProviderConfig{API: Config{BaseURL: "https://mail.test"}}, discardLogger())
	assert.Equal(t, uint32(100), p.limit)

	p = NewProvider(ProviderConfig{API: Config{BaseURL: "https://mail.test"}, ListLimit: 20}, discardLogger())
	assert.Equal(t, uint32(20), p.limit)
}
