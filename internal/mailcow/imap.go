package mailcow

import (
	"cmp"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"

	"github.com/mixelka/tempmailbot/internal/mailbox"
	"github.com/mixelka/tempmailbot/pkg/models"
)

// IMAPConfig configuration for IMAP access
type IMAPConfig struct {
	Server      string // host:port
	DialTimeout time.Duration
	TLSConfig   *tls.Config
}

// imapReader opens one short-lived IMAP session per operation
type imapReader struct {
	config IMAPConfig
	logger *slog.Logger
}

func newIMAPReader(cfg IMAPConfig, logger *slog.Logger) *imapReader {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	return &imapReader{config: cfg, logger: logger}
}

// withSession logs in, runs fn and logs out. Login rejections yield ErrAuth,
// connection problems ErrTransient.
func (r *imapReader) withSession(ctx context.Context, user, password string, fn func(c *client.Client) error) error {
	dialer := &net.Dialer{Timeout: r.config.DialTimeout}
	conn, err := tls.DialWithDialer(dialer, "tcp", r.config.Server, r.config.TLSConfig)
	if err != nil {
		return fmt.Errorf("failed to connect: %v: %w", err, mailbox.ErrTransient)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	imapClient, err := client.New(conn)
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to create IMAP client: %v: %w", err, mailbox.ErrTransient)
	}
	defer imapClient.Logout()

	if err := imapClient.Login(user, password); err != nil {
		if isNetError(err) || ctx.Err() != nil {
			return fmt.Errorf("failed to login: %v: %w", err, mailbox.ErrTransient)
		}
		return fmt.Errorf("failed to login: %v: %w", err, mailbox.ErrAuth)
	}

	if err := fn(imapClient); err != nil {
		if isNetError(err) || ctx.Err() != nil {
			return fmt.Errorf("%v: %w", err, mailbox.ErrTransient)
		}
		return err
	}
	return nil
}

// listMessages returns envelopes of the newest limit messages in the INBOX,
// newest first
func listMessages(c *client.Client, limit uint32) ([]models.MessageSummary, error) {
	mbox, err := c.Select("INBOX", true)
	if err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}
	if mbox.Messages == 0 {
		return nil, nil
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddRange(listRange(mbox.Messages, limit))

	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate}

	messages := make(chan *imap.Message, 100)
	done := make(chan error, 1)
	go func() {
		done <- c.Fetch(seqSet, items, messages)
	}()

	var fetched []*imap.Message
	for msg := range messages {
		fetched = append(fetched, msg)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}

	slices.SortFunc(fetched, func(a, b *imap.Message) int {
		return cmp.Compare(b.Uid, a.Uid)
	})

	summaries := make([]models.MessageSummary, 0, len(fetched))
	for _, msg := range fetched {
		summaries = append(summaries, summaryOf(msg))
	}
	return summaries, nil
}

// fetchMessage fetches one message with its body without setting \Seen
func fetchMessage(c *client.Client, logger *slog.Logger, uid uint32) (*models.MessageDetail, error) {
	if _, err := c.Select("INBOX", true); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	section := &imap.BodySectionName{Peek: true}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, imap.FetchFlags, imap.FetchInternalDate, section.FetchItem()}

	messages := make(chan *imap.Message, 1)
	done := make(chan error, 1)
	go func() {
		done <- c.UidFetch(seqSet, items, messages)
	}()

	var detail *models.MessageDetail
	for msg := range messages {
		if msg.Uid != uid {
			continue
		}
		detail = &models.MessageDetail{MessageSummary: summaryOf(msg)}
		parseBody(msg, section, detail, logger)
	}
	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch: %w", err)
	}
	if detail == nil {
		return nil, fmt.Errorf("message %d: %w", uid, mailbox.ErrNotFound)
	}
	return detail, nil
}

// deleteMessage adds the \Deleted flag and expunges
func deleteMessage(c *client.Client, uid uint32) error {
	if _, err := c.Select("INBOX", false); err != nil {
		return fmt.Errorf("failed to select INBOX: %w", err)
	}

	seqSet := new(imap.SeqSet)
	seqSet.AddNum(uid)

	item := imap.FormatFlagsOp(imap.AddFlags, true)
	flags := []interface{}{imap.DeletedFlag}

	if err := c.UidStore(seqSet, item, flags, nil); err != nil {
		return fmt.Errorf("failed to mark as deleted: %w", err)
	}

	if err := c.Expunge(nil); err != nil {
		return fmt.Errorf("failed to expunge: %w", err)
	}
	return nil
}

func summaryOf(msg *imap.Message) models.MessageSummary {
	summary := models.MessageSummary{
		ID:        strconv.FormatUint(uint64(msg.Uid), 10),
		CreatedAt: msg.InternalDate,
		Seen:      slices.Contains(msg.Flags, imap.SeenFlag),
	}

	if msg.Envelope != nil {
		summary.Subject = msg.Envelope.Subject
		if !msg.Envelope.Date.IsZero() {
			summary.CreatedAt = msg.Envelope.Date
		}
		if len(msg.Envelope.From) > 0 {
			from := msg.Envelope.From[0]
			summary.From = from.Address()
			summary.FromName = from.PersonalName
		}
	}

	return summary
}

// parseBody reads the text and HTML parts of msg into detail
func parseBody(msg *imap.Message, section *imap.BodySectionName, detail *models.MessageDetail, logger *slog.Logger) {
	bodyReader := msg.GetBody(section)
	if bodyReader == nil {
		return
	}

	mr, err := mail.CreateReader(bodyReader)
	if err != nil {
		logger.Warn("failed to create mail reader", "uid", msg.Uid, "error", err)
		return
	}

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			logger.Warn("failed to read part", "uid", msg.Uid, "error", err)
			break
		}

		h, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		ct, _, _ := h.ContentType()
		body, err := io.ReadAll(part.Body)
		if err != nil {
			continue
		}

		switch {
		case strings.HasPrefix(ct, "text/html") && detail.HTML == "":
			detail.HTML = string(body)
		case strings.HasPrefix(ct, "text/plain") && detail.Text == "":
			detail.Text = string(body)
		}
	}
}

// listRange returns the sequence numbers of the newest limit messages
func listRange(total, limit uint32) (from, to uint32) {
	if limit == 0 || total <= limit {
		return 1, total
	}
	return total - limit + 1, total
}

func parseUID(id string) (uint32, error) {
	uid, err := strconv.ParseUint(id, 10, 32)
	if err != nil || uid == 0 {
		return 0, fmt.Errorf("invalid message id %q: %w", id, mailbox.ErrNotFound)
	}
	return uint32(uid), nil
}

func isNetError(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)
}
