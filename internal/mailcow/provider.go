package mailcow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/emersion/go-imap/client"
	"github.com/google/uuid"

	"github.com/mixelka/tempmailbot/internal/mailbox"
	"github.com/mixelka/tempmailbot/pkg/models"
)

// Provider provisions mailboxes through the Mailcow API and reads them
// over IMAP.
//
// IMAP has no bearer tokens, so IssueToken verifies the login and hands out
// an opaque token kept in memory. Tokens do not survive a restart: the
// first call after one fails with ErrAuth and goes through a refresh.
type Provider struct {
	api    *Client
	imap   *imapReader
	quota  int
	limit  uint32
	logger *slog.Logger

	mu      sync.Mutex
	tokens  map[string]credentials // token -> credentials
	byOwner map[string]string      // address -> token
}

type credentials struct {
	address  string
	password string
}

// ProviderConfig configuration for the Mailcow provider
type ProviderConfig struct {
	API       Config
	IMAP      IMAPConfig // Server defaults to the API host on port 993
	QuotaMB   int
	ListLimit int // Newest messages returned by ListMessages, default 100
}

// NewProvider creates a new Mailcow provider
func NewProvider(cfg ProviderConfig, logger *slog.Logger) *Provider {
	api := NewClient(cfg.API)
	if cfg.IMAP.Server == "" {
		cfg.IMAP.Server = api.GetIMAPServer()
	}

	if cfg.ListLimit <= 0 {
		cfg.ListLimit = 100
	}

	logger = logger.With("component", "mailcow")
	return &Provider{
		api:     api,
		imap:    newIMAPReader(cfg.IMAP, logger),
		quota:   cfg.QuotaMB,
		limit:   uint32(cfg.ListLimit),
		logger:  logger,
		tokens:  make(map[string]credentials),
		byOwner: make(map[string]string),
	}
}

// ListDomains returns the configured Mailcow domain
func (p *Provider) ListDomains(ctx context.Context) ([]string, error) {
	if !p.api.IsConfigured() {
		return nil, nil
	}
	return []string{p.api.GetDomain()}, nil
}

// CreateAccount creates the mailbox in Mailcow
func (p *Provider) CreateAccount(ctx context.Context, address, secret string) error {
	localPart, domain, ok := strings.Cut(address, "@")
	if !ok || localPart == "" {
		return fmt.Errorf("invalid address %q", address)
	}
	if !strings.EqualFold(domain, p.api.GetDomain()) {
		return fmt.Errorf("domain %s is not served by this mailcow instance", domain)
	}

	return p.api.CreateMailbox(ctx, localPart, localPart, secret, p.quota)
}

// IssueToken verifies the IMAP login and returns a new opaque token. Any
// previous token for the address is revoked.
func (p *Provider) IssueToken(ctx context.Context, address, secret string) (string, error) {
	if err := p.imap.withSession(ctx, address, secret, func(c *client.Client) error { return nil }); err != nil {
		return "", err
	}

	token := uuid.NewString()

	p.mu.Lock()
	if old, ok := p.byOwner[address]; ok {
		delete(p.tokens, old)
	}
	p.tokens[token] = credentials{address: address, password: secret}
	p.byOwner[address] = token
	p.mu.Unlock()

	return token, nil
}

// ListMessages lists the newest messages of the INBOX, newest first
func (p *Provider) ListMessages(ctx context.Context, token string) ([]models.MessageSummary, error) {
	creds, err := p.lookup(token)
	if err != nil {
		return nil, err
	}

	var summaries []models.MessageSummary
	err = p.imap.withSession(ctx, creds.address, creds.password, func(c *client.Client) error {
		var err error
		summaries, err = listMessages(c, p.limit)
		return err
	})
	return summaries, err
}

// FetchMessage fetches a message by UID
func (p *Provider) FetchMessage(ctx context.Context, token, id string) (*models.MessageDetail, error) {
	creds, err := p.lookup(token)
	if err != nil {
		return nil, err
	}
	uid, err := parseUID(id)
	if err != nil {
		return nil, err
	}

	var detail *models.MessageDetail
	err = p.imap.withSession(ctx, creds.address, creds.password, func(c *client.Client) error {
		var err error
		detail, err = fetchMessage(c, p.logger, uid)
		return err
	})
	return detail, err
}

// DeleteMessage deletes a message by UID
func (p *Provider) DeleteMessage(ctx context.Context, token, id string) error {
	creds, err := p.lookup(token)
	if err != nil {
		return err
	}
	uid, err := parseUID(id)
	if err != nil {
		return err
	}

	return p.imap.withSession(ctx, creds.address, creds.password, func(c *client.Client) error {
		return deleteMessage(c, uid)
	})
}

func (p *Provider) lookup(token string) (credentials, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	creds, ok := p.tokens[token]
	if !ok {
		return credentials{}, fmt.Errorf("unknown token: %w", mailbox.ErrAuth)
	}
	return creds, nil
}

var _ mailbox.Provider = (*Provider)(nil)
