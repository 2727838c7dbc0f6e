package mailbox

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
	"github.com/jonboulle/clockwork"

	"github.com/mixelka/tempmailbot/internal/parser"
	"github.com/mixelka/tempmailbot/pkg/models"
)

// PollerConfig configuration for inbox pollers
type PollerConfig struct {
	Interval       time.Duration
	RequestTimeout time.Duration
	SeenCapacity   int // Max message ids remembered per poller
	PreviewLength  int // Max runes in a notification preview
}

func (c PollerConfig) withDefaults() PollerConfig {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 8 * time.Second
	}
	if c.SeenCapacity <= 0 {
		c.SeenCapacity = 100
	}
	if c.PreviewLength <= 0 {
		c.PreviewLength = 200
	}
	return c
}

// Deps dependencies shared by all pollers
type Deps struct {
	Provider   Provider
	Authority  *Authority
	Saver      TokenSaver // optional
	Extractor  *parser.OTPExtractor
	HTMLParser *parser.HTMLParser
	Clock      clockwork.Clock
	Config     PollerConfig
	Logger     *slog.Logger
}

// emitFunc hands a notification to the registry. It returns false once the
// poller has been cancelled.
type emitFunc func(ctx context.Context, n models.Notification) bool

// Poller watches one mailbox session for new messages.
//
// A Poller is driven by a single goroutine; its session copy and seen set
// are never touched from outside that goroutine.
type Poller struct {
	session   models.MailboxSession
	provider  Provider
	authority *Authority
	saver     TokenSaver
	otp       *parser.OTPExtractor
	html      *parser.HTMLParser
	clock     clockwork.Clock
	config    PollerConfig
	emit      emitFunc
	logger    *slog.Logger

	seen       *simplelru.LRU[string, struct{}]
	firstCycle bool
}

// NewPoller creates a poller in its first-cycle state
func NewPoller(session models.MailboxSession, deps Deps, emit emitFunc) (*Poller, error) {
	cfg := deps.Config.withDefaults()

	// Listed ids are touched every cycle, so eviction only drops ids that
	// left the listing
	seen, err := simplelru.NewLRU[string, struct{}](cfg.SeenCapacity, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create seen set: %w", err)
	}

	clock := deps.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	extractor := deps.Extractor
	if extractor == nil {
		extractor = parser.NewOTPExtractor()
	}
	htmlParser := deps.HTMLParser
	if htmlParser == nil {
		htmlParser = parser.NewHTMLParser()
	}

	return &Poller{
		session:    session,
		provider:   deps.Provider,
		authority:  deps.Authority,
		saver:      deps.Saver,
		otp:        extractor,
		html:       htmlParser,
		clock:      clock,
		config:     cfg,
		emit:       emit,
		logger:     deps.Logger.With("user_id", session.UserID, "address", session.Address),
		seen:       seen,
		firstCycle: true,
	}, nil
}

// Run polls immediately and then on every tick until ctx is cancelled or
// the session becomes unrecoverable, in which case a *SessionError is
// returned.
func (p *Poller) Run(ctx context.Context) error {
	ticker := p.clock.NewTicker(p.config.Interval)
	defer ticker.Stop()

	p.logger.Info("poller started", "interval", p.config.Interval)
	defer p.logger.Info("poller stopped")

	for {
		if err := p.poll(ctx); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.Chan():
		}
	}
}

// poll runs one cycle. Only session-ending failures are returned.
func (p *Poller) poll(ctx context.Context) error {
	var summaries []models.MessageSummary
	err := p.withAuth(ctx, func(ctx context.Context, token string) error {
		var err error
		summaries, err = p.provider.ListMessages(ctx, token)
		return err
	})
	if err != nil {
		var sessErr *SessionError
		if errors.As(err, &sessErr) {
			return err
		}
		if ctx.Err() == nil {
			p.logger.Warn("failed to list messages, skipping cycle", "error", err)
		}
		return nil
	}

	// Only the newest ids fit in the seen set
	if len(summaries) > p.config.SeenCapacity {
		summaries = summaries[:p.config.SeenCapacity]
	}

	if p.firstCycle {
		// Oldest first, so the newest ids are evicted last
		for i := len(summaries) - 1; i >= 0; i-- {
			if summaries[i].ID != "" {
				p.seen.Add(summaries[i].ID, struct{}{})
			}
		}
		p.firstCycle = false
		p.logger.Debug("recorded existing messages", "count", len(summaries))
		return nil
	}

	// Refresh listed ids and record new ones, oldest first. New ids are
	// marked before delivery so each is emitted at most once.
	var unseen []models.MessageSummary
	for i := len(summaries) - 1; i >= 0; i-- {
		summary := summaries[i]
		if summary.ID == "" {
			continue
		}
		if _, ok := p.seen.Get(summary.ID); ok {
			continue
		}
		p.seen.Add(summary.ID, struct{}{})
		unseen = append(unseen, summary)
	}

	// Deliver in listing order
	for i := len(unseen) - 1; i >= 0; i-- {
		summary := unseen[i]

		n, err := p.notification(ctx, summary)
		if err != nil {
			return err
		}

		p.logger.Info("new message", "message_id", summary.ID, "from", summary.From, "otp", n.HasOTP())
		if !p.emit(ctx, n) {
			return nil
		}
	}

	return nil
}

// notification fetches the full message, falling back to the summary
func (p *Poller) notification(ctx context.Context, summary models.MessageSummary) (models.Notification, error) {
	var detail *models.MessageDetail
	err := p.withAuth(ctx, func(ctx context.Context, token string) error {
		var err error
		detail, err = p.provider.FetchMessage(ctx, token, summary.ID)
		return err
	})
	if err != nil {
		var sessErr *SessionError
		if errors.As(err, &sessErr) {
			return models.Notification{}, err
		}
		p.logger.Warn("failed to fetch message, using summary", "message_id", summary.ID, "error", err)
		detail = nil
	}
	if detail == nil {
		detail = &models.MessageDetail{MessageSummary: summary}
	}

	body := p.html.BodyText(detail)

	code, ok := p.otp.Extract(body)
	if !ok {
		code, _ = p.otp.Extract(summary.Subject)
	}

	from := detail.From
	if from == "" {
		from = summary.From
	}
	subject := detail.Subject
	if subject == "" {
		subject = summary.Subject
	}

	return models.Notification{
		MessageID:   summary.ID,
		From:        from,
		Subject:     subject,
		BodyPreview: p.html.Preview(body, p.config.PreviewLength),
		OTP:         code,
		ReceivedAt:  summary.CreatedAt,
	}, nil
}

// withAuth runs call with the current token. An auth-class failure triggers
// exactly one refresh and one retry.
func (p *Poller) withAuth(ctx context.Context, call func(ctx context.Context, token string) error) error {
	err := p.do(ctx, call)
	if err == nil || !IsAuthError(err) {
		return err
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}

	p.logger.Info("token rejected, refreshing")
	token, err := p.authority.Refresh(ctx, p.session.Address, p.session.Secret)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &SessionError{Reason: reasonFor(err), Err: err}
	}

	p.session.Token = token
	p.session.LastAccess = p.clock.Now()
	p.saveToken(ctx)

	err = p.do(ctx, call)
	if IsAuthError(err) {
		return &SessionError{Reason: ReasonAuthExpired, Err: err}
	}
	return err
}

func (p *Poller) do(ctx context.Context, call func(ctx context.Context, token string) error) error {
	reqCtx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	if err := call(reqCtx, p.session.Token); err != nil {
		return err
	}
	p.session.LastAccess = p.clock.Now()
	return nil
}

func (p *Poller) saveToken(ctx context.Context) {
	if p.saver == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()

	if err := p.saver.UpdateSessionToken(ctx, p.session.UserID, p.session.Token, p.session.LastAccess); err != nil {
		p.logger.Error("failed to persist refreshed token", "error", err)
	}
}
