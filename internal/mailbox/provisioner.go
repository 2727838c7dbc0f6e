package mailbox

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	mrand "math/rand/v2"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/mixelka/tempmailbot/pkg/models"
)

var addressPrefixes = []string{"temp", "quick", "fast", "instant", "rapid", "swift", "flash", "zen", "cool", "neo"}

// ProvisionerConfig configuration for the provisioner
type ProvisionerConfig struct {
	RequestTimeout time.Duration
	Attempts       int           // ProvisionWithRetry attempts on address conflicts
	RetryDelay     time.Duration // Delay between conflict retries
}

// Provisioner creates new mailbox identities at the provider
type Provisioner struct {
	provider Provider
	config   ProvisionerConfig
	logger   *slog.Logger
	now      func() time.Time
}

// NewProvisioner creates a new provisioner
func NewProvisioner(provider Provider, cfg ProvisionerConfig, logger *slog.Logger) *Provisioner {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 8 * time.Second
	}
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	return &Provisioner{
		provider: provider,
		config:   cfg,
		logger:   logger.With("component", "provisioner"),
		now:      time.Now,
	}
}

// Provision registers a fresh mailbox and obtains its first token.
// On failure no session is returned.
func (p *Provisioner) Provision(ctx context.Context, userID int64) (*models.MailboxSession, error) {
	domains, err := p.listDomains(ctx)
	if err != nil {
		return nil, &ProvisionError{Stage: StageNoDomains, Err: err}
	}
	if len(domains) == 0 {
		return nil, &ProvisionError{Stage: StageNoDomains, Err: errors.New("provider advertised no domains")}
	}

	domain := domains[mrand.IntN(len(domains))]
	address := GenerateAddress(domain)

	secret, err := GenerateSecret()
	if err != nil {
		return nil, &ProvisionError{Stage: StageCreateAccount, Err: fmt.Errorf("failed to generate secret: %w", err)}
	}

	createCtx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	err = p.provider.CreateAccount(createCtx, address, secret)
	cancel()
	if err != nil {
		return nil, &ProvisionError{Stage: StageCreateAccount, Err: err}
	}

	tokenCtx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	token, err := p.provider.IssueToken(tokenCtx, address, secret)
	cancel()
	if err != nil {
		return nil, &ProvisionError{Stage: StageIssueToken, Err: err}
	}

	now := p.now()
	p.logger.Info("provisioned mailbox", "user_id", userID, "address", address)

	return &models.MailboxSession{
		UserID:     userID,
		Address:    address,
		Secret:     secret,
		Token:      token,
		IsActive:   true,
		LastAccess: now,
		CreatedAt:  now,
	}, nil
}

// ProvisionWithRetry calls Provision again when the generated address
// collided with an existing one. Other failures are returned immediately.
func (p *Provisioner) ProvisionWithRetry(ctx context.Context, userID int64) (*models.MailboxSession, error) {
	var session *models.MailboxSession

	backoff := retry.WithMaxRetries(uint64(p.config.Attempts-1), retry.NewConstant(p.retryDelay()))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		s, err := p.Provision(ctx, userID)
		if err != nil {
			if errors.Is(err, ErrConflict) {
				p.logger.Warn("address collision, retrying", "user_id", userID, "error", err)
				return retry.RetryableError(err)
			}
			return err
		}
		session = s
		return nil
	})
	if err != nil {
		return nil, err
	}

	return session, nil
}

func (p *Provisioner) listDomains(ctx context.Context) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.config.RequestTimeout)
	defer cancel()
	return p.provider.ListDomains(ctx)
}

func (p *Provisioner) retryDelay() time.Duration {
	if p.config.RetryDelay <= 0 {
		return time.Millisecond
	}
	return p.config.RetryDelay
}

// GenerateAddress builds a human-readable address such as swift482913@domain
func GenerateAddress(domain string) string {
	prefix := addressPrefixes[mrand.IntN(len(addressPrefixes))]
	suffix := 100000 + mrand.IntN(900000)
	return fmt.Sprintf("%s%d@%s", prefix, suffix, domain)
}

// GenerateSecret generates a mailbox password with upper, lower, digit and
// symbol characters
func GenerateSecret() (string, error) {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	digits, err := rand.Int(rand.Reader, big.NewInt(900))
	if err != nil {
		return "", err
	}

	tail := make([]byte, 8)
	for i := range tail {
		num, err := rand.Int(rand.Reader, big.NewInt(int64(len(charset))))
		if err != nil {
			return "", err
		}
		tail[i] = charset[num.Int64()]
	}

	return fmt.Sprintf("TempMail%d!@#%s", 100+digits.Int64(), tail), nil
}
