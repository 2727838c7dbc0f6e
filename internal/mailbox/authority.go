package mailbox

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// Authority re-authenticates mailboxes after their token was rejected
type Authority struct {
	provider Provider
	timeout  time.Duration
	logger   *slog.Logger
}

// NewAuthority creates a new token authority
func NewAuthority(provider Provider, timeout time.Duration, logger *slog.Logger) *Authority {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	return &Authority{
		provider: provider,
		timeout:  timeout,
		logger:   logger.With("component", "token_authority"),
	}
}

// Refresh exchanges the stored secret for a new token. The returned error
// keeps the provider class (ErrAuth or ErrTransient).
func (a *Authority) Refresh(ctx context.Context, address, secret string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	token, err := a.provider.IssueToken(ctx, address, secret)
	if err != nil {
		a.logger.Warn("token refresh failed", "address", address, "error", err)
		return "", fmt.Errorf("failed to refresh token: %w", err)
	}

	a.logger.Info("token refreshed", "address", address)
	return token, nil
}
