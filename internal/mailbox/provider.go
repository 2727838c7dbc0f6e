// Package mailbox implements the disposable mailbox session engine:
// provisioning, token recovery, per-user inbox polling and the registry
// that owns every running poller.
package mailbox

import (
	"context"
	"time"

	"github.com/mixelka/tempmailbot/pkg/models"
)

// Provider is the external mail service the engine drives.
//
// Implementations classify failures with ErrAuth, ErrTransient, ErrConflict
// and ErrNotFound so callers can match them with errors.Is.
type Provider interface {
	ListDomains(ctx context.Context) ([]string, error)
	CreateAccount(ctx context.Context, address, secret string) error
	IssueToken(ctx context.Context, address, secret string) (string, error)
	ListMessages(ctx context.Context, token string) ([]models.MessageSummary, error)
	FetchMessage(ctx context.Context, token, id string) (*models.MessageDetail, error)
	DeleteMessage(ctx context.Context, token, id string) error
}

// Sink receives events for the chat transport.
//
// Sink methods are called from the registry dispatcher and must not call
// back into the Registry.
type Sink interface {
	OnNewMessage(ctx context.Context, userID int64, n models.Notification)
	OnSessionTerminated(ctx context.Context, userID int64, reason TerminationReason)
}

// TokenSaver persists a refreshed token so a restarted process resumes with it
type TokenSaver interface {
	UpdateSessionToken(ctx context.Context, userID int64, token string, lastAccess time.Time) error
}
