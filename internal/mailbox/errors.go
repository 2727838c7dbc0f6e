package mailbox

import (
	"errors"
	"fmt"
)

var (
	// ErrAuth is returned when the provider rejects the token or credentials
	ErrAuth = errors.New("authentication failed")

	// ErrTransient is returned for network errors, timeouts and 5xx responses
	ErrTransient = errors.New("provider unavailable")

	// ErrConflict is returned when the address is already registered
	ErrConflict = errors.New("address already exists")

	// ErrNotFound is returned when a message does not exist
	ErrNotFound = errors.New("not found")
)

// ProvisionStage identifies the failing step of provisioning
type ProvisionStage string

const (
	StageNoDomains     ProvisionStage = "NoDomainsAvailable"
	StageCreateAccount ProvisionStage = "AccountCreationFailed"
	StageIssueToken    ProvisionStage = "TokenAcquisitionFailed"
)

// ProvisionError is returned by Provision. Err carries the provider diagnostic.
type ProvisionError struct {
	Stage ProvisionStage
	Err   error
}

func (e *ProvisionError) Error() string {
	if e.Err == nil {
		return string(e.Stage)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProvisionError) Unwrap() error {
	return e.Err
}

// TerminationReason tells the sink why a session ended
type TerminationReason string

const (
	ReasonAuthExpired         TerminationReason = "auth_expired"
	ReasonProviderUnreachable TerminationReason = "provider_unreachable"
)

// SessionError is a failure that ends a poller
type SessionError struct {
	Reason TerminationReason
	Err    error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("session terminated (%s): %v", e.Reason, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}

// IsAuthError reports whether err belongs to the authentication class
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// reasonFor maps a failed refresh to a termination reason
func reasonFor(err error) TerminationReason {
	if errors.Is(err, ErrTransient) {
		return ReasonProviderUnreachable
	}
	return ReasonAuthExpired
}
