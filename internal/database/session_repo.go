package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mixelka/tempmailbot/pkg/models"
)

// ErrNotFound is returned when a record is not found
var ErrNotFound = errors.New("record not found")

// SaveSession creates or replaces the user's session. A linked recovery
// address is kept.
func (db *DB) SaveSession(ctx context.Context, session *models.MailboxSession) error {
	sealed, err := db.box.Seal(session.Secret)
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	now := time.Now()
	if session.CreatedAt.IsZero() {
		session.CreatedAt = now
	}
	if session.LastAccess.IsZero() {
		session.LastAccess = now
	}

	query := `
		INSERT INTO user_sessions (user_id, address, secret, token, is_active, last_access, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			address = excluded.address,
			secret = excluded.secret,
			token = excluded.token,
			is_active = excluded.is_active,
			last_access = excluded.last_access,
			created_at = excluded.created_at
	`
	_, err = db.ExecContext(ctx, query,
		session.UserID,
		strings.ToLower(session.Address),
		sealed,
		session.Token,
		session.IsActive,
		session.LastAccess,
		session.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}
	return nil
}

// GetSession returns the user's session
func (db *DB) GetSession(ctx context.Context, userID int64) (*models.MailboxSession, error) {
	var session models.MailboxSession
	query := `SELECT * FROM user_sessions WHERE user_id = ?`
	err := db.GetContext(ctx, &session, query, userID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}

	if err := db.openSecret(&session.Secret); err != nil {
		return nil, err
	}
	return &session, nil
}

// GetActiveSessions returns all sessions that should be polled
func (db *DB) GetActiveSessions(ctx context.Context) ([]*models.MailboxSession, error) {
	var sessions []*models.MailboxSession
	query := `SELECT * FROM user_sessions WHERE is_active = true`
	if err := db.SelectContext(ctx, &sessions, query); err != nil {
		return nil, fmt.Errorf("failed to get active sessions: %w", err)
	}

	for _, s := range sessions {
		if err := db.openSecret(&s.Secret); err != nil {
			return nil, fmt.Errorf("session %d: %w", s.UserID, err)
		}
	}
	return sessions, nil
}

// UpdateSessionToken stores a refreshed token
func (db *DB) UpdateSessionToken(ctx context.Context, userID int64, token string, lastAccess time.Time) error {
	query := `UPDATE user_sessions SET token = ?, last_access = ? WHERE user_id = ?`
	_, err := db.ExecContext(ctx, query, token, lastAccess, userID)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}
	return nil
}

// SetSessionActive sets the active status of a session
func (db *DB) SetSessionActive(ctx context.Context, userID int64, active bool) error {
	query := `UPDATE user_sessions SET is_active = ? WHERE user_id = ?`
	_, err := db.ExecContext(ctx, query, active, userID)
	if err != nil {
		return fmt.Errorf("failed to set session active: %w", err)
	}
	return nil
}

// SetRecoveryAddress links a secondary address to the user's session
func (db *DB) SetRecoveryAddress(ctx context.Context, userID int64, address string) error {
	query := `UPDATE user_sessions SET recovery_address = ? WHERE user_id = ?`
	result, err := db.ExecContext(ctx, query, strings.ToLower(address), userID)
	if err != nil {
		return fmt.Errorf("failed to set recovery address: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (db *DB) openSecret(secret *string) error {
	plain, err := db.box.Open(*secret)
	if err != nil {
		return fmt.Errorf("failed to open secret: %w", err)
	}
	*secret = plain
	return nil
}
