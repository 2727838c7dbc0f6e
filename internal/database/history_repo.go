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

// AddHistory remembers a mailbox provisioned for the user
func (db *DB) AddHistory(ctx context.Context, userID int64, address, secret string) error {
	sealed, err := db.box.Seal(secret)
	if err != nil {
		return fmt.Errorf("failed to seal secret: %w", err)
	}

	query := `
		INSERT INTO mailbox_history (user_id, address, secret, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, address) DO UPDATE SET secret = excluded.secret
	`
	_, err = db.ExecContext(ctx, query, userID, strings.ToLower(address), sealed, time.Now())
	if err != nil {
		return fmt.Errorf("failed to add history: %w", err)
	}
	return nil
}

// FindHistory returns a mailbox the user owned before
func (db *DB) FindHistory(ctx context.Context, userID int64, address string) (*models.MailboxHistory, error) {
	var entry models.MailboxHistory
	query := `SELECT * FROM mailbox_history WHERE user_id = ? AND address = ?`
	err := db.GetContext(ctx, &entry, query, userID, strings.ToLower(address))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	if err := db.openSecret(&entry.Secret); err != nil {
		return nil, err
	}
	return &entry, nil
}

// ListHistory returns the user's mailboxes, newest first
func (db *DB) ListHistory(ctx context.Context, userID int64) ([]*models.MailboxHistory, error) {
	var entries []*models.MailboxHistory
	query := `SELECT * FROM mailbox_history WHERE user_id = ? ORDER BY created_at DESC, id DESC`
	if err := db.SelectContext(ctx, &entries, query, userID); err != nil {
		return nil, fmt.Errorf("failed to get history: %w", err)
	}

	for _, e := range entries {
		if err := db.openSecret(&e.Secret); err != nil {
			return nil, err
		}
	}
	return entries, nil
}
