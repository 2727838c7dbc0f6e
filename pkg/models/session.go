package models

import "time"

// MailboxSession represents a disposable mailbox owned by one Telegram user
type MailboxSession struct {
	UserID          int64     `db:"user_id"`          // Telegram chat ID of the owner
	Address         string    `db:"address"`          // Mailbox address
	Secret          string    `db:"secret"`           // Mailbox password, sealed at rest
	Token           string    `db:"token"`            // Current bearer token
	RecoveryAddress string    `db:"recovery_address"` // Linked secondary address
	IsActive        bool      `db:"is_active"`        // Poller should run for this session
	LastAccess      time.Time `db:"last_access"`
	CreatedAt       time.Time `db:"created_at"`
}

// MailboxHistory is a mailbox previously provisioned for a user
type MailboxHistory struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Address   string    `db:"address"`
	Secret    string    `db:"secret"`
	CreatedAt time.Time `db:"created_at"`
}
