package models

import "time"

// MessageSummary is an inbox entry as listed by the mail provider
type MessageSummary struct {
	ID        string
	From      string // Sender address
	FromName  string
	Subject   string
	Intro     string // Short provider-side preview, may be empty
	CreatedAt time.Time
	Seen      bool
}

// MessageDetail is a fully fetched message
type MessageDetail struct {
	MessageSummary
	Text string
	HTML string
}

// Notification is a ready-to-display new message event
type Notification struct {
	MessageID   string
	From        string
	Subject     string
	BodyPreview string
	OTP         string // Empty when no code was found
	ReceivedAt  time.Time
}

// HasOTP reports whether a passcode was extracted
func (n Notification) HasOTP() bool {
	return n.OTP != ""
}
