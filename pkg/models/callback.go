package models

// CallbackAction type of callback action
type CallbackAction string

const (
	CallbackDelete   CallbackAction = "del"
	CallbackCopyCode CallbackAction = "cc"
)

// CallbackData structure for inline button callback
type CallbackData struct {
	Action    CallbackAction `json:"a"`
	MessageID string         `json:"m,omitempty"`
	Code      string         `json:"c,omitempty"` // OTP shown on copy
}
