package formatter

import (
	"encoding/json"

	"github.com/go-telegram/bot/models"

	appmodels "github.com/mixelka/tempmailbot/pkg/models"
)

// Menu button labels
const (
	ButtonMyEmail  = "📧 My Email"
	ButtonGenerate = "🔄 Generate New"
	ButtonInbox    = "📥 Inbox"
	ButtonRecovery = "♻️ Recovery"
)

// MainMenu returns the persistent reply keyboard
func MainMenu() *models.ReplyKeyboardMarkup {
	return &models.ReplyKeyboardMarkup{
		Keyboard: [][]models.KeyboardButton{
			{{Text: ButtonMyEmail}},
			{{Text: ButtonGenerate}, {Text: ButtonInbox}},
			{{Text: ButtonRecovery}},
		},
		ResizeKeyboard: true,
	}
}

// BuildMessageKeyboard creates an inline keyboard for a mailbox message
func BuildMessageKeyboard(n appmodels.Notification) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton

	if n.HasOTP() {
		rows = append(rows, []models.InlineKeyboardButton{{
			Text: "📋 " + n.OTP,
			CallbackData: EncodeCallback(appmodels.CallbackData{
				Action: appmodels.CallbackCopyCode,
				Code:   n.OTP,
			}),
		}})
	}

	rows = append(rows, []models.InlineKeyboardButton{{
		Text: "🗑 Delete",
		CallbackData: EncodeCallback(appmodels.CallbackData{
			Action:    appmodels.CallbackDelete,
			MessageID: n.MessageID,
		}),
	}})

	return &models.InlineKeyboardMarkup{
		InlineKeyboard: rows,
	}
}

// EncodeCallback encodes callback data to string
func EncodeCallback(data appmodels.CallbackData) string {
	b, _ := json.Marshal(data)
	return string(b)
}

// DecodeCallback decodes callback data from string
func DecodeCallback(data string) (appmodels.CallbackData, error) {
	var cb appmodels.CallbackData
	err := json.Unmarshal([]byte(data), &cb)
	return cb, err
}
