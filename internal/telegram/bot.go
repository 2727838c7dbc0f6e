package telegram

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"

	"github.com/mixelka/tempmailbot/internal/config"
	"github.com/mixelka/tempmailbot/internal/database"
	"github.com/mixelka/tempmailbot/internal/formatter"
	"github.com/mixelka/tempmailbot/internal/mailbox"
	"github.com/mixelka/tempmailbot/internal/parser"
)

// Bot represents the Telegram bot
type Bot struct {
	bot         *bot.Bot
	db          *database.DB
	registry    *mailbox.Registry
	provisioner *mailbox.Provisioner
	authority   *mailbox.Authority
	provider    mailbox.Provider
	htmlParser  *parser.HTMLParser
	otp         *parser.OTPExtractor
	formatter   *formatter.TelegramFormatter
	logger      *slog.Logger
	config      *config.Config

	mu       sync.Mutex
	awaiting map[int64]bool // users asked to send a recovery address
}

// BotDeps dependencies for creating a bot
type BotDeps struct {
	Config      *config.Config
	DB          *database.DB
	Mailbox     mailbox.Deps // the bot becomes the registry's sink
	Provisioner *mailbox.Provisioner
	Formatter   *formatter.TelegramFormatter
	Logger      *slog.Logger
	Options     []bot.Option
}

// NewBot creates a new Telegram bot and the session registry it serves
func NewBot(deps BotDeps) (*Bot, error) {
	b := &Bot{
		db:          deps.DB,
		provisioner: deps.Provisioner,
		authority:   deps.Mailbox.Authority,
		provider:    deps.Mailbox.Provider,
		htmlParser:  deps.Mailbox.HTMLParser,
		otp:         deps.Mailbox.Extractor,
		formatter:   deps.Formatter,
		logger:      deps.Logger.With("component", "telegram_bot"),
		config:      deps.Config,
		awaiting:    make(map[int64]bool),
	}
	if b.htmlParser == nil {
		b.htmlParser = parser.NewHTMLParser()
	}
	if b.otp == nil {
		b.otp = parser.NewOTPExtractor()
	}
	if b.formatter == nil {
		b.formatter = formatter.NewTelegramFormatter()
	}

	opts := append([]bot.Option{
		bot.WithDefaultHandler(b.defaultHandler),
	}, deps.Options...)

	tgBot, err := bot.New(deps.Config.TelegramToken, opts...)
	if err != nil {
		return nil, err
	}

	b.bot = tgBot
	b.registry = mailbox.NewRegistry(deps.Mailbox, b)
	b.registerHandlers()

	return b, nil
}

// Registry returns the session registry fed by this bot
func (b *Bot) Registry() *mailbox.Registry {
	return b.registry
}

// registerHandlers registers command and menu handlers
func (b *Bot) registerHandlers() {
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypePrefix, b.handleStart)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, formatter.ButtonMyEmail, bot.MatchTypeExact, b.handleMyEmail)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, formatter.ButtonGenerate, bot.MatchTypeExact, b.handleGenerate)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, formatter.ButtonInbox, bot.MatchTypeExact, b.handleInbox)
	b.bot.RegisterHandler(bot.HandlerTypeMessageText, formatter.ButtonRecovery, bot.MatchTypeExact, b.handleRecovery)
	b.bot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.handleCallback)
}

// Start starts the bot and blocks until ctx is cancelled
func (b *Bot) Start(ctx context.Context) {
	b.logger.Info("starting telegram bot")
	b.bot.Start(ctx)
}

// defaultHandler handles free text, which is only expected as a recovery address
func (b *Bot) defaultHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	// Ignore non-message updates and messages without text
	if update.Message == nil || update.Message.From == nil || update.Message.Text == "" {
		return
	}

	msg := update.Message
	if b.takeAwaiting(msg.From.ID) {
		b.handleRecoveryAddress(ctx, msg)
		return
	}

	if msg.Text[0] == '/' {
		b.logger.Debug("unknown command", "text", msg.Text)
	}
	b.sendMessage(ctx, msg.Chat.ID, "Please use the menu buttons below 👇")
}

// handleStart handles /start command
func (b *Bot) handleStart(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	msg := update.Message
	if msg == nil {
		return
	}

	text := `👋 <b>Welcome to Temp Mail Bot</b>

Get a disposable email address and receive its mail right here.
Codes found in incoming mail are highlighted so you can copy them.

📧 <b>My Email</b> - show your current address
🔄 <b>Generate New</b> - create a fresh address
📥 <b>Inbox</b> - show the latest message
♻️ <b>Recovery</b> - restore or link an address`

	b.sendMessageWithKeyboard(ctx, msg.Chat.ID, text, formatter.MainMenu())
}

func (b *Bot) setAwaiting(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.awaiting[userID] = true
}

// takeAwaiting reports whether a recovery address was requested and clears the request
func (b *Bot) takeAwaiting(userID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.awaiting[userID] {
		return false
	}
	delete(b.awaiting, userID)
	return true
}

func (b *Bot) clearAwaiting(userID int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.awaiting, userID)
}
