// Package telegram hosts the Telegram client, command routing, and handlers.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/sirupsen/logrus"

	"tg_station_report_bot/internal/config"
	"tg_station_report_bot/internal/drova"
	"tg_station_report_bot/internal/logging"
	"tg_station_report_bot/internal/prefs"
	"tg_station_report_bot/internal/report"
)

type botRunner interface {
	Start(ctx context.Context)
}

// sender is the outbound Telegram surface used by the handlers; *bot.Bot
// satisfies it, tests provide fakes.
type sender interface {
	SendMessage(ctx context.Context, params *bot.SendMessageParams) (*models.Message, error)
	EditMessageText(ctx context.Context, params *bot.EditMessageTextParams) (*models.Message, error)
	SendDocument(ctx context.Context, params *bot.SendDocumentParams) (*models.Message, error)
	AnswerCallbackQuery(ctx context.Context, params *bot.AnswerCallbackQueryParams) (bool, error)
}

// Gateway is the vendor surface the adapter needs on top of what the report
// builder consumes: token validation and the global catalog.
type Gateway interface {
	report.Gateway
	AccountInfo(ctx context.Context, token string) (*drova.Account, int)
	ProductsFull(ctx context.Context) ([]drova.Product, int)
}

// Reports is the report-builder surface consumed by the handlers.
type Reports interface {
	SessionDigest(ctx context.Context, token, serverID, merchantID string, limit int, short bool, stationNames, titles map[string]string) report.SessionDigestResult
	CurrentDigest(ctx context.Context, token, userID string, titles map[string]string) report.DigestResult
	DisabledProductsDigest(ctx context.Context, token, userID string) report.DigestResult
	StationsInfoDigest(ctx context.Context, token, userID string) report.DigestResult
	ExportSessions(ctx context.Context, token, userID string, oneFile bool, titles map[string]string) report.ExportResult
	StationProductCrosstab(ctx context.Context, token, userID string, withTime bool, daysLimit int) report.CrosstabResult
}

var (
	defaultAllowedUpdates = bot.AllowedUpdates{
		"message",
		"callback_query",
	}

	createBot = func(token string, options ...bot.Option) (botRunner, error) {
		return bot.New(token, options...)
	}
)

// Dependencies are the collaborators the handlers operate on.
type Dependencies struct {
	Prefs   prefs.Store
	Titles  *prefs.TitleCache
	Gateway Gateway
	Reports Reports
}

// Client wraps the Telegram bot instance and the report collaborators.
type Client struct {
	bot    botRunner
	logger *logrus.Entry

	prefs   prefs.Store
	titles  *prefs.TitleCache
	gateway Gateway
	reports Reports
}

// NewClient initializes the Telegram bot with long polling and the command
// dispatcher as the default handler.
func NewClient(cfg config.Config, deps Dependencies, logger *logrus.Entry) (*Client, error) {
	if strings.TrimSpace(cfg.TelegramToken) == "" {
		return nil, errors.New("telegram token is required")
	}
	if deps.Prefs == nil || deps.Titles == nil || deps.Gateway == nil || deps.Reports == nil {
		return nil, errors.New("all collaborators are required")
	}
	if logger == nil {
		logger = logging.Logger()
	}

	c := &Client{
		logger:  logger,
		prefs:   deps.Prefs,
		titles:  deps.Titles,
		gateway: deps.Gateway,
		reports: deps.Reports,
	}

	tgBot, err := createBot(cfg.TelegramToken,
		bot.WithAllowedUpdates(defaultAllowedUpdates),
		bot.WithDefaultHandler(c.handleUpdate),
		bot.WithErrorsHandler(errorHandler(logger)),
	)
	if err != nil {
		return nil, fmt.Errorf("init telegram bot client: %w", err)
	}

	c.bot = tgBot
	return c, nil
}

// Start begins receiving updates via long polling until the context is canceled.
func (c *Client) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}

	c.logger.WithFields(logging.Fields{
		"event":           "telegram_listen",
		"allowed_updates": defaultAllowedUpdates,
	}).Info("starting telegram long polling")

	c.bot.Start(ctx)

	c.logger.WithField("event", "telegram_stopped").Info("telegram polling stopped")
}

// handleUpdate is the default handler: every message and callback query lands
// here and is routed on its lowercased first word or callback prefix.
func (c *Client) handleUpdate(ctx context.Context, b *bot.Bot, update *models.Update) {
	c.routeUpdate(ctx, b, update)
}

func (c *Client) routeUpdate(ctx context.Context, api sender, update *models.Update) {
	if update == nil {
		return
	}

	switch {
	case update.CallbackQuery != nil:
		c.dispatchCallback(ctx, api, update.CallbackQuery)
	case update.Message != nil:
		c.dispatchCommand(ctx, api, update.Message)
	default:
		c.logger.WithField("event", "telegram_update_ignored").Debug("unsupported update type")
	}
}

func (c *Client) dispatchCommand(ctx context.Context, api sender, msg *models.Message) {
	chatID := msg.Chat.ID
	words := strings.Fields(msg.Text)
	if len(words) == 0 {
		return
	}

	command := strings.ToLower(words[0])
	args := words[1:]

	c.logger.WithFields(logging.Fields{
		"event":   "telegram_command",
		"chat_id": chatID,
		"command": command,
	}).Info("command received")

	switch command {
	case "/start":
		c.handleStart(ctx, api, chatID)
	case "/token":
		c.handleToken(ctx, api, chatID, args)
	case "/removetoken":
		c.handleRemoveToken(ctx, api, chatID)
	case "/sessions":
		short := len(args) > 0 && args[0] == "short"
		c.sendSessions(ctx, api, chatID, 0, false, short)
	case "/current":
		c.sendCurrent(ctx, api, chatID, 0, false)
	case "/disabled":
		c.sendDisabled(ctx, api, chatID, 0, false)
	case "/stationsinfo":
		c.sendStationsInfo(ctx, api, chatID, 0, false)
	case "/station":
		c.handleStation(ctx, api, chatID, args)
	case "/limit":
		c.handleLimit(ctx, api, chatID, args)
	case "/dumpall":
		c.handleDump(ctx, api, chatID, false)
	case "/dumponefile":
		c.handleDump(ctx, api, chatID, true)
	case "/dumpstationsproducts":
		c.handleCrosstab(ctx, api, chatID, false, 0)
	case "/dumpstationsproductswithtime":
		c.handleCrosstab(ctx, api, chatID, true, 0)
	case "/dumpstationsproductsmonth":
		c.handleCrosstab(ctx, api, chatID, true, monthDays)
	case "/updateproducts":
		c.handleUpdateProducts(ctx, api, chatID)
	default:
		text := "Sorry, I don't understand that message."
		if strings.HasPrefix(command, "/") {
			text = "Sorry, I don't understand that command."
		}
		c.reply(ctx, api, chatID, text)
	}
}

func (c *Client) dispatchCallback(ctx context.Context, api sender, query *models.CallbackQuery) {
	chatID := messageChatID(query.Message)
	messageID := callbackMessageID(query.Message)
	data := query.Data

	c.logger.WithFields(logging.Fields{
		"event":   "telegram_callback",
		"chat_id": chatID,
		"data":    data,
	}).Info("callback received")

	switch {
	case strings.HasPrefix(data, "set_server_id_"):
		c.handleSetStation(ctx, api, chatID, query.ID, strings.TrimPrefix(data, "set_server_id_"))
		return
	case strings.HasPrefix(data, "update_sessions"):
		c.sendSessions(ctx, api, chatID, messageID, true, strings.HasSuffix(data, "_short"))
	case data == "update_current":
		c.sendCurrent(ctx, api, chatID, messageID, true)
	case data == "update_disabled":
		c.sendDisabled(ctx, api, chatID, messageID, true)
	case data == "update_stationsinfo":
		c.sendStationsInfo(ctx, api, chatID, messageID, true)
	default:
		c.reply(ctx, api, chatID, "Sorry, I don't understand that command.")
	}

	c.answerCallback(ctx, api, query.ID, "")
}

func errorHandler(logger *logrus.Entry) bot.ErrorsHandler {
	if logger == nil {
		logger = logging.Logger()
	}

	return func(err error) {
		if err == nil {
			return
		}

		logger.WithField("event", "telegram_error").WithError(err).Error("telegram polling error")
	}
}

func messageChatID(msg models.MaybeInaccessibleMessage) int64 {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return msg.Message.Chat.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return msg.InaccessibleMessage.Chat.ID
	default:
		return 0
	}
}

func callbackMessageID(msg models.MaybeInaccessibleMessage) int {
	switch msg.Type {
	case models.MaybeInaccessibleMessageTypeMessage:
		if msg.Message == nil {
			return 0
		}
		return msg.Message.ID
	case models.MaybeInaccessibleMessageTypeInaccessibleMessage:
		if msg.InaccessibleMessage == nil {
			return 0
		}
		return msg.InaccessibleMessage.MessageID
	default:
		return 0
	}
}
