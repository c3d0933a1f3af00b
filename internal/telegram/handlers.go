package telegram

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/google/uuid"

	"tg_station_report_bot/internal/logging"
	"tg_station_report_bot/internal/prefs"
	"tg_station_report_bot/internal/report"
)

const monthDays = 30

const helpText = `Не добавляйте токены в непроверенных ботов - владелец бота получит информацию из вашего ЛК!
Команды:
/token 123-456-789 - установить токен из qr кода личного кабинета мерчанта
/removeToken - удалить токен пользователя из бота
/current - Краткий список последних сессий по всем станциям
/station [id станции] - выбор станции из списка или ручным вводом её id
/limit N - смена ограничения на вывод сессий
/sessions [short] - просмотр сессий со всех или с выбранной станции
/dumpall - экспорт сессий по серверам
/dumpOnefile - экспорт сессий одним файлом
`

// clock is overridable so tests can pin the button timestamps.
var clock = time.Now

func (c *Client) handleStart(ctx context.Context, api sender, chatID int64) {
	c.reply(ctx, api, chatID, helpText)
}

func (c *Client) handleToken(ctx context.Context, api sender, chatID int64, args []string) {
	if len(args) == 0 {
		c.reply(ctx, api, chatID, "add token to command like /token 123-456-789")
		return
	}

	token := args[0]
	account, status := c.gateway.AccountInfo(ctx, token)
	if status != http.StatusOK || account == nil || account.UUID == "" {
		c.reply(ctx, api, chatID, "Token error, not set.")
		return
	}

	if _, err := c.prefs.SetAuthToken(ctx, chatID, token); err != nil {
		c.logger.WithField("event", "prefs_write_error").WithError(err).Error("store auth token")
		c.reply(ctx, api, chatID, "Token error, not set.")
		return
	}
	if err := c.prefs.SetAccountID(ctx, chatID, account.UUID); err != nil {
		c.logger.WithField("event", "prefs_write_error").WithError(err).Error("store account id")
	}

	c.reply(ctx, api, chatID, fmt.Sprintf("X-Auth-Token has been set.\r\nПривет %s", account.Name))

	c.handleUpdateProducts(ctx, api, chatID)
	c.refreshStationNames(ctx, chatID, token, account.UUID)
}

func (c *Client) handleRemoveToken(ctx context.Context, api sender, chatID int64) {
	removed, err := c.prefs.SetAuthToken(ctx, chatID, prefs.Remove)
	if err != nil {
		c.logger.WithField("event", "prefs_write_error").WithError(err).Error("remove auth token")
		return
	}
	if removed {
		c.reply(ctx, api, chatID, "Token removed.")
	}
}

func (c *Client) handleUpdateProducts(ctx context.Context, api sender, chatID int64) {
	products, status := c.gateway.ProductsFull(ctx)
	if status != http.StatusOK {
		c.reply(ctx, api, chatID, fmt.Sprintf("Error: %d", status))
		return
	}

	titles := make(map[string]string, len(products))
	for _, p := range products {
		titles[p.ProductID] = p.Title
	}

	oldLen, newLen, err := c.titles.Replace(titles)
	if err != nil {
		c.logger.WithField("event", "titles_persist_error").WithError(err).Error("persist product catalog")
	}

	c.reply(ctx, api, chatID,
		fmt.Sprintf("Game database has been updated from %d games to %d", oldLen, newLen))
}

func (c *Client) handleStation(ctx context.Context, api sender, chatID int64, args []string) {
	token, userID, ok := c.requireAuth(ctx, api, chatID)
	if !ok {
		return
	}

	if len(args) > 0 {
		stationID := args[0]
		if stationID != prefs.Remove {
			if _, err := uuid.Parse(stationID); err != nil {
				c.reply(ctx, api, chatID, "Station ID must be a station UUID or -.")
				return
			}
		}
		if err := c.prefs.SetSelectedStation(ctx, chatID, stationID); err != nil {
			c.logger.WithField("event", "prefs_write_error").WithError(err).Error("store selected station")
			return
		}
		c.reply(ctx, api, chatID, fmt.Sprintf("Station ID updated to %s.", stationID))
		return
	}

	servers, status := c.gateway.Servers(ctx, token, userID)
	if status != http.StatusOK {
		c.reply(ctx, api, chatID, fmt.Sprintf("Error: %d", status))
		return
	}

	names := make(map[string]string, len(servers))
	row := make([]models.InlineKeyboardButton, 0, len(servers)+1)
	for _, s := range servers {
		names[s.UUID] = s.Name
		row = append(row, models.InlineKeyboardButton{
			Text:         s.Name,
			CallbackData: "set_server_id_" + s.UUID,
		})
	}
	row = append(row, models.InlineKeyboardButton{
		Text:         "all",
		CallbackData: "set_server_id_" + prefs.Remove,
	})

	if err := c.prefs.SetStationNames(ctx, chatID, names); err != nil {
		c.logger.WithField("event", "prefs_write_error").WithError(err).Error("store station names")
	}

	_, err := api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "Select a station:",
		ReplyMarkup: &models.InlineKeyboardMarkup{
			InlineKeyboard: [][]models.InlineKeyboardButton{row},
		},
	})
	if err != nil {
		c.logSendError(chatID, err)
	}
}

func (c *Client) handleSetStation(ctx context.Context, api sender, chatID int64, queryID, stationID string) {
	if err := c.prefs.SetSelectedStation(ctx, chatID, stationID); err != nil {
		c.logger.WithField("event", "prefs_write_error").WithError(err).Error("store selected station")
		return
	}

	message := fmt.Sprintf("Station ID updated to %s.", stationID)
	if stationID == prefs.Remove {
		message = "Selected all stations."
	}

	c.answerCallback(ctx, api, queryID, message)
}

func (c *Client) handleLimit(ctx context.Context, api sender, chatID int64, args []string) {
	if _, _, ok := c.requireAuth(ctx, api, chatID); !ok {
		return
	}

	if len(args) == 0 {
		c.reply(ctx, api, chatID, "add limit number to command")
		return
	}

	limit, err := strconv.Atoi(args[0])
	if err != nil || limit <= 0 {
		c.reply(ctx, api, chatID, "add limit number to command")
		return
	}

	if err := c.prefs.SetLimit(ctx, chatID, limit); err != nil {
		c.logger.WithField("event", "prefs_write_error").WithError(err).Error("store limit")
		return
	}

	c.reply(ctx, api, chatID, fmt.Sprintf("Limit updated to %d.", limit))
}

func (c *Client) sendSessions(ctx context.Context, api sender, chatID int64, messageID int, edit, short bool) {
	token, userID, ok := c.requireAuth(ctx, api, chatID)
	if !ok {
		return
	}

	serverID, _ := c.prefs.SelectedStation(ctx, chatID)
	limit := c.prefs.Limit(ctx, chatID)

	var stationNames map[string]string
	if serverID != "" {
		stationNames = c.prefs.StationNames(ctx, chatID)
	}

	res := c.reports.SessionDigest(ctx, token, serverID, userID, limit, short, stationNames, c.titles.Snapshot())
	if res.CacheMiss && c.refreshTitles(ctx) {
		res = c.reports.SessionDigest(ctx, token, serverID, userID, limit, short, stationNames, c.titles.Snapshot())
	}

	if res.Status != http.StatusOK {
		c.reply(ctx, api, chatID, fmt.Sprintf("Error: %d", res.Status))
		return
	}

	callbackData := "update_sessions"
	if short {
		callbackData += "_short"
	}
	buttonText := fmt.Sprintf("Update %s (%s)", res.StationName, clock().Format("15:04:05"))

	c.sendDigest(ctx, api, chatID, messageID, edit, res.Text, buttonText, callbackData)
}

func (c *Client) sendCurrent(ctx context.Context, api sender, chatID int64, messageID int, edit bool) {
	token, userID, ok := c.requireAuth(ctx, api, chatID)
	if !ok {
		return
	}

	res := c.reports.CurrentDigest(ctx, token, userID, c.titles.Snapshot())
	if res.CacheMiss && c.refreshTitles(ctx) {
		res = c.reports.CurrentDigest(ctx, token, userID, c.titles.Snapshot())
	}

	c.persistStationNames(ctx, chatID, res.StationNames)
	c.finishDigest(ctx, api, chatID, messageID, edit, res, "update_current")
}

func (c *Client) sendDisabled(ctx context.Context, api sender, chatID int64, messageID int, edit bool) {
	token, userID, ok := c.requireAuth(ctx, api, chatID)
	if !ok {
		return
	}

	res := c.reports.DisabledProductsDigest(ctx, token, userID)
	c.finishDigest(ctx, api, chatID, messageID, edit, res, "update_disabled")
}

func (c *Client) sendStationsInfo(ctx context.Context, api sender, chatID int64, messageID int, edit bool) {
	token, userID, ok := c.requireAuth(ctx, api, chatID)
	if !ok {
		return
	}

	res := c.reports.StationsInfoDigest(ctx, token, userID)
	c.persistStationNames(ctx, chatID, res.StationNames)
	c.finishDigest(ctx, api, chatID, messageID, edit, res, "update_stationsinfo")
}

func (c *Client) handleDump(ctx context.Context, api sender, chatID int64, oneFile bool) {
	token, userID, ok := c.requireAuth(ctx, api, chatID)
	if !ok {
		return
	}

	res := c.reports.ExportSessions(ctx, token, userID, oneFile, c.titles.Snapshot())
	if res.Status != http.StatusOK {
		c.reply(ctx, api, chatID, fmt.Sprintf("Error: %d", res.Status))
		return
	}

	c.persistStationNames(ctx, chatID, res.StationNames)
	for _, att := range res.Attachments {
		c.sendDocument(ctx, api, chatID, att)
	}
}

func (c *Client) handleCrosstab(ctx context.Context, api sender, chatID int64, withTime bool, daysLimit int) {
	token, userID, ok := c.requireAuth(ctx, api, chatID)
	if !ok {
		return
	}

	res := c.reports.StationProductCrosstab(ctx, token, userID, withTime, daysLimit)
	if res.Status != http.StatusOK || res.Attachment == nil {
		c.reply(ctx, api, chatID, "Error")
		return
	}

	c.persistStationNames(ctx, chatID, res.StationNames)
	c.sendDocument(ctx, api, chatID, *res.Attachment)
}

// requireAuth resolves the chat's auth token and account id; an unauthenticated
// chat gets the setup prompt and (token, userID, false).
func (c *Client) requireAuth(ctx context.Context, api sender, chatID int64) (string, string, bool) {
	token, ok := c.prefs.AuthToken(ctx, chatID)
	if !ok || token == "" {
		c.reply(ctx, api, chatID, "setup me first")
		return "", "", false
	}

	return token, c.prefs.AccountID(ctx, chatID), true
}

// refreshTitles pulls the full product catalog after a digest hit an unknown
// product id. The refresh is silent; only /token and /updateProducts message
// the user about catalog changes.
func (c *Client) refreshTitles(ctx context.Context) bool {
	products, status := c.gateway.ProductsFull(ctx)
	if status != http.StatusOK {
		c.logger.WithFields(logging.Fields{
			"event":  "product_catalog_refresh_failed",
			"status": status,
		}).Warn("product catalog refresh failed")
		return false
	}

	titles := make(map[string]string, len(products))
	for _, p := range products {
		titles[p.ProductID] = p.Title
	}

	oldLen, newLen, err := c.titles.Replace(titles)
	if err != nil {
		c.logger.WithField("event", "titles_persist_error").WithError(err).Error("persist product catalog")
	}

	c.logger.WithFields(logging.Fields{
		"event":    "product_catalog_refreshed",
		"old_size": oldLen,
		"new_size": newLen,
	}).Info("product catalog refreshed")
	return true
}

func (c *Client) refreshStationNames(ctx context.Context, chatID int64, token, userID string) {
	servers, status := c.gateway.Servers(ctx, token, userID)
	if status != http.StatusOK {
		c.logger.WithFields(logging.Fields{
			"event":  "station_names_refresh_failed",
			"status": status,
		}).Warn("station names refresh failed")
		return
	}

	names := make(map[string]string, len(servers))
	for _, s := range servers {
		names[s.UUID] = s.Name
	}
	c.persistStationNames(ctx, chatID, names)
}

func (c *Client) persistStationNames(ctx context.Context, chatID int64, names map[string]string) {
	if len(names) == 0 {
		return
	}
	if err := c.prefs.SetStationNames(ctx, chatID, names); err != nil {
		c.logger.WithField("event", "prefs_write_error").WithError(err).Error("store station names")
	}
}

// finishDigest applies the shared tail of the server-wide digests: plain
// "Error" on failure, nothing on an empty render, otherwise the HTML text with
// a timestamped update button.
func (c *Client) finishDigest(ctx context.Context, api sender, chatID int64, messageID int, edit bool, res report.DigestResult, callbackData string) {
	if res.Status != http.StatusOK {
		c.reply(ctx, api, chatID, "Error")
		return
	}
	if res.Text == "" {
		return
	}

	buttonText := fmt.Sprintf("Update (%s)", clock().Format("15:04:05"))
	c.sendDigest(ctx, api, chatID, messageID, edit, res.Text, buttonText, callbackData)
}

func (c *Client) sendDigest(ctx context.Context, api sender, chatID int64, messageID int, edit bool, text, buttonText, callbackData string) {
	markup := &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{{
			{Text: buttonText, CallbackData: callbackData},
		}},
	}

	if edit {
		_, err := api.EditMessageText(ctx, &bot.EditMessageTextParams{
			ChatID:      chatID,
			MessageID:   messageID,
			Text:        text,
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: markup,
		})
		if err != nil {
			// Telegram rejects edits that change nothing; not worth surfacing.
			c.logger.WithField("event", "telegram_edit_error").WithError(err).Debug("edit digest message")
		}
		return
	}

	_, err := api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:      chatID,
		Text:        text,
		ParseMode:   models.ParseModeHTML,
		ReplyMarkup: markup,
	})
	if err != nil {
		c.logSendError(chatID, err)
	}
}

func (c *Client) sendDocument(ctx context.Context, api sender, chatID int64, att report.Attachment) {
	_, err := api.SendDocument(ctx, &bot.SendDocumentParams{
		ChatID: chatID,
		Document: &models.InputFileUpload{
			Filename: att.Filename,
			Data:     bytes.NewReader(att.Data),
		},
	})
	if err != nil {
		c.logger.WithFields(logging.Fields{
			"event":    "telegram_document_error",
			"chat_id":  chatID,
			"filename": att.Filename,
		}).WithError(err).Error("send document")
	}
}

func (c *Client) reply(ctx context.Context, api sender, chatID int64, text string) {
	if strings.TrimSpace(text) == "" {
		return
	}

	_, err := api.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   text,
	})
	if err != nil {
		c.logSendError(chatID, err)
	}
}

func (c *Client) answerCallback(ctx context.Context, api sender, queryID, text string) {
	_, err := api.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: queryID,
		Text:            text,
	})
	if err != nil {
		c.logger.WithField("event", "telegram_answer_error").WithError(err).Warn("answer callback query")
	}
}

func (c *Client) logSendError(chatID int64, err error) {
	c.logger.WithFields(logging.Fields{
		"event":   "telegram_send_error",
		"chat_id": chatID,
	}).WithError(err).Error("send message")
}
