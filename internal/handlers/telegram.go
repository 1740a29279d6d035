package handlers

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cf-ai-aether-go/internal/config"
	"github.com/cf-ai-aether-go/internal/gate"
	"github.com/cf-ai-aether-go/internal/i18n"
	"github.com/cf-ai-aether-go/internal/models"
	"github.com/cf-ai-aether-go/internal/services/cache"
	"github.com/cf-ai-aether-go/internal/services/chat"
	"github.com/cf-ai-aether-go/pkg/markdown"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"
)

const (
	// Active conversations are forgotten after a day of silence
	activeConversationTTL  = 24 * time.Hour
	maxActiveConversations = 10000

	// Telegram rejects longer messages
	maxTelegramText = 4096
)

// Sender is the part of the bot API the handler needs
type Sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// UpdateRecorder records received updates
type UpdateRecorder interface {
	RecordMessageReceived(chatType string)
}

// TelegramHandler answers Telegram messages through the chat service. Each
// Telegram account maps to a user with open id "telegram:<id>" and each
// chat keeps one active conversation per user until /new.
type TelegramHandler struct {
	bot          Sender
	self         tgbotapi.User
	mentionWords []string
	chat         *chat.Service
	gate         *gate.Gate
	localizer    *i18n.Localizer
	metrics      UpdateRecorder
	active       *cache.Expiring[int64]
	logger       *logrus.Logger
}

// NewTelegramHandler creates a new Telegram handler. metrics may be nil.
func NewTelegramHandler(
	bot Sender,
	self tgbotapi.User,
	cfg *config.TelegramConfig,
	chatService *chat.Service,
	g *gate.Gate,
	localizer *i18n.Localizer,
	metrics UpdateRecorder,
	logger *logrus.Logger,
) *TelegramHandler {
	mentionWords := make([]string, 0, len(cfg.MentionWords))
	for _, word := range cfg.MentionWords {
		if word = strings.ToLower(strings.TrimSpace(word)); word != "" {
			mentionWords = append(mentionWords, word)
		}
	}

	return &TelegramHandler{
		bot:          bot,
		self:         self,
		mentionWords: mentionWords,
		chat:         chatService,
		gate:         g,
		localizer:    localizer,
		metrics:      metrics,
		active:       cache.NewExpiring[int64](maxActiveConversations, activeConversationTTL),
		logger:       logger,
	}
}

// TelegramOpenID is the open id of a Telegram account
func TelegramOpenID(userID int64) string {
	return fmt.Sprintf("telegram:%d", userID)
}

// Run long-polls for updates until ctx is done
func (h *TelegramHandler) Run(ctx context.Context, bot *tgbotapi.BotAPI, timeout int) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = timeout
	updates := bot.GetUpdatesChan(u)
	h.logger.WithField("username", bot.Self.UserName).Info("Using long polling")

	for {
		select {
		case <-ctx.Done():
			bot.StopReceivingUpdates()
			return
		case update, ok := <-updates:
			if !ok {
				return
			}
			go func(update tgbotapi.Update) {
				if err := h.HandleUpdate(ctx, &update); err != nil {
					h.logger.WithError(err).Error("Failed to handle update")
				}
			}(update)
		}
	}
}

// HandleUpdate processes one update
func (h *TelegramHandler) HandleUpdate(ctx context.Context, update *tgbotapi.Update) error {
	msg := update.Message
	if msg == nil || msg.From == nil || msg.From.ID == h.self.ID {
		return nil
	}

	if h.metrics != nil {
		chatType := "private"
		if msg.Chat.IsGroup() || msg.Chat.IsSuperGroup() {
			chatType = "group"
		}
		h.metrics.RecordMessageReceived(chatType)
	}

	if !msg.IsCommand() && !h.shouldRespond(msg) {
		return nil
	}

	lang := h.localizer.Match(msg.From.LanguageCode)
	user, err := h.resolveUser(ctx, msg.From)
	if err != nil {
		h.reply(msg, h.errorText(lang, err))
		return err
	}

	if msg.IsCommand() {
		return h.handleCommand(ctx, msg, user, lang)
	}
	return h.handleText(ctx, msg, user, lang)
}

// shouldRespond reports whether a non-command message is addressed to the
// bot. Private chats always are; groups need a mention, a mention word or
// a reply.
func (h *TelegramHandler) shouldRespond(msg *tgbotapi.Message) bool {
	if msg.Chat.IsPrivate() {
		return true
	}

	text := strings.ToLower(msg.Text)
	if h.self.UserName != "" && strings.Contains(text, "@"+strings.ToLower(h.self.UserName)) {
		return true
	}
	for _, word := range h.mentionWords {
		if strings.Contains(text, word) {
			h.logger.WithField("mention", word).Debug("Responding: mention word match")
			return true
		}
	}
	return msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil && msg.ReplyToMessage.From.ID == h.self.ID
}

// resolveUser finds the user for a Telegram account, registering it on
// first contact
func (h *TelegramHandler) resolveUser(ctx context.Context, from *tgbotapi.User) (*models.User, error) {
	openID := TelegramOpenID(from.ID)

	// Auth attempts are counted per Telegram account
	user, err := h.gate.Authenticate(ctx, openID, openID)
	if err == nil {
		return user, nil
	}
	if !errors.Is(err, gate.ErrUnauthenticated) {
		return nil, err
	}

	name := strings.TrimSpace(from.FirstName + " " + from.LastName)
	if name == "" {
		name = from.UserName
	}
	h.logger.WithField("open_id", openID).Info("Registering Telegram user")
	return h.chat.RegisterUser(ctx, openID, name, "")
}

func (h *TelegramHandler) handleCommand(ctx context.Context, msg *tgbotapi.Message, user *models.User, lang string) error {
	switch msg.Command() {
	case "start":
		h.reply(msg, h.localizer.Get(lang, i18n.MsgWelcome, map[string]interface{}{"Name": user.Name}))
	case "help":
		h.reply(msg, h.localizer.Get(lang, i18n.MsgHelp, nil))
	case "new":
		if _, err := h.startConversation(ctx, msg.Chat.ID, user.ID, lang); err != nil {
			h.reply(msg, h.errorText(lang, err))
			return err
		}
		h.reply(msg, h.localizer.Get(lang, i18n.MsgConversationStarted, nil))
	default:
		h.reply(msg, h.localizer.Get(lang, i18n.MsgUnknownCommand, nil))
	}
	return nil
}

func (h *TelegramHandler) handleText(ctx context.Context, msg *tgbotapi.Message, user *models.User, lang string) error {
	text := h.cleanMessage(msg.Text)
	if text == "" {
		return nil
	}

	conversationID, err := h.conversationFor(ctx, msg.Chat.ID, user.ID, lang)
	if err != nil {
		h.reply(msg, h.errorText(lang, err))
		return err
	}

	thinking := tgbotapi.NewMessage(msg.Chat.ID, h.localizer.Get(lang, i18n.MsgProcessing, nil))
	thinking.ReplyToMessageID = msg.MessageID
	sent, err := h.bot.Send(thinking)
	if err != nil {
		return fmt.Errorf("failed to send thinking message: %w", err)
	}

	result, err := h.chat.SendMessage(ctx, user, conversationID, text)
	if errors.Is(err, chat.ErrConversationNotFound) {
		// Deleted elsewhere; the next message starts a new one
		h.active.Delete(activeKey(msg.Chat.ID, user.ID))
	}
	if err != nil {
		h.logger.WithError(err).WithFields(logrus.Fields{
			"chat_id": msg.Chat.ID,
			"user_id": user.ID,
		}).Warn("Failed to answer message")
		h.edit(msg.Chat.ID, sent.MessageID, h.errorText(lang, err), "")
		return nil
	}

	h.sendResponse(msg.Chat.ID, sent.MessageID, result.Response, lang)
	return nil
}

func activeKey(chatID, userID int64) string {
	return fmt.Sprintf("%d:%d", chatID, userID)
}

// conversationFor returns the active conversation of the user in chatID,
// starting one when there is none
func (h *TelegramHandler) conversationFor(ctx context.Context, chatID, userID int64, lang string) (int64, error) {
	if id, ok := h.active.Get(activeKey(chatID, userID)); ok {
		return id, nil
	}
	return h.startConversation(ctx, chatID, userID, lang)
}

func (h *TelegramHandler) startConversation(ctx context.Context, chatID, userID int64, lang string) (int64, error) {
	conv, err := h.chat.CreateConversation(ctx, userID, h.localizer.Get(lang, i18n.MsgNewConversation, nil), "")
	if err != nil {
		return 0, err
	}
	h.active.Set(activeKey(chatID, userID), conv.ID)
	return conv.ID, nil
}

func (h *TelegramHandler) cleanMessage(text string) string {
	if h.self.UserName != "" {
		text = strings.ReplaceAll(text, "@"+h.self.UserName, "")
	}
	return strings.TrimSpace(text)
}

// renderTelegram formats a structured answer as Telegram HTML
func renderTelegram(resp *models.StructuredResponse, titles markdown.Titles) (html, plain string) {
	plain = markdown.RenderResponse(resp, titles, 3)
	return markdown.ToTelegramHTML(plain), plain
}

func (h *TelegramHandler) sendResponse(chatID int64, messageID int, resp *models.StructuredResponse, lang string) {
	html, plain := renderTelegram(resp, h.localizer.SectionTitles(lang))

	if len([]rune(html)) > maxTelegramText {
		// Too long for one message; the answer itself is what matters
		h.edit(chatID, messageID, models.Preview(resp.Output, maxTelegramText-1), "")
		return
	}

	if err := h.edit(chatID, messageID, html, tgbotapi.ModeHTML); err != nil {
		h.logger.WithError(err).Warn("Failed to send HTML response, trying plain text")
		h.edit(chatID, messageID, models.Preview(plain, maxTelegramText-1), "")
	}
}

func (h *TelegramHandler) edit(chatID int64, messageID int, text, parseMode string) error {
	editMsg := tgbotapi.NewEditMessageText(chatID, messageID, text)
	editMsg.ParseMode = parseMode
	_, err := h.bot.Send(editMsg)
	if err != nil && parseMode == "" {
		h.logger.WithError(err).Error("Failed to send response")
	}
	return err
}

func (h *TelegramHandler) reply(msg *tgbotapi.Message, text string) {
	out := tgbotapi.NewMessage(msg.Chat.ID, text)
	out.ReplyToMessageID = msg.MessageID
	if _, err := h.bot.Send(out); err != nil {
		h.logger.WithError(err).Error("Failed to send message")
	}
}

// errorText maps domain errors to a localized message
func (h *TelegramHandler) errorText(lang string, err error) string {
	var rle *gate.RateLimitError
	switch {
	case errors.As(err, &rle):
		return h.localizer.Get(lang, i18n.MsgRateLimitExceeded, map[string]interface{}{"Seconds": retryAfter(rle)})
	case errors.Is(err, chat.ErrInvalidInput):
		return h.localizer.Get(lang, i18n.MsgInvalidInput, map[string]interface{}{"Reason": reason(err)})
	case errors.Is(err, chat.ErrConversationNotFound):
		return h.localizer.Get(lang, i18n.MsgConversationMissing, nil)
	case errors.Is(err, chat.ErrAIUnavailable):
		return h.localizer.Get(lang, i18n.MsgAIUnavailable, nil)
	default:
		return h.localizer.Get(lang, i18n.MsgError, nil)
	}
}
