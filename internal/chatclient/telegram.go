package chatclient

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	tgbot "github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/gofrs/flock"
	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/format"
)

// TelegramClient implements Client over go-telegram/bot, grounded on the
// teacher's core/internal/telegram.Bot: long-polling, HTML parse mode via
// internal/format, inline-keyboard buttons, and a per-token cross-process
// flock guard so only one turnbridge instance polls a given bot token at
// a time (spec's DOMAIN STACK note on gofrs/flock).
type TelegramClient struct {
	api     *tgbot.Bot
	token   string
	dataDir string
	log     *logrus.Entry
}

// NewTelegramClient constructs the bot client. onUpdate is installed as
// the default handler so cmd/turnbridge can route messages and callback
// queries into streaming.Manager / approval.Handler without this package
// depending on them.
func NewTelegramClient(token, dataDir string, onUpdate tgbot.HandlerFunc, log *logrus.Entry) (*TelegramClient, error) {
	opts := []tgbot.Option{tgbot.WithDefaultHandler(onUpdate)}
	api, err := tgbot.New(token, opts...)
	if err != nil {
		return nil, fmt.Errorf("chatclient: telegram bot: %w", err)
	}
	return &TelegramClient{api: api, token: token, dataDir: dataDir, log: log}, nil
}

// Bot exposes the underlying *bot.Bot for cmd/turnbridge's callback-query
// routing (AnswerCallbackQuery, SetMyCommands, etc. live outside Client).
func (t *TelegramClient) Bot() *tgbot.Bot { return t.api }

// lockPath mirrors the teacher's per-token lock file naming:
// <dataDir>/tg-bot-<hash>.lock, with dataDir as given to the client.
func (t *TelegramClient) lockPath() string {
	hash := sha256.Sum256([]byte(t.token))
	return filepath.Join(t.dataDir, fmt.Sprintf("tg-bot-%s.lock", hex.EncodeToString(hash[:8])))
}

// Start acquires the cross-process lock and long-polls until ctx is
// canceled, releasing the lock on return. Only one turnbridge process
// (across all instances sharing dataDir) will ever hold the lock for a
// given token.
func (t *TelegramClient) Start(ctx context.Context) error {
	path := t.lockPath()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("chatclient: telegram lock dir: %w", err)
	}

	fileLock := flock.New(path)
	locked, err := fileLock.TryLockContext(ctx, 500*time.Millisecond)
	if err != nil {
		return fmt.Errorf("chatclient: telegram lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("chatclient: telegram bot token already polling in another instance (lock %s)", path)
	}
	defer fileLock.Unlock()

	t.log.Info("chatclient: telegram long-polling started")
	t.api.Start(ctx)
	t.log.Info("chatclient: telegram long-polling stopped")
	return nil
}

func chatIDFromChannel(channelID string) (int64, error) {
	id, err := strconv.ParseInt(channelID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("chatclient: telegram channel id %q: %w", channelID, err)
	}
	return id, nil
}

func threadIDFromTs(threadTs string) int {
	if threadTs == "" {
		return 0
	}
	id, err := strconv.Atoi(threadTs)
	if err != nil {
		return 0
	}
	return id
}

func telegramKeyboard(components []Component) models.ReplyMarkup {
	if len(components) == 0 {
		return nil
	}
	row := make([]models.InlineKeyboardButton, 0, len(components))
	for _, c := range components {
		row = append(row, models.InlineKeyboardButton{Text: c.Label, CallbackData: EncodeActionValue(c.ActionID, c.Value)})
	}
	return &models.InlineKeyboardMarkup{InlineKeyboard: [][]models.InlineKeyboardButton{row}}
}

func (t *TelegramClient) PostMessage(ctx context.Context, channelID, threadTs string, msg Message) (Posted, error) {
	chatID, err := chatIDFromChannel(channelID)
	if err != nil {
		return Posted{}, err
	}
	threadID := threadIDFromTs(threadTs)

	if len(msg.Attachments) > 0 {
		return t.postAttachment(ctx, channelID, threadTs, chatID, threadID, msg)
	}

	var sent *models.Message
	err = withRetry(ctx, func() error {
		var sendErr error
		sent, sendErr = t.api.SendMessage(ctx, &tgbot.SendMessageParams{
			ChatID:          chatID,
			MessageThreadID: threadID,
			Text:            format.ToTelegramHTML(msg.Text),
			ParseMode:       models.ParseModeHTML,
			ReplyMarkup:     telegramKeyboard(msg.Components),
		})
		return sendErr
	})
	if err != nil {
		return Posted{}, fmt.Errorf("chatclient: telegram post: %w", err)
	}
	return Posted{ChannelID: channelID, ThreadTs: threadTs, MessageTs: strconv.Itoa(sent.ID)}, nil
}

func (t *TelegramClient) postAttachment(ctx context.Context, channelID, threadTs string, chatID int64, threadID int, msg Message) (Posted, error) {
	attachment := msg.Attachments[0]

	var sent *models.Message
	sendErr := withRetry(ctx, func() error {
		var err error
		sent, err = t.api.SendDocument(ctx, &tgbot.SendDocumentParams{
			ChatID:          chatID,
			MessageThreadID: threadID,
			Document:        &models.InputFileUpload{Filename: attachment.Filename, Data: bytes.NewReader(attachment.Data)},
			Caption:         format.ToTelegramHTML(msg.Text),
			ParseMode:       models.ParseModeHTML,
			ReplyMarkup:     telegramKeyboard(msg.Components),
		})
		return err
	})
	if sendErr != nil {
		return Posted{}, fmt.Errorf("chatclient: telegram post attachment: %w", sendErr)
	}
	return Posted{ChannelID: channelID, ThreadTs: threadTs, MessageTs: strconv.Itoa(sent.ID)}, nil
}

func (t *TelegramClient) EditMessage(ctx context.Context, posted Posted, msg Message) error {
	chatID, err := chatIDFromChannel(posted.ChannelID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(posted.MessageTs)
	if err != nil {
		return fmt.Errorf("chatclient: telegram message id %q: %w", posted.MessageTs, err)
	}

	return withRetry(ctx, func() error {
		_, err := t.api.EditMessageText(ctx, &tgbot.EditMessageTextParams{
			ChatID:      chatID,
			MessageID:   messageID,
			Text:        format.ToTelegramHTML(msg.Text),
			ParseMode:   models.ParseModeHTML,
			ReplyMarkup: telegramKeyboard(msg.Components),
		})
		return err
	})
}

func telegramReaction(emoji string) []models.ReactionType {
	if emoji == "" {
		return []models.ReactionType{}
	}
	return []models.ReactionType{{
		Type:              models.ReactionTypeTypeEmoji,
		ReactionTypeEmoji: &models.ReactionTypeEmoji{Type: models.ReactionTypeTypeEmoji, Emoji: emoji},
	}}
}

func (t *TelegramClient) AddReaction(ctx context.Context, posted Posted, emoji string) error {
	chatID, err := chatIDFromChannel(posted.ChannelID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(posted.MessageTs)
	if err != nil {
		return fmt.Errorf("chatclient: telegram message id %q: %w", posted.MessageTs, err)
	}

	return withRetry(ctx, func() error {
		_, err := t.api.SetMessageReaction(ctx, &tgbot.SetMessageReactionParams{
			ChatID:    chatID,
			MessageID: messageID,
			Reaction:  telegramReaction(emoji),
		})
		return err
	})
}

func (t *TelegramClient) RemoveReaction(ctx context.Context, posted Posted, _ string) error {
	chatID, err := chatIDFromChannel(posted.ChannelID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(posted.MessageTs)
	if err != nil {
		return fmt.Errorf("chatclient: telegram message id %q: %w", posted.MessageTs, err)
	}

	return withRetry(ctx, func() error {
		_, err := t.api.SetMessageReaction(ctx, &tgbot.SetMessageReactionParams{
			ChatID:    chatID,
			MessageID: messageID,
			Reaction:  []models.ReactionType{},
		})
		return err
	})
}

// PollShareTs is a no-op success for Telegram: SendDocument/SendPhoto
// already return the sent message synchronously.
func (t *TelegramClient) PollShareTs(ctx context.Context, channelID, fileID string) (string, bool) {
	return fileID, true
}

// SendDirectMessage sends to userID directly: in Telegram's private-chat
// model a user's chat ID is the user ID itself, so this is PostMessage
// without a thread.
func (t *TelegramClient) SendDirectMessage(ctx context.Context, userID string, msg Message) error {
	_, err := t.PostMessage(ctx, userID, "", msg)
	return err
}
