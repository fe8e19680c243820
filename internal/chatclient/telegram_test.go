package chatclient

import (
	"context"
	"testing"

	"github.com/go-telegram/bot/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChatIDFromChannelParsesValidID(t *testing.T) {
	id, err := chatIDFromChannel("123456")
	require.NoError(t, err)
	assert.Equal(t, int64(123456), id)
}

func TestChatIDFromChannelRejectsNonNumeric(t *testing.T) {
	_, err := chatIDFromChannel("not-a-chat-id")
	assert.Error(t, err)
}

func TestThreadIDFromTsEmptyIsZero(t *testing.T) {
	assert.Equal(t, 0, threadIDFromTs(""))
}

func TestThreadIDFromTsParsesValidID(t *testing.T) {
	assert.Equal(t, 42, threadIDFromTs("42"))
}

func TestThreadIDFromTsInvalidFallsBackToZero(t *testing.T) {
	assert.Equal(t, 0, threadIDFromTs("not-a-thread"))
}

func TestTelegramKeyboardNilWhenNoComponents(t *testing.T) {
	assert.Nil(t, telegramKeyboard(nil))
}

func TestTelegramKeyboardEncodesActionIDAndValue(t *testing.T) {
	markup := telegramKeyboard([]Component{{Label: "Approve", ActionID: "approve", Value: "req-1"}})
	require.NotNil(t, markup)
	keyboard, ok := markup.(*models.InlineKeyboardMarkup)
	require.True(t, ok)
	require.Len(t, keyboard.InlineKeyboard, 1)
	require.Len(t, keyboard.InlineKeyboard[0], 1)
	assert.Equal(t, "Approve", keyboard.InlineKeyboard[0][0].Text)
	assert.Equal(t, "approve:req-1", keyboard.InlineKeyboard[0][0].CallbackData)
}

func TestTelegramReactionEmptyEmojiClearsReaction(t *testing.T) {
	assert.Empty(t, telegramReaction(""))
}

func TestTelegramReactionEncodesEmoji(t *testing.T) {
	reactions := telegramReaction("👍")
	require.Len(t, reactions, 1)
	require.NotNil(t, reactions[0].ReactionTypeEmoji)
	assert.Equal(t, "👍", reactions[0].ReactionTypeEmoji.Emoji)
}

func TestPollShareTsIsAlwaysImmediatelyReadyForTelegram(t *testing.T) {
	client := &TelegramClient{}
	ts, ok := client.PollShareTs(context.Background(), "C1", "file-1")
	assert.True(t, ok)
	assert.Equal(t, "file-1", ts)
}
