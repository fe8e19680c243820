package chatclient

import (
	"bytes"
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/igoryan-dao/turnbridge/internal/format"
)

// DiscordClient implements Client over discordgo, grounded on the
// teacher's core/internal/discord.Bot — channels/threads, reactions,
// interactive buttons, and file uploads (spec §1's closest real-world
// match for "channels, threads, reactions, interactive components, file
// uploads").
type DiscordClient struct {
	session *discordgo.Session
	log     *logrus.Entry
}

// NewDiscordClient opens a discordgo session for token and wraps it.
func NewDiscordClient(token string, log *logrus.Entry) (*DiscordClient, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("chatclient: discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent
	return &DiscordClient{session: session, log: log}, nil
}

// Open connects the underlying discordgo session.
func (d *DiscordClient) Open() error { return d.session.Open() }

// Close disconnects the underlying discordgo session.
func (d *DiscordClient) Close() error { return d.session.Close() }

// Session exposes the underlying *discordgo.Session so cmd/turnbridge
// can register the raw message-create handler that feeds
// StreamingManager.StartStreaming.
func (d *DiscordClient) Session() *discordgo.Session { return d.session }

func targetChannel(channelID, threadTs string) string {
	if threadTs != "" {
		return threadTs
	}
	return channelID
}

func discordButtonStyle(style string) discordgo.ButtonStyle {
	switch style {
	case "primary":
		return discordgo.PrimaryButton
	case "danger":
		return discordgo.DangerButton
	default:
		return discordgo.SecondaryButton
	}
}

func discordComponents(components []Component) []discordgo.MessageComponent {
	if len(components) == 0 {
		return nil
	}
	row := make([]discordgo.MessageComponent, 0, len(components))
	for _, c := range components {
		row = append(row, discordgo.Button{
			Label:    c.Label,
			Style:    discordButtonStyle(c.Style),
			CustomID: EncodeActionValue(c.ActionID, c.Value),
		})
	}
	return []discordgo.MessageComponent{discordgo.ActionsRow{Components: row}}
}

func discordFiles(attachments []Attachment) []*discordgo.File {
	if len(attachments) == 0 {
		return nil
	}
	files := make([]*discordgo.File, 0, len(attachments))
	for _, a := range attachments {
		files = append(files, &discordgo.File{
			Name:        a.Filename,
			ContentType: a.ContentType,
			Reader:      bytes.NewReader(a.Data),
		})
	}
	return files
}

func (d *DiscordClient) PostMessage(ctx context.Context, channelID, threadTs string, msg Message) (Posted, error) {
	channel := targetChannel(channelID, threadTs)
	var sent *discordgo.Message
	err := withRetry(ctx, func() error {
		var sendErr error
		sent, sendErr = d.session.ChannelMessageSendComplex(channel, &discordgo.MessageSend{
			Content:    format.ToDiscordMarkdown(msg.Text),
			Components: discordComponents(msg.Components),
			Files:      discordFiles(msg.Attachments),
		})
		return sendErr
	})
	if err != nil {
		return Posted{}, fmt.Errorf("chatclient: discord post: %w", err)
	}
	return Posted{ChannelID: channelID, ThreadTs: threadTs, MessageTs: sent.ID}, nil
}

func (d *DiscordClient) EditMessage(ctx context.Context, posted Posted, msg Message) error {
	channel := targetChannel(posted.ChannelID, posted.ThreadTs)
	content := format.ToDiscordMarkdown(msg.Text)
	components := discordComponents(msg.Components)

	return withRetry(ctx, func() error {
		_, err := d.session.ChannelMessageEditComplex(&discordgo.MessageEdit{
			Channel:    channel,
			ID:         posted.MessageTs,
			Content:    &content,
			Components: &components,
		})
		return err
	})
}

func (d *DiscordClient) AddReaction(ctx context.Context, posted Posted, emoji string) error {
	channel := targetChannel(posted.ChannelID, posted.ThreadTs)
	err := withRetry(ctx, func() error {
		return d.session.MessageReactionAdd(channel, posted.MessageTs, emoji)
	})
	return ignoreAlreadyExists(err)
}

func (d *DiscordClient) RemoveReaction(ctx context.Context, posted Posted, emoji string) error {
	channel := targetChannel(posted.ChannelID, posted.ThreadTs)
	err := withRetry(ctx, func() error {
		return d.session.MessageReactionRemove(channel, posted.MessageTs, emoji, "@me")
	})
	return ignoreAlreadyExists(err)
}

// PollShareTs is a no-op success for Discord: ChannelMessageSendComplex
// already returns the message synchronously, unlike the async
// files.info-backed platforms this method exists for.
func (d *DiscordClient) PollShareTs(ctx context.Context, channelID, fileID string) (string, bool) {
	return fileID, true
}

func (d *DiscordClient) SendDirectMessage(ctx context.Context, userID string, msg Message) error {
	var channel *discordgo.Channel
	err := withRetry(ctx, func() error {
		var err error
		channel, err = d.session.UserChannelCreate(userID)
		return err
	})
	if err != nil {
		return fmt.Errorf("chatclient: discord DM channel: %w", err)
	}

	return withRetry(ctx, func() error {
		_, err := d.session.ChannelMessageSend(channel.ID, format.ToDiscordMarkdown(msg.Text))
		return err
	})
}

// Discord JSON error codes (documented on Discord's own API reference)
// that mean "the reaction/message is already gone" rather than a real
// failure.
const (
	discordErrUnknownMessage  = 10008
	discordErrUnknownEmoji    = 10014
	discordErrReactionBlocked = 90001
)

// ignoreAlreadyExists tolerates Discord's "reaction blocked"/"unknown
// emoji"/"unknown message" responses as success, per spec §4.7.
func ignoreAlreadyExists(err error) error {
	if err == nil {
		return nil
	}
	if restErr, ok := err.(*discordgo.RESTError); ok && restErr.Message != nil {
		switch restErr.Message.Code {
		case discordErrUnknownMessage, discordErrUnknownEmoji, discordErrReactionBlocked:
			return nil
		}
	}
	return err
}

