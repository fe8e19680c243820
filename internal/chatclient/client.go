// Package chatclient models the ChatClient capability spec.md treats as an
// external collaborator (§1: "the chat platform client itself ... modelled
// abstractly as a ChatClient capability"). The interface is the contract
// the core depends on; DiscordClient and TelegramClient are the two
// concrete adapters, grounded on the teacher's core/internal/discord and
// core/internal/telegram bots respectively.
package chatclient

import "context"

// Attachment is a file to upload alongside (or instead of) message text —
// used for the long-content ".md"/".png" pair (spec §4.4).
type Attachment struct {
	Filename    string
	Data        []byte
	ContentType string
}

// Component is one interactive element (button, select) attached to a
// message. Action encodes what clicking it means, Value/ActionID carry
// the opaque payload the spec requires (conversation key, approval id,
// fork-to-channel metadata — never a raw turn index, spec §6).
type Component struct {
	Label    string
	ActionID string
	Value    string
	Style    string // "primary" | "danger" | "default"
}

// Message is the platform-agnostic content of one post or edit.
type Message struct {
	Text        string
	Attachments []Attachment
	Components  []Component
}

// Posted identifies a message once posted, for later edits/reactions.
type Posted struct {
	ChannelID string
	ThreadTs  string // empty if the platform has no thread concept (Telegram)
	MessageTs string
}

// EncodeActionValue joins a component's actionID/value into the single
// opaque string both Discord's CustomID and Telegram's CallbackData carry
// (spec §6: fork-to-channel's button value "encodes {turnId, slackTs,
// conversationKey} — never the turn index").
func EncodeActionValue(actionID, value string) string {
	return actionID + ":" + value
}

// DecodeActionValue splits an encoded action/value string back apart. If
// there is no separator the whole string is treated as the action with an
// empty value.
func DecodeActionValue(encoded string) (actionID, value string) {
	for i := 0; i < len(encoded); i++ {
		if encoded[i] == ':' {
			return encoded[:i], encoded[i+1:]
		}
	}
	return encoded, ""
}

// Client is the abstract capability the core depends on. Every method
// retries transient platform errors per spec §5 ("a shared retry helper
// backs off on 'ratelimited'/'timeout'/... up to 3 attempts") internally;
// a transient error that persists through all attempts is returned to the
// caller like any other failure.
type Client interface {
	// PostMessage posts a new reply under channel[/threadTs] and returns
	// its identity for later Edit/AddReaction calls.
	PostMessage(ctx context.Context, channelID, threadTs string, msg Message) (Posted, error)

	// EditMessage replaces a previously posted message's content in place.
	EditMessage(ctx context.Context, posted Posted, msg Message) error

	// AddReaction and RemoveReaction tolerate "already exists"/"doesn't
	// exist" responses from the platform as success (spec §4.7).
	AddReaction(ctx context.Context, posted Posted, emoji string) error
	RemoveReaction(ctx context.Context, posted Posted, emoji string) error

	// PollShareTs waits for an asynchronously-uploaded file's message ts
	// to become visible, per spec §4.4's files.info polling note. ok=false
	// after exhausting retries is not an error — callers log and continue.
	PollShareTs(ctx context.Context, channelID, fileID string) (ts string, ok bool)

	// SendDirectMessage notifies userID outside the conversation thread,
	// used by ApprovalHandler's DM-debounce guard (spec §4.5).
	SendDirectMessage(ctx context.Context, userID string, msg Message) error
}
