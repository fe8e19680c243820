package format

import "strings"

// EscapePreview escapes the chat-markdown special characters spec §4.4
// calls out for text embedded inside activity-entry previews (backtick,
// asterisk, underscore, tilde, angle brackets) — a narrower, line-level
// cousin of ToTelegramHTML/EscapeHTML in markdown.go, which operate on whole
// messages bound for a specific platform's renderer.
func EscapePreview(s string) string {
	r := strings.NewReplacer(
		"`", "\\`",
		"*", "\\*",
		"_", "\\_",
		"~", "\\~",
		"<", "\\<",
		">", "\\>",
	)
	return r.Replace(s)
}

// TruncatePreview returns the first n runes of s followed by an ellipsis
// if s is longer, used for the "→ `<escaped first 50 chars>…`" tool
// input preview (spec §4.4).
func TruncatePreview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}

// CloseUnterminatedFences appends closing backticks to any code fence left
// open by truncation, so a truncated representation never leaves the chat
// renderer in "still inside a code block" state (spec §4.4).
func CloseUnterminatedFences(s string) string {
	count := strings.Count(s, "```")
	if count%2 == 1 {
		return s + "\n```"
	}
	return s
}

// toolEmoji maps known tool names to a display glyph; unrecognised tools
// fall back to a generic gear (spec §4.4).
var toolEmoji = map[string]string{
	"read":      "📖",
	"write":     "✏️",
	"edit":      "✏️",
	"grep":      "🔍",
	"glob":      "🔍",
	"bash":      "💻",
	"websearch": "🌐",
	"fetch":     "🌐",
	"task":      "🧩",
}

// ToolEmoji returns the display glyph for a tool name (case-insensitive),
// or a generic gear for anything not in the table.
func ToolEmoji(tool string) string {
	if e, ok := toolEmoji[strings.ToLower(tool)]; ok {
		return e
	}
	return "⚙️"
}

// excludedItemTypes are activity item types that never produce an
// ActivityEntry (spec §4.4's "Item-type filter"); matching is
// case-insensitive with separators ignored, using NormalizeTypeToken
// below.
var excludedItemTypes = map[string]bool{
	"usermessage":  true,
	"agentmessage": true,
	"reasoning":    true,
}

// IsExcludedItemType reports whether itemType should be dropped from the
// activity stream. Unknown types are kept (safe default, spec §4.4).
func IsExcludedItemType(itemType string) bool {
	return excludedItemTypes[NormalizeTypeToken(itemType)]
}

// NormalizeTypeToken lowercases itemType and strips separators (-, _,
// space), matching the normalisation used throughout the item-type
// vocabulary (spec §4.2, §4.4).
func NormalizeTypeToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if r == '-' || r == '_' || r == ' ' {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
