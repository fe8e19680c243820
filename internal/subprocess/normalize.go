package subprocess

import "strconv"

// Field extraction follows the priority lists in spec §4.2: every field is
// looked up in BOTH camelCase and snake_case, at BOTH the top level of the
// notification and nested under "msg", in a fixed priority order.
// Everything downstream sees a populated Event; the decoded payload map
// also travels along unchanged as Event.Raw, and some consumers read
// fields from it directly.

// lookup returns the first non-empty string found by trying each fieldRef
// in order, reading msg-scoped refs from the nested "msg" object and the
// others from the top level. Because §4.2 interleaves top-level and msg-nested keys in a single
// priority list (e.g. "msg.call_id ∨ itemId ∨ item_id ∨ id"), callers pass
// the keys in that exact order and mark which ones are msg-scoped.
type fieldRef struct {
	key       string
	fromMsg   bool
}

func lookup(payload map[string]interface{}, refs []fieldRef) string {
	for _, r := range refs {
		src := payload
		if r.fromMsg {
			src = msgOf(payload)
		}
		if src == nil {
			continue
		}
		if s, ok := stringAt(src, r.key); ok && s != "" {
			return s
		}
	}
	return ""
}

func msgOf(payload map[string]interface{}) map[string]interface{} {
	if payload == nil {
		return nil
	}
	v, ok := payload["msg"]
	if !ok {
		return nil
	}
	m, _ := v.(map[string]interface{})
	return m
}

func stringAt(m map[string]interface{}, key string) (string, bool) {
	v, ok := m[key]
	if !ok || v == nil {
		return "", false
	}
	switch t := v.(type) {
	case string:
		return t, true
	case float64:
		return formatFloatID(t), true
	}
	return "", false
}

func formatFloatID(f float64) string {
	if f == float64(int64(f)) {
		return strconv.FormatInt(int64(f), 10)
	}
	return ""
}

// itemID implements: msg.call_id ∨ itemId ∨ item_id ∨ id
func itemID(payload map[string]interface{}) string {
	return lookup(payload, []fieldRef{
		{"call_id", true},
		{"itemId", false},
		{"item_id", false},
		{"id", false},
	})
}

// threadID implements: conversationId ∨ threadId ∨ thread_id ∨ msg.thread_id
func threadID(payload map[string]interface{}) string {
	return lookup(payload, []fieldRef{
		{"conversationId", false},
		{"threadId", false},
		{"thread_id", false},
		{"thread_id", true},
	})
}

// turnID implements: msg.turn_id ∨ turnId ∨ turn_id ∨ turn.id
func turnID(payload map[string]interface{}) string {
	if s := lookup(payload, []fieldRef{
		{"turn_id", true},
		{"turnId", false},
		{"turn_id", false},
	}); s != "" {
		return s
	}
	if t, ok := payload["turn"]; ok {
		if m, ok := t.(map[string]interface{}); ok {
			if s, ok := stringAt(m, "id"); ok {
				return s
			}
		}
	}
	return ""
}

// itemType implements: itemType ∨ item_type ∨ type ∨ toolName ∨ tool_name ∨ name ∨ "unknown"
func itemType(payload map[string]interface{}) string {
	s := lookup(payload, []fieldRef{
		{"itemType", false},
		{"item_type", false},
		{"type", false},
		{"toolName", false},
		{"tool_name", false},
		{"name", false},
	})
	if s == "" {
		return "unknown"
	}
	return s
}

// exitCode implements: msg.exit_code ∨ exitCode ∨ exit_code ∨ code
func exitCode(payload map[string]interface{}) (int, bool) {
	candidates := []fieldRef{
		{"exit_code", true},
		{"exitCode", false},
		{"exit_code", false},
		{"code", false},
	}
	for _, r := range candidates {
		src := payload
		if r.fromMsg {
			src = msgOf(payload)
		}
		if src == nil {
			continue
		}
		if v, ok := src[r.key]; ok && v != nil {
			if f, ok := v.(float64); ok {
				return int(f), true
			}
		}
	}
	return 0, false
}

// textDelta implements: delta ∨ content ∨ output ∨ msg.delta ∨ msg.content ∨ msg.output
func textDelta(payload map[string]interface{}) string {
	return lookup(payload, []fieldRef{
		{"delta", false},
		{"content", false},
		{"output", false},
		{"delta", true},
		{"content", true},
		{"output", true},
	})
}

func stringField(payload map[string]interface{}, key string) string {
	s, _ := stringAt(payload, key)
	return s
}

func intField(payload map[string]interface{}, key string) int {
	v, ok := payload[key]
	if !ok || v == nil {
		return 0
	}
	f, ok := v.(float64)
	if !ok {
		return 0
	}
	return int(f)
}

