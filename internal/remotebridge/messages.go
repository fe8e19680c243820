package remotebridge

import "google.golang.org/protobuf/types/known/timestamppb"

// HandshakeRequest/HandshakeResponse/BridgeEvent/Empty mirror the shape
// of the teacher's core/internal/bridge/proto.BridgeService messages,
// carried as plain JSON-codec structs (see codec.go) instead of
// protoc-generated types.

type HandshakeRequest struct {
	SessionID string `json:"sessionId"`
	Version   string `json:"version"`
	Secret    string `json:"secret"`
}

type HandshakeResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// BridgeEvent is one event relayed between turnbridge and a connected
// remote controller — an activity update, an approval prompt, or a
// turn-lifecycle notice. Timestamp uses the real protobuf well-known
// type (already shipped compiled in google.golang.org/protobuf, so no
// protoc step is needed to use it) rather than a bespoke time struct.
type BridgeEvent struct {
	Kind            string                 `json:"kind"`
	ConversationKey string                 `json:"conversationKey"`
	Payload         map[string]interface{} `json:"payload"`
	Timestamp       *timestamppb.Timestamp `json:"timestamp"`
}

type Empty struct{}
