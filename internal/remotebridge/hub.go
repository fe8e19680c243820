package remotebridge

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Hub is the server-side Handler: it authenticates a connecting remote
// controller against a shared secret and fans out Broadcast events to
// every currently-streaming session, the turnbridge analogue of the
// teacher's Cloud Bridge server relaying events to a connected Ricochet
// Cloud session.
type Hub struct {
	secret string
	log    *logrus.Entry

	mu       sync.Mutex
	sessions map[string]chan *BridgeEvent
}

// NewHub builds a Hub that requires the given shared secret on handshake.
func NewHub(secret string, log *logrus.Entry) *Hub {
	return &Hub{secret: secret, log: log, sessions: make(map[string]chan *BridgeEvent)}
}

func (h *Hub) Handshake(ctx context.Context, req *HandshakeRequest) (*HandshakeResponse, error) {
	if h.secret != "" && req.Secret != h.secret {
		return &HandshakeResponse{Success: false, Message: "invalid bridge secret"}, nil
	}
	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = uuid.New().String()
	}
	h.log.WithField("session_id", sessionID).Info("remotebridge: handshake accepted")
	return &HandshakeResponse{Success: true, Message: "ok"}, nil
}

// StreamEvents registers a new outbound queue for the lifetime of the
// stream and relays everything Broadcast sends until the client
// disconnects or the context is cancelled.
func (h *Hub) StreamEvents(_ *Empty, stream EventStream) error {
	sessionID := uuid.New().String()
	ch := make(chan *BridgeEvent, 64)

	h.mu.Lock()
	h.sessions[sessionID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.sessions, sessionID)
		h.mu.Unlock()
	}()

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case ev := <-ch:
			if err := stream.Send(ev); err != nil {
				return fmt.Errorf("remotebridge: send event: %w", err)
			}
		}
	}
}

// Broadcast fans ev out to every connected remote session's queue,
// dropping it for a session whose queue is full rather than blocking the
// caller (a slow remote controller must not stall turnbridge itself).
func (h *Hub) Broadcast(ev *BridgeEvent) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for sessionID, ch := range h.sessions {
		select {
		case ch <- ev:
		default:
			h.log.WithField("session_id", sessionID).Warn("remotebridge: dropped event, session queue full")
		}
	}
}

// SessionCount reports how many remote controllers are currently
// streaming events.
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}
