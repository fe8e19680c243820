// Package remotebridge is the optional remote-control channel (spec's
// Supplemented features): a turnbridge instance can be driven from a
// companion process over a websocket, the way the teacher's Cloud Bridge
// drives Telegram/Discord from outside the host process. Transport is
// gorilla/websocket carrying a hashicorp/yamux multiplexed session;
// the RPC layer is genuinely google.golang.org/grpc (HTTP/2 framing,
// flow control, streaming) using a JSON codec instead of protoc-generated
// messages (see codec.go for why).
package remotebridge

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server upgrades inbound HTTP connections to a yamux-multiplexed
// websocket and serves the BridgeService over it.
type Server struct {
	grpcServer *grpc.Server
	log        *logrus.Entry
}

// NewServer builds a Server with h registered as the BridgeService
// handler.
func NewServer(h Handler, log *logrus.Entry) *Server {
	gs := grpc.NewServer()
	RegisterBridgeServiceServer(gs, h)
	return &Server{grpcServer: gs, log: log}
}

// ServeHTTP upgrades the request to a websocket and serves gRPC over the
// resulting yamux session until the connection drops.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.WithError(err).Warn("remotebridge: websocket upgrade failed")
		return
	}

	session, err := yamux.Server(newWebsocketConn(conn), nil)
	if err != nil {
		s.log.WithError(err).Warn("remotebridge: yamux session failed")
		_ = conn.Close()
		return
	}

	s.log.Info("remotebridge: session established, serving gRPC")
	if err := s.grpcServer.Serve(session); err != nil {
		s.log.WithError(err).Debug("remotebridge: session ended")
	}
}
