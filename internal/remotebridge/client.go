package remotebridge

import (
	"context"
	"fmt"
	"net"
	"net/url"

	"github.com/gorilla/websocket"
	"github.com/hashicorp/yamux"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Client dials a remote-bridge Server and relays its BridgeEvent stream,
// adapted from the teacher's core/internal/bridge.Client but trimmed to
// the handshake + event-stream pair remotebridge actually needs.
type Client struct {
	url       string
	sessionID string
	secret    string
	log       *logrus.Entry

	session *yamux.Session
	conn    *grpc.ClientConn

	events chan *BridgeEvent
}

// NewClient builds a Client for the given websocket URL.
func NewClient(wsURL, sessionID, secret string, log *logrus.Entry) *Client {
	return &Client{
		url:       wsURL,
		sessionID: sessionID,
		secret:    secret,
		log:       log,
		events:    make(chan *BridgeEvent, 100),
	}
}

// Start dials the server, performs the handshake, and begins relaying
// the event stream into Events().
func (c *Client) Start(ctx context.Context) error {
	u, err := url.Parse(c.url)
	if err != nil {
		return fmt.Errorf("remotebridge: parse url: %w", err)
	}

	c.log.WithField("url", u.String()).Info("remotebridge: connecting")
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("remotebridge: websocket dial: %w", err)
	}

	session, err := yamux.Client(newWebsocketConn(conn), nil)
	if err != nil {
		return fmt.Errorf("remotebridge: yamux client: %w", err)
	}
	c.session = session

	grpcConn, err := grpc.NewClient("passthrough:///remotebridge",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return session.Open()
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(codecName)),
	)
	if err != nil {
		return fmt.Errorf("remotebridge: grpc dial: %w", err)
	}
	c.conn = grpcConn

	resp := new(HandshakeResponse)
	if err := c.conn.Invoke(ctx, "/remotebridge.BridgeService/Handshake", &HandshakeRequest{
		SessionID: c.sessionID,
		Version:   "1.0.0",
		Secret:    c.secret,
	}, resp); err != nil {
		return fmt.Errorf("remotebridge: handshake: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("remotebridge: handshake rejected: %s", resp.Message)
	}

	stream, err := c.conn.NewStream(ctx, &grpc.StreamDesc{StreamName: "StreamEvents", ServerStreams: true},
		"/remotebridge.BridgeService/StreamEvents", grpc.CallContentSubtype(codecName))
	if err != nil {
		return fmt.Errorf("remotebridge: stream events: %w", err)
	}
	if err := stream.SendMsg(&Empty{}); err != nil {
		return fmt.Errorf("remotebridge: stream events request: %w", err)
	}
	if err := stream.CloseSend(); err != nil {
		return fmt.Errorf("remotebridge: stream events close send: %w", err)
	}

	go c.recvLoop(stream)
	return nil
}

func (c *Client) recvLoop(stream grpc.ClientStream) {
	for {
		ev := new(BridgeEvent)
		if err := stream.RecvMsg(ev); err != nil {
			c.log.WithError(err).Debug("remotebridge: event stream closed")
			close(c.events)
			return
		}
		c.events <- ev
	}
}

// Events returns the channel of events relayed from the server.
func (c *Client) Events() <-chan *BridgeEvent {
	return c.events
}

// Close tears down the gRPC connection and the underlying yamux session.
func (c *Client) Close() error {
	if c.conn != nil {
		_ = c.conn.Close()
	}
	if c.session != nil {
		return c.session.Close()
	}
	return nil
}
