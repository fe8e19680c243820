package remotebridge

import (
	"io"
	"net"
	"time"

	"github.com/gorilla/websocket"
)

// websocketConn wraps a gorilla websocket connection as a net.Conn so it
// can carry a yamux session, adapted from the teacher's
// core/internal/bridge.WebSocketRWC.
type websocketConn struct {
	conn *websocket.Conn
	r    io.Reader
}

func newWebsocketConn(conn *websocket.Conn) *websocketConn {
	return &websocketConn{conn: conn}
}

func (w *websocketConn) Read(p []byte) (int, error) {
	for {
		if w.r == nil {
			_, r, err := w.conn.NextReader()
			if err != nil {
				return 0, err
			}
			w.r = r
		}
		n, err := w.r.Read(p)
		if err == io.EOF {
			w.r = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		return n, err
	}
}

func (w *websocketConn) Write(p []byte) (int, error) {
	if err := w.conn.WriteMessage(websocket.BinaryMessage, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *websocketConn) Close() error                       { return w.conn.Close() }
func (w *websocketConn) LocalAddr() net.Addr                { return w.conn.LocalAddr() }
func (w *websocketConn) RemoteAddr() net.Addr               { return w.conn.RemoteAddr() }
func (w *websocketConn) SetDeadline(t time.Time) error {
	if err := w.conn.SetReadDeadline(t); err != nil {
		return err
	}
	return w.conn.SetWriteDeadline(t)
}
func (w *websocketConn) SetReadDeadline(t time.Time) error  { return w.conn.SetReadDeadline(t) }
func (w *websocketConn) SetWriteDeadline(t time.Time) error { return w.conn.SetWriteDeadline(t) }
