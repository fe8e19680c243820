package remotebridge

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLog() *logrus.Entry {
	l := logrus.New()
	l.SetLevel(logrus.ErrorLevel)
	return logrus.NewEntry(l)
}

func TestHandshakeAndEventRelayEndToEnd(t *testing.T) {
	hub := NewHub("s3cr3t", testLog())
	server := NewServer(hub, testLog())

	httpSrv := httptest.NewServer(server)
	defer httpSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	client := NewClient(wsURL, "session-1", "s3cr3t", testLog())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, client.Start(ctx))
	defer client.Close()

	require.Eventually(t, func() bool { return hub.SessionCount() == 1 }, 2*time.Second, 10*time.Millisecond)

	hub.Broadcast(&BridgeEvent{Kind: "activity:update", ConversationKey: "C1:T1"})

	select {
	case ev := <-client.Events():
		assert.Equal(t, "activity:update", ev.Kind)
		assert.Equal(t, "C1:T1", ev.ConversationKey)
	case <-time.After(2 * time.Second):
		t.Fatal("event was never relayed to the client")
	}
}

func TestHandshakeRejectsWrongSecret(t *testing.T) {
	hub := NewHub("s3cr3t", testLog())
	server := NewServer(hub, testLog())

	httpSrv := httptest.NewServer(server)
	defer httpSrv.Close()
	wsURL := "ws" + strings.TrimPrefix(httpSrv.URL, "http")

	client := NewClient(wsURL, "session-1", "wrong-secret", testLog())
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := client.Start(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handshake rejected")
}
