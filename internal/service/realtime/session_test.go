package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-tavern/chatclient/internal/metrics"
	"github.com/zhouzirui/z-tavern/chatclient/internal/model/chat"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/auth"
)

// fakeBroker speaks just enough STOMP over websocket to exercise Session.
type fakeBroker struct {
	t        *testing.T
	srv      *httptest.Server
	upgrader websocket.Upgrader
	reject   string

	mu          sync.Mutex
	authHeaders []string
	subscribed  []string

	sends chan *frame.Frame
	conns chan *websocket.Conn
}

func newFakeBroker(t *testing.T) *fakeBroker {
	t.Helper()
	b := &fakeBroker{
		t:     t,
		sends: make(chan *frame.Frame, 16),
		conns: make(chan *websocket.Conn, 4),
	}
	b.srv = httptest.NewServer(http.HandlerFunc(b.handle))
	t.Cleanup(b.srv.Close)
	return b
}

func (b *fakeBroker) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http") + "/ws"
}

func (b *fakeBroker) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	connect, ok := b.read(conn)
	if !ok || connect.Command != frame.CONNECT {
		return
	}
	b.mu.Lock()
	b.authHeaders = append(b.authHeaders, connect.Header.Get(headerAuthorization))
	b.mu.Unlock()

	if b.reject != "" {
		b.write(conn, frame.New(frame.ERROR, headerMessage, b.reject))
		return
	}
	b.write(conn, frame.New(frame.CONNECTED, "version", "1.2"))

	for {
		f, ok := b.read(conn)
		if !ok {
			return
		}
		switch f.Command {
		case frame.SUBSCRIBE:
			b.mu.Lock()
			b.subscribed = append(b.subscribed, f.Header.Get(headerDestination))
			b.mu.Unlock()
			b.conns <- conn
		case frame.SEND:
			b.sends <- f
		case frame.DISCONNECT:
			return
		}
	}
}

func (b *fakeBroker) read(conn *websocket.Conn) (*frame.Frame, bool) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return nil, false
		}
		f, err := decodeFrame(data)
		if err != nil {
			return nil, false
		}
		if f != nil {
			return f, true
		}
	}
}

func (b *fakeBroker) write(conn *websocket.Conn, f *frame.Frame) {
	data, err := encodeFrame(f)
	require.NoError(b.t, err)
	_ = conn.WriteMessage(websocket.TextMessage, data)
}

func (b *fakeBroker) push(conn *websocket.Conn, body string) {
	msg := frame.New(frame.MESSAGE,
		headerDestination, DestinationInbound,
		"subscription", "sub-0",
		"message-id", "m-1",
		headerContentType, "application/json",
	)
	msg.Body = []byte(body)
	b.write(conn, msg)
}

func (b *fakeBroker) awaitConn(t *testing.T) *websocket.Conn {
	t.Helper()
	select {
	case conn := <-b.conns:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("broker saw no subscription")
		return nil
	}
}

func (b *fakeBroker) authSeen() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.authHeaders...)
}

func newTestSession(t *testing.T, url string, m *metrics.Metrics) *Session {
	t.Helper()
	s := NewSession(auth.NewTokenStore("tok"), Options{
		URL:              url,
		HandshakeTimeout: time.Second,
		PingInterval:     time.Hour,
		Metrics:          m,
	})
	t.Cleanup(s.Disconnect)
	return s
}

func receive(t *testing.T, ch <-chan chat.Message) chat.Message {
	t.Helper()
	select {
	case msg := <-ch:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
		return chat.Message{}
	}
}

func TestConnectAuthenticatesAndSubscribes(t *testing.T) {
	broker := newFakeBroker(t)
	session := newTestSession(t, broker.url(), nil)

	require.NoError(t, session.Connect(context.Background()))
	broker.awaitConn(t)

	assert.True(t, session.Connected())
	assert.Equal(t, []string{"Bearer tok"}, broker.authSeen())

	broker.mu.Lock()
	assert.Equal(t, []string{DestinationInbound}, broker.subscribed)
	broker.mu.Unlock()

	require.NoError(t, session.Connect(context.Background()))
	assert.Len(t, broker.authSeen(), 1, "second Connect must not redial")
}

func TestStreamDeliversMessagesAndSkipsMalformed(t *testing.T) {
	m := metrics.Discard()
	broker := newFakeBroker(t)
	session := newTestSession(t, broker.url(), m)

	inbound, cancel := session.Subscribe()
	defer cancel()

	require.NoError(t, session.Connect(context.Background()))
	conn := broker.awaitConn(t)

	broker.push(conn, `{oops`)
	_ = conn.WriteMessage(websocket.TextMessage, []byte("\n"))
	broker.push(conn, `{"id":999,"conversationId":3,"senderId":42,"content":"hi","createdAt":"2024-05-01T10:00:00Z"}`)

	msg := receive(t, inbound)
	require.NotNil(t, msg.ID)
	assert.Equal(t, int64(999), *msg.ID)
	assert.Equal(t, int64(42), msg.SenderID)
	assert.Equal(t, "hi", msg.Content)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesMalformed))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.FramesReceived))
}

func TestResubscribeRestartsStream(t *testing.T) {
	broker := newFakeBroker(t)
	session := newTestSession(t, broker.url(), nil)
	require.NoError(t, session.Connect(context.Background()))
	conn := broker.awaitConn(t)

	first, cancel := session.Subscribe()
	cancel()
	_, open := <-first
	assert.False(t, open, "cancelled subscription must be closed")

	ctx, stop := context.WithCancel(context.Background())
	defer stop()
	second := session.Stream(ctx)

	broker.push(conn, `{"id":1,"senderId":7,"content":"again","createdAt":"2024-05-01T10:00:00Z"}`)
	assert.Equal(t, "again", receive(t, second).Content)
}

func TestSendPublishesOnSendRoute(t *testing.T) {
	m := metrics.Discard()
	broker := newFakeBroker(t)
	session := newTestSession(t, broker.url(), m)
	require.NoError(t, session.Connect(context.Background()))
	broker.awaitConn(t)

	session.Send(42, "  hi  ")

	select {
	case f := <-broker.sends:
		assert.Equal(t, DestinationSend, f.Header.Get(headerDestination))
		var req chat.SendRequest
		require.NoError(t, json.Unmarshal(f.Body, &req))
		assert.Equal(t, chat.SendRequest{ToUserID: 42, Content: "hi"}, req)
	case <-time.After(2 * time.Second):
		t.Fatal("broker received no SEND frame")
	}
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SendsForwarded))
}

func TestSendWhileDisconnectedIsDropped(t *testing.T) {
	m := metrics.Discard()
	broker := newFakeBroker(t)
	session := newTestSession(t, broker.url(), m)

	assert.NotPanics(t, func() { session.Send(42, "hi") })
	assert.Equal(t, float64(1), testutil.ToFloat64(m.SendsDropped))
	assert.Equal(t, float64(0), testutil.ToFloat64(m.SendsForwarded))

	select {
	case <-broker.sends:
		t.Fatal("nothing must reach the broker")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestConnectRejectedByBroker(t *testing.T) {
	broker := newFakeBroker(t)
	broker.reject = "invalid token"
	session := newTestSession(t, broker.url(), nil)

	err := session.Connect(context.Background())
	require.ErrorIs(t, err, ErrRejected)
	assert.Contains(t, err.Error(), "invalid token")
	assert.False(t, session.Connected())
}

func TestConnectRequiresURL(t *testing.T) {
	session := newTestSession(t, "", nil)
	assert.ErrorIs(t, session.Connect(context.Background()), ErrURLRequired)
}

func TestDisconnectAndReconnect(t *testing.T) {
	broker := newFakeBroker(t)
	session := newTestSession(t, broker.url(), nil)

	inbound, cancel := session.Subscribe()
	defer cancel()

	require.NoError(t, session.Connect(context.Background()))
	broker.awaitConn(t)

	session.Disconnect()
	assert.False(t, session.Connected())

	require.NoError(t, session.Connect(context.Background()))
	conn := broker.awaitConn(t)
	assert.Len(t, broker.authSeen(), 2)

	broker.push(conn, `{"id":5,"senderId":7,"content":"back","createdAt":"2024-05-01T10:00:00Z"}`)
	assert.Equal(t, "back", receive(t, inbound).Content)
}

func TestBrokerCloseMarksDisconnected(t *testing.T) {
	broker := newFakeBroker(t)
	session := newTestSession(t, broker.url(), nil)
	require.NoError(t, session.Connect(context.Background()))
	conn := broker.awaitConn(t)

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, "bye"))
	_ = conn.Close()

	require.Eventually(t, func() bool { return !session.Connected() }, 2*time.Second, 5*time.Millisecond)
}

func TestHubUnsubscribeDuringPublish(t *testing.T) {
	h := newHub(0)
	_, cancel := h.subscribe()

	done := make(chan struct{})
	go func() {
		h.publish(chat.Message{Content: "x"})
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a cancelled subscriber")
	}
	assert.Equal(t, 0, h.size())
}
