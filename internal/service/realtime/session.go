package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/z-tavern/chatclient/internal/logging"
	"github.com/zhouzirui/z-tavern/chatclient/internal/metrics"
	"github.com/zhouzirui/z-tavern/chatclient/internal/model/chat"
	"github.com/zhouzirui/z-tavern/chatclient/internal/service/auth"
)

var (
	ErrURLRequired     = errors.New("realtime url is required")
	ErrRejected        = errors.New("broker rejected connection")
	ErrUnexpectedFrame = errors.New("unexpected frame during handshake")
)

// Options 连接配置选项
type Options struct {
	URL              string
	HandshakeTimeout time.Duration
	ReadTimeout      time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	SubscriberBuffer int
	Logger           logrus.FieldLogger
	Metrics          *metrics.Metrics
}

func (o *Options) applyDefaults() {
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = 10 * time.Second
	}
	if o.ReadTimeout <= 0 {
		o.ReadTimeout = 60 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	if o.SubscriberBuffer <= 0 {
		o.SubscriberBuffer = 64
	}
	if o.Metrics == nil {
		o.Metrics = metrics.Discard()
	}
}

// Session owns the single authenticated broker connection of the process.
// It is safe for concurrent use.
type Session struct {
	opts    Options
	tokens  auth.TokenSource
	dialer  *websocket.Dialer
	hub     *hub
	log     *logrus.Entry
	metrics *metrics.Metrics

	connectMu sync.Mutex

	mu   sync.Mutex
	conn *connection
}

type connection struct {
	ws             *websocket.Conn
	subscriptionID string
	writeTimeout   time.Duration
	writeMu        sync.Mutex
	done           chan struct{}
	closeOnce      sync.Once
}

func (c *connection) writeFrame(f *frame.Frame) error {
	data, err := encodeFrame(f)
	if err != nil {
		return fmt.Errorf("encode %s frame: %w", f.Command, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(websocket.TextMessage, data)
}

func (c *connection) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

// NewSession creates a disconnected session. tokens is read once per Connect.
func NewSession(tokens auth.TokenSource, opts Options) *Session {
	opts.applyDefaults()
	return &Session{
		opts:    opts,
		tokens:  tokens,
		dialer:  &websocket.Dialer{HandshakeTimeout: opts.HandshakeTimeout},
		hub:     newHub(opts.SubscriberBuffer),
		log:     logging.Component(opts.Logger, "realtime"),
		metrics: opts.Metrics,
	}
}

// Connected reports whether the broker connection is up.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn != nil
}

// Connect dials the broker, authenticates with the bearer token and
// subscribes to the private inbound queue. It is a no-op when already
// connected. A failed or dropped connection is not retried here.
func (s *Session) Connect(ctx context.Context) error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()

	if s.Connected() {
		return nil
	}
	if strings.TrimSpace(s.opts.URL) == "" {
		return ErrURLRequired
	}

	token := ""
	if s.tokens != nil {
		token = s.tokens.AccessToken()
	}

	ws, _, err := s.dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}

	conn := &connection{
		ws:             ws,
		subscriptionID: "sub-" + uuid.NewString(),
		writeTimeout:   s.opts.WriteTimeout,
		done:           make(chan struct{}),
	}

	if err := s.handshake(ctx, conn, token); err != nil {
		conn.close()
		return err
	}

	_ = ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
	})

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	s.metrics.RealtimeConnected.Set(1)

	go s.readLoop(conn)
	go s.pingLoop(conn)

	s.log.WithFields(logrus.Fields{
		"url":          s.opts.URL,
		"subscription": conn.subscriptionID,
		"destination":  DestinationInbound,
	}).Info("realtime session connected")
	return nil
}

func (s *Session) handshake(ctx context.Context, conn *connection, token string) error {
	host := ""
	if u, err := url.Parse(s.opts.URL); err == nil {
		host = u.Hostname()
	}

	connectFrame := frame.New(frame.CONNECT,
		headerAcceptVersion, "1.2,1.1",
		headerHost, host,
		headerHeartBeat, "0,0",
	)
	if header := auth.BearerHeader(token); header != "" {
		connectFrame.Header.Add(headerAuthorization, header)
	}
	if err := conn.writeFrame(connectFrame); err != nil {
		return fmt.Errorf("send CONNECT: %w", err)
	}

	deadline := time.Now().Add(s.opts.HandshakeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.ws.SetReadDeadline(deadline)

	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			return fmt.Errorf("await CONNECTED: %w", err)
		}
		reply, err := decodeFrame(data)
		if err != nil {
			return fmt.Errorf("await CONNECTED: %w", err)
		}
		if reply == nil {
			continue
		}

		switch reply.Command {
		case frame.CONNECTED:
		case frame.ERROR:
			return fmt.Errorf("%w: %s", ErrRejected, reply.Header.Get(headerMessage))
		default:
			return fmt.Errorf("%w: %s", ErrUnexpectedFrame, reply.Command)
		}
		break
	}

	subscribe := frame.New(frame.SUBSCRIBE,
		headerID, conn.subscriptionID,
		headerDestination, DestinationInbound,
		headerAck, "auto",
	)
	if err := conn.writeFrame(subscribe); err != nil {
		return fmt.Errorf("send SUBSCRIBE: %w", err)
	}
	return nil
}

// Subscribe attaches a new reader to the inbound stream. The channel lives
// across reconnects and is closed by the returned cancel func.
func (s *Session) Subscribe() (<-chan chat.Message, func()) {
	return s.hub.subscribe()
}

// Stream is Subscribe bound to ctx: the channel closes when ctx is done.
func (s *Session) Stream(ctx context.Context) <-chan chat.Message {
	ch, cancel := s.hub.subscribe()
	go func() {
		<-ctx.Done()
		cancel()
	}()
	return ch
}

// Send publishes {toUserId, content} on the send route without waiting for
// any acknowledgement. While disconnected the message is silently dropped.
func (s *Session) Send(toUserID int64, content string) {
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()

	fields := logrus.Fields{"to": toUserID}
	if conn == nil {
		s.metrics.SendsDropped.Inc()
		s.log.WithFields(fields).Debug("send dropped, session disconnected")
		return
	}

	body, err := json.Marshal(chat.SendRequest{ToUserID: toUserID, Content: strings.TrimSpace(content)})
	if err != nil {
		s.metrics.SendsDropped.Inc()
		s.log.WithFields(fields).WithError(err).Warn("send dropped, payload encoding failed")
		return
	}

	sendFrame := frame.New(frame.SEND,
		headerDestination, DestinationSend,
		headerContentType, "application/json",
		headerContentLength, strconv.Itoa(len(body)),
	)
	sendFrame.Body = body

	if err := conn.writeFrame(sendFrame); err != nil {
		s.metrics.SendsDropped.Inc()
		s.log.WithFields(fields).WithError(err).Warn("send dropped, write failed")
		s.drop(conn, err)
		return
	}
	s.metrics.SendsForwarded.Inc()
}

// Disconnect closes the broker connection. Subscribers stay attached and
// resume receiving after the next Connect.
func (s *Session) Disconnect() {
	s.mu.Lock()
	conn := s.conn
	s.conn = nil
	s.mu.Unlock()

	if conn == nil {
		return
	}
	_ = conn.writeFrame(frame.New(frame.DISCONNECT))
	conn.close()
	s.metrics.RealtimeConnected.Set(0)
	s.log.Info("realtime session disconnected")
}

func (s *Session) readLoop(conn *connection) {
	for {
		_, data, err := conn.ws.ReadMessage()
		if err != nil {
			s.drop(conn, err)
			return
		}
		_ = conn.ws.SetReadDeadline(time.Now().Add(s.opts.ReadTimeout))
		s.handleFrame(data)
	}
}

func (s *Session) handleFrame(data []byte) {
	f, err := decodeFrame(data)
	if err != nil {
		s.metrics.FramesMalformed.Inc()
		s.log.WithError(err).Debug("discarding unparsable frame")
		return
	}
	if f == nil {
		return
	}

	switch f.Command {
	case frame.MESSAGE:
		var msg chat.Message
		if err := json.Unmarshal(f.Body, &msg); err != nil {
			s.metrics.FramesMalformed.Inc()
			s.log.WithError(err).Debug("discarding malformed message payload")
			return
		}
		s.metrics.FramesReceived.Inc()
		s.hub.publish(msg)
	case frame.ERROR:
		s.log.WithField("message", f.Header.Get(headerMessage)).Warn("broker error frame")
	default:
		s.log.WithField("command", f.Command).Debug("ignoring frame")
	}
}

// pingLoop 定期发送 ping 以维持读超时
func (s *Session) pingLoop(conn *connection) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(s.opts.WriteTimeout)
			if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				s.drop(conn, err)
				return
			}
		}
	}
}

// drop tears down conn if it is still the current connection.
func (s *Session) drop(conn *connection, cause error) {
	s.mu.Lock()
	current := s.conn == conn
	if current {
		s.conn = nil
	}
	s.mu.Unlock()

	conn.close()
	if !current {
		return
	}

	s.metrics.RealtimeConnected.Set(0)
	entry := s.log.WithError(cause)
	if isExpectedClose(cause) {
		entry.Info("realtime session closed by broker")
	} else {
		entry.Warn("realtime session lost")
	}
}

// isExpectedClose 判断是否为正常关闭
func isExpectedClose(err error) bool {
	if err == nil {
		return true
	}
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
}
