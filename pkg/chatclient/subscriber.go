package chatclient

import (
	"context"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	dialTimeout      = 10 * time.Second
	reconnectBase    = time.Second
	reconnectMax     = 30 * time.Second
	subscriberOnPong = 60 * time.Second
)

// Handlers receives decoded events from a Subscriber. Nil handlers are
// skipped. OnConnected fires after every successful (re)connect, before any
// events from that connection are dispatched; callers should refetch history
// and badge state there, since events published while disconnected are gone.
type Handlers struct {
	OnConnected  func()
	OnMessage    func(topic string, msg Message)
	OnMembership func(topic string, change MembershipChange)
	OnUnread     func(topic string, delta UnreadDelta)
	// OnDisconnect reports why a dial attempt or an established connection
	// ended. The subscriber retries regardless; callers that want to give
	// up (e.g. on a rejected token) cancel the Run context here.
	OnDisconnect func(err error)
}

// Subscriber keeps a WebSocket subscription to the event stream alive,
// reconnecting with backoff until its context is cancelled.
type Subscriber struct {
	wsURL    string
	token    string
	topics   []string
	handlers Handlers
	dialer   *websocket.Dialer
}

// NewSubscriber prepares a subscriber for the given ws endpoint
// (e.g. "wss://host/api/ws"). The capability token must grant every
// requested topic or the server rejects the connection.
func NewSubscriber(wsURL, token string, topics []string, h Handlers) *Subscriber {
	return &Subscriber{
		wsURL:    wsURL,
		token:    token,
		topics:   topics,
		handlers: h,
		dialer:   &websocket.Dialer{HandshakeTimeout: dialTimeout},
	}
}

// Run connects and dispatches events until ctx is cancelled. Connection
// failures and dropped connections retry with exponential backoff; a
// connection that lasted long enough to deliver events resets the backoff.
func (s *Subscriber) Run(ctx context.Context) error {
	delay := reconnectBase
	for {
		start := time.Now()
		err := s.connectAndRead(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil && s.handlers.OnDisconnect != nil {
			s.handlers.OnDisconnect(err)
		}
		if time.Since(start) > reconnectMax {
			delay = reconnectBase
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay = min(delay*2, reconnectMax)
	}
}

func (s *Subscriber) connectAndRead(ctx context.Context) error {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return err
	}
	q := u.Query()
	q.Set("topics", strings.Join(s.topics, ","))
	u.RawQuery = q.Encode()

	header := http.Header{}
	header.Set("Authorization", "Bearer "+s.token)

	conn, resp, err := s.dialer.DialContext(ctx, u.String(), header)
	if err != nil {
		return err
	}
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// Unblock ReadMessage when the context ends.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	conn.SetReadDeadline(time.Now().Add(subscriberOnPong))
	conn.SetPingHandler(func(appData string) error {
		conn.SetReadDeadline(time.Now().Add(subscriberOnPong))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(dialTimeout))
	})

	if s.handlers.OnConnected != nil {
		s.handlers.OnConnected()
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		conn.SetReadDeadline(time.Now().Add(subscriberOnPong))
		s.dispatch(data)
	}
}

// dispatch decodes one frame and routes it. Frames that fail to decode are
// dropped; the refetch on the next reconnect covers any loss.
func (s *Subscriber) dispatch(data []byte) {
	env, err := ParseEnvelope(data)
	if err != nil {
		return
	}
	switch env.Type {
	case EventMessageCreated:
		if s.handlers.OnMessage == nil {
			return
		}
		if msg, err := env.Message(); err == nil {
			s.handlers.OnMessage(env.Topic, msg)
		}
	case EventRoomCreated, EventMembershipRestored:
		if s.handlers.OnMembership == nil {
			return
		}
		if mc, err := env.Membership(); err == nil {
			s.handlers.OnMembership(env.Topic, mc)
		}
	case EventUnreadChanged:
		if s.handlers.OnUnread == nil {
			return
		}
		if d, err := env.UnreadDelta(); err == nil {
			s.handlers.OnUnread(env.Topic, d)
		}
	}
}
