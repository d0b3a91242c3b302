package relay

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"pairlink/internal/authtoken"
	"pairlink/internal/domain"
)

// WSClient talks to a relay daemon over one websocket connection. The
// connection is authorized with a bearer token signed by the identity key
// over a server-issued nonce.
type WSClient struct {
	conn *websocket.Conn
	log  *zap.Logger

	wmu sync.Mutex // websocket writes are single-writer

	// smu guards subs and is held across dispatch sends, so a concurrent
	// Unsubscribe or Close never closes a channel mid-send.
	smu  sync.Mutex
	subs map[domain.Topic][]chan domain.Envelope

	done chan struct{}
}

// DialWS fetches an auth nonce for clientID, signs it with the identity,
// and opens the authorized websocket. Auth-boundary failures surface as
// connection establishment errors.
func DialWS(ctx context.Context, baseURL string, clientID domain.ClientID, id domain.Identity, log *zap.Logger) (*WSClient, error) {
	nonce, err := fetchNonce(ctx, baseURL, clientID)
	if err != nil {
		return nil, err
	}
	token, err := authtoken.Issue(nonce, id)
	if err != nil {
		return nil, err
	}

	wsURL, err := toWS(baseURL)
	if err != nil {
		return nil, err
	}
	hdr := http.Header{}
	hdr.Set("Authorization", "Bearer "+token)
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, wsURL+"/ws", hdr)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("relay refused connection: %s", resp.Status)
		}
		return nil, fmt.Errorf("dialing relay: %w", err)
	}

	c := &WSClient{
		conn: conn,
		log:  log,
		subs: make(map[domain.Topic][]chan domain.Envelope),
		done: make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// Publish sends an envelope to a topic.
func (c *WSClient) Publish(_ context.Context, topic domain.Topic, env domain.Envelope) error {
	return c.write(Frame{Type: FramePublish, Topic: topic, Envelope: &env})
}

// Subscribe registers for a topic. Mailboxed envelopes for the topic are
// replayed by the daemon right after the subscription is accepted.
func (c *WSClient) Subscribe(_ context.Context, topic domain.Topic) (<-chan domain.Envelope, error) {
	ch := make(chan domain.Envelope, subscriberBuffer)
	c.smu.Lock()
	c.subs[topic] = append(c.subs[topic], ch)
	c.smu.Unlock()

	if err := c.write(Frame{Type: FrameSubscribe, Topic: topic}); err != nil {
		return nil, err
	}
	return ch, nil
}

// Unsubscribe drops the topic subscription.
func (c *WSClient) Unsubscribe(_ context.Context, topic domain.Topic) error {
	c.smu.Lock()
	for _, ch := range c.subs[topic] {
		close(ch)
	}
	delete(c.subs, topic)
	c.smu.Unlock()
	return c.write(Frame{Type: FrameUnsubscribe, Topic: topic})
}

// Close tears the connection down and closes all subscriber channels.
func (c *WSClient) Close() error {
	select {
	case <-c.done:
		return nil
	default:
	}
	close(c.done)

	c.smu.Lock()
	for topic, chans := range c.subs {
		for _, ch := range chans {
			close(ch)
		}
		delete(c.subs, topic)
	}
	c.smu.Unlock()
	return c.conn.Close()
}

func (c *WSClient) readLoop() {
	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			select {
			case <-c.done:
			default:
				c.log.Warn("relay read failed", zap.Error(err))
				_ = c.Close()
			}
			return
		}
		if f.Type != FrameMessage || f.Envelope == nil {
			continue
		}
		c.dispatch(f)
	}
}

func (c *WSClient) dispatch(f Frame) {
	c.smu.Lock()
	defer c.smu.Unlock()

	chans := c.subs[f.Topic]
	if len(chans) == 0 {
		c.log.Debug("message for unsubscribed topic dropped", zap.String("topic", f.Topic.String()))
		return
	}
	for _, ch := range chans {
		// Sends are non-blocking, so holding smu here is cheap.
		select {
		case ch <- *f.Envelope:
		default:
			c.log.Warn("subscriber buffer full, dropping; relay will redeliver",
				zap.String("topic", f.Topic.String()))
			return // skip the ack so the daemon redelivers
		}
	}
	_ = c.write(Frame{Type: FrameAck, Topic: f.Topic, Seq: f.Seq})
}

func (c *WSClient) write(f Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(f)
}

func fetchNonce(ctx context.Context, baseURL string, clientID domain.ClientID) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		baseURL+"/auth-nonce?id="+url.QueryEscape(clientID.String()), nil)
	if err != nil {
		return "", err
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetching auth nonce: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("auth nonce request failed: %s", resp.Status)
	}
	nonce, err := io.ReadAll(io.LimitReader(resp.Body, 256))
	if err != nil {
		return "", err
	}
	return string(nonce), nil
}

func toWS(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("bad relay URL %q: %w", baseURL, err)
	}
	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	}
	return u.String(), nil
}

var _ domain.RelayClient = (*WSClient)(nil)
