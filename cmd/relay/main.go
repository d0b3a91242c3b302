package main

import (
	"crypto/rand"
	"encoding/hex"
	"flag"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"pairlink/internal/authtoken"
	"pairlink/internal/domain"
	"pairlink/internal/metrics"
	"pairlink/internal/relay"
)

const nonceTTL = 2 * time.Minute

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

type issuedNonce struct {
	value string
	at    time.Time
}

type mailboxed struct {
	seq    uint64
	env    domain.Envelope
	origin *client
}

type client struct {
	conn *websocket.Conn
	wmu  sync.Mutex
}

func (c *client) send(f relay.Frame) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	return c.conn.WriteJSON(f)
}

// hub is the pub/sub core: topic -> live subscribers, plus per-topic
// mailboxes for envelopes nobody was around to receive. Mailboxed entries
// survive until a subscriber acks them.
type hub struct {
	mu      sync.Mutex
	subs    map[domain.Topic]map[*client]struct{}
	mail    map[domain.Topic][]mailboxed
	nextSeq uint64

	nmu    sync.Mutex
	nonces map[string]issuedNonce

	log *zap.Logger
}

func newHub(log *zap.Logger) *hub {
	return &hub{
		subs:   make(map[domain.Topic]map[*client]struct{}),
		mail:   make(map[domain.Topic][]mailboxed),
		nonces: make(map[string]issuedNonce),
		log:    log,
	}
}

// publish fans env out to every subscriber except the publisher itself. The
// entry stays in the mailbox until a recipient acks its sequence number.
func (h *hub) publish(topic domain.Topic, env domain.Envelope, from *client) {
	metrics.Published.Inc()
	h.mu.Lock()
	h.nextSeq++
	entry := mailboxed{seq: h.nextSeq, env: env, origin: from}
	h.mail[topic] = append(h.mail[topic], entry)
	targets := make([]*client, 0, len(h.subs[topic]))
	for c := range h.subs[topic] {
		if c != from {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		metrics.Mailboxed.Inc()
		return
	}
	f := relay.Frame{Type: relay.FrameMessage, Topic: topic, Envelope: &env, Seq: entry.seq}
	for _, c := range targets {
		if err := c.send(f); err != nil {
			h.log.Warn("delivery failed, keeping in mailbox", zap.String("topic", topic.String()), zap.Error(err))
			continue
		}
		metrics.Delivered.Inc()
	}
}

// subscribe registers c and replays the topic mailbox to it, skipping
// entries c itself published.
func (h *hub) subscribe(topic domain.Topic, c *client) {
	h.mu.Lock()
	if h.subs[topic] == nil {
		h.subs[topic] = make(map[*client]struct{})
	}
	h.subs[topic][c] = struct{}{}
	backlog := append([]mailboxed(nil), h.mail[topic]...)
	h.mu.Unlock()

	for _, m := range backlog {
		if m.origin == c {
			continue
		}
		if err := c.send(relay.Frame{Type: relay.FrameMessage, Topic: topic, Envelope: &m.env, Seq: m.seq}); err != nil {
			return
		}
		metrics.Delivered.Inc()
	}
}

func (h *hub) unsubscribe(topic domain.Topic, c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.subs[topic], c)
	if len(h.subs[topic]) == 0 {
		delete(h.subs, topic)
	}
}

// ack clears the mailbox entry for seq on topic.
func (h *hub) ack(topic domain.Topic, seq uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	box := h.mail[topic]
	for i, m := range box {
		if m.seq == seq {
			h.mail[topic] = append(box[:i], box[i+1:]...)
			break
		}
	}
	if len(h.mail[topic]) == 0 {
		delete(h.mail, topic)
	}
}

func (h *hub) drop(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for topic, set := range h.subs {
		delete(set, c)
		if len(set) == 0 {
			delete(h.subs, topic)
		}
	}
}

// issueNonce hands out a fresh nonce for a client id, replacing any prior
// one.
func (h *hub) issueNonce(id string) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	nonce := hex.EncodeToString(raw)
	h.nmu.Lock()
	h.nonces[id] = issuedNonce{value: nonce, at: time.Now()}
	h.nmu.Unlock()
	return nonce, nil
}

// consumeNonce checks that nonce was issued recently and burns it.
func (h *hub) consumeNonce(nonce string) bool {
	h.nmu.Lock()
	defer h.nmu.Unlock()
	for id, n := range h.nonces {
		if n.value == nonce {
			delete(h.nonces, id)
			return time.Since(n.at) < nonceTTL
		}
	}
	return false
}

func (h *hub) handleNonce(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		http.Error(w, "missing id", http.StatusBadRequest)
		return
	}
	nonce, err := h.issueNonce(id)
	if err != nil {
		http.Error(w, "nonce generation failed", http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(nonce))
}

func (h *hub) handleWS(w http.ResponseWriter, r *http.Request) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok {
		metrics.AuthFailures.Inc()
		http.Error(w, "missing bearer token", http.StatusUnauthorized)
		return
	}
	pub, nonce, err := authtoken.Verify(token)
	if err != nil {
		metrics.AuthFailures.Inc()
		h.log.Warn("token verification failed", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}
	if !h.consumeNonce(nonce) {
		metrics.AuthFailures.Inc()
		http.Error(w, "stale or unknown nonce", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	metrics.Connections.Inc()
	defer metrics.Connections.Dec()
	h.log.Info("client connected", zap.String("identity", hex.EncodeToString(pub[:8])))

	c := &client{conn: conn}
	defer func() {
		h.drop(c)
		_ = conn.Close()
	}()

	for {
		var f relay.Frame
		if err := conn.ReadJSON(&f); err != nil {
			return
		}
		switch f.Type {
		case relay.FrameSubscribe:
			h.subscribe(f.Topic, c)
		case relay.FrameUnsubscribe:
			h.unsubscribe(f.Topic, c)
		case relay.FramePublish:
			if f.Envelope != nil {
				h.publish(f.Topic, *f.Envelope, c)
			}
		case relay.FrameAck:
			h.ack(f.Topic, f.Seq)
		}
	}
}

func main() {
	addr := flag.String("addr", ":8080", "listen address")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	h := newHub(log)
	mux := http.NewServeMux()
	mux.HandleFunc("/auth-nonce", h.handleNonce)
	mux.HandleFunc("/ws", h.handleWS)
	mux.Handle("/metrics", promhttp.Handler())

	log.Info("relay listening", zap.String("addr", *addr))
	if err := http.ListenAndServe(*addr, mux); err != nil {
		log.Fatal("relay exited", zap.Error(err))
	}
}
