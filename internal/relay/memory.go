package relay

import (
	"context"
	"sync"

	"pairlink/internal/domain"
)

const subscriberBuffer = 16

// Memory is an in-process relay bus for tests and development. Each
// participant takes its own handle via Client; a publisher never hears its
// own envelope back, matching how the relay daemon treats connections.
// Envelopes published to a topic with no other live subscriber wait in a
// mailbox and are flushed to the next foreign subscriber, so an offline
// peer still receives what was sent to it. Each live subscription owns an
// unbounded queue drained into its channel, so a slow receiver delays its
// own delivery but never loses an envelope.
type Memory struct {
	mu     sync.Mutex
	nextID int
	subs   map[domain.Topic][]*memSub
	mail   map[domain.Topic][]memMail
	closed bool
}

type memMail struct {
	origin int
	env    domain.Envelope
}

// memSub is one live subscription. enqueue appends under the sub's own lock
// and nudges the drain goroutine, which feeds the subscriber channel in
// order and closes it on teardown.
type memSub struct {
	owner int
	ch    chan domain.Envelope
	wake  chan struct{}
	done  chan struct{}

	qmu   sync.Mutex
	queue []domain.Envelope
}

func newMemSub(owner int, backlog []domain.Envelope) *memSub {
	s := &memSub{
		owner: owner,
		ch:    make(chan domain.Envelope, subscriberBuffer),
		wake:  make(chan struct{}, 1),
		done:  make(chan struct{}),
		queue: backlog,
	}
	if len(backlog) > 0 {
		s.wake <- struct{}{}
	}
	go s.drain()
	return s
}

func (s *memSub) enqueue(env domain.Envelope) {
	s.qmu.Lock()
	s.queue = append(s.queue, env)
	s.qmu.Unlock()
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *memSub) stop() {
	close(s.done)
}

func (s *memSub) drain() {
	defer close(s.ch)
	for {
		select {
		case <-s.done:
			return
		case <-s.wake:
		}
		for {
			s.qmu.Lock()
			if len(s.queue) == 0 {
				s.qmu.Unlock()
				break
			}
			env := s.queue[0]
			s.queue = s.queue[1:]
			s.qmu.Unlock()
			select {
			case s.ch <- env:
			case <-s.done:
				return
			}
		}
	}
}

// NewMemory returns an empty in-process relay.
func NewMemory() *Memory {
	return &Memory{
		subs: make(map[domain.Topic][]*memSub),
		mail: make(map[domain.Topic][]memMail),
	}
}

// Client returns a participant handle on the bus.
func (m *Memory) Client() domain.RelayClient {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	return &memClient{bus: m, id: m.nextID}
}

// Close shuts the bus down and closes all subscriber channels.
func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	for topic, subs := range m.subs {
		for _, s := range subs {
			s.stop()
		}
		delete(m.subs, topic)
	}
	return nil
}

func (m *Memory) publish(from int, topic domain.Topic, env domain.Envelope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return domain.ErrNotFound
	}
	delivered := false
	for _, s := range m.subs[topic] {
		if s.owner == from {
			continue
		}
		s.enqueue(env)
		delivered = true
	}
	if !delivered {
		m.mail[topic] = append(m.mail[topic], memMail{origin: from, env: env})
	}
	return nil
}

func (m *Memory) subscribe(owner int, topic domain.Topic) <-chan domain.Envelope {
	m.mu.Lock()
	defer m.mu.Unlock()

	var backlog []domain.Envelope
	var keep []memMail
	for _, mm := range m.mail[topic] {
		if mm.origin == owner {
			keep = append(keep, mm)
			continue
		}
		backlog = append(backlog, mm.env)
	}
	if len(keep) == 0 {
		delete(m.mail, topic)
	} else {
		m.mail[topic] = keep
	}

	s := newMemSub(owner, backlog)
	m.subs[topic] = append(m.subs[topic], s)
	return s.ch
}

func (m *Memory) unsubscribe(owner int, topic domain.Topic) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keep []*memSub
	for _, s := range m.subs[topic] {
		if s.owner == owner {
			s.stop()
			continue
		}
		keep = append(keep, s)
	}
	if len(keep) == 0 {
		delete(m.subs, topic)
	} else {
		m.subs[topic] = keep
	}
}

type memClient struct {
	bus *Memory
	id  int
}

func (c *memClient) Publish(_ context.Context, topic domain.Topic, env domain.Envelope) error {
	return c.bus.publish(c.id, topic, env)
}

func (c *memClient) Subscribe(_ context.Context, topic domain.Topic) (<-chan domain.Envelope, error) {
	return c.bus.subscribe(c.id, topic), nil
}

func (c *memClient) Unsubscribe(_ context.Context, topic domain.Topic) error {
	c.bus.unsubscribe(c.id, topic)
	return nil
}

func (c *memClient) Close() error { return nil }

var _ domain.RelayClient = (*memClient)(nil)
