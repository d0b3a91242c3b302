package relay_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pairlink/internal/domain"
	"pairlink/internal/relay"
)

func env(b byte) domain.Envelope {
	return domain.Envelope{
		Version:    domain.EnvelopeTypeZero,
		Nonce:      make([]byte, 12),
		Ciphertext: []byte{b},
	}
}

func recv(t *testing.T, ch <-chan domain.Envelope) domain.Envelope {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for envelope")
		return domain.Envelope{}
	}
}

func assertSilent(t *testing.T, ch <-chan domain.Envelope) {
	t.Helper()
	select {
	case e := <-ch:
		t.Fatalf("unexpected envelope: %v", e.Ciphertext)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestPublishReachesPeerNotSelf(t *testing.T) {
	ctx := context.Background()
	bus := relay.NewMemory()
	defer bus.Close()
	alice := bus.Client()
	bob := bus.Client()

	topic := domain.Topic("t1")
	chA, err := alice.Subscribe(ctx, topic)
	require.NoError(t, err)
	chB, err := bob.Subscribe(ctx, topic)
	require.NoError(t, err)

	require.NoError(t, alice.Publish(ctx, topic, env(1)))

	got := recv(t, chB)
	assert.Equal(t, []byte{1}, got.Ciphertext)
	// The publisher never hears its own envelope.
	assertSilent(t, chA)
}

func TestMailboxFlushedToLateSubscriber(t *testing.T) {
	ctx := context.Background()
	bus := relay.NewMemory()
	defer bus.Close()
	alice := bus.Client()
	bob := bus.Client()

	topic := domain.Topic("t1")
	require.NoError(t, alice.Publish(ctx, topic, env(1)))
	require.NoError(t, alice.Publish(ctx, topic, env(2)))

	ch, err := bob.Subscribe(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, recv(t, ch).Ciphertext)
	assert.Equal(t, []byte{2}, recv(t, ch).Ciphertext)
}

func TestMailboxSkipsOwnMessages(t *testing.T) {
	ctx := context.Background()
	bus := relay.NewMemory()
	defer bus.Close()
	alice := bus.Client()

	topic := domain.Topic("t1")
	require.NoError(t, alice.Publish(ctx, topic, env(1)))

	// Alice subscribing later must not be handed her own mailboxed message.
	ch, err := alice.Subscribe(ctx, topic)
	require.NoError(t, err)
	assertSilent(t, ch)

	// Bob still gets it.
	bob := bus.Client()
	chB, err := bob.Subscribe(ctx, topic)
	require.NoError(t, err)
	assert.Equal(t, []byte{1}, recv(t, chB).Ciphertext)
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	ctx := context.Background()
	bus := relay.NewMemory()
	defer bus.Close()
	alice := bus.Client()

	topic := domain.Topic("t1")
	ch, err := alice.Subscribe(ctx, topic)
	require.NoError(t, err)
	require.NoError(t, alice.Unsubscribe(ctx, topic))

	_, open := <-ch
	assert.False(t, open)
}

func TestSlowSubscriberLosesNothing(t *testing.T) {
	ctx := context.Background()
	bus := relay.NewMemory()
	defer bus.Close()
	alice := bus.Client()
	bob := bus.Client()

	topic := domain.Topic("t1")
	ch, err := bob.Subscribe(ctx, topic)
	require.NoError(t, err)

	// Far more envelopes than the channel buffers, none received yet.
	const n = 100
	for i := 0; i < n; i++ {
		require.NoError(t, alice.Publish(ctx, topic, env(byte(i))))
	}
	for i := 0; i < n; i++ {
		got := recv(t, ch)
		assert.Equal(t, []byte{byte(i)}, got.Ciphertext, "envelope %d", i)
	}
}

func TestOneFullSubscriberDoesNotStarveIt(t *testing.T) {
	ctx := context.Background()
	bus := relay.NewMemory()
	defer bus.Close()
	alice := bus.Client()
	bob := bus.Client()
	carol := bus.Client()

	topic := domain.Topic("t1")
	chB, err := bob.Subscribe(ctx, topic)
	require.NoError(t, err)
	chC, err := carol.Subscribe(ctx, topic)
	require.NoError(t, err)

	// Bob drains promptly; Carol reads nothing until the burst is over.
	const n = 60
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			select {
			case <-chB:
			case <-time.After(time.Second):
				return
			}
		}
	}()
	for i := 0; i < n; i++ {
		require.NoError(t, alice.Publish(ctx, topic, env(byte(i))))
	}
	<-done

	for i := 0; i < n; i++ {
		got := recv(t, chC)
		assert.Equal(t, []byte{byte(i)}, got.Ciphertext, "envelope %d", i)
	}
}

func TestTopicsAreIsolated(t *testing.T) {
	ctx := context.Background()
	bus := relay.NewMemory()
	defer bus.Close()
	alice := bus.Client()
	bob := bus.Client()

	chB, err := bob.Subscribe(ctx, domain.Topic("t2"))
	require.NoError(t, err)

	require.NoError(t, alice.Publish(ctx, domain.Topic("t1"), env(1)))
	assertSilent(t, chB)
}
