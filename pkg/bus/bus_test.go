package bus

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishConsumeInbound(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	msg := InboundMessage{Channel: "cli", SenderID: "operator", Content: "/status"}
	require.NoError(t, mb.PublishInbound(context.Background(), msg))

	got, ok := mb.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, msg, got)
}

func TestPublishOutboundAfterClose(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	err := mb.PublishOutbound(context.Background(), OutboundMessage{Content: "x"})
	assert.ErrorIs(t, err, ErrBusClosed)
	// Double close is safe.
	mb.Close()
}

func TestConsumeInboundUnblocksOnClose(t *testing.T) {
	mb := NewMessageBus()

	done := make(chan struct{})
	go func() {
		_, ok := mb.ConsumeInbound(context.Background())
		assert.False(t, ok)
		close(done)
	}()

	mb.Close()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("consumer did not unblock on close")
	}
}

func TestTryPublishOutboundDropsWhenFull(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	for i := 0; i < outboundBuffer; i++ {
		require.True(t, mb.TryPublishOutbound(OutboundMessage{Content: "fill"}))
	}

	// Queue full: the publish is refused instead of blocking.
	assert.False(t, mb.TryPublishOutbound(OutboundMessage{Content: "overflow"}))
	assert.Equal(t, uint64(1), mb.Dropped())

	// Draining one slot makes room again.
	_, ok := mb.SubscribeOutbound(context.Background())
	require.True(t, ok)
	assert.True(t, mb.TryPublishOutbound(OutboundMessage{Content: "after drain"}))
}

func TestTryPublishOutboundAfterClose(t *testing.T) {
	mb := NewMessageBus()
	mb.Close()

	assert.False(t, mb.TryPublishOutbound(OutboundMessage{Content: "x"}))
}

func TestConsumeRespectsContext(t *testing.T) {
	mb := NewMessageBus()
	defer mb.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, ok := mb.SubscribeOutbound(ctx)
	assert.False(t, ok)
}
