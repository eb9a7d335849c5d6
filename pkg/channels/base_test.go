package channels

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/meshclaw/pkg/bus"
)

func TestIsAllowedEmptyListAllowsAll(t *testing.T) {
	c := NewBaseChannel("test", bus.NewMessageBus(), nil)
	assert.True(t, c.IsAllowed("anyone"))
}

func TestIsAllowedCompoundForms(t *testing.T) {
	c := NewBaseChannel("test", bus.NewMessageBus(), []string{"123456", "@meshop"})

	assert.True(t, c.IsAllowed("123456"))
	assert.True(t, c.IsAllowed("123456|meshop"))
	assert.True(t, c.IsAllowed("999|meshop"), "username part matches @meshop entry")
	assert.False(t, c.IsAllowed("999"))
	assert.False(t, c.IsAllowed("999|stranger"))
}

func TestHandleMessagePublishesWithGeneratedID(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	c := NewBaseChannel("cli", mb, nil)

	c.HandleMessage("", "operator", "console", "/status", nil)

	msg, ok := mb.ConsumeInbound(context.Background())
	require.True(t, ok)
	assert.Equal(t, "cli", msg.Channel)
	assert.Equal(t, "/status", msg.Content)
	assert.NotEmpty(t, msg.MessageID)
}

func TestHandleMessageFiltersSender(t *testing.T) {
	mb := bus.NewMessageBus()
	defer mb.Close()
	c := NewBaseChannel("telegram", mb, []string{"42"})

	c.HandleMessage("1", "43", "chat", "/status", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, ok := mb.ConsumeInbound(ctx)
	assert.False(t, ok, "disallowed sender must not reach the bus")
}
