// Package bus decouples the operator channels from the gateway loop with
// two buffered queues: inbound operator commands and outbound
// replies/notifications.
package bus

import (
	"context"
	"errors"
	"sync/atomic"
)

// Operators type a command at a time; mesh traffic mirrored outbound can
// burst, so the outbound queue is deeper.
const (
	inboundBuffer  = 16
	outboundBuffer = 256
)

// ErrBusClosed is returned when publishing to a closed MessageBus.
var ErrBusClosed = errors.New("message bus closed")

type MessageBus struct {
	inbound  chan InboundMessage
	outbound chan OutboundMessage
	done     chan struct{}
	closed   atomic.Bool
	dropped  atomic.Uint64
}

func NewMessageBus() *MessageBus {
	return &MessageBus{
		inbound:  make(chan InboundMessage, inboundBuffer),
		outbound: make(chan OutboundMessage, outboundBuffer),
		done:     make(chan struct{}),
	}
}

func (mb *MessageBus) PublishInbound(ctx context.Context, msg InboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.inbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mb *MessageBus) ConsumeInbound(ctx context.Context) (InboundMessage, bool) {
	select {
	case msg, ok := <-mb.inbound:
		return msg, ok
	case <-mb.done:
		return InboundMessage{}, false
	case <-ctx.Done():
		return InboundMessage{}, false
	}
}

func (mb *MessageBus) PublishOutbound(ctx context.Context, msg OutboundMessage) error {
	if mb.closed.Load() {
		return ErrBusClosed
	}
	select {
	case mb.outbound <- msg:
		return nil
	case <-mb.done:
		return ErrBusClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryPublishOutbound enqueues without blocking and reports whether the
// message was accepted. Transport reader goroutines mirror mesh traffic
// through here; a full queue must never stall a radio link.
func (mb *MessageBus) TryPublishOutbound(msg OutboundMessage) bool {
	if mb.closed.Load() {
		return false
	}
	select {
	case mb.outbound <- msg:
		return true
	default:
		mb.dropped.Add(1)
		return false
	}
}

// Dropped returns how many outbound messages were discarded on a full
// queue.
func (mb *MessageBus) Dropped() uint64 {
	return mb.dropped.Load()
}

func (mb *MessageBus) SubscribeOutbound(ctx context.Context) (OutboundMessage, bool) {
	select {
	case msg, ok := <-mb.outbound:
		return msg, ok
	case <-mb.done:
		return OutboundMessage{}, false
	case <-ctx.Done():
		return OutboundMessage{}, false
	}
}

func (mb *MessageBus) Close() {
	if mb.closed.CompareAndSwap(false, true) {
		close(mb.done)
	}
}
