package mesh

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/tinyland-inc/meshclaw/pkg/logger"
)

// ErrNoTransport is returned when a send is requested on a network with no
// attached transport. It is a reported failure, never a crash.
var ErrNoTransport = errors.New("network not available")

// InboundFunc is the single shared callback all transports feed into.
type InboundFunc func(env RawEnvelope, transport Transport, tag NetworkTag)

// SlotStats is a snapshot of one transport slot's counters.
type SlotStats struct {
	Attached       bool
	PacketCount    uint64
	SentCount      uint64
	LastPacketTime time.Time
}

type slot struct {
	mu         sync.Mutex
	handle     Transport
	packets    uint64
	sent       uint64
	lastPacket time.Time
}

// Registry owns the zero, one or two live transport handles, one per
// logical network. Slots move Empty -> Attached -> Empty; reconnection
// overwrites without error. Handles are swapped under the slot lock, never
// mutated concurrently.
type Registry struct {
	meshtastic slot
	meshcore   slot

	cbMu      sync.RWMutex
	onInbound InboundFunc
}

func NewRegistry() *Registry {
	return &Registry{}
}

// SetInbound registers the shared inbound callback. Must be called before
// any transport starts delivering packets.
func (r *Registry) SetInbound(fn InboundFunc) {
	r.cbMu.Lock()
	defer r.cbMu.Unlock()
	r.onInbound = fn
}

func (r *Registry) slotFor(tag NetworkTag) *slot {
	switch tag {
	case NetworkMeshtastic:
		return &r.meshtastic
	case NetworkMeshCore:
		return &r.meshcore
	default:
		return nil
	}
}

// Attach installs a handle for its network, replacing any previous one.
// Overwrite is expected: serial and TCP transports reconnect routinely.
func (r *Registry) Attach(handle Transport) error {
	s := r.slotFor(handle.Kind().Tag())
	if s == nil {
		return fmt.Errorf("attach: unsupported transport kind %v", handle.Kind())
	}
	s.mu.Lock()
	replaced := s.handle != nil
	s.handle = handle
	s.mu.Unlock()

	logger.InfoCF("registry", "Transport attached", map[string]any{
		"network":  string(handle.Kind().Tag()),
		"replaced": replaced,
	})
	return nil
}

// Detach empties the slot for the given network. Dispatches in flight are
// allowed to finish; they will see a send failure.
func (r *Registry) Detach(tag NetworkTag) {
	s := r.slotFor(tag)
	if s == nil {
		return
	}
	s.mu.Lock()
	had := s.handle != nil
	s.handle = nil
	s.mu.Unlock()

	if had {
		logger.InfoCF("registry", "Transport detached", map[string]any{"network": string(tag)})
	}
}

// Has reports whether a transport is attached for the tag.
func (r *Registry) Has(tag NetworkTag) bool {
	s := r.slotFor(tag)
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle != nil
}

// IsDualMode reports whether both networks are attached.
func (r *Registry) IsDualMode() bool {
	return r.Has(NetworkMeshtastic) && r.Has(NetworkMeshCore)
}

// Mode derives the capability mode: companion when no attachment to the
// full-featured Meshtastic network exists.
func (r *Registry) Mode() CapabilityMode {
	if r.Has(NetworkMeshtastic) {
		return ModeFull
	}
	return ModeCompanion
}

// Primary returns the preferred outbound transport: Meshtastic when
// attached (it exposes the larger capability surface), else MeshCore.
func (r *Registry) Primary() (Transport, NetworkTag, bool) {
	r.meshtastic.mu.Lock()
	h := r.meshtastic.handle
	r.meshtastic.mu.Unlock()
	if h != nil {
		return h, NetworkMeshtastic, true
	}

	r.meshcore.mu.Lock()
	h = r.meshcore.handle
	r.meshcore.mu.Unlock()
	if h != nil {
		return h, NetworkMeshCore, true
	}
	return nil, NetworkUnknown, false
}

// LocalNodeID returns the bot's identity on the given network, or the
// broadcast sentinel when that network is not attached.
func (r *Registry) LocalNodeID(tag NetworkTag) uint32 {
	s := r.slotFor(tag)
	if s == nil {
		return BroadcastAddr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == nil {
		return BroadcastAddr
	}
	return s.handle.LocalNodeID()
}

// DispatchSend transmits text on the requested network, or on the primary
// transport when tag is NetworkUnknown. Sending with nothing attached is a
// reported, logged failure.
func (r *Registry) DispatchSend(ctx context.Context, text string, dest uint32, tag NetworkTag, channel uint32) error {
	var handle Transport
	var chosen NetworkTag

	if tag == NetworkUnknown || tag == "" {
		h, t, ok := r.Primary()
		if !ok {
			logger.WarnCF("registry", "Send failed: no transport attached", map[string]any{
				"dest": fmt.Sprintf("0x%08x", dest),
			})
			return ErrNoTransport
		}
		handle, chosen = h, t
	} else {
		s := r.slotFor(tag)
		if s == nil {
			return fmt.Errorf("dispatch send: unknown network %q", tag)
		}
		s.mu.Lock()
		handle = s.handle
		s.mu.Unlock()
		if handle == nil {
			logger.WarnCF("registry", "Send failed: network not available", map[string]any{
				"network": string(tag),
				"dest":    fmt.Sprintf("0x%08x", dest),
			})
			return ErrNoTransport
		}
		chosen = tag
	}

	if err := handle.SendText(ctx, text, dest, channel); err != nil {
		return fmt.Errorf("send on %s: %w", chosen, err)
	}

	if s := r.slotFor(chosen); s != nil {
		s.mu.Lock()
		s.sent++
		s.mu.Unlock()
	}
	return nil
}

// RouteInbound is the transport-facing callback. The originating slot is
// identified by handle identity, not by kind, so that a packet arriving on
// the non-primary transport in dual mode is still recognized as ours.
func (r *Registry) RouteInbound(env RawEnvelope, transport Transport) {
	tag, ok := r.matchSlot(transport)
	if !ok {
		logger.DebugCF("registry", "Packet from unattached transport dropped", map[string]any{
			"kind": fmt.Sprintf("%v", transport.Kind()),
		})
		return
	}

	r.cbMu.RLock()
	fn := r.onInbound
	r.cbMu.RUnlock()
	if fn == nil {
		return
	}
	fn(env, transport, tag)
}

func (r *Registry) matchSlot(transport Transport) (NetworkTag, bool) {
	for _, tag := range []NetworkTag{NetworkMeshtastic, NetworkMeshCore} {
		s := r.slotFor(tag)
		s.mu.Lock()
		match := s.handle != nil && s.handle == transport
		if match {
			s.packets++
			s.lastPacket = time.Now()
		}
		s.mu.Unlock()
		if match {
			return tag, true
		}
	}
	return NetworkUnknown, false
}

// Stats returns a snapshot of the slot counters for a network.
func (r *Registry) Stats(tag NetworkTag) SlotStats {
	s := r.slotFor(tag)
	if s == nil {
		return SlotStats{}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return SlotStats{
		Attached:       s.handle != nil,
		PacketCount:    s.packets,
		SentCount:      s.sent,
		LastPacketTime: s.lastPacket,
	}
}
