package mesh

import (
	"context"
	"errors"
	"testing"
)

func TestRegistry_AttachDetach(t *testing.T) {
	reg := NewRegistry()
	if reg.Has(NetworkMeshtastic) || reg.Has(NetworkMeshCore) {
		t.Fatal("fresh registry should be empty")
	}

	mt := newFakeTransport(KindMeshtastic, 0x5678)
	if err := reg.Attach(mt); err != nil {
		t.Fatalf("attach: %v", err)
	}
	if !reg.Has(NetworkMeshtastic) {
		t.Error("meshtastic slot not attached")
	}

	// Reconnect replaces without error.
	mt2 := newFakeTransport(KindMeshtastic, 0x5678)
	if err := reg.Attach(mt2); err != nil {
		t.Fatalf("re-attach: %v", err)
	}

	reg.Detach(NetworkMeshtastic)
	if reg.Has(NetworkMeshtastic) {
		t.Error("slot still attached after detach")
	}
}

func TestRegistry_PrimaryPrefersMeshtastic(t *testing.T) {
	reg := NewRegistry()
	mc := newFakeTransport(KindMeshCore, BroadcastAddr)
	reg.Attach(mc)

	_, tag, ok := reg.Primary()
	if !ok || tag != NetworkMeshCore {
		t.Fatalf("primary = %q, want meshcore", tag)
	}

	mt := newFakeTransport(KindMeshtastic, 0x5678)
	reg.Attach(mt)
	_, tag, _ = reg.Primary()
	if tag != NetworkMeshtastic {
		t.Errorf("primary = %q, want meshtastic once attached", tag)
	}

	if !reg.IsDualMode() {
		t.Error("both slots attached but IsDualMode is false")
	}
}

func TestRegistry_Mode(t *testing.T) {
	reg := NewRegistry()
	reg.Attach(newFakeTransport(KindMeshCore, BroadcastAddr))
	if reg.Mode() != ModeCompanion {
		t.Error("meshcore-only registry should be companion mode")
	}

	reg.Attach(newFakeTransport(KindMeshtastic, 0x5678))
	if reg.Mode() != ModeFull {
		t.Error("meshtastic attached but mode is not full")
	}
}

func TestRegistry_DispatchSend(t *testing.T) {
	reg := NewRegistry()
	ctx := context.Background()

	// No transport at all: reported failure, not a panic.
	if err := reg.DispatchSend(ctx, "hi", 0x1111, NetworkUnknown, 0); !errors.Is(err, ErrNoTransport) {
		t.Errorf("want ErrNoTransport, got %v", err)
	}

	mc := newFakeTransport(KindMeshCore, BroadcastAddr)
	reg.Attach(mc)

	// Explicit tag for an empty slot still fails.
	if err := reg.DispatchSend(ctx, "hi", 0x1111, NetworkMeshtastic, 0); !errors.Is(err, ErrNoTransport) {
		t.Errorf("want ErrNoTransport for empty slot, got %v", err)
	}

	// Untagged send uses the primary.
	if err := reg.DispatchSend(ctx, "hello", 0x1111, NetworkUnknown, 0); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := mc.sentTexts(); len(got) != 1 || got[0] != "hello" {
		t.Errorf("meshcore sends = %v", got)
	}
	if reg.Stats(NetworkMeshCore).SentCount != 1 {
		t.Error("send counter not incremented")
	}
}

func TestRegistry_RouteInboundByIdentity(t *testing.T) {
	reg := NewRegistry()
	mt := newFakeTransport(KindMeshtastic, 0x5678)
	mc := newFakeTransport(KindMeshCore, BroadcastAddr)
	reg.Attach(mt)
	reg.Attach(mc)

	var gotTag NetworkTag
	var calls int
	reg.SetInbound(func(_ RawEnvelope, _ Transport, tag NetworkTag) {
		gotTag = tag
		calls++
	})

	// Packet from the non-primary transport is still recognized as ours
	// and tagged by the slot that delivered it, not by the primary.
	reg.RouteInbound(RawEnvelope{From: 0x143bcd7f, To: 0xfffffffe, Text: "x"}, mc)
	if calls != 1 || gotTag != NetworkMeshCore {
		t.Fatalf("calls=%d tag=%q, want meshcore callback", calls, gotTag)
	}

	reg.RouteInbound(RawEnvelope{From: 1, To: 2, Text: "y"}, mt)
	if calls != 2 || gotTag != NetworkMeshtastic {
		t.Fatalf("calls=%d tag=%q, want meshtastic callback", calls, gotTag)
	}

	// A detached handle no longer reaches the callback.
	reg.Detach(NetworkMeshCore)
	reg.RouteInbound(RawEnvelope{Text: "z"}, mc)
	if calls != 2 {
		t.Error("detached transport still routed")
	}

	if reg.Stats(NetworkMeshtastic).PacketCount != 1 {
		t.Error("packet counter not incremented")
	}
}

func TestRegistry_DualModeTagging(t *testing.T) {
	// Both networks enabled at once: packets must carry the tag of the
	// transport that physically delivered them.
	reg := NewRegistry()
	mt := newFakeTransport(KindMeshtastic, 0x5678)
	mc := newFakeTransport(KindMeshCore, 0x9abc)
	reg.Attach(mc) // meshcore first: order must not matter
	reg.Attach(mt)

	tags := make(map[NetworkTag]int)
	reg.SetInbound(func(_ RawEnvelope, _ Transport, tag NetworkTag) {
		tags[tag]++
	})

	reg.RouteInbound(RawEnvelope{Text: "a"}, mt)
	reg.RouteInbound(RawEnvelope{Text: "b"}, mc)
	reg.RouteInbound(RawEnvelope{Text: "c"}, mt)

	if tags[NetworkMeshtastic] != 2 || tags[NetworkMeshCore] != 1 {
		t.Errorf("tag distribution = %v", tags)
	}
}
