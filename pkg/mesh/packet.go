// Package mesh implements the dual-network routing core: packet
// classification, sender identity resolution, transport registry, echo
// suppression, command eligibility and the inbound router itself.
package mesh

import "time"

// BroadcastAddr is the reserved node address meaning "everyone on this
// channel". Some firmware also uses 0 for the same purpose on the wire.
const BroadcastAddr uint32 = 0xFFFFFFFF

// NetworkTag identifies which logical mesh network a packet or transport
// belongs to.
type NetworkTag string

const (
	NetworkMeshtastic NetworkTag = "meshtastic"
	NetworkMeshCore   NetworkTag = "meshcore"
	NetworkUnknown    NetworkTag = "unknown"
)

// TransportKind is the closed capability tag carried on every transport
// handle. It is decided once at construction time and never re-derived by
// type inspection.
type TransportKind int

const (
	KindUnknown TransportKind = iota
	KindMeshtastic
	KindMeshCore
)

// Tag maps a transport kind to its network tag.
func (k TransportKind) Tag() NetworkTag {
	switch k {
	case KindMeshtastic:
		return NetworkMeshtastic
	case KindMeshCore:
		return NetworkMeshCore
	default:
		return NetworkUnknown
	}
}

// DeliveryClass distinguishes channel broadcasts from direct messages.
type DeliveryClass int

const (
	DeliveryBroadcast DeliveryClass = iota
	DeliveryDirect
)

func (d DeliveryClass) String() string {
	if d == DeliveryDirect {
		return "direct"
	}
	return "broadcast"
}

// RawEnvelope is what a transport reader hands to the registry callback,
// before classification and identity resolution. Missing optional fields
// (hop counts, signal metrics) stay zero; the pipeline treats that
// permissively.
type RawEnvelope struct {
	From         uint32
	To           uint32
	Text         string
	ChannelIndex uint32

	// DirectOverride is set by a transport whose private-message
	// notification does not address the bot at its registered numeric
	// identity. It means "treat as addressed to us regardless of To".
	DirectOverride bool

	// PubkeyPrefix is the hex prefix of the sender's public key, carried
	// by MeshCore private-message notifications instead of a numeric id.
	PubkeyPrefix string

	// SenderName is the human-readable sender name when the transport
	// already knows it.
	SenderName string

	HopLimit uint32
	HopStart uint32
	RxSNR    float64
	RxRSSI   int
	RxTime   time.Time
}

// Packet is one classified, identity-resolved inbound radio frame. It is
// created at transport-callback time, consumed synchronously through the
// router and then discarded; the core never persists it.
type Packet struct {
	SenderID    uint32
	RecipientID uint32
	Text        string

	// DirectOverride mirrors RawEnvelope.DirectOverride after resolution.
	// It is orthogonal to SenderID being the broadcast sentinel: an
	// unresolvable private-message sender keeps the sentinel id AND the
	// override flag.
	DirectOverride bool

	// Network is assigned exactly once by the classifier, before any
	// routing decision reads it.
	Network NetworkTag
	Class   DeliveryClass

	ChannelIndex uint32
	SenderName   string
	HopLimit     uint32
	HopStart     uint32
	RxSNR        float64
	RxRSSI       int
	RxTime       time.Time
}

// Hops returns the number of hops the frame traveled, when the firmware
// reported both counters.
func (p *Packet) Hops() (int, bool) {
	if p.HopStart == 0 && p.HopLimit == 0 {
		return 0, false
	}
	if p.HopStart < p.HopLimit {
		return 0, false
	}
	return int(p.HopStart - p.HopLimit), true
}
