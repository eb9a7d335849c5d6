package mesh

import "context"

// Transport is the narrow surface the routing core needs from a radio
// transport. Implementations live outside the core (serial/TCP Meshtastic,
// TCP MeshCore) and must be safe for concurrent use.
type Transport interface {
	// Kind reports the closed capability tag decided at construction.
	Kind() TransportKind

	// LocalNodeID is the bot's own numeric identity on this network.
	// Transports with no stable local id (MeshCore in companion mode
	// before the device reports one) return BroadcastAddr.
	LocalNodeID() uint32

	// SendText transmits a text frame. dest is BroadcastAddr for channel
	// broadcasts, in which case channel selects the public channel index.
	SendText(ctx context.Context, text string, dest uint32, channel uint32) error
}

// NodeDirectory is the node-manager lookup surface consumed by the
// resolver and by command handlers that render sender names.
type NodeDirectory interface {
	// GetNodeName returns a display name for the node, falling back to
	// the canonical "!%08x" form when nothing better is known.
	GetNodeName(id uint32) string

	// FindNodeByPubkeyPrefix maps a hex public-key prefix to a numeric
	// node id. The lookup must be case-insensitive and must normalize
	// stored keys (raw bytes, hex text or base64 text) to hex before
	// comparing.
	FindNodeByPubkeyPrefix(prefix string) (uint32, bool)
}
