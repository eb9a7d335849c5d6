package mesh

import (
	"encoding/base64"
	"encoding/hex"
	"strings"
)

// Resolver maps the opaque sender tokens carried by transport callbacks to
// stable numeric node identities.
//
// MeshCore private-message notifications carry only a prefix of the
// sender's public key. When that prefix cannot be matched against the node
// directory the transport layer falls back to the broadcast sentinel as
// sender id. Left unmarked, that would make the router misclassify the
// private message as a broadcast and silently drop it. The resolver
// therefore always reports the direct-message override for these frames,
// resolved or not.
type Resolver struct {
	nodes NodeDirectory
}

func NewResolver(nodes NodeDirectory) *Resolver {
	return &Resolver{nodes: nodes}
}

// Resolve looks up a hex public-key prefix and returns the sender's numeric
// id together with the direct-message override flag.
//
// The override is true even when resolution fails: inability to identify
// the sender must never downgrade a known-private message into a broadcast.
// The fallback sender id is the broadcast sentinel.
func (r *Resolver) Resolve(pubkeyPrefix string) (uint32, bool) {
	prefix := strings.ToLower(strings.TrimSpace(pubkeyPrefix))
	if prefix != "" && r.nodes != nil {
		if id, ok := r.nodes.FindNodeByPubkeyPrefix(prefix); ok {
			return id, true
		}
	}
	return BroadcastAddr, true
}

// CorrectEchoSender substitutes the transport's own node id for the
// broadcast sentinel on frames that are hardware echoes of the bot's own
// outbound broadcasts, so that logging shows the bot's identity and the
// frame is recognizable as "from us" for loop prevention.
//
// The substitution applies only to broadcast frames with a known local id.
// Genuinely-unknown third-party senders on direct messages keep the
// sentinel (see Resolve).
func CorrectEchoSender(senderID uint32, env RawEnvelope, transport Transport) uint32 {
	if senderID != BroadcastAddr || env.DirectOverride || transport == nil {
		return senderID
	}
	local := transport.LocalNodeID()
	if local == BroadcastAddr || local == 0 {
		return senderID
	}
	return local
}

// NormalizeKeyHex renders a stored public key as lowercase hex, regardless
// of whether the directory holds it as raw bytes, hex text or base64 text.
func NormalizeKeyHex(key []byte) string {
	if len(key) == 0 {
		return ""
	}

	s := strings.TrimSpace(string(key))
	if isHexString(s) {
		return strings.ToLower(s)
	}

	if decoded, err := base64.StdEncoding.DecodeString(s); err == nil && len(decoded) > 0 {
		return hex.EncodeToString(decoded)
	}

	return hex.EncodeToString(key)
}

func isHexString(s string) bool {
	if s == "" || len(s)%2 != 0 {
		return false
	}
	for _, r := range s {
		switch {
		case r >= '0' && r <= '9':
		case r >= 'a' && r <= 'f':
		case r >= 'A' && r <= 'F':
		default:
			return false
		}
	}
	return true
}
