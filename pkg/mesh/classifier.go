package mesh

// Classify determines the logical network tag and delivery class for an
// inbound envelope.
//
// The tag comes from the identity of the transport that produced the
// callback, never from configuration: reading an "enabled" flag mislabels
// every packet as belonging to whichever network was enabled first when
// both are configured at once.
//
// The delivery class is broadcast iff the recipient is the broadcast
// sentinel (or zero, which some firmware writes instead) and no
// transport-level override marked the frame as private. The override takes
// precedence so that a "this is actually a DM even though the wire
// recipient looks like broadcast" signal is honored.
func Classify(env RawEnvelope, transport Transport) (NetworkTag, DeliveryClass) {
	tag := NetworkUnknown
	if transport != nil {
		tag = transport.Kind().Tag()
	}

	class := DeliveryDirect
	if (env.To == BroadcastAddr || env.To == 0) && !env.DirectOverride {
		class = DeliveryBroadcast
	}

	return tag, class
}
