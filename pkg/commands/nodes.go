package commands

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tinyland-inc/meshclaw/pkg/format"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
	"github.com/tinyland-inc/meshclaw/pkg/nodes"
)

const defaultNodeListLimit = 10

// nodeList answers /nodes [n] with the most recently heard Meshtastic
// nodes. Network isolation keeps this off MeshCore, where /contacts is the
// equivalent.
func (s *set) nodeList(ctx context.Context, req *mesh.Request) error {
	limit := defaultNodeListLimit
	if a := arg(req.Text); a != "" {
		n, err := strconv.Atoi(a)
		if err != nil || n < 1 {
			return req.Reply.SendSingle(ctx, "Usage: /nodes [count]")
		}
		if n < limit {
			limit = n
		}
	}

	listed := s.byNetwork(mesh.NetworkMeshtastic)
	if len(listed) == 0 {
		return req.Reply.SendSingle(ctx, "No nodes heard yet")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d node(s) known:", len(listed))
	for i, n := range listed {
		if i >= limit {
			break
		}
		fmt.Fprintf(&b, "\n%s (%s) %s", displayName(n), format.NodeID(n.ID), ago(n.LastHeard))
	}
	return req.Reply.SendChunks(ctx, b.String())
}

// nodeDetail answers /node <id|name> with everything known about one node.
func (s *set) nodeDetail(ctx context.Context, req *mesh.Request) error {
	query := arg(req.Text)
	if query == "" {
		return req.Reply.SendSingle(ctx, "Usage: /node <!id|name>")
	}

	n, ok := s.findNode(query)
	if !ok {
		return req.Reply.SendSingle(ctx, "No node matching "+format.Truncate(query, 40))
	}

	parts := []string{displayName(n) + " (" + format.NodeID(n.ID) + ")"}
	if n.ShortName != "" && n.ShortName != n.LongName {
		parts = append(parts, "short "+n.ShortName)
	}
	parts = append(parts, "on "+string(n.Network), "heard "+ago(n.LastHeard))
	if p := keyPrefix(n.PublicKey); p != "" {
		parts = append(parts, "key "+p)
	}
	return req.Reply.SendSingle(ctx, strings.Join(parts, ", "))
}

// contacts answers /contacts with the MeshCore contact list; the
// key prefix shown is what addresses a direct message on that network.
func (s *set) contacts(ctx context.Context, req *mesh.Request) error {
	listed := s.byNetwork(mesh.NetworkMeshCore)
	if len(listed) == 0 {
		return req.Reply.SendSingle(ctx, "No contacts known yet")
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d contact(s):", len(listed))
	for i, n := range listed {
		if i >= defaultNodeListLimit {
			break
		}
		line := "\n" + displayName(n)
		if p := keyPrefix(n.PublicKey); p != "" {
			line += " [" + p + "]"
		}
		line += " " + ago(n.LastHeard)
		b.WriteString(line)
	}
	return req.Reply.SendChunks(ctx, b.String())
}

// advert asks the MeshCore radio to announce itself. "/advert flood"
// propagates beyond direct neighbors.
func (s *set) advert(ctx context.Context, req *mesh.Request) error {
	if s.Adverter == nil {
		return req.Reply.SendSingle(ctx, "No MeshCore radio attached")
	}

	flood := arg(req.Text) == "flood"
	if err := s.Adverter.SendAdvert(flood); err != nil {
		return fmt.Errorf("send advert: %w", err)
	}
	kind := "zero-hop"
	if flood {
		kind = "flood"
	}
	return req.Reply.SendSingle(ctx, "Advert sent ("+kind+")")
}

// traceroute reports how the request itself traveled. A firmware-level
// route probe would need an async TRACEROUTE_APP round trip; the inbound
// path report covers the common "can you hear me" question.
func (s *set) traceroute(ctx context.Context, req *mesh.Request) error {
	pkt := req.Packet

	parts := []string{"Route from " + req.SenderName}
	if hops, ok := pkt.Hops(); ok {
		if hops == 0 {
			parts = append(parts, "direct (0 hops)")
		} else {
			parts = append(parts, fmt.Sprintf("%d hop(s)", hops))
		}
	} else {
		parts = append(parts, "hop count unknown")
	}
	if pkt.RxRSSI != 0 {
		parts = append(parts, fmt.Sprintf("last leg SNR %.1fdB RSSI %ddBm", pkt.RxSNR, pkt.RxRSSI))
	}
	return req.Reply.SendSingle(ctx, strings.Join(parts, ", "))
}

func (s *set) byNetwork(tag mesh.NetworkTag) []nodes.Node {
	var out []nodes.Node
	for _, n := range s.Directory.List() {
		if n.Network == tag {
			out = append(out, n)
		}
	}
	return out
}

func (s *set) findNode(query string) (nodes.Node, bool) {
	if id, ok := parseNodeID(query); ok {
		if n, found := s.Directory.Get(id); found {
			return n, true
		}
	}

	q := strings.ToLower(query)
	for _, n := range s.Directory.List() {
		if strings.Contains(strings.ToLower(n.LongName), q) ||
			strings.EqualFold(n.ShortName, query) {
			return n, true
		}
	}
	return nodes.Node{}, false
}

func parseNodeID(query string) (uint32, bool) {
	if hexID, ok := strings.CutPrefix(query, "!"); ok {
		v, err := strconv.ParseUint(hexID, 16, 32)
		if err != nil {
			return 0, false
		}
		return uint32(v), true
	}
	v, err := strconv.ParseUint(query, 10, 32)
	if err != nil {
		return 0, false
	}
	return uint32(v), true
}

// keyPrefix renders the 6-byte public-key prefix that addresses a node, or
// "" when no key is known.
func keyPrefix(key []byte) string {
	keyHex := mesh.NormalizeKeyHex(key)
	if len(keyHex) < 12 {
		return keyHex
	}
	return keyHex[:12]
}

func displayName(n nodes.Node) string {
	if n.LongName != "" {
		return n.LongName
	}
	if n.ShortName != "" {
		return n.ShortName
	}
	return format.NodeID(n.ID)
}

func ago(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	if d < time.Minute {
		return "just now"
	}
	return shortDuration(d) + " ago"
}
