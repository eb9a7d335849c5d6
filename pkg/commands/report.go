package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/tinyland-inc/meshclaw/pkg/format"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
)

// netInfo answers /netinfo with the attachment state of both networks and
// the traffic counters since startup.
func (s *set) netInfo(ctx context.Context, req *mesh.Request) error {
	counts := s.Directory.CountByNetwork()

	var lines []string
	lines = append(lines, "Mode: "+s.Registry.Mode().String()+modeSuffix(s.Registry))

	for _, tag := range []mesh.NetworkTag{mesh.NetworkMeshtastic, mesh.NetworkMeshCore} {
		st := s.Registry.Stats(tag)
		state := "down"
		if st.Attached {
			state = "up"
		}
		lines = append(lines, fmt.Sprintf("%s: %s, %d nodes, %d rx / %d tx",
			tag, state, counts[tag], st.PacketCount, st.SentCount))
	}
	return req.Reply.SendChunks(ctx, strings.Join(lines, "\n"))
}

func modeSuffix(reg *mesh.Registry) string {
	if reg.IsDualMode() {
		return " (dual)"
	}
	return ""
}

// propagation answers /propagation with the mean link quality seen on the
// requester's network over the last day.
func (s *set) propagation(ctx context.Context, req *mesh.Request) error {
	pkt := req.Packet

	if s.History == nil {
		if pkt.RxRSSI == 0 {
			return req.Reply.SendSingle(ctx, "No signal data on this link")
		}
		return req.Reply.SendSingle(ctx, fmt.Sprintf(
			"This packet: SNR %.1fdB RSSI %ddBm", pkt.RxSNR, pkt.RxRSSI))
	}

	since := time.Now().Add(-24 * time.Hour)
	snr, rssi, err := s.History.AverageSignal(since, string(pkt.Network))
	if err != nil {
		return fmt.Errorf("signal query: %w", err)
	}
	if rssi == 0 {
		return req.Reply.SendSingle(ctx, "No signal data recorded in the last 24h")
	}
	return req.Reply.SendSingle(ctx, fmt.Sprintf(
		"%s last 24h: avg SNR %.1fdB, avg RSSI %.0fdBm", pkt.Network, snr, rssi))
}

// stats answers /stats with per-network traffic volume and the busiest
// senders over the last day.
func (s *set) stats(ctx context.Context, req *mesh.Request) error {
	if s.History == nil {
		return req.Reply.SendSingle(ctx, "Traffic history is not enabled")
	}

	since := time.Now().Add(-24 * time.Hour)
	counts, err := s.History.CountSince(since)
	if err != nil {
		return fmt.Errorf("count query: %w", err)
	}

	var total int64
	var parts []string
	for _, tag := range []mesh.NetworkTag{mesh.NetworkMeshtastic, mesh.NetworkMeshCore} {
		if c := counts[string(tag)]; c > 0 {
			parts = append(parts, fmt.Sprintf("%s %d", tag, c))
			total += c
		}
	}
	if total == 0 {
		return req.Reply.SendSingle(ctx, "No packets recorded in the last 24h")
	}

	reply := fmt.Sprintf("24h: %d packets (%s)", total, strings.Join(parts, ", "))

	top, err := s.History.TopSenders(since, 3)
	if err == nil && len(top) > 0 {
		var names []string
		for _, t := range top {
			name := t.SenderName
			if name == "" {
				name = format.NodeID(t.SenderID)
			}
			names = append(names, fmt.Sprintf("%s %d", name, t.Count))
		}
		reply += " | Top: " + strings.Join(names, ", ")
	}
	return req.Reply.SendChunks(ctx, reply)
}
