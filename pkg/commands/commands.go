// Package commands holds the slash-command handlers behind the router's
// dispatch table. Handlers stay thin: parse the argument, ask a service,
// shape a LoRa-sized reply.
package commands

import (
	"context"
	"fmt"
	"runtime"
	"strings"
	"time"

	"github.com/tinyland-inc/meshclaw/pkg/ai"
	"github.com/tinyland-inc/meshclaw/pkg/format"
	"github.com/tinyland-inc/meshclaw/pkg/history"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
	"github.com/tinyland-inc/meshclaw/pkg/nodes"
	"github.com/tinyland-inc/meshclaw/pkg/weather"
)

// Adverter is the MeshCore-specific capability behind /advert.
type Adverter interface {
	SendAdvert(flood bool) error
}

// Deps carries everything the handlers may need. History, Weather, AI and
// Adverter are optional; the matching commands degrade to a short notice
// when unset.
type Deps struct {
	Registry  *mesh.Registry
	Directory *nodes.Directory
	History   *history.Store
	Weather   *weather.Client
	AI        *ai.Client
	Adverter  Adverter
	Version   string
	StartedAt time.Time
}

type set struct {
	Deps
}

// Register binds every handler onto the router's dispatch table.
func Register(router *mesh.Router, d Deps) {
	s := &set{Deps: d}

	router.RegisterHandler("/help", mesh.HandlerFunc(s.help))
	router.RegisterHandler("/echo", mesh.HandlerFunc(s.echo))
	router.RegisterHandler("/myinfo", mesh.HandlerFunc(s.myInfo))
	router.RegisterHandler("/hops", mesh.HandlerFunc(s.hops))
	router.RegisterHandler("/sysinfo", mesh.HandlerFunc(s.sysInfo))
	router.RegisterHandler("/nodes", mesh.HandlerFunc(s.nodeList))
	router.RegisterHandler("/node", mesh.HandlerFunc(s.nodeDetail))
	router.RegisterHandler("/contacts", mesh.HandlerFunc(s.contacts))
	router.RegisterHandler("/advert", mesh.HandlerFunc(s.advert))
	router.RegisterHandler("/traceroute", mesh.HandlerFunc(s.traceroute))
	router.RegisterHandler("/netinfo", mesh.HandlerFunc(s.netInfo))
	router.RegisterHandler("/propagation", mesh.HandlerFunc(s.propagation))
	router.RegisterHandler("/stats", mesh.HandlerFunc(s.stats))
	router.RegisterHandler("/weather", mesh.HandlerFunc(s.currentWeather))
	router.RegisterHandler("/rain", mesh.HandlerFunc(s.rainForecast))
	router.RegisterHandler("/ai", mesh.HandlerFunc(s.askAI))
	router.RegisterHandler("/ia", mesh.HandlerFunc(s.askAIItalian))
}

const helpText = "Commands: /help /echo <text> /myinfo /hops /netinfo " +
	"/propagation /nodes [n] /node <id|name> /contacts /advert [flood] " +
	"/traceroute /weather /rain /ai <question> /ia <domanda> /stats /sysinfo"

func (s *set) help(ctx context.Context, req *mesh.Request) error {
	return req.Reply.SendChunks(ctx, helpText)
}

// echo repeats the argument back. On a channel broadcast the reply keeps
// the sender-name prefix so bystanders can tell whose echo it is.
func (s *set) echo(ctx context.Context, req *mesh.Request) error {
	text := arg(req.Text)
	if text == "" {
		return req.Reply.SendSingle(ctx, "Usage: /echo <text>")
	}
	if req.IsBroadcast && req.SenderName != "" {
		text = req.SenderName + ": " + text
	}
	return req.Reply.SendChunks(ctx, text)
}

func (s *set) myInfo(ctx context.Context, req *mesh.Request) error {
	pkt := req.Packet

	parts := []string{"You are " + req.SenderName}
	if pkt.SenderID != 0 && pkt.SenderID != mesh.BroadcastAddr {
		parts[0] += " (" + format.NodeID(pkt.SenderID) + ")"
	}
	parts = append(parts, "on "+string(pkt.Network))

	if hops, ok := pkt.Hops(); ok {
		parts = append(parts, fmt.Sprintf("via %d hop(s)", hops))
	}
	if pkt.RxRSSI != 0 {
		parts = append(parts, fmt.Sprintf("SNR %.1fdB RSSI %ddBm", pkt.RxSNR, pkt.RxRSSI))
	}
	return req.Reply.SendSingle(ctx, strings.Join(parts, ", "))
}

func (s *set) hops(ctx context.Context, req *mesh.Request) error {
	pkt := req.Packet
	hops, ok := pkt.Hops()
	if !ok {
		return req.Reply.SendSingle(ctx, "No hop information on this link")
	}
	return req.Reply.SendSingle(ctx, fmt.Sprintf(
		"Your message took %d hop(s) (limit %d, started at %d)",
		hops, pkt.HopLimit, pkt.HopStart))
}

func (s *set) sysInfo(ctx context.Context, req *mesh.Request) error {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	uptime := time.Since(s.StartedAt).Round(time.Second)
	reply := fmt.Sprintf("meshclaw %s, up %s, %s, %d goroutines, %.1fMB heap",
		s.Version, shortDuration(uptime), runtime.Version(),
		runtime.NumGoroutine(), float64(mem.HeapAlloc)/(1024*1024))
	return req.Reply.SendSingle(ctx, reply)
}

// arg returns everything after the leading command word.
func arg(text string) string {
	_, rest, _ := strings.Cut(text, " ")
	return strings.TrimSpace(rest)
}

func shortDuration(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	default:
		return fmt.Sprintf("%dd%dh", int(d.Hours())/24, int(d.Hours())%24)
	}
}
