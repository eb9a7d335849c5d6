package mesh

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"github.com/tinyland-inc/meshclaw/pkg/format"
	"github.com/tinyland-inc/meshclaw/pkg/logger"
)

// broadcastFriendly is the fixed set of commands that may execute straight
// from a channel broadcast, replying on the public channel. Overlaps with
// the generic dispatch table resolve in favor of this fast path.
var broadcastFriendly = []string{
	"/echo",
	"/myinfo",
	"/weather",
	"/rain",
	"/ai",
	"/ia",
	"/netinfo",
	"/propagation",
	"/hops",
}

// Replier is the reply channel handed to command handlers. Direct requests
// reply to their sender; broadcast requests reply on the public channel.
type Replier interface {
	// SendSingle sends one short reply on the request's reply channel.
	SendSingle(ctx context.Context, text string) error
	// SendChunks splits a long reply into LoRa-sized chunks.
	SendChunks(ctx context.Context, text string) error
	// Broadcast forces the reply onto the public channel.
	Broadcast(ctx context.Context, text string) error
}

// Request is what a dispatched command handler receives.
type Request struct {
	// Text is the command text with any broadcast sender-name prefix
	// stripped.
	Text string
	// OriginalText is the unstripped payload; the echo command needs it
	// to re-prepend the sender name in its reply.
	OriginalText string
	Packet       *Packet
	SenderName   string
	IsBroadcast  bool
	Reply        Replier
}

// Handler executes one command. Errors and panics are contained at the
// dispatch boundary and never crash the router loop.
type Handler interface {
	Handle(ctx context.Context, req *Request) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, req *Request) error

func (f HandlerFunc) Handle(ctx context.Context, req *Request) error { return f(ctx, req) }

// Router is the per-packet decision pipeline. It runs synchronously on
// whichever transport-reader goroutine delivered the packet; its tables are
// read-only after startup.
type Router struct {
	registry  *Registry
	resolver  *Resolver
	nodes     NodeDirectory
	echo      *EchoTracker
	handlers  map[string]Handler
	observers []func(*Packet)

	// PublicChannel is the channel index used for broadcast replies.
	PublicChannel uint32
}

func NewRouter(registry *Registry, resolver *Resolver, nodes NodeDirectory, echo *EchoTracker) *Router {
	return &Router{
		registry: registry,
		resolver: resolver,
		nodes:    nodes,
		echo:     echo,
		handlers: make(map[string]Handler),
	}
}

// RegisterHandler binds a slash-command word to a handler. Matching at
// dispatch time is case-sensitive on the leading token.
func (r *Router) RegisterHandler(word string, h Handler) {
	r.handlers[word] = h
}

// AddObserver registers a hook invoked for every classified packet, before
// any drop decision. Used for traffic history.
func (r *Router) AddObserver(fn func(*Packet)) {
	r.observers = append(r.observers, fn)
}

// SendBroadcast records the text with the echo tracker and transmits it on
// the public channel, so the immediate hardware echo is suppressed. All
// bot-originated broadcasts (replies, scheduled announcements) go through
// here.
func (r *Router) SendBroadcast(ctx context.Context, text string, tag NetworkTag) error {
	r.echo.Record(text)
	return r.registry.DispatchSend(ctx, text, BroadcastAddr, tag, r.PublicChannel)
}

// HandleInbound is the shared registry callback: one classified,
// identity-resolved packet in, one routing decision out.
func (r *Router) HandleInbound(env RawEnvelope, transport Transport, tag NetworkTag) {
	ctx := context.Background()

	senderID := env.From
	override := env.DirectOverride
	if override && env.PubkeyPrefix != "" {
		senderID, override = r.resolver.Resolve(env.PubkeyPrefix)
	}
	senderID = CorrectEchoSender(senderID, env, transport)

	_, class := Classify(env, transport)

	pkt := &Packet{
		SenderID:       senderID,
		RecipientID:    env.To,
		Text:           env.Text,
		DirectOverride: override,
		Network:        tag,
		Class:          class,
		ChannelIndex:   env.ChannelIndex,
		SenderName:     env.SenderName,
		HopLimit:       env.HopLimit,
		HopStart:       env.HopStart,
		RxSNR:          env.RxSNR,
		RxRSSI:         env.RxRSSI,
		RxTime:         env.RxTime,
	}

	for _, fn := range r.observers {
		fn(pkt)
	}

	if pkt.Text == "" {
		logger.DebugCF("router", "Packet without text dropped", map[string]any{
			"network": string(tag),
			"from":    fmt.Sprintf("0x%08x", senderID),
		})
		return
	}

	if class == DeliveryBroadcast && r.echo.Matches(pkt.Text) {
		logger.DebugCF("router", "Own broadcast echo suppressed", map[string]any{
			"network": string(tag),
			"text":    format.Truncate(pkt.Text, 60),
		})
		return
	}

	local := transport.LocalNodeID()
	localKnown := local != 0 && local != BroadcastAddr
	isFromMe := localKnown && senderID == local
	isForMe := override || (localKnown && env.To == local)

	stripped, prefixName := stripBroadcastPrefix(pkt.Text, class)
	senderName := pkt.SenderName
	if senderName == "" {
		senderName = prefixName
	}
	if senderName == "" && r.nodes != nil {
		senderName = r.nodes.GetNodeName(senderID)
	}

	req := &Request{
		Text:         stripped,
		OriginalText: pkt.Text,
		Packet:       pkt,
		SenderName:   senderName,
		IsBroadcast:  class == DeliveryBroadcast,
	}

	// Broadcast-command fast path. Self-originated broadcasts pass (an
	// operator at the bot's own node issuing a public command); a node
	// replying to its own direct message would loop, so the DM case is
	// blocked.
	if word := matchBroadcastCommand(stripped); word != "" &&
		(class == DeliveryBroadcast || isForMe) &&
		(class == DeliveryBroadcast || !isFromMe) {
		req.Reply = r.replierFor(pkt, true)
		logger.InfoCF("router", "Broadcast command accepted", map[string]any{
			"network": string(tag),
			"command": word,
			"from":    fmt.Sprintf("0x%08x", senderID),
		})
		r.invoke(ctx, word, req)
		return
	}

	if !isForMe {
		logger.DebugCF("router", "Packet not for us dropped", map[string]any{
			"network": string(tag),
			"class":   class.String(),
			"to":      fmt.Sprintf("0x%08x", env.To),
		})
		return
	}

	if isFromMe && class == DeliveryDirect {
		logger.DebugC("router", "Self-addressed direct message dropped")
		return
	}

	req.Reply = r.replierFor(pkt, false)

	if !strings.HasPrefix(stripped, "/") {
		logger.DebugCF("router", "Non-command text ignored", map[string]any{
			"network": string(tag),
			"text":    format.Truncate(stripped, 60),
		})
		return
	}

	if r.registry.Mode() == ModeCompanion && !CompanionAllowed(stripped) {
		reply := "Command disabled in companion mode. Available: " +
			strings.Join(CompanionCommands(), " ")
		r.sendReply(ctx, req, reply)
		return
	}

	if reject := CheckNetworkIsolation(stripped, tag); reject != "" {
		r.sendReply(ctx, req, reject)
		return
	}

	word := commandWord(stripped)
	if _, ok := r.handlers[word]; !ok {
		r.sendReply(ctx, req, "Unknown command "+word+". Send /help for the command list.")
		return
	}

	logger.InfoCF("router", "Dispatching command", map[string]any{
		"network": string(tag),
		"command": word,
		"class":   class.String(),
		"from":    fmt.Sprintf("0x%08x", senderID),
	})
	r.invoke(ctx, word, req)
}

// HandleOperator runs a command issued from an operator channel (Telegram,
// console). Operator input bypasses the mesh pipeline: no classification,
// no eligibility gates, replies go to the supplied Replier.
func (r *Router) HandleOperator(ctx context.Context, text string, reply Replier) {
	text = strings.TrimSpace(text)
	if text == "" {
		return
	}

	_, primaryTag, _ := r.registry.Primary()
	req := &Request{
		Text:         text,
		OriginalText: text,
		SenderName:   "operator",
		Packet: &Packet{
			SenderID: BroadcastAddr,
			Network:  primaryTag,
			Class:    DeliveryDirect,
			RxTime:   time.Now(),
		},
		Reply: reply,
	}

	if !strings.HasPrefix(text, "/") {
		r.sendReply(ctx, req, "Send a /command; /help lists them.")
		return
	}

	word := commandWord(text)
	if _, ok := r.handlers[word]; !ok {
		r.sendReply(ctx, req, "Unknown command "+word+". Send /help for the command list.")
		return
	}
	logger.InfoCF("router", "Dispatching operator command", map[string]any{"command": word})
	r.invoke(ctx, word, req)
}

// invoke runs a handler with the dispatch-boundary guard: panics and errors
// become a short user-visible reply plus a logged trace, never a crash.
func (r *Router) invoke(ctx context.Context, word string, req *Request) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.ErrorCF("router", "Handler panic", map[string]any{
				"command": word,
				"panic":   fmt.Sprintf("%v", rec),
				"stack":   string(debug.Stack()),
			})
			r.sendReply(ctx, req, "Error: "+format.Truncate(fmt.Sprintf("%v", rec), 120))
		}
	}()

	h, ok := r.handlers[word]
	if !ok {
		return
	}
	if err := h.Handle(ctx, req); err != nil {
		logger.ErrorCF("router", "Handler error", map[string]any{
			"command": word,
			"error":   err.Error(),
		})
		r.sendReply(ctx, req, "Error: "+format.Truncate(err.Error(), 120))
	}
}

func (r *Router) sendReply(ctx context.Context, req *Request, text string) {
	if req.Reply == nil {
		return
	}
	if err := req.Reply.SendSingle(ctx, text); err != nil {
		logger.WarnCF("router", "Reply failed", map[string]any{"error": err.Error()})
	}
}

func (r *Router) replierFor(pkt *Packet, broadcast bool) Replier {
	return &packetReplier{
		registry:  r.registry,
		echo:      r.echo,
		network:   pkt.Network,
		dest:      pkt.SenderID,
		channel:   pkt.ChannelIndex,
		public:    r.PublicChannel,
		broadcast: broadcast,
	}
}

// matchBroadcastCommand returns the matched broadcast-friendly word, or "".
func matchBroadcastCommand(text string) string {
	for _, word := range broadcastFriendly {
		if matchesWord(text, word) {
			return word
		}
	}
	return ""
}

// stripBroadcastPrefix removes a "Name: " prefix from broadcast text when
// the remainder is a command, so the parser sees only the command. The
// caller keeps the original text alongside.
func stripBroadcastPrefix(text string, class DeliveryClass) (stripped, senderName string) {
	if class != DeliveryBroadcast {
		return text, ""
	}
	name, after, found := strings.Cut(text, ": ")
	if !found || !strings.HasPrefix(after, "/") {
		return text, ""
	}
	return after, name
}

// packetReplier answers a direct request on the channel it arrived on and
// broadcasts on the public channel.
type packetReplier struct {
	registry  *Registry
	echo      *EchoTracker
	network   NetworkTag
	dest      uint32
	channel   uint32
	public    uint32
	broadcast bool
}

func (p *packetReplier) SendSingle(ctx context.Context, text string) error {
	if p.broadcast {
		return p.Broadcast(ctx, text)
	}
	return p.registry.DispatchSend(ctx, text, p.dest, p.network, p.channel)
}

func (p *packetReplier) SendChunks(ctx context.Context, text string) error {
	for _, chunk := range format.ChunkLoRa(text) {
		if err := p.SendSingle(ctx, chunk); err != nil {
			return err
		}
	}
	return nil
}

func (p *packetReplier) Broadcast(ctx context.Context, text string) error {
	p.echo.Record(text)
	return p.registry.DispatchSend(ctx, text, BroadcastAddr, p.network, p.public)
}
