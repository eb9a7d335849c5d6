package gateway

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/tinyland-inc/meshclaw/cmd/meshclaw/internal"
	"github.com/tinyland-inc/meshclaw/pkg/ai"
	"github.com/tinyland-inc/meshclaw/pkg/bus"
	"github.com/tinyland-inc/meshclaw/pkg/channels"
	"github.com/tinyland-inc/meshclaw/pkg/commands"
	"github.com/tinyland-inc/meshclaw/pkg/format"
	"github.com/tinyland-inc/meshclaw/pkg/history"
	"github.com/tinyland-inc/meshclaw/pkg/logger"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
	"github.com/tinyland-inc/meshclaw/pkg/nodes"
	"github.com/tinyland-inc/meshclaw/pkg/scheduler"
	"github.com/tinyland-inc/meshclaw/pkg/transport"
	"github.com/tinyland-inc/meshclaw/pkg/weather"
)

func gatewayCmd(debug bool) error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	if debug {
		logger.SetLevel(logger.DEBUG)
		fmt.Println("🔍 Debug mode enabled")
	} else {
		logger.SetLevel(parseLogLevel(cfg.Log.Level))
	}
	if cfg.Log.File != "" {
		if err := logger.SetLogFile(cfg.Log.File); err != nil {
			fmt.Printf("⚠ Log file unavailable: %v\n", err)
		}
	}
	fmt.Printf("✓ Logging at %s\n", logger.GetLevel())

	directory := nodes.NewDirectory()
	registry := mesh.NewRegistry()
	router := mesh.NewRouter(registry, mesh.NewResolver(directory), directory, mesh.NewEchoTracker())
	router.PublicChannel = cfg.Commands.PublicChannel

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var store *history.Store
	if cfg.History.Enabled {
		store, err = history.Open(cfg.HistoryPath())
		if err != nil {
			return fmt.Errorf("error opening history: %w", err)
		}
		defer store.Close()
		router.AddObserver(store.Observer())
		go pruneLoop(ctx, store, cfg.History.RetentionDays)
		fmt.Printf("✓ Traffic history at %s\n", cfg.HistoryPath())
	}

	deps := commands.Deps{
		Registry:  registry,
		Directory: directory,
		History:   store,
		Version:   internal.FormatVersion(),
		StartedAt: time.Now(),
	}
	if cfg.Weather.Enabled {
		deps.Weather = weather.NewClient(cfg.Weather)
		fmt.Printf("✓ Weather reports for %s\n", cfg.Weather.Place)
	}
	if cfg.AI.Enabled {
		deps.AI = ai.NewClient(cfg.AI)
		fmt.Printf("✓ AI assistant (%s)\n", cfg.AI.Model)
	}

	var mt *transport.Meshtastic
	if cfg.Meshtastic.Enabled {
		mt, err = transport.NewMeshtastic(cfg.Meshtastic, registry, directory)
		if err != nil {
			return fmt.Errorf("error creating meshtastic transport: %w", err)
		}
	}
	var mc *transport.MeshCore
	if cfg.MeshCore.Enabled {
		mc = transport.NewMeshCore(cfg.MeshCore, registry, directory)
		deps.Adverter = mc
	}

	// Handlers, observers and the inbound callback must all be in place
	// before the first transport attaches; the router's tables are
	// read-only once packets flow.
	commands.Register(router, deps)
	registry.SetInbound(router.HandleInbound)

	msgBus := bus.NewMessageBus()
	defer msgBus.Close()

	channelManager := channels.NewManager(cfg.Channels, msgBus)
	channelManager.StartAll(ctx)
	router.AddObserver(meshTrafficNotifier(msgBus, directory))
	go operatorLoop(ctx, msgBus, router)

	if mt != nil {
		go mt.Run(ctx)
		fmt.Println("✓ Meshtastic transport starting")
	}
	if mc != nil {
		go mc.Run(ctx)
		fmt.Println("✓ MeshCore transport starting")
	}

	if cfg.Scheduler.Enabled {
		sched, err := scheduler.New(cfg.Scheduler, router.SendBroadcast)
		if err != nil {
			return fmt.Errorf("error in scheduler config: %w", err)
		}
		go sched.Run(ctx)
		fmt.Printf("✓ Scheduler with %d announcement(s)\n", len(cfg.Scheduler.Broadcasts))
	}

	fmt.Println("✓ Gateway started. Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt)
	<-sigChan

	fmt.Println("\nShutting down...")
	cancel()
	channelManager.StopAll(context.Background())
	fmt.Println("✓ Gateway stopped")

	return nil
}

// operatorLoop feeds operator channel input into the router and returns
// replies to the channel that asked.
func operatorLoop(ctx context.Context, msgBus *bus.MessageBus, router *mesh.Router) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		reply := &busReplier{bus: msgBus, channel: msg.Channel, chatID: msg.ChatID}
		router.HandleOperator(ctx, msg.Content, reply)
	}
}

// meshTrafficNotifier mirrors mesh text traffic to the operator channels so
// a Telegram operator sees the channel chatter the radio hears. It runs on
// transport reader goroutines, so it never blocks on a full queue.
func meshTrafficNotifier(msgBus *bus.MessageBus, directory *nodes.Directory) func(*mesh.Packet) {
	return func(p *mesh.Packet) {
		if p.Text == "" || strings.HasPrefix(p.Text, "/") {
			return
		}
		line := fmt.Sprintf("[%s] %s: %s", p.Network,
			directory.GetNodeName(p.SenderID), format.Truncate(p.Text, 400))
		if !msgBus.TryPublishOutbound(bus.OutboundMessage{Content: line}) {
			logger.DebugCF("gateway", "Traffic notify dropped", map[string]any{"queued": false})
		}
	}
}

type busReplier struct {
	bus     *bus.MessageBus
	channel string
	chatID  string
}

func (b *busReplier) SendSingle(ctx context.Context, text string) error {
	return b.bus.PublishOutbound(ctx, bus.OutboundMessage{
		Channel: b.channel,
		ChatID:  b.chatID,
		Content: text,
	})
}

// SendChunks delivers the whole text at once; operator channels have no
// LoRa frame limit.
func (b *busReplier) SendChunks(ctx context.Context, text string) error {
	return b.SendSingle(ctx, text)
}

func (b *busReplier) Broadcast(ctx context.Context, text string) error {
	return b.SendSingle(ctx, text)
}

func pruneLoop(ctx context.Context, store *history.Store, retentionDays int) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		if n, err := store.Prune(retentionDays); err != nil {
			logger.WarnCF("history", "Prune failed", map[string]any{"error": err.Error()})
		} else if n > 0 {
			logger.InfoCF("history", "Old packets pruned", map[string]any{"count": n})
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func parseLogLevel(name string) logger.Level {
	switch strings.ToUpper(name) {
	case "DEBUG":
		return logger.DEBUG
	case "WARN":
		return logger.WARN
	case "ERROR":
		return logger.ERROR
	default:
		return logger.INFO
	}
}
