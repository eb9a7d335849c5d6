package status

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/meshclaw/cmd/meshclaw/internal"
	"github.com/tinyland-inc/meshclaw/pkg/config"
)

func NewStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the configured transports and channels",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			return statusCmd()
		},
	}
}

func statusCmd() error {
	cfg, err := internal.LoadConfig()
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	fmt.Printf("%s meshclaw v%s\n\n", internal.Logo, internal.GetVersion())
	fmt.Printf("Config: %s\n\n", config.ConfigPath())

	fmt.Println("Transports:")
	if cfg.Meshtastic.Enabled {
		link := cfg.Meshtastic.SerialDevice
		if link == "" {
			link = fmt.Sprintf("%s:%d", cfg.Meshtastic.TCPHost, cfg.Meshtastic.TCPPort)
		}
		fmt.Printf("  • meshtastic: %s\n", link)
	}
	if cfg.MeshCore.Enabled {
		fmt.Printf("  • meshcore: %s:%d\n", cfg.MeshCore.TCPHost, cfg.MeshCore.TCPPort)
	}
	if !cfg.Meshtastic.Enabled && !cfg.MeshCore.Enabled {
		fmt.Println("  (none)")
	}

	fmt.Println("\nChannels:")
	enabled := false
	if cfg.Channels.Telegram.Enabled {
		fmt.Println("  • telegram")
		enabled = true
	}
	if cfg.Channels.CLI.Enabled {
		fmt.Println("  • cli")
		enabled = true
	}
	if !enabled {
		fmt.Println("  (none)")
	}

	fmt.Println("\nServices:")
	fmt.Printf("  • ai: %v\n", cfg.AI.Enabled)
	fmt.Printf("  • weather: %v\n", cfg.Weather.Enabled)
	fmt.Printf("  • history: %v\n", cfg.History.Enabled)
	fmt.Printf("  • scheduler: %v (%d announcements)\n", cfg.Scheduler.Enabled, len(cfg.Scheduler.Broadcasts))

	return nil
}
