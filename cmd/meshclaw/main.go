package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/tinyland-inc/meshclaw/cmd/meshclaw/internal"
	"github.com/tinyland-inc/meshclaw/cmd/meshclaw/internal/gateway"
	"github.com/tinyland-inc/meshclaw/cmd/meshclaw/internal/status"
	"github.com/tinyland-inc/meshclaw/cmd/meshclaw/internal/version"
)

func NewMeshclawCommand() *cobra.Command {
	short := fmt.Sprintf("%s meshclaw - LoRa mesh chat bot v%s\n\n", internal.Logo, internal.GetVersion())

	cmd := &cobra.Command{
		Use:     "meshclaw",
		Short:   short,
		Example: "meshclaw gateway",
	}

	cmd.AddCommand(
		gateway.NewGatewayCommand(),
		status.NewStatusCommand(),
		version.NewVersionCommand(),
	)

	return cmd
}

func main() {
	cmd := NewMeshclawCommand()
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
