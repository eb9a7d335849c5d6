package channels

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"

	"github.com/tinyland-inc/meshclaw/pkg/bus"
	"github.com/tinyland-inc/meshclaw/pkg/logger"
)

// CLIChannel is the local operator console: a readline loop feeding the bus
// and printing whatever the gateway sends back.
type CLIChannel struct {
	*BaseChannel

	rl     *readline.Instance
	cancel context.CancelFunc
}

func NewCLIChannel(mb *bus.MessageBus) *CLIChannel {
	return &CLIChannel{
		BaseChannel: NewBaseChannel("cli", mb, nil),
	}
}

func (c *CLIChannel) Start(ctx context.Context) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "mesh> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".meshclaw_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("readline init: %w", err)
	}
	c.rl = rl

	loopCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.SetRunning(true)

	go c.readLoop(loopCtx)
	return nil
}

func (c *CLIChannel) readLoop(ctx context.Context) {
	defer c.SetRunning(false)

	for {
		line, err := c.rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				logger.InfoC("cli", "Console closed")
				return
			}
			fmt.Printf("Error reading input: %v\n", err)
			continue
		}
		if ctx.Err() != nil {
			return
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}

		c.HandleMessage("", "operator", "console", input, nil)
	}
}

func (c *CLIChannel) Send(_ context.Context, msg bus.OutboundMessage) error {
	if c.rl != nil {
		// Writing through readline keeps the prompt intact.
		fmt.Fprintf(c.rl.Stdout(), "%s\n", msg.Content)
		return nil
	}
	fmt.Println(msg.Content)
	return nil
}

func (c *CLIChannel) Stop(ctx context.Context) error {
	if c.cancel != nil {
		c.cancel()
	}
	if c.rl != nil {
		c.rl.Close()
	}
	c.SetRunning(false)
	return nil
}
