// Package scheduler fires cron-driven broadcast announcements onto the
// mesh: morning greetings, net reminders, beacon texts.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/adhocore/gronx"

	"github.com/tinyland-inc/meshclaw/pkg/config"
	"github.com/tinyland-inc/meshclaw/pkg/logger"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
)

// Sender transmits one scheduled broadcast. The router's SendBroadcast
// satisfies it.
type Sender func(ctx context.Context, text string, tag mesh.NetworkTag) error

type entry struct {
	cron    string
	text    string
	tag     mesh.NetworkTag
	lastRun time.Time
}

type Scheduler struct {
	entries []*entry
	send    Sender
	gron    *gronx.Gronx

	// tick is overridable for tests.
	tick time.Duration
}

// New validates every configured expression up front so a typo is caught
// at startup, not at 9am.
func New(cfg config.SchedulerConfig, send Sender) (*Scheduler, error) {
	g := gronx.New()

	s := &Scheduler{
		send: send,
		gron: g,
		tick: 30 * time.Second,
	}

	for i, b := range cfg.Broadcasts {
		if !g.IsValid(b.Cron) {
			return nil, fmt.Errorf("broadcasts[%d]: invalid cron %q", i, b.Cron)
		}
		s.entries = append(s.entries, &entry{
			cron: b.Cron,
			text: b.Text,
			tag:  networkTag(b.Network),
		})
	}
	return s, nil
}

func networkTag(name string) mesh.NetworkTag {
	switch name {
	case "meshtastic":
		return mesh.NetworkMeshtastic
	case "meshcore":
		return mesh.NetworkMeshCore
	default:
		return mesh.NetworkUnknown
	}
}

// Run blocks until the context is cancelled, firing due entries. Each
// entry fires at most once per minute regardless of tick granularity.
func (s *Scheduler) Run(ctx context.Context) {
	if len(s.entries) == 0 {
		return
	}
	logger.InfoCF("scheduler", "Scheduler running", map[string]any{"entries": len(s.entries)})

	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.fireDue(ctx, now)
		}
	}
}

func (s *Scheduler) fireDue(ctx context.Context, now time.Time) {
	for _, e := range s.entries {
		if now.Sub(e.lastRun) < time.Minute {
			continue
		}
		due, err := s.gron.IsDue(e.cron, now)
		if err != nil || !due {
			continue
		}
		e.lastRun = now

		logger.InfoCF("scheduler", "Scheduled broadcast", map[string]any{
			"cron": e.cron,
			"text": e.text,
		})
		if err := s.send(ctx, e.text, e.tag); err != nil {
			logger.WarnCF("scheduler", "Broadcast failed", map[string]any{
				"cron":  e.cron,
				"error": err.Error(),
			})
		}
	}
}
