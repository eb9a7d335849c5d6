package e2e

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/meshclaw/pkg/commands"
	"github.com/tinyland-inc/meshclaw/pkg/history"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
	"github.com/tinyland-inc/meshclaw/pkg/nodes"
)

// These tests run the whole inbound pipeline with real handlers: registry,
// resolver, echo tracker, router and the command set, with only the radio
// links stubbed out.

type send struct {
	text    string
	dest    uint32
	channel uint32
}

type stubTransport struct {
	kind  mesh.TransportKind
	local uint32
	sends []send
}

func (s *stubTransport) Kind() mesh.TransportKind { return s.kind }
func (s *stubTransport) LocalNodeID() uint32      { return s.local }
func (s *stubTransport) SendText(_ context.Context, text string, dest, channel uint32) error {
	s.sends = append(s.sends, send{text: text, dest: dest, channel: channel})
	return nil
}

type gateway struct {
	registry   *mesh.Registry
	router     *mesh.Router
	directory  *nodes.Directory
	meshtastic *stubTransport
	meshcore   *stubTransport
}

func newGateway(t *testing.T, withMeshtastic bool) *gateway {
	t.Helper()

	g := &gateway{
		registry:   mesh.NewRegistry(),
		directory:  nodes.NewDirectory(),
		meshtastic: &stubTransport{kind: mesh.KindMeshtastic, local: 0x5678},
		meshcore:   &stubTransport{kind: mesh.KindMeshCore, local: mesh.BroadcastAddr},
	}

	g.directory.Upsert(nodes.Node{
		ID:        0x0de3331e,
		LongName:  "Tigro",
		PublicKey: []byte("143bcd7f1b1f00112233445566778899"),
		Network:   mesh.NetworkMeshCore,
	})

	g.router = mesh.NewRouter(g.registry, mesh.NewResolver(g.directory), g.directory, mesh.NewEchoTracker())
	commands.Register(g.router, commands.Deps{
		Registry:  g.registry,
		Directory: g.directory,
		Version:   "e2e",
		StartedAt: time.Now(),
	})
	g.registry.SetInbound(g.router.HandleInbound)

	if withMeshtastic {
		require.NoError(t, g.registry.Attach(g.meshtastic))
	}
	require.NoError(t, g.registry.Attach(g.meshcore))
	return g
}

func lastSend(t *testing.T, tr *stubTransport) send {
	t.Helper()
	require.NotEmpty(t, tr.sends)
	return tr.sends[len(tr.sends)-1]
}

func TestScenario_DirectHelpOnMeshtastic(t *testing.T) {
	g := newGateway(t, true)

	g.registry.RouteInbound(mesh.RawEnvelope{From: 0x1111, To: 0x5678, Text: "/help"}, g.meshtastic)

	reply := lastSend(t, g.meshtastic)
	assert.Equal(t, uint32(0x1111), reply.dest)
	assert.Contains(t, reply.text, "/echo")
}

func TestScenario_MeshCoreDMResolvedByKeyPrefix(t *testing.T) {
	g := newGateway(t, true)

	g.registry.RouteInbound(mesh.RawEnvelope{
		From:           mesh.BroadcastAddr,
		To:             mesh.BroadcastAddr,
		Text:           "/myinfo",
		DirectOverride: true,
		PubkeyPrefix:   "143bcd7f1b1f",
	}, g.meshcore)

	reply := lastSend(t, g.meshcore)
	assert.Equal(t, uint32(0x0de3331e), reply.dest, "reply goes to the resolved sender")
	assert.Contains(t, reply.text, "Tigro")
}

func TestScenario_BroadcastEchoKeepsSenderName(t *testing.T) {
	g := newGateway(t, true)

	g.registry.RouteInbound(mesh.RawEnvelope{
		From: 0x1111,
		To:   mesh.BroadcastAddr,
		Text: "Tigro: /echo anyone out there?",
	}, g.meshtastic)

	reply := lastSend(t, g.meshtastic)
	assert.Equal(t, mesh.BroadcastAddr, reply.dest, "broadcast command replies publicly")
	assert.Equal(t, "Tigro: anyone out there?", reply.text)
}

func TestScenario_OwnBroadcastEchoSuppressed(t *testing.T) {
	g := newGateway(t, true)

	require.NoError(t, g.router.SendBroadcast(context.Background(), "Net check at 20:00", mesh.NetworkMeshtastic))
	sent := len(g.meshtastic.sends)

	// The radio hears the bot's own transmission and hands it back.
	g.registry.RouteInbound(mesh.RawEnvelope{
		From: 0x5678,
		To:   mesh.BroadcastAddr,
		Text: "Net check at 20:00",
	}, g.meshtastic)

	assert.Len(t, g.meshtastic.sends, sent, "echoed frame triggers nothing")
}

func TestScenario_CompanionModeRestriction(t *testing.T) {
	g := newGateway(t, false)

	g.registry.RouteInbound(mesh.RawEnvelope{
		From:           mesh.BroadcastAddr,
		To:             mesh.BroadcastAddr,
		Text:           "/stats",
		DirectOverride: true,
		PubkeyPrefix:   "143bcd7f1b1f",
	}, g.meshcore)

	reply := lastSend(t, g.meshcore)
	assert.Contains(t, reply.text, "companion mode")
	assert.Contains(t, reply.text, "/echo")
}

func TestScenario_NetworkIsolationSuggestsEquivalent(t *testing.T) {
	g := newGateway(t, true)

	g.registry.RouteInbound(mesh.RawEnvelope{
		From:           mesh.BroadcastAddr,
		To:             mesh.BroadcastAddr,
		Text:           "/nodes",
		DirectOverride: true,
		PubkeyPrefix:   "143bcd7f1b1f",
	}, g.meshcore)

	reply := lastSend(t, g.meshcore)
	assert.Contains(t, reply.text, "only available from Meshtastic")
	assert.Contains(t, reply.text, "/contacts")
}

func TestScenario_HistoryObserverRecordsTraffic(t *testing.T) {
	g := newGateway(t, true)

	store, err := history.Open(":memory:")
	require.NoError(t, err)
	defer store.Close()
	g.router.AddObserver(store.Observer())

	g.registry.RouteInbound(mesh.RawEnvelope{From: 0x1111, To: 0x5678, Text: "/help"}, g.meshtastic)
	g.registry.RouteInbound(mesh.RawEnvelope{From: 0x2222, To: 0x9999, Text: "not for us"}, g.meshtastic)

	recent, err := store.Recent(10)
	require.NoError(t, err)
	assert.Len(t, recent, 2, "dropped packets are still observed")
}

func TestScenario_OperatorCommandRunsWithoutMeshGates(t *testing.T) {
	g := newGateway(t, false)

	var replies []string
	g.router.HandleOperator(context.Background(), "/netinfo", replierFunc(func(text string) {
		replies = append(replies, text)
	}))

	require.NotEmpty(t, replies)
	assert.True(t, strings.Contains(replies[0], "Mode: companion"), replies[0])
}

type replierFunc func(text string)

func (f replierFunc) SendSingle(_ context.Context, text string) error { f(text); return nil }
func (f replierFunc) SendChunks(_ context.Context, text string) error { f(text); return nil }
func (f replierFunc) Broadcast(_ context.Context, text string) error  { f(text); return nil }
