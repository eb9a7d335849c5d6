package history

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/meshclaw/pkg/mesh"
)

func testStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func observe(s *Store, p mesh.Packet) {
	s.Observer()(&p)
}

func TestObserverPersistsPackets(t *testing.T) {
	s := testStore(t)

	observe(s, mesh.Packet{
		SenderID:   0x0de3331e,
		Text:       "/echo hi",
		Network:    mesh.NetworkMeshtastic,
		Class:      mesh.DeliveryBroadcast,
		SenderName: "Tigro",
		RxSNR:      8.5,
		RxRSSI:     -90,
	})

	recs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, uint32(0x0de3331e), recs[0].SenderID)
	assert.Equal(t, "meshtastic", recs[0].Network)
	assert.Equal(t, "broadcast", recs[0].Class)
}

func TestCountSinceGroupsByNetwork(t *testing.T) {
	s := testStore(t)
	observe(s, mesh.Packet{Network: mesh.NetworkMeshtastic, Text: "a"})
	observe(s, mesh.Packet{Network: mesh.NetworkMeshtastic, Text: "b"})
	observe(s, mesh.Packet{Network: mesh.NetworkMeshCore, Text: "c"})

	counts, err := s.CountSince(time.Now().Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts["meshtastic"])
	assert.Equal(t, int64(1), counts["meshcore"])
}

func TestTopSenders(t *testing.T) {
	s := testStore(t)
	for i := 0; i < 3; i++ {
		observe(s, mesh.Packet{SenderID: 1, SenderName: "busy", Text: "x", Network: mesh.NetworkMeshtastic})
	}
	observe(s, mesh.Packet{SenderID: 2, SenderName: "quiet", Text: "y", Network: mesh.NetworkMeshtastic})

	top, err := s.TopSenders(time.Now().Add(-time.Hour), 5)
	require.NoError(t, err)
	require.NotEmpty(t, top)
	assert.Equal(t, uint32(1), top[0].SenderID)
	assert.Equal(t, int64(3), top[0].Count)
}

func TestPrune(t *testing.T) {
	s := testStore(t)
	old := PacketRecord{CreatedAt: time.Now().AddDate(0, 0, -40), Text: "stale"}
	require.NoError(t, s.db.Create(&old).Error)
	observe(s, mesh.Packet{Text: "fresh"})

	deleted, err := s.Prune(30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), deleted)

	recs, err := s.Recent(10)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "fresh", recs[0].Text)

	// Zero retention keeps everything.
	deleted, err = s.Prune(0)
	require.NoError(t, err)
	assert.Zero(t, deleted)
}
