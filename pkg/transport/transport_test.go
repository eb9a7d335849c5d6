package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinyland-inc/meshclaw/pkg/config"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
	"github.com/tinyland-inc/meshclaw/pkg/nodes"
)

func TestReadStreamFrameSkipsGarbage(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte("boot log noise\r\n"))
	buf.Write([]byte{0x94}) // lone magic byte inside garbage
	buf.Write([]byte("more noise"))
	buf.Write([]byte{streamMagic1, streamMagic2, 0x00, 0x03})
	buf.Write([]byte{0xAA, 0xBB, 0xCC})

	body, err := readStreamFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xAA, 0xBB, 0xCC}, body)
}

func TestReadStreamFrameResyncsAfterBadLength(t *testing.T) {
	var buf bytes.Buffer
	// Length claims 600 bytes, above the protocol maximum.
	buf.Write([]byte{streamMagic1, streamMagic2, 0x02, 0x58})
	buf.Write([]byte{streamMagic1, streamMagic2, 0x00, 0x02, 0x01, 0x02})

	body, err := readStreamFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x01, 0x02}, body)
}

func TestReadStreamFrameEOF(t *testing.T) {
	_, err := readStreamFrame(bytes.NewReader([]byte{streamMagic1, streamMagic2, 0x00, 0x05, 0x01}))
	assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

func TestReadMeshCoreFrame(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{frameIn, 0x04, 0x00})
	buf.Write([]byte{respOk, 0x01, 0x02, 0x03})

	body, err := readMeshCoreFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, []byte{respOk, 0x01, 0x02, 0x03}, body)
}

func TestReadMeshCoreFrameRejectsBadPrefix(t *testing.T) {
	_, err := readMeshCoreFrame(bytes.NewReader([]byte{0x00, 0x01, 0x00, 0x00}))
	assert.Error(t, err)
}

func TestReadMeshCoreFrameRejectsOversize(t *testing.T) {
	head := []byte{frameIn, 0xFF, 0xFF}
	_, err := readMeshCoreFrame(bytes.NewReader(head))
	assert.Error(t, err)
}

func newTestMeshCore(t *testing.T) (*MeshCore, *mesh.Registry, *nodes.Directory, *[]mesh.RawEnvelope) {
	t.Helper()

	reg := mesh.NewRegistry()
	dir := nodes.NewDirectory()
	var seen []mesh.RawEnvelope
	reg.SetInbound(func(env mesh.RawEnvelope, _ mesh.Transport, _ mesh.NetworkTag) {
		seen = append(seen, env)
	})

	mc := NewMeshCore(config.MeshCoreConfig{TCPHost: "127.0.0.1", TCPPort: 5000}, reg, dir)
	require.NoError(t, reg.Attach(mc))
	return mc, reg, dir, &seen
}

func TestMeshCoreContactMessageRouted(t *testing.T) {
	mc, _, _, seen := newTestMeshCore(t)

	prefix := []byte{0x14, 0x3b, 0xcd, 0x7f, 0x1b, 0x1f}
	ts := uint32(1756380000)

	var frame bytes.Buffer
	frame.WriteByte(respContactMsgRecv)
	frame.Write(prefix)
	frame.WriteByte(2) // path length
	frame.WriteByte(0) // text type
	binary.Write(&frame, binary.LittleEndian, ts)
	frame.WriteString("/help")

	mc.handleFrame(frame.Bytes())

	require.Len(t, *seen, 1)
	env := (*seen)[0]
	assert.True(t, env.DirectOverride)
	assert.Equal(t, "143bcd7f1b1f", env.PubkeyPrefix)
	assert.Equal(t, "/help", env.Text)
	assert.Equal(t, mesh.BroadcastAddr, env.From)
	assert.Equal(t, time.Unix(int64(ts), 0), env.RxTime)
}

func TestMeshCoreChannelMessageRouted(t *testing.T) {
	mc, _, _, seen := newTestMeshCore(t)

	var frame bytes.Buffer
	frame.WriteByte(respChannelMsgRecv)
	frame.WriteByte(1) // channel index
	frame.WriteByte(0) // path length
	frame.WriteByte(0) // text type
	binary.Write(&frame, binary.LittleEndian, uint32(1756380000))
	frame.WriteString("Tigro: /echo hi")

	mc.handleFrame(frame.Bytes())

	require.Len(t, *seen, 1)
	env := (*seen)[0]
	assert.False(t, env.DirectOverride)
	assert.Equal(t, mesh.BroadcastAddr, env.From)
	assert.Equal(t, mesh.BroadcastAddr, env.To)
	assert.Equal(t, uint32(1), env.ChannelIndex)
	assert.Equal(t, "Tigro: /echo hi", env.Text)
}

func TestMeshCoreTruncatedFramesIgnored(t *testing.T) {
	mc, _, _, seen := newTestMeshCore(t)

	mc.handleFrame([]byte{respContactMsgRecv, 0x01, 0x02})
	mc.handleFrame([]byte{respChannelMsgRecv})
	mc.handleFrame(nil)

	assert.Empty(t, *seen)
}

// readWrittenFrame consumes one outbound frame from the far end of a pipe.
func readWrittenFrame(t *testing.T, r net.Conn) []byte {
	t.Helper()

	head := make([]byte, 3)
	_, err := io.ReadFull(r, head)
	require.NoError(t, err)
	require.Equal(t, byte(frameOut), head[0])

	body := make([]byte, binary.LittleEndian.Uint16(head[1:3]))
	_, err = io.ReadFull(r, body)
	require.NoError(t, err)
	return body
}

func TestMeshCoreSendTextBroadcast(t *testing.T) {
	mc, _, _, _ := newTestMeshCore(t)

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	mc.conn = client

	done := make(chan []byte, 1)
	go func() { done <- readWrittenFrame(t, server) }()

	err := mc.SendText(context.Background(), "hello mesh", mesh.BroadcastAddr, 1)
	require.NoError(t, err)

	payload := <-done
	require.GreaterOrEqual(t, len(payload), 7)
	assert.Equal(t, byte(cmdSendChannelTxtMsg), payload[0])
	assert.Equal(t, byte(1), payload[2])
	assert.Equal(t, "hello mesh", string(payload[7:]))
}

func TestMeshCoreSendTextDirect(t *testing.T) {
	mc, _, dir, _ := newTestMeshCore(t)

	key, err := hex.DecodeString("143bcd7f1b1f00112233445566778899143bcd7f1b1f001122334455667788aa")
	require.NoError(t, err)
	dir.Upsert(nodes.Node{ID: 0x0de3331e, LongName: "Tigro", PublicKey: key, Network: mesh.NetworkMeshCore})

	client, server := net.Pipe()
	defer client.Close()
	defer server.Close()
	mc.conn = client

	done := make(chan []byte, 1)
	go func() { done <- readWrittenFrame(t, server) }()

	err = mc.SendText(context.Background(), "pong", 0x0de3331e, 0)
	require.NoError(t, err)

	payload := <-done
	require.GreaterOrEqual(t, len(payload), 13)
	assert.Equal(t, byte(cmdSendTxtMsg), payload[0])
	assert.Equal(t, key[:6], payload[7:13])
	assert.Equal(t, "pong", string(payload[13:]))
}

func TestMeshCoreSendTextUnknownRecipient(t *testing.T) {
	mc, _, _, _ := newTestMeshCore(t)

	err := mc.SendText(context.Background(), "pong", 0x12345678, 0)
	assert.Error(t, err)
}

func TestMeshCoreLocalIDBeforeHandshake(t *testing.T) {
	mc := NewMeshCore(config.MeshCoreConfig{}, mesh.NewRegistry(), nodes.NewDirectory())
	assert.Equal(t, mesh.BroadcastAddr, mc.LocalNodeID())
}

func TestMeshtasticHeartbeatStopsWithSession(t *testing.T) {
	mt, err := NewMeshtastic(config.MeshtasticConfig{TCPHost: "127.0.0.1"}, mesh.NewRegistry(), nodes.NewDirectory())
	require.NoError(t, err)
	mt.heartbeat = 10 * time.Millisecond

	client, radio := net.Pipe()
	defer client.Close()
	defer radio.Close()
	mt.conn = client

	sessionCtx, stop := context.WithCancel(context.Background())
	go mt.heartbeatLoop(sessionCtx)

	// A heartbeat arrives while the session is live.
	require.NoError(t, radio.SetReadDeadline(time.Now().Add(time.Second)))
	_, err = readStreamFrame(radio)
	require.NoError(t, err)

	// Ending the session stops the loop. A tick already in flight may
	// still land, then the link goes quiet.
	stop()
	giveUp := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, radio.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
		if _, err := readStreamFrame(radio); err != nil {
			break
		}
		if time.Now().After(giveUp) {
			t.Fatal("heartbeat loop kept writing after session end")
		}
	}
}

func TestMeshtasticLocalIDBeforeHandshake(t *testing.T) {
	mt, err := NewMeshtastic(config.MeshtasticConfig{TCPHost: "127.0.0.1"}, mesh.NewRegistry(), nodes.NewDirectory())
	require.NoError(t, err)
	assert.Equal(t, mesh.BroadcastAddr, mt.LocalNodeID())
}
