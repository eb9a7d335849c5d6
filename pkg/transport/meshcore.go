package transport

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tinyland-inc/meshclaw/pkg/config"
	"github.com/tinyland-inc/meshclaw/pkg/logger"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
	"github.com/tinyland-inc/meshclaw/pkg/nodes"
)

// MeshCore companion-radio wire protocol: commands go out as
// 0x3c + LE length + payload, responses come back as 0x3e + LE length +
// payload. The first payload byte is the command/response code.
const (
	frameOut = 0x3c
	frameIn  = 0x3e

	maxMeshCoreFrame = 4096

	cmdAppStart          = 0x01
	cmdSendTxtMsg        = 0x02
	cmdSendChannelTxtMsg = 0x03
	cmdGetContacts       = 0x04
	cmdSendSelfAdvert    = 0x07
	cmdSyncNextMessage   = 0x0A
	cmdDeviceQuery       = 0x16

	respOk             = 0x00
	respErr            = 0x01
	respContactsStart  = 0x02
	respContact        = 0x03
	respEndOfContacts  = 0x04
	respSelfInfo       = 0x05
	respSent           = 0x06
	respContactMsgRecv = 0x07
	respChannelMsgRecv = 0x08
	respNoMoreMessages = 0x0A
	respDeviceInfo     = 0x0D

	pushAdvert        = 0x80
	pushPathUpdated   = 0x81
	pushSendConfirmed = 0x82
	pushMsgWaiting    = 0x83
)

// meshContact is the fixed-size contact record streamed by GetContacts.
type meshContact struct {
	PublicKey  [32]byte
	Type       byte
	Flags      byte
	OutPathLen int8
	OutPath    [64]byte
	AdvName    [32]byte
	LastAdvert uint32
	AdvLat     int32
	AdvLon     int32
	LastMod    uint32
}

// MeshCore drives a MeshCore companion radio over TCP.
type MeshCore struct {
	cfg       config.MeshCoreConfig
	registry  *mesh.Registry
	directory *nodes.Directory

	writeMu sync.Mutex
	conn    net.Conn

	localID  atomic.Uint32
	selfName string
}

func NewMeshCore(cfg config.MeshCoreConfig, registry *mesh.Registry, directory *nodes.Directory) *MeshCore {
	return &MeshCore{
		cfg:       cfg,
		registry:  registry,
		directory: directory,
	}
}

func (t *MeshCore) Kind() mesh.TransportKind { return mesh.KindMeshCore }

// LocalNodeID returns the identity derived from the radio's public key, or
// the broadcast sentinel before the handshake completes. MeshCore has no
// native numeric node ids; the gateway keys contacts by the leading four
// key bytes.
func (t *MeshCore) LocalNodeID() uint32 {
	if id := t.localID.Load(); id != 0 {
		return id
	}
	return mesh.BroadcastAddr
}

func nodeIDFromKey(key []byte) uint32 {
	if len(key) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(key[:4])
}

// Run connects and keeps reconnecting until the context is cancelled.
func (t *MeshCore) Run(ctx context.Context) {
	backoff := 5 * time.Second
	for ctx.Err() == nil {
		err := t.session(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.WarnCF("meshcore", "Link lost, reconnecting", map[string]any{
			"error": errString(err),
			"wait":  backoff.String(),
		})
		t.registry.Detach(mesh.NetworkMeshCore)

		select {
		case <-ctx.Done():
			return
		case <-time.After(backoff):
		}
		if backoff < 60*time.Second {
			backoff *= 2
		}
	}
}

func (t *MeshCore) session(ctx context.Context) error {
	addr := net.JoinHostPort(t.cfg.TCPHost, strconv.Itoa(t.cfg.TCPPort))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	t.writeMu.Lock()
	t.conn = conn
	t.writeMu.Unlock()
	defer func() {
		conn.Close()
		t.writeMu.Lock()
		t.conn = nil
		t.writeMu.Unlock()
	}()

	if err := t.handshake(conn); err != nil {
		return fmt.Errorf("handshake: %w", err)
	}
	if err := t.syncContacts(conn); err != nil {
		return fmt.Errorf("contact sync: %w", err)
	}
	if err := t.registry.Attach(t); err != nil {
		return err
	}
	logger.InfoCF("meshcore", "Connected", map[string]any{
		"addr": addr,
		"name": t.selfName,
	})

	// Drain anything queued while we were away, then read pushes.
	if err := t.sendCommand(cmdSyncNextMessage); err != nil {
		return err
	}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		frame, err := readMeshCoreFrame(conn)
		if err != nil {
			return err
		}
		t.handleFrame(frame)
	}
}

// handshake sends AppStart and records our identity from SELF_INFO.
// Layout per the companion protocol: cmd, appVer, 6 reserved bytes, app
// name.
func (t *MeshCore) handshake(conn net.Conn) error {
	appStart := append([]byte{cmdAppStart, 0x01, 0, 0, 0, 0, 0, 0}, []byte("meshclaw")...)
	if err := t.writeFrame(appStart); err != nil {
		return err
	}

	resp, err := readMeshCoreFrame(conn)
	if err != nil {
		return err
	}
	if len(resp) < 35 || resp[0] != respSelfInfo {
		return fmt.Errorf("expected SELF_INFO, got 0x%02x", resp[0])
	}

	// SELF_INFO: type, txPower, maxTxPower, 32-byte public key, position,
	// then the advertised name near the tail.
	key := resp[3:35]
	t.localID.Store(nodeIDFromKey(key))
	t.selfName = trailingName(resp)

	t.directory.Upsert(nodes.Node{
		ID:        nodeIDFromKey(key),
		LongName:  t.selfName,
		PublicKey: append([]byte(nil), key...),
		Network:   mesh.NetworkMeshCore,
	})
	return nil
}

// trailingName extracts the advertised node name that SELF_INFO carries
// after its fixed-size fields.
func trailingName(resp []byte) string {
	const fixed = 55
	if len(resp) <= fixed {
		return ""
	}
	return string(bytes.Trim(resp[fixed:], "\x00"))
}

// syncContacts streams the radio's contact list into the directory:
// ContactsStart, one Contact frame per entry, EndOfContacts.
func (t *MeshCore) syncContacts(conn net.Conn) error {
	if err := t.sendCommand(cmdGetContacts); err != nil {
		return err
	}

	count := 0
	for {
		resp, err := readMeshCoreFrame(conn)
		if err != nil {
			return err
		}
		if len(resp) == 0 {
			continue
		}

		switch resp[0] {
		case respContactsStart:
			// uint32 LE count follows; informational only.

		case respContact:
			var c meshContact
			if err := binary.Read(bytes.NewReader(resp[1:]), binary.LittleEndian, &c); err != nil {
				logger.DebugCF("meshcore", "Unparseable contact dropped", map[string]any{"error": err.Error()})
				continue
			}
			t.upsertContact(&c)
			count++

		case respEndOfContacts:
			logger.InfoCF("meshcore", "Contacts synced", map[string]any{"count": count})
			return nil

		default:
			// Pushes may interleave with the contact stream; skip them.
			if resp[0] >= 0x80 {
				continue
			}
		}
	}
}

func (t *MeshCore) upsertContact(c *meshContact) {
	id := nodeIDFromKey(c.PublicKey[:])
	if id == 0 {
		return
	}
	t.directory.Upsert(nodes.Node{
		ID:        id,
		LongName:  string(bytes.Trim(c.AdvName[:], "\x00")),
		PublicKey: append([]byte(nil), c.PublicKey[:]...),
		Network:   mesh.NetworkMeshCore,
		LastHeard: time.Unix(int64(c.LastMod), 0),
	})
}

func (t *MeshCore) handleFrame(frame []byte) {
	if len(frame) == 0 {
		return
	}

	switch frame[0] {
	case respContactMsgRecv:
		t.handleContactMsg(frame)
	case respChannelMsgRecv:
		t.handleChannelMsg(frame)
	case pushMsgWaiting:
		if err := t.sendCommand(cmdSyncNextMessage); err != nil {
			logger.WarnCF("meshcore", "Message sync failed", map[string]any{"error": err.Error()})
		}
	case respNoMoreMessages, respOk, respSent, pushSendConfirmed, pushPathUpdated:
		// Expected bookkeeping frames.
	case respErr:
		logger.WarnC("meshcore", "Device reported command error")
	case pushAdvert:
		logger.DebugC("meshcore", "Advert received")
	default:
		logger.DebugCF("meshcore", "Unhandled frame", map[string]any{
			"code": fmt.Sprintf("0x%02x", frame[0]),
		})
	}
}

// handleContactMsg parses a private message: 6-byte pubkey prefix,
// pathLen, txtType, uint32 LE timestamp, then text. The bot is addressed
// by key prefix, not by numeric id, so the envelope carries the direct
// override.
func (t *MeshCore) handleContactMsg(frame []byte) {
	const header = 1 + 6 + 1 + 1 + 4
	if len(frame) < header {
		return
	}
	prefix := hex.EncodeToString(frame[1:7])
	ts := binary.LittleEndian.Uint32(frame[9:13])
	text := string(frame[header:])

	env := mesh.RawEnvelope{
		From:           mesh.BroadcastAddr,
		To:             mesh.BroadcastAddr,
		Text:           text,
		DirectOverride: true,
		PubkeyPrefix:   prefix,
		RxTime:         time.Unix(int64(ts), 0),
	}
	t.registry.RouteInbound(env, t)

	// Ask for the next queued message, if any.
	if err := t.sendCommand(cmdSyncNextMessage); err != nil {
		logger.WarnCF("meshcore", "Message sync failed", map[string]any{"error": err.Error()})
	}
}

// handleChannelMsg parses a channel broadcast: int8 channel index,
// pathLen, txtType, uint32 LE timestamp, then text. Senders identify
// themselves only by a name prefix inside the text.
func (t *MeshCore) handleChannelMsg(frame []byte) {
	const header = 1 + 1 + 1 + 1 + 4
	if len(frame) < header {
		return
	}
	idx := int8(frame[1])
	ts := binary.LittleEndian.Uint32(frame[4:8])
	text := string(frame[header:])

	env := mesh.RawEnvelope{
		From:         mesh.BroadcastAddr,
		To:           mesh.BroadcastAddr,
		Text:         text,
		ChannelIndex: uint32(idx),
		RxTime:       time.Unix(int64(ts), 0),
	}
	t.registry.RouteInbound(env, t)

	if err := t.sendCommand(cmdSyncNextMessage); err != nil {
		logger.WarnCF("meshcore", "Message sync failed", map[string]any{"error": err.Error()})
	}
}

// SendText transmits one text frame. Broadcasts go to the channel;
// direct messages need the recipient's key prefix from the directory.
func (t *MeshCore) SendText(_ context.Context, text string, dest uint32, channel uint32) error {
	now := uint32(time.Now().Unix())

	var buf bytes.Buffer
	if dest == mesh.BroadcastAddr {
		buf.WriteByte(cmdSendChannelTxtMsg)
		buf.WriteByte(0) // txtType plain
		buf.WriteByte(byte(channel))
		binary.Write(&buf, binary.LittleEndian, now)
		buf.WriteString(text)
		return t.writeFrame(buf.Bytes())
	}

	node, ok := t.directory.Get(dest)
	if !ok || len(node.PublicKey) == 0 {
		return fmt.Errorf("no known key for node 0x%08x", dest)
	}
	keyHex := mesh.NormalizeKeyHex(node.PublicKey)
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) < 6 {
		return fmt.Errorf("bad key for node 0x%08x", dest)
	}

	buf.WriteByte(cmdSendTxtMsg)
	buf.WriteByte(0) // txtType plain
	buf.WriteByte(0) // attempt
	binary.Write(&buf, binary.LittleEndian, now)
	buf.Write(key[:6])
	buf.WriteString(text)
	return t.writeFrame(buf.Bytes())
}

// SendAdvert announces this node to the mesh; flood reaches beyond direct
// neighbors.
func (t *MeshCore) SendAdvert(flood bool) error {
	kind := byte(0)
	if flood {
		kind = 1
	}
	return t.writeFrame([]byte{cmdSendSelfAdvert, kind})
}

func (t *MeshCore) sendCommand(code byte) error {
	return t.writeFrame([]byte{code})
}

func (t *MeshCore) writeFrame(payload []byte) error {
	frame := make([]byte, 3+len(payload))
	frame[0] = frameOut
	binary.LittleEndian.PutUint16(frame[1:3], uint16(len(payload)))
	copy(frame[3:], payload)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return mesh.ErrNoTransport
	}
	_, err := t.conn.Write(frame)
	return err
}

func readMeshCoreFrame(r io.Reader) ([]byte, error) {
	head := make([]byte, 3)
	if _, err := io.ReadFull(r, head); err != nil {
		return nil, err
	}
	if head[0] != frameIn {
		return nil, fmt.Errorf("unexpected frame prefix 0x%02x", head[0])
	}
	size := binary.LittleEndian.Uint16(head[1:3])
	if size > maxMeshCoreFrame {
		return nil, fmt.Errorf("frame too large: %d", size)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, err
	}
	return body, nil
}
