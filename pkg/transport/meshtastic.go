// Package transport implements the radio-facing side of the gateway: one
// link driver per mesh network, each feeding raw envelopes into the shared
// registry callback.
package transport

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	pb "github.com/meshnet-gophers/meshtastic-go/meshtastic"
	"go.bug.st/serial"
	"google.golang.org/protobuf/proto"

	"github.com/tinyland-inc/meshclaw/pkg/config"
	"github.com/tinyland-inc/meshclaw/pkg/logger"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
	"github.com/tinyland-inc/meshclaw/pkg/nodes"
)

// Meshtastic stream framing: 0x94 0xC3, big-endian length, protobuf body.
const (
	streamMagic1 = 0x94
	streamMagic2 = 0xC3
	maxFrameLen  = 512

	serialBaudRate = 115200
)

// Meshtastic drives a Meshtastic radio over serial or TCP.
type Meshtastic struct {
	cfg       config.MeshtasticConfig
	registry  *mesh.Registry
	directory *nodes.Directory

	writeMu sync.Mutex
	conn    io.ReadWriteCloser

	localNode atomic.Uint32
	packetID  atomic.Uint32

	// heartbeat is overridable for tests.
	heartbeat time.Duration
}

func NewMeshtastic(cfg config.MeshtasticConfig, registry *mesh.Registry, directory *nodes.Directory) (*Meshtastic, error) {
	t := &Meshtastic{
		cfg:       cfg,
		registry:  registry,
		directory: directory,
		heartbeat: 5 * time.Minute,
	}

	var seed [4]byte
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("seed packet id: %w", err)
	}
	t.packetID.Store(binary.BigEndian.Uint32(seed[:]))
	return t, nil
}

func (t *Meshtastic) Kind() mesh.TransportKind { return mesh.KindMeshtastic }

// LocalNodeID returns the radio's node number, or the broadcast sentinel
// until the device has reported it.
func (t *Meshtastic) LocalNodeID() uint32 {
	if n := t.localNode.Load(); n != 0 {
		return n
	}
	return mesh.BroadcastAddr
}

// Run connects and keeps reconnecting until the context is cancelled.
func (t *Meshtastic) Run(ctx context.Context) {
	backoff := 5 * time.Second
	for ctx.Err() == nil {
		err := t.session(ctx)
		if ctx.Err() != nil {
			return
		}
		logger.WarnCF("meshtastic", "Link lost, reconnecting", map[string]any{
			"error": errString(err),
			"wait":  backoff.String(),
		})
		t.registry.Detach(mesh.NetworkMeshtastic)

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

// session runs one connection lifetime: dial, handshake, read until error.
func (t *Meshtastic) session(ctx context.Context) error {
	conn, err := t.dial()
	if err != nil {
		return err
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

	if err := t.requestConfig(); err != nil {
		return fmt.Errorf("want_config: %w", err)
	}
	if err := t.registry.Attach(t); err != nil {
		return err
	}
	logger.InfoCF("meshtastic", "Connected", map[string]any{"link": t.linkName()})

	// The heartbeat stops with this session; the next session starts its
	// own. Tying it to the run context instead would leak one loop per
	// reconnect.
	sessionCtx, stopHeartbeat := context.WithCancel(ctx)
	defer stopHeartbeat()
	go t.heartbeatLoop(sessionCtx)

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		body, err := readStreamFrame(conn)
		if err != nil {
			return err
		}
		t.handleFrame(body)
	}
}

func (t *Meshtastic) dial() (io.ReadWriteCloser, error) {
	if t.cfg.SerialDevice != "" {
		port, err := serial.Open(t.cfg.SerialDevice, &serial.Mode{BaudRate: serialBaudRate})
		if err != nil {
			return nil, fmt.Errorf("open %s: %w", t.cfg.SerialDevice, err)
		}
		return port, nil
	}

	addr := net.JoinHostPort(t.cfg.TCPHost, strconv.Itoa(t.cfg.TCPPort))
	conn, err := net.DialTimeout("tcp", addr, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}
	return conn, nil
}

func (t *Meshtastic) linkName() string {
	if t.cfg.SerialDevice != "" {
		return t.cfg.SerialDevice
	}
	return net.JoinHostPort(t.cfg.TCPHost, strconv.Itoa(t.cfg.TCPPort))
}

func (t *Meshtastic) requestConfig() error {
	return t.writeToRadio(&pb.ToRadio{
		PayloadVariant: &pb.ToRadio_WantConfigId{WantConfigId: t.nextNonZeroID()},
	})
}

// heartbeatLoop keeps TCP links from idling out; the firmware expects one
// every few minutes.
func (t *Meshtastic) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(t.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := t.writeToRadio(&pb.ToRadio{
				PayloadVariant: &pb.ToRadio_Heartbeat{Heartbeat: &pb.Heartbeat{}},
			})
			if err != nil {
				return
			}
		}
	}
}

func (t *Meshtastic) handleFrame(body []byte) {
	var fr pb.FromRadio
	if err := proto.Unmarshal(body, &fr); err != nil {
		logger.DebugCF("meshtastic", "Undecodable frame dropped", map[string]any{"error": err.Error()})
		return
	}

	if my := fr.GetMyInfo(); my != nil && my.GetMyNodeNum() != 0 {
		t.localNode.Store(my.GetMyNodeNum())
		logger.InfoCF("meshtastic", "Local node identified", map[string]any{
			"node": fmt.Sprintf("!%08x", my.GetMyNodeNum()),
		})
	}

	if info := fr.GetNodeInfo(); info != nil {
		t.upsertNodeInfo(info)
	}

	if packet := fr.GetPacket(); packet != nil {
		t.handleMeshPacket(packet)
	}
}

func (t *Meshtastic) upsertNodeInfo(info *pb.NodeInfo) {
	if info.GetNum() == 0 {
		return
	}
	user := info.GetUser()
	t.directory.Upsert(nodes.Node{
		ID:        info.GetNum(),
		LongName:  strings.TrimSpace(user.GetLongName()),
		ShortName: strings.TrimSpace(user.GetShortName()),
		PublicKey: user.GetPublicKey(),
		Network:   mesh.NetworkMeshtastic,
	})
}

func (t *Meshtastic) handleMeshPacket(packet *pb.MeshPacket) {
	decoded := packet.GetDecoded()
	if decoded == nil {
		return
	}

	switch decoded.GetPortnum() {
	case pb.PortNum_TEXT_MESSAGE_APP:
		text := strings.TrimSpace(string(decoded.GetPayload()))
		env := mesh.RawEnvelope{
			From:         packet.GetFrom(),
			To:           packet.GetTo(),
			Text:         text,
			ChannelIndex: packet.GetChannel(),
			HopLimit:     packet.GetHopLimit(),
			HopStart:     packet.GetHopStart(),
			RxSNR:        float64(packet.GetRxSnr()),
			RxRSSI:       int(packet.GetRxRssi()),
			RxTime:       packetTime(packet.GetRxTime()),
		}
		t.directory.Touch(packet.GetFrom(), mesh.NetworkMeshtastic)
		t.registry.RouteInbound(env, t)

	case pb.PortNum_NODEINFO_APP:
		var user pb.User
		if err := proto.Unmarshal(decoded.GetPayload(), &user); err != nil {
			return
		}
		if packet.GetFrom() == 0 {
			return
		}
		t.directory.Upsert(nodes.Node{
			ID:        packet.GetFrom(),
			LongName:  strings.TrimSpace(user.GetLongName()),
			ShortName: strings.TrimSpace(user.GetShortName()),
			PublicKey: user.GetPublicKey(),
			Network:   mesh.NetworkMeshtastic,
		})

	default:
		t.directory.Touch(packet.GetFrom(), mesh.NetworkMeshtastic)
	}
}

// SendText transmits one text frame, direct or broadcast.
func (t *Meshtastic) SendText(_ context.Context, text string, dest uint32, channel uint32) error {
	packet := &pb.MeshPacket{
		To:      dest,
		Channel: channel,
		Id:      t.nextNonZeroID(),
		WantAck: dest != mesh.BroadcastAddr,
		PayloadVariant: &pb.MeshPacket_Decoded{Decoded: &pb.Data{
			Portnum: pb.PortNum_TEXT_MESSAGE_APP,
			Payload: []byte(text),
		}},
	}
	return t.writeToRadio(&pb.ToRadio{
		PayloadVariant: &pb.ToRadio_Packet{Packet: packet},
	})
}

func (t *Meshtastic) writeToRadio(msg *pb.ToRadio) error {
	body, err := proto.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal toradio: %w", err)
	}
	if len(body) > maxFrameLen {
		return fmt.Errorf("frame too large: %d", len(body))
	}

	frame := make([]byte, 4+len(body))
	frame[0] = streamMagic1
	frame[1] = streamMagic2
	binary.BigEndian.PutUint16(frame[2:4], uint16(len(body)))
	copy(frame[4:], body)

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	if t.conn == nil {
		return mesh.ErrNoTransport
	}
	_, err = t.conn.Write(frame)
	return err
}

func (t *Meshtastic) nextNonZeroID() uint32 {
	for {
		if id := t.packetID.Add(1); id != 0 {
			return id
		}
	}
}

// readStreamFrame scans for the two magic bytes, then reads one
// length-prefixed protobuf body. Garbage between frames (boot logs on
// serial links) is skipped byte by byte.
func readStreamFrame(r io.Reader) ([]byte, error) {
	var b [1]byte
	for {
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		if b[0] != streamMagic1 {
			continue
		}
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		if b[0] != streamMagic2 {
			continue
		}

		var lenBuf [2]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			return nil, err
		}
		size := binary.BigEndian.Uint16(lenBuf[:])
		if size > maxFrameLen {
			// Framing slipped; resync on the next magic byte.
			continue
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, err
		}
		return body, nil
	}
}

func packetTime(epochSec uint32) time.Time {
	if epochSec == 0 {
		return time.Now()
	}
	return time.Unix(int64(epochSec), 0)
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
