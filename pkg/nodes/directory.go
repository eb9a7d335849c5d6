// Package nodes maintains the in-process node directory: every node either
// transport has heard about, with names and public keys. It replaces the
// ambient module-level registries of earlier bots with one explicit struct
// owned by the gateway and passed by reference; a long-running daemon needs
// no teardown.
package nodes

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/tinyland-inc/meshclaw/pkg/format"
	"github.com/tinyland-inc/meshclaw/pkg/mesh"
)

// Node is one known mesh participant.
type Node struct {
	ID        uint32
	LongName  string
	ShortName string
	// PublicKey may be raw bytes, hex text or base64 text depending on
	// which transport reported it; lookups normalize before comparing.
	PublicKey []byte
	Network   mesh.NetworkTag
	LastHeard time.Time
}

// Directory is a concurrency-safe node registry shared by both transports.
type Directory struct {
	mu    sync.RWMutex
	nodes map[uint32]*Node
}

func NewDirectory() *Directory {
	return &Directory{nodes: make(map[uint32]*Node)}
}

// Upsert merges info about a node, keeping existing fields that the update
// does not carry.
func (d *Directory) Upsert(n Node) {
	d.mu.Lock()
	defer d.mu.Unlock()

	existing, ok := d.nodes[n.ID]
	if !ok {
		cp := n
		if cp.LastHeard.IsZero() {
			cp.LastHeard = time.Now()
		}
		d.nodes[n.ID] = &cp
		return
	}

	if n.LongName != "" {
		existing.LongName = n.LongName
	}
	if n.ShortName != "" {
		existing.ShortName = n.ShortName
	}
	if len(n.PublicKey) > 0 {
		existing.PublicKey = n.PublicKey
	}
	if n.Network != "" && n.Network != mesh.NetworkUnknown {
		existing.Network = n.Network
	}
	if !n.LastHeard.IsZero() {
		existing.LastHeard = n.LastHeard
	} else {
		existing.LastHeard = time.Now()
	}
}

// Touch updates only the last-heard time for a node, creating a bare entry
// when unknown.
func (d *Directory) Touch(id uint32, tag mesh.NetworkTag) {
	if id == 0 || id == mesh.BroadcastAddr {
		return
	}
	d.Upsert(Node{ID: id, Network: tag, LastHeard: time.Now()})
}

// GetNodeName returns the best display name known for id.
func (d *Directory) GetNodeName(id uint32) string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if n, ok := d.nodes[id]; ok {
		if n.LongName != "" {
			return n.LongName
		}
		if n.ShortName != "" {
			return n.ShortName
		}
	}
	return format.NodeID(id)
}

// FindNodeByPubkeyPrefix maps a hex public-key prefix to a node id,
// case-insensitively and regardless of the stored key encoding.
func (d *Directory) FindNodeByPubkeyPrefix(prefix string) (uint32, bool) {
	prefix = strings.ToLower(strings.TrimSpace(prefix))
	if prefix == "" {
		return 0, false
	}

	d.mu.RLock()
	defer d.mu.RUnlock()

	for _, n := range d.nodes {
		keyHex := mesh.NormalizeKeyHex(n.PublicKey)
		if keyHex != "" && strings.HasPrefix(keyHex, prefix) {
			return n.ID, true
		}
	}
	return 0, false
}

// Get returns a copy of the node entry.
func (d *Directory) Get(id uint32) (Node, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	n, ok := d.nodes[id]
	if !ok {
		return Node{}, false
	}
	return *n, true
}

// List returns all known nodes, most recently heard first.
func (d *Directory) List() []Node {
	d.mu.RLock()
	out := make([]Node, 0, len(d.nodes))
	for _, n := range d.nodes {
		out = append(out, *n)
	}
	d.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].LastHeard.After(out[j].LastHeard) })
	return out
}

// CountByNetwork returns how many known nodes were last heard per network.
func (d *Directory) CountByNetwork() map[mesh.NetworkTag]int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	counts := make(map[mesh.NetworkTag]int)
	for _, n := range d.nodes {
		counts[n.Network]++
	}
	return counts
}
