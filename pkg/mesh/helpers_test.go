package mesh

import (
	"context"
	"sync"
)

// fakeTransport records outbound sends and plays the role of a live radio
// link for router and registry tests.
type fakeTransport struct {
	kind    TransportKind
	localID uint32

	mu    sync.Mutex
	sends []fakeSend
	fail  error
}

type fakeSend struct {
	text    string
	dest    uint32
	channel uint32
}

func newFakeTransport(kind TransportKind, localID uint32) *fakeTransport {
	return &fakeTransport{kind: kind, localID: localID}
}

func (f *fakeTransport) Kind() TransportKind { return f.kind }
func (f *fakeTransport) LocalNodeID() uint32 { return f.localID }

func (f *fakeTransport) SendText(_ context.Context, text string, dest uint32, channel uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return f.fail
	}
	f.sends = append(f.sends, fakeSend{text: text, dest: dest, channel: channel})
	return nil
}

func (f *fakeTransport) sentTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.sends))
	for i, s := range f.sends {
		out[i] = s.text
	}
	return out
}

func (f *fakeTransport) lastSend() (fakeSend, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sends) == 0 {
		return fakeSend{}, false
	}
	return f.sends[len(f.sends)-1], true
}

// fakeNodes is a static node directory keyed by hex pubkey.
type fakeNodes struct {
	names    map[uint32]string
	prefixes map[string]uint32 // full lowercase hex key -> id
}

func (f *fakeNodes) GetNodeName(id uint32) string {
	if name, ok := f.names[id]; ok {
		return name
	}
	return "unknown"
}

func (f *fakeNodes) FindNodeByPubkeyPrefix(prefix string) (uint32, bool) {
	for key, id := range f.prefixes {
		if len(prefix) <= len(key) && key[:len(prefix)] == prefix {
			return id, true
		}
	}
	return 0, false
}
