package realtime

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/wayfarerhq/wayfarer/internal/protocol"
)

// fakeTransport records sends and lets tests inject server events.
type fakeTransport struct {
	mu         sync.Mutex
	sent       []any
	connected  bool
	connectErr error
	rejectAll  bool
	events     chan any
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{events: make(chan any, 64)}
}

func (f *fakeTransport) Connect(_ context.Context, _ string) error {
	if f.connectErr != nil {
		return f.connectErr
	}
	f.mu.Lock()
	f.connected = true
	f.mu.Unlock()
	return nil
}

func (f *fakeTransport) SendEventSafe(event any) bool {
	raw, err := json.Marshal(event)
	if err != nil {
		return false
	}
	var env protocol.Envelope
	if err := json.Unmarshal(raw, &env); err != nil || !protocol.IsAllowedClientEvent(env.Type) {
		return false
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rejectAll {
		return false
	}
	f.sent = append(f.sent, event)
	return true
}

func (f *fakeTransport) Events() <-chan any { return f.events }

func (f *fakeTransport) Connected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeTransport) Codec() string { return "opus" }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	return nil
}

func (f *fakeTransport) sentEvents() []any {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]any, len(f.sent))
	copy(out, f.sent)
	return out
}

func (f *fakeTransport) sentTypes() []protocol.EventType {
	var types []protocol.EventType
	for _, ev := range f.sentEvents() {
		raw, _ := json.Marshal(ev)
		var env protocol.Envelope
		_ = json.Unmarshal(raw, &env)
		types = append(types, env.Type)
	}
	return types
}

func (f *fakeTransport) countType(t protocol.EventType) int {
	n := 0
	for _, typ := range f.sentTypes() {
		if typ == t {
			n++
		}
	}
	return n
}
