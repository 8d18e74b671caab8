package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
)

// Emitted is one outbound event recorded by the fake.
type Emitted struct {
	Event string
	Data  json.RawMessage
}

// Fake is an in-memory Channel for tests: outbound emits are recorded,
// inbound pushes are injected with Push and delivered synchronously.
type Fake struct {
	mu       sync.Mutex
	handlers map[string]map[int]Handler
	nextID   int
	emitted  []Emitted
	closed   bool
}

func NewFake() *Fake {
	return &Fake{handlers: make(map[string]map[int]Handler)}
}

func (f *Fake) Emit(_ context.Context, event string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = b
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return fmt.Errorf("emit %s: channel closed", event)
	}
	f.emitted = append(f.emitted, Emitted{Event: event, Data: data})
	return nil
}

func (f *Fake) Subscribe(event string, h Handler) func() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.handlers[event] == nil {
		f.handlers[event] = make(map[int]Handler)
	}
	id := f.nextID
	f.nextID++
	f.handlers[event][id] = h

	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.handlers[event], id)
	}
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	clear(f.handlers)
	return nil
}

// Push delivers an inbound server event to current subscribers.
func (f *Fake) Push(event string, payload any) error {
	var data json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("marshal %s payload: %w", event, err)
		}
		data = b
	}

	f.mu.Lock()
	hs := make([]Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
	return nil
}

// PushRaw delivers a raw payload, useful for malformed-push tests.
func (f *Fake) PushRaw(event string, data json.RawMessage) {
	f.mu.Lock()
	hs := make([]Handler, 0, len(f.handlers[event]))
	for _, h := range f.handlers[event] {
		hs = append(hs, h)
	}
	f.mu.Unlock()

	for _, h := range hs {
		h(data)
	}
}

// Emitted returns a copy of everything emitted so far.
func (f *Fake) Emitted() []Emitted {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Emitted, len(f.emitted))
	copy(out, f.emitted)
	return out
}

// EmittedNamed returns the payloads of every emit of one event.
func (f *Fake) EmittedNamed(event string) []json.RawMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []json.RawMessage
	for _, e := range f.emitted {
		if e.Event == event {
			out = append(out, e.Data)
		}
	}
	return out
}

// SubscriberCount reports how many listeners an event currently has.
func (f *Fake) SubscriberCount(event string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers[event])
}
