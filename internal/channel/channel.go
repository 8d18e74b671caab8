// Package channel is the single duplex event channel between the client and
// the server: named events out, named events in. The session state machine
// is the only component that touches it.
package channel

import (
	"context"
	"encoding/json"
)

// Handler receives the raw payload of one inbound event.
type Handler func(data json.RawMessage)

// Channel is a persistent bidirectional message channel to one server
// endpoint. Subscribe returns an unsubscribe func so owners can deregister
// every listener on teardown and never handle an event twice after a
// remount.
type Channel interface {
	Emit(ctx context.Context, event string, payload any) error
	Subscribe(event string, h Handler) (unsubscribe func())
	Close() error
}
