package session

import (
	"encoding/json"

	"github.com/codeduel/client/internal/game"
)

// Msg is anything the session actor can receive: UI actions, inbound wire
// events, and timer fires. All of them are handled as discrete,
// non-preemptible steps by the single loop goroutine.
type Msg interface{ isSessionMsg() }

// UI actions.

type CreateParty struct{ Username string }

type JoinParty struct {
	Username  string
	PartyCode string
}

type StartGame struct{ Settings game.Settings }

type LeaveParty struct{}

// Edit replaces the local buffer with the editor's current text.
type Edit struct{ Text string }

// SetConsole records local run output and relays it to spectators.
type SetConsole struct{ Text string }

type Submit struct{}

type Spectate struct{ Username string }

type GoHome struct{}

type SendChat struct{ Message string }

type ContinueRound struct{}

type SkipProblem struct{}

type ReportProblem struct{}

type DismissBanner struct{ ID int }

// Watch registers a view watcher; Unwatch removes it.

type Watch struct {
	ID     string
	Outbox chan View
}

type Unwatch struct{ ID string }

// GetState reflects internal state without data races; used by tests and
// the terminal frontend.
type GetState struct{ Reply chan View }

type Shutdown struct{}

func (CreateParty) isSessionMsg()   {}
func (JoinParty) isSessionMsg()     {}
func (StartGame) isSessionMsg()     {}
func (LeaveParty) isSessionMsg()    {}
func (Edit) isSessionMsg()          {}
func (SetConsole) isSessionMsg()    {}
func (Submit) isSessionMsg()        {}
func (Spectate) isSessionMsg()      {}
func (GoHome) isSessionMsg()        {}
func (SendChat) isSessionMsg()      {}
func (ContinueRound) isSessionMsg() {}
func (SkipProblem) isSessionMsg()   {}
func (ReportProblem) isSessionMsg() {}
func (DismissBanner) isSessionMsg() {}
func (Watch) isSessionMsg()         {}
func (Unwatch) isSessionMsg()       {}
func (GetState) isSessionMsg()      {}
func (Shutdown) isSessionMsg()      {}

// Internal messages.

// inbound carries one server push from the channel read loop into the actor.
type inbound struct {
	event string
	data  json.RawMessage
}

// flushFired is the debounce delay timer firing. Stale generations are
// dropped, so at most one pending timer is ever live.
type flushFired struct{ gen int }

// tick is one second of the display-only countdown.
type tick struct{ gen int }

func (inbound) isSessionMsg()    {}
func (flushFired) isSessionMsg() {}
func (tick) isSessionMsg()       {}
