package game

import (
	"errors"
	"slices"

	"github.com/codeduel/client/pkg/protocol"
)

var ErrAlreadyInParty = errors.New("already in a party")
var ErrNotInParty = errors.New("not in a party")
var ErrNotConfigurer = errors.New("only the party creator can start the game")
var ErrWrongPhase = errors.New("action not valid in current phase")

type Phase string

const (
	PhaseUnjoined Phase = "unjoined"
	PhaseCreated  Phase = "created"
	PhaseJoined   Phase = "joined"
	PhaseInGame   Phase = "in_game"
	PhaseRoundEnd Phase = "round_end"
	PhaseFinished Phase = "finished"
)

// InParty reports whether the client currently belongs to a party in any
// capacity, configuring or not.
func (p Phase) InParty() bool {
	return p != PhaseUnjoined
}

type Party struct {
	Code    string
	Members []string // insertion order = join order
	Host    bool     // true when the local user created (configures) the party
}

type Round struct {
	Current int
	Total   int
}

// State is the session's party/game snapshot. It is a value type: every
// transition returns a new State, in the style of an event-sourced reducer.
type State struct {
	Phase    Phase
	Party    Party
	Round    Round
	Problem  *protocol.Problem
	TimeLeft int // seconds, display-only countdown approximation
}

func NewState() State {
	return State{Phase: PhaseUnjoined}
}

// CanCreate guards the create-party request.
func (s State) CanCreate() error {
	if s.Phase != PhaseUnjoined {
		return ErrAlreadyInParty
	}
	return nil
}

// CanJoin guards the join-party request.
func (s State) CanJoin() error {
	if s.Phase != PhaseUnjoined {
		return ErrAlreadyInParty
	}
	return nil
}

// CanStart guards the start-game request: only the configuring member of a
// not-yet-started party may start.
func (s State) CanStart() error {
	switch s.Phase {
	case PhaseCreated:
		return nil
	case PhaseUnjoined:
		return ErrNotInParty
	case PhaseJoined:
		return ErrNotConfigurer
	default:
		return ErrWrongPhase
	}
}

// WithPartyCreated applies a successful party_created push.
func (s State) WithPartyCreated(code string, members []string) State {
	s.Phase = PhaseCreated
	s.Party = Party{Code: code, Members: slices.Clone(members), Host: true}
	return s
}

// WithPartyJoined applies a confirmed join.
func (s State) WithPartyJoined(code string, members []string) State {
	s.Phase = PhaseJoined
	s.Party = Party{Code: code, Members: slices.Clone(members), Host: false}
	return s
}

// WithMembers replaces the member list wholesale, preserving phase and code.
func (s State) WithMembers(members []string) State {
	s.Party.Members = slices.Clone(members)
	return s
}

func (s State) WithMemberJoined(username string) State {
	if !slices.Contains(s.Party.Members, username) {
		s.Party.Members = append(slices.Clone(s.Party.Members), username)
	}
	return s
}

func (s State) WithMemberLeft(username string) State {
	members := slices.Clone(s.Party.Members)
	if i := slices.Index(members, username); i >= 0 {
		members = slices.Delete(members, i, i+1)
	}
	s.Party.Members = members
	return s
}

// WithGameStarted applies a game_started push: new problem, confirmed round
// counters. Round advances only here, never optimistically (the server is
// authoritative for Round.Current).
func (s State) WithGameStarted(problem *protocol.Problem, round, total int) State {
	if round < 1 {
		round = 1
	}
	if total < round {
		total = round
	}
	s.Phase = PhaseInGame
	s.Problem = problem
	s.Round = Round{Current: round, Total: total}
	return s
}

// WithRoundEnd freezes play while a round leaderboard is up.
func (s State) WithRoundEnd() State {
	s.Phase = PhaseRoundEnd
	return s
}

// WithFinished is terminal for the match; only returning to the lobby or
// leaving the party exits it.
func (s State) WithFinished() State {
	s.Phase = PhaseFinished
	return s
}

// WithLobbyReturn ends the match but keeps the party: the client stays
// joined with its configuring rights intact.
func (s State) WithLobbyReturn() State {
	if s.Party.Host {
		s.Phase = PhaseCreated
	} else {
		s.Phase = PhaseJoined
	}
	s.Problem = nil
	s.Round = Round{}
	s.TimeLeft = 0
	return s
}

// WithLeft resets to a blank unjoined state. Leave is optimistic: the party
// is a server-owned resource, so the local reset never waits for an ack.
func (s State) WithLeft() State {
	return NewState()
}
