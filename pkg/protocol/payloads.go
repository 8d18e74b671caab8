package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed marks a recognized event whose payload is missing required
// fields. A malformed push must never mutate party or round state.
var ErrMalformed = errors.New("malformed payload")

type TestCase struct {
	Input  string `json:"input"`
	Output string `json:"output"`
}

// Problem is immutable once received; a new round replaces it wholesale.
type Problem struct {
	Name              string     `json:"name"`
	Description       string     `json:"description"`
	FunctionSignature string     `json:"function_signature"`
	Difficulty        string     `json:"difficulty"`
	TestCases         []TestCase `json:"test_cases"`
}

// PlayerStatus is one roster entry: a member and whether their last graded
// submission passed every test case.
type PlayerStatus struct {
	Username string `json:"username"`
	Passed   bool   `json:"passed"`
}

type LeaderboardEntry struct {
	Username string  `json:"username"`
	Score    float64 `json:"score"`
}

// FormatEntry renders one leaderboard line, e.g. "1. bob — 9.50 pts".
func FormatEntry(rank int, e LeaderboardEntry) string {
	return fmt.Sprintf("%d. %s — %.2f pts", rank, e.Username, e.Score)
}

// <----------------- Outbound payloads ----------------->

type CreateParty struct {
	Username string `json:"username"`
}

type JoinParty struct {
	Username  string `json:"username"`
	PartyCode string `json:"party_code"`
}

type LeaveParty struct {
	PartyCode string `json:"party_code"`
	Username  string `json:"username"`
}

// StartGame carries numeric fields as strings because that is what the
// server expects; empty strings mean "use the server default".
type StartGame struct {
	PartyCode string `json:"party_code"`
	TimeLimit string `json:"time_limit"`
	Rounds    string `json:"rounds"`
	Easy      bool   `json:"easy"`
	Medium    bool   `json:"medium"`
	Hard      bool   `json:"hard"`
}

type SubmitCode struct {
	Code      string `json:"code"`
	PartyCode string `json:"party_code"`
	Username  string `json:"username"`
}

type CodeUpdate struct {
	PartyCode string `json:"party_code"`
	Code      string `json:"code"`
}

type ConsoleUpdate struct {
	PartyCode     string `json:"party_code"`
	ConsoleOutput string `json:"console_output"`
}

type ChatMessage struct {
	Message   string `json:"message"`
	PartyCode string `json:"party_code"`
	Username  string `json:"username"`
}

// PartyRef is the payload for requests that only name the party:
// retrieve_time, retrieve_players, skip_problem, start_next_round,
// report_problem, leave_spectate_rooms.
type PartyRef struct {
	PartyCode string `json:"party_code"`
}

type RetrieveCode struct {
	PartyCode string `json:"party_code"`
	Username  string `json:"username"`
}

// <----------------- Inbound payloads ----------------->

type validator interface {
	validate() error
}

// Decode unmarshals an inbound payload and checks its required fields.
// Any failure is reported as an ErrMalformed so the caller can treat it as
// a protocol error without touching state.
func Decode[T validator](event string, data json.RawMessage) (T, error) {
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w: %v", event, ErrMalformed, err)
	}
	if err := v.validate(); err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", event, err)
	}
	return v, nil
}

type PartyCreated struct {
	PartyCode string   `json:"party_code"`
	Username  string   `json:"username"`
	Members   []string `json:"members,omitempty"`
}

func (p PartyCreated) validate() error {
	if p.PartyCode == "" {
		return fmt.Errorf("%w: missing party_code", ErrMalformed)
	}
	if p.Username == "" {
		return fmt.Errorf("%w: missing username", ErrMalformed)
	}
	return nil
}

type PlayerJoined struct {
	Username string         `json:"username"`
	Players  []PlayerStatus `json:"players"`
}

func (p PlayerJoined) validate() error {
	if p.Username == "" {
		return fmt.Errorf("%w: missing username", ErrMalformed)
	}
	if p.Players == nil {
		return fmt.Errorf("%w: missing players", ErrMalformed)
	}
	return nil
}

type PlayerLeft struct {
	Username string `json:"username"`
}

func (p PlayerLeft) validate() error {
	if p.Username == "" {
		return fmt.Errorf("%w: missing username", ErrMalformed)
	}
	return nil
}

// PlayersUpdate is the full-roster push, sent as either players_update or
// send_players. The roster is replaced wholesale, never merged.
type PlayersUpdate struct {
	Players []PlayerStatus `json:"players"`
}

func (p PlayersUpdate) validate() error {
	if p.Players == nil {
		return fmt.Errorf("%w: missing players", ErrMalformed)
	}
	return nil
}

type GameStarted struct {
	Problem     *Problem `json:"problem"`
	PartyCode   string   `json:"party_code"`
	TimeLimit   string   `json:"time_limit"`
	Round       int      `json:"round,omitempty"`
	TotalRounds int      `json:"total_rounds,omitempty"`
}

func (g GameStarted) validate() error {
	if g.Problem == nil {
		return fmt.Errorf("%w: missing problem", ErrMalformed)
	}
	if g.PartyCode == "" {
		return fmt.Errorf("%w: missing party_code", ErrMalformed)
	}
	return nil
}

type UpdateTime struct {
	TimeLeft int `json:"time_left"`
}

func (u UpdateTime) validate() error {
	if u.TimeLeft < 0 {
		return fmt.Errorf("%w: negative time_left", ErrMalformed)
	}
	return nil
}

// Message is the single-field payload shared by code_submitted,
// updated_code, updated_console and announcement. For the updated_* events
// the message field carries the peer's buffer text.
type Message struct {
	Message string `json:"message"`
}

func (Message) validate() error { return nil }

type MessageReceived struct {
	Username string `json:"username"`
	Message  string `json:"message"`
}

func (m MessageReceived) validate() error {
	if m.Username == "" {
		return fmt.Errorf("%w: missing username", ErrMalformed)
	}
	return nil
}

type PlayerSubmit struct {
	Message string `json:"message"`
	Bold    bool   `json:"bold"`
	Color   string `json:"color,omitempty"`
}

func (p PlayerSubmit) validate() error {
	if p.Message == "" {
		return fmt.Errorf("%w: missing message", ErrMalformed)
	}
	return nil
}

type RoundLeaderboard struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
	Round       int                `json:"round"`
	TotalRounds int                `json:"total_rounds"`
}

func (r RoundLeaderboard) validate() error {
	if r.Leaderboard == nil {
		return fmt.Errorf("%w: missing leaderboard", ErrMalformed)
	}
	if r.Round < 1 || r.TotalRounds < 1 || r.Round > r.TotalRounds {
		return fmt.Errorf("%w: round %d of %d out of range", ErrMalformed, r.Round, r.TotalRounds)
	}
	return nil
}

type FinalLeaderboard struct {
	Leaderboard []LeaderboardEntry `json:"leaderboard"`
}

func (f FinalLeaderboard) validate() error {
	if f.Leaderboard == nil {
		return fmt.Errorf("%w: missing leaderboard", ErrMalformed)
	}
	return nil
}

type ServerError struct {
	Message string `json:"message"`
}

func (e ServerError) validate() error {
	if e.Message == "" {
		return fmt.Errorf("%w: missing message", ErrMalformed)
	}
	return nil
}
