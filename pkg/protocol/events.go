package protocol

import (
	"encoding/json"
	"fmt"
)

// Outbound event names (client -> server).
const (
	EventCreateParty        = "create_party"
	EventJoinParty          = "join_party"
	EventLeaveParty         = "leave_party"
	EventStartGame          = "start_game"
	EventSubmitCode         = "submit_code"
	EventCodeUpdate         = "code_update"
	EventConsoleUpdate      = "console_update"
	EventChatMessage        = "chat_message"
	EventRetrieveTime       = "retrieve_time"
	EventRetrievePlayers    = "retrieve_players"
	EventRetrieveCode       = "retrieve_code"
	EventSkipProblem        = "skip_problem"
	EventStartNextRound     = "start_next_round"
	EventReportProblem      = "report_problem"
	EventLeaveSpectateRooms = "leave_spectate_rooms"
)

// Inbound event names (server -> client).
const (
	EventPartyCreated     = "party_created"
	EventPlayerJoined     = "player_joined"
	EventPlayerLeft       = "player_left"
	EventPlayersUpdate    = "players_update"
	EventSendPlayers      = "send_players"
	EventGameStarted      = "game_started"
	EventUpdateTime       = "update_time"
	EventCodeSubmitted    = "code_submitted"
	EventPassedAll        = "passed_all"
	EventUpdatedCode      = "updated_code"
	EventUpdatedConsole   = "updated_console"
	EventMessageReceived  = "message_received"
	EventPlayerSubmit     = "player_submit"
	EventAnnouncement     = "announcement"
	EventRoundLeaderboard = "round_leaderboard"
	EventFinalLeaderboard = "final_leaderboard"
	EventGameOver         = "game_over"
	EventError            = "error"
)

// Envelope is the single frame format on the wire: a named event plus its
// JSON payload. Events with no payload omit Data.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewEnvelope marshals payload into an Envelope for event. A nil payload
// produces an envelope with no data.
func NewEnvelope(event string, payload any) (Envelope, error) {
	env := Envelope{Event: event}
	if payload == nil {
		return env, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, fmt.Errorf("marshal %s payload: %w", event, err)
	}
	env.Data = data
	return env, nil
}
