package session

import (
	"errors"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/codeduel/client/internal/chat"
	"github.com/codeduel/client/internal/editor"
	"github.com/codeduel/client/internal/game"
	"github.com/codeduel/client/internal/leaderboard"
	"github.com/codeduel/client/pkg/protocol"
)

// partyNotFound is the one protocol error that also forces a reset to the
// unjoined state, so the client never acts on a stale party code.
const partyNotFound = "Party not found"

// <----------------- UI actions ----------------->

func (s *Session) handleCreateParty(msg CreateParty) {
	if msg.Username == "" {
		s.pushBanner("Username is required.")
		return
	}
	if err := s.state.CanCreate(); err != nil {
		s.pushBanner(err.Error())
		return
	}
	s.username = msg.Username
	s.emit(protocol.EventCreateParty, protocol.CreateParty{Username: msg.Username})
}

func (s *Session) handleJoinParty(msg JoinParty) {
	if msg.Username == "" || msg.PartyCode == "" {
		s.pushBanner("Username and party code are required.")
		return
	}
	if err := s.state.CanJoin(); err != nil {
		s.pushBanner(err.Error())
		return
	}
	s.username = msg.Username
	s.pendingJoin = msg.PartyCode
	s.emit(protocol.EventJoinParty, protocol.JoinParty{Username: msg.Username, PartyCode: msg.PartyCode})
}

func (s *Session) handleStartGame(msg StartGame) {
	if err := s.state.CanStart(); err != nil {
		s.pushBanner(err.Error())
		return
	}
	// Local validation only; clearly-invalid settings never hit the wire.
	if err := msg.Settings.Validate(); err != nil {
		s.pushBanner(err.Error())
		return
	}
	s.settings = msg.Settings
	s.emit(protocol.EventStartGame, protocol.StartGame{
		PartyCode: s.state.Party.Code,
		TimeLimit: msg.Settings.TimeLimit,
		Rounds:    msg.Settings.Rounds,
		Easy:      msg.Settings.Easy,
		Medium:    msg.Settings.Medium,
		Hard:      msg.Settings.Hard,
	})
}

// handleLeaveParty is optimistic: the request goes out, the local reset
// happens regardless of any acknowledgment.
func (s *Session) handleLeaveParty() {
	if s.state.Phase.InParty() {
		s.emit(protocol.EventLeaveParty, protocol.LeaveParty{
			PartyCode: s.state.Party.Code,
			Username:  s.username,
		})
	}
	s.resetToUnjoined()
}

func (s *Session) resetToUnjoined() {
	s.disarmFlush()
	s.stopCountdown()
	s.state = s.state.WithLeft()
	s.roster.Replace(nil)
	s.chatLog = chat.NewLog()
	s.boards.RoundStarted()
	s.editor = nil
	s.running = false
	s.passed = false
	s.pendingJoin = ""
}

func (s *Session) handleEdit(msg Edit) {
	if s.state.Phase != game.PhaseInGame || s.editor == nil {
		return
	}
	directive, err := s.editor.Edit(msg.Text)
	if err != nil {
		// Spectating: the buffer is peer-owned, the edit is a no-op.
		return
	}
	s.applyDirective(directive)
}

func (s *Session) applyDirective(d editor.Directive) {
	switch d {
	case editor.FlushNow:
		s.disarmFlush()
		s.emit(protocol.EventCodeUpdate, protocol.CodeUpdate{
			PartyCode: s.state.Party.Code,
			Code:      s.editor.Flush(),
		})
	case editor.Arm:
		s.armFlush()
	case editor.Disarm:
		s.disarmFlush()
	}
}

func (s *Session) handleSetConsole(msg SetConsole) {
	if s.state.Phase != game.PhaseInGame || s.editor == nil {
		return
	}
	if err := s.editor.SetConsole(msg.Text); err != nil {
		return
	}
	s.emit(protocol.EventConsoleUpdate, protocol.ConsoleUpdate{
		PartyCode:     s.state.Party.Code,
		ConsoleOutput: msg.Text,
	})
}

func (s *Session) handleSubmit() {
	if s.state.Phase != game.PhaseInGame || s.editor == nil || s.editor.ReadOnly() || s.running {
		return
	}
	s.running = true
	_ = s.editor.SetConsole("Running code...")
	s.emit(protocol.EventSubmitCode, protocol.SubmitCode{
		Code:      s.editor.Buffer(),
		PartyCode: s.state.Party.Code,
		Username:  s.username,
	})
}

// handleSpectate gates locally: an ineligible target is rejected without a
// network round-trip.
func (s *Session) handleSpectate(msg Spectate) {
	if s.state.Phase != game.PhaseInGame || s.editor == nil {
		return
	}
	if msg.Username == s.username {
		s.handleGoHome()
		return
	}
	if err := s.roster.CanSpectate(s.username, msg.Username); err != nil {
		s.pushBanner(err.Error())
		return
	}
	wasWatching := s.editor.ReadOnly()
	directive, switched := s.editor.Spectate(msg.Username)
	if !switched {
		return
	}
	s.applyDirective(directive)
	if wasWatching {
		// Peer-to-peer switch: drop the old stream first, or its pushes
		// would paint the new peer's pane.
		s.emit(protocol.EventLeaveSpectateRooms, protocol.PartyRef{PartyCode: s.state.Party.Code})
	}
	s.emit(protocol.EventRetrieveCode, protocol.RetrieveCode{
		PartyCode: s.state.Party.Code,
		Username:  msg.Username,
	})
}

func (s *Session) handleGoHome() {
	if s.editor == nil || !s.editor.GoHome() {
		return
	}
	s.emit(protocol.EventLeaveSpectateRooms, protocol.PartyRef{PartyCode: s.state.Party.Code})
}

func (s *Session) handleSendChat(msg SendChat) {
	if msg.Message == "" || !s.state.Phase.InParty() {
		return
	}
	// The server echoes message_received to the whole room, sender
	// included, so nothing is appended locally here.
	s.emit(protocol.EventChatMessage, protocol.ChatMessage{
		Message:   msg.Message,
		PartyCode: s.state.Party.Code,
		Username:  s.username,
	})
}

func (s *Session) handleContinue() {
	switch s.boards.Continue() {
	case leaderboard.ContinueNextRound:
		// Server-confirmed progression: the counter advances when the next
		// game_started arrives, not here.
		s.emit(protocol.EventStartNextRound, protocol.PartyRef{PartyCode: s.state.Party.Code})
	case leaderboard.ContinueToLobby:
		s.stopCountdown()
		s.state = s.state.WithLobbyReturn()
	}
}

func (s *Session) handleSkip() {
	if s.state.Phase != game.PhaseInGame || !s.boards.UseSkip() {
		return
	}
	s.emit(protocol.EventSkipProblem, protocol.PartyRef{PartyCode: s.state.Party.Code})
}

func (s *Session) handleReport() {
	if s.state.Phase != game.PhaseInGame || !s.boards.UseReport() {
		return
	}
	s.emit(protocol.EventReportProblem, protocol.PartyRef{PartyCode: s.state.Party.Code})
}

// <----------------- server pushes ----------------->

func (s *Session) handlePush(msg inbound) {
	var err error
	switch msg.event {
	case protocol.EventPartyCreated:
		err = s.onPartyCreated(msg)
	case protocol.EventPlayerJoined:
		err = s.onPlayerJoined(msg)
	case protocol.EventPlayerLeft:
		err = s.onPlayerLeft(msg)
	case protocol.EventPlayersUpdate, protocol.EventSendPlayers:
		err = s.onPlayersUpdate(msg)
	case protocol.EventGameStarted:
		err = s.onGameStarted(msg)
	case protocol.EventUpdateTime:
		err = s.onUpdateTime(msg)
	case protocol.EventCodeSubmitted:
		err = s.onCodeSubmitted(msg)
	case protocol.EventPassedAll:
		s.passed = true
		s.roster.MarkPassed(s.username)
	case protocol.EventUpdatedCode:
		err = s.onUpdatedCode(msg)
	case protocol.EventUpdatedConsole:
		err = s.onUpdatedConsole(msg)
	case protocol.EventMessageReceived:
		err = s.onMessageReceived(msg)
	case protocol.EventPlayerSubmit:
		err = s.onPlayerSubmit(msg)
	case protocol.EventAnnouncement:
		err = s.onAnnouncement(msg)
	case protocol.EventRoundLeaderboard:
		err = s.onRoundLeaderboard(msg)
	case protocol.EventFinalLeaderboard:
		err = s.onFinalLeaderboard(msg)
	case protocol.EventGameOver:
		s.onGameOver()
	case protocol.EventError:
		err = s.onServerError(msg)
	}

	// Fail-safe: a malformed push surfaces an error and changes nothing.
	if errors.Is(err, protocol.ErrMalformed) {
		s.log.Warn("malformed push", zap.String("event", msg.event), zap.Error(err))
		s.pushBanner("Received a malformed " + msg.event + " update.")
	}
}

func (s *Session) onPartyCreated(msg inbound) error {
	p, err := protocol.Decode[protocol.PartyCreated](msg.event, msg.data)
	if err != nil {
		return err
	}
	members := p.Members
	if members == nil {
		members = []string{p.Username}
	}
	s.state = s.state.WithPartyCreated(p.PartyCode, members)
	statuses := make([]protocol.PlayerStatus, len(members))
	for i, m := range members {
		statuses[i] = protocol.PlayerStatus{Username: m}
	}
	s.roster.Replace(statuses)
	s.chatLog.System(fmt.Sprintf("Party created with code: %s", p.PartyCode))
	return nil
}

func (s *Session) onPlayerJoined(msg inbound) error {
	p, err := protocol.Decode[protocol.PlayerJoined](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.roster.Replace(p.Players)
	if s.pendingJoin != "" && p.Username == s.username {
		// Our own join confirmed.
		s.state = s.state.WithPartyJoined(s.pendingJoin, s.roster.Members())
		s.pendingJoin = ""
	} else {
		s.state = s.state.WithMembers(s.roster.Members())
	}
	s.chatLog.System(p.Username + " joined")
	return nil
}

func (s *Session) onPlayerLeft(msg inbound) error {
	p, err := protocol.Decode[protocol.PlayerLeft](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.roster.Remove(p.Username)
	s.state = s.state.WithMemberLeft(p.Username)
	s.chatLog.System(p.Username + " has left the party.")
	// If we were watching them, snap back home.
	if s.editor != nil && s.editor.Viewing() == p.Username {
		s.handleGoHome()
	}
	return nil
}

func (s *Session) onPlayersUpdate(msg inbound) error {
	p, err := protocol.Decode[protocol.PlayersUpdate](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.roster.Replace(p.Players)
	s.state = s.state.WithMembers(s.roster.Members())
	return nil
}

func (s *Session) onGameStarted(msg inbound) error {
	p, err := protocol.Decode[protocol.GameStarted](msg.event, msg.data)
	if err != nil {
		return err
	}
	total := p.TotalRounds
	if total == 0 && s.state.Party.Host {
		total = s.settings.RoundTotal()
	}
	s.state = s.state.WithGameStarted(p.Problem, p.Round, total)

	// Fresh round: new buffer, clean grading state, one-shot actions
	// re-armed. Chat is kept; a system line marks the boundary.
	if s.editor == nil {
		s.editor = editor.NewSession(s.username, p.Problem.FunctionSignature)
	} else {
		s.applyDirective(s.editor.Reset(p.Problem.FunctionSignature))
	}
	s.running = false
	s.passed = false
	s.roster.ResetPassed()
	s.boards.RoundStarted()
	s.chatLog.System("Game started! Problem: " + p.Problem.Name)

	s.state.TimeLeft = timeLimitSeconds(p.TimeLimit)
	s.startCountdown()
	s.emit(protocol.EventRetrieveTime, protocol.PartyRef{PartyCode: s.state.Party.Code})
	s.emit(protocol.EventRetrievePlayers, protocol.PartyRef{PartyCode: s.state.Party.Code})
	return nil
}

// timeLimitSeconds converts the wire's string minutes to seconds; blank
// falls back to the server's 15-minute default.
func timeLimitSeconds(limit string) int {
	if limit == "" {
		return 15 * 60
	}
	minutes, err := strconv.Atoi(limit)
	if err != nil || minutes < 0 {
		return 0
	}
	return minutes * 60
}

func (s *Session) onUpdateTime(msg inbound) error {
	p, err := protocol.Decode[protocol.UpdateTime](msg.event, msg.data)
	if err != nil {
		return err
	}
	// Authoritative resync of the display-only countdown.
	s.state.TimeLeft = p.TimeLeft
	s.ticksSinceSync = 0
	return nil
}

func (s *Session) onCodeSubmitted(msg inbound) error {
	p, err := protocol.Decode[protocol.Message](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.running = false
	if s.editor == nil {
		return nil
	}
	// The grading result belongs to the local user's console even if the
	// view is away on a peer when it lands.
	s.editor.SetOwnConsole(p.Message)
	s.emit(protocol.EventConsoleUpdate, protocol.ConsoleUpdate{
		PartyCode:     s.state.Party.Code,
		ConsoleOutput: p.Message,
	})
	return nil
}

func (s *Session) onUpdatedCode(msg inbound) error {
	p, err := protocol.Decode[protocol.Message](msg.event, msg.data)
	if err != nil {
		return err
	}
	if s.editor != nil {
		s.editor.ApplyRemoteCode(p.Message)
	}
	return nil
}

func (s *Session) onUpdatedConsole(msg inbound) error {
	p, err := protocol.Decode[protocol.Message](msg.event, msg.data)
	if err != nil {
		return err
	}
	if s.editor != nil {
		s.editor.ApplyRemoteConsole(p.Message)
	}
	return nil
}

func (s *Session) onMessageReceived(msg inbound) error {
	p, err := protocol.Decode[protocol.MessageReceived](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.chatLog.Say(p.Username, p.Message)
	return nil
}

func (s *Session) onPlayerSubmit(msg inbound) error {
	p, err := protocol.Decode[protocol.PlayerSubmit](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.chatLog.Append(chat.Entry{Message: p.Message, Bold: p.Bold, Color: p.Color})
	return nil
}

func (s *Session) onAnnouncement(msg inbound) error {
	p, err := protocol.Decode[protocol.Message](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.chatLog.System(p.Message)
	return nil
}

func (s *Session) onRoundLeaderboard(msg inbound) error {
	p, err := protocol.Decode[protocol.RoundLeaderboard](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.disarmFlush()
	s.stopCountdown()
	// The last round's snapshot routes straight to the final presentation;
	// round view and final view are never shown together.
	if s.boards.ShowRound(p) == leaderboard.KindFinal {
		s.state = s.state.WithFinished()
	} else {
		s.state = s.state.WithRoundEnd()
	}
	return nil
}

func (s *Session) onFinalLeaderboard(msg inbound) error {
	p, err := protocol.Decode[protocol.FinalLeaderboard](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.disarmFlush()
	s.stopCountdown()
	s.boards.ShowFinal(p.Leaderboard)
	s.state = s.state.WithFinished()
	return nil
}

func (s *Session) onGameOver() {
	s.disarmFlush()
	s.stopCountdown()
	s.boards.RoundStarted()
	s.state = s.state.WithLobbyReturn()
}

func (s *Session) onServerError(msg inbound) error {
	p, err := protocol.Decode[protocol.ServerError](msg.event, msg.data)
	if err != nil {
		return err
	}
	s.pushBanner("Error: " + p.Message)
	if p.Message == partyNotFound {
		s.resetToUnjoined()
	}
	return nil
}
