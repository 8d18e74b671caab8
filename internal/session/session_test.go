package session

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeduel/client/internal/channel"
	"github.com/codeduel/client/internal/editor"
	"github.com/codeduel/client/internal/game"
	"github.com/codeduel/client/internal/leaderboard"
	"github.com/codeduel/client/pkg/protocol"
)

func newTestSession(t *testing.T) (*Session, *channel.Fake, *clockwork.FakeClock) {
	t.Helper()
	fk := channel.NewFake()
	fc := clockwork.NewFakeClock()
	s := New(context.Background(), fk, fc, zaptest.NewLogger(t))
	t.Cleanup(func() { s.Inbox() <- Shutdown{} })
	return s, fk, fc
}

// getView round-trips through the inbox, so it doubles as a barrier: every
// message sent before it has been handled once it returns.
func getView(t *testing.T, s *Session) View {
	t.Helper()
	reply := make(chan View, 1)
	s.Inbox() <- GetState{Reply: reply}
	select {
	case v := <-reply:
		return v
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for session state")
		return View{}
	}
}

// eventually polls for conditions that depend on a timer goroutine
// re-entering the inbox after a fake-clock advance.
func eventually(t *testing.T, within time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(within)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func bannerTexts(v View) []string {
	out := make([]string, len(v.Banners))
	for i, b := range v.Banners {
		out[i] = b.Text
	}
	return out
}

// createParty drives the host flow to a confirmed party AB12 for alice.
func createParty(t *testing.T, s *Session, fk *channel.Fake) {
	t.Helper()
	s.Inbox() <- CreateParty{Username: "alice"}
	require.NoError(t, fk.Push(protocol.EventPartyCreated, protocol.PartyCreated{
		PartyCode: "AB12",
		Username:  "alice",
	}))
	v := getView(t, s)
	require.Equal(t, game.PhaseCreated, v.Phase)
}

// startRound pushes a game_started for the given round counters.
func startRound(t *testing.T, s *Session, fk *channel.Fake, timeLimit string, round, total int) {
	t.Helper()
	require.NoError(t, fk.Push(protocol.EventGameStarted, protocol.GameStarted{
		Problem: &protocol.Problem{
			Name:              "Two Sum",
			FunctionSignature: "def two_sum(nums, target):",
			Difficulty:        "Easy",
		},
		PartyCode:   "AB12",
		TimeLimit:   timeLimit,
		Round:       round,
		TotalRounds: total,
	}))
	v := getView(t, s)
	require.Equal(t, game.PhaseInGame, v.Phase)
}

func decodeCodeUpdate(t *testing.T, data json.RawMessage) protocol.CodeUpdate {
	t.Helper()
	var p protocol.CodeUpdate
	require.NoError(t, json.Unmarshal(data, &p))
	return p
}

func TestCreatePartyFlow(t *testing.T) {
	s, fk, _ := newTestSession(t)

	s.Inbox() <- CreateParty{Username: "alice"}
	eventually(t, time.Second, func() bool {
		return len(fk.EmittedNamed(protocol.EventCreateParty)) == 1
	})

	require.NoError(t, fk.Push(protocol.EventPartyCreated, protocol.PartyCreated{
		PartyCode: "AB12",
		Username:  "alice",
	}))
	v := getView(t, s)
	require.Equal(t, game.PhaseCreated, v.Phase)
	require.Equal(t, "AB12", v.Party.Code)
	require.True(t, v.Party.Host)
	require.Equal(t, []protocol.PlayerStatus{{Username: "alice"}}, v.Roster)
	require.NotEmpty(t, v.Chat)
	require.Equal(t, "Party created with code: AB12", v.Chat[len(v.Chat)-1].Message)
}

func TestCreateRejectedWhileInParty(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)

	s.Inbox() <- CreateParty{Username: "alice"}
	v := getView(t, s)
	require.Contains(t, bannerTexts(v), "already in a party")
	require.Len(t, fk.EmittedNamed(protocol.EventCreateParty), 1, "guarded action must not hit the wire")
}

func TestJoinConfirmedByRosterPush(t *testing.T) {
	s, fk, _ := newTestSession(t)

	s.Inbox() <- JoinParty{Username: "bob", PartyCode: "AB12"}
	eventually(t, time.Second, func() bool {
		return len(fk.EmittedNamed(protocol.EventJoinParty)) == 1
	})

	require.NoError(t, fk.Push(protocol.EventPlayerJoined, protocol.PlayerJoined{
		Username: "bob",
		Players: []protocol.PlayerStatus{
			{Username: "alice"},
			{Username: "bob"},
		},
	}))
	v := getView(t, s)
	require.Equal(t, game.PhaseJoined, v.Phase)
	require.Equal(t, "AB12", v.Party.Code)
	require.False(t, v.Party.Host)
	require.Equal(t, []string{"alice", "bob"}, v.Party.Members)
}

func TestInvalidSettingsNeverHitWire(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)

	s.Inbox() <- StartGame{Settings: game.Settings{TimeLimit: "0", Easy: true}}
	v := getView(t, s)
	require.Contains(t, bannerTexts(v), "Time limit must be at least 1 minute.")
	require.Empty(t, fk.EmittedNamed(protocol.EventStartGame))
	require.Equal(t, game.PhaseCreated, v.Phase)
}

func TestStartGameEmitsSettings(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)

	s.Inbox() <- StartGame{Settings: game.Settings{TimeLimit: "10", Rounds: "2", Easy: true, Hard: true}}
	getView(t, s)

	emits := fk.EmittedNamed(protocol.EventStartGame)
	require.Len(t, emits, 1)
	var p protocol.StartGame
	require.NoError(t, json.Unmarshal(emits[0], &p))
	require.Equal(t, protocol.StartGame{
		PartyCode: "AB12",
		TimeLimit: "10",
		Rounds:    "2",
		Easy:      true,
		Hard:      true,
	}, p)
}

func TestBurstOfEditsBroadcastsOnce(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)

	s.Inbox() <- Edit{Text: "a"}
	s.Inbox() <- Edit{Text: "ab"}
	s.Inbox() <- Edit{Text: "abc"}
	s.Inbox() <- Edit{Text: "abcd"}
	getView(t, s)

	// Fourth edit of the burst flushes immediately, no clock advance needed.
	emits := fk.EmittedNamed(protocol.EventCodeUpdate)
	require.Len(t, emits, 1)
	p := decodeCodeUpdate(t, emits[0])
	require.Equal(t, "AB12", p.PartyCode)
	require.Equal(t, "abcd", p.Code)
}

func TestTrailingEditFlushesAfterDelay(t *testing.T) {
	s, fk, fc := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)

	s.Inbox() <- Edit{Text: "x"}
	s.Inbox() <- Edit{Text: "xy"}
	getView(t, s)
	require.Empty(t, fk.EmittedNamed(protocol.EventCodeUpdate))

	fc.Advance(editor.FlushDelay)
	eventually(t, time.Second, func() bool {
		return len(fk.EmittedNamed(protocol.EventCodeUpdate)) == 1
	})
	p := decodeCodeUpdate(t, fk.EmittedNamed(protocol.EventCodeUpdate)[0])
	require.Equal(t, "xy", p.Code, "flush carries the latest buffer, not a snapshot")
}

func TestLeaveCancelsPendingFlush(t *testing.T) {
	s, fk, fc := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)

	s.Inbox() <- Edit{Text: "half-typed"}
	s.Inbox() <- LeaveParty{}
	v := getView(t, s)
	require.Equal(t, game.PhaseUnjoined, v.Phase)
	require.Len(t, fk.EmittedNamed(protocol.EventLeaveParty), 1)

	fc.Advance(editor.FlushDelay)
	getView(t, s)
	getView(t, s)
	require.Empty(t, fk.EmittedNamed(protocol.EventCodeUpdate))
}

func TestSpectateGateRejectsLocally(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)

	require.NoError(t, fk.Push(protocol.EventSendPlayers, protocol.PlayersUpdate{
		Players: []protocol.PlayerStatus{
			{Username: "alice"},
			{Username: "bob", Passed: false},
		},
	}))
	getView(t, s)

	s.Inbox() <- Spectate{Username: "bob"}
	v := getView(t, s)
	require.Contains(t, bannerTexts(v), "member has not passed all test cases yet")
	require.Empty(t, fk.EmittedNamed(protocol.EventRetrieveCode), "rejected switch must not hit the wire")
	require.False(t, v.Editor.ReadOnly)
}

func TestSpectateRoundTrip(t *testing.T) {
	s, fk, fc := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)

	s.Inbox() <- Edit{Text: "my half-finished solution"}
	require.NoError(t, fk.Push(protocol.EventSendPlayers, protocol.PlayersUpdate{
		Players: []protocol.PlayerStatus{
			{Username: "alice"},
			{Username: "bob", Passed: true},
		},
	}))
	getView(t, s)

	s.Inbox() <- Spectate{Username: "bob"}
	v := getView(t, s)
	require.Equal(t, "bob", v.Editor.Viewing)
	require.True(t, v.Editor.ReadOnly)
	require.Empty(t, v.Editor.Buffer, "panes blank until the peer's push arrives")
	require.Len(t, fk.EmittedNamed(protocol.EventRetrieveCode), 1)

	// Switching away cancelled the pending edit flush.
	fc.Advance(editor.FlushDelay)
	getView(t, s)
	getView(t, s)
	require.Empty(t, fk.EmittedNamed(protocol.EventCodeUpdate))

	require.NoError(t, fk.Push(protocol.EventUpdatedCode, protocol.Message{Message: "bobs code"}))
	v = getView(t, s)
	require.Equal(t, "bobs code", v.Editor.Buffer)

	s.Inbox() <- GoHome{}
	v = getView(t, s)
	require.Equal(t, "alice", v.Editor.Viewing)
	require.False(t, v.Editor.ReadOnly)
	require.Equal(t, "my half-finished solution", v.Editor.Buffer, "home buffer restored exactly")
	require.Len(t, fk.EmittedNamed(protocol.EventLeaveSpectateRooms), 1)
}

func TestSwitchingSpectateTargetsLeavesOldStream(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)

	require.NoError(t, fk.Push(protocol.EventSendPlayers, protocol.PlayersUpdate{
		Players: []protocol.PlayerStatus{
			{Username: "alice"},
			{Username: "bob", Passed: true},
			{Username: "carol", Passed: true},
		},
	}))
	getView(t, s)

	s.Inbox() <- Spectate{Username: "bob"}
	getView(t, s)
	require.Len(t, fk.EmittedNamed(protocol.EventRetrieveCode), 1)
	require.Empty(t, fk.EmittedNamed(protocol.EventLeaveSpectateRooms))

	// Peer-to-peer switch drops the old stream before asking for the new one.
	s.Inbox() <- Spectate{Username: "carol"}
	v := getView(t, s)
	require.Equal(t, "carol", v.Editor.Viewing)
	require.Len(t, fk.EmittedNamed(protocol.EventRetrieveCode), 2)
	require.Len(t, fk.EmittedNamed(protocol.EventLeaveSpectateRooms), 1)

	events := fk.Emitted()
	leaveIdx, retrieveIdx := -1, -1
	for i, e := range events {
		switch e.Event {
		case protocol.EventLeaveSpectateRooms:
			leaveIdx = i
		case protocol.EventRetrieveCode:
			retrieveIdx = i // last one is the carol request
		}
	}
	require.Less(t, leaveIdx, retrieveIdx, "old stream is dropped before the new subscription")

	s.Inbox() <- GoHome{}
	getView(t, s)
	require.Len(t, fk.EmittedNamed(protocol.EventLeaveSpectateRooms), 2)
}

func TestGradeResultSurvivesSpectating(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)

	s.Inbox() <- Submit{}
	require.NoError(t, fk.Push(protocol.EventSendPlayers, protocol.PlayersUpdate{
		Players: []protocol.PlayerStatus{
			{Username: "alice"},
			{Username: "bob", Passed: true},
		},
	}))
	s.Inbox() <- Spectate{Username: "bob"}
	getView(t, s)

	// The grading result lands while the view is away on bob.
	require.NoError(t, fk.Push(protocol.EventCodeSubmitted, protocol.Message{Message: "Accepted"}))
	v := getView(t, s)
	require.False(t, v.Running)
	require.Empty(t, v.Editor.Console, "bob's pane stays bob's")

	s.Inbox() <- GoHome{}
	v = getView(t, s)
	require.Equal(t, "Accepted", v.Editor.Console)
}

func TestRoundLeaderboardGating(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 2)

	require.NoError(t, fk.Push(protocol.EventRoundLeaderboard, protocol.RoundLeaderboard{
		Leaderboard: []protocol.LeaderboardEntry{{Username: "bob", Score: 9.5}},
		Round:       1,
		TotalRounds: 2,
	}))
	v := getView(t, s)
	require.Equal(t, game.PhaseRoundEnd, v.Phase)
	require.Equal(t, leaderboard.KindRound, v.Leaderboard.Kind)
	require.Equal(t, []string{"1. bob — 9.50 pts"}, v.Leaderboard.Lines())

	s.Inbox() <- ContinueRound{}
	s.Inbox() <- ContinueRound{} // duplicate continue is a no-op
	v = getView(t, s)
	require.Len(t, fk.EmittedNamed(protocol.EventStartNextRound), 1)
	require.Equal(t, leaderboard.KindNone, v.Leaderboard.Kind)
	require.Equal(t, game.Round{Current: 1, Total: 2}, v.Round, "counter advances only on the next game_started")

	startRound(t, s, fk, "15", 2, 2)
	v = getView(t, s)
	require.Equal(t, game.Round{Current: 2, Total: 2}, v.Round)
}

func TestLastRoundRoutesToFinal(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 2, 2)

	require.NoError(t, fk.Push(protocol.EventRoundLeaderboard, protocol.RoundLeaderboard{
		Leaderboard: []protocol.LeaderboardEntry{{Username: "alice", Score: 17}},
		Round:       2,
		TotalRounds: 2,
	}))
	v := getView(t, s)
	require.Equal(t, game.PhaseFinished, v.Phase)
	require.Equal(t, leaderboard.KindFinal, v.Leaderboard.Kind)

	s.Inbox() <- ContinueRound{}
	v = getView(t, s)
	require.Empty(t, fk.EmittedNamed(protocol.EventStartNextRound))
	require.Equal(t, game.PhaseCreated, v.Phase, "host returns to the configuring lobby")
	require.Equal(t, "AB12", v.Party.Code, "party survives the match")
	require.Nil(t, v.Problem)
}

func TestGameOverReturnsToLobby(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)

	require.NoError(t, fk.Push(protocol.EventGameOver, nil))
	v := getView(t, s)
	require.Equal(t, game.PhaseCreated, v.Phase)
	require.Equal(t, "AB12", v.Party.Code)
	require.Nil(t, v.Problem)
	require.NotEmpty(t, v.Chat, "chat survives the match")
}

func TestMalformedPushChangesNothing(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)

	fk.PushRaw(protocol.EventPlayerJoined, json.RawMessage(`{"username":"mallory"}`))
	v := getView(t, s)
	require.Contains(t, bannerTexts(v), "Received a malformed player_joined update.")
	require.Equal(t, []protocol.PlayerStatus{{Username: "alice"}}, v.Roster)
	require.Equal(t, game.PhaseCreated, v.Phase)
}

func TestDuplicateRosterPushIsIdempotent(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)

	push := protocol.PlayersUpdate{Players: []protocol.PlayerStatus{
		{Username: "alice"},
		{Username: "bob"},
	}}
	require.NoError(t, fk.Push(protocol.EventPlayersUpdate, push))
	require.NoError(t, fk.Push(protocol.EventPlayersUpdate, push))

	v := getView(t, s)
	require.Equal(t, push.Players, v.Roster)
	require.Equal(t, []string{"alice", "bob"}, v.Party.Members)
}

func TestPartyNotFoundResets(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)

	require.NoError(t, fk.Push(protocol.EventError, protocol.ServerError{Message: "Party not found"}))
	v := getView(t, s)
	require.Contains(t, bannerTexts(v), "Error: Party not found")
	require.Equal(t, game.PhaseUnjoined, v.Phase)
	require.Empty(t, v.Roster)
}

func TestUpdateTimeResyncs(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)
	require.Equal(t, 15*60, getView(t, s).TimeLeft)

	require.NoError(t, fk.Push(protocol.EventUpdateTime, protocol.UpdateTime{TimeLeft: 42}))
	require.Equal(t, 42, getView(t, s).TimeLeft)
}

func TestCountdownTicks(t *testing.T) {
	s, fk, fc := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "1", 1, 1)
	require.Equal(t, 60, getView(t, s).TimeLeft)

	fc.Advance(time.Second)
	eventually(t, time.Second, func() bool {
		return getView(t, s).TimeLeft == 59
	})
}

func TestSubmitFlow(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 1)

	s.Inbox() <- Submit{}
	v := getView(t, s)
	require.True(t, v.Running)
	require.Equal(t, "Running code...", v.Editor.Console)
	require.Len(t, fk.EmittedNamed(protocol.EventSubmitCode), 1)

	s.Inbox() <- Submit{} // already grading, dropped
	getView(t, s)
	require.Len(t, fk.EmittedNamed(protocol.EventSubmitCode), 1)

	require.NoError(t, fk.Push(protocol.EventCodeSubmitted, protocol.Message{Message: "Accepted"}))
	require.NoError(t, fk.Push(protocol.EventPassedAll, nil))
	v = getView(t, s)
	require.False(t, v.Running)
	require.True(t, v.PassedAll)
	require.Equal(t, "Accepted", v.Editor.Console)
}

func TestSkipIsOneShotPerRound(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	startRound(t, s, fk, "15", 1, 2)

	s.Inbox() <- SkipProblem{}
	s.Inbox() <- SkipProblem{}
	getView(t, s)
	require.Len(t, fk.EmittedNamed(protocol.EventSkipProblem), 1)

	// The next round re-arms the one-shot actions.
	startRound(t, s, fk, "15", 2, 2)
	s.Inbox() <- SkipProblem{}
	getView(t, s)
	require.Len(t, fk.EmittedNamed(protocol.EventSkipProblem), 2)
}

func TestBannersExpire(t *testing.T) {
	s, _, fc := newTestSession(t)

	s.Inbox() <- CreateParty{Username: ""}
	v := getView(t, s)
	require.Contains(t, bannerTexts(v), "Username is required.")

	fc.Advance(bannerTTL)
	require.Empty(t, getView(t, s).Banners)

	// Explicit dismissal, before the TTL runs out.
	s.Inbox() <- JoinParty{Username: "", PartyCode: ""}
	v = getView(t, s)
	require.Len(t, v.Banners, 1)
	s.Inbox() <- DismissBanner{ID: v.Banners[0].ID}
	require.Empty(t, getView(t, s).Banners)
}

func TestChatEchoedNotLocal(t *testing.T) {
	s, fk, _ := newTestSession(t)
	createParty(t, s, fk)
	before := getView(t, s).Chat

	s.Inbox() <- SendChat{Message: "hello"}
	v := getView(t, s)
	require.Len(t, fk.EmittedNamed(protocol.EventChatMessage), 1)
	require.Equal(t, before, v.Chat, "own message appears only when the server echoes it")

	require.NoError(t, fk.Push(protocol.EventMessageReceived, protocol.MessageReceived{
		Username: "alice",
		Message:  "hello",
	}))
	v = getView(t, s)
	require.Equal(t, "alice: hello", v.Chat[len(v.Chat)-1].Message)
}
