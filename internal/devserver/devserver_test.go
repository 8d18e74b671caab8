package devserver_test

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/codeduel/client/internal/channel"
	"github.com/codeduel/client/internal/devserver"
	"github.com/codeduel/client/pkg/protocol"
)

func newServer(t *testing.T) string {
	t.Helper()
	srv := devserver.New(context.Background(), clockwork.NewRealClock(), zaptest.NewLogger(t))
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)
	return "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
}

func dial(t *testing.T, url string) *channel.Socket {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s, err := channel.Dial(ctx, url, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// watch buffers every push of one event; subscribe before emitting so no
// frame is missed.
func watch(t *testing.T, ch channel.Channel, event string) <-chan json.RawMessage {
	t.Helper()
	out := make(chan json.RawMessage, 16)
	ch.Subscribe(event, func(data json.RawMessage) { out <- data })
	return out
}

func recvRaw(t *testing.T, ch <-chan json.RawMessage) json.RawMessage {
	t.Helper()
	select {
	case data := <-ch:
		return data
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
		return nil
	}
}

func recv[T any](t *testing.T, ch <-chan json.RawMessage) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(recvRaw(t, ch), &v))
	return v
}

// createParty dials a host connection and drives it to a live party.
func createParty(t *testing.T, url string) (*channel.Socket, string) {
	t.Helper()
	host := dial(t, url)
	created := watch(t, host, protocol.EventPartyCreated)
	require.NoError(t, host.Emit(context.Background(), protocol.EventCreateParty, protocol.CreateParty{Username: "alice"}))
	p := recv[protocol.PartyCreated](t, created)
	require.Equal(t, "alice", p.Username)
	require.Len(t, p.PartyCode, 6)
	return host, p.PartyCode
}

func TestCreateAndJoinParty(t *testing.T) {
	url := newServer(t)
	host, code := createParty(t, url)
	hostJoins := watch(t, host, protocol.EventPlayerJoined)

	guest := dial(t, url)
	guestJoins := watch(t, guest, protocol.EventPlayerJoined)
	require.NoError(t, guest.Emit(context.Background(), protocol.EventJoinParty, protocol.JoinParty{
		Username:  "bob",
		PartyCode: code,
	}))

	// Both sides see the same full-roster push.
	want := []protocol.PlayerStatus{{Username: "alice"}, {Username: "bob"}}
	j := recv[protocol.PlayerJoined](t, hostJoins)
	require.Equal(t, "bob", j.Username)
	require.Equal(t, want, j.Players)
	require.Equal(t, want, recv[protocol.PlayerJoined](t, guestJoins).Players)
}

func TestJoinUnknownPartyRejected(t *testing.T) {
	url := newServer(t)
	guest := dial(t, url)
	errs := watch(t, guest, protocol.EventError)

	require.NoError(t, guest.Emit(context.Background(), protocol.EventJoinParty, protocol.JoinParty{
		Username:  "bob",
		PartyCode: "NOPE99",
	}))
	require.Equal(t, "Party not found", recv[protocol.ServerError](t, errs).Message)
}

func TestOnlyHostStartsGame(t *testing.T) {
	url := newServer(t)
	host, code := createParty(t, url)

	guest := dial(t, url)
	guestJoined := watch(t, guest, protocol.EventPlayerJoined)
	require.NoError(t, guest.Emit(context.Background(), protocol.EventJoinParty, protocol.JoinParty{
		Username:  "bob",
		PartyCode: code,
	}))
	recvRaw(t, guestJoined)

	errs := watch(t, guest, protocol.EventError)
	require.NoError(t, guest.Emit(context.Background(), protocol.EventStartGame, protocol.StartGame{PartyCode: code}))
	require.Equal(t, "You are not the host", recv[protocol.ServerError](t, errs).Message)

	hostStarted := watch(t, host, protocol.EventGameStarted)
	guestStarted := watch(t, guest, protocol.EventGameStarted)
	require.NoError(t, host.Emit(context.Background(), protocol.EventStartGame, protocol.StartGame{
		PartyCode: code,
		TimeLimit: "5",
		Rounds:    "2",
		Easy:      true,
	}))

	g := recv[protocol.GameStarted](t, hostStarted)
	require.NotNil(t, g.Problem)
	require.Equal(t, "Easy", g.Problem.Difficulty)
	require.Equal(t, 1, g.Round)
	require.Equal(t, 2, g.TotalRounds)
	require.NotNil(t, recv[protocol.GameStarted](t, guestStarted).Problem)
}

func TestChatIsEchoedToEveryone(t *testing.T) {
	url := newServer(t)
	host, code := createParty(t, url)
	msgs := watch(t, host, protocol.EventMessageReceived)

	require.NoError(t, host.Emit(context.Background(), protocol.EventChatMessage, protocol.ChatMessage{
		Message:   "gl hf",
		PartyCode: code,
		Username:  "alice",
	}))
	m := recv[protocol.MessageReceived](t, msgs)
	require.Equal(t, "alice", m.Username)
	require.Equal(t, "gl hf", m.Message)
}

func TestSubmitAcceptsAndFinishesSoloMatch(t *testing.T) {
	url := newServer(t)
	host, code := createParty(t, url)

	started := watch(t, host, protocol.EventGameStarted)
	submitted := watch(t, host, protocol.EventCodeSubmitted)
	passed := watch(t, host, protocol.EventPassedAll)
	final := watch(t, host, protocol.EventFinalLeaderboard)

	require.NoError(t, host.Emit(context.Background(), protocol.EventStartGame, protocol.StartGame{
		PartyCode: code,
		TimeLimit: "5",
	}))
	recvRaw(t, started)

	require.NoError(t, host.Emit(context.Background(), protocol.EventSubmitCode, protocol.SubmitCode{
		Code:      "def solve(): pass",
		PartyCode: code,
		Username:  "alice",
	}))
	require.Contains(t, recv[protocol.Message](t, submitted).Message, "Accepted")
	recvRaw(t, passed)

	// Single player, single round: everyone has passed, the match ends.
	f := recv[protocol.FinalLeaderboard](t, final)
	require.Equal(t, []protocol.LeaderboardEntry{{Username: "alice", Score: 10}}, f.Leaderboard)
}

// barrier round-trips retrieve_time on one connection: once update_time
// comes back, every earlier frame from that connection has been processed.
func barrier(t *testing.T, c *channel.Socket, code string) {
	t.Helper()
	times := watch(t, c, protocol.EventUpdateTime)
	require.NoError(t, c.Emit(context.Background(), protocol.EventRetrieveTime, protocol.PartyRef{PartyCode: code}))
	recvRaw(t, times)
}

func joinParty(t *testing.T, url, code, username string) *channel.Socket {
	t.Helper()
	c := dial(t, url)
	joined := watch(t, c, protocol.EventPlayerJoined)
	require.NoError(t, c.Emit(context.Background(), protocol.EventJoinParty, protocol.JoinParty{
		Username:  username,
		PartyCode: code,
	}))
	recvRaw(t, joined)
	return c
}

func TestSwitchingWatchTargetsDropsOldStream(t *testing.T) {
	url := newServer(t)
	host, code := createParty(t, url)
	bob := joinParty(t, url, code, "bob")
	carol := joinParty(t, url, code, "carol")

	started := watch(t, host, protocol.EventGameStarted)
	require.NoError(t, host.Emit(context.Background(), protocol.EventStartGame, protocol.StartGame{PartyCode: code}))
	recvRaw(t, started)

	require.NoError(t, host.Emit(context.Background(), protocol.EventCodeUpdate, protocol.CodeUpdate{
		PartyCode: code,
		Code:      "alice v1",
	}))
	barrier(t, host, code)
	require.NoError(t, bob.Emit(context.Background(), protocol.EventCodeUpdate, protocol.CodeUpdate{
		PartyCode: code,
		Code:      "bob v1",
	}))
	barrier(t, bob, code)

	carolCode := watch(t, carol, protocol.EventUpdatedCode)
	require.NoError(t, carol.Emit(context.Background(), protocol.EventRetrieveCode, protocol.RetrieveCode{
		PartyCode: code,
		Username:  "alice",
	}))
	require.Equal(t, "alice v1", recv[protocol.Message](t, carolCode).Message)

	// Carol switches from alice to bob without leaving first: the server
	// keeps only the newest subscription.
	require.NoError(t, carol.Emit(context.Background(), protocol.EventRetrieveCode, protocol.RetrieveCode{
		PartyCode: code,
		Username:  "bob",
	}))
	require.Equal(t, "bob v1", recv[protocol.Message](t, carolCode).Message)

	require.NoError(t, host.Emit(context.Background(), protocol.EventCodeUpdate, protocol.CodeUpdate{
		PartyCode: code,
		Code:      "alice v2",
	}))
	barrier(t, host, code)
	require.NoError(t, bob.Emit(context.Background(), protocol.EventCodeUpdate, protocol.CodeUpdate{
		PartyCode: code,
		Code:      "bob v2",
	}))

	// Frames to carol keep order: if alice v2 had been relayed it would
	// arrive before bob v2.
	require.Equal(t, "bob v2", recv[protocol.Message](t, carolCode).Message)
}

func TestSpectateRelayReplaysLastKnownCode(t *testing.T) {
	url := newServer(t)
	host, code := createParty(t, url)

	guest := dial(t, url)
	guestJoined := watch(t, guest, protocol.EventPlayerJoined)
	require.NoError(t, guest.Emit(context.Background(), protocol.EventJoinParty, protocol.JoinParty{
		Username:  "bob",
		PartyCode: code,
	}))
	recvRaw(t, guestJoined)

	hostStarted := watch(t, host, protocol.EventGameStarted)
	require.NoError(t, host.Emit(context.Background(), protocol.EventStartGame, protocol.StartGame{PartyCode: code}))
	recvRaw(t, hostStarted)

	// Host broadcasts a buffer, then bob starts watching: the last known
	// code is replayed immediately, and later updates stream through.
	require.NoError(t, host.Emit(context.Background(), protocol.EventCodeUpdate, protocol.CodeUpdate{
		PartyCode: code,
		Code:      "v1",
	}))

	// Round-trip on the host connection: once update_time comes back the
	// party has processed the code_update above.
	hostTime := watch(t, host, protocol.EventUpdateTime)
	require.NoError(t, host.Emit(context.Background(), protocol.EventRetrieveTime, protocol.PartyRef{PartyCode: code}))
	recvRaw(t, hostTime)

	guestCode := watch(t, guest, protocol.EventUpdatedCode)
	require.NoError(t, guest.Emit(context.Background(), protocol.EventRetrieveCode, protocol.RetrieveCode{
		PartyCode: code,
		Username:  "alice",
	}))
	require.Equal(t, "v1", recv[protocol.Message](t, guestCode).Message)

	require.NoError(t, host.Emit(context.Background(), protocol.EventCodeUpdate, protocol.CodeUpdate{
		PartyCode: code,
		Code:      "v2",
	}))
	require.Equal(t, "v2", recv[protocol.Message](t, guestCode).Message)
}
