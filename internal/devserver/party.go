package devserver

import (
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/codeduel/client/pkg/protocol"
)

type partyMsg interface{ isPartyMsg() }

type memberJoin struct{ c *client }

type clientGone struct{ c *client }

type fromClient struct {
	c   *client
	env protocol.Envelope
}

type partyTick struct{ gen int }

type partyShutdown struct{}

func (memberJoin) isPartyMsg()    {}
func (clientGone) isPartyMsg()    {}
func (fromClient) isPartyMsg()    {}
func (partyTick) isPartyMsg()     {}
func (partyShutdown) isPartyMsg() {}

const (
	statusWaiting    = "waiting"
	statusInProgress = "in_progress"
	statusRoundEnd   = "round_end"
	statusFinished   = "finished"
)

// party is one actor per party code: membership, game flow, code relay,
// scoring. Submissions are always accepted; real grading is the production
// backend's job.
type party struct {
	inbox chan partyMsg

	hub   *hub
	code  string
	clock clockwork.Clock
	log   *zap.Logger

	host    *client
	clients map[*client]bool
	order   []string

	passed      map[string]bool
	scores      map[string]float64
	lastCode    map[string]string
	lastConsole map[string]string
	watchers    map[string]map[*client]bool

	status      string
	settings    protocol.StartGame
	problem     protocol.Problem
	round       int
	totalRounds int
	timeLeft    int

	tickGen  int
	tickStop chan struct{}

	ctx    context.Context
	cancel context.CancelFunc
}

func newParty(parent context.Context, h *hub, code string, host *client, clock clockwork.Clock, log *zap.Logger) *party {
	ctx, cancel := context.WithCancel(parent)
	p := &party{
		inbox:       make(chan partyMsg, 64),
		hub:         h,
		code:        code,
		clock:       clock,
		log:         log.With(zap.String("party", code)),
		host:        host,
		clients:     map[*client]bool{host: true},
		order:       []string{host.username},
		passed:      map[string]bool{host.username: false},
		scores:      make(map[string]float64),
		lastCode:    make(map[string]string),
		lastConsole: make(map[string]string),
		watchers:    make(map[string]map[*client]bool),
		status:      statusWaiting,
		ctx:         ctx,
		cancel:      cancel,
	}
	go p.loop()

	p.to(host, protocol.EventPartyCreated, protocol.PartyCreated{
		PartyCode: code,
		Username:  host.username,
		Members:   []string{host.username},
	})
	return p
}

func (p *party) loop() {
	for {
		select {
		case <-p.ctx.Done():
			p.shutdown()
			return

		case m := <-p.inbox:
			switch msg := m.(type) {
			case memberJoin:
				p.handleJoin(msg.c)
			case clientGone:
				p.handleLeave(msg.c)
			case fromClient:
				p.handleEvent(msg.c, msg.env)
			case partyTick:
				p.handleTick(msg.gen)
			case partyShutdown:
				p.shutdown()
				return
			}
		}
	}
}

func (p *party) shutdown() {
	p.stopTicker()
	for c := range p.clients {
		delete(p.clients, c)
	}
	p.cancel()
}

// <----------------- membership ----------------->

func (p *party) handleJoin(c *client) {
	if p.status != statusWaiting {
		p.to(c, protocol.EventError, protocol.ServerError{Message: "Party not found"})
		return
	}
	p.clients[c] = true
	p.order = append(p.order, c.username)
	p.passed[c.username] = false
	p.broadcast(protocol.EventPlayerJoined, protocol.PlayerJoined{
		Username: c.username,
		Players:  p.statuses(),
	})
}

func (p *party) handleLeave(c *client) {
	if !p.clients[c] {
		return
	}
	delete(p.clients, c)
	for i, name := range p.order {
		if name == c.username {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
	delete(p.passed, c.username)
	delete(p.watchers, c.username)
	for _, set := range p.watchers {
		delete(set, c)
	}

	if c == p.host {
		p.broadcast(protocol.EventAnnouncement, protocol.Message{Message: "Host left the party."})
		p.broadcast(protocol.EventGameOver, nil)
		p.hub.inbox <- removeParty{code: p.code}
		p.shutdown()
		return
	}

	p.broadcast(protocol.EventPlayerLeft, protocol.PlayerLeft{Username: c.username})
	p.broadcast(protocol.EventSendPlayers, protocol.PlayersUpdate{Players: p.statuses()})
}

// <----------------- game flow ----------------->

func (p *party) handleEvent(c *client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventStartGame:
		p.handleStartGame(c, env.Data)
	case protocol.EventSubmitCode:
		p.handleSubmit(c, env.Data)
	case protocol.EventCodeUpdate:
		p.handleCodeUpdate(c, env.Data)
	case protocol.EventConsoleUpdate:
		p.handleConsoleUpdate(c, env.Data)
	case protocol.EventChatMessage:
		p.handleChat(c, env.Data)
	case protocol.EventRetrieveTime:
		p.to(c, protocol.EventUpdateTime, protocol.UpdateTime{TimeLeft: p.timeLeft})
	case protocol.EventRetrievePlayers:
		p.to(c, protocol.EventSendPlayers, protocol.PlayersUpdate{Players: p.statuses()})
	case protocol.EventRetrieveCode:
		p.handleRetrieveCode(c, env.Data)
	case protocol.EventLeaveSpectateRooms:
		for _, set := range p.watchers {
			delete(set, c)
		}
	case protocol.EventSkipProblem:
		p.handleSkip(c)
	case protocol.EventStartNextRound:
		p.handleNextRound()
	case protocol.EventReportProblem:
		p.broadcast(protocol.EventAnnouncement, protocol.Message{
			Message: c.username + " reported a broken test case.",
		})
	case protocol.EventLeaveParty:
		p.handleLeave(c)
	default:
		p.log.Debug("unhandled event", zap.String("event", env.Event))
	}
}

func (p *party) handleStartGame(c *client, data json.RawMessage) {
	if c != p.host {
		p.to(c, protocol.EventError, protocol.ServerError{Message: "You are not the host"})
		return
	}
	if p.status == statusInProgress || p.status == statusRoundEnd {
		p.to(c, protocol.EventError, protocol.ServerError{Message: "Game already in progress"})
		return
	}
	var settings protocol.StartGame
	if err := json.Unmarshal(data, &settings); err != nil {
		p.to(c, protocol.EventError, protocol.ServerError{Message: "Bad start_game payload"})
		return
	}
	if settings.TimeLimit == "" {
		settings.TimeLimit = "15"
	}
	if settings.Rounds == "" {
		settings.Rounds = "1"
	}
	p.settings = settings
	p.totalRounds = atoiDefault(settings.Rounds, 1)
	p.round = 1
	clear(p.scores)
	p.startRound()
}

// startRound deals a fresh problem and restarts the countdown. Also used
// for skips, which re-deal the same round.
func (p *party) startRound() {
	p.problem = randomProblem(p.settings.Easy, p.settings.Medium, p.settings.Hard)
	p.status = statusInProgress
	for name := range p.passed {
		p.passed[name] = false
	}
	p.timeLeft = atoiDefault(p.settings.TimeLimit, 15) * 60
	p.broadcast(protocol.EventGameStarted, protocol.GameStarted{
		Problem:     &p.problem,
		PartyCode:   p.code,
		TimeLimit:   p.settings.TimeLimit,
		Round:       p.round,
		TotalRounds: p.totalRounds,
	})
	p.broadcast(protocol.EventSendPlayers, protocol.PlayersUpdate{Players: p.statuses()})
	p.startTicker()
}

func (p *party) handleSubmit(c *client, data json.RawMessage) {
	if p.status != statusInProgress {
		return
	}
	var sub protocol.SubmitCode
	if err := json.Unmarshal(data, &sub); err != nil {
		return
	}
	total := len(p.problem.TestCases)
	p.to(c, protocol.EventCodeSubmitted, protocol.Message{
		Message: "Accepted, " + strconv.Itoa(total) + "/" + strconv.Itoa(total) + " test cases passed.",
	})
	p.broadcast(protocol.EventPlayerSubmit, protocol.PlayerSubmit{
		Message: c.username + " passed " + strconv.Itoa(total) + "/" + strconv.Itoa(total) + " test cases.",
		Bold:    true,
		Color:   "green",
	})

	if !p.passed[c.username] {
		p.passed[c.username] = true
		// Finish order decides points: 10 for first, one less per place.
		place := 0
		for _, done := range p.passed {
			if done {
				place++
			}
		}
		points := float64(11 - place)
		if points < 1 {
			points = 1
		}
		p.scores[c.username] += points
		p.to(c, protocol.EventPassedAll, nil)
		p.broadcast(protocol.EventSendPlayers, protocol.PlayersUpdate{Players: p.statuses()})
	}

	if p.allPassed() {
		p.endRound("All players passed!")
	}
}

func (p *party) handleSkip(c *client) {
	if p.status != statusInProgress {
		return
	}
	p.broadcast(protocol.EventAnnouncement, protocol.Message{
		Message: c.username + " skipped the problem.",
	})
	p.startRound()
}

func (p *party) handleNextRound() {
	if p.status != statusRoundEnd {
		return
	}
	p.round++
	p.startRound()
}

func (p *party) endRound(reason string) {
	p.stopTicker()
	p.broadcast(protocol.EventAnnouncement, protocol.Message{Message: reason})

	entries := p.leaderboard()
	if p.round >= p.totalRounds {
		p.status = statusFinished
		p.broadcast(protocol.EventFinalLeaderboard, protocol.FinalLeaderboard{Leaderboard: entries})
		return
	}
	p.status = statusRoundEnd
	p.broadcast(protocol.EventRoundLeaderboard, protocol.RoundLeaderboard{
		Leaderboard: entries,
		Round:       p.round,
		TotalRounds: p.totalRounds,
	})
}

// leaderboard orders members by descending score; ties keep join order.
// The server's ordering is authoritative, clients never re-sort.
func (p *party) leaderboard() []protocol.LeaderboardEntry {
	entries := make([]protocol.LeaderboardEntry, 0, len(p.order))
	for _, name := range p.order {
		entries = append(entries, protocol.LeaderboardEntry{Username: name, Score: p.scores[name]})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Score > entries[j].Score
	})
	return entries
}

func (p *party) allPassed() bool {
	for _, name := range p.order {
		if !p.passed[name] {
			return false
		}
	}
	return len(p.order) > 0
}

// <----------------- code relay / spectating ----------------->

func (p *party) handleCodeUpdate(c *client, data json.RawMessage) {
	var upd protocol.CodeUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return
	}
	p.lastCode[c.username] = upd.Code
	for watcher := range p.watchers[c.username] {
		p.to(watcher, protocol.EventUpdatedCode, protocol.Message{Message: upd.Code})
	}
}

func (p *party) handleConsoleUpdate(c *client, data json.RawMessage) {
	var upd protocol.ConsoleUpdate
	if err := json.Unmarshal(data, &upd); err != nil {
		return
	}
	p.lastConsole[c.username] = upd.ConsoleOutput
	for watcher := range p.watchers[c.username] {
		p.to(watcher, protocol.EventUpdatedConsole, protocol.Message{Message: upd.ConsoleOutput})
	}
}

func (p *party) handleRetrieveCode(c *client, data json.RawMessage) {
	var req protocol.RetrieveCode
	if err := json.Unmarshal(data, &req); err != nil {
		return
	}
	// A client watches at most one member; switching targets implicitly
	// leaves every other stream.
	for _, set := range p.watchers {
		delete(set, c)
	}
	if p.watchers[req.Username] == nil {
		p.watchers[req.Username] = make(map[*client]bool)
	}
	p.watchers[req.Username][c] = true
	p.to(c, protocol.EventUpdatedCode, protocol.Message{Message: p.lastCode[req.Username]})
	p.to(c, protocol.EventUpdatedConsole, protocol.Message{Message: p.lastConsole[req.Username]})
}

func (p *party) handleChat(c *client, data json.RawMessage) {
	var msg protocol.ChatMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return
	}
	p.broadcast(protocol.EventMessageReceived, protocol.MessageReceived{
		Username: c.username,
		Message:  msg.Message,
	})
}

// <----------------- countdown ----------------->

func (p *party) startTicker() {
	p.stopTicker()
	gen := p.tickGen
	stop := make(chan struct{})
	p.tickStop = stop
	ticker := p.clock.NewTicker(time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				select {
				case p.inbox <- partyTick{gen: gen}:
				case <-p.ctx.Done():
					return
				}
			case <-stop:
				return
			case <-p.ctx.Done():
				return
			}
		}
	}()
}

func (p *party) stopTicker() {
	if p.tickStop != nil {
		close(p.tickStop)
		p.tickStop = nil
	}
	p.tickGen++
}

func (p *party) handleTick(gen int) {
	if gen != p.tickGen || p.status != statusInProgress {
		return
	}
	if p.timeLeft > 0 {
		p.timeLeft--
	}
	// Authoritative resync for every client twice a minute.
	if p.timeLeft%30 == 0 {
		p.broadcast(protocol.EventUpdateTime, protocol.UpdateTime{TimeLeft: p.timeLeft})
	}
	if p.timeLeft == 0 {
		p.endRound("Time is up!")
	}
}

// <----------------- plumbing ----------------->

func (p *party) statuses() []protocol.PlayerStatus {
	out := make([]protocol.PlayerStatus, 0, len(p.order))
	for _, name := range p.order {
		out = append(out, protocol.PlayerStatus{Username: name, Passed: p.passed[name]})
	}
	return out
}

func (p *party) to(c *client, event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		p.log.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	c.trySend(env)
}

func (p *party) broadcast(event string, payload any) {
	env, err := protocol.NewEnvelope(event, payload)
	if err != nil {
		p.log.Error("encode failed", zap.String("event", event), zap.Error(err))
		return
	}
	for c := range p.clients {
		c.trySend(env)
	}
}

func atoiDefault(s string, fallback int) int {
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return fallback
	}
	return n
}
