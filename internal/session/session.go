// Package session owns the client's party/game state machine. One goroutine
// consumes a typed inbox fed by UI actions, channel pushes, and timer fires;
// everything downstream (editor, roster, leaderboard, chat) is mutated only
// from that loop.
package session

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"github.com/codeduel/client/internal/channel"
	"github.com/codeduel/client/internal/chat"
	"github.com/codeduel/client/internal/editor"
	"github.com/codeduel/client/internal/game"
	"github.com/codeduel/client/internal/leaderboard"
	"github.com/codeduel/client/internal/roster"
	"github.com/codeduel/client/pkg/protocol"
)

// bannerTTL is how long a user-visible error stays up before auto-dismiss.
const bannerTTL = 5 * time.Second

// timeResyncTicks is how many local countdown ticks pass between
// authoritative retrieve_time refreshes.
const timeResyncTicks = 30

// inboundEvents is every server push the session subscribes to.
var inboundEvents = []string{
	protocol.EventPartyCreated,
	protocol.EventPlayerJoined,
	protocol.EventPlayerLeft,
	protocol.EventPlayersUpdate,
	protocol.EventSendPlayers,
	protocol.EventGameStarted,
	protocol.EventUpdateTime,
	protocol.EventCodeSubmitted,
	protocol.EventPassedAll,
	protocol.EventUpdatedCode,
	protocol.EventUpdatedConsole,
	protocol.EventMessageReceived,
	protocol.EventPlayerSubmit,
	protocol.EventAnnouncement,
	protocol.EventRoundLeaderboard,
	protocol.EventFinalLeaderboard,
	protocol.EventGameOver,
	protocol.EventError,
}

type banner struct {
	ID      int
	Text    string
	expires time.Time
}

// armed is a live one-shot timer plus its cancel handle. Closing stop
// guarantees the fire never reaches the inbox.
type armed struct {
	timer clockwork.Timer
	stop  chan struct{}
}

type Session struct {
	inbox chan Msg
	ch    channel.Channel
	clock clockwork.Clock
	log   *zap.Logger

	username string
	state    game.State
	roster   *roster.Roster
	chatLog  *chat.Log
	boards   *leaderboard.Controller
	editor   *editor.Session

	running     bool // a submission is being graded
	passed      bool // local user passed every test case this round
	settings    game.Settings
	pendingJoin string

	flush    *armed
	flushGen int

	countdown      *armed // only the stop handle is used; the ticker lives in its goroutine
	tickGen        int
	ticksSinceSync int

	banners  []banner
	bannerID int

	watchers map[string]chan View

	unsubs []func()
	ctx    context.Context
	cancel context.CancelFunc
}

func New(parent context.Context, ch channel.Channel, clock clockwork.Clock, log *zap.Logger) *Session {
	ctx, cancel := context.WithCancel(parent)
	s := &Session{
		inbox:    make(chan Msg, 64),
		ch:       ch,
		clock:    clock,
		log:      log,
		state:    game.NewState(),
		roster:   roster.New(),
		chatLog:  chat.NewLog(),
		boards:   leaderboard.NewController(),
		watchers: make(map[string]chan View),
		ctx:      ctx,
		cancel:   cancel,
	}
	s.subscribe()
	go s.loop()
	return s
}

// Inbox is where UI actions go. Tests use it directly.
func (s *Session) Inbox() chan<- Msg { return s.inbox }

func (s *Session) subscribe() {
	for _, ev := range inboundEvents {
		event := ev
		unsub := s.ch.Subscribe(event, func(data json.RawMessage) {
			select {
			case s.inbox <- inbound{event: event, data: data}:
			case <-s.ctx.Done():
			}
		})
		s.unsubs = append(s.unsubs, unsub)
	}
}

func (s *Session) loop() {
	for {
		select {
		case <-s.ctx.Done():
			s.teardown()
			return

		case m := <-s.inbox:
			switch msg := m.(type) {
			case inbound:
				s.handlePush(msg)
			case flushFired:
				s.handleFlushFired(msg)
			case tick:
				s.handleTick(msg)

			case CreateParty:
				s.handleCreateParty(msg)
			case JoinParty:
				s.handleJoinParty(msg)
			case StartGame:
				s.handleStartGame(msg)
			case LeaveParty:
				s.handleLeaveParty()
			case Edit:
				s.handleEdit(msg)
			case SetConsole:
				s.handleSetConsole(msg)
			case Submit:
				s.handleSubmit()
			case Spectate:
				s.handleSpectate(msg)
			case GoHome:
				s.handleGoHome()
			case SendChat:
				s.handleSendChat(msg)
			case ContinueRound:
				s.handleContinue()
			case SkipProblem:
				s.handleSkip()
			case ReportProblem:
				s.handleReport()
			case DismissBanner:
				s.dismissBanner(msg.ID)

			case Watch:
				s.watchers[msg.ID] = msg.Outbox
				msg.Outbox <- s.view()
				continue
			case Unwatch:
				delete(s.watchers, msg.ID)
				continue
			case GetState:
				msg.Reply <- s.view()
				continue

			case Shutdown:
				s.teardown()
				return
			}
			s.broadcast()
		}
	}
}

func (s *Session) teardown() {
	s.disarmFlush()
	s.stopCountdown()
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	for id, ch := range s.watchers {
		close(ch)
		delete(s.watchers, id)
	}
	s.cancel()
}

// emit is fire-and-forget: a failed write surfaces in the log, not as a
// state transition.
func (s *Session) emit(event string, payload any) {
	if err := s.ch.Emit(s.ctx, event, payload); err != nil {
		s.log.Warn("emit failed", zap.String("event", event), zap.Error(err))
	}
}

// <----------------- timers ----------------->

// armFlush (re)starts the single debounce delay timer. The generation
// counter makes any previously armed fire a no-op even if it is already in
// flight.
func (s *Session) armFlush() {
	s.disarmFlush()
	gen := s.flushGen
	a := &armed{timer: s.clock.NewTimer(editor.FlushDelay), stop: make(chan struct{})}
	s.flush = a
	go func() {
		select {
		case <-a.timer.Chan():
			select {
			case s.inbox <- flushFired{gen: gen}:
			case <-s.ctx.Done():
			}
		case <-a.stop:
			stopAndDrain(a.timer)
		case <-s.ctx.Done():
			stopAndDrain(a.timer)
		}
	}()
}

func (s *Session) disarmFlush() {
	if s.flush != nil {
		close(s.flush.stop)
		s.flush = nil
	}
	s.flushGen++
}

func (s *Session) handleFlushFired(msg flushFired) {
	if msg.gen != s.flushGen {
		return // stale fire from a cancelled timer
	}
	s.flush = nil
	s.flushGen++
	if s.editor == nil || s.editor.ReadOnly() || s.state.Phase != game.PhaseInGame {
		return
	}
	s.emit(protocol.EventCodeUpdate, protocol.CodeUpdate{
		PartyCode: s.state.Party.Code,
		Code:      s.editor.Flush(),
	})
}

func (s *Session) startCountdown() {
	s.stopCountdown()
	gen := s.tickGen
	stop := make(chan struct{})
	ticker := s.clock.NewTicker(time.Second)
	s.countdown = &armed{stop: stop}
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.Chan():
				select {
				case s.inbox <- tick{gen: gen}:
				case <-s.ctx.Done():
					return
				}
			case <-stop:
				return
			case <-s.ctx.Done():
				return
			}
		}
	}()
}

func (s *Session) stopCountdown() {
	if s.countdown != nil {
		close(s.countdown.stop)
		s.countdown = nil
	}
	s.tickGen++
	s.ticksSinceSync = 0
}

// handleTick decrements the display countdown. The local clock is an
// approximation only; update_time pushes are ground truth, and we ask for
// one periodically.
func (s *Session) handleTick(msg tick) {
	if msg.gen != s.tickGen || s.state.Phase != game.PhaseInGame {
		return
	}
	if s.state.TimeLeft > 0 {
		s.state.TimeLeft--
	}
	s.ticksSinceSync++
	if s.ticksSinceSync >= timeResyncTicks {
		s.ticksSinceSync = 0
		s.emit(protocol.EventRetrieveTime, protocol.PartyRef{PartyCode: s.state.Party.Code})
	}
}

// stopAndDrain safely stops a timer and drains its channel, per the
// time.Timer.Stop contract.
func stopAndDrain(t clockwork.Timer) {
	if !t.Stop() {
		select {
		case <-t.Chan():
		default:
		}
	}
}

// <----------------- banners ----------------->

func (s *Session) pushBanner(text string) {
	s.bannerID++
	s.banners = append(s.banners, banner{
		ID:      s.bannerID,
		Text:    text,
		expires: s.clock.Now().Add(bannerTTL),
	})
}

func (s *Session) dismissBanner(id int) {
	for i, b := range s.banners {
		if b.ID == id {
			s.banners = append(s.banners[:i], s.banners[i+1:]...)
			return
		}
	}
}

// pruneBanners drops banners past their auto-dismiss deadline.
func (s *Session) pruneBanners() {
	now := s.clock.Now()
	kept := s.banners[:0]
	for _, b := range s.banners {
		if b.expires.After(now) {
			kept = append(kept, b)
		}
	}
	s.banners = kept
}
