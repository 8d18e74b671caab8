// Package leaderboard buffers round-end and final standings and gates
// progression to the next round. Entry order is the server's; the client
// never re-sorts.
package leaderboard

import (
	"slices"

	"github.com/codeduel/client/pkg/protocol"
)

type Kind int

const (
	KindNone Kind = iota
	// KindRound is ephemeral: dismissed by continuing to the next round.
	KindRound
	// KindFinal is terminal for the match: dismissed only by returning to
	// the lobby.
	KindFinal
)

type View struct {
	Kind        Kind
	Entries     []protocol.LeaderboardEntry
	Round       int
	TotalRounds int
}

// Lines renders the standings, one ranked line per entry.
func (v View) Lines() []string {
	out := make([]string, len(v.Entries))
	for i, e := range v.Entries {
		out[i] = protocol.FormatEntry(i+1, e)
	}
	return out
}

// Continuation is what one explicit continue action should do.
type Continuation int

const (
	ContinueNone      Continuation = iota
	ContinueNextRound              // emit start_next_round; server advances the counter
	ContinueToLobby                // match over; back to the party lobby
)

// Token is a per-round one-shot capability: once used it stays dead until
// the next round re-arms it. Makes "has this round already used its skip" a
// first-class fact instead of a scattered boolean.
type Token struct {
	used bool
}

// Use consumes the token; false means it was already spent.
func (t *Token) Use() bool {
	if t.used {
		return false
	}
	t.used = true
	return true
}

func (t *Token) Available() bool { return !t.used }

func (t *Token) rearm() { t.used = false }

type Controller struct {
	view   View
	skip   Token
	report Token
}

func NewController() *Controller {
	return &Controller{}
}

// ShowRound installs a round_leaderboard push. A snapshot for the last
// round routes directly to the final presentation; the two are mutually
// exclusive, never shown together.
func (c *Controller) ShowRound(p protocol.RoundLeaderboard) Kind {
	kind := KindRound
	if p.Round == p.TotalRounds {
		kind = KindFinal
	}
	c.view = View{
		Kind:        kind,
		Entries:     slices.Clone(p.Leaderboard),
		Round:       p.Round,
		TotalRounds: p.TotalRounds,
	}
	return kind
}

// ShowFinal installs a final_leaderboard push.
func (c *Controller) ShowFinal(entries []protocol.LeaderboardEntry) {
	c.view = View{Kind: KindFinal, Entries: slices.Clone(entries)}
}

func (c *Controller) View() View { return c.view }

func (c *Controller) Visible() bool { return c.view.Kind != KindNone }

// Continue resolves the one explicit continuation action. A round view is
// dismissed and asks for the next round; a final view returns to the lobby.
// The controller never advances the round counter itself.
func (c *Controller) Continue() Continuation {
	switch c.view.Kind {
	case KindRound:
		c.view = View{}
		return ContinueNextRound
	case KindFinal:
		c.view = View{}
		return ContinueToLobby
	default:
		return ContinueNone
	}
}

// RoundStarted clears any stale view and re-arms the per-round one-shot
// actions. Driven by game_started, the only event that re-enables them.
func (c *Controller) RoundStarted() {
	c.view = View{}
	c.skip.rearm()
	c.report.rearm()
}

// UseSkip consumes this round's skip-problem token.
func (c *Controller) UseSkip() bool { return c.skip.Use() }

// UseReport consumes this round's report-broken-test-case token.
func (c *Controller) UseReport() bool { return c.report.Use() }

func (c *Controller) SkipAvailable() bool   { return c.skip.Available() }
func (c *Controller) ReportAvailable() bool { return c.report.Available() }
