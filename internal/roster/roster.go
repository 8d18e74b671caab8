// Package roster tracks party membership and submission eligibility, which
// gates who may be spectated.
package roster

import (
	"errors"
	"slices"

	"github.com/codeduel/client/pkg/protocol"
)

var ErrUnknownMember = errors.New("no such party member")
var ErrNotSpectatable = errors.New("member has not passed all test cases yet")

type Roster struct {
	order  []string // join order
	passed map[string]bool
}

func New() *Roster {
	return &Roster{passed: make(map[string]bool)}
}

// Replace installs a full roster push wholesale. Receiving the same push
// twice yields the payload, not a concatenation.
func (r *Roster) Replace(players []protocol.PlayerStatus) {
	r.order = r.order[:0]
	clear(r.passed)
	for _, p := range players {
		if slices.Contains(r.order, p.Username) {
			continue
		}
		r.order = append(r.order, p.Username)
		r.passed[p.Username] = p.Passed
	}
}

// Add appends a single member from an incremental player_joined push.
func (r *Roster) Add(username string) {
	if slices.Contains(r.order, username) {
		return
	}
	r.order = append(r.order, username)
	r.passed[username] = false
}

func (r *Roster) Remove(username string) {
	if i := slices.Index(r.order, username); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	delete(r.passed, username)
}

func (r *Roster) Contains(username string) bool {
	return slices.Contains(r.order, username)
}

func (r *Roster) Passed(username string) bool {
	return r.passed[username]
}

func (r *Roster) MarkPassed(username string) {
	if slices.Contains(r.order, username) {
		r.passed[username] = true
	}
}

// ResetPassed clears everyone's eligibility at the start of a round.
func (r *Roster) ResetPassed() {
	for name := range r.passed {
		r.passed[name] = false
	}
}

// Members returns the roster in join order.
func (r *Roster) Members() []string {
	return slices.Clone(r.order)
}

// Statuses returns the roster as wire-shaped entries, join order preserved.
func (r *Roster) Statuses() []protocol.PlayerStatus {
	out := make([]protocol.PlayerStatus, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, protocol.PlayerStatus{Username: name, Passed: r.passed[name]})
	}
	return out
}

// CanSpectate enforces the gate locally, before any network round-trip:
// self is always viewable, peers only once they have passed every test case.
func (r *Roster) CanSpectate(self, member string) error {
	if member == self {
		return nil
	}
	if !r.Contains(member) {
		return ErrUnknownMember
	}
	if !r.passed[member] {
		return ErrNotSpectatable
	}
	return nil
}
