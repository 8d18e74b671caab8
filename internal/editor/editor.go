// Package editor keeps the server's copy of the local code buffer eventually
// consistent without flooding the channel on every keystroke. The engine
// itself is pure state: it tells the caller what to do (broadcast now, or
// re-arm the single delay timer) and the session actor owns the clock.
package editor

import (
	"errors"
	"time"
)

// Burst-aware debounce: every BurstThreshold-th edit flushes immediately,
// otherwise the delay timer flushes FlushDelay after the last edit. Worst
// case staleness is therefore bounded by FlushDelay.
const (
	BurstThreshold = 4
	FlushDelay     = time.Second
)

var ErrSpectating = errors.New("buffer is read-only while spectating")

// Directive is the engine's instruction back to the timer owner.
type Directive int

const (
	// None: nothing to do.
	None Directive = iota
	// FlushNow: broadcast the latest buffer immediately.
	FlushNow
	// Arm: cancel any pending delay timer and start a fresh one.
	Arm
	// Disarm: cancel any pending delay timer without broadcasting.
	Disarm
)

// Session is the one editor session per client. Buffer and console belong to
// the local user while viewing == owner; while spectating they mirror the
// watched peer and the home copies are held aside for exact restore.
type Session struct {
	owner   string
	viewing string

	buffer  string
	console string

	homeBuffer  string
	homeConsole string

	edits int
}

func NewSession(owner, seed string) *Session {
	return &Session{owner: owner, viewing: owner, buffer: seed}
}

func (s *Session) Owner() string   { return s.owner }
func (s *Session) Viewing() string { return s.viewing }
func (s *Session) Buffer() string  { return s.buffer }
func (s *Session) Console() string { return s.console }

// ReadOnly is derived, never stored: the buffer is writable only at home.
func (s *Session) ReadOnly() bool { return s.viewing != s.owner }

// Reset reseeds the session for a new round from the problem's function
// signature and snaps the view back to the local user.
func (s *Session) Reset(signature string) Directive {
	s.viewing = s.owner
	s.buffer = signature
	s.console = ""
	s.homeBuffer = ""
	s.homeConsole = ""
	s.edits = 0
	return Disarm
}

// Edit applies one local keystroke batch. Rejected while spectating: the
// buffer is peer-owned in that mode.
func (s *Session) Edit(text string) (Directive, error) {
	if s.ReadOnly() {
		return None, ErrSpectating
	}
	s.buffer = text
	s.edits++
	if s.edits >= BurstThreshold {
		s.edits = 0
		return FlushNow, nil
	}
	return Arm, nil
}

// SetConsole records local run output. Like Edit it is a no-op while the
// console mirrors a peer.
func (s *Session) SetConsole(text string) error {
	if s.ReadOnly() {
		return ErrSpectating
	}
	s.console = text
	return nil
}

// SetOwnConsole records run output for the local user even while the view
// is away on a peer: the home copy takes it, so GoHome shows the result.
func (s *Session) SetOwnConsole(text string) {
	if s.ReadOnly() {
		s.homeConsole = text
		return
	}
	s.console = text
}

// Flush hands back the buffer for broadcast and clears the edit counter.
// It always returns the latest content, never a snapshot captured when the
// timer was armed.
func (s *Session) Flush() string {
	s.edits = 0
	return s.buffer
}

// Spectate switches the view to a peer. The pending delay timer is
// cancelled: once the view leaves home no broadcast may fire for it. The
// peer's buffer arrives by push, so both panes blank until then. Returns
// false when already viewing that peer.
func (s *Session) Spectate(peer string) (Directive, bool) {
	if peer == s.viewing || peer == s.owner {
		return None, false
	}
	if !s.ReadOnly() {
		s.homeBuffer = s.buffer
		s.homeConsole = s.console
	}
	s.viewing = peer
	s.buffer = ""
	s.console = ""
	s.edits = 0
	return Disarm, true
}

// GoHome restores the exact buffer and console captured before the last
// switch away from home. Returns false when already home.
func (s *Session) GoHome() bool {
	if !s.ReadOnly() {
		return false
	}
	s.viewing = s.owner
	s.buffer = s.homeBuffer
	s.console = s.homeConsole
	return true
}

// ApplyRemoteCode overwrites the buffer with a spectated peer's push.
// Remote pushes are never debounced; spectating must show the freshest
// state. Ignored at home.
func (s *Session) ApplyRemoteCode(text string) bool {
	if !s.ReadOnly() {
		return false
	}
	s.buffer = text
	return true
}

// ApplyRemoteConsole mirrors the watched peer's console output.
func (s *Session) ApplyRemoteConsole(text string) bool {
	if !s.ReadOnly() {
		return false
	}
	s.console = text
	return true
}
