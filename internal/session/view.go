package session

import (
	"github.com/codeduel/client/internal/chat"
	"github.com/codeduel/client/internal/game"
	"github.com/codeduel/client/internal/leaderboard"
	"github.com/codeduel/client/pkg/protocol"
)

// EditorView is the UI-facing slice of the editor session.
type EditorView struct {
	Viewing  string
	ReadOnly bool
	Buffer   string
	Console  string
}

// Banner is one dismissible, auto-expiring error message.
type Banner struct {
	ID   int
	Text string
}

// View is an immutable snapshot of everything the UI can observe. Watchers
// receive one after every handled message.
type View struct {
	Username string
	Phase    game.Phase
	Party    game.Party
	Round    game.Round
	Problem  *protocol.Problem
	TimeLeft int

	Running   bool
	PassedAll bool

	Roster []protocol.PlayerStatus
	Editor EditorView

	Leaderboard     leaderboard.View
	SkipAvailable   bool
	ReportAvailable bool

	Chat    []chat.Entry
	Banners []Banner
}

func (s *Session) view() View {
	s.pruneBanners()

	v := View{
		Username:        s.username,
		Phase:           s.state.Phase,
		Party:           s.state.Party,
		Round:           s.state.Round,
		Problem:         s.state.Problem,
		TimeLeft:        s.state.TimeLeft,
		Running:         s.running,
		PassedAll:       s.passed,
		Roster:          s.roster.Statuses(),
		Leaderboard:     s.boards.View(),
		SkipAvailable:   s.boards.SkipAvailable(),
		ReportAvailable: s.boards.ReportAvailable(),
		Chat:            s.chatLog.Entries(),
	}
	if s.editor != nil {
		v.Editor = EditorView{
			Viewing:  s.editor.Viewing(),
			ReadOnly: s.editor.ReadOnly(),
			Buffer:   s.editor.Buffer(),
			Console:  s.editor.Console(),
		}
	}
	for _, b := range s.banners {
		v.Banners = append(v.Banners, Banner{ID: b.ID, Text: b.Text})
	}
	return v
}

// broadcast fans the current view out to watchers, dropping any that cannot
// keep up.
func (s *Session) broadcast() {
	if len(s.watchers) == 0 {
		return
	}
	v := s.view()
	for id, ch := range s.watchers {
		select {
		case ch <- v:
		default:
			close(ch)
			delete(s.watchers, id)
		}
	}
}
