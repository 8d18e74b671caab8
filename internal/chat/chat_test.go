package chat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestAppendKeepsArrivalOrder(t *testing.T) {
	l := NewLog()
	l.Say("alice", "hello")
	l.System("bob joined")
	l.Say("bob", "hi")

	require.Equal(t, 3, l.Len())
	require.Equal(t, []Entry{
		{Message: "alice: hello"},
		{Message: "bob joined", Bold: true},
		{Message: "bob: hi"},
	}, l.Entries())
}

func TestEntriesReturnsACopy(t *testing.T) {
	l := NewLog()
	l.Say("alice", "hello")

	got := l.Entries()
	got[0].Message = "mutated"
	require.Equal(t, "alice: hello", l.Entries()[0].Message)
}
