// Package chat is the append-only log of chat and system messages. Entries
// keep arrival order and are never mutated or removed.
package chat

import "slices"

type Entry struct {
	Message string
	Bold    bool
	Color   string
}

type Log struct {
	entries []Entry
}

func NewLog() *Log {
	return &Log{}
}

func (l *Log) Append(e Entry) {
	l.entries = append(l.entries, e)
}

// Say appends a plain player message, rendered "name: text".
func (l *Log) Say(username, message string) {
	l.Append(Entry{Message: username + ": " + message})
}

// System appends a bold announcement line.
func (l *Log) System(message string) {
	l.Append(Entry{Message: message, Bold: true})
}

func (l *Log) Len() int {
	return len(l.entries)
}

// Entries returns a copy; the log stays owned by its controller.
func (l *Log) Entries() []Entry {
	return slices.Clone(l.entries)
}
