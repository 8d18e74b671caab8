package game

import (
	"errors"
	"strconv"
)

// Validation failures double as the user-facing banner text, so the wording
// matches what players actually see.
var (
	ErrTimeLimitNotNumber = errors.New("Time limit must be a number.")
	ErrTimeLimitTooSmall  = errors.New("Time limit must be at least 1 minute.")
	ErrRoundsNotNumber    = errors.New("Rounds must be a number.")
	ErrRoundsTooSmall     = errors.New("Rounds must be at least 1.")
	ErrNoDifficulty       = errors.New("Please select at least one difficulty level.")
)

// Settings configures a match. TimeLimit and Rounds stay strings end to end
// because the wire format is string-typed; empty means server default.
type Settings struct {
	TimeLimit string
	Rounds    string
	Easy      bool
	Medium    bool
	Hard      bool
}

// Validate is the local pre-network check: clearly-invalid input never
// reaches the server.
func (s Settings) Validate() error {
	if s.TimeLimit != "" {
		n, err := strconv.Atoi(s.TimeLimit)
		if err != nil {
			return ErrTimeLimitNotNumber
		}
		if n < 1 {
			return ErrTimeLimitTooSmall
		}
	}
	if s.Rounds != "" {
		n, err := strconv.Atoi(s.Rounds)
		if err != nil {
			return ErrRoundsNotNumber
		}
		if n < 1 {
			return ErrRoundsTooSmall
		}
	}
	if !s.Easy && !s.Medium && !s.Hard {
		return ErrNoDifficulty
	}
	return nil
}

// RoundTotal returns the configured round count, defaulting to 1 when the
// field was left blank. Call only after Validate.
func (s Settings) RoundTotal() int {
	if s.Rounds == "" {
		return 1
	}
	n, err := strconv.Atoi(s.Rounds)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
