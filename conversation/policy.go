package conversation

import (
	"errors"
	"fmt"
	"strings"
)

// Decision is the outcome of the turn-taking check.
type Decision int

const (
	// Continue keeps the dialog going.
	Continue Decision = iota
	// End closes the call.
	End
)

// String returns the decision name.
func (d Decision) String() string {
	switch d {
	case Continue:
		return "continue"
	case End:
		return "end"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

const (
	// DefaultMinExchange is the turn count a transcript must exceed before
	// a closing phrase ends the call.
	DefaultMinExchange = 6

	// DefaultMaxTurns is the turn count above which the call always ends.
	DefaultMaxTurns = 20
)

// DefaultEndPhrases are the closing phrases that may end a call.
var DefaultEndPhrases = []string{
	"mario will get back to you soon",
	"have a great day",
	"goodbye",
	"talk to you soon",
	"thanks for calling",
	"take care",
	"i'll pass that along",
	"i'll let mario know",
	"message has been taken",
}

var errNoPhrases = errors.New("conversation: at least one end phrase is required")

// Policy decides when a dialog ends.
type Policy struct {
	MinExchange int
	MaxTurns    int
	EndPhrases  []string
}

// DefaultPolicy returns the policy used when nothing is configured.
func DefaultPolicy() Policy {
	return Policy{
		MinExchange: DefaultMinExchange,
		MaxTurns:    DefaultMaxTurns,
		EndPhrases:  append([]string(nil), DefaultEndPhrases...),
	}
}

// Validate checks that the thresholds are usable.
func (p Policy) Validate() error {
	if p.MinExchange < 0 {
		return fmt.Errorf("conversation: min exchange must not be negative, got %d", p.MinExchange)
	}
	if p.MaxTurns <= 0 {
		return fmt.Errorf("conversation: max turns must be positive, got %d", p.MaxTurns)
	}
	if p.MinExchange > p.MaxTurns {
		return fmt.Errorf("conversation: min exchange %d exceeds max turns %d", p.MinExchange, p.MaxTurns)
	}
	if len(p.EndPhrases) == 0 {
		return errNoPhrases
	}
	return nil
}

// Decide returns End when the reply contains an end phrase and the
// transcript is longer than MinExchange, or when the transcript is longer
// than MaxTurns. turns includes reply as its last element.
func (p Policy) Decide(reply string, turns []Turn) Decision {
	n := len(turns)
	if n > p.MaxTurns {
		return End
	}
	if n > p.MinExchange && p.HasEndPhrase(reply) {
		return End
	}
	return Continue
}

// HasEndPhrase reports whether text contains an end phrase, ignoring case.
func (p Policy) HasEndPhrase(text string) bool {
	lower := strings.ToLower(text)
	for _, phrase := range p.EndPhrases {
		if phrase == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(phrase)) {
			return true
		}
	}
	return false
}
