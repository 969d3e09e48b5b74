package conversation_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/agentplexus/omnivoice-receptionist/conversation"
)

// transcript builds a system turn followed by alternating user and
// assistant turns, n turns in total, ending with reply.
func transcript(n int, reply string) []conversation.Turn {
	turns := []conversation.Turn{conversation.System("You are Zee.")}
	for len(turns) < n-1 {
		if len(turns)%2 == 1 {
			turns = append(turns, conversation.User(fmt.Sprintf("message %d", len(turns))))
		} else {
			turns = append(turns, conversation.Assistant("Okay."))
		}
	}
	if n > 1 {
		turns = append(turns, conversation.Assistant(reply))
	}
	return turns
}

func TestPolicy_Scenarios(t *testing.T) {
	p := conversation.DefaultPolicy()

	tests := []struct {
		name  string
		turns []conversation.Turn
		want  conversation.Decision
	}{
		{
			name: "short exchange continues",
			turns: []conversation.Turn{
				conversation.System("You are Zee."),
				conversation.User("hi"),
				conversation.Assistant("How can I help?"),
			},
			want: conversation.Continue,
		},
		{
			name:  "closing phrase after minimum exchange ends",
			turns: transcript(8, "Thanks for calling, goodbye!"),
			want:  conversation.End,
		},
		{
			name:  "runaway dialog ends without phrase",
			turns: transcript(25, "Sure, what else?"),
			want:  conversation.End,
		},
		{
			name:  "early closing phrase is ignored",
			turns: transcript(3, "Goodbye!"),
			want:  conversation.Continue,
		},
		{
			name:  "closing phrase exactly at minimum continues",
			turns: transcript(6, "Have a great day"),
			want:  conversation.Continue,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reply := tt.turns[len(tt.turns)-1].Text
			assert.Equal(t, tt.want, p.Decide(reply, tt.turns))
		})
	}
}

func TestPolicy_NoPhraseWithinMaxContinues(t *testing.T) {
	p := conversation.DefaultPolicy()
	for n := 1; n <= p.MaxTurns; n++ {
		turns := transcript(n, "Sure, what else?")
		assert.Equal(t, conversation.Continue, p.Decide("Sure, what else?", turns), "n=%d", n)
	}
}

func TestPolicy_PhraseAboveMinimumEnds(t *testing.T) {
	p := conversation.DefaultPolicy()
	for _, phrase := range p.EndPhrases {
		for n := p.MinExchange + 1; n <= p.MaxTurns+3; n++ {
			reply := "Alright. " + phrase + "."
			assert.Equal(t, conversation.End, p.Decide(reply, transcript(n, reply)), "phrase=%q n=%d", phrase, n)
		}
	}
}

func TestPolicy_AboveMaxAlwaysEnds(t *testing.T) {
	p := conversation.DefaultPolicy()
	for n := p.MaxTurns + 1; n < p.MaxTurns+10; n++ {
		assert.Equal(t, conversation.End, p.Decide("Tell me more.", transcript(n, "Tell me more.")), "n=%d", n)
	}
}

func TestPolicy_HasEndPhraseIgnoresCase(t *testing.T) {
	p := conversation.DefaultPolicy()
	assert.True(t, p.HasEndPhrase("THANKS FOR CALLING"))
	assert.True(t, p.HasEndPhrase("I'll let Mario know right away"))
	assert.False(t, p.HasEndPhrase("What can I do for you?"))
}

func TestPolicy_Validate(t *testing.T) {
	assert.NoError(t, conversation.DefaultPolicy().Validate())

	tests := []struct {
		name string
		p    conversation.Policy
	}{
		{"negative min", conversation.Policy{MinExchange: -1, MaxTurns: 20, EndPhrases: []string{"bye"}}},
		{"zero max", conversation.Policy{MinExchange: 0, MaxTurns: 0, EndPhrases: []string{"bye"}}},
		{"min above max", conversation.Policy{MinExchange: 30, MaxTurns: 20, EndPhrases: []string{"bye"}}},
		{"no phrases", conversation.Policy{MinExchange: 6, MaxTurns: 20}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Error(t, tt.p.Validate())
		})
	}
}

func TestDecision_String(t *testing.T) {
	assert.Equal(t, "continue", conversation.Continue.String())
	assert.Equal(t, "end", conversation.End.String())
}
