// Package conversation holds per-call transcripts and decides, turn by
// turn, whether a phone conversation continues, ends, or gives up.
package conversation

// Role identifies who produced a turn.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message in a call transcript. Turns are never modified
// after they are appended.
type Turn struct {
	Role Role
	Text string
}

// System returns a system instruction turn.
func System(text string) Turn {
	return Turn{Role: RoleSystem, Text: text}
}

// User returns a caller turn.
func User(text string) Turn {
	return Turn{Role: RoleUser, Text: text}
}

// Assistant returns an assistant reply turn.
func Assistant(text string) Turn {
	return Turn{Role: RoleAssistant, Text: text}
}

// UserMessages returns the text of every caller turn in order.
func UserMessages(turns []Turn) []string {
	var out []string
	for _, t := range turns {
		if t.Role == RoleUser {
			out = append(out, t.Text)
		}
	}
	return out
}

func hasUserTurn(turns []Turn) bool {
	for _, t := range turns {
		if t.Role == RoleUser {
			return true
		}
	}
	return false
}
