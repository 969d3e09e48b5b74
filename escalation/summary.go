package escalation

import (
	"fmt"
	"strings"
)

// FormatPhone renders a NANP number as (555) 123-4567. Other numbers are
// returned unchanged.
func FormatPhone(number string) string {
	digits := strings.TrimPrefix(strings.TrimSpace(number), "+1")
	if len(digits) != 10 {
		return number
	}
	for _, r := range digits {
		if r < '0' || r > '9' {
			return number
		}
	}
	return fmt.Sprintf("(%s) %s-%s", digits[0:3], digits[3:6], digits[6:])
}

// Summary builds the spoken call summary for the owner.
func Summary(owner, assistant, caller string, messages []string) string {
	from := FormatPhone(caller)
	if from == "" {
		from = "an unknown number"
	}
	said := strings.Join(messages, ". ")
	return fmt.Sprintf("Hi %s, this is %s with a call summary. You received a call from %s. Here's what they said: %s. End of summary.",
		owner, assistant, from, said)
}

// BackupMessage is the SMS sent when the summary call is not answered.
func BackupMessage(summary string) string {
	if summary == "" {
		summary = "Call summary unavailable"
	}
	return "Voice summary failed to deliver. " + summary
}

// VoicemailMessage is the SMS sent for a recorded voicemail.
func VoicemailMessage(caller, transcript, recordingURL string) string {
	if transcript == "" {
		transcript = "(no transcription)"
	}
	return fmt.Sprintf("New voicemail:\nCaller: %s\nMessage: %s\nRecording: %s", caller, transcript, recordingURL)
}
