package tts

import "strings"

const (
	// DefaultSayVoice is the built-in voice used when no audio is synthesized.
	DefaultSayVoice = "Polly.Emma-Neural"
	// DefaultSayLanguage matches DefaultSayVoice.
	DefaultSayLanguage = "en-GB"
)

// BuiltinVoices returns the voices Twilio can speak with <Say> directly.
func BuiltinVoices() []Voice {
	return []Voice{
		// Basic voices
		{ID: "alice", Name: "Alice", Language: "en-US", Gender: "female", Provider: "twilio"},
		{ID: "man", Name: "Man", Language: "en-US", Gender: "male", Provider: "twilio"},
		{ID: "woman", Name: "Woman", Language: "en-US", Gender: "female", Provider: "twilio"},

		// Amazon Polly neural voices
		{ID: "Polly.Emma-Neural", Name: "Emma (Polly Neural)", Language: "en-GB", Gender: "female", Provider: "twilio"},
		{ID: "Polly.Amy-Neural", Name: "Amy (Polly Neural)", Language: "en-GB", Gender: "female", Provider: "twilio"},
		{ID: "Polly.Brian-Neural", Name: "Brian (Polly Neural)", Language: "en-GB", Gender: "male", Provider: "twilio"},
		{ID: "Polly.Joanna-Neural", Name: "Joanna (Polly Neural)", Language: "en-US", Gender: "female", Provider: "twilio"},
		{ID: "Polly.Matthew-Neural", Name: "Matthew (Polly Neural)", Language: "en-US", Gender: "male", Provider: "twilio"},

		// Amazon Polly standard voices
		{ID: "Polly.Amy", Name: "Amy (Polly)", Language: "en-GB", Gender: "female", Provider: "twilio"},
		{ID: "Polly.Brian", Name: "Brian (Polly)", Language: "en-GB", Gender: "male", Provider: "twilio"},
		{ID: "Polly.Joanna", Name: "Joanna (Polly)", Language: "en-US", Gender: "female", Provider: "twilio"},
		{ID: "Polly.Matthew", Name: "Matthew (Polly)", Language: "en-US", Gender: "male", Provider: "twilio"},
		{ID: "Polly.Salli", Name: "Salli (Polly)", Language: "en-US", Gender: "female", Provider: "twilio"},

		// Google voices
		{ID: "Google.en-GB-Standard-A", Name: "Google GB Female A", Language: "en-GB", Gender: "female", Provider: "twilio"},
		{ID: "Google.en-US-Standard-C", Name: "Google US Female C", Language: "en-US", Gender: "female", Provider: "twilio"},
		{ID: "Google.en-US-Wavenet-B", Name: "Google US Wavenet Male B", Language: "en-US", Gender: "male", Provider: "twilio"},
	}
}

// FindBuiltinVoice looks up a built-in voice by ID, ignoring case.
func FindBuiltinVoice(id string) (Voice, bool) {
	for _, v := range BuiltinVoices() {
		if strings.EqualFold(v.ID, id) {
			return v, true
		}
	}
	return Voice{}, false
}
