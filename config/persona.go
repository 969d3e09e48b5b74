package config

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/agentplexus/omnivoice-receptionist/callsystem"
	"github.com/agentplexus/omnivoice-receptionist/conversation"
)

//go:embed persona.yaml
var defaultPersona []byte

// Persona is who the assistant is and what it says.
type Persona struct {
	Assistant    string        `yaml:"assistant"`
	Owner        string        `yaml:"owner"`
	Voice        string        `yaml:"voice"`
	Language     string        `yaml:"language"`
	SystemPrompt string        `yaml:"system_prompt"`
	Lines        PersonaLines  `yaml:"lines"`
	Prompts      PersonaPrompt `yaml:"prompts"`
	EndPhrases   []string      `yaml:"end_phrases"`
}

// PersonaLines are the phrases spoken by the conversation engine.
type PersonaLines struct {
	Greeting string `yaml:"greeting"`
	Retry    string `yaml:"retry"`
	GiveUp   string `yaml:"give_up"`
	Fallback string `yaml:"fallback"`
	Closing  string `yaml:"closing"`
}

// PersonaPrompt are the phrases spoken around the conversation.
type PersonaPrompt struct {
	StillThere      string `yaml:"still_there"`
	NoResponse      string `yaml:"no_response"`
	TroubleHearing  string `yaml:"trouble_hearing"`
	Technical       string `yaml:"technical"`
	VoicemailPrompt string `yaml:"voicemail_prompt"`
	VoicemailThanks string `yaml:"voicemail_thanks"`
	NoSummary       string `yaml:"no_summary"`
}

// DefaultPersona returns the built-in persona.
func DefaultPersona() (*Persona, error) {
	var p Persona
	if err := yaml.Unmarshal(defaultPersona, &p); err != nil {
		return nil, fmt.Errorf("failed to parse built-in persona: %w", err)
	}
	return &p, nil
}

// LoadPersona reads a persona file over the built-in persona. Fields the
// file leaves out keep their built-in values. An empty path returns the
// built-in persona.
func LoadPersona(path string) (*Persona, error) {
	p, err := DefaultPersona()
	if err != nil {
		return nil, err
	}
	if path == "" {
		return p, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read persona file: %w", err)
	}
	if err := yaml.Unmarshal(data, p); err != nil {
		return nil, fmt.Errorf("failed to parse persona file %s: %w", path, err)
	}
	return p, nil
}

// EngineLines returns the conversation engine phrases.
func (p *Persona) EngineLines() conversation.Lines {
	return conversation.Lines{
		Greeting: p.Lines.Greeting,
		Retry:    p.Lines.Retry,
		GiveUp:   p.Lines.GiveUp,
		Fallback: p.Lines.Fallback,
		Closing:  p.Lines.Closing,
	}
}

// CallPrompts returns the webhook prompts.
func (p *Persona) CallPrompts() callsystem.Prompts {
	return callsystem.Prompts{
		StillThere:      p.Prompts.StillThere,
		NoResponse:      p.Prompts.NoResponse,
		TroubleHearing:  p.Prompts.TroubleHearing,
		Technical:       p.Prompts.Technical,
		VoicemailPrompt: p.Prompts.VoicemailPrompt,
		VoicemailThanks: p.Prompts.VoicemailThanks,
		NoSummary:       p.Prompts.NoSummary,
	}
}
