// Package twiml builds TwiML voice documents.
//
// A Response is an ordered list of verbs. Twilio executes them top to
// bottom, so the order verbs are added in is the order the caller hears
// them.
package twiml

import (
	"encoding/xml"
	"fmt"
	"strings"
)

// ContentType is the media type Twilio expects for TwiML responses.
const ContentType = "text/xml; charset=utf-8"

// Verb is a TwiML element that can appear inside <Response>.
type Verb interface {
	verb()
}

// Response represents a TwiML <Response> element.
type Response struct {
	verbs []Verb
}

// New creates an empty Response.
func New(verbs ...Verb) *Response {
	return &Response{verbs: verbs}
}

// Append adds verbs to the end of the document.
func (r *Response) Append(verbs ...Verb) *Response {
	r.verbs = append(r.verbs, verbs...)
	return r
}

// Verbs returns the verbs in document order.
func (r *Response) Verbs() []Verb {
	out := make([]Verb, len(r.verbs))
	copy(out, r.verbs)
	return out
}

// MarshalXML writes the verbs in order inside <Response>.
func (r *Response) MarshalXML(e *xml.Encoder, start xml.StartElement) error {
	start.Name = xml.Name{Local: "Response"}
	start.Attr = nil
	if err := e.EncodeToken(start); err != nil {
		return err
	}
	for _, v := range r.verbs {
		if err := e.Encode(v); err != nil {
			return err
		}
	}
	return e.EncodeToken(start.End())
}

// String renders the document with the XML header.
func (r *Response) String() string {
	xmlBytes, err := xml.MarshalIndent(r, "", "    ")
	if err != nil {
		return fmt.Sprintf(`%s<Response><Say>%s</Say><Hangup/></Response>`, xml.Header, escape(FallbackApology))
	}
	return xml.Header + string(xmlBytes)
}

// FallbackApology is spoken when a document cannot be rendered.
const FallbackApology = "I'm having technical difficulties. Please call back later. Goodbye!"

func escape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// Say represents a TwiML <Say> element.
type Say struct {
	XMLName  xml.Name `xml:"Say"`
	Voice    string   `xml:"voice,attr,omitempty"`
	Language string   `xml:"language,attr,omitempty"`
	Text     string   `xml:",chardata"`
}

// Play represents a TwiML <Play> element.
type Play struct {
	XMLName xml.Name `xml:"Play"`
	Loop    int      `xml:"loop,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Pause represents a TwiML <Pause> element.
type Pause struct {
	XMLName xml.Name `xml:"Pause"`
	Length  int      `xml:"length,attr,omitempty"`
}

// Gather represents a TwiML <Gather> element.
type Gather struct {
	XMLName             xml.Name `xml:"Gather"`
	Input               string   `xml:"input,attr,omitempty"`
	Language            string   `xml:"language,attr,omitempty"`
	SpeechTimeout       string   `xml:"speechTimeout,attr,omitempty"`
	Timeout             int      `xml:"timeout,attr,omitempty"`
	Action              string   `xml:"action,attr,omitempty"`
	Method              string   `xml:"method,attr,omitempty"`
	Enhanced            bool     `xml:"enhanced,attr,omitempty"`
	SpeechModel         string   `xml:"speechModel,attr,omitempty"`
	ActionOnEmptyResult bool     `xml:"actionOnEmptyResult,attr,omitempty"`
	Say                 *Say     `xml:",omitempty"`
	Play                *Play    `xml:",omitempty"`
}

// Redirect represents a TwiML <Redirect> element.
type Redirect struct {
	XMLName xml.Name `xml:"Redirect"`
	Method  string   `xml:"method,attr,omitempty"`
	URL     string   `xml:",chardata"`
}

// Hangup represents a TwiML <Hangup> element.
type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// Record represents a TwiML <Record> element.
type Record struct {
	XMLName            xml.Name `xml:"Record"`
	Action             string   `xml:"action,attr,omitempty"`
	Method             string   `xml:"method,attr,omitempty"`
	MaxLength          int      `xml:"maxLength,attr,omitempty"`
	Timeout            int      `xml:"timeout,attr,omitempty"`
	Transcribe         bool     `xml:"transcribe,attr,omitempty"`
	TranscribeCallback string   `xml:"transcribeCallback,attr,omitempty"`
}

// Connect represents a TwiML <Connect> element.
type Connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  *Stream  `xml:",omitempty"`
}

// Stream represents a TwiML <Stream> element.
type Stream struct {
	XMLName    xml.Name    `xml:"Stream"`
	URL        string      `xml:"url,attr"`
	Parameters []Parameter `xml:"Parameter"`
}

// Parameter represents a TwiML <Parameter> element.
type Parameter struct {
	Name  string `xml:"name,attr"`
	Value string `xml:"value,attr"`
}

func (*Say) verb()      {}
func (*Play) verb()     {}
func (*Pause) verb()    {}
func (*Gather) verb()   {}
func (*Redirect) verb() {}
func (*Hangup) verb()   {}
func (*Record) verb()   {}
func (*Connect) verb()  {}
