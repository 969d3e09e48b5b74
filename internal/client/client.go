// Package client is the small slice of the Twilio REST API the receptionist
// needs: placing summary calls, redirecting live calls and sending SMS.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	receptionist "github.com/agentplexus/omnivoice-receptionist"
	"github.com/agentplexus/omnivoice-receptionist/obs"
)

// ErrMissingCredentials is returned when the account SID or auth token is empty.
var ErrMissingCredentials = errors.New("twilio account SID and auth token are required")

// Client is a Twilio API client.
type Client struct {
	accountSID string
	authToken  string
	baseURL    string
	httpClient *http.Client
}

// Config configures the Twilio client.
type Config struct {
	AccountSID string
	AuthToken  string
	BaseURL    string
	HTTPClient *http.Client
}

// New creates a new Twilio client.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, ErrMissingCredentials
	}

	c := &Client{
		accountSID: cfg.AccountSID,
		authToken:  cfg.AuthToken,
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		httpClient: cfg.HTTPClient,
	}
	if c.baseURL == "" {
		c.baseURL = receptionist.DefaultAPIBaseURL
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return c, nil
}

// Call is a Twilio call resource.
type Call struct {
	SID       string `json:"sid"`
	To        string `json:"to"`
	From      string `json:"from"`
	Status    string `json:"status"`
	Direction string `json:"direction"`
}

// MakeCallParams are parameters for placing a call.
type MakeCallParams struct {
	To                  string
	From                string
	URL                 string   // TwiML URL fetched when answered
	Method              string   // method used to fetch URL
	Twiml               string   // inline TwiML, used instead of URL
	StatusCallback      string   // webhook for status updates
	StatusCallbackEvent []string // events to receive
	Timeout             int      // ring timeout in seconds
}

func (p *MakeCallParams) form() url.Values {
	f := url.Values{"To": {p.To}, "From": {p.From}}
	setIf(f, "Url", p.URL)
	setIf(f, "Method", p.Method)
	setIf(f, "Twiml", p.Twiml)
	setIf(f, "StatusCallback", p.StatusCallback)
	for _, event := range p.StatusCallbackEvent {
		f.Add("StatusCallbackEvent", event)
	}
	if p.Timeout > 0 {
		f.Set("Timeout", strconv.Itoa(p.Timeout))
	}
	return f
}

// MakeCall places an outbound call.
func (c *Client) MakeCall(ctx context.Context, params *MakeCallParams) (*Call, error) {
	var call Call
	if err := c.post(ctx, "twilio.make_call", "Calls.json", params.form(), &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// UpdateCallParams redirect or end a live call.
type UpdateCallParams struct {
	URL    string // new TwiML URL
	Twiml  string // inline TwiML
	Status string // "completed" hangs up, "canceled" cancels a ringing call
}

func (p *UpdateCallParams) form() url.Values {
	f := url.Values{}
	setIf(f, "Url", p.URL)
	setIf(f, "Twiml", p.Twiml)
	setIf(f, "Status", p.Status)
	return f
}

// UpdateCall modifies an in-progress call.
func (c *Client) UpdateCall(ctx context.Context, callSID string, params *UpdateCallParams) (*Call, error) {
	var call Call
	path := "Calls/" + url.PathEscape(callSID) + ".json"
	if err := c.post(ctx, "twilio.update_call", path, params.form(), &call); err != nil {
		return nil, err
	}
	return &call, nil
}

// HangupCall ends a call.
func (c *Client) HangupCall(ctx context.Context, callSID string) (*Call, error) {
	return c.UpdateCall(ctx, callSID, &UpdateCallParams{Status: receptionist.CallStatusCompleted})
}

// Message is a Twilio message resource.
type Message struct {
	SID    string `json:"sid"`
	To     string `json:"to"`
	From   string `json:"from"`
	Body   string `json:"body"`
	Status string `json:"status"`
}

// SendMessageParams are parameters for sending an SMS.
type SendMessageParams struct {
	To   string
	From string
	Body string
}

// SendMessage sends an SMS.
func (c *Client) SendMessage(ctx context.Context, params *SendMessageParams) (*Message, error) {
	var msg Message
	form := url.Values{"To": {params.To}, "From": {params.From}, "Body": {params.Body}}
	if err := c.post(ctx, "twilio.send_message", "Messages.json", form, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Error is a Twilio API error body.
type Error struct {
	Code     int    `json:"code"`
	Message  string `json:"message"`
	MoreInfo string `json:"more_info"`
	Status   int    `json:"status"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("twilio error %d: %s", e.Code, e.Message)
}

func setIf(f url.Values, key, value string) {
	if value != "" {
		f.Set(key, value)
	}
}

// post sends form to an account-scoped resource and decodes the JSON reply
// into result.
func (c *Client) post(ctx context.Context, op, resource string, form url.Values, result any) (err error) {
	ctx, rec := obs.Start(ctx, op, attribute.String("resource", resource))
	defer func() { rec.End(err) }()

	endpoint := fmt.Sprintf("%s/Accounts/%s/%s", c.baseURL, c.accountSID, resource)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.SetBasicAuth(c.accountSID, c.authToken)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: request failed: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s: failed to read response: %w", op, err)
	}

	if resp.StatusCode >= 400 {
		var apiErr Error
		if json.Unmarshal(body, &apiErr) != nil || apiErr.Message == "" {
			return fmt.Errorf("%s: status %d: %s", op, resp.StatusCode, string(body))
		}
		return fmt.Errorf("%s: %w", op, &apiErr)
	}

	if err := json.Unmarshal(body, result); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", op, err)
	}
	return nil
}
