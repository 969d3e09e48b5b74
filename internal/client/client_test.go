package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/omnivoice-receptionist/internal/client"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *client.Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c, err := client.New(&client.Config{
		AccountSID: "AC123",
		AuthToken:  "secret",
		BaseURL:    srv.URL,
	})
	require.NoError(t, err)
	return c
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := client.New(nil)
	require.ErrorIs(t, err, client.ErrMissingCredentials)

	_, err = client.New(&client.Config{AccountSID: "AC123"})
	require.ErrorIs(t, err, client.ErrMissingCredentials)
}

func TestMakeCall(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Calls.json", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "AC123", user)
		assert.Equal(t, "secret", pass)

		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "+15550000002", r.PostForm.Get("To"))
		assert.Equal(t, "+15550000001", r.PostForm.Get("From"))
		assert.Equal(t, "https://example.com/voice-summary?token=x", r.PostForm.Get("Url"))
		assert.Equal(t, "20", r.PostForm.Get("Timeout"))
		assert.Equal(t, []string{"completed"}, r.PostForm["StatusCallbackEvent"])

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"sid":"CA1","status":"queued","to":"+15550000002","from":"+15550000001"}`))
	})

	call, err := c.MakeCall(context.Background(), &client.MakeCallParams{
		To:                  "+15550000002",
		From:                "+15550000001",
		URL:                 "https://example.com/voice-summary?token=x",
		StatusCallbackEvent: []string{"completed"},
		Timeout:             20,
	})
	require.NoError(t, err)
	assert.Equal(t, "CA1", call.SID)
	assert.Equal(t, "queued", call.Status)
}

func TestSendMessage(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Messages.json", r.URL.Path)
		assert.NoError(t, r.ParseForm())
		assert.Equal(t, "hello", r.PostForm.Get("Body"))
		_, _ = w.Write([]byte(`{"sid":"SM1","body":"hello","status":"queued"}`))
	})

	msg, err := c.SendMessage(context.Background(), &client.SendMessageParams{
		To:   "+15550000002",
		From: "+15550000001",
		Body: "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "SM1", msg.SID)
}

func TestUpdateCall_APIError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/Accounts/AC123/Calls/CA9.json", r.URL.Path)
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"code":20404,"message":"The requested resource was not found","status":404}`))
	})

	_, err := c.HangupCall(context.Background(), "CA9")
	require.Error(t, err)

	var apiErr *client.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 20404, apiErr.Code)
}

func TestPost_UnparseableError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream down"))
	})

	_, err := c.SendMessage(context.Background(), &client.SendMessageParams{To: "a", From: "b", Body: "c"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "upstream down")
}
