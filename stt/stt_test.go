package stt_test

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentplexus/omnivoice-receptionist/stt"
)

func TestRecognizer_GatherDefaults(t *testing.T) {
	g := stt.New().Gather("/conversation", false)

	assert.Equal(t, "speech", g.Input)
	assert.Equal(t, stt.DefaultTimeout, g.Timeout)
	assert.Equal(t, "auto", g.SpeechTimeout)
	assert.Equal(t, "/conversation", g.Action)
	assert.Equal(t, "POST", g.Method)
	assert.False(t, g.ActionOnEmptyResult)
	assert.Empty(t, g.SpeechModel)
}

func TestRecognizer_GatherOptions(t *testing.T) {
	r := stt.New(
		stt.WithLanguage("en-GB"),
		stt.WithSpeechModel("phone_call"),
		stt.WithEnhanced(true),
		stt.WithTimeout(4),
		stt.WithSpeechTimeout("2"),
	)
	g := r.Gather("/conversation", true)

	assert.Equal(t, "en-GB", g.Language)
	assert.Equal(t, "phone_call", g.SpeechModel)
	assert.True(t, g.Enhanced)
	assert.Equal(t, 4, g.Timeout)
	assert.Equal(t, "2", g.SpeechTimeout)
	assert.True(t, g.ActionOnEmptyResult)
}

func TestResultFromForm(t *testing.T) {
	res := stt.ResultFromForm(url.Values{"SpeechResult": {"  I need a quote  "}, "Confidence": {"0.91"}})
	assert.Equal(t, "I need a quote", res.Text)
	assert.InDelta(t, 0.91, res.Confidence, 1e-9)
	assert.False(t, res.Empty())

	res = stt.ResultFromForm(url.Values{"Confidence": {"bogus"}})
	assert.True(t, res.Empty())
	assert.Zero(t, res.Confidence)
}

func TestNewWhisper_RequiresKey(t *testing.T) {
	_, err := stt.NewWhisper("")
	assert.ErrorIs(t, err, stt.ErrNoAPIKey)
}

func TestWhisper_TranscribeMuLaw(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/audio/transcriptions", r.URL.Path)
		assert.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "whisper-1", r.FormValue("model"))

		f, _, err := r.FormFile("file")
		if assert.NoError(t, err) {
			head, _ := io.ReadAll(f)
			assert.Equal(t, "RIFF", string(head[:4]))
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"text": " Hi, is Mario around? "}`))
	}))
	defer srv.Close()

	w, err := stt.NewWhisper("sk-test", stt.WithWhisperBaseURL(srv.URL))
	require.NoError(t, err)

	frames := make([]byte, 160)
	for i := range frames {
		frames[i] = 0xFF
	}
	text, err := w.TranscribeMuLaw(context.Background(), frames)
	require.NoError(t, err)
	assert.Equal(t, "Hi, is Mario around?", text)
}

func TestWhisper_TranscribeError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": {"message": "Audio file is too short", "type": "invalid_request_error"}}`))
	}))
	defer srv.Close()

	w, err := stt.NewWhisper("sk-test", stt.WithWhisperBaseURL(srv.URL))
	require.NoError(t, err)

	_, err = w.TranscribeMuLaw(context.Background(), []byte{0xFF})
	assert.Error(t, err)
}
