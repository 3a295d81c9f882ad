package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/domain"
)

type testDialect struct{}

func (testDialect) Provider() domain.Provider { return domain.ProviderOpenAI }
func (testDialect) DefaultBaseURL() string    { return "http://127.0.0.1:0" }
func (testDialect) Path() string              { return "/chat" }

func (testDialect) SetHeaders(h http.Header, credential string) {
	h.Set("Authorization", "Bearer "+credential)
}

func (testDialect) Body(req Request) ([]byte, error) {
	return json.Marshal(map[string]any{"model": req.Model, "system": req.System, "messages": req.Messages})
}

func (testDialect) Delta(payload []byte) (string, bool, error) {
	if gjson.GetBytes(payload, "stop").Bool() {
		return "", true, nil
	}
	return gjson.GetBytes(payload, "text").String(), false, nil
}

var testModel = domain.ModelDescriptor{ID: "test", Provider: domain.ProviderOpenAI, Model: "test-model"}

func writeEvents(w http.ResponseWriter, events ...string) {
	w.Header().Set("Content-Type", "text/event-stream")
	for _, e := range events {
		fmt.Fprintf(w, "data: %s\n\n", e)
	}
}

func newSession(url string, opts Options) *Session {
	opts.BaseURL = url
	return NewSession(testDialect{}, testModel, "sk-test", "be brief", domain.GenerationConfig{}, opts)
}

func TestSendMessageStreamSuccess(t *testing.T) {
	var body []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ = io.ReadAll(r.Body)
		writeEvents(w, `{"text":"Hel"}`, `{"text":"lo"}`, `{"other":1}`, `{"text":" there"}`, "[DONE]", `{"text":"ignored"}`)
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{})
	stream, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hi"})
	require.NoError(t, err)

	var frags []string
	for frag, err := range stream.All() {
		require.NoError(t, err)
		frags = append(frags, frag)
	}
	assert.Equal(t, []string{"Hel", "lo", " there"}, frags)
	assert.Equal(t, "Hello there", stream.Text())

	assert.Equal(t, []chat.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "Hello there"},
	}, s.History())

	assert.Equal(t, "test-model", gjson.GetBytes(body, "model").String())
	assert.Equal(t, "be brief", gjson.GetBytes(body, "system").String())
	assert.Equal(t, "hi", gjson.GetBytes(body, "messages.0.content").String())
}

func TestSendMessageStreamSendsHistory(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := calls.Add(1)
		body, _ := io.ReadAll(r.Body)
		if n == 2 {
			assert.Equal(t, int64(3), gjson.GetBytes(body, "messages.#").Int())
			assert.Equal(t, "first reply", gjson.GetBytes(body, "messages.1.content").String())
		}
		writeEvents(w, `{"text":"first reply"}`)
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{})
	for _, text := range []string{"one", "two"} {
		stream, err := s.SendMessageStream(context.Background(), chat.Input{Text: text})
		require.NoError(t, err)
		_, err = stream.ReadAll()
		require.NoError(t, err)
	}
	assert.Len(t, s.History(), 4)
}

func TestSendMessageStreamStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusInternalServerError)
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{})
	_, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hello"})
	require.Error(t, err)

	var te *chat.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, http.StatusInternalServerError, te.StatusCode)
	assert.Contains(t, te.Body, "overloaded")
	assert.Empty(t, s.History())
}

func TestSendMessageStreamMissingCredential(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	s := NewSession(testDialect{}, testModel, "  ", "", domain.GenerationConfig{}, Options{BaseURL: srv.URL})
	_, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hello"})
	require.ErrorIs(t, err, chat.ErrMissingCredential)
	assert.Empty(t, s.History())
	assert.Zero(t, calls.Load())
}

func TestSendMessageStreamRequiresText(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		writeEvents(w, `{"text":"ok"}`, "[DONE]")
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{})
	stream, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hi"})
	require.NoError(t, err)
	_, err = stream.ReadAll()
	require.NoError(t, err)

	attachment := chat.Attachment{MIMEType: "image/png", Data: []byte{0x89, 'P', 'N', 'G'}}
	for _, in := range []chat.Input{
		{Attachments: []chat.Attachment{attachment}},
		{Text: "  \n", Attachments: []chat.Attachment{attachment}},
	} {
		_, err := s.SendMessageStream(context.Background(), in)
		require.ErrorIs(t, err, chat.ErrUnsupported)
	}
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, []chat.Message{
		{Role: domain.RoleUser, Content: "hi"},
		{Role: domain.RoleAssistant, Content: "ok"},
	}, s.History())
}

func TestSendMessageStreamRetries(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writeEvents(w, `{"text":"ok"}`, "[DONE]")
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{Retry: RetryPolicy{MaxRetries: 2, BaseDelay: time.Millisecond, MaxDelay: 2 * time.Millisecond}})
	stream, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hi"})
	require.NoError(t, err)
	text, err := stream.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "ok", text)
	assert.Equal(t, int32(2), calls.Load())
}

func TestSendMessageStreamNoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{Retry: RetryPolicy{MaxRetries: 3, BaseDelay: time.Millisecond}})
	_, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}

func TestSendMessageStreamEndsOnClose(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, `{"text":"no sentinel"}`)
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{})
	stream, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hi"})
	require.NoError(t, err)
	text, err := stream.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "no sentinel", text)
	assert.Len(t, s.History(), 2)
}

func TestSendMessageStreamDialectStop(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, `{"text":"a"}`, `{"stop":true}`, `{"text":"b"}`)
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{})
	stream, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hi"})
	require.NoError(t, err)
	text, err := stream.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, "a", text)
}

func TestSendMessageStreamCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, `{"text":"partial"}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s := newSession(srv.URL, Options{})
	stream, err := s.SendMessageStream(ctx, chat.Input{Text: "hi"})
	require.NoError(t, err)

	var gotErr error
	for frag, err := range stream.All() {
		if err != nil {
			gotErr = err
			break
		}
		assert.Equal(t, "partial", frag)
		cancel()
	}
	require.ErrorIs(t, gotErr, context.Canceled)
	assert.Empty(t, s.History())
}

func TestSendMessageStreamTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, `{"text":"slow"}`)
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{Timeout: 50 * time.Millisecond})
	stream, err := s.SendMessageStream(context.Background(), chat.Input{Text: "hi"})
	require.NoError(t, err)

	_, err = stream.ReadAll()
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, s.History())
}

func TestSendMessageStreamBusy(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeEvents(w, `{"text":"x"}`)
	}))
	defer srv.Close()

	s := newSession(srv.URL, Options{})
	first, err := s.SendMessageStream(context.Background(), chat.Input{Text: "one"})
	require.NoError(t, err)

	_, err = s.SendMessageStream(context.Background(), chat.Input{Text: "two"})
	require.ErrorIs(t, err, chat.ErrBusy)

	require.NoError(t, first.Close())
	assert.Empty(t, s.History())
}

func TestSendMessageUnsupported(t *testing.T) {
	s := newSession("http://127.0.0.1:0", Options{})
	_, err := s.SendMessage(context.Background(), chat.Input{Text: "hi"})
	require.ErrorIs(t, err, chat.ErrUnsupported)
}

func TestReader(t *testing.T) {
	r := NewReader(strings.NewReader(": comment\r\nevent: message\r\ndata: one\r\n\r\ndata:two\n\ndata: three"))
	var got []string
	for {
		p, err := r.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, p)
	}
	assert.Equal(t, []string{"one", "two", "three"}, got)
}

func TestRetryPolicyBackoff(t *testing.T) {
	p := RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond, MaxDelay: 300 * time.Millisecond}.normalize()
	for attempt, limit := range []time.Duration{120, 240, 360, 360} {
		d := p.backoff(attempt)
		assert.LessOrEqual(t, d, limit*time.Millisecond, "attempt %d", attempt)
		assert.Greater(t, d, time.Duration(0))
	}
	assert.Equal(t, defaultRetryBaseDelay, RetryPolicy{}.normalize().BaseDelay)
}
