// Package sse implements chat sessions for providers reached over plain
// HTTP with server-sent-event streaming. A Dialect supplies the wire format
// of one provider; Session owns the transcript and the request lifecycle.
package sse

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/nstogner/studio/pkg/chat"
	"github.com/nstogner/studio/pkg/domain"
)

const doneSentinel = "[DONE]"

// Request holds everything a dialect needs to encode one call.
type Request struct {
	Model      string
	System     string
	Generation domain.GenerationConfig
	Messages   []chat.Message
}

// Dialect is the wire format of one HTTP provider.
type Dialect interface {
	// Provider returns the provider tag, used in errors and logs.
	Provider() domain.Provider
	// DefaultBaseURL is used when Options.BaseURL is empty.
	DefaultBaseURL() string
	// Path is appended to the base URL.
	Path() string
	// SetHeaders adds authentication and versioning headers.
	SetHeaders(h http.Header, credential string)
	// Body encodes a streaming request. Fields the provider does not
	// understand must be omitted.
	Body(req Request) ([]byte, error)
	// Delta extracts the text of one event payload. done reports a
	// provider-specific end-of-stream event.
	Delta(payload []byte) (text string, done bool, err error)
}

// Options configures the transport of a session.
type Options struct {
	HTTPClient *http.Client
	BaseURL    string
	// Timeout bounds a whole send, streaming included. Zero means none.
	Timeout time.Duration
	Retry   RetryPolicy
}

// Session is a chat.Session over HTTP/SSE.
type Session struct {
	dialect    Dialect
	desc       domain.ModelDescriptor
	credential string
	system     string
	generation domain.GenerationConfig
	opts       Options
	transcript *chat.Transcript
}

var _ chat.Session = (*Session)(nil)

// NewSession creates a session with an empty transcript.
func NewSession(d Dialect, desc domain.ModelDescriptor, credential, system string, gen domain.GenerationConfig, opts Options) *Session {
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}
	if opts.BaseURL == "" {
		opts.BaseURL = d.DefaultBaseURL()
	}
	opts.BaseURL = strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	opts.Retry = opts.Retry.normalize()
	return &Session{
		dialect:    d,
		desc:       desc,
		credential: strings.TrimSpace(credential),
		system:     system,
		generation: gen,
		opts:       opts,
		transcript: chat.NewTranscript(),
	}
}

// Model returns the descriptor the session was built for.
func (s *Session) Model() domain.ModelDescriptor { return s.desc }

// History returns a copy of the transcript.
func (s *Session) History() []chat.Message { return s.transcript.History() }

// SendMessage is not supported by HTTP providers.
func (s *Session) SendMessage(context.Context, chat.Input) (string, error) {
	return "", fmt.Errorf("%s: SendMessage: %w", s.dialect.Provider(), chat.ErrUnsupported)
}

// SendMessageStream sends the text of in and returns the reply stream.
// Attachments are not forwarded, so input without text is rejected.
func (s *Session) SendMessageStream(ctx context.Context, in chat.Input) (*chat.Stream, error) {
	provider := s.dialect.Provider()
	if s.credential == "" {
		return nil, chat.MissingCredential(provider)
	}
	if strings.TrimSpace(in.Text) == "" {
		return nil, fmt.Errorf("%s: message without text: %w", provider, chat.ErrUnsupported)
	}

	turn, err := s.transcript.Begin(chat.Message{Role: domain.RoleUser, Content: in.Text})
	if err != nil {
		return nil, err
	}

	body, err := s.dialect.Body(Request{
		Model:      s.desc.Model,
		System:     s.system,
		Generation: s.generation,
		Messages:   turn.Messages(),
	})
	if err != nil {
		turn.Discard()
		return nil, fmt.Errorf("encoding %s request: %w", provider, err)
	}

	requestCtx, cancel := ctx, context.CancelFunc(func() {})
	if s.opts.Timeout > 0 {
		requestCtx, cancel = context.WithTimeout(ctx, s.opts.Timeout)
	}

	slog.Debug("Sending chat request", "provider", provider, "model", s.desc.Model, "messageCount", s.transcript.Len())

	resp, err := s.post(requestCtx, body)
	if err != nil {
		cancel()
		turn.Discard()
		return nil, err
	}

	return chat.NewStream(turn, &source{
		provider: provider,
		dialect:  s.dialect,
		ctx:      requestCtx,
		body:     resp.Body,
		events:   NewReader(resp.Body),
		cancel:   cancel,
	}), nil
}

// post issues the request, retrying failures that happen before the
// response status is known to be successful.
func (s *Session) post(ctx context.Context, body []byte) (*http.Response, error) {
	var lastErr error
	for attempt := 0; attempt <= s.opts.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := s.opts.Retry.backoff(attempt - 1)
			slog.Warn("Retrying chat request", "provider", s.dialect.Provider(), "attempt", attempt, "delay", delay, "error", lastErr)
			if err := sleepContext(ctx, delay); err != nil {
				return nil, &chat.TransportError{Provider: s.dialect.Provider(), Err: err}
			}
		}

		resp, err := s.postOnce(ctx, body)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		var te *chat.TransportError
		if !errors.As(err, &te) || !te.Retryable() {
			break
		}
	}
	return nil, lastErr
}

func (s *Session) postOnce(ctx context.Context, body []byte) (*http.Response, error) {
	provider := s.dialect.Provider()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.opts.BaseURL+s.dialect.Path(), bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating %s request: %w", provider, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	s.dialect.SetHeaders(req.Header, s.credential)

	resp, err := s.opts.HTTPClient.Do(req)
	if err != nil {
		return nil, &chat.TransportError{Provider: provider, Err: err}
	}
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		defer resp.Body.Close()
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		return nil, &chat.TransportError{
			Provider:   provider,
			StatusCode: resp.StatusCode,
			Body:       strings.TrimSpace(string(respBody)),
		}
	}
	return resp, nil
}

// source adapts an event stream to chat.Source.
type source struct {
	provider domain.Provider
	dialect  Dialect
	ctx      context.Context
	body     io.Closer
	events   *Reader
	cancel   context.CancelFunc
}

func (s *source) Next() (string, error) {
	for {
		payload, err := s.events.Next()
		if errors.Is(err, io.EOF) {
			// A closed stream without a sentinel still ends the reply,
			// unless the close was caused by cancellation.
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				return "", &chat.TransportError{Provider: s.provider, Err: ctxErr}
			}
			return "", io.EOF
		}
		if err != nil {
			if ctxErr := s.ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			return "", &chat.TransportError{Provider: s.provider, Err: err}
		}
		if payload == doneSentinel {
			return "", io.EOF
		}
		if payload == "" {
			continue
		}

		text, done, err := s.dialect.Delta([]byte(payload))
		if err != nil {
			return "", err
		}
		if done {
			return "", io.EOF
		}
		if text != "" {
			return text, nil
		}
	}
}

func (s *source) Close() error {
	err := s.body.Close()
	s.cancel()
	return err
}
