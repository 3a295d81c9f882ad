// Package chat defines the provider-neutral streaming chat abstraction.
package chat

import (
	"context"
	"errors"
	"fmt"

	"github.com/nstogner/studio/pkg/domain"
)

var (
	// ErrMissingCredential is returned before any network call when a
	// provider that needs an API key was given none.
	ErrMissingCredential = errors.New("missing API key")
	// ErrUnsupportedProvider is returned by factories for unknown provider tags.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrUnsupported is returned by sessions that only implement streaming.
	ErrUnsupported = errors.New("operation not supported by this provider")
	// ErrBusy is returned when a session already has a message in flight.
	ErrBusy = errors.New("session is busy with another message")
	// ErrStreamConsumed is yielded when a stream is iterated a second time.
	ErrStreamConsumed = errors.New("stream already consumed")
)

// TransportError describes a failed provider request: a network failure or
// a non-success HTTP status.
type TransportError struct {
	Provider   domain.Provider
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		if e.Body != "" {
			return fmt.Sprintf("%s API error (status %d): %s", e.Provider, e.StatusCode, e.Body)
		}
		return fmt.Sprintf("%s API error (status %d)", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s request failed: %v", e.Provider, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Retryable reports whether the request may succeed if sent again.
func (e *TransportError) Retryable() bool {
	switch {
	case e.StatusCode == 429, e.StatusCode >= 500:
		return true
	case e.StatusCode == 0:
		return e.Err != nil && !errors.Is(e.Err, context.Canceled) && !errors.Is(e.Err, context.DeadlineExceeded)
	}
	return false
}

// MissingCredential returns ErrMissingCredential annotated with the provider.
func MissingCredential(p domain.Provider) error {
	return fmt.Errorf("%w for %s", ErrMissingCredential, p)
}

// Attachment is inline binary content sent alongside a message.
type Attachment struct {
	MIMEType string `json:"mimeType"`
	Data     []byte `json:"data"`
}

// Input is one user message.
type Input struct {
	Text        string       `json:"text"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// Message is one turn of a transcript.
type Message struct {
	Role        domain.Role  `json:"role"`
	Content     string       `json:"content"`
	Attachments []Attachment `json:"attachments,omitempty"`
}

// UserMessage converts an input into a user turn.
func UserMessage(in Input) Message {
	return Message{Role: domain.RoleUser, Content: in.Text, Attachments: in.Attachments}
}

// Session is one conversation with a model. A session owns its transcript;
// callers should wait for a stream to finish before sending again.
type Session interface {
	// SendMessageStream appends the user turn, issues the request and
	// returns the reply as a lazy fragment sequence. Transport failures
	// that happen before the first fragment are returned here, with the
	// user turn already rolled back.
	SendMessageStream(ctx context.Context, in Input) (*Stream, error)
	// SendMessage returns the whole reply at once. HTTP providers return
	// ErrUnsupported.
	SendMessage(ctx context.Context, in Input) (string, error)
	// History returns a copy of the transcript.
	History() []Message
	// Model returns the descriptor the session was built for.
	Model() domain.ModelDescriptor
}
