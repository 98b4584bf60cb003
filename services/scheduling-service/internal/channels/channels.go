// Package channels delivers rendered reminders to patients.
package channels

import (
	"context"
	"fmt"
)

type Message struct {
	To      string
	Subject string
	Body    string
}

type Sender interface {
	Send(ctx context.Context, msg Message) error
	ProviderID() string
}

// DispatchError wraps a delivery failure with the provider that produced it.
type DispatchError struct {
	Provider string
	Err      error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("%s: %v", e.Provider, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

type NoopSender struct {
	id string
}

func NewNoopSender(id string) *NoopSender {
	return &NoopSender{id: id}
}

func (s *NoopSender) ProviderID() string {
	return s.id
}

func (s *NoopSender) Send(context.Context, Message) error {
	return nil
}
