// Package transport defines the delivery contract shared by the notification
// channels.
package transport

import (
	"context"
	"errors"
)

// Sender delivers one text message to one channel.
//
// Messages use Discord markup (role mentions "<@&id>", relative timestamps
// "<t:epoch:R>", **bold**). Senders for other platforms render it down.
type Sender interface {
	Name() string
	Send(ctx context.Context, text string) error
}

// ErrEmptyMessage is returned for blank messages; they are never sent.
var ErrEmptyMessage = errors.New("empty message")

// PermanentError marks a failure that retrying will not fix (bad webhook,
// revoked token). The notifier stops retrying on it.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// IsPermanent reports whether err wraps a PermanentError.
func IsPermanent(err error) bool {
	var pe *PermanentError
	return errors.As(err, &pe)
}
