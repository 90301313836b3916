// Package automation drives the hosting panel through a remote browser
// session. The orchestrator only sees the Session interface; concrete
// sessions live in sub-packages.
package automation

import (
	"context"
	"errors"
	"fmt"
)

// Session is one remote automation session.
//
// Operations return *StepError when the panel does not expose what the step
// needs. Close is idempotent.
type Session interface {
	ID() string
	Login(ctx context.Context) error
	// PerformBackup walks the backup flow. With fake set the confirmation
	// dialog is dismissed instead of confirmed.
	PerformBackup(ctx context.Context, fake bool) error
	Close() error
	Closed() bool
}

// Dialer opens new sessions.
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// DialerFunc adapts a function to Dialer.
type DialerFunc func(ctx context.Context) (Session, error)

func (f DialerFunc) Dial(ctx context.Context) (Session, error) { return f(ctx) }

var (
	ErrAffordanceMissing = errors.New("expected page element not found")
	ErrSessionClosed     = errors.New("session closed")
)

const (
	StepLogin  = "login"
	StepBackup = "backup"
)

// StepError is a failed login or backup step.
type StepError struct {
	Step       string // StepLogin or StepBackup
	Affordance string // selector that was looked up, if any
	Err        error
}

func (e *StepError) Error() string {
	if e.Affordance != "" {
		return fmt.Sprintf("%s: %s: %v", e.Step, e.Affordance, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// ConnectError is returned once every connect attempt failed.
type ConnectError struct {
	Attempts int
	Err      error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect failed after %d attempt(s): %v", e.Attempts, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }
