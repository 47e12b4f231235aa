// Package errs implements the error taxonomy and the per-connection error
// sink used to decide when a session tears itself down.
package errs

import (
	"sync"

	"go.uber.org/zap"
)

// Kind classifies where an error originated, mirroring the taxonomy a
// session's callers care about when deciding how to log or react.
type Kind int

const (
	KindSerialization Kind = iota
	KindTransport
	KindMedia
	KindChannel
)

func (k Kind) String() string {
	switch k {
	case KindSerialization:
		return "serialization"
	case KindTransport:
		return "transport"
	case KindMedia:
		return "media"
	case KindChannel:
		return "channel"
	default:
		return "unknown"
	}
}

// Error wraps an underlying error with a Kind so the sink can log it
// meaningfully without type-switching on the concrete cause.
type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.Kind.String() + " error"
	}
	return e.Kind.String() + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

func Serialization(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindSerialization, Err: err}
}

func Transport(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindTransport, Err: err}
}

func Media(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindMedia, Err: err}
}

func Channel(err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: KindChannel, Err: err}
}

// Sink is a bounded channel of errors observed while serving one connection.
// A single goroutine drains it, logging every error but acting on the first
// one only: everything this session does after the first observed error is
// best-effort cleanup.
type Sink struct {
	ch     chan error
	logger *zap.Logger
	once   sync.Once
}

// NewSink creates a sink with room for four in-flight errors, so a small
// burst of failures across goroutines does not block the goroutines that hit
// them; a fifth Send blocks until Run drains one.
func NewSink(logger *zap.Logger) *Sink {
	return &Sink{
		ch:     make(chan error, 4),
		logger: logger,
	}
}

// Send records an error on the sink. Nil errors are ignored so callers can
// write sink.Send(fn()) without a guard.
func (s *Sink) Send(err error) {
	if err == nil {
		return
	}
	s.ch <- err
}

// Spawn runs fn in its own goroutine and forwards any error it returns to
// the sink.
func (s *Sink) Spawn(fn func() error) {
	go func() {
		s.Send(fn())
	}()
}

// Run drains the sink until it is closed, logging every error and invoking
// onFirst exactly once, for the first error observed.
func (s *Sink) Run(onFirst func(error)) {
	for err := range s.ch {
		s.logger.Error("session error", zap.Error(err))
		s.once.Do(func() {
			if onFirst != nil {
				onFirst(err)
			}
		})
	}
}

// Close signals Run to return once the channel drains. Callers must not
// Send after Close.
func (s *Sink) Close() {
	close(s.ch)
}
