package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrSessionClosed = errors.New("broadcast: session closed")
	ErrNotRunning    = errors.New("broadcast: coordinator is not running")
)

// Subscriber receives serialized tick messages. Send must honour ctx and
// return once it is done; Close must be idempotent.
type Subscriber interface {
	ID() string
	Send(ctx context.Context, payload []byte) error
	Close() error
}

// DeliveryError records a failed send to one subscriber.
type DeliveryError struct {
	SubscriberID string
	Tick         uint64
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("delivery of tick %d to %s failed: %v", e.Tick, e.SubscriberID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Session is an in-process subscriber backed by a buffered channel.
type Session struct {
	id   string
	ch   chan []byte
	done chan struct{}
	once sync.Once
}

func NewSession(buffer int) *Session {
	if buffer < 0 {
		buffer = 0
	}
	return &Session{
		id:   uuid.NewString(),
		ch:   make(chan []byte, buffer),
		done: make(chan struct{}),
	}
}

func (s *Session) ID() string { return s.id }

// C delivers one payload per tick. It is never closed; watch Done instead.
func (s *Session) C() <-chan []byte { return s.ch }

// Done is closed when the session is closed by either side.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Send(ctx context.Context, payload []byte) error {
	select {
	case <-s.done:
		return ErrSessionClosed
	default:
	}
	select {
	case s.ch <- payload:
		return nil
	case <-s.done:
		return ErrSessionClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Session) Close() error {
	s.once.Do(func() { close(s.done) })
	return nil
}
