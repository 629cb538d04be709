package indicator

import (
	"context"
	"time"

	"github.com/davarch/buildlight/internal/domain"
)

// urgentLockWait bounds how long CloseUrgently waits for a caller that is
// holding the device, typically in the middle of a buzz.
const urgentLockWait = time.Second

// Serialized gives every tracker exclusive access to the shared device for
// the duration of one call.
type Serialized struct {
	sem  chan struct{}
	next domain.Indicator
}

func NewSerialized(next domain.Indicator) *Serialized {
	return &Serialized{sem: make(chan struct{}, 1), next: next}
}

func (s *Serialized) lock()   { s.sem <- struct{}{} }
func (s *Serialized) unlock() { <-s.sem }

func (s *Serialized) SetOutput(id domain.OutputID, on bool) error {
	s.lock()
	defer s.unlock()
	return s.next.SetOutput(id, on)
}

func (s *Serialized) Buzz(ctx context.Context, id domain.OutputID, d time.Duration) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer s.unlock()
	return s.next.Buzz(ctx, id, d)
}

func (s *Serialized) AllOff(ids []domain.OutputID) error {
	s.lock()
	defer s.unlock()
	return s.next.AllOff(ids)
}

func (s *Serialized) Close() error {
	s.lock()
	defer s.unlock()
	return s.next.Close()
}

func (s *Serialized) CloseUrgently() error {
	t := time.NewTimer(urgentLockWait)
	defer t.Stop()

	select {
	case s.sem <- struct{}{}:
		defer s.unlock()
	case <-t.C:
	}
	return s.next.CloseUrgently()
}
