package rendezvous

import (
	"context"
	"fmt"
	"strings"
	"time"

	"vpsrenew/internal/logging"
)

// Slot is an in-process single-slot channel: one answer can be delivered and
// it is received at most once.
type Slot struct {
	ch      chan string
	timeout time.Duration
	// OnRequest is called when an exchange starts, e.g. to show the challenge
	// in a TUI.
	OnRequest func(Request)
}

// NewSlot returns an empty slot; a non-positive timeout uses DefaultTimeout.
func NewSlot(timeout time.Duration) *Slot {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Slot{ch: make(chan string, 1), timeout: timeout}
}

// Deliver places an answer in the slot without blocking.
func (s *Slot) Deliver(answer string) error {
	select {
	case s.ch <- strings.TrimSpace(answer):
		return nil
	default:
		return ErrSlotFull
	}
}

// Exchange implements Mailbox. An answer left over from an earlier exchange
// is dropped first.
func (s *Slot) Exchange(ctx context.Context, req Request) (string, error) {
	log := logging.Get(logging.CategoryRendezvous).WithContext(map[string]interface{}{"occurrence": req.ID})

	select {
	case <-s.ch:
		log.Warn("discarded stale answer in slot")
	default:
	}

	if s.OnRequest != nil {
		s.OnRequest(req)
	}

	deadline := time.NewTimer(s.timeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("%w after %s", ErrTimeout, s.timeout)
		case answer := <-s.ch:
			if err := req.check(answer); err != nil {
				log.Warn("discarded invalid answer %q: %v", answer, err)
				continue
			}
			return answer, nil
		}
	}
}
