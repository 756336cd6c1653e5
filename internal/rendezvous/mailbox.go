// Package rendezvous hands a challenge to a human (or another process) and
// waits for exactly one answer.
//
// Two transports are provided. FileMailbox uses a shared directory: the
// request image and instructions are written next to a well-known answer
// file, and the answer file is consumed (read, then deleted) exactly once.
// Slot is the in-process equivalent built on a one-element channel.
package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrTimeout is returned when no valid answer arrived in time.
var ErrTimeout = errors.New("rendezvous timed out waiting for an answer")

// ErrSlotFull is returned by Slot.Deliver when an answer is already pending.
var ErrSlotFull = errors.New("rendezvous slot already holds an answer")

// Request is one challenge handed to the human.
type Request struct {
	ID           string
	Image        []byte // PNG
	Instructions string // markdown
	// Validate rejects malformed answers; a rejected answer is discarded and
	// the wait continues. Nil accepts anything non-empty.
	Validate func(answer string) error
}

func (r Request) check(answer string) error {
	if answer == "" {
		return errors.New("empty answer")
	}
	if r.Validate == nil {
		return nil
	}
	return r.Validate(answer)
}

// Mailbox publishes a request and blocks for its answer. Implementations
// must consume each answer at most once, and must remove whatever request
// artifacts they created before returning, including on cancellation.
type Mailbox interface {
	Exchange(ctx context.Context, req Request) (string, error)
}

// Deliver writes answer to path atomically (temp file then rename) so that a
// polling reader never observes a partial write.
func Deliver(path, answer string) error {
	answer = strings.TrimSpace(answer)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create rendezvous directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".answer-*")
	if err != nil {
		return fmt.Errorf("failed to create temp answer: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.WriteString(answer + "\n"); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write answer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to close answer: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to publish answer: %w", err)
	}
	return nil
}
