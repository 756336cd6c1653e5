package rendezvous

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"vpsrenew/internal/logging"
)

// Defaults for FileMailbox.
const (
	DefaultAnswerFile   = "captcha_solution.txt"
	DefaultTimeout      = 5 * time.Minute
	DefaultPollInterval = 5 * time.Second

	requestPrefix = "challenge-"
)

// FileMailbox exchanges challenges through a shared directory.
type FileMailbox struct {
	Dir          string
	AnswerFile   string // base name inside Dir
	Timeout      time.Duration
	PollInterval time.Duration
	// Watch enables an fsnotify watcher that wakes the poll loop early.
	// Polling still runs at PollInterval.
	Watch bool
}

// NewFileMailbox returns a mailbox over dir with default timings.
func NewFileMailbox(dir string) *FileMailbox {
	return &FileMailbox{
		Dir:          dir,
		AnswerFile:   DefaultAnswerFile,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		Watch:        true,
	}
}

// AnswerPath returns the absolute path of the answer file.
func (m *FileMailbox) AnswerPath() string {
	name := m.AnswerFile
	if name == "" {
		name = DefaultAnswerFile
	}
	p := filepath.Join(m.Dir, name)
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

// RequestPaths returns where the image and instructions of req are written.
func (m *FileMailbox) RequestPaths(id string) (image, instructions string) {
	base := filepath.Join(m.Dir, requestPrefix+id)
	return base + ".png", base + ".md"
}

// Exchange implements Mailbox. Any answer file already present when the
// exchange starts belongs to an earlier challenge and is discarded.
func (m *FileMailbox) Exchange(ctx context.Context, req Request) (string, error) {
	log := logging.Get(logging.CategoryRendezvous).WithContext(map[string]interface{}{"occurrence": req.ID})

	if err := os.MkdirAll(m.Dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create rendezvous directory: %w", err)
	}

	answerPath := m.AnswerPath()
	if err := os.Remove(answerPath); err == nil {
		log.Warn("discarded stale answer file %s", answerPath)
	}

	created, err := m.publish(req)
	defer func() {
		for _, p := range created {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				log.Warn("failed to remove request artifact %s: %v", p, err)
			}
		}
	}()
	if err != nil {
		return "", err
	}

	timeout := m.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	poll := m.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	var wake <-chan struct{}
	if m.Watch {
		aw, err := newAnswerWatcher(m.Dir, answerPath)
		if err != nil {
			log.Warn("file watcher unavailable, polling only: %v", err)
		} else {
			defer aw.Stop()
			wake = aw.wake
		}
	}

	log.Info("waiting up to %s for answer in %s", timeout, answerPath)

	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-deadline.C:
			return "", fmt.Errorf("%w after %s", ErrTimeout, timeout)
		case <-ticker.C:
		case <-wake:
		}

		answer, ok, err := consume(answerPath)
		if err != nil {
			log.Warn("failed to read answer file: %v", err)
			continue
		}
		if !ok {
			continue
		}
		if err := req.check(answer); err != nil {
			log.Warn("discarded invalid answer %q: %v", answer, err)
			continue
		}
		log.Info("answer received")
		return answer, nil
	}
}

// consume reads and deletes the answer file. An empty file is left in place
// since its writer may not have finished.
func consume(path string) (string, bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, err
	}
	answer := strings.TrimSpace(string(data))
	if answer == "" {
		return "", false, nil
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return "", false, fmt.Errorf("failed to delete answer file: %w", err)
	}
	return answer, true, nil
}

func (m *FileMailbox) publish(req Request) ([]string, error) {
	var created []string
	imgPath, mdPath := m.RequestPaths(req.ID)

	if len(req.Image) > 0 {
		if err := os.WriteFile(imgPath, req.Image, 0o644); err != nil {
			return created, fmt.Errorf("failed to write challenge image: %w", err)
		}
		created = append(created, imgPath)
	}
	if req.Instructions != "" {
		if err := os.WriteFile(mdPath, []byte(req.Instructions), 0o644); err != nil {
			return created, fmt.Errorf("failed to write instructions: %w", err)
		}
		created = append(created, mdPath)
	}
	return created, nil
}

// PendingRequest describes a challenge currently waiting in a directory.
type PendingRequest struct {
	ID               string
	ImagePath        string
	InstructionsPath string
	Instructions     string
	Created          time.Time
}

// ErrNoPendingRequest is returned by LatestRequest when nothing is waiting.
var ErrNoPendingRequest = errors.New("no pending challenge")

// LatestRequest finds the most recently published challenge in dir. The
// answer helper uses it to show the image and instructions.
func LatestRequest(dir string) (*PendingRequest, error) {
	matches, err := filepath.Glob(filepath.Join(dir, requestPrefix+"*.md"))
	if err != nil {
		return nil, err
	}
	type entry struct {
		path string
		mod  time.Time
	}
	var entries []entry
	for _, p := range matches {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		entries = append(entries, entry{p, info.ModTime()})
	}
	if len(entries) == 0 {
		return nil, ErrNoPendingRequest
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].mod.After(entries[j].mod) })

	md := entries[0].path
	data, err := os.ReadFile(md)
	if err != nil {
		return nil, fmt.Errorf("failed to read instructions: %w", err)
	}
	base := strings.TrimSuffix(md, ".md")
	pr := &PendingRequest{
		ID:               strings.TrimPrefix(filepath.Base(base), requestPrefix),
		InstructionsPath: md,
		Instructions:     string(data),
		Created:          entries[0].mod,
	}
	if _, err := os.Stat(base + ".png"); err == nil {
		pr.ImagePath = base + ".png"
	}
	return pr, nil
}
