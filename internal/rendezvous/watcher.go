package rendezvous

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"vpsrenew/internal/logging"
)

// answerWatcher turns filesystem events on the answer file into wake-ups for
// the poll loop. It never reads the file itself.
type answerWatcher struct {
	mu      sync.Mutex
	watcher *fsnotify.Watcher
	name    string // base name of the answer file
	wake    chan struct{}
	stopCh  chan struct{}
	doneCh  chan struct{}
	stopped bool
}

func newAnswerWatcher(dir, answerFile string) (*answerWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}

	aw := &answerWatcher{
		watcher: w,
		name:    filepath.Base(answerFile),
		wake:    make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go aw.run()
	return aw, nil
}

func (aw *answerWatcher) run() {
	defer close(aw.doneCh)
	log := logging.Get(logging.CategoryRendezvous)

	for {
		select {
		case <-aw.stopCh:
			return

		case event, ok := <-aw.watcher.Events:
			if !ok {
				return
			}
			if filepath.Base(event.Name) != aw.name {
				continue
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug("answer file event: %s", event.Op)
			select {
			case aw.wake <- struct{}{}:
			default:
			}

		case err, ok := <-aw.watcher.Errors:
			if !ok {
				return
			}
			log.Warn("watcher error: %v", err)
		}
	}
}

// Stop stops the watcher and waits for its goroutine.
func (aw *answerWatcher) Stop() {
	aw.mu.Lock()
	if aw.stopped {
		aw.mu.Unlock()
		return
	}
	aw.stopped = true
	aw.mu.Unlock()

	close(aw.stopCh)
	<-aw.doneCh
	if err := aw.watcher.Close(); err != nil {
		logging.Get(logging.CategoryRendezvous).Warn("error closing watcher: %v", err)
	}
}
