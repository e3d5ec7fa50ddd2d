package accessory

import (
	"context"
	"sync"
	"time"
)

// saveTimeout bounds each snapshot write.
const saveTimeout = 5 * time.Second

// snapshotWriter saves the latest state in the background. Bursts of
// changes collapse into one write of the newest value, so a slow disk never
// holds up the store lock.
type snapshotWriter struct {
	repo     StateRepository
	identity Identity
	logger   Logger

	mu      sync.Mutex
	latest  State
	pending bool

	signal chan struct{}
	done   chan struct{}
}

func newSnapshotWriter(repo StateRepository, identity Identity, logger Logger) *snapshotWriter {
	return &snapshotWriter{
		repo:     repo,
		identity: identity,
		logger:   orNoop(logger),
		signal:   make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

// queue records st as the next snapshot to save. It never blocks.
func (w *snapshotWriter) queue(st State) {
	w.mu.Lock()
	w.latest = st
	w.pending = true
	w.mu.Unlock()

	select {
	case w.signal <- struct{}{}:
	default:
	}
}

// run saves queued snapshots until ctx is cancelled, then flushes once.
// Saves are not tied to ctx so a snapshot taken during shutdown still lands.
func (w *snapshotWriter) run(ctx context.Context) {
	defer close(w.done)

	for {
		select {
		case <-ctx.Done():
			w.flush()
			return
		case <-w.signal:
			w.flush()
		}
	}
}

// flush saves the pending snapshot, if any.
func (w *snapshotWriter) flush() {
	w.mu.Lock()
	if !w.pending {
		w.mu.Unlock()
		return
	}
	st := w.latest
	w.pending = false
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), saveTimeout)
	defer cancel()

	if err := w.repo.Save(ctx, w.identity, st); err != nil {
		w.logger.Warn("saving accessory state failed", "error", err)
	}
}

// wait blocks until run has returned.
func (w *snapshotWriter) wait() {
	<-w.done
}
