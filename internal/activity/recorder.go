package activity

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"kanban/internal/models"
)

// Sink persists audit entries.
type Sink interface {
	AppendActivity(ctx context.Context, a models.Activity) error
}

// Recorder appends activity entries in the background. Record never blocks
// the caller and never fails it: when the queue is full the entry is dropped.
type Recorder struct {
	sink    Sink
	logger  *slog.Logger
	timeout time.Duration

	queue chan models.Activity

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// NewRecorder starts a recorder with a queue of the given size.
func NewRecorder(sink Sink, logger *slog.Logger, size int) *Recorder {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if size <= 0 {
		size = 256
	}
	r := &Recorder{
		sink:    sink,
		logger:  logger,
		timeout: 5 * time.Second,
		queue:   make(chan models.Activity, size),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// Record enqueues an entry.
func (r *Recorder) Record(a models.Activity) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- a:
	default:
		r.logger.Warn("activity queue full, dropping entry",
			slog.Int64("board_id", a.BoardID),
			slog.String("kind", a.Kind))
	}
}

// Close stops accepting entries and waits until the queued ones are written.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for a := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		if err := r.sink.AppendActivity(ctx, a); err != nil {
			r.logger.Warn("unable to record activity",
				slog.Int64("board_id", a.BoardID),
				slog.String("kind", a.Kind),
				slog.String("error", err.Error()))
		}
		cancel()
	}
}
