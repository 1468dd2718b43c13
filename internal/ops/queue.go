package ops

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/hpungsan/callcoach/internal/errors"
)

// Enqueuer hands an ingestion to the orchestrator.
type Enqueuer interface {
	Enqueue(ctx context.Context, ingestionID string) error
}

// ProcessFunc runs one ingestion to a terminal state.
type ProcessFunc func(ctx context.Context, ingestionID string) error

// Queue is a bounded worker pool. Each ingestion id is owned by at most one
// worker at a time, so transitions of one record never run concurrently.
type Queue struct {
	process ProcessFunc
	log     *logrus.Entry
	workers int
	timeout time.Duration

	ch   chan string
	wg   sync.WaitGroup
	once sync.Once

	// base is cancelled when Shutdown gives up waiting.
	base     context.Context
	stopBase context.CancelFunc

	mu       sync.Mutex
	closed   bool
	inFlight map[string]bool
}

// QueueOption configures a Queue.
type QueueOption func(*Queue)

// WithWorkers sets the number of concurrent pipelines.
func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets the buffered capacity.
func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

// WithProcessTimeout bounds a single pipeline run. Zero means no bound.
func WithProcessTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewQueue starts the workers.
func NewQueue(process ProcessFunc, log *logrus.Entry, opts ...QueueOption) *Queue {
	base, stop := context.WithCancel(context.Background())
	q := &Queue{
		process:  process,
		log:      log,
		workers:  4,
		ch:       make(chan string, 256),
		base:     base,
		stopBase: stop,
		inFlight: make(map[string]bool),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go func(workerID int) {
				defer q.wg.Done()
				log := q.log.WithField("worker_id", workerID)
				log.Debug("worker started")

				for id := range q.ch {
					q.run(log, id)
				}

				log.Debug("worker stopped")
			}(i + 1)
		}
	})
}

func (q *Queue) run(log *logrus.Entry, id string) {
	defer q.release(id)

	ctx := q.base
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	if err := q.process(ctx, id); err != nil {
		log.WithError(err).WithField("ingestion_id", id).Warn("ingestion ended in failure")
		return
	}
	log.WithField("ingestion_id", id).Info("ingestion completed")
}

func (q *Queue) release(id string) {
	q.mu.Lock()
	delete(q.inFlight, id)
	q.mu.Unlock()
}

// Enqueue schedules an ingestion. It returns CONFLICT if the id is already
// queued or running and PROCESSING_FAILED when the queue is full or closed.
func (q *Queue) Enqueue(_ context.Context, ingestionID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return errors.NewProcessingFailed("ingestion queue is shutting down")
	}
	if q.inFlight[ingestionID] {
		return errors.NewConflict("ingestion " + ingestionID + " is already being processed")
	}

	select {
	case q.ch <- ingestionID:
		q.inFlight[ingestionID] = true
		q.log.WithField("ingestion_id", ingestionID).Debug("queued ingestion")
		return nil
	default:
		q.log.WithField("ingestion_id", ingestionID).Warn("ingestion queue full")
		return errors.NewProcessingFailed("ingestion queue is full")
	}
}

// InFlight reports whether the id is queued or running.
func (q *Queue) InFlight(ingestionID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight[ingestionID]
}

// Shutdown stops accepting work and waits for queued and running pipelines.
// If ctx expires first, running pipelines are interrupted.
func (q *Queue) Shutdown(ctx context.Context) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.log.Warn("shutdown interrupted, cancelling running ingestions")
		q.stopBase()
		<-done
	case <-done:
		q.log.Info("queue drained, shutdown complete")
	}
	q.stopBase()
}
