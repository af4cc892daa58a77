package impression

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Sink persists events.
type Sink interface {
	Write(ctx context.Context, events []Event) error
}

// QueueOptions sizes the delivery pool.
type QueueOptions struct {
	Buffer    int
	Workers   int
	BatchSize int
	// FlushInterval bounds how long a partial batch waits.
	FlushInterval time.Duration
	Logger        *zap.Logger
}

// Queue is a bounded, best-effort delivery pool in front of a Sink.
type Queue struct {
	sink   Sink
	opts   QueueOptions
	events chan Event
	wg     sync.WaitGroup
	mu     sync.RWMutex
	closed bool
	logger *zap.Logger
}

// NewQueue creates a queue; Start launches the workers.
func NewQueue(sink Sink, opts QueueOptions) *Queue {
	if opts.Buffer <= 0 {
		opts.Buffer = 1024
	}
	if opts.Workers <= 0 {
		opts.Workers = 2
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = time.Second
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		sink:   sink,
		opts:   opts,
		events: make(chan Event, opts.Buffer),
		logger: logger.Named("impression.queue"),
	}
}

// Start launches the workers. They exit when Close drains the queue.
func (q *Queue) Start(ctx context.Context) {
	q.logger.Info("starting impression workers", zap.Int("workers", q.opts.Workers))
	for i := 0; i < q.opts.Workers; i++ {
		q.wg.Add(1)
		go q.run(ctx, fmt.Sprintf("impression-%d", i))
	}
}

// Enqueue offers ev without blocking; false means the queue is full or closed.
func (q *Queue) Enqueue(ev Event) bool {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return false
	}
	select {
	case q.events <- ev:
		return true
	default:
		return false
	}
}

// Close stops accepting events and waits for workers to flush what is queued,
// or for ctx to expire.
func (q *Queue) Close(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.events)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.logger.Info("impression workers stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (q *Queue) run(ctx context.Context, id string) {
	defer q.wg.Done()
	ticker := time.NewTicker(q.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, q.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		// Delivery outlives request cancellation.
		writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := q.sink.Write(writeCtx, batch); err != nil {
			q.logger.Warn("impression write failed",
				zap.String("worker", id),
				zap.Int("events", len(batch)),
				zap.Error(err))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-q.events:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= q.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

// MemorySink keeps events in memory.
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

// Write implements Sink.
func (m *MemorySink) Write(_ context.Context, events []Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, events...)
	return nil
}

// Events returns a copy of what was written.
func (m *MemorySink) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

// Direct enqueues straight into a sink, synchronously. Useful for tests and
// for the CLI.
type Direct struct {
	Sink Sink
}

// Enqueue implements Enqueuer.
func (d Direct) Enqueue(ev Event) bool {
	return d.Sink.Write(context.Background(), []Event{ev}) == nil
}
