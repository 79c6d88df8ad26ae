package presence

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
	"go.uber.org/zap"
)

// Store is the durable side of presence, updated best-effort.
type Store interface {
	UpdatePresence(ctx context.Context, vendorID string, fields Fields) error
}

type job struct {
	vendorID string
	fields   Fields
}

// Persister drains presence mutations to storage through a bounded queue.
// The in-memory state is authoritative: a full queue or an exhausted retry
// drops the write with a log line and nothing else.
type Persister struct {
	store Store
	log   *zap.SugaredLogger
	queue chan job
	done  chan struct{}
}

// NewPersister creates a persister with the given queue capacity.
func NewPersister(store Store, log *zap.SugaredLogger, capacity int) *Persister {
	if capacity <= 0 {
		capacity = 256
	}
	return &Persister{
		store: store,
		log:   log,
		queue: make(chan job, capacity),
		done:  make(chan struct{}),
	}
}

// Start launches the drain loop. It stops when ctx is cancelled; writes in
// flight are allowed to finish or fail silently.
func (p *Persister) Start(ctx context.Context) {
	go func() {
		defer close(p.done)
		for {
			select {
			case <-ctx.Done():
				return
			case j := <-p.queue:
				p.write(ctx, j)
			}
		}
	}()
}

// Wait blocks until the drain loop has exited.
func (p *Persister) Wait() {
	<-p.done
}

// Enqueue hands a mutation to the drain loop without blocking the caller.
func (p *Persister) Enqueue(vendorID string, fields Fields) {
	select {
	case p.queue <- job{vendorID: vendorID, fields: fields}:
	default:
		p.log.Warnw("presence write dropped, queue full", "vendor_id", vendorID)
	}
}

func (p *Persister) write(ctx context.Context, j job) {
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := p.store.UpdatePresence(writeCtx, j.vendorID, j.fields); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		p.log.Errorw("presence write failed", "vendor_id", j.vendorID, "error", err)
	}
}
