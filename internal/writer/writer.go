// Package writer serializes all fact persistence through one goroutine.
// Every ParsePayload funnels through a bounded queue into the single
// writer, which batches, retries, and in the worst case drops — readers
// never contend with writes and SQLITE_BUSY storms cannot happen.
package writer

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cxxtract/internal/logging"
	"cxxtract/internal/store"
	"cxxtract/internal/types"
)

// persister is the slice of the storage engine the writer drives.
type persister interface {
	UpsertParsePayload(ctx context.Context, p *types.ParsePayload) error
	UpdateContextOverlayStats(ctx context.Context, contextID string, fileDelta, rowDelta int, ceilings store.OverlayCeilings, force bool) (types.OverlayMode, error)
}

// Options tune queue depth and the retry/drop policy.
type Options struct {
	QueueSize     int
	BatchSize     int
	RetryAttempts int
	RetryDelay    time.Duration
	Ceilings      store.OverlayCeilings
}

func (o *Options) normalize() {
	if o.QueueSize <= 0 {
		o.QueueSize = 256
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 32
	}
	if o.RetryAttempts <= 0 {
		o.RetryAttempts = 3
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = 50 * time.Millisecond
	}
}

// ErrNotRunning is returned by Enqueue when the writer is stopped.
var ErrNotRunning = errors.New("writer is not running")

// Writer is the single-writer pump. Start once, Enqueue from any
// goroutine, Stop to drain and shut down.
type Writer struct {
	opts  Options
	dest  persister
	queue chan *types.ParsePayload

	// lifecycle is serialized by mu; sendMu keeps Stop from closing the
	// queue while an Enqueue is mid-send.
	mu      sync.Mutex
	sendMu  sync.RWMutex
	running atomic.Bool
	done    chan struct{}

	dropped   atomic.Int64
	persisted atomic.Int64

	// pending enqueue times, FIFO-paired with queue entries, for LagMS.
	pendMu    sync.Mutex
	pendTimes []*time.Time

	flushReqCh chan chan struct{}
}

// New builds a stopped writer over the given persister.
func New(dest persister, opts Options) *Writer {
	opts.normalize()
	return &Writer{
		opts:       opts,
		dest:       dest,
		queue:      make(chan *types.ParsePayload, opts.QueueSize),
		flushReqCh: make(chan chan struct{}),
	}
}

// Start launches the writer goroutine. Starting a running writer is a no-op.
func (w *Writer) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running.Load() {
		return
	}
	w.running.Store(true)
	w.done = make(chan struct{})
	go w.loop(w.done)
	logging.Writer("writer started: queue=%d batch=%d", w.opts.QueueSize, w.opts.BatchSize)
}

// Stop drains the queue and waits for the writer goroutine to exit. In-flight
// Enqueue calls complete first; Enqueues after Stop fail with ErrNotRunning.
func (w *Writer) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running.Load() {
		return
	}
	w.running.Store(false)

	// Wait for senders already past the running check to finish their send.
	w.sendMu.Lock()
	close(w.queue)
	w.sendMu.Unlock()

	<-w.done
	w.queue = make(chan *types.ParsePayload, w.opts.QueueSize)
	logging.Writer("writer stopped: persisted=%d dropped=%d", w.persisted.Load(), w.dropped.Load())
}

// Enqueue hands a payload to the writer. It blocks while the queue is full:
// backpressure propagates to the parser pool instead of growing memory.
func (w *Writer) Enqueue(ctx context.Context, p *types.ParsePayload) error {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	if !w.running.Load() {
		return ErrNotRunning
	}
	at := time.Now()
	w.pushPending(&at)
	select {
	case w.queue <- p:
		return nil
	case <-ctx.Done():
		w.removePending(&at)
		return ctx.Err()
	}
}

// Flush blocks until everything enqueued before the call is persisted (or
// dropped). Queries call this so reads observe their own writes.
func (w *Writer) Flush(ctx context.Context) error {
	if !w.running.Load() {
		return nil
	}
	ack := make(chan struct{})
	select {
	case w.flushReqCh <- ack:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// QueueDepth is the number of payloads waiting in the queue.
func (w *Writer) QueueDepth() int {
	w.sendMu.RLock()
	defer w.sendMu.RUnlock()
	return len(w.queue)
}

// LagMS is the age in milliseconds of the oldest payload still waiting to
// be persisted, 0 when nothing is pending.
func (w *Writer) LagMS() int64 {
	w.pendMu.Lock()
	defer w.pendMu.Unlock()
	if len(w.pendTimes) == 0 {
		return 0
	}
	return time.Since(*w.pendTimes[0]).Milliseconds()
}

func (w *Writer) pushPending(at *time.Time) {
	w.pendMu.Lock()
	w.pendTimes = append(w.pendTimes, at)
	w.pendMu.Unlock()
}

// removePending drops one entry by identity; used when a blocked Enqueue
// gives up.
func (w *Writer) removePending(at *time.Time) {
	w.pendMu.Lock()
	defer w.pendMu.Unlock()
	for i, t := range w.pendTimes {
		if t == at {
			w.pendTimes = append(w.pendTimes[:i], w.pendTimes[i+1:]...)
			return
		}
	}
}

// popPending removes the oldest entry; paired with each queue receive.
func (w *Writer) popPending() {
	w.pendMu.Lock()
	if len(w.pendTimes) > 0 {
		w.pendTimes = w.pendTimes[1:]
	}
	w.pendMu.Unlock()
}

// Dropped is the count of payloads abandoned after exhausting retries.
func (w *Writer) Dropped() int64 { return w.dropped.Load() }

// Persisted is the count of payloads committed since construction.
func (w *Writer) Persisted() int64 { return w.persisted.Load() }

func (w *Writer) loop(done chan struct{}) {
	defer close(done)
	for {
		select {
		case p, ok := <-w.queue:
			if !ok {
				return
			}
			w.persistBatch(w.collectBatch(p))
		case ack := <-w.flushReqCh:
			closed := w.drain()
			close(ack)
			if closed {
				return
			}
		}
	}
}

// drain persists everything currently queued. Returns true when the queue
// was closed underneath it.
func (w *Writer) drain() bool {
	for {
		select {
		case p, ok := <-w.queue:
			if !ok {
				return true
			}
			w.persistBatch(w.collectBatch(p))
		default:
			return false
		}
	}
}

// collectBatch greedily pulls queued payloads up to the batch size,
// preserving FIFO order.
func (w *Writer) collectBatch(first *types.ParsePayload) []*types.ParsePayload {
	batch := []*types.ParsePayload{first}
	for len(batch) < w.opts.BatchSize {
		select {
		case p, ok := <-w.queue:
			if !ok {
				return batch
			}
			batch = append(batch, p)
		default:
			return batch
		}
	}
	return batch
}

// persistBatch writes each payload with per-payload retries. A payload
// that exhausts its retries is logged and dropped; the rest of the batch
// still persists.
func (w *Writer) persistBatch(batch []*types.ParsePayload) {
	ctx := context.Background()
	for _, p := range batch {
		var err error
		for attempt := 1; attempt <= w.opts.RetryAttempts; attempt++ {
			if err = w.dest.UpsertParsePayload(ctx, p); err == nil {
				break
			}
			logging.WriterWarn("persist attempt %d/%d failed for %s: %v",
				attempt, w.opts.RetryAttempts, p.FileKey, err)
			if attempt < w.opts.RetryAttempts {
				time.Sleep(w.opts.RetryDelay)
			}
		}
		if err != nil {
			w.dropped.Add(1)
			w.popPending()
			logging.WriterError("dropping payload for %s after %d attempts: %v",
				p.FileKey, w.opts.RetryAttempts, err)
			continue
		}
		w.persisted.Add(1)
		w.popPending()

		mode, serr := w.dest.UpdateContextOverlayStats(ctx, p.ContextID, 1, p.FactRowCount(), w.opts.Ceilings, false)
		if serr != nil {
			logging.WriterWarn("overlay accounting failed for %s: %v", p.ContextID, serr)
		} else if mode == types.OverlayPartial {
			logging.WriterDebug("context %s is in partial-overlay mode", p.ContextID)
		}
	}
}
