// Package asynclogger implements the client-side async ingestion
// pipeline embedded in producer SDKs: a bounded in-memory queue, batched
// sender workers, exponential-backoff retry, a circuit breaker, and
// optional disk spillover.
package asynclogger

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/processlog/eventlog/client/eventclient"
	"github.com/processlog/eventlog/client/token"
	"github.com/processlog/eventlog/pkg/models"
	"github.com/processlog/eventlog/pkg/obs"
)

// Config configures an AsyncLogger. Zero values fall back to the
// defaults documented on each field.
type Config struct {
	// BaseURL of the eventlogd server, e.g. "http://localhost:8080".
	BaseURL       string
	TokenProvider token.Provider

	QueueCapacity int           // default 10000
	SenderThreads int           // default 1
	BatchSize     int           // default 50
	MaxBatchWait  time.Duration // default 100ms

	MaxRetries     int           // default 3
	BaseRetryDelay time.Duration // default 1s
	MaxRetryDelay  time.Duration // default 30s

	CircuitBreakerThreshold int           // default 5
	CircuitBreakerReset     time.Duration // default 30s

	// SpilloverPath, if set, enables the disk spillover sink.
	SpilloverPath string

	// OnEventLoss is invoked once per dropped or spilled event.
	OnEventLoss func(event *models.EventInput, reason models.LossReason)

	// Metrics, if set, is updated live so an embedding application can
	// export the async logger's queue/circuit state on the same
	// Prometheus registry it uses for its own metrics.
	Metrics *obs.Metrics
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.QueueCapacity <= 0 {
		out.QueueCapacity = 10000
	}
	if out.SenderThreads <= 0 {
		out.SenderThreads = 1
	}
	if out.BatchSize <= 0 {
		out.BatchSize = 50
	}
	if out.MaxBatchWait <= 0 {
		out.MaxBatchWait = 100 * time.Millisecond
	}
	if out.MaxRetries <= 0 {
		out.MaxRetries = 3
	}
	if out.BaseRetryDelay <= 0 {
		out.BaseRetryDelay = 1 * time.Second
	}
	if out.MaxRetryDelay <= 0 {
		out.MaxRetryDelay = 30 * time.Second
	}
	if out.CircuitBreakerThreshold <= 0 {
		out.CircuitBreakerThreshold = 5
	}
	if out.CircuitBreakerReset <= 0 {
		out.CircuitBreakerReset = 30 * time.Second
	}
	return out
}

// Metrics is a point-in-time snapshot of the logger's counters.
type Metrics struct {
	Queued      int64
	Sent        int64
	Failed      int64
	Spilled     int64
	QueueDepth  int64
	CircuitOpen bool
}

// sender is the subset of eventclient.Client the logger needs, so tests
// can substitute a fake without a live server.
type sender interface {
	InsertEvents(ctx context.Context, events []*models.EventInput) (*models.InsertResponse, error)
}

// AsyncLogger is a thread-safe, non-blocking event submission pipeline.
// Log() never blocks the caller: it either queues, spills, or drops.
type AsyncLogger struct {
	cfg     Config
	client  sender
	queue   *boundedQueue
	breaker *circuitBreaker
	spill   *spilloverSink

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
	shutdown  atomic.Bool

	queuedCount  atomic.Int64
	sentCount    atomic.Int64
	failedCount  atomic.Int64
	spilledCount atomic.Int64
}

// New creates and starts an AsyncLogger against cfg.BaseURL.
func New(cfg Config) (*AsyncLogger, error) {
	full := cfg.withDefaults()

	client := eventclient.New(eventclient.Config{BaseURL: full.BaseURL, TokenProvider: full.TokenProvider})

	l := &AsyncLogger{
		cfg:     full,
		client:  client,
		queue:   newBoundedQueue(full.QueueCapacity),
		breaker: newCircuitBreaker(full.CircuitBreakerThreshold, full.CircuitBreakerReset),
		done:    make(chan struct{}),
	}

	if full.SpilloverPath != "" {
		sink, err := newSpilloverSink(full.SpilloverPath, func(err error) {
			slog.Error("spillover write failed", "error", err)
		})
		if err != nil {
			return nil, err
		}
		l.spill = sink
	}

	l.start()
	return l, nil
}

// newWithSender is used by tests to inject a fake sender.
func newWithSender(cfg Config, client sender) *AsyncLogger {
	full := cfg.withDefaults()
	l := &AsyncLogger{
		cfg:     full,
		client:  client,
		queue:   newBoundedQueue(full.QueueCapacity),
		breaker: newCircuitBreaker(full.CircuitBreakerThreshold, full.CircuitBreakerReset),
		done:    make(chan struct{}),
	}
	if full.SpilloverPath != "" {
		sink, err := newSpilloverSink(full.SpilloverPath, func(err error) {
			slog.Error("spillover write failed", "error", err)
		})
		if err == nil {
			l.spill = sink
		}
	}
	l.start()
	return l
}

func (l *AsyncLogger) start() {
	for i := 0; i < l.cfg.SenderThreads; i++ {
		l.wg.Add(1)
		go l.senderLoop()
	}
}

// Log submits one event for asynchronous delivery. It returns true iff
// the event was queued or spilled; it never blocks.
func (l *AsyncLogger) Log(event *models.EventInput) bool {
	if l.shutdown.Load() {
		l.loss(event, models.LossReasonPostShutdown)
		return false
	}

	it := &item{event: event}
	if l.queue.TryEnqueue(it) {
		l.queuedCount.Add(1)
		l.syncMetrics()
		return true
	}

	if l.spill != nil {
		l.spill.Spill(event)
		l.recordSpilled()
		l.loss(event, models.LossReasonQueueFull)
		return true
	}

	l.recordFailed()
	l.loss(event, models.LossReasonQueueFull)
	return false
}

// recordSent, recordFailed, and recordSpilled update both the logger's own
// atomic counters (read via Metrics()) and, if cfg.Metrics is set, the
// shared Prometheus counters an embedding application exports.
func (l *AsyncLogger) recordSent() {
	l.sentCount.Add(1)
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.QueueSentTotal.Inc()
	}
}

func (l *AsyncLogger) recordFailed() {
	l.failedCount.Add(1)
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.QueueFailedTotal.Inc()
	}
}

func (l *AsyncLogger) recordSpilled() {
	l.spilledCount.Add(1)
	if l.cfg.Metrics != nil {
		l.cfg.Metrics.QueueSpilledTotal.Inc()
	}
}

// syncMetrics pushes current queue depth and circuit breaker state into the
// shared gauges. Called whenever either can have changed.
func (l *AsyncLogger) syncMetrics() {
	if l.cfg.Metrics == nil {
		return
	}
	l.cfg.Metrics.QueueDepth.Set(float64(l.queue.Depth()))
	if l.breaker.IsOpen() {
		l.cfg.Metrics.CircuitBreakerOpen.Set(1)
	} else {
		l.cfg.Metrics.CircuitBreakerOpen.Set(0)
	}
}

func (l *AsyncLogger) loss(event *models.EventInput, reason models.LossReason) {
	if l.cfg.OnEventLoss != nil {
		l.cfg.OnEventLoss(event, reason)
	}
}

// senderLoop is the per-worker batching loop: drain up to batchSize
// items, blocking up to MaxBatchWait for the first one, then send the
// batch as a unit.
func (l *AsyncLogger) senderLoop() {
	defer l.wg.Done()

	for {
		first, ok := l.waitForFirst()
		if !ok {
			return // shutting down and queue drained
		}

		batch := []*item{first}
		batch = append(batch, l.queue.DrainUpTo(l.cfg.BatchSize-1)...)

		if !l.breaker.Allow() {
			l.requeueWithoutPenalty(batch)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		l.sendBatch(batch)
		l.syncMetrics()
	}
}

func (l *AsyncLogger) waitForFirst() (*item, bool) {
	for {
		timer := time.NewTimer(l.cfg.MaxBatchWait)
		select {
		case it := <-l.queue.ch:
			timer.Stop()
			return it, true
		case <-timer.C:
			select {
			case it := <-l.queue.ch:
				return it, true
			default:
				if l.shutdown.Load() {
					return nil, false
				}
				// nothing arrived this tick, keep waiting
			}
		case <-l.done:
			timer.Stop()
			select {
			case it := <-l.queue.ch:
				return it, true
			default:
				return nil, false
			}
		}
	}
}

// requeueWithoutPenalty puts a batch back without counting an attempt,
// used when the circuit breaker is open and no send was attempted.
func (l *AsyncLogger) requeueWithoutPenalty(batch []*item) {
	for _, it := range batch {
		if !l.queue.TryEnqueue(it) {
			l.spillOrDrop(it, models.LossReasonQueueFull)
		}
	}
}

func (l *AsyncLogger) sendBatch(batch []*item) {
	events := make([]*models.EventInput, len(batch))
	for i, it := range batch {
		events[i] = it.event
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	resp, err := l.client.InsertEvents(ctx, events)
	if err != nil {
		if terminal, code := terminalStatus(err); terminal {
			// a 4xx other than 429 means the server rejected the request
			// itself (malformed payload), not a transient condition:
			// spill/drop the whole batch without looping on it and
			// without counting it against the breaker.
			slog.Error("batch rejected by server, not retrying", "status", code, "batch_size", len(batch))
			for _, it := range batch {
				l.spillOrDrop(it, models.LossReasonRetriesExhausted)
			}
			return
		}

		// connection error, 429, or 5xx: transient. Count one failure
		// against the breaker and retry every item of the batch; each item
		// gets its own backoff timer and is requeued on its own, so the
		// items are not resent together as one unit.
		l.breaker.RecordFailure()
		for _, it := range batch {
			l.scheduleRetryOrFail(it)
		}
		return
	}

	l.breaker.RecordSuccess()

	failedIdx := make(map[int]string, len(resp.Errors))
	for _, e := range resp.Errors {
		failedIdx[e.Index] = e.Error
	}

	for i, it := range batch {
		if _, failed := failedIdx[i]; failed {
			l.scheduleRetryOrFail(it)
			continue
		}
		l.recordSent()
	}
}

// terminalStatus reports whether err is an HTTP 4xx response other than
// 429 Too Many Requests: a client-side rejection (malformed payload,
// failed validation) that retrying cannot fix. Network errors and 5xx/429
// responses are transient and return false.
func terminalStatus(err error) (bool, int) {
	var statusErr *eventclient.ErrUnexpectedStatus
	if !errors.As(err, &statusErr) {
		return false, 0
	}
	code := statusErr.StatusCode
	if code >= 400 && code < 500 && code != http.StatusTooManyRequests {
		return true, code
	}
	return false, code
}

func (l *AsyncLogger) scheduleRetryOrFail(it *item) {
	it.attempts++
	if it.attempts > l.cfg.MaxRetries {
		l.spillOrDrop(it, models.LossReasonRetriesExhausted)
		return
	}

	delay := retryDelay(l.cfg.BaseRetryDelay, l.cfg.MaxRetryDelay, it.attempts)
	time.AfterFunc(delay, func() {
		if l.shutdown.Load() {
			l.spillOrDrop(it, models.LossReasonRetriesExhausted)
			return
		}
		if !l.queue.TryEnqueue(it) {
			l.spillOrDrop(it, models.LossReasonQueueFull)
		}
	})
}

// retryDelay computes base · 2^attempts · jitter(0.75..1.25), capped at max.
func retryDelay(base, max time.Duration, attempts int) time.Duration {
	mult := 1 << attempts
	d := base * time.Duration(mult)
	jitter := 0.75 + rand.Float64()*0.5
	d = time.Duration(float64(d) * jitter)
	if d > max {
		d = max
	}
	return d
}

func (l *AsyncLogger) spillOrDrop(it *item, reason models.LossReason) {
	if l.spill != nil {
		l.spill.Spill(it.event)
		l.recordSpilled()
	} else {
		l.recordFailed()
	}
	l.loss(it.event, reason)
}

// Flush blocks until the queue drains or deadline elapses, whichever
// comes first.
func (l *AsyncLogger) Flush(deadline time.Duration) {
	cutoff := time.Now().Add(deadline)
	for time.Now().Before(cutoff) {
		if l.queue.Depth() == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

// Shutdown stops accepting new events, flushes what it can within
// deadline, spills the remainder (if a sink is configured), and waits
// for workers to exit.
func (l *AsyncLogger) Shutdown(deadline time.Duration) {
	if !l.shutdown.CompareAndSwap(false, true) {
		return
	}

	l.Flush(deadline)

	l.closeOnce.Do(func() { close(l.done) })
	l.wg.Wait()

	remaining := l.queue.DrainUpTo(l.queue.Depth())
	for _, it := range remaining {
		l.spillOrDrop(it, models.LossReasonPostShutdown)
	}

	if l.spill != nil {
		_ = l.spill.Close()
	}

	l.syncMetrics()
}

// Metrics returns a snapshot of the logger's counters.
func (l *AsyncLogger) Metrics() Metrics {
	return Metrics{
		Queued:      l.queuedCount.Load(),
		Sent:        l.sentCount.Load(),
		Failed:      l.failedCount.Load(),
		Spilled:     l.spilledCount.Load(),
		QueueDepth:  int64(l.queue.Depth()),
		CircuitOpen: l.breaker.IsOpen(),
	}
}
