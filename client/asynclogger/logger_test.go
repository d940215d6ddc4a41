package asynclogger

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/processlog/eventlog/pkg/models"
)

// fakeSender lets tests control send outcomes without a live server.
type fakeSender struct {
	mu        sync.Mutex
	calls     int
	behaviors []func([]*models.EventInput) (*models.InsertResponse, error)
}

func (f *fakeSender) InsertEvents(_ context.Context, events []*models.EventInput) (*models.InsertResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := f.calls
	f.calls++
	if idx < len(f.behaviors) {
		return f.behaviors[idx](events)
	}
	ids := make([]string, len(events))
	for i := range events {
		ids[i] = fmt.Sprintf("exec-%d", i)
	}
	return &models.InsertResponse{ExecutionIDs: ids}, nil
}

func alwaysSucceeds(events []*models.EventInput) (*models.InsertResponse, error) {
	ids := make([]string, len(events))
	for i := range events {
		ids[i] = fmt.Sprintf("exec-%d", i)
	}
	return &models.InsertResponse{ExecutionIDs: ids}, nil
}

func sampleEvent(correlationID string) *models.EventInput {
	return &models.EventInput{
		CorrelationID:  correlationID,
		TraceID:        "trace-" + correlationID,
		Summary:        "sample",
		EventTimestamp: time.Now().UTC(),
	}
}

func TestAsyncLogger_LogThenSend(t *testing.T) {
	fs := &fakeSender{behaviors: []func([]*models.EventInput) (*models.InsertResponse, error){alwaysSucceeds}}
	l := newWithSender(Config{MaxBatchWait: 10 * time.Millisecond}, fs)
	defer l.Shutdown(time.Second)

	require.True(t, l.Log(sampleEvent("corr-1")))

	require.Eventually(t, func() bool {
		return l.Metrics().Sent == 1
	}, time.Second, 5*time.Millisecond)
}

func TestAsyncLogger_QueueFullWithoutSpillover(t *testing.T) {
	blocker := make(chan struct{})
	fs := &fakeSender{behaviors: []func([]*models.EventInput) (*models.InsertResponse, error){
		func([]*models.EventInput) (*models.InsertResponse, error) {
			<-blocker
			return alwaysSucceeds(nil)
		},
	}}
	l := newWithSender(Config{QueueCapacity: 1, MaxBatchWait: 10 * time.Millisecond, SenderThreads: 1}, fs)
	defer func() {
		close(blocker)
		l.Shutdown(time.Second)
	}()

	var lostReasons []models.LossReason
	var mu sync.Mutex
	l.cfg.OnEventLoss = func(_ *models.EventInput, reason models.LossReason) {
		mu.Lock()
		lostReasons = append(lostReasons, reason)
		mu.Unlock()
	}

	// first event gets picked up by the sender immediately (blocked on blocker)
	require.True(t, l.Log(sampleEvent("corr-a")))
	require.Eventually(t, func() bool { return l.queue.Depth() == 0 }, time.Second, 5*time.Millisecond)

	// second fills the capacity-1 queue, third overflows it
	require.True(t, l.Log(sampleEvent("corr-b")))
	ok := l.Log(sampleEvent("corr-c"))
	assert.False(t, ok)

	mu.Lock()
	defer mu.Unlock()
	require.NotEmpty(t, lostReasons)
	assert.Equal(t, models.LossReasonQueueFull, lostReasons[len(lostReasons)-1])
}

func TestAsyncLogger_RetriesExhaustedGoesToLossCallback(t *testing.T) {
	alwaysFails := func([]*models.EventInput) (*models.InsertResponse, error) {
		return nil, fmt.Errorf("boom")
	}
	fs := &fakeSender{behaviors: []func([]*models.EventInput) (*models.InsertResponse, error){
		alwaysFails, alwaysFails, alwaysFails, alwaysFails,
	}}

	var lost []models.LossReason
	var mu sync.Mutex

	l := newWithSender(Config{
		MaxBatchWait:   5 * time.Millisecond,
		MaxRetries:     3,
		BaseRetryDelay: 1 * time.Millisecond,
		MaxRetryDelay:  5 * time.Millisecond,
		OnEventLoss: func(_ *models.EventInput, reason models.LossReason) {
			mu.Lock()
			lost = append(lost, reason)
			mu.Unlock()
		},
	}, fs)
	defer l.Shutdown(time.Second)

	require.True(t, l.Log(sampleEvent("corr-retry")))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(lost) > 0
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, models.LossReasonRetriesExhausted, lost[len(lost)-1])
}

func TestAsyncLogger_ShutdownRejectsNewEvents(t *testing.T) {
	fs := &fakeSender{behaviors: []func([]*models.EventInput) (*models.InsertResponse, error){alwaysSucceeds}}
	l := newWithSender(Config{MaxBatchWait: 5 * time.Millisecond}, fs)
	l.Shutdown(time.Second)

	var reason models.LossReason
	l.cfg.OnEventLoss = func(_ *models.EventInput, r models.LossReason) { reason = r }
	ok := l.Log(sampleEvent("corr-post"))
	assert.False(t, ok)
	assert.Equal(t, models.LossReasonPostShutdown, reason)
}

func TestCircuitBreaker_OpensAfterThresholdAndProbesOnce(t *testing.T) {
	cb := newCircuitBreaker(2, 20*time.Millisecond)
	require.True(t, cb.Allow())
	cb.RecordFailure()
	require.True(t, cb.Allow())
	cb.RecordFailure() // threshold reached, opens
	assert.True(t, cb.IsOpen())

	assert.False(t, cb.Allow()) // still within reset interval

	time.Sleep(25 * time.Millisecond)
	assert.True(t, cb.Allow())  // single probe admitted
	assert.False(t, cb.Allow()) // second concurrent caller blocked

	cb.RecordSuccess()
	assert.False(t, cb.IsOpen())
	assert.True(t, cb.Allow())
}

func TestRetryDelay_CapsAtMax(t *testing.T) {
	d := retryDelay(1*time.Second, 5*time.Second, 10)
	assert.LessOrEqual(t, d, 5*time.Second)
}
