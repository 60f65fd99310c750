package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/wayfarerhq/wayfarer/internal/observability"
	"github.com/wayfarerhq/wayfarer/internal/protocol"
)

// Response-creation triggers, used for logging and metrics labels.
const (
	TriggerText     = "text"
	TriggerPTT      = "ptt"
	TriggerPTTRetry = "ptt_retry"
	TriggerHandoff  = "handoff"
)

type responseIntent struct {
	trigger string
}

// ResponseQueue guards the one invariant the transport cannot survive
// without: at most one model response in flight at a time. Competing
// creation requests are queued FIFO and drained one at a time as each
// active response completes.
type ResponseQueue struct {
	send    func(event any) bool
	log     zerolog.Logger
	metrics *observability.Metrics

	mu               sync.Mutex
	active           bool
	activeResponseID string
	creationLock     bool
	pending          []responseIntent
	doneWaiters      []chan struct{}
}

func NewResponseQueue(send func(event any) bool, metrics *observability.Metrics, log zerolog.Logger) *ResponseQueue {
	return &ResponseQueue{send: send, metrics: metrics, log: log}
}

// SafeCreateResponse requests a new model response. If another response is
// active, or a creation request is already being issued, the intent is
// enqueued instead. Returns whether creation was issued synchronously.
func (q *ResponseQueue) SafeCreateResponse(trigger string) bool {
	q.mu.Lock()
	if q.creationLock || q.active {
		q.pending = append(q.pending, responseIntent{trigger: trigger})
		q.updateDepthLocked()
		q.mu.Unlock()
		q.log.Debug().Str("trigger", trigger).Msg("response creation queued")
		return false
	}
	q.creationLock = true
	q.mu.Unlock()

	issued := q.issue(trigger)

	q.mu.Lock()
	q.creationLock = false
	q.active = issued
	q.mu.Unlock()
	return issued
}

// issue sends the creation event. The creation lock is held by the caller
// for the duration of the send, not the duration of the response.
func (q *ResponseQueue) issue(trigger string) bool {
	ok := q.send(protocol.ResponseCreateEvent{Type: protocol.TypeResponseCreate})
	if !ok {
		q.log.Warn().Str("trigger", trigger).Msg("response creation send rejected")
		return false
	}
	if q.metrics != nil {
		q.metrics.ResponsesCreated.WithLabelValues(trigger).Inc()
	}
	return true
}

// SetActiveResponseID records the server-assigned id once response.created
// arrives.
func (q *ResponseQueue) SetActiveResponseID(id string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.active = true
	q.activeResponseID = id
}

func (q *ResponseQueue) Active() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.active
}

func (q *ResponseQueue) ActiveResponseID() string {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.activeResponseID
}

func (q *ResponseQueue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// WaitForResponseDone returns a channel that closes the next time the
// active response reaches its terminal event. If no response is active it
// is already closed.
func (q *ResponseQueue) WaitForResponseDone() <-chan struct{} {
	q.mu.Lock()
	defer q.mu.Unlock()
	ch := make(chan struct{})
	if !q.active {
		close(ch)
		return ch
	}
	q.doneWaiters = append(q.doneWaiters, ch)
	return ch
}

// MarkResponseDone resets the active-response bookkeeping, wakes waiters
// and drains the next queued intent, strictly one at a time.
func (q *ResponseQueue) MarkResponseDone(responseID string) {
	q.mu.Lock()
	if q.activeResponseID != "" && responseID != "" && responseID != q.activeResponseID {
		q.log.Debug().Str("response_id", responseID).Str("active", q.activeResponseID).
			Msg("done event for non-active response")
	}
	q.active = false
	q.activeResponseID = ""
	waiters := q.doneWaiters
	q.doneWaiters = nil
	q.mu.Unlock()

	for _, ch := range waiters {
		close(ch)
	}
	if q.metrics != nil {
		q.metrics.ResponsesCompleted.Inc()
	}

	q.ProcessQueue()
}

// ProcessQueue issues the oldest pending intent when nothing is active. A
// rejected send puts the intent back at the head so it is not lost; it
// drains on the next completion or external trigger.
func (q *ResponseQueue) ProcessQueue() {
	q.mu.Lock()
	if q.active || q.creationLock || len(q.pending) == 0 {
		q.mu.Unlock()
		return
	}
	next := q.pending[0]
	q.pending = q.pending[1:]
	q.updateDepthLocked()
	q.creationLock = true
	q.mu.Unlock()

	issued := q.issue(next.trigger)

	q.mu.Lock()
	q.creationLock = false
	q.active = issued
	if !issued {
		q.pending = append([]responseIntent{next}, q.pending...)
		q.updateDepthLocked()
	}
	q.mu.Unlock()
}

func (q *ResponseQueue) updateDepthLocked() {
	if q.metrics != nil {
		q.metrics.ResponseQueueDepth.Set(float64(len(q.pending)))
	}
}
