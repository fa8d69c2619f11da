package stream

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zoonk/zoonk-sub009/internal/platform/logger"
)

type Status string

const (
	StatusStarted   Status = "started"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// Event is one step lifecycle transition on a run's status stream. Seq is
// assigned by the hub at publish time and is contiguous per run, so a
// subscriber can resume from any index.
type Event struct {
	Seq    int       `json:"seq"`
	Step   string    `json:"step"`
	Status Status    `json:"status"`
	Reason string    `json:"reason,omitempty"`
	At     time.Time `json:"at"`
}

// Publisher is the write side of a run's status stream. Exactly one writer
// per run: the orchestrator executing it.
type Publisher interface {
	Publish(runID uuid.UUID, ev Event)
	Close(runID uuid.UUID)
}

/*
Hub is an in-process broadcast channel keyed by run id.

Contract:
  - Publish never blocks the writer: slow subscribers drop events (the run
    store remains the authoritative status), and the backlog is bounded,
    dropping oldest beyond capacity.
  - Subscribe replays the retained backlog from startIndex, then delivers
    live events on the same channel. Subscribing after Close yields the
    backlog followed by channel close — late readers never hang.
  - Close marks the stream finished, closes all subscriber channels and
    evicts the backlog after the retention window.
*/
type Hub struct {
	log       *logger.Logger
	capacity  int
	retention time.Duration

	mu   sync.RWMutex
	runs map[uuid.UUID]*runStream
}

type runStream struct {
	mu      sync.Mutex
	baseSeq int
	backlog []Event
	subs    map[chan Event]struct{}
	closed  bool
}

func NewHub(log *logger.Logger, capacity int, retention time.Duration) *Hub {
	if capacity <= 0 {
		capacity = 256
	}
	if retention <= 0 {
		retention = 15 * time.Minute
	}
	return &Hub{
		log:       log.With("component", "StreamHub"),
		capacity:  capacity,
		retention: retention,
		runs:      make(map[uuid.UUID]*runStream),
	}
}

func (h *Hub) stream(runID uuid.UUID, create bool) *runStream {
	h.mu.RLock()
	rs := h.runs[runID]
	h.mu.RUnlock()
	if rs != nil || !create {
		return rs
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if rs = h.runs[runID]; rs == nil {
		rs = &runStream{subs: make(map[chan Event]struct{})}
		h.runs[runID] = rs
	}
	return rs
}

func (h *Hub) Publish(runID uuid.UUID, ev Event) {
	rs := h.stream(runID, true)
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return
	}

	ev.Seq = rs.baseSeq + len(rs.backlog)
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	rs.backlog = append(rs.backlog, ev)
	if len(rs.backlog) > h.capacity {
		drop := len(rs.backlog) - h.capacity
		rs.backlog = rs.backlog[drop:]
		rs.baseSeq += drop
	}

	for ch := range rs.subs {
		select {
		case ch <- ev:
		default:
			h.log.Warn("dropping stream event; subscriber buffer full",
				"run_id", runID.String(),
				"seq", ev.Seq,
			)
		}
	}
}

/*
Subscribe attaches a reader to the run's stream from startIndex onward.
The returned channel is closed when the stream closes or ctx is done; the
cancel func detaches early. Replay and live delivery share one channel, so
ordering is preserved across the boundary.
*/
func (h *Hub) Subscribe(ctx context.Context, runID uuid.UUID, startIndex int) (<-chan Event, func()) {
	rs := h.stream(runID, true)

	rs.mu.Lock()
	if startIndex < rs.baseSeq {
		startIndex = rs.baseSeq
	}
	var replay []Event
	if offset := startIndex - rs.baseSeq; offset < len(rs.backlog) {
		replay = append(replay, rs.backlog[offset:]...)
	}

	ch := make(chan Event, len(replay)+h.capacity)
	for _, ev := range replay {
		ch <- ev
	}
	if rs.closed {
		close(ch)
		rs.mu.Unlock()
		return ch, func() {}
	}
	rs.subs[ch] = struct{}{}
	rs.mu.Unlock()

	detach := func() {
		rs.mu.Lock()
		if _, ok := rs.subs[ch]; ok {
			delete(rs.subs, ch)
			close(ch)
		}
		rs.mu.Unlock()
	}

	if ctx != nil {
		go func() {
			<-ctx.Done()
			detach()
		}()
	}
	return ch, detach
}

func (h *Hub) Close(runID uuid.UUID) {
	rs := h.stream(runID, false)
	if rs == nil {
		return
	}
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return
	}
	rs.closed = true
	for ch := range rs.subs {
		delete(rs.subs, ch)
		close(ch)
	}
	rs.mu.Unlock()

	// Backlog stays around long enough for client reconnects, then the
	// whole stream is evicted.
	time.AfterFunc(h.retention, func() {
		h.mu.Lock()
		delete(h.runs, runID)
		h.mu.Unlock()
	})
}

// Closed reports whether the run's stream has been closed. Unknown runs
// report false.
func (h *Hub) Closed(runID uuid.UUID) bool {
	rs := h.stream(runID, false)
	if rs == nil {
		return false
	}
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.closed
}
