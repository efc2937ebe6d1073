package batch

import (
	"sync"

	"github.com/sells-group/listing-enrich/internal/model"
)

// Progress is published after every batch.
type Progress struct {
	Batch   int         `json:"batch"`   // 1-based index of the batch just completed
	Batches int         `json:"batches"` // total batches for the run
	Cursor  int         `json:"cursor"`  // records completed, including resumed ones
	Stats   model.Stats `json:"stats"`
	Done    bool        `json:"done"`
	Stopped bool        `json:"stopped"`
}

// Hub fans progress events out to subscribers. Sends never block: a
// subscriber whose buffer is full misses that event.
type Hub struct {
	mu     sync.Mutex
	subs   []chan Progress
	closed bool
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{}
}

// Subscribe returns a channel that receives future events. The channel is
// closed when the hub is closed.
func (h *Hub) Subscribe(buffer int) <-chan Progress {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Progress, buffer)

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		close(ch)
		return ch
	}
	h.subs = append(h.subs, ch)
	return ch
}

// Publish delivers p to every subscriber with buffer space.
func (h *Hub) Publish(p Progress) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	for _, ch := range h.subs {
		select {
		case ch <- p:
		default:
		}
	}
}

// Close closes every subscriber channel. Later publishes are dropped.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return
	}
	h.closed = true
	for _, ch := range h.subs {
		close(ch)
	}
	h.subs = nil
}
