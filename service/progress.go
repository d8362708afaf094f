package service

import (
	"sync"
	"time"
)

// ProgressUpdate is what websocket subscribers of a task receive.
type ProgressUpdate struct {
	TaskID    string    `json:"taskId"`
	Status    string    `json:"status"`
	Message   string    `json:"message,omitempty"`
	Iteration int       `json:"iteration,omitempty"`
	AssetID   string    `json:"assetId,omitempty"`
	ErrorKind string    `json:"errorKind,omitempty"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// ProgressHub fans task progress out to subscribers in publish order.
// A subscriber that falls behind by more than its buffer misses updates
// rather than stalling the task.
type ProgressHub struct {
	mu     sync.Mutex
	subs   map[string]map[chan ProgressUpdate]struct{}
	buffer int
}

func NewProgressHub(buffer int) *ProgressHub {
	if buffer <= 0 {
		buffer = 16
	}
	return &ProgressHub{subs: make(map[string]map[chan ProgressUpdate]struct{}), buffer: buffer}
}

// Subscribe returns a channel of updates for taskID and a func that stops
// the subscription. The channel is closed on Close(taskID) or unsubscribe.
func (h *ProgressHub) Subscribe(taskID string) (<-chan ProgressUpdate, func()) {
	ch := make(chan ProgressUpdate, h.buffer)
	h.mu.Lock()
	set, ok := h.subs[taskID]
	if !ok {
		set = make(map[chan ProgressUpdate]struct{})
		h.subs[taskID] = set
	}
	set[ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			if set, ok := h.subs[taskID]; ok {
				if _, ok := set[ch]; ok {
					delete(set, ch)
					close(ch)
				}
				if len(set) == 0 {
					delete(h.subs, taskID)
				}
			}
		})
	}
}

// Publish delivers u to every current subscriber of u.TaskID without blocking.
// Publish and Close are no-ops on a nil hub.
func (h *ProgressHub) Publish(u ProgressUpdate) {
	if h == nil {
		return
	}
	if u.At.IsZero() {
		u.At = time.Now()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[u.TaskID] {
		select {
		case ch <- u:
		default:
		}
	}
}

// Close ends every subscription of taskID.
func (h *ProgressHub) Close(taskID string) {
	if h == nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs[taskID] {
		close(ch)
	}
	delete(h.subs, taskID)
}

// Subscribers returns the number of live subscriptions of taskID.
func (h *ProgressHub) Subscribers(taskID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[taskID])
}
