package service

import (
	"context"
	"sync"
)

// PollCancelRegistry maps task IDs to the cancel func of their running
// generation, so an API call can stop local polling.
type PollCancelRegistry struct {
	mu sync.Mutex
	m  map[string]context.CancelFunc
}

func NewPollCancelRegistry() *PollCancelRegistry {
	return &PollCancelRegistry{m: make(map[string]context.CancelFunc)}
}

// Register 注册轮询的 cancelFunc
func (r *PollCancelRegistry) Register(taskID string, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.m[taskID] = cancel
}

// Unregister 在轮询结束时注销
func (r *PollCancelRegistry) Unregister(taskID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.m, taskID)
}

// Cancel stops the running generation of taskID and reports whether one was
// found. The remote job keeps running on the service side.
func (r *PollCancelRegistry) Cancel(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.m[taskID]; ok {
		cancel()
		delete(r.m, taskID)
		return true
	}
	return false
}
