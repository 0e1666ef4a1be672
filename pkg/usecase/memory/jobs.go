package memory

import (
	"context"
	"sync"

	"github.com/m-mizutani/memento/pkg/model"
)

// jobs counts scheduled updates per user. Each user with pending updates has
// an idle channel that is closed when the last of them finishes.
type jobs struct {
	mu      sync.Mutex
	pending map[model.UserID]int
	idle    map[model.UserID]chan struct{}
}

func newJobs() *jobs {
	return &jobs{
		pending: make(map[model.UserID]int),
		idle:    make(map[model.UserID]chan struct{}),
	}
}

func (j *jobs) start(userID model.UserID) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.pending[userID] == 0 {
		j.idle[userID] = make(chan struct{})
	}
	j.pending[userID]++
}

func (j *jobs) finish(userID model.UserID) {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.pending[userID]--
	if j.pending[userID] > 0 {
		return
	}
	close(j.idle[userID])
	delete(j.pending, userID)
	delete(j.idle, userID)
}

// wait blocks until the user has no pending update
func (j *jobs) wait(ctx context.Context, userID model.UserID) error {
	j.mu.Lock()
	ch, ok := j.idle[userID]
	j.mu.Unlock()
	if !ok {
		return nil
	}

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// waitAll blocks until no user has a pending update
func (j *jobs) waitAll() {
	for {
		j.mu.Lock()
		var ch chan struct{}
		for _, c := range j.idle {
			ch = c
			break
		}
		j.mu.Unlock()
		if ch == nil {
			return
		}
		<-ch
	}
}
