package queue

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// Published is one recorded submission.
type Published struct {
	MessageID string
	TargetURL string
	Payload   Payload
}

// MemoryDispatcher records submissions in-process. Err, when set, fails
// every Enqueue.
type MemoryDispatcher struct {
	mu        sync.Mutex
	published []Published
	Err       error
}

func NewMemoryDispatcher() *MemoryDispatcher {
	return &MemoryDispatcher{}
}

func (d *MemoryDispatcher) Enqueue(_ context.Context, targetURL string, payload Payload) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.Err != nil {
		return "", d.Err
	}
	id := "msg_" + uuid.NewString()
	d.published = append(d.published, Published{MessageID: id, TargetURL: targetURL, Payload: payload})
	return id, nil
}

// Published returns a copy of everything submitted so far.
func (d *MemoryDispatcher) Published() []Published {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]Published(nil), d.published...)
}
