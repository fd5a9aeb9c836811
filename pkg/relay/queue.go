package relay

import (
	"context"
	"errors"
	"sync"

	"github.com/harun/agentkit/pkg/session"
)

// DefaultQueueSize is the buffer of a LiveRequestQueue.
const DefaultQueueSize = 128

// ErrQueueClosed is returned when sending to a closed queue.
var ErrQueueClosed = errors.New("live request queue is closed")

// LiveRequestQueue carries client input to a running live agent.
type LiveRequestQueue struct {
	ch        chan LiveRequest
	done      chan struct{}
	closeOnce sync.Once
}

// NewLiveRequestQueue creates a queue with the given buffer size.
func NewLiveRequestQueue(size int) *LiveRequestQueue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &LiveRequestQueue{
		ch:   make(chan LiveRequest, size),
		done: make(chan struct{}),
	}
}

// SendRealtime pushes a blob of realtime input (audio or an image frame).
func (q *LiveRequestQueue) SendRealtime(blob *session.Blob) error {
	return q.send(LiveRequest{Blob: blob})
}

// SendContent pushes a complete content turn.
func (q *LiveRequestQueue) SendContent(content *session.Content) error {
	return q.send(LiveRequest{Content: content})
}

// Send pushes an already decoded request.
func (q *LiveRequestQueue) Send(req LiveRequest) error {
	return q.send(req)
}

func (q *LiveRequestQueue) send(req LiveRequest) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}
	select {
	case q.ch <- req:
		return nil
	case <-q.done:
		return ErrQueueClosed
	}
}

// Next blocks until a request is available. It returns false once the queue
// is closed or ctx is done.
func (q *LiveRequestQueue) Next(ctx context.Context) (LiveRequest, bool) {
	select {
	case req := <-q.ch:
		return req, true
	case <-q.done:
		return LiveRequest{}, false
	case <-ctx.Done():
		return LiveRequest{}, false
	}
}

// Close stops the queue. It is safe to call more than once.
func (q *LiveRequestQueue) Close() {
	q.closeOnce.Do(func() { close(q.done) })
}

// Closed reports whether Close has been called.
func (q *LiveRequestQueue) Closed() bool {
	select {
	case <-q.done:
		return true
	default:
		return false
	}
}
