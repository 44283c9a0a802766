package signaling

import (
	"sync"
	"sync/atomic"
)

// outFrame is one queued write: a text frame, or the close frame that ends
// the stream.
type outFrame struct {
	data []byte

	close       bool
	closeCode   int
	closeReason string
}

// sendQueue is a byte-bounded FIFO of outbound frames.
//
// Enqueue never blocks, so broadcast fan-out costs the caller one lock per
// recipient. Once a close frame is queued nothing else is accepted.
type sendQueue struct {
	mu       sync.Mutex
	notEmpty *sync.Cond
	closing  bool
	closed   bool

	maxBytes int
	curBytes int
	frames   []outFrame

	drops atomic.Uint64
}

func newSendQueue(maxBytes int) *sendQueue {
	q := &sendQueue{maxBytes: maxBytes}
	q.notEmpty = sync.NewCond(&q.mu)
	return q
}

func (q *sendQueue) DropCount() uint64 {
	return q.drops.Load()
}

// Enqueue appends a text frame if it fits within the byte budget.
func (q *sendQueue) Enqueue(data []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.closing || q.curBytes+len(data) > q.maxBytes {
		q.drops.Add(1)
		return false
	}

	q.frames = append(q.frames, outFrame{data: data})
	q.curBytes += len(data)
	q.notEmpty.Signal()
	return true
}

// EnqueueClose queues a close frame behind everything already pending. It
// reports false if a close was already queued.
func (q *sendQueue) EnqueueClose(code int, reason string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed || q.closing {
		return false
	}
	q.closing = true
	q.frames = append(q.frames, outFrame{close: true, closeCode: code, closeReason: reason})
	q.notEmpty.Signal()
	return true
}

// Dequeue blocks until a frame is available or the queue is closed and empty.
func (q *sendQueue) Dequeue() (outFrame, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.frames) == 0 && !q.closed {
		q.notEmpty.Wait()
	}
	if len(q.frames) == 0 {
		return outFrame{}, false
	}
	f := q.frames[0]
	q.frames[0] = outFrame{}
	q.frames = q.frames[1:]
	q.curBytes -= len(f.data)
	return f, true
}

// Close discards pending frames and wakes the writer.
func (q *sendQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.frames = nil
	q.curBytes = 0
	q.mu.Unlock()
	q.notEmpty.Broadcast()
}
