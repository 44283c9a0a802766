package signaling

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/room"
)

const (
	wsWriteWait = 1 * time.Second
	// wsCloseGrace bounds how long the writer waits for the client to answer a
	// close frame before dropping the TCP connection.
	wsCloseGrace = 1 * time.Second
)

var (
	errHandleClosed = errors.New("handle closed")
	errQueueFull    = errors.New("send queue full")
)

// send serializes msg and writes it to h if h is still open. A handle that
// closed in the meantime is not an error.
func send(h room.Handle, msg any) error {
	if h == nil || !h.IsOpen() {
		return nil
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return sendRaw(h, data)
}

func sendRaw(h room.Handle, data []byte) error {
	if h == nil || !h.IsOpen() {
		return nil
	}
	err := h.WriteText(data)
	if errors.Is(err, errHandleClosed) {
		return nil
	}
	return err
}

// wsPeer is the room.Handle backed by a gorilla WebSocket.
//
// All writes go through queue and are performed by writeLoop, the only
// goroutine that writes data frames to conn.
type wsPeer struct {
	conn    *websocket.Conn
	queue   *sendQueue
	metrics *metrics.Metrics
	logger  *slog.Logger

	open     atomic.Bool
	readDone chan struct{}
	done     chan struct{}

	readDoneOnce sync.Once
	shutdownOnce sync.Once
}

var _ room.Handle = (*wsPeer)(nil)

func newWSPeer(conn *websocket.Conn, queueBytes int, m *metrics.Metrics, logger *slog.Logger) *wsPeer {
	p := &wsPeer{
		conn:     conn,
		queue:    newSendQueue(queueBytes),
		metrics:  m,
		logger:   logger,
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.open.Store(true)
	go p.writeLoop()
	return p
}

func (p *wsPeer) IsOpen() bool { return p.open.Load() }

func (p *wsPeer) WriteText(data []byte) error {
	if !p.open.Load() {
		return errHandleClosed
	}
	if !p.queue.Enqueue(data) {
		p.metrics.Inc(metrics.DropReasonSendQueue)
		return errQueueFull
	}
	return nil
}

// Close stops accepting frames and queues a close frame behind everything
// already pending. Only the first call has any effect.
func (p *wsPeer) Close(code int, reason string) error {
	if !p.open.CompareAndSwap(true, false) {
		return nil
	}
	if !p.queue.EnqueueClose(code, reason) {
		return errHandleClosed
	}
	return nil
}

// markReadDone is called by the receive loop once it stops reading. From
// then on nothing will ever drain the socket, so the peer shuts down.
func (p *wsPeer) markReadDone() {
	p.readDoneOnce.Do(func() { close(p.readDone) })
	p.open.Store(false)
	// Let a queued close frame (e.g. kicked + close) flush first.
	go func() {
		select {
		case <-p.done:
		case <-time.After(wsCloseGrace):
			p.shutdown()
		}
	}()
}

func (p *wsPeer) shutdown() {
	p.shutdownOnce.Do(func() {
		p.open.Store(false)
		p.queue.Close()
		_ = p.conn.Close()
	})
}

func (p *wsPeer) writeLoop() {
	defer close(p.done)
	defer p.shutdown()

	for {
		f, ok := p.queue.Dequeue()
		if !ok {
			return
		}

		if f.close {
			err := p.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(f.closeCode, f.closeReason), time.Now().Add(wsWriteWait))
			if err != nil && !errors.Is(err, websocket.ErrCloseSent) && !errors.Is(err, net.ErrClosed) {
				p.logger.Debug("ws_close_write_failed", "err", err)
			}
			select {
			case <-p.readDone:
			case <-time.After(wsCloseGrace):
			}
			return
		}

		_ = p.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := p.conn.WriteMessage(websocket.TextMessage, f.data); err != nil {
			p.logger.Debug("ws_write_failed", "err", err)
			return
		}
	}
}
