package signaling

import (
	"sync"
	"sync/atomic"

	"github.com/wilsonzlin/aero/proxy/room-signaling/internal/room"
)

// connState is the authentication/membership state of one connection.
//
//	connected  -> joined                (no passphrase, join)
//	connected  -> challenged -> joined  (passphrase, join-response)
//	joined     -> connected             (leave)
//	any        -> closed                (cleanup)
type connState int32

const (
	stateConnected connState = iota
	stateChallenged
	stateJoined
	stateClosed
)

func (s connState) String() string {
	switch s {
	case stateConnected:
		return "connected"
	case stateChallenged:
		return "challenged"
	case stateJoined:
		return "joined"
	case stateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Conn is one accepted transport registered under a client ID.
type Conn struct {
	id     string
	handle room.Handle

	state       atomic.Int32
	cleanupOnce sync.Once
}

func newConn(id string, h room.Handle) *Conn {
	return &Conn{id: id, handle: h}
}

func (c *Conn) State() connState { return connState(c.state.Load()) }

// transition moves to next unless the connection is already closed.
func (c *Conn) transition(next connState) bool {
	for {
		cur := c.state.Load()
		if connState(cur) == stateClosed {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(next)) {
			return true
		}
	}
}

func (c *Conn) markClosed() {
	c.state.Store(int32(stateClosed))
}
