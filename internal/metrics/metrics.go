package metrics

import "sync"

// Event names. They become the `event` label of the exported counter.
const (
	WSConnections     = "ws_connections"
	WSReplaced        = "ws_replaced"
	WSDisconnects     = "ws_disconnects"
	ParticipantJoins  = "participant_joins"
	ParticipantLeaves = "participant_leaves"
	Reconnects        = "participant_reconnects"

	AuthFailure     = "auth_failure"
	ProtocolErrors  = "protocol_errors"
	PanicsRecovered = "panics_recovered"

	RelayOffer    = "relay_offer"
	RelayAnswer   = "relay_answer"
	RelayICE      = "relay_ice"
	RelayNoTarget = "relay_no_target"

	KickedInactivity = "kicked_inactivity"
	KickedRoomReset  = "kicked_room_reset"
	RoomResets       = "room_resets"

	DropReasonRateLimited = "rate_limited"
	DropReasonSendQueue   = "send_queue_full"
)

// Metrics is a minimal, concurrency-safe counter registry.
type Metrics struct {
	mu sync.Mutex
	m  map[string]uint64
}

func New() *Metrics {
	return &Metrics{
		m: make(map[string]uint64),
	}
}

// Inc is a no-op on a nil receiver so optional metrics can be passed around
// without nil checks at every call site.
func (m *Metrics) Inc(name string) {
	m.Add(name, 1)
}

func (m *Metrics) Add(name string, delta uint64) {
	if m == nil {
		return
	}
	m.mu.Lock()
	if m.m == nil {
		m.m = make(map[string]uint64)
	}
	m.m[name] += delta
	m.mu.Unlock()
}

func (m *Metrics) Get(name string) uint64 {
	if m == nil {
		return 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.m[name]
}

// Snapshot returns a copy of all counters.
func (m *Metrics) Snapshot() map[string]uint64 {
	out := make(map[string]uint64)
	if m == nil {
		return out
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for k, v := range m.m {
		out[k] = v
	}
	return out
}
