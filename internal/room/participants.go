package room

import (
	"slices"
	"sync"
	"time"

	"github.com/samber/lo"
)

// Participant is a connection that completed the join handshake.
type Participant struct {
	ID       string
	Name     string
	Muted    bool
	LastSeen time.Time

	seq uint64
}

// Participants is the room membership table. Returned values are copies.
type Participants struct {
	now func() time.Time

	mu      sync.Mutex
	byID    map[string]*Participant
	nextSeq uint64
}

// NewParticipants returns an empty registry. A nil now uses time.Now.
func NewParticipants(now func() time.Time) *Participants {
	if now == nil {
		now = time.Now
	}
	return &Participants{
		now:  now,
		byID: make(map[string]*Participant),
	}
}

// Add inserts or overwrites id with LastSeen set to the current time.
func (p *Participants) Add(id, name string, muted bool) Participant {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextSeq++
	part := &Participant{
		ID:       id,
		Name:     name,
		Muted:    muted,
		LastSeen: p.now(),
		seq:      p.nextSeq,
	}
	p.byID[id] = part
	return *part
}

func (p *Participants) Get(id string) (Participant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	part, ok := p.byID[id]
	if !ok {
		return Participant{}, false
	}
	return *part, true
}

// UpdateLastSeen is a no-op for unknown IDs.
func (p *Participants) UpdateLastSeen(id string) {
	p.mu.Lock()
	if part, ok := p.byID[id]; ok {
		part.LastSeen = p.now()
	}
	p.mu.Unlock()
}

// SetMute reports whether the stored flag changed. Unknown IDs report false.
func (p *Participants) SetMute(id string, muted bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	part, ok := p.byID[id]
	if !ok || part.Muted == muted {
		return false
	}
	part.Muted = muted
	return true
}

// Remove reports whether id was present.
func (p *Participants) Remove(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[id]; !ok {
		return false
	}
	delete(p.byID, id)
	return true
}

// Take removes id and returns what was stored, so that exactly one caller
// observes a given departure.
func (p *Participants) Take(id string) (Participant, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	part, ok := p.byID[id]
	if !ok {
		return Participant{}, false
	}
	delete(p.byID, id)
	return *part, true
}

func (p *Participants) Has(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.byID[id]
	return ok
}

// All returns every participant in join order.
func (p *Participants) All() []Participant {
	p.mu.Lock()
	out := lo.MapToSlice(p.byID, func(_ string, part *Participant) Participant { return *part })
	p.mu.Unlock()

	slices.SortFunc(out, func(a, b Participant) int {
		switch {
		case a.seq < b.seq:
			return -1
		case a.seq > b.seq:
			return 1
		}
		return 0
	})
	return out
}

// AllExcept returns every participant but id, in join order.
func (p *Participants) AllExcept(id string) []Participant {
	return lo.Reject(p.All(), func(part Participant, _ int) bool { return part.ID == id })
}

func (p *Participants) Clear() {
	p.mu.Lock()
	clear(p.byID)
	p.mu.Unlock()
}

func (p *Participants) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.byID)
}
