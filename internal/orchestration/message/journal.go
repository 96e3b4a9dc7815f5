package message

import (
	"sync"
	"time"

	"github.com/zjrosen/mandelgather/internal/orchestration/events"
)

// Entry is the journal record of one envelope, without its payload.
type Entry struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from"`
	To        string    `json:"to"`
	Kind      Kind      `json:"kind"`
	Summary   string    `json:"summary"`
}

// Journal is the coordinator's record of protocol traffic. When a run fails it
// is what the operator reads to see which rank went quiet.
type Journal struct {
	entries []Entry
	mu      sync.RWMutex
	bus     *events.Bus[Entry]
}

// NewJournal creates an empty journal.
func NewJournal() *Journal {
	return &Journal{
		entries: make([]Entry, 0),
		bus:     events.NewBus[Entry](),
	}
}

// Bus returns the bus entries are published on as they are recorded.
func (j *Journal) Bus() *events.Bus[Entry] {
	return j.bus
}

// Record appends env to the journal.
func (j *Journal) Record(env Envelope) Entry {
	entry := Entry{
		ID:        env.ID,
		Timestamp: env.Timestamp,
		From:      WorkerID(env.From),
		To:        WorkerID(env.To),
		Kind:      env.Kind,
		Summary:   env.Summary(),
	}

	j.mu.Lock()
	j.entries = append(j.entries, entry)
	j.mu.Unlock()

	j.bus.Publish(events.Created, entry)
	return entry
}

// Entries returns a copy of every recorded entry in order.
func (j *Journal) Entries() []Entry {
	j.mu.RLock()
	defer j.mu.RUnlock()

	out := make([]Entry, len(j.entries))
	copy(out, j.entries)
	return out
}

// Tail returns at most n of the most recent entries.
func (j *Journal) Tail(n int) []Entry {
	all := j.Entries()
	if n >= len(all) || n < 0 {
		return all
	}
	return all[len(all)-n:]
}

// Close releases the journal's bus.
func (j *Journal) Close() {
	j.bus.Close()
}
