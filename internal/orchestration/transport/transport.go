// Package transport moves envelopes between the coordinator and worker ranks.
//
// A Link is one bidirectional point-to-point channel. In-process runs join
// the two ends with Go channels (Pipe); subprocess runs speak newline-delimited
// JSON over the child's stdin and stdout (Stream). The coordinator holds one
// Link per worker rank inside a Mux.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/zjrosen/mandelgather/internal/orchestration/message"
)

// ErrLinkClosed is returned when the peer has gone away and no buffered
// envelopes remain.
var ErrLinkClosed = errors.New("link closed")

// ErrUnknownRank is returned when a Mux has no link for the addressed rank.
var ErrUnknownRank = errors.New("unknown rank")

// Link is one end of a point-to-point connection.
type Link interface {
	// Send delivers env to the peer. It blocks until the envelope is accepted
	// by the link or ctx is done.
	Send(ctx context.Context, env message.Envelope) error

	// Recv blocks until the next envelope arrives, the peer closes, or ctx is
	// done. Envelopes already in flight are delivered before ErrLinkClosed.
	Recv(ctx context.Context) (message.Envelope, error)

	// Close releases this end. The peer observes ErrLinkClosed once it has
	// drained what was sent.
	Close() error
}

// Mux is the coordinator's view of the world: one Link per worker rank.
type Mux struct {
	mu    sync.RWMutex
	links map[int]Link
}

// NewMux creates an empty Mux.
func NewMux() *Mux {
	return &Mux{links: make(map[int]Link)}
}

// Attach registers the link for rank, replacing any previous one.
func (m *Mux) Attach(rank int, l Link) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[rank] = l
}

// Link returns the link for rank.
func (m *Mux) Link(rank int) (Link, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.links[rank]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownRank, rank)
	}
	return l, nil
}

// Ranks returns the attached ranks in ascending order.
func (m *Mux) Ranks() []int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ranks := make([]int, 0, len(m.links))
	for r := range m.links {
		ranks = append(ranks, r)
	}
	sort.Ints(ranks)
	return ranks
}

// Send routes env to the link for env.To.
func (m *Mux) Send(ctx context.Context, env message.Envelope) error {
	l, err := m.Link(env.To)
	if err != nil {
		return err
	}
	return l.Send(ctx, env)
}

// Recv receives the next envelope from rank.
func (m *Mux) Recv(ctx context.Context, rank int) (message.Envelope, error) {
	l, err := m.Link(rank)
	if err != nil {
		return message.Envelope{}, err
	}
	return l.Recv(ctx)
}

// Close closes every link and returns the first error.
func (m *Mux) Close() error {
	m.mu.Lock()
	links := m.links
	m.links = make(map[int]Link)
	m.mu.Unlock()

	var errs []error
	for _, l := range links {
		if err := l.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
