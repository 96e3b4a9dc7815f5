package events

import (
	"context"

	tea "github.com/charmbracelet/bubbletea"
)

// ListenCmd returns a tea.Cmd that yields the next event from ch as a tea.Msg,
// or nil once ctx is done or ch is closed.
func ListenCmd[T any](ctx context.Context, ch <-chan Event[T]) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-ch:
			if !ok {
				return nil
			}
			return ev
		}
	}
}

// Listener keeps one subscription alive across Bubble Tea update cycles.
type Listener[T any] struct {
	ctx context.Context
	ch  <-chan Event[T]
}

// NewListener subscribes to bus for the lifetime of ctx.
func NewListener[T any](ctx context.Context, bus *Bus[T]) *Listener[T] {
	return &Listener[T]{ctx: ctx, ch: bus.Subscribe(ctx)}
}

// Listen returns the command that waits for the next event. Call it again
// from Update after each event to keep listening.
func (l *Listener[T]) Listen() tea.Cmd {
	return ListenCmd(l.ctx, l.ch)
}
