package transport

import (
	"context"
	"sync"

	"github.com/zjrosen/mandelgather/internal/orchestration/message"
)

// DefaultPipeBuffer is how many envelopes may sit in one direction of a pipe
// before Send blocks.
const DefaultPipeBuffer = 16

// half is one direction of a pipe.
type half struct {
	ch     chan message.Envelope
	closed chan struct{}
	once   sync.Once
}

func newHalf(size int) *half {
	return &half{
		ch:     make(chan message.Envelope, size),
		closed: make(chan struct{}),
	}
}

func (h *half) close() {
	h.once.Do(func() { close(h.closed) })
}

// pipeEnd is one side of an in-process pipe. It writes to out and reads from in.
type pipeEnd struct {
	in  *half
	out *half
}

// Pipe returns two connected in-process links. Each Send clones the envelope
// so the two sides never share a payload.
func Pipe() (Link, Link) {
	return PipeWithBuffer(DefaultPipeBuffer)
}

// PipeWithBuffer is Pipe with an explicit per-direction buffer.
func PipeWithBuffer(size int) (Link, Link) {
	if size < 0 {
		size = 0
	}
	ab := newHalf(size)
	ba := newHalf(size)
	return &pipeEnd{in: ba, out: ab}, &pipeEnd{in: ab, out: ba}
}

func (p *pipeEnd) Send(ctx context.Context, env message.Envelope) error {
	// Either side closing ends the conversation.
	select {
	case <-p.out.closed:
		return ErrLinkClosed
	case <-p.in.closed:
		return ErrLinkClosed
	default:
	}

	select {
	case p.out.ch <- env.Clone():
		return nil
	case <-p.out.closed:
		return ErrLinkClosed
	case <-p.in.closed:
		return ErrLinkClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pipeEnd) Recv(ctx context.Context) (message.Envelope, error) {
	select {
	case env := <-p.in.ch:
		return env, nil
	case <-p.in.closed:
		// Drain anything sent before the peer closed.
		select {
		case env := <-p.in.ch:
			return env, nil
		default:
			return message.Envelope{}, ErrLinkClosed
		}
	case <-ctx.Done():
		return message.Envelope{}, ctx.Err()
	}
}

// Close marks this side's outgoing direction closed. The peer still drains
// envelopes already buffered.
func (p *pipeEnd) Close() error {
	p.out.close()
	return nil
}
