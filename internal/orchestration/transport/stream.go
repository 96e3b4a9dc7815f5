package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/zjrosen/mandelgather/internal/orchestration/message"
)

// streamBuffer is the number of decoded envelopes held ahead of Recv.
const streamBuffer = 16

// Stream is a Link over a byte stream carrying one JSON envelope per line.
// Worker subprocesses use it on stdin/stdout; the coordinator uses it on the
// child's pipes.
type Stream struct {
	enc  *json.Encoder
	wmu  sync.Mutex
	w    io.WriteCloser
	r    io.ReadCloser
	in   chan message.Envelope
	done chan struct{}

	readDone chan struct{}

	errMu   sync.Mutex
	readErr error

	closeOnce sync.Once
}

// NewStream starts decoding r in the background. Closing the Stream closes w
// and r.
func NewStream(r io.ReadCloser, w io.WriteCloser) *Stream {
	s := &Stream{
		enc:  json.NewEncoder(w),
		w:    w,
		r:    r,
		in:   make(chan message.Envelope, streamBuffer),
		done: make(chan struct{}),

		readDone: make(chan struct{}),
	}
	go s.readLoop()
	return s
}

func (s *Stream) readLoop() {
	defer close(s.readDone)
	defer close(s.in)
	dec := json.NewDecoder(s.r)
	for {
		var env message.Envelope
		if err := dec.Decode(&env); err != nil {
			if !isCleanEOF(err) {
				s.setReadErr(fmt.Errorf("decoding envelope: %w", err))
			}
			return
		}
		select {
		case s.in <- env:
		case <-s.done:
			return
		}
	}
}

func isCleanEOF(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed)
}

// ReadDone is closed once the decoder has stopped, either at EOF or because
// the Stream was closed. A process must not be reaped before this, or
// envelopes still in the pipe are lost.
func (s *Stream) ReadDone() <-chan struct{} {
	return s.readDone
}

func (s *Stream) setReadErr(err error) {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	if s.readErr == nil {
		s.readErr = err
	}
}

// ReadErr returns the decode error that ended the stream, if any. A clean EOF
// is not an error.
func (s *Stream) ReadErr() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.readErr
}

func (s *Stream) Send(ctx context.Context, env message.Envelope) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case <-s.done:
		return ErrLinkClosed
	default:
	}

	s.wmu.Lock()
	defer s.wmu.Unlock()
	if err := s.enc.Encode(env); err != nil {
		return fmt.Errorf("%w: %w", ErrLinkClosed, err)
	}
	return nil
}

func (s *Stream) Recv(ctx context.Context) (message.Envelope, error) {
	select {
	case env, ok := <-s.in:
		if !ok {
			if err := s.ReadErr(); err != nil {
				return message.Envelope{}, fmt.Errorf("%w: %w", ErrLinkClosed, err)
			}
			return message.Envelope{}, ErrLinkClosed
		}
		return env, nil
	case <-ctx.Done():
		return message.Envelope{}, ctx.Err()
	}
}

// CloseWrite closes only the outgoing side, signalling EOF to the peer while
// still letting Recv drain what the peer sends back.
func (s *Stream) CloseWrite() error {
	s.wmu.Lock()
	defer s.wmu.Unlock()
	return s.w.Close()
}

func (s *Stream) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.done)
		werr := s.CloseWrite()
		rerr := s.r.Close()
		err = errors.Join(ignoreClosed(werr), ignoreClosed(rerr))
	})
	return err
}

func ignoreClosed(err error) error {
	if err == nil || isCleanEOF(err) {
		return nil
	}
	return err
}
