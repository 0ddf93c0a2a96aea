// Package pump moves bytes between two independent pipe pairs through
// in-memory capture buffers. One pump run serves one attempt of the child
// command: it drains the invoker's stdin into the input-relay stream while
// feeding the child's stdin from it, and drains the child's stdout into the
// output-capture stream. Delivery of captured output is withheld during the
// run and performed by the caller once the attempt's fate is known.
package pump

import (
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// ReadResult is one chunk read from a stream source. Err is io.EOF when the
// source closed cleanly; any other error is fatal for the pump.
type ReadResult struct {
	Data []byte
	Err  error
}

// Source delivers chunks read from a stream's origin. A source backed by the
// invoker's stdin outlives a single run so that capture continues across
// attempts without re-reading bytes the invoker already sent.
type Source <-chan ReadResult

// ReadChunks starts a goroutine that reads r in ChunkSize pieces and
// delivers them until the reader fails or reaches end of data.
func ReadChunks(r io.Reader) Source {
	ch := make(chan ReadResult)
	go func() {
		for {
			buf := make([]byte, ChunkSize)
			n, err := r.Read(buf)
			if n > 0 {
				ch <- ReadResult{Data: buf[:n]}
			}
			if err != nil {
				ch <- ReadResult{Err: err}
				return
			}
		}
	}()
	return ch
}

// Pipe binds a stream to the attempt's live endpoints. A nil Source means
// the stream has no readable origin; a nil Sink means delivery is withheld
// and the stream only captures.
type Pipe struct {
	Name   string
	Stream *Stream
	Source Source
	Sink   io.Writer
}

type writeAck struct {
	n   int
	err error
}

type pipeState struct {
	*Pipe
	wreq     chan []byte
	wack     chan writeAck
	inflight bool
}

// Run multiplexes the two pipes until both streams reach a terminal state or
// a stream marked exit-on-close reports its source closed. It blocks the
// caller for the duration of the attempt's I/O and never drops bytes that
// were successfully read. Bytes are appended to each pipe's stream; sinks
// may lag behind capture and are advanced as writes are accepted.
func Run(log *zap.SugaredLogger, a, b *Pipe) error {
	sa := newPipeState(a)
	sb := newPipeState(b)
	defer sa.stopWriter()
	defer sb.stopWriter()

	for {
		sa.settle()
		sb.settle()

		// a closed exit-on-close source ends the whole pump: the child has
		// finished producing output and may already be gone, so there is no
		// point forwarding more input
		if sa.done() || sb.done() {
			log.Debug("pump: exit-on-close stream closed, stopping")
			return nil
		}

		sa.dispatch(log)
		sb.dispatch(log)

		if !sa.armed() && !sb.armed() {
			log.Debug("pump: all streams terminal, stopping")
			return nil
		}

		var aRead, bRead Source
		if !sa.Stream.readClosed {
			aRead = sa.Source
		}
		if !sb.Stream.readClosed {
			bRead = sb.Source
		}
		var aAck, bAck chan writeAck
		if sa.inflight {
			aAck = sa.wack
		}
		if sb.inflight {
			bAck = sb.wack
		}

		var err error
		select {
		case res := <-aRead:
			err = sa.handleRead(log, res)
		case res := <-bRead:
			err = sb.handleRead(log, res)
		case ack := <-aAck:
			err = sa.handleAck(log, ack)
		case ack := <-bAck:
			err = sb.handleAck(log, ack)
		}
		if err != nil {
			return err
		}
	}
}

func newPipeState(p *Pipe) *pipeState {
	s := &pipeState{Pipe: p}
	if p.Sink != nil {
		// the ack channel is buffered so a writer that finishes after an
		// early exit can deliver its result and terminate
		s.wreq = make(chan []byte)
		s.wack = make(chan writeAck, 1)
		go s.writeLoop()
	}
	return s
}

func (s *pipeState) writeLoop() {
	for b := range s.wreq {
		n, err := s.Sink.Write(b)
		s.wack <- writeAck{n: n, err: err}
	}
}

func (s *pipeState) stopWriter() {
	if s.wreq != nil {
		close(s.wreq)
	}
}

// settle closes the write side once the source is done and every captured
// byte has been delivered. This is the only way a stream finishes cleanly.
func (s *pipeState) settle() {
	st := s.Stream
	if !st.writeClosed && !s.inflight && st.readClosed && st.cursor == len(st.buf) {
		st.writeClosed = true
	}
}

func (s *pipeState) done() bool {
	return s.Stream.readClosed && s.Stream.exitOnClose
}

// dispatch hands the undelivered slice of the capture buffer to the writer
// goroutine when the sink is open and idle.
func (s *pipeState) dispatch(log *zap.SugaredLogger) {
	st := s.Stream
	if s.Sink == nil || s.inflight || st.writeClosed || st.cursor >= len(st.buf) {
		return
	}
	pending := st.ConsumeReady()
	log.Debugf("pump: dispatching %d bytes to %s sink", len(pending), s.Name)
	s.wreq <- pending
	s.inflight = true
}

// armed reports whether this pipe can still make progress: a live source, an
// in-flight write, or undelivered bytes headed for an open sink.
func (s *pipeState) armed() bool {
	st := s.Stream
	if !st.readClosed && s.Source != nil {
		return true
	}
	if s.inflight {
		return true
	}
	return s.Sink != nil && !st.writeClosed && st.cursor < len(st.buf)
}

func (s *pipeState) handleRead(log *zap.SugaredLogger, res ReadResult) error {
	st := s.Stream
	if len(res.Data) > 0 {
		st.Append(res.Data)
		log.Debugf("pump: captured %d bytes from %s (total %d)", len(res.Data), s.Name, len(st.buf))
	}
	if res.Err == nil {
		return nil
	}
	if errors.Is(res.Err, io.EOF) {
		log.Debugf("pump: %s source closed", s.Name)
		st.CloseRead()
		return nil
	}
	return fmt.Errorf("reading %s: %w", s.Name, res.Err)
}

func (s *pipeState) handleAck(log *zap.SugaredLogger, ack writeAck) error {
	st := s.Stream
	s.inflight = false
	st.Advance(ack.n)
	if ack.err == nil {
		return nil
	}
	// a sink that has gone away on its own is not fatal: the stream just
	// stops delivering, capture continues
	if errors.Is(ack.err, unix.EPIPE) || errors.Is(ack.err, os.ErrClosed) {
		log.Debugf("pump: %s sink gone: %s", s.Name, ack.err)
		st.CloseWrite()
		return nil
	}
	return fmt.Errorf("writing %s: %w", s.Name, ack.err)
}
