package pump

// ChunkSize is the unit of buffer growth and the maximum size of a single
// read from a stream source.
const ChunkSize = 100 * 1024

// Stream is one direction of piped data: a growable capture buffer with a
// delivery cursor and lifecycle flags. The buffer retains everything ever
// read from the source so that delivery can be rewound and replayed; it
// never shrinks during a run.
//
// Invariants: cursor <= len(buf) <= cap(buf). writeClosed becomes true only
// once readClosed is true and every captured byte has been delivered, or
// when the sink itself is gone.
type Stream struct {
	buf    []byte
	cursor int

	readClosed  bool
	writeClosed bool
	exitOnClose bool
	pendingEOF  bool
}

// NewStream returns an empty stream with both ends open.
func NewStream() *Stream {
	return &Stream{}
}

// Append adds bytes to the capture buffer, growing it in ChunkSize
// increments. It grows at most once per call.
func (s *Stream) Append(p []byte) {
	if need := len(s.buf) + len(p); need > cap(s.buf) {
		grown := make([]byte, len(s.buf), (need/ChunkSize+1)*ChunkSize)
		copy(grown, s.buf)
		s.buf = grown
	}
	s.buf = append(s.buf, p...)
}

// ConsumeReady returns the captured bytes that have not yet been delivered
// to the sink. The caller advances the cursor by however many bytes the sink
// actually accepted; partial transfers are tolerated.
func (s *Stream) ConsumeReady() []byte {
	return s.buf[s.cursor:]
}

// Advance moves the delivery cursor past n delivered bytes.
func (s *Stream) Advance(n int) {
	s.cursor += n
	if s.cursor > len(s.buf) {
		s.cursor = len(s.buf)
	}
}

// Bytes returns everything captured so far, delivered or not.
func (s *Stream) Bytes() []byte {
	return s.buf
}

// Len returns the number of captured bytes.
func (s *Stream) Len() int {
	return len(s.buf)
}

// Unread returns the number of captured bytes not yet delivered to the sink.
func (s *Stream) Unread() int {
	return len(s.buf) - s.cursor
}

// CloseRead records that the source reached end of data. Captured bytes are
// retained; once they have all been delivered the write side closes too.
func (s *Stream) CloseRead() {
	s.readClosed = true
	s.pendingEOF = true
}

// CloseWrite marks the sink side closed. Used both when a sink descriptor
// dies and to withhold delivery entirely (capture-only streams).
func (s *Stream) CloseWrite() {
	s.writeClosed = true
}

// OpenWrite re-arms the sink side for a fresh attempt's descriptor.
func (s *Stream) OpenWrite() {
	s.writeClosed = false
}

// SetExitOnClose makes this stream's source closing terminate the whole
// pump, regardless of the other stream's state.
func (s *Stream) SetExitOnClose(v bool) {
	s.exitOnClose = v
}

// ReadClosed reports whether the source has reached end of data.
func (s *Stream) ReadClosed() bool {
	return s.readClosed
}

// WriteClosed reports whether the sink side is closed.
func (s *Stream) WriteClosed() bool {
	return s.writeClosed
}

// Rewind moves the delivery cursor back to the start of the capture buffer
// so that everything captured so far is replayed to the next sink. The
// buffer and the read-side state are retained.
func (s *Stream) Rewind() {
	s.cursor = 0
}

// Reset discards all captured bytes and lifecycle flags while keeping the
// buffer's capacity. Used between attempts when the stream's source is a
// fresh descriptor whose data is independent of the previous attempt's.
func (s *Stream) Reset() {
	s.buf = s.buf[:0]
	s.cursor = 0
	s.readClosed = false
	s.writeClosed = false
	s.exitOnClose = false
	s.pendingEOF = false
}
