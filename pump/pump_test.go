package pump

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"
	"testing"
	"testing/iotest"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var testLog = zap.NewNop().Sugar()

func TestRunRelaysAndCaptures(t *testing.T) {
	sinkR, sinkW, err := os.Pipe()
	require.NoError(t, err)

	var got bytes.Buffer
	copied := make(chan struct{})
	go func() {
		io.Copy(&got, sinkR)
		close(copied)
	}()

	relayStream := NewStream()
	relay := &Pipe{
		Name:   "relay",
		Stream: relayStream,
		Source: ReadChunks(strings.NewReader("hello pump")),
		Sink:   sinkW,
	}

	captureStream := NewStream()
	captureStream.CloseWrite()
	capture := &Pipe{
		Name:   "capture",
		Stream: captureStream,
		Source: ReadChunks(strings.NewReader("")),
	}

	require.NoError(t, Run(testLog, relay, capture))
	require.NoError(t, sinkW.Close())
	<-copied

	assert.Equal(t, "hello pump", got.String())
	assert.Equal(t, []byte("hello pump"), relayStream.Bytes())
	assert.Equal(t, 0, relayStream.Unread())
	assert.True(t, relayStream.ReadClosed())
	assert.True(t, relayStream.WriteClosed())
}

func TestRunExitOnCloseOverridesOtherStream(t *testing.T) {
	// a relay whose source never produces anything would block forever
	stuck := make(chan ReadResult)
	relay := &Pipe{
		Name:   "relay",
		Stream: NewStream(),
		Source: Source(stuck),
	}

	captureStream := NewStream()
	captureStream.CloseWrite()
	captureStream.SetExitOnClose(true)
	capture := &Pipe{
		Name:   "capture",
		Stream: captureStream,
		Source: ReadChunks(strings.NewReader("child output")),
	}

	done := make(chan error, 1)
	go func() { done <- Run(testLog, relay, capture) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("pump did not exit when the exit-on-close source closed")
	}

	assert.Equal(t, []byte("child output"), captureStream.Bytes())
	assert.True(t, captureStream.ReadClosed())
	// nothing was delivered, disposition is the caller's job
	assert.Equal(t, 12, captureStream.Unread())
}

// shortWriter accepts at most three bytes per call, forcing partial
// transfers.
type shortWriter struct {
	buf bytes.Buffer
}

func (w *shortWriter) Write(p []byte) (int, error) {
	if len(p) > 3 {
		p = p[:3]
	}
	return w.buf.Write(p)
}

func TestRunToleratesPartialWrites(t *testing.T) {
	sink := &shortWriter{}
	relayStream := NewStream()
	relay := &Pipe{
		Name:   "relay",
		Stream: relayStream,
		Source: ReadChunks(strings.NewReader("stuttering sink")),
		Sink:   sink,
	}

	captureStream := NewStream()
	captureStream.CloseRead()
	captureStream.CloseWrite()
	capture := &Pipe{Name: "capture", Stream: captureStream}

	require.NoError(t, Run(testLog, relay, capture))
	assert.Equal(t, "stuttering sink", sink.buf.String())
	assert.Equal(t, 0, relayStream.Unread())
}

func TestRunDeadSinkClosesWriteSide(t *testing.T) {
	sinkR, sinkW, err := os.Pipe()
	require.NoError(t, err)
	require.NoError(t, sinkR.Close())

	relayStream := NewStream()
	relay := &Pipe{
		Name:   "relay",
		Stream: relayStream,
		Source: ReadChunks(strings.NewReader("nobody is listening")),
		Sink:   sinkW,
	}

	captureStream := NewStream()
	captureStream.CloseRead()
	captureStream.CloseWrite()
	capture := &Pipe{Name: "capture", Stream: captureStream}

	// a sink that has gone away is not fatal, capture still completes
	require.NoError(t, Run(testLog, relay, capture))
	require.NoError(t, sinkW.Close())

	assert.True(t, relayStream.WriteClosed())
	assert.Equal(t, []byte("nobody is listening"), relayStream.Bytes())
}

func TestRunReadErrorIsFatal(t *testing.T) {
	relay := &Pipe{
		Name:   "relay",
		Stream: NewStream(),
		Source: ReadChunks(iotest.ErrReader(errors.New("boom"))),
	}

	captureStream := NewStream()
	captureStream.CloseRead()
	captureStream.CloseWrite()
	capture := &Pipe{Name: "capture", Stream: captureStream}

	err := Run(testLog, relay, capture)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reading relay")
	assert.Contains(t, err.Error(), "boom")
}

func TestRunTerminalStreamsReturnImmediately(t *testing.T) {
	mk := func(exitOnClose bool) *Pipe {
		s := NewStream()
		s.Append([]byte("stale"))
		s.Advance(5)
		s.CloseRead()
		s.CloseWrite()
		s.SetExitOnClose(exitOnClose)
		return &Pipe{Name: "terminal", Stream: s}
	}

	for _, exitOnClose := range []bool{false, true} {
		a, b := mk(exitOnClose), mk(false)
		require.NoError(t, Run(testLog, a, b))
		assert.Equal(t, []byte("stale"), a.Stream.Bytes())
		assert.Equal(t, 0, a.Stream.Unread())
	}
}

func TestReadChunksDeliversDataBeforeEOF(t *testing.T) {
	src := ReadChunks(iotest.DataErrReader(strings.NewReader("tail")))

	res := <-src
	require.NoError(t, res.Err)
	assert.Equal(t, []byte("tail"), res.Data)

	res = <-src
	assert.ErrorIs(t, res.Err, io.EOF)
}
