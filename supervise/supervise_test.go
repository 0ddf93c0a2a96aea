package supervise

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

var testLog = zap.NewNop().Sugar()

func TestStartWiresPipes(t *testing.T) {
	child, err := Start(testLog, "sh", []string{"-c", "tr a-z A-Z"})
	require.NoError(t, err)

	_, err = child.Stdin.WriteString("shout")
	require.NoError(t, err)
	require.NoError(t, child.Stdin.Close())

	out, err := io.ReadAll(child.Stdout)
	require.NoError(t, err)
	assert.Equal(t, "SHOUT", string(out))

	child.CloseParentEnds()
	res := child.Wait()
	assert.Equal(t, Exited, res.Outcome)
	assert.Equal(t, 0, res.Code)
}

func TestWaitClassifiesExitCode(t *testing.T) {
	child, err := Start(testLog, "sh", []string{"-c", "exit 3"})
	require.NoError(t, err)
	child.CloseParentEnds()

	res := child.Wait()
	assert.Equal(t, Exited, res.Outcome)
	assert.Equal(t, 3, res.Code)
}

func TestWaitClassifiesSignal(t *testing.T) {
	child, err := Start(testLog, "sh", []string{"-c", "kill -9 $$"})
	require.NoError(t, err)
	child.CloseParentEnds()

	res := child.Wait()
	assert.Equal(t, Signaled, res.Outcome)
	assert.Equal(t, unix.SIGKILL, res.Signal)
}

func TestStartUnknownCommandFails(t *testing.T) {
	_, err := Start(testLog, "definitely-not-a-real-command-437", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "starting")
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "exited with code 2", Result{Outcome: Exited, Code: 2}.String())
	assert.Equal(t, "killed by SIGKILL", Result{Outcome: Signaled, Signal: unix.SIGKILL}.String())
}
