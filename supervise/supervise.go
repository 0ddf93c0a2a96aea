// Package supervise spawns one attempt of the child command with its stdin
// and stdout wired to fresh pipe pairs, and reaps it when it finishes.
package supervise

import (
	"fmt"
	"os"
	"os/exec"
	"syscall"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Outcome classifies how an attempt finished.
type Outcome int

const (
	// Exited means the child terminated on its own with an exit code.
	Exited Outcome = iota
	// Signaled means the child was killed by a signal.
	Signaled
	// Unwaitable means the child could not be reaped.
	Unwaitable
)

// Result is the fate of one attempt.
type Result struct {
	Outcome Outcome
	Code    int
	Signal  unix.Signal
	Err     error
}

func (r Result) String() string {
	switch r.Outcome {
	case Exited:
		return fmt.Sprintf("exited with code %d", r.Code)
	case Signaled:
		return fmt.Sprintf("killed by %s", unix.SignalName(r.Signal))
	default:
		return fmt.Sprintf("unwaitable: %s", r.Err)
	}
}

// Child is one running attempt. Stdin and Stdout are the parent-held pipe
// ends the pump drives; the caller closes them after the pump returns and
// before Wait.
type Child struct {
	Stdin  *os.File
	Stdout *os.File

	log *zap.SugaredLogger
	cmd *exec.Cmd
}

// Start creates two pipe pairs, launches the command with its standard
// input/output connected to the child-side ends, and returns the
// parent-held ends. Pipe or process creation failure is fatal for the whole
// run; the caller must not retry it.
func Start(log *zap.SugaredLogger, command string, args []string) (*Child, error) {
	stdinRead, stdinWrite, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdoutRead, stdoutWrite, err := os.Pipe()
	if err != nil {
		stdinRead.Close()
		stdinWrite.Close()
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}

	cmd := exec.Command(command, args...)
	cmd.Stdin = stdinRead
	cmd.Stdout = stdoutWrite
	cmd.Stderr = os.Stderr

	err = cmd.Start()
	// the child owns its ends now; the parent closes its copies regardless
	stdinRead.Close()
	stdoutWrite.Close()
	if err != nil {
		stdinWrite.Close()
		stdoutRead.Close()
		return nil, fmt.Errorf("starting %q: %w", command, err)
	}
	log.Debugf("started %q pid %d", command, cmd.Process.Pid)

	return &Child{
		Stdin:  stdinWrite,
		Stdout: stdoutRead,
		log:    log,
		cmd:    cmd,
	}, nil
}

// CloseParentEnds closes the parent-held pipe ends. Closing stdin delivers
// EOF to a child still reading it; closing stdout releases the read side of
// a pipe the child may still be writing. Safe to call more than once.
func (c *Child) CloseParentEnds() {
	c.Stdin.Close()
	c.Stdout.Close()
}

// Wait blocks until the attempt finishes and classifies the result.
// Interrupted waits are retried by the runtime; any other wait failure is
// Unwaitable.
func (c *Child) Wait() Result {
	err := c.cmd.Wait()
	if err == nil {
		c.log.Debugf("pid %d exited with code 0", c.cmd.Process.Pid)
		return Result{Outcome: Exited, Code: 0}
	}

	exitErr, ok := err.(*exec.ExitError)
	if !ok {
		return Result{Outcome: Unwaitable, Err: err}
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok {
		return Result{Outcome: Unwaitable, Err: err}
	}

	ws := unix.WaitStatus(status)
	switch {
	case ws.Signaled():
		sig := ws.Signal()
		c.log.Debugf("pid %d killed by %s", c.cmd.Process.Pid, unix.SignalName(sig))
		return Result{Outcome: Signaled, Signal: sig}
	case ws.Exited():
		c.log.Debugf("pid %d exited with code %d", c.cmd.Process.Pid, ws.ExitStatus())
		return Result{Outcome: Exited, Code: ws.ExitStatus()}
	default:
		return Result{Outcome: Unwaitable, Err: err}
	}
}
