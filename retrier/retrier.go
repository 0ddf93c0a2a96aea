// Package retrier runs a command repeatedly until its exit status satisfies
// the configured criteria, replaying captured stdin into every attempt and
// releasing captured stdout exactly once.
package retrier

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/retryware/retry/criteria"
	"github.com/retryware/retry/pump"
	"github.com/retryware/retry/supervise"
)

const (
	// FailureExitCode is returned for configuration, spawn, pump, and
	// allocation failures.
	FailureExitCode = 1
	// unreapableExitCode is EX_OSERR from sysexits, returned when the child
	// cannot be reaped.
	unreapableExitCode = 71
	// signalExitBase plus the signal number is the exit code when the child
	// is killed; fixed contract for shell callers inspecting $?.
	signalExitBase = 128
)

// Config carries the options the CLI front-end produces.
type Config struct {
	// Name labels diagnostics on stderr, normally the tool's own name.
	Name string
	// Message is included in the backoff notice. Empty means the command name.
	Message string
	// DelaySeconds is the backoff between attempts. Zero disables the sleep
	// but still loops.
	DelaySeconds int
	// Times is the attempt budget; -1 means unlimited.
	Times int

	// Exactly one of Until and While is set. Until stops the run when it
	// matches the exit status; While stops when it no longer matches. When
	// both are nil, Until defaults to "success".
	Until *criteria.Spec
	While *criteria.Spec

	// Stdin, Stdout, and Stderr default to the process's own streams.
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	Log *zap.SugaredLogger

	// Sleep is swappable for tests; defaults to time.Sleep.
	Sleep func(time.Duration)
}

// Retrier owns the two capture streams for the lifetime of a run. The
// streams are handed to the pump for the duration of one attempt at a time;
// attempts are strictly sequential, so no locking is needed.
type Retrier struct {
	cfg Config
	log *zap.SugaredLogger

	in  *pump.Stream
	out *pump.Stream

	// stdinSource outlives individual attempts: bytes the invoker already
	// sent are captured once and replayed, while an unfinished stdin keeps
	// feeding later attempts.
	stdinSource pump.Source
}

// New validates the configuration and prepares a run.
func New(cfg Config) (*Retrier, error) {
	if cfg.Until != nil && cfg.While != nil {
		return nil, errors.New("until and while criteria are mutually exclusive")
	}
	if cfg.Until == nil && cfg.While == nil {
		spec, err := criteria.Parse("success")
		if err != nil {
			return nil, err
		}
		cfg.Until = spec
	}
	if cfg.Times < -1 {
		return nil, fmt.Errorf("times must be bigger or equal to -1, got %d", cfg.Times)
	}
	if cfg.DelaySeconds < 0 {
		return nil, fmt.Errorf("delay must be bigger or equal to 0, got %d", cfg.DelaySeconds)
	}
	if cfg.Name == "" {
		cfg.Name = "retry"
	}
	if cfg.Stdin == nil {
		cfg.Stdin = os.Stdin
	}
	if cfg.Stdout == nil {
		cfg.Stdout = os.Stdout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}
	if cfg.Log == nil {
		cfg.Log = zap.NewNop().Sugar()
	}
	if cfg.Sleep == nil {
		cfg.Sleep = time.Sleep
	}

	return &Retrier{
		cfg:         cfg,
		log:         cfg.Log.Named("retrier"),
		in:          pump.NewStream(),
		out:         pump.NewStream(),
		stdinSource: pump.ReadChunks(cfg.Stdin),
	}, nil
}

// Run executes the command until the stop criteria holds, a signal kills an
// attempt, the budget runs out, or something fatal happens. It returns the
// process exit code for the whole run.
func (r *Retrier) Run(command string, args ...string) int {
	message := r.cfg.Message
	if message == "" {
		message = command
	}

	remaining := r.cfg.Times
	attempt := 0
	lastCode := 0

	for remaining != 0 {
		attempt++
		r.resetForAttempt()

		child, err := supervise.Start(r.cfg.Log.Named("supervise"), command, args)
		if err != nil {
			fmt.Fprintf(r.cfg.Stderr, "%s: %s, giving up\n", r.cfg.Name, err)
			return FailureExitCode
		}

		err = pump.Run(r.cfg.Log.Named("pump"),
			&pump.Pipe{Name: "stdin relay", Stream: r.in, Source: r.stdinSource, Sink: child.Stdin},
			&pump.Pipe{Name: "stdout capture", Stream: r.out, Source: pump.ReadChunks(child.Stdout)},
		)
		// closing stdin delivers EOF to a child still reading it; fresh
		// descriptors come from the next spawn
		child.CloseParentEnds()
		if err != nil {
			fmt.Fprintf(r.cfg.Stderr, "%s: %s, giving up\n", r.cfg.Name, err)
			return FailureExitCode
		}

		res := child.Wait()
		r.log.Debugw("attempt finished", "Attempt", attempt, "Result", res.String())

		switch res.Outcome {
		case supervise.Signaled:
			// signals are never retried; captured output is dropped so that
			// stdout still sees at most one attempt's output
			return signalExitBase + int(res.Signal)
		case supervise.Unwaitable:
			fmt.Fprintf(r.cfg.Stderr, "%s: wait for '%s' failed, giving up: %s\n", r.cfg.Name, command, res.Err)
			return unreapableExitCode
		}

		lastCode = res.Code
		if r.stopOn(res.Code) {
			// the single delivery of captured output to the real stdout
			r.cfg.Stdout.Write(r.out.Bytes())
			return res.Code
		}

		// a retried attempt's output goes to stderr so it is neither lost
		// nor duplicated on stdout
		r.cfg.Stderr.Write(r.out.Bytes())

		if remaining > 0 {
			remaining--
		}
		if remaining == 0 {
			break
		}

		if r.cfg.DelaySeconds > 0 {
			fmt.Fprintf(r.cfg.Stderr, "%s: '%s' returned %d, backing off for %d second%s and trying again...\n",
				r.cfg.Name, message, res.Code, r.cfg.DelaySeconds, plural(r.cfg.DelaySeconds))
			r.cfg.Sleep(time.Duration(r.cfg.DelaySeconds) * time.Second)
		} else {
			fmt.Fprintf(r.cfg.Stderr, "%s: '%s' returned %d, trying again...\n",
				r.cfg.Name, message, res.Code)
		}
	}

	return lastCode
}

// resetForAttempt rewinds per-attempt transient state. The input relay keeps
// its captured bytes and its source EOF so they replay verbatim; the output
// capture starts empty because a new child's output is independent of the
// previous attempt's.
func (r *Retrier) resetForAttempt() {
	r.in.Rewind()
	r.in.OpenWrite()

	r.out.Reset()
	// delivery is withheld while the attempt runs; disposition happens once
	// the exit status is known
	r.out.CloseWrite()
	// once the child stops producing output there is nothing left to forward
	r.out.SetExitOnClose(true)
}

func (r *Retrier) stopOn(code int) bool {
	if r.cfg.Until != nil {
		return r.cfg.Until.Match(code)
	}
	return !r.cfg.While.Match(code)
}

func plural(n int) string {
	if n > 1 {
		return "s"
	}
	return ""
}
