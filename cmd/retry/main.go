package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/retryware/retry/criteria"
	"github.com/retryware/retry/retrier"
)

var version = "1.0.0"

func main() {
	app := &cli.App{
		Name:      "retry",
		Usage:     "repeat a command until it is successful",
		ArgsUsage: "command [argument ...]",
		Version:   version,
		Description: "The tool repeats the given command until the command is successful, " +
			"backing off with a configurable delay between each attempt.\n\n" +
			"Retry captures stdin into memory as the data is passed to the repeated " +
			"command, and this captured stdin is then replayed should the command " +
			"be repeated. This makes it possible to embed the retry tool into shell " +
			"pipelines.\n\n" +
			"Retry captures stdout into memory, and if the command was successful " +
			"stdout is passed on to stdout as normal, while if the command was " +
			"repeated stdout is passed to stderr instead. This ensures that output " +
			"is passed to stdout once and once only.",
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "delay",
				Aliases: []string{"d"},
				Usage:   "The number of seconds to back off after each attempt.",
				Value:   10,
			},
			&cli.StringFlag{
				Name:    "message",
				Aliases: []string{"m"},
				Usage:   "A message to include in the notification when retry has backed off. Defaults to the command name.",
			},
			&cli.IntFlag{
				Name:    "times",
				Aliases: []string{"t"},
				Usage:   "The number of times to retry the command. By default we try forever.",
				Value:   -1,
			},
			&cli.StringFlag{
				Name:    "until",
				Aliases: []string{"u"},
				Usage:   "Keep repeating the command until any one of the comma separated criteria is met. Options include 'success', 'true', 'fail', 'false', an integer or a range of integers.",
				Value:   "success",
			},
			&cli.StringFlag{
				Name:    "while",
				Aliases: []string{"w"},
				Usage:   "Keep repeating the command while any one of the comma separated criteria is met. Options include 'success', 'true', 'fail', 'false', an integer or a range of integers.",
			},
			&cli.BoolFlag{
				Name:  "verbose",
				Usage: "Enable debug logging on stderr.",
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "retry: %s\n", err)
		os.Exit(retrier.FailureExitCode)
	}
}

func run(ctx *cli.Context) error {
	if ctx.Args().Len() == 0 {
		cli.ShowAppHelp(ctx)
		return cli.Exit("retry: no command specified", retrier.FailureExitCode)
	}

	delay := ctx.Int("delay")
	if delay < 0 {
		return cli.Exit("retry: delay must be bigger or equal to 0", retrier.FailureExitCode)
	}
	times := ctx.Int("times")
	if times < -1 {
		return cli.Exit("retry: times must be bigger or equal to -1", retrier.FailureExitCode)
	}

	cfg := retrier.Config{
		Name:         "retry",
		Message:      ctx.String("message"),
		DelaySeconds: delay,
		Times:        times,
	}

	// until and while are mutually exclusive, the last one specified wins
	if ctx.IsSet("while") && !(ctx.IsSet("until") && untilWins(os.Args[1:])) {
		spec, err := criteria.Parse(ctx.String("while"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("retry: while must contain comma separated numbers, ranges, 'success/true' or 'fail/false': %s", err), retrier.FailureExitCode)
		}
		cfg.While = spec
	} else {
		spec, err := criteria.Parse(ctx.String("until"))
		if err != nil {
			return cli.Exit(fmt.Sprintf("retry: until must contain comma separated numbers, ranges, 'success/true' or 'fail/false': %s", err), retrier.FailureExitCode)
		}
		cfg.Until = spec
	}

	if ctx.Bool("verbose") {
		logger, err := zap.NewDevelopment()
		if err != nil {
			return cli.Exit(fmt.Sprintf("retry: building logger: %s", err), retrier.FailureExitCode)
		}
		defer logger.Sync()
		cfg.Log = logger.Sugar()
	}

	r, err := retrier.New(cfg)
	if err != nil {
		return cli.Exit(fmt.Sprintf("retry: %s", err), retrier.FailureExitCode)
	}

	args := ctx.Args().Slice()
	code := r.Run(args[0], args[1:]...)
	if code == 0 {
		return nil
	}
	return cli.Exit("", code)
}

// untilWins reports whether --until appears after --while on the command
// line. Scanning stops at "--" so the child command's own flags are not
// consulted.
func untilWins(args []string) bool {
	wins := false
	for _, a := range args {
		switch {
		case a == "--":
			return wins
		case a == "-u" || a == "--until" || strings.HasPrefix(a, "--until="):
			wins = true
		case a == "-w" || a == "--while" || strings.HasPrefix(a, "--while="):
			wins = false
		}
	}
	return wins
}
