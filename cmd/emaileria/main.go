// Command emaileria sends personalised HTML email to every contact of a
// spreadsheet.
package main

import (
	"context"
	"io"
	"os"
	"os/signal"
	"reflect"
	"syscall"

	"github.com/rs/zerolog"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	a := &app{stdout: stdout, stderr: stderr}
	root := a.rootCommand()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	err := root.ExecuteContext(ctx)
	code := exitCode(err)
	if err != nil && code != exitCancelled {
		log := a.log
		if reflect.ValueOf(log).IsZero() {
			log = zerolog.New(zerolog.ConsoleWriter{Out: stderr, NoColor: true})
		}
		log.Error().Err(err).Int("exit_code", code).Msg("emaileria failed")
	}
	return code
}
