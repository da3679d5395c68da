package cli

import (
	"io"
	"log"
	"os"

	"github.com/alecthomas/kingpin/v2"
	isatty "github.com/mattn/go-isatty"
)

// CloudTracker holds the global CLI state shared by every command.
type CloudTracker struct {
	Debug bool
}

func isATerminal() bool {
	fd := os.Stdout.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

// ConfigureGlobals registers the global flags and silences the debug log
// unless --debug is given.
func ConfigureGlobals(app *kingpin.Application) *CloudTracker {
	ct := &CloudTracker{}

	app.Flag("debug", "Show debugging output").
		BoolVar(&ct.Debug)

	app.PreAction(func(c *kingpin.ParseContext) error {
		if !ct.Debug {
			log.SetOutput(io.Discard)
		}
		log.Printf("cloudtracker %s", app.Model().Version)
		return nil
	})

	return ct
}
