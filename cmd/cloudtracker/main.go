package main

import (
	"os"

	"github.com/alecthomas/kingpin/v2"
	"github.com/byteness/cloudtracker/cli"
)

// Version is provided at compile time
var Version = "dev"

func main() {
	app := kingpin.New("cloudtracker", "Finds over-privileged IAM users and roles by comparing CloudTrail activity with the actions their policies grant")
	app.Version(Version)

	ct := cli.ConfigureGlobals(app)
	cli.ConfigureTrackCommand(app, ct)

	kingpin.MustParse(app.Parse(os.Args[1:]))
}
