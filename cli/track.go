package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/alecthomas/kingpin/v2"

	"github.com/byteness/cloudtracker/catalog"
	"github.com/byteness/cloudtracker/config"
	"github.com/byteness/cloudtracker/datasource"
	"github.com/byteness/cloudtracker/iam"
	"github.com/byteness/cloudtracker/report"
)

const dateFormat = "2006-01-02"

// TrackCommandInput contains the input for the track run.
type TrackCommandInput struct {
	List        string
	User        string
	Role        string
	Account     string
	DestRole    string
	DestAccount string
	Start       time.Time
	End         time.Time

	ShowUsed      bool
	IgnoreBenign  bool
	IgnoreUnknown bool
	JSONOutput    bool
	NoColor       bool
	SkipSetup     bool
	Quiet         bool

	ConfigPath string
	IAMPath    string

	// DataSource is an optional backend implementation for testing.
	// If nil, the backend is selected from the config file.
	DataSource datasource.DataSource

	// Stdout is an optional writer for output (for testing).
	// If nil, os.Stdout will be used.
	Stdout io.Writer

	// Stderr is an optional writer for errors (for testing).
	// If nil, os.Stderr will be used.
	Stderr io.Writer
}

// ConfigureTrackCommand registers the application-level flags and the action
// that runs the audit.
func ConfigureTrackCommand(app *kingpin.Application, ct *CloudTracker) {
	input := TrackCommandInput{}

	var startStr, endStr string

	app.Flag("list", "List 'users' or 'roles' that have been active").
		EnumVar(&input.List, "users", "roles")

	app.Flag("user", "User to investigate").
		StringVar(&input.User)

	app.Flag("role", "Role to investigate").
		StringVar(&input.Role)

	app.Flag("account", "Account name or 12-digit account ID from the config file").
		Required().
		StringVar(&input.Account)

	app.Flag("destrole", "Role assumed into").
		StringVar(&input.DestRole)

	app.Flag("destaccount", "Account assumed into (if different)").
		StringVar(&input.DestAccount)

	app.Flag("start", "Start of date range (ex. 2018-01-21). Defaults to one year ago.").
		Default(time.Now().AddDate(0, 0, -365).Format(dateFormat)).
		StringVar(&startStr)

	app.Flag("end", "End of date range (ex. 2018-01-21). Defaults to today.").
		Default(time.Now().Format(dateFormat)).
		StringVar(&endStr)

	app.Flag("show-used", "Only show privileges that were used").
		BoolVar(&input.ShowUsed)

	app.Flag("ignore-benign", "Don't show actions that aren't likely to be sensitive, such as ones that won't exfil data or modify resources").
		BoolVar(&input.IgnoreBenign)

	app.Flag("ignore-unknown", "Don't show granted privileges that aren't recorded in CloudTrail, as we don't know if they are used").
		BoolVar(&input.IgnoreUnknown)

	app.Flag("json", "Output the diff as a single line of JSON").
		BoolVar(&input.JSONOutput)

	app.Flag("no-color", "Don't use color codes in output").
		BoolVar(&input.NoColor)

	app.Flag("skip-setup", "For Athena, don't create or test for the tables").
		BoolVar(&input.SkipSetup)

	app.Flag("quiet", "Only display the output").
		BoolVar(&input.Quiet)

	app.Flag("config", "Config file name").
		Default("config.yaml").
		StringVar(&input.ConfigPath)

	app.Flag("iam", "IAM snapshot from running 'aws iam get-account-authorization-details', overriding the account's configured path").
		StringVar(&input.IAMPath)

	app.Validate(func(app *kingpin.Application) error {
		return oneCommandRequired(input.List, input.User, input.Role)
	})

	app.Action(func(c *kingpin.ParseContext) error {
		var err error
		input.Start, err = time.Parse(dateFormat, startStr)
		if err != nil {
			return fmt.Errorf("invalid --start date %q, expected YYYY-MM-DD", startStr)
		}
		input.End, err = time.Parse(dateFormat, endStr)
		if err != nil {
			return fmt.Errorf("invalid --end date %q, expected YYYY-MM-DD", endStr)
		}

		err = TrackCommand(context.Background(), input)
		app.FatalIfError(err, "cloudtracker")
		return nil
	})
}

// oneCommandRequired enforces the one-of rule for --list, --user, and --role.
func oneCommandRequired(list, user, role string) error {
	given := 0
	for _, flag := range []string{list, user, role} {
		if flag != "" {
			given++
		}
	}
	if given != 1 {
		return fmt.Errorf("exactly one of --list, --user, or --role is required")
	}
	return nil
}

// TrackCommand runs the audit: it resolves the account, builds the CloudTrail
// backend, loads the IAM snapshot, and prints the requested diff.
func TrackCommand(ctx context.Context, input TrackCommandInput) error {
	stdout := input.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}
	stderr := input.Stderr
	if stderr == nil {
		stderr = os.Stderr
	}

	useColor := !input.NoColor && isATerminal()

	cfg, err := config.Load(input.ConfigPath)
	if err != nil {
		FormatErrorWithSuggestionTo(stderr, err)
		return err
	}

	account, err := cfg.AccountByNameOrID(input.Account)
	if err != nil {
		FormatErrorWithSuggestionTo(stderr, err)
		return err
	}

	ds := input.DataSource
	if ds == nil {
		ds, err = datasource.FromConfig(ctx, cfg, account, datasource.Options{
			Start:     input.Start,
			End:       input.End,
			SkipSetup: input.SkipSetup,
		})
		if err != nil {
			FormatErrorWithSuggestionTo(stderr, err)
			return err
		}
	}

	cat, err := catalog.Load()
	if err != nil {
		FormatErrorWithSuggestionTo(stderr, err)
		return err
	}

	iamPath := account.IAM
	if input.IAMPath != "" {
		iamPath = input.IAMPath
	}
	snap, err := iam.LoadSnapshot(iamPath)
	if err != nil {
		FormatErrorWithSuggestionTo(stderr, err)
		return err
	}

	if input.List != "" {
		return listActors(ctx, ds, snap, input.List, stdout, stderr, useColor)
	}
	return investigate(ctx, input, ds, cat, cfg, snap, stdout, stderr, useColor)
}

// listActors prints the two-way diff between principals that appear in the
// logs and principals that exist in the snapshot.
func listActors(ctx context.Context, ds datasource.DataSource, snap *iam.Snapshot, actorType string, stdout, stderr io.Writer, useColor bool) error {
	var performed map[string]bool
	var allowed []string
	var err error

	switch actorType {
	case "users":
		allowed = snap.UserNames()
		performed, err = ds.PerformedUsers(ctx)
	case "roles":
		allowed = snap.RoleNames()
		performed, err = ds.PerformedRoles(ctx)
	}
	if err != nil {
		FormatErrorWithSuggestionTo(stderr, err)
		return err
	}

	return report.PrintActorDiff(stdout, performed, allowed, useColor)
}

// investigate prints the four-way action diff for one user or role,
// optionally scoped to the sessions it opened in a destination role.
func investigate(ctx context.Context, input TrackCommandInput, ds datasource.DataSource, cat *catalog.Catalog, cfg *config.Config, snap *iam.Snapshot, stdout, stderr io.Writer, useColor bool) error {
	destSnap := snap
	if input.DestAccount != "" {
		destAccount, err := cfg.AccountByNameOrID(input.DestAccount)
		if err != nil {
			FormatErrorWithSuggestionTo(stderr, err)
			return err
		}
		destSnap, err = iam.LoadSnapshot(destAccount.IAM)
		if err != nil {
			FormatErrorWithSuggestionTo(stderr, err)
			return err
		}
	}

	var performed, allowed map[string]bool

	if input.User != "" {
		user, err := snap.User(input.User)
		if err != nil {
			FormatErrorWithSuggestionTo(stderr, err)
			return err
		}
		if !input.Quiet {
			fmt.Fprintf(stdout, "Getting info on %s, user created %s\n", user.UserName, user.CreateDate)
		}

		if input.DestRole != "" {
			destRole, err := destSnap.Role(input.DestRole)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
			if !input.Quiet {
				fmt.Fprintf(stdout, "Getting info for AssumeRole into %s\n", destRole.RoleName)
			}

			allowed, err = destSnap.RoleAllowedActions(cat, destRole)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
			performed, err = ds.EventNamesByUserInRole(ctx, user.Arn, destRole.Arn)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
		} else {
			allowed, err = snap.UserAllowedActions(cat, user)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
			performed, err = ds.EventNamesByUser(ctx, user.Arn)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
		}
	} else {
		role, err := snap.Role(input.Role)
		if err != nil {
			FormatErrorWithSuggestionTo(stderr, err)
			return err
		}
		if !input.Quiet {
			fmt.Fprintf(stdout, "Getting info for role %s\n", role.RoleName)
		}

		if input.DestRole != "" {
			destRole, err := destSnap.Role(input.DestRole)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
			if !input.Quiet {
				fmt.Fprintf(stdout, "Getting info for AssumeRole into %s\n", destRole.RoleName)
			}

			allowed, err = destSnap.RoleAllowedActions(cat, destRole)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
			performed, err = ds.EventNamesByRoleInRole(ctx, role.Arn, destRole.Arn)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
		} else {
			allowed, err = snap.RoleAllowedActions(cat, role)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
			performed, err = ds.EventNamesByRole(ctx, role.Arn)
			if err != nil {
				FormatErrorWithSuggestionTo(stderr, err)
				return err
			}
		}
	}

	filter := report.Filter{
		ShowUsed:    input.ShowUsed,
		ShowBenign:  !input.IgnoreBenign,
		ShowUnknown: !input.IgnoreUnknown,
		ShowJSON:    input.JSONOutput,
	}
	return report.PrintDiff(stdout, performed, allowed, cat, filter, useColor)
}
