// Package datasource defines the CloudTrail query backend contract and
// selects a backend from the configuration.
package datasource

import (
	"context"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/byteness/cloudtracker/config"
	"github.com/byteness/cloudtracker/datasource/athena"
	"github.com/byteness/cloudtracker/datasource/opensearch"
	trackererrors "github.com/byteness/cloudtracker/errors"
)

// DataSource answers activity questions from CloudTrail logs. Every
// operation is scoped to the date window the backend was built with, counts
// only successful calls, and returns action names normalised to the
// "service:event" form.
type DataSource interface {
	// PerformedUsers returns the IAM user names seen as actors.
	PerformedUsers(ctx context.Context) (map[string]bool, error)
	// PerformedRoles returns the role names that issued sessions.
	PerformedRoles(ctx context.Context) (map[string]bool, error)
	// EventNamesByUser returns the actions the user performed directly.
	EventNamesByUser(ctx context.Context, userARN string) (map[string]bool, error)
	// EventNamesByRole returns the actions performed in the role's sessions.
	EventNamesByRole(ctx context.Context, roleARN string) (map[string]bool, error)
	// EventNamesByUserInRole returns the actions the user performed after
	// assuming the destination role.
	EventNamesByUserInRole(ctx context.Context, userARN, destRoleARN string) (map[string]bool, error)
	// EventNamesByRoleInRole returns the actions performed under the
	// destination role in sessions assumed from the source role.
	EventNamesByRoleInRole(ctx context.Context, srcRoleARN, destRoleARN string) (map[string]bool, error)
}

// Options carries the query window shared by both backends and the setup
// knobs that only Athena uses.
type Options struct {
	// Start and End bound the date window, inclusive.
	Start time.Time
	End   time.Time
	// SkipSetup skips Athena database, table, and partition creation.
	SkipSetup bool
	// PollBudget caps how long an Athena query may run. Zero means the
	// backend default.
	PollBudget time.Duration
}

// FromConfig builds the backend the configuration asks for: the
// document-search backend when an elasticsearch section is present,
// otherwise Athena. AWS credentials are only loaded on the Athena path.
func FromConfig(ctx context.Context, cfg *config.Config, account config.Account, opts Options) (DataSource, error) {
	if cfg.Elasticsearch != nil {
		return opensearch.New(ctx, cfg.Elasticsearch, opensearch.Options{
			Start: opts.Start,
			End:   opts.End,
		})
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, trackererrors.New(
			trackererrors.ErrCodeBackendSetupFailed,
			"cannot load AWS configuration: "+err.Error(),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendSetupFailed),
			err,
		)
	}
	return athena.New(ctx, awsCfg, cfg.Athena, account, athena.Options{
		Start:      opts.Start,
		End:        opts.End,
		SkipSetup:  opts.SkipSetup,
		PollBudget: opts.PollBudget,
	})
}
