// Package athena answers CloudTrail activity queries with Amazon Athena.
//
// On startup the backend prepares a cloudtracker database whose table is
// partitioned by (region, year, month) and registers any partitions missing
// for the past year. Every activity query is scoped by a date filter
// compiled once per run.
package athena

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/cloudtrail"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	"github.com/byteness/cloudtracker/catalog"
	"github.com/byteness/cloudtracker/config"
	trackererrors "github.com/byteness/cloudtracker/errors"
)

// athenaAPI defines the Athena operations used by Backend.
// This interface enables testing with mock implementations.
type athenaAPI interface {
	StartQueryExecution(ctx context.Context, params *athena.StartQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.StartQueryExecutionOutput, error)
	GetQueryExecution(ctx context.Context, params *athena.GetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.GetQueryExecutionOutput, error)
	BatchGetQueryExecution(ctx context.Context, params *athena.BatchGetQueryExecutionInput, optFns ...func(*athena.Options)) (*athena.BatchGetQueryExecutionOutput, error)
	GetQueryResults(ctx context.Context, params *athena.GetQueryResultsInput, optFns ...func(*athena.Options)) (*athena.GetQueryResultsOutput, error)
}

// s3API defines the S3 operations used by Backend.
type s3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// stsAPI defines the STS operations used by Backend.
type stsAPI interface {
	GetCallerIdentity(ctx context.Context, params *sts.GetCallerIdentityInput, optFns ...func(*sts.Options)) (*sts.GetCallerIdentityOutput, error)
}

// ec2API defines the EC2 operations used by Backend.
type ec2API interface {
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
}

// cloudtrailAPI defines the CloudTrail operations used by Backend.
type cloudtrailAPI interface {
	DescribeTrails(ctx context.Context, params *cloudtrail.DescribeTrailsInput, optFns ...func(*cloudtrail.Options)) (*cloudtrail.DescribeTrailsOutput, error)
}

const defaultPollBudget = 30 * time.Minute

// Options controls the backend's query window and setup behaviour.
type Options struct {
	// Start and End bound the date window, inclusive.
	Start time.Time
	End   time.Time
	// SkipSetup skips database, table, and partition creation.
	SkipSetup bool
	// PollBudget caps how long a query may run before it is abandoned.
	// Zero means the default of 30 minutes.
	PollBudget time.Duration
}

// Backend queries CloudTrail logs through Athena.
type Backend struct {
	athena athenaAPI
	s3     s3API
	sts    stsAPI
	ec2    ec2API
	trails cloudtrailAPI

	region         string
	table          string
	searchFilter   string
	outputLocation string
	workgroup      string
	logPath        string
	pollBudget     time.Duration
	pollInterval   time.Duration
}

// New builds a Backend from the AWS configuration, prepares the
// cloudtracker database and table, and registers any missing partitions for
// the past year. Setup is idempotent and skipped entirely when
// opts.SkipSetup is set.
func New(ctx context.Context, awsCfg aws.Config, cfg *config.AthenaConfig, account config.Account, opts Options) (*Backend, error) {
	if cfg == nil {
		cfg = &config.AthenaConfig{}
	}
	// Partitions only cover the past year, so older windows would silently
	// return partial results.
	if days := int(time.Since(opts.Start).Hours() / 24); days > 365 {
		return nil, trackererrors.New(
			trackererrors.ErrCodeBackendStaleDateRange,
			fmt.Sprintf("start date %s is over a year old", opts.Start.Format("2006-01-02")),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendStaleDateRange),
			nil,
		)
	}
	if opts.PollBudget <= 0 {
		opts.PollBudget = defaultPollBudget
	}

	b := &Backend{
		athena:       athena.NewFromConfig(awsCfg),
		s3:           s3.NewFromConfig(awsCfg),
		sts:          sts.NewFromConfig(awsCfg),
		ec2:          ec2.NewFromConfig(awsCfg),
		trails:       cloudtrail.NewFromConfig(awsCfg),
		region:       awsCfg.Region,
		table:        "cloudtrail_logs_" + string(account.ID),
		searchFilter: buildSearchFilter(opts.Start, opts.End),
		pollBudget:   opts.PollBudget,
		pollInterval: defaultPollInterval,
	}
	if err := b.prepare(ctx, cfg, account, opts.SkipSetup); err != nil {
		return nil, err
	}
	return b, nil
}

// prepare resolves the caller identity, the output location, and the log
// path, then runs table setup unless skipped.
func (b *Backend) prepare(ctx context.Context, cfg *config.AthenaConfig, account config.Account, skipSetup bool) error {
	ident, err := b.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return trackererrors.New(
			trackererrors.ErrCodeBackendSetupFailed,
			fmt.Sprintf("cannot resolve the caller identity: %v", err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendSetupFailed),
			err,
		)
	}
	log.Printf("using AWS identity %s", aws.ToString(ident.Arn))

	b.outputLocation = cfg.OutputS3Bucket
	if b.outputLocation == "" {
		b.outputLocation = fmt.Sprintf("s3://aws-athena-query-results-%s-%s", aws.ToString(ident.Account), b.region)
	}
	log.Printf("using output bucket %s", b.outputLocation)

	b.workgroup = cfg.Workgroup
	if b.workgroup == "" {
		b.workgroup = defaultWorkgroup
	}
	log.Printf("using workgroup %s", b.workgroup)

	bucket, path := cfg.S3Bucket, cfg.Path
	if bucket == "" {
		bucket, path, err = b.discoverLogBucket(ctx)
		if err != nil {
			return err
		}
		log.Printf("discovered CloudTrail log bucket s3://%s/%s", bucket, path)
	}
	b.logPath = cloudtrailLogPath(bucket, path, cfg.OrgID, string(account.ID))
	log.Printf("account CloudTrail log path: %s", b.logPath)

	if skipSetup {
		log.Printf("skipping table creation")
		return nil
	}
	return b.setup(ctx, bucket, path)
}

// discoverLogBucket finds the trail delivering this account's logs when the
// config does not name a bucket.
func (b *Backend) discoverLogBucket(ctx context.Context) (bucket, path string, err error) {
	out, err := b.trails.DescribeTrails(ctx, &cloudtrail.DescribeTrailsInput{})
	if err != nil {
		return "", "", trackererrors.New(
			trackererrors.ErrCodeBackendSetupFailed,
			fmt.Sprintf("cannot discover the CloudTrail log bucket: %v", err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendSetupFailed),
			err,
		)
	}
	for _, trail := range out.TrailList {
		if aws.ToString(trail.S3BucketName) == "" {
			continue
		}
		return aws.ToString(trail.S3BucketName), aws.ToString(trail.S3KeyPrefix), nil
	}
	return "", "", trackererrors.New(
		trackererrors.ErrCodeBackendSetupFailed,
		"no trail with an S3 bucket found; set athena.s3_bucket in the config",
		trackererrors.GetSuggestion(trackererrors.ErrCodeBackendSetupFailed),
		nil,
	)
}

// regionNames lists the region partition values to register. Listing must
// not block a run, so failures fall back to a static list.
func (b *Backend) regionNames(ctx context.Context) []string {
	out, err := b.ec2.DescribeRegions(ctx, &ec2.DescribeRegionsInput{AllRegions: aws.Bool(true)})
	if err != nil {
		log.Printf("WARNING: cannot list regions, using the static region list: %v", err)
		return fallbackRegions
	}
	names := make([]string, 0, len(out.Regions))
	for _, region := range out.Regions {
		if region.RegionName != nil {
			names = append(names, *region.RegionName)
		}
	}
	if len(names) == 0 {
		log.Printf("WARNING: region listing came back empty, using the static region list")
		return fallbackRegions
	}
	sort.Strings(names)
	return names
}

// fallbackRegions is the commercial-partition region list, used when
// DescribeRegions is not permitted for the caller.
var fallbackRegions = []string{
	"af-south-1",
	"ap-east-1",
	"ap-northeast-1",
	"ap-northeast-2",
	"ap-northeast-3",
	"ap-south-1",
	"ap-south-2",
	"ap-southeast-1",
	"ap-southeast-2",
	"ap-southeast-3",
	"ap-southeast-4",
	"ca-central-1",
	"ca-west-1",
	"eu-central-1",
	"eu-central-2",
	"eu-north-1",
	"eu-south-1",
	"eu-south-2",
	"eu-west-1",
	"eu-west-2",
	"eu-west-3",
	"il-central-1",
	"me-central-1",
	"me-south-1",
	"sa-east-1",
	"us-east-1",
	"us-east-2",
	"us-west-1",
	"us-west-2",
}

const (
	performedUsersQuery = "select distinct userIdentity.userName from %s where %s"
	performedRolesQuery = "select distinct userIdentity.sessionContext.sessionIssuer.userName from %s where %s"
	eventNamesQuery     = "select distinct (eventsource, eventname) from %s where (%s = '%s') and %s"

	assumedRoleQuery = `select distinct (eventsource, eventname) from %[1]s
where userIdentity.accessKeyId in (
    select json_extract_scalar(responseelements, '$.credentials.accessKeyId')
    from %[1]s
    where eventname = 'AssumeRole'
      and (%[2]s = '%[3]s')
      and json_extract_scalar(requestparameters, '$.roleArn') = '%[4]s'
      and %[5]s)
  and (userIdentity.sessionContext.sessionIssuer.arn = '%[4]s')
  and %[5]s`
)

// PerformedUsers returns the names of IAM users that appear as actors in the
// logs within the date window.
func (b *Backend) PerformedUsers(ctx context.Context) (map[string]bool, error) {
	query := fmt.Sprintf(performedUsersQuery, b.table, b.searchFilter)
	rows, err := b.runQuery(ctx, query, true, true)
	if err != nil {
		return nil, err
	}
	users := make(map[string]bool)
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		// Logging in with a wrong username surfaces as this sentinel.
		if row[0] == "HIDDEN_DUE_TO_SECURITY_REASONS" {
			continue
		}
		users[row[0]] = true
	}
	return users, nil
}

// PerformedRoles returns the names of roles that issued sessions seen in the
// logs within the date window.
func (b *Backend) PerformedRoles(ctx context.Context) (map[string]bool, error) {
	query := fmt.Sprintf(performedRolesQuery, b.table, b.searchFilter)
	rows, err := b.runQuery(ctx, query, true, true)
	if err != nil {
		return nil, err
	}
	roles := make(map[string]bool)
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		roles[row[0]] = true
	}
	return roles, nil
}

// EventNamesByUser returns the normalised actions the user performed
// directly.
func (b *Backend) EventNamesByUser(ctx context.Context, userARN string) (map[string]bool, error) {
	return b.eventNames(ctx, "userIdentity.arn", userARN)
}

// EventNamesByRole returns the normalised actions performed in sessions
// issued by the role.
func (b *Backend) EventNamesByRole(ctx context.Context, roleARN string) (map[string]bool, error) {
	return b.eventNames(ctx, "userIdentity.sessionContext.sessionIssuer.arn", roleARN)
}

// EventNamesByUserInRole returns the normalised actions performed in
// sessions the user obtained by assuming destRoleARN.
func (b *Backend) EventNamesByUserInRole(ctx context.Context, userARN, destRoleARN string) (map[string]bool, error) {
	return b.eventNamesByAssumedRole(ctx, "userIdentity.arn", userARN, destRoleARN)
}

// EventNamesByRoleInRole returns the normalised actions performed in
// sessions obtained by assuming destRoleARN from srcRoleARN.
func (b *Backend) EventNamesByRoleInRole(ctx context.Context, srcRoleARN, destRoleARN string) (map[string]bool, error) {
	return b.eventNamesByAssumedRole(ctx, "userIdentity.sessionContext.sessionIssuer.arn", srcRoleARN, destRoleARN)
}

func (b *Backend) eventNames(ctx context.Context, column, arn string) (map[string]bool, error) {
	query := fmt.Sprintf(eventNamesQuery, b.table, column, arn, b.searchFilter)
	rows, err := b.runQuery(ctx, query, true, true)
	if err != nil {
		return nil, err
	}
	return eventsFromRows(rows), nil
}

// eventNamesByAssumedRole correlates sessions through the access key that an
// AssumeRole call hands out: the inner select finds the session keys minted
// for the source principal assuming the destination role, the outer select
// gathers the events those keys performed under the destination role.
//
// TODO: correlate on sharedEventID as well; cross-account assumptions do not
// carry the access key in the local trail.
func (b *Backend) eventNamesByAssumedRole(ctx context.Context, sourceColumn, sourceARN, destRoleARN string) (map[string]bool, error) {
	query := fmt.Sprintf(assumedRoleQuery, b.table, sourceColumn, sourceARN, destRoleARN, b.searchFilter)
	rows, err := b.runQuery(ctx, query, true, true)
	if err != nil {
		return nil, err
	}
	return eventsFromRows(rows), nil
}

// eventsFromRows turns rows of struct-rendered (eventsource, eventname)
// pairs, such as "{field0=s3.amazonaws.com, field1=GetBucketAcl}", into
// normalised action names.
func eventsFromRows(rows [][]string) map[string]bool {
	events := make(map[string]bool)
	for _, row := range rows {
		if len(row) == 0 {
			continue
		}
		pair := row[0]
		if len(pair) < 2 || pair[0] != '{' || pair[len(pair)-1] != '}' {
			log.Printf("WARNING: cannot parse event row %q", pair)
			continue
		}
		fields := strings.Split(pair[1:len(pair)-1], ", ")
		if len(fields) < 2 {
			log.Printf("WARNING: cannot parse event row %q", pair)
			continue
		}
		source := fieldValue(fields[0])
		service, _, _ := strings.Cut(source, ".")
		events[catalog.Normalize(service, fieldValue(fields[1]))] = true
	}
	return events
}

// fieldValue extracts the value from a "name=value" rendering.
func fieldValue(field string) string {
	_, value, _ := strings.Cut(field, "=")
	return value
}
