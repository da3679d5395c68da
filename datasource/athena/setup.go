package athena

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	trackererrors "github.com/byteness/cloudtracker/errors"
)

const (
	databaseName     = "cloudtracker"
	defaultWorkgroup = "primary"

	// partitionMonths is how far back partitions are registered. It also
	// bounds how old a start date may be.
	partitionMonths = 12
)

// setup checks that logs exist under the configured prefix, then creates the
// database, the table, and any missing partitions. Every statement is
// IF NOT EXISTS, so reruns are cheap.
func (b *Backend) setup(ctx context.Context, bucket, path string) error {
	out, err := b.s3.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
		Bucket:  aws.String(bucket),
		Prefix:  aws.String(path),
		MaxKeys: aws.Int32(1),
	})
	if err != nil {
		return trackererrors.WrapS3Error(err, bucket)
	}
	if len(out.Contents) == 0 {
		return trackererrors.New(
			trackererrors.ErrCodeBackendEmptyLogs,
			fmt.Sprintf("no CloudTrail logs found under s3://%s/%s", bucket, path),
			trackererrors.GetSuggestion(trackererrors.ErrCodeBackendEmptyLogs),
			nil,
		)
	}

	query := "CREATE DATABASE IF NOT EXISTS " + databaseName + " COMMENT 'Created by CloudTracker'"
	if _, err := b.runQuery(ctx, query, false, true); err != nil {
		return err
	}
	if _, err := b.runQuery(ctx, createTableQuery(b.table, b.logPath), true, true); err != nil {
		return err
	}
	return b.createPartitions(ctx)
}

// createPartitions registers the partitions missing for the past year. The
// ALTER statements are submitted together and polled as a batch.
func (b *Backend) createPartitions(ctx context.Context) error {
	log.Printf("checking partitions for the past %d months", partitionMonths)

	rows, err := b.runQuery(ctx, "SHOW PARTITIONS "+b.table, true, false)
	if err != nil {
		return err
	}
	existing := make(map[string]bool)
	for _, row := range rows {
		if len(row) > 0 {
			existing[row[0]] = true
		}
	}

	regions := b.regionNames(ctx)
	queries := partitionQueries(b.table, b.logPath, existing, regions, monthsBack(time.Now(), partitionMonths))
	if len(queries) == 0 {
		return nil
	}
	log.Printf("creating %d partition groups", len(queries))

	ids := make([]string, 0, len(queries))
	for _, query := range queries {
		id, err := b.startQuery(ctx, query, true)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	return b.waitForQueryBatch(ctx, ids)
}

// partitionQueries builds one ALTER TABLE ADD statement per month, covering
// every region whose partition is not yet registered. Months with nothing
// missing produce no statement.
func partitionQueries(table, logPath string, existing map[string]bool, regions []string, months []yearMonth) []string {
	var queries []string
	for _, ym := range months {
		var clauses strings.Builder
		for _, region := range regions {
			key := fmt.Sprintf("region=%s/year=%d/month=%02d", region, ym.year, ym.month)
			if existing[key] {
				continue
			}
			fmt.Fprintf(&clauses, "PARTITION (region='%s',year='%d',month='%02d') location '%s/%s/%d/%02d/'\n",
				region, ym.year, ym.month, logPath, region, ym.year, ym.month)
		}
		if clauses.Len() > 0 {
			queries = append(queries, fmt.Sprintf("ALTER TABLE %s ADD ", table)+clauses.String())
		}
	}
	return queries
}

// cloudtrailLogPath renders the S3 location CloudTrail delivers this
// account's logs to. The path and organisation segments are optional.
func cloudtrailLogPath(bucket, path, orgID, accountID string) string {
	parts := []string{"s3:/", bucket}
	if path != "" {
		parts = append(parts, path)
	}
	parts = append(parts, "AWSLogs")
	if orgID != "" {
		parts = append(parts, orgID)
	}
	parts = append(parts, accountID, "CloudTrail")
	return strings.Join(parts, "/")
}

// createTableQuery renders the table DDL. The schema and formats follow the
// CloudTrail SerDe.
func createTableQuery(table, logPath string) string {
	return "CREATE EXTERNAL TABLE IF NOT EXISTS `" + table + "` (\n" +
		"`eventversion` string COMMENT 'from deserializer',\n" +
		"`useridentity` struct<type:string,principalid:string,arn:string,accountid:string,invokedby:string,accesskeyid:string,username:string,sessioncontext:struct<attributes:struct<mfaauthenticated:string,creationdate:string>,sessionissuer:struct<type:string,principalid:string,arn:string,accountid:string,username:string>>> COMMENT 'from deserializer',\n" +
		"`eventtime` string COMMENT 'from deserializer',\n" +
		"`eventsource` string COMMENT 'from deserializer',\n" +
		"`eventname` string COMMENT 'from deserializer',\n" +
		"`awsregion` string COMMENT 'from deserializer',\n" +
		"`sourceipaddress` string COMMENT 'from deserializer',\n" +
		"`useragent` string COMMENT 'from deserializer',\n" +
		"`errorcode` string COMMENT 'from deserializer',\n" +
		"`errormessage` string COMMENT 'from deserializer',\n" +
		"`requestparameters` string COMMENT 'from deserializer',\n" +
		"`responseelements` string COMMENT 'from deserializer',\n" +
		"`additionaleventdata` string COMMENT 'from deserializer',\n" +
		"`requestid` string COMMENT 'from deserializer',\n" +
		"`eventid` string COMMENT 'from deserializer',\n" +
		"`resources` array<struct<arn:string,accountid:string,type:string>> COMMENT 'from deserializer',\n" +
		"`eventtype` string COMMENT 'from deserializer',\n" +
		"`apiversion` string COMMENT 'from deserializer',\n" +
		"`readonly` string COMMENT 'from deserializer',\n" +
		"`recipientaccountid` string COMMENT 'from deserializer',\n" +
		"`serviceeventdetails` string COMMENT 'from deserializer',\n" +
		"`sharedeventid` string COMMENT 'from deserializer',\n" +
		"`vpcendpointid` string COMMENT 'from deserializer')\n" +
		"PARTITIONED BY (region string, year string, month string)\n" +
		"ROW FORMAT SERDE 'com.amazon.emr.hive.serde.CloudTrailSerde'\n" +
		"STORED AS INPUTFORMAT 'com.amazon.emr.cloudtrail.CloudTrailInputFormat'\n" +
		"OUTPUTFORMAT 'org.apache.hadoop.hive.ql.io.HiveIgnoreKeyTextOutputFormat'\n" +
		"LOCATION '" + logPath + "'"
}
