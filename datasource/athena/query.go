package athena

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/athena"
	"github.com/aws/aws-sdk-go-v2/service/athena/types"
	"golang.org/x/time/rate"

	trackererrors "github.com/byteness/cloudtracker/errors"
)

// defaultPollInterval is the floor between consecutive query state polls.
const defaultPollInterval = time.Second

// runQuery executes one query to completion and returns its rows. The first
// row is the column header and is dropped unless skipHeader is false.
// Statements that create the database itself run with inDatabase false.
func (b *Backend) runQuery(ctx context.Context, query string, inDatabase, skipHeader bool) ([][]string, error) {
	log.Printf("running query: %s", query)

	id, err := b.startQuery(ctx, query, inDatabase)
	if err != nil {
		return nil, err
	}
	if err := b.waitForQuery(ctx, id); err != nil {
		return nil, err
	}
	return b.queryResults(ctx, id, skipHeader)
}

func (b *Backend) startQuery(ctx context.Context, query string, inDatabase bool) (string, error) {
	input := &athena.StartQueryExecutionInput{
		QueryString: aws.String(query),
		ResultConfiguration: &types.ResultConfiguration{
			OutputLocation: aws.String(b.outputLocation),
		},
		WorkGroup: aws.String(b.workgroup),
	}
	if inDatabase {
		input.QueryExecutionContext = &types.QueryExecutionContext{
			Database: aws.String(databaseName),
		}
	}

	out, err := b.athena.StartQueryExecution(ctx, input)
	if err != nil {
		return "", trackererrors.WrapAthenaError(err, "StartQueryExecution")
	}
	return aws.ToString(out.QueryExecutionId), nil
}

// waitForQuery polls the query state once per second until it succeeds. The
// poll budget bounds the wall-clock wait.
func (b *Backend) waitForQuery(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, b.pollBudget)
	defer cancel()

	limiter := b.newPollLimiter()
	for {
		if err := limiter.Wait(ctx); err != nil {
			return b.pollExpired(ctx, "query "+id, err)
		}

		out, err := b.athena.GetQueryExecution(ctx, &athena.GetQueryExecutionInput{
			QueryExecutionId: aws.String(id),
		})
		if err != nil {
			return trackererrors.WrapAthenaError(err, "GetQueryExecution")
		}

		status := out.QueryExecution.Status
		switch status.State {
		case types.QueryExecutionStateSucceeded:
			return nil
		case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
			return queryFailed(status.State, aws.ToString(status.StateChangeReason))
		}
		log.Printf("waiting on query %s (%s)", id, status.State)
	}
}

// waitForQueryBatch polls a set of queries until all succeed, retiring IDs
// as they complete. Any failure or cancellation aborts the batch.
func (b *Backend) waitForQueryBatch(ctx context.Context, ids []string) error {
	ctx, cancel := context.WithTimeout(ctx, b.pollBudget)
	defer cancel()

	remaining := make([]string, len(ids))
	copy(remaining, ids)

	limiter := b.newPollLimiter()
	for len(remaining) > 0 {
		if err := limiter.Wait(ctx); err != nil {
			return b.pollExpired(ctx, fmt.Sprintf("%d queries", len(remaining)), err)
		}

		out, err := b.athena.BatchGetQueryExecution(ctx, &athena.BatchGetQueryExecutionInput{
			QueryExecutionIds: remaining,
		})
		if err != nil {
			return trackererrors.WrapAthenaError(err, "BatchGetQueryExecution")
		}

		var pending []string
		for _, execution := range out.QueryExecutions {
			state := execution.Status.State
			switch state {
			case types.QueryExecutionStateSucceeded:
			case types.QueryExecutionStateFailed, types.QueryExecutionStateCancelled:
				return queryFailed(state, aws.ToString(execution.Status.StateChangeReason))
			default:
				pending = append(pending, aws.ToString(execution.QueryExecutionId))
			}
		}
		// IDs the batch call could not look up stay in the pending set.
		for _, unprocessed := range out.UnprocessedQueryExecutionIds {
			pending = append(pending, aws.ToString(unprocessed.QueryExecutionId))
		}

		remaining = pending
		if len(remaining) > 0 {
			log.Printf("waiting on %d queries", len(remaining))
		}
	}
	return nil
}

// queryResults paginates the full result set of a completed query.
func (b *Backend) queryResults(ctx context.Context, id string, skipHeader bool) ([][]string, error) {
	var rows [][]string
	var nextToken *string
	for {
		out, err := b.athena.GetQueryResults(ctx, &athena.GetQueryResultsInput{
			QueryExecutionId: aws.String(id),
			NextToken:        nextToken,
		})
		if err != nil {
			return nil, trackererrors.WrapAthenaError(err, "GetQueryResults")
		}
		if out.ResultSet != nil {
			for _, row := range out.ResultSet.Rows {
				values := make([]string, 0, len(row.Data))
				for _, column := range row.Data {
					values = append(values, aws.ToString(column.VarCharValue))
				}
				rows = append(rows, values)
			}
		}
		if out.NextToken == nil {
			return finishRows(rows, skipHeader), nil
		}
		nextToken = out.NextToken
	}
}

func finishRows(rows [][]string, skipHeader bool) [][]string {
	if skipHeader && len(rows) > 0 {
		return rows[1:]
	}
	return rows
}

// newPollLimiter paces state polls. The burst of one lets the first poll go
// out immediately.
func (b *Backend) newPollLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Every(b.pollInterval), 1)
}

// pollExpired translates a limiter wait failure into a timeout error. The
// limiter also fails when the next poll could not finish before the
// deadline, so the context error alone is not authoritative; only caller
// cancellation passes through untouched.
func (b *Backend) pollExpired(ctx context.Context, what string, err error) error {
	if ctx.Err() == context.Canceled {
		return err
	}
	return trackererrors.New(
		trackererrors.ErrCodeBackendTimeout,
		fmt.Sprintf("%s did not complete within %s", what, b.pollBudget),
		trackererrors.GetSuggestion(trackererrors.ErrCodeBackendTimeout),
		err,
	)
}

func queryFailed(state types.QueryExecutionState, reason string) error {
	return trackererrors.New(
		trackererrors.ErrCodeBackendQueryFailed,
		fmt.Sprintf("query entered state %s with reason %s", state, reason),
		trackererrors.GetSuggestion(trackererrors.ErrCodeBackendQueryFailed),
		nil,
	)
}
