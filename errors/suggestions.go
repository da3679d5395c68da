package errors

import (
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/aws/smithy-go"
)

// Suggestions contains default fix suggestions for each error code.
var Suggestions = map[string]string{
	ErrCodeConfigUnreadable: "Check that the config file exists and is valid YAML. " +
		"A minimal config needs an accounts list and an athena or elasticsearch section.",
	ErrCodeConfigUnknownAccount: "Add the account to the accounts list in your config file, " +
		"or pass its name or 12-digit ID exactly as configured.",
	ErrCodeConfigInvalidAccountID: "Account IDs must be exactly 12 digits. " +
		"Find yours with: aws sts get-caller-identity",
	ErrCodeConfigMissingField: "Each account entry needs name, id, and iam fields.",
	ErrCodeIamUnreadable: "Regenerate the IAM snapshot with: " +
		"aws iam get-account-authorization-details > account-data.json",
	ErrCodeIamUnknownUser: "List the users in the snapshot with --list users, " +
		"or regenerate the snapshot if the user was created recently.",
	ErrCodeIamUnknownRole: "List the roles in the snapshot with --list roles, " +
		"or regenerate the snapshot if the role was created recently.",
	ErrCodeIamMalformedPolicy: "The IAM snapshot contains a policy the parser cannot handle. " +
		"Regenerate the snapshot and check it is unmodified.",
	ErrCodeBackendSetupFailed: "Ensure your credentials can run Athena queries and create " +
		"the cloudtracker database. Pass --skip-setup once the table exists.",
	ErrCodeBackendEmptyLogs: "Ensure CloudTrail logs exist at the configured S3 location " +
		"and that s3_bucket and path in the config match the trail's destination.",
	ErrCodeBackendStaleDateRange: "Partitions are only created for the last 12 months. " +
		"Use a --start date within the last year.",
	ErrCodeBackendQueryFailed: "The query engine rejected the query. The reason from the " +
		"engine is included in the message; check table setup and permissions.",
	ErrCodeBackendTimeout: "The query did not finish within the polling budget. " +
		"Narrow the date range or retry later.",
	ErrCodeUnsupportedFeature: "NotAction statements are not evaluated; the report " +
		"may under-count grants for policies that use them.",
}

// GetSuggestion returns the default suggestion for an error code.
// Returns empty string if no suggestion is defined.
func GetSuggestion(code string) string {
	return Suggestions[code]
}

// WrapAthenaError examines an Athena API error and returns a TrackerError with context.
func WrapAthenaError(err error, operation string) TrackerError {
	if err == nil {
		return nil
	}

	var code string
	var message string
	var suggestion string

	apiCode := awsErrorCode(err)
	errStr := strings.ToLower(err.Error())

	switch {
	case isAccessDenied(errStr):
		code = ErrCodeBackendSetupFailed
		message = fmt.Sprintf("Access denied during Athena %s", operation)
		suggestion = "Ensure your IAM policy includes athena:StartQueryExecution, " +
			"athena:GetQueryExecution, athena:GetQueryResults, and glue catalog access."
	case apiCode == "InvalidRequestException":
		code = ErrCodeBackendQueryFailed
		message = fmt.Sprintf("Athena rejected the %s request: %v", operation, err)
		suggestion = Suggestions[ErrCodeBackendQueryFailed]
	case isThrottled(errStr):
		code = ErrCodeBackendQueryFailed
		message = fmt.Sprintf("Athena throttled the %s request", operation)
		suggestion = "Athena API rate limit exceeded. Wait a moment and retry."
	default:
		code = ErrCodeBackendQueryFailed
		message = fmt.Sprintf("Athena error during %s: %v", operation, err)
		suggestion = Suggestions[ErrCodeBackendQueryFailed]
	}

	te := New(code, message, suggestion, err)
	return WithContext(te, "operation", operation)
}

// WrapS3Error examines an S3 API error from the log-bucket preflight and
// returns a TrackerError with context.
func WrapS3Error(err error, bucket string) TrackerError {
	if err == nil {
		return nil
	}

	var code string
	var message string
	var suggestion string

	apiCode := awsErrorCode(err)
	errStr := strings.ToLower(err.Error())

	switch {
	case apiCode == "NoSuchBucket" || isNotFound(errStr):
		code = ErrCodeBackendEmptyLogs
		message = fmt.Sprintf("S3 bucket not found: %s", bucket)
		suggestion = Suggestions[ErrCodeBackendEmptyLogs]
	case isAccessDenied(errStr):
		code = ErrCodeBackendSetupFailed
		message = fmt.Sprintf("Access denied listing S3 bucket: %s", bucket)
		suggestion = "Ensure your IAM policy includes s3:ListBucket on the CloudTrail log bucket."
	default:
		code = ErrCodeBackendSetupFailed
		message = fmt.Sprintf("S3 error for bucket %s: %v", bucket, err)
		suggestion = Suggestions[ErrCodeBackendSetupFailed]
	}

	te := New(code, message, suggestion, err)
	return WithContext(te, "bucket", bucket)
}

// awsErrorCode extracts the service error code from an AWS SDK error chain.
// Returns empty string for non-AWS errors.
func awsErrorCode(err error) string {
	var apiErr smithy.APIError
	if stderrors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

// isAccessDenied checks if error contains access denied indicators.
func isAccessDenied(errStr string) bool {
	return strings.Contains(errStr, "accessdenied") ||
		strings.Contains(errStr, "access denied") ||
		strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "not authorized") ||
		strings.Contains(errStr, "403")
}

// isThrottled checks if error indicates throttling.
func isThrottled(errStr string) bool {
	return strings.Contains(errStr, "throttl") ||
		strings.Contains(errStr, "rate exceeded") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "slowdown")
}

// isNotFound checks if error indicates a missing resource.
func isNotFound(errStr string) bool {
	return strings.Contains(errStr, "notfound") ||
		strings.Contains(errStr, "not found") ||
		strings.Contains(errStr, "404")
}
