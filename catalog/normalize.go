package catalog

import "strings"

// serviceRenames translates CloudTrail event sources whose prefix differs
// from the IAM service prefix. Pulled from the CloudTrail user guide; some of
// the names documented there are reversed.
var serviceRenames = map[string]string{
	"monitoring": "cloudwatch",
	"email":      "ses",
}

// eventRenames maps IAM action names to CloudTrail event names (the old SOAP
// API names). S3 is the only service where the two disagree.
var eventRenames = map[string]string{
	"s3:listallmybuckets":             "s3:listbuckets",
	"s3:getbucketaccesscontrolpolicy": "s3:getbucketacl",
	"s3:setbucketaccesscontrolpolicy": "s3:putbucketacl",
	"s3:getbucketloggingstatus":       "s3:getbucketlogging",
	"s3:setbucketloggingstatus":       "s3:putbucketlogging",
}

// noIAM lists actions seen in CloudTrail logs for which no IAM policy
// exists. They are allowed by default.
var noIAM = map[string]bool{
	"sts:getcalleridentity": true,
	"sts:getsessiontoken":   true,
	"signin:consolelogin":   true,
	"signin:checkmfa":       true,
	"signin:exitrole":       true,
	"signin:renewrole":      true,
	"signin:switchrole":     true,
}

// Normalize translates a service and event name pair to the canonical
// "service:event" form: both parts lowercased, date suffixes such as
// CreateDistribution2017_10_30 removed, and renamed event sources mapped
// back to their IAM prefix.
func Normalize(service, eventName string) string {
	service = strings.ToLower(service)
	eventName = strings.ToLower(eventName)

	// Event names are versioned by appending the API date, so everything
	// from the first "20" on is the version.
	if i := strings.Index(eventName, "20"); i >= 0 {
		eventName = eventName[:i]
	}

	if renamed, ok := serviceRenames[service]; ok {
		service = renamed
	}

	return service + ":" + eventName
}

// CloudTrailToIAM translates a normalized CloudTrail event name to the
// matching IAM action name. Actions without a rename pass through unchanged.
func CloudTrailToIAM(action string) string {
	for iamName, cloudtrailName := range eventRenames {
		if action == cloudtrailName {
			return iamName
		}
	}
	return action
}

// IAMToCloudTrail translates a normalized IAM action name to the CloudTrail
// event name it will be logged as.
func IAMToCloudTrail(action string) string {
	if cloudtrailName, ok := eventRenames[action]; ok {
		return cloudtrailName
	}
	return action
}

// IsNoIAM reports whether the action appears in CloudTrail logs without any
// IAM policy granting it.
func IsNoIAM(action string) bool {
	return noIAM[action]
}
