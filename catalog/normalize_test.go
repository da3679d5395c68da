package catalog

import (
	"strings"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name    string
		service string
		event   string
		want    string
	}{
		{
			name:    "lowercases both parts",
			service: "EC2",
			event:   "RunInstances",
			want:    "ec2:runinstances",
		},
		{
			name:    "strips version suffix",
			service: "lambda",
			event:   "ListTags20170331",
			want:    "lambda:listtags",
		},
		{
			name:    "strips dated version suffix",
			service: "cloudfront",
			event:   "CreateDistribution2017_10_30",
			want:    "cloudfront:createdistribution",
		},
		{
			name:    "renames monitoring to cloudwatch",
			service: "monitoring",
			event:   "DescribeAlarms",
			want:    "cloudwatch:describealarms",
		},
		{
			name:    "renames email to ses",
			service: "email",
			event:   "ListIdentities",
			want:    "ses:listidentities",
		},
		{
			name:    "plain action passes through",
			service: "s3",
			event:   "GetBucketAcl",
			want:    "s3:getbucketacl",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := Normalize(tc.service, tc.event)
			if got != tc.want {
				t.Errorf("Normalize(%q, %q) = %q, want %q", tc.service, tc.event, got, tc.want)
			}
		})
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	first := Normalize("lambda", "ListTags20170331")
	service, event, _ := strings.Cut(first, ":")
	second := Normalize(service, event)
	if first != second {
		t.Errorf("Normalize is not idempotent: %q then %q", first, second)
	}
}

func TestCloudTrailToIAM(t *testing.T) {
	tests := []struct {
		action string
		want   string
	}{
		{"s3:listbuckets", "s3:listallmybuckets"},
		{"s3:getbucketacl", "s3:getbucketaccesscontrolpolicy"},
		{"s3:putbucketacl", "s3:setbucketaccesscontrolpolicy"},
		{"s3:getbucketlogging", "s3:getbucketloggingstatus"},
		{"s3:putbucketlogging", "s3:setbucketloggingstatus"},
		{"s3:putobject", "s3:putobject"},
		{"ec2:runinstances", "ec2:runinstances"},
	}

	for _, tc := range tests {
		t.Run(tc.action, func(t *testing.T) {
			got := CloudTrailToIAM(tc.action)
			if got != tc.want {
				t.Errorf("CloudTrailToIAM(%q) = %q, want %q", tc.action, got, tc.want)
			}
		})
	}
}

func TestIAMToCloudTrailRoundTrip(t *testing.T) {
	for iamName := range eventRenames {
		got := CloudTrailToIAM(IAMToCloudTrail(iamName))
		if got != iamName {
			t.Errorf("round trip of %q = %q", iamName, got)
		}
	}

	if got := IAMToCloudTrail("kms:decrypt"); got != "kms:decrypt" {
		t.Errorf("IAMToCloudTrail(\"kms:decrypt\") = %q, want passthrough", got)
	}
}

func TestIsNoIAM(t *testing.T) {
	tests := []struct {
		action string
		want   bool
	}{
		{"sts:getcalleridentity", true},
		{"sts:getsessiontoken", true},
		{"signin:consolelogin", true},
		{"signin:switchrole", true},
		{"sts:assumerole", false},
		{"s3:putobject", false},
	}

	for _, tc := range tests {
		t.Run(tc.action, func(t *testing.T) {
			if got := IsNoIAM(tc.action); got != tc.want {
				t.Errorf("IsNoIAM(%q) = %v, want %v", tc.action, got, tc.want)
			}
		})
	}
}
