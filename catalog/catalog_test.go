package catalog

import (
	"sort"
	"testing"
)

func TestLoad(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	tests := []struct {
		action string
		want   bool
	}{
		{"s3:putobject", true},
		{"s3:createbucket", true},
		{"s3:listbuckets", true},
		// IAM's name for bucket listing, not an API call
		{"s3:listbucket", false},
		// stored with the version stripped
		{"lambda:listtags", true},
		{"lambda:listtags20170331", false},
		// stored under the renamed service
		{"cloudwatch:describealarms", true},
		{"monitoring:describealarms", false},
		{"ses:sendemail", true},
		{"kms:decrypt", true},
		{"ec2:startinstances", true},
		{"nosuchservice:nosuchcall", false},
	}

	for _, tc := range tests {
		t.Run(tc.action, func(t *testing.T) {
			if got := c.Contains(tc.action); got != tc.want {
				t.Errorf("Contains(%q) = %v, want %v", tc.action, got, tc.want)
			}
		})
	}
}

func TestIsRecordedByCloudTrail(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	tests := []struct {
		action string
		want   bool
	}{
		{"s3:createbucket", true},
		{"s3:deletebucket", true},
		// object-level calls are not management events
		{"s3:putobject", false},
		{"s3:getobject", false},
		{"lambda:invoke", false},
		{"lambda:createfunction", true},
		{"iam:createuser", true},
		{"kms:decrypt", true},
	}

	for _, tc := range tests {
		t.Run(tc.action, func(t *testing.T) {
			if got := c.IsRecordedByCloudTrail(tc.action); got != tc.want {
				t.Errorf("IsRecordedByCloudTrail(%q) = %v, want %v", tc.action, got, tc.want)
			}
		})
	}
}

func TestActionsSortedAndClosed(t *testing.T) {
	c, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	actions := c.Actions()
	if len(actions) == 0 {
		t.Fatal("Actions() returned no entries")
	}
	if !sort.StringsAreSorted(actions) {
		t.Error("Actions() is not sorted")
	}

	for _, action := range actions {
		if !c.Contains(action) {
			t.Errorf("Actions() entry %q not in catalog", action)
		}
	}
}

func TestParseActionListRejectsMalformedLine(t *testing.T) {
	if _, err := parseActionList("s3:GetObject\nnot-an-action\n"); err == nil {
		t.Error("expected error for line without separator, got nil")
	}
}
