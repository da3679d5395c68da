package iam

import (
	"sort"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/byteness/cloudtracker/catalog"
	trackererrors "github.com/byteness/cloudtracker/errors"
)

func mustLoadCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cat, err := catalog.Load()
	if err != nil {
		t.Fatalf("loading catalog: %v", err)
	}
	return cat
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestActionsFromStatement(t *testing.T) {
	priv := NewPrivileges(mustLoadCatalog(t))

	tests := []struct {
		name   string
		action StringOrSlice
		want   []string
	}{
		{
			name:   "exact action",
			action: StringOrSlice{"s3:PutObject"},
			want:   []string{"s3:putobject"},
		},
		{
			name:   "trailing glob",
			action: StringOrSlice{"s3:PutObject*"},
			want:   []string{"s3:putobject", "s3:putobjectacl", "s3:putobjecttagging"},
		},
		{
			name:   "inner glob",
			action: StringOrSlice{"s3:*ObjectT*"},
			want: []string{
				"s3:deleteobjecttagging",
				"s3:getobjecttagging",
				"s3:getobjecttorrent",
				"s3:putobjecttagging",
			},
		},
		{
			name:   "renamed entry matches its IAM name",
			action: StringOrSlice{"s3:ListAllMyBuckets"},
			want:   []string{"s3:listallmybuckets"},
		},
		{
			name:   "cloudtrail-side name of a renamed entry matches nothing",
			action: StringOrSlice{"s3:ListBucket"},
			want:   []string{},
		},
		{
			name:   "multiple patterns union",
			action: StringOrSlice{"kms:Decrypt", "kms:DescribeKey"},
			want:   []string{"kms:decrypt", "kms:describekey"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := priv.actionsFromStatement(Statement{Effect: "Allow", Action: tc.action})
			if diff := cmp.Diff(tc.want, sortedKeys(got)); diff != "" {
				t.Errorf("actionsFromStatement(%v) mismatch (-want +got):\n%s", tc.action, diff)
			}
		})
	}
}

func TestActionsFromStatement_BadPatternSkipped(t *testing.T) {
	priv := NewPrivileges(mustLoadCatalog(t))

	// "(" is a regex error after glob translation; the good pattern still expands.
	got := priv.actionsFromStatement(Statement{
		Effect: "Allow",
		Action: StringOrSlice{"s3:(", "s3:PutObject"},
	})
	if diff := cmp.Diff([]string{"s3:putobject"}, sortedKeys(got)); diff != "" {
		t.Errorf("mismatch (-want +got):\n%s", diff)
	}
}

func TestDetermine_AllowUnion(t *testing.T) {
	priv := NewPrivileges(mustLoadCatalog(t))
	priv.AddStatement(Statement{Effect: "Allow", Action: StringOrSlice{"kms:Decrypt"}, Resource: StringOrSlice{"*"}})
	priv.AddStatement(Statement{Effect: "Allow", Action: StringOrSlice{"kms:DescribeKey"}, Resource: StringOrSlice{"*"}})

	allowed, err := priv.Determine()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want := []string{"kms:decrypt", "kms:describekey"}
	if diff := cmp.Diff(want, sortedKeys(allowed)); diff != "" {
		t.Errorf("Determine() mismatch (-want +got):\n%s", diff)
	}
}

func TestDetermine_DenySubtracts(t *testing.T) {
	priv := NewPrivileges(mustLoadCatalog(t))
	priv.AddStatement(Statement{Effect: "Allow", Action: StringOrSlice{"s3:*"}, Resource: StringOrSlice{"*"}})
	priv.AddStatement(Statement{Effect: "Deny", Action: StringOrSlice{"s3:CreateBucket"}, Resource: StringOrSlice{"*"}})

	allowed, err := priv.Determine()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if allowed["s3:createbucket"] {
		t.Error("s3:createbucket still allowed, want denied")
	}
	if !allowed["s3:deletebucket"] {
		t.Error("s3:deletebucket not allowed, want allowed")
	}
}

func TestDetermine_ResourceScopedDenyIgnored(t *testing.T) {
	priv := NewPrivileges(mustLoadCatalog(t))
	priv.AddStatement(Statement{Effect: "Allow", Action: StringOrSlice{"s3:*"}, Resource: StringOrSlice{"*"}})
	priv.AddStatement(Statement{
		Effect:   "Deny",
		Action:   StringOrSlice{"s3:CreateBucket"},
		Resource: StringOrSlice{"arn:aws:s3:::mybucket"},
	})

	allowed, err := priv.Determine()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed["s3:createbucket"] {
		t.Error("s3:createbucket removed by a resource-scoped deny, want kept")
	}
}

func TestDetermine_ConditionScopedDenyIgnored(t *testing.T) {
	priv := NewPrivileges(mustLoadCatalog(t))
	priv.AddStatement(Statement{Effect: "Allow", Action: StringOrSlice{"s3:*"}, Resource: StringOrSlice{"*"}})
	priv.AddStatement(Statement{
		Effect:    "Deny",
		Action:    StringOrSlice{"s3:CreateBucket"},
		Resource:  StringOrSlice{"*"},
		Condition: ConditionBlock{"StringNotEquals": []byte(`{"aws:RequestedRegion": "us-east-1"}`)},
	})

	allowed, err := priv.Determine()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !allowed["s3:createbucket"] {
		t.Error("s3:createbucket removed by a condition-scoped deny, want kept")
	}
}

func TestDetermine_MalformedEffect(t *testing.T) {
	priv := NewPrivileges(mustLoadCatalog(t))
	priv.AddStatement(Statement{Effect: "allow", Action: StringOrSlice{"s3:PutObject"}})

	_, err := priv.Determine()
	if err == nil {
		t.Fatal("Determine() succeeded, want error")
	}
	if got := trackererrors.GetCode(err); got != trackererrors.ErrCodeIamMalformedPolicy {
		t.Errorf("error code = %q, want %q", got, trackererrors.ErrCodeIamMalformedPolicy)
	}
}

func TestAddStatement_SkipsNotAction(t *testing.T) {
	priv := NewPrivileges(mustLoadCatalog(t))
	priv.AddStatement(Statement{Effect: "Allow", NotAction: StringOrSlice{"iam:*"}, Resource: StringOrSlice{"*"}})

	allowed, err := priv.Determine()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(allowed) != 0 {
		t.Errorf("got %d allowed actions from a NotAction statement, want 0", len(allowed))
	}
}

func TestDetermine_AllowAll(t *testing.T) {
	cat := mustLoadCatalog(t)
	priv := NewPrivileges(cat)
	priv.AddStatement(Statement{Effect: "Allow", Action: StringOrSlice{"*"}, Resource: StringOrSlice{"*"}})

	allowed, err := priv.Determine()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(allowed) != len(cat.Actions()) {
		t.Errorf("got %d allowed actions, want the whole catalog (%d)", len(allowed), len(cat.Actions()))
	}
}

const roleSnapshotFixture = `{
	"RoleDetailList": [
		{
			"Path": "/",
			"RoleName": "aws_admin",
			"RoleId": "AROAEXAMPLE",
			"Arn": "arn:aws:iam::111111111111:role/aws_admin",
			"CreateDate": "2017-10-02T12:00:00Z",
			"AttachedManagedPolicies": [],
			"RolePolicyList": [
				{
					"PolicyName": "KmsDecryptSessionKeys",
					"PolicyDocument": {
						"Version": "2012-10-17",
						"Statement": [
							{"Action": ["kms:Decrypt", "kms:DescribeKey"], "Resource": "*", "Effect": "Allow"}
						]
					}
				},
				{
					"PolicyName": "S3PutObject",
					"PolicyDocument": {
						"Version": "2012-10-17",
						"Statement": [
							{"Action": ["s3:PutObject", "s3:PutObjectAcl", "s3:ListBucket"], "Resource": "*", "Effect": "Allow"}
						]
					}
				}
			]
		}
	]
}`

func TestRoleAllowedActions(t *testing.T) {
	snap, err := ParseSnapshot([]byte(roleSnapshotFixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	role, err := snap.Role("aws_admin")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	allowed, err := snap.RoleAllowedActions(mustLoadCatalog(t), role)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// s3:ListBucket grants nothing: the catalog's ListBuckets entry answers
	// to s3:listallmybuckets.
	want := []string{"kms:decrypt", "kms:describekey", "s3:putobject", "s3:putobjectacl"}
	if diff := cmp.Diff(want, sortedKeys(allowed)); diff != "" {
		t.Errorf("RoleAllowedActions mismatch (-want +got):\n%s", diff)
	}
}

const userSnapshotFixture = `{
	"UserDetailList": [
		{
			"Path": "/",
			"UserName": "bob",
			"UserId": "AIDAEXAMPLE",
			"Arn": "arn:aws:iam::111111111111:user/bob",
			"CreateDate": "2017-09-01T00:11:23Z",
			"GroupList": ["ops", "ghosts"],
			"AttachedManagedPolicies": [
				{"PolicyName": "audit", "PolicyArn": "arn:aws:iam::111111111111:policy/audit"},
				{"PolicyName": "ghost", "PolicyArn": "arn:aws:iam::111111111111:policy/ghost"}
			],
			"UserPolicyList": [
				{
					"PolicyName": "bob-inline",
					"PolicyDocument": {
						"Version": "2012-10-17",
						"Statement": [{"Effect": "Allow", "Action": "kms:Decrypt", "Resource": "*"}]
					}
				}
			]
		}
	],
	"GroupDetailList": [
		{
			"Path": "/",
			"GroupName": "ops",
			"GroupId": "AGPAEXAMPLE",
			"Arn": "arn:aws:iam::111111111111:group/ops",
			"AttachedManagedPolicies": [
				{"PolicyName": "deploy", "PolicyArn": "arn:aws:iam::111111111111:policy/deploy"}
			],
			"GroupPolicyList": [
				{
					"PolicyName": "ops-inline",
					"PolicyDocument": {
						"Version": "2012-10-17",
						"Statement": [{"Effect": "Allow", "Action": "s3:PutObject", "Resource": "*"}]
					}
				}
			]
		}
	],
	"RoleDetailList": [],
	"Policies": [
		{
			"PolicyName": "deploy",
			"PolicyId": "ANPAEXAMPLE1",
			"Arn": "arn:aws:iam::111111111111:policy/deploy",
			"DefaultVersionId": "v1",
			"PolicyVersionList": [
				{
					"Document": {
						"Version": "2012-10-17",
						"Statement": [{"Effect": "Allow", "Action": "ec2:StartInstances", "Resource": "*"}]
					},
					"VersionId": "v1",
					"IsDefaultVersion": true
				}
			]
		},
		{
			"PolicyName": "audit",
			"PolicyId": "ANPAEXAMPLE2",
			"Arn": "arn:aws:iam::111111111111:policy/audit",
			"DefaultVersionId": "v1",
			"PolicyVersionList": [
				{
					"Document": {
						"Version": "2012-10-17",
						"Statement": [{"Effect": "Allow", "Action": "kms:DescribeKey", "Resource": "*"}]
					},
					"VersionId": "v1",
					"IsDefaultVersion": true
				}
			]
		}
	]
}`

func TestUserAllowedActions(t *testing.T) {
	snap, err := ParseSnapshot([]byte(userSnapshotFixture))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	user, err := snap.User("bob")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The "ghosts" group and the "ghost" policy ARN are missing from the
	// snapshot and must be skipped, not fail the walk.
	allowed, err := snap.UserAllowedActions(mustLoadCatalog(t), user)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []string{"ec2:startinstances", "kms:decrypt", "kms:describekey", "s3:putobject"}
	if diff := cmp.Diff(want, sortedKeys(allowed)); diff != "" {
		t.Errorf("UserAllowedActions mismatch (-want +got):\n%s", diff)
	}
}
