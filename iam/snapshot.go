package iam

import (
	"encoding/json"
	"fmt"
	"os"

	trackererrors "github.com/byteness/cloudtracker/errors"
)

// PolicyAttachment names a managed policy attached to a user, group, or role.
type PolicyAttachment struct {
	PolicyName string `json:"PolicyName"`
	PolicyArn  string `json:"PolicyArn"`
}

// InlinePolicy is a policy embedded directly in a principal.
type InlinePolicy struct {
	PolicyName     string         `json:"PolicyName"`
	PolicyDocument PolicyDocument `json:"PolicyDocument"`
}

// UserDetail is one entry of the snapshot's UserDetailList.
type UserDetail struct {
	Path                    string             `json:"Path"`
	UserName                string             `json:"UserName"`
	UserID                  string             `json:"UserId"`
	Arn                     string             `json:"Arn"`
	CreateDate              string             `json:"CreateDate"`
	GroupList               []string           `json:"GroupList"`
	AttachedManagedPolicies []PolicyAttachment `json:"AttachedManagedPolicies"`
	UserPolicyList          []InlinePolicy     `json:"UserPolicyList"`
}

// RoleDetail is one entry of the snapshot's RoleDetailList. The trust policy
// is kept raw; only identity policies are evaluated.
type RoleDetail struct {
	Path                     string             `json:"Path"`
	RoleName                 string             `json:"RoleName"`
	RoleID                   string             `json:"RoleId"`
	Arn                      string             `json:"Arn"`
	CreateDate               string             `json:"CreateDate"`
	AssumeRolePolicyDocument json.RawMessage    `json:"AssumeRolePolicyDocument,omitempty"`
	AttachedManagedPolicies  []PolicyAttachment `json:"AttachedManagedPolicies"`
	RolePolicyList           []InlinePolicy     `json:"RolePolicyList"`
}

// GroupDetail is one entry of the snapshot's GroupDetailList.
type GroupDetail struct {
	Path                    string             `json:"Path"`
	GroupName               string             `json:"GroupName"`
	GroupID                 string             `json:"GroupId"`
	Arn                     string             `json:"Arn"`
	AttachedManagedPolicies []PolicyAttachment `json:"AttachedManagedPolicies"`
	GroupPolicyList         []InlinePolicy     `json:"GroupPolicyList"`
}

// PolicyVersion is one version of a managed policy.
type PolicyVersion struct {
	Document         PolicyDocument `json:"Document"`
	VersionID        string         `json:"VersionId"`
	IsDefaultVersion bool           `json:"IsDefaultVersion"`
}

// ManagedPolicy is one entry of the snapshot's top-level Policies list.
type ManagedPolicy struct {
	PolicyName        string          `json:"PolicyName"`
	PolicyID          string          `json:"PolicyId"`
	Arn               string          `json:"Arn"`
	DefaultVersionID  string          `json:"DefaultVersionId"`
	PolicyVersionList []PolicyVersion `json:"PolicyVersionList"`
}

// Snapshot is a parsed `aws iam get-account-authorization-details` dump.
type Snapshot struct {
	Users    []UserDetail    `json:"UserDetailList"`
	Groups   []GroupDetail   `json:"GroupDetailList"`
	Roles    []RoleDetail    `json:"RoleDetailList"`
	Policies []ManagedPolicy `json:"Policies"`

	usersByName   map[string]*UserDetail
	rolesByName   map[string]*RoleDetail
	groupsByName  map[string]*GroupDetail
	policiesByArn map[string]*ManagedPolicy
}

// LoadSnapshot reads and parses an IAM snapshot file.
func LoadSnapshot(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trackererrors.New(
			trackererrors.ErrCodeIamUnreadable,
			fmt.Sprintf("cannot read IAM snapshot %s: %v", path, err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeIamUnreadable),
			err,
		)
	}
	return ParseSnapshot(data)
}

// ParseSnapshot parses authorization-details JSON and builds lookup indexes.
func ParseSnapshot(data []byte) (*Snapshot, error) {
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, trackererrors.New(
			trackererrors.ErrCodeIamUnreadable,
			fmt.Sprintf("cannot parse IAM snapshot: %v", err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeIamUnreadable),
			err,
		)
	}
	snap.index()
	return &snap, nil
}

func (s *Snapshot) index() {
	s.usersByName = make(map[string]*UserDetail, len(s.Users))
	for i := range s.Users {
		s.usersByName[s.Users[i].UserName] = &s.Users[i]
	}
	s.rolesByName = make(map[string]*RoleDetail, len(s.Roles))
	for i := range s.Roles {
		s.rolesByName[s.Roles[i].RoleName] = &s.Roles[i]
	}
	s.groupsByName = make(map[string]*GroupDetail, len(s.Groups))
	for i := range s.Groups {
		s.groupsByName[s.Groups[i].GroupName] = &s.Groups[i]
	}
	s.policiesByArn = make(map[string]*ManagedPolicy, len(s.Policies))
	for i := range s.Policies {
		s.policiesByArn[s.Policies[i].Arn] = &s.Policies[i]
	}
}

// User returns the named user or an IAM_UNKNOWN_USER error.
func (s *Snapshot) User(name string) (*UserDetail, error) {
	if u, ok := s.usersByName[name]; ok {
		return u, nil
	}
	return nil, trackererrors.New(
		trackererrors.ErrCodeIamUnknownUser,
		fmt.Sprintf("user %q not found in the IAM snapshot", name),
		trackererrors.GetSuggestion(trackererrors.ErrCodeIamUnknownUser),
		nil,
	)
}

// Role returns the named role or an IAM_UNKNOWN_ROLE error.
func (s *Snapshot) Role(name string) (*RoleDetail, error) {
	if r, ok := s.rolesByName[name]; ok {
		return r, nil
	}
	return nil, trackererrors.New(
		trackererrors.ErrCodeIamUnknownRole,
		fmt.Sprintf("role %q not found in the IAM snapshot", name),
		trackererrors.GetSuggestion(trackererrors.ErrCodeIamUnknownRole),
		nil,
	)
}

// Group returns the named group. Missing groups are recoverable (the caller
// warns and continues), so the lookup reports presence instead of an error.
func (s *Snapshot) Group(name string) (*GroupDetail, bool) {
	g, ok := s.groupsByName[name]
	return g, ok
}

// ManagedPolicyDocument returns the default-version document of the managed
// policy with the given ARN. The second return is false when the snapshot
// has no such policy or the policy has no default version.
func (s *Snapshot) ManagedPolicyDocument(arn string) (*PolicyDocument, bool) {
	p, ok := s.policiesByArn[arn]
	if !ok {
		return nil, false
	}
	for i := range p.PolicyVersionList {
		if p.PolicyVersionList[i].IsDefaultVersion {
			return &p.PolicyVersionList[i].Document, true
		}
	}
	return nil, false
}

// UserNames lists the snapshot's user names in snapshot order.
func (s *Snapshot) UserNames() []string {
	names := make([]string, 0, len(s.Users))
	for i := range s.Users {
		names = append(names, s.Users[i].UserName)
	}
	return names
}

// RoleNames lists the snapshot's role names in snapshot order.
func (s *Snapshot) RoleNames() []string {
	names := make([]string, 0, len(s.Roles))
	for i := range s.Roles {
		names = append(names, s.Roles[i].RoleName)
	}
	return names
}
