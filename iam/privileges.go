package iam

import (
	"fmt"
	"log"
	"regexp"
	"strings"

	"github.com/byteness/cloudtracker/catalog"
	trackererrors "github.com/byteness/cloudtracker/errors"
)

// Privileges accumulates policy statements for a principal and determines
// the set of API actions they grant.
type Privileges struct {
	catalog *catalog.Catalog
	stmts   []Statement
}

// NewPrivileges returns an empty statement collector backed by the catalog.
func NewPrivileges(cat *catalog.Catalog) *Privileges {
	return &Privileges{catalog: cat}
}

// AddStatement records a statement for later evaluation. Statements without
// an Action element are skipped; NotAction is not evaluated, so statements
// using it are skipped with a warning and the report under-counts.
func (p *Privileges) AddStatement(stmt Statement) {
	if len(stmt.Action) == 0 {
		if len(stmt.NotAction) > 0 {
			log.Printf("WARNING: %s: NotAction statements are not evaluated, skipping statement %q",
				trackererrors.ErrCodeUnsupportedFeature, stmt.Sid)
		}
		return
	}
	p.stmts = append(p.stmts, stmt)
}

// actionsFromStatement expands the statement's Action patterns against the
// catalog. Catalog entries convert to their IAM names before matching so
// results use the names policies grant.
func (p *Privileges) actionsFromStatement(stmt Statement) map[string]bool {
	actions := make(map[string]bool)

	for _, pattern := range stmt.Action {
		expr := "(?i)^" + strings.ReplaceAll(strings.ToLower(pattern), "*", ".*") + "$"
		re, err := regexp.Compile(expr)
		if err != nil {
			log.Printf("WARNING: cannot expand action pattern %q: %v", pattern, err)
			continue
		}

		for _, entry := range p.catalog.Actions() {
			name := catalog.CloudTrailToIAM(entry)
			if re.MatchString(name) {
				actions[name] = true
			}
		}
	}

	return actions
}

// Determine composes the collected statements into the set of granted
// actions: Allow expansions union; Denies that name every resource with no
// condition subtract. Resource- or condition-scoped Denies cannot be
// evaluated without request context and are ignored, so the result can
// over-count.
func (p *Privileges) Determine() (map[string]bool, error) {
	allowed := make(map[string]bool)

	for _, stmt := range p.stmts {
		switch stmt.Effect {
		case "Allow":
			for action := range p.actionsFromStatement(stmt) {
				allowed[action] = true
			}
		case "Deny":
		default:
			return nil, trackererrors.New(
				trackererrors.ErrCodeIamMalformedPolicy,
				fmt.Sprintf("statement Effect must be Allow or Deny, got %q", stmt.Effect),
				trackererrors.GetSuggestion(trackererrors.ErrCodeIamMalformedPolicy),
				nil,
			)
		}
	}

	for _, stmt := range p.stmts {
		if stmt.Effect != "Deny" || !stmt.Resource.Contains("*") || len(stmt.Condition) > 0 {
			continue
		}
		for action := range p.actionsFromStatement(stmt) {
			delete(allowed, action)
		}
	}

	return allowed, nil
}

// UserAllowedActions determines every action granted to the user through its
// groups' policies, its attached managed policies, and its inline policies.
// Groups or managed-policy ARNs missing from the snapshot are skipped with a
// warning.
func (s *Snapshot) UserAllowedActions(cat *catalog.Catalog, user *UserDetail) (map[string]bool, error) {
	priv := NewPrivileges(cat)

	for _, groupName := range user.GroupList {
		group, ok := s.Group(groupName)
		if !ok {
			log.Printf("WARNING: group %q not found in the IAM snapshot, skipping", groupName)
			continue
		}
		for _, attached := range group.AttachedManagedPolicies {
			s.addManagedPolicyStatements(priv, attached.PolicyArn)
		}
		for _, inline := range group.GroupPolicyList {
			for _, stmt := range inline.PolicyDocument.Statement {
				priv.AddStatement(stmt)
			}
		}
	}

	for _, attached := range user.AttachedManagedPolicies {
		s.addManagedPolicyStatements(priv, attached.PolicyArn)
	}
	for _, inline := range user.UserPolicyList {
		for _, stmt := range inline.PolicyDocument.Statement {
			priv.AddStatement(stmt)
		}
	}

	return priv.Determine()
}

// RoleAllowedActions determines every action granted to the role through its
// attached managed policies and inline policies.
func (s *Snapshot) RoleAllowedActions(cat *catalog.Catalog, role *RoleDetail) (map[string]bool, error) {
	priv := NewPrivileges(cat)

	for _, attached := range role.AttachedManagedPolicies {
		s.addManagedPolicyStatements(priv, attached.PolicyArn)
	}
	for _, inline := range role.RolePolicyList {
		for _, stmt := range inline.PolicyDocument.Statement {
			priv.AddStatement(stmt)
		}
	}

	return priv.Determine()
}

func (s *Snapshot) addManagedPolicyStatements(priv *Privileges, arn string) {
	doc, ok := s.ManagedPolicyDocument(arn)
	if !ok {
		log.Printf("WARNING: managed policy %q not found in the IAM snapshot, skipping", arn)
		return
	}
	for _, stmt := range doc.Statement {
		priv.AddStatement(stmt)
	}
}
