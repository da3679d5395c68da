// Package iam models IAM account-authorization-details snapshots and
// determines the actions a principal's policies allow. Policy documents use
// the flexible AWS JSON forms: scalar-or-array fields, a Statement element
// that may be a single object, and documents that arrive either as JSON
// objects or as URL-encoded JSON strings.
package iam

import (
	"encoding/json"
	"fmt"
	"net/url"
)

// StringOrSlice handles AWS JSON fields that can be a string or []string.
// For example, Action can be "s3:GetObject" or ["s3:GetObject", "s3:PutObject"].
type StringOrSlice []string

// UnmarshalJSON implements custom JSON unmarshaling for StringOrSlice.
// It handles both single string values and arrays of strings.
func (s *StringOrSlice) UnmarshalJSON(data []byte) error {
	// First try as string
	var str string
	if err := json.Unmarshal(data, &str); err == nil {
		*s = StringOrSlice{str}
		return nil
	}

	// Then try as array
	var arr []string
	if err := json.Unmarshal(data, &arr); err != nil {
		return fmt.Errorf("expected string or []string: %w", err)
	}
	*s = StringOrSlice(arr)
	return nil
}

// MarshalJSON implements JSON marshaling for StringOrSlice.
// If there's a single value, it marshals as a string; otherwise as an array.
func (s StringOrSlice) MarshalJSON() ([]byte, error) {
	if len(s) == 1 {
		return json.Marshal(s[0])
	}
	return json.Marshal([]string(s))
}

// Contains checks if the StringOrSlice contains the given value.
func (s StringOrSlice) Contains(value string) bool {
	for _, v := range s {
		if v == value {
			return true
		}
	}
	return false
}

// ConditionBlock represents the Condition element of a policy statement.
// Only the presence of conditions matters here, so operators stay opaque.
type ConditionBlock map[string]json.RawMessage

// Statement represents a single statement in an identity policy.
type Statement struct {
	// Sid is an optional statement identifier.
	Sid string `json:"Sid,omitempty"`
	// Effect must be "Allow" or "Deny".
	Effect string `json:"Effect"`
	// Action lists the granted or denied action patterns.
	Action StringOrSlice `json:"Action,omitempty"`
	// NotAction is the complement form. It is not evaluated; statements
	// using it are skipped with a warning.
	NotAction StringOrSlice `json:"NotAction,omitempty"`
	// Resource lists the resources the statement applies to.
	Resource StringOrSlice `json:"Resource,omitempty"`
	// Condition restricts when the statement applies.
	Condition ConditionBlock `json:"Condition,omitempty"`
}

// StatementList handles the Statement element, which AWS allows to be
// a single statement object or an array of statements.
type StatementList []Statement

// UnmarshalJSON implements custom JSON unmarshaling for StatementList.
func (l *StatementList) UnmarshalJSON(data []byte) error {
	// First try as array
	var arr []Statement
	if err := json.Unmarshal(data, &arr); err == nil {
		*l = StatementList(arr)
		return nil
	}

	// Then try as single statement object
	var single Statement
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("expected statement object or array: %w", err)
	}
	*l = StatementList{single}
	return nil
}

// PolicyDocument represents a parsed IAM policy document.
type PolicyDocument struct {
	Version   string        `json:"Version"`
	Statement StatementList `json:"Statement"`
}

// UnmarshalJSON accepts both document forms found in authorization-details
// dumps: a plain JSON object (CLI output) or a URL-encoded JSON string
// (API output, see GetRolePolicy documentation).
func (d *PolicyDocument) UnmarshalJSON(data []byte) error {
	var encoded string
	if err := json.Unmarshal(data, &encoded); err == nil {
		decoded, err := url.QueryUnescape(encoded)
		if err != nil {
			return fmt.Errorf("url-decoding policy document: %w", err)
		}
		data = []byte(decoded)
	}

	type document PolicyDocument
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid policy document: %w", err)
	}
	*d = PolicyDocument(doc)
	return nil
}
