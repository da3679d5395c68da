package iam

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestStringOrSlice_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    StringOrSlice
		wantErr bool
	}{
		{
			name:  "single string",
			input: `"s3:GetObject"`,
			want:  StringOrSlice{"s3:GetObject"},
		},
		{
			name:  "array of strings",
			input: `["s3:GetObject", "s3:PutObject"]`,
			want:  StringOrSlice{"s3:GetObject", "s3:PutObject"},
		},
		{
			name:  "empty array",
			input: `[]`,
			want:  StringOrSlice{},
		},
		{
			name:    "number",
			input:   `42`,
			wantErr: true,
		},
		{
			name:    "object",
			input:   `{"a": 1}`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got StringOrSlice
			err := json.Unmarshal([]byte(tc.input), &got)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%s) succeeded, want error", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if diff := cmp.Diff(tc.want, got); diff != "" {
				t.Errorf("Unmarshal(%s) mismatch (-want +got):\n%s", tc.input, diff)
			}
		})
	}
}

func TestStringOrSlice_Contains(t *testing.T) {
	s := StringOrSlice{"*", "arn:aws:s3:::mybucket"}
	if !s.Contains("*") {
		t.Error("Contains(\"*\") = false, want true")
	}
	if s.Contains("arn:aws:s3:::otherbucket") {
		t.Error("Contains(unlisted) = true, want false")
	}

	var empty StringOrSlice
	if empty.Contains("*") {
		t.Error("empty Contains(\"*\") = true, want false")
	}
}

func TestStatementList_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name      string
		input     string
		wantCount int
		wantErr   bool
	}{
		{
			name:      "array of statements",
			input:     `[{"Effect": "Allow", "Action": "s3:GetObject"}, {"Effect": "Deny", "Action": "s3:PutObject"}]`,
			wantCount: 2,
		},
		{
			name:      "single statement object",
			input:     `{"Effect": "Allow", "Action": ["s3:GetObject"]}`,
			wantCount: 1,
		},
		{
			name:    "scalar",
			input:   `"Allow"`,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			var got StatementList
			err := json.Unmarshal([]byte(tc.input), &got)
			if tc.wantErr {
				if err == nil {
					t.Fatalf("Unmarshal(%s) succeeded, want error", tc.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != tc.wantCount {
				t.Errorf("got %d statements, want %d", len(got), tc.wantCount)
			}
		})
	}
}

func TestPolicyDocument_UnmarshalJSON_Object(t *testing.T) {
	input := `{
		"Version": "2012-10-17",
		"Statement": [
			{"Sid": "S1", "Effect": "Allow", "Action": "s3:PutObject", "Resource": "*"}
		]
	}`

	var doc PolicyDocument
	if err := json.Unmarshal([]byte(input), &doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Version != "2012-10-17" {
		t.Errorf("Version = %q, want %q", doc.Version, "2012-10-17")
	}
	if len(doc.Statement) != 1 {
		t.Fatalf("got %d statements, want 1", len(doc.Statement))
	}
	if doc.Statement[0].Effect != "Allow" {
		t.Errorf("Effect = %q, want Allow", doc.Statement[0].Effect)
	}
	if !doc.Statement[0].Action.Contains("s3:PutObject") {
		t.Errorf("Action = %v, want to contain s3:PutObject", doc.Statement[0].Action)
	}
}

func TestPolicyDocument_UnmarshalJSON_URLEncodedString(t *testing.T) {
	// The IAM API returns policy documents as URL-encoded JSON strings.
	encoded := `"%7B%22Version%22%3A%222012-10-17%22%2C%22Statement%22%3A%5B%7B%22Effect%22%3A%22Allow%22%2C%22Action%22%3A%22s3%3AGetObject%22%2C%22Resource%22%3A%22%2A%22%7D%5D%7D"`

	var doc PolicyDocument
	if err := json.Unmarshal([]byte(encoded), &doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if doc.Version != "2012-10-17" {
		t.Errorf("Version = %q, want %q", doc.Version, "2012-10-17")
	}
	if len(doc.Statement) != 1 {
		t.Fatalf("got %d statements, want 1", len(doc.Statement))
	}
	if !doc.Statement[0].Action.Contains("s3:GetObject") {
		t.Errorf("Action = %v, want to contain s3:GetObject", doc.Statement[0].Action)
	}
}

func TestPolicyDocument_UnmarshalJSON_SingleStatementObject(t *testing.T) {
	input := `{
		"Version": "2012-10-17",
		"Statement": {"Effect": "Allow", "Action": "kms:Decrypt", "Resource": "*"}
	}`

	var doc PolicyDocument
	if err := json.Unmarshal([]byte(input), &doc); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(doc.Statement) != 1 {
		t.Fatalf("got %d statements, want 1", len(doc.Statement))
	}
	if !doc.Statement[0].Action.Contains("kms:Decrypt") {
		t.Errorf("Action = %v, want to contain kms:Decrypt", doc.Statement[0].Action)
	}
}

func TestPolicyDocument_UnmarshalJSON_Invalid(t *testing.T) {
	var doc PolicyDocument
	err := json.Unmarshal([]byte(`"not json at all"`), &doc)
	if err == nil {
		t.Fatal("Unmarshal succeeded, want error")
	}
	if !strings.Contains(err.Error(), "invalid policy document") {
		t.Errorf("error = %v, want to mention invalid policy document", err)
	}
}

func TestStatement_ConditionPresence(t *testing.T) {
	input := `{
		"Effect": "Deny",
		"Action": "s3:*",
		"Resource": "*",
		"Condition": {"StringNotEquals": {"aws:RequestedRegion": "us-east-1"}}
	}`

	var stmt Statement
	if err := json.Unmarshal([]byte(input), &stmt); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(stmt.Condition) != 1 {
		t.Errorf("got %d condition operators, want 1", len(stmt.Condition))
	}
}
