// Package config loads the CloudTracker configuration file, which names
// the audited AWS accounts and configures the CloudTrail query backend.
package config

import (
	"fmt"

	"gopkg.in/yaml.v3"

	trackererrors "github.com/byteness/cloudtracker/errors"
)

// AccountID is a 12-digit AWS account ID. Config authors commonly write the
// ID as an unquoted YAML integer, so both integer and string scalars are
// accepted. Leading zeros survive only when the ID is quoted.
type AccountID string

// UnmarshalYAML accepts any scalar node and keeps its literal text.
func (id *AccountID) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("account id must be a string or number")
	}
	*id = AccountID(value.Value)
	return nil
}

// Account names one audited AWS account and the IAM snapshot file to read
// for it.
type Account struct {
	Name string    `yaml:"name" json:"name"`
	ID   AccountID `yaml:"id" json:"id"`
	IAM  string    `yaml:"iam" json:"iam"`
}

// AthenaConfig tunes the Athena backend. Every field is optional: the log
// bucket can be discovered through DescribeTrails, the output bucket and
// workgroup have service defaults, and org_id only applies to organisation
// trails.
type AthenaConfig struct {
	S3Bucket       string `yaml:"s3_bucket" json:"s3_bucket,omitempty"`
	Path           string `yaml:"path" json:"path,omitempty"`
	OutputS3Bucket string `yaml:"output_s3_bucket" json:"output_s3_bucket,omitempty"`
	Workgroup      string `yaml:"workgroup" json:"workgroup,omitempty"`
	OrgID          string `yaml:"org_id" json:"org_id,omitempty"`
}

// ElasticsearchConfig points at a cluster that holds CloudTrail documents.
// Its presence in the config file selects the document-search backend over
// Athena.
type ElasticsearchConfig struct {
	Host           string `yaml:"host" json:"host"`
	Port           int    `yaml:"port" json:"port"`
	Index          string `yaml:"index" json:"index,omitempty"`
	KeyPrefix      string `yaml:"key_prefix" json:"key_prefix,omitempty"`
	TimestampField string `yaml:"timestamp_field" json:"timestamp_field,omitempty"`
}

// Config is the parsed configuration file.
type Config struct {
	Accounts      []Account            `yaml:"accounts" json:"accounts"`
	Athena        *AthenaConfig        `yaml:"athena" json:"athena,omitempty"`
	Elasticsearch *ElasticsearchConfig `yaml:"elasticsearch" json:"elasticsearch,omitempty"`
}

// AccountByNameOrID returns the configured account whose name or 12-digit ID
// equals nameOrID.
func (c *Config) AccountByNameOrID(nameOrID string) (Account, error) {
	for _, acct := range c.Accounts {
		if nameOrID == acct.Name || nameOrID == string(acct.ID) {
			return acct, nil
		}
	}
	return Account{}, trackererrors.New(
		trackererrors.ErrCodeConfigUnknownAccount,
		fmt.Sprintf("account %q not found in the config file", nameOrID),
		trackererrors.GetSuggestion(trackererrors.ErrCodeConfigUnknownAccount),
		nil,
	)
}
