package config

import (
	"bytes"
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	trackererrors "github.com/byteness/cloudtracker/errors"
)

// accountIDPattern matches a full 12-digit account ID. The anchors matter:
// a substring match would wave through IDs with extra digits.
var accountIDPattern = regexp.MustCompile(`^[0-9]{12}$`)

// Load reads and parses the configuration file at path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, trackererrors.New(
			trackererrors.ErrCodeConfigUnreadable,
			fmt.Sprintf("cannot read config file %s: %v", path, err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeConfigUnreadable),
			err,
		)
	}
	return Parse(data)
}

// Parse parses configuration YAML and validates it.
func Parse(data []byte) (*Config, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, trackererrors.New(
			trackererrors.ErrCodeConfigUnreadable,
			"config file is empty",
			trackererrors.GetSuggestion(trackererrors.ErrCodeConfigUnreadable),
			nil,
		)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, trackererrors.New(
			trackererrors.ErrCodeConfigUnreadable,
			fmt.Sprintf("invalid config YAML: %v", err),
			trackererrors.GetSuggestion(trackererrors.ErrCodeConfigUnreadable),
			err,
		)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if len(c.Accounts) == 0 {
		return missingField("config file", "accounts")
	}
	for i, acct := range c.Accounts {
		ident := fmt.Sprintf("account %q", acct.Name)
		if acct.Name == "" {
			return missingField(fmt.Sprintf("accounts[%d]", i), "name")
		}
		if acct.ID == "" {
			return missingField(ident, "id")
		}
		if !accountIDPattern.MatchString(string(acct.ID)) {
			return trackererrors.New(
				trackererrors.ErrCodeConfigInvalidAccountID,
				fmt.Sprintf("%s id %q is not a 12-digit account ID", ident, acct.ID),
				trackererrors.GetSuggestion(trackererrors.ErrCodeConfigInvalidAccountID),
				nil,
			)
		}
		if acct.IAM == "" {
			return missingField(ident, "iam")
		}
	}
	if es := c.Elasticsearch; es != nil {
		if es.Host == "" {
			return missingField("elasticsearch", "host")
		}
		if es.Port == 0 {
			return missingField("elasticsearch", "port")
		}
	}
	return nil
}

func missingField(where, field string) error {
	return trackererrors.New(
		trackererrors.ErrCodeConfigMissingField,
		fmt.Sprintf("%s is missing the %s field", where, field),
		trackererrors.GetSuggestion(trackererrors.ErrCodeConfigMissingField),
		nil,
	)
}
