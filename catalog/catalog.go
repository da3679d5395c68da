// Package catalog holds the list of known AWS API actions, the subset of
// them that CloudTrail records, and the name translations between IAM
// policies and CloudTrail events.
package catalog

import (
	_ "embed"
	"fmt"
	"sort"
	"strings"
)

//go:embed data/aws_api_list.txt
var awsAPIListData string

//go:embed data/cloudtrail_supported_actions.txt
var cloudtrailActionsData string

// Catalog is the set of known AWS API actions, normalized. It is loaded once
// and never modified afterwards.
type Catalog struct {
	actions  map[string]bool
	recorded map[string]bool
	sorted   []string
}

// Load parses the embedded action lists.
func Load() (*Catalog, error) {
	actions, err := parseActionList(awsAPIListData)
	if err != nil {
		return nil, fmt.Errorf("loading aws_api_list.txt: %w", err)
	}
	recorded, err := parseActionList(cloudtrailActionsData)
	if err != nil {
		return nil, fmt.Errorf("loading cloudtrail_supported_actions.txt: %w", err)
	}

	sorted := make([]string, 0, len(actions))
	for action := range actions {
		sorted = append(sorted, action)
	}
	sort.Strings(sorted)

	return &Catalog{actions: actions, recorded: recorded, sorted: sorted}, nil
}

// parseActionList reads "service:EventName" lines, normalizing each entry.
// Version-suffixed duplicates collapse to a single entry.
func parseActionList(data string) (map[string]bool, error) {
	set := map[string]bool{}
	for _, line := range strings.Split(data, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		service, event, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("malformed action %q", line)
		}
		set[Normalize(service, event)] = true
	}
	return set, nil
}

// Actions returns every known action in sorted order. The returned slice is
// shared and must not be modified.
func (c *Catalog) Actions() []string {
	return c.sorted
}

// Contains reports whether the normalized action is a known AWS API call.
func (c *Catalog) Contains(action string) bool {
	return c.actions[action]
}

// IsRecordedByCloudTrail reports whether calls to the action show up in
// CloudTrail logs.
func (c *Catalog) IsRecordedByCloudTrail(action string) bool {
	return c.recorded[action]
}
