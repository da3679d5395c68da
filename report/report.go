// Package report renders the difference between the actions a principal
// performed and the actions IAM grants it, and the matching two-way diff for
// principal listings.
package report

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/charmbracelet/lipgloss"

	"github.com/byteness/cloudtracker/catalog"
)

// Label classifies one action in the diff. Every displayed action carries
// exactly one label.
type Label int

const (
	// UsedAndAllowed: performed and granted.
	UsedAndAllowed Label = iota + 1
	// InvokedNotGranted: performed without a grant. Privilege escalation or
	// an evaluation gap.
	InvokedNotGranted
	// GrantedNotInvoked: granted but never seen in the logs.
	GrantedNotInvoked
	// GrantedNotLogged: granted, and CloudTrail does not record the action,
	// so use cannot be confirmed either way.
	GrantedNotLogged
)

// Filter controls which labels the diff shows and how it renders.
type Filter struct {
	ShowUsed    bool // only actions with confirmed activity
	ShowBenign  bool // keep list/describe actions
	ShowUnknown bool // keep actions CloudTrail cannot record
	ShowJSON    bool // machine-readable single line instead of glyph lines
}

// Recorder reports whether CloudTrail records calls to an action.
// *catalog.Catalog satisfies it.
type Recorder interface {
	IsRecordedByCloudTrail(action string) bool
}

var (
	usedStyle       = lipgloss.NewStyle().Foreground(lipgloss.Color("15"))
	escalationStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("2"))
	unusedStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("1"))
	unknownStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("3"))
)

// PrintDiff labels every performed and granted action and writes the diff to
// w, one action per line: "  " used, "+ " performed without a grant, "- "
// granted but idle, "? " granted but not recordable.
func PrintDiff(w io.Writer, performed, allowed map[string]bool, recorded Recorder, filter Filter, useColor bool) error {
	labels := diffLabels(performed, allowed, recorded)

	if filter.ShowJSON {
		return printJSON(w, labels, filter)
	}

	for _, action := range sortedKeys(labels) {
		if !filter.ShowBenign && isBenign(action) {
			continue
		}

		switch labels[action] {
		case UsedAndAllowed:
			if err := printLine(w, usedStyle, useColor, "  "+action); err != nil {
				return err
			}
		case InvokedNotGranted:
			if err := printLine(w, escalationStyle, useColor, "+ "+action); err != nil {
				return err
			}
		case GrantedNotInvoked:
			if filter.ShowUsed {
				continue
			}
			if err := printLine(w, unusedStyle, useColor, "- "+action); err != nil {
				return err
			}
		case GrantedNotLogged:
			if filter.ShowUsed || !filter.ShowUnknown {
				continue
			}
			if err := printLine(w, unknownStyle, useColor, "? "+action); err != nil {
				return err
			}
		}
	}
	return nil
}

// diffLabels assigns each action its label. Performed actions translate to
// their IAM names first; ungranted actions that need no IAM grant (such as
// sts:getcalleridentity) are dropped rather than reported as escalations.
func diffLabels(performed, allowed map[string]bool, recorded Recorder) map[string]Label {
	labels := make(map[string]Label, len(performed)+len(allowed))

	for action := range performed {
		action = catalog.CloudTrailToIAM(action)
		if allowed[action] {
			labels[action] = UsedAndAllowed
			continue
		}
		if catalog.IsNoIAM(action) {
			continue
		}
		labels[action] = InvokedNotGranted
	}

	for action := range allowed {
		if _, ok := labels[action]; ok {
			continue
		}
		if recorded.IsRecordedByCloudTrail(action) {
			labels[action] = GrantedNotInvoked
		} else {
			labels[action] = GrantedNotLogged
		}
	}

	return labels
}

// jsonDiff fixes the key order of the machine-readable diff.
type jsonDiff struct {
	PerformedAndAllowed           []string `json:"PERFORMED_AND_ALLOWED"`
	PerformedButNotAllowed        []string `json:"PERFORMED_BUT_NOT_ALLOWED"`
	AllowedButNotPerformed        []string `json:"ALLOWED_BUT_NOT_PERFORMED"`
	AllowedButNotKnownIfPerformed []string `json:"ALLOWED_BUT_NOT_KNOWN_IF_PERFORMED"`
}

// printJSON writes the diff as a single JSON line. Suppressed labels render
// as empty arrays so the shape is stable across filter settings.
func printJSON(w io.Writer, labels map[string]Label, filter Filter) error {
	diff := jsonDiff{
		PerformedAndAllowed:           []string{},
		PerformedButNotAllowed:        []string{},
		AllowedButNotPerformed:        []string{},
		AllowedButNotKnownIfPerformed: []string{},
	}

	for _, action := range sortedKeys(labels) {
		if !filter.ShowBenign && isBenign(action) {
			continue
		}

		switch labels[action] {
		case UsedAndAllowed:
			diff.PerformedAndAllowed = append(diff.PerformedAndAllowed, action)
		case InvokedNotGranted:
			diff.PerformedButNotAllowed = append(diff.PerformedButNotAllowed, action)
		case GrantedNotInvoked:
			if filter.ShowUsed {
				continue
			}
			diff.AllowedButNotPerformed = append(diff.AllowedButNotPerformed, action)
		case GrantedNotLogged:
			if filter.ShowUsed || !filter.ShowUnknown {
				continue
			}
			diff.AllowedButNotKnownIfPerformed = append(diff.AllowedButNotKnownIfPerformed, action)
		}
	}

	data, err := json.Marshal(diff)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

// PrintActorDiff writes the two-way principal diff to w: principals that
// exist and acted plain, principals that exist but never acted with a "- "
// prefix. Principals that acted but no longer exist are not shown.
func PrintActorDiff(w io.Writer, performed map[string]bool, allowed []string, useColor bool) error {
	actors := make([]string, 0, len(allowed))
	actors = append(actors, allowed...)
	sort.Strings(actors)

	for _, actor := range actors {
		if performed[actor] {
			if err := printLine(w, usedStyle, useColor, "  "+actor); err != nil {
				return err
			}
			continue
		}
		if err := printLine(w, unusedStyle, useColor, "- "+actor); err != nil {
			return err
		}
	}
	return nil
}

// isBenign matches read-only enumeration actions that cannot change or leak
// resource contents.
func isBenign(action string) bool {
	return strings.Contains(action, ":list") || strings.Contains(action, ":describe")
}

func printLine(w io.Writer, style lipgloss.Style, useColor bool, line string) error {
	if useColor {
		line = style.Render(line)
	}
	_, err := fmt.Fprintln(w, line)
	return err
}

func sortedKeys(labels map[string]Label) []string {
	keys := make([]string, 0, len(labels))
	for key := range labels {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
