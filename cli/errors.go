package cli

import (
	"fmt"
	"io"
	"os"
	"sort"

	trackererrors "github.com/byteness/cloudtracker/errors"
)

// FormatErrorWithSuggestion writes error to stderr with suggestion if available.
// Returns the original error for chaining.
func FormatErrorWithSuggestion(err error) error {
	return FormatErrorWithSuggestionTo(os.Stderr, err)
}

// FormatErrorWithSuggestionTo writes to a specific writer (for testing).
// Returns the original error for chaining.
func FormatErrorWithSuggestionTo(w io.Writer, err error) error {
	if err == nil {
		return nil
	}

	trackErr, ok := trackererrors.IsTrackerError(err)
	if ok {
		fmt.Fprintf(w, "Error: %s\n", trackErr.Error())
		if suggestion := trackErr.Suggestion(); suggestion != "" {
			fmt.Fprintf(w, "\nSuggestion: %s\n", suggestion)
		}
		if ctx := trackErr.Context(); len(ctx) > 0 {
			fmt.Fprintf(w, "\nDetails:\n")
			keys := make([]string, 0, len(ctx))
			for k := range ctx {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Fprintf(w, "  %s: %s\n", k, ctx[k])
			}
		}
	} else {
		fmt.Fprintf(w, "Error: %v\n", err)
	}
	return err
}
