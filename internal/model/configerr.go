package model

import (
	"fmt"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// CueErrDetails flattens a CUE validation error into one human-readable line
// per failed constraint, suitable for the check command output.
func CueErrDetails(err error) []string {
	if err == nil {
		return nil
	}

	var out []string
	seen := make(map[string]struct{})
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		msg := fmt.Sprintf(format, args...)

		path := strings.Join(e.Path(), ".")
		line := msg
		if path != "" {
			line = path + ": " + msg
		}
		if pos := e.Position(); pos.IsValid() {
			line = fmt.Sprintf("%s (%s:%d)", line, pos.Filename(), pos.Line())
		}

		if _, ok := seen[line]; ok {
			continue
		}
		seen[line] = struct{}{}
		out = append(out, line)
	}
	return out
}
