package safety

import (
	"errors"

	"github.com/lmonteiro/warden/internal/db"
)

// ErrNoTemplates is returned when template selection is requested with no
// active templates. Callers fall back to a built-in default body instead of
// failing the send.
var ErrNoTemplates = errors.New("no active templates available")

// SelectTemplate picks the active template with the lowest usage count; ties
// go to the first minimum in input order. Greedy least-usage keeps long-run
// exposure balanced across templates regardless of call pattern.
//
// The caller must increment the selected template's usage count exactly once
// per selection.
func SelectTemplate(templates []*db.Template) (*db.Template, error) {
	if len(templates) == 0 {
		return nil, ErrNoTemplates
	}

	selected := templates[0]
	for _, tmpl := range templates[1:] {
		if tmpl.UsageCount < selected.UsageCount {
			selected = tmpl
		}
	}

	return selected, nil
}
