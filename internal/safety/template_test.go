package safety

import (
	"errors"
	"testing"

	"github.com/google/uuid"

	"github.com/lmonteiro/warden/internal/db"
)

func makeTemplates(counts ...int) []*db.Template {
	templates := make([]*db.Template, len(counts))
	for i, c := range counts {
		templates[i] = &db.Template{
			ID:         uuid.New(),
			Body:       "Hi {name}, please answer our survey: {survey_url}",
			UsageCount: c,
			Active:     true,
		}
	}
	return templates
}

func TestSelectTemplate_LeastUsage(t *testing.T) {
	templates := makeTemplates(5, 2, 2, 8)

	selected, err := SelectTemplate(templates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != templates[1] {
		t.Fatal("expected first template with the minimum usage count")
	}

	// Simulate the caller's increment; the next pick rotates to the other
	// count-2 template.
	selected.UsageCount++

	selected, err = SelectTemplate(templates)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if selected != templates[2] {
		t.Fatal("expected rotation to the remaining minimum-usage template")
	}
}

func TestSelectTemplate_Empty(t *testing.T) {
	_, err := SelectTemplate(nil)
	if !errors.Is(err, ErrNoTemplates) {
		t.Fatalf("expected ErrNoTemplates, got %v", err)
	}
}

func TestSelectTemplate_SingleTemplate(t *testing.T) {
	templates := makeTemplates(42)

	for i := 0; i < 3; i++ {
		selected, err := SelectTemplate(templates)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if selected != templates[0] {
			t.Fatal("expected the only template every time")
		}
	}
}
