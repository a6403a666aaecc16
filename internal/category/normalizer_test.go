package category

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeFirstMatchWins(t *testing.T) {
	n, err := fromJSON([]byte(`[
		{"keywords": ["milk"], "category": "Dairy"},
		{"keywords": ["milk", "chocolate"], "category": "Snacks & Sweets"}
	]`))
	if err != nil {
		t.Fatal(err)
	}
	if got := n.Normalize("Chocolate milk 1L"); got != "Dairy" {
		t.Errorf("first matching rule should win, got %q", got)
	}
	if got := n.Normalize("Chocolate bar"); got != "Snacks & Sweets" {
		t.Errorf("second rule should match, got %q", got)
	}
}

func TestNormalizeDefaultAndDeterminism(t *testing.T) {
	n := New()
	if got := n.Normalize("quantum flux capacitor"); got != DefaultCategory {
		t.Errorf("unmatched input should map to %q, got %q", DefaultCategory, got)
	}
	if got := n.Normalize(""); got != DefaultCategory {
		t.Errorf("empty input should map to %q, got %q", DefaultCategory, got)
	}
	// Same input, same output, for any rule table state.
	first := n.Normalize("Whole MILK 3.2%")
	for i := 0; i < 5; i++ {
		if got := n.Normalize("Whole MILK 3.2%"); got != first {
			t.Fatalf("normalize is not deterministic: %q vs %q", got, first)
		}
	}
	if first != "Dairy" {
		t.Errorf("case-insensitive substring match failed, got %q", first)
	}
}

func TestNewFromFile(t *testing.T) {
	t.Run("valid file overrides embedded rules", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.json")
		content := `[{"keywords": ["espresso"], "category": "Coffee"}]`
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		n, err := NewFromFile(path)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if got := n.Normalize("double espresso"); got != "Coffee" {
			t.Errorf("file rule should apply, got %q", got)
		}
		if got := n.Normalize("milk"); got != DefaultCategory {
			t.Errorf("embedded rules should be replaced, got %q", got)
		}
	})

	t.Run("missing file falls back to embedded rules", func(t *testing.T) {
		n, err := NewFromFile(filepath.Join(t.TempDir(), "absent.json"))
		if err == nil {
			t.Error("expected an error for a missing file")
		}
		if n == nil {
			t.Fatal("fallback normalizer must not be nil")
		}
		if got := n.Normalize("milk"); got != "Dairy" {
			t.Errorf("fallback should use embedded rules, got %q", got)
		}
	})

	t.Run("malformed file falls back to embedded rules", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "rules.json")
		if err := os.WriteFile(path, []byte(`{"not": "a list"}`), 0o644); err != nil {
			t.Fatal(err)
		}
		n, err := NewFromFile(path)
		if err == nil {
			t.Error("expected an error for malformed rules")
		}
		if got := n.Normalize("milk"); got != "Dairy" {
			t.Errorf("fallback should use embedded rules, got %q", got)
		}
	})
}

func TestEmbeddedRulesAreValid(t *testing.T) {
	if _, err := fromJSON(embeddedRules); err != nil {
		t.Fatalf("embedded rule table must parse: %v", err)
	}
}
