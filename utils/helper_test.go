package utils

import (
	"context"
	"strings"
	"testing"
)

func TestShortCode(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		code := ShortCode()
		if len(code) != 8 {
			t.Fatalf("expected 8 chars, got %q", code)
		}
		if code != strings.ToUpper(code) {
			t.Fatalf("expected uppercase, got %q", code)
		}
		if seen[code] {
			t.Fatalf("duplicate code %q within 100 draws", code)
		}
		seen[code] = true
	}
}

func TestUniqueSlice(t *testing.T) {
	got := UniqueSlice([]int{3, 1, 3, 2, 1})
	if len(got) != 3 {
		t.Fatalf("expected 3 unique values, got %v", got)
	}
	// First-seen order is preserved.
	if got[0] != 3 || got[1] != 1 || got[2] != 2 {
		t.Fatalf("unexpected order: %v", got)
	}
}

func TestActorFromContext(t *testing.T) {
	ctx := context.Background()
	if actor := ActorFromContext(ctx); actor != "system" {
		t.Fatalf("expected system fallback, got %q", actor)
	}

	ctx = SetUserNameInContext(ctx, "Wanjiku")
	if actor := ActorFromContext(ctx); actor != "Wanjiku" {
		t.Fatalf("expected Wanjiku, got %q", actor)
	}
}
