package backend

import "testing"

func TestLikePatternEscapesWildcards(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"refund":    "%refund%",
		"50%":       `%50\%%`,
		"a_b":       `%a\_b%`,
		`back\path`: `%back\\path%`,
		"":          "%%",
	}
	for in, want := range cases {
		if got := LikePattern(in); got != want {
			t.Fatalf("LikePattern(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNullableType(t *testing.T) {
	t.Parallel()

	if NullableType("") != nil {
		t.Fatal("expected nil for empty type")
	}
	if got := NullableType("image/png"); got == nil || *got != "image/png" {
		t.Fatalf("NullableType = %v, want image/png", got)
	}
}
