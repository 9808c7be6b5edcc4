package textutil

import "testing"

func TestSanitizeFreeText(t *testing.T) {
	cases := []struct {
		name     string
		input    string
		expected string
	}{
		{"plain text passes through", "looks great, ship it", "looks great, ship it"},
		{"markup stripped", "<script>alert(1)</script>bad glaze on the rim", "bad glaze on the rim"},
		{"tags removed keeping text", "please use <b>matte</b> finish", "please use matte finish"},
		{"whitespace trimmed", "  extra padding  ", "extra padding"},
		{"empty input", "", ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := SanitizeFreeText(tc.input); got != tc.expected {
				t.Fatalf("expected %q got %q", tc.expected, got)
			}
		})
	}
}
