package models

import "testing"

func TestNormalizeLimit_DefaultsMissingValue(t *testing.T) {
	if got := normalizeLimit(nil); got != defaultPageSize {
		t.Fatalf("expected default %d, got %d", defaultPageSize, got)
	}
}

func TestNormalizeLimit_ClampsOutOfRange(t *testing.T) {
	cases := []int{0, -5, maxPageSize + 1}
	for _, limit := range cases {
		limit := limit
		if got := normalizeLimit(&limit); got != defaultPageSize {
			t.Fatalf("limit %d: expected default %d, got %d", limit, defaultPageSize, got)
		}
	}
}

func TestNormalizeLimit_KeepsValidValue(t *testing.T) {
	limit := 25
	if got := normalizeLimit(&limit); got != 25 {
		t.Fatalf("expected 25, got %d", got)
	}
	limit = maxPageSize
	if got := normalizeLimit(&limit); got != maxPageSize {
		t.Fatalf("expected %d, got %d", maxPageSize, got)
	}
}
