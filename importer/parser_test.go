package importer

import (
	"strings"
	"testing"
)

// NOTE: These tests are intentionally DB-free. They validate the parsing
// semantics only; the commit path needs MySQL and is covered separately.

func TestParse_CsvLayout_FourColumns(t *testing.T) {
	entries, warnings := Parse("2023-09-01,Player1,Epic Chest,250", "")

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Date != "2023-09-01" || e.Player != "Player1" || e.ChestType != "Epic Chest" || e.RawScore != 250 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if e.PatternMatched != PatternCsv {
		t.Fatalf("expected pattern %q, got %q", PatternCsv, e.PatternMatched)
	}
	if e.SourceLineNumber != 1 {
		t.Fatalf("expected line number 1, got %d", e.SourceLineNumber)
	}
}

func TestParse_CsvLayout_ThirdColumnDigitsIsRawScore(t *testing.T) {
	entries, _ := Parse("2023-09-01,Player1,100", "")

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].RawScore != 100 {
		t.Fatalf("expected raw score 100, got %d", entries[0].RawScore)
	}
	if entries[0].ChestType != "" {
		t.Fatalf("expected empty chest type, got %q", entries[0].ChestType)
	}
}

func TestParse_CsvLayout_ThirdColumnTextIsChestType(t *testing.T) {
	entries, _ := Parse("2023-09-01,Player1,Wood Chest", "")

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].ChestType != "Wood Chest" || entries[0].RawScore != 0 {
		t.Fatalf("unexpected entry: %+v", entries[0])
	}
}

func TestParse_FreeTextLayout_ExtractsLevelAndDate(t *testing.T) {
	entries, warnings := Parse("Epic chest level 25 from: Player1 2023-09-01", "")

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.ChestType != "Epic chest" {
		t.Fatalf("expected chest type %q, got %q", "Epic chest", e.ChestType)
	}
	if e.Player != "Player1" {
		t.Fatalf("expected player %q, got %q", "Player1", e.Player)
	}
	if e.Level != 25 {
		t.Fatalf("expected level 25, got %d", e.Level)
	}
	if e.Date != "2023-09-01" {
		t.Fatalf("expected date 2023-09-01, got %q", e.Date)
	}
	if e.PatternMatched != PatternFreeText {
		t.Fatalf("expected pattern %q, got %q", PatternFreeText, e.PatternMatched)
	}
}

func TestParse_FreeTextLayout_DateFromFilename(t *testing.T) {
	entries, _ := Parse("Bonus chest from Player2", "chests_2023-09-15.csv")

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if entries[0].Date != "2023-09-15" {
		t.Fatalf("expected filename date 2023-09-15, got %q", entries[0].Date)
	}
}

func TestParse_UnrecognizedLine_WarnsAndContinues(t *testing.T) {
	raw := strings.Join([]string{
		"2023-09-01,Player1,Epic Chest,250",
		"this line matches nothing",
		"2023-09-01,Player2,Wood Chest,10",
	}, "\n")

	entries, warnings := Parse(raw, "")

	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}
	if warnings[0].LineNumber != 2 {
		t.Fatalf("expected warning on line 2, got %d", warnings[0].LineNumber)
	}
	if warnings[0].Kind != WarningUnrecognizedLineFormat {
		t.Fatalf("expected kind %q, got %q", WarningUnrecognizedLineFormat, warnings[0].Kind)
	}
	// order preserved, line numbers 1-based
	if entries[0].SourceLineNumber != 1 || entries[1].SourceLineNumber != 3 {
		t.Fatalf("unexpected line numbers: %d, %d", entries[0].SourceLineNumber, entries[1].SourceLineNumber)
	}
}

func TestParse_InvalidDateFallsThroughToWarning(t *testing.T) {
	entries, warnings := Parse("2023-13-45,Player1,100", "")

	if len(entries) != 0 {
		t.Fatalf("expected no entries, got %d", len(entries))
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %d", len(warnings))
	}
}

func TestParse_BlankLinesSkippedWithoutWarning(t *testing.T) {
	entries, warnings := Parse("\n\n2023-09-01,Player1,100\n\n", "")

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", warnings)
	}
	if entries[0].SourceLineNumber != 3 {
		t.Fatalf("expected line number 3, got %d", entries[0].SourceLineNumber)
	}
}
