package importer

import (
	"reflect"
	"testing"

	"bitbucket.org/chillercrew/chillerpage_backend/models"
)

// NOTE: These tests are intentionally DB-free. They run the rule pipeline
// over in-memory snapshots and validate its ordering and determinism
// guarantees.

func mustSnapshot(t *testing.T,
	corrections []*models.CorrectionRule,
	validations []*models.ValidationRule,
	scorings []*models.ScoringRule,
) *RuleSnapshot {
	t.Helper()
	snapshot, err := NewRuleSnapshot(corrections, validations, scorings)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return snapshot
}

func TestApply_NoRules_ZeroScoreAndFlag(t *testing.T) {
	snapshot := mustSnapshot(t, nil, nil, nil)
	drafts, _ := Parse("2023-09-01,Player1,100", "")

	entries := Apply("clan-1", drafts, snapshot)

	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
	e := entries[0]
	if e.Date != "2023-09-01" || e.Player != "Player1" || e.Score != 0 {
		t.Fatalf("unexpected entry: %+v", e)
	}
	if !e.Valid {
		t.Fatal("expected entry to stay valid with no validation rules")
	}
	if len(e.Flags) != 1 || e.Flags[0] != FlagNoScoringRuleMatched {
		t.Fatalf("expected only %q flag, got %v", FlagNoScoringRuleMatched, e.Flags)
	}
}

func TestApply_CorrectionThenValidation(t *testing.T) {
	snapshot := mustSnapshot(t,
		[]*models.CorrectionRule{
			{ID: 1, Column: models.RuleColumnPlayer, From: "player1", To: "Player1"},
		},
		[]*models.ValidationRule{
			{ID: 1, Column: models.RuleColumnPlayer, ExpectedValuePattern: "^[A-Z]"},
		},
		nil,
	)

	entries := Apply("clan-1", []DraftEntry{
		{Date: "2023-09-01", Player: "player1", ChestType: "Epic Chest", SourceLineNumber: 1},
	}, snapshot)

	e := entries[0]
	if e.Player != "Player1" {
		t.Fatalf("expected corrected player, got %q", e.Player)
	}
	if !e.Valid {
		t.Fatal("expected validation to pass on the corrected value")
	}
	for _, flag := range e.Flags {
		if flag == models.RuleColumnPlayer {
			t.Fatalf("unexpected validation flag: %v", e.Flags)
		}
	}
}

func TestApply_FailedValidation_FlagsButKeepsEntry(t *testing.T) {
	snapshot := mustSnapshot(t,
		nil,
		[]*models.ValidationRule{
			{ID: 1, Column: models.RuleColumnPlayer, ExpectedValuePattern: "^[A-Z]"},
		},
		nil,
	)

	entries := Apply("clan-1", []DraftEntry{
		{Date: "2023-09-01", Player: "player1", ChestType: "Epic Chest", SourceLineNumber: 1},
	}, snapshot)

	if len(entries) != 1 {
		t.Fatalf("expected invalid entry to stay in output, got %d entries", len(entries))
	}
	e := entries[0]
	if e.Valid {
		t.Fatal("expected entry to be invalid")
	}
	found := false
	for _, flag := range e.Flags {
		if flag == models.RuleColumnPlayer {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected %q flag, got %v", models.RuleColumnPlayer, e.Flags)
	}
}

func TestApply_ValidationOnAbsentColumn_VacuouslySatisfied(t *testing.T) {
	snapshot := mustSnapshot(t,
		nil,
		[]*models.ValidationRule{
			{ID: 1, Column: models.RuleColumnChestType, ExpectedValuePattern: "Chest$"},
		},
		nil,
	)

	entries := Apply("clan-1", []DraftEntry{
		{Date: "2023-09-01", Player: "Player1", RawScore: 100, SourceLineNumber: 1},
	}, snapshot)

	if !entries[0].Valid {
		t.Fatalf("expected entry without chest type to pass, flags: %v", entries[0].Flags)
	}
}

func TestApply_ScoringFirstMatchWins(t *testing.T) {
	// both rules match; the lower order must win even when listed second
	snapshot := mustSnapshot(t, nil, nil, []*models.ScoringRule{
		{ID: 20, Criteria: "Chest", Score: 5, Order: 2},
		{ID: 10, Criteria: "Epic", Score: 50, Order: 1},
	})

	entries := Apply("clan-1", []DraftEntry{
		{Date: "2023-09-01", Player: "Player1", ChestType: "Epic Chest", SourceLineNumber: 1},
	}, snapshot)

	e := entries[0]
	if e.Score != 50 {
		t.Fatalf("expected score 50 from the lower order rule, got %d", e.Score)
	}
	if !reflect.DeepEqual(e.AppliedRuleIds, []int{10}) {
		t.Fatalf("expected applied rule ids [10], got %v", e.AppliedRuleIds)
	}
}

func TestApply_ScoringLevelWindow(t *testing.T) {
	snapshot := mustSnapshot(t, nil, nil, []*models.ScoringRule{
		{ID: 1, Criteria: "Chest", MinLevel: 10, MaxLevel: 20, Score: 100, Order: 1},
		{ID: 2, Criteria: "Chest", Score: 1, Order: 2},
	})

	entries := Apply("clan-1", []DraftEntry{
		{Player: "A", ChestType: "Epic Chest", Level: 25, SourceLineNumber: 1},
		{Player: "B", ChestType: "Epic Chest", Level: 15, SourceLineNumber: 2},
	}, snapshot)

	if entries[0].Score != 1 {
		t.Fatalf("level 25 is outside [10,20], expected fallback score 1, got %d", entries[0].Score)
	}
	if entries[1].Score != 100 {
		t.Fatalf("level 15 is inside [10,20], expected score 100, got %d", entries[1].Score)
	}
}

func TestApply_CorrectionsAreIdempotent(t *testing.T) {
	corrections := []*models.CorrectionRule{
		{ID: 1, Column: models.RuleColumnPlayer, From: "player1", To: "Player1"},
		{ID: 2, Column: models.RuleColumnChestType, From: "epic", To: "Epic Chest"},
	}
	snapshot := mustSnapshot(t, corrections, nil, nil)

	once := Apply("clan-1", []DraftEntry{
		{Player: "player1", ChestType: "epic", SourceLineNumber: 1},
	}, snapshot)

	// feed the corrected entry back through the same snapshot
	twice := Apply("clan-1", []DraftEntry{once[0].DraftEntry}, snapshot)

	if !reflect.DeepEqual(once[0].DraftEntry, twice[0].DraftEntry) {
		t.Fatalf("re-applying corrections changed the entry: %+v vs %+v", once[0].DraftEntry, twice[0].DraftEntry)
	}
}

func TestApply_CorrectionsChainInStoredOrder(t *testing.T) {
	// the second rule must observe the first rule's rewrite
	corrections := []*models.CorrectionRule{
		{ID: 1, Column: models.RuleColumnPlayer, From: "p1", To: "player1"},
		{ID: 2, Column: models.RuleColumnPlayer, From: "player1", To: "Player1"},
	}
	snapshot := mustSnapshot(t, corrections, nil, nil)

	entries := Apply("clan-1", []DraftEntry{{Player: "p1", SourceLineNumber: 1}}, snapshot)

	if entries[0].Player != "Player1" {
		t.Fatalf("expected chained correction to yield Player1, got %q", entries[0].Player)
	}
}

func TestApply_OutputOrderEqualsInputOrder(t *testing.T) {
	snapshot := mustSnapshot(t,
		nil,
		[]*models.ValidationRule{
			{ID: 1, Column: models.RuleColumnPlayer, ExpectedValuePattern: "^[A-Z]"},
		},
		[]*models.ScoringRule{
			{ID: 1, Criteria: "Epic", Score: 10, Order: 1},
		},
	)

	drafts := []DraftEntry{
		{Player: "Alice", ChestType: "Epic Chest", SourceLineNumber: 1},
		{Player: "bob", ChestType: "Wood Chest", SourceLineNumber: 2},
		{Player: "Carol", ChestType: "Epic Chest", SourceLineNumber: 3},
	}

	entries := Apply("clan-1", drafts, snapshot)

	if len(entries) != len(drafts) {
		t.Fatalf("expected %d entries, got %d", len(drafts), len(entries))
	}
	for i := range entries {
		if entries[i].SourceLineNumber != drafts[i].SourceLineNumber {
			t.Fatalf("output reordered at index %d: %+v", i, entries[i])
		}
	}
}

func TestApply_DeterministicForSameSnapshot(t *testing.T) {
	snapshot := mustSnapshot(t,
		[]*models.CorrectionRule{
			{ID: 1, Column: models.RuleColumnPlayer, From: "p1", To: "Player1"},
		},
		[]*models.ValidationRule{
			{ID: 1, Column: models.RuleColumnPlayer, ExpectedValuePattern: "^[A-Z]"},
		},
		[]*models.ScoringRule{
			{ID: 1, Criteria: "Epic", Score: 10, Order: 1},
			{ID: 2, Criteria: "Chest", Score: 1, Order: 2},
		},
	)

	drafts, warnings := Parse("2023-09-01,p1,Epic Chest,250\nnonsense line\nBonus chest from: p1", "2023-09-01.csv")

	first := Apply("clan-1", drafts, snapshot)
	second := Apply("clan-1", drafts, snapshot)

	if !reflect.DeepEqual(first, second) {
		t.Fatalf("pipeline is not deterministic:\n%+v\n%+v", first, second)
	}
	if len(warnings) != 1 {
		t.Fatalf("expected 1 warning, got %v", warnings)
	}
}
