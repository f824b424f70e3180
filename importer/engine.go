package importer

import (
	"context"
	"regexp"
	"sort"
	"strconv"

	"bitbucket.org/chillercrew/chillerpage_backend/models"
)

// FlagNoScoringRuleMatched marks an entry no scoring rule claimed; its score
// stays zero.
const FlagNoScoringRuleMatched = "NoScoringRuleMatched"

// AnnotatedEntry is a draft entry after the rule pipeline ran, the unit the
// user reviews before commit.
type AnnotatedEntry struct {
	DraftEntry
	ClanId         string   `json:"clan_id"`
	Score          int      `json:"score"`
	Valid          bool     `json:"valid"`
	Flags          []string `json:"flags"`
	AppliedRuleIds []int    `json:"applied_rule_ids"`
}

type correctionStep struct {
	column string
	from   string
	to     string
}

type validationStep struct {
	column  string
	pattern *regexp.Regexp
}

type scoringStep struct {
	id       int
	order    int
	minLevel int
	maxLevel int
	score    int
	criteria *regexp.Regexp
}

// RuleSnapshot is one consistent, immutable read of a clan's three rule
// kinds with patterns pre-compiled. The engine only ever sees a snapshot,
// never the live store, so a rule edit mid-request cannot produce partial
// application.
type RuleSnapshot struct {
	corrections []correctionStep
	validations []validationStep
	scorings    []scoringStep
}

// NewRuleSnapshot compiles the rules into a snapshot. Scoring rules are
// evaluated in ascending order regardless of input ordering.
func NewRuleSnapshot(
	corrections []*models.CorrectionRule,
	validations []*models.ValidationRule,
	scorings []*models.ScoringRule,
) (*RuleSnapshot, error) {

	snapshot := &RuleSnapshot{}

	for _, rule := range corrections {
		column := rule.Column
		if column == "" {
			column = models.RuleColumnPlayer
		}
		snapshot.corrections = append(snapshot.corrections, correctionStep{
			column: column,
			from:   rule.From,
			to:     rule.To,
		})
	}
	for _, rule := range validations {
		pattern, err := regexp.Compile(rule.ExpectedValuePattern)
		if err != nil {
			return nil, err
		}
		snapshot.validations = append(snapshot.validations, validationStep{
			column:  rule.Column,
			pattern: pattern,
		})
	}
	for _, rule := range scorings {
		criteria, err := regexp.Compile(rule.Criteria)
		if err != nil {
			return nil, err
		}
		snapshot.scorings = append(snapshot.scorings, scoringStep{
			id:       rule.ID,
			order:    rule.Order,
			minLevel: rule.MinLevel,
			maxLevel: rule.MaxLevel,
			score:    rule.Score,
			criteria: criteria,
		})
	}
	sort.SliceStable(snapshot.scorings, func(i, j int) bool {
		return snapshot.scorings[i].order < snapshot.scorings[j].order
	})
	return snapshot, nil
}

// LoadRuleSnapshot reads the session clan's rules in one pass.
func LoadRuleSnapshot(ctx context.Context) (*RuleSnapshot, error) {
	corrections, err := models.GetCorrectionRules(ctx)
	if err != nil {
		return nil, err
	}
	validations, err := models.GetValidationRules(ctx)
	if err != nil {
		return nil, err
	}
	scorings, err := models.GetScoringRules(ctx)
	if err != nil {
		return nil, err
	}
	return NewRuleSnapshot(corrections, validations, scorings)
}

// Apply runs the fixed per-entry pipeline: corrections, then validations,
// then scoring. Output order equals input order and no entry is dropped.
// Given the same entries and snapshot the output is identical, there is no
// clock or external state in the pass.
func Apply(clanId string, entries []DraftEntry, snapshot *RuleSnapshot) []AnnotatedEntry {

	results := make([]AnnotatedEntry, 0, len(entries))
	for _, draft := range entries {
		annotated := AnnotatedEntry{
			DraftEntry: draft,
			ClanId:     clanId,
			Valid:      true,
		}

		snapshot.correct(&annotated.DraftEntry)
		snapshot.validate(&annotated)
		snapshot.scoreAnnotated(&annotated)

		results = append(results, annotated)
	}
	return results
}

// correct rewrites column values whose current value equals a rule's from
// value, case-sensitive, in stored rule order. Later rules observe earlier
// rewrites.
func (s *RuleSnapshot) correct(entry *DraftEntry) {
	for _, step := range s.corrections {
		current, _ := columnValue(entry, step.column)
		if current == step.from {
			setColumnValue(entry, step.column, step.to)
		}
	}
}

// validate flags every column whose (possibly corrected) value fails a rule
// targeting it. Columns absent from the entry are vacuously satisfied.
// Failing entries stay in the output, flagged for review.
func (s *RuleSnapshot) validate(entry *AnnotatedEntry) {
	for _, step := range s.validations {
		value, present := columnValue(&entry.DraftEntry, step.column)
		if !present {
			continue
		}
		if !step.pattern.MatchString(value) {
			entry.Valid = false
			entry.addFlag(step.column)
		}
	}
}

// scoreAnnotated assigns the first matching scoring rule's score,
// first-match-wins in ascending order. No match leaves the score at zero.
func (s *RuleSnapshot) scoreAnnotated(entry *AnnotatedEntry) {
	score, ruleId, matched := s.ScoreEntry(entry.ChestType, entry.Level)
	if !matched {
		entry.Score = 0
		entry.addFlag(FlagNoScoringRuleMatched)
		return
	}
	entry.Score = score
	entry.AppliedRuleIds = append(entry.AppliedRuleIds, ruleId)
}

// ScoreEntry runs only the scoring pass, a linear scan in ascending order
// that short-circuits on the first match. Rescoring persisted entries reuses
// this.
func (s *RuleSnapshot) ScoreEntry(chestType string, level int) (score int, ruleId int, matched bool) {
	for _, step := range s.scorings {
		if level < step.minLevel {
			continue
		}
		if step.maxLevel != 0 && level > step.maxLevel {
			continue
		}
		if step.criteria.MatchString(chestType) {
			return step.score, step.id, true
		}
	}
	return 0, 0, false
}

func (entry *AnnotatedEntry) addFlag(flag string) {
	for _, existing := range entry.Flags {
		if existing == flag {
			return
		}
	}
	entry.Flags = append(entry.Flags, flag)
}

func columnValue(entry *DraftEntry, column string) (string, bool) {
	switch column {
	case models.RuleColumnPlayer:
		return entry.Player, entry.Player != ""
	case models.RuleColumnChestType:
		return entry.ChestType, entry.ChestType != ""
	case models.RuleColumnDate:
		return entry.Date, entry.Date != ""
	case models.RuleColumnLevel:
		return strconv.Itoa(entry.Level), entry.Level != 0
	case models.RuleColumnRawScore:
		return strconv.Itoa(entry.RawScore), entry.RawScore != 0
	}
	return "", false
}

func setColumnValue(entry *DraftEntry, column string, value string) {
	switch column {
	case models.RuleColumnPlayer:
		entry.Player = value
	case models.RuleColumnChestType:
		entry.ChestType = value
	case models.RuleColumnDate:
		entry.Date = value
	case models.RuleColumnLevel:
		if n, err := strconv.Atoi(value); err == nil {
			entry.Level = n
		}
	case models.RuleColumnRawScore:
		if n, err := strconv.Atoi(value); err == nil {
			entry.RawScore = n
		}
	}
}
