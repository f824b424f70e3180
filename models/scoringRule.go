package models

import (
	"context"
	"errors"
	"regexp"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"gorm.io/gorm/clause"
)

// ErrorRuleOrderConflict is returned when a reorder request does not name
// every scoring rule of the clan exactly once. The stored order stays as is.
var ErrorRuleOrderConflict = errors.New("rule order conflict")

// ScoringRule assigns a score to a draft entry whose chest type matches
// Criteria and whose level falls inside [MinLevel, MaxLevel]. Rules are
// evaluated in ascending Order; the first match wins. Order is unique and
// dense (1..n) per clan.
type ScoringRule struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ClanId    string    `gorm:"index;not null" json:"clan_id"`
	Criteria  string    `gorm:"size:500;not null" json:"criteria" binding:"required"`
	MinLevel  int       `gorm:"not null;default:0" json:"min_level"`
	MaxLevel  int       `gorm:"not null;default:0" json:"max_level"`
	Score     int       `gorm:"not null" json:"score"`
	Order     int       `gorm:"column:rule_order;not null" json:"order"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewScoringRule struct {
	Criteria string `json:"criteria" binding:"required"`
	MinLevel int    `json:"min_level"`
	MaxLevel int    `json:"max_level"`
	Score    int    `json:"score"`
}

func (input *NewScoringRule) validate() error {
	if _, err := regexp.Compile(input.Criteria); err != nil {
		return errors.New("invalid criteria pattern")
	}
	if input.MaxLevel != 0 && input.MaxLevel < input.MinLevel {
		return errors.New("max_level must not be below min_level")
	}
	return nil
}

// CreateScoringRule appends the rule at the end of the clan's order.
func CreateScoringRule(ctx context.Context, input *NewScoringRule) (*ScoringRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	lock, err := utils.ObtainClanLock(ctx, clanId, "ScoringRuleLock", "scoringRule.go", "CreateScoringRule")
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()

	var maxOrder int
	if err := tx.WithContext(ctx).Model(&ScoringRule{}).
		Where("clan_id = ?", clanId).
		Select("COALESCE(MAX(rule_order), 0)").Scan(&maxOrder).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	rule := ScoringRule{
		ClanId:   clanId,
		Criteria: input.Criteria,
		MinLevel: input.MinLevel,
		MaxLevel: input.MaxLevel,
		Score:    input.Score,
		Order:    maxOrder + 1,
	}
	if err := tx.WithContext(ctx).Create(&rule).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryCreate(tx, rule.ID, &rule, "Scoring rule created: "+rule.Criteria); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &rule, tx.Commit().Error
}

// UpdateScoringRule changes criteria/levels/score. Order is only ever changed
// through UpdateScoringRuleOrder.
func UpdateScoringRule(ctx context.Context, id int, input *NewScoringRule) (*ScoringRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	current, err := utils.FetchModel[ScoringRule](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	rule := ScoringRule{ID: id, ClanId: clanId}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Model(&rule).Updates(map[string]interface{}{
		"Criteria": input.Criteria,
		"MinLevel": input.MinLevel,
		"MaxLevel": input.MaxLevel,
		"Score":    input.Score,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx, id, current, "Scoring rule updated"); err != nil {
		tx.Rollback()
		return nil, err
	}

	rule.Criteria = input.Criteria
	rule.MinLevel = input.MinLevel
	rule.MaxLevel = input.MaxLevel
	rule.Score = input.Score
	rule.Order = current.Order
	return &rule, tx.Commit().Error
}

// DeleteScoringRule removes the rule and closes the order gap so the
// remaining rules stay dense 1..n.
func DeleteScoringRule(ctx context.Context, id int) (*ScoringRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	lock, err := utils.ObtainClanLock(ctx, clanId, "ScoringRuleLock", "scoringRule.go", "DeleteScoringRule")
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	result, err := utils.FetchModel[ScoringRule](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Delete(&result).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	// close the gap
	if err := tx.WithContext(ctx).Model(&ScoringRule{}).
		Where("clan_id = ? AND rule_order > ?", clanId, result.Order).
		UpdateColumn("rule_order", gormExprOrderMinusOne()).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryDelete(tx, id, result, "Scoring rule deleted"); err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit().Error
}

func gormExprOrderMinusOne() clause.Expr {
	return clause.Expr{SQL: "rule_order - 1"}
}

// GetScoringRules returns the clan's rules in evaluation order.
func GetScoringRules(ctx context.Context) ([]*ScoringRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	db := config.GetDB()
	var results []*ScoringRule
	if err := db.WithContext(ctx).Where("clan_id = ?", clanId).Order("rule_order").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}

// UpdateScoringRuleOrder replaces the clan's rule order with orderedIds.
// The input must be a permutation of the clan's rule ids; anything else is a
// RuleOrderConflict and leaves the stored order untouched. Concurrent
// reorders serialize on the per-clan lock plus row locks; the last committed
// writer wins. The result is dense 1..n in input order.
func UpdateScoringRuleOrder(ctx context.Context, orderedIds []int) ([]*ScoringRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	lock, err := utils.ObtainClanLock(ctx, clanId, "ScoringRuleLock", "scoringRule.go", "UpdateScoringRuleOrder")
	if err != nil {
		return nil, err
	}
	defer lock.Release(ctx)

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()

	var rules []*ScoringRule
	if err := tx.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("clan_id = ?", clanId).Order("rule_order").Find(&rules).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	// permutation check: every existing id exactly once, nothing extra
	if len(orderedIds) != len(rules) {
		tx.Rollback()
		return nil, ErrorRuleOrderConflict
	}
	existing := make(map[int]*ScoringRule, len(rules))
	for _, rule := range rules {
		existing[rule.ID] = rule
	}
	seen := make(map[int]bool, len(orderedIds))
	for _, id := range orderedIds {
		if _, ok := existing[id]; !ok || seen[id] {
			tx.Rollback()
			return nil, ErrorRuleOrderConflict
		}
		seen[id] = true
	}

	before := make([]int, 0, len(rules))
	for _, rule := range rules {
		before = append(before, rule.ID)
	}

	for i, id := range orderedIds {
		if err := tx.WithContext(ctx).Model(&ScoringRule{}).
			Where("clan_id = ? AND id = ?", clanId, id).
			UpdateColumn("rule_order", i+1).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := createHistory(tx, "UPDATE", 0, "scoring_rules", before, orderedIds, "Scoring rules reordered"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return GetScoringRules(ctx)
}
