package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

// CorrectionRule rewrites an exact (case-sensitive) column value before
// validation and scoring. The default column is the player name; that is
// where game exports misspell most.
type CorrectionRule struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ClanId    string    `gorm:"index;not null" json:"clan_id"`
	Column    string    `gorm:"column:target_column;size:30;not null;default:player" json:"column"`
	From      string    `gorm:"column:from_value;size:255;not null" json:"from" binding:"required"`
	To        string    `gorm:"column:to_value;size:255;not null" json:"to" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewCorrectionRule struct {
	Column string `json:"column"`
	From   string `json:"from" binding:"required"`
	To     string `json:"to" binding:"required"`
}

func (input *NewCorrectionRule) normalize() error {
	if input.Column == "" {
		input.Column = RuleColumnPlayer
	}
	if !IsValidRuleColumn(input.Column) {
		return errors.New("invalid rule column")
	}
	if input.From == "" {
		return errors.New("from is required")
	}
	return nil
}

func CreateCorrectionRule(ctx context.Context, input *NewCorrectionRule) (*CorrectionRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if err := input.normalize(); err != nil {
		return nil, err
	}

	rule := CorrectionRule{
		ClanId: clanId,
		Column: input.Column,
		From:   input.From,
		To:     input.To,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Create(&rule).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryCreate(tx, rule.ID, &rule, "Correction rule created: "+rule.From+" -> "+rule.To); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &rule, tx.Commit().Error
}

func UpdateCorrectionRule(ctx context.Context, id int, input *NewCorrectionRule) (*CorrectionRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if err := input.normalize(); err != nil {
		return nil, err
	}

	current, err := utils.FetchModel[CorrectionRule](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	rule := CorrectionRule{ID: id, ClanId: clanId}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Model(&rule).Updates(map[string]interface{}{
		"Column": input.Column,
		"From":   input.From,
		"To":     input.To,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx, id, current, "Correction rule updated"); err != nil {
		tx.Rollback()
		return nil, err
	}

	rule.Column = input.Column
	rule.From = input.From
	rule.To = input.To
	return &rule, tx.Commit().Error
}

func DeleteCorrectionRule(ctx context.Context, id int) (*CorrectionRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	result, err := utils.FetchModel[CorrectionRule](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Delete(&result).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryDelete(tx, id, result, "Correction rule deleted"); err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit().Error
}

// GetCorrectionRules returns rules in stored order; the engine applies them
// sequentially so later rules observe earlier rewrites.
func GetCorrectionRules(ctx context.Context) ([]*CorrectionRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	db := config.GetDB()
	var results []*CorrectionRule
	if err := db.WithContext(ctx).Where("clan_id = ?", clanId).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
