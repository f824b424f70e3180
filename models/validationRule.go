package models

import (
	"context"
	"errors"
	"regexp"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

// ValidationRule checks one draft-entry column against a regular expression.
// Entries failing a rule are flagged with the column name but never dropped.
type ValidationRule struct {
	ID                   int       `gorm:"primary_key" json:"id"`
	ClanId               string    `gorm:"index;not null" json:"clan_id"`
	Column               string    `gorm:"column:target_column;size:30;not null" json:"column" binding:"required"`
	ExpectedValuePattern string    `gorm:"size:500;not null" json:"expected_value_pattern" binding:"required"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewValidationRule struct {
	Column               string `json:"column" binding:"required"`
	ExpectedValuePattern string `json:"expected_value_pattern" binding:"required"`
}

func (input *NewValidationRule) validate() error {
	if !IsValidRuleColumn(input.Column) {
		return errors.New("invalid rule column")
	}
	if _, err := regexp.Compile(input.ExpectedValuePattern); err != nil {
		return errors.New("invalid expected value pattern")
	}
	return nil
}

func CreateValidationRule(ctx context.Context, input *NewValidationRule) (*ValidationRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	rule := ValidationRule{
		ClanId:               clanId,
		Column:               input.Column,
		ExpectedValuePattern: input.ExpectedValuePattern,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Create(&rule).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryCreate(tx, rule.ID, &rule, "Validation rule created for "+rule.Column); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &rule, tx.Commit().Error
}

func UpdateValidationRule(ctx context.Context, id int, input *NewValidationRule) (*ValidationRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	current, err := utils.FetchModel[ValidationRule](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	rule := ValidationRule{ID: id, ClanId: clanId}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Model(&rule).Updates(map[string]interface{}{
		"Column":               input.Column,
		"ExpectedValuePattern": input.ExpectedValuePattern,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx, id, current, "Validation rule updated"); err != nil {
		tx.Rollback()
		return nil, err
	}

	rule.Column = input.Column
	rule.ExpectedValuePattern = input.ExpectedValuePattern
	return &rule, tx.Commit().Error
}

func DeleteValidationRule(ctx context.Context, id int) (*ValidationRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	result, err := utils.FetchModel[ValidationRule](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Delete(&result).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryDelete(tx, id, result, "Validation rule deleted"); err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit().Error
}

func GetValidationRules(ctx context.Context) ([]*ValidationRule, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	db := config.GetDB()
	var results []*ValidationRule
	if err := db.WithContext(ctx).Where("clan_id = ?", clanId).Order("id").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
