package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

type Module struct {
	ID        int       `gorm:"primary_key" json:"id"`
	ClanId    string    `gorm:"index;not null" json:"clan_id" binding:"required"`
	Name      string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Actions   string    `gorm:"not null" json:"actions" binding:"required"`
	CreatedAt time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewModule struct {
	Name    string `json:"name" binding:"required"`
	ClanId  string
	Actions string `json:"actions" binding:"required"`
}

/*
cache
	ModuleList:$clanId
*/

// Seeded per clan; actions are the semicolon-joined verbs a role may be granted.
func GetDefaultModules() map[string]string {
	return map[string]string{
		"ChestData":     "read;import;update;delete;rescore",
		"Rules":         "read;create;update;delete;reorder",
		"Members":       "read;create;update;delete",
		"Articles":      "read;create;update;delete",
		"Events":        "read;create;update;delete",
		"Messages":      "read;create;delete",
		"Notifications": "read;update",
		"History":       "read",
		"Reports":       "read",
	}
}

func (module Module) RemoveAllRedis() error {
	return config.RemoveRedisKey("ModuleList:" + module.ClanId)
}

// get ids of roles related to this module / have access
func (module *Module) getRelatedRoleIds(ctx context.Context) ([]int, error) {
	var roleIds []int
	db := config.GetDB()

	err := db.WithContext(ctx).Model(&RoleModule{}).Select("role_id").
		Where("clan_id = ? AND module_id = ?", module.ClanId, module.ID).Scan(&roleIds).Error
	if err != nil {
		return nil, err
	}
	return roleIds, nil
}

func (input *NewModule) validate(ctx context.Context, id int) error {
	if id == 0 {
		// check clanId exists
		if err := utils.ValidateResourceId[Clan](ctx, "", input.ClanId); err != nil {
			return errors.New("clan not found")
		}
	}
	// name
	if err := utils.ValidateUnique[Module](ctx, input.ClanId, "name", input.Name, id); err != nil {
		return err
	}
	return nil
}

func CreateModule(ctx context.Context, input *NewModule) (*Module, error) {

	// ONLY ADMIN can access
	db := config.GetDB()

	if err := input.validate(ctx, 0); err != nil {
		return nil, err
	}

	module := Module{
		Name:    input.Name,
		ClanId:  input.ClanId,
		Actions: input.Actions,
	}

	tx := db.WithContext(ctx).Begin()
	err := tx.WithContext(ctx).Create(&module).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// caching
	if err := module.RemoveAllRedis(); err != nil {
		tx.Rollback()
		return nil, err
	}

	return &module, tx.Commit().Error
}

func UpdateModule(ctx context.Context, id int, input *NewModule) (*Module, error) {

	// only admin can access
	db := config.GetDB()
	// check exists
	var count int64
	if err := db.WithContext(ctx).Model(&Module{}).Where("clan_id = ? AND id = ?", input.ClanId, id).Count(&count).Error; err != nil {
		return nil, err
	}
	if count <= 0 {
		return nil, utils.ErrorRecordNotFound
	}

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	module := Module{
		ID:      id,
		ClanId:  input.ClanId,
		Name:    input.Name,
		Actions: input.Actions,
	}

	tx := db.WithContext(ctx).Begin()
	err := tx.WithContext(ctx).Model(&module).Updates(map[string]interface{}{
		"Name":    input.Name,
		"Actions": input.Actions,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// caching
	if err := module.RemoveAllRedis(); err != nil {
		tx.Rollback()
		return nil, err
	}
	// roles holding permissions on this module have stale caches now
	roleIds, err := module.getRelatedRoleIds(ctx)
	if err != nil {
		tx.Rollback()
		return nil, err
	}
	for _, roleId := range roleIds {
		if err := utils.ClearPermissionCache(roleId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	return &module, tx.Commit().Error
}

func GetModules(ctx context.Context) ([]*Module, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	var results []*Module
	exists, err := config.GetRedisObject("ModuleList:"+clanId, &results)
	if err != nil {
		return nil, err
	}
	if !exists {
		db := config.GetDB()
		if err := db.WithContext(ctx).Where("clan_id = ?", clanId).Order("name").Find(&results).Error; err != nil {
			return nil, err
		}
		if err := config.SetRedisObject("ModuleList:"+clanId, &results, 0); err != nil {
			return nil, err
		}
	}
	return results, nil
}
