package models

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"github.com/google/uuid"
)

type Clan struct {
	ID          uuid.UUID `gorm:"primary_key" json:"id"`
	LogoUrl     string    `json:"logo_url"`
	Name        string    `gorm:"index;size:100;not null" json:"name" binding:"required"`
	Tag         string    `gorm:"size:10" json:"tag"`
	Description string    `gorm:"type:text" json:"description"`
	Email       string    `gorm:"size:255" json:"email"`
	Phone       string    `gorm:"size:20" json:"phone"`
	Website     string    `gorm:"size:255" json:"website"`
	Locale      string    `gorm:"size:10" json:"locale"`
	Timezone    string    `gorm:"size:50" json:"timezone"`
	GameServer  string    `gorm:"size:50" json:"game_server"`
	IsActive    *bool     `gorm:"not null;default:true" json:"is_active"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewClan struct {
	LogoUrl     string `json:"logo_url"`
	Name        string `json:"name" binding:"required"`
	Tag         string `json:"tag"`
	Description string `json:"description"`
	Email       string `json:"email" binding:"required"`
	Phone       string `json:"phone"`
	Website     string `json:"website"`
	Locale      string `json:"locale"`
	Timezone    string `json:"timezone"`
	GameServer  string `json:"game_server"`
}

func (clan *Clan) StoreRedis() error {
	return config.SetRedisObject("Clan:"+fmt.Sprint(clan.ID), clan, 0)
}

func (clan *Clan) RemoveRedis() error {
	return config.RemoveRedisKey("Clan:" + fmt.Sprint(clan.ID))
}

func (input *NewClan) validate(ctx context.Context, id string) error {
	// name
	if err := utils.ValidateUnique[Clan](ctx, "", "name", input.Name, id); err != nil {
		return err
	}
	// email
	if err := utils.ValidateUnique[Clan](ctx, "", "email", input.Email, id); err != nil {
		return err
	}
	if input.Email != "" && !utils.IsValidEmail(input.Email) {
		return errors.New("invalid email address")
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return errors.New("invalid phone number")
		}
	}
	return nil
}

// CreateClan bootstraps a tenant:
// - the clan row
// - its modules
// - an 'Owner' role + owner user with full permissions
func CreateClan(ctx context.Context, input *NewClan) (*Clan, error) {
	// only admin have access
	if err := input.validate(ctx, ""); err != nil {
		return nil, err
	}
	db := config.GetDB()

	tx := db.WithContext(ctx).Begin()

	timezone := "Europe/Berlin"
	if input.Timezone != "" {
		timezone = input.Timezone
	}

	clan := Clan{
		ID:          uuid.New(),
		LogoUrl:     input.LogoUrl,
		Name:        input.Name,
		Tag:         input.Tag,
		Description: input.Description,
		Email:       input.Email,
		Phone:       input.Phone,
		Website:     input.Website,
		Locale:      input.Locale,
		Timezone:    timezone,
		GameServer:  input.GameServer,
		IsActive:    utils.NewTrue(),
	}

	err := tx.WithContext(ctx).Create(&clan).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	clanId := clan.ID.String()
	ctx = utils.SetClanIdInContext(ctx, clanId)

	// create modules for clan
	modules, err := CreateDefaultModules(tx, ctx, clanId)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	owner, err := CreateDefaultOwner(tx, ctx, clanId, clan.Email, clan.Name)
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	// gives permission to owner
	for _, module := range modules {
		roleModule := RoleModule{
			ClanId:         clanId,
			RoleId:         owner.RoleId,
			ModuleId:       module.ID,
			AllowedActions: module.Actions,
		}
		if err := tx.WithContext(ctx).Create(&roleModule).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	return &clan, tx.Commit().Error
}

func GetClanById(ctx context.Context, clanId string) (*Clan, error) {
	var clan Clan
	exists, err := config.GetRedisObject("Clan:"+clanId, &clan)
	if err != nil {
		return nil, err
	}
	if exists {
		return &clan, nil
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Clan{}).Where("id = ?", clanId).First(&clan).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}
	if err := clan.StoreRedis(); err != nil {
		return nil, err
	}
	return &clan, nil
}

// GetClan resolves the clan of the current request context.
func GetClan(ctx context.Context) (*Clan, error) {
	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	return GetClanById(ctx, clanId)
}

func UpdateClan(ctx context.Context, id string, input *NewClan) (*Clan, error) {

	if err := input.validate(ctx, id); err != nil {
		return nil, err
	}

	db := config.GetDB()
	var clan Clan
	if err := db.WithContext(ctx).Model(&Clan{}).Where("id = ?", id).First(&clan).Error; err != nil {
		return nil, utils.ErrorRecordNotFound
	}

	tx := db.WithContext(ctx).Begin()
	err := tx.WithContext(ctx).Model(&clan).Updates(map[string]interface{}{
		"LogoUrl":     input.LogoUrl,
		"Name":        input.Name,
		"Tag":         input.Tag,
		"Description": input.Description,
		"Email":       input.Email,
		"Phone":       input.Phone,
		"Website":     input.Website,
		"Locale":      input.Locale,
		"Timezone":    input.Timezone,
		"GameServer":  input.GameServer,
	}).Error
	if err != nil {
		tx.Rollback()
		return nil, err
	}

	if err := clan.RemoveRedis(); err != nil {
		tx.Rollback()
		return nil, err
	}

	return &clan, tx.Commit().Error
}

func GetAllClans(ctx context.Context) ([]*Clan, error) {
	// only admin have access
	db := config.GetDB()
	var results []*Clan
	if err := db.WithContext(ctx).Order("name").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
