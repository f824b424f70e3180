package models

import (
	"context"

	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"gorm.io/gorm"
)

func CreateDefaultModules(tx *gorm.DB, ctx context.Context, clanId string) ([]Module, error) {

	defaultModules := GetDefaultModules()

	var modules []Module
	for k, v := range defaultModules {
		modules = append(modules, Module{
			ClanId:  clanId,
			Name:    k,
			Actions: v,
		})
	}

	if err := tx.WithContext(ctx).Create(&modules).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	return modules, nil
}

func CreateDefaultOwner(tx *gorm.DB, ctx context.Context, clanId string, email string, name string) (*User, error) {

	ownerRole := Role{
		Name:   "Owner",
		ClanId: clanId,
	}
	if err := tx.WithContext(ctx).Create(&ownerRole).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	hashedPassword, err := utils.HashPassword("default123")
	if err != nil {
		return &User{}, err
	}

	owner := User{
		ClanId:   clanId,
		Username: email,
		Name:     name,
		Email:    &email,
		Password: string(hashedPassword),
		IsActive: utils.NewTrue(),
		RoleId:   ownerRole.ID,
		Role:     UserRoleOwner,
	}
	if err := tx.WithContext(ctx).Create(&owner).Error; err != nil {
		tx.Rollback()
		return nil, err
	}

	return &owner, nil
}
