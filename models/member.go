package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

// Member is a clan roster entry. Player is the in-game name chest imports
// are matched against.
type Member struct {
	ID           int        `gorm:"primary_key" json:"id"`
	ClanId       string     `gorm:"index;not null" json:"clan_id"`
	Player       string     `gorm:"index;size:255;not null" json:"player" binding:"required"`
	GameId       string     `gorm:"size:100" json:"game_id"`
	Rank         MemberRank `gorm:"type:enum('Leader', 'Officer', 'Veteran', 'Soldier', 'Recruit', 'Inactive');default:Recruit" json:"rank"`
	Phone        string     `gorm:"size:20" json:"phone"`
	AvatarUrl    string     `json:"avatar_url"`
	ThumbnailUrl string     `json:"thumbnail_url"`
	Notes        string     `gorm:"type:text" json:"notes"`
	JoinedAt     *time.Time `json:"joined_at"`
	IsActive     *bool      `gorm:"not null;default:true" json:"is_active"`
	CreatedAt    time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewMember struct {
	Player       string     `json:"player" binding:"required"`
	GameId       string     `json:"game_id"`
	Rank         MemberRank `json:"rank"`
	Phone        string     `json:"phone"`
	AvatarUrl    string     `json:"avatar_url"`
	ThumbnailUrl string     `json:"thumbnail_url"`
	Notes        string     `json:"notes"`
	JoinedAt     *time.Time `json:"joined_at"`
	IsActive     *bool      `json:"is_active"`
}

/*
cache
	MemberList:$clanId
*/

func (input *NewMember) validate(ctx context.Context, clanId string, id int) error {
	if err := utils.ValidateUnique[Member](ctx, clanId, "player", input.Player, id); err != nil {
		return err
	}
	if input.Phone != "" {
		if err := utils.ValidatePhoneNumber(input.Phone, utils.CountryCode); err != nil {
			return errors.New("invalid phone number")
		}
	}
	return nil
}

func CreateMember(ctx context.Context, input *NewMember) (*Member, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if err := input.validate(ctx, clanId, 0); err != nil {
		return nil, err
	}

	rank := input.Rank
	if rank == "" {
		rank = MemberRankRecruit
	}
	isActive := input.IsActive
	if isActive == nil {
		isActive = utils.NewTrue()
	}

	member := Member{
		ClanId:       clanId,
		Player:       input.Player,
		GameId:       input.GameId,
		Rank:         rank,
		Phone:        input.Phone,
		AvatarUrl:    input.AvatarUrl,
		ThumbnailUrl: input.ThumbnailUrl,
		Notes:        input.Notes,
		JoinedAt:     input.JoinedAt,
		IsActive:     isActive,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Create(&member).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryCreate(tx, member.ID, &member, "Member created: "+member.Player); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := utils.RemoveRedisList[Member](clanId); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &member, tx.Commit().Error
}

func UpdateMember(ctx context.Context, id int, input *NewMember) (*Member, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if err := input.validate(ctx, clanId, id); err != nil {
		return nil, err
	}

	current, err := utils.FetchModel[Member](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	member := Member{ID: id, ClanId: clanId}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Model(&member).Updates(map[string]interface{}{
		"Player":       input.Player,
		"GameId":       input.GameId,
		"Rank":         input.Rank,
		"Phone":        input.Phone,
		"AvatarUrl":    input.AvatarUrl,
		"ThumbnailUrl": input.ThumbnailUrl,
		"Notes":        input.Notes,
		"JoinedAt":     input.JoinedAt,
		"IsActive":     input.IsActive,
	}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx, id, current, "Member updated"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := utils.RemoveRedisList[Member](clanId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return utils.FetchModel[Member](ctx, clanId, id)
}

func DeleteMember(ctx context.Context, id int) (*Member, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	result, err := utils.FetchModel[Member](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Delete(&result).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryDelete(tx, id, result, "Member deleted: "+result.Player); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := utils.RemoveRedisList[Member](clanId); err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit().Error
}

func GetMember(ctx context.Context, id int) (*Member, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	return utils.FetchModel[Member](ctx, clanId, id)
}

// GetMembers lists the roster, redis or db.
func GetMembers(ctx context.Context) ([]*Member, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	results, err := utils.RetrieveRedisList[Member](clanId)
	if err != nil {
		return nil, err
	}
	if results == nil {
		db := config.GetDB()
		if err := db.WithContext(ctx).Where("clan_id = ?", clanId).Order("player").Find(&results).Error; err != nil {
			return nil, err
		}
		if err := utils.StoreRedisList[Member](results, clanId); err != nil {
			return nil, err
		}
	}
	return results, nil
}
