package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

// Message is a private note between two clan users.
type Message struct {
	ID          int        `gorm:"primary_key" json:"id"`
	ClanId      string     `gorm:"index;not null" json:"clan_id"`
	SenderId    int        `gorm:"index;not null" json:"sender_id"`
	RecipientId int        `gorm:"index;not null" json:"recipient_id"`
	Subject     string     `gorm:"size:255" json:"subject"`
	Body        string     `gorm:"type:text;not null" json:"body"`
	IsRead      *bool      `gorm:"not null;default:false" json:"is_read"`
	ReadAt      *time.Time `json:"read_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
}

type NewMessage struct {
	RecipientId int    `json:"recipient_id" binding:"required"`
	Subject     string `json:"subject"`
	Body        string `json:"body" binding:"required"`
}

func SendMessage(ctx context.Context, input *NewMessage) (*Message, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	senderId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || senderId == 0 {
		return nil, errors.New("user id is required")
	}
	if input.RecipientId == senderId {
		return nil, errors.New("cannot message yourself")
	}
	// recipient must belong to the same clan
	if err := utils.ValidateResourceId[User](ctx, clanId, input.RecipientId); err != nil {
		return nil, errors.New("recipient not found")
	}

	message := Message{
		ClanId:      clanId,
		SenderId:    senderId,
		RecipientId: input.RecipientId,
		Subject:     input.Subject,
		Body:        input.Body,
		IsRead:      utils.NewFalse(),
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Create(&message).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := NotifyUser(ctx, tx, clanId, input.RecipientId, NotificationKindMessageReceived, message.ID, "messages", input.Subject); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &message, tx.Commit().Error
}

// MarkMessageRead is idempotent; only the recipient may call it.
func MarkMessageRead(ctx context.Context, id int) (*Message, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	result, err := utils.FetchModel[Message](ctx, clanId, id)
	if err != nil {
		return nil, err
	}
	if result.RecipientId != userId {
		return nil, errors.New("not the recipient")
	}
	if *result.IsRead {
		return result, nil
	}

	now := time.Now().UTC()
	db := config.GetDB()
	if err := db.WithContext(ctx).Model(&Message{ID: id}).Updates(map[string]interface{}{
		"IsRead": utils.NewTrue(),
		"ReadAt": &now,
	}).Error; err != nil {
		return nil, err
	}
	result.IsRead = utils.NewTrue()
	result.ReadAt = &now
	return result, nil
}

func DeleteMessage(ctx context.Context, id int) (*Message, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	result, err := utils.FetchModel[Message](ctx, clanId, id)
	if err != nil {
		return nil, err
	}
	if result.SenderId != userId && result.RecipientId != userId {
		return nil, errors.New("not a participant")
	}

	db := config.GetDB()
	if err := db.WithContext(ctx).Delete(&result).Error; err != nil {
		return nil, err
	}
	return result, nil
}

// GetMessages returns the inbox (or outbox) of the session user.
func GetMessages(ctx context.Context, sent bool) ([]*Message, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("clan_id = ?", clanId)
	if sent {
		dbCtx.Where("sender_id = ?", userId)
	} else {
		dbCtx.Where("recipient_id = ?", userId)
	}
	var results []*Message
	if err := dbCtx.Order("created_at DESC").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
