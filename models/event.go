package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

type Event struct {
	ID          int         `gorm:"primary_key" json:"id"`
	ClanId      string      `gorm:"index;not null" json:"clan_id"`
	Title       string      `gorm:"size:255;not null" json:"title" binding:"required"`
	Description string      `gorm:"type:text" json:"description"`
	Location    string      `gorm:"size:255" json:"location"`
	StartsAt    time.Time   `gorm:"not null" json:"starts_at" binding:"required"`
	EndsAt      *time.Time  `json:"ends_at"`
	Status      EventStatus `gorm:"type:enum('Scheduled', 'Ongoing', 'Finished', 'Cancelled');default:Scheduled" json:"status"`
	CreatedBy   int         `gorm:"index;not null" json:"created_by"`
	CreatedAt   time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

type NewEvent struct {
	Title       string      `json:"title" binding:"required"`
	Description string      `json:"description"`
	Location    string      `json:"location"`
	StartsAt    time.Time   `json:"starts_at" binding:"required"`
	EndsAt      *time.Time  `json:"ends_at"`
	Status      EventStatus `json:"status"`
}

func (input *NewEvent) validate() error {
	if input.EndsAt != nil && input.EndsAt.Before(input.StartsAt) {
		return errors.New("ends_at must not be before starts_at")
	}
	return nil
}

func CreateEvent(ctx context.Context, input *NewEvent) (*Event, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok {
		return nil, errors.New("user id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	status := input.Status
	if status == "" {
		status = EventStatusScheduled
	}

	event := Event{
		ClanId:      clanId,
		Title:       input.Title,
		Description: input.Description,
		Location:    input.Location,
		StartsAt:    input.StartsAt,
		EndsAt:      input.EndsAt,
		Status:      status,
		CreatedBy:   userId,
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Create(&event).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryCreate(tx, event.ID, &event, "Event created: "+event.Title); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := NotifyClan(ctx, tx, clanId, NotificationKindEventCreated, event.ID, "events", event.Title); err != nil {
		tx.Rollback()
		return nil, err
	}
	return &event, tx.Commit().Error
}

func UpdateEvent(ctx context.Context, id int, input *NewEvent) (*Event, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if err := input.validate(); err != nil {
		return nil, err
	}

	current, err := utils.FetchModel[Event](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	event := Event{ID: id, ClanId: clanId}

	updates := map[string]interface{}{
		"Title":       input.Title,
		"Description": input.Description,
		"Location":    input.Location,
		"StartsAt":    input.StartsAt,
		"EndsAt":      input.EndsAt,
	}
	if input.Status != "" {
		updates["Status"] = input.Status
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Model(&event).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx, id, current, "Event updated"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return utils.FetchModel[Event](ctx, clanId, id)
}

func DeleteEvent(ctx context.Context, id int) (*Event, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	result, err := utils.FetchModel[Event](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Delete(&result).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryDelete(tx, id, result, "Event deleted: "+result.Title); err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit().Error
}

func GetEvent(ctx context.Context, id int) (*Event, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	return utils.FetchModel[Event](ctx, clanId, id)
}

// GetEvents lists events; upcomingOnly filters out past and cancelled ones.
func GetEvents(ctx context.Context, upcomingOnly bool) ([]*Event, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("clan_id = ?", clanId)
	if upcomingOnly {
		dbCtx.Where("starts_at >= ? AND status <> ?", time.Now().UTC(), EventStatusCancelled)
	}
	var results []*Event
	if err := dbCtx.Order("starts_at").Find(&results).Error; err != nil {
		return nil, err
	}
	return results, nil
}
