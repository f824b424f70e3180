package models

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Notification is one in-app notification for one user. Fan-out to
// external channels happens through NotificationOutbox after commit.
type Notification struct {
	ID            int              `gorm:"primary_key" json:"id"`
	ClanId        string           `gorm:"index;not null" json:"clan_id"`
	RecipientId   int              `gorm:"index;not null" json:"recipient_id"`
	Kind          NotificationKind `gorm:"size:50;not null" json:"kind"`
	Title         string           `gorm:"size:255" json:"title"`
	ReferenceId   int              `gorm:"not null" json:"reference_id"`
	ReferenceType string           `gorm:"size:50;not null" json:"reference_type"`
	IsRead        *bool            `gorm:"not null;default:false" json:"is_read"`
	ReadAt        *time.Time       `json:"read_at"`
	CreatedAt     time.Time        `gorm:"autoCreateTime" json:"created_at"`
}

// NotificationOutbox is the transactional outbox row for one notification.
// Rows are written in the same transaction as the Notification and picked
// up by the dispatcher after commit.
type NotificationOutbox struct {
	ID             int    `gorm:"primary_key;index:idx_notif_outbox_dispatch,priority:3" json:"id"`
	ClanId         string `gorm:"size:64;not null;index" json:"clan_id"`
	NotificationId int    `gorm:"index;not null" json:"notification_id"`
	RecipientId    int    `gorm:"not null" json:"recipient_id"`
	ReferenceId    int    `json:"reference_id"`
	ReferenceType  string `gorm:"size:50" json:"reference_type"`
	Kind           string `gorm:"size:50" json:"kind"`
	Payload        []byte `gorm:"type:blob" json:"payload"`
	// Outbox metadata (publish happens after commit via dispatcher).
	PublishStatus    string     `gorm:"size:20;index;not null;default:'PENDING';index:idx_notif_outbox_dispatch,priority:1" json:"publish_status"` // PENDING|PROCESSING|SENT|FAILED|DEAD
	PublishedAt      *time.Time `gorm:"index" json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:255" json:"pubsub_message_id"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `gorm:"index;index:idx_notif_outbox_dispatch,priority:2" json:"next_attempt_at"`
	LockedAt         *time.Time `gorm:"index" json:"locked_at"`
	LockedBy         *string    `gorm:"size:100" json:"locked_by"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	CorrelationId    string     `gorm:"size:64;index" json:"correlation_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

type notificationPayload struct {
	Title string `json:"title"`
}

func ConvertToNotificationMessage(record NotificationOutbox) config.NotificationMessage {
	return config.NotificationMessage{
		ID:            record.ID,
		ClanId:        record.ClanId,
		RecipientId:   record.RecipientId,
		ReferenceId:   record.ReferenceId,
		ReferenceType: record.ReferenceType,
		Kind:          record.Kind,
		Payload:       record.Payload,
		CreatedAt:     record.CreatedAt,
		CorrelationId: record.CorrelationId,
	}
}

func correlationIdFromContextOrNew(ctx context.Context) string {
	if id, ok := utils.GetCorrelationIdFromContext(ctx); ok && id != "" {
		return id
	}
	return uuid.NewString()
}

func notify(ctx context.Context, tx *gorm.DB, clanId string, recipientId int, kind NotificationKind, refId int, refType string, title string) error {

	notification := Notification{
		ClanId:        clanId,
		RecipientId:   recipientId,
		Kind:          kind,
		Title:         title,
		ReferenceId:   refId,
		ReferenceType: refType,
		IsRead:        utils.NewFalse(),
	}
	if err := tx.WithContext(ctx).Create(&notification).Error; err != nil {
		return err
	}

	payload, err := json.Marshal(notificationPayload{Title: title})
	if err != nil {
		return err
	}

	record := NotificationOutbox{
		ClanId:         clanId,
		NotificationId: notification.ID,
		RecipientId:    recipientId,
		ReferenceId:    refId,
		ReferenceType:  refType,
		Kind:           string(kind),
		Payload:        payload,
		PublishStatus:  OutboxPublishStatusPending,
		CorrelationId:  correlationIdFromContextOrNew(ctx),
	}
	return tx.WithContext(ctx).Create(&record).Error
}

// NotifyUser writes a notification plus its outbox row inside the caller's
// transaction.
func NotifyUser(ctx context.Context, tx *gorm.DB, clanId string, recipientId int, kind NotificationKind, refId int, refType string, title string) error {
	return notify(ctx, tx, clanId, recipientId, kind, refId, refType, title)
}

// NotifyClan fans out to every active user of the clan except the actor.
func NotifyClan(ctx context.Context, tx *gorm.DB, clanId string, kind NotificationKind, refId int, refType string, title string) error {

	actorId, _ := utils.GetUserIdFromContext(ctx)

	var users []*User
	if err := tx.WithContext(ctx).
		Where("clan_id = ? AND is_active = true", clanId).
		Find(&users).Error; err != nil {
		return err
	}
	for _, user := range users {
		if user.ID == actorId {
			continue
		}
		if err := notify(ctx, tx, clanId, user.ID, kind, refId, refType, title); err != nil {
			return err
		}
	}
	return nil
}

func (obj Notification) GetCursor() string {
	return strconv.Itoa(obj.ID)
}

type NotificationsConnection struct {
	Edges    []*NotificationsEdge `json:"edges"`
	PageInfo *PageInfo            `json:"page_info"`
}

type NotificationsEdge Edge[Notification]

// PaginateNotifications lists the session user's notifications, newest
// first, cursored on id.
func PaginateNotifications(ctx context.Context, limit *int, after *string, unreadOnly bool) (*NotificationsConnection, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}
	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("clan_id = ? AND recipient_id = ?", clanId, userId)
	if unreadOnly {
		dbCtx.Where("is_read = false")
	}
	edges, pageInfo, err := FetchPagePureCursor[Notification](dbCtx, normalizeLimit(limit), after, "id", "<")
	if err != nil {
		return nil, err
	}

	connection := NotificationsConnection{PageInfo: pageInfo}
	for i := range edges {
		edge := NotificationsEdge(edges[i])
		connection.Edges = append(connection.Edges, &edge)
	}
	return &connection, nil
}

func CountUnreadNotifications(ctx context.Context) (int64, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return 0, errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return 0, errors.New("user id is required")
	}

	db := config.GetDB()
	var count int64
	err := db.WithContext(ctx).Model(&Notification{}).
		Where("clan_id = ? AND recipient_id = ? AND is_read = false", clanId, userId).
		Count(&count).Error
	return count, err
}

// MarkNotificationRead is idempotent; only the recipient may call it.
func MarkNotificationRead(ctx context.Context, id int) (*Notification, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	result, err := utils.FetchModel[Notification](ctx, clanId, id)
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
	if err := db.WithContext(ctx).Model(&Notification{ID: id}).Updates(map[string]interface{}{
		"IsRead": utils.NewTrue(),
		"ReadAt": &now,
	}).Error; err != nil {
		return nil, err
	}
	result.IsRead = utils.NewTrue()
	result.ReadAt = &now
	return result, nil
}

func MarkAllNotificationsRead(ctx context.Context) error {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return errors.New("user id is required")
	}

	now := time.Now().UTC()
	db := config.GetDB()
	return db.WithContext(ctx).Model(&Notification{}).
		Where("clan_id = ? AND recipient_id = ? AND is_read = false", clanId, userId).
		Updates(map[string]interface{}{
			"IsRead": utils.NewTrue(),
			"ReadAt": &now,
		}).Error
}
