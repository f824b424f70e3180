package workflow

import (
	"context"
	"errors"

	"bitbucket.org/chillercrew/chillerpage_backend/models"
	mysqlDriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// IsDuplicateKeyErr reports a MySQL unique-constraint violation (error 1062).
func IsDuplicateKeyErr(err error) bool {
	var mysqlErr *mysqlDriver.MySQLError
	if errors.As(err, &mysqlErr) {
		return mysqlErr.Number == 1062
	}
	return false
}

// BeginIdempotency claims (clanId, handlerName, messageId) inside tx by
// inserting a STARTED key. It returns alreadyDone=true when a prior run of
// the same triple already SUCCEEDED, so the handler can no-op. A STARTED or
// FAILED leftover from a rolled-back or crashed run is re-claimed.
func BeginIdempotency(ctx context.Context, tx *gorm.DB, clanId string, handlerName string, messageId string) (bool, error) {

	key := models.IdempotencyKey{
		ClanId:      clanId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusStarted,
	}
	err := tx.WithContext(ctx).Create(&key).Error
	if err == nil {
		return false, nil
	}
	if !IsDuplicateKeyErr(err) {
		return false, err
	}

	var existing models.IdempotencyKey
	if err := tx.WithContext(ctx).
		Where("clan_id = ? AND handler_name = ? AND message_id = ?", clanId, handlerName, messageId).
		First(&existing).Error; err != nil {
		return false, err
	}
	if existing.Status == models.IdempotencyStatusSucceeded {
		return true, nil
	}

	// retry of a failed or interrupted run
	return false, tx.WithContext(ctx).Model(&models.IdempotencyKey{}).
		Where("id = ?", existing.ID).
		Updates(map[string]interface{}{
			"status":     models.IdempotencyStatusStarted,
			"last_error": nil,
		}).Error
}

// MarkIdempotencySucceeded flips the key to SUCCEEDED inside the handler's
// transaction, so a rollback also discards the claim.
func MarkIdempotencySucceeded(ctx context.Context, tx *gorm.DB, clanId string, handlerName string, messageId string) error {
	return tx.WithContext(ctx).Model(&models.IdempotencyKey{}).
		Where("clan_id = ? AND handler_name = ? AND message_id = ?", clanId, handlerName, messageId).
		Update("status", models.IdempotencyStatusSucceeded).Error
}

// MarkIdempotencyFailed records the failure outside the rolled-back
// transaction, best effort.
func MarkIdempotencyFailed(ctx context.Context, db *gorm.DB, clanId string, handlerName string, messageId string, cause error) {
	msg := cause.Error()
	key := models.IdempotencyKey{
		ClanId:      clanId,
		HandlerName: handlerName,
		MessageId:   messageId,
		Status:      models.IdempotencyStatusFailed,
		LastError:   &msg,
	}
	if err := db.WithContext(ctx).Create(&key).Error; err != nil && IsDuplicateKeyErr(err) {
		_ = db.WithContext(ctx).Model(&models.IdempotencyKey{}).
			Where("clan_id = ? AND handler_name = ? AND message_id = ?", clanId, handlerName, messageId).
			Updates(map[string]interface{}{
				"status":     models.IdempotencyStatusFailed,
				"last_error": &msg,
			}).Error
	}
}
