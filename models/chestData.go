package models

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
)

// ChestDataEntry is one committed chest record. The unique index rejects
// re-imports of the same line for the same collection date.
type ChestDataEntry struct {
	ID             int       `gorm:"primary_key" json:"id"`
	ClanId         string    `gorm:"size:64;not null;index:uniq_chest_entry,unique" json:"clan_id"`
	CollectedDate  string    `gorm:"size:10;not null;index:uniq_chest_entry,unique" json:"collected_date"`
	Player         string    `gorm:"size:255;not null;index:uniq_chest_entry,unique" json:"player"`
	ChestType      string    `gorm:"size:255;not null;index:uniq_chest_entry,unique" json:"chest_type"`
	SourceLine     int       `gorm:"not null;index:uniq_chest_entry,unique" json:"source_line"`
	EntryDate      string    `gorm:"size:10" json:"entry_date"`
	Level          int       `gorm:"not null;default:0" json:"level"`
	RawScore       int       `gorm:"not null;default:0" json:"raw_score"`
	PatternMatched string    `gorm:"size:20" json:"pattern_matched"`
	Score          int       `gorm:"not null;default:0" json:"score"`
	Valid          *bool     `gorm:"not null;default:true" json:"valid"`
	Flags          string    `gorm:"size:500" json:"flags"`
	AppliedRuleIds string    `gorm:"size:500" json:"applied_rule_ids"`
	BatchId        string    `gorm:"size:64;index" json:"batch_id"`
	ImportedBy     int       `gorm:"not null" json:"imported_by"`
	ImportedAt     time.Time `gorm:"autoCreateTime" json:"imported_at"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

type UpdateChestDataInput struct {
	Player    string `json:"player"`
	ChestType string `json:"chest_type"`
	EntryDate string `json:"entry_date"`
	Level     *int   `json:"level"`
	RawScore  *int   `json:"raw_score"`
	Score     *int   `json:"score"`
}

func (obj ChestDataEntry) GetId() int {
	return obj.ID
}

func (obj ChestDataEntry) GetCursor() string {
	return obj.ImportedAt.String()
}

func (obj ChestDataEntry) FlagList() []string {
	return utils.SplitAndTrim(obj.Flags)
}

type ChestDataConnection struct {
	Edges    []*ChestDataEdge `json:"edges"`
	PageInfo *PageInfo        `json:"page_info"`
}

type ChestDataEdge Edge[ChestDataEntry]

func GetChestDataEntry(ctx context.Context, id int) (*ChestDataEntry, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	return utils.FetchModel[ChestDataEntry](ctx, clanId, id)
}

// FetchChestDataEntriesByIds loads all named entries of the clan. Missing
// ids are an error so batch operations never partially resolve.
func FetchChestDataEntriesByIds(ctx context.Context, ids []int) ([]*ChestDataEntry, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if len(ids) == 0 {
		return nil, errors.New("entry ids are required")
	}
	unqIds := utils.UniqueSlice(ids)

	db := config.GetDB()
	var results []*ChestDataEntry
	if err := db.WithContext(ctx).Where("clan_id = ? AND id IN ?", clanId, unqIds).Find(&results).Error; err != nil {
		return nil, err
	}
	if len(results) != len(unqIds) {
		return nil, utils.ErrorRecordNotFound
	}
	return results, nil
}

func PaginateChestData(ctx context.Context,
	limit *int,
	after *string,
	player *string,
	chestType *string,
	collectedDate *string,
	batchId *string,
) (*ChestDataConnection, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	db := config.GetDB()
	dbCtx := db.WithContext(ctx).Where("clan_id = ?", clanId)
	if player != nil && *player != "" {
		dbCtx.Where("player = ?", *player)
	}
	if chestType != nil && *chestType != "" {
		dbCtx.Where("chest_type = ?", *chestType)
	}
	if collectedDate != nil && *collectedDate != "" {
		dbCtx.Where("collected_date = ?", *collectedDate)
	}
	if batchId != nil && *batchId != "" {
		dbCtx.Where("batch_id = ?", *batchId)
	}

	edges, pageInfo, err := FetchPageCompositeCursor[ChestDataEntry](dbCtx, normalizeLimit(limit), after, "imported_at", "<")
	if err != nil {
		return nil, err
	}
	var connection ChestDataConnection
	connection.PageInfo = pageInfo
	for _, edge := range edges {
		chestDataEdge := ChestDataEdge(edge)
		connection.Edges = append(connection.Edges, &chestDataEdge)
	}
	return &connection, nil
}

func UpdateChestDataEntry(ctx context.Context, id int, input *UpdateChestDataInput) (*ChestDataEntry, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	current, err := utils.FetchModel[ChestDataEntry](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Player != "" {
		updates["Player"] = input.Player
	}
	if input.ChestType != "" {
		updates["ChestType"] = input.ChestType
	}
	if input.EntryDate != "" {
		updates["EntryDate"] = input.EntryDate
	}
	if input.Level != nil {
		updates["Level"] = *input.Level
	}
	if input.RawScore != nil {
		updates["RawScore"] = *input.RawScore
	}
	if input.Score != nil {
		updates["Score"] = *input.Score
	}
	if len(updates) == 0 {
		return current, nil
	}

	entry := ChestDataEntry{ID: id, ClanId: clanId}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Model(&entry).Updates(updates).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryUpdate(tx, id, current, "Chest data entry updated"); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return utils.FetchModel[ChestDataEntry](ctx, clanId, id)
}

func DeleteChestDataEntry(ctx context.Context, id int) (*ChestDataEntry, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	result, err := utils.FetchModel[ChestDataEntry](ctx, clanId, id)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	if err := tx.WithContext(ctx).Delete(&result).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := SaveHistoryDelete(tx, id, result, "Chest data entry deleted"); err != nil {
		tx.Rollback()
		return nil, err
	}
	return result, tx.Commit().Error
}

// BatchUpdateChestData applies the same field updates to all entries,
// all-or-nothing, one audit row per entry.
func BatchUpdateChestData(ctx context.Context, ids []int, input *UpdateChestDataInput) ([]*ChestDataEntry, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	current, err := FetchChestDataEntriesByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	updates := map[string]interface{}{}
	if input.Player != "" {
		updates["Player"] = input.Player
	}
	if input.ChestType != "" {
		updates["ChestType"] = input.ChestType
	}
	if input.Level != nil {
		updates["Level"] = *input.Level
	}
	if input.Score != nil {
		updates["Score"] = *input.Score
	}
	if len(updates) == 0 {
		return current, nil
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	for _, entry := range current {
		if err := tx.WithContext(ctx).Model(&ChestDataEntry{ID: entry.ID, ClanId: clanId}).Updates(updates).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := SaveHistoryUpdate(tx, entry.ID, entry, "Chest data entry updated (batch)"); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return FetchChestDataEntriesByIds(ctx, ids)
}

// BatchDeleteChestData removes all entries, all-or-nothing, one audit row
// per entry.
func BatchDeleteChestData(ctx context.Context, ids []int) ([]*ChestDataEntry, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	current, err := FetchChestDataEntriesByIds(ctx, ids)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	for _, entry := range current {
		if err := tx.WithContext(ctx).Delete(&ChestDataEntry{}, entry.ID).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := createHistory(tx, "DELETE", entry.ID, "chest_data_entries", entry, nil, "Chest data entry deleted (batch)"); err != nil {
			tx.Rollback()
			return nil, err
		}
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}
	return current, nil
}
