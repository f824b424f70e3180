package importer

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/models"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"bitbucket.org/chillercrew/chillerpage_backend/workflow"
	"github.com/google/uuid"
)

const importHandlerName = "chestDataImport"

// ErrorClanMismatch rejects a preview or commit whose payload references a
// clan other than the session's. The whole request fails, nothing is
// persisted.
var ErrorClanMismatch = errors.New("entry clan does not match request clan")

// ErrorPersistenceFailure is the opaque storage failure surfaced to the
// caller after a full rollback. Details go to the log only.
var ErrorPersistenceFailure = errors.New("import could not be persisted")

// ErrorDuplicateEntries is returned instead of the opaque failure when
// strict deduplication is enabled and the batch collides with persisted
// rows.
var ErrorDuplicateEntries = errors.New("batch contains already imported entries")

type PreviewInput struct {
	RawCsv   string `json:"raw_csv" binding:"required"`
	Filename string `json:"filename"`
	ClanId   string `json:"clan_id" binding:"required"`
}

type PreviewResult struct {
	BatchId  string           `json:"batch_id"`
	Entries  []AnnotatedEntry `json:"entries"`
	Warnings []string         `json:"warnings"`
}

type CommitInput struct {
	Entries       []AnnotatedEntry `json:"entries" binding:"required"`
	ClanId        string           `json:"clan_id" binding:"required"`
	CollectedDate string           `json:"collected_date" binding:"required"`
	BatchId       string           `json:"batch_id"`
}

type CommitResult struct {
	BatchId          string `json:"batch_id"`
	InsertedCount    int    `json:"inserted_count"`
	ErrorCount       int    `json:"error_count"`
	AlreadyCommitted bool   `json:"already_committed"`
}

type RescoreResult struct {
	Status       string `json:"status"`
	UpdatedCount int    `json:"updated_count"`
}

// Preview parses the upload and runs the rule pipeline against the clan's
// current rule snapshot. It is read-only; nothing is persisted and calling
// it again with the same input and an unchanged snapshot returns the same
// entries and warnings.
func Preview(ctx context.Context, input *PreviewInput) (*PreviewResult, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if input.ClanId != clanId {
		return nil, ErrorClanMismatch
	}
	if strings.TrimSpace(input.RawCsv) == "" {
		return nil, errors.New("raw csv is required")
	}

	snapshot, err := LoadRuleSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	drafts, parseWarnings := Parse(input.RawCsv, input.Filename)
	entries := Apply(clanId, drafts, snapshot)

	warnings := make([]string, 0, len(parseWarnings))
	for _, warning := range parseWarnings {
		warnings = append(warnings, warning.String())
	}

	return &PreviewResult{
		BatchId:  uuid.NewString(),
		Entries:  entries,
		Warnings: warnings,
	}, nil
}

type importSummary struct {
	BatchId       string `json:"batch_id"`
	CollectedDate string `json:"collected_date"`
	InsertedCount int    `json:"inserted_count"`
}

// Commit persists a reviewed preview: all entries plus exactly one audit row
// in one transaction, all-or-nothing. A batch id makes the commit durable
// idempotent, repeating it is a no-op success. Any storage failure rolls
// back everything and surfaces as an opaque persistence failure.
func Commit(ctx context.Context, input *CommitInput) (*CommitResult, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	userId, ok := utils.GetUserIdFromContext(ctx)
	if !ok || userId == 0 {
		return nil, errors.New("user id is required")
	}

	if input.ClanId != clanId {
		return nil, ErrorClanMismatch
	}
	for _, entry := range input.Entries {
		if entry.ClanId != clanId {
			return nil, ErrorClanMismatch
		}
	}
	if len(input.Entries) == 0 {
		return nil, errors.New("entries are required")
	}
	if _, err := time.Parse(DateLayout, input.CollectedDate); err != nil {
		return nil, errors.New("collected date must be " + DateLayout)
	}

	batchId := input.BatchId
	if batchId == "" {
		batchId = uuid.NewString()
	}

	db := config.GetDB()

	if config.StrictImportDeduplication() {
		var count int64
		if err := db.WithContext(ctx).Model(&models.ChestDataEntry{}).
			Where("clan_id = ? AND collected_date = ?", clanId, input.CollectedDate).
			Count(&count).Error; err != nil {
			return nil, err
		}
		if count > 0 {
			return nil, ErrorDuplicateEntries
		}
	}

	tx := db.WithContext(ctx).Begin()

	if input.BatchId != "" {
		alreadyDone, err := workflow.BeginIdempotency(ctx, tx, clanId, importHandlerName, batchId)
		if err != nil {
			tx.Rollback()
			return nil, err
		}
		if alreadyDone {
			tx.Rollback()
			return &CommitResult{BatchId: batchId, AlreadyCommitted: true}, nil
		}
	}

	for _, entry := range input.Entries {
		entryDate := entry.Date
		if entryDate == "" {
			entryDate = input.CollectedDate
		}
		valid := entry.Valid
		record := models.ChestDataEntry{
			ClanId:         clanId,
			CollectedDate:  input.CollectedDate,
			Player:         entry.Player,
			ChestType:      entry.ChestType,
			SourceLine:     entry.SourceLineNumber,
			EntryDate:      entryDate,
			Level:          entry.Level,
			RawScore:       entry.RawScore,
			PatternMatched: entry.PatternMatched,
			Score:          entry.Score,
			Valid:          &valid,
			Flags:          strings.Join(entry.Flags, ","),
			AppliedRuleIds: joinInts(entry.AppliedRuleIds),
			BatchId:        batchId,
			ImportedBy:     userId,
		}
		if err := tx.WithContext(ctx).Create(&record).Error; err != nil {
			tx.Rollback()
			config.LogError(config.GetLogger(), "importer", "Commit", "insert chest data entry", map[string]interface{}{
				"clan_id":     clanId,
				"batch_id":    batchId,
				"source_line": entry.SourceLineNumber,
			}, err)
			if input.BatchId != "" {
				workflow.MarkIdempotencyFailed(ctx, db, clanId, importHandlerName, batchId, err)
			}
			return nil, ErrorPersistenceFailure
		}
	}

	summary := importSummary{
		BatchId:       batchId,
		CollectedDate: input.CollectedDate,
		InsertedCount: len(input.Entries),
	}
	if err := models.SaveHistoryImport(tx, batchId, summary, "Chest data import committed: "+batchId); err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := models.NotifyClan(ctx, tx, clanId, models.NotificationKindImportCommitted, 0, "chest_data_entries",
		strconv.Itoa(len(input.Entries))+" chest data entries imported for "+input.CollectedDate); err != nil {
		tx.Rollback()
		return nil, err
	}
	if input.BatchId != "" {
		if err := workflow.MarkIdempotencySucceeded(ctx, tx, clanId, importHandlerName, batchId); err != nil {
			tx.Rollback()
			return nil, err
		}
	}

	if err := tx.Commit().Error; err != nil {
		config.LogError(config.GetLogger(), "importer", "Commit", "commit transaction", map[string]interface{}{
			"clan_id":  clanId,
			"batch_id": batchId,
		}, err)
		return nil, ErrorPersistenceFailure
	}

	return &CommitResult{
		BatchId:       batchId,
		InsertedCount: len(input.Entries),
	}, nil
}

// Rescore reruns only the scoring pass over already persisted entries with
// the clan's current rules, one audit row per changed entry, all-or-nothing.
func Rescore(ctx context.Context, entryIds []int) (*RescoreResult, error) {

	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}

	entries, err := models.FetchChestDataEntriesByIds(ctx, entryIds)
	if err != nil {
		return nil, err
	}
	snapshot, err := LoadRuleSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	db := config.GetDB()
	tx := db.WithContext(ctx).Begin()
	updated := 0
	for _, entry := range entries {
		score, ruleId, matched := snapshot.ScoreEntry(entry.ChestType, entry.Level)

		flags := make([]string, 0)
		for _, flag := range entry.FlagList() {
			if flag != FlagNoScoringRuleMatched {
				flags = append(flags, flag)
			}
		}
		appliedRuleIds := ""
		if matched {
			appliedRuleIds = strconv.Itoa(ruleId)
		} else {
			flags = append(flags, FlagNoScoringRuleMatched)
		}
		newFlags := strings.Join(flags, ",")

		if score == entry.Score && newFlags == entry.Flags && appliedRuleIds == entry.AppliedRuleIds {
			continue
		}
		if err := tx.WithContext(ctx).Model(&models.ChestDataEntry{ID: entry.ID, ClanId: clanId}).
			Updates(map[string]interface{}{
				"Score":          score,
				"Flags":          newFlags,
				"AppliedRuleIds": appliedRuleIds,
			}).Error; err != nil {
			tx.Rollback()
			return nil, err
		}
		if err := models.SaveHistoryUpdate(tx, entry.ID, entry, "Chest data entry rescored"); err != nil {
			tx.Rollback()
			return nil, err
		}
		updated++
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	return &RescoreResult{Status: "ok", UpdatedCount: updated}, nil
}

func joinInts(values []int) string {
	parts := make([]string, 0, len(values))
	for _, v := range values {
		parts = append(parts, strconv.Itoa(v))
	}
	return strings.Join(parts, ",")
}
