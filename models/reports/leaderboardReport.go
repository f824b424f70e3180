package reports

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"github.com/shopspring/decimal"
)

// LeaderboardRow is one player's aggregate over the selected date range.
type LeaderboardRow struct {
	Player       string          `json:"player"`
	EntryCount   int             `json:"entryCount"`
	TotalScore   decimal.Decimal `json:"totalScore"`
	AverageScore decimal.Decimal `json:"averageScore"`
	BestScore    int             `json:"bestScore"`
	InvalidCount int             `json:"invalidCount"`
}

const dateLayout = "2006-01-02"

// GetChestLeaderboardReport aggregates committed chest data per player,
// highest total first. Invalid entries count toward InvalidCount but are
// excluded from the score aggregates.
func GetChestLeaderboardReport(ctx context.Context, fromDate string, toDate string) ([]*LeaderboardRow, error) {
	sql := `
SELECT
    player,
    COUNT(id) AS entry_count,
    SUM(CASE WHEN valid = 1 THEN score ELSE 0 END) AS total_score,
    AVG(CASE WHEN valid = 1 THEN score ELSE NULL END) AS average_score,
    MAX(CASE WHEN valid = 1 THEN score ELSE 0 END) AS best_score,
    SUM(CASE WHEN valid = 0 THEN 1 ELSE 0 END) AS invalid_count
FROM
    chest_data_entries
WHERE
    clan_id = @clanId
        AND collected_date BETWEEN @fromDate AND @toDate
GROUP BY player
ORDER BY total_score DESC, player ASC;
`
	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if _, err := time.Parse(dateLayout, fromDate); err != nil {
		return nil, errors.New("from date must be " + dateLayout)
	}
	if _, err := time.Parse(dateLayout, toDate); err != nil {
		return nil, errors.New("to date must be " + dateLayout)
	}

	db := config.GetDB()
	var results []*LeaderboardRow
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"clanId":   clanId,
		"fromDate": fromDate,
		"toDate":   toDate,
	}).Scan(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}

// ChestTypeBreakdownRow is one chest type's aggregate over the selected
// date range.
type ChestTypeBreakdownRow struct {
	ChestType    string          `json:"chestType"`
	EntryCount   int             `json:"entryCount"`
	TotalScore   decimal.Decimal `json:"totalScore"`
	AverageScore decimal.Decimal `json:"averageScore"`
}

func GetChestTypeBreakdownReport(ctx context.Context, fromDate string, toDate string) ([]*ChestTypeBreakdownRow, error) {
	sql := `
SELECT
    chest_type,
    COUNT(id) AS entry_count,
    SUM(score) AS total_score,
    AVG(score) AS average_score
FROM
    chest_data_entries
WHERE
    clan_id = @clanId
        AND collected_date BETWEEN @fromDate AND @toDate
        AND valid = 1
        AND chest_type <> ''
GROUP BY chest_type
ORDER BY total_score DESC, chest_type ASC;
`
	clanId, ok := utils.GetClanIdFromContext(ctx)
	if !ok || clanId == "" {
		return nil, errors.New("clan id is required")
	}
	if _, err := time.Parse(dateLayout, fromDate); err != nil {
		return nil, errors.New("from date must be " + dateLayout)
	}
	if _, err := time.Parse(dateLayout, toDate); err != nil {
		return nil, errors.New("to date must be " + dateLayout)
	}

	db := config.GetDB()
	var results []*ChestTypeBreakdownRow
	if err := db.WithContext(ctx).Raw(sql, map[string]interface{}{
		"clanId":   clanId,
		"fromDate": fromDate,
		"toDate":   toDate,
	}).Scan(&results).Error; err != nil {
		return nil, err
	}

	return results, nil
}
