package reports

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"time"

	"bitbucket.org/chillercrew/chillerpage_backend/utils"
	"github.com/xuri/excelize/v2"
)

const xlsxContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"

// LeaderboardXlsx renders the leaderboard into a spreadsheet, returned as
// raw bytes for download responses.
func LeaderboardXlsx(rows []*LeaderboardRow) ([]byte, error) {

	f := excelize.NewFile()
	sheet := "Sheet1"
	if _, err := f.NewSheet(sheet); err != nil {
		return nil, err
	}

	// Add headers
	f.SetCellValue(sheet, "A1", "Player")
	f.SetCellValue(sheet, "B1", "Entries")
	f.SetCellValue(sheet, "C1", "TotalScore")
	f.SetCellValue(sheet, "D1", "AverageScore")
	f.SetCellValue(sheet, "E1", "BestScore")
	f.SetCellValue(sheet, "F1", "InvalidEntries")

	// Add data
	for i, row := range rows {
		f.SetCellValue(sheet, "A"+fmt.Sprint(i+2), row.Player)
		f.SetCellValue(sheet, "B"+fmt.Sprint(i+2), row.EntryCount)
		f.SetCellValue(sheet, "C"+fmt.Sprint(i+2), row.TotalScore.String())
		f.SetCellValue(sheet, "D"+fmt.Sprint(i+2), row.AverageScore.StringFixed(2))
		f.SetCellValue(sheet, "E"+fmt.Sprint(i+2), row.BestScore)
		f.SetCellValue(sheet, "F"+fmt.Sprint(i+2), row.InvalidCount)
	}

	var buffer bytes.Buffer
	if err := f.Write(&buffer); err != nil {
		return nil, err
	}
	return buffer.Bytes(), nil
}

// ExportLeaderboard builds the spreadsheet for the date range and uploads it
// to cloud storage, returning the public URL.
func ExportLeaderboard(ctx context.Context, fromDate string, toDate string) (string, error) {

	rows, err := GetChestLeaderboardReport(ctx, fromDate, toDate)
	if err != nil {
		return "", err
	}
	data, err := LeaderboardXlsx(rows)
	if err != nil {
		return "", err
	}

	clanId, _ := utils.GetClanIdFromContext(ctx)
	objectName := fmt.Sprintf("exports/%s/leaderboard_%s_%s_%d.xlsx",
		clanId, fromDate, toDate, time.Now().UTC().Unix())
	if err := utils.UploadBytesToGCS(ctx, objectName, data, xlsxContentType); err != nil {
		return "", err
	}

	return "https://" + os.Getenv("GCS_URL") + "/" + os.Getenv("GCS_BUCKET") + "/" + objectName, nil
}
