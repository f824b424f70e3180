package importer

import (
	"errors"
	"io"
	"path/filepath"
	"strings"

	"bitbucket.org/chillercrew/chillerpage_backend/config"
	"github.com/xuri/excelize/v2"
)

// ErrorXlsxImportDisabled gates spreadsheet ingestion behind its feature
// flag.
var ErrorXlsxImportDisabled = errors.New("xlsx import is disabled")

// ExtractRawLines turns an uploaded file into the newline-delimited text the
// parser expects. Plain text passes through; .xlsx files have the first
// sheet's rows joined with commas, so a spreadsheet export parses like the
// comma layout.
func ExtractRawLines(filename string, file io.Reader) (string, error) {

	if strings.EqualFold(filepath.Ext(filename), ".xlsx") {
		if !config.XlsxImportEnabled() {
			return "", ErrorXlsxImportDisabled
		}
		return extractXlsxLines(file)
	}

	data, err := io.ReadAll(file)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func extractXlsxLines(file io.Reader) (string, error) {
	workbook, err := excelize.OpenReader(file)
	if err != nil {
		return "", err
	}
	defer workbook.Close()

	sheets := workbook.GetSheetList()
	if len(sheets) == 0 {
		return "", errors.New("workbook has no sheets")
	}
	rows, err := workbook.GetRows(sheets[0])
	if err != nil {
		return "", err
	}

	var builder strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, ","), ",")
		if strings.TrimSpace(strings.ReplaceAll(line, ",", "")) == "" {
			continue
		}
		builder.WriteString(line)
		builder.WriteString("\n")
	}
	return builder.String(), nil
}
