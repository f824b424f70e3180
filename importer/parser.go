package importer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the only calendar format accepted in import lines and
// filenames.
const DateLayout = "2006-01-02"

const (
	PatternCsv      = "csv"
	PatternFreeText = "freeText"
)

// DraftEntry is one successfully parsed input line, before any rules run.
type DraftEntry struct {
	Date             string `json:"date"`
	Player           string `json:"player"`
	ChestType        string `json:"chest_type"`
	Level            int    `json:"level"`
	RawScore         int    `json:"raw_score"`
	SourceLineNumber int    `json:"source_line_number"`
	PatternMatched   string `json:"pattern_matched"`
}

// ParseWarning is a non-fatal per-line problem. Warnings accompany a
// successful parse; they never abort the batch.
type ParseWarning struct {
	LineNumber int    `json:"line_number"`
	Kind       string `json:"kind"`
	Detail     string `json:"detail"`
}

const WarningUnrecognizedLineFormat = "UnrecognizedLineFormat"

func (w ParseWarning) String() string {
	return fmt.Sprintf("line %d: %s: %s", w.LineNumber, w.Kind, w.Detail)
}

var (
	dateTokenRe = regexp.MustCompile(`\d{4}-\d{2}-\d{2}`)
	levelRe     = regexp.MustCompile(`(?i)\blevel\s+(\d+)\b`)
	fromRe      = regexp.MustCompile(`(?i)\bfrom:?\s+`)
	digitsRe    = regexp.MustCompile(`^\d+$`)
	spacesRe    = regexp.MustCompile(`\s+`)
)

// Parse converts raw delimited text into draft entries, line at a time.
// Each line is first tried against the strict comma layout
// "date,player,chestType[,rawScore]" and then against the free-text layout
// "<chest text> from[:] <player>" with inline "level N" and date tokens.
// A line matching neither yields a warning and is skipped. Output order is
// input order; line numbers are 1-based. The filename may carry the batch
// date for lines without one inline.
func Parse(rawText string, filename string) ([]DraftEntry, []ParseWarning) {

	fallbackDate := dateFromFilename(filename)

	var entries []DraftEntry
	var warnings []ParseWarning

	lines := strings.Split(strings.ReplaceAll(rawText, "\r\n", "\n"), "\n")
	for i, line := range lines {
		lineNumber := i + 1
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}

		if entry, ok := parseCsvLine(trimmed); ok {
			entry.SourceLineNumber = lineNumber
			entries = append(entries, entry)
			continue
		}
		if entry, ok := parseFreeTextLine(trimmed, fallbackDate); ok {
			entry.SourceLineNumber = lineNumber
			entries = append(entries, entry)
			continue
		}
		warnings = append(warnings, ParseWarning{
			LineNumber: lineNumber,
			Kind:       WarningUnrecognizedLineFormat,
			Detail:     trimmed,
		})
	}
	return entries, warnings
}

// parseCsvLine handles the strict comma layout. Three columns where the
// third is all digits mean "date,player,rawScore"; otherwise the third
// column is the chest type, with an optional fourth all-digit raw score.
func parseCsvLine(line string) (DraftEntry, bool) {

	fields := strings.Split(line, ",")
	if len(fields) < 3 || len(fields) > 4 {
		return DraftEntry{}, false
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	if _, err := time.Parse(DateLayout, fields[0]); err != nil {
		return DraftEntry{}, false
	}
	if fields[1] == "" {
		return DraftEntry{}, false
	}

	entry := DraftEntry{
		Date:           fields[0],
		Player:         fields[1],
		PatternMatched: PatternCsv,
	}

	if len(fields) == 3 {
		if digitsRe.MatchString(fields[2]) {
			entry.RawScore, _ = strconv.Atoi(fields[2])
		} else if fields[2] != "" {
			entry.ChestType = fields[2]
		} else {
			return DraftEntry{}, false
		}
		return entry, true
	}

	if fields[2] == "" || !digitsRe.MatchString(fields[3]) {
		return DraftEntry{}, false
	}
	entry.ChestType = fields[2]
	entry.RawScore, _ = strconv.Atoi(fields[3])
	return entry, true
}

// parseFreeTextLine handles game-chat exports like
// "Epic chest level 25 from: Player1 2023-09-01". The date and level tokens
// may sit anywhere on the line; the text before "from" is the chest type and
// the remaining text after it is the player name.
func parseFreeTextLine(line string, fallbackDate string) (DraftEntry, bool) {

	loc := fromRe.FindStringIndex(line)
	if loc == nil {
		return DraftEntry{}, false
	}

	entry := DraftEntry{
		Date:           fallbackDate,
		PatternMatched: PatternFreeText,
	}

	if m := dateTokenRe.FindString(line); m != "" {
		if _, err := time.Parse(DateLayout, m); err == nil {
			entry.Date = m
		}
	}
	if m := levelRe.FindStringSubmatch(line); m != nil {
		entry.Level, _ = strconv.Atoi(m[1])
	}

	chestText := line[:loc[0]]
	playerText := line[loc[1]:]

	chestText = dateTokenRe.ReplaceAllString(chestText, "")
	chestText = levelRe.ReplaceAllString(chestText, "")
	playerText = dateTokenRe.ReplaceAllString(playerText, "")
	playerText = levelRe.ReplaceAllString(playerText, "")

	entry.ChestType = strings.TrimSpace(spacesRe.ReplaceAllString(chestText, " "))
	entry.Player = strings.TrimSpace(spacesRe.ReplaceAllString(playerText, " "))

	if entry.ChestType == "" || entry.Player == "" {
		return DraftEntry{}, false
	}
	return entry, true
}

func dateFromFilename(filename string) string {
	if filename == "" {
		return ""
	}
	if m := dateTokenRe.FindString(filename); m != "" {
		if _, err := time.Parse(DateLayout, m); err == nil {
			return m
		}
	}
	return ""
}
