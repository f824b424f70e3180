package config

import (
	"os"
	"strings"
)

// StrictImportDeduplication rejects a commit when any entry in the batch
// collides with an already-persisted entry for the same clan, date, player,
// chest type and source line. The uniqueness index enforces this regardless;
// the flag only controls whether the collision is detected up-front with a
// friendlier error instead of surfacing as an opaque persistence failure.
//
// Set via env:
// - STRICT_IMPORT_DEDUP=true
func StrictImportDeduplication() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("STRICT_IMPORT_DEDUP")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}

// XlsxImportEnabled gates the spreadsheet ingestion endpoint.
//
// Set via env:
// - XLSX_IMPORT_ENABLED=true
func XlsxImportEnabled() bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv("XLSX_IMPORT_ENABLED")))
	return v == "1" || v == "true" || v == "yes" || v == "y"
}
