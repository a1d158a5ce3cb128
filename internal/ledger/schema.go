package ledger

import "strings"

// Default column positions when no recognizable header row exists. They match
// the export layout the registration sheets have used since launch.
const (
	fallbackDateColumn = 0
	fallbackPathColumn = 1
)

var (
	dateHeaders = []string{"date", "registration_date", "registered_on", "日付"}
	pathHeaders = []string{"path", "registration_path", "登録経路"}
)

// ColumnSchema locates the date and path columns of one ledger sheet. It is
// resolved once per fetch; LowConfidence marks fallback positions so callers
// can decide whether to trust the count.
type ColumnSchema struct {
	DateColumn    int
	PathColumn    int
	HeaderPresent bool
	LowConfidence bool
}

// DetectColumns resolves the schema from the sheet's first row. A row that
// matches no known header is treated as data and the fallback positions
// apply.
func DetectColumns(firstRow []string) ColumnSchema {
	schema := ColumnSchema{
		DateColumn: fallbackDateColumn,
		PathColumn: fallbackPathColumn,
	}

	dateFound := false
	pathFound := false
	for i, cell := range firstRow {
		normalized := strings.ToLower(strings.TrimSpace(cell))
		if !dateFound && matchesHeader(normalized, dateHeaders) {
			schema.DateColumn = i
			dateFound = true
			continue
		}
		if !pathFound && matchesHeader(normalized, pathHeaders) {
			schema.PathColumn = i
			pathFound = true
		}
	}

	schema.HeaderPresent = dateFound || pathFound
	schema.LowConfidence = !dateFound || !pathFound
	return schema
}

func matchesHeader(cell string, candidates []string) bool {
	for _, candidate := range candidates {
		if cell == candidate {
			return true
		}
	}
	return false
}
