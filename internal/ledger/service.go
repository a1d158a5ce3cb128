package ledger

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/adpilot-hq/adpilot-backend/pkg/cache"
	"github.com/adpilot-hq/adpilot-backend/pkg/db/models"
	pkgerrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"github.com/adpilot-hq/adpilot-backend/pkg/redis"
)

// Window is an inclusive date range. Only the date components participate in
// row matching.
type Window struct {
	From time.Time
	To   time.Time
}

type sheetReader interface {
	ReadSheet(ctx context.Context, spreadsheetID, sheetName string) ([][]string, error)
}

// Service counts conversion rows in spreadsheet ledgers. Sheet reads are
// cached for a short TTL so one run does not refetch the same range per ad.
type Service struct {
	reader sheetReader
	store  cache.Cache
	ttl    time.Duration
	logg   *logger.Logger
}

// NewService wires ledger dependencies. The cache is optional; pass nil to
// read through on every call.
func NewService(reader sheetReader, store cache.Cache, ttl time.Duration, logg *logger.Logger) (*Service, error) {
	if reader == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "sheet reader required")
	}
	if logg == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "logger required")
	}
	return &Service{reader: reader, store: store, ttl: ttl, logg: logg}, nil
}

// BuildRegistrationPath returns the canonical path string ledger rows are
// tagged with: the appeal name joined to the ad's landing page name.
func BuildRegistrationPath(appealName, landingPageName string) string {
	return strings.TrimSpace(appealName) + "/" + strings.TrimSpace(landingPageName)
}

// CountConversions counts lead-ledger rows for the ad's registration path
// inside the window.
func (s *Service) CountConversions(ctx context.Context, profile *models.TargetProfile, landingPageName string, window Window) (int, error) {
	if profile == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDataQuality, "target profile missing")
	}
	path := BuildRegistrationPath(profile.AppealName, landingPageName)
	return s.CountRows(ctx, profile.LeadSpreadsheetID, profile.LeadSheetName, path, window)
}

// CountSales counts front-offer sales rows for the ad's registration path
// inside the window. Profiles without a sales ledger cannot be evaluated on
// CPO and surface a data-quality error.
func (s *Service) CountSales(ctx context.Context, profile *models.TargetProfile, landingPageName string, window Window) (int, error) {
	if profile == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDataQuality, "target profile missing")
	}
	if profile.SalesSpreadsheetID == nil || profile.SalesSheetName == nil {
		return 0, pkgerrors.New(pkgerrors.CodeDataQuality, "sales ledger not configured")
	}
	path := BuildRegistrationPath(profile.AppealName, landingPageName)
	return s.CountRows(ctx, *profile.SalesSpreadsheetID, *profile.SalesSheetName, path, window)
}

// CountRows counts rows whose path column equals the given path exactly and
// whose date column falls inside the window.
func (s *Service) CountRows(ctx context.Context, spreadsheetID, sheetName, path string, window Window) (int, error) {
	rows, err := s.rowsFor(ctx, spreadsheetID, sheetName)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	schema := DetectColumns(rows[0])
	data := rows
	if schema.HeaderPresent {
		data = rows[1:]
	}
	if schema.LowConfidence {
		wctx := s.logg.WithFields(ctx, map[string]any{
			"spreadsheet_id": spreadsheetID,
			"sheet":          sheetName,
			"date_column":    schema.DateColumn,
			"path_column":    schema.PathColumn,
		})
		s.logg.Warn(wctx, "ledger columns resolved at low confidence")
	}

	matched := 0
	scanned := 0
	for _, row := range data {
		if len(row) <= schema.DateColumn || len(row) <= schema.PathColumn {
			continue
		}
		scanned++
		if strings.TrimSpace(row[schema.PathColumn]) != path {
			continue
		}
		day, ok := parseLedgerDate(row[schema.DateColumn])
		if !ok {
			continue
		}
		if inWindow(day, window) {
			matched++
		}
	}

	if scanned == 0 && len(data) > 0 {
		return 0, pkgerrors.New(pkgerrors.CodeDataQuality, "ledger columns undetectable").
			WithDetails(map[string]any{"spreadsheet_id": spreadsheetID, "sheet": sheetName})
	}
	return matched, nil
}

func (s *Service) rowsFor(ctx context.Context, spreadsheetID, sheetName string) ([][]string, error) {
	key := redis.CacheKey("ledger", spreadsheetID, sheetName)
	if s.store != nil {
		if cached, ok, err := s.store.Get(ctx, key); err == nil && ok {
			var rows [][]string
			if jsonErr := json.Unmarshal([]byte(cached), &rows); jsonErr == nil {
				return rows, nil
			}
		}
	}

	rows, err := s.reader.ReadSheet(ctx, spreadsheetID, sheetName)
	if err != nil {
		return nil, err
	}

	if s.store != nil {
		if raw, marshalErr := json.Marshal(rows); marshalErr == nil {
			if err := s.store.Set(ctx, key, string(raw), s.ttl); err != nil {
				s.logg.Warn(s.logg.WithField(ctx, "cache_key", key), "ledger cache write failed")
			}
		}
	}
	return rows, nil
}

var ledgerDateFormats = []string{"2006-01-02", "2006/01/02", "2006/1/2", "2006-1-2"}

func parseLedgerDate(value string) (time.Time, bool) {
	token := strings.TrimSpace(value)
	if idx := strings.IndexByte(token, ' '); idx > 0 {
		token = token[:idx]
	}
	for _, format := range ledgerDateFormats {
		if t, err := time.Parse(format, token); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func inWindow(day time.Time, window Window) bool {
	from := dateOnly(window.From)
	to := dateOnly(window.To)
	return !day.Before(from) && !day.After(to)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
