package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/adpilot-hq/adpilot-backend/pkg/config"
	apperrors "github.com/adpilot-hq/adpilot-backend/pkg/errors"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const defaultReadTimeout = 30 * time.Second

// Client reads conversion-ledger spreadsheets. Read-only scope; the system
// never writes to an advertiser's ledger.
type Client struct {
	svc         *sheets.Service
	readTimeout time.Duration
	logg        *logger.Logger
}

var errServiceNotInitialized = errors.New("sheets service not initialized")

// NewClient builds a read-only Sheets API client.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.SheetsConfig, logg *logger.Logger) (*Client, error) {
	opts := clientOptions(gcp)
	opts = append(opts, option.WithScopes(sheets.SpreadsheetsReadonlyScope))

	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}

	timeout := cfg.ReadTimeout
	if timeout <= 0 {
		timeout = defaultReadTimeout
	}

	if logg != nil {
		logg.Info(ctx, "sheets client initialized")
	}

	return &Client{svc: svc, readTimeout: timeout, logg: logg}, nil
}

func clientOptions(gcp config.GCPConfig) []option.ClientOption {
	var opts []option.ClientOption
	switch {
	case strings.TrimSpace(gcp.CredentialsJSON) != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(gcp.CredentialsJSON)))
	case strings.TrimSpace(gcp.ApplicationCredentials) != "":
		opts = append(opts, option.WithCredentialsFile(gcp.ApplicationCredentials))
	}
	return opts
}

// ReadSheet returns the used range of one tab as string rows. Passing the
// bare tab name to Values.Get yields every populated cell.
func (c *Client) ReadSheet(ctx context.Context, spreadsheetID, sheetName string) ([][]string, error) {
	if c == nil || c.svc == nil {
		return nil, errServiceNotInitialized
	}
	if strings.TrimSpace(spreadsheetID) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "spreadsheet id is required")
	}
	if strings.TrimSpace(sheetName) == "" {
		return nil, apperrors.New(apperrors.CodeValidation, "sheet name is required")
	}

	ctx, cancel := context.WithTimeout(ctx, c.readTimeout)
	defer cancel()

	resp, err := c.svc.Spreadsheets.Values.Get(spreadsheetID, sheetName).Context(ctx).Do()
	if err != nil {
		return nil, mapError(err, spreadsheetID, sheetName)
	}

	rows := make([][]string, 0, len(resp.Values))
	for _, raw := range resp.Values {
		row := make([]string, 0, len(raw))
		for _, cell := range raw {
			row = append(row, strings.TrimSpace(fmt.Sprint(cell)))
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func mapError(err error, spreadsheetID, sheetName string) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && apiErr != nil {
		switch apiErr.Code {
		case http.StatusNotFound:
			return apperrors.Wrap(apperrors.CodeNotFound, err,
				fmt.Sprintf("spreadsheet %s tab %s not found", spreadsheetID, sheetName))
		case http.StatusTooManyRequests:
			return apperrors.Wrap(apperrors.CodeRateLimit, err, "sheets api rate limited")
		case http.StatusForbidden:
			return apperrors.Wrap(apperrors.CodeForbidden, err,
				fmt.Sprintf("no access to spreadsheet %s", spreadsheetID))
		}
		if apiErr.Code >= http.StatusInternalServerError {
			return apperrors.Wrap(apperrors.CodeDependency, err, "sheets api unavailable")
		}
	}
	return apperrors.Wrap(apperrors.CodeDependency, err, "sheets read failed")
}
