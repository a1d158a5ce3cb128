package analytics

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	cbigquery "cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/adpilot-hq/adpilot-backend/internal/optimizer"
	pkgbigquery "github.com/adpilot-hq/adpilot-backend/pkg/bigquery"
	"github.com/adpilot-hq/adpilot-backend/pkg/logger"
)

const (
	defaultBatchSize      = 500
	defaultMaxAttempts    = 3
	defaultInitialBackoff = 250 * time.Millisecond
	defaultMaximumBackoff = 2 * time.Second
)

// Config controls the decision exporter.
type Config struct {
	Table       string
	BatchSize   int
	RetryPolicy RetryPolicy
}

// RetryPolicy controls how many times BigQuery inserts are retried.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaximumBackoff time.Duration
}

type tableInserter interface {
	InsertRows(ctx context.Context, table string, rows []any) error
}

// Exporter streams finished runs into the decisions table, best effort: an
// insert failure is logged and dropped, it never turns into a run failure.
// The snapshot store in Postgres stays the system of record.
type Exporter struct {
	client    tableInserter
	logg      *logger.Logger
	table     string
	batchSize int
	retry     RetryPolicy
}

func New(client *pkgbigquery.Client, logg *logger.Logger, cfg Config) (*Exporter, error) {
	if client == nil {
		return nil, errors.New("bigquery client required")
	}
	if logg == nil {
		return nil, errors.New("logger required")
	}
	table := strings.TrimSpace(cfg.Table)
	if table == "" {
		return nil, errors.New("decisions table is required")
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	retry := cfg.RetryPolicy
	if retry.MaxAttempts <= 0 {
		retry.MaxAttempts = defaultMaxAttempts
	}
	if retry.InitialBackoff <= 0 {
		retry.InitialBackoff = defaultInitialBackoff
	}
	if retry.MaximumBackoff <= 0 {
		retry.MaximumBackoff = defaultMaximumBackoff
	}
	if retry.MaximumBackoff < retry.InitialBackoff {
		retry.MaximumBackoff = retry.InitialBackoff
	}

	return &Exporter{
		client:    client,
		logg:      logg,
		table:     table,
		batchSize: batchSize,
		retry:     retry,
	}, nil
}

// ExportRun writes every decision of the run. Batches are chunked so a large
// sweep hour cannot exceed the insert request limits.
func (e *Exporter) ExportRun(ctx context.Context, result optimizer.RunResult) {
	rows := RowsFromRun(result)
	if len(rows) == 0 {
		return
	}

	ctx = e.logg.WithRunID(ctx, result.RunID.String())
	for start := 0; start < len(rows); start += e.batchSize {
		end := start + e.batchSize
		if end > len(rows) {
			end = len(rows)
		}

		batch := make([]any, 0, end-start)
		for i := start; i < end; i++ {
			batch = append(batch, &rows[i])
		}
		if err := e.insertWithRetry(ctx, batch); err != nil {
			e.logg.Error(e.logg.WithField(ctx, "rows", len(batch)), "decision export failed", err)
			return
		}
	}
}

func (e *Exporter) insertWithRetry(ctx context.Context, rows []any) error {
	attempts := 0
	backoff := e.retry.InitialBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := e.client.InsertRows(ctx, e.table, rows)
		if err == nil {
			return nil
		}

		attempts++
		if attempts >= e.retry.MaxAttempts || !isRetryableInsertError(err) {
			return err
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
		timer.Stop()

		backoff = minDuration(backoff*2, e.retry.MaximumBackoff)
	}
}

func minDuration(a, b time.Duration) time.Duration {
	if a < b {
		return a
	}
	return b
}

// isRetryableInsertError unwraps the layered BigQuery error shapes down to
// the HTTP or gRPC status underneath. A batch is only retried when every row
// failure is transient; a schema mismatch retried forever helps nobody.
func isRetryableInsertError(err error) bool {
	if err == nil {
		return false
	}

	// MultiError and PutMultiError are returned by value from the SDK.
	var multi cbigquery.MultiError
	if errors.As(err, &multi) {
		if len(multi) == 0 {
			return false
		}
		for _, inner := range multi {
			if !isRetryableInsertError(inner) {
				return false
			}
		}
		return true
	}

	var putMulti cbigquery.PutMultiError
	if errors.As(err, &putMulti) {
		if len(putMulti) == 0 {
			return false
		}
		for _, rowErr := range putMulti {
			if !isRetryableInsertError(rowErr.Errors) {
				return false
			}
		}
		return true
	}

	var rowErr *cbigquery.RowInsertionError
	if errors.As(err, &rowErr) {
		if rowErr == nil || len(rowErr.Errors) == 0 {
			return false
		}
		for _, inner := range rowErr.Errors {
			if !isRetryableInsertError(inner) {
				return false
			}
		}
		return true
	}

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch apiErr.Code {
		case http.StatusTooManyRequests,
			http.StatusRequestTimeout,
			http.StatusInternalServerError,
			http.StatusBadGateway,
			http.StatusServiceUnavailable,
			http.StatusGatewayTimeout:
			return true
		default:
			return false
		}
	}

	var statusErr interface{ GRPCStatus() *status.Status }
	if errors.As(err, &statusErr) {
		if st := statusErr.GRPCStatus(); st != nil {
			switch st.Code() {
			case codes.Aborted, codes.DeadlineExceeded, codes.Internal, codes.ResourceExhausted, codes.Unavailable:
				return true
			}
		}
		return false
	}

	return false
}
