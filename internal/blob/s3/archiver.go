package s3blob

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

// Archiver moves closed trades older than the retention window out of the
// primary store and into object storage as monthly JSONL files. Rows are
// deleted only after the upload succeeds.
type Archiver struct {
	writer domain.BlobWriter
	store  domain.TradeStore
	logger *slog.Logger

	retention time.Duration
	interval  time.Duration
}

// NewArchiver creates an Archiver that retains closed trades in the primary
// store for retentionDays before moving them to blob storage.
func NewArchiver(writer domain.BlobWriter, store domain.TradeStore, retentionDays int, logger *slog.Logger) *Archiver {
	return &Archiver{
		writer:    writer,
		store:     store,
		logger:    logger.With(slog.String("component", "trade_archiver")),
		retention: time.Duration(retentionDays) * 24 * time.Hour,
		interval:  24 * time.Hour,
	}
}

// Run archives on a daily cadence until ctx is canceled. A failed sweep is
// logged and retried on the next cadence.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n, err := a.Archive(ctx); err != nil {
				a.logger.Error("archive sweep failed", slog.String("error", err.Error()))
			} else if n > 0 {
				a.logger.Info("archive sweep complete", slog.Int64("trades", n))
			}
		}
	}
}

// Archive uploads every closed trade older than the retention window to
// archive/trades/YYYY-MM.jsonl and deletes the archived rows. It returns the
// number of trades archived.
func (a *Archiver) Archive(ctx context.Context) (int64, error) {
	before := time.Now().UTC().Add(-a.retention)

	trades, err := a.store.ListClosedBefore(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades query: %w", err)
	}
	if len(trades) == 0 {
		return 0, nil
	}

	buf, err := marshalJSONL(trades)
	if err != nil {
		return 0, fmt.Errorf("s3blob: archive trades marshal: %w", err)
	}

	path := archivePath(before)
	if err := a.writer.Put(ctx, path, bytes.NewReader(buf), "application/x-ndjson"); err != nil {
		return 0, fmt.Errorf("s3blob: archive trades upload: %w", err)
	}

	deleted, err := a.store.DeleteClosedBefore(ctx, before)
	if err != nil {
		return int64(len(trades)), fmt.Errorf("s3blob: delete archived trades: %w", err)
	}

	a.logger.Info("trades archived",
		slog.String("path", path),
		slog.Int("uploaded", len(trades)),
		slog.Int64("deleted", deleted),
	)
	return int64(len(trades)), nil
}

// archivePath builds the S3 key for an archive file, partitioned by the
// year-month of the cutoff time, e.g. archive/trades/2025-01.jsonl.
func archivePath(before time.Time) string {
	return fmt.Sprintf("archive/trades/%s.jsonl", before.Format("2006-01"))
}

// marshalJSONL serialises records as newline-delimited JSON.
func marshalJSONL[T any](records []T) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	for i, rec := range records {
		if err := enc.Encode(rec); err != nil {
			return nil, fmt.Errorf("jsonl encode record %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
