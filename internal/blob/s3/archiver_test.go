package s3blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Denny-smart/R-25V1/internal/domain"
)

type memWriter struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	err     error
}

func newMemWriter() *memWriter {
	return &memWriter{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (w *memWriter) Put(_ context.Context, path string, data io.Reader, contentType string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return w.err
	}
	body, err := io.ReadAll(data)
	if err != nil {
		return err
	}
	w.objects[path] = body
	w.types[path] = contentType
	return nil
}

type archiveStore struct {
	mu      sync.Mutex
	closed  []domain.TradeRecord
	deleted int64
	listErr error
	delErr  error
}

func (s *archiveStore) RecordTrade(context.Context, domain.TradeRecord) error { return nil }

func (s *archiveStore) ListOpen(context.Context) ([]domain.TradeRecord, error) { return nil, nil }

func (s *archiveStore) ListClosedBefore(_ context.Context, before time.Time) ([]domain.TradeRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var out []domain.TradeRecord
	for _, rec := range s.closed {
		if rec.ClosedAt != nil && rec.ClosedAt.Before(before) {
			out = append(out, rec)
		}
	}
	return out, nil
}

func (s *archiveStore) DeleteClosedBefore(_ context.Context, before time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.delErr != nil {
		return 0, s.delErr
	}
	kept := s.closed[:0]
	for _, rec := range s.closed {
		if rec.ClosedAt != nil && rec.ClosedAt.Before(before) {
			s.deleted++
			continue
		}
		kept = append(kept, rec)
	}
	s.closed = kept
	return s.deleted, nil
}

func closedTrade(id string, closedAt time.Time) domain.TradeRecord {
	profit := 4.2
	exit := 104.2
	return domain.TradeRecord{
		ID:         id,
		Symbol:     "R_25",
		ContractID: "c-" + id,
		Direction:  domain.DirectionLong,
		Stake:      10,
		EntryPrice: 100,
		Status:     domain.TradeStatusClosed,
		Reason:     domain.CloseReasonTakeProfit,
		ExitPrice:  &exit,
		Profit:     &profit,
		OpenedAt:   closedAt.Add(-time.Hour),
		ClosedAt:   &closedAt,
	}
}

func TestArchiveUploadsAndDeletes(t *testing.T) {
	t.Parallel()
	writer := newMemWriter()
	store := &archiveStore{closed: []domain.TradeRecord{
		closedTrade("t1", time.Now().UTC().Add(-100*24*time.Hour)),
		closedTrade("t2", time.Now().UTC().Add(-95*24*time.Hour)),
		closedTrade("t3", time.Now().UTC().Add(-time.Hour)), // inside retention
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewArchiver(writer, store, 90, logger)

	n, err := a.Archive(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	writer.mu.Lock()
	require.Len(t, writer.objects, 1)
	var path string
	var body []byte
	for p, b := range writer.objects {
		path, body = p, b
	}
	contentType := writer.types[path]
	writer.mu.Unlock()

	assert.True(t, strings.HasPrefix(path, "archive/trades/"))
	assert.True(t, strings.HasSuffix(path, ".jsonl"))
	assert.Equal(t, "application/x-ndjson", contentType)

	lines := bytes.Split(bytes.TrimSpace(body), []byte("\n"))
	assert.Len(t, lines, 2)
	assert.Contains(t, string(lines[0]), `"id":"t1"`)

	// The recent trade stays in the primary store.
	store.mu.Lock()
	defer store.mu.Unlock()
	require.Len(t, store.closed, 1)
	assert.Equal(t, "t3", store.closed[0].ID)
}

func TestArchiveNothingToDo(t *testing.T) {
	t.Parallel()
	writer := newMemWriter()
	store := &archiveStore{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewArchiver(writer, store, 90, logger)

	n, err := a.Archive(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	writer.mu.Lock()
	defer writer.mu.Unlock()
	assert.Empty(t, writer.objects)
}

func TestArchiveKeepsRowsWhenUploadFails(t *testing.T) {
	t.Parallel()
	writer := newMemWriter()
	writer.err = errors.New("access denied")
	store := &archiveStore{closed: []domain.TradeRecord{
		closedTrade("t1", time.Now().UTC().Add(-100*24*time.Hour)),
	}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	a := NewArchiver(writer, store, 90, logger)

	_, err := a.Archive(context.Background())
	require.Error(t, err)

	// Upload failed, so no rows were deleted.
	store.mu.Lock()
	defer store.mu.Unlock()
	assert.Len(t, store.closed, 1)
}

func TestArchivePath(t *testing.T) {
	t.Parallel()
	cutoff := time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, "archive/trades/2025-03.jsonl", archivePath(cutoff))
}

func TestMarshalJSONL(t *testing.T) {
	t.Parallel()
	type row struct {
		Name string `json:"name"`
	}
	out, err := marshalJSONL([]row{{Name: "a&b"}, {Name: "c"}})
	require.NoError(t, err)
	// HTML escaping is off so the archive stays grep-friendly.
	assert.Equal(t, "{\"name\":\"a&b\"}\n{\"name\":\"c\"}\n", string(out))
}
