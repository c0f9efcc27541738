// Package export persists session result sets as Parquet objects and CSV
// streams.
package export

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/querypilot/querypilot/internal/observability"
	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/storage"
)

const (
	parquetContentType = "application/vnd.apache.parquet"
	maxKeyAttempts     = 16
)

type Object struct {
	storage.ObjectInfo
	Rows       int64     `json:"rows"`
	Cells      int64     `json:"cells"`
	URL        string    `json:"url,omitempty"`
	ExportedAt time.Time `json:"exported_at"`
	// Pruned counts older exports of the session removed by retention.
	Pruned int `json:"pruned,omitempty"`
}

type Config struct {
	// PresignExpiry is the lifetime of download URLs when the store can
	// presign them. Zero disables URLs.
	PresignExpiry time.Duration
	// KeepPerSession bounds how many exports a session retains; older ones
	// are deleted after a successful export. Zero keeps everything.
	KeepPerSession int
}

type Exporter struct {
	Store  storage.ObjectStore
	Config Config
	Logger *slog.Logger
	Clock  func() time.Time
}

func (e *Exporter) ExportParquet(ctx context.Context, tenantID, sessionID string, result query.Result) (Object, error) {
	if e.Store == nil {
		return Object{}, fmt.Errorf("object store is not configured")
	}
	now, key, err := e.freeKey(ctx, tenantID, sessionID, e.now())
	if err != nil {
		return Object{}, err
	}
	encoded, err := EncodeParquet(result)
	if err != nil {
		return Object{}, err
	}

	info, err := e.Store.Put(ctx, key, bytes.NewReader(encoded.Data), int64(len(encoded.Data)), storage.PutOptions{
		ContentType: parquetContentType,
		Metadata: map[string]string{
			"tenant-id":  tenantID,
			"session-id": sessionID,
			"rows":       strconv.FormatInt(encoded.RowCount, 10),
		},
	})
	if err != nil {
		return Object{}, err
	}
	if info.Key == "" {
		info.Key = key
	}
	if info.Size == 0 {
		info.Size = int64(len(encoded.Data))
	}
	observability.ObserveExport(info.Size)

	object := Object{ObjectInfo: info, Rows: encoded.RowCount, Cells: encoded.CellCount, ExportedAt: now}
	if presigner, ok := e.Store.(storage.Presigner); ok && e.Config.PresignExpiry > 0 {
		signed, err := presigner.PresignGet(ctx, info.Key, e.Config.PresignExpiry)
		if err != nil {
			e.logger().WarnContext(ctx, "presign export failed", slog.String("key", info.Key), slog.Any("error", err))
		} else {
			object.URL = signed
		}
	}

	object.Pruned = e.prune(ctx, tenantID, sessionID)

	e.logger().InfoContext(ctx, "result exported",
		slog.String("tenant_id", tenantID),
		slog.String("session_id", sessionID),
		slog.String("key", info.Key),
		slog.Int64("rows", encoded.RowCount),
		slog.Int64("bytes", info.Size),
		slog.Int("pruned", object.Pruned),
	)
	return object, nil
}

// freeKey returns the export key for at, moving at forward while the key is
// already taken so an export never replaces an earlier one.
func (e *Exporter) freeKey(ctx context.Context, tenantID, sessionID string, at time.Time) (time.Time, string, error) {
	for attempt := 0; ; attempt++ {
		key, err := storage.BuildExportPath(tenantID, sessionID, at, "parquet")
		if err != nil {
			return time.Time{}, "", err
		}
		_, err = e.Store.Stat(ctx, key)
		switch {
		case errors.Is(err, storage.ErrObjectNotFound):
			return at, key, nil
		case err != nil:
			return time.Time{}, "", fmt.Errorf("check export key %q: %w", key, err)
		case attempt >= maxKeyAttempts:
			return time.Time{}, "", fmt.Errorf("export key %q already exists", key)
		}
		at = at.Add(time.Nanosecond)
	}
}

// prune deletes the oldest exports of a session beyond KeepPerSession. Keys
// embed the export date and zero padded unix nanos, so key order is export
// order.
// Failures are logged and leave the surplus objects in place.
func (e *Exporter) prune(ctx context.Context, tenantID, sessionID string) int {
	if e.Config.KeepPerSession <= 0 {
		return 0
	}
	objects, err := e.List(ctx, tenantID, sessionID)
	if err != nil {
		e.logger().WarnContext(ctx, "list exports for retention failed", slog.String("session_id", sessionID), slog.Any("error", err))
		return 0
	}
	surplus := len(objects) - e.Config.KeepPerSession
	if surplus <= 0 {
		return 0
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })

	pruned := 0
	for _, object := range objects[:surplus] {
		if err := e.Store.Delete(ctx, object.Key); err != nil {
			e.logger().WarnContext(ctx, "delete expired export failed", slog.String("key", object.Key), slog.Any("error", err))
			continue
		}
		pruned++
	}
	return pruned
}

// List returns the exports previously written for a session.
func (e *Exporter) List(ctx context.Context, tenantID, sessionID string) ([]storage.ObjectInfo, error) {
	if e.Store == nil {
		return nil, fmt.Errorf("object store is not configured")
	}
	prefix, err := storage.BuildExportPrefix(tenantID, sessionID)
	if err != nil {
		return nil, err
	}
	return e.Store.List(ctx, prefix)
}

func (e *Exporter) now() time.Time {
	if e.Clock != nil {
		return e.Clock().UTC()
	}
	return time.Now().UTC()
}

func (e *Exporter) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.New(slog.DiscardHandler)
}
