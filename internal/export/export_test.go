package export

import (
	"bytes"
	"context"
	"io"
	"reflect"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/storage"
)

func sampleResult() query.Result {
	return query.Result{
		Columns: []string{"brand", "price", "discount"},
		Rows: [][]any{
			{"Nike", int64(20), "10.50"},
			{"Levi, Strauss", int64(35), nil},
		},
	}
}

func TestEncodeParquetRoundTrip(t *testing.T) {
	encoded, err := EncodeParquet(sampleResult())
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}
	if encoded.RowCount != 2 || encoded.CellCount != 6 {
		t.Fatalf("counts = %d/%d", encoded.RowCount, encoded.CellCount)
	}

	decoded, err := DecodeParquet(encoded.Data)
	if err != nil {
		t.Fatalf("DecodeParquet() error = %v", err)
	}
	if !reflect.DeepEqual(decoded.Columns, []string{"brand", "price", "discount"}) {
		t.Fatalf("columns = %#v", decoded.Columns)
	}
	want := [][]any{{"Nike", "20", "10.50"}, {"Levi, Strauss", "35", nil}}
	if !reflect.DeepEqual(decoded.Rows, want) {
		t.Fatalf("rows = %#v", decoded.Rows)
	}
}

func TestEncodeParquetKeepsHeaderOfEmptyResult(t *testing.T) {
	encoded, err := EncodeParquet(query.Result{Columns: []string{"brand", "price"}})
	if err != nil {
		t.Fatalf("EncodeParquet() error = %v", err)
	}
	if encoded.RowCount != 0 || encoded.CellCount != 0 {
		t.Fatalf("counts = %d/%d", encoded.RowCount, encoded.CellCount)
	}

	decoded, err := DecodeParquet(encoded.Data)
	if err != nil {
		t.Fatalf("DecodeParquet() error = %v", err)
	}
	if !reflect.DeepEqual(decoded.Columns, []string{"brand", "price"}) || len(decoded.Rows) != 0 {
		t.Fatalf("decoded = %#v", decoded)
	}
}

func TestEncodeParquetRejectsRaggedRows(t *testing.T) {
	_, err := EncodeParquet(query.Result{Columns: []string{"a", "b"}, Rows: [][]any{{1}}})
	if err == nil {
		t.Fatal("expected error")
	}
	if _, err := EncodeParquet(query.Result{}); err == nil {
		t.Fatal("expected error for result without columns")
	}
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteCSV(&buf, sampleResult()); err != nil {
		t.Fatalf("WriteCSV() error = %v", err)
	}
	want := "brand,price,discount\nNike,20,10.50\n\"Levi, Strauss\",35,\n"
	if buf.String() != want {
		t.Fatalf("WriteCSV() = %q", buf.String())
	}
}

func TestExporterStoresParquetUnderSessionPrefix(t *testing.T) {
	store := newMemoryStore()
	exporter := &Exporter{
		Store:  store,
		Config: Config{PresignExpiry: time.Minute},
		Clock:  func() time.Time { return time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC) },
	}

	object, err := exporter.ExportParquet(context.Background(), "tenant-1", "session-1", sampleResult())
	if err != nil {
		t.Fatalf("ExportParquet() error = %v", err)
	}
	wantKey := "tenant-1/session-1/date=2026-05-04/result-1777888800000000000.parquet"
	if object.Key != wantKey {
		t.Fatalf("key = %q", object.Key)
	}
	if object.Rows != 2 || object.URL != "memory://"+wantKey {
		t.Fatalf("object = %#v", object)
	}
	if store.metadata[wantKey]["rows"] != "2" {
		t.Fatalf("metadata = %#v", store.metadata[wantKey])
	}

	decoded, err := DecodeParquet(store.objects[wantKey])
	if err != nil {
		t.Fatalf("DecodeParquet() error = %v", err)
	}
	if len(decoded.Rows) != 2 {
		t.Fatalf("decoded rows = %#v", decoded.Rows)
	}

	listed, err := exporter.List(context.Background(), "tenant-1", "session-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(listed) != 1 || listed[0].Key != wantKey {
		t.Fatalf("List() = %#v", listed)
	}
	if other, _ := exporter.List(context.Background(), "tenant-2", "session-1"); len(other) != 0 {
		t.Fatalf("other tenant sees exports: %#v", other)
	}
}

func TestExporterPrunesOldestExports(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	exporter := &Exporter{
		Store:  store,
		Config: Config{KeepPerSession: 2},
		Clock:  func() time.Time { return now },
	}

	var last Object
	for i := 0; i < 4; i++ {
		object, err := exporter.ExportParquet(context.Background(), "tenant-1", "session-1", sampleResult())
		if err != nil {
			t.Fatalf("ExportParquet() #%d error = %v", i, err)
		}
		last = object
		now = now.Add(12 * time.Hour)
	}
	if last.Pruned != 1 {
		t.Fatalf("pruned on last export = %d", last.Pruned)
	}

	listed, err := exporter.List(context.Background(), "tenant-1", "session-1")
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	want := []string{
		"tenant-1/session-1/date=2026-05-05/result-1777975200000000000.parquet",
		"tenant-1/session-1/date=2026-05-05/result-1778018400000000000.parquet",
	}
	if len(listed) != len(want) {
		t.Fatalf("List() = %#v", listed)
	}
	for i, key := range want {
		if listed[i].Key != key {
			t.Fatalf("List()[%d] = %q, want %q", i, listed[i].Key, key)
		}
	}
}

func TestExporterKeepsExportsWithinOneSecond(t *testing.T) {
	store := newMemoryStore()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	exporter := &Exporter{Store: store, Clock: func() time.Time { return now }}

	first, err := exporter.ExportParquet(context.Background(), "t1", "s1", sampleResult())
	if err != nil {
		t.Fatalf("ExportParquet() error = %v", err)
	}
	now = now.Add(300 * time.Millisecond)
	second, err := exporter.ExportParquet(context.Background(), "t1", "s1", sampleResult())
	if err != nil {
		t.Fatalf("ExportParquet() error = %v", err)
	}
	if first.Key == second.Key || first.Key > second.Key {
		t.Fatalf("keys not distinct and ordered: %q, %q", first.Key, second.Key)
	}
	if len(store.objects) != 2 {
		t.Fatalf("stored objects = %d", len(store.objects))
	}
}

func TestExporterDoesNotOverwriteOnClockTie(t *testing.T) {
	store := newMemoryStore()
	exporter := &Exporter{Store: store, Clock: func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }}

	first, err := exporter.ExportParquet(context.Background(), "t1", "s1", sampleResult())
	if err != nil {
		t.Fatalf("ExportParquet() error = %v", err)
	}
	second, err := exporter.ExportParquet(context.Background(), "t1", "s1", sampleResult())
	if err != nil {
		t.Fatalf("ExportParquet() error = %v", err)
	}
	if first.Key >= second.Key || len(store.objects) != 2 {
		t.Fatalf("first=%q second=%q stored=%d", first.Key, second.Key, len(store.objects))
	}
	if !second.ExportedAt.After(first.ExportedAt) {
		t.Fatalf("exported at %v then %v", first.ExportedAt, second.ExportedAt)
	}
}

func TestExporterWithoutStore(t *testing.T) {
	exporter := &Exporter{}
	if _, err := exporter.ExportParquet(context.Background(), "tenant-1", "session-1", sampleResult()); err == nil {
		t.Fatal("expected error")
	}
}

type memoryStore struct {
	objects  map[string][]byte
	metadata map[string]map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{objects: map[string][]byte{}, metadata: map[string]map[string]string{}}
}

func (m *memoryStore) Put(_ context.Context, key string, body io.Reader, _ int64, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(body)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.objects[key] = data
	m.metadata[key] = opts.Metadata
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	data, ok := m.objects[key]
	if !ok {
		return nil, storage.ErrObjectNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (m *memoryStore) Stat(_ context.Context, key string) (storage.ObjectInfo, error) {
	data, ok := m.objects[key]
	if !ok {
		return storage.ObjectInfo{}, storage.ErrObjectNotFound
	}
	return storage.ObjectInfo{Key: key, Size: int64(len(data))}, nil
}

func (m *memoryStore) List(_ context.Context, prefix string) ([]storage.ObjectInfo, error) {
	objects := make([]storage.ObjectInfo, 0)
	for key, data := range m.objects {
		if strings.HasPrefix(key, prefix) {
			objects = append(objects, storage.ObjectInfo{Key: key, Size: int64(len(data))})
		}
	}
	sort.Slice(objects, func(i, j int) bool { return objects[i].Key < objects[j].Key })
	return objects, nil
}

func (m *memoryStore) Delete(_ context.Context, key string) error {
	delete(m.objects, key)
	return nil
}

func (m *memoryStore) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "memory://" + key, nil
}
