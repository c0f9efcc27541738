package tshirts

import (
	"context"
	"path/filepath"
	"reflect"
	"strings"
	"testing"

	"github.com/querypilot/querypilot/internal/query"
	"github.com/querypilot/querypilot/internal/query/sqldb"
)

func TestGenerateDeterministicForSeed(t *testing.T) {
	first := Generate(42, 30)
	second := Generate(42, 30)
	if !reflect.DeepEqual(first, second) {
		t.Fatal("datasets differ for the same seed")
	}
	if reflect.DeepEqual(first, Generate(43, 30)) {
		t.Fatal("expected a different dataset for another seed")
	}
}

func TestGenerateRespectsDomain(t *testing.T) {
	data := Generate(7, MaxTShirts+10)
	if len(data.TShirts) != MaxTShirts {
		t.Fatalf("t-shirts = %d, want %d", len(data.TShirts), MaxTShirts)
	}
	seen := map[string]struct{}{}
	ids := map[int64]struct{}{}
	for _, shirt := range data.TShirts {
		key := shirt.Brand + "/" + shirt.Color + "/" + shirt.Size
		if _, ok := seen[key]; ok {
			t.Fatalf("duplicate combination %s", key)
		}
		seen[key] = struct{}{}
		ids[shirt.ID] = struct{}{}
		if shirt.Price < 10 || shirt.Price > 50 {
			t.Fatalf("price out of range: %#v", shirt)
		}
	}
	for _, discount := range data.Discounts {
		if _, ok := ids[discount.TShirtID]; !ok {
			t.Fatalf("discount references unknown t-shirt: %#v", discount)
		}
		if discount.PctDiscount < 0 || discount.PctDiscount > 100 {
			t.Fatalf("pct_discount out of range: %#v", discount)
		}
	}
}

func TestSeedSQLite(t *testing.T) {
	ctx := context.Background()
	conn, err := sqldb.Open(ctx, sqldb.Config{
		Dialect:  query.DialectSQLite,
		Database: filepath.Join(t.TempDir(), "shop.db"),
	})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	data := Generate(1, 20)
	seeder := NewSeeder(conn.DB(), query.DialectSQLite, nil)
	if err := seeder.Seed(ctx, data, true); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	// reseeding with drop replaces the rows
	if err := seeder.Seed(ctx, data, true); err != nil {
		t.Fatalf("second Seed() error = %v", err)
	}

	result, err := conn.Execute(ctx, "SELECT COUNT(*) FROM t_shirts")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if value, _ := result.FirstValue(); value != int64(20) {
		t.Fatalf("t_shirts count = %#v", value)
	}
	result, err = conn.Execute(ctx, "SELECT COUNT(*) FROM discounts")
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if value, _ := result.FirstValue(); value != int64(len(data.Discounts)) {
		t.Fatalf("discounts count = %#v, want %d", value, len(data.Discounts))
	}

	schema, err := conn.Schema(ctx)
	if err != nil {
		t.Fatalf("Schema() error = %v", err)
	}
	summary := schema.Summary()
	if !strings.Contains(summary, `CREATE TABLE "t_shirts"`) || !strings.Contains(summary, `CREATE TABLE "discounts"`) {
		t.Fatalf("summary = %q", summary)
	}
}

func TestSeedWithoutDropFailsOnExistingTables(t *testing.T) {
	ctx := context.Background()
	conn, err := sqldb.Open(ctx, sqldb.Config{Dialect: query.DialectSQLite})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	seeder := NewSeeder(conn.DB(), query.DialectSQLite, nil)
	if err := seeder.Seed(ctx, Generate(1, 5), false); err != nil {
		t.Fatalf("Seed() error = %v", err)
	}
	if err := seeder.Seed(ctx, Generate(1, 5), false); err == nil {
		t.Fatal("expected error when tables already exist")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	cfg, err := LoadConfigFromEnv(mapLookup(map[string]string{}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Dialect != query.DialectSQLite || cfg.TShirts != MaxTShirts || !cfg.DropExisting {
		t.Fatalf("defaults = %#v", cfg)
	}

	cfg, err = LoadConfigFromEnv(mapLookup(map[string]string{
		"QUERYPILOT_DEMO_DIALECT":       "mysql",
		"QUERYPILOT_DEMO_DSN":           "root:pw@tcp(localhost:3306)/atliq_tshirts",
		"QUERYPILOT_DEMO_TSHIRTS":       "12",
		"QUERYPILOT_DEMO_SEED":          "99",
		"QUERYPILOT_DEMO_DROP_EXISTING": "false",
	}))
	if err != nil {
		t.Fatalf("LoadConfigFromEnv() error = %v", err)
	}
	if cfg.Dialect != query.DialectMySQL || cfg.TShirts != 12 || cfg.Seed != 99 || cfg.DropExisting {
		t.Fatalf("overrides = %#v", cfg)
	}

	if _, err := LoadConfigFromEnv(mapLookup(map[string]string{"QUERYPILOT_DEMO_TSHIRTS": "500"})); err == nil {
		t.Fatal("expected error for too many t-shirts")
	}
	if _, err := LoadConfigFromEnv(mapLookup(map[string]string{"QUERYPILOT_DEMO_DIALECT": "oracle"})); err == nil {
		t.Fatal("expected error for unsupported dialect")
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}
