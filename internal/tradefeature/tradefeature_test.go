package tradefeature

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestTransactionIDIsStableForIdenticalInputs(t *testing.T) {
	id1 := TransactionID("AAA", date("2024-01-01"), date("2024-01-02"), date("2024-01-10"), 100, "stop_loss", 0.05)
	id2 := TransactionID("AAA", date("2024-01-01"), date("2024-01-02"), date("2024-01-10"), 100, "stop_loss", 0.05)
	if id1 != id2 {
		t.Fatalf("expected identical transaction ids, got %s != %s", id1, id2)
	}
}

func TestTransactionIDDiffersOnReturnRate(t *testing.T) {
	id1 := TransactionID("AAA", date("2024-01-01"), date("2024-01-02"), date("2024-01-10"), 100, "stop_loss", 0.05)
	id2 := TransactionID("AAA", date("2024-01-01"), date("2024-01-02"), date("2024-01-10"), 100, "stop_loss", 0.06)
	if id1 == id2 {
		t.Fatalf("expected different transaction ids for different return rates")
	}
}

func TestStoreUpsertInsertsThenUpdatesPreservingOriginalSnapshot(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "journal.json"))

	txID := TransactionID("AAA", date("2024-01-01"), date("2024-01-02"), date("2024-01-10"), 100, "stop_loss", 0.05)
	rec := Record{
		TransactionID:   txID,
		Symbol:          "AAA",
		SignalDate:      date("2024-01-01"),
		EntryDt:         date("2024-01-02"),
		ExitDt:          date("2024-01-10"),
		Qty:             100,
		ExitReason:      "stop_loss",
		ReturnRate:      0.05,
		FeatureSnapshot: map[string]float64{"mid": 10.0},
	}
	if err := store.Upsert(rec); err != nil {
		t.Fatalf("first upsert: %v", err)
	}

	rec.FeatureSnapshot = map[string]float64{"mid": 10.5}
	if err := store.Upsert(rec); err != nil {
		t.Fatalf("second upsert: %v", err)
	}

	records, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record after upsert-by-id, got %d", len(records))
	}
	if records[0].FeatureSnapshot["mid"] != 10.5 {
		t.Errorf("expected latest snapshot to win, got %+v", records[0].FeatureSnapshot)
	}
	if records[0].FeatureSnapshotOriginal["mid"] != 10.0 {
		t.Errorf("expected original snapshot preserved from first insert, got %+v", records[0].FeatureSnapshotOriginal)
	}
	if records[0].CreatedAt.IsZero() {
		t.Error("expected CreatedAt to be stamped on first insert")
	}
}

func TestStoreLoadOnMissingFileReturnsEmptyNotError(t *testing.T) {
	store := New(filepath.Join(t.TempDir(), "absent.json"))
	records, err := store.Load()
	if err != nil {
		t.Fatalf("expected no error for missing journal, got %v", err)
	}
	if records != nil {
		t.Errorf("expected nil records, got %+v", records)
	}
}

func TestStoreQueryFiltersBySymbolIgnoringExchangeSuffixAndDateRange(t *testing.T) {
	dir := t.TempDir()
	store := New(filepath.Join(dir, "journal.json"))

	mk := func(symbol string, entry string) Record {
		return Record{
			TransactionID: TransactionID(symbol, date(entry), date(entry), date(entry), 1, "target", 0.01),
			Symbol:        symbol,
			EntryDt:       date(entry),
			ExitDt:        date(entry),
			ReturnRate:    0.01,
		}
	}
	must := func(r Record) {
		t.Helper()
		if err := store.Upsert(r); err != nil {
			t.Fatalf("upsert: %v", err)
		}
	}
	must(mk("600000.SH", "2024-02-01"))
	must(mk("600000", "2024-03-01"))
	must(mk("600001.SH", "2024-02-15"))

	results, err := store.Query("600000", date("2024-01-01"), date("2024-02-28"))
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(results) != 1 || results[0].EntryDt != date("2024-02-01") {
		t.Fatalf("unexpected query results: %+v", results)
	}
}

func TestExportCSVWritesBOMAndMetadataHeader(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "export.csv")
	records := []Record{
		{
			TransactionID: "abc123",
			Symbol:        "AAA",
			EntryDt:       date("2024-01-02"),
			ExitDt:        date("2024-01-10"),
			Qty:           100,
			ExitReason:    "stop_loss",
			ReturnRate:    0.05,
		},
	}
	if err := ExportCSV(out, records); err != nil {
		t.Fatalf("export: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read export: %v", err)
	}
	if len(data) < 3 || data[0] != 0xEF || data[1] != 0xBB || data[2] != 0xBF {
		t.Error("expected UTF-8 BOM at start of export")
	}
	content := string(data)
	if !contains(content, "# trade-feature export") {
		t.Error("expected metadata comment line")
	}
	if !contains(content, "transaction_id") {
		t.Error("expected header row")
	}
}

func contains(s, substr string) bool {
	return len(s) >= len(substr) && indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}
