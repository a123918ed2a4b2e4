// Package tradefeature persists the per-trade feature snapshots used for
// offline model training: a JSON journal keyed by a content-derived
// transaction ID, written atomically and exportable to CSV.
package tradefeature

import (
	"crypto/sha1"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// Record is one trade's feature snapshot plus the denormalized trade keys
// used for querying without re-joining against the trade list.
type Record struct {
	TransactionID string `json:"transaction_id"`

	Symbol     string    `json:"symbol"`
	SignalDate time.Time `json:"signal_date"`
	EntryDt    time.Time `json:"entry_dt"`
	ExitDt     time.Time `json:"exit_dt"`
	Qty        float64   `json:"qty"`
	ExitReason string    `json:"exit_reason"`
	ReturnRate float64   `json:"return_rate"`

	FeatureSnapshot         map[string]float64 `json:"feature_snapshot"`
	FeatureSnapshotOriginal map[string]float64 `json:"feature_snapshot_original,omitempty"`
	ParamsSnapshot          map[string]any      `json:"params_snapshot,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TransactionID hashes the record's identity fields with SHA-1 over their
// canonical JSON encoding, so the same logical trade always upserts to the
// same row regardless of how many times its features are recomputed.
func TransactionID(symbol string, signalDate, entryDt, exitDt time.Time, qty float64, exitReason string, returnRate float64) string {
	key := struct {
		Symbol     string  `json:"symbol"`
		SignalDate string  `json:"signal_date"`
		EntryDt    string  `json:"entry_dt"`
		ExitDt     string  `json:"exit_dt"`
		Qty        float64 `json:"qty"`
		ExitReason string  `json:"exit_reason"`
		ReturnRate float64 `json:"return_rate"`
	}{
		Symbol:     symbol,
		SignalDate: signalDate.Format("2006-01-02"),
		EntryDt:    entryDt.Format("2006-01-02"),
		ExitDt:     exitDt.Format("2006-01-02"),
		Qty:        qty,
		ExitReason: exitReason,
		ReturnRate: returnRate,
	}
	blob, _ := json.Marshal(key)
	sum := sha1.Sum(blob)
	return fmt.Sprintf("%x", sum)
}

// Store is the file-backed journal: one JSON array under path, guarded by
// a mutex and written atomically (temp file + rename), the same pattern
// used elsewhere in this lineage for crash-safe state persistence.
type Store struct {
	mu   sync.Mutex
	path string
}

// New returns a Store journaling to path. The containing directory is
// created on first write if absent.
func New(path string) *Store {
	return &Store{path: path}
}

// Load returns every record currently in the journal. A missing file is
// treated as an empty journal, not an error.
func (s *Store) Load() ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked()
}

func (s *Store) loadLocked() ([]Record, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("tradefeature: read journal: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}
	var records []Record
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("tradefeature: parse journal: %w", err)
	}
	return records, nil
}

func (s *Store) writeLocked(records []Record) error {
	dir := filepath.Dir(s.path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("tradefeature: create directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("tradefeature: marshal journal: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("tradefeature: write temp journal: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("tradefeature: rename journal: %w", err)
	}
	return nil
}

// Upsert merges rec into the journal by TransactionID. An existing row's
// FeatureSnapshotOriginal is preserved (captured once, on first insert);
// FeatureSnapshot, UpdatedAt, ParamsSnapshot, and the denormalized trade
// keys are always refreshed from rec.
func (s *Store) Upsert(rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.loadLocked()
	if err != nil {
		return err
	}

	now := rec.UpdatedAt
	if now.IsZero() {
		now = time.Now()
	}
	rec.UpdatedAt = now

	for i, existing := range records {
		if existing.TransactionID != rec.TransactionID {
			continue
		}
		if existing.FeatureSnapshotOriginal != nil {
			rec.FeatureSnapshotOriginal = existing.FeatureSnapshotOriginal
		} else {
			rec.FeatureSnapshotOriginal = existing.FeatureSnapshot
		}
		rec.CreatedAt = existing.CreatedAt
		records[i] = rec
		return s.writeLocked(records)
	}

	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	if rec.FeatureSnapshotOriginal == nil {
		rec.FeatureSnapshotOriginal = rec.FeatureSnapshot
	}
	records = append(records, rec)
	return s.writeLocked(records)
}

// Query returns every record matching symbol (ignoring exchange suffix,
// e.g. "600000.SH" matches "600000") whose EntryDt falls within [from, to].
// An empty symbol skips the symbol filter; a zero from/to skips that bound.
func (s *Store) Query(symbol string, from, to time.Time) ([]Record, error) {
	records, err := s.Load()
	if err != nil {
		return nil, err
	}

	var out []Record
	wantSymbol := normalizeSymbol(symbol)
	for _, r := range records {
		if wantSymbol != "" && normalizeSymbol(r.Symbol) != wantSymbol {
			continue
		}
		if !from.IsZero() && r.EntryDt.Before(from) {
			continue
		}
		if !to.IsZero() && r.EntryDt.After(to) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

// normalizeSymbol strips an exchange suffix ("600000.SH" -> "600000") so
// queries match regardless of which exchange qualifier the caller used.
func normalizeSymbol(symbol string) string {
	if i := strings.LastIndex(symbol, "."); i >= 0 {
		return symbol[:i]
	}
	return symbol
}

// csvColumns is the stable export column order.
var csvColumns = []string{
	"transaction_id", "symbol", "signal_date", "entry_dt", "exit_dt",
	"qty", "exit_reason", "return_rate_pct", "created_at", "updated_at",
}

// ExportCSV writes records to path as a BOM-prefixed UTF-8 CSV with two
// metadata comment lines ahead of the header, a stable column order, and
// return_rate scaled to a percentage.
func ExportCSV(path string, records []Record) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("tradefeature: create export directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("tradefeature: create export file: %w", err)
	}
	defer f.Close()

	if _, err := f.WriteString("﻿"); err != nil {
		return fmt.Errorf("tradefeature: write BOM: %w", err)
	}
	if _, err := fmt.Fprintf(f, "# trade-feature export\n# generated_at=%s, rows=%d\n",
		time.Now().Format(time.RFC3339), len(records)); err != nil {
		return fmt.Errorf("tradefeature: write metadata header: %w", err)
	}

	w := csv.NewWriter(f)
	defer w.Flush()

	if err := w.Write(csvColumns); err != nil {
		return fmt.Errorf("tradefeature: write header row: %w", err)
	}

	sorted := append([]Record(nil), records...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].EntryDt.Before(sorted[j].EntryDt) })

	for _, r := range sorted {
		row := []string{
			r.TransactionID,
			r.Symbol,
			r.SignalDate.Format("2006-01-02"),
			r.EntryDt.Format("2006-01-02"),
			r.ExitDt.Format("2006-01-02"),
			fmt.Sprintf("%.4f", r.Qty),
			r.ExitReason,
			fmt.Sprintf("%.2f", r.ReturnRate*100),
			r.CreatedAt.Format(time.RFC3339),
			r.UpdatedAt.Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return fmt.Errorf("tradefeature: write row: %w", err)
		}
	}
	w.Flush()
	return w.Error()
}
