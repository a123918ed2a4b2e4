package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/config"
	"github.com/chquant/channelhf/internal/logging"
	"github.com/chquant/channelhf/internal/scanner"
	"github.com/chquant/channelhf/internal/tradefeature"
	"github.com/rs/zerolog"
)

// loadConfig resolves the effective configuration for a subcommand: the
// file at --config (or defaults when empty), then the --data-dir override.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(flagConfigPath)
	if err != nil {
		return nil, err
	}
	if flagDataDir != "" {
		cfg.DataDir = flagDataDir
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	return cfg, nil
}

// buildLogger returns a component logger writing to stderr, keeping
// stdout free for the NDJSON event stream.
func buildLogger(component, level string) zerolog.Logger {
	return logging.NewTo(os.Stderr, component, level)
}

// splitSymbols parses a comma-separated --symbols flag into a trimmed,
// non-empty symbol list.
func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseDateFlag parses a YYYY-MM-DD flag value. An empty string returns a
// nil bound (no restriction).
func parseDateFlag(raw string) (*time.Time, error) {
	if raw == "" {
		return nil, nil
	}
	t, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, argErrorf("invalid date %q (want YYYY-MM-DD): %w", raw, err)
	}
	return &t, nil
}

// loadSymbolBars loads <dataDir>/<symbol>.csv via the tolerant bar loader.
func loadSymbolBars(dataDir, symbol string, begin, end *time.Time, logger zerolog.Logger) ([]barmodel.Bar, error) {
	path := filepath.Join(dataDir, symbol+".csv")
	bars, err := barmodel.LoadFromCSV(path, symbol, barmodel.LoadOptions{
		Begin:    begin,
		End:      end,
		Validate: true,
		Logger:   logger,
	})
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", symbol, err)
	}
	return bars, nil
}

// zeroIfNil unwraps an optional date bound to its zero value when absent,
// matching tradefeature.Query's "zero from/to skips that bound" contract.
func zeroIfNil(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}

// loadIndexBars loads the benchmark/index series when indexSymbol is set,
// returning nil bars when it's empty (no index-regime filtering).
func loadIndexBars(cfg config.Config, indexSymbol string, begin, end *time.Time, logger zerolog.Logger) ([]barmodel.Bar, error) {
	if indexSymbol == "" {
		return nil, nil
	}
	return loadSymbolBars(cfg.DataDir, indexSymbol, begin, end, logger)
}

// openFeatureStore points the trade-feature journal at a Postgres database
// when spec names a postgres://(postgresql://) DSN, or a local JSON file
// otherwise. The returned close func is a no-op for the file-backed Store.
func openFeatureStore(spec string) (tradefeature.Persister, func() error, error) {
	if tradefeature.IsPostgresDSN(spec) {
		store, err := tradefeature.OpenPostgres(spec)
		if err != nil {
			return nil, nil, err
		}
		return store, store.Close, nil
	}
	return tradefeature.New(spec), func() error { return nil }, nil
}

// persistTradeFeatures upserts one feature-snapshot record per closed trade
// in result into store, pairing each trade with the strategy's captured
// signal trace for its entry date when available.
func persistTradeFeatures(store tradefeature.Persister, symbol string, result scanner.Result) error {
	logsByDate := make(map[string]struct {
		Mid, Lower, Upper, SlopeNorm, VolRatio float64
	}, len(result.Logs))
	for _, l := range result.Logs {
		logsByDate[l.Date.Format("2006-01-02")] = struct {
			Mid, Lower, Upper, SlopeNorm, VolRatio float64
		}{l.Mid, l.Lower, l.Upper, l.SlopeNorm, l.VolRatio}
	}

	for _, tr := range result.Trades {
		snapshot := map[string]float64{}
		if s, ok := logsByDate[tr.EntryDt.Format("2006-01-02")]; ok {
			snapshot = map[string]float64{
				"mid":        s.Mid,
				"lower":      s.Lower,
				"upper":      s.Upper,
				"slope_norm": s.SlopeNorm,
				"vol_ratio":  s.VolRatio,
			}
		}
		returnRate := tr.PnLPercentage()
		rec := tradefeature.Record{
			TransactionID: tradefeature.TransactionID(symbol, tr.EntryDt, tr.EntryDt, tr.ExitDt, tr.Qty, tr.ExitReason, returnRate),
			Symbol:        symbol,
			SignalDate:    tr.EntryDt,
			EntryDt:       tr.EntryDt,
			ExitDt:        tr.ExitDt,
			Qty:           tr.Qty,
			ExitReason:    tr.ExitReason,
			ReturnRate:    returnRate,
			FeatureSnapshot: snapshot,
		}
		if err := store.Upsert(rec); err != nil {
			return err
		}
	}
	return nil
}
