// Package selector ranks symbols from two backtest result CSVs — one per
// exit mode — by a composite of Calmar, Sharpe, annualized return and
// drawdown, after a hard-filter pass. It has no engine/strategy
// dependency: it only ever sees the headline metrics a prior batch or
// scanner run already wrote to disk.
package selector

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"
)

// Row is one symbol's headline metrics from a single exit mode's result
// CSV, plus its derived Calmar ratio.
type Row struct {
	Symbol          string
	AnnualizedReturn float64
	Sharpe           float64
	MaxDrawdown      float64 // positive fraction
	Trades           int
	Calmar           float64
}

// columnAliases mirrors the bar loader's tolerant, case-insensitive header
// matching so result CSVs produced by either the scanner or an external
// spreadsheet pass load the same way.
var columnAliases = map[string][]string{
	"symbol":            {"symbol", "code"},
	"annualized_return": {"annualized_return", "annual_return", "cagr"},
	"sharpe":            {"sharpe", "sharpe_ratio"},
	"max_drawdown":      {"max_drawdown", "mdd", "drawdown"},
	"trades":            {"trades", "trade_count"},
}

// LoadCSV reads one exit mode's result file and derives each row's Calmar
// ratio (annualized_return / |max_drawdown|, +Inf when drawdown is zero
// and the return isn't).
func LoadCSV(path string) ([]Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("selector: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("selector: read header of %s: %w", path, err)
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, fmt.Errorf("selector: %s: %w", path, err)
	}

	var rows []Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		row, ok := parseRow(rec, cols)
		if !ok {
			continue
		}
		row.Calmar = calmar(row.AnnualizedReturn, row.MaxDrawdown)
		rows = append(rows, row)
	}
	return rows, nil
}

func resolveColumns(header []string) (map[string]int, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}
	cols := make(map[string]int)
	for role, aliases := range columnAliases {
		found := -1
		for i, h := range normalized {
			for _, alias := range aliases {
				if h == alias {
					found = i
					break
				}
			}
			if found != -1 {
				break
			}
		}
		if found == -1 {
			return nil, fmt.Errorf("missing required column for %q", role)
		}
		cols[role] = found
	}
	return cols, nil
}

func parseRow(rec []string, cols map[string]int) (Row, bool) {
	get := func(role string) (string, bool) {
		idx := cols[role]
		if idx < 0 || idx >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(rec[idx]), true
	}

	symbol, ok := get("symbol")
	if !ok || symbol == "" {
		return Row{}, false
	}
	annStr, _ := get("annualized_return")
	sharpeStr, _ := get("sharpe")
	mddStr, _ := get("max_drawdown")
	tradesStr, _ := get("trades")

	ann, err1 := strconv.ParseFloat(annStr, 64)
	sharpe, err2 := strconv.ParseFloat(sharpeStr, 64)
	mdd, err3 := strconv.ParseFloat(mddStr, 64)
	if err1 != nil || err2 != nil || err3 != nil {
		return Row{}, false
	}
	trades, _ := strconv.Atoi(tradesStr)

	return Row{
		Symbol:           symbol,
		AnnualizedReturn: ann,
		Sharpe:           sharpe,
		MaxDrawdown:      math.Abs(mdd),
		Trades:           trades,
	}, true
}

// calmar mirrors metrics.calmar's zero-drawdown convention: CAGR/|MDD|
// when MDD > 0; 0 when both are zero; +Inf when MDD is zero but the
// return isn't.
func calmar(annualizedReturn, maxDrawdown float64) float64 {
	if maxDrawdown > 0 {
		return annualizedReturn / maxDrawdown
	}
	if annualizedReturn == 0 {
		return 0
	}
	return math.Inf(1)
}

// Filters is the hard pass/fail gate applied before ranking.
type Filters struct {
	MinAnnualizedReturn float64
	MinSharpe           float64
	MaxDrawdown         float64 // rows with MaxDrawdown above this are dropped
	MinTrades           int     // strictly greater than, per spec ("trades > T")
	MinCalmar           float64
}

// Passes reports whether row clears every configured filter.
func (f Filters) Passes(row Row) bool {
	return row.AnnualizedReturn >= f.MinAnnualizedReturn &&
		row.Sharpe >= f.MinSharpe &&
		row.MaxDrawdown <= f.MaxDrawdown &&
		row.Trades > f.MinTrades &&
		row.Calmar >= f.MinCalmar
}

// Ranked is one surviving row's composite rank-sum result.
type Ranked struct {
	Row
	Mode    string
	RankSum int
}

// ModeSummary is the per-mode pass/fail tally reported alongside the
// merged top-N ranking.
type ModeSummary struct {
	Mode      string
	TotalRows int
	Passed    int
}

// Selection is Select's full result: the merged top-N across both modes
// plus a per-mode summary of how many rows survived the filter pass.
type Selection struct {
	TopN    []Ranked
	Summary []ModeSummary
}

// Select filters and ranks rows from up to two named exit-mode result
// sets. Ranking sums four independent rank orderings — Calmar (desc),
// Sharpe (desc), annualized return (desc), max drawdown (asc) — so a row
// that's merely good on every axis can still outrank one excellent on a
// single axis, mirroring the reference screener's "sort by rank, rank 1
// is best" convention applied across metrics instead of a single score.
func Select(modes map[string][]Row, filters Filters, topN int) Selection {
	var sel Selection
	var survivors []Ranked

	// deterministic iteration order for reproducible summaries/output.
	modeNames := make([]string, 0, len(modes))
	for name := range modes {
		modeNames = append(modeNames, name)
	}
	sort.Strings(modeNames)

	for _, name := range modeNames {
		rows := modes[name]
		summary := ModeSummary{Mode: name, TotalRows: len(rows)}
		for _, row := range rows {
			if !filters.Passes(row) {
				continue
			}
			summary.Passed++
			survivors = append(survivors, Ranked{Row: row, Mode: name})
		}
		sel.Summary = append(sel.Summary, summary)
	}

	assignRankSums(survivors)

	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].RankSum != survivors[j].RankSum {
			return survivors[i].RankSum < survivors[j].RankSum
		}
		return survivors[i].Symbol < survivors[j].Symbol
	})

	if topN > 0 && len(survivors) > topN {
		survivors = survivors[:topN]
	}
	sel.TopN = survivors
	return sel
}

// assignRankSums computes four 1-based rank orderings over survivors and
// sums them in place. Ties share the same rank (standard competition
// ranking), so equal values never artificially separate.
func assignRankSums(survivors []Ranked) {
	if len(survivors) == 0 {
		return
	}
	addRanks(survivors, func(r Ranked) float64 { return r.Calmar }, true)
	addRanks(survivors, func(r Ranked) float64 { return r.Sharpe }, true)
	addRanks(survivors, func(r Ranked) float64 { return r.AnnualizedReturn }, true)
	addRanks(survivors, func(r Ranked) float64 { return r.MaxDrawdown }, false)
}

// addRanks ranks survivors by key (descending when best=true, ascending
// otherwise) and adds each element's 1-based rank to its RankSum.
func addRanks(survivors []Ranked, key func(Ranked) float64, best bool) {
	order := make([]int, len(survivors))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		a, b := key(survivors[order[i]]), key(survivors[order[j]])
		if best {
			return a > b
		}
		return a < b
	})

	rank := 1
	for pos, idx := range order {
		if pos > 0 {
			prev := order[pos-1]
			if key(survivors[prev]) != key(survivors[idx]) {
				rank = pos + 1
			}
		}
		survivors[idx].RankSum += rank
	}
}
