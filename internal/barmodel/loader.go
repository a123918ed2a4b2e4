package barmodel

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// header column roles, recognized case-insensitively with a handful of
// common Chinese aliases tolerated alongside the English ones.
var headerAliases = map[string][]string{
	"date":   {"date", "dt", "trade_date", "日期"},
	"open":   {"open", "open_price", "开盘", "开盘价"},
	"high":   {"high", "high_price", "最高", "最高价"},
	"low":    {"low", "low_price", "最低", "最低价"},
	"close":  {"close", "close_price", "收盘", "收盘价"},
	"volume": {"volume", "vol", "成交量"},
}

// QuoteFetcher is the seam for a same-day remote quote overlay. A live
// implementation (rate-limited HTTP polling) is outside this module's
// scope; callers that don't need realtime data pass nil.
type QuoteFetcher interface {
	// FetchLatest returns a same-day snapshot bar for symbol, or ok=false
	// when the market has not produced one yet.
	FetchLatest(symbol string) (bar Bar, ok bool, err error)
}

// LoadOptions controls CSV loading behavior.
type LoadOptions struct {
	Begin    *time.Time
	End      *time.Time
	Validate bool
	Realtime QuoteFetcher
	Logger   zerolog.Logger
}

// LoadFromCSV parses a bar history for one symbol, tolerantly matching
// headers and date formats, skipping malformed rows with a logged count,
// and sorting + reindexing the result. OHLC ordering violations and large
// day-over-day open gaps are logged, never rejected.
func LoadFromCSV(path, symbol string, opts LoadOptions) ([]Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("barmodel: open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("barmodel: read header of %s: %w", path, err)
	}
	cols, err := resolveColumns(header)
	if err != nil {
		return nil, fmt.Errorf("barmodel: %s: %w", path, err)
	}

	var bars []Bar
	skipped := 0
	rowNum := 1
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		rowNum++
		if err != nil {
			skipped++
			continue
		}
		bar, ok := parseRow(rec, cols, symbol)
		if !ok {
			skipped++
			continue
		}
		if opts.Begin != nil && bar.Date.Before(*opts.Begin) {
			continue
		}
		if opts.End != nil && bar.Date.After(*opts.End) {
			continue
		}
		bars = append(bars, bar)
	}

	if skipped > 0 {
		opts.Logger.Warn().Str("symbol", symbol).Str("path", path).Int("rows_skipped", skipped).Msg("skipped malformed rows")
	}

	sort.Slice(bars, func(i, j int) bool { return bars[i].Date.Before(bars[j].Date) })
	for i := range bars {
		bars[i].Index = i
	}

	if opts.Realtime != nil && len(bars) > 0 {
		if snap, ok, err := opts.Realtime.FetchLatest(symbol); err == nil && ok {
			last := bars[len(bars)-1]
			if !snap.Date.Before(last.Date) {
				snap.Index = last.Index
				if snap.Date.Equal(last.Date) {
					bars[len(bars)-1] = snap
				} else {
					snap.Index = last.Index + 1
					bars = append(bars, snap)
				}
			}
		}
	}

	if opts.Validate {
		validate(bars, symbol, opts.Logger)
	}

	return bars, nil
}

func resolveColumns(header []string) (map[string]int, error) {
	normalized := make([]string, len(header))
	for i, h := range header {
		normalized[i] = strings.ToLower(strings.TrimSpace(h))
	}

	cols := make(map[string]int)
	for role, aliases := range headerAliases {
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
		if found == -1 && role != "volume" {
			return nil, fmt.Errorf("missing required column for %q", role)
		}
		cols[role] = found
	}
	return cols, nil
}

func parseRow(rec []string, cols map[string]int, symbol string) (Bar, bool) {
	get := func(role string) (string, bool) {
		idx, ok := cols[role]
		if !ok || idx < 0 || idx >= len(rec) {
			return "", false
		}
		return strings.TrimSpace(rec[idx]), true
	}

	dateStr, ok := get("date")
	if !ok {
		return Bar{}, false
	}
	date, ok := parseDate(dateStr)
	if !ok {
		return Bar{}, false
	}

	openStr, _ := get("open")
	highStr, _ := get("high")
	lowStr, _ := get("low")
	closeStr, _ := get("close")

	open, ok1 := parseFloat(openStr)
	high, ok2 := parseFloat(highStr)
	low, ok3 := parseFloat(lowStr)
	cl, ok4 := parseFloat(closeStr)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return Bar{}, false
	}
	if open <= 0 || high <= 0 || low <= 0 || cl <= 0 {
		return Bar{}, false
	}

	var volume float64
	if volStr, ok := get("volume"); ok && volStr != "" {
		if v, ok := parseFloat(volStr); ok {
			volume = v
		}
	}

	return Bar{
		Symbol: symbol,
		Date:   date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  cl,
		Volume: volume,
	}, true
}

func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	layouts := []string{"20060102", "2006-01-02", "2006/01/02", time.RFC3339, "2006-01-02T15:04:05"}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func parseFloat(s string) (float64, bool) {
	s = strings.ReplaceAll(s, ",", "")
	s = strings.TrimSuffix(s, "%")
	if s == "" || strings.EqualFold(s, "nan") || s == "-" {
		return 0, false
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// validate logs (never raises) OHLC ordering violations and suspiciously
// large day-over-day open gaps, which typically indicate un-adjusted
// corporate actions rather than bad data.
func validate(bars []Bar, symbol string, logger zerolog.Logger) {
	for i, b := range bars {
		lo := b.Low
		hi := b.High
		if lo > b.Open || lo > b.Close || hi < b.Open || hi < b.Close || lo > hi {
			logger.Warn().Str("symbol", symbol).Time("date", b.Date).Msg("OHLC ordering violation")
		}
		if i > 0 {
			prevClose := bars[i-1].Close
			if prevClose > 0 {
				gap := b.Open/prevClose - 1
				if gap > 0.25 || gap < -0.25 {
					logger.Warn().Str("symbol", symbol).Time("date", b.Date).Float64("gap", gap).Msg("large day-over-day open gap")
				}
			}
		}
	}
}
