package main

import (
	"fmt"
	"os"

	"github.com/chquant/channelhf/internal/ndjson"
	"github.com/chquant/channelhf/internal/obsmetrics"
	"github.com/chquant/channelhf/internal/scanner"
	"github.com/chquant/channelhf/internal/tradefeature"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newBacktestCmd() *cobra.Command {
	var (
		symbolsFlag       string
		indexSymbol       string
		beginFlag         string
		endFlag           string
		detail            bool
		segments          int
		exportFeatures    string
		enableRiskOverlay bool
	)

	cmd := &cobra.Command{
		Use:   "backtest",
		Short: "replay the ChannelHF strategy over one or more symbols and stream NDJSON results",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := splitSymbols(symbolsFlag)
			if len(symbols) == 0 {
				return argErrorf("--symbols is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := buildLogger("backtest", cfg.LogLevel)

			begin, err := parseDateFlag(beginFlag)
			if err != nil {
				return err
			}
			end, err := parseDateFlag(endFlag)
			if err != nil {
				return err
			}

			var store tradefeature.Persister
			if exportFeatures != "" {
				var closeStore func() error
				store, closeStore, err = openFeatureStore(exportFeatures)
				if err != nil {
					return err
				}
				defer closeStore()
			}

			out := ndjson.New(os.Stdout)
			taskID := uuid.New().String()
			total := len(symbols)

			if err := out.Emit(ndjson.Event{"type": "start", "task_id": taskID, "total": total, "symbols": symbols}); err != nil {
				return fmt.Errorf("emit start: %w", err)
			}

			indexBarsLoaded, err := loadIndexBars(*cfg, indexSymbol, begin, end, logger)
			if err != nil {
				return err
			}

			reg := obsmetrics.New()

			done := 0
			for _, sym := range symbols {
				bars, err := loadSymbolBars(cfg.DataDir, sym, begin, end, logger)
				if err != nil {
					done++
					_ = out.Emit(ndjson.Event{"type": "error", "message": err.Error(), "progress": ndjson.Progress(done, total)})
					continue
				}

				opts := scanner.Options{Detail: detail, Segments: segments, Logger: logger, Metrics: reg, EnableRiskOverlay: enableRiskOverlay}
				summary, result := scanner.BacktestForSymbol(sym, bars, indexBarsLoaded, *cfg, opts)
				done++

				data := map[string]any{"summary": summary}
				if result != nil {
					data["detail"] = result
					if store != nil {
						if err := persistTradeFeatures(store, sym, *result); err != nil {
							logger.Warn().Err(err).Str("symbol", sym).Msg("trade feature export failed")
						}
					}
				}

				if err := out.Emit(ndjson.Event{
					"type":     "result",
					"status":   "success",
					"data":     data,
					"progress": ndjson.Progress(done, total),
				}); err != nil {
					return fmt.Errorf("emit result: %w", err)
				}
				logger.Info().
					Str("symbol", sym).
					Str("bars", humanize.Comma(int64(len(bars)))).
					Str("trades", humanize.Comma(int64(summary.TradeCount))).
					Msg("symbol backtest complete")
			}

			return out.Emit(ndjson.Event{"type": "end", "status": "completed", "progress": ndjson.Progress(done, total), "metrics": reg.Snapshot()})
		},
	}

	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "comma-separated symbol list (required)")
	cmd.Flags().StringVar(&indexSymbol, "index-symbol", "", "benchmark/index symbol, loaded from the same data directory")
	cmd.Flags().StringVar(&beginFlag, "begin", "", "inclusive start date YYYY-MM-DD")
	cmd.Flags().StringVar(&endFlag, "end", "", "inclusive end date YYYY-MM-DD")
	cmd.Flags().BoolVar(&detail, "detail", false, "include the full equity/trade/log detail in each result")
	cmd.Flags().IntVar(&segments, "segments", 1, "robust subperiod split count; >1 enables the mean-std composite score")
	cmd.Flags().StringVar(&exportFeatures, "export-features", "", "trade-feature journal to upsert each closed trade into: a JSON file path, or a postgres://... DSN")
	cmd.Flags().BoolVar(&enableRiskOverlay, "enable-risk-overlay", false, "gate every BUY order through internal/risk.Manager's capital/position guardrails on top of the strategy's own entry pipeline")

	return cmd
}
