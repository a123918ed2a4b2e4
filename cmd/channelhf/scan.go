package main

import (
	"fmt"
	"os"

	"github.com/chquant/channelhf/internal/ndjson"
	"github.com/chquant/channelhf/internal/scanner"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
)

func newScanCmd() *cobra.Command {
	var (
		symbolsFlag string
		indexSymbol string
		beginFlag   string
		endFlag     string
	)

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "replay each symbol and report its most recent actionable signal within the scan window",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := splitSymbols(symbolsFlag)
			if len(symbols) == 0 {
				return argErrorf("--symbols is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := buildLogger("scan", cfg.LogLevel)

			begin, err := parseDateFlag(beginFlag)
			if err != nil {
				return err
			}
			end, err := parseDateFlag(endFlag)
			if err != nil {
				return err
			}

			indexBars, err := loadIndexBars(*cfg, indexSymbol, begin, end, logger)
			if err != nil {
				return err
			}

			out := ndjson.New(os.Stdout)
			taskID := uuid.New().String()
			total := len(symbols)
			if err := out.Emit(ndjson.Event{"type": "start", "task_id": taskID, "total": total, "symbols": symbols}); err != nil {
				return fmt.Errorf("emit start: %w", err)
			}

			done := 0
			for _, sym := range symbols {
				bars, err := loadSymbolBars(cfg.DataDir, sym, begin, end, logger)
				if err != nil {
					done++
					_ = out.Emit(ndjson.Event{"type": "error", "message": err.Error(), "progress": ndjson.Progress(done, total)})
					continue
				}

				log, found := scanner.ScanChannelForSymbol(sym, bars, indexBars, *cfg, logger)
				done++

				data := map[string]any{"symbol": sym, "found": found}
				if found {
					data["signal"] = log
				}
				if err := out.Emit(ndjson.Event{
					"type":     "result",
					"status":   "success",
					"data":     data,
					"progress": ndjson.Progress(done, total),
				}); err != nil {
					return fmt.Errorf("emit result: %w", err)
				}
			}

			return out.Emit(ndjson.Event{"type": "end", "status": "completed", "progress": ndjson.Progress(done, total)})
		},
	}

	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "comma-separated symbol list (required)")
	cmd.Flags().StringVar(&indexSymbol, "index-symbol", "", "benchmark/index symbol, loaded from the same data directory")
	cmd.Flags().StringVar(&beginFlag, "begin", "", "inclusive start date YYYY-MM-DD")
	cmd.Flags().StringVar(&endFlag, "end", "", "inclusive end date YYYY-MM-DD")

	return cmd
}
