package main

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/chquant/channelhf/internal/barmodel"
	"github.com/chquant/channelhf/internal/ndjson"
	"github.com/spf13/cobra"
)

func newQualityCmd() *cobra.Command {
	var (
		symbolsFlag string
		nameFlag    string
	)

	cmd := &cobra.Command{
		Use:   "quality",
		Short: "inspect each symbol's bar history for data-quality anomalies without running a backtest",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := splitSymbols(symbolsFlag)
			if len(symbols) == 0 {
				return argErrorf("--symbols is required")
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := buildLogger("quality", cfg.LogLevel)

			reports := make([]barmodel.QualityReport, 0, len(symbols))
			for _, sym := range symbols {
				path := filepath.Join(cfg.DataDir, sym+".csv")
				bars, err := barmodel.LoadFromCSV(path, sym, barmodel.LoadOptions{Logger: logger})
				if err != nil {
					reports = append(reports, barmodel.QualityReport{Symbol: sym, Path: path, OK: false,
						Anomalies: []barmodel.Anomaly{{Type: "load_failed", Message: err.Error()}}})
					continue
				}
				reports = append(reports, barmodel.InspectQuality(sym, path, bars, cfg.Quality, nameFlag, time.Now()))
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ndjson.Sanitize(reports))
		},
	}

	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "comma-separated symbol list (required)")
	cmd.Flags().StringVar(&nameFlag, "name", "", "symbol display name, used for the ST-marker check")

	return cmd
}
