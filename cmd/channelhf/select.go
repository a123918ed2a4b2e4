package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/chquant/channelhf/internal/ndjson"
	"github.com/chquant/channelhf/internal/selector"
	"github.com/spf13/cobra"
)

func newSelectCmd() *cobra.Command {
	var (
		modeCSVs   []string
		minReturn  float64
		minSharpe  float64
		maxDD      float64
		minTrades  int
		minCalmar  float64
		topN       int
	)

	cmd := &cobra.Command{
		Use:   "select",
		Short: "filter and rank symbols across two or more exit-mode result CSVs",
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(modeCSVs) == 0 {
				return argErrorf("--mode is required at least once (path, or name=path)")
			}

			modes := make(map[string][]selector.Row, len(modeCSVs))
			for i, spec := range modeCSVs {
				name, path := splitModeSpec(spec, i)
				rows, err := selector.LoadCSV(path)
				if err != nil {
					return fmt.Errorf("load mode %s: %w", name, err)
				}
				modes[name] = rows
			}

			filters := selector.Filters{
				MinAnnualizedReturn: minReturn,
				MinSharpe:           minSharpe,
				MaxDrawdown:         maxDD,
				MinTrades:           minTrades,
				MinCalmar:           minCalmar,
			}
			sel := selector.Select(modes, filters, topN)

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ndjson.Sanitize(sel))
		},
	}

	cmd.Flags().StringArrayVar(&modeCSVs, "mode", nil, "repeatable mode spec: NAME=PATH, or bare PATH (named by its index)")
	cmd.Flags().Float64Var(&minReturn, "min-annualized-return", 0, "minimum annualized_return to pass")
	cmd.Flags().Float64Var(&minSharpe, "min-sharpe", 0, "minimum sharpe to pass")
	cmd.Flags().Float64Var(&maxDD, "max-drawdown", 1, "maximum max_drawdown to pass")
	cmd.Flags().IntVar(&minTrades, "min-trades", 0, "trades must be strictly greater than this to pass")
	cmd.Flags().Float64Var(&minCalmar, "min-calmar", 0, "minimum calmar to pass")
	cmd.Flags().IntVar(&topN, "top-n", 20, "number of ranked survivors to return (0 = all)")

	return cmd
}

func splitModeSpec(spec string, index int) (name, path string) {
	for i := 0; i < len(spec); i++ {
		if spec[i] == '=' {
			return spec[:i], spec[i+1:]
		}
	}
	return fmt.Sprintf("mode_%d", index), spec
}
