package main

import (
	"encoding/json"
	"os"

	"github.com/chquant/channelhf/internal/ndjson"
	"github.com/chquant/channelhf/internal/tradefeature"
	"github.com/spf13/cobra"
)

func newFeaturesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "features",
		Short: "query and export the trade-feature journal",
	}
	cmd.AddCommand(newFeaturesListCmd())
	cmd.AddCommand(newFeaturesExportCmd())
	return cmd
}

func newFeaturesListCmd() *cobra.Command {
	var (
		storePath string
		symbol    string
		fromFlag  string
		toFlag    string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "list journal records, optionally filtered by symbol and entry-date range",
		RunE: func(cmd *cobra.Command, args []string) error {
			if storePath == "" {
				return argErrorf("--store is required")
			}
			from, err := parseDateFlag(fromFlag)
			if err != nil {
				return err
			}
			to, err := parseDateFlag(toFlag)
			if err != nil {
				return err
			}

			var fromT, toT = zeroIfNil(from), zeroIfNil(to)
			store, closeStore, err := openFeatureStore(storePath)
			if err != nil {
				return err
			}
			defer closeStore()
			records, err := store.Query(symbol, fromT, toT)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(ndjson.Sanitize(records))
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "journal location: a JSON file path, or a postgres://... DSN (required)")
	cmd.Flags().StringVar(&symbol, "symbol", "", "filter by symbol (exchange suffix ignored)")
	cmd.Flags().StringVar(&fromFlag, "from", "", "inclusive entry-date lower bound YYYY-MM-DD")
	cmd.Flags().StringVar(&toFlag, "to", "", "inclusive entry-date upper bound YYYY-MM-DD")

	return cmd
}

func newFeaturesExportCmd() *cobra.Command {
	var (
		storePath string
		outPath   string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "export the journal to a BOM-prefixed CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			if storePath == "" || outPath == "" {
				return argErrorf("--store and --out are both required")
			}
			store, closeStore, err := openFeatureStore(storePath)
			if err != nil {
				return err
			}
			defer closeStore()
			records, err := store.Load()
			if err != nil {
				return err
			}
			return tradefeature.ExportCSV(outPath, records)
		},
	}

	cmd.Flags().StringVar(&storePath, "store", "", "journal location: a JSON file path, or a postgres://... DSN (required)")
	cmd.Flags().StringVar(&outPath, "out", "", "output CSV path (required)")

	return cmd
}
