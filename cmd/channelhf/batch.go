package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/chquant/channelhf/internal/batch"
	"github.com/chquant/channelhf/internal/config"
	"github.com/chquant/channelhf/internal/ndjson"
	"github.com/chquant/channelhf/internal/obsmetrics"
	"github.com/chquant/channelhf/internal/scanner"
	"github.com/spf13/cobra"
)

// parseCombo parses one "key=value,key=value" parameter-override string
// into a copy of base, supporting the subset of ChannelHFConfig knobs most
// commonly swept: channel_period, stop_loss_mul and max_holding_days.
func parseCombo(base config.ChannelHFConfig, combo string) (config.ChannelHFConfig, error) {
	out := base
	if combo == "" {
		return out, nil
	}
	for _, pair := range strings.Split(combo, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			return out, argErrorf("malformed combo term %q, want key=value", pair)
		}
		key, val := strings.TrimSpace(kv[0]), strings.TrimSpace(kv[1])
		switch key {
		case "channel_period":
			n, err := strconv.Atoi(val)
			if err != nil {
				return out, argErrorf("channel_period: %w", err)
			}
			out.ChannelPeriod = n
		case "stop_loss_mul":
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				return out, argErrorf("stop_loss_mul: %w", err)
			}
			out.StopLossMul = f
		case "max_holding_days":
			n, err := strconv.Atoi(val)
			if err != nil {
				return out, argErrorf("max_holding_days: %w", err)
			}
			out.MaxHoldingDays = n
		default:
			return out, argErrorf("unrecognized combo key %q", key)
		}
	}
	return out, nil
}

func newBatchCmd() *cobra.Command {
	var (
		symbolsFlag       string
		combosFlag        []string
		indexSymbol       string
		beginFlag         string
		endFlag           string
		enableRiskOverlay bool
	)

	cmd := &cobra.Command{
		Use:   "batch",
		Short: "sweep a symbol x parameter-combo grid through a bounded worker pool, streaming NDJSON progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			symbols := splitSymbols(symbolsFlag)
			if len(symbols) == 0 {
				return argErrorf("--symbols is required")
			}
			combos := combosFlag
			if len(combos) == 0 {
				combos = []string{""}
			}

			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := buildLogger("batch", cfg.LogLevel)

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

			mgr := batch.NewManager(cfg.Batch)
			reg := obsmetrics.New()
			mgr.SetMetrics(reg)
			total := len(symbols) * len(combos)
			taskID := mgr.CreateTask(total, map[string]any{"symbols": symbols, "combos": combos})

			out := ndjson.New(os.Stdout)
			if err := out.Emit(ndjson.Event{"type": "start", "task_id": taskID, "total": total}); err != nil {
				return fmt.Errorf("emit start: %w", err)
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			go func() {
				<-ctx.Done()
				_ = mgr.RequestCancel(taskID)
			}()

			jobs := make([]batch.Job, 0, total)
			for comboIdx, combo := range combos {
				comboCfg := *cfg
				channelCfg, err := parseCombo(cfg.ChannelHF, combo)
				if err != nil {
					return err
				}
				comboCfg.ChannelHF = channelCfg
				label := combo
				if label == "" {
					label = "default"
				}
				_ = out.Emit(ndjson.Event{"type": "combo_start", "combo_idx": comboIdx, "combo_total": len(combos), "combo_label": label})

				for _, sym := range symbols {
					sym, comboCfg, label := sym, comboCfg, label
					jobs = append(jobs, batch.Job{
						Symbol: sym,
						Combo:  label,
						Run: func(jctx context.Context) (batch.JobResult, error) {
							symBars, err := loadSymbolBars(comboCfg.DataDir, sym, begin, end, logger)
							if err != nil {
								return batch.JobResult{}, err
							}
							summary, _ := scanner.BacktestForSymbol(sym, symBars, indexBars, comboCfg, scanner.Options{Logger: logger, Metrics: reg, EnableRiskOverlay: enableRiskOverlay})
							return batch.JobResult{
								Symbol: sym,
								Combo:  label,
								Return: summary.TotalReturn,
								Win:    summary.TotalReturn > 0,
							}, nil
						},
					})
				}
			}

			onResult := func(res batch.JobResult, err error) {
				status, statusErr := mgr.GetStatus(taskID)
				progress := ndjson.Progress(0, total)
				if statusErr == nil {
					progress = ndjson.Progress(status.Done, status.Total)
				}
				if err != nil {
					_ = out.Emit(ndjson.Event{"type": "error", "message": err.Error(), "progress": progress})
					return
				}
				_ = out.Emit(ndjson.Event{
					"type":     "result",
					"status":   "success",
					"data":     res,
					"progress": progress,
				})
			}

			runErr := mgr.RunOrchestrated(ctx, taskID, jobs, onResult)

			status, _ := mgr.GetStatus(taskID)
			terminal := "completed"
			if status.Status == batch.StatusCancelling || ctx.Err() != nil {
				terminal = "cancelled"
				_ = mgr.MarkCancelled(taskID)
			} else {
				_ = mgr.MarkCompleted(taskID)
			}

			if runErr != nil {
				return runErr
			}
			return out.Emit(ndjson.Event{
				"type":        "end",
				"status":      terminal,
				"aggregation": status.Aggregation,
				"combo_top":   status.Aggregation.ComboTop(cfg.Batch.ComboTopN),
				"metrics":     reg.Snapshot(),
			})
		},
	}

	cmd.Flags().StringVar(&symbolsFlag, "symbols", "", "comma-separated symbol list (required)")
	cmd.Flags().StringArrayVar(&combosFlag, "combo", nil, "repeatable key=value,key=value parameter override (e.g. channel_period=30); omit for the default config alone")
	cmd.Flags().StringVar(&indexSymbol, "index-symbol", "", "benchmark/index symbol, loaded from the same data directory")
	cmd.Flags().StringVar(&beginFlag, "begin", "", "inclusive start date YYYY-MM-DD")
	cmd.Flags().StringVar(&endFlag, "end", "", "inclusive end date YYYY-MM-DD")
	cmd.Flags().BoolVar(&enableRiskOverlay, "enable-risk-overlay", false, "gate every BUY order through internal/risk.Manager's capital/position guardrails on top of the strategy's own entry pipeline")

	return cmd
}
