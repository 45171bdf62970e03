package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JasonTeixeira/Cloudmind-sub000/internal/app"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/engine/report"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/model"
	"github.com/JasonTeixeira/Cloudmind-sub000/pkg/tui"
)

var scanOpts struct {
	mock            bool
	providers       []string
	regions         []string
	window          time.Duration
	validateBilling bool
	tolerance       float64
	output          string
	watch           bool
}

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Run a scan and print recommendations",
	Long: `Scans the configured accounts in the foreground and prints the result.

Accounts come from the "accounts" section of the config file. Use --mock to
scan the seeded demo account instead.

Example:
  cloudmind scan --mock
  cloudmind scan --provider aws --region us-east-1 --output csv`,
	RunE: func(cmd *cobra.Command, args []string) error {
		switch scanOpts.output {
		case "table", report.FormatJSON, report.FormatCSV:
		default:
			return fmt.Errorf("unknown output %q (table, json, csv)", scanOpts.output)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		accounts := app.Accounts(cfg, scanOpts.providers...)
		if scanOpts.mock {
			accounts = []model.CloudAccount{app.DemoAccount()}
		}
		if len(accounts) == 0 {
			return errors.New("no accounts configured; add an accounts section to the config or pass --mock")
		}

		a, err := app.Build(ctx, cfg, app.Options{Logger: newLogger(), Demo: scanOpts.mock})
		if err != nil {
			return err
		}
		defer a.Close()

		opts := model.ScanOptions{
			Regions:         scanOpts.regions,
			Providers:       scanOpts.providers,
			Window:          scanOpts.window,
			ValidateBilling: scanOpts.validateBilling,
		}
		if cmd.Flags().Changed("tolerance") {
			opts.Tolerance = &scanOpts.tolerance
		}
		id, err := a.Engine.StartScan(ctx, accounts, opts)
		if err != nil {
			return err
		}
		if scanOpts.watch {
			job, err := tui.Run(ctx, a.Engine, id)
			if err != nil {
				return err
			}
			if !job.Status.Terminal() {
				_, err := a.Engine.Cancel(context.WithoutCancel(ctx), id)
				return err
			}
			return nil
		}

		job, err := a.Engine.Wait(ctx, id)
		if err != nil {
			if _, cerr := a.Engine.Cancel(context.WithoutCancel(ctx), id); cerr != nil {
				a.Logger.Warn("cancel failed", "scan_id", id, "error", cerr)
			}
			return err
		}

		var result model.ScanResult
		if job.Status == model.StatusCompleted {
			result, err = a.Engine.Result(ctx, id)
		} else {
			result, err = a.Engine.PartialResult(ctx, id)
		}
		if err != nil && !errors.Is(err, model.ErrNotFound) {
			return err
		}

		out := cmd.OutOrStdout()
		if scanOpts.output != "table" {
			return report.Write(out, scanOpts.output, result)
		}
		renderSummary(out, job, result)
		renderRecommendations(out, result)
		if job.Status == model.StatusFailed {
			return fmt.Errorf("scan %s failed", id)
		}
		return nil
	},
}

func init() {
	f := scanCmd.Flags()
	f.BoolVar(&scanOpts.mock, "mock", false, "Scan the seeded demo account")
	f.StringSliceVar(&scanOpts.providers, "provider", nil, "Only scan these providers (aws, azure, gcp, kubernetes)")
	f.StringSliceVar(&scanOpts.regions, "region", nil, "Only scan these regions")
	f.DurationVar(&scanOpts.window, "window", 0, "Utilization window (default from config)")
	f.BoolVar(&scanOpts.validateBilling, "validate-billing", false, "Cross-check costs against billing exports")
	f.Float64Var(&scanOpts.tolerance, "tolerance", 0, "Accepted billing deviation, 0 for exact (default from config)")
	f.StringVarP(&scanOpts.output, "output", "o", "table", "Output format (table, json, csv)")
	f.BoolVarP(&scanOpts.watch, "watch", "w", false, "Follow the scan in the interactive monitor")
	rootCmd.AddCommand(scanCmd)
}
