package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/spf13/cobra"
)

var backfillCmd = &cobra.Command{
	Use:   "backfill",
	Short: "Pull every vendor for each month of a lookback window",
	Long: `Backfill walks whole calendar months, oldest first, and pulls each
billable vendor in turn. One failing vendor-month never stops the job.`,
	RunE: runBackfill,
}

func init() {
	rootCmd.AddCommand(backfillCmd)

	backfillCmd.Flags().IntP("months", "m", 0, "Lookback months (default from config)")
	backfillCmd.Flags().StringP("provider", "p", "", "Only vendors of this provider")
	backfillCmd.Flags().StringSlice("vendor", nil, "Only these vendor ids")
	backfillCmd.Flags().Bool("only-missing", false, "Skip vendor-months that already have a snapshot")
	backfillCmd.Flags().Bool("all", false, "Re-pull vendor-months that already have a snapshot")
	backfillCmd.Flags().Int64("delay-ms", -1, "Pause between vendor-months (default from config)")
	backfillCmd.Flags().Int("retries", 0, "Attempts per vendor-month (default from config)")
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	opts, err := backfillDefaults(cfg)
	if err != nil {
		return err
	}
	if n, _ := cmd.Flags().GetInt("months"); n > 0 {
		opts.LookbackMonths = n
	}
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		provider, err := model.ParseProvider(p)
		if err != nil {
			return err
		}
		opts.Provider = provider
	}
	opts.VendorIDs, _ = cmd.Flags().GetStringSlice("vendor")
	if v, _ := cmd.Flags().GetBool("only-missing"); v {
		opts.OnlyMissing = true
	}
	if v, _ := cmd.Flags().GetBool("all"); v {
		opts.OnlyMissing = false
	}
	if d, _ := cmd.Flags().GetInt64("delay-ms"); d >= 0 {
		opts.DelayMS = d
	}
	if r, _ := cmd.Flags().GetInt("retries"); r > 0 {
		opts.Retries = r
	}

	var st model.BackfillJobState
	err = runUntilSignal(cmd.Context(), func(ctx context.Context) error {
		st, err = a.orchestrator.Run(ctx, opts)
		return err
	})
	if err != nil {
		return err
	}
	printJob(st)
	if st.Summary != nil && !st.Summary.OK {
		return fmt.Errorf("backfill finished with %d failed vendor-months", st.Summary.Failed)
	}
	return nil
}

func printJob(st model.BackfillJobState) {
	fmt.Printf("=== Backfill %s ===\n", st.JobID)
	fmt.Printf("Months:   %d\n", st.Progress.Months)
	fmt.Printf("Vendors:  %d\n", st.Progress.Vendors)
	if s := st.Summary; s != nil {
		fmt.Printf("Total:    %d\n", s.Total)
		fmt.Printf("Success:  %d\n", s.Success)
		fmt.Printf("Failed:   %d\n", s.Failed)
		fmt.Printf("Skipped:  %d\n", s.Skipped)
		fmt.Printf("Duration: %s\n", s.Duration)
	}
	if st.Error != "" {
		fmt.Printf("Error:    %s\n", st.Error)
	}

	if len(st.FailuresPreview) == 0 {
		return
	}
	fmt.Printf("\nFailures (%d):\n", st.FailureCount)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "  TYPE\tVENDOR\tPROVIDER\tPERIOD\tERROR\n")
	for _, f := range st.FailuresPreview {
		fmt.Fprintf(w, "  %s\t%s\t%s\t%s\t%s\n", f.Type, f.VendorID, f.Provider, f.PeriodStart, f.Error)
	}
	w.Flush()
}

// runUntilSignal runs fn with a context canceled on SIGINT or SIGTERM.
func runUntilSignal(parent context.Context, fn func(ctx context.Context) error) error {
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	return fn(ctx)
}
