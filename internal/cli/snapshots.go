package cli

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"

	"github.com/ogulcanaydogan/billsync/internal/server"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/period"
	"github.com/spf13/cobra"
)

var snapshotsCmd = &cobra.Command{
	Use:   "snapshots",
	Short: "List stored billing snapshots",
	RunE:  runSnapshots,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Summarize snapshot breakdowns by resource type",
	RunE:  runReport,
}

func init() {
	rootCmd.AddCommand(snapshotsCmd)
	snapshotsCmd.AddCommand(reportCmd)

	for _, c := range []*cobra.Command{snapshotsCmd, reportCmd} {
		c.Flags().StringP("vendor", "v", "", "Filter by vendor id")
		c.Flags().StringP("provider", "p", "", "Filter by provider")
		c.Flags().String("from", "", "Periods ending on or after (YYYY-MM-DD)")
		c.Flags().String("to", "", "Periods starting on or before (YYYY-MM-DD)")
	}
	snapshotsCmd.Flags().Bool("detailed", false, "Show each snapshot's breakdown")
}

func filterFromFlags(cmd *cobra.Command) (model.SnapshotFilter, error) {
	var f model.SnapshotFilter
	f.VendorID, _ = cmd.Flags().GetString("vendor")
	f.From, _ = cmd.Flags().GetString("from")
	f.To, _ = cmd.Flags().GetString("to")
	if p, _ := cmd.Flags().GetString("provider"); p != "" {
		provider, err := model.ParseProvider(p)
		if err != nil {
			return f, err
		}
		f.Provider = provider
	}
	for _, d := range []string{f.From, f.To} {
		if d == "" {
			continue
		}
		if _, err := period.ParseDate(d); err != nil {
			return f, err
		}
	}
	return f, nil
}

func runSnapshots(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}
	detailed, _ := cmd.Flags().GetBool("detailed")

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snaps, err := store.ListSnapshots(cmd.Context(), filter)
	if err != nil {
		return err
	}
	if len(snaps) == 0 {
		fmt.Println("No snapshots match. Use 'billsync sync' or 'billsync backfill' to pull some.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "VENDOR\tPROVIDER\tPERIOD\tAMOUNT\tCURRENCY\tSOURCE\tPULLED\n")
	for _, s := range snaps {
		fmt.Fprintf(w, "%s\t%s\t%s..%s\t%s\t%s\t%s\t%s\n",
			s.VendorID, s.Provider, s.PeriodStart, s.PeriodEnd,
			s.Amount.StringFixed(2), s.Currency, s.Source, s.PulledAt.Format("2006-01-02 15:04"))
		if detailed {
			for _, row := range s.Breakdown {
				fmt.Fprintf(w, "\t\t  %s\t%s\t%s\t\t\n", row.ResourceType, row.Amount.StringFixed(4), row.Currency)
			}
		}
	}
	w.Flush()
	return nil
}

func runReport(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	filter, err := filterFromFlags(cmd)
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	snaps, err := store.ListSnapshots(cmd.Context(), filter)
	if err != nil {
		return err
	}
	rep := server.BuildReport(filter, snaps)

	fmt.Printf("=== Billing Report ===\n")
	fmt.Printf("Snapshots: %d\n", rep.Snapshots)

	currencies := make([]string, 0, len(rep.Totals))
	for c := range rep.Totals {
		currencies = append(currencies, c)
	}
	sort.Strings(currencies)
	for _, c := range currencies {
		fmt.Printf("Total %s: %s\n", c, rep.Totals[c].StringFixed(2))
	}

	if len(rep.Breakdown) > 0 {
		fmt.Printf("\nBy Resource Type:\n")
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  RESOURCE TYPE\tAMOUNT\tCURRENCY\n")
		for _, row := range rep.Breakdown {
			fmt.Fprintf(w, "  %s\t%s\t%s\n", row.ResourceType, row.Amount.StringFixed(2), row.Currency)
		}
		w.Flush()
	}
	return nil
}

func printSnapshot(s *model.BillingSnapshot) {
	fmt.Printf("Snapshot stored:\n")
	fmt.Printf("  Vendor:    %s (%s)\n", s.VendorID, s.Provider)
	fmt.Printf("  Period:    %s..%s\n", s.PeriodStart, s.PeriodEnd)
	fmt.Printf("  Amount:    %s %s\n", s.Amount.StringFixed(2), s.Currency)
	fmt.Printf("  Source:    %s\n", s.Source)
	if len(s.Breakdown) > 0 {
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintf(w, "  RESOURCE TYPE\tAMOUNT\n")
		for _, row := range s.Breakdown {
			fmt.Fprintf(w, "  %s\t%s %s\n", row.ResourceType, row.Amount.StringFixed(2), row.Currency)
		}
		w.Flush()
	}
}
