package cli

import (
	"context"
	"fmt"

	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/ogulcanaydogan/billsync/pkg/period"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull one vendor for one period and store the snapshot",
	Long: `Sync pulls a single vendor. Without --start/--end it pulls the current
month to date.`,
	RunE: runSync,
}

func init() {
	rootCmd.AddCommand(syncCmd)

	syncCmd.Flags().StringP("vendor", "v", "", "Vendor id")
	syncCmd.Flags().String("start", "", "Period start (YYYY-MM-DD)")
	syncCmd.Flags().String("end", "", "Period end, inclusive (YYYY-MM-DD)")
	_ = syncCmd.MarkFlagRequired("vendor")
}

func runSync(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	vendorID, _ := cmd.Flags().GetString("vendor")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	vendor, p, err := a.resolveVendorPeriod(cmd.Context(), vendorID, start, end)
	if err != nil {
		return err
	}

	return runUntilSignal(cmd.Context(), func(ctx context.Context) error {
		snap, err := a.ingestor.PullAndStore(ctx, *vendor, p)
		if err != nil {
			return fmt.Errorf("sync %s %s: %w", vendor.ID, p, err)
		}
		printSnapshot(snap)
		return nil
	})
}

func (a *app) resolveVendorPeriod(ctx context.Context, vendorID, start, end string) (*model.Vendor, model.BillingPeriod, error) {
	vendor, err := a.store.GetVendorByID(ctx, vendorID)
	if err != nil {
		return nil, model.BillingPeriod{}, err
	}
	if vendor == nil {
		return nil, model.BillingPeriod{}, fmt.Errorf("vendor %q: %w", vendorID, model.ErrNotFound)
	}
	p, err := period.Resolve(period.Options{PeriodStart: start, PeriodEnd: end}, a.now())
	if err != nil {
		return nil, model.BillingPeriod{}, err
	}
	return vendor, p, nil
}
