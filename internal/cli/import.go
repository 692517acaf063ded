package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var importCSVCmd = &cobra.Command{
	Use:   "import-csv",
	Short: "Merge a Rackspace invoice-detail CSV into a vendor's snapshot",
	Long: `import-csv parses a Rackspace invoice-detail export, drops rows outside
the period and rows already imported, and recomputes the stored snapshot.
Use "-" as the file to read from stdin.`,
	RunE: runImportCSV,
}

func init() {
	rootCmd.AddCommand(importCSVCmd)

	importCSVCmd.Flags().StringP("vendor", "v", "", "Rackspace vendor id")
	importCSVCmd.Flags().StringP("file", "f", "", "CSV file path")
	importCSVCmd.Flags().String("start", "", "Period start (YYYY-MM-DD)")
	importCSVCmd.Flags().String("end", "", "Period end, inclusive (YYYY-MM-DD)")
	_ = importCSVCmd.MarkFlagRequired("vendor")
	_ = importCSVCmd.MarkFlagRequired("file")
}

func runImportCSV(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	vendorID, _ := cmd.Flags().GetString("vendor")
	file, _ := cmd.Flags().GetString("file")
	start, _ := cmd.Flags().GetString("start")
	end, _ := cmd.Flags().GetString("end")

	var data []byte
	if file == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(file)
	}
	if err != nil {
		return fmt.Errorf("read csv: %w", err)
	}

	a, err := newApp(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	vendor, p, err := a.resolveVendorPeriod(cmd.Context(), vendorID, start, end)
	if err != nil {
		return err
	}

	res, err := a.ingestor.ImportRackspaceCSV(cmd.Context(), *vendor, p, string(data))
	if err != nil {
		return err
	}

	fmt.Printf("Parsed %d rows (%d dropped), %d new, %d duplicates\n",
		res.Parsed, res.Dropped, res.Added, res.Duplicates)
	printSnapshot(res.Snapshot)
	return nil
}
