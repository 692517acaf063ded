package cli

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"

	"github.com/ogulcanaydogan/billsync/pkg/ingest"
	"github.com/ogulcanaydogan/billsync/pkg/model"
	"github.com/spf13/cobra"
)

var vendorsCmd = &cobra.Command{
	Use:   "vendors",
	Short: "Manage billed vendor accounts",
}

var vendorsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Create or update a vendor",
	RunE:  runVendorsAdd,
}

var vendorsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vendors and whether billing can be pulled for them",
	RunE:  runVendorsList,
}

var vendorsRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Delete a vendor",
	Args:  cobra.ExactArgs(1),
	RunE:  runVendorsRemove,
}

func init() {
	rootCmd.AddCommand(vendorsCmd)
	vendorsCmd.AddCommand(vendorsAddCmd)
	vendorsCmd.AddCommand(vendorsListCmd)
	vendorsCmd.AddCommand(vendorsRemoveCmd)

	vendorsAddCmd.Flags().String("id", "", "Vendor id (generated when empty)")
	vendorsAddCmd.Flags().StringP("name", "n", "", "Display name")
	vendorsAddCmd.Flags().StringP("provider", "p", "", "Provider ("+providerNames()+")")
	vendorsAddCmd.Flags().String("account-id", "", "Vendor account or sub-account id")
	vendorsAddCmd.Flags().String("subscription-id", "", "Azure subscription id")
	vendorsAddCmd.Flags().String("credentials", "", "Credentials as a JSON object")
	vendorsAddCmd.Flags().String("credentials-file", "", "Read credentials JSON from a file")
	_ = vendorsAddCmd.MarkFlagRequired("name")
	_ = vendorsAddCmd.MarkFlagRequired("provider")
}

func providerNames() string {
	names := make([]string, 0, len(model.BillingProviders))
	for _, p := range model.BillingProviders {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}

func runVendorsAdd(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	id, _ := cmd.Flags().GetString("id")
	name, _ := cmd.Flags().GetString("name")
	providerName, _ := cmd.Flags().GetString("provider")
	accountID, _ := cmd.Flags().GetString("account-id")
	subscriptionID, _ := cmd.Flags().GetString("subscription-id")
	creds, _ := cmd.Flags().GetString("credentials")
	credsFile, _ := cmd.Flags().GetString("credentials-file")

	provider, err := model.ParseProvider(providerName)
	if err != nil {
		return err
	}
	if credsFile != "" {
		b, err := os.ReadFile(credsFile)
		if err != nil {
			return fmt.Errorf("read credentials file: %w", err)
		}
		creds = string(b)
	}

	vendor := &model.Vendor{
		ID:             id,
		Name:           name,
		Provider:       provider,
		AccountID:      accountID,
		SubscriptionID: subscriptionID,
		Credentials:    strings.TrimSpace(creds),
	}
	if _, err := (ingest.JSONDecrypter{}).Decrypt(context.Background(), *vendor); err != nil {
		return fmt.Errorf("vendor credentials: %w", err)
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.UpsertVendor(cmd.Context(), vendor); err != nil {
		return err
	}

	fmt.Printf("Vendor saved:\n")
	fmt.Printf("  ID:        %s\n", vendor.ID)
	fmt.Printf("  Name:      %s\n", vendor.Name)
	fmt.Printf("  Provider:  %s\n", vendor.Provider)
	if !provider.SupportsBilling() {
		fmt.Printf("  Note:      %s has no billing connector; backfills skip it\n", provider)
	}
	return nil
}

func runVendorsList(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	vendors, err := store.ListVendors(cmd.Context())
	if err != nil {
		return err
	}
	if len(vendors) == 0 {
		fmt.Println("No vendors configured. Use 'billsync vendors add' to create one.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "ID\tNAME\tPROVIDER\tACCOUNT\tBILLING\n")
	for _, v := range vendors {
		billing := "yes"
		if !v.Provider.SupportsBilling() {
			billing = "no"
		}
		account := v.AccountID
		if account == "" {
			account = v.SubscriptionID
		}
		if account == "" {
			account = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", v.ID, v.Name, v.Provider, account, billing)
	}
	w.Flush()

	return nil
}

func runVendorsRemove(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	store, err := initStorage(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := store.DeleteVendor(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Vendor %s removed\n", args[0])
	return nil
}
