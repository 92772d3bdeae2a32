package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Lllllllleong/kycdocumentintake/internal/services"
)

var (
	normalizeDryRun bool
	exportOut       string
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize-rows",
	Short: "Rewrite legacy sheet rows into the current column layout",
	Long: `Reads every row of the remote sheet under the header it was stored
with, rewrites it in the current column order and replaces the header.
Rows are renumbered by position. Running it twice changes nothing.

Examples:
  kyc-admin normalize-rows --dry-run
  kyc-admin normalize-rows`,
	Args: cobra.NoArgs,
	RunE: runNormalize,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write all records to an xlsx workbook",
	Args:  cobra.NoArgs,
	RunE:  runExport,
}

var sheetStatusCmd = &cobra.Command{
	Use:   "sheet-status",
	Short: "Show the remote sheet diagnostics",
	Args:  cobra.NoArgs,
	RunE:  runSheetStatus,
}

func init() {
	normalizeCmd.Flags().BoolVar(&normalizeDryRun, "dry-run", false, "count the rows without writing them")
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", services.ExportFilename, "output file")
}

func openRecords(cmd *cobra.Command) (*services.Records, error) {
	records, err := services.OpenRecords(cmd.Context(), services.RecordsConfigFromEnv())
	if err != nil {
		return nil, fmt.Errorf("failed to open records: %w", err)
	}
	return records, nil
}

func runNormalize(cmd *cobra.Command, _ []string) error {
	records, err := openRecords(cmd)
	if err != nil {
		return err
	}
	defer records.Close()

	n, err := services.NewSearch(records.Sheet, nil).NormalizeRows(cmd.Context(), normalizeDryRun)
	if err != nil {
		return fmt.Errorf("failed to normalize rows: %w", err)
	}
	if normalizeDryRun {
		fmt.Fprintf(cmd.OutOrStdout(), "Dry run: %d rows would be rewritten\n", n)
		return nil
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Rewrote %d rows\n", n)
	return nil
}

func runExport(cmd *cobra.Command, _ []string) error {
	records, err := openRecords(cmd)
	if err != nil {
		return err
	}
	defer records.Close()

	data, err := services.NewExport(records.Store, records.File).Export(cmd.Context())
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportOut, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", exportOut, err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bytes to %s\n", len(data), exportOut)
	return nil
}

func runSheetStatus(cmd *cobra.Command, _ []string) error {
	records, err := openRecords(cmd)
	if err != nil {
		return err
	}
	defer records.Close()

	st, err := services.NewSearch(records.Sheet, nil).Status(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read sheet status: %w", err)
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Sheet Status")
	fmt.Fprintln(out, strings.Repeat("=", 40))
	fmt.Fprintf(out, "  Spreadsheet:  %s\n", st.SpreadsheetID)
	fmt.Fprintf(out, "  Sheet:        %s\n", st.SheetTitle)
	fmt.Fprintf(out, "  Exists:       %t\n", st.HasSheet)
	fmt.Fprintf(out, "  Header OK:    %t\n", st.HeaderOK)
	fmt.Fprintf(out, "  Next seq:     %d\n", st.NextSequence)
	fmt.Fprintf(out, "  Tabs:         %s\n", strings.Join(st.Titles, ", "))
	return nil
}
