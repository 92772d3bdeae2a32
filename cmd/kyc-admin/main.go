package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var Version = "dev"

func main() {
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))
	_ = godotenv.Load()

	rootCmd := &cobra.Command{
		Use:     "kyc-admin",
		Short:   "Maintenance tasks for the KYC record mirrors",
		Version: Version,
	}
	rootCmd.AddCommand(normalizeCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(sheetStatusCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
