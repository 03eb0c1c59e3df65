package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	"tallybill/internal/spreadsheet"
)

func init() {
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(exportCmd)
	exportCmd.AddCommand(exportBillsCmd)
	exportCmd.AddCommand(exportInventoryCmd)
}

var importCmd = &cobra.Command{
	Use:   "import <file.xlsx>",
	Short: "Add every product listed in a workbook",
	Long:  "Read products from the first sheet of an xlsx workbook. Row 1 must name the columns (Item, Brand, Stock, Price1, ...).",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		products, err := spreadsheet.ImportProductsFile(args[0])
		if err != nil {
			return err
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			added := 0
			for _, p := range products {
				if _, err := s.engine.AddProduct(ctx, p); err != nil {
					log.Printf("[tallybill] WARN: skipping %q: %v", p.Item, err)
					continue
				}
				added++
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d products\n", added, len(products))
			return nil
		})
	},
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write local data to an xlsx workbook",
}

var exportBillsCmd = &cobra.Command{
	Use:   "bills <file.xlsx>",
	Short: "Export bill history",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, s *session) error {
			bills := s.engine.Bills()
			if err := writeFile(args[0], func(f *os.File) error { return spreadsheet.ExportBills(f, bills) }); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d bills to %s\n", len(bills), args[0])
			return nil
		})
	},
}

var exportInventoryCmd = &cobra.Command{
	Use:   "inventory <file.xlsx>",
	Short: "Export inventory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, s *session) error {
			products := s.engine.Inventory()
			if err := writeFile(args[0], func(f *os.File) error { return spreadsheet.ExportInventory(f, products) }); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %d products to %s\n", len(products), args[0])
			return nil
		})
	},
}

func writeFile(path string, write func(f *os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
