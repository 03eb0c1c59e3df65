package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"tallybill/internal/domain"
)

func init() {
	rootCmd.AddCommand(inventoryCmd)
	inventoryCmd.AddCommand(inventoryListCmd)
	inventoryCmd.AddCommand(inventorySearchCmd)
	inventoryCmd.AddCommand(inventoryAddCmd)
	inventoryCmd.AddCommand(inventoryUpdateCmd)
	inventoryCmd.AddCommand(inventoryDeleteCmd)

	inventoryListCmd.Flags().IntVar(&lowStockFlag, "low", -1, "only products with stock at or below this level")
	addProductFlags.register(inventoryAddCmd)
	updateProductFlags.register(inventoryUpdateCmd)
}

var (
	lowStockFlag       int
	addProductFlags    productFlags
	updateProductFlags productFlags
)

// productFlags binds one flag per product column.
type productFlags struct {
	item, brand, model, size, color string
	stock                           int
	price1, price2, purchasePrice   string
	unit1, unit2, purchaseUnit      string
	party                           string
}

func (f *productFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.item, "item", "", "item name")
	fs.StringVar(&f.brand, "brand", "", "brand")
	fs.StringVar(&f.model, "model", "", "model")
	fs.StringVar(&f.size, "size", "", "size")
	fs.StringVar(&f.color, "color", "", "color")
	fs.IntVar(&f.stock, "stock", 0, "stock on hand")
	fs.StringVar(&f.price1, "price1", "", "selling rate for unit1")
	fs.StringVar(&f.unit1, "unit1", "", "primary unit, e.g. pc")
	fs.StringVar(&f.price2, "price2", "", "selling rate for unit2")
	fs.StringVar(&f.unit2, "unit2", "", "alternate unit, e.g. box")
	fs.StringVar(&f.purchasePrice, "purchase-price", "", "purchase rate")
	fs.StringVar(&f.purchaseUnit, "purchase-unit", "", "purchase unit")
	fs.StringVar(&f.party, "party", "", "supplier")
}

// apply copies the flags for which changed reports true onto p.
func (f *productFlags) apply(p *domain.Product, changed func(name string) bool) error {
	text := map[string]*string{
		"item": &p.Item, "brand": &p.Brand, "model": &p.Model, "size": &p.Size, "color": &p.Color,
		"unit1": &p.Unit1, "unit2": &p.Unit2, "purchase-unit": &p.PurchaseUnit, "party": &p.Party,
	}
	values := map[string]string{
		"item": f.item, "brand": f.brand, "model": f.model, "size": f.size, "color": f.color,
		"unit1": f.unit1, "unit2": f.unit2, "purchase-unit": f.purchaseUnit, "party": f.party,
	}
	for name, dst := range text {
		if changed(name) {
			*dst = values[name]
		}
	}

	amounts := []struct {
		name string
		raw  string
		dst  *domain.Amount
	}{
		{"price1", f.price1, &p.Price1},
		{"price2", f.price2, &p.Price2},
		{"purchase-price", f.purchasePrice, &p.PurchasePrice},
	}
	for _, a := range amounts {
		if !changed(a.name) {
			continue
		}
		v, err := domain.ParseAmount(a.raw)
		if err != nil {
			return fmt.Errorf("--%s: %w", a.name, err)
		}
		*a.dst = v
	}

	if changed("stock") {
		p.Stock = domain.Count(f.stock)
	}
	return nil
}

// findProduct resolves a row index, or the temporary marker of a product
// still waiting to reach the backend.
func findProduct(inventory []domain.Product, row domain.RowID) (domain.Product, bool) {
	for _, p := range inventory {
		if p.RowIndex == row || (p.ID != "" && p.ID == string(row)) {
			return p, true
		}
	}
	return domain.Product{}, false
}

var inventoryCmd = &cobra.Command{
	Use:     "inventory",
	Aliases: []string{"inv"},
	Short:   "List and edit products",
}

var inventoryListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all products",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, s *session) error {
			products := s.engine.Inventory()
			if lowStockFlag >= 0 {
				low := products[:0:0]
				for _, p := range products {
					if int(p.Stock) <= lowStockFlag {
						low = append(low, p)
					}
				}
				products = low
			}
			printProducts(cmd.OutOrStdout(), products)
			return nil
		})
	},
}

var inventorySearchCmd = &cobra.Command{
	Use:   "search <term>",
	Short: "Find products by name or brand",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, s *session) error {
			printProducts(cmd.OutOrStdout(), s.engine.SearchInventory(args[0]))
			return nil
		})
	},
}

var inventoryAddCmd = &cobra.Command{
	Use:   "add --item <name> [flags]",
	Short: "Add a product",
	RunE: func(cmd *cobra.Command, args []string) error {
		var p domain.Product
		if err := addProductFlags.apply(&p, cmd.Flags().Changed); err != nil {
			return err
		}
		if err := p.Validate(); err != nil {
			return err
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			added, err := s.engine.AddProduct(ctx, p)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Added %s (%s)\n", added.DisplayName(), added.RowIndex)
			return nil
		})
	},
}

var inventoryUpdateCmd = &cobra.Command{
	Use:   "update <row> [flags]",
	Short: "Change fields of a product",
	Long:  "Change fields of a product. Only the flags given are changed.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			p, ok := findProduct(s.engine.Inventory(), domain.RowID(args[0]))
			if !ok {
				return fmt.Errorf("no product at row %s", args[0])
			}
			if err := updateProductFlags.apply(&p, cmd.Flags().Changed); err != nil {
				return err
			}
			if err := s.engine.UpdateProduct(ctx, p); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated %s\n", p.DisplayName())
			return nil
		})
	},
}

var inventoryDeleteCmd = &cobra.Command{
	Use:   "delete <row>",
	Short: "Delete a product",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			p, ok := findProduct(s.engine.Inventory(), domain.RowID(args[0]))
			if !ok {
				return fmt.Errorf("no product at row %s", args[0])
			}
			if err := s.engine.DeleteProduct(ctx, p.RowIndex); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", p.DisplayName())
			return nil
		})
	},
}
