package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"tallybill/internal/domain"
	"tallybill/internal/syncengine"
)

const billDateLayout = "02/01/2006"

func init() {
	rootCmd.AddCommand(billCmd)
	billCmd.AddCommand(billNewCmd)
	billCmd.AddCommand(billListCmd)
	billCmd.AddCommand(billShowCmd)
	billCmd.AddCommand(billDeleteCmd)

	billNewCmd.Flags().StringVar(&billNoFlag, "bill-no", "", "bill number (default: next free INV number)")
	billNewCmd.Flags().StringVar(&billDateFlag, "date", "", "bill date dd/mm/yyyy (default: today)")
	billNewCmd.Flags().StringVar(&customerFlag, "customer", "", "customer name")
	billNewCmd.Flags().StringVar(&mobileFlag, "mobile", "", "customer mobile")
	billNewCmd.Flags().StringArrayVarP(&lineFlags, "line", "l", nil, "line as row:qty[:unit], repeatable")
	_ = billNewCmd.MarkFlagRequired("customer")

	billListCmd.Flags().StringVar(&billSearchFlag, "search", "", "filter by customer, bill number or mobile")
	billDeleteCmd.Flags().BoolVarP(&yesFlag, "yes", "y", false, "delete without asking")
}

var (
	billNoFlag     string
	billDateFlag   string
	customerFlag   string
	mobileFlag     string
	lineFlags      []string
	billSearchFlag string
	yesFlag        bool
)

// parseLineSpec splits "row:qty[:unit]". Quantity defaults to 1.
func parseLineSpec(spec string) (domain.RowID, domain.Amount, string, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	if len(parts) > 3 || strings.TrimSpace(parts[0]) == "" {
		return "", domain.Amount{}, "", fmt.Errorf("line %q: want row:qty[:unit]", spec)
	}
	row := domain.RowID(strings.TrimSpace(parts[0]))

	qty := domain.NewAmountFromInt(1)
	if len(parts) > 1 && strings.TrimSpace(parts[1]) != "" {
		parsed, err := domain.ParseAmount(parts[1])
		if err != nil {
			return "", domain.Amount{}, "", fmt.Errorf("line %q: %w", spec, err)
		}
		if !parsed.IsPositive() {
			return "", domain.Amount{}, "", fmt.Errorf("line %q: quantity must be positive", spec)
		}
		qty = parsed
	}

	unit := ""
	if len(parts) == 3 {
		unit = strings.TrimSpace(parts[2])
	}
	return row, qty, unit, nil
}

// buildLines prices each spec from inventory the way the billing screen does.
func buildLines(inventory []domain.Product, specs []string) ([]domain.LineItem, error) {
	lines := make([]domain.LineItem, 0, len(specs))
	for _, spec := range specs {
		row, qty, unit, err := parseLineSpec(spec)
		if err != nil {
			return nil, err
		}
		p, ok := findProduct(inventory, row)
		if !ok {
			return nil, fmt.Errorf("line %q: no product at row %s", spec, row)
		}
		line := domain.LineFor(p)
		if unit != "" {
			if unit != p.Unit1 && unit != p.Unit2 {
				return nil, fmt.Errorf("line %q: %s is sold by %s", spec, p.DisplayName(), strings.Trim(p.Unit1+"/"+p.Unit2, "/"))
			}
			line = line.WithUnit(p, unit)
		}
		line.Qty = qty
		lines = append(lines, line.Recompute())
	}
	return lines, nil
}

// confirmOnPrompt asks on out and reads the answer from in.
func confirmOnPrompt(in io.Reader, out io.Writer) syncengine.ConfirmFunc {
	return func(billNo string) bool {
		fmt.Fprintf(out, "Delete bill %s? Stock will be restored. [y/N] ", billNo)
		answer, _ := bufio.NewReader(in).ReadString('\n')
		answer = strings.ToLower(strings.TrimSpace(answer))
		return answer == "y" || answer == "yes"
	}
}

var billCmd = &cobra.Command{
	Use:   "bill",
	Short: "Create and browse bills",
}

var billNewCmd = &cobra.Command{
	Use:   "new --customer <name> --line <row:qty[:unit]>...",
	Short: "Save a bill",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(lineFlags) == 0 {
			return errors.New("at least one --line is required")
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			lines, err := buildLines(s.engine.Inventory(), lineFlags)
			if err != nil {
				return err
			}

			billNo := billNoFlag
			if billNo == "" {
				billNo = s.engine.NextBillNo()
			} else if _, taken := s.engine.Bill(billNo); taken {
				return fmt.Errorf("bill %s already exists", billNo)
			}
			date := billDateFlag
			if date == "" {
				date = time.Now().Format(billDateLayout)
			}

			draft, err := domain.NewBillDraft(billNo, date, customerFlag, mobileFlag, lines)
			if err != nil {
				return err
			}
			saved, err := s.engine.SaveBill(ctx, draft)
			if err != nil {
				return err
			}
			printBill(cmd.OutOrStdout(), saved.HistoryEntry())
			return nil
		})
	},
}

var billListCmd = &cobra.Command{
	Use:   "list",
	Short: "List bill history, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, s *session) error {
			printBills(cmd.OutOrStdout(), s.engine.SearchBills(billSearchFlag))
			return nil
		})
	},
}

var billShowCmd = &cobra.Command{
	Use:   "show <bill-no>",
	Short: "Print one bill",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withSession(cmd.Context(), func(_ context.Context, s *session) error {
			b, ok := s.engine.Bill(args[0])
			if !ok {
				return fmt.Errorf("bill %s not found", args[0])
			}
			printBill(cmd.OutOrStdout(), b)
			return nil
		})
	},
}

var billDeleteCmd = &cobra.Command{
	Use:   "delete <bill-no>",
	Short: "Delete a bill and restore its stock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		confirm := confirmOnPrompt(cmd.InOrStdin(), cmd.OutOrStdout())
		if yesFlag {
			confirm = func(string) bool { return true }
		}
		return withSession(cmd.Context(), func(ctx context.Context, s *session) error {
			if _, ok := s.engine.Bill(args[0]); !ok {
				return fmt.Errorf("bill %s not found", args[0])
			}
			err := s.engine.DeleteBill(ctx, args[0], confirm)
			if errors.Is(err, syncengine.ErrNotConfirmed) {
				fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted bill %s\n", args[0])
			return nil
		})
	},
}
