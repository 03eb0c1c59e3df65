package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"tallybill/internal/domain"
	"tallybill/internal/syncengine"
)

func printProducts(w io.Writer, products []domain.Product) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ROW\tPRODUCT\tSTOCK\tPRICE\tALT PRICE\tPARTY")
	for _, p := range products {
		row := p.RowIndex.String()
		if p.IsTemporary() {
			row = "pending"
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\t%s\n",
			row, p.DisplayName(), p.Stock, rate(p.Price1, p.Unit1), rate(p.Price2, p.Unit2), p.Party)
	}
	tw.Flush()
}

func rate(price domain.Amount, unit string) string {
	if price.IsZero() && unit == "" {
		return "-"
	}
	if unit == "" {
		return price.StringFixed(2)
	}
	return price.StringFixed(2) + "/" + unit
}

func printBills(w io.Writer, bills []domain.Bill) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "BILL\tDATE\tCUSTOMER\tMOBILE\tLINES\tAMOUNT")
	for _, b := range bills {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
			b.BillNo, b.Date, b.CustomerName, b.Mobile, len(b.Items), b.Amount.StringFixed(2))
	}
	tw.Flush()
}

func printBill(w io.Writer, b domain.Bill) {
	fmt.Fprintf(w, "Bill %s  %s\n", b.BillNo, b.Date)
	fmt.Fprintf(w, "Customer: %s", b.CustomerName)
	if b.Mobile != "" {
		fmt.Fprintf(w, " (%s)", b.Mobile)
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, strings.Repeat("-", 48))

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(tw, "ITEM\tQTY\tRATE\tAMOUNT\t")
	for _, line := range b.Items {
		fmt.Fprintf(tw, "%s\t%s %s\t%s\t%s\t\n",
			line.Item, line.Qty.String(), line.Unit, line.Price.StringFixed(2), line.Amount.StringFixed(2))
	}
	tw.Flush()

	fmt.Fprintln(w, strings.Repeat("-", 48))
	fmt.Fprintf(w, "Total: %s\n", b.Amount.StringFixed(2))
}

func printState(w io.Writer, st syncengine.State) {
	status := "offline"
	if st.Online {
		status = "online"
	}
	if st.Syncing || st.Loading {
		status += ", syncing"
	}
	fmt.Fprintf(w, "Status:     %s\n", status)
	fmt.Fprintf(w, "Inventory:  %d products\n", len(st.Inventory))
	fmt.Fprintf(w, "Bills:      %d\n", len(st.Bills))
	if st.LastSync.IsZero() {
		fmt.Fprintln(w, "Last sync:  never (this session)")
	} else {
		fmt.Fprintf(w, "Last sync:  %s\n", st.LastSync.Format(time.RFC3339))
	}
	if st.LastError != "" {
		fmt.Fprintf(w, "Last error: %s\n", st.LastError)
	}

	fmt.Fprintf(w, "Queued:     %d\n", len(st.Queue))
	if len(st.Queue) == 0 {
		return
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "  ID\tACTION\tTARGET\tQUEUED AT")
	for _, item := range st.Queue {
		fmt.Fprintf(tw, "  %d\t%s\t%s\t%s\n", item.ID, item.Action.Name(), actionTarget(item.Action), item.EnqueuedAt.Format(time.RFC3339))
	}
	tw.Flush()
}

func actionTarget(a domain.Action) string {
	switch a := a.(type) {
	case domain.AddProduct:
		return a.Product.DisplayName()
	case domain.UpdateProduct:
		return a.Product.RowIndex.String() + " " + a.Product.DisplayName()
	case domain.DeleteProduct:
		return a.RowIndex.String()
	case domain.DeleteBill:
		return a.BillID
	case domain.ConfirmBill:
		return a.BillID + " " + a.CustomerName
	default:
		return ""
	}
}
