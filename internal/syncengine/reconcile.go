package syncengine

import (
	"tallybill/internal/domain"
)

// applyLocal returns inventory and bills with the optimistic effect of a
// applied. The inputs are not modified.
func applyLocal(inventory []domain.Product, bills []domain.Bill, a domain.Action) ([]domain.Product, []domain.Bill) {
	switch act := a.(type) {
	case domain.AddProduct:
		for _, p := range inventory {
			if sameProduct(p, act.Product) {
				return inventory, bills
			}
		}
		out := make([]domain.Product, 0, len(inventory)+1)
		out = append(out, inventory...)
		return append(out, act.Product), bills

	case domain.UpdateProduct:
		out := make([]domain.Product, len(inventory))
		for i, p := range inventory {
			if sameProduct(p, act.Product) {
				updated := act.Product
				// Keep the server's row index once it has assigned one.
				if updated.IsTemporary() && !p.IsTemporary() {
					updated.RowIndex = p.RowIndex
				}
				out[i] = updated
				continue
			}
			out[i] = p
		}
		return out, bills

	case domain.DeleteProduct:
		out := make([]domain.Product, 0, len(inventory))
		for _, p := range inventory {
			if !productHasRow(p, act.RowIndex) {
				out = append(out, p)
			}
		}
		return out, bills

	case domain.DeleteBill:
		out := make([]domain.Bill, 0, len(bills))
		for _, b := range bills {
			if b.BillNo != act.BillID {
				out = append(out, b)
			}
		}
		return inventory, out

	case domain.ConfirmBill:
		for _, b := range bills {
			if b.BillNo == act.BillID {
				return inventory, bills
			}
		}
		out := make([]domain.Bill, 0, len(bills)+1)
		out = append(out, act.HistoryEntry())
		return inventory, append(out, bills...)
	}
	return inventory, bills
}

// rebase lays the pending actions, in order, over a fresh server snapshot so
// nothing the user did offline disappears from view.
func rebase(inventory []domain.Product, bills []domain.Bill, pending []domain.QueueItem) ([]domain.Product, []domain.Bill) {
	for _, item := range pending {
		inventory, bills = applyLocal(inventory, bills, item.Action)
	}
	return inventory, bills
}

func sameProduct(a, b domain.Product) bool {
	if a.RowIndex != "" && a.RowIndex == b.RowIndex {
		return true
	}
	return a.ID != "" && a.ID == b.ID
}

func productHasRow(p domain.Product, row domain.RowID) bool {
	if p.RowIndex == row {
		return true
	}
	return row.IsTemporary() && p.ID == string(row)
}
