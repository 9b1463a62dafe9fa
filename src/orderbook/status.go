package orderbook

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"tradecore/src/model"
)

// quantityTolerance absorbs floating-point noise when comparing filled
// BUY and SELL quantities.
var quantityTolerance = decimal.New(1, -8)

// outcome is the re-derived state of a transaction after a reconciliation
// pass.
type outcome struct {
	status     string
	quantity   decimal.Decimal
	openPrice  *decimal.Decimal
	closePrice *decimal.Decimal
	openDate   *time.Time
	closeDate  *time.Time
}

// deriveOutcome applies the closure decision table to the transaction's
// orders, first match wins:
//
//  1. a dependent TP/SL order filled covering the gross entered quantity
//  2. every order ended terminal without executing
//  3. filled BUY quantity equals filled SELL quantity (any order types)
//  4. entry orders all terminal, none ever filled
//  5. entry orders all terminal after a fill, dependents existed and none
//     is still active
//  6. otherwise opened (some entry fill) or waiting
//
// currentStatus is only consulted to keep a closing transaction in
// closing until a closure rule fires.
func deriveOutcome(currentStatus string, orders []model.Order, now time.Time) outcome {
	var (
		entries    []model.Order
		dependents []model.Order
		filled     []model.Order
	)

	for _, o := range orders {
		if o.IsEntry() {
			entries = append(entries, o)
		} else {
			dependents = append(dependents, o)
		}
		if o.Status == model.OrderStatusFilled {
			filled = append(filled, o)
		}
	}

	sortByFillTime(filled)

	entryNet := decimal.Zero
	entryGross := decimal.Zero
	entryFills := 0
	var firstEntryFill *model.Order
	for i := range filled {
		o := filled[i]
		if !o.IsEntry() {
			continue
		}
		entryFills++
		entryNet = entryNet.Add(signedQuantity(o))
		if firstEntryFill == nil {
			firstEntryFill = &filled[i]
		}
		if o.Side == firstEntryFill.Side {
			entryGross = entryGross.Add(o.Quantity)
		}
	}

	out := outcome{status: currentStatus, quantity: entryNet}
	if firstEntryFill != nil {
		out.openPrice = firstEntryFill.OpenPrice
		out.openDate = firstEntryFill.FilledAt
	}

	// 1. A dependent closing order filled for the full entered quantity.
	// Coverage is measured against the gross quantity filled in the
	// position direction, so manual partial exits do not shrink it.
	if entryFills > 0 {
		var closer *model.Order
		for i := range filled {
			o := filled[i]
			if o.IsEntry() {
				continue
			}
			if o.Quantity.Sub(entryGross).Abs().LessThanOrEqual(quantityTolerance) {
				closer = &filled[i]
			}
		}
		if closer != nil {
			out.status = model.TransactionStatusClosed
			out.closePrice = closer.OpenPrice
			out.closeDate = timePtr(now)
			return out
		}
	}

	// 2. Everything terminal and nothing ever executed: the position never
	// existed.
	if len(orders) > 0 && allTerminalUnexecuted(orders) {
		out.status = model.TransactionStatusClosed
		out.closeDate = timePtr(now)
		return out
	}

	// 3. Filled BUYs balance filled SELLs across entry and dependent
	// orders.
	if len(filled) > 0 {
		buys, sells := decimal.Zero, decimal.Zero
		for _, o := range filled {
			if o.Side == model.OrderSideBuy {
				buys = buys.Add(o.Quantity)
			} else {
				sells = sells.Add(o.Quantity)
			}
		}
		if buys.Sub(sells).Abs().LessThanOrEqual(quantityTolerance) {
			last := filled[len(filled)-1]
			out.status = model.TransactionStatusClosed
			out.closePrice = last.OpenPrice
			out.closeDate = timePtr(now)
			return out
		}
	}

	// 4. Entry orders all terminal and none ever filled.
	if len(entries) > 0 && allTerminal(entries) && entryFills == 0 {
		out.status = model.TransactionStatusClosed
		out.closeDate = timePtr(now)
		return out
	}

	// 5. Entry orders all terminal after at least one fill, dependents
	// existed and none remains active. A position that never had dependents
	// is not closed here: it stays opened under rule 6.
	if len(dependents) > 0 && len(entries) > 0 && allTerminal(entries) && entryFills > 0 && !anyActiveDependent(dependents) {
		out.status = model.TransactionStatusClosed
		out.closeDate = timePtr(now)
		return out
	}

	// 6. Position live or still waiting for an entry fill.
	if entryFills > 0 {
		if currentStatus != model.TransactionStatusClosing {
			out.status = model.TransactionStatusOpened
		}
		return out
	}

	out.status = model.TransactionStatusWaiting
	return out
}

func signedQuantity(o model.Order) decimal.Decimal {
	if o.Side == model.OrderSideSell {
		return o.Quantity.Neg()
	}
	return o.Quantity
}

func allTerminal(orders []model.Order) bool {
	for _, o := range orders {
		if !o.IsTerminal() {
			return false
		}
	}
	return true
}

func allTerminalUnexecuted(orders []model.Order) bool {
	for _, o := range orders {
		if !o.IsTerminalUnexecuted() {
			return false
		}
	}
	return true
}

func anyActiveDependent(dependents []model.Order) bool {
	for _, o := range dependents {
		if !o.IsTerminal() {
			return true
		}
	}
	return false
}

// sortByFillTime orders fills chronologically, ties broken by id so the
// result is stable when fills land in one reconcile pass.
func sortByFillTime(orders []model.Order) {
	sort.SliceStable(orders, func(i, j int) bool {
		ti, tj := orders[i].FilledAt, orders[j].FilledAt
		switch {
		case ti == nil && tj == nil:
			return orders[i].ID < orders[j].ID
		case ti == nil:
			return true
		case tj == nil:
			return false
		case ti.Equal(*tj):
			return orders[i].ID < orders[j].ID
		default:
			return ti.Before(*tj)
		}
	})
}

func timePtr(t time.Time) *time.Time {
	return &t
}
