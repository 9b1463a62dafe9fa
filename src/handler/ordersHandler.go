package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/auth"
	"tradecore/src/model"
	"tradecore/src/repository"
)

type transactionOrdersLister interface {
	FindByTransactionID(ctx context.Context, transactionID uint) ([]model.Order, error)
}

type orderCanceler interface {
	CancelOrder(ctx context.Context, orderID uint) error
}

// ListTransactionOrdersHandler returns all orders of one transaction,
// oldest first.
func ListTransactionOrdersHandler(repo transactionOrdersLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetPrincipalFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid transaction id", http.StatusBadRequest)
			return
		}

		orders, err := repo.FindByTransactionID(r.Context(), uint(id))
		if err != nil {
			logger.WithError(err).Error("failed to fetch transaction orders")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, orders)
	}
}

// CancelOrderHandler cancels one order through the order book, so the
// broker-side order is canceled and the transaction re-derived.
func CancelOrderHandler(book orderCanceler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetPrincipalFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		id, err := strconv.ParseUint(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			http.Error(w, "invalid order id", http.StatusBadRequest)
			return
		}

		if err := book.CancelOrder(r.Context(), uint(id)); err != nil {
			logger.WithError(err).Error("failed to cancel order")
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// DefaultListTransactionOrdersHandler wires the handler to the production repository implementation.
func DefaultListTransactionOrdersHandler() http.HandlerFunc {
	return ListTransactionOrdersHandler(repository.NewOrderRepository())
}
