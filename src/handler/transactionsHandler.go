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

type transactionSearcher interface {
	Search(ctx context.Context, expertID string, symbol string, limit int) ([]model.Transaction, error)
}

type transactionReader interface {
	FindByID(ctx context.Context, id uint) (*model.Transaction, error)
}

// SearchTransactionsHandler lists transactions, newest first. Supports
// expertId, symbol and limit query filters.
func SearchTransactionsHandler(repo transactionSearcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetPrincipalFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		limit := 20
		if limitParam := r.URL.Query().Get("limit"); limitParam != "" {
			parsed, err := strconv.Atoi(limitParam)
			if err != nil || parsed <= 0 {
				http.Error(w, "invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		transactions, err := repo.Search(r.Context(),
			r.URL.Query().Get("expertId"),
			r.URL.Query().Get("symbol"),
			limit)
		if err != nil {
			logger.WithError(err).Error("failed to search transactions")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusOK, transactions)
	}
}

// GetTransactionHandler returns one transaction with its orders.
func GetTransactionHandler(repo transactionReader) http.HandlerFunc {
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

		transaction, err := repo.FindByID(r.Context(), uint(id))
		if err != nil {
			logger.WithError(err).Error("failed to fetch transaction")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if transaction == nil {
			http.Error(w, "transaction not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, transaction)
	}
}

// DefaultSearchTransactionsHandler wires the handler to the production repository implementation.
func DefaultSearchTransactionsHandler() http.HandlerFunc {
	return SearchTransactionsHandler(repository.NewTransactionRepository())
}

// DefaultGetTransactionHandler wires the handler to the production repository implementation.
func DefaultGetTransactionHandler() http.HandlerFunc {
	return GetTransactionHandler(repository.NewTransactionRepository())
}
