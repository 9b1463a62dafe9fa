package handler

import (
	"context"
	"net/http"
	"strconv"

	logger "github.com/sirupsen/logrus"

	"tradecore/src/auth"
	"tradecore/src/model"
	"tradecore/src/repository"
)

type resultFinder interface {
	FindByRecommendation(ctx context.Context, recommendationID uint) ([]model.ActionResult, error)
	FindLatest(ctx context.Context, limit int) ([]model.ActionResult, error)
}

// ListActionResultsHandler walks the audit chain: with recommendationId
// it returns that recommendation's results, otherwise the newest results.
func ListActionResultsHandler(repo resultFinder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetPrincipalFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if recParam := r.URL.Query().Get("recommendationId"); recParam != "" {
			id, err := strconv.ParseUint(recParam, 10, 64)
			if err != nil {
				http.Error(w, "invalid recommendationId", http.StatusBadRequest)
				return
			}
			results, err := repo.FindByRecommendation(r.Context(), uint(id))
			if err != nil {
				logger.WithError(err).Error("failed to fetch action results")
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			writeJSON(w, http.StatusOK, results)
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

		results, err := repo.FindLatest(r.Context(), limit)
		if err != nil {
			logger.WithError(err).Error("failed to fetch latest action results")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, results)
	}
}

// DefaultListActionResultsHandler wires the handler to the production repository implementation.
func DefaultListActionResultsHandler() http.HandlerFunc {
	return ListActionResultsHandler(repository.NewActionResultRepository())
}
