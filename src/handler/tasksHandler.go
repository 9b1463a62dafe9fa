package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/auth"
	"tradecore/src/model"
	"tradecore/src/scheduler"
)

type taskService interface {
	Submit(ctx context.Context, expertID, symbol, useCase string) (string, error)
	GetStatus(ctx context.Context, handle string) (*model.AnalysisTask, error)
	CancelPending(ctx context.Context, handle string) error
	Resubmit(ctx context.Context, handle string) (string, error)
}

type submitTaskRequest struct {
	ExpertID string `json:"expert_id"`
	Symbol   string `json:"symbol"`
	UseCase  string `json:"use_case"`
}

type submitTaskResponse struct {
	Handle  string `json:"handle,omitempty"`
	Skipped bool   `json:"skipped,omitempty"`
	Reason  string `json:"reason,omitempty"`
}

// SubmitTaskHandler enqueues one analysis task. A submission the skip
// rules refuse is not an error: the response carries skipped=true.
func SubmitTaskHandler(tasks taskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetPrincipalFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		var req submitTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
		if req.ExpertID == "" || req.Symbol == "" || req.UseCase == "" {
			http.Error(w, "expert_id, symbol and use_case are required", http.StatusBadRequest)
			return
		}

		handle, err := tasks.Submit(r.Context(), req.ExpertID, req.Symbol, req.UseCase)
		if err != nil {
			if errors.Is(err, scheduler.ErrSkipped) {
				writeJSON(w, http.StatusOK, submitTaskResponse{Skipped: true, Reason: err.Error()})
				return
			}
			logger.WithError(err).Error("failed to submit analysis task")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		writeJSON(w, http.StatusCreated, submitTaskResponse{Handle: handle})
	}
}

// GetTaskHandler returns the task behind a handle.
func GetTaskHandler(tasks taskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetPrincipalFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		task, err := tasks.GetStatus(r.Context(), chi.URLParam(r, "handle"))
		if err != nil {
			logger.WithError(err).Error("failed to fetch task")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		if task == nil {
			http.Error(w, "task not found", http.StatusNotFound)
			return
		}

		writeJSON(w, http.StatusOK, task)
	}
}

// CancelTaskHandler cancels a pending task.
func CancelTaskHandler(tasks taskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetPrincipalFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		if err := tasks.CancelPending(r.Context(), chi.URLParam(r, "handle")); err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// ResubmitTaskHandler re-runs a finished task under its existing handle.
func ResubmitTaskHandler(tasks taskService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.GetPrincipalFromContext(r.Context()); !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		handle, err := tasks.Resubmit(r.Context(), chi.URLParam(r, "handle"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusConflict)
			return
		}
		writeJSON(w, http.StatusOK, submitTaskResponse{Handle: handle})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.WithError(err).Error("failed to encode response")
	}
}
