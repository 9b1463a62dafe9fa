package server

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/auth"
	"tradecore/src/handler"
	"tradecore/src/orderbook"
	"tradecore/src/scheduler"
	"tradecore/src/security"
)

// StartServer runs the HTTP API until SIGINT/SIGTERM. Everything except
// the healthcheck sits behind the API token middleware.
func StartServer(port string, tasks *scheduler.Scheduler, book *orderbook.OrderBook) {
	securityConfig := security.GetConfig()

	// Router with middleware
	r := chi.NewRouter()

	// Public routes
	r.Get("/healthcheck", func(w http.ResponseWriter, req *http.Request) {
		if _, err := w.Write([]byte("OK")); err != nil {
			logger.WithError(err).Error(" \"/health error")
		}
	})

	// Protected API
	r.Group(func(pr chi.Router) {
		pr.Use(auth.RequireAPIToken(securityConfig.APITokenHash))

		pr.Post("/tasks", handler.SubmitTaskHandler(tasks))
		pr.Get("/tasks/{handle}", handler.GetTaskHandler(tasks))
		pr.Post("/tasks/{handle}/cancel", handler.CancelTaskHandler(tasks))
		pr.Post("/tasks/{handle}/resubmit", handler.ResubmitTaskHandler(tasks))

		pr.Get("/transactions", handler.DefaultSearchTransactionsHandler())
		pr.Get("/transactions/{id}", handler.DefaultGetTransactionHandler())
		pr.Get("/transactions/{id}/orders", handler.DefaultListTransactionOrdersHandler())
		pr.Post("/orders/{id}/cancel", handler.CancelOrderHandler(book))

		pr.Get("/action-results", handler.DefaultListActionResultsHandler())
	})

	// Graceful server
	addr := ":" + port
	srv := &http.Server{
		Addr:    addr,
		Handler: r,
	}

	// Start server in goroutine
	go func() {
		logger.Infof("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Fatal("Server crashed")
		}
	}()

	// Shutdown on SIGINT or SIGTERM
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down gracefully...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Shutdown error")
	}
}
