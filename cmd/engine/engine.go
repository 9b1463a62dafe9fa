package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"tradecore/src/audit"
	"tradecore/src/connectors"
	"tradecore/src/database"
	"tradecore/src/expert"
	"tradecore/src/model"
	"tradecore/src/orderbook"
	"tradecore/src/repository"
	"tradecore/src/ruleengine"
	"tradecore/src/scheduler"
	"tradecore/src/security"
)

// Engine is the long-running trading worker: it submits analysis tasks
// on a fixed cadence and keeps tracked orders reconciled with the broker.
type Engine struct {
	Config *Config
}

// Core bundles the components shared by the worker loop and the API
// server. Close releases them in reverse construction order.
type Core struct {
	Book      *orderbook.OrderBook
	Scheduler *scheduler.Scheduler
	Registry  *expert.Registry

	closeFns []func()
}

func (c *Core) Close() {
	for i := len(c.closeFns) - 1; i >= 0; i-- {
		c.closeFns[i]()
	}
}

// BuildCore wires the broker account, order book, experts, rule engine
// and scheduler. The database must already be initialized.
func BuildCore(ctx context.Context, config *Config) (*Core, error) {
	account, err := buildAccount(ctx, config)
	if err != nil {
		return nil, err
	}

	obConfig := orderbook.GetConfig()

	writer := audit.NewWriter(repository.NewOrderRepository(), obConfig.AuditQueueSize)
	writer.Start()

	book := orderbook.NewOrderBook(
		obConfig,
		account,
		repository.NewOrderRepository(),
		repository.NewTransactionRepository(),
		writer,
	)

	connConfig := connectors.GetConfig()
	if connConfig.BrokerWSURL != "" {
		stream := connectors.NewPriceStream(connConfig.BrokerWSURL, config.SymbolList(), book.Prices())
		go stream.Run(ctx)
	}

	registry := expert.NewRegistry()
	registry.Register(expert.NewMomentum(
		repository.NewOHLCVRepository(),
		config.BarInterval,
		config.SMAShortWindow,
		config.SMALongWindow,
	))

	ruleEngine := ruleengine.NewEngine(
		book,
		repository.NewRuleRepository(),
		repository.NewRecommendationRepository(),
		repository.NewActionResultRepository(),
		repository.NewTransactionRepository(),
	)

	sched := scheduler.NewScheduler(
		scheduler.GetConfig(),
		repository.NewTaskRepository(),
		repository.NewTransactionRepository(),
		repository.NewRecommendationRepository(),
		registry,
		ruleEngine,
	)
	sched.Start(ctx)

	return &Core{
		Book:      book,
		Scheduler: sched,
		Registry:  registry,
		closeFns:  []func(){writer.Close, sched.Stop},
	}, nil
}

func (t *Engine) Start() error {
	t.Config = GetConfig()

	ctx, stop := signal.NotifyContext(
		context.Background(),
		os.Interrupt,
		syscall.SIGTERM,
	)
	defer stop()

	// Initialize main (read/write) database
	if err := database.InitMainDB(); err != nil {
		logrus.WithError(err).Fatal("Failed to connect to main database")
		return err
	}

	core, err := BuildCore(ctx, t.Config)
	if err != nil {
		logrus.WithError(err).Error("Failed to build trading core")
		return err
	}
	defer core.Close()

	symbols := t.Config.SymbolList()
	logrus.WithFields(logrus.Fields{
		"expertID": t.Config.ExpertID,
		"symbols":  symbols,
	}).Info("Starting trade engine loop")

	return t.runLoop(ctx, core, symbols)
}

func (t *Engine) runLoop(ctx context.Context, core *Core, symbols []string) error {
	exceptions := repository.NewExceptionRepository()

	analysisTicker := time.NewTicker(t.Config.AnalysisInterval)
	defer analysisTicker.Stop()

	reconcileTicker := time.NewTicker(orderbook.GetConfig().ReconcileInterval)
	defer reconcileTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logrus.Info("Trade engine loop stopped")
			return nil

		case <-analysisTicker.C:
			for _, symbol := range symbols {
				for _, useCase := range []string{model.UseCaseEnterMarket, model.UseCaseOpenPositions} {
					_, err := core.Scheduler.Submit(ctx, t.Config.ExpertID, symbol, useCase)
					if err != nil && !errors.Is(err, scheduler.ErrSkipped) {
						exceptions.Capture(ctx, "engine", "Submit", "error", err, map[string]interface{}{
							"symbol":  symbol,
							"useCase": useCase,
						})
					}
				}
			}

		case <-reconcileTicker.C:
			if err := core.Book.Reconcile(ctx); err != nil {
				exceptions.Capture(ctx, "engine", "Reconcile", "error", err, nil)
			}
		}
	}
}

// buildAccount selects the broker connector. Paper trading needs no
// credentials; live trading loads them from the broker_accounts table
// and decrypts at the last moment.
func buildAccount(ctx context.Context, config *Config) (connectors.Account, error) {
	if config.PaperTrading {
		logrus.Info("Paper trading enabled, using simulated broker")
		return connectors.NewPaperBroker(), nil
	}

	if config.BrokerAccountName == "" {
		return nil, errors.New("BROKER_ACCOUNT_NAME is required when paper trading is disabled")
	}

	account, err := repository.NewBrokerAccountRepository().FindByName(ctx, config.BrokerAccountName)
	if err != nil {
		return nil, err
	}
	if account == nil {
		return nil, fmt.Errorf("broker account %q not found", config.BrokerAccountName)
	}

	apiKey, err := security.DecryptString(account.APIKeyHash)
	if err != nil {
		return nil, fmt.Errorf("decrypting API key for %q: %w", config.BrokerAccountName, err)
	}
	apiSecret, err := security.DecryptString(account.APISecretHash)
	if err != nil {
		return nil, fmt.Errorf("decrypting API secret for %q: %w", config.BrokerAccountName, err)
	}

	logrus.WithField("account", account.Name).Info("Using REST broker account")
	return connectors.NewRESTBroker(apiKey, apiSecret, account.BaseURL), nil
}
