package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	logger "github.com/sirupsen/logrus"

	"tradecore/src/expert"
	"tradecore/src/model"
)

// ErrSkipped is returned by Submit when the task's skip rule applies:
// entering a market that already has a position, or managing positions
// that do not exist. Not an error condition for callers, just a signal.
var ErrSkipped = errors.New("task skipped by transaction state")

// taskStore is the slice of TaskRepository the scheduler needs.
type taskStore interface {
	Create(ctx context.Context, task *model.AnalysisTask) error
	FindActiveByIdentity(ctx context.Context, expertID, symbol, useCase string) (*model.AnalysisTask, error)
	FindByHandle(ctx context.Context, handle string) (*model.AnalysisTask, error)
	CountActiveForExpertUseCase(ctx context.Context, expertID, useCase string) (int64, error)
	MarkRunning(ctx context.Context, id uint) error
	MarkCompleted(ctx context.Context, id uint, result string) error
	MarkFailed(ctx context.Context, id uint, reason string) error
	MarkCanceled(ctx context.Context, id uint) error
	ClearDerived(ctx context.Context, id uint) error
}

type transactionFinder interface {
	FindActiveByExpertAndSymbol(ctx context.Context, expertID, symbol string) (*model.Transaction, error)
}

type recommendationSink interface {
	Create(ctx context.Context, recommendation *model.Recommendation) error
}

// downstream is invoked by the completion barrier, exactly once per
// finished batch. In production it is the rule engine.
type downstream interface {
	ProcessRecommendations(ctx context.Context, expertID string) error
}

type expertSource interface {
	Get(id string) (expert.Expert, error)
}

// barrierState arms when a task for its (expert, useCase) pair is
// submitted and disarms when the barrier fires, so two tasks finishing
// together can never double-trigger downstream processing.
type barrierState struct {
	mu    sync.Mutex
	armed bool
}

// Scheduler owns analysis tasks: it deduplicates submissions, runs tasks
// on a bounded worker pool against the expert registry and fires the
// completion barrier when the last task of an (expert, useCase) batch
// finishes.
type Scheduler struct {
	config          Config
	tasks           taskStore
	transactions    transactionFinder
	recommendations recommendationSink
	experts         expertSource
	engine          downstream

	queue chan model.AnalysisTask
	done  chan struct{}
	wg    sync.WaitGroup

	mu       sync.Mutex
	barriers map[string]*barrierState
}

func NewScheduler(config Config, tasks taskStore, transactions transactionFinder, recommendations recommendationSink, experts expertSource, engine downstream) *Scheduler {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 64
	}
	return &Scheduler{
		config:          config,
		tasks:           tasks,
		transactions:    transactions,
		recommendations: recommendations,
		experts:         experts,
		engine:          engine,
		queue:           make(chan model.AnalysisTask, config.QueueSize),
		done:            make(chan struct{}),
		barriers:        map[string]*barrierState{},
	}
}

// Start launches the worker pool. Stop shuts it down.
func (s *Scheduler) Start(ctx context.Context) {
	for i := 0; i < s.config.Workers; i++ {
		s.wg.Add(1)
		go s.worker(ctx)
	}
	logger.WithFields(map[string]interface{}{
		"workers": s.config.Workers,
	}).Info("scheduler started")
}

func (s *Scheduler) Stop() {
	close(s.done)
	s.wg.Wait()
}

func (s *Scheduler) worker(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case <-ctx.Done():
			return
		case task := <-s.queue:
			s.runTask(ctx, task)
		}
	}
}

// Submit enqueues one analysis task. A task with the same (expert,
// symbol, useCase) already pending or running is not duplicated: the
// existing handle is returned. Skip rules apply before creation:
//
//	enter_market:   skipped when a waiting/opened transaction exists
//	open_positions: skipped when no such transaction exists
func (s *Scheduler) Submit(ctx context.Context, expertID, symbol, useCase string) (string, error) {
	existing, err := s.tasks.FindActiveByIdentity(ctx, expertID, symbol, useCase)
	if err != nil {
		return "", err
	}
	if existing != nil {
		logger.WithFields(map[string]interface{}{
			"expert":   expertID,
			"symbol":   symbol,
			"use_case": useCase,
			"handle":   existing.Handle,
		}).Debug("duplicate submission, returning existing handle")
		return existing.Handle, nil
	}

	if err := s.applySkipRule(ctx, expertID, symbol, useCase); err != nil {
		return "", err
	}

	task := model.AnalysisTask{
		Handle:   uuid.NewString(),
		ExpertID: expertID,
		Symbol:   symbol,
		UseCase:  useCase,
		Status:   model.TaskStatusPending,
	}
	if err := s.tasks.Create(ctx, &task); err != nil {
		return "", err
	}
	s.armBarrier(expertID, useCase)

	if err := s.enqueue(ctx, task); err != nil {
		return "", err
	}

	logger.WithFields(map[string]interface{}{
		"expert":   expertID,
		"symbol":   symbol,
		"use_case": useCase,
		"handle":   task.Handle,
	}).Info("analysis task submitted")
	return task.Handle, nil
}

func (s *Scheduler) applySkipRule(ctx context.Context, expertID, symbol, useCase string) error {
	transaction, err := s.transactions.FindActiveByExpertAndSymbol(ctx, expertID, symbol)
	if err != nil {
		return err
	}

	hasPosition := transaction != nil &&
		(transaction.Status == model.TransactionStatusWaiting ||
			transaction.Status == model.TransactionStatusOpened)

	switch useCase {
	case model.UseCaseEnterMarket:
		if hasPosition {
			return fmt.Errorf("%w: %s already has a position in %s", ErrSkipped, expertID, symbol)
		}
	case model.UseCaseOpenPositions:
		if !hasPosition {
			return fmt.Errorf("%w: %s has no position in %s", ErrSkipped, expertID, symbol)
		}
	default:
		return fmt.Errorf("unknown use case %q", useCase)
	}
	return nil
}

func (s *Scheduler) enqueue(ctx context.Context, task model.AnalysisTask) error {
	select {
	case s.queue <- task:
		return nil
	case <-s.done:
		return errors.New("scheduler stopped")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// runTask executes one task against its expert and always checks the
// completion barrier afterwards, whatever the outcome.
func (s *Scheduler) runTask(ctx context.Context, task model.AnalysisTask) {
	defer s.completionBarrier(ctx, task.ExpertID, task.UseCase)

	// Reload: the task may have been canceled while queued.
	current, err := s.tasks.FindByHandle(ctx, task.Handle)
	if err != nil || current == nil || current.Status != model.TaskStatusPending {
		return
	}
	task = *current

	if err := s.tasks.MarkRunning(ctx, task.ID); err != nil {
		return
	}

	analyst, err := s.experts.Get(task.ExpertID)
	if err != nil {
		// Misconfiguration fails fast; there is nothing to retry.
		s.fail(ctx, task, err)
		return
	}

	analysisCtx := ctx
	if s.config.ExpertTimeout > 0 {
		var cancel context.CancelFunc
		analysisCtx, cancel = context.WithTimeout(ctx, s.config.ExpertTimeout)
		defer cancel()
	}

	recommendation, err := analyst.Analyze(analysisCtx, task.Symbol, task.UseCase)
	if err != nil {
		s.fail(ctx, task, err)
		return
	}

	result := "no recommendation"
	if recommendation != nil {
		recommendation.ExpertID = task.ExpertID
		recommendation.Status = model.RecommendationStatusPending
		if err := s.recommendations.Create(ctx, recommendation); err != nil {
			s.fail(ctx, task, err)
			return
		}
		result = fmt.Sprintf("recommendation %d: %s", recommendation.ID, recommendation.Action)
	}

	if err := s.tasks.MarkCompleted(ctx, task.ID, result); err != nil {
		logger.WithFields(map[string]interface{}{
			"task_id": task.ID,
		}).WithError(err).Error("failed to mark task completed")
	}
}

func (s *Scheduler) fail(ctx context.Context, task model.AnalysisTask, cause error) {
	logger.WithFields(map[string]interface{}{
		"task_id":  task.ID,
		"expert":   task.ExpertID,
		"symbol":   task.Symbol,
		"use_case": task.UseCase,
	}).WithError(cause).Error("analysis task failed")

	if err := s.tasks.MarkFailed(ctx, task.ID, cause.Error()); err != nil {
		logger.WithFields(map[string]interface{}{
			"task_id": task.ID,
		}).WithError(err).Error("failed to mark task failed")
	}
}

func barrierKey(expertID, useCase string) string {
	return expertID + "|" + useCase
}

func (s *Scheduler) armBarrier(expertID, useCase string) {
	state := s.barrier(expertID, useCase)
	state.mu.Lock()
	state.armed = true
	state.mu.Unlock()
}

func (s *Scheduler) barrier(expertID, useCase string) *barrierState {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := barrierKey(expertID, useCase)
	state, ok := s.barriers[key]
	if !ok {
		state = &barrierState{}
		s.barriers[key] = state
	}
	return state
}

// completionBarrier triggers downstream recommendation processing exactly
// once per batch: when no pending/running task remains for the (expert,
// useCase) pair. The per-pair lock keeps two finishing tasks from
// double-triggering, and is always released, error or not.
func (s *Scheduler) completionBarrier(ctx context.Context, expertID, useCase string) {
	state := s.barrier(expertID, useCase)
	state.mu.Lock()
	defer state.mu.Unlock()

	if !state.armed {
		return
	}

	remaining, err := s.tasks.CountActiveForExpertUseCase(ctx, expertID, useCase)
	if err != nil {
		logger.WithFields(map[string]interface{}{
			"expert":   expertID,
			"use_case": useCase,
		}).WithError(err).Error("completion barrier count failed")
		return
	}
	if remaining > 0 {
		return
	}

	state.armed = false
	logger.WithFields(map[string]interface{}{
		"expert":   expertID,
		"use_case": useCase,
	}).Info("completion barrier fired")

	if err := s.engine.ProcessRecommendations(ctx, expertID); err != nil {
		logger.WithFields(map[string]interface{}{
			"expert": expertID,
		}).WithError(err).Error("downstream recommendation processing failed")
	}
}

// GetStatus returns the task behind a handle, or (nil, nil) when unknown.
func (s *Scheduler) GetStatus(ctx context.Context, handle string) (*model.AnalysisTask, error) {
	return s.tasks.FindByHandle(ctx, handle)
}

// CancelPending cancels a task that has not started running.
func (s *Scheduler) CancelPending(ctx context.Context, handle string) error {
	task, err := s.tasks.FindByHandle(ctx, handle)
	if err != nil {
		return err
	}
	if task == nil {
		return fmt.Errorf("unknown task handle %q", handle)
	}
	if task.Status != model.TaskStatusPending {
		return fmt.Errorf("task %s is %s, only pending tasks can be canceled", handle, task.Status)
	}
	return s.tasks.MarkCanceled(ctx, task.ID)
}

// Resubmit re-runs a finished task under its existing identity: derived
// outputs are cleared and the same handle is re-enqueued, so no duplicate
// task row is created.
func (s *Scheduler) Resubmit(ctx context.Context, handle string) (string, error) {
	task, err := s.tasks.FindByHandle(ctx, handle)
	if err != nil {
		return "", err
	}
	if task == nil {
		return "", fmt.Errorf("unknown task handle %q", handle)
	}
	if task.IsActive() {
		return task.Handle, nil
	}

	if err := s.tasks.ClearDerived(ctx, task.ID); err != nil {
		return "", err
	}
	task.Status = model.TaskStatusPending
	s.armBarrier(task.ExpertID, task.UseCase)

	if err := s.enqueue(ctx, *task); err != nil {
		return "", err
	}
	return task.Handle, nil
}
