package repository

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"tradecore/src/model"
)

func taskRows(tasks ...model.AnalysisTask) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"id", "handle", "expert_id", "symbol", "use_case", "status", "priority", "created_at", "updated_at"})
	for _, task := range tasks {
		rows.AddRow(task.ID, task.Handle, task.ExpertID, task.Symbol, task.UseCase, task.Status, task.Priority, task.CreatedAt, task.UpdatedAt)
	}
	return rows
}

func TestTaskRepositoryFindActiveByIdentity(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&TaskRepository{}).WithDB(mockDB)

	createdAt := time.Date(2025, 2, 1, 9, 0, 0, 0, time.UTC)

	t.Run("returns the active task", func(t *testing.T) {
		existing := model.AnalysisTask{
			ID: 7, Handle: "h-7", ExpertID: "trend-follower", Symbol: "AAPL",
			UseCase: model.UseCaseEnterMarket, Status: model.TaskStatusPending,
			CreatedAt: createdAt, UpdatedAt: createdAt,
		}

		mock.ExpectQuery(`SELECT \* FROM "analysis_tasks" WHERE expert_id = \$1 AND symbol = \$2 AND use_case = \$3 AND status IN \(\$4,\$5\)`).
			WithArgs("trend-follower", "AAPL", model.UseCaseEnterMarket,
				model.TaskStatusPending, model.TaskStatusRunning, 1).
			WillReturnRows(taskRows(existing))

		task, err := repo.FindActiveByIdentity(context.Background(), "trend-follower", "AAPL", model.UseCaseEnterMarket)
		require.NoError(t, err)
		require.NotNil(t, task)
		require.Equal(t, "h-7", task.Handle)
	})

	t.Run("returns nil when no active task exists", func(t *testing.T) {
		mock.ExpectQuery(`SELECT \* FROM "analysis_tasks"`).
			WillReturnRows(taskRows())

		task, err := repo.FindActiveByIdentity(context.Background(), "trend-follower", "MSFT", model.UseCaseEnterMarket)
		require.NoError(t, err)
		require.Nil(t, task)
	})

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryCountActive(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&TaskRepository{}).WithDB(mockDB)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "analysis_tasks" WHERE expert_id = \$1 AND use_case = \$2 AND status IN \(\$3,\$4\)`).
		WithArgs("trend-follower", model.UseCaseOpenPositions,
			model.TaskStatusPending, model.TaskStatusRunning).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(2))

	count, err := repo.CountActiveForExpertUseCase(context.Background(), "trend-follower", model.UseCaseOpenPositions)
	require.NoError(t, err)
	require.EqualValues(t, 2, count)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTaskRepositoryClearDerived(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&TaskRepository{}).WithDB(mockDB)

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE "analysis_tasks" SET`).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, repo.ClearDerived(context.Background(), 7))
	require.NoError(t, mock.ExpectationsWereMet())
}
