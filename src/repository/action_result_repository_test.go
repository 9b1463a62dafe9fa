package repository

import (
	"context"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"tradecore/src/model"
)

func TestActionResultCreateRejectsMissingRecommendation(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&ActionResultRepository{}).WithDB(mockDB)

	// No DB expectations: the write must be refused before reaching gorm.
	err := repo.Create(context.Background(), &model.ActionResult{ActionType: model.ActionClosePosition})
	require.ErrorIs(t, err, model.ErrMissingRecommendation)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestActionResultCreatePersistsRow(t *testing.T) {
	mockDB, mock := newMockDB(t)
	repo := (&ActionResultRepository{}).WithDB(mockDB)

	result, err := model.NewActionResult(42, model.ActionAdjustTakeProfit)
	require.NoError(t, err)
	result.Success = true
	result.Message = "take profit moved to 268.45"

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO "action_results"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), result))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestNewActionResultRefusesZeroRecommendation(t *testing.T) {
	_, err := model.NewActionResult(0, model.ActionClosePosition)
	require.ErrorIs(t, err, model.ErrMissingRecommendation)
}
