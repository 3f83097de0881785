package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartalarm/internal/models"
)

func setupMockFeedbackDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *FeedbackRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewFeedbackRepository(db, logger)

	return db, mock, repo
}

func TestCreateFeedback_Success(t *testing.T) {
	db, mock, repo := setupMockFeedbackDB(t)
	defer db.Close()

	fb := &models.WakeUpFeedback{
		FeedbackID:        "fb-1",
		AlarmID:           "alarm-1",
		Date:              "2026-08-26",
		OriginalMinutes:   420,
		ActualWakeMinutes: 428,
		Difficulty:        models.DifficultyNormal,
		Feeling:           models.FeelingGood,
		SleepQuality:      7,
		TimeToFullyAwake:  12,
	}

	mock.ExpectExec(`INSERT INTO wakeup_feedback`).
		WithArgs(fb.FeedbackID, fb.AlarmID, fb.Date, fb.OriginalMinutes, fb.ActualWakeMinutes,
			fb.Difficulty, fb.Feeling, fb.SleepQuality, fb.TimeToFullyAwake,
			fb.WouldPreferEarlier, fb.WouldPreferLater, fb.Notes).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.CreateFeedback(context.Background(), fb)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateFeedback_MissingAlarmID(t *testing.T) {
	db, mock, repo := setupMockFeedbackDB(t)
	defer db.Close()

	err := repo.CreateFeedback(context.Background(), &models.WakeUpFeedback{FeedbackID: "fb-1"})

	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFeedback_ChronologicalOrder(t *testing.T) {
	db, mock, repo := setupMockFeedbackDB(t)
	defer db.Close()

	cols := []string{
		"feedback_id", "alarm_id", "date", "original_minutes", "actual_wake_minutes",
		"difficulty", "feeling", "sleep_quality", "time_to_fully_awake",
		"would_prefer_earlier", "would_prefer_later", "notes", "created_at",
	}
	rows := sqlmock.NewRows(cols).
		AddRow("fb-1", "alarm-1", "2026-08-24", 420, 415,
			models.DifficultyEasy, models.FeelingGood, 8, 5, false, false, nil, time.Now()).
		AddRow("fb-2", "alarm-1", "2026-08-25", 420, 440,
			models.DifficultyHard, models.FeelingBad, 4, 25, false, true, nil, time.Now())

	mock.ExpectQuery(`SELECT`).
		WithArgs("alarm-1", 14).
		WillReturnRows(rows)

	feedback, err := repo.ListFeedback(context.Background(), "alarm-1", 14)

	require.NoError(t, err)
	require.Len(t, feedback, 2)
	assert.Equal(t, "fb-1", feedback[0].FeedbackID)
	assert.Equal(t, "2026-08-25", feedback[1].Date)
	assert.Equal(t, 20, feedback[1].WakeDeltaMinutes())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListFeedback_Empty(t *testing.T) {
	db, mock, repo := setupMockFeedbackDB(t)
	defer db.Close()

	cols := []string{
		"feedback_id", "alarm_id", "date", "original_minutes", "actual_wake_minutes",
		"difficulty", "feeling", "sleep_quality", "time_to_fully_awake",
		"would_prefer_earlier", "would_prefer_later", "notes", "created_at",
	}
	mock.ExpectQuery(`SELECT`).
		WithArgs("alarm-2", 14).
		WillReturnRows(sqlmock.NewRows(cols))

	feedback, err := repo.ListFeedback(context.Background(), "alarm-2", 14)

	require.NoError(t, err)
	assert.Empty(t, feedback)
	require.NoError(t, mock.ExpectationsWereMet())
}
