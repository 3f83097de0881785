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
)

func setupMockAlarmDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *AlarmRepository) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	logger := zap.NewNop()
	repo := NewAlarmRepository(db, logger)

	return db, mock, repo
}

func alarmRows(alarmID string) *sqlmock.Rows {
	now := time.Now()
	return sqlmock.NewRows([]string{
		"alarm_id", "owner_id", "label", "base_minutes", "days_of_week",
		"enabled", "smart_enabled", "real_time_adaptation", "dynamic_wake_window",
		"wake_window_minutes", "sleep_pattern_weight", "learning_factor",
		"next_delta_minutes", "next_trigger_at", "next_optimal_times",
		"version", "created_at", "updated_at",
	}).AddRow(
		alarmID, "user-1", "Workday", 420, `[1,2,3,4,5]`,
		true, true, true, true,
		30, 0.7, 0.3,
		-10, now, `[410,420]`,
		3, now, now,
	)
}

func TestGetAlarm_Success(t *testing.T) {
	db, mock, repo := setupMockAlarmDB(t)
	defer db.Close()

	ctx := context.Background()
	alarmID := "alarm-1"

	mock.ExpectQuery(`SELECT`).
		WithArgs(alarmID).
		WillReturnRows(alarmRows(alarmID))

	condRows := sqlmock.NewRows([]string{
		"condition_id", "alarm_id", "type", "enabled", "priority",
		"predicate", "adjustment", "effectiveness_score", "created_at", "updated_at",
	}).AddRow(
		"cond-1", alarmID, "weather", true, 3,
		`{"operator":"contains","value":"rain"}`,
		`{"time_minutes":-10,"max_adjustment":20,"reason":"rain"}`,
		0.7, time.Now(), time.Now(),
	)
	mock.ExpectQuery(`SELECT`).
		WithArgs(alarmID).
		WillReturnRows(condRows)

	alarm, err := repo.GetAlarm(ctx, alarmID)

	require.NoError(t, err)
	assert.Equal(t, alarmID, alarm.AlarmID)
	assert.Equal(t, 420, alarm.BaseMinutes)
	assert.Equal(t, []int{1, 2, 3, 4, 5}, alarm.DaysOfWeek)
	assert.Equal(t, -10, alarm.NextDeltaMinutes)
	assert.Equal(t, 410, alarm.NextMinutes())
	assert.Equal(t, int64(3), alarm.Version)
	require.Len(t, alarm.Conditions, 1)
	assert.Equal(t, "contains", alarm.Conditions[0].Predicate.Operator)
	assert.Equal(t, -10, alarm.Conditions[0].Adjustment.TimeMinutes)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlarm_NotFound(t *testing.T) {
	db, mock, repo := setupMockAlarmDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT`).
		WithArgs("alarm-missing").
		WillReturnError(sql.ErrNoRows)

	alarm, err := repo.GetAlarm(context.Background(), "alarm-missing")

	assert.Nil(t, alarm)
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAlarm_MissingID(t *testing.T) {
	db, mock, repo := setupMockAlarmDB(t)
	defer db.Close()

	alarm, err := repo.GetAlarm(context.Background(), "")

	assert.Nil(t, alarm)
	assert.Error(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAdaptiveAlarmIDs(t *testing.T) {
	db, mock, repo := setupMockAlarmDB(t)
	defer db.Close()

	rows := sqlmock.NewRows([]string{"alarm_id"}).
		AddRow("alarm-1").
		AddRow("alarm-2")
	mock.ExpectQuery(`SELECT`).WillReturnRows(rows)

	ids, err := repo.ListAdaptiveAlarmIDs(context.Background())

	require.NoError(t, err)
	assert.Equal(t, []string{"alarm-1", "alarm-2"}, ids)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSchedule_Success(t *testing.T) {
	db, mock, repo := setupMockAlarmDB(t)
	defer db.Close()

	next := time.Now().Add(8 * time.Hour)
	mock.ExpectExec(`UPDATE alarms`).
		WithArgs(-10, next, 25, "alarm-1", int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.UpdateSchedule(context.Background(), "alarm-1", -10, next, 25, 3)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSchedule_VersionConflict(t *testing.T) {
	db, mock, repo := setupMockAlarmDB(t)
	defer db.Close()

	next := time.Now()
	mock.ExpectExec(`UPDATE alarms`).
		WithArgs(-10, next, 25, "alarm-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("alarm-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	err := repo.UpdateSchedule(context.Background(), "alarm-1", -10, next, 25, 2)

	assert.ErrorIs(t, err, ErrVersionConflict)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateSchedule_AlarmDeleted(t *testing.T) {
	db, mock, repo := setupMockAlarmDB(t)
	defer db.Close()

	next := time.Now()
	mock.ExpectExec(`UPDATE alarms`).
		WithArgs(-10, next, 25, "alarm-1", int64(2)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`SELECT EXISTS`).
		WithArgs("alarm-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

	err := repo.UpdateSchedule(context.Background(), "alarm-1", -10, next, 25, 2)

	assert.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConditionScores(t *testing.T) {
	db, mock, repo := setupMockAlarmDB(t)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE alarm_conditions`).
		WithArgs(0.59, "cond-1", "alarm-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.UpdateConditionScores(context.Background(), "alarm-1", map[string]float64{"cond-1": 0.59})

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateConditionScores_Empty(t *testing.T) {
	db, mock, repo := setupMockAlarmDB(t)
	defer db.Close()

	// No scores means no transaction at all.
	err := repo.UpdateConditionScores(context.Background(), "alarm-1", nil)

	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}
