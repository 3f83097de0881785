package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"smartalarm/internal/models"
)

var (
	// ErrNotFound 闹钟不存在
	ErrNotFound = errors.New("alarm not found")
	// ErrVersionConflict 乐观并发冲突（持久化记录已被更新的写入覆盖）
	ErrVersionConflict = errors.New("alarm version conflict")
)

// AlarmRepository 闹钟仓库
type AlarmRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlarmRepository 创建闹钟仓库
func NewAlarmRepository(db *sql.DB, logger *zap.Logger) *AlarmRepository {
	return &AlarmRepository{
		db:     db,
		logger: logger,
	}
}

// GetAlarm 按 ID 获取闹钟（含条件规则与近期反馈）
func (r *AlarmRepository) GetAlarm(ctx context.Context, alarmID string) (*models.Alarm, error) {
	if alarmID == "" {
		return nil, fmt.Errorf("alarm_id is required")
	}

	query := `
		SELECT alarm_id, owner_id, label, base_minutes, days_of_week,
		       enabled, smart_enabled, real_time_adaptation, dynamic_wake_window,
		       wake_window_minutes, sleep_pattern_weight, learning_factor,
		       next_delta_minutes, next_trigger_at, next_optimal_times,
		       version, created_at, updated_at
		FROM alarms
		WHERE alarm_id = $1`

	var (
		alarm         models.Alarm
		daysJSON      []byte
		optimalJSON   []byte
		nextTriggerAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, query, alarmID).Scan(
		&alarm.AlarmID, &alarm.OwnerID, &alarm.Label, &alarm.BaseMinutes, &daysJSON,
		&alarm.Enabled, &alarm.SmartEnabled, &alarm.RealTimeAdaptation, &alarm.DynamicWakeWindow,
		&alarm.WakeWindowMinutes, &alarm.SleepPatternWeight, &alarm.LearningFactor,
		&alarm.NextDeltaMinutes, &nextTriggerAt, &optimalJSON,
		&alarm.Version, &alarm.CreatedAt, &alarm.UpdatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, alarmID)
		}
		return nil, fmt.Errorf("failed to get alarm: %w", err)
	}

	if len(daysJSON) > 0 {
		if err := json.Unmarshal(daysJSON, &alarm.DaysOfWeek); err != nil {
			return nil, fmt.Errorf("failed to unmarshal days_of_week: %w", err)
		}
	}
	if len(optimalJSON) > 0 {
		if err := json.Unmarshal(optimalJSON, &alarm.NextOptimalTimes); err != nil {
			return nil, fmt.Errorf("failed to unmarshal next_optimal_times: %w", err)
		}
	}
	if nextTriggerAt.Valid {
		alarm.NextTriggerAt = &nextTriggerAt.Time
	}

	conditions, err := r.getConditions(ctx, alarmID)
	if err != nil {
		return nil, err
	}
	alarm.Conditions = conditions

	return &alarm, nil
}

// ListAdaptiveAlarmIDs 列出启用实时自适应的闹钟 ID
func (r *AlarmRepository) ListAdaptiveAlarmIDs(ctx context.Context) ([]string, error) {
	query := `
		SELECT alarm_id
		FROM alarms
		WHERE enabled = true AND real_time_adaptation = true
		ORDER BY alarm_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list adaptive alarms: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan alarm_id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alarms: %w", err)
	}
	return ids, nil
}

// UpdateSchedule 持久化新的触发时间与窗口（compare-and-swap）
// The version column guards against a late-finishing evaluation
// overwriting a more recent write.
func (r *AlarmRepository) UpdateSchedule(ctx context.Context, alarmID string, nextDeltaMinutes int, nextTriggerAt time.Time, wakeWindowMinutes int, version int64) error {
	if alarmID == "" {
		return fmt.Errorf("alarm_id is required")
	}

	query := `
		UPDATE alarms
		SET next_delta_minutes = $1,
		    next_trigger_at = $2,
		    wake_window_minutes = $3,
		    version = version + 1,
		    updated_at = NOW()
		WHERE alarm_id = $4 AND version = $5`

	result, err := r.db.ExecContext(ctx, query, nextDeltaMinutes, nextTriggerAt, wakeWindowMinutes, alarmID, version)
	if err != nil {
		return fmt.Errorf("failed to update alarm schedule: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		// Either the alarm is gone or a newer write bumped the version.
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM alarms WHERE alarm_id = $1)`, alarmID).Scan(&exists); err != nil {
			return fmt.Errorf("failed to check alarm existence: %w", err)
		}
		if !exists {
			return fmt.Errorf("%w: %s", ErrNotFound, alarmID)
		}
		return fmt.Errorf("%w: %s", ErrVersionConflict, alarmID)
	}
	return nil
}

// UpdateConditionScores 持久化反馈学习器计算出的新有效性得分
func (r *AlarmRepository) UpdateConditionScores(ctx context.Context, alarmID string, scores map[string]float64) error {
	if alarmID == "" {
		return fmt.Errorf("alarm_id is required")
	}
	if len(scores) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
		UPDATE alarm_conditions
		SET effectiveness_score = $1, updated_at = NOW()
		WHERE condition_id = $2 AND alarm_id = $3`

	for conditionID, score := range scores {
		if _, err := tx.ExecContext(ctx, query, score, conditionID, alarmID); err != nil {
			return fmt.Errorf("failed to update condition score %s: %w", conditionID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit condition scores: %w", err)
	}
	return nil
}

// getConditions 获取闹钟的全部条件规则（按 ID 排序保证确定性）
func (r *AlarmRepository) getConditions(ctx context.Context, alarmID string) ([]models.ConditionBasedAdjustment, error) {
	query := `
		SELECT condition_id, alarm_id, type, enabled, priority,
		       predicate, adjustment, effectiveness_score, created_at, updated_at
		FROM alarm_conditions
		WHERE alarm_id = $1
		ORDER BY condition_id`

	rows, err := r.db.QueryContext(ctx, query, alarmID)
	if err != nil {
		return nil, fmt.Errorf("failed to get alarm conditions: %w", err)
	}
	defer rows.Close()

	var conditions []models.ConditionBasedAdjustment
	for rows.Next() {
		var (
			cond           models.ConditionBasedAdjustment
			predicateJSON  []byte
			adjustmentJSON []byte
		)
		if err := rows.Scan(
			&cond.ConditionID, &cond.AlarmID, &cond.Type, &cond.Enabled, &cond.Priority,
			&predicateJSON, &adjustmentJSON, &cond.EffectivenessScore, &cond.CreatedAt, &cond.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan condition: %w", err)
		}
		if err := json.Unmarshal(predicateJSON, &cond.Predicate); err != nil {
			return nil, fmt.Errorf("failed to unmarshal predicate: %w", err)
		}
		if err := json.Unmarshal(adjustmentJSON, &cond.Adjustment); err != nil {
			return nil, fmt.Errorf("failed to unmarshal adjustment: %w", err)
		}
		conditions = append(conditions, cond)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate conditions: %w", err)
	}
	return conditions, nil
}
