package repository

import (
	"context"
	"database/sql"
	"fmt"

	"go.uber.org/zap"

	"smartalarm/internal/models"
)

// FeedbackRepository 起床反馈仓库（append-only）
type FeedbackRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewFeedbackRepository 创建反馈仓库
func NewFeedbackRepository(db *sql.DB, logger *zap.Logger) *FeedbackRepository {
	return &FeedbackRepository{
		db:     db,
		logger: logger,
	}
}

// CreateFeedback 追加一条反馈
func (r *FeedbackRepository) CreateFeedback(ctx context.Context, fb *models.WakeUpFeedback) error {
	if fb.AlarmID == "" {
		return fmt.Errorf("alarm_id is required")
	}
	if fb.FeedbackID == "" {
		return fmt.Errorf("feedback_id is required")
	}

	query := `
		INSERT INTO wakeup_feedback (
			feedback_id, alarm_id, date, original_minutes, actual_wake_minutes,
			difficulty, feeling, sleep_quality, time_to_fully_awake,
			would_prefer_earlier, would_prefer_later, notes, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, NOW())`

	_, err := r.db.ExecContext(ctx, query,
		fb.FeedbackID, fb.AlarmID, fb.Date, fb.OriginalMinutes, fb.ActualWakeMinutes,
		fb.Difficulty, fb.Feeling, fb.SleepQuality, fb.TimeToFullyAwake,
		fb.WouldPreferEarlier, fb.WouldPreferLater, fb.Notes,
	)
	if err != nil {
		return fmt.Errorf("failed to create feedback: %w", err)
	}
	return nil
}

// ListFeedback 按时间升序列出闹钟的反馈（最多 limit 条最近记录）
func (r *FeedbackRepository) ListFeedback(ctx context.Context, alarmID string, limit int) ([]models.WakeUpFeedback, error) {
	if alarmID == "" {
		return nil, fmt.Errorf("alarm_id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT feedback_id, alarm_id, date, original_minutes, actual_wake_minutes,
		       difficulty, feeling, sleep_quality, time_to_fully_awake,
		       would_prefer_earlier, would_prefer_later, notes, created_at
		FROM (
			SELECT * FROM wakeup_feedback
			WHERE alarm_id = $1
			ORDER BY date DESC, created_at DESC
			LIMIT $2
		) recent
		ORDER BY date ASC, created_at ASC`

	rows, err := r.db.QueryContext(ctx, query, alarmID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list feedback: %w", err)
	}
	defer rows.Close()

	var feedback []models.WakeUpFeedback
	for rows.Next() {
		var fb models.WakeUpFeedback
		if err := rows.Scan(
			&fb.FeedbackID, &fb.AlarmID, &fb.Date, &fb.OriginalMinutes, &fb.ActualWakeMinutes,
			&fb.Difficulty, &fb.Feeling, &fb.SleepQuality, &fb.TimeToFullyAwake,
			&fb.WouldPreferEarlier, &fb.WouldPreferLater, &fb.Notes, &fb.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan feedback: %w", err)
		}
		feedback = append(feedback, fb)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate feedback: %w", err)
	}
	return feedback, nil
}
