package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"smartalarm/internal/models"
)

// AdaptationRepository 自适应调整审计仓库（append-only）
type AdaptationRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAdaptationRepository 创建审计仓库
func NewAdaptationRepository(db *sql.DB, logger *zap.Logger) *AdaptationRepository {
	return &AdaptationRepository{
		db:     db,
		logger: logger,
	}
}

// CreateRecord 追加一条调整记录
func (r *AdaptationRepository) CreateRecord(ctx context.Context, rec *models.AdaptationRecord) error {
	if rec.AlarmID == "" {
		return fmt.Errorf("alarm_id is required")
	}
	if rec.RecordID == "" {
		return fmt.Errorf("record_id is required")
	}

	idsJSON, err := json.Marshal(rec.ConditionIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal condition_ids: %w", err)
	}

	query := `
		INSERT INTO adaptation_records (
			record_id, alarm_id, date, old_minutes, new_minutes,
			delta_minutes, condition_ids, confidence, emergency, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())`

	_, err = r.db.ExecContext(ctx, query,
		rec.RecordID, rec.AlarmID, rec.Date, rec.OldMinutes, rec.NewMinutes,
		rec.DeltaMinutes, idsJSON, rec.Confidence, rec.Emergency,
	)
	if err != nil {
		return fmt.Errorf("failed to create adaptation record: %w", err)
	}
	return nil
}

// CountAppliedOnDate 统计某闹钟在某天已应用的非紧急调整次数
// Used for the daily ceiling; emergency overrides never consume it.
func (r *AdaptationRepository) CountAppliedOnDate(ctx context.Context, alarmID, date string) (int, error) {
	if alarmID == "" {
		return 0, fmt.Errorf("alarm_id is required")
	}

	query := `
		SELECT COUNT(*)
		FROM adaptation_records
		WHERE alarm_id = $1 AND date = $2 AND emergency = false`

	var count int
	if err := r.db.QueryRowContext(ctx, query, alarmID, date).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count adaptations: %w", err)
	}
	return count, nil
}

// LatestOnDate 获取某闹钟在某天的最新调整记录
// Returns (nil, nil) when the day had no adaptation.
func (r *AdaptationRepository) LatestOnDate(ctx context.Context, alarmID, date string) (*models.AdaptationRecord, error) {
	if alarmID == "" {
		return nil, fmt.Errorf("alarm_id is required")
	}

	query := `
		SELECT record_id, alarm_id, date, old_minutes, new_minutes,
		       delta_minutes, condition_ids, confidence, emergency, created_at
		FROM adaptation_records
		WHERE alarm_id = $1 AND date = $2
		ORDER BY created_at DESC
		LIMIT 1`

	rec, err := r.scanRecord(r.db.QueryRowContext(ctx, query, alarmID, date))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return rec, nil
}

// ListForAlarm 按时间降序列出某闹钟的调整记录
func (r *AdaptationRepository) ListForAlarm(ctx context.Context, alarmID string, limit int) ([]models.AdaptationRecord, error) {
	if alarmID == "" {
		return nil, fmt.Errorf("alarm_id is required")
	}
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT record_id, alarm_id, date, old_minutes, new_minutes,
		       delta_minutes, condition_ids, confidence, emergency, created_at
		FROM adaptation_records
		WHERE alarm_id = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryContext(ctx, query, alarmID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list adaptation records: %w", err)
	}
	defer rows.Close()

	var records []models.AdaptationRecord
	for rows.Next() {
		rec, err := r.scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate adaptation records: %w", err)
	}
	return records, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *AdaptationRepository) scanRecord(row rowScanner) (*models.AdaptationRecord, error) {
	var (
		rec     models.AdaptationRecord
		idsJSON []byte
	)
	err := row.Scan(
		&rec.RecordID, &rec.AlarmID, &rec.Date, &rec.OldMinutes, &rec.NewMinutes,
		&rec.DeltaMinutes, &idsJSON, &rec.Confidence, &rec.Emergency, &rec.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan adaptation record: %w", err)
	}
	if len(idsJSON) > 0 {
		if err := json.Unmarshal(idsJSON, &rec.ConditionIDs); err != nil {
			return nil, fmt.Errorf("failed to unmarshal condition_ids: %w", err)
		}
	}
	return &rec, nil
}
