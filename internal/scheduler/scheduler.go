package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"smartalarm/internal/evaluator"
	"smartalarm/internal/models"
	"smartalarm/internal/repository"
)

// AlarmStore 闹钟存储协作者
type AlarmStore interface {
	GetAlarm(ctx context.Context, alarmID string) (*models.Alarm, error)
	UpdateSchedule(ctx context.Context, alarmID string, nextDeltaMinutes int, nextTriggerAt time.Time, wakeWindowMinutes int, version int64) error
}

// FeedbackStore 反馈存储协作者
type FeedbackStore interface {
	ListFeedback(ctx context.Context, alarmID string, limit int) ([]models.WakeUpFeedback, error)
}

// AdaptationStore 调整审计存储协作者
type AdaptationStore interface {
	CreateRecord(ctx context.Context, rec *models.AdaptationRecord) error
}

// SignalCollector 信号采集协作者
type SignalCollector interface {
	Collect(ctx context.Context, ownerID string) *models.SignalBundle
}

// Options 调度器配置
type Options struct {
	WindowParams      evaluator.WindowParams
	CalendarLookahead time.Duration
	FeedbackLimit     int
	Now               func() time.Time // injectable clock, defaults to time.Now
}

// Scheduler 增强调度器
// Computes the next trigger time for one alarm from its condition rules
// and current signals, bounded by the wake window, and persists it.
type Scheduler struct {
	alarms      AlarmStore
	feedback    FeedbackStore
	adaptations AdaptationStore
	collector   SignalCollector
	opts        Options
	logger      *zap.Logger
}

// NewScheduler 创建增强调度器
func NewScheduler(
	alarms AlarmStore,
	feedback FeedbackStore,
	adaptations AdaptationStore,
	collector SignalCollector,
	opts Options,
	logger *zap.Logger,
) *Scheduler {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.FeedbackLimit <= 0 {
		opts.FeedbackLimit = 50
	}
	if opts.CalendarLookahead <= 0 {
		opts.CalendarLookahead = 12 * time.Hour
	}
	if opts.WindowParams.DefaultMinutes == 0 {
		opts.WindowParams = evaluator.DefaultWindowParams()
	}
	return &Scheduler{
		alarms:      alarms,
		feedback:    feedback,
		adaptations: adaptations,
		collector:   collector,
		opts:        opts,
		logger:      logger,
	}
}

// Plan 一次评估的计算结果（尚未持久化）
type Plan struct {
	Alarm            *models.Alarm
	NextDeltaMinutes int
	WindowMinutes    int
	Aggregate        evaluator.AggregateResult
	TimeChanged      bool // trigger time differs from the persisted one
	WindowChanged    bool
	Bypass           bool     // smart logic disabled; the reset is not subject to adaptation gates
	Malformed        []string // condition ids that could not be evaluated
	SignalFailures   []string // signal sources that failed this cycle
}

// Changed 本次评估是否产生了需要持久化的变化
func (p *Plan) Changed() bool {
	return p.TimeChanged || p.WindowChanged
}

// Evaluate 计算一个闹钟的下一次触发计划（无副作用）
// Storage failures propagate; a failing signal provider or malformed rule
// degrades to non-firing and is reported on the plan instead.
func (s *Scheduler) Evaluate(ctx context.Context, alarmID string) (*Plan, error) {
	alarm, err := s.alarms.GetAlarm(ctx, alarmID)
	if err != nil {
		return nil, fmt.Errorf("failed to load alarm: %w", err)
	}

	// Smart logic fully bypassed: the alarm rings at its base time. Any
	// residual adapted delta is reset unconditionally.
	if !alarm.SmartEnabled {
		return &Plan{
			Alarm:            alarm,
			NextDeltaMinutes: 0,
			WindowMinutes:    alarm.WakeWindowMinutes,
			TimeChanged:      alarm.NextDeltaMinutes != 0,
			Bypass:           true,
		}, nil
	}

	bundle := s.collector.Collect(ctx, alarm.OwnerID)

	evalOpts := evaluator.EvalOptions{
		Now:               s.opts.Now(),
		CalendarLookahead: s.opts.CalendarLookahead,
	}
	var (
		firings   []evaluator.Firing
		malformed []string
	)
	for _, cond := range alarm.Conditions {
		firing, fired, err := evaluator.EvaluateCondition(cond, bundle, evalOpts)
		if err != nil {
			// One bad rule must not break the alarm's scheduling.
			s.logger.Warn("Condition could not be evaluated",
				zap.String("alarm_id", alarm.AlarmID),
				zap.String("condition_id", cond.ConditionID),
				zap.Error(err),
			)
			malformed = append(malformed, cond.ConditionID)
			continue
		}
		if fired {
			firings = append(firings, firing)
		}
	}

	window := alarm.WakeWindowMinutes
	if alarm.DynamicWakeWindow {
		feedback, err := s.feedback.ListFeedback(ctx, alarm.AlarmID, s.opts.FeedbackLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load feedback: %w", err)
		}
		window = evaluator.ComputeWindow(feedback, alarm.SleepPatternWeight, s.opts.WindowParams)
	}

	agg := evaluator.Aggregate(firings, window)

	// The bounds invariant holds even for emergency deltas, which skip
	// the aggregator's cumulative clamp.
	delta := agg.NetDeltaMinutes
	if delta > window {
		delta = window
	} else if delta < -window {
		delta = -window
	}

	return &Plan{
		Alarm:            alarm,
		NextDeltaMinutes: delta,
		WindowMinutes:    window,
		Aggregate:        agg,
		TimeChanged:      delta != alarm.NextDeltaMinutes,
		WindowChanged:    window != alarm.WakeWindowMinutes,
		Malformed:        malformed,
		SignalFailures:   bundle.Failures,
	}, nil
}

// Commit 持久化评估计划
// Persists the new delta and window via compare-and-swap, and appends an
// AdaptationRecord only when the trigger time actually moved, so no-op
// runs leave the audit trail (and the daily ceiling) untouched.
func (s *Scheduler) Commit(ctx context.Context, plan *Plan) (*models.AdaptationRecord, error) {
	if !plan.Changed() {
		return nil, nil
	}
	alarm := plan.Alarm
	now := s.opts.Now()

	nextMinutes := normalizeMinutes(alarm.BaseMinutes + plan.NextDeltaMinutes)
	nextTriggerAt := NextOccurrence(now, nextMinutes, alarm.DaysOfWeek)

	err := s.alarms.UpdateSchedule(ctx, alarm.AlarmID, plan.NextDeltaMinutes, nextTriggerAt, plan.WindowMinutes, alarm.Version)
	if err != nil {
		return nil, fmt.Errorf("failed to persist schedule: %w", err)
	}

	if !plan.TimeChanged {
		return nil, nil
	}

	rec := &models.AdaptationRecord{
		RecordID:     uuid.New().String(),
		AlarmID:      alarm.AlarmID,
		Date:         now.Format("2006-01-02"),
		OldMinutes:   alarm.NextMinutes(),
		NewMinutes:   nextMinutes,
		DeltaMinutes: plan.NextDeltaMinutes - alarm.NextDeltaMinutes,
		ConditionIDs: plan.Aggregate.ContributingConditionIDs,
		Confidence:   plan.Aggregate.Confidence,
		Emergency:    plan.Aggregate.Emergency,
	}
	if err := s.adaptations.CreateRecord(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to append adaptation record: %w", err)
	}

	s.logger.Info("Alarm schedule adapted",
		zap.String("alarm_id", alarm.AlarmID),
		zap.Int("old_minutes", rec.OldMinutes),
		zap.Int("new_minutes", rec.NewMinutes),
		zap.Float64("confidence", rec.Confidence),
		zap.Bool("emergency", rec.Emergency),
	)
	return rec, nil
}

// ScheduleNext 评估并持久化一个闹钟的下一次触发
// Host-facing entry point without the adapter's confidence/ceiling gates.
// A version conflict means a concurrent write won; the evaluation is
// retried once against the fresh record.
func (s *Scheduler) ScheduleNext(ctx context.Context, alarmID string) (*Plan, *models.AdaptationRecord, error) {
	plan, err := s.Evaluate(ctx, alarmID)
	if err != nil {
		return nil, nil, err
	}
	rec, err := s.Commit(ctx, plan)
	if errors.Is(err, repository.ErrVersionConflict) {
		plan, err = s.Evaluate(ctx, alarmID)
		if err != nil {
			return nil, nil, err
		}
		rec, err = s.Commit(ctx, plan)
	}
	if err != nil {
		return nil, nil, err
	}
	return plan, rec, nil
}

// NextOccurrence 计算某个时刻之后下一次命中 minutes 与 daysOfWeek 的时间
// An empty daysOfWeek means every day.
func NextOccurrence(now time.Time, minutes int, daysOfWeek []int) time.Time {
	fires := func(wd time.Weekday) bool {
		if len(daysOfWeek) == 0 {
			return true
		}
		for _, d := range daysOfWeek {
			if d == int(wd) {
				return true
			}
		}
		return false
	}

	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	for i := 0; i < 8; i++ {
		candidate := day.AddDate(0, 0, i).Add(time.Duration(minutes) * time.Minute)
		if candidate.After(now) && fires(candidate.Weekday()) {
			return candidate
		}
	}
	// Unreachable with a sane daysOfWeek; fall back to tomorrow.
	return day.AddDate(0, 0, 1).Add(time.Duration(minutes) * time.Minute)
}

func normalizeMinutes(m int) int {
	m %= 1440
	if m < 0 {
		m += 1440
	}
	return m
}
