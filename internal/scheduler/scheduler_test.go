package scheduler

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"smartalarm/internal/models"
	"smartalarm/internal/repository"
)

type updateCall struct {
	delta   int
	window  int
	version int64
}

type fakeAlarmStore struct {
	alarm        *models.Alarm
	getErr       error
	updateErr    error
	conflictOnce bool
	updates      []updateCall
}

func (f *fakeAlarmStore) GetAlarm(ctx context.Context, alarmID string) (*models.Alarm, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	a := *f.alarm
	return &a, nil
}

func (f *fakeAlarmStore) UpdateSchedule(ctx context.Context, alarmID string, delta int, nextTriggerAt time.Time, window int, version int64) error {
	if f.conflictOnce {
		f.conflictOnce = false
		f.alarm.Version++
		return fmt.Errorf("stale write: %w", repository.ErrVersionConflict)
	}
	if f.updateErr != nil {
		return f.updateErr
	}
	f.updates = append(f.updates, updateCall{delta: delta, window: window, version: version})
	f.alarm.NextDeltaMinutes = delta
	f.alarm.WakeWindowMinutes = window
	f.alarm.NextTriggerAt = &nextTriggerAt
	f.alarm.Version++
	return nil
}

type fakeFeedbackStore struct {
	feedback []models.WakeUpFeedback
}

func (f *fakeFeedbackStore) ListFeedback(ctx context.Context, alarmID string, limit int) ([]models.WakeUpFeedback, error) {
	return f.feedback, nil
}

type fakeAdaptationStore struct {
	records []*models.AdaptationRecord
}

func (f *fakeAdaptationStore) CreateRecord(ctx context.Context, rec *models.AdaptationRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeCollector struct {
	bundle *models.SignalBundle
}

func (f *fakeCollector) Collect(ctx context.Context, ownerID string) *models.SignalBundle {
	if f.bundle == nil {
		return &models.SignalBundle{}
	}
	return f.bundle
}

func baseAlarm() *models.Alarm {
	return &models.Alarm{
		AlarmID:            "alarm-1",
		OwnerID:            "user-1",
		BaseMinutes:        420, // 07:00
		DaysOfWeek:         []int{1, 2, 3, 4, 5},
		Enabled:            true,
		SmartEnabled:       true,
		RealTimeAdaptation: true,
		WakeWindowMinutes:  30,
		SleepPatternWeight: 0.7,
		LearningFactor:     0.3,
		Version:            1,
	}
}

func rainCondition(id string, delta, maxAdj, priority int, score float64) models.ConditionBasedAdjustment {
	return models.ConditionBasedAdjustment{
		ConditionID:        id,
		Type:               models.ConditionWeather,
		Enabled:            true,
		Priority:           priority,
		Predicate:          models.Predicate{Operator: models.OpContains, Value: "rain"},
		Adjustment:         models.Adjustment{TimeMinutes: delta, MaxAdjustment: maxAdj, Reason: "rain"},
		EffectivenessScore: score,
	}
}

func newTestScheduler(alarms *fakeAlarmStore, collector *fakeCollector, fb *fakeFeedbackStore, ad *fakeAdaptationStore) *Scheduler {
	now := time.Date(2026, 8, 26, 5, 0, 0, 0, time.UTC) // Wednesday
	return NewScheduler(alarms, fb, ad, collector, Options{
		Now: func() time.Time { return now },
	}, zap.NewNop())
}

func TestScheduleNext_ScenarioA(t *testing.T) {
	// Base 07:00, window 30, one weather condition -10/cap 20 fires.
	alarm := baseAlarm()
	alarm.Conditions = []models.ConditionBasedAdjustment{rainCondition("w1", -10, 20, 3, 0.7)}
	alarms := &fakeAlarmStore{alarm: alarm}
	ad := &fakeAdaptationStore{}
	s := newTestScheduler(alarms, &fakeCollector{bundle: &models.SignalBundle{
		Weather: &models.WeatherSignal{Condition: "rain"},
	}}, &fakeFeedbackStore{}, ad)

	plan, rec, err := s.ScheduleNext(context.Background(), "alarm-1")

	require.NoError(t, err)
	assert.Equal(t, -10, plan.NextDeltaMinutes)
	assert.Equal(t, 410, alarm.NextMinutes()) // 06:50
	require.NotNil(t, rec)
	assert.Equal(t, 420, rec.OldMinutes)
	assert.Equal(t, 410, rec.NewMinutes)
	assert.Equal(t, []string{"w1"}, rec.ConditionIDs)
}

func TestScheduleNext_ScenarioB_WindowClampsSum(t *testing.T) {
	// Deltas -10 and -25, window 30: summed to -35, truncated to -30.
	alarm := baseAlarm()
	alarm.Conditions = []models.ConditionBasedAdjustment{
		rainCondition("a", -10, 20, 3, 0.6),
		rainCondition("b", -25, 30, 3, 0.5),
	}
	alarms := &fakeAlarmStore{alarm: alarm}
	s := newTestScheduler(alarms, &fakeCollector{bundle: &models.SignalBundle{
		Weather: &models.WeatherSignal{Condition: "rain"},
	}}, &fakeFeedbackStore{}, &fakeAdaptationStore{})

	plan, _, err := s.ScheduleNext(context.Background(), "alarm-1")

	require.NoError(t, err)
	assert.Equal(t, -30, plan.NextDeltaMinutes)
	assert.Equal(t, 390, alarm.NextMinutes()) // 06:30
}

func TestScheduleNext_NoOpIsIdempotent(t *testing.T) {
	alarm := baseAlarm()
	alarm.Conditions = []models.ConditionBasedAdjustment{rainCondition("w1", -10, 20, 3, 0.7)}
	alarms := &fakeAlarmStore{alarm: alarm}
	ad := &fakeAdaptationStore{}
	s := newTestScheduler(alarms, &fakeCollector{bundle: &models.SignalBundle{
		Weather: &models.WeatherSignal{Condition: "rain"},
	}}, &fakeFeedbackStore{}, ad)

	_, rec1, err := s.ScheduleNext(context.Background(), "alarm-1")
	require.NoError(t, err)
	require.NotNil(t, rec1)

	// Same signals, second run: same time, no new record, no new write.
	plan2, rec2, err := s.ScheduleNext(context.Background(), "alarm-1")
	require.NoError(t, err)
	assert.Nil(t, rec2)
	assert.False(t, plan2.Changed())
	assert.Len(t, ad.records, 1)
	assert.Len(t, alarms.updates, 1)
}

func TestScheduleNext_SmartDisabledBypassesEverything(t *testing.T) {
	alarm := baseAlarm()
	alarm.SmartEnabled = false
	alarm.NextDeltaMinutes = -15 // left over from when smart was on
	alarm.Conditions = []models.ConditionBasedAdjustment{rainCondition("w1", -10, 20, 3, 0.7)}
	alarms := &fakeAlarmStore{alarm: alarm}
	s := newTestScheduler(alarms, &fakeCollector{bundle: &models.SignalBundle{
		Weather: &models.WeatherSignal{Condition: "rain"},
	}}, &fakeFeedbackStore{}, &fakeAdaptationStore{})

	plan, _, err := s.ScheduleNext(context.Background(), "alarm-1")

	require.NoError(t, err)
	assert.Equal(t, 0, plan.NextDeltaMinutes)
	assert.Equal(t, 420, alarm.NextMinutes())
	// The reset is flagged as a bypass so downstream gates cannot hold it.
	assert.True(t, plan.Bypass)
}

func TestScheduleNext_StorageErrorPropagates(t *testing.T) {
	alarms := &fakeAlarmStore{getErr: errors.New("connection refused")}
	s := newTestScheduler(alarms, &fakeCollector{}, &fakeFeedbackStore{}, &fakeAdaptationStore{})

	_, _, err := s.ScheduleNext(context.Background(), "alarm-1")

	assert.Error(t, err)
}

func TestScheduleNext_MalformedConditionDegrades(t *testing.T) {
	alarm := baseAlarm()
	broken := rainCondition("bad", -10, 20, 5, 0.9)
	broken.Predicate.Operator = "regex"
	alarm.Conditions = []models.ConditionBasedAdjustment{
		broken,
		rainCondition("ok", -5, 20, 3, 0.7),
	}
	alarms := &fakeAlarmStore{alarm: alarm}
	s := newTestScheduler(alarms, &fakeCollector{bundle: &models.SignalBundle{
		Weather: &models.WeatherSignal{Condition: "rain"},
	}}, &fakeFeedbackStore{}, &fakeAdaptationStore{})

	plan, _, err := s.ScheduleNext(context.Background(), "alarm-1")

	require.NoError(t, err)
	assert.Equal(t, -5, plan.NextDeltaMinutes)
	assert.Equal(t, []string{"bad"}, plan.Malformed)
}

func TestScheduleNext_DynamicWindowRecomputed(t *testing.T) {
	alarm := baseAlarm()
	alarm.DynamicWakeWindow = true
	fb := make([]models.WakeUpFeedback, 7)
	for i := range fb {
		fb[i] = models.WakeUpFeedback{OriginalMinutes: 420, ActualWakeMinutes: 425}
	}
	alarms := &fakeAlarmStore{alarm: alarm}
	s := newTestScheduler(alarms, &fakeCollector{}, &fakeFeedbackStore{feedback: fb}, &fakeAdaptationStore{})

	plan, _, err := s.ScheduleNext(context.Background(), "alarm-1")

	require.NoError(t, err)
	// Perfectly consistent sleeper: 0.7*5 + 0.3*30 = 12.5 -> 13.
	assert.Equal(t, 13, plan.WindowMinutes)
	assert.True(t, plan.WindowChanged)
	assert.Equal(t, 13, alarm.WakeWindowMinutes)
}

func TestScheduleNext_EmergencyClampedToWindow(t *testing.T) {
	alarm := baseAlarm()
	alarm.Conditions = []models.ConditionBasedAdjustment{{
		ConditionID:        "e1",
		Type:               models.ConditionEmergency,
		Enabled:            true,
		Priority:           5,
		Adjustment:         models.Adjustment{TimeMinutes: -55, MaxAdjustment: 60},
		EffectivenessScore: 0.5,
	}}
	alarms := &fakeAlarmStore{alarm: alarm}
	s := newTestScheduler(alarms, &fakeCollector{bundle: &models.SignalBundle{
		Emergency: &models.EmergencySignal{Active: true},
	}}, &fakeFeedbackStore{}, &fakeAdaptationStore{})

	plan, rec, err := s.ScheduleNext(context.Background(), "alarm-1")

	require.NoError(t, err)
	assert.True(t, plan.Aggregate.Emergency)
	// |next - base| <= window even for emergencies.
	assert.Equal(t, -30, plan.NextDeltaMinutes)
	require.NotNil(t, rec)
	assert.True(t, rec.Emergency)
}

func TestScheduleNext_VersionConflictRetriesOnce(t *testing.T) {
	alarm := baseAlarm()
	alarm.Conditions = []models.ConditionBasedAdjustment{rainCondition("w1", -10, 20, 3, 0.7)}
	alarms := &fakeAlarmStore{alarm: alarm, conflictOnce: true}
	s := newTestScheduler(alarms, &fakeCollector{bundle: &models.SignalBundle{
		Weather: &models.WeatherSignal{Condition: "rain"},
	}}, &fakeFeedbackStore{}, &fakeAdaptationStore{})

	plan, rec, err := s.ScheduleNext(context.Background(), "alarm-1")

	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, -10, plan.NextDeltaMinutes)
	require.Len(t, alarms.updates, 1)
	// Retried with the bumped version.
	assert.Equal(t, int64(2), alarms.updates[0].version)
}

func TestNextOccurrence(t *testing.T) {
	// Wednesday 2026-08-26 05:00 UTC.
	now := time.Date(2026, 8, 26, 5, 0, 0, 0, time.UTC)

	// 06:50 today is still ahead.
	next := NextOccurrence(now, 410, []int{1, 2, 3, 4, 5})
	assert.Equal(t, time.Date(2026, 8, 26, 6, 50, 0, 0, time.UTC), next)

	// 04:00 already passed; weekday alarm rolls to Thursday.
	next = NextOccurrence(now, 240, []int{1, 2, 3, 4, 5})
	assert.Equal(t, time.Date(2026, 8, 27, 4, 0, 0, 0, time.UTC), next)

	// Saturday-only alarm waits for Saturday.
	next = NextOccurrence(now, 480, []int{6})
	assert.Equal(t, time.Date(2026, 8, 29, 8, 0, 0, 0, time.UTC), next)

	// Empty days: every day.
	next = NextOccurrence(now, 240, nil)
	assert.Equal(t, time.Date(2026, 8, 27, 4, 0, 0, 0, time.UTC), next)
}
