package models

import (
	"time"
)

// Condition types
const (
	ConditionWeather   = "weather"
	ConditionCalendar  = "calendar"
	ConditionSleepDebt = "sleep_debt"
	ConditionBehavior  = "behavior"
	ConditionEmergency = "emergency"
	ConditionCustom    = "custom"
)

// Predicate operators
const (
	OpEquals      = "equals"
	OpContains    = "contains"
	OpGreaterThan = "greater_than"
	OpLessThan    = "less_than"
	OpBetween     = "between"
)

// Alarm 闹钟记录（对应 alarms 表）
// Times of day are minutes after local midnight (0..1439).
type Alarm struct {
	AlarmID            string     `json:"alarm_id" db:"alarm_id"`
	OwnerID            string     `json:"owner_id" db:"owner_id"`
	Label              string     `json:"label" db:"label"`
	BaseMinutes        int        `json:"base_minutes" db:"base_minutes"`
	DaysOfWeek         []int      `json:"days_of_week" db:"days_of_week"` // 0=Sunday .. 6=Saturday
	Enabled            bool       `json:"enabled" db:"enabled"`
	SmartEnabled       bool       `json:"smart_enabled" db:"smart_enabled"`
	RealTimeAdaptation bool       `json:"real_time_adaptation" db:"real_time_adaptation"`
	DynamicWakeWindow  bool       `json:"dynamic_wake_window" db:"dynamic_wake_window"`
	WakeWindowMinutes  int        `json:"wake_window_minutes" db:"wake_window_minutes"`
	SleepPatternWeight float64    `json:"sleep_pattern_weight" db:"sleep_pattern_weight"` // [0,1]
	LearningFactor     float64    `json:"learning_factor" db:"learning_factor"`           // [0,1]
	NextDeltaMinutes   int        `json:"next_delta_minutes" db:"next_delta_minutes"`     // signed offset from base, |delta| <= window
	NextTriggerAt      *time.Time `json:"next_trigger_at,omitempty" db:"next_trigger_at"`
	NextOptimalTimes   []int      `json:"next_optimal_times,omitempty" db:"next_optimal_times"` // cached candidate minutes, JSONB
	Version            int64      `json:"version" db:"version"`                                 // optimistic concurrency token
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`

	Conditions []ConditionBasedAdjustment `json:"conditions,omitempty" db:"-"`
	Feedback   []WakeUpFeedback           `json:"feedback,omitempty" db:"-"`
}

// NextMinutes returns the effective trigger time as minutes after midnight,
// normalized into [0,1440).
func (a *Alarm) NextMinutes() int {
	m := (a.BaseMinutes + a.NextDeltaMinutes) % 1440
	if m < 0 {
		m += 1440
	}
	return m
}

// FiresOn reports whether the alarm is enabled for the given weekday.
func (a *Alarm) FiresOn(weekday time.Weekday) bool {
	for _, d := range a.DaysOfWeek {
		if d == int(weekday) {
			return true
		}
	}
	return false
}

// ConditionBasedAdjustment 条件调整规则（对应 alarm_conditions 表）
type ConditionBasedAdjustment struct {
	ConditionID        string     `json:"condition_id" db:"condition_id"`
	AlarmID            string     `json:"alarm_id" db:"alarm_id"`
	Type               string     `json:"type" db:"type" validate:"required,oneof=weather calendar sleep_debt behavior emergency custom"`
	Enabled            bool       `json:"enabled" db:"enabled"`
	Priority           int        `json:"priority" db:"priority" validate:"gte=1,lte=5"` // 5 = critical
	Predicate          Predicate  `json:"predicate" db:"predicate"`                      // JSONB
	Adjustment         Adjustment `json:"adjustment" db:"adjustment"`                    // JSONB
	EffectivenessScore float64    `json:"effectiveness_score" db:"effectiveness_score"`  // [0,1], written only by the feedback learner
	CreatedAt          time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt          time.Time  `json:"updated_at" db:"updated_at"`
}

// Predicate 条件谓词（JSONB 结构）
// Which fields are meaningful depends on the operator: equals/contains use
// Value, greater_than/less_than use Threshold, between uses Min and Max.
// Field selects a named custom signal for type "custom".
type Predicate struct {
	Operator  string   `json:"operator" validate:"required,oneof=equals contains greater_than less_than between"`
	Value     string   `json:"value,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Min       *float64 `json:"min,omitempty"`
	Max       *float64 `json:"max,omitempty"`
	Field     string   `json:"field,omitempty"`
}

// Adjustment 调整量（JSONB 结构）
// TimeMinutes is the signed delta (negative = earlier); MaxAdjustment is
// the absolute per-rule cap. |TimeMinutes| <= MaxAdjustment must hold.
type Adjustment struct {
	TimeMinutes   int    `json:"time_minutes" validate:"required"`
	MaxAdjustment int    `json:"max_adjustment" validate:"gte=0"`
	Reason        string `json:"reason"`
}

// AdaptationRecord 自适应调整审计记录（对应 adaptation_records 表）
// Appended whenever the adapter actually changes an alarm's trigger time.
type AdaptationRecord struct {
	RecordID     string    `json:"record_id" db:"record_id"`
	AlarmID      string    `json:"alarm_id" db:"alarm_id"`
	Date         string    `json:"date" db:"date"` // local date, "2006-01-02"
	OldMinutes   int       `json:"old_minutes" db:"old_minutes"`
	NewMinutes   int       `json:"new_minutes" db:"new_minutes"`
	DeltaMinutes int       `json:"delta_minutes" db:"delta_minutes"`
	ConditionIDs []string  `json:"condition_ids" db:"condition_ids"` // JSONB
	Confidence   float64   `json:"confidence" db:"confidence"`
	Emergency    bool      `json:"emergency" db:"emergency"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
}
