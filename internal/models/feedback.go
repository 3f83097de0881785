package models

import (
	"time"
)

// Difficulty ordinals（起床难度，从易到难）
const (
	DifficultyVeryEasy = "very_easy"
	DifficultyEasy     = "easy"
	DifficultyNormal   = "normal"
	DifficultyHard     = "hard"
	DifficultyVeryHard = "very_hard"
)

// Feeling ordinals（醒来感受，从差到好）
const (
	FeelingTerrible  = "terrible"
	FeelingBad       = "bad"
	FeelingOkay      = "okay"
	FeelingGood      = "good"
	FeelingExcellent = "excellent"
)

// WakeUpFeedback 起床反馈（对应 wakeup_feedback 表）
// Immutable once created; append-only per alarm.
type WakeUpFeedback struct {
	FeedbackID         string    `json:"feedback_id" db:"feedback_id"`
	AlarmID            string    `json:"alarm_id" db:"alarm_id"`
	Date               string    `json:"date" db:"date" validate:"required,datetime=2006-01-02"` // local date
	OriginalMinutes    int       `json:"original_minutes" db:"original_minutes" validate:"gte=0,lt=1440"`
	ActualWakeMinutes  int       `json:"actual_wake_minutes" db:"actual_wake_minutes" validate:"gte=0,lt=1440"`
	Difficulty         string    `json:"difficulty" db:"difficulty" validate:"required,oneof=very_easy easy normal hard very_hard"`
	Feeling            string    `json:"feeling" db:"feeling" validate:"required,oneof=terrible bad okay good excellent"`
	SleepQuality       int       `json:"sleep_quality" db:"sleep_quality" validate:"gte=0,lte=10"`
	TimeToFullyAwake   int       `json:"time_to_fully_awake" db:"time_to_fully_awake" validate:"gte=0"` // minutes
	WouldPreferEarlier bool      `json:"would_prefer_earlier" db:"would_prefer_earlier"`
	WouldPreferLater   bool      `json:"would_prefer_later" db:"would_prefer_later"`
	Notes              *string   `json:"notes,omitempty" db:"notes"`
	CreatedAt          time.Time `json:"created_at" db:"created_at"`
}

// WakeDeltaMinutes 实际起床时间与原定时间的差值（分钟）
// Wraps around midnight so a 23:50 alarm answered at 00:05 yields +15,
// not -1425.
func (f *WakeUpFeedback) WakeDeltaMinutes() int {
	d := f.ActualWakeMinutes - f.OriginalMinutes
	if d > 720 {
		d -= 1440
	} else if d < -720 {
		d += 1440
	}
	return d
}
