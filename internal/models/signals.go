package models

import (
	"time"
)

// Signal source names（信号源标识，用于缓存键和诊断）
const (
	SourceWeather   = "weather"
	SourceCalendar  = "calendar"
	SourceSleepDebt = "sleep_debt"
	SourceBehavior  = "behavior"
	SourceEmergency = "emergency"
	SourceCustom    = "custom"
)

// WeatherSignal 天气信号（宿主推送的快照）
type WeatherSignal struct {
	Condition    string  `json:"condition"` // e.g. "clear", "rain", "snow", "storm"
	TemperatureC float64 `json:"temperature_c"`
	Severity     float64 `json:"severity"` // 0..1
	Timestamp    int64   `json:"timestamp"`
}

// CalendarEvent 日历事件
type CalendarEvent struct {
	Title    string    `json:"title"`
	StartsAt time.Time `json:"starts_at"`
}

// CalendarSignal 日历信号（未来若干小时内的事件）
type CalendarSignal struct {
	Events    []CalendarEvent `json:"events"`
	Timestamp int64           `json:"timestamp"`
}

// EventsWithin 返回从 now 开始 lookahead 时间内开始的事件
func (c *CalendarSignal) EventsWithin(now time.Time, lookahead time.Duration) []CalendarEvent {
	var out []CalendarEvent
	horizon := now.Add(lookahead)
	for _, ev := range c.Events {
		if !ev.StartsAt.Before(now) && ev.StartsAt.Before(horizon) {
			out = append(out, ev)
		}
	}
	return out
}

// SleepDebtSignal 累计睡眠负债信号
type SleepDebtSignal struct {
	DebtMinutes float64 `json:"debt_minutes"`
	Timestamp   int64   `json:"timestamp"`
}

// BehaviorSignal 行为信号（近期反馈衍生的滚动指标）
type BehaviorSignal struct {
	WakeStruggle float64 `json:"wake_struggle"` // 0..1, higher = user struggling to wake
	AvgWakeDelay float64 `json:"avg_wake_delay"`
	Timestamp    int64   `json:"timestamp"`
}

// EmergencySignal 紧急覆盖信号
type EmergencySignal struct {
	Active    bool   `json:"active"`
	Reason    string `json:"reason,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// SignalBundle 一次评估周期采集到的全部信号
// A nil field means that source had no data this cycle (provider missing,
// timed out or errored); Failures lists the sources that failed.
type SignalBundle struct {
	Weather   *WeatherSignal
	Calendar  *CalendarSignal
	SleepDebt *SleepDebtSignal
	Behavior  *BehaviorSignal
	Emergency *EmergencySignal
	Custom    map[string]float64
	Failures  []string
}
