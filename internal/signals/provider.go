package signals

import (
	"context"
	"errors"

	"smartalarm/internal/models"
)

// ErrNoSignal 信号源当前没有数据（不是故障）
var ErrNoSignal = errors.New("no signal")

// WeatherProvider 天气信号源
type WeatherProvider interface {
	FetchWeather(ctx context.Context, ownerID string) (*models.WeatherSignal, error)
}

// CalendarProvider 日历信号源
type CalendarProvider interface {
	FetchCalendar(ctx context.Context, ownerID string) (*models.CalendarSignal, error)
}

// SleepDebtProvider 睡眠负债信号源
type SleepDebtProvider interface {
	FetchSleepDebt(ctx context.Context, ownerID string) (*models.SleepDebtSignal, error)
}

// BehaviorProvider 行为信号源
type BehaviorProvider interface {
	FetchBehavior(ctx context.Context, ownerID string) (*models.BehaviorSignal, error)
}

// EmergencyProvider 紧急覆盖信号源
type EmergencyProvider interface {
	FetchEmergency(ctx context.Context, ownerID string) (*models.EmergencySignal, error)
}

// CustomProvider 自定义命名信号源
type CustomProvider interface {
	FetchCustom(ctx context.Context, ownerID string) (map[string]float64, error)
}

// Providers 一次评估周期可用的全部信号源
// Nil fields are simply skipped; the engine degrades to "no signal" for
// that source.
type Providers struct {
	Weather   WeatherProvider
	Calendar  CalendarProvider
	SleepDebt SleepDebtProvider
	Behavior  BehaviorProvider
	Emergency EmergencyProvider
	Custom    CustomProvider
}
