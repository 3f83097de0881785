package evaluator

import (
	"fmt"
	"time"

	"smartalarm/internal/models"
)

// Firing 单条规则的命中结果
type Firing struct {
	ConditionID   string
	Type          string
	DeltaMinutes  int // already clamped to ±MaxAdjustment
	Priority      int
	Effectiveness float64
	Reason        string
}

// EvalOptions 单次评估的上下文参数
type EvalOptions struct {
	Now               time.Time
	CalendarLookahead time.Duration
}

// EvaluateCondition 评估单条调整规则
// Returns (firing, true) when the rule fires. A missing signal for the
// rule's type means the rule does not fire; a malformed rule (unknown type
// or operator, missing predicate fields) returns an error so the caller
// can flag it, but is otherwise treated the same as non-firing.
func EvaluateCondition(cond models.ConditionBasedAdjustment, sig *models.SignalBundle, opts EvalOptions) (Firing, bool, error) {
	if !cond.Enabled || sig == nil {
		return Firing{}, false, nil
	}

	var (
		fired bool
		err   error
	)

	switch cond.Type {
	case models.ConditionWeather:
		fired, err = evalWeather(cond.Predicate, sig.Weather)
	case models.ConditionCalendar:
		fired, err = evalCalendar(cond.Predicate, sig.Calendar, opts)
	case models.ConditionSleepDebt:
		if sig.SleepDebt != nil {
			fired, err = evalNumeric(cond.Predicate, sig.SleepDebt.DebtMinutes)
		}
	case models.ConditionBehavior:
		if sig.Behavior != nil {
			fired, err = evalNumeric(cond.Predicate, sig.Behavior.WakeStruggle)
		}
	case models.ConditionEmergency:
		// Fires on the explicit override flag; the predicate is not consulted.
		fired = sig.Emergency != nil && sig.Emergency.Active
	case models.ConditionCustom:
		fired, err = evalCustom(cond.Predicate, sig.Custom)
	default:
		return Firing{}, false, fmt.Errorf("unknown condition type: %s", cond.Type)
	}

	if err != nil {
		return Firing{}, false, fmt.Errorf("condition %s: %w", cond.ConditionID, err)
	}
	if !fired {
		return Firing{}, false, nil
	}

	return Firing{
		ConditionID:   cond.ConditionID,
		Type:          cond.Type,
		DeltaMinutes:  clampDelta(cond.Adjustment.TimeMinutes, cond.Adjustment.MaxAdjustment),
		Priority:      cond.Priority,
		Effectiveness: cond.EffectivenessScore,
		Reason:        cond.Adjustment.Reason,
	}, true, nil
}

// evalWeather 天气规则：文本操作符匹配天气描述，数值操作符匹配气温
func evalWeather(p models.Predicate, sig *models.WeatherSignal) (bool, error) {
	if sig == nil {
		return false, nil
	}
	switch p.Operator {
	case models.OpEquals, models.OpContains:
		return evalText(p, sig.Condition)
	case models.OpGreaterThan, models.OpLessThan, models.OpBetween:
		return evalNumeric(p, sig.TemperatureC)
	default:
		return false, fmt.Errorf("unsupported weather operator: %s", p.Operator)
	}
}

// evalCalendar 日历规则：文本操作符匹配未来事件标题，数值操作符匹配事件数量
func evalCalendar(p models.Predicate, sig *models.CalendarSignal, opts EvalOptions) (bool, error) {
	if sig == nil {
		return false, nil
	}
	events := sig.EventsWithin(opts.Now, opts.CalendarLookahead)
	switch p.Operator {
	case models.OpEquals, models.OpContains:
		for _, ev := range events {
			ok, err := evalText(p, ev.Title)
			if err != nil {
				return false, err
			}
			if ok {
				return true, nil
			}
		}
		return false, nil
	case models.OpGreaterThan, models.OpLessThan, models.OpBetween:
		return evalNumeric(p, float64(len(events)))
	default:
		return false, fmt.Errorf("unsupported calendar operator: %s", p.Operator)
	}
}

// evalCustom 自定义规则：按 Field 取宿主提供的命名信号值
func evalCustom(p models.Predicate, custom map[string]float64) (bool, error) {
	if p.Field == "" {
		return false, fmt.Errorf("custom predicate requires a field name")
	}
	v, ok := custom[p.Field]
	if !ok {
		return false, nil
	}
	return evalNumeric(p, v)
}

func clampDelta(delta, maxAdjustment int) int {
	if maxAdjustment < 0 {
		maxAdjustment = -maxAdjustment
	}
	if delta > maxAdjustment {
		return maxAdjustment
	}
	if delta < -maxAdjustment {
		return -maxAdjustment
	}
	return delta
}
