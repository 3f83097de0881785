package evaluator

import (
	"math"

	"smartalarm/internal/models"
)

// WindowParams 唤醒窗口计算参数
type WindowParams struct {
	DefaultMinutes    int     // fallback window with no history
	FloorMinutes      int     // hard floor
	CeilingMinutes    int     // hard ceiling
	FeedbackWindow    int     // recent feedback entries considered
	PreferenceRepeats int     // repeated preference flags needed to bias
	PreferenceBias    int     // minutes added per biased direction
	StddevFactor      float64 // stddev -> pattern window scale
}

// DefaultWindowParams 默认窗口参数
func DefaultWindowParams() WindowParams {
	return WindowParams{
		DefaultMinutes:    30,
		FloorMinutes:      5,
		CeilingMinutes:    60,
		FeedbackWindow:    14,
		PreferenceRepeats: 3,
		PreferenceBias:    10,
		StddevFactor:      1.5,
	}
}

// ComputeWindow 根据反馈历史与 sleepPatternWeight 计算唤醒窗口（分钟）
// feedback is expected in chronological order; only the most recent
// FeedbackWindow entries are used. Consistent wake times (low variance of
// actual-vs-original) narrow the window; repeated earlier/later preference
// flags widen it. The result is always within [floor, ceiling], and with
// zero history it is exactly DefaultMinutes.
func ComputeWindow(feedback []models.WakeUpFeedback, sleepPatternWeight float64, p WindowParams) int {
	if len(feedback) == 0 {
		return p.DefaultMinutes
	}
	if sleepPatternWeight < 0 {
		sleepPatternWeight = 0
	} else if sleepPatternWeight > 1 {
		sleepPatternWeight = 1
	}

	recent := feedback
	if len(recent) > p.FeedbackWindow {
		recent = recent[len(recent)-p.FeedbackWindow:]
	}

	// Pattern window scales with how spread out the user's real wake
	// times are around the scheduled time.
	deltas := make([]float64, len(recent))
	for i, fb := range recent {
		deltas[i] = float64(fb.WakeDeltaMinutes())
	}
	pattern := clampFloat(p.StddevFactor*stddev(deltas), float64(p.FloorMinutes), float64(p.CeilingMinutes))

	window := sleepPatternWeight*pattern + (1-sleepPatternWeight)*float64(p.DefaultMinutes)

	// Repeated explicit preferences widen the window in that direction.
	earlier, later := 0, 0
	for _, fb := range recent {
		if fb.WouldPreferEarlier {
			earlier++
		}
		if fb.WouldPreferLater {
			later++
		}
	}
	if earlier >= p.PreferenceRepeats {
		window += float64(p.PreferenceBias)
	}
	if later >= p.PreferenceRepeats {
		window += float64(p.PreferenceBias)
	}

	return int(math.Round(clampFloat(window, float64(p.FloorMinutes), float64(p.CeilingMinutes))))
}

// stddev population standard deviation
func stddev(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))

	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
