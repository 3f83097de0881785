package evaluator

import (
	"sort"

	"smartalarm/internal/models"
)

// AggregateResult 多条命中规则合并后的净结果
type AggregateResult struct {
	NetDeltaMinutes          int
	Confidence               float64 // [0,1], priority-weighted average of contributing effectiveness scores
	ContributingConditionIDs []string
	Emergency                bool
	Reasons                  []string
}

// Aggregate 合并一个闹钟的全部命中规则为单一净偏移
// Firing rules are ordered by priority desc, effectiveness desc, condition
// id asc. An emergency rule short-circuits: it alone determines the delta.
// Otherwise deltas are summed in order with the cumulative sum clamped to
// ±windowMinutes at every step, so a rule that would push past the window
// is truncated to the boundary rather than dropped.
func Aggregate(firings []Firing, windowMinutes int) AggregateResult {
	if len(firings) == 0 {
		return AggregateResult{}
	}
	if windowMinutes < 0 {
		windowMinutes = 0
	}

	sorted := make([]Firing, len(firings))
	copy(sorted, firings)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Priority != sorted[j].Priority {
			return sorted[i].Priority > sorted[j].Priority
		}
		if sorted[i].Effectiveness != sorted[j].Effectiveness {
			return sorted[i].Effectiveness > sorted[j].Effectiveness
		}
		return sorted[i].ConditionID < sorted[j].ConditionID
	})

	// Emergency override: the first emergency in sort order wins outright.
	for _, f := range sorted {
		if f.Type == models.ConditionEmergency {
			return AggregateResult{
				NetDeltaMinutes:          f.DeltaMinutes,
				Confidence:               f.Effectiveness,
				ContributingConditionIDs: []string{f.ConditionID},
				Emergency:                true,
				Reasons:                  []string{f.Reason},
			}
		}
	}

	var (
		sum         int
		ids         []string
		reasons     []string
		scoreSum    float64
		prioritySum float64
	)
	for _, f := range sorted {
		next := clampInt(sum+f.DeltaMinutes, -windowMinutes, windowMinutes)
		applied := next - sum
		sum = next
		if applied == 0 {
			continue
		}
		ids = append(ids, f.ConditionID)
		reasons = append(reasons, f.Reason)
		scoreSum += float64(f.Priority) * f.Effectiveness
		prioritySum += float64(f.Priority)
	}

	confidence := 0.0
	if prioritySum > 0 {
		confidence = scoreSum / prioritySum
	}

	return AggregateResult{
		NetDeltaMinutes:          sum,
		Confidence:               confidence,
		ContributingConditionIDs: ids,
		Reasons:                  reasons,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
