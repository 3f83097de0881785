package evaluator

import (
	"smartalarm/internal/models"
)

// difficultyScores 起床难度 → 结果得分（越容易越好）
var difficultyScores = map[string]float64{
	models.DifficultyVeryEasy: 1.0,
	models.DifficultyEasy:     0.8,
	models.DifficultyNormal:   0.6,
	models.DifficultyHard:     0.4,
	models.DifficultyVeryHard: 0.2,
}

// feelingScores 醒来感受 → 结果得分（越好越高）
var feelingScores = map[string]float64{
	models.FeelingTerrible:  0.0,
	models.FeelingBad:       0.25,
	models.FeelingOkay:      0.5,
	models.FeelingGood:      0.75,
	models.FeelingExcellent: 1.0,
}

// OutcomeScore 将一条反馈映射为 [0,1] 的结果得分
// Mean of the difficulty and feeling ordinal scores. Unknown ordinals fall
// back to the neutral 0.5 so a stray value cannot poison learning.
func OutcomeScore(fb models.WakeUpFeedback) float64 {
	d, ok := difficultyScores[fb.Difficulty]
	if !ok {
		d = 0.5
	}
	f, ok := feelingScores[fb.Feeling]
	if !ok {
		f = 0.5
	}
	return (d + f) / 2
}

// UpdateScore 按指数滑动平均更新单条规则的有效性得分
// newScore = old + learningFactor * (outcome - old), clamped to [0,1].
// This is the only way effectiveness scores change.
func UpdateScore(old, learningFactor, outcome float64) float64 {
	s := old + learningFactor*(outcome-old)
	return clampFloat(s, 0, 1)
}

// ScoreUpdates 根据一条反馈计算受影响规则的新有效性得分
// record is the adaptation this feedback reports on; its contributing
// condition ids select which scores move. Returns new scores keyed by
// condition id for the caller to persist; a nil record (feedback for a day
// with no adaptation) yields no updates.
func ScoreUpdates(record *models.AdaptationRecord, conditions []models.ConditionBasedAdjustment, fb models.WakeUpFeedback, learningFactor float64) map[string]float64 {
	updates := make(map[string]float64)
	if record == nil {
		return updates
	}

	outcome := OutcomeScore(fb)
	byID := make(map[string]models.ConditionBasedAdjustment, len(conditions))
	for _, c := range conditions {
		byID[c.ConditionID] = c
	}

	for _, id := range record.ConditionIDs {
		cond, ok := byID[id]
		if !ok {
			continue
		}
		updates[id] = UpdateScore(cond.EffectivenessScore, learningFactor, outcome)
	}
	return updates
}
