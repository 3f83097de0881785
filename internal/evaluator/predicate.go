package evaluator

import (
	"fmt"
	"strconv"
	"strings"

	"smartalarm/internal/models"
)

// evalText 文本谓词（equals / contains，大小写不敏感）
func evalText(p models.Predicate, actual string) (bool, error) {
	if p.Value == "" {
		return false, fmt.Errorf("%s predicate requires a value", p.Operator)
	}
	a := strings.ToLower(strings.TrimSpace(actual))
	v := strings.ToLower(strings.TrimSpace(p.Value))
	switch p.Operator {
	case models.OpEquals:
		return a == v, nil
	case models.OpContains:
		return strings.Contains(a, v), nil
	default:
		return false, fmt.Errorf("unsupported text operator: %s", p.Operator)
	}
}

// evalNumeric 数值谓词（equals / greater_than / less_than / between）
func evalNumeric(p models.Predicate, actual float64) (bool, error) {
	switch p.Operator {
	case models.OpEquals:
		v, err := strconv.ParseFloat(strings.TrimSpace(p.Value), 64)
		if err != nil {
			return false, fmt.Errorf("equals predicate value is not numeric: %q", p.Value)
		}
		return actual == v, nil
	case models.OpGreaterThan:
		if p.Threshold == nil {
			return false, fmt.Errorf("greater_than predicate requires a threshold")
		}
		return actual > *p.Threshold, nil
	case models.OpLessThan:
		if p.Threshold == nil {
			return false, fmt.Errorf("less_than predicate requires a threshold")
		}
		return actual < *p.Threshold, nil
	case models.OpBetween:
		if p.Min == nil || p.Max == nil {
			return false, fmt.Errorf("between predicate requires min and max")
		}
		return actual >= *p.Min && actual <= *p.Max, nil
	case models.OpContains:
		return false, fmt.Errorf("contains is not valid for numeric signals")
	default:
		return false, fmt.Errorf("unknown operator: %s", p.Operator)
	}
}
