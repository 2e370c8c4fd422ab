package conditions

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/dukex/crmflow/pkg/models"
)

// Evaluate applies one predicate to an entity. Unknown operators evaluate to false.
func Evaluate(condition models.Condition, entity models.Record) bool {
	if condition.Operator == models.OperatorHasTag || condition.Operator == models.OperatorNotHasTag {
		return Match(condition.Operator, entity[models.FieldTags], condition.Value)
	}

	return Match(condition.Operator, Resolve(condition.Field, entity), condition.Value)
}

// EvaluateAll reduces an ordered predicate list to one boolean. An empty list is true.
func EvaluateAll(conditions []models.Condition, entity models.Record) bool {
	result, _ := EvaluateAllTraced(conditions, entity)

	return result
}

// EvaluateAllTraced reduces like EvaluateAll and reports every predicate. The logic
// attached to a predicate joins it with the next one, so [{a AND} {b OR} {c}] reads as
// (a AND b) OR c. An operand whose value cannot change the accumulator (AND after false,
// OR after true) is not evaluated and is reported with Evaluated=false.
func EvaluateAllTraced(conditions []models.Condition, entity models.Record) (bool, []models.ConditionResult) {
	if len(conditions) == 0 {
		return true, nil
	}

	results := make([]models.ConditionResult, 0, len(conditions))

	result := Evaluate(conditions[0], entity)
	results = append(results, trace(conditions[0], entity, result, true))

	for i := 1; i < len(conditions); i++ {
		logic := conditions[i-1].JoinLogic()

		if (logic == models.LogicAnd && !result) || (logic == models.LogicOr && result) {
			results = append(results, trace(conditions[i], entity, false, false))

			continue
		}

		current := Evaluate(conditions[i], entity)
		results = append(results, trace(conditions[i], entity, current, true))

		if logic == models.LogicOr {
			result = result || current
		} else {
			result = result && current
		}
	}

	return result, results
}

func trace(condition models.Condition, entity models.Record, result, evaluated bool) models.ConditionResult {
	var actual any
	if condition.Operator == models.OperatorHasTag || condition.Operator == models.OperatorNotHasTag {
		actual = entity[models.FieldTags]
	} else {
		actual = Resolve(condition.Field, entity)
	}

	return models.ConditionResult{
		Condition: condition,
		Actual:    actual,
		Result:    result,
		Evaluated: evaluated,
	}
}

// Match applies an operator to a resolved value and the authored target.
func Match(operator models.Operator, actual, expected any) bool {
	switch operator {
	case models.OperatorEquals:
		return LooseEqual(actual, expected)
	case models.OperatorNotEquals:
		return !LooseEqual(actual, expected)
	case models.OperatorContains:
		return contains(actual, expected)
	case models.OperatorNotContains:
		if IsEmpty(actual) {
			return false
		}

		return !contains(actual, expected)
	case models.OperatorIsEmpty:
		return IsEmpty(actual)
	case models.OperatorIsNotEmpty:
		return !IsEmpty(actual)
	case models.OperatorGreaterThan:
		return compareNumbers(actual, expected, func(a, b float64) bool { return a > b })
	case models.OperatorLessThan:
		return compareNumbers(actual, expected, func(a, b float64) bool { return a < b })
	case models.OperatorGreaterOrEqual:
		return compareNumbers(actual, expected, func(a, b float64) bool { return a >= b })
	case models.OperatorLessOrEqual:
		return compareNumbers(actual, expected, func(a, b float64) bool { return a <= b })
	case models.OperatorHasTag:
		return hasTag(actual, expected)
	case models.OperatorNotHasTag:
		return !hasTag(actual, expected)
	default:
		return false
	}
}

// IsEmpty is true for missing values and the empty string only; 0 and false are values.
func IsEmpty(value any) bool {
	if value == nil {
		return true
	}

	s, ok := value.(string)

	return ok && s == ""
}

// LooseEqual compares across types. Two strings compare exactly. Other scalar pairs
// compare as numbers: booleans count as 1/0 and a blank string as 0, so a non-numeric
// string never equals a number or a boolean. Anything else compares by its string form.
func LooseEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}

	as, aIsString := a.(string)
	bs, bIsString := b.(string)

	if aIsString && bIsString {
		return as == bs
	}

	if isScalar(a) && isScalar(b) {
		af, aok := looseNumber(a)
		bf, bok := looseNumber(b)

		return aok && bok && af == bf
	}

	return Stringify(a) == Stringify(b)
}

func isScalar(value any) bool {
	switch value.(type) {
	case string, bool, float64, float32, int, int32, int64:
		return true
	default:
		return false
	}
}

func looseNumber(value any) (float64, bool) {
	if s, ok := value.(string); ok && strings.TrimSpace(s) == "" {
		return 0, true
	}

	return toNumber(value)
}

func contains(actual, expected any) bool {
	if IsEmpty(actual) {
		return false
	}

	return strings.Contains(strings.ToLower(Stringify(actual)), strings.ToLower(Stringify(expected)))
}

func hasTag(tags, tag any) bool {
	want := Stringify(tag)
	for _, t := range models.StringSlice(tags) {
		if t == want {
			return true
		}
	}

	return false
}

func compareNumbers(actual, expected any, cmp func(a, b float64) bool) bool {
	a, ok := toNumber(actual)
	if !ok {
		return false
	}

	b, ok := toNumber(expected)
	if !ok {
		return false
	}

	return cmp(a, b)
}

// ToNumber parses a value into a float64; strings are trimmed first.
func ToNumber(value any) (float64, bool) {
	return toNumber(value)
}

func toNumber(value any) (float64, bool) {
	var f float64

	switch v := value.(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int32:
		f = float64(v)
	case int64:
		f = float64(v)
	case bool:
		if v {
			f = 1
		}
	case string:
		trimmed := strings.TrimSpace(v)
		if trimmed == "" {
			return 0, false
		}

		parsed, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}

		f = parsed
	default:
		return 0, false
	}

	if math.IsNaN(f) {
		return 0, false
	}

	return f, true
}

// Stringify renders a value the way it is compared as text. Slices join with ",".
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case []any, []string:
		return strings.Join(models.StringSlice(v), ",")
	default:
		return fmt.Sprintf("%v", v)
	}
}

// SelectBranch returns the name of the first branch whose conditions hold, else the default
// branch (possibly ""). The trace covers every branch evaluated.
func SelectBranch(config *models.BranchConfig, entity models.Record) (string, []models.ConditionResult) {
	evaluated := make([]models.ConditionResult, 0)

	if config == nil {
		return "", evaluated
	}

	for _, branch := range config.Branches {
		met, results := EvaluateAllTraced(branch.Conditions, entity)
		evaluated = append(evaluated, results...)

		if met {
			return branch.Name, evaluated
		}
	}

	return config.DefaultBranch, evaluated
}
