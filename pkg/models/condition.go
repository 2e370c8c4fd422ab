package models

// Operator is a condition predicate operator.
type Operator string

const (
	OperatorEquals      Operator = "equals"
	OperatorNotEquals   Operator = "not_equals"
	OperatorContains    Operator = "contains"
	OperatorNotContains Operator = "not_contains"
	OperatorIsEmpty     Operator = "is_empty"
	OperatorIsNotEmpty  Operator = "is_not_empty"
	OperatorGreaterThan Operator = "greater_than"
	OperatorLessThan    Operator = "less_than"
	OperatorHasTag      Operator = "has_tag"
	OperatorNotHasTag   Operator = "not_has_tag"

	// Goal comparisons only.
	OperatorGreaterOrEqual Operator = "greater_or_equal"
	OperatorLessOrEqual    Operator = "less_or_equal"
)

// Logic joins a condition to the one that follows it.
type Logic string

const (
	LogicAnd Logic = "AND"
	LogicOr  Logic = "OR"
)

// Condition is one predicate of an ordered condition list. Logic belongs to the edge
// between this condition and the next one.
type Condition struct {
	Field    string   `json:"field"           validate:"required"`
	Operator Operator `json:"operator"        validate:"required"`
	Value    any      `json:"value,omitempty"`
	Logic    Logic    `json:"logic,omitempty" validate:"omitempty,oneof=AND OR"`
}

// JoinLogic returns the edge logic, defaulting to AND.
func (c Condition) JoinLogic() Logic {
	if c.Logic == LogicOr {
		return LogicOr
	}

	return LogicAnd
}

// ConditionResult records how a single predicate evaluated.
type ConditionResult struct {
	Condition Condition `json:"condition"`
	Actual    any       `json:"actual,omitempty"`
	Result    bool      `json:"result"`
	Evaluated bool      `json:"evaluated"`
}
